package badger

import (
	"context"
	"fmt"

	"github.com/ternarybob/arbor"
	"github.com/timshannon/badgerhold/v4"

	"github.com/ternarybob/reperio/internal/interfaces"
	"github.com/ternarybob/reperio/internal/models"
)

// HistoryStorage implements the HistoryStorage interface for Badger.
type HistoryStorage struct {
	db     *BadgerDB
	logger arbor.ILogger
}

// Compile-time assertion: HistoryStorage implements the HistoryStorage interface.
var _ interfaces.HistoryStorage = (*HistoryStorage)(nil)

// NewHistoryStorage creates a new HistoryStorage instance.
func NewHistoryStorage(db *BadgerDB, logger arbor.ILogger) *HistoryStorage {
	return &HistoryStorage{
		db:     db,
		logger: logger,
	}
}

func (s *HistoryStorage) SaveHistory(ctx context.Context, history *models.SearchHistory) error {
	if history == nil || history.ID == "" {
		return fmt.Errorf("history ID is required")
	}
	if err := s.db.Store().Upsert(history.ID, history); err != nil {
		return fmt.Errorf("failed to save search history: %w", err)
	}
	return nil
}

func (s *HistoryStorage) GetHistory(ctx context.Context, id string) (*models.SearchHistory, error) {
	var history models.SearchHistory
	if err := s.db.Store().Get(id, &history); err != nil {
		if err == badgerhold.ErrNotFound {
			return nil, fmt.Errorf("search history not found: %s", id)
		}
		return nil, fmt.Errorf("failed to get search history: %w", err)
	}
	return &history, nil
}

func (s *HistoryStorage) ListByProfile(ctx context.Context, profileID string, limit int) ([]*models.SearchHistory, error) {
	query := badgerhold.Where("ProfileID").Eq(profileID).SortBy("CreatedAt").Reverse()
	if limit > 0 {
		query = query.Limit(limit)
	}

	var histories []models.SearchHistory
	if err := s.db.Store().Find(&histories, query); err != nil {
		return nil, fmt.Errorf("failed to list search history: %w", err)
	}

	result := make([]*models.SearchHistory, len(histories))
	for i := range histories {
		result[i] = &histories[i]
	}
	return result, nil
}
