// -----------------------------------------------------------------------
// GeminiSearcher - Asynchronous web search using GoogleSearch grounding
// -----------------------------------------------------------------------

package search

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/ternarybob/arbor"
	"google.golang.org/genai"

	"github.com/ternarybob/reperio/internal/common"
	"github.com/ternarybob/reperio/internal/interfaces"
	"github.com/ternarybob/reperio/internal/models"
)

// GeminiSearcher implements the WebSearcher interface using the Gemini SDK
// with GoogleSearch grounding. ExecuteSearch returns a job id immediately and
// runs the query batch on a background goroutine; callers poll GetJobStatus.
type GeminiSearcher struct {
	client *genai.Client
	config *common.GeminiConfig
	logger arbor.ILogger

	mu   sync.RWMutex
	jobs map[string]*models.SearchJobStatus
}

// Compile-time assertion: GeminiSearcher implements the WebSearcher interface.
var _ interfaces.WebSearcher = (*GeminiSearcher)(nil)

// NewGeminiSearcher creates a searcher backed by the Gemini API.
func NewGeminiSearcher(config *common.GeminiConfig, logger arbor.ILogger) (*GeminiSearcher, error) {
	if config.APIKey == "" {
		return nil, fmt.Errorf("Gemini API key is required for web search (set via GEMINI_API_KEY or gemini.api_key in config)")
	}

	client, err := genai.NewClient(context.Background(), &genai.ClientConfig{
		APIKey:  config.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}

	return &GeminiSearcher{
		client: client,
		config: config,
		logger: logger,
		jobs:   make(map[string]*models.SearchJobStatus),
	}, nil
}

// ExecuteSearch submits a query batch and returns the search job id.
func (s *GeminiSearcher) ExecuteSearch(ctx context.Context, req *interfaces.SearchRequest) (string, error) {
	if req == nil || len(req.Queries) == 0 {
		return "", fmt.Errorf("at least one query is required")
	}

	jobID := uuid.New().String()
	s.setStatus(jobID, &models.SearchJobStatus{Status: "pending"})

	s.logger.Info().
		Str("search_job_id", jobID).
		Int("queries", len(req.Queries)).
		Msg("Web search submitted")

	go s.run(jobID, req)

	return jobID, nil
}

// GetJobStatus returns a copy of the job's current status.
func (s *GeminiSearcher) GetJobStatus(ctx context.Context, jobID string) (*models.SearchJobStatus, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	status, ok := s.jobs[jobID]
	if !ok {
		return nil, fmt.Errorf("search job not found: %s", jobID)
	}

	copied := *status
	copied.Results = append([]models.SearchHit(nil), status.Results...)
	return &copied, nil
}

// run executes the query batch sequentially, updating progress after each
// query. Per-query failures are tolerated; the job only fails when every
// query fails.
func (s *GeminiSearcher) run(jobID string, req *interfaces.SearchRequest) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	s.setStatus(jobID, &models.SearchJobStatus{Status: "running"})

	var hits []models.SearchHit
	var failures []string

	for i, query := range req.Queries {
		queryHits, err := s.searchOne(ctx, query)
		if err != nil {
			s.logger.Warn().
				Err(err).
				Str("search_job_id", jobID).
				Str("query", query).
				Msg("Search query failed")
			failures = append(failures, fmt.Sprintf("%s: %v", query, err))
		} else {
			hits = append(hits, queryHits...)
		}

		progress := float64(i+1) / float64(len(req.Queries)) * 100
		s.setStatus(jobID, &models.SearchJobStatus{
			Status:   "running",
			Progress: progress,
			Results:  filterHits(hits, req),
		})
	}

	if len(failures) == len(req.Queries) {
		s.setStatus(jobID, &models.SearchJobStatus{
			Status:   "failed",
			Progress: 100,
			Error:    strings.Join(failures, "; "),
		})
		return
	}

	final := filterHits(hits, req)
	if req.MaxResults > 0 && len(final) > req.MaxResults {
		final = final[:req.MaxResults]
	}

	s.setStatus(jobID, &models.SearchJobStatus{
		Status:   "completed",
		Progress: 100,
		Results:  final,
	})

	s.logger.Info().
		Str("search_job_id", jobID).
		Int("results", len(final)).
		Int("failed_queries", len(failures)).
		Msg("Web search completed")
}

// searchOne runs a single grounded query and extracts the source URLs from
// the grounding metadata.
func (s *GeminiSearcher) searchOne(ctx context.Context, query string) ([]models.SearchHit, error) {
	searchTool := &genai.Tool{GoogleSearch: &genai.GoogleSearch{}}
	config := &genai.GenerateContentConfig{
		Tools: []*genai.Tool{searchTool},
	}

	model := s.config.Model
	if model == "" {
		model = "gemini-2.0-flash"
	}

	resp, err := s.client.Models.GenerateContent(
		ctx,
		model,
		[]*genai.Content{
			genai.NewContentFromText(query, genai.RoleUser),
		},
		config,
	)
	if err != nil {
		return nil, fmt.Errorf("grounded search failed: %w", err)
	}

	var hits []models.SearchHit
	if len(resp.Candidates) > 0 && resp.Candidates[0].GroundingMetadata != nil {
		gm := resp.Candidates[0].GroundingMetadata
		for _, chunk := range gm.GroundingChunks {
			if chunk.Web == nil || chunk.Web.URI == "" {
				continue
			}
			hits = append(hits, models.SearchHit{
				URL:    chunk.Web.URI,
				Title:  chunk.Web.Title,
				Domain: domainOf(chunk.Web.URI),
				Query:  query,
			})
		}
	}

	return hits, nil
}

func (s *GeminiSearcher) setStatus(jobID string, status *models.SearchJobStatus) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs[jobID] = status
}

// filterHits applies domain allow/deny lists and deduplicates by URL.
func filterHits(hits []models.SearchHit, req *interfaces.SearchRequest) []models.SearchHit {
	seen := make(map[string]bool, len(hits))
	var out []models.SearchHit

	for _, hit := range hits {
		if seen[hit.URL] {
			continue
		}
		if hit.Domain != "" {
			if domainListed(hit.Domain, req.ExcludeDomains) {
				continue
			}
			if len(req.FilterDomains) > 0 && !domainListed(hit.Domain, req.FilterDomains) {
				continue
			}
		}
		seen[hit.URL] = true
		out = append(out, hit)
	}
	return out
}

func domainListed(domain string, list []string) bool {
	domain = strings.ToLower(domain)
	for _, entry := range list {
		entry = strings.ToLower(entry)
		if domain == entry || strings.HasSuffix(domain, "."+entry) {
			return true
		}
	}
	return false
}

func domainOf(raw string) string {
	parsed, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	return strings.TrimPrefix(strings.ToLower(parsed.Hostname()), "www.")
}
