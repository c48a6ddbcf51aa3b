package orchestrator

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/reperio/internal/common"
	"github.com/ternarybob/reperio/internal/interfaces"
	"github.com/ternarybob/reperio/internal/models"
)

// ----- Fakes -----

type fakeGenerator struct {
	queries []string
	err     error
}

func (f *fakeGenerator) GenerateQueries(ctx context.Context, profile *models.Profile, opts *models.SearchOptions) (*models.QueryGenerationResult, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &models.QueryGenerationResult{Queries: f.queries}, nil
}

type fakeSearcher struct {
	mu       sync.Mutex
	hits     []models.SearchHit
	failWith string
	hang     bool
	requests []*interfaces.SearchRequest
}

func (f *fakeSearcher) ExecuteSearch(ctx context.Context, req *interfaces.SearchRequest) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, req)
	return "search-job-1", nil
}

func (f *fakeSearcher) GetJobStatus(ctx context.Context, jobID string) (*models.SearchJobStatus, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.hang {
		return &models.SearchJobStatus{Status: "running", Progress: 50}, nil
	}
	if f.failWith != "" {
		return &models.SearchJobStatus{Status: "failed", Error: f.failWith}, nil
	}
	return &models.SearchJobStatus{Status: "completed", Progress: 100, Results: f.hits}, nil
}

type fakeAnalyzer struct {
	score float64
	err   error
}

func (f *fakeAnalyzer) BatchAnalyzeOpportunities(ctx context.Context, candidates []models.Opportunity, profile *models.Profile, maxConcurrent int) (*models.AnalysisResult, error) {
	if f.err != nil {
		return nil, f.err
	}
	analyses := make([]models.OpportunityAnalysis, len(candidates))
	for i, candidate := range candidates {
		analyses[i] = models.OpportunityAnalysis{
			OpportunityID:  candidate.ID,
			RelevanceScore: f.score,
		}
	}
	return &models.AnalysisResult{Analyses: analyses, AverageScore: f.score}, nil
}

// ----- Helpers -----

func testConfig() common.OrchestratorConfig {
	return common.OrchestratorConfig{
		RateLimitingEnabled:   false,
		MaxQueriesPerProfile:  15,
		StatusPollInterval:    10 * time.Millisecond,
		SearchWaitTimeout:     2 * time.Second,
		RelevanceThreshold:    0.6,
		MaxConcurrentAnalyses: 3,
		StaleAfter:            30 * time.Minute,
	}
}

func testProfile() *models.Profile {
	return &models.Profile{ID: "artist-1", Name: "Mira Chen"}
}

func newTestOrchestrator(cfg common.OrchestratorConfig, gen interfaces.QueryGenerator, searcher interfaces.WebSearcher, analyzer interfaces.Analyzer) *Orchestrator {
	return NewOrchestrator(cfg, gen, searcher, analyzer, NewExecutionTracker(), nil, arbor.NewLogger())
}

func waitTerminal(t *testing.T, o *Orchestrator, id string) *models.Execution {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		exec, err := o.GetExecutionStatus(id)
		require.NoError(t, err)
		if exec.IsTerminal() {
			return exec
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("execution did not reach a terminal state")
	return nil
}

// ----- Tests -----

func TestExecuteProfileSearchHappyPath(t *testing.T) {
	searcher := &fakeSearcher{hits: []models.SearchHit{
		{URL: "https://arts.example.org/grant", Title: "Emerging Artist Grant"},
		{URL: "https://studio.example.org/residency", Title: "Summer Residency"},
		{URL: "https://gallery.example.org/call", Title: "Open Call 2026"},
	}}
	o := newTestOrchestrator(
		testConfig(),
		&fakeGenerator{queries: []string{"artist grants 2026", "art residencies 2026"}},
		searcher,
		&fakeAnalyzer{score: 0.8},
	)

	id, err := o.ExecuteProfileSearch(context.Background(), testProfile(), nil)
	require.NoError(t, err)

	exec := waitTerminal(t, o, id)
	assert.Equal(t, models.ExecutionCompleted, exec.Status)
	assert.Equal(t, 2, exec.QueriesGenerated)
	assert.Equal(t, 2, exec.QueriesExecuted)
	assert.Equal(t, 3, exec.OpportunitiesFound)
	assert.Equal(t, 3, exec.HighQualityOpportunities)
	assert.NotNil(t, exec.CompletedAt)
	assert.Empty(t, exec.Error)
}

func TestRelevanceThresholdFiltersHighQuality(t *testing.T) {
	searcher := &fakeSearcher{hits: []models.SearchHit{
		{URL: "https://a.example.org", Title: "A"},
		{URL: "https://b.example.org", Title: "B"},
	}}
	o := newTestOrchestrator(
		testConfig(),
		&fakeGenerator{queries: []string{"q"}},
		searcher,
		&fakeAnalyzer{score: 0.5},
	)

	id, err := o.ExecuteProfileSearch(context.Background(), testProfile(), nil)
	require.NoError(t, err)

	exec := waitTerminal(t, o, id)
	assert.Equal(t, models.ExecutionCompleted, exec.Status)
	assert.Equal(t, 2, exec.OpportunitiesFound)
	assert.Equal(t, 0, exec.HighQualityOpportunities)
}

func TestFailedSearchKeepsPartialProgress(t *testing.T) {
	o := newTestOrchestrator(
		testConfig(),
		&fakeGenerator{queries: []string{"q1", "q2"}},
		&fakeSearcher{failWith: "provider unavailable"},
		&fakeAnalyzer{score: 0.9},
	)

	id, err := o.ExecuteProfileSearch(context.Background(), testProfile(), nil)
	require.NoError(t, err)

	exec := waitTerminal(t, o, id)
	assert.Equal(t, models.ExecutionFailed, exec.Status)
	assert.Contains(t, exec.Error, "provider unavailable")
	// Generation and submission completed before the failure; only the
	// post-wait counters stay untouched.
	assert.Equal(t, 2, exec.QueriesGenerated)
	assert.Equal(t, 2, exec.QueriesExecuted)
	assert.Equal(t, 0, exec.OpportunitiesFound)
}

func TestQueryGenerationFailureFailsExecution(t *testing.T) {
	o := newTestOrchestrator(
		testConfig(),
		&fakeGenerator{err: errors.New("model unavailable")},
		&fakeSearcher{},
		&fakeAnalyzer{},
	)

	id, err := o.ExecuteProfileSearch(context.Background(), testProfile(), nil)
	require.NoError(t, err)

	exec := waitTerminal(t, o, id)
	assert.Equal(t, models.ExecutionFailed, exec.Status)
	assert.Contains(t, exec.Error, "model unavailable")
	assert.Equal(t, 0, exec.QueriesGenerated)
}

func TestSearchTimeout(t *testing.T) {
	cfg := testConfig()
	cfg.SearchWaitTimeout = 100 * time.Millisecond

	o := newTestOrchestrator(
		cfg,
		&fakeGenerator{queries: []string{"q"}},
		&fakeSearcher{hang: true},
		&fakeAnalyzer{},
	)

	id, err := o.ExecuteProfileSearch(context.Background(), testProfile(), nil)
	require.NoError(t, err)

	exec := waitTerminal(t, o, id)
	assert.Equal(t, models.ExecutionFailed, exec.Status)
	assert.Equal(t, "Search timeout", exec.Error)
}

func TestCancelExecution(t *testing.T) {
	o := newTestOrchestrator(
		testConfig(),
		&fakeGenerator{queries: []string{"q"}},
		&fakeSearcher{hang: true},
		&fakeAnalyzer{},
	)

	id, err := o.ExecuteProfileSearch(context.Background(), testProfile(), nil)
	require.NoError(t, err)

	// Let the pipeline get into the wait stage.
	time.Sleep(30 * time.Millisecond)

	assert.True(t, o.CancelExecution(id))

	exec, err := o.GetExecutionStatus(id)
	require.NoError(t, err)
	assert.Equal(t, models.ExecutionFailed, exec.Status)
	assert.Equal(t, "Cancelled by user", exec.Error)

	// Cancelling again is a no-op.
	assert.False(t, o.CancelExecution(id))
}

func TestCancelTerminalExecutionReturnsFalse(t *testing.T) {
	o := newTestOrchestrator(
		testConfig(),
		&fakeGenerator{queries: []string{"q"}},
		&fakeSearcher{hits: []models.SearchHit{{URL: "https://a.example.org", Title: "A"}}},
		&fakeAnalyzer{score: 0.9},
	)

	id, err := o.ExecuteProfileSearch(context.Background(), testProfile(), nil)
	require.NoError(t, err)

	exec := waitTerminal(t, o, id)
	require.Equal(t, models.ExecutionCompleted, exec.Status)

	assert.False(t, o.CancelExecution(id))

	// The completed status is untouched.
	after, err := o.GetExecutionStatus(id)
	require.NoError(t, err)
	assert.Equal(t, models.ExecutionCompleted, after.Status)
}

func TestCancelUnknownExecutionReturnsFalse(t *testing.T) {
	o := newTestOrchestrator(testConfig(), &fakeGenerator{}, &fakeSearcher{}, &fakeAnalyzer{})
	assert.False(t, o.CancelExecution("missing"))
}

func TestConcurrentExecutionsAreIndependent(t *testing.T) {
	searcher := &fakeSearcher{hits: []models.SearchHit{{URL: "https://a.example.org", Title: "A"}}}
	o := newTestOrchestrator(
		testConfig(),
		&fakeGenerator{queries: []string{"q"}},
		searcher,
		&fakeAnalyzer{score: 0.9},
	)

	first, err := o.ExecuteProfileSearch(context.Background(), &models.Profile{ID: "artist-1", Name: "A"}, nil)
	require.NoError(t, err)
	second, err := o.ExecuteProfileSearch(context.Background(), &models.Profile{ID: "artist-2", Name: "B"}, nil)
	require.NoError(t, err)
	require.NotEqual(t, first, second)

	execA := waitTerminal(t, o, first)
	execB := waitTerminal(t, o, second)

	assert.Equal(t, models.ExecutionCompleted, execA.Status)
	assert.Equal(t, models.ExecutionCompleted, execB.Status)
	assert.Equal(t, "artist-1", execA.ProfileID)
	assert.Equal(t, "artist-2", execB.ProfileID)
}

func TestBlockedDomainsForwardedToSearch(t *testing.T) {
	cfg := testConfig()
	cfg.BlockedDomains = []string{"facebook.com"}
	searcher := &fakeSearcher{hits: []models.SearchHit{{URL: "https://a.example.org", Title: "A"}}}

	o := newTestOrchestrator(cfg, &fakeGenerator{queries: []string{"q"}}, searcher, &fakeAnalyzer{score: 0.9})

	id, err := o.ExecuteProfileSearch(context.Background(), testProfile(), nil)
	require.NoError(t, err)
	waitTerminal(t, o, id)

	searcher.mu.Lock()
	defer searcher.mu.Unlock()
	require.Len(t, searcher.requests, 1)
	assert.Equal(t, []string{"facebook.com"}, searcher.requests[0].ExcludeDomains)
}

func TestQueryCapRespected(t *testing.T) {
	cfg := testConfig()
	cfg.MaxQueriesPerProfile = 3

	searcher := &fakeSearcher{hits: nil}
	o := newTestOrchestrator(
		cfg,
		&fakeGenerator{queries: []string{"q1", "q2", "q3", "q4", "q5"}},
		searcher,
		&fakeAnalyzer{score: 0.9},
	)

	id, err := o.ExecuteProfileSearch(context.Background(), testProfile(), nil)
	require.NoError(t, err)

	exec := waitTerminal(t, o, id)
	assert.Equal(t, models.ExecutionCompleted, exec.Status)
	assert.Equal(t, 3, exec.QueriesGenerated)
}

func TestSweepStale(t *testing.T) {
	store := NewExecutionTracker()
	o := NewOrchestrator(testConfig(), &fakeGenerator{}, &fakeSearcher{}, &fakeAnalyzer{}, store, nil, arbor.NewLogger())

	stale := models.NewExecution("artist-old")
	stale.StartedAt = time.Now().Add(-time.Hour)
	store.Put(stale)

	fresh := models.NewExecution("artist-new")
	store.Put(fresh)

	assert.Equal(t, 1, o.SweepStale())

	swept, ok := store.Get(stale.ID)
	require.True(t, ok)
	assert.Equal(t, models.ExecutionFailed, swept.Status)

	untouched, ok := store.Get(fresh.ID)
	require.True(t, ok)
	assert.Equal(t, models.ExecutionRunning, untouched.Status)
}

func TestEnhanceQueriesExpandsAndDedupes(t *testing.T) {
	profile := &models.Profile{
		ID:        "artist-1",
		Mediums:   []string{"ceramics"},
		Locations: []string{"Portland"},
	}

	queries := enhanceQueries([]string{"artist grants", "Artist Grants"}, profile, &models.SearchOptions{}, 10)

	assert.Equal(t, []string{
		"artist grants",
		"artist grants ceramics",
		"artist grants Portland",
	}, queries)
}
