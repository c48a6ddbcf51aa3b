// -----------------------------------------------------------------------
// Orchestrator - Profile discovery pipeline
// -----------------------------------------------------------------------
//
// One execution runs six stages: generate queries, submit the search job,
// wait for completion, shape results into candidates, analyze relevance, and
// finalize. Counters on the execution record advance as stages complete so
// pollers see partial progress; a failure at any stage keeps the counters
// accumulated so far.

package orchestrator

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/ternarybob/arbor"
	"golang.org/x/time/rate"

	"github.com/ternarybob/reperio/internal/common"
	"github.com/ternarybob/reperio/internal/interfaces"
	"github.com/ternarybob/reperio/internal/models"
)

// Orchestrator implements the SearchOrchestrator interface. Pipelines run on
// background goroutines; ExecuteProfileSearch returns the execution id
// immediately and callers poll GetExecutionStatus.
type Orchestrator struct {
	config    common.OrchestratorConfig
	generator interfaces.QueryGenerator
	searcher  interfaces.WebSearcher
	analyzer  interfaces.Analyzer
	store     interfaces.ExecutionStore
	history   interfaces.HistoryStorage
	logger    arbor.ILogger

	// gate spaces pipeline starts globally when rate limiting is enabled.
	gate *rate.Limiter

	mu   sync.Mutex
	runs map[string]*run
}

// run pairs a pipeline's working execution with its cancel handle. All
// mutations go through its mutex so cancellation and stage updates never race.
type run struct {
	mu     sync.Mutex
	exec   *models.Execution
	cancel context.CancelFunc
}

// Compile-time assertion: Orchestrator implements the SearchOrchestrator interface.
var _ interfaces.SearchOrchestrator = (*Orchestrator)(nil)

// NewOrchestrator wires the pipeline collaborators. The history store may be
// nil; history writes are best effort either way.
func NewOrchestrator(
	config common.OrchestratorConfig,
	generator interfaces.QueryGenerator,
	searcher interfaces.WebSearcher,
	analyzer interfaces.Analyzer,
	store interfaces.ExecutionStore,
	history interfaces.HistoryStorage,
	logger arbor.ILogger,
) *Orchestrator {
	o := &Orchestrator{
		config:    config,
		generator: generator,
		searcher:  searcher,
		analyzer:  analyzer,
		store:     store,
		history:   history,
		logger:    logger,
		runs:      make(map[string]*run),
	}
	if config.RateLimitingEnabled && config.MinExecutionInterval > 0 {
		o.gate = rate.NewLimiter(rate.Every(config.MinExecutionInterval), 1)
	}
	return o
}

// ExecuteProfileSearch starts a discovery pipeline for the profile and
// returns the execution id.
func (o *Orchestrator) ExecuteProfileSearch(ctx context.Context, profile *models.Profile, opts *models.SearchOptions) (string, error) {
	if profile == nil || profile.ID == "" {
		return "", fmt.Errorf("profile with ID is required")
	}
	if opts == nil {
		opts = &models.SearchOptions{}
	}

	exec := models.NewExecution(profile.ID)
	pipelineCtx, cancel := context.WithCancel(context.Background())

	r := &run{exec: exec, cancel: cancel}
	o.mu.Lock()
	o.runs[exec.ID] = r
	o.mu.Unlock()
	o.store.Put(exec)

	o.logger.Info().
		Str("execution_id", exec.ID).
		Str("profile_id", profile.ID).
		Msg("Profile search execution started")

	go o.runPipeline(pipelineCtx, r, profile, opts)

	return exec.ID, nil
}

// GetExecutionStatus returns a snapshot of the execution, nil if unknown.
func (o *Orchestrator) GetExecutionStatus(id string) (*models.Execution, error) {
	exec, ok := o.store.Get(id)
	if !ok {
		return nil, fmt.Errorf("execution not found: %s", id)
	}
	return exec, nil
}

// CancelExecution cancels a running execution, marking it failed with a
// cancellation message. Returns false when the execution is unknown or
// already terminal; cancelling twice is a no-op.
func (o *Orchestrator) CancelExecution(id string) bool {
	o.mu.Lock()
	r, ok := o.runs[id]
	o.mu.Unlock()
	if !ok {
		return false
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.exec.IsTerminal() {
		return false
	}
	r.exec.MarkFailed("Cancelled by user")
	o.store.Put(r.exec)
	r.cancel()

	o.logger.Info().Str("execution_id", id).Msg("Execution cancelled")
	return true
}

// SweepStale fails executions that have been running longer than the
// configured staleness ceiling. Returns the number swept.
func (o *Orchestrator) SweepStale() int {
	if o.config.StaleAfter <= 0 {
		return 0
	}

	cutoff := time.Now().Add(-o.config.StaleAfter)
	swept := 0
	for _, exec := range o.store.List() {
		if exec.IsTerminal() || exec.StartedAt.After(cutoff) {
			continue
		}

		o.mu.Lock()
		r, ok := o.runs[exec.ID]
		o.mu.Unlock()
		if !ok {
			// Registry entry gone but snapshot still running; fix the snapshot.
			exec.MarkFailed("Execution exceeded staleness limit")
			o.store.Put(exec)
			swept++
			continue
		}

		r.mu.Lock()
		if !r.exec.IsTerminal() {
			r.exec.MarkFailed("Execution exceeded staleness limit")
			o.store.Put(r.exec)
			r.cancel()
			swept++
		}
		r.mu.Unlock()
	}

	if swept > 0 {
		o.logger.Warn().Int("swept", swept).Msg("Swept stale executions")
	}
	return swept
}

// update applies a mutation to the run's execution under its lock and stores
// the new snapshot. Mutations are skipped once the execution is terminal, so
// a cancelled pipeline stops advancing counters.
func (o *Orchestrator) update(r *run, fn func(*models.Execution)) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.exec.IsTerminal() {
		return false
	}
	fn(r.exec)
	o.store.Put(r.exec)
	return true
}

// runPipeline executes the six pipeline stages for one execution.
func (o *Orchestrator) runPipeline(ctx context.Context, r *run, profile *models.Profile, opts *models.SearchOptions) {
	execID := r.exec.ID
	start := time.Now()

	defer func() {
		o.mu.Lock()
		delete(o.runs, execID)
		o.mu.Unlock()
	}()

	if o.gate != nil {
		if err := o.gate.Wait(ctx); err != nil {
			o.fail(r, fmt.Errorf("execution gate: %w", err))
			return
		}
	}

	// Stage 1: query generation.
	result, err := o.generator.GenerateQueries(ctx, profile, opts)
	if err != nil {
		o.fail(r, fmt.Errorf("query generation: %w", err))
		return
	}

	maxQueries := o.config.MaxQueriesPerProfile
	if opts.MaxQueriesPerProfile > 0 && opts.MaxQueriesPerProfile < maxQueries {
		maxQueries = opts.MaxQueriesPerProfile
	}
	queries := enhanceQueries(result.Queries, profile, opts, maxQueries)
	if len(queries) == 0 {
		o.fail(r, fmt.Errorf("query generation produced no usable queries"))
		return
	}
	if !o.update(r, func(e *models.Execution) { e.QueriesGenerated = len(queries) }) {
		return
	}

	// Stage 2: search submission.
	searchJobID, err := o.searcher.ExecuteSearch(ctx, &interfaces.SearchRequest{
		Queries:        queries,
		MaxResults:     opts.MaxResults,
		FilterDomains:  o.config.TrustedDomains,
		ExcludeDomains: o.config.BlockedDomains,
		Priority:       models.PriorityHigh,
	})
	if err != nil {
		o.fail(r, fmt.Errorf("search submission: %w", err))
		return
	}
	// Queries are executed the moment the submission is accepted; the counter
	// must survive a later wait failure or timeout.
	if !o.update(r, func(e *models.Execution) { e.QueriesExecuted = len(queries) }) {
		return
	}

	// Stage 3: completion wait.
	status, err := o.waitForSearch(ctx, searchJobID)
	if err != nil {
		o.fail(r, err)
		return
	}

	// Stage 4: result shaping.
	candidates := shapeCandidates(status.Results)
	if !o.update(r, func(e *models.Execution) { e.OpportunitiesFound = len(candidates) }) {
		return
	}

	// Stage 5: relevance analysis.
	highQuality := 0
	if len(candidates) > 0 {
		maxConcurrent := o.config.MaxConcurrentAnalyses
		if opts.MaxConcurrentAnalyses > 0 {
			maxConcurrent = opts.MaxConcurrentAnalyses
		}
		analysis, err := o.analyzer.BatchAnalyzeOpportunities(ctx, candidates, profile, maxConcurrent)
		if err != nil {
			o.fail(r, fmt.Errorf("analysis: %w", err))
			return
		}
		for _, verdict := range analysis.Analyses {
			if verdict.RelevanceScore >= o.config.RelevanceThreshold {
				highQuality++
			}
		}
	}
	if !o.update(r, func(e *models.Execution) { e.HighQualityOpportunities = highQuality }) {
		return
	}

	// Stage 6: finalize.
	if !o.update(r, func(e *models.Execution) { e.MarkCompleted() }) {
		return
	}

	o.logger.Info().
		Str("execution_id", execID).
		Int("queries", len(queries)).
		Int("opportunities", len(candidates)).
		Int("high_quality", highQuality).
		Dur("duration", time.Since(start)).
		Msg("Profile search execution completed")

	o.writeHistory(r, queries, start)
}

// fail marks the execution failed unless it is already terminal (for example
// after cancellation).
func (o *Orchestrator) fail(r *run, err error) {
	if o.update(r, func(e *models.Execution) { e.MarkFailed(err.Error()) }) {
		o.logger.Error().
			Err(err).
			Str("execution_id", r.exec.ID).
			Msg("Profile search execution failed")
	}
}

// waitForSearch polls the search job until it reaches a terminal state. The
// wait is bounded by the configured timeout and aborts on cancellation.
func (o *Orchestrator) waitForSearch(ctx context.Context, searchJobID string) (*models.SearchJobStatus, error) {
	pollInterval := o.config.StatusPollInterval
	if pollInterval <= 0 {
		pollInterval = 2 * time.Second
	}
	timeout := o.config.SearchWaitTimeout
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}

	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-deadline.C:
			// Distinct reason so callers can tell a wait timeout apart from a
			// remote-reported search failure.
			return nil, fmt.Errorf("Search timeout")
		case <-ticker.C:
			status, err := o.searcher.GetJobStatus(ctx, searchJobID)
			if err != nil {
				return nil, fmt.Errorf("search status poll: %w", err)
			}
			switch status.Status {
			case "completed":
				return status, nil
			case "failed":
				return nil, fmt.Errorf("search failed: %s", status.Error)
			}
		}
	}
}

// writeHistory persists the audit summary. Failures are logged, never fatal.
func (o *Orchestrator) writeHistory(r *run, queries []string, start time.Time) {
	if o.history == nil {
		return
	}

	r.mu.Lock()
	exec := r.exec.Clone()
	r.mu.Unlock()

	record := &models.SearchHistory{
		ID:                       uuid.New().String(),
		ExecutionID:              exec.ID,
		ProfileID:                exec.ProfileID,
		Queries:                  queries,
		QueriesGenerated:         exec.QueriesGenerated,
		QueriesExecuted:          exec.QueriesExecuted,
		OpportunitiesFound:       exec.OpportunitiesFound,
		HighQualityOpportunities: exec.HighQualityOpportunities,
		Duration:                 time.Since(start),
		CreatedAt:                time.Now(),
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := o.history.SaveHistory(ctx, record); err != nil {
		o.logger.Warn().
			Err(err).
			Str("execution_id", exec.ID).
			Msg("Failed to write search history")
	}
}

// enhanceQueries expands base queries with profile mediums and target
// locations, deduplicates case-insensitively, and caps the set.
func enhanceQueries(base []string, profile *models.Profile, opts *models.SearchOptions, maxQueries int) []string {
	locations := opts.TargetLocations
	if len(locations) == 0 {
		locations = profile.Locations
	}

	var expanded []string
	expanded = append(expanded, base...)
	for _, query := range base {
		lower := strings.ToLower(query)
		for _, medium := range profile.Mediums {
			if !strings.Contains(lower, strings.ToLower(medium)) {
				expanded = append(expanded, query+" "+medium)
			}
		}
		for _, location := range locations {
			if !strings.Contains(lower, strings.ToLower(location)) {
				expanded = append(expanded, query+" "+location)
			}
		}
	}

	seen := make(map[string]bool, len(expanded))
	var out []string
	for _, query := range expanded {
		query = strings.TrimSpace(query)
		key := strings.ToLower(query)
		if query == "" || seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, query)
		if maxQueries > 0 && len(out) >= maxQueries {
			break
		}
	}
	return out
}

// shapeCandidates converts raw search hits into opportunity candidates,
// deduplicating by URL.
func shapeCandidates(hits []models.SearchHit) []models.Opportunity {
	seen := make(map[string]bool, len(hits))
	var out []models.Opportunity
	for _, hit := range hits {
		if hit.URL == "" || seen[hit.URL] {
			continue
		}
		seen[hit.URL] = true

		title := hit.Title
		if title == "" {
			title = hit.URL
		}
		out = append(out, models.Opportunity{
			ID:          uuid.New().String(),
			Title:       title,
			URL:         hit.URL,
			Description: hit.Snippet,
			Source:      hit.Domain,
			Type:        classifyType(title),
		})
	}
	return out
}

// classifyType guesses the opportunity type from its title.
func classifyType(title string) string {
	lower := strings.ToLower(title)
	switch {
	case strings.Contains(lower, "grant") || strings.Contains(lower, "fund"):
		return "grant"
	case strings.Contains(lower, "residenc"):
		return "residency"
	case strings.Contains(lower, "exhibit") || strings.Contains(lower, "gallery"):
		return "exhibition"
	case strings.Contains(lower, "open call") || strings.Contains(lower, "submission"):
		return "open-call"
	}
	return ""
}
