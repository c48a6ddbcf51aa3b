// -----------------------------------------------------------------------
// Handlers - Job handlers bound to the queue processor
// -----------------------------------------------------------------------

package workers

import (
	"context"
	"fmt"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/reperio/internal/interfaces"
	"github.com/ternarybob/reperio/internal/models"
	"github.com/ternarybob/reperio/internal/queue"
	"github.com/ternarybob/reperio/internal/services/orchestrator"
)

// Deps carries everything the job handlers need.
type Deps struct {
	Orchestrator *orchestrator.Orchestrator
	Scraper      interfaces.Scraper
	Storage      interfaces.JobStorage
	Logger       arbor.ILogger

	// ExecutionPollInterval is how often the search-execution handler polls
	// the pipeline for progress. Tests shorten this.
	ExecutionPollInterval time.Duration
}

// BuildHandlers binds one handler per job type.
func BuildHandlers(deps Deps) queue.Handlers {
	if deps.ExecutionPollInterval <= 0 {
		deps.ExecutionPollInterval = time.Second
	}
	return queue.Handlers{
		SearchExecution:    NewSearchExecutionHandler(deps),
		OrganizationScrape: NewOrganizationScrapeHandler(deps),
		ResultProcessing:   NewResultProcessingHandler(deps),
		DataValidation:     NewDataValidationHandler(deps),
		BookmarkScrape:     NewBookmarkScrapeHandler(deps),
		Cleanup:            NewCleanupHandler(deps),
	}
}

// NewSearchExecutionHandler runs a full discovery pipeline for the profile in
// the payload and blocks until the execution reaches a terminal state,
// reporting pipeline progress as job progress.
func NewSearchExecutionHandler(deps Deps) queue.HandlerFunc {
	return func(ctx context.Context, job *models.Job, progress queue.ProgressFunc) (map[string]interface{}, error) {
		profile, err := profileFromPayload(job)
		if err != nil {
			return nil, err
		}
		opts := optionsFromPayload(job)

		executionID, err := deps.Orchestrator.ExecuteProfileSearch(ctx, profile, opts)
		if err != nil {
			return nil, fmt.Errorf("start execution: %w", err)
		}

		ticker := time.NewTicker(deps.ExecutionPollInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				deps.Orchestrator.CancelExecution(executionID)
				return nil, ctx.Err()
			case <-ticker.C:
				exec, err := deps.Orchestrator.GetExecutionStatus(executionID)
				if err != nil {
					return nil, fmt.Errorf("poll execution: %w", err)
				}

				progress(executionProgress(exec))

				if !exec.IsTerminal() {
					continue
				}

				data := map[string]interface{}{
					"execution_id":               exec.ID,
					"queries_generated":          exec.QueriesGenerated,
					"queries_executed":           exec.QueriesExecuted,
					"opportunities_found":        exec.OpportunitiesFound,
					"high_quality_opportunities": exec.HighQualityOpportunities,
				}
				if exec.Status == models.ExecutionFailed {
					return data, fmt.Errorf("execution failed: %s", exec.Error)
				}
				return data, nil
			}
		}
	}
}

// executionProgress maps completed pipeline stages onto a percentage.
func executionProgress(exec *models.Execution) float64 {
	switch {
	case exec.IsTerminal():
		return 100
	case exec.HighQualityOpportunities > 0:
		return 90
	case exec.OpportunitiesFound > 0:
		return 70
	case exec.QueriesExecuted > 0:
		return 50
	case exec.QueriesGenerated > 0:
		return 25
	}
	return 5
}

// NewOrganizationScrapeHandler fetches an organization page and returns its
// content as markdown.
func NewOrganizationScrapeHandler(deps Deps) queue.HandlerFunc {
	return func(ctx context.Context, job *models.Job, progress queue.ProgressFunc) (map[string]interface{}, error) {
		target, ok := job.PayloadString("url")
		if !ok || target == "" {
			return nil, fmt.Errorf("payload url is required")
		}

		progress(10)
		result, err := deps.Scraper.ScrapePage(ctx, target)
		if err != nil {
			return nil, fmt.Errorf("scrape organization page: %w", err)
		}
		progress(100)

		return map[string]interface{}{
			"url":            result.URL,
			"title":          result.Title,
			"content":        result.ContentMarkdown,
			"content_length": len(result.ContentMarkdown),
			"link_count":     len(result.Links),
		}, nil
	}
}

// NewResultProcessingHandler normalizes a batch of raw search result URLs,
// dropping duplicates and malformed entries.
func NewResultProcessingHandler(deps Deps) queue.HandlerFunc {
	return func(ctx context.Context, job *models.Job, progress queue.ProgressFunc) (map[string]interface{}, error) {
		urls, ok := job.PayloadStringSlice("urls")
		if !ok {
			return nil, fmt.Errorf("payload urls is required")
		}

		seen := make(map[string]bool, len(urls))
		var kept []string
		dropped := 0
		for i, raw := range urls {
			if !validURL(raw) || seen[raw] {
				dropped++
			} else {
				seen[raw] = true
				kept = append(kept, raw)
			}
			progress(float64(i+1) / float64(len(urls)) * 100)
		}

		return map[string]interface{}{
			"processed": len(urls),
			"kept":      kept,
			"dropped":   dropped,
		}, nil
	}
}

// NewDataValidationHandler validates an opportunity record from the payload.
func NewDataValidationHandler(deps Deps) queue.HandlerFunc {
	return func(ctx context.Context, job *models.Job, progress queue.ProgressFunc) (map[string]interface{}, error) {
		title, _ := job.PayloadString("title")
		rawURL, _ := job.PayloadString("url")

		var problems []string
		if title == "" {
			problems = append(problems, "title is required")
		}
		if rawURL == "" {
			problems = append(problems, "url is required")
		} else if !validURL(rawURL) {
			problems = append(problems, "url is not a valid http(s) address")
		}
		if deadline, ok := job.PayloadString("deadline"); ok && deadline != "" {
			if _, err := time.Parse("2006-01-02", deadline); err != nil {
				problems = append(problems, "deadline must be YYYY-MM-DD")
			}
		}

		progress(100)
		return map[string]interface{}{
			"valid":    len(problems) == 0,
			"problems": problems,
		}, nil
	}
}

// NewBookmarkScrapeHandler refreshes a list of bookmarked opportunity pages.
// Per-page failures are recorded, not fatal; the job only fails when every
// page fails.
func NewBookmarkScrapeHandler(deps Deps) queue.HandlerFunc {
	return func(ctx context.Context, job *models.Job, progress queue.ProgressFunc) (map[string]interface{}, error) {
		urls, ok := job.PayloadStringSlice("urls")
		if !ok || len(urls) == 0 {
			return nil, fmt.Errorf("payload urls is required")
		}

		pages := make([]map[string]interface{}, 0, len(urls))
		var failures []string
		for i, target := range urls {
			result, err := deps.Scraper.ScrapePage(ctx, target)
			if err != nil {
				deps.Logger.Warn().Err(err).Str("url", target).Msg("Bookmark scrape failed")
				failures = append(failures, fmt.Sprintf("%s: %v", target, err))
			} else {
				pages = append(pages, map[string]interface{}{
					"url":            result.URL,
					"title":          result.Title,
					"content_length": len(result.ContentMarkdown),
				})
			}
			progress(float64(i+1) / float64(len(urls)) * 100)
		}

		if len(failures) == len(urls) {
			return nil, fmt.Errorf("all bookmark scrapes failed: %v", failures)
		}

		return map[string]interface{}{
			"scraped":  pages,
			"failures": failures,
		}, nil
	}
}

// NewCleanupHandler trims completed job records and sweeps stale executions.
func NewCleanupHandler(deps Deps) queue.HandlerFunc {
	return func(ctx context.Context, job *models.Job, progress queue.ProgressFunc) (map[string]interface{}, error) {
		retain, ok := job.PayloadInt("retain")
		if !ok {
			retain = 100
		}

		evicted := 0
		types := models.AllJobTypes()
		for i, jobType := range types {
			n, err := deps.Storage.EvictCompleted(ctx, jobType.QueueName(), retain)
			if err != nil {
				return nil, fmt.Errorf("evict completed for %s: %w", jobType.QueueName(), err)
			}
			evicted += n
			progress(float64(i+1) / float64(len(types)+1) * 100)
		}

		swept := deps.Orchestrator.SweepStale()
		progress(100)

		return map[string]interface{}{
			"evicted_jobs":     evicted,
			"swept_executions": swept,
		}, nil
	}
}
