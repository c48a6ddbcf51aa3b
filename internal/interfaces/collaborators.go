package interfaces

import (
	"context"

	"github.com/ternarybob/reperio/internal/models"
)

// QueryGenerator produces base search queries for a profile. The orchestrator
// enhances, deduplicates, and caps the returned set.
type QueryGenerator interface {
	GenerateQueries(ctx context.Context, profile *models.Profile, opts *models.SearchOptions) (*models.QueryGenerationResult, error)
}

// Analyzer scores candidate opportunities against a profile. Implementations
// bound their own concurrency to maxConcurrent.
type Analyzer interface {
	BatchAnalyzeOpportunities(ctx context.Context, candidates []models.Opportunity, profile *models.Profile, maxConcurrent int) (*models.AnalysisResult, error)
}

// SearchRequest configures one asynchronous web-search submission.
type SearchRequest struct {
	Queries        []string
	MaxResults     int
	FilterDomains  []string
	ExcludeDomains []string
	Priority       models.Priority
}

// WebSearcher submits query batches to the downstream search provider and
// exposes a pollable job status. ExecuteSearch returns immediately with a job
// id; the orchestrator polls GetJobStatus until completion or timeout.
type WebSearcher interface {
	ExecuteSearch(ctx context.Context, req *SearchRequest) (string, error)
	GetJobStatus(ctx context.Context, jobID string) (*models.SearchJobStatus, error)
}

// Scraper fetches a remote page and returns its main content as markdown.
type Scraper interface {
	ScrapePage(ctx context.Context, url string) (*ScrapeResult, error)
}

// ScrapeResult is the normalized output of one page scrape.
type ScrapeResult struct {
	URL             string
	Title           string
	ContentMarkdown string
	Links           []string
}
