package models

import "time"

// Profile describes the artist whose opportunities the pipeline discovers.
// Mediums and Locations drive query enhancement; Keywords seed generation.
type Profile struct {
	ID        string   `json:"id"`
	Name      string   `json:"name"`
	Mediums   []string `json:"mediums,omitempty"`
	Locations []string `json:"locations,omitempty"`
	Keywords  []string `json:"keywords,omitempty"`
	Statement string   `json:"statement,omitempty"`
}

// SearchOptions tunes one pipeline run.
type SearchOptions struct {
	OpportunityTypes      []string `json:"opportunity_types,omitempty"`
	MaxQueriesPerProfile  int      `json:"max_queries_per_profile,omitempty"`
	TargetLocations       []string `json:"target_locations,omitempty"`
	MaxResults            int      `json:"max_results,omitempty"`
	MaxConcurrentAnalyses int      `json:"max_concurrent_analyses,omitempty"`
}

// SearchHit is one raw result returned by the web-search collaborator.
type SearchHit struct {
	URL     string `json:"url"`
	Title   string `json:"title"`
	Snippet string `json:"snippet,omitempty"`
	Domain  string `json:"domain,omitempty"`
	Query   string `json:"query,omitempty"`
}

// SearchJobStatus is the polled status of an asynchronous search job.
type SearchJobStatus struct {
	Status   string      `json:"status"` // pending | running | completed | failed
	Progress float64     `json:"progress"`
	Results  []SearchHit `json:"results,omitempty"`
	Error    string      `json:"error,omitempty"`
}

// Opportunity is a candidate opportunity shaped from a raw search hit,
// scored against the profile during the analysis stage.
type Opportunity struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	URL         string `json:"url"`
	Description string `json:"description,omitempty"`
	Source      string `json:"source,omitempty"`
	Type        string `json:"type,omitempty"`
}

// OpportunityAnalysis is the analyzer's verdict for one candidate.
// RelevanceScore is in [0,1]; candidates at or above the quality threshold
// count as high quality.
type OpportunityAnalysis struct {
	OpportunityID  string  `json:"opportunity_id"`
	RelevanceScore float64 `json:"relevance_score"`
	Reasoning      string  `json:"reasoning,omitempty"`
	Deadline       string  `json:"deadline,omitempty"`
}

// QueryGenerationResult is returned by the query-generation collaborator.
type QueryGenerationResult struct {
	Queries        []string      `json:"queries"`
	ProcessingTime time.Duration `json:"processing_time"`
}

// AnalysisResult is returned by the batch analysis collaborator.
type AnalysisResult struct {
	Analyses       []OpportunityAnalysis `json:"analyses"`
	AverageScore   float64               `json:"average_score"`
	ProcessingTime time.Duration         `json:"processing_time"`
}

// SearchHistory is the audit summary written after a pipeline run. Writing it
// is best effort; a failed write never fails the pipeline.
type SearchHistory struct {
	ID                       string        `json:"id" badgerhold:"key"`
	ExecutionID              string        `json:"execution_id" badgerhold:"index"`
	ProfileID                string        `json:"profile_id" badgerhold:"index"`
	Queries                  []string      `json:"queries"`
	QueriesGenerated         int           `json:"queries_generated"`
	QueriesExecuted          int           `json:"queries_executed"`
	OpportunitiesFound       int           `json:"opportunities_found"`
	HighQualityOpportunities int           `json:"high_quality_opportunities"`
	Duration                 time.Duration `json:"duration"`
	CreatedAt                time.Time     `json:"created_at"`
}
