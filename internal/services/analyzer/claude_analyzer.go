// -----------------------------------------------------------------------
// ClaudeAnalyzer - Opportunity relevance scoring via Anthropic Claude
// -----------------------------------------------------------------------

package analyzer

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/reperio/internal/common"
	"github.com/ternarybob/reperio/internal/interfaces"
	"github.com/ternarybob/reperio/internal/models"
)

// ClaudeAnalyzer implements the Analyzer interface using the Anthropic API.
// Batch analysis fans candidates out to a bounded number of concurrent API
// calls; per-candidate failures score zero rather than failing the batch.
type ClaudeAnalyzer struct {
	client    anthropic.Client
	config    *common.ClaudeConfig
	logger    arbor.ILogger
	maxTokens int
}

// Compile-time assertion: ClaudeAnalyzer implements the Analyzer interface.
var _ interfaces.Analyzer = (*ClaudeAnalyzer)(nil)

// NewClaudeAnalyzer creates an analyzer backed by the Anthropic API.
func NewClaudeAnalyzer(config *common.ClaudeConfig, logger arbor.ILogger) (*ClaudeAnalyzer, error) {
	if config.APIKey == "" {
		return nil, fmt.Errorf("Anthropic API key is required for analysis (set via ANTHROPIC_API_KEY or claude.api_key in config)")
	}

	maxTokens := config.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 1024
	}

	client := anthropic.NewClient(
		option.WithAPIKey(config.APIKey),
	)

	return &ClaudeAnalyzer{
		client:    client,
		config:    config,
		logger:    logger,
		maxTokens: maxTokens,
	}, nil
}

// BatchAnalyzeOpportunities scores every candidate against the profile with
// at most maxConcurrent API calls in flight.
func (a *ClaudeAnalyzer) BatchAnalyzeOpportunities(ctx context.Context, candidates []models.Opportunity, profile *models.Profile, maxConcurrent int) (*models.AnalysisResult, error) {
	if profile == nil {
		return nil, fmt.Errorf("profile is required")
	}
	if maxConcurrent < 1 {
		maxConcurrent = 1
	}

	start := time.Now()
	analyses := make([]models.OpportunityAnalysis, len(candidates))

	sem := make(chan struct{}, maxConcurrent)
	var wg sync.WaitGroup

	for i, candidate := range candidates {
		wg.Add(1)
		go func(i int, candidate models.Opportunity) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			analysis, err := a.analyzeOne(ctx, candidate, profile)
			if err != nil {
				a.logger.Warn().
					Err(err).
					Str("opportunity_id", candidate.ID).
					Msg("Opportunity analysis failed")
				analyses[i] = models.OpportunityAnalysis{
					OpportunityID: candidate.ID,
					Reasoning:     fmt.Sprintf("analysis failed: %v", err),
				}
				return
			}
			analyses[i] = *analysis
		}(i, candidate)
	}
	wg.Wait()

	var total float64
	for _, analysis := range analyses {
		total += analysis.RelevanceScore
	}
	average := 0.0
	if len(analyses) > 0 {
		average = total / float64(len(analyses))
	}

	a.logger.Info().
		Str("profile_id", profile.ID).
		Int("candidates", len(candidates)).
		Float64("average_score", average).
		Dur("duration", time.Since(start)).
		Msg("Batch analysis completed")

	return &models.AnalysisResult{
		Analyses:       analyses,
		AverageScore:   average,
		ProcessingTime: time.Since(start),
	}, nil
}

// verdict is the JSON shape the model is asked to return.
type verdict struct {
	RelevanceScore float64 `json:"relevance_score"`
	Reasoning      string  `json:"reasoning"`
	Deadline       string  `json:"deadline"`
}

func (a *ClaudeAnalyzer) analyzeOne(ctx context.Context, candidate models.Opportunity, profile *models.Profile) (*models.OpportunityAnalysis, error) {
	model := a.config.Model
	if model == "" {
		model = "claude-haiku-4-5"
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(model),
		MaxTokens: int64(a.maxTokens),
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(
				anthropic.NewTextBlock(buildPrompt(candidate, profile)),
			),
		},
		System: []anthropic.TextBlockParam{
			{Text: `You score art opportunities for relevance to an artist. Respond with JSON only:
{"relevance_score": <0.0-1.0>, "reasoning": "<one sentence>", "deadline": "<YYYY-MM-DD or empty>"}`},
		},
	}

	resp, err := a.client.Messages.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("Claude API call failed: %w", err)
	}

	var text strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}
	if text.Len() == 0 {
		return nil, fmt.Errorf("no response generated for opportunity %s", candidate.ID)
	}

	var v verdict
	if err := json.Unmarshal([]byte(extractJSON(text.String())), &v); err != nil {
		return nil, fmt.Errorf("parse analysis response: %w", err)
	}

	// Clamp to the documented score range.
	if v.RelevanceScore < 0 {
		v.RelevanceScore = 0
	}
	if v.RelevanceScore > 1 {
		v.RelevanceScore = 1
	}

	return &models.OpportunityAnalysis{
		OpportunityID:  candidate.ID,
		RelevanceScore: v.RelevanceScore,
		Reasoning:      v.Reasoning,
		Deadline:       v.Deadline,
	}, nil
}

func buildPrompt(candidate models.Opportunity, profile *models.Profile) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Artist: %s\n", profile.Name)
	if len(profile.Mediums) > 0 {
		fmt.Fprintf(&b, "Mediums: %s\n", strings.Join(profile.Mediums, ", "))
	}
	if len(profile.Locations) > 0 {
		fmt.Fprintf(&b, "Locations: %s\n", strings.Join(profile.Locations, ", "))
	}
	if profile.Statement != "" {
		fmt.Fprintf(&b, "Statement: %s\n", profile.Statement)
	}
	b.WriteString("\nOpportunity:\n")
	fmt.Fprintf(&b, "Title: %s\n", candidate.Title)
	fmt.Fprintf(&b, "URL: %s\n", candidate.URL)
	if candidate.Type != "" {
		fmt.Fprintf(&b, "Type: %s\n", candidate.Type)
	}
	if candidate.Description != "" {
		fmt.Fprintf(&b, "Description: %s\n", candidate.Description)
	}
	return b.String()
}

// extractJSON pulls the first JSON object out of a response that may carry
// prose or code fences around it.
func extractJSON(text string) string {
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start == -1 || end == -1 || end < start {
		return text
	}
	return text[start : end+1]
}
