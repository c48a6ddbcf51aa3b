package queries

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/ternarybob/arbor"
	"google.golang.org/genai"

	"github.com/ternarybob/reperio/internal/common"
	"github.com/ternarybob/reperio/internal/interfaces"
	"github.com/ternarybob/reperio/internal/models"
)

// GeminiGenerator implements the QueryGenerator interface using Gemini chat
// completions. It asks the model for base search queries tailored to the
// profile; enhancement with mediums and locations happens downstream.
type GeminiGenerator struct {
	client *genai.Client
	config *common.GeminiConfig
	logger arbor.ILogger
}

// Compile-time assertion: GeminiGenerator implements the QueryGenerator interface.
var _ interfaces.QueryGenerator = (*GeminiGenerator)(nil)

// NewGeminiGenerator creates a generator backed by the Gemini API.
func NewGeminiGenerator(config *common.GeminiConfig, logger arbor.ILogger) (*GeminiGenerator, error) {
	if config.APIKey == "" {
		return nil, fmt.Errorf("Gemini API key is required for query generation (set via GEMINI_API_KEY or gemini.api_key in config)")
	}

	client, err := genai.NewClient(context.Background(), &genai.ClientConfig{
		APIKey:  config.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}

	return &GeminiGenerator{
		client: client,
		config: config,
		logger: logger,
	}, nil
}

// GenerateQueries asks the model for search queries covering the requested
// opportunity types. The model's output is parsed one query per line.
func (g *GeminiGenerator) GenerateQueries(ctx context.Context, profile *models.Profile, opts *models.SearchOptions) (*models.QueryGenerationResult, error) {
	if profile == nil {
		return nil, fmt.Errorf("profile is required")
	}

	start := time.Now()
	prompt := buildPrompt(profile, opts)

	model := g.config.Model
	if model == "" {
		model = "gemini-2.0-flash"
	}

	resp, err := g.client.Models.GenerateContent(
		ctx,
		model,
		[]*genai.Content{
			genai.NewContentFromText(prompt, genai.RoleUser),
		},
		nil,
	)
	if err != nil {
		return nil, fmt.Errorf("query generation failed: %w", err)
	}

	var text strings.Builder
	if len(resp.Candidates) > 0 && resp.Candidates[0].Content != nil {
		for _, part := range resp.Candidates[0].Content.Parts {
			text.WriteString(part.Text)
		}
	}

	generated := parseQueries(text.String())
	if len(generated) == 0 {
		return nil, fmt.Errorf("no queries generated for profile %s", profile.ID)
	}

	g.logger.Info().
		Str("profile_id", profile.ID).
		Int("queries", len(generated)).
		Dur("duration", time.Since(start)).
		Msg("Queries generated")

	return &models.QueryGenerationResult{
		Queries:        generated,
		ProcessingTime: time.Since(start),
	}, nil
}

func buildPrompt(profile *models.Profile, opts *models.SearchOptions) string {
	var b strings.Builder

	count := 10
	types := []string{"grants", "residencies", "exhibitions", "open calls"}
	if opts != nil {
		if opts.MaxQueriesPerProfile > 0 {
			count = opts.MaxQueriesPerProfile
		}
		if len(opts.OpportunityTypes) > 0 {
			types = opts.OpportunityTypes
		}
	}

	fmt.Fprintf(&b, "Generate %d web search queries to find current %s for the following artist.\n", count, strings.Join(types, ", "))
	b.WriteString("Output one query per line with no numbering and no commentary.\n\n")
	fmt.Fprintf(&b, "Artist: %s\n", profile.Name)
	if len(profile.Mediums) > 0 {
		fmt.Fprintf(&b, "Mediums: %s\n", strings.Join(profile.Mediums, ", "))
	}
	if len(profile.Locations) > 0 {
		fmt.Fprintf(&b, "Locations: %s\n", strings.Join(profile.Locations, ", "))
	}
	if len(profile.Keywords) > 0 {
		fmt.Fprintf(&b, "Keywords: %s\n", strings.Join(profile.Keywords, ", "))
	}
	if profile.Statement != "" {
		fmt.Fprintf(&b, "Statement: %s\n", profile.Statement)
	}

	return b.String()
}

func parseQueries(text string) []string {
	var queries []string
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		// Strip list markers the model tends to prepend.
		line = strings.TrimLeft(line, "-*0123456789. ")
		line = strings.Trim(line, `"`)
		if line == "" {
			continue
		}
		queries = append(queries, line)
	}
	return queries
}
