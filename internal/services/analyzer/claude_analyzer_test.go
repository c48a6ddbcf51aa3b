package analyzer

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/ternarybob/reperio/internal/models"
)

func TestExtractJSON(t *testing.T) {
	assert.Equal(t, `{"relevance_score": 0.8}`, extractJSON(`{"relevance_score": 0.8}`))
	assert.Equal(t, `{"a": 1}`, extractJSON("Here is the verdict:\n```json\n{\"a\": 1}\n```\nDone."))
	assert.Equal(t, "no json here", extractJSON("no json here"))
}

func TestBuildPromptIncludesProfileAndOpportunity(t *testing.T) {
	profile := &models.Profile{
		ID:        "artist-1",
		Name:      "Mira Chen",
		Mediums:   []string{"ceramics"},
		Locations: []string{"Portland"},
		Statement: "Functional pottery with industrial influences.",
	}
	candidate := models.Opportunity{
		ID:          "opp-1",
		Title:       "Emerging Artist Grant",
		URL:         "https://arts.example.org/grant",
		Type:        "grant",
		Description: "Annual grant for emerging ceramicists.",
	}

	prompt := buildPrompt(candidate, profile)
	assert.Contains(t, prompt, "Mira Chen")
	assert.Contains(t, prompt, "ceramics")
	assert.Contains(t, prompt, "Portland")
	assert.Contains(t, prompt, "Emerging Artist Grant")
	assert.Contains(t, prompt, "https://arts.example.org/grant")
}
