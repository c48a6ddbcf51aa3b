package workers

import (
	"encoding/json"
	"fmt"
	"net/url"

	"github.com/ternarybob/reperio/internal/models"
)

// profileFromPayload decodes the "profile" payload field through a JSON
// round-trip, so both typed structs and generic maps from deserialized jobs
// are accepted.
func profileFromPayload(job *models.Job) (*models.Profile, error) {
	raw, ok := job.Payload["profile"]
	if !ok {
		return nil, fmt.Errorf("payload profile is required")
	}

	data, err := json.Marshal(raw)
	if err != nil {
		return nil, fmt.Errorf("encode profile payload: %w", err)
	}
	var profile models.Profile
	if err := json.Unmarshal(data, &profile); err != nil {
		return nil, fmt.Errorf("decode profile payload: %w", err)
	}
	if profile.ID == "" {
		return nil, fmt.Errorf("profile id is required")
	}
	return &profile, nil
}

// optionsFromPayload decodes the optional "options" payload field.
func optionsFromPayload(job *models.Job) *models.SearchOptions {
	raw, ok := job.Payload["options"]
	if !ok {
		return &models.SearchOptions{}
	}

	data, err := json.Marshal(raw)
	if err != nil {
		return &models.SearchOptions{}
	}
	var opts models.SearchOptions
	if err := json.Unmarshal(data, &opts); err != nil {
		return &models.SearchOptions{}
	}
	return &opts
}

func validURL(raw string) bool {
	parsed, err := url.Parse(raw)
	if err != nil {
		return false
	}
	return (parsed.Scheme == "http" || parsed.Scheme == "https") && parsed.Hostname() != ""
}
