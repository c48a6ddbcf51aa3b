package scraper

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/reperio/internal/common"
)

const testPage = `<!DOCTYPE html>
<html>
<head><title>Arts Council Grants</title><script>evil()</script></head>
<body>
<nav><a href="/nav">nav link</a></nav>
<h1>Grant Programs</h1>
<p>Apply for our <a href="/apply">annual grant</a> program.</p>
<p>See also <a href="https://other.example.org/residency">residencies</a>.</p>
<p>Dup link to <a href="/apply#section">annual grant</a>.</p>
<footer>footer text</footer>
</body>
</html>`

func testScraperConfig() common.ScraperConfig {
	return common.ScraperConfig{
		UserAgent:      "reperio-test/1.0",
		RequestTimeout: 5 * time.Second,
		MaxBodySize:    1 << 20,
	}
}

func TestScrapePage(t *testing.T) {
	var gotUserAgent atomic.Value
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUserAgent.Store(r.UserAgent())
		w.Header().Set("Content-Type", "text/html")
		w.Write([]byte(testPage))
	}))
	defer server.Close()

	s := NewPageScraper(testScraperConfig(), arbor.NewLogger())

	result, err := s.ScrapePage(context.Background(), server.URL)
	require.NoError(t, err)

	assert.Equal(t, "Arts Council Grants", result.Title)
	assert.Contains(t, result.ContentMarkdown, "Grant Programs")
	assert.NotContains(t, result.ContentMarkdown, "evil()")

	// Links are resolved against the page URL and deduplicated (the fragment
	// variant collapses into the same link).
	assert.Contains(t, result.Links, server.URL+"/apply")
	assert.Contains(t, result.Links, "https://other.example.org/residency")
	count := 0
	for _, link := range result.Links {
		if link == server.URL+"/apply" {
			count++
		}
	}
	assert.Equal(t, 1, count)

	assert.Equal(t, "reperio-test/1.0", gotUserAgent.Load())
}

func TestScrapePageErrorStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "gone", http.StatusNotFound)
	}))
	defer server.Close()

	s := NewPageScraper(testScraperConfig(), arbor.NewLogger())

	_, err := s.ScrapePage(context.Background(), server.URL)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 404")
}

func TestScrapePageInvalidURL(t *testing.T) {
	s := NewPageScraper(testScraperConfig(), arbor.NewLogger())

	_, err := s.ScrapePage(context.Background(), "not a url")
	assert.Error(t, err)
}

func TestScraperSpacesSameDomainRequests(t *testing.T) {
	var requests atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
		w.Write([]byte(`<html><head><title>x</title></head><body>ok</body></html>`))
	}))
	defer server.Close()

	cfg := testScraperConfig()
	cfg.RequestDelay = 80 * time.Millisecond
	s := NewPageScraper(cfg, arbor.NewLogger())

	ctx := context.Background()
	start := time.Now()
	_, err := s.ScrapePage(ctx, server.URL+"/one")
	require.NoError(t, err)
	_, err = s.ScrapePage(ctx, server.URL+"/two")
	require.NoError(t, err)

	assert.GreaterOrEqual(t, time.Since(start), 80*time.Millisecond,
		"second request to the same domain must wait out the delay")
	assert.Equal(t, int32(2), requests.Load())
}

func TestScraperDelayCancellable(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`<html><body>ok</body></html>`))
	}))
	defer server.Close()

	cfg := testScraperConfig()
	cfg.RequestDelay = 10 * time.Second
	s := NewPageScraper(cfg, arbor.NewLogger())

	_, err := s.ScrapePage(context.Background(), server.URL)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err = s.ScrapePage(ctx, server.URL)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
