// -----------------------------------------------------------------------
// PageScraper - Polite single-page fetch with markdown conversion
// -----------------------------------------------------------------------

package scraper

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	md "github.com/JohannesKaufmann/html-to-markdown"
	"github.com/PuerkitoBio/goquery"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/reperio/internal/common"
	"github.com/ternarybob/reperio/internal/interfaces"
)

// PageScraper implements the Scraper interface. Requests to the same domain
// are spaced by the configured delay so scraping stays polite; different
// domains are independent.
type PageScraper struct {
	config common.ScraperConfig
	logger arbor.ILogger
	client *http.Client

	mu          sync.Mutex
	lastRequest map[string]time.Time
}

// Compile-time assertion: PageScraper implements the Scraper interface.
var _ interfaces.Scraper = (*PageScraper)(nil)

// NewPageScraper creates a scraper with the configured politeness settings.
func NewPageScraper(config common.ScraperConfig, logger arbor.ILogger) *PageScraper {
	timeout := config.RequestTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &PageScraper{
		config:      config,
		logger:      logger,
		client:      &http.Client{Timeout: timeout},
		lastRequest: make(map[string]time.Time),
	}
}

// ScrapePage fetches the page, extracts the title and links with goquery, and
// converts the body to markdown.
func (s *PageScraper) ScrapePage(ctx context.Context, target string) (*interfaces.ScrapeResult, error) {
	parsed, err := url.Parse(target)
	if err != nil || parsed.Hostname() == "" {
		return nil, fmt.Errorf("invalid url: %s", target)
	}

	if err := s.waitForDomain(ctx, parsed.Hostname()); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	if s.config.UserAgent != "" {
		req.Header.Set("User-Agent", s.config.UserAgent)
	}
	req.Header.Set("Accept-Language", "en-US,en;q=0.9")

	start := time.Now()
	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", target, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("fetch %s: status %d", target, resp.StatusCode)
	}

	body := resp.Body
	if s.config.MaxBodySize > 0 {
		body = io.NopCloser(io.LimitReader(resp.Body, int64(s.config.MaxBodySize)))
	}

	doc, err := goquery.NewDocumentFromReader(body)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", target, err)
	}

	// Strip boilerplate before conversion.
	doc.Find("script, style, nav, footer, header, iframe, noscript").Remove()

	title := strings.TrimSpace(doc.Find("title").First().Text())

	var links []string
	seen := make(map[string]bool)
	doc.Find("a[href]").Each(func(_ int, sel *goquery.Selection) {
		href, ok := sel.Attr("href")
		if !ok {
			return
		}
		resolved, err := parsed.Parse(href)
		if err != nil || (resolved.Scheme != "http" && resolved.Scheme != "https") {
			return
		}
		resolved.Fragment = ""
		link := resolved.String()
		if !seen[link] {
			seen[link] = true
			links = append(links, link)
		}
	})

	html, err := doc.Find("body").Html()
	if err != nil {
		return nil, fmt.Errorf("extract body %s: %w", target, err)
	}

	converter := md.NewConverter(parsed.Scheme+"://"+parsed.Host, true, nil)
	markdown, err := converter.ConvertString(html)
	if err != nil {
		return nil, fmt.Errorf("convert %s to markdown: %w", target, err)
	}

	s.logger.Debug().
		Str("url", target).
		Int("links", len(links)).
		Int("content_length", len(markdown)).
		Dur("duration", time.Since(start)).
		Msg("Page scraped")

	return &interfaces.ScrapeResult{
		URL:             target,
		Title:           title,
		ContentMarkdown: markdown,
		Links:           links,
	}, nil
}

// waitForDomain blocks until the per-domain delay since the last request to
// the same host has elapsed, or the context is cancelled.
func (s *PageScraper) waitForDomain(ctx context.Context, domain string) error {
	if s.config.RequestDelay <= 0 {
		return nil
	}

	s.mu.Lock()
	last, ok := s.lastRequest[domain]
	var wait time.Duration
	if ok {
		if until := last.Add(s.config.RequestDelay); until.After(time.Now()) {
			wait = time.Until(until)
		}
	}
	// Claim the slot up front so concurrent callers to the same domain queue
	// behind each other instead of bursting together.
	s.lastRequest[domain] = time.Now().Add(wait)
	s.mu.Unlock()

	if wait <= 0 {
		return nil
	}

	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
