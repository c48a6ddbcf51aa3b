package search

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/ternarybob/reperio/internal/interfaces"
	"github.com/ternarybob/reperio/internal/models"
)

func TestFilterHitsDeduplicates(t *testing.T) {
	hits := []models.SearchHit{
		{URL: "https://a.example.org", Domain: "a.example.org"},
		{URL: "https://a.example.org", Domain: "a.example.org"},
		{URL: "https://b.example.org", Domain: "b.example.org"},
	}

	out := filterHits(hits, &interfaces.SearchRequest{})
	assert.Len(t, out, 2)
}

func TestFilterHitsExcludesBlockedDomains(t *testing.T) {
	hits := []models.SearchHit{
		{URL: "https://facebook.com/page", Domain: "facebook.com"},
		{URL: "https://m.facebook.com/page", Domain: "m.facebook.com"},
		{URL: "https://arts.example.org/grant", Domain: "arts.example.org"},
	}

	out := filterHits(hits, &interfaces.SearchRequest{ExcludeDomains: []string{"facebook.com"}})
	assert.Len(t, out, 1)
	assert.Equal(t, "https://arts.example.org/grant", out[0].URL)
}

func TestFilterHitsTrustedDomainsOnly(t *testing.T) {
	hits := []models.SearchHit{
		{URL: "https://arts.example.org/grant", Domain: "arts.example.org"},
		{URL: "https://random.example.net", Domain: "random.example.net"},
	}

	out := filterHits(hits, &interfaces.SearchRequest{FilterDomains: []string{"example.org"}})
	assert.Len(t, out, 1)
	assert.Equal(t, "arts.example.org", out[0].Domain)
}

func TestDomainOf(t *testing.T) {
	assert.Equal(t, "arts.example.org", domainOf("https://arts.example.org/grants?x=1"))
	assert.Equal(t, "example.org", domainOf("https://www.example.org/"))
	assert.Equal(t, "", domainOf("://bad"))
}

func TestDomainListed(t *testing.T) {
	list := []string{"Facebook.com"}
	assert.True(t, domainListed("facebook.com", list))
	assert.True(t, domainListed("m.facebook.com", list))
	assert.False(t, domainListed("notfacebook.com", list))
	assert.False(t, domainListed("facebook.com.evil.net", list))
}
