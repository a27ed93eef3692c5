package options

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestToCanonical_V1CrawlAppliesDefaults(t *testing.T) {
	t.Parallel()

	got, err := ToCanonical(V1, ShapeCrawl, map[string]any{
		"includePaths":       []any{"/blog/.*"},
		"limit":              25,
		"allowBackwardLinks": true,
		"scrapeOptions": map[string]any{
			"formats": []any{"markdown", "html"},
			"waitFor": 500,
			"headers": map[string]any{"X-Test": "1"},
			"timeout": float64(30000),
		},
	})
	require.NoError(t, err)
	require.NotNil(t, got.Crawler)
	require.Equal(t, []string{"/blog/.*"}, got.Crawler.Includes)
	require.Equal(t, 25, got.Crawler.Limit)
	require.Equal(t, defaultMaxDepth, got.Crawler.MaxDepth)
	require.True(t, got.Crawler.AllowBackwardCrawling)
	require.True(t, got.Crawler.DeduplicateSimilarURLs)
	require.Equal(t, []string{"markdown", "html"}, got.Scrape.Formats)
	require.True(t, got.Scrape.OnlyMainContent)
	require.Equal(t, 500, got.Scrape.WaitFor)
	require.Equal(t, 30000, got.Scrape.Timeout)
	require.Equal(t, map[string]string{"X-Test": "1"}, got.Scrape.Headers)
	require.Nil(t, got.Research)
}

func TestToCanonical_V2SitemapAndEntireDomain(t *testing.T) {
	t.Parallel()

	got, err := ToCanonical(V2, ShapeCrawl, map[string]any{
		"sitemap":           "skip",
		"crawlEntireDomain": true,
		"maxConcurrency":    4,
	})
	require.NoError(t, err)
	require.True(t, got.Crawler.IgnoreSitemap)
	require.True(t, got.Crawler.AllowBackwardCrawling)
	require.Equal(t, 4, *got.Crawler.MaxConcurrency)

	_, err = ToCanonical(V2, ShapeCrawl, map[string]any{"sitemap": "sometimes"})
	require.ErrorIs(t, err, ErrInvalidValue)
}

func TestToCanonical_RejectsUnknownFields(t *testing.T) {
	t.Parallel()

	_, err := ToCanonical(V1, ShapeCrawl, map[string]any{"maxDepht": 3})
	require.ErrorIs(t, err, ErrUnknownField)
	require.Contains(t, err.Error(), "maxDepht")

	// v2 dropped maxDepth in favour of maxDiscoveryDepth.
	_, err = ToCanonical(V2, ShapeCrawl, map[string]any{"maxDepth": 3})
	require.ErrorIs(t, err, ErrUnknownField)

	_, err = ToCanonical(V1, ShapeCrawl, map[string]any{
		"scrapeOptions": map[string]any{"screenshot": true},
	})
	require.ErrorIs(t, err, ErrUnknownField)
	require.Contains(t, err.Error(), "scrapeOptions.screenshot")
}

func TestToCanonical_InvalidValues(t *testing.T) {
	t.Parallel()

	_, err := ToCanonical(V1, ShapeCrawl, map[string]any{"limit": 0})
	require.ErrorIs(t, err, ErrInvalidValue)

	_, err = ToCanonical(V1, ShapeCrawl, map[string]any{"limit": "many"})
	require.ErrorIs(t, err, ErrInvalidValue)

	_, err = ToCanonical(V1, ShapeBatchScrape, map[string]any{"waitFor": -1})
	require.ErrorIs(t, err, ErrInvalidValue)

	_, err = ToCanonical("v7", ShapeCrawl, nil)
	require.ErrorIs(t, err, ErrUnknownVersion)
}

func TestToCanonical_RejectsLossyNumbers(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name  string
		shape Shape
		raw   map[string]any
	}{
		{"fractional limit", ShapeCrawl, map[string]any{"limit": 1.5}},
		{"fractional maxDepth", ShapeCrawl, map[string]any{"maxDepth": 2.9}},
		{"limit overflows int", ShapeCrawl, map[string]any{"limit": 1e30}},
		{"fractional maxDiscoveryDepth", ShapeCrawl, map[string]any{"maxDiscoveryDepth": 0.5}},
		{"fractional waitFor", ShapeBatchScrape, map[string]any{"waitFor": 100.25}},
		{"nested timeout overflows", ShapeCrawl, map[string]any{
			"scrapeOptions": map[string]any{"timeout": -1e300},
		}},
		{"fractional maxUrls", ShapeResearch, map[string]any{"maxUrls": 3.3}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			_, err := ToCanonical(V1, tc.shape, tc.raw)
			require.ErrorIs(t, err, ErrInvalidValue)
			require.NotContains(t, err.Error(), "must be > 0")
		})
	}

	got, err := ToCanonical(V1, ShapeCrawl, map[string]any{"limit": float64(40), "maxDepth": 3.0})
	require.NoError(t, err)
	require.Equal(t, 40, got.Crawler.Limit)
	require.Equal(t, 3, got.Crawler.MaxDepth)
}

func TestToCanonical_BatchScrapeAndResearch(t *testing.T) {
	t.Parallel()

	batch, err := ToCanonical(V1, ShapeBatchScrape, map[string]any{"onlyMainContent": false})
	require.NoError(t, err)
	require.Nil(t, batch.Crawler)
	require.False(t, batch.Scrape.OnlyMainContent)
	require.Equal(t, []string{"markdown"}, batch.Scrape.Formats)

	research, err := ToCanonical(V1, ShapeResearch, map[string]any{"maxUrls": 5})
	require.NoError(t, err)
	require.Equal(t, 5, research.Research.MaxURLs)
	require.Equal(t, defaultResearchMaxDepth, research.Research.MaxDepth)
}

func TestFromCanonical_RendersVersionedShapes(t *testing.T) {
	t.Parallel()

	canonical, err := ToCanonical(V1, ShapeCrawl, map[string]any{
		"ignoreSitemap":      true,
		"allowBackwardLinks": true,
		"maxDepth":           3,
	})
	require.NoError(t, err)

	v1, err := FromCanonical(V1, canonical)
	require.NoError(t, err)
	require.Equal(t, true, v1["allowBackwardLinks"])
	require.Equal(t, true, v1["ignoreSitemap"])
	require.Equal(t, 3, v1["maxDepth"])
	require.Contains(t, v1, "scrapeOptions")

	v2, err := FromCanonical(V2, canonical)
	require.NoError(t, err)
	require.Equal(t, true, v2["crawlEntireDomain"])
	require.Equal(t, "skip", v2["sitemap"])
	require.NotContains(t, v2, "maxDepth")

	_, err = FromCanonical("v0", canonical)
	require.ErrorIs(t, err, ErrUnknownVersion)
}

func TestFromCanonical_RoundTripsThroughV2(t *testing.T) {
	t.Parallel()

	in := map[string]any{
		"includePaths":      []any{"/docs"},
		"limit":             50,
		"crawlEntireDomain": true,
		"sitemap":           "include",
	}
	canonical, err := ToCanonical(V2, ShapeCrawl, in)
	require.NoError(t, err)
	raw, err := FromCanonical(V2, canonical)
	require.NoError(t, err)

	again, err := ToCanonical(V2, ShapeCrawl, raw)
	require.NoError(t, err)
	require.Equal(t, canonical, again)
}

func TestCanonicalCloneIsDeep(t *testing.T) {
	t.Parallel()

	delay := 1.5
	orig := Canonical{
		Crawler: &CrawlerOptions{Includes: []string{"/a"}, Delay: &delay},
		Scrape:  ScrapeOptions{Headers: map[string]string{"k": "v"}},
	}
	cp := orig.Clone()
	cp.Crawler.Includes[0] = "/b"
	*cp.Crawler.Delay = 9
	cp.Scrape.Headers["k"] = "changed"

	require.Equal(t, "/a", orig.Crawler.Includes[0])
	require.InEpsilon(t, 1.5, *orig.Crawler.Delay, 0.0001)
	require.Equal(t, "v", orig.Scrape.Headers["k"])
}
