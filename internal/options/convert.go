package options

import (
	"fmt"
	"math"
	"reflect"
	"sort"
	"strings"

	"github.com/go-viper/mapstructure/v2"
)

const (
	defaultLimit             = 10000
	defaultMaxDepth          = 10
	defaultResearchMaxDepth  = 7
	defaultResearchTimeLimit = 270
	defaultResearchMaxURLs   = 20

	sitemapInclude = "include"
	sitemapSkip    = "skip"
)

type scrapeShape struct {
	Formats         []string          `mapstructure:"formats"`
	OnlyMainContent *bool             `mapstructure:"onlyMainContent"`
	IncludeTags     []string          `mapstructure:"includeTags"`
	ExcludeTags     []string          `mapstructure:"excludeTags"`
	WaitFor         *int              `mapstructure:"waitFor"`
	Timeout         *int              `mapstructure:"timeout"`
	Headers         map[string]string `mapstructure:"headers"`
	Mobile          *bool             `mapstructure:"mobile"`
}

type crawlV1 struct {
	IncludePaths           []string     `mapstructure:"includePaths"`
	ExcludePaths           []string     `mapstructure:"excludePaths"`
	MaxDepth               *int         `mapstructure:"maxDepth"`
	MaxDiscoveryDepth      *int         `mapstructure:"maxDiscoveryDepth"`
	Limit                  *int         `mapstructure:"limit"`
	AllowBackwardLinks     *bool        `mapstructure:"allowBackwardLinks"`
	AllowExternalLinks     *bool        `mapstructure:"allowExternalLinks"`
	AllowSubdomains        *bool        `mapstructure:"allowSubdomains"`
	IgnoreRobotsTxt        *bool        `mapstructure:"ignoreRobotsTxt"`
	IgnoreSitemap          *bool        `mapstructure:"ignoreSitemap"`
	DeduplicateSimilarURLs *bool        `mapstructure:"deduplicateSimilarURLs"`
	IgnoreQueryParameters  *bool        `mapstructure:"ignoreQueryParameters"`
	RegexOnFullURL         *bool        `mapstructure:"regexOnFullURL"`
	Delay                  *float64     `mapstructure:"delay"`
	ScrapeOptions          *scrapeShape `mapstructure:"scrapeOptions"`
}

type crawlV2 struct {
	IncludePaths           []string     `mapstructure:"includePaths"`
	ExcludePaths           []string     `mapstructure:"excludePaths"`
	MaxDiscoveryDepth      *int         `mapstructure:"maxDiscoveryDepth"`
	Limit                  *int         `mapstructure:"limit"`
	CrawlEntireDomain      *bool        `mapstructure:"crawlEntireDomain"`
	AllowExternalLinks     *bool        `mapstructure:"allowExternalLinks"`
	AllowSubdomains        *bool        `mapstructure:"allowSubdomains"`
	IgnoreRobotsTxt        *bool        `mapstructure:"ignoreRobotsTxt"`
	Sitemap                *string      `mapstructure:"sitemap"`
	DeduplicateSimilarURLs *bool        `mapstructure:"deduplicateSimilarURLs"`
	IgnoreQueryParameters  *bool        `mapstructure:"ignoreQueryParameters"`
	RegexOnFullURL         *bool        `mapstructure:"regexOnFullURL"`
	Delay                  *float64     `mapstructure:"delay"`
	MaxConcurrency         *int         `mapstructure:"maxConcurrency"`
	ScrapeOptions          *scrapeShape `mapstructure:"scrapeOptions"`
}

type researchShape struct {
	MaxDepth  *int `mapstructure:"maxDepth"`
	TimeLimit *int `mapstructure:"timeLimit"`
	MaxURLs   *int `mapstructure:"maxUrls"`
}

// ToCanonical converts a versioned request body (already stripped of the
// url/urls/query keys) into the canonical representation. Keys outside the
// version's schema are rejected with ErrUnknownField.
func ToCanonical(version Version, shape Shape, raw map[string]any) (Canonical, error) {
	if version != V1 && version != V2 {
		return Canonical{}, fmt.Errorf("%w: %q", ErrUnknownVersion, version)
	}
	switch shape {
	case ShapeCrawl:
		if version == V1 {
			return crawlV1ToCanonical(raw)
		}
		return crawlV2ToCanonical(raw)
	case ShapeBatchScrape:
		var in scrapeShape
		if err := decode(raw, &in); err != nil {
			return Canonical{}, err
		}
		scrape, err := scrapeToCanonical(&in)
		if err != nil {
			return Canonical{}, err
		}
		return Canonical{Scrape: scrape}, nil
	case ShapeResearch:
		return researchToCanonical(raw)
	default:
		return Canonical{}, fmt.Errorf("%w: unknown shape %q", ErrInvalidValue, shape)
	}
}

// FromCanonical renders c in the given version's client-facing shape. Crawler
// fields are flattened at the top level with scrape options nested under
// "scrapeOptions".
func FromCanonical(version Version, c Canonical) (map[string]any, error) {
	out := make(map[string]any)
	switch version {
	case V1:
		if c.Crawler != nil {
			crawlerToV1(c.Crawler, out)
		}
	case V2:
		if c.Crawler != nil {
			crawlerToV2(c.Crawler, out)
		}
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownVersion, version)
	}
	if c.Research != nil {
		out["maxDepth"] = c.Research.MaxDepth
		out["timeLimit"] = c.Research.TimeLimit
		out["maxUrls"] = c.Research.MaxURLs
		return out, nil
	}
	out["scrapeOptions"] = scrapeToRaw(c.Scrape)
	return out, nil
}

func crawlV1ToCanonical(raw map[string]any) (Canonical, error) {
	var in crawlV1
	if err := decode(raw, &in); err != nil {
		return Canonical{}, err
	}
	cr := &CrawlerOptions{
		Includes:               cloneStrings(in.IncludePaths),
		Excludes:               cloneStrings(in.ExcludePaths),
		MaxDepth:               intOr(in.MaxDepth, defaultMaxDepth),
		MaxDiscoveryDepth:      in.MaxDiscoveryDepth,
		Limit:                  intOr(in.Limit, defaultLimit),
		AllowBackwardCrawling:  boolOr(in.AllowBackwardLinks, false),
		AllowExternalLinks:     boolOr(in.AllowExternalLinks, false),
		AllowSubdomains:        boolOr(in.AllowSubdomains, false),
		IgnoreRobotsTxt:        boolOr(in.IgnoreRobotsTxt, false),
		IgnoreSitemap:          boolOr(in.IgnoreSitemap, false),
		DeduplicateSimilarURLs: boolOr(in.DeduplicateSimilarURLs, true),
		IgnoreQueryParameters:  boolOr(in.IgnoreQueryParameters, false),
		RegexOnFullURL:         boolOr(in.RegexOnFullURL, false),
		Delay:                  in.Delay,
	}
	if err := validateCrawler(cr); err != nil {
		return Canonical{}, err
	}
	scrape, err := scrapeToCanonical(in.ScrapeOptions)
	if err != nil {
		return Canonical{}, err
	}
	return Canonical{Crawler: cr, Scrape: scrape}, nil
}

func crawlV2ToCanonical(raw map[string]any) (Canonical, error) {
	var in crawlV2
	if err := decode(raw, &in); err != nil {
		return Canonical{}, err
	}
	ignoreSitemap := false
	if in.Sitemap != nil {
		switch *in.Sitemap {
		case sitemapInclude:
		case sitemapSkip:
			ignoreSitemap = true
		default:
			return Canonical{}, fmt.Errorf("%w: sitemap must be %q or %q", ErrInvalidValue, sitemapInclude, sitemapSkip)
		}
	}
	cr := &CrawlerOptions{
		Includes:               cloneStrings(in.IncludePaths),
		Excludes:               cloneStrings(in.ExcludePaths),
		MaxDepth:               defaultMaxDepth,
		MaxDiscoveryDepth:      in.MaxDiscoveryDepth,
		Limit:                  intOr(in.Limit, defaultLimit),
		AllowBackwardCrawling:  boolOr(in.CrawlEntireDomain, false),
		AllowExternalLinks:     boolOr(in.AllowExternalLinks, false),
		AllowSubdomains:        boolOr(in.AllowSubdomains, false),
		IgnoreRobotsTxt:        boolOr(in.IgnoreRobotsTxt, false),
		IgnoreSitemap:          ignoreSitemap,
		DeduplicateSimilarURLs: boolOr(in.DeduplicateSimilarURLs, true),
		IgnoreQueryParameters:  boolOr(in.IgnoreQueryParameters, false),
		RegexOnFullURL:         boolOr(in.RegexOnFullURL, false),
		Delay:                  in.Delay,
		MaxConcurrency:         in.MaxConcurrency,
	}
	if err := validateCrawler(cr); err != nil {
		return Canonical{}, err
	}
	scrape, err := scrapeToCanonical(in.ScrapeOptions)
	if err != nil {
		return Canonical{}, err
	}
	return Canonical{Crawler: cr, Scrape: scrape}, nil
}

func researchToCanonical(raw map[string]any) (Canonical, error) {
	var in researchShape
	if err := decode(raw, &in); err != nil {
		return Canonical{}, err
	}
	r := &ResearchOptions{
		MaxDepth:  intOr(in.MaxDepth, defaultResearchMaxDepth),
		TimeLimit: intOr(in.TimeLimit, defaultResearchTimeLimit),
		MaxURLs:   intOr(in.MaxURLs, defaultResearchMaxURLs),
	}
	if r.MaxDepth <= 0 || r.TimeLimit <= 0 || r.MaxURLs <= 0 {
		return Canonical{}, fmt.Errorf("%w: research limits must be > 0", ErrInvalidValue)
	}
	return Canonical{Research: r}, nil
}

func scrapeToCanonical(in *scrapeShape) (ScrapeOptions, error) {
	if in == nil {
		return ScrapeOptions{Formats: []string{"markdown"}, OnlyMainContent: true}, nil
	}
	out := ScrapeOptions{
		Formats:         cloneStrings(in.Formats),
		OnlyMainContent: boolOr(in.OnlyMainContent, true),
		IncludeTags:     cloneStrings(in.IncludeTags),
		ExcludeTags:     cloneStrings(in.ExcludeTags),
		WaitFor:         intOr(in.WaitFor, 0),
		Timeout:         intOr(in.Timeout, 0),
		Mobile:          boolOr(in.Mobile, false),
	}
	if len(out.Formats) == 0 {
		out.Formats = []string{"markdown"}
	}
	if len(in.Headers) > 0 {
		out.Headers = make(map[string]string, len(in.Headers))
		for k, v := range in.Headers {
			out.Headers[k] = v
		}
	}
	if out.WaitFor < 0 || out.Timeout < 0 {
		return ScrapeOptions{}, fmt.Errorf("%w: waitFor and timeout must be >= 0", ErrInvalidValue)
	}
	return out, nil
}

func validateCrawler(cr *CrawlerOptions) error {
	switch {
	case cr.Limit <= 0:
		return fmt.Errorf("%w: limit must be > 0", ErrInvalidValue)
	case cr.MaxDepth < 0:
		return fmt.Errorf("%w: maxDepth must be >= 0", ErrInvalidValue)
	case cr.MaxDiscoveryDepth != nil && *cr.MaxDiscoveryDepth < 0:
		return fmt.Errorf("%w: maxDiscoveryDepth must be >= 0", ErrInvalidValue)
	case cr.Delay != nil && *cr.Delay < 0:
		return fmt.Errorf("%w: delay must be >= 0", ErrInvalidValue)
	case cr.MaxConcurrency != nil && *cr.MaxConcurrency <= 0:
		return fmt.Errorf("%w: maxConcurrency must be > 0", ErrInvalidValue)
	}
	return nil
}

func crawlerToV1(cr *CrawlerOptions, out map[string]any) {
	out["includePaths"] = nonNil(cr.Includes)
	out["excludePaths"] = nonNil(cr.Excludes)
	out["maxDepth"] = cr.MaxDepth
	if cr.MaxDiscoveryDepth != nil {
		out["maxDiscoveryDepth"] = *cr.MaxDiscoveryDepth
	}
	out["limit"] = cr.Limit
	out["allowBackwardLinks"] = cr.AllowBackwardCrawling
	out["allowExternalLinks"] = cr.AllowExternalLinks
	out["allowSubdomains"] = cr.AllowSubdomains
	out["ignoreRobotsTxt"] = cr.IgnoreRobotsTxt
	out["ignoreSitemap"] = cr.IgnoreSitemap
	out["deduplicateSimilarURLs"] = cr.DeduplicateSimilarURLs
	out["ignoreQueryParameters"] = cr.IgnoreQueryParameters
	out["regexOnFullURL"] = cr.RegexOnFullURL
	if cr.Delay != nil {
		out["delay"] = *cr.Delay
	}
}

func crawlerToV2(cr *CrawlerOptions, out map[string]any) {
	out["includePaths"] = nonNil(cr.Includes)
	out["excludePaths"] = nonNil(cr.Excludes)
	if cr.MaxDiscoveryDepth != nil {
		out["maxDiscoveryDepth"] = *cr.MaxDiscoveryDepth
	}
	out["limit"] = cr.Limit
	out["crawlEntireDomain"] = cr.AllowBackwardCrawling
	out["allowExternalLinks"] = cr.AllowExternalLinks
	out["allowSubdomains"] = cr.AllowSubdomains
	out["ignoreRobotsTxt"] = cr.IgnoreRobotsTxt
	if cr.IgnoreSitemap {
		out["sitemap"] = sitemapSkip
	} else {
		out["sitemap"] = sitemapInclude
	}
	out["deduplicateSimilarURLs"] = cr.DeduplicateSimilarURLs
	out["ignoreQueryParameters"] = cr.IgnoreQueryParameters
	out["regexOnFullURL"] = cr.RegexOnFullURL
	if cr.Delay != nil {
		out["delay"] = *cr.Delay
	}
	if cr.MaxConcurrency != nil {
		out["maxConcurrency"] = *cr.MaxConcurrency
	}
}

func scrapeToRaw(s ScrapeOptions) map[string]any {
	out := map[string]any{
		"formats":         nonNil(s.Formats),
		"onlyMainContent": s.OnlyMainContent,
	}
	if len(s.IncludeTags) > 0 {
		out["includeTags"] = s.IncludeTags
	}
	if len(s.ExcludeTags) > 0 {
		out["excludeTags"] = s.ExcludeTags
	}
	if s.WaitFor > 0 {
		out["waitFor"] = s.WaitFor
	}
	if s.Timeout > 0 {
		out["timeout"] = s.Timeout
	}
	if len(s.Headers) > 0 {
		out["headers"] = s.Headers
	}
	if s.Mobile {
		out["mobile"] = true
	}
	return out
}

func decode(raw map[string]any, out any) error {
	var md mapstructure.Metadata
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		DecodeHook: wholeNumberHook,
		Metadata:   &md,
		Result:     out,
		TagName:    "mapstructure",
	})
	if err != nil {
		return fmt.Errorf("build options decoder: %w", err)
	}
	if err := dec.Decode(raw); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidValue, err)
	}
	if len(md.Unused) > 0 {
		sort.Strings(md.Unused)
		return fmt.Errorf("%w: %s", ErrUnknownField, strings.Join(md.Unused, ", "))
	}
	return nil
}

// wholeNumberHook rejects JSON numbers that would lose precision when stored
// in an integer field: fractions, NaN, infinities and out-of-range values.
func wholeNumberHook(from, to reflect.Type, data any) (any, error) {
	if from.Kind() != reflect.Float64 && from.Kind() != reflect.Float32 {
		return data, nil
	}
	for to.Kind() == reflect.Pointer {
		to = to.Elem()
	}
	switch to.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
	default:
		return data, nil
	}
	f := reflect.ValueOf(data).Float()
	if math.IsNaN(f) || math.IsInf(f, 0) || math.Trunc(f) != f {
		return nil, fmt.Errorf("%v is not a whole number", f)
	}
	if f < math.MinInt64 || f >= math.MaxInt64 || reflect.Zero(to).OverflowInt(int64(f)) {
		return nil, fmt.Errorf("%v is out of range", f)
	}
	return int64(f), nil
}

func intOr(v *int, def int) int {
	if v == nil {
		return def
	}
	return *v
}

func boolOr(v *bool, def bool) bool {
	if v == nil {
		return def
	}
	return *v
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
