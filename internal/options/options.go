// Package options maps the versioned, client-facing option shapes onto the
// canonical representation stored with each job record.
package options

import "errors"

var (
	// ErrUnknownVersion is returned for schema versions the registry does not speak.
	ErrUnknownVersion = errors.New("unknown options version")
	// ErrUnknownField is returned when a request carries keys outside the schema.
	ErrUnknownField = errors.New("unknown options field")
	// ErrInvalidValue is returned when a known field fails validation.
	ErrInvalidValue = errors.New("invalid options value")
)

// Version identifies an external option schema.
type Version string

// Known schema versions.
const (
	V1 Version = "v1"
	V2 Version = "v2"
)

// Shape selects which option groups a request may carry.
type Shape string

// Request shapes, one per job family.
const (
	ShapeCrawl       Shape = "crawl"
	ShapeBatchScrape Shape = "batch_scrape"
	ShapeResearch    Shape = "research"
)

// Canonical is the version-independent option set persisted with a job.
// Exactly one of Crawler or Research is set for crawls and research jobs;
// batch scrapes carry only Scrape.
type Canonical struct {
	Crawler  *CrawlerOptions  `json:"crawler,omitempty"`
	Scrape   ScrapeOptions    `json:"scrape"`
	Research *ResearchOptions `json:"research,omitempty"`
}

// CrawlerOptions controls frontier discovery for a crawl.
type CrawlerOptions struct {
	Includes               []string `json:"includes,omitempty"`
	Excludes               []string `json:"excludes,omitempty"`
	MaxDepth               int      `json:"max_depth"`
	MaxDiscoveryDepth      *int     `json:"max_discovery_depth,omitempty"`
	Limit                  int      `json:"limit"`
	AllowBackwardCrawling  bool     `json:"allow_backward_crawling"`
	AllowExternalLinks     bool     `json:"allow_external_links"`
	AllowSubdomains        bool     `json:"allow_subdomains"`
	IgnoreRobotsTxt        bool     `json:"ignore_robots_txt"`
	IgnoreSitemap          bool     `json:"ignore_sitemap"`
	DeduplicateSimilarURLs bool     `json:"deduplicate_similar_urls"`
	IgnoreQueryParameters  bool     `json:"ignore_query_parameters"`
	RegexOnFullURL         bool     `json:"regex_on_full_url"`
	Delay                  *float64 `json:"delay,omitempty"`
	MaxConcurrency         *int     `json:"max_concurrency,omitempty"`
}

// ScrapeOptions controls how each page is fetched and rendered.
type ScrapeOptions struct {
	Formats         []string          `json:"formats,omitempty"`
	OnlyMainContent bool              `json:"only_main_content"`
	IncludeTags     []string          `json:"include_tags,omitempty"`
	ExcludeTags     []string          `json:"exclude_tags,omitempty"`
	WaitFor         int               `json:"wait_for,omitempty"`
	Timeout         int               `json:"timeout,omitempty"`
	Headers         map[string]string `json:"headers,omitempty"`
	Mobile          bool              `json:"mobile,omitempty"`
}

// ResearchOptions bounds a research job.
type ResearchOptions struct {
	MaxDepth  int `json:"max_depth"`
	TimeLimit int `json:"time_limit"`
	MaxURLs   int `json:"max_urls"`
}

// Clone returns a deep copy of c.
func (c Canonical) Clone() Canonical {
	cp := Canonical{Scrape: c.Scrape.clone()}
	if c.Crawler != nil {
		cr := *c.Crawler
		cr.Includes = cloneStrings(c.Crawler.Includes)
		cr.Excludes = cloneStrings(c.Crawler.Excludes)
		if c.Crawler.MaxDiscoveryDepth != nil {
			n := *c.Crawler.MaxDiscoveryDepth
			cr.MaxDiscoveryDepth = &n
		}
		if c.Crawler.Delay != nil {
			d := *c.Crawler.Delay
			cr.Delay = &d
		}
		if c.Crawler.MaxConcurrency != nil {
			n := *c.Crawler.MaxConcurrency
			cr.MaxConcurrency = &n
		}
		cp.Crawler = &cr
	}
	if c.Research != nil {
		r := *c.Research
		cp.Research = &r
	}
	return cp
}

func (s ScrapeOptions) clone() ScrapeOptions {
	cp := s
	cp.Formats = cloneStrings(s.Formats)
	cp.IncludeTags = cloneStrings(s.IncludeTags)
	cp.ExcludeTags = cloneStrings(s.ExcludeTags)
	if s.Headers != nil {
		cp.Headers = make(map[string]string, len(s.Headers))
		for k, v := range s.Headers {
			cp.Headers[k] = v
		}
	}
	return cp
}

func cloneStrings(src []string) []string {
	if len(src) == 0 {
		return nil
	}
	dst := make([]string, len(src))
	copy(dst, src)
	return dst
}
