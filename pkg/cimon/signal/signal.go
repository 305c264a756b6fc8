// Package signal holds the domain model shared by every pipeline stage.
package signal

import (
	"fmt"
	"strings"
	"time"
)

// SourceType identifies the external protocol an item came from.
type SourceType string

const (
	SourceFeed  SourceType = "feed"
	SourceForum SourceType = "forum"
	SourceNews  SourceType = "news"
	SourcePress SourceType = "press"
)

// ParseSourceType accepts the canonical names plus the aliases used by older
// registry files ("rss", "hackernews", "newsapi", "web").
func ParseSourceType(s string) (SourceType, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "feed", "rss", "atom":
		return SourceFeed, nil
	case "forum", "hackernews", "hn":
		return SourceForum, nil
	case "news", "newsapi":
		return SourceNews, nil
	case "press", "web":
		return SourcePress, nil
	default:
		return "", fmt.Errorf("unknown source type %q", s)
	}
}

// Category is the competitive-intelligence label assigned by the classifier.
type Category string

const (
	CategoryAcquisition Category = "Acquisition"
	CategoryPartnership Category = "Partnership"
	CategoryProduct     Category = "Product"
	CategoryPricing     Category = "Pricing"
	CategoryConference  Category = "Conference"
	CategoryGeneral     Category = "General"
)

// CategoryPriority is the evaluation order of the classifier. The first
// category with a matching trigger wins; General is the fallback and is never
// listed here.
var CategoryPriority = []Category{
	CategoryAcquisition,
	CategoryPartnership,
	CategoryPricing,
	CategoryProduct,
	CategoryConference,
}

// ParseCategory resolves a category name case-insensitively.
func ParseCategory(s string) (Category, error) {
	name := strings.TrimSpace(s)
	for _, c := range CategoryPriority {
		if strings.EqualFold(string(c), name) {
			return c, nil
		}
	}
	if strings.EqualFold(string(CategoryGeneral), name) {
		return CategoryGeneral, nil
	}
	return "", fmt.Errorf("unknown category %q", s)
}

// SourceConfig describes one place to collect from for a competitor.
type SourceConfig struct {
	Type  SourceType
	URL   string   // feed URL or press page; unused by search sources
	Terms []string // search terms; empty means the competitor's keywords
}

// Competitor is a tracked entity. Loaded once per run and never mutated.
type Competitor struct {
	Name     string
	Domain   string
	Keywords []string
	Sources  []SourceConfig
}

// SearchTerms returns the configured terms, falling back to keywords.
func (c Competitor) SearchTerms(src SourceConfig) []string {
	if len(src.Terms) > 0 {
		return src.Terms
	}
	return c.Keywords
}

// RawItem is an adapter's protocol-free rendition of one external item.
type RawItem struct {
	Title       string
	Body        string
	URL         string
	PublishedAt time.Time // zero when the source omitted or garbled it
	SourceType  SourceType
	SourceURL   string
	Outlet      string
	Score       int
}

// Signal is a normalized, classified unit of competitive intelligence.
type Signal struct {
	ID                int64
	Competitor        string
	Title             string
	Summary           string
	URL               string
	SourceURL         string
	Outlet            string
	SourceType        SourceType
	Score             int
	PublishedAt       time.Time
	PublishedInferred bool // PublishedAt is the collection time, not the source's
	CollectedAt       time.Time
	Category          Category
	Fingerprint       string
}

// SeenFingerprint is an entry of the durable dedup set.
type SeenFingerprint struct {
	Fingerprint string
	FirstSeen   time.Time
}
