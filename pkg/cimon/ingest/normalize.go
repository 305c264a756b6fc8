package ingest

import (
	"fmt"
	"strings"
	"time"

	"github.com/cognicore/cimon/pkg/cimon/internalerr"
	"github.com/cognicore/cimon/pkg/cimon/signal"
)

const (
	DefaultMaxTitle   = 300
	DefaultMaxSummary = 500
)

// Normalizer turns adapter output into candidate signals.
type Normalizer struct {
	MaxTitle   int
	MaxSummary int
	Now        func() time.Time
}

// NewNormalizer returns a normalizer with the default length bounds.
func NewNormalizer() *Normalizer {
	return &Normalizer{
		MaxTitle:   DefaultMaxTitle,
		MaxSummary: DefaultMaxSummary,
		Now:        time.Now,
	}
}

// Normalize converts a raw item into a signal owned by the competitor.
// Items with neither a title nor a URL carry no identity and are rejected
// with ErrMalformedItem.
func (n *Normalizer) Normalize(raw signal.RawItem, comp signal.Competitor) (signal.Signal, error) {
	now := time.Now()
	if n.Now != nil {
		now = n.Now()
	}
	now = now.UTC()

	title := CollapseSpace(raw.Title)
	url := strings.TrimSpace(raw.URL)
	if title == "" && url == "" {
		return signal.Signal{}, fmt.Errorf("%w: no title or url (source %s)", internalerr.ErrMalformedItem, raw.SourceURL)
	}
	if title == "" {
		title = url
	}

	s := signal.Signal{
		Competitor:  comp.Name,
		Title:       Truncate(title, n.MaxTitle),
		Summary:     Truncate(CollapseSpace(raw.Body), n.MaxSummary),
		URL:         url,
		SourceURL:   strings.TrimSpace(raw.SourceURL),
		Outlet:      CollapseSpace(raw.Outlet),
		SourceType:  raw.SourceType,
		Score:       raw.Score,
		PublishedAt: raw.PublishedAt.UTC(),
		CollectedAt: now,
		Category:    signal.CategoryGeneral,
	}
	if raw.PublishedAt.IsZero() {
		s.PublishedAt = now
		s.PublishedInferred = true
	}
	return s, nil
}

// MentionsCompetitor reports whether the signal's text contains any of the
// competitor's keywords. A competitor without keywords matches everything.
func MentionsCompetitor(s signal.Signal, comp signal.Competitor) bool {
	if len(comp.Keywords) == 0 {
		return true
	}
	text := matchText(s.Title + " " + s.Summary)
	for _, kw := range comp.Keywords {
		phrase := matchText(kw)
		if strings.TrimSpace(phrase) == "" {
			continue
		}
		if strings.Contains(text, phrase) {
			return true
		}
	}
	return false
}
