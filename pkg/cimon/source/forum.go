package source

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/cognicore/cimon/pkg/cimon/internalerr"
	"github.com/cognicore/cimon/pkg/cimon/signal"
)

const hnItemURL = "https://news.ycombinator.com/item?id="

// forumAdapter searches Hacker News stories through the Algolia API.
type forumAdapter struct {
	cfg  signal.SourceConfig
	opts Options
	log  *zap.Logger
}

// hnHit is one Algolia search hit. Nullable fields decode to zero values.
type hnHit struct {
	ObjectID    string `json:"objectID"`
	Title       string `json:"title"`
	URL         string `json:"url"`
	StoryText   string `json:"story_text"`
	Points      int    `json:"points"`
	NumComments int    `json:"num_comments"`
	CreatedAtI  int64  `json:"created_at_i"`
}

func (a *forumAdapter) Name() string                { return Describe(a.cfg) }
func (a *forumAdapter) Config() signal.SourceConfig { return a.cfg }

// Collect runs one search per term. It fails only when every term fails;
// otherwise failed terms come back as a PartialError alongside the items.
// Results are deduplicated by URL.
func (a *forumAdapter) Collect(ctx context.Context, comp signal.Competitor, lookback time.Duration) ([]signal.RawItem, error) {
	terms := comp.SearchTerms(a.cfg)
	if len(terms) == 0 {
		return nil, fmt.Errorf("%w: no search terms for %s", internalerr.ErrInvalidConfig, comp.Name)
	}

	now := a.opts.Now()
	var (
		items []signal.RawItem
		errs  []error
		seen  = make(map[string]struct{})
	)
	for _, term := range terms {
		hits, err := a.search(ctx, term, now, lookback)
		if err != nil {
			a.log.Warn("forum search failed",
				zap.String("competitor", comp.Name),
				zap.String("term", term),
				zap.Error(err))
			errs = append(errs, err)
			continue
		}
		for _, it := range hits {
			if _, dup := seen[it.URL]; dup {
				continue
			}
			seen[it.URL] = struct{}{}
			items = append(items, it)
		}
	}

	switch {
	case len(errs) == len(terms):
		return nil, errors.Join(errs...)
	case len(errs) > 0:
		return items, &PartialError{Err: errors.Join(errs...)}
	}
	return items, nil
}

func (a *forumAdapter) search(ctx context.Context, term string, now time.Time, lookback time.Duration) ([]signal.RawItem, error) {
	if err := wait(ctx, a.opts.ForumLimiter); err != nil {
		return nil, err
	}

	q := url.Values{}
	q.Set("query", term)
	q.Set("tags", "story")
	q.Set("hitsPerPage", strconv.Itoa(a.opts.ForumHitsPerPage))
	if lookback > 0 {
		q.Set("numericFilters", fmt.Sprintf("created_at_i>%d", now.Add(-lookback).Unix()))
	}
	endpoint := strings.TrimRight(a.opts.ForumBaseURL, "/") + "/search?" + q.Encode()

	resp, err := a.opts.get(ctx, endpoint, nil)
	if err != nil {
		return nil, err
	}
	if err := statusError(endpoint, resp.status); err != nil {
		return nil, err
	}

	var payload struct {
		Hits []json.RawMessage `json:"hits"`
	}
	if err := json.Unmarshal(resp.body, &payload); err != nil {
		return nil, fmt.Errorf("%w: decode search response: %v", internalerr.ErrSourceUnavailable, err)
	}

	items := make([]signal.RawItem, 0, len(payload.Hits))
	for _, raw := range payload.Hits {
		var hit hnHit
		if err := json.Unmarshal(raw, &hit); err != nil {
			a.log.Debug("skipping malformed hit", zap.Error(err))
			continue
		}
		item := hit.rawItem()
		if !withinWindow(item.PublishedAt, now, lookback) {
			continue
		}
		items = append(items, item)
	}
	return items, nil
}

func (h hnHit) rawItem() signal.RawItem {
	discussion := ""
	if h.ObjectID != "" {
		discussion = hnItemURL + h.ObjectID
	}
	link := strings.TrimSpace(h.URL)
	if link == "" {
		link = discussion
	}

	body := stripHTML(h.StoryText)
	if body == "" {
		body = fmt.Sprintf("Hacker News discussion with %d points and %d comments", h.Points, h.NumComments)
	}

	var published time.Time
	if h.CreatedAtI > 0 {
		published = time.Unix(h.CreatedAtI, 0).UTC()
	}

	return signal.RawItem{
		Title:       h.Title,
		Body:        body,
		URL:         link,
		PublishedAt: published,
		SourceType:  signal.SourceForum,
		SourceURL:   discussion,
		Outlet:      "Hacker News",
		Score:       h.Points,
	}
}
