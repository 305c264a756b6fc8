package source

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/mmcdole/gofeed"
	"go.uber.org/zap"

	"github.com/cognicore/cimon/pkg/cimon/internalerr"
	"github.com/cognicore/cimon/pkg/cimon/signal"
)

// feedAdapter reads an RSS or Atom feed.
type feedAdapter struct {
	cfg  signal.SourceConfig
	opts Options
	log  *zap.Logger
}

func (a *feedAdapter) Name() string                { return Describe(a.cfg) }
func (a *feedAdapter) Config() signal.SourceConfig { return a.cfg }

func (a *feedAdapter) Collect(ctx context.Context, comp signal.Competitor, lookback time.Duration) ([]signal.RawItem, error) {
	resp, err := a.opts.get(ctx, a.cfg.URL, nil)
	if err != nil {
		return nil, err
	}
	if err := statusError(a.cfg.URL, resp.status); err != nil {
		return nil, err
	}

	feed, err := gofeed.NewParser().Parse(bytes.NewReader(resp.body))
	if err != nil {
		return nil, fmt.Errorf("%w: parse feed %s: %v", internalerr.ErrSourceUnavailable, a.cfg.URL, err)
	}

	now := a.opts.Now()
	outlet := strings.TrimSpace(feed.Title)
	items := make([]signal.RawItem, 0, len(feed.Items))
	for _, it := range feed.Items {
		if it == nil {
			continue
		}
		published := feedTime(it)
		if !withinWindow(published, now, lookback) {
			continue
		}

		body := it.Description
		if strings.TrimSpace(body) == "" {
			body = it.Content
		}

		items = append(items, signal.RawItem{
			Title:       stripHTML(it.Title),
			Body:        stripHTML(body),
			URL:         feedLink(it),
			PublishedAt: published,
			SourceType:  signal.SourceFeed,
			SourceURL:   a.cfg.URL,
			Outlet:      outlet,
		})
	}

	a.log.Debug("feed collected",
		zap.String("competitor", comp.Name),
		zap.String("url", a.cfg.URL),
		zap.Int("entries", len(feed.Items)),
		zap.Int("in_window", len(items)))
	return items, nil
}

func feedTime(it *gofeed.Item) time.Time {
	if it.PublishedParsed != nil {
		return it.PublishedParsed.UTC()
	}
	if it.UpdatedParsed != nil {
		return it.UpdatedParsed.UTC()
	}
	return time.Time{}
}

func feedLink(it *gofeed.Item) string {
	if link := strings.TrimSpace(it.Link); link != "" {
		return link
	}
	for _, l := range it.Links {
		if l = strings.TrimSpace(l); l != "" {
			return l
		}
	}
	return ""
}
