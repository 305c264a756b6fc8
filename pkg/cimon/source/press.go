package source

import (
	"bytes"
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"github.com/cognicore/cimon/pkg/cimon/internalerr"
	"github.com/cognicore/cimon/pkg/cimon/signal"
)

// pressAdapter scrapes a press or blog page that offers no feed.
type pressAdapter struct {
	cfg  signal.SourceConfig
	opts Options
	log  *zap.Logger
}

var entryClassHints = []string{"post", "article", "news", "item", "blog"}

func (a *pressAdapter) Name() string                { return Describe(a.cfg) }
func (a *pressAdapter) Config() signal.SourceConfig { return a.cfg }

func (a *pressAdapter) Collect(ctx context.Context, comp signal.Competitor, lookback time.Duration) ([]signal.RawItem, error) {
	resp, err := a.opts.get(ctx, a.cfg.URL, nil)
	if err != nil {
		return nil, err
	}
	if err := statusError(a.cfg.URL, resp.status); err != nil {
		return nil, err
	}

	doc, err := html.Parse(bytes.NewReader(resp.body))
	if err != nil {
		return nil, fmt.Errorf("%w: parse page %s: %v", internalerr.ErrSourceUnavailable, a.cfg.URL, err)
	}

	base, _ := url.Parse(a.cfg.URL)
	outlet := ""
	if base != nil {
		outlet = base.Hostname()
	}

	now := a.opts.Now()
	var items []signal.RawItem
	for _, entry := range pressEntries(doc, maxPressEntries) {
		item, ok := parseEntry(entry, base)
		if !ok {
			continue
		}
		if !withinWindow(item.PublishedAt, now, lookback) {
			continue
		}
		item.SourceURL = a.cfg.URL
		item.Outlet = outlet
		items = append(items, item)
	}

	a.log.Debug("press page scraped",
		zap.String("competitor", comp.Name),
		zap.String("url", a.cfg.URL),
		zap.Int("entries", len(items)))
	return items, nil
}

// pressEntries returns up to limit outermost candidate containers: article
// elements or elements whose class suggests a post.
func pressEntries(doc *html.Node, limit int) []*html.Node {
	var out []*html.Node
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if len(out) >= limit {
			return
		}
		if isEntry(n) {
			out = append(out, n)
			return
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)
	return out
}

func isEntry(n *html.Node) bool {
	if n.Type != html.ElementNode {
		return false
	}
	if n.DataAtom == atom.Article {
		return true
	}
	switch n.DataAtom {
	case atom.Div, atom.Section, atom.Li:
	default:
		return false
	}
	class := strings.ToLower(attr(n, "class"))
	if class == "" {
		return false
	}
	for _, hint := range entryClassHints {
		if strings.Contains(class, hint) {
			return true
		}
	}
	return false
}

func parseEntry(n *html.Node, base *url.URL) (signal.RawItem, bool) {
	heading := find(n, isElement(atom.H1, atom.H2, atom.H3))
	if heading == nil {
		return signal.RawItem{}, false
	}
	title := textContent(heading)
	if title == "" {
		return signal.RawItem{}, false
	}

	anchor := find(heading, isElement(atom.A))
	if anchor == nil {
		anchor = find(n, isElement(atom.A))
	}
	link := ""
	if anchor != nil {
		link = resolveLink(base, attr(anchor, "href"))
	}

	summary := ""
	if p := find(n, isElement(atom.P)); p != nil {
		summary = textContent(p)
	}

	var published time.Time
	if t := find(n, isElement(atom.Time)); t != nil {
		published = parsePageTime(attr(t, "datetime"))
		if published.IsZero() {
			published = parsePageTime(textContent(t))
		}
	}

	return signal.RawItem{
		Title:       title,
		Body:        summary,
		URL:         link,
		PublishedAt: published,
		SourceType:  signal.SourcePress,
	}, true
}

func resolveLink(base *url.URL, href string) string {
	href = strings.TrimSpace(href)
	if href == "" || strings.HasPrefix(href, "#") || strings.HasPrefix(strings.ToLower(href), "javascript:") {
		return ""
	}
	ref, err := url.Parse(href)
	if err != nil {
		return ""
	}
	if base == nil {
		return ref.String()
	}
	return base.ResolveReference(ref).String()
}

var pageTimeLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02",
	"January 2, 2006",
	"Jan 2, 2006",
	"2 January 2006",
}

func parsePageTime(s string) time.Time {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}
	}
	for _, layout := range pageTimeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC()
		}
	}
	return time.Time{}
}
