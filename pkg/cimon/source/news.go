package source

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/cognicore/cimon/pkg/cimon/internalerr"
	"github.com/cognicore/cimon/pkg/cimon/signal"
)

// newsAdapter queries the NewsAPI /everything endpoint.
type newsAdapter struct {
	cfg  signal.SourceConfig
	opts Options
	log  *zap.Logger
}

type newsResponse struct {
	Status       string            `json:"status"`
	Code         string            `json:"code"`
	Message      string            `json:"message"`
	TotalResults int               `json:"totalResults"`
	Articles     []json.RawMessage `json:"articles"`
}

type newsArticle struct {
	Source struct {
		Name string `json:"name"`
	} `json:"source"`
	Title       string `json:"title"`
	Description string `json:"description"`
	Content     string `json:"content"`
	URL         string `json:"url"`
	PublishedAt string `json:"publishedAt"`
}

const removedMarker = "[Removed]"

func (a *newsAdapter) Name() string                { return Describe(a.cfg) }
func (a *newsAdapter) Config() signal.SourceConfig { return a.cfg }

func (a *newsAdapter) Collect(ctx context.Context, comp signal.Competitor, lookback time.Duration) ([]signal.RawItem, error) {
	terms := comp.SearchTerms(a.cfg)
	if len(terms) == 0 {
		return nil, fmt.Errorf("%w: no search terms for %s", internalerr.ErrInvalidConfig, comp.Name)
	}
	if err := wait(ctx, a.opts.NewsLimiter); err != nil {
		return nil, err
	}

	now := a.opts.Now()
	q := url.Values{}
	q.Set("q", newsQuery(terms))
	q.Set("language", "en")
	q.Set("sortBy", "publishedAt")
	q.Set("pageSize", strconv.Itoa(a.opts.NewsPageSize))
	if lookback > 0 {
		q.Set("from", now.Add(-lookback).UTC().Format(time.RFC3339))
	}
	endpoint := strings.TrimRight(a.opts.NewsBaseURL, "/") + "/everything?" + q.Encode()

	header := http.Header{}
	header.Set("X-Api-Key", a.opts.NewsAPIKey)
	resp, err := a.opts.get(ctx, endpoint, header)
	if err != nil {
		return nil, err
	}

	var payload newsResponse
	decodeErr := json.Unmarshal(resp.body, &payload)
	if !resp.ok() || payload.Status == "error" {
		return nil, newsError(resp.status, payload.Code, payload.Message)
	}
	if decodeErr != nil {
		return nil, fmt.Errorf("%w: decode news response: %v", internalerr.ErrSourceUnavailable, decodeErr)
	}

	items := make([]signal.RawItem, 0, len(payload.Articles))
	for _, raw := range payload.Articles {
		var art newsArticle
		if err := json.Unmarshal(raw, &art); err != nil {
			a.log.Debug("skipping malformed article", zap.Error(err))
			continue
		}
		if art.Title == removedMarker || (art.URL == "" && art.Title == "") {
			continue
		}

		published := parseNewsTime(art.PublishedAt)
		if !withinWindow(published, now, lookback) {
			continue
		}

		body := art.Description
		if strings.TrimSpace(body) == "" {
			body = art.Content
		}

		items = append(items, signal.RawItem{
			Title:       art.Title,
			Body:        stripHTML(body),
			URL:         art.URL,
			PublishedAt: published,
			SourceType:  signal.SourceNews,
			SourceURL:   a.opts.NewsBaseURL,
			Outlet:      art.Source.Name,
		})
	}

	a.log.Debug("news collected",
		zap.String("competitor", comp.Name),
		zap.Int("total", payload.TotalResults),
		zap.Int("kept", len(items)))
	return items, nil
}

// newsQuery OR-joins terms, quoting multi-word phrases.
func newsQuery(terms []string) string {
	parts := make([]string, 0, len(terms))
	for _, t := range terms {
		t = strings.TrimSpace(t)
		if t == "" {
			continue
		}
		if strings.ContainsAny(t, " \t") {
			t = strconv.Quote(t)
		}
		parts = append(parts, t)
	}
	return strings.Join(parts, " OR ")
}

// newsError maps a NewsAPI error payload onto the failure taxonomy.
func newsError(status int, code, message string) error {
	detail := code
	if message != "" {
		detail = code + ": " + message
	}
	if detail == "" {
		detail = "HTTP " + strconv.Itoa(status)
	}

	switch {
	case status == http.StatusTooManyRequests, code == "rateLimited", code == "maximumResultsReached":
		return fmt.Errorf("%w: newsapi %s", internalerr.ErrQuotaExceeded, detail)
	case strings.HasPrefix(code, "apiKey"):
		return fmt.Errorf("%w: newsapi %s", internalerr.ErrInvalidConfig, detail)
	default:
		return fmt.Errorf("%w: newsapi %s", internalerr.ErrSourceUnavailable, detail)
	}
}

func parseNewsTime(s string) time.Time {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}
	}
	return t.UTC()
}
