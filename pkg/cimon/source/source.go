// Package source holds the adapters that translate external protocols into
// raw items. The set of variants is closed: feed, forum, news, press.
package source

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/cognicore/cimon/pkg/cimon/internalerr"
	"github.com/cognicore/cimon/pkg/cimon/signal"
)

const (
	DefaultTimeout          = 10 * time.Second
	DefaultUserAgent        = "cimon/1.0 (+https://github.com/cognicore/cimon)"
	DefaultForumBaseURL     = "https://hn.algolia.com/api/v1"
	DefaultForumHitsPerPage = 20
	DefaultNewsBaseURL      = "https://newsapi.org/v2"
	DefaultNewsPageSize     = 100
	maxPressEntries         = 20
)

// PartialError is returned together with items when a source produced
// results but some of its requests failed.
type PartialError struct {
	Err error
}

func (e *PartialError) Error() string { return "partial collection: " + e.Err.Error() }
func (e *PartialError) Unwrap() error { return e.Err }

// IsPartial reports whether err leaves the collected items usable.
func IsPartial(err error) bool {
	var pe *PartialError
	return errors.As(err, &pe)
}

// Adapter collects raw items for one competitor from one configured source.
type Adapter interface {
	Name() string
	Config() signal.SourceConfig
	Collect(ctx context.Context, comp signal.Competitor, lookback time.Duration) ([]signal.RawItem, error)
}

// Options carries the shared transport settings for every adapter.
type Options struct {
	HTTPClient *http.Client
	Timeout    time.Duration
	UserAgent  string

	ForumBaseURL     string
	ForumHitsPerPage int
	ForumLimiter     *rate.Limiter

	NewsBaseURL  string
	NewsAPIKey   string
	NewsPageSize int
	NewsLimiter  *rate.Limiter

	Now    func() time.Time
	Logger *zap.Logger
}

func (o Options) withDefaults() Options {
	if o.Timeout <= 0 {
		o.Timeout = DefaultTimeout
	}
	if o.HTTPClient == nil {
		o.HTTPClient = &http.Client{Timeout: o.Timeout}
	}
	if o.UserAgent == "" {
		o.UserAgent = DefaultUserAgent
	}
	if o.ForumBaseURL == "" {
		o.ForumBaseURL = DefaultForumBaseURL
	}
	if o.ForumHitsPerPage <= 0 {
		o.ForumHitsPerPage = DefaultForumHitsPerPage
	}
	if o.NewsBaseURL == "" {
		o.NewsBaseURL = DefaultNewsBaseURL
	}
	if o.NewsPageSize <= 0 {
		o.NewsPageSize = DefaultNewsPageSize
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
	return o
}

// New builds the adapter variant for cfg.
func New(cfg signal.SourceConfig, opts Options) (Adapter, error) {
	opts = opts.withDefaults()
	log := opts.Logger.With(zap.String("source", string(cfg.Type)))

	switch cfg.Type {
	case signal.SourceFeed:
		if cfg.URL == "" {
			return nil, fmt.Errorf("%w: feed source without url", internalerr.ErrInvalidConfig)
		}
		return &feedAdapter{cfg: cfg, opts: opts, log: log}, nil
	case signal.SourceForum:
		return &forumAdapter{cfg: cfg, opts: opts, log: log}, nil
	case signal.SourceNews:
		if opts.NewsAPIKey == "" {
			return nil, fmt.Errorf("%w: news source requires an API key", internalerr.ErrInvalidConfig)
		}
		return &newsAdapter{cfg: cfg, opts: opts, log: log}, nil
	case signal.SourcePress:
		if cfg.URL == "" {
			return nil, fmt.Errorf("%w: press source without url", internalerr.ErrInvalidConfig)
		}
		return &pressAdapter{cfg: cfg, opts: opts, log: log}, nil
	default:
		return nil, fmt.Errorf("%w: unknown source type %q", internalerr.ErrInvalidConfig, cfg.Type)
	}
}

// Describe renders a source for logs and failure records.
func Describe(cfg signal.SourceConfig) string {
	switch cfg.Type {
	case signal.SourceForum:
		return "forum:hackernews"
	case signal.SourceNews:
		return "news:newsapi"
	default:
		return string(cfg.Type) + ":" + cfg.URL
	}
}

// withinWindow keeps items published at or after now-lookback. Items without
// a timestamp are kept: a harmless duplicate downstream is cheaper than a
// missed item.
func withinWindow(published, now time.Time, lookback time.Duration) bool {
	if lookback <= 0 || published.IsZero() {
		return true
	}
	return !published.Before(now.Add(-lookback))
}

func wait(ctx context.Context, lim *rate.Limiter) error {
	if lim == nil {
		return nil
	}
	if err := lim.Wait(ctx); err != nil {
		return fmt.Errorf("%w: rate limiter: %v", internalerr.ErrSourceUnavailable, err)
	}
	return nil
}
