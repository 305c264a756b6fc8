package config

import (
	"fmt"
	"math"
	"net/http"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/cognicore/cimon/pkg/cimon/ingest"
	"github.com/cognicore/cimon/pkg/cimon/report"
	"github.com/cognicore/cimon/pkg/cimon/signal"
	"github.com/cognicore/cimon/pkg/cimon/source"
)

// Loader loads all configuration files and constructs components
type Loader struct {
	SettingsPath string

	// Optional overrides of the paths named in the settings file
	CompetitorsPath string
	RulesPath       string
}

// Components holds all loaded configuration components
type Components struct {
	Settings    *Settings
	Competitors []signal.Competitor
	// Problems lists registry entries that were skipped.
	Problems []error
	Rules    ingest.Rules
	Pipeline *ingest.Pipeline
}

// Load reads all configuration files and returns initialized components
func (l *Loader) Load() (*Components, error) {
	settings, err := LoadSettings(l.SettingsPath)
	if err != nil {
		return nil, err
	}
	if l.CompetitorsPath != "" {
		settings.Registry.Competitors = l.CompetitorsPath
	}
	if l.RulesPath != "" {
		settings.Registry.Rules = l.RulesPath
	}

	comp := &Components{Settings: settings}

	comps, problems, err := LoadRegistry(settings.Registry.Competitors)
	if err != nil {
		return nil, fmt.Errorf("load registry: %w", err)
	}
	comp.Competitors = comps
	comp.Problems = problems

	if settings.Registry.Rules != "" {
		rules, err := LoadRules(settings.Registry.Rules)
		if err != nil {
			return nil, fmt.Errorf("load rules: %w", err)
		}
		comp.Rules = rules
	} else {
		comp.Rules = ingest.DefaultRules()
	}

	comp.Pipeline = ingest.NewPipeline(ingest.NewNormalizer(), ingest.NewClassifier(comp.Rules))
	return comp, nil
}

// SourceOptions builds the shared adapter options. Each keyed API gets its
// own limiter so every source of that type shares one budget.
func (c *Components) SourceOptions(log *zap.Logger) source.Options {
	s := c.Settings
	return source.Options{
		HTTPClient:       &http.Client{Timeout: s.Run.HTTPTimeout},
		Timeout:          s.Run.HTTPTimeout,
		UserAgent:        s.Run.UserAgent,
		ForumBaseURL:     s.Forum.BaseURL,
		ForumHitsPerPage: s.Forum.HitsPerPage,
		ForumLimiter:     limiter(s.Forum.RatePerSec, s.Forum.Burst),
		NewsBaseURL:      s.NewsAPI.BaseURL,
		NewsAPIKey:       s.NewsAPI.Key,
		NewsPageSize:     s.NewsAPI.PageSize,
		NewsLimiter:      limiter(s.NewsAPI.RatePerSec, s.NewsAPI.Burst),
		Logger:           log,
	}
}

// Reporter builds the digest service: SendGrid when a key is configured,
// otherwise an outbox directory.
func (c *Components) Reporter(log *zap.Logger) (*report.Service, error) {
	s := c.Settings
	var mailer report.Mailer
	if s.SendGrid.APIKey != "" {
		m, err := report.NewSendGridMailer(s.SendGrid.APIKey, s.SendGrid.Host)
		if err != nil {
			return nil, err
		}
		mailer = m
	} else {
		mailer = &report.DirMailer{Dir: s.Report.OutboxDir}
		log.Info("no sendgrid key configured, writing digests to outbox",
			zap.String("dir", s.Report.OutboxDir))
	}
	return report.NewService(report.ServiceConfig{
		Mailer:    mailer,
		FromName:  s.Report.FromName,
		FromEmail: s.Report.FromEmail,
		To:        s.Report.To,
		Logger:    log,
	}), nil
}

// limiter returns nil (unlimited) when rate is zero.
func limiter(perSec float64, burst int) *rate.Limiter {
	if perSec <= 0 {
		return nil
	}
	if burst <= 0 {
		burst = int(math.Max(1, math.Ceil(perSec)))
	}
	return rate.NewLimiter(rate.Limit(perSec), burst)
}
