package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"

	"github.com/cognicore/cimon/pkg/cimon/internalerr"
)

// EnvPrefix prefixes every environment override, e.g. CIMON_NEWSAPI_KEY.
const EnvPrefix = "CIMON_"

// Settings holds the runtime settings of the monitor.
type Settings struct {
	Store    StoreSettings    `koanf:"store"`
	Registry RegistrySettings `koanf:"registry"`
	Run      RunSettings      `koanf:"run"`
	Forum    ForumSettings    `koanf:"forum"`
	NewsAPI  NewsAPISettings  `koanf:"newsapi"`
	Report   ReportSettings   `koanf:"report"`
	SendGrid SendGridSettings `koanf:"sendgrid"`
	Log      LogSettings      `koanf:"log"`
	Metrics  MetricsSettings  `koanf:"metrics"`
}

type StoreSettings struct {
	Path string `koanf:"path"`
}

// RegistrySettings points at the competitor registry and the optional rules
// file. An empty rules path keeps the built-in trigger table.
type RegistrySettings struct {
	Competitors string `koanf:"competitors"`
	Rules       string `koanf:"rules"`
}

type RunSettings struct {
	Lookback            time.Duration `koanf:"lookback"`
	Workers             int           `koanf:"workers"`
	SourceTimeout       time.Duration `koanf:"source_timeout"`
	RequireKeywordMatch bool          `koanf:"require_keyword_match"`
	HTTPTimeout         time.Duration `koanf:"http_timeout"`
	UserAgent           string        `koanf:"user_agent"`
}

type ForumSettings struct {
	BaseURL     string  `koanf:"base_url"`
	HitsPerPage int     `koanf:"hits_per_page"`
	RatePerSec  float64 `koanf:"rate_per_sec"`
	Burst       int     `koanf:"burst"`
}

type NewsAPISettings struct {
	Key        string  `koanf:"key"`
	BaseURL    string  `koanf:"base_url"`
	PageSize   int     `koanf:"page_size"`
	RatePerSec float64 `koanf:"rate_per_sec"`
	Burst      int     `koanf:"burst"`
}

// ReportSettings configures the digest. Without a SendGrid key digests are
// written to OutboxDir.
type ReportSettings struct {
	Window    time.Duration `koanf:"window"`
	To        []string      `koanf:"to"`
	FromEmail string        `koanf:"from_email"`
	FromName  string        `koanf:"from_name"`
	OutboxDir string        `koanf:"outbox_dir"`
}

type SendGridSettings struct {
	APIKey string `koanf:"api_key"`
	Host   string `koanf:"host"`
}

type LogSettings struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}

// MetricsSettings enables the Prometheus textfile export when Textfile is set.
type MetricsSettings struct {
	Textfile string `koanf:"textfile"`
}

// DefaultSettings returns the settings used when nothing is configured.
func DefaultSettings() Settings {
	return Settings{
		Store:    StoreSettings{Path: "data/intelligence.db"},
		Registry: RegistrySettings{Competitors: "configs/competitors.yaml"},
		Run: RunSettings{
			Lookback:            24 * time.Hour,
			SourceTimeout:       30 * time.Second,
			RequireKeywordMatch: true,
			HTTPTimeout:         10 * time.Second,
			UserAgent:           "cimon/1.0 (+competitive-intelligence)",
		},
		Forum: ForumSettings{
			BaseURL:     "https://hn.algolia.com/api/v1",
			HitsPerPage: 20,
			RatePerSec:  2,
			Burst:       2,
		},
		NewsAPI: NewsAPISettings{
			BaseURL:    "https://newsapi.org/v2",
			PageSize:   100,
			RatePerSec: 1,
			Burst:      1,
		},
		Report: ReportSettings{
			Window:    24 * time.Hour,
			FromName:  "Competitive Intelligence Monitor",
			OutboxDir: "data/outbox",
		},
		Log: LogSettings{Level: "info", Format: "json"},
	}
}

// LoadSettings reads settings from an optional YAML file, then applies
// CIMON_* environment overrides. A missing file is not an error.
func LoadSettings(path string) (*Settings, error) {
	k := koanf.New(".")

	if path != "" {
		content, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := k.Load(rawbytes.Provider(content), yaml.Parser()); err != nil {
				return nil, fmt.Errorf("%w: load settings %s: %v", internalerr.ErrInvalidConfig, path, err)
			}
		case errors.Is(err, os.ErrNotExist):
		default:
			return nil, fmt.Errorf("read settings %s: %w", path, err)
		}
	}

	// CIMON_RUN_SOURCE_TIMEOUT -> run.source_timeout: the first underscore
	// after the prefix separates section from field.
	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return nil, fmt.Errorf("load environment: %w", err)
	}

	cfg := DefaultSettings()
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("%w: decode settings: %v", internalerr.ErrInvalidConfig, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func envKey(s string) string {
	lower := strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
	parts := strings.SplitN(lower, "_", 2)
	if len(parts) == 1 {
		return lower
	}
	return parts[0] + "." + parts[1]
}

// Validate checks the settings for values the monitor cannot run with.
func (s *Settings) Validate() error {
	var errs []error
	if s.Store.Path == "" {
		errs = append(errs, errors.New("store.path is required"))
	}
	if s.Registry.Competitors == "" {
		errs = append(errs, errors.New("registry.competitors is required"))
	}
	if s.Run.Lookback <= 0 {
		errs = append(errs, errors.New("run.lookback must be positive"))
	}
	if s.Run.Workers < 0 {
		errs = append(errs, errors.New("run.workers must not be negative"))
	}
	if s.Report.Window <= 0 {
		errs = append(errs, errors.New("report.window must be positive"))
	}
	if s.Forum.RatePerSec < 0 || s.NewsAPI.RatePerSec < 0 {
		errs = append(errs, errors.New("rate_per_sec must not be negative"))
	}
	switch strings.ToLower(s.Log.Format) {
	case "", "json", "console":
	default:
		errs = append(errs, fmt.Errorf("log.format %q is not json or console", s.Log.Format))
	}
	if s.SendGrid.APIKey != "" {
		if len(s.Report.To) == 0 {
			errs = append(errs, errors.New("report.to is required when sendgrid.api_key is set"))
		}
		if s.Report.FromEmail == "" {
			errs = append(errs, errors.New("report.from_email is required when sendgrid.api_key is set"))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", internalerr.ErrInvalidConfig, errors.Join(errs...))
	}
	return nil
}
