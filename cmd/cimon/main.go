// Package main implements the cimon CLI: collect competitor signals, keep
// them in SQLite and send a digest.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	ossignal "os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/cognicore/cimon/internal/logging"
	"github.com/cognicore/cimon/pkg/cimon"
	"github.com/cognicore/cimon/pkg/cimon/config"
	"github.com/cognicore/cimon/pkg/cimon/store/sqlite"
)

var (
	settingsPath    string
	competitorsPath string
	rulesPath       string
	logLevel        string

	version = "dev"
)

func main() {
	ctx, stop := ossignal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "cimon",
	Short: "Competitive intelligence monitor",
	Long: `cimon collects public signals about tracked competitors from feeds,
Hacker News, NewsAPI and press pages, classifies and deduplicates them,
stores them in SQLite and sends a digest of the last day.

Settings come from a YAML file and CIMON_* environment variables, e.g.
CIMON_NEWSAPI_KEY or CIMON_SENDGRID_API_KEY.`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&settingsPath, "config", "c", "configs/cimon.yaml", "settings file")
	rootCmd.PersistentFlags().StringVar(&competitorsPath, "competitors", "", "competitor registry (overrides registry.competitors)")
	rootCmd.PersistentFlags().StringVar(&rulesPath, "rules", "", "classification rules (overrides registry.rules)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level (overrides log.level)")

	rootCmd.AddCommand(runCmd, initCmd, testReportCmd, reclassifyCmd, runsCmd, exportCmd, importCmd)
}

// app is everything a command needs, built from configuration.
type app struct {
	comp    *config.Components
	log     *zap.Logger
	monitor *cimon.Monitor
}

func newApp(ctx context.Context) (*app, error) {
	loader := &config.Loader{
		SettingsPath:    settingsPath,
		CompetitorsPath: competitorsPath,
		RulesPath:       rulesPath,
	}
	comp, err := loader.Load()
	if err != nil {
		return nil, fmt.Errorf("load configuration: %w", err)
	}

	level := comp.Settings.Log.Level
	if logLevel != "" {
		level = logLevel
	}
	log, err := logging.New(logging.Config{Level: level, Format: comp.Settings.Log.Format})
	if err != nil {
		return nil, fmt.Errorf("build logger: %w", err)
	}

	s := comp.Settings
	log.Debug("configuration loaded",
		zap.String("store", s.Store.Path),
		zap.String("registry", s.Registry.Competitors),
		zap.Int("competitors", len(comp.Competitors)),
		logging.Redacted("newsapi_key", s.NewsAPI.Key),
		logging.Redacted("sendgrid_api_key", s.SendGrid.APIKey))

	st, err := sqlite.OpenSQLite(ctx, s.Store.Path)
	if err != nil {
		log.Error("failed to open store", zap.String("path", s.Store.Path), zap.Error(err))
		return nil, err
	}

	reporter, err := comp.Reporter(log)
	if err != nil {
		st.Close()
		log.Error("failed to build reporter", zap.Error(err))
		return nil, err
	}

	targets, failures := cimon.BuildTargets(comp.Competitors, comp.SourceOptions(log))
	failures = append(registryFailures(comp.Problems), failures...)

	m := cimon.New(cimon.Options{
		Store:               st,
		Pipeline:            comp.Pipeline,
		Targets:             targets,
		ConfigFailures:      failures,
		Workers:             s.Run.Workers,
		SourceTimeout:       s.Run.SourceTimeout,
		Lookback:            s.Run.Lookback,
		RequireKeywordMatch: s.Run.RequireKeywordMatch,
		Reporter:            reporter,
		ReportWindow:        s.Report.Window,
		Logger:              log,
	})
	return &app{comp: comp, log: log, monitor: m}, nil
}

func (a *app) close() {
	if err := a.monitor.Close(); err != nil {
		a.log.Warn("failed to close store", zap.Error(err))
	}
	_ = logging.Sync(a.log)
}

func registryFailures(problems []error) []cimon.Failure {
	failures := make([]cimon.Failure, 0, len(problems))
	for _, p := range problems {
		f := cimon.Failure{Stage: cimon.StageConfig, Kind: cimon.KindConfiguration, Err: p}
		var entry *config.EntryError
		if errors.As(p, &entry) {
			f.Competitor = entry.Competitor
		}
		failures = append(failures, f)
	}
	return failures
}
