package config

import (
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/cognicore/cimon/pkg/cimon/report"
	"github.com/cognicore/cimon/pkg/cimon/signal"
)

func TestLoaderLoad(t *testing.T) {
	dir := t.TempDir()
	registry := writeFile(t, dir, "competitors.yaml", `competitors:
  - name: Amazon Redshift
    keywords: [Redshift]
    sources:
      - type: forum
  - sources:
      - type: forum
`)
	rules := writeFile(t, dir, "rules.yaml", "categories:\n  Pricing: [cheaper]\n")
	settings := writeFile(t, dir, "cimon.yaml", "registry:\n  competitors: "+registry+"\n")

	loader := &Loader{SettingsPath: settings, RulesPath: rules}
	comp, err := loader.Load()
	if err != nil {
		t.Fatalf("Failed to load: %v", err)
	}

	if len(comp.Competitors) != 1 || comp.Competitors[0].Name != "Amazon Redshift" {
		t.Errorf("Unexpected competitors: %+v", comp.Competitors)
	}
	if len(comp.Problems) != 1 {
		t.Errorf("Expected 1 problem, got %v", comp.Problems)
	}
	if comp.Settings.Registry.Rules != rules {
		t.Errorf("Rules override not applied: %q", comp.Settings.Registry.Rules)
	}
	if comp.Pipeline == nil {
		t.Fatal("Pipeline not built")
	}
	if got := comp.Pipeline.Classifier().Classify("Redshift is now cheaper", ""); got != signal.CategoryPricing {
		t.Errorf("Expected custom rules to classify as Pricing, got %s", got)
	}
	if got := comp.Pipeline.Classifier().Classify("Redshift acquires startup", ""); got != signal.CategoryGeneral {
		t.Errorf("Categories missing from the rules file should not match, got %s", got)
	}
}

func TestLoaderDefaultRules(t *testing.T) {
	dir := t.TempDir()
	registry := writeFile(t, dir, "competitors.yaml", "competitors:\n  - name: Databricks\n")

	comp, err := (&Loader{SettingsPath: "", CompetitorsPath: registry}).Load()
	if err != nil {
		t.Fatalf("Failed to load: %v", err)
	}
	if len(comp.Rules) == 0 {
		t.Error("Expected built-in rules")
	}
}

func TestLoaderMissingRegistry(t *testing.T) {
	settings := writeFile(t, t.TempDir(), "cimon.yaml", "registry:\n  competitors: /nonexistent/competitors.yaml\n")
	if _, err := (&Loader{SettingsPath: settings}).Load(); err == nil {
		t.Error("Expected error for missing registry")
	}
}

func TestComponentsSourceOptions(t *testing.T) {
	s := DefaultSettings()
	s.NewsAPI.Key = "k"
	s.Forum.RatePerSec = 0
	comp := &Components{Settings: &s}

	opts := comp.SourceOptions(zap.NewNop())
	if opts.NewsAPIKey != "k" || opts.Timeout != 10*time.Second {
		t.Errorf("Unexpected options: %+v", opts)
	}
	if opts.ForumLimiter != nil {
		t.Error("Zero rate should leave the forum unlimited")
	}
	if opts.NewsLimiter == nil || opts.NewsLimiter.Burst() != 1 {
		t.Error("Expected news limiter with burst 1")
	}
}

func TestComponentsReporter(t *testing.T) {
	s := DefaultSettings()
	s.Report.OutboxDir = t.TempDir()
	comp := &Components{Settings: &s}

	svc, err := comp.Reporter(zap.NewNop())
	if err != nil {
		t.Fatalf("Failed to build reporter: %v", err)
	}
	if err := svc.Report(t.Context(), report.SampleDigest(time.Now())); err != nil {
		t.Errorf("Outbox reporter failed: %v", err)
	}

	s.SendGrid.APIKey = "SG.x"
	if _, err := comp.Reporter(zap.NewNop()); err != nil {
		t.Errorf("SendGrid reporter failed: %v", err)
	}
}
