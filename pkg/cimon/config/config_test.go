package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/cognicore/cimon/pkg/cimon/internalerr"
	"github.com/cognicore/cimon/pkg/cimon/signal"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadRegistry(t *testing.T) {
	path := writeFile(t, t.TempDir(), "competitors.yaml", `competitors:
  - name: Databricks
    domain: databricks.com
    keywords: [Databricks, " Delta Lake ", ""]
    rss_feeds:
      - https://www.databricks.com/feed
    sources:
      - type: hackernews
        terms: [databricks]
      - type: newsapi
      - type: press
        url: https://www.databricks.com/company/newsroom
  - name: Google BigQuery
    keywords: [BigQuery]
    sources:
      - type: rss
        url: https://cloud.google.com/feeds/bigquery-release-notes.xml
`)

	comps, problems, err := LoadRegistry(path)
	if err != nil {
		t.Fatalf("Failed to load registry: %v", err)
	}
	if len(problems) != 0 {
		t.Fatalf("Unexpected problems: %v", problems)
	}
	if len(comps) != 2 {
		t.Fatalf("Expected 2 competitors, got %d", len(comps))
	}

	db := comps[0]
	if db.Name != "Databricks" || db.Domain != "databricks.com" {
		t.Errorf("Unexpected competitor: %+v", db)
	}
	if len(db.Keywords) != 2 || db.Keywords[1] != "Delta Lake" {
		t.Errorf("Keywords not cleaned: %q", db.Keywords)
	}

	wantTypes := []signal.SourceType{signal.SourceFeed, signal.SourceForum, signal.SourceNews, signal.SourcePress}
	if len(db.Sources) != len(wantTypes) {
		t.Fatalf("Expected %d sources, got %d", len(wantTypes), len(db.Sources))
	}
	for i, want := range wantTypes {
		if db.Sources[i].Type != want {
			t.Errorf("Source %d: expected %s, got %s", i, want, db.Sources[i].Type)
		}
	}
	if db.Sources[1].Terms[0] != "databricks" {
		t.Errorf("Forum terms not kept: %+v", db.Sources[1])
	}

	if comps[1].Sources[0].Type != signal.SourceFeed {
		t.Errorf("rss alias not resolved: %+v", comps[1].Sources[0])
	}
}

func TestParseRegistrySkipsBadEntries(t *testing.T) {
	comps, problems, err := ParseRegistry([]byte(`competitors:
  - domain: nameless.example
  - name: Snowflake Rival
    sources:
      - type: carrier-pigeon
      - type: feed
      - type: press
        url: ftp://example.com/news
      - type: forum
  - name: snowflake rival
    sources:
      - type: forum
`))
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if len(comps) != 1 {
		t.Fatalf("Expected 1 usable competitor, got %d", len(comps))
	}
	if len(comps[0].Sources) != 1 || comps[0].Sources[0].Type != signal.SourceForum {
		t.Errorf("Expected only the forum source to survive, got %+v", comps[0].Sources)
	}

	// missing name, 3 bad sources, duplicate name
	if len(problems) != 5 {
		t.Fatalf("Expected 5 problems, got %d: %v", len(problems), problems)
	}
	for _, p := range problems {
		if !errors.Is(p, internalerr.ErrInvalidConfig) {
			t.Errorf("Problem does not wrap ErrInvalidConfig: %v", p)
		}
		if !IsEntryError(p) {
			t.Errorf("Problem is not an EntryError: %v", p)
		}
	}
}

func TestParseRegistryInvalidYAML(t *testing.T) {
	_, _, err := ParseRegistry([]byte("competitors: [name: {"))
	if !errors.Is(err, internalerr.ErrInvalidConfig) {
		t.Errorf("Expected ErrInvalidConfig, got %v", err)
	}
}

func TestLoadRegistryMissingFile(t *testing.T) {
	if _, _, err := LoadRegistry(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Error("Expected error for missing registry")
	}
}

func TestParseRules(t *testing.T) {
	rules, err := ParseRules([]byte(`categories:
  acquisition: [acquires, merger]
  Pricing: [price cut]
`))
	if err != nil {
		t.Fatalf("Failed to parse rules: %v", err)
	}
	if len(rules[signal.CategoryAcquisition]) != 2 {
		t.Errorf("Expected 2 acquisition triggers, got %v", rules[signal.CategoryAcquisition])
	}
	if rules[signal.CategoryPricing][0] != "price cut" {
		t.Errorf("Unexpected pricing triggers: %v", rules[signal.CategoryPricing])
	}
	if _, ok := rules[signal.CategoryProduct]; ok {
		t.Error("Product should not be present")
	}
}

func TestParseRulesRejects(t *testing.T) {
	tests := map[string]string{
		"empty":    "categories: {}\n",
		"unknown":  "categories:\n  Gossip: [rumor]\n",
		"general":  "categories:\n  General: [anything]\n",
		"bad yaml": "categories: [",
	}
	for name, content := range tests {
		t.Run(name, func(t *testing.T) {
			if _, err := ParseRules([]byte(content)); !errors.Is(err, internalerr.ErrInvalidConfig) {
				t.Errorf("Expected ErrInvalidConfig, got %v", err)
			}
		})
	}
}
