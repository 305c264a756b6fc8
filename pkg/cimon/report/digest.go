// Package report renders the signal digest and hands it to a mail transport.
package report

import (
	"bytes"
	"embed"
	"fmt"
	htmltemplate "html/template"
	"sort"
	"strings"
	texttemplate "text/template"
	"time"

	"github.com/cognicore/cimon/pkg/cimon/ingest"
	"github.com/cognicore/cimon/pkg/cimon/signal"
)

const (
	subjectPrefix = "Competitive Intelligence Digest"
	testSubject   = "TEST: " + subjectPrefix
)

//go:embed templates/*.tmpl
var templateFS embed.FS

var (
	funcs = map[string]interface{}{
		"date": func(t time.Time) string { return t.Format("Jan 2, 2006") },
	}
	htmlTmpl = htmltemplate.Must(htmltemplate.New("digest.html.tmpl").Funcs(funcs).ParseFS(templateFS, "templates/digest.html.tmpl"))
	textTmpl = texttemplate.Must(texttemplate.New("digest.txt.tmpl").Funcs(funcs).ParseFS(templateFS, "templates/digest.txt.tmpl"))
)

// Digest is everything the report needs: the signals to show plus an
// optional summary of the run that produced them.
type Digest struct {
	GeneratedAt time.Time
	Window      time.Duration
	Test        bool
	Signals     []signal.Signal
	Run         *RunStats
}

// RunStats is the slice of a run summary worth showing to readers.
type RunStats struct {
	ID         string
	State      string
	Collected  int
	Persisted  int
	Duplicates int
	Failures   []string
}

// Rendered is a digest ready for a mail transport.
type Rendered struct {
	Subject string
	HTML    string
	Text    string
}

// Subject returns the mail subject for the digest.
func (d Digest) Subject() string {
	if d.Test {
		return testSubject
	}
	return subjectPrefix + " - " + d.GeneratedAt.Format("January 2, 2006")
}

// Render produces the HTML and plain-text bodies.
func Render(d Digest) (Rendered, error) {
	v := newView(d)

	var html, text bytes.Buffer
	if err := htmlTmpl.Execute(&html, v); err != nil {
		return Rendered{}, fmt.Errorf("render html digest: %w", err)
	}
	if err := textTmpl.Execute(&text, v); err != nil {
		return Rendered{}, fmt.Errorf("render text digest: %w", err)
	}
	return Rendered{Subject: v.Subject, HTML: html.String(), Text: text.String()}, nil
}

type categoryCount struct {
	Category signal.Category
	Count    int
}

type group struct {
	Competitor string
	Signals    []signal.Signal
}

type view struct {
	Subject   string
	DateRange string
	Test      bool
	Total     int
	Stats     []categoryCount
	Groups    []group
	Run       *RunStats
}

func newView(d Digest) view {
	if d.GeneratedAt.IsZero() {
		d.GeneratedAt = time.Now()
	}
	return view{
		Subject:   d.Subject(),
		DateRange: dateRange(d.GeneratedAt, d.Window),
		Test:      d.Test,
		Total:     len(d.Signals),
		Stats:     orderedStats(d.Signals),
		Groups:    groupByCompetitor(d.Signals),
		Run:       d.Run,
	}
}

// groupByCompetitor sorts competitors by name and signals newest first.
func groupByCompetitor(signals []signal.Signal) []group {
	byName := make(map[string][]signal.Signal)
	for _, s := range signals {
		name := s.Competitor
		if name == "" {
			name = "Unknown"
		}
		byName[name] = append(byName[name], s)
	}

	groups := make([]group, 0, len(byName))
	for name, sigs := range byName {
		sort.SliceStable(sigs, func(i, j int) bool {
			return sigs[i].PublishedAt.After(sigs[j].PublishedAt)
		})
		groups = append(groups, group{Competitor: name, Signals: sigs})
	}
	sort.Slice(groups, func(i, j int) bool {
		return strings.ToLower(groups[i].Competitor) < strings.ToLower(groups[j].Competitor)
	})
	return groups
}

// orderedStats lists non-zero category counts in classifier priority order.
func orderedStats(signals []signal.Signal) []categoryCount {
	counts := ingest.Stats(signals)
	order := append(append([]signal.Category{}, signal.CategoryPriority...), signal.CategoryGeneral)

	var out []categoryCount
	for _, c := range order {
		if n := counts[c]; n > 0 {
			out = append(out, categoryCount{Category: c, Count: n})
		}
	}
	return out
}

func dateRange(end time.Time, window time.Duration) string {
	if window <= 0 || window == 24*time.Hour {
		return "Last 24 Hours · " + end.Format("January 2, 2006")
	}
	start := end.Add(-window)
	return start.Format("January 2") + " - " + end.Format("January 2, 2006")
}

// SampleDigest returns a fixed digest for exercising the mail path without
// collecting anything.
func SampleDigest(now time.Time) Digest {
	sample := func(comp, title, summary string, cat signal.Category, age time.Duration) signal.Signal {
		return signal.Signal{
			Competitor:  comp,
			Title:       title,
			Summary:     summary,
			URL:         "https://example.com",
			SourceType:  signal.SourceFeed,
			Category:    cat,
			PublishedAt: now.Add(-age),
			CollectedAt: now,
		}
	}
	return Digest{
		GeneratedAt: now,
		Window:      24 * time.Hour,
		Test:        true,
		Signals: []signal.Signal{
			sample("Databricks", "Databricks Launches New Delta Lake Features",
				"Introducing enhanced performance and data reliability features", signal.CategoryProduct, time.Hour),
			sample("Databricks", "Databricks Partners with Tableau",
				"New integration for seamless data analytics", signal.CategoryPartnership, 3*time.Hour),
			sample("Microsoft Fabric", "OneLake Now Generally Available",
				"Microsoft's unified data lake solution reaches GA", signal.CategoryProduct, 2*time.Hour),
			sample("Google BigQuery", "BigQuery Announces Price Reduction",
				"Reduced costs for compute-intensive workloads", signal.CategoryPricing, 5*time.Hour),
			sample("Amazon Redshift", "AWS CEO Keynote at re:Invent",
				"Announcing new Redshift capabilities", signal.CategoryConference, 8*time.Hour),
		},
	}
}
