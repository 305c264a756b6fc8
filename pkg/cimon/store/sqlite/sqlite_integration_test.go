package sqlite

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/cognicore/cimon/pkg/cimon/internalerr"
	"github.com/cognicore/cimon/pkg/cimon/signal"
	"github.com/cognicore/cimon/pkg/cimon/store"
)

func openTestStore(t *testing.T) store.Store {
	t.Helper()
	st, err := OpenSQLite(context.Background(), filepath.Join(t.TempDir(), "cimon.db"))
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	return st
}

func TestOpenCreatesParentDirectory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data", "nested", "intelligence.db")
	st, err := OpenSQLite(context.Background(), path)
	if err != nil {
		t.Fatalf("OpenSQLite on a fresh data directory: %v", err)
	}
	defer st.Close()

	if _, err := os.Stat(path); err != nil {
		t.Errorf("database file not created: %v", err)
	}
}

func testSignal(fp string, collected time.Time) signal.Signal {
	return signal.Signal{
		Competitor:  "Acme",
		Title:       "Acme acquires Widgets Inc",
		Summary:     "Deal closed on Monday",
		URL:         "https://news.example.com/acme-widgets",
		SourceURL:   "https://news.example.com/feed",
		Outlet:      "Example News",
		SourceType:  signal.SourceFeed,
		Score:       12,
		PublishedAt: collected.Add(-time.Hour),
		CollectedAt: collected,
		Category:    signal.CategoryAcquisition,
		Fingerprint: fp,
	}
}

func TestRecordAndHasSeen(t *testing.T) {
	ctx := context.Background()
	st := openTestStore(t)
	now := time.Now()

	seen, err := st.HasSeen(ctx, "fp-1")
	if err != nil {
		t.Fatalf("HasSeen: %v", err)
	}
	if seen {
		t.Fatal("fresh store should not have seen fp-1")
	}

	inserted, err := st.Record(ctx, testSignal("fp-1", now))
	if err != nil {
		t.Fatalf("Record: %v", err)
	}
	if !inserted {
		t.Fatal("first Record should insert")
	}

	seen, err = st.HasSeen(ctx, "fp-1")
	if err != nil {
		t.Fatalf("HasSeen: %v", err)
	}
	if !seen {
		t.Fatal("fp-1 should be seen after Record")
	}

	sigs, err := st.Signals(ctx)
	if err != nil {
		t.Fatalf("Signals: %v", err)
	}
	if len(sigs) != 1 {
		t.Fatalf("expected 1 signal, got %d", len(sigs))
	}
	got := sigs[0]
	if got.Title != "Acme acquires Widgets Inc" || got.Category != signal.CategoryAcquisition {
		t.Errorf("unexpected signal round trip: %+v", got)
	}
	if got.SourceType != signal.SourceFeed || got.Score != 12 || got.Outlet != "Example News" {
		t.Errorf("metadata lost: %+v", got)
	}
	if !got.CollectedAt.Equal(now) {
		t.Errorf("CollectedAt = %v, want %v", got.CollectedAt, now.UTC())
	}
}

func TestRecordDuplicateIsNoop(t *testing.T) {
	ctx := context.Background()
	st := openTestStore(t)
	now := time.Now()

	if _, err := st.Record(ctx, testSignal("fp-dup", now)); err != nil {
		t.Fatalf("Record: %v", err)
	}

	again := testSignal("fp-dup", now.Add(time.Minute))
	again.Title = "Different title, same fingerprint"
	inserted, err := st.Record(ctx, again)
	if err != nil {
		t.Fatalf("second Record: %v", err)
	}
	if inserted {
		t.Fatal("duplicate fingerprint must not insert")
	}

	sigs, _ := st.Signals(ctx)
	if len(sigs) != 1 {
		t.Fatalf("expected 1 signal after duplicate, got %d", len(sigs))
	}
	if sigs[0].Title != "Acme acquires Widgets Inc" {
		t.Errorf("original row was overwritten: %q", sigs[0].Title)
	}
}

func TestRecordRejectsEmptyFingerprint(t *testing.T) {
	st := openTestStore(t)
	_, err := st.Record(context.Background(), testSignal("", time.Now()))
	if !errors.Is(err, internalerr.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
}

func TestConcurrentRecordSameFingerprint(t *testing.T) {
	ctx := context.Background()
	st := openTestStore(t)
	now := time.Now()

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		inserted int
	)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := st.Record(ctx, testSignal("fp-race", now))
			if err != nil {
				t.Errorf("Record: %v", err)
				return
			}
			if ok {
				mu.Lock()
				inserted++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if inserted != 1 {
		t.Fatalf("expected exactly one insert, got %d", inserted)
	}
}

func TestRecentWindowAndCompetitor(t *testing.T) {
	ctx := context.Background()
	st := openTestStore(t)
	now := time.Now()

	old := testSignal("fp-old", now.Add(-10*24*time.Hour))
	fresh := testSignal("fp-fresh", now.Add(-time.Hour))
	fresher := testSignal("fp-fresher", now.Add(-time.Minute))
	other := testSignal("fp-other", now.Add(-time.Minute))
	other.Competitor = "Globex"

	for _, s := range []signal.Signal{old, fresh, fresher, other} {
		if _, err := st.Record(ctx, s); err != nil {
			t.Fatalf("Record %s: %v", s.Fingerprint, err)
		}
	}

	recent, err := st.Recent(ctx, "Acme", now.Add(-7*24*time.Hour))
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(recent) != 2 {
		t.Fatalf("expected 2 recent Acme signals, got %d", len(recent))
	}
	if recent[0].Fingerprint != "fp-fresher" || recent[1].Fingerprint != "fp-fresh" {
		t.Errorf("expected newest first, got %s, %s", recent[0].Fingerprint, recent[1].Fingerprint)
	}

	all, err := st.Recent(ctx, "", now.Add(-7*24*time.Hour))
	if err != nil {
		t.Fatalf("Recent all: %v", err)
	}
	if len(all) != 3 {
		t.Errorf("expected 3 recent signals across competitors, got %d", len(all))
	}
}

func TestUpdateCategory(t *testing.T) {
	ctx := context.Background()
	st := openTestStore(t)

	if _, err := st.Record(ctx, testSignal("fp-1", time.Now())); err != nil {
		t.Fatalf("Record: %v", err)
	}
	if err := st.UpdateCategory(ctx, "fp-1", signal.CategoryPartnership); err != nil {
		t.Fatalf("UpdateCategory: %v", err)
	}
	sigs, _ := st.Signals(ctx)
	if sigs[0].Category != signal.CategoryPartnership {
		t.Errorf("category = %s, want Partnership", sigs[0].Category)
	}

	if err := st.UpdateCategory(ctx, "missing", signal.CategoryGeneral); !errors.Is(err, internalerr.ErrNotFound) {
		t.Errorf("expected ErrNotFound for unknown fingerprint, got %v", err)
	}
}

func TestSeedCompetitorsIsIdempotent(t *testing.T) {
	ctx := context.Background()
	st := openTestStore(t)

	comps := []signal.Competitor{
		{
			Name:     "Acme",
			Domain:   "acme.example",
			Keywords: []string{"acme", "roadrunner"},
			Sources: []signal.SourceConfig{
				{Type: signal.SourceFeed, URL: "https://acme.example/feed.xml"},
				{Type: signal.SourceForum, Terms: []string{"acme"}},
			},
		},
	}
	if err := st.SeedCompetitors(ctx, comps); err != nil {
		t.Fatalf("SeedCompetitors: %v", err)
	}
	if err := st.SeedCompetitors(ctx, comps); err != nil {
		t.Fatalf("second SeedCompetitors: %v", err)
	}

	db := st.(*sqliteStore).db
	var n int
	if err := db.QueryRow(`SELECT COUNT(*) FROM competitors`).Scan(&n); err != nil {
		t.Fatalf("count competitors: %v", err)
	}
	if n != 1 {
		t.Errorf("expected 1 competitor row, got %d", n)
	}
	if err := db.QueryRow(`SELECT COUNT(*) FROM signal_sources`).Scan(&n); err != nil {
		t.Fatalf("count sources: %v", err)
	}
	if n != 2 {
		t.Errorf("expected 2 source rows, got %d", n)
	}
}

func TestMarkCheckedWithoutSeed(t *testing.T) {
	ctx := context.Background()
	st := openTestStore(t)
	src := signal.SourceConfig{Type: signal.SourceFeed, URL: "https://acme.example/feed.xml"}
	at := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	if err := st.MarkChecked(ctx, "Acme", src, at); err != nil {
		t.Fatalf("MarkChecked: %v", err)
	}
	later := at.Add(time.Hour)
	if err := st.MarkChecked(ctx, "Acme", src, later); err != nil {
		t.Fatalf("second MarkChecked: %v", err)
	}

	var raw string
	db := st.(*sqliteStore).db
	err := db.QueryRow(`
SELECT s.last_checked FROM signal_sources s
JOIN competitors c ON c.id = s.competitor_id
WHERE c.name = ? AND s.type = ? AND s.url = ?`, "Acme", string(src.Type), src.URL).Scan(&raw)
	if err != nil {
		t.Fatalf("query last_checked: %v", err)
	}
	if got := parseTime(raw); !got.Equal(later) {
		t.Errorf("last_checked = %v, want %v", got, later)
	}
}

func TestRunsNewestFirst(t *testing.T) {
	ctx := context.Background()
	st := openTestStore(t)
	base := time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC)

	for i, id := range []string{"run-a", "run-b", "run-c"} {
		start := base.Add(time.Duration(i) * time.Hour)
		rec := store.RunRecord{
			ID:         id,
			StartedAt:  start,
			FinishedAt: start.Add(30 * time.Second),
			Collected:  10,
			Persisted:  3,
			Duplicates: 7,
		}
		if err := st.LogRun(ctx, rec); err != nil {
			t.Fatalf("LogRun %s: %v", id, err)
		}
	}

	runs, err := st.Runs(ctx, 2)
	if err != nil {
		t.Fatalf("Runs: %v", err)
	}
	if len(runs) != 2 {
		t.Fatalf("expected 2 runs, got %d", len(runs))
	}
	if runs[0].ID != "run-c" || runs[1].ID != "run-b" {
		t.Errorf("unexpected order: %s, %s", runs[0].ID, runs[1].ID)
	}
	if runs[0].Duration() != 30*time.Second {
		t.Errorf("Duration = %v, want 30s", runs[0].Duration())
	}
}

func TestReopenKeepsHistory(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "cimon.db")

	st, err := OpenSQLite(ctx, path)
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	if _, err := st.Record(ctx, testSignal("fp-persist", time.Now())); err != nil {
		t.Fatalf("Record: %v", err)
	}
	st.Close()

	st, err = OpenSQLite(ctx, path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer st.Close()

	seen, err := st.HasSeen(ctx, "fp-persist")
	if err != nil {
		t.Fatalf("HasSeen: %v", err)
	}
	if !seen {
		t.Fatal("fingerprint history lost across reopen")
	}
}
