package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/cognicore/cimon/pkg/cimon/internalerr"
	"github.com/cognicore/cimon/pkg/cimon/signal"
	"github.com/cognicore/cimon/pkg/cimon/store"
)

// timeLayout is fixed-width so stored timestamps sort lexicographically.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

// sqliteStore implements the Store interface using SQLite
type sqliteStore struct {
	db *sql.DB
}

// OpenSQLite opens a SQLite database with WAL mode enabled and creates the
// schema if needed. Opening a fresh path is how storage gets initialized;
// missing parent directories are created.
func OpenSQLite(ctx context.Context, path string) (store.Store, error) {
	if !isMemoryPath(path) {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}

	// One connection serializes writers; the fingerprint check-and-insert
	// relies on it together with the unique constraint.
	db.SetMaxOpenConns(1)

	// Enable WAL mode for better concurrency
	if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, err
	}

	// Enable foreign keys
	if _, err := db.ExecContext(ctx, "PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, err
	}

	if _, err := db.ExecContext(ctx, "PRAGMA busy_timeout=5000"); err != nil {
		db.Close()
		return nil, err
	}

	// Initialize schema
	if err := initSchema(ctx, db); err != nil {
		db.Close()
		return nil, err
	}

	return &sqliteStore{db: db}, nil
}

func isMemoryPath(path string) bool {
	return path == "" || path == ":memory:" || strings.HasPrefix(path, "file:")
}

// Close closes the database connection
func (s *sqliteStore) Close() error {
	return s.db.Close()
}

// initSchema creates tables if they don't exist
func initSchema(ctx context.Context, db *sql.DB) error {
	schema := `
CREATE TABLE IF NOT EXISTS competitors (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	name TEXT UNIQUE NOT NULL,
	domain TEXT,
	keywords TEXT
);

CREATE TABLE IF NOT EXISTS signal_sources (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	competitor_id INTEGER NOT NULL,
	type TEXT NOT NULL,
	url TEXT NOT NULL DEFAULT '',
	terms TEXT,
	last_checked TEXT,
	UNIQUE(competitor_id, type, url),
	FOREIGN KEY(competitor_id) REFERENCES competitors(id) ON DELETE CASCADE
);

CREATE TABLE IF NOT EXISTS seen_fingerprints (
	fingerprint TEXT PRIMARY KEY,
	first_seen TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS signals (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	fingerprint TEXT UNIQUE NOT NULL,
	competitor TEXT NOT NULL,
	category TEXT NOT NULL,
	title TEXT NOT NULL,
	summary TEXT,
	url TEXT,
	source_url TEXT,
	outlet TEXT,
	source_type TEXT,
	score INTEGER DEFAULT 0,
	published_at TEXT,
	published_inferred INTEGER DEFAULT 0,
	collected_at TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_signals_collected ON signals(collected_at);
CREATE INDEX IF NOT EXISTS idx_signals_competitor ON signals(competitor, collected_at);

CREATE TABLE IF NOT EXISTS runs (
	id TEXT PRIMARY KEY,
	started_at TEXT NOT NULL,
	finished_at TEXT NOT NULL,
	collected INTEGER DEFAULT 0,
	persisted INTEGER DEFAULT 0,
	duplicates INTEGER DEFAULT 0,
	failures INTEGER DEFAULT 0,
	errors TEXT
);
`

	_, err := db.ExecContext(ctx, schema)
	return err
}

// HasSeen reports whether a fingerprint is in durable history
func (s *sqliteStore) HasSeen(ctx context.Context, fingerprint string) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx, `SELECT 1 FROM seen_fingerprints WHERE fingerprint = ?`, fingerprint).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// Record inserts the fingerprint and the signal in one transaction. A
// fingerprint that already exists makes the call a no-op returning false.
func (s *sqliteStore) Record(ctx context.Context, sig signal.Signal) (bool, error) {
	if sig.Fingerprint == "" {
		return false, fmt.Errorf("%w: signal without fingerprint", internalerr.ErrInvalidInput)
	}

	inserted, err := s.record(ctx, sig)
	if err != nil {
		return false, fmt.Errorf("%w: %v", internalerr.ErrStoreWrite, err)
	}
	return inserted, nil
}

func (s *sqliteStore) record(ctx context.Context, sig signal.Signal) (bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, err
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
INSERT INTO seen_fingerprints (fingerprint, first_seen) VALUES (?, ?)
ON CONFLICT(fingerprint) DO NOTHING;
`, sig.Fingerprint, formatTime(sig.CollectedAt))
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	if n == 0 {
		return false, nil
	}

	const stmt = `
INSERT INTO signals (
	fingerprint, competitor, category, title, summary, url, source_url, outlet,
	source_type, score, published_at, published_inferred, collected_at
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?);
`
	if _, err := tx.ExecContext(
		ctx,
		stmt,
		sig.Fingerprint,
		sig.Competitor,
		string(sig.Category),
		sig.Title,
		sig.Summary,
		sig.URL,
		sig.SourceURL,
		sig.Outlet,
		string(sig.SourceType),
		sig.Score,
		formatTime(sig.PublishedAt),
		boolToInt(sig.PublishedInferred),
		formatTime(sig.CollectedAt),
	); err != nil {
		return false, err
	}

	if err := tx.Commit(); err != nil {
		return false, err
	}
	return true, nil
}

const signalColumns = `id, fingerprint, competitor, category, title, summary, url, source_url,
	outlet, source_type, score, published_at, published_inferred, collected_at`

// Recent returns signals collected within the window, newest first. An empty
// competitor selects every competitor.
func (s *sqliteStore) Recent(ctx context.Context, competitor string, since time.Time) ([]signal.Signal, error) {
	cutoff := formatTime(since)

	query := `SELECT ` + signalColumns + ` FROM signals WHERE collected_at >= ?`
	args := []interface{}{cutoff}
	if competitor != "" {
		query += ` AND competitor = ?`
		args = append(args, competitor)
	}
	query += ` ORDER BY collected_at DESC, id DESC`

	return s.querySignals(ctx, query, args...)
}

// Signals returns every stored signal in insertion order
func (s *sqliteStore) Signals(ctx context.Context) ([]signal.Signal, error) {
	return s.querySignals(ctx, `SELECT `+signalColumns+` FROM signals ORDER BY id`)
}

func (s *sqliteStore) querySignals(ctx context.Context, query string, args ...interface{}) ([]signal.Signal, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []signal.Signal
	for rows.Next() {
		var (
			sig                signal.Signal
			category, srcType  string
			summary, url       sql.NullString
			sourceURL, outlet  sql.NullString
			published, collect sql.NullString
			inferred           int
		)
		if err := rows.Scan(
			&sig.ID, &sig.Fingerprint, &sig.Competitor, &category, &sig.Title,
			&summary, &url, &sourceURL, &outlet, &srcType, &sig.Score,
			&published, &inferred, &collect,
		); err != nil {
			return nil, err
		}
		sig.Category = signal.Category(category)
		sig.SourceType = signal.SourceType(srcType)
		sig.Summary = summary.String
		sig.URL = url.String
		sig.SourceURL = sourceURL.String
		sig.Outlet = outlet.String
		sig.PublishedAt = parseTime(published.String)
		sig.PublishedInferred = inferred != 0
		sig.CollectedAt = parseTime(collect.String)
		out = append(out, sig)
	}
	return out, rows.Err()
}

// UpdateCategory relabels a stored signal
func (s *sqliteStore) UpdateCategory(ctx context.Context, fingerprint string, cat signal.Category) error {
	res, err := s.db.ExecContext(ctx, `UPDATE signals SET category = ? WHERE fingerprint = ?`, string(cat), fingerprint)
	if err != nil {
		return fmt.Errorf("%w: %v", internalerr.ErrStoreWrite, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return internalerr.ErrNotFound
	}
	return nil
}

// SeedCompetitors inserts competitors and their sources; existing rows are kept
func (s *sqliteStore) SeedCompetitors(ctx context.Context, comps []signal.Competitor) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, c := range comps {
		keywords, err := json.Marshal(c.Keywords)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `
INSERT INTO competitors (name, domain, keywords) VALUES (?, ?, ?)
ON CONFLICT(name) DO NOTHING;
`, c.Name, c.Domain, string(keywords)); err != nil {
			return fmt.Errorf("seed competitor %s: %w", c.Name, err)
		}

		for _, src := range c.Sources {
			terms, err := json.Marshal(src.Terms)
			if err != nil {
				return err
			}
			if _, err := tx.ExecContext(ctx, `
INSERT INTO signal_sources (competitor_id, type, url, terms)
SELECT id, ?, ?, ? FROM competitors WHERE name = ?
ON CONFLICT(competitor_id, type, url) DO NOTHING;
`, string(src.Type), src.URL, string(terms), c.Name); err != nil {
				return fmt.Errorf("seed source %s/%s: %w", c.Name, src.Type, err)
			}
		}
	}

	return tx.Commit()
}

// MarkChecked stamps a source's last successful collection, creating the
// competitor and source rows when storage was never seeded
func (s *sqliteStore) MarkChecked(ctx context.Context, competitor string, src signal.SourceConfig, at time.Time) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `
INSERT INTO competitors (name) VALUES (?)
ON CONFLICT(name) DO NOTHING;
`, competitor); err != nil {
		return err
	}

	if _, err := tx.ExecContext(ctx, `
INSERT INTO signal_sources (competitor_id, type, url, last_checked)
SELECT id, ?, ?, ? FROM competitors WHERE name = ?
ON CONFLICT(competitor_id, type, url) DO UPDATE SET last_checked=excluded.last_checked;
`, string(src.Type), src.URL, formatTime(at), competitor); err != nil {
		return err
	}

	return tx.Commit()
}

// LogRun inserts a processing log entry
func (s *sqliteStore) LogRun(ctx context.Context, r store.RunRecord) error {
	_, err := s.db.ExecContext(ctx, `
INSERT INTO runs (id, started_at, finished_at, collected, persisted, duplicates, failures, errors)
VALUES (?, ?, ?, ?, ?, ?, ?, ?);
`,
		r.ID,
		formatTime(r.StartedAt),
		formatTime(r.FinishedAt),
		r.Collected,
		r.Persisted,
		r.Duplicates,
		r.Failures,
		r.Errors,
	)
	return err
}

// Runs returns the most recent runs first
func (s *sqliteStore) Runs(ctx context.Context, limit int) ([]store.RunRecord, error) {
	if limit <= 0 {
		limit = 20
	}

	rows, err := s.db.QueryContext(ctx, `
SELECT id, started_at, finished_at, collected, persisted, duplicates, failures, errors
FROM runs
ORDER BY started_at DESC
LIMIT ?;
`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []store.RunRecord
	for rows.Next() {
		var (
			r               store.RunRecord
			started, finish string
			errs            sql.NullString
		)
		if err := rows.Scan(&r.ID, &started, &finish, &r.Collected, &r.Persisted, &r.Duplicates, &r.Failures, &errs); err != nil {
			return nil, err
		}
		r.StartedAt = parseTime(started)
		r.FinishedAt = parseTime(finish)
		r.Errors = errs.String
		out = append(out, r)
	}
	return out, rows.Err()
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		// Rows written by hand or by older builds may be plain RFC3339.
		t, _ = time.Parse(time.RFC3339, s)
	}
	return t
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
