package store

import (
	"context"
	"time"

	"github.com/cognicore/cimon/pkg/cimon/signal"
)

// Store is the main interface for persisting and querying signals
type Store interface {
	Close() error

	// Signals & fingerprints
	HasSeen(ctx context.Context, fingerprint string) (bool, error)
	Record(ctx context.Context, s signal.Signal) (bool, error)
	// Recent returns signals collected at or after since, newest first. An
	// empty competitor selects all.
	Recent(ctx context.Context, competitor string, since time.Time) ([]signal.Signal, error)
	Signals(ctx context.Context) ([]signal.Signal, error)
	UpdateCategory(ctx context.Context, fingerprint string, cat signal.Category) error

	// Registry bookkeeping
	SeedCompetitors(ctx context.Context, comps []signal.Competitor) error
	MarkChecked(ctx context.Context, competitor string, src signal.SourceConfig, at time.Time) error

	// Run history
	LogRun(ctx context.Context, r RunRecord) error
	Runs(ctx context.Context, limit int) ([]RunRecord, error)
}

// RunRecord is one row of the processing log
type RunRecord struct {
	ID         string
	StartedAt  time.Time
	FinishedAt time.Time
	Collected  int
	Persisted  int
	Duplicates int
	Failures   int
	Errors     string
}

// Duration returns how long the run took
func (r RunRecord) Duration() time.Duration {
	return r.FinishedAt.Sub(r.StartedAt)
}
