package dedup

import (
	"context"

	"github.com/cognicore/cimon/pkg/cimon/signal"
)

// SeenChecker answers whether a fingerprint is already in durable history.
type SeenChecker interface {
	HasSeen(ctx context.Context, fingerprint string) (bool, error)
}

// Deduplicator filters signals already accepted in this run or any prior run.
// Not safe for concurrent use; the orchestrator drives it sequentially.
type Deduplicator struct {
	seen  SeenChecker
	batch map[string]struct{}
}

// New creates a deduplicator backed by the given history.
func New(seen SeenChecker) *Deduplicator {
	return &Deduplicator{
		seen:  seen,
		batch: make(map[string]struct{}),
	}
}

// Stamp computes the signal's fingerprint if it is not already set.
func Stamp(s *signal.Signal) string {
	if s.Fingerprint == "" {
		s.Fingerprint = Fingerprint(s.Title, s.URL)
	}
	return s.Fingerprint
}

// IsDuplicate reports whether the signal was already accepted in this run
// or recorded by a prior one. It only reads; call Accept once the signal is
// stored so later fingerprint-equal signals are dropped. A signal whose write
// failed is never accepted and a repost of it may still win.
//
// On a history lookup error the signal is treated as new and the error is
// returned; the store's unique constraint still prevents a duplicate row.
func (d *Deduplicator) IsDuplicate(ctx context.Context, s *signal.Signal) (bool, error) {
	fp := Stamp(s)
	if _, ok := d.batch[fp]; ok {
		return true, nil
	}
	if d.seen == nil {
		return false, nil
	}
	seen, err := d.seen.HasSeen(ctx, fp)
	if err != nil {
		return false, err
	}
	return seen, nil
}

// Accept marks a fingerprint as taken for the rest of the run.
func (d *Deduplicator) Accept(fingerprint string) {
	if fingerprint != "" {
		d.batch[fingerprint] = struct{}{}
	}
}

// Filter applies IsDuplicate to a batch and returns the survivors in order
// along with the number of dropped duplicates. Survivors are accepted.
func (d *Deduplicator) Filter(ctx context.Context, signals []signal.Signal) ([]signal.Signal, int, error) {
	kept := make([]signal.Signal, 0, len(signals))
	var firstErr error
	for i := range signals {
		dup, err := d.IsDuplicate(ctx, &signals[i])
		if err != nil && firstErr == nil {
			firstErr = err
		}
		if dup {
			continue
		}
		d.Accept(signals[i].Fingerprint)
		kept = append(kept, signals[i])
	}
	return kept, len(signals) - len(kept), firstErr
}
