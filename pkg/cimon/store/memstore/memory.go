package memstore

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/cognicore/cimon/pkg/cimon/internalerr"
	"github.com/cognicore/cimon/pkg/cimon/signal"
	"github.com/cognicore/cimon/pkg/cimon/store"
)

// Store is an in-memory implementation of store.Store for tests.
type Store struct {
	mu          sync.RWMutex
	nextID      int64
	signals     []signal.Signal
	seen        map[string]time.Time
	competitors map[string]signal.Competitor
	checked     map[string]time.Time
	runs        []store.RunRecord

	// FailRecord, when set, is consulted before every Record call and lets
	// tests inject write failures.
	FailRecord func(s signal.Signal) error
	// RecordCalls counts Record invocations.
	RecordCalls int
}

var _ store.Store = (*Store)(nil)

// New creates a new in-memory store.
func New() *Store {
	return &Store{
		nextID:      1,
		seen:        make(map[string]time.Time),
		competitors: make(map[string]signal.Competitor),
		checked:     make(map[string]time.Time),
	}
}

// Close implements store.Store.
func (s *Store) Close() error { return nil }

// HasSeen reports whether the fingerprint was recorded.
func (s *Store) HasSeen(ctx context.Context, fingerprint string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	_, ok := s.seen[fingerprint]
	return ok, nil
}

// Record stores the signal unless its fingerprint already exists.
func (s *Store) Record(ctx context.Context, sig signal.Signal) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.RecordCalls++
	if s.FailRecord != nil {
		if err := s.FailRecord(sig); err != nil {
			return false, err
		}
	}
	if sig.Fingerprint == "" {
		return false, internalerr.ErrInvalidInput
	}
	if _, ok := s.seen[sig.Fingerprint]; ok {
		return false, nil
	}

	sig.ID = s.nextID
	s.nextID++
	s.seen[sig.Fingerprint] = sig.CollectedAt
	s.signals = append(s.signals, sig)
	return true, nil
}

// Recent returns signals collected within the window, newest first.
func (s *Store) Recent(ctx context.Context, competitor string, since time.Time) ([]signal.Signal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []signal.Signal
	for _, sig := range s.signals {
		if competitor != "" && sig.Competitor != competitor {
			continue
		}
		if sig.CollectedAt.Before(since) {
			continue
		}
		out = append(out, sig)
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CollectedAt.After(out[j].CollectedAt)
	})
	return out, nil
}

// Signals returns every stored signal in insertion order.
func (s *Store) Signals(ctx context.Context) ([]signal.Signal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]signal.Signal, len(s.signals))
	copy(out, s.signals)
	return out, nil
}

// UpdateCategory relabels a stored signal.
func (s *Store) UpdateCategory(ctx context.Context, fingerprint string, cat signal.Category) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.signals {
		if s.signals[i].Fingerprint == fingerprint {
			s.signals[i].Category = cat
			return nil
		}
	}
	return internalerr.ErrNotFound
}

// SeedCompetitors inserts competitors that are not yet known.
func (s *Store) SeedCompetitors(ctx context.Context, comps []signal.Competitor) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, c := range comps {
		if _, ok := s.competitors[c.Name]; !ok {
			s.competitors[c.Name] = c
		}
	}
	return nil
}

// Competitors returns the seeded competitor names, sorted.
func (s *Store) Competitors() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	names := make([]string, 0, len(s.competitors))
	for name := range s.competitors {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// MarkChecked records the last successful collection time of a source.
func (s *Store) MarkChecked(ctx context.Context, competitor string, src signal.SourceConfig, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.checked[checkedKey(competitor, src)] = at
	return nil
}

// LastChecked returns when a source was last collected successfully.
func (s *Store) LastChecked(competitor string, src signal.SourceConfig) (time.Time, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	at, ok := s.checked[checkedKey(competitor, src)]
	return at, ok
}

// LogRun appends a run record.
func (s *Store) LogRun(ctx context.Context, r store.RunRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.runs = append(s.runs, r)
	return nil
}

// Runs returns the most recent runs first.
func (s *Store) Runs(ctx context.Context, limit int) ([]store.RunRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit <= 0 || limit > len(s.runs) {
		limit = len(s.runs)
	}
	out := make([]store.RunRecord, 0, limit)
	for i := len(s.runs) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, s.runs[i])
	}
	return out, nil
}

func checkedKey(competitor string, src signal.SourceConfig) string {
	return competitor + "\x00" + string(src.Type) + "\x00" + src.URL
}
