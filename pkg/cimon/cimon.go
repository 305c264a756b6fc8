// Package cimon runs the competitive-intelligence pipeline: collect from the
// configured sources, normalize, classify, deduplicate, persist and report.
package cimon

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/cognicore/cimon/pkg/cimon/dedup"
	"github.com/cognicore/cimon/pkg/cimon/ingest"
	"github.com/cognicore/cimon/pkg/cimon/internalerr"
	"github.com/cognicore/cimon/pkg/cimon/report"
	"github.com/cognicore/cimon/pkg/cimon/signal"
	"github.com/cognicore/cimon/pkg/cimon/source"
	"github.com/cognicore/cimon/pkg/cimon/store"
)

const (
	DefaultLookback      = 24 * time.Hour
	DefaultReportWindow  = 24 * time.Hour
	DefaultSourceTimeout = 30 * time.Second
	maxWorkers           = 8
)

// Target pairs a competitor with one of its source adapters.
type Target struct {
	Competitor signal.Competitor
	Adapter    source.Adapter
}

// Reporter is the downstream consumer of a finished run.
type Reporter interface {
	Report(ctx context.Context, d report.Digest) error
}

// Monitor is the pipeline orchestrator
type Monitor struct {
	store          store.Store
	pipeline       *ingest.Pipeline
	targets        []Target
	configFailures []Failure
	workers        int
	sourceTimeout  time.Duration
	lookback       time.Duration
	requireMatch   bool
	reporter       Reporter
	reportWindow   time.Duration
	log            *zap.Logger
	now            func() time.Time

	entropyMu sync.Mutex
	entropy   *ulid.MonotonicEntropy
}

// Options configures a Monitor
type Options struct {
	Store    store.Store
	Pipeline *ingest.Pipeline
	Targets  []Target
	// ConfigFailures are problems found while loading the registry. They are
	// copied into every run summary.
	ConfigFailures []Failure

	Workers             int
	SourceTimeout       time.Duration
	Lookback            time.Duration
	RequireKeywordMatch bool

	Reporter     Reporter
	ReportWindow time.Duration

	Logger *zap.Logger
	Now    func() time.Time
}

// New creates a Monitor with the given dependencies
func New(opts Options) *Monitor {
	m := &Monitor{
		store:          opts.Store,
		pipeline:       opts.Pipeline,
		targets:        opts.Targets,
		configFailures: opts.ConfigFailures,
		workers:        opts.Workers,
		sourceTimeout:  opts.SourceTimeout,
		lookback:       opts.Lookback,
		requireMatch:   opts.RequireKeywordMatch,
		reporter:       opts.Reporter,
		reportWindow:   opts.ReportWindow,
		log:            opts.Logger,
		now:            opts.Now,
		entropy:        ulid.Monotonic(rand.Reader, 0),
	}
	if m.now == nil {
		m.now = time.Now
	}
	if m.pipeline == nil {
		n := ingest.NewNormalizer()
		n.Now = m.now
		m.pipeline = ingest.NewPipeline(n, nil)
	}
	if m.workers <= 0 {
		m.workers = len(m.targets)
		if m.workers > maxWorkers {
			m.workers = maxWorkers
		}
		if m.workers == 0 {
			m.workers = 1
		}
	}
	if m.sourceTimeout <= 0 {
		m.sourceTimeout = DefaultSourceTimeout
	}
	if m.lookback <= 0 {
		m.lookback = DefaultLookback
	}
	if m.reportWindow <= 0 {
		m.reportWindow = DefaultReportWindow
	}
	if m.log == nil {
		m.log = zap.NewNop()
	}
	return m
}

// Close releases the store
func (m *Monitor) Close() error {
	return m.store.Close()
}

// Store returns the underlying store
func (m *Monitor) Store() store.Store {
	return m.store
}

// InitStorage seeds the competitor registry into the store
func (m *Monitor) InitStorage(ctx context.Context, comps []signal.Competitor) error {
	if err := m.store.SeedCompetitors(ctx, comps); err != nil {
		return fmt.Errorf("seed competitors: %w", err)
	}
	m.log.Info("storage initialized", zap.Int("competitors", len(comps)))
	return nil
}

// SendTestReport sends a sample digest without collecting anything
func (m *Monitor) SendTestReport(ctx context.Context) error {
	if m.reporter == nil {
		return fmt.Errorf("%w: no reporter configured", internalerr.ErrInvalidConfig)
	}
	if err := m.reporter.Report(ctx, report.SampleDigest(m.now())); err != nil {
		return fmt.Errorf("send test report: %w", err)
	}
	return nil
}

type collection struct {
	items []signal.RawItem
	err   error
	at    time.Time
	took  time.Duration
}

// Run executes one full pipeline pass. Per-source, per-item and per-write
// failures are recorded in the summary; only a run with no sources at all
// returns an error.
func (m *Monitor) Run(ctx context.Context) (Summary, error) {
	started := m.now()
	sum := Summary{
		RunID:      m.newRunID(started),
		StartedAt:  started,
		Sources:    len(m.targets),
		ByCategory: make(map[signal.Category]int),
	}
	sum.Failures = append(sum.Failures, m.configFailures...)
	log := m.log.With(zap.String("run_id", sum.RunID))

	for _, f := range m.configFailures {
		log.Warn("configuration problem",
			zap.String("competitor", f.Competitor),
			zap.String("source", f.Source),
			zap.String("kind", string(f.Kind)),
			zap.Error(f.Err))
	}

	if len(m.targets) == 0 {
		sum.State = StateFailed
		sum.FinishedAt = m.now()
		log.Error("no sources configured, nothing to collect")
		return sum, internalerr.ErrNoSources
	}

	log.Info("collecting",
		zap.Int("sources", len(m.targets)),
		zap.Int("workers", m.workers),
		zap.Duration("lookback", m.lookback))
	results := m.collect(ctx)

	dd := dedup.New(m.store)
	for i, t := range m.targets {
		m.process(ctx, log, t, results[i], dd, &sum)
	}

	sum.State = sum.state()
	log.Info("signals persisted",
		zap.Int("collected", sum.Collected),
		zap.Int("persisted", sum.Persisted),
		zap.Int("duplicates", sum.Duplicates),
		zap.Int("malformed", sum.Malformed),
		zap.Int("irrelevant", sum.Irrelevant),
		zap.Int("failures", len(sum.Failures)))

	m.report(ctx, log, &sum)

	sum.State = sum.state()
	sum.FinishedAt = m.now()
	if err := m.store.LogRun(ctx, sum.Record()); err != nil {
		log.Warn("failed to log run", zap.Error(err))
	}

	log.Info("run finished",
		zap.String("state", string(sum.State)),
		zap.Duration("duration", sum.Duration()))
	return sum, nil
}

// collect runs every adapter on a bounded pool. Each result lands in the
// slot of its target so later stages see configuration order.
func (m *Monitor) collect(ctx context.Context) []collection {
	results := make([]collection, len(m.targets))

	var g errgroup.Group
	g.SetLimit(m.workers)
	for i, t := range m.targets {
		g.Go(func() error {
			results[i] = m.collectOne(ctx, t)
			return nil
		})
	}
	_ = g.Wait()
	return results
}

func (m *Monitor) collectOne(ctx context.Context, t Target) (res collection) {
	start := m.now()
	cctx, cancel := context.WithTimeout(ctx, m.sourceTimeout)
	defer cancel()

	defer func() {
		if r := recover(); r != nil {
			res = collection{err: fmt.Errorf("%w: adapter panic: %v", internalerr.ErrSourceUnavailable, r)}
		}
		res.took = m.now().Sub(start)
	}()

	items, err := t.Adapter.Collect(cctx, t.Competitor, m.lookback)
	if err != nil && errors.Is(err, context.DeadlineExceeded) && !errors.Is(err, internalerr.ErrSourceUnavailable) {
		err = fmt.Errorf("%w: %w", internalerr.ErrSourceUnavailable, err)
	}
	return collection{items: items, err: err, at: m.now()}
}

// process drives one target's items through the local stages and the store.
func (m *Monitor) process(ctx context.Context, log *zap.Logger, t Target, res collection, dd *dedup.Deduplicator, sum *Summary) {
	comp := t.Competitor
	name := t.Adapter.Name()

	if res.err != nil {
		f := Failure{Stage: StageCollect, Kind: KindOf(res.err), Competitor: comp.Name, Source: name, Err: res.err}
		sum.Failures = append(sum.Failures, f)
		if !source.IsPartial(res.err) {
			sum.SourcesFailed++
			log.Warn("source failed",
				zap.String("competitor", comp.Name),
				zap.String("source", name),
				zap.String("kind", string(f.Kind)),
				zap.Duration("took", res.took),
				zap.Error(res.err))
			return
		}
		log.Warn("source partially failed",
			zap.String("competitor", comp.Name),
			zap.String("source", name),
			zap.String("kind", string(f.Kind)),
			zap.Int("items", len(res.items)),
			zap.Error(res.err))
	}

	sum.Collected += len(res.items)
	log.Debug("source collected",
		zap.String("competitor", comp.Name),
		zap.String("source", name),
		zap.Int("items", len(res.items)),
		zap.Duration("took", res.took))

	if err := m.store.MarkChecked(ctx, comp.Name, t.Adapter.Config(), res.at); err != nil {
		log.Warn("failed to mark source checked", zap.String("source", name), zap.Error(err))
	}

	for _, raw := range res.items {
		sig, err := m.pipeline.Process(raw, comp)
		if err != nil {
			sum.Malformed++
			log.Info("dropping item",
				zap.String("kind", string(KindOf(err))),
				zap.String("competitor", comp.Name),
				zap.String("source", name),
				zap.String("title", raw.Title),
				zap.Error(err))
			continue
		}
		sum.Classified++

		if m.requireMatch && !ingest.MentionsCompetitor(sig, comp) {
			sum.Irrelevant++
			continue
		}

		dup, err := dd.IsDuplicate(ctx, &sig)
		if err != nil {
			log.Warn("history lookup failed, treating signal as new",
				zap.String("fingerprint", sig.Fingerprint),
				zap.Error(err))
		}
		if dup {
			sum.Duplicates++
			continue
		}

		inserted, err := m.store.Record(ctx, sig)
		if err != nil {
			if !errors.Is(err, internalerr.ErrStoreWrite) {
				err = fmt.Errorf("%w: %v", internalerr.ErrStoreWrite, err)
			}
			sum.Failures = append(sum.Failures, Failure{
				Stage: StagePersist, Kind: KindStoreWrite, Competitor: comp.Name, Source: name, Err: err,
			})
			log.Error("failed to record signal",
				zap.String("competitor", comp.Name),
				zap.String("title", sig.Title),
				zap.Error(err))
			continue
		}
		// Only a signal that reached the store claims its fingerprint.
		dd.Accept(sig.Fingerprint)
		if !inserted {
			sum.Duplicates++
			continue
		}
		sum.Persisted++
		sum.ByCategory[sig.Category]++
	}
}

// report hands the digest of recent signals to the reporter. A failure is
// recorded but does not fail the run.
func (m *Monitor) report(ctx context.Context, log *zap.Logger, sum *Summary) {
	if m.reporter == nil {
		return
	}

	fail := func(err error) {
		sum.Failures = append(sum.Failures, Failure{Stage: StageReport, Kind: KindReport, Err: err})
		log.Error("report failed", zap.Error(err))
	}

	signals, err := m.store.Recent(ctx, "", m.now().Add(-m.reportWindow))
	if err != nil {
		fail(fmt.Errorf("load recent signals: %w", err))
		return
	}

	stats := sum.reportStats()
	d := report.Digest{
		GeneratedAt: m.now(),
		Window:      m.reportWindow,
		Signals:     signals,
		Run:         &stats,
	}
	if err := m.reporter.Report(ctx, d); err != nil {
		fail(err)
		return
	}
	sum.Reported = true
}

func (m *Monitor) newRunID(t time.Time) string {
	m.entropyMu.Lock()
	defer m.entropyMu.Unlock()
	return ulid.MustNew(ulid.Timestamp(t), m.entropy).String()
}

// describeFailures renders failures one per line for the run log.
func describeFailures(fs []Failure) string {
	lines := make([]string, 0, len(fs))
	for _, f := range fs {
		lines = append(lines, f.String())
	}
	return strings.Join(lines, "\n")
}
