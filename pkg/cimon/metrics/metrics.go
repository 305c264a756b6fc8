// Package metrics exports run summaries as Prometheus gauges. A batch job has
// no scrape endpoint, so gauges are written to a node_exporter textfile.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/cognicore/cimon/pkg/cimon"
	"github.com/cognicore/cimon/pkg/cimon/signal"
)

const namespace = "cimon"

// Recorder holds the gauges of the most recent run.
type Recorder struct {
	reg *prometheus.Registry

	lastRun       prometheus.Gauge
	lastSuccess   prometheus.Gauge
	duration      prometheus.Gauge
	items         *prometheus.GaugeVec
	persisted     *prometheus.GaugeVec
	failures      *prometheus.GaugeVec
	sourcesFailed prometheus.Gauge
	state         *prometheus.GaugeVec
}

// New registers the run gauges on a private registry.
func New() *Recorder {
	r := &Recorder{reg: prometheus.NewRegistry()}

	r.lastRun = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "last_run_timestamp_seconds",
		Help:      "Unix time the last run finished",
	})
	r.lastSuccess = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "last_success_timestamp_seconds",
		Help:      "Unix time the last run finished without failures",
	})
	r.duration = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "run_duration_seconds",
		Help:      "Wall time of the last run",
	})
	r.items = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "run_items",
		Help:      "Items seen by the last run, by pipeline outcome",
	}, []string{"outcome"})
	r.persisted = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "run_signals_persisted",
		Help:      "New signals persisted by the last run, by category",
	}, []string{"category"})
	r.failures = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "run_failures",
		Help:      "Failures recorded by the last run, by kind",
	}, []string{"kind"})
	r.sourcesFailed = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "run_sources_failed",
		Help:      "Sources that failed during the last run",
	})
	r.state = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "run_state",
		Help:      "1 for the terminal state of the last run, 0 otherwise",
	}, []string{"state"})

	r.reg.MustRegister(r.lastRun, r.lastSuccess, r.duration, r.items, r.persisted, r.failures, r.sourcesFailed, r.state)
	return r
}

// Registry exposes the underlying registry.
func (r *Recorder) Registry() *prometheus.Registry {
	return r.reg
}

// Observe replaces the gauges with the values of s.
func (r *Recorder) Observe(s cimon.Summary) {
	finished := float64(s.FinishedAt.Unix())
	r.lastRun.Set(finished)
	if s.State == cimon.StateDone {
		r.lastSuccess.Set(finished)
	}
	r.duration.Set(s.Duration().Seconds())

	r.items.WithLabelValues("collected").Set(float64(s.Collected))
	r.items.WithLabelValues("malformed").Set(float64(s.Malformed))
	r.items.WithLabelValues("irrelevant").Set(float64(s.Irrelevant))
	r.items.WithLabelValues("duplicate").Set(float64(s.Duplicates))
	r.items.WithLabelValues("persisted").Set(float64(s.Persisted))

	r.persisted.Reset()
	for _, c := range append(append([]signal.Category{}, signal.CategoryPriority...), signal.CategoryGeneral) {
		r.persisted.WithLabelValues(string(c)).Set(float64(s.ByCategory[c]))
	}

	r.failures.Reset()
	for _, k := range []cimon.Kind{
		cimon.KindSourceUnavailable,
		cimon.KindQuotaExceeded,
		cimon.KindStoreWrite,
		cimon.KindConfiguration,
		cimon.KindReport,
		cimon.KindUnknown,
	} {
		r.failures.WithLabelValues(string(k)).Set(float64(len(s.FailuresOf(k))))
	}
	r.sourcesFailed.Set(float64(s.SourcesFailed))

	for _, st := range []cimon.State{cimon.StateDone, cimon.StatePartial, cimon.StateFailed} {
		v := 0.0
		if s.State == st {
			v = 1
		}
		r.state.WithLabelValues(string(st)).Set(v)
	}
}

// WriteTextfile atomically writes the gauges in the text exposition format.
func (r *Recorder) WriteTextfile(path string) error {
	return prometheus.WriteToTextfile(path, r.reg)
}
