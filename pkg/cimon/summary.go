package cimon

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cognicore/cimon/pkg/cimon/internalerr"
	"github.com/cognicore/cimon/pkg/cimon/report"
	"github.com/cognicore/cimon/pkg/cimon/signal"
	"github.com/cognicore/cimon/pkg/cimon/store"
)

// State is the terminal state of a run.
type State string

const (
	StateDone    State = "done"
	StatePartial State = "partial"
	StateFailed  State = "failed"
)

// Stage names the pipeline step where a failure happened.
type Stage string

const (
	StageConfig  Stage = "config"
	StageCollect Stage = "collect"
	StagePersist Stage = "persist"
	StageReport  Stage = "report"
)

// Kind classifies a failure for operators.
type Kind string

const (
	KindSourceUnavailable Kind = "source_unavailable"
	KindQuotaExceeded     Kind = "quota_exceeded"
	KindMalformedItem     Kind = "malformed_item"
	KindStoreWrite        Kind = "store_write"
	KindConfiguration     Kind = "configuration"
	KindReport            Kind = "report"
	KindUnknown           Kind = "unknown"
)

// KindOf maps an error onto the failure taxonomy. Quota is checked before
// availability so throttling is never reported as an outage.
func KindOf(err error) Kind {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, internalerr.ErrQuotaExceeded):
		return KindQuotaExceeded
	case errors.Is(err, internalerr.ErrInvalidConfig), errors.Is(err, internalerr.ErrNoSources):
		return KindConfiguration
	case errors.Is(err, internalerr.ErrSourceUnavailable),
		errors.Is(err, context.DeadlineExceeded),
		errors.Is(err, context.Canceled):
		return KindSourceUnavailable
	case errors.Is(err, internalerr.ErrMalformedItem):
		return KindMalformedItem
	case errors.Is(err, internalerr.ErrStoreWrite):
		return KindStoreWrite
	default:
		return KindUnknown
	}
}

// Failure is one recovered problem of a run.
type Failure struct {
	Stage      Stage
	Kind       Kind
	Competitor string
	Source     string
	Err        error
}

func (f Failure) String() string {
	where := f.Competitor
	if f.Source != "" {
		if where != "" {
			where += " "
		}
		where += f.Source
	}
	if where == "" {
		where = string(f.Stage)
	}
	msg := "<nil>"
	if f.Err != nil {
		msg = f.Err.Error()
	}
	return fmt.Sprintf("%s [%s] %s", where, f.Kind, msg)
}

// Summary aggregates one run. It is what the reporter and the run log see.
type Summary struct {
	RunID      string
	StartedAt  time.Time
	FinishedAt time.Time

	Sources       int
	SourcesFailed int
	Collected     int
	Malformed     int
	Classified    int
	Irrelevant    int
	Duplicates    int
	Persisted     int
	ByCategory    map[signal.Category]int

	Failures []Failure
	Reported bool
	State    State
}

// Duration returns the wall time of the run
func (s Summary) Duration() time.Duration {
	return s.FinishedAt.Sub(s.StartedAt)
}

// FailuresOf returns the failures of the given kind
func (s Summary) FailuresOf(kind Kind) []Failure {
	var out []Failure
	for _, f := range s.Failures {
		if f.Kind == kind {
			out = append(out, f)
		}
	}
	return out
}

func (s Summary) state() State {
	switch {
	case s.Sources > 0 && s.SourcesFailed == s.Sources:
		return StateFailed
	case len(s.Failures) > 0:
		return StatePartial
	default:
		return StateDone
	}
}

// Record converts the summary into a run-log row
func (s Summary) Record() store.RunRecord {
	return store.RunRecord{
		ID:         s.RunID,
		StartedAt:  s.StartedAt,
		FinishedAt: s.FinishedAt,
		Collected:  s.Collected,
		Persisted:  s.Persisted,
		Duplicates: s.Duplicates,
		Failures:   len(s.Failures),
		Errors:     describeFailures(s.Failures),
	}
}

func (s Summary) reportStats() report.RunStats {
	failures := make([]string, 0, len(s.Failures))
	for _, f := range s.Failures {
		failures = append(failures, f.String())
	}
	return report.RunStats{
		ID:         s.RunID,
		State:      string(s.state()),
		Collected:  s.Collected,
		Persisted:  s.Persisted,
		Duplicates: s.Duplicates,
		Failures:   failures,
	}
}
