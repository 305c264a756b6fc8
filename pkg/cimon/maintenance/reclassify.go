package maintenance

import (
	"context"
	"errors"
	"fmt"

	"github.com/cognicore/cimon/pkg/cimon/ingest"
	"github.com/cognicore/cimon/pkg/cimon/signal"
)

// SignalStore is the part of the store a reclassification pass needs.
type SignalStore interface {
	Signals(ctx context.Context) ([]signal.Signal, error)
	UpdateCategory(ctx context.Context, fingerprint string, cat signal.Category) error
}

// Reclassifier relabels stored signals after a rules change.
type Reclassifier struct {
	Store      SignalStore
	Classifier *ingest.Classifier
	DryRun     bool
}

// Change is one signal whose category moved.
type Change struct {
	Fingerprint string
	Title       string
	From        signal.Category
	To          signal.Category
}

// Result summarizes the reclassification run.
type Result struct {
	Processed int
	Updated   int
	Errors    int
	Changes   []Change
}

// Reclassify runs every stored signal through the classifier and persists
// labels that differ. In dry-run mode changes are reported but not written.
func (r *Reclassifier) Reclassify(ctx context.Context) (Result, error) {
	var res Result
	if r.Store == nil || r.Classifier == nil {
		return res, errors.New("reclassifier: invalid configuration")
	}

	signals, err := r.Store.Signals(ctx)
	if err != nil {
		return res, fmt.Errorf("load signals: %w", err)
	}

	for _, s := range signals {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		res.Processed++

		cat := r.Classifier.Classify(s.Title, s.Summary)
		if cat == s.Category {
			continue
		}
		res.Changes = append(res.Changes, Change{
			Fingerprint: s.Fingerprint,
			Title:       s.Title,
			From:        s.Category,
			To:          cat,
		})
		if r.DryRun {
			continue
		}
		if err := r.Store.UpdateCategory(ctx, s.Fingerprint, cat); err != nil {
			res.Errors++
			continue
		}
		res.Updated++
	}
	return res, nil
}
