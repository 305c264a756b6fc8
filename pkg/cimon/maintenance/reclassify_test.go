package maintenance

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/cognicore/cimon/pkg/cimon/ingest"
	"github.com/cognicore/cimon/pkg/cimon/signal"
	"github.com/cognicore/cimon/pkg/cimon/store/memstore"
)

func seed(t *testing.T, st *memstore.Store, sigs ...signal.Signal) {
	t.Helper()
	for _, s := range sigs {
		if _, err := st.Record(context.Background(), s); err != nil {
			t.Fatalf("Record: %v", err)
		}
	}
}

func TestReclassifyUpdatesChangedLabels(t *testing.T) {
	st := memstore.New()
	now := time.Now()
	seed(t, st,
		signal.Signal{Title: "Acme acquires Beta", Category: signal.CategoryGeneral, Fingerprint: "a", CollectedAt: now},
		signal.Signal{Title: "Acme launches Rocket", Category: signal.CategoryProduct, Fingerprint: "b", CollectedAt: now},
	)

	r := &Reclassifier{Store: st, Classifier: ingest.NewClassifier(ingest.DefaultRules())}
	res, err := r.Reclassify(context.Background())
	if err != nil {
		t.Fatalf("Reclassify: %v", err)
	}
	if res.Processed != 2 || res.Updated != 1 || res.Errors != 0 {
		t.Fatalf("unexpected result: %+v", res)
	}
	if len(res.Changes) != 1 || res.Changes[0].From != signal.CategoryGeneral || res.Changes[0].To != signal.CategoryAcquisition {
		t.Fatalf("unexpected changes: %+v", res.Changes)
	}

	sigs, _ := st.Signals(context.Background())
	if sigs[0].Category != signal.CategoryAcquisition {
		t.Errorf("stored category = %s, want Acquisition", sigs[0].Category)
	}
}

func TestReclassifyDryRun(t *testing.T) {
	st := memstore.New()
	seed(t, st, signal.Signal{Title: "Acme pricing changes", Category: signal.CategoryGeneral, Fingerprint: "p", CollectedAt: time.Now()})

	// Stored as General before the pricing trigger existed.
	rules := ingest.Rules{signal.CategoryPricing: {"pricing"}}
	r := &Reclassifier{Store: st, Classifier: ingest.NewClassifier(rules), DryRun: true}
	res, err := r.Reclassify(context.Background())
	if err != nil {
		t.Fatalf("Reclassify: %v", err)
	}
	if len(res.Changes) != 1 || res.Updated != 0 {
		t.Fatalf("dry run should report without writing: %+v", res)
	}

	sigs, _ := st.Signals(context.Background())
	if sigs[0].Category != signal.CategoryGeneral {
		t.Errorf("dry run wrote category %s", sigs[0].Category)
	}
}

type failingStore struct {
	sigs      []signal.Signal
	loadErr   error
	updateErr error
}

func (f *failingStore) Signals(ctx context.Context) ([]signal.Signal, error) {
	return f.sigs, f.loadErr
}

func (f *failingStore) UpdateCategory(ctx context.Context, fingerprint string, cat signal.Category) error {
	return f.updateErr
}

func TestReclassifyErrors(t *testing.T) {
	cls := ingest.NewClassifier(ingest.DefaultRules())

	if _, err := (&Reclassifier{}).Reclassify(context.Background()); err == nil {
		t.Error("expected configuration error")
	}

	loadErr := errors.New("disk gone")
	if _, err := (&Reclassifier{Store: &failingStore{loadErr: loadErr}, Classifier: cls}).Reclassify(context.Background()); !errors.Is(err, loadErr) {
		t.Errorf("expected load error, got %v", err)
	}

	st := &failingStore{
		sigs:      []signal.Signal{{Title: "Acme acquires Beta", Category: signal.CategoryGeneral, Fingerprint: "a"}},
		updateErr: errors.New("locked"),
	}
	res, err := (&Reclassifier{Store: st, Classifier: cls}).Reclassify(context.Background())
	if err != nil {
		t.Fatalf("update errors are counted, not returned: %v", err)
	}
	if res.Errors != 1 || res.Updated != 0 {
		t.Errorf("unexpected result: %+v", res)
	}
}
