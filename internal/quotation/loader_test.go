package quotation

import (
	"errors"
	"testing"
	"time"

	"github.com/quotix/stock-engine/internal/model"
)

func TestLoader_BuildVirtual(t *testing.T) {
	q, err := Loader{}.Build(model.QuotationSnapshot{
		ID:          "Acme Corp",
		CompanyName: "Acme",
		StockName:   "ACM",
		Type:        model.TypeVirtual,
		Price:       d(100),
		Volatility:  d(0.1),
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if q.ID() != "acme-corp" {
		t.Errorf("expected normalized id, got %s", q.ID())
	}
	if _, ok := q.source.(*VirtualSource); !ok {
		t.Errorf("expected virtual source, got %T", q.source)
	}
}

func TestLoader_BuildVirtualRequiresPositivePrice(t *testing.T) {
	_, err := Loader{}.Build(model.QuotationSnapshot{
		ID:   "acme",
		Type: model.TypeVirtual,
	})
	if !errors.Is(err, ErrInvalidSnapshot) {
		t.Errorf("expected ErrInvalidSnapshot, got %v", err)
	}
}

func TestLoader_BuildRealStockRequiresSymbol(t *testing.T) {
	_, err := Loader{}.Build(model.QuotationSnapshot{
		ID:    "acme",
		Type:  model.TypeRealStock,
		Price: d(100),
	})
	if !errors.Is(err, ErrInvalidSnapshot) {
		t.Errorf("expected ErrInvalidSnapshot, got %v", err)
	}
}

func TestLoader_BuildUnknownType(t *testing.T) {
	_, err := Loader{}.Build(model.QuotationSnapshot{
		ID:    "acme",
		Type:  "imaginary",
		Price: d(100),
	})
	if !errors.Is(err, ErrInvalidSnapshot) {
		t.Errorf("expected ErrInvalidSnapshot, got %v", err)
	}
}

func TestLoader_BuildRestoresSeries(t *testing.T) {
	t0 := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	q, err := Loader{}.Build(model.QuotationSnapshot{
		ID:    "acme",
		Type:  model.TypeVirtual,
		Price: d(100),
		Series: []model.PriceSample{
			{Timestamp: t0, Price: d(90)},
			{Timestamp: t0.Add(time.Second), Price: d(95)},
		},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if q.SampleCount() != 2 {
		t.Errorf("expected restored series, got %d samples", q.SampleCount())
	}
	if !q.Price().Equal(d(95)) {
		t.Errorf("expected newest restored price 95, got %s", q.Price())
	}
}

func TestLoader_BuildAllIsolatesFailures(t *testing.T) {
	snaps := []model.QuotationSnapshot{
		{ID: "good", Type: model.TypeVirtual, Price: d(100)},
		{ID: "bad", Type: "imaginary", Price: d(100)},
		{ID: "Good", Type: model.TypeVirtual, Price: d(50)}, // duplicate after normalization
	}
	built, errs := Loader{}.BuildAll(snaps)
	if len(built) != 1 || built[0].ID() != "good" {
		t.Errorf("expected exactly the good quotation, got %d", len(built))
	}
	if len(errs) != 2 {
		t.Errorf("expected 2 errors, got %d: %v", len(errs), errs)
	}
}

func TestLoader_SeedStablePerID(t *testing.T) {
	l := Loader{}
	if l.seed("acme") != l.seed("acme") {
		t.Error("seed must be stable for the same id")
	}
	if l.seed("acme") == l.seed("other") {
		t.Error("different ids should get different seeds")
	}
}
