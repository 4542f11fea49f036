package store

import (
	"context"
	"errors"
	"testing"

	"github.com/quotix/stock-engine/internal/model"
)

// failingStore errors on every insert.
type failingStore struct {
	*MemoryStore
}

func (failingStore) InsertSettlement(context.Context, model.Settlement) error {
	return errors.New("insert failed")
}

func TestLedger_SettleRecordsBatch(t *testing.T) {
	mem := NewMemoryStore()
	ledger := NewLedger(mem)
	ctx := context.Background()

	batch := []model.Settlement{
		{ID: "s1", Owner: "alice", QuotationID: "acme", Payout: d(100), Reason: model.CloseStop, ClosedAt: t0},
		{ID: "s2", Owner: "bob", QuotationID: "acme", Payout: d(50), Reason: model.CloseManual, ClosedAt: t0},
	}
	if err := ledger.Settle(ctx, batch); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	got, _ := mem.SettlementsByQuotation(ctx, "acme")
	if len(got) != 2 {
		t.Errorf("expected 2 ledger rows, got %d", len(got))
	}
}

func TestLedger_SettleReportsInsertFailures(t *testing.T) {
	ledger := NewLedger(failingStore{NewMemoryStore()})
	err := ledger.Settle(context.Background(), []model.Settlement{
		{ID: "s1", Owner: "alice", QuotationID: "acme", Payout: d(100), ClosedAt: t0},
	})
	if err == nil {
		t.Error("expected error when inserts fail")
	}
}

func TestLedger_DividendRecordsRow(t *testing.T) {
	mem := NewMemoryStore()
	ledger := NewLedger(mem)
	ctx := context.Background()

	if err := ledger.Dividend(ctx, "alice", "acme", d(5)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	got, _ := mem.SettlementsByOwner(ctx, "alice")
	if len(got) != 1 {
		t.Fatalf("expected 1 row, got %d", len(got))
	}
	if got[0].Reason != model.CloseDividend {
		t.Errorf("expected DIVIDEND, got %s", got[0].Reason)
	}
	if !got[0].Payout.Equal(d(5)) {
		t.Errorf("expected payout 5, got %s", got[0].Payout)
	}
	if !got[0].Tax.IsZero() {
		t.Errorf("dividends are untaxed, got %s", got[0].Tax)
	}
}
