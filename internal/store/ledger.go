package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/quotix/stock-engine/internal/model"
)

// Ledger adapts a Store into the engine's settlement sink: every settlement
// and dividend credit becomes an immutable ledger row, and each one is
// logged for the notification collaborator.
type Ledger struct {
	store Store
}

// NewLedger creates a store-backed settlement sink.
func NewLedger(st Store) *Ledger {
	return &Ledger{store: st}
}

// Settle records a settlement batch. A failed insert does not abort the rest
// of the batch; the combined error reports every failure.
func (l *Ledger) Settle(ctx context.Context, batch []model.Settlement) error {
	var errs []error
	for _, st := range batch {
		if err := l.store.InsertSettlement(ctx, st); err != nil {
			errs = append(errs, fmt.Errorf("settlement %s: %w", st.ID, err))
			continue
		}
		slog.Info("order settled",
			"order", st.OrderID,
			"owner", st.Owner,
			"quotation", st.QuotationID,
			"payout", st.Payout.String(),
			"tax", st.Tax.String(),
			"reason", string(st.Reason),
		)
	}
	return errors.Join(errs...)
}

// Dividend records a dividend credit as a ledger row without an order id.
func (l *Ledger) Dividend(ctx context.Context, owner, quotationID string, amount decimal.Decimal) error {
	st := model.Settlement{
		ID:          uuid.New().String(),
		Owner:       owner,
		QuotationID: quotationID,
		Payout:      amount,
		Reason:      model.CloseDividend,
		ClosedAt:    time.Now().UTC(),
	}
	if err := l.store.InsertSettlement(ctx, st); err != nil {
		return fmt.Errorf("dividend for %s on %s: %w", owner, quotationID, err)
	}
	slog.Info("dividend credited", "owner", owner, "quotation", quotationID, "amount", amount.String())
	return nil
}
