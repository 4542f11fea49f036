// Package store defines the persistence interface for the stock engine.
// Implementations include PostgreSQL (source of truth), Redis (read-through
// cache), and in-memory (for testing and feed-less development).
package store

import (
	"context"

	"github.com/quotix/stock-engine/internal/model"
)

// Store is the persistence interface. Quotation snapshots carry the minimal
// reload schema (identity, price model, series); settlements are an
// immutable append-only ledger.
type Store interface {
	// --- Quotation snapshots ---

	// SaveQuotation upserts a quotation snapshot, replacing any persisted
	// series with the snapshot's.
	SaveQuotation(ctx context.Context, snap model.QuotationSnapshot) error

	// LoadQuotations returns every persisted snapshot with its series.
	LoadQuotations(ctx context.Context) ([]model.QuotationSnapshot, error)

	// DeleteQuotation removes a snapshot and its series.
	DeleteQuotation(ctx context.Context, id string) error

	// --- Immutable settlement ledger ---

	// InsertSettlement appends a settlement record.
	InsertSettlement(ctx context.Context, s model.Settlement) error

	// SettlementsByOwner returns a holder's settlements, oldest first.
	SettlementsByOwner(ctx context.Context, owner string) ([]model.Settlement, error)

	// SettlementsByQuotation returns a quotation's settlements, oldest first.
	SettlementsByQuotation(ctx context.Context, quotationID string) ([]model.Settlement, error)
}
