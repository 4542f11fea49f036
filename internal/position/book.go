package position

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/quotix/stock-engine/internal/model"
)

// ErrShareNotFound is returned when a share id is not in the live set.
var ErrShareNotFound = errors.New("position: share not found")

// Book indexes the live shares scanned by the position engine. Settling a
// share removes it from the live set; the order's own state machine
// guarantees at-most-once settlement even when a manual close races the
// tick's stop check.
type Book struct {
	limits Limits

	mu          sync.RWMutex
	taxRate     decimal.Decimal
	shares      map[string]*Share
	byQuotation map[string]map[string]*Share
}

// NewBook creates an empty book with the given platform limits and flat tax
// rate on positive payouts.
func NewBook(limits Limits, taxRate decimal.Decimal) *Book {
	return &Book{
		limits:      limits,
		taxRate:     taxRate,
		shares:      make(map[string]*Share),
		byQuotation: make(map[string]map[string]*Share),
	}
}

// TaxRate returns the current flat tax rate.
func (b *Book) TaxRate() decimal.Decimal {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.taxRate
}

// SetTaxRate updates the flat tax rate applied to future settlements.
func (b *Book) SetTaxRate(rate decimal.Decimal) error {
	if rate.Sign() < 0 || rate.GreaterThanOrEqual(one) {
		return fmt.Errorf("position: tax rate %s outside [0, 1)", rate)
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.taxRate = rate
	return nil
}

// Limits returns the platform limits the book enforces.
func (b *Book) Limits() Limits { return b.limits }

// Open creates, configures and commits an order in one step, wraps it in a
// share for the holder, and adds it to the live set. The entry price is the
// quotation's current price at this instant, supplied by the caller.
func (b *Book) Open(owner, quotationID string, direction model.Direction, leverage, amount decimal.Decimal, minPrice, maxPrice decimal.NullDecimal, entryPrice decimal.Decimal, at time.Time) (*Share, error) {
	order, err := NewOrder(quotationID, direction, amount)
	if err != nil {
		return nil, err
	}
	if leverage.Sign() > 0 {
		if err := order.SetLeverage(leverage, b.limits); err != nil {
			return nil, err
		}
	}
	if err := b.limits.CheckExposure(order.Leverage(), amount); err != nil {
		return nil, err
	}
	if err := order.SetBounds(minPrice, maxPrice); err != nil {
		return nil, err
	}
	if err := order.Commit(entryPrice, at); err != nil {
		return nil, err
	}

	share := NewShare(owner, order)

	b.mu.Lock()
	defer b.mu.Unlock()
	b.shares[share.ID()] = share
	perQuotation, ok := b.byQuotation[quotationID]
	if !ok {
		perQuotation = make(map[string]*Share)
		b.byQuotation[quotationID] = perQuotation
	}
	perQuotation[share.ID()] = share
	return share, nil
}

// Get returns a live share by id.
func (b *Book) Get(shareID string) (*Share, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	share, ok := b.shares[shareID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrShareNotFound, shareID)
	}
	return share, nil
}

// CloseManual settles a share at the given price on the holder's request.
// Racing the scheduler is safe: whichever path closes the order first
// produces the only settlement, the loser observes ErrAlreadyClosed.
func (b *Book) CloseManual(shareID string, price decimal.Decimal, now time.Time) (model.Settlement, error) {
	share, err := b.Get(shareID)
	if err != nil {
		return model.Settlement{}, err
	}
	return b.settle(share, price, model.CloseManual, now)
}

// CheckStops evaluates every live share on the quotation against the fresh
// price and settles those whose stop bound is crossed. Called by the engine
// once per tick per quotation.
func (b *Book) CheckStops(quotationID string, price decimal.Decimal, now time.Time) []model.Settlement {
	var settlements []model.Settlement
	for _, share := range b.SharesByQuotation(quotationID) {
		if !share.Order().CheckStop(price) {
			continue
		}
		settlement, err := b.settle(share, price, model.CloseStop, now)
		if err != nil {
			continue // lost the race to a manual close
		}
		settlements = append(settlements, settlement)
	}
	return settlements
}

// ForceCloseQuotation settles every live share on the quotation at its last
// known price. Used when a quotation is removed or fails to survive reload.
func (b *Book) ForceCloseQuotation(quotationID string, price decimal.Decimal, now time.Time) []model.Settlement {
	var settlements []model.Settlement
	for _, share := range b.SharesByQuotation(quotationID) {
		settlement, err := b.settle(share, price, model.CloseDelisted, now)
		if err != nil {
			continue
		}
		settlements = append(settlements, settlement)
	}
	return settlements
}

// SharesByOwner returns the holder's live shares ordered by id.
func (b *Book) SharesByOwner(owner string) []*Share {
	b.mu.RLock()
	defer b.mu.RUnlock()

	var out []*Share
	for _, share := range b.shares {
		if share.Owner() == owner {
			out = append(out, share)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID() < out[j].ID() })
	return out
}

// LiveCount returns the number of live shares.
func (b *Book) LiveCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.shares)
}

// SharesByQuotation snapshots the live shares referencing a quotation so
// stop evaluation runs without holding the book lock.
func (b *Book) SharesByQuotation(quotationID string) []*Share {
	b.mu.RLock()
	defer b.mu.RUnlock()

	perQuotation := b.byQuotation[quotationID]
	out := make([]*Share, 0, len(perQuotation))
	for _, share := range perQuotation {
		out = append(out, share)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID() < out[j].ID() })
	return out
}

// settle realizes the order, removes the share from the live set, and builds
// the settlement record. The order's CLOSED transition is the linearization
// point: only the caller that wins it emits a settlement.
func (b *Book) settle(share *Share, price decimal.Decimal, reason model.CloseReason, now time.Time) (model.Settlement, error) {
	payout, tax, err := share.Order().Close(price, b.TaxRate())
	if err != nil {
		return model.Settlement{}, err
	}

	b.mu.Lock()
	delete(b.shares, share.ID())
	if perQuotation := b.byQuotation[share.Order().QuotationID()]; perQuotation != nil {
		delete(perQuotation, share.ID())
		if len(perQuotation) == 0 {
			delete(b.byQuotation, share.Order().QuotationID())
		}
	}
	b.mu.Unlock()

	return model.Settlement{
		ID:          uuid.New().String(),
		OrderID:     share.Order().ID(),
		ShareID:     share.ID(),
		Owner:       share.Owner(),
		QuotationID: share.Order().QuotationID(),
		ClosePrice:  price,
		Payout:      payout,
		Tax:         tax,
		Reason:      reason,
		ClosedAt:    now,
	}, nil
}
