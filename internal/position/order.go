// Package position implements leveraged order accounting: the order state
// machine (PENDING → LIVE → CLOSED), unrealized/realized P&L, stop-bound
// evaluation, the tradable share wrapper, and the live-order book scanned by
// the position engine each tick.
//
// All monetary values use shopspring/decimal — never float64 for money.
package position

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/quotix/stock-engine/internal/model"
)

var (
	// ErrAlreadyClosed is returned when acting on a settled order.
	ErrAlreadyClosed = errors.New("position: order already closed")

	// ErrOrderAlreadyOpen is returned when changing leverage on a live
	// order; leverage and entry price freeze on commit.
	ErrOrderAlreadyOpen = errors.New("position: order already live")

	// ErrNotLive is returned when closing or stop-checking an order that
	// has not been committed yet.
	ErrNotLive = errors.New("position: order not live")

	// ErrInvalidAmount is returned for a non-positive principal.
	ErrInvalidAmount = errors.New("position: amount must be positive")

	// ErrInvalidBounds is returned when stop bounds do not bracket the
	// entry price (min < entry < max, with either side optional).
	ErrInvalidBounds = errors.New("position: stop bounds must bracket the entry price")

	// ErrZeroEntryPrice guards P&L division: an entry or reference price of
	// zero must fail explicitly rather than propagate NaN or infinity.
	ErrZeroEntryPrice = errors.New("position: entry price is zero")
)

var one = decimal.NewFromInt(1)

// Order is a leveraged position against one quotation. A pending order may
// still have its leverage and bounds edited; committing freezes leverage and
// fixes the entry price; closing is terminal.
type Order struct {
	id          string
	quotationID string
	direction   model.Direction

	mu         sync.Mutex
	status     model.OrderStatus
	leverage   decimal.Decimal
	amount     decimal.Decimal
	entryPrice decimal.Decimal
	minPrice   decimal.NullDecimal
	maxPrice   decimal.NullDecimal
	openedAt   time.Time
	closePrice decimal.Decimal
}

// NewOrder creates a pending order with leverage 1.
func NewOrder(quotationID string, direction model.Direction, amount decimal.Decimal) (*Order, error) {
	if !direction.Valid() {
		return nil, fmt.Errorf("position: unknown direction %q", direction)
	}
	if amount.Sign() <= 0 {
		return nil, fmt.Errorf("%w: %s", ErrInvalidAmount, amount)
	}
	return &Order{
		id:          uuid.New().String(),
		quotationID: quotationID,
		direction:   direction,
		status:      model.StatusPending,
		leverage:    one,
		amount:      amount,
	}, nil
}

func (o *Order) ID() string                 { return o.id }
func (o *Order) QuotationID() string        { return o.quotationID }
func (o *Order) Direction() model.Direction { return o.direction }

// Status returns the current lifecycle state.
func (o *Order) Status() model.OrderStatus {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.status
}

// SetLeverage updates the multiplier on a pending order within the platform
// limits. Live orders reject the change: leverage is frozen on commit.
func (o *Order) SetLeverage(leverage decimal.Decimal, limits Limits) error {
	if err := limits.CheckLeverage(leverage); err != nil {
		return err
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	switch o.status {
	case model.StatusClosed:
		return fmt.Errorf("%w: %s", ErrAlreadyClosed, o.id)
	case model.StatusLive:
		return fmt.Errorf("%w: %s", ErrOrderAlreadyOpen, o.id)
	}
	o.leverage = leverage
	return nil
}

// SetBounds updates the stop bounds. Bounds stay editable while the order is
// live; on a live order they must bracket the frozen entry price.
func (o *Order) SetBounds(minPrice, maxPrice decimal.NullDecimal) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.status == model.StatusClosed {
		return fmt.Errorf("%w: %s", ErrAlreadyClosed, o.id)
	}
	if minPrice.Valid && maxPrice.Valid && !minPrice.Decimal.LessThan(maxPrice.Decimal) {
		return fmt.Errorf("%w: min %s >= max %s", ErrInvalidBounds, minPrice.Decimal, maxPrice.Decimal)
	}
	if o.status == model.StatusLive {
		if err := validateBounds(minPrice, maxPrice, o.entryPrice); err != nil {
			return err
		}
	}
	o.minPrice = minPrice
	o.maxPrice = maxPrice
	return nil
}

// Bounds returns the current stop bounds.
func (o *Order) Bounds() (minPrice, maxPrice decimal.NullDecimal) {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.minPrice, o.maxPrice
}

// Commit transitions PENDING → LIVE, fixing the entry price. Bounds set
// while pending are validated against the entry price now.
func (o *Order) Commit(entryPrice decimal.Decimal, at time.Time) error {
	if entryPrice.Sign() <= 0 {
		return fmt.Errorf("%w: %s", ErrZeroEntryPrice, entryPrice)
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	switch o.status {
	case model.StatusClosed:
		return fmt.Errorf("%w: %s", ErrAlreadyClosed, o.id)
	case model.StatusLive:
		return fmt.Errorf("%w: %s", ErrOrderAlreadyOpen, o.id)
	}
	if err := validateBounds(o.minPrice, o.maxPrice, entryPrice); err != nil {
		return err
	}

	o.entryPrice = entryPrice
	o.openedAt = at
	o.status = model.StatusLive
	return nil
}

// Leverage returns the current multiplier.
func (o *Order) Leverage() decimal.Decimal {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.leverage
}

// Amount returns the unleveraged principal.
func (o *Order) Amount() decimal.Decimal { return o.amount }

// EntryPrice returns the frozen entry price (zero while pending).
func (o *Order) EntryPrice() decimal.Decimal {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.entryPrice
}

// OpenedAt returns the commit instant (zero while pending).
func (o *Order) OpenedAt() time.Time {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.openedAt
}

// UnrealizedPnL computes the P&L at price p:
//
//	LONG:  leverage × amount × (p − entry) / entry
//	SHORT: leverage × amount × (entry − p) / entry
//
// Leverage scales gains and losses linearly; amount is the unleveraged
// principal.
func (o *Order) UnrealizedPnL(p decimal.Decimal) (decimal.Decimal, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.pnlLocked(p)
}

func (o *Order) pnlLocked(p decimal.Decimal) (decimal.Decimal, error) {
	if o.status == model.StatusPending {
		return decimal.Decimal{}, fmt.Errorf("%w: %s", ErrNotLive, o.id)
	}
	if o.entryPrice.IsZero() {
		return decimal.Decimal{}, fmt.Errorf("%w: order %s", ErrZeroEntryPrice, o.id)
	}

	move := p.Sub(o.entryPrice)
	if o.direction == model.Short {
		move = move.Neg()
	}
	return o.leverage.Mul(o.amount).Mul(move).Div(o.entryPrice), nil
}

// Close realizes the P&L at the given price and settles the order.
// The gross payout is amount + P&L floored at zero (a leveraged position
// cannot lose more than its principal); tax is withheld at rate from
// positive payouts only. Returns the net payout and the tax withheld.
func (o *Order) Close(atPrice, taxRate decimal.Decimal) (payout, tax decimal.Decimal, err error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.status == model.StatusClosed {
		return decimal.Decimal{}, decimal.Decimal{}, fmt.Errorf("%w: %s", ErrAlreadyClosed, o.id)
	}
	pnl, err := o.pnlLocked(atPrice)
	if err != nil {
		return decimal.Decimal{}, decimal.Decimal{}, err
	}

	gross := o.amount.Add(pnl)
	if gross.Sign() < 0 {
		gross = decimal.Zero // liquidation floor
	}
	if gross.Sign() > 0 && taxRate.Sign() > 0 {
		tax = gross.Mul(taxRate)
	}

	o.status = model.StatusClosed
	o.closePrice = atPrice
	return gross.Sub(tax), tax, nil
}

// ClosePrice returns the settlement price of a closed order.
func (o *Order) ClosePrice() decimal.Decimal {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.closePrice
}

// CheckStop reports whether the current price crosses a configured stop
// bound: at or below min, or at or above max. Which bound acts as the
// stop-loss and which as the take-profit depends on the direction, but the
// crossing test is the same geometry for both.
func (o *Order) CheckStop(current decimal.Decimal) bool {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.status != model.StatusLive {
		return false
	}
	if o.minPrice.Valid && current.LessThanOrEqual(o.minPrice.Decimal) {
		return true
	}
	if o.maxPrice.Valid && current.GreaterThanOrEqual(o.maxPrice.Decimal) {
		return true
	}
	return false
}

// View is the lock-free wire representation of an order.
type View struct {
	ID          string              `json:"id"`
	QuotationID string              `json:"quotation_id"`
	Direction   model.Direction     `json:"direction"`
	Status      model.OrderStatus   `json:"status"`
	Leverage    decimal.Decimal     `json:"leverage"`
	Amount      decimal.Decimal     `json:"amount"`
	EntryPrice  decimal.Decimal     `json:"entry_price"`
	MinPrice    decimal.NullDecimal `json:"min_price,omitempty"`
	MaxPrice    decimal.NullDecimal `json:"max_price,omitempty"`
	OpenedAt    time.Time           `json:"opened_at"`
}

// View snapshots the order for serialization.
func (o *Order) View() View {
	o.mu.Lock()
	defer o.mu.Unlock()
	return View{
		ID:          o.id,
		QuotationID: o.quotationID,
		Direction:   o.direction,
		Status:      o.status,
		Leverage:    o.leverage,
		Amount:      o.amount,
		EntryPrice:  o.entryPrice,
		MinPrice:    o.minPrice,
		MaxPrice:    o.maxPrice,
		OpenedAt:    o.openedAt,
	}
}

// validateBounds checks min < entry < max for whichever bounds are set.
func validateBounds(minPrice, maxPrice decimal.NullDecimal, entry decimal.Decimal) error {
	if minPrice.Valid && !minPrice.Decimal.LessThan(entry) {
		return fmt.Errorf("%w: min %s >= entry %s", ErrInvalidBounds, minPrice.Decimal, entry)
	}
	if maxPrice.Valid && !maxPrice.Decimal.GreaterThan(entry) {
		return fmt.Errorf("%w: max %s <= entry %s", ErrInvalidBounds, maxPrice.Decimal, entry)
	}
	return nil
}
