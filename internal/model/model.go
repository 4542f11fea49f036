// Package model defines the core domain types shared across the stock engine.
// All monetary values use shopspring/decimal — never float64 for money.
package model

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// PriceSample is an immutable (timestamp, price) observation appended to a
// quotation's series. Once appended, samples are never modified or deleted
// except by a full-series clear when the quotation is removed.
type PriceSample struct {
	Timestamp time.Time       `json:"timestamp" db:"timestamp"`
	Price     decimal.Decimal `json:"price" db:"price"`
}

// Direction is the side of a leveraged position.
type Direction string

const (
	// Long profits when the price rises above the entry price.
	Long Direction = "LONG"
	// Short profits when the price falls below the entry price.
	Short Direction = "SHORT"
)

// Valid reports whether d is a known direction.
func (d Direction) Valid() bool { return d == Long || d == Short }

// OrderStatus is the lifecycle state of an order.
// PENDING exists only while leverage/bounds are being configured; LIVE is
// entered on commit with the entry price frozen; CLOSED is terminal.
type OrderStatus string

const (
	StatusPending OrderStatus = "PENDING"
	StatusLive    OrderStatus = "LIVE"
	StatusClosed  OrderStatus = "CLOSED"
)

// CloseReason records why an order was settled.
type CloseReason string

const (
	// CloseManual is a holder-initiated close at the current price.
	CloseManual CloseReason = "MANUAL"
	// CloseStop is an auto-close triggered by a stop bound crossing.
	CloseStop CloseReason = "STOP"
	// CloseDelisted is a force-close cascading from quotation removal.
	CloseDelisted CloseReason = "DELISTED"
	// CloseDividend marks a ledger credit from a dividend payout, not an
	// order close; such records carry no order id.
	CloseDividend CloseReason = "DIVIDEND"
)

// Settlement is the immutable record emitted when an order is closed.
// Payout is net of tax; Tax is the amount withheld from a positive payout.
type Settlement struct {
	ID          string          `json:"id" db:"id"`
	OrderID     string          `json:"order_id" db:"order_id"`
	ShareID     string          `json:"share_id,omitempty" db:"share_id"`
	Owner       string          `json:"owner" db:"owner"`
	QuotationID string          `json:"quotation_id" db:"quotation_id"`
	ClosePrice  decimal.Decimal `json:"close_price" db:"close_price"`
	Payout      decimal.Decimal `json:"payout" db:"payout"`
	Tax         decimal.Decimal `json:"tax" db:"tax"`
	Reason      CloseReason     `json:"reason" db:"reason"`
	ClosedAt    time.Time       `json:"closed_at" db:"closed_at"`
}

// QuotationType selects the price model driving a quotation's refresh.
type QuotationType string

const (
	// TypeVirtual prices follow a bounded random walk seeded by volatility.
	TypeVirtual QuotationType = "virtual"
	// TypeRealStock prices track an external feed mapped onto the local unit.
	TypeRealStock QuotationType = "real-stock"
)

// DividendFormula selects how a dividend amount is derived from Value.
type DividendFormula string

const (
	// DividendPercentOfPrice pays Value percent of the current price per share.
	DividendPercentOfPrice DividendFormula = "percentage-of-price"
	// DividendFlat pays Value as an absolute amount per share.
	DividendFlat DividendFormula = "flat"
)

// ErrUnknownDividendFormula reports a formula name that is neither
// percentage-of-price nor flat.
var ErrUnknownDividendFormula = errors.New("model: unknown dividend formula")

// ParseDividendFormula normalizes a configured formula name. "percentage" is
// accepted as a shorthand for percentage-of-price.
func ParseDividendFormula(s string) (DividendFormula, error) {
	switch DividendFormula(strings.ToLower(strings.TrimSpace(s))) {
	case DividendPercentOfPrice, "percentage":
		return DividendPercentOfPrice, nil
	case DividendFlat:
		return DividendFlat, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownDividendFormula, s)
}

// Dividends is an optional per-quotation payout policy credited to share
// holders on period boundaries.
type Dividends struct {
	Formula DividendFormula `json:"formula"`
	Value   decimal.Decimal `json:"value"`
	Period  time.Duration   `json:"period"`
}

// QuotationSnapshot is the minimal persistence schema for a quotation:
// identity, price model parameters, and optionally its series history.
type QuotationSnapshot struct {
	ID          string          `json:"id" db:"id"`
	CompanyName string          `json:"company_name" db:"company_name"`
	StockName   string          `json:"stock_name" db:"stock_name"`
	Type        QuotationType   `json:"type" db:"type"`
	Price       decimal.Decimal `json:"price" db:"price"`
	Volatility  decimal.Decimal `json:"volatility,omitempty" db:"volatility"`
	FeedSymbol  string          `json:"feed_symbol,omitempty" db:"feed_symbol"`
	Dividends   *Dividends      `json:"dividends,omitempty" db:"-"`
	Series      []PriceSample   `json:"series,omitempty" db:"-"`
}
