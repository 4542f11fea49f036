// Package quotation implements tradable instruments with an evolving price:
// the quotation type, its polymorphic price sources (virtual random walk or
// external feed), and the registry that owns all quotations.
//
// All monetary values use shopspring/decimal — never float64 for money.
// The random-walk internals use float64 and convert back immediately.
package quotation

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/quotix/stock-engine/internal/model"
	"github.com/quotix/stock-engine/internal/series"
)

var (
	// ErrZeroReferencePrice is returned when an evolution or P&L reference
	// price is zero; division must fail explicitly rather than propagate
	// NaN or infinity.
	ErrZeroReferencePrice = errors.New("quotation: reference price is zero")

	// ErrInvalidSnapshot is returned when a persisted quotation definition
	// cannot be turned into a quotation.
	ErrInvalidSnapshot = errors.New("quotation: invalid snapshot")
)

// EvolutionScale is the number of decimal places kept (truncated toward
// zero, not rounded) when reporting a growth rate.
const EvolutionScale int32 = 1

// NormalizeID lowercases an identifier and replaces spaces and underscores
// with hyphens so "Foo Bar", "foo_bar" and "foo-bar" resolve identically.
func NormalizeID(id string) string {
	id = strings.ToLower(id)
	id = strings.ReplaceAll(id, " ", "-")
	return strings.ReplaceAll(id, "_", "-")
}

// PriceSource produces the next price for a quotation each tick.
// Implementations must respect ctx cancellation; a source that cannot
// produce a price returns an error and the quotation keeps its prior price.
type PriceSource interface {
	Next(ctx context.Context, current decimal.Decimal) (decimal.Decimal, error)
}

// Quotation is a named instrument carrying a price series. Refresh is the
// sole writer of the current price and the series; the internal lock makes
// refresh-then-check appear atomic to readers on the request path.
type Quotation struct {
	id          string
	companyName string
	stockName   string
	qType       model.QuotationType
	source      PriceSource
	dividends   *model.Dividends

	clock func() time.Time

	mu           sync.RWMutex
	price        decimal.Decimal
	hist         *series.Series
	lastDividend time.Time
}

// New creates a quotation with a normalized id, an initial price and a price
// source. The initial price is the current price until the first refresh; the
// series stays empty until then.
func New(id, companyName, stockName string, qType model.QuotationType, initial decimal.Decimal, source PriceSource) *Quotation {
	return &Quotation{
		id:          NormalizeID(id),
		companyName: companyName,
		stockName:   stockName,
		qType:       qType,
		source:      source,
		clock:       time.Now,
		price:       initial,
		hist:        series.New(),
	}
}

func (q *Quotation) ID() string                { return q.id }
func (q *Quotation) CompanyName() string       { return q.companyName }
func (q *Quotation) StockName() string         { return q.stockName }
func (q *Quotation) Type() model.QuotationType { return q.qType }

// SetClock overrides the time source. Test hook.
func (q *Quotation) SetClock(clock func() time.Time) { q.clock = clock }

// SetDividends installs or replaces the dividend policy.
func (q *Quotation) SetDividends(d *model.Dividends) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.dividends = d
}

// Dividends returns the dividend policy, or nil.
func (q *Quotation) Dividends() *model.Dividends {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return q.dividends
}

// Price returns the current price.
func (q *Quotation) Price() decimal.Decimal {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return q.price
}

// Refresh advances the current price through the price source and appends a
// sample at the current instant. On source failure nothing is mutated: the
// quotation keeps its prior price and skips this tick.
func (q *Quotation) Refresh(ctx context.Context) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	next, err := q.source.Next(ctx, q.price)
	if err != nil {
		return fmt.Errorf("refresh %s: %w", q.id, err)
	}
	if next.Sign() <= 0 {
		return fmt.Errorf("refresh %s: %w: source produced %s", q.id, ErrZeroReferencePrice, next)
	}

	if err := q.hist.Append(model.PriceSample{Timestamp: q.clock(), Price: next}); err != nil {
		return fmt.Errorf("refresh %s: %w", q.id, err)
	}
	q.price = next
	return nil
}

// Evolution returns the signed growth rate (percent) of the current price
// against the sample closest to now−window, truncated toward zero to
// EvolutionScale decimals.
func (q *Quotation) Evolution(window time.Duration) (decimal.Decimal, error) {
	q.mu.RLock()
	defer q.mu.RUnlock()

	ref, err := q.hist.ClosestTo(q.clock().Add(-window))
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("evolution %s: %w", q.id, err)
	}
	if ref.Price.IsZero() {
		return decimal.Decimal{}, fmt.Errorf("evolution %s: %w", q.id, ErrZeroReferencePrice)
	}

	rate := q.price.Sub(ref.Price).Div(ref.Price).Mul(decimal.NewFromInt(100))
	return rate.RoundDown(EvolutionScale), nil
}

// Lowest returns the minimum sample price within the window ending now.
func (q *Quotation) Lowest(window time.Duration) (decimal.Decimal, error) {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return q.hist.LowestSince(q.clock(), window)
}

// Highest returns the maximum sample price within the window ending now.
func (q *Quotation) Highest(window time.Duration) (decimal.Decimal, error) {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return q.hist.HighestSince(q.clock(), window)
}

// History returns a copy of the full sample series, oldest first.
func (q *Quotation) History() []model.PriceSample {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return q.hist.Snapshot()
}

// SampleCount returns the number of recorded samples.
func (q *Quotation) SampleCount() int {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return q.hist.Len()
}

// RestoreHistory replaces the series with persisted samples, typically right
// after construction during load. The newest restored price becomes current.
func (q *Quotation) RestoreHistory(samples []model.PriceSample) error {
	restored, err := series.FromSamples(samples)
	if err != nil {
		return fmt.Errorf("restore %s: %w", q.id, err)
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	q.hist = restored
	if last, err := restored.Last(); err == nil {
		q.price = last.Price
	}
	return nil
}

// ClearHistory drops all samples. Used only on quotation removal.
func (q *Quotation) ClearHistory() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.hist.Clear()
}

// DividendDue reports whether a dividend period has elapsed at now, and
// advances the period anchor when it has.
func (q *Quotation) DividendDue(now time.Time) (model.Dividends, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.dividends == nil || q.dividends.Period <= 0 {
		return model.Dividends{}, false
	}
	if q.lastDividend.IsZero() {
		q.lastDividend = now
		return model.Dividends{}, false
	}
	if now.Sub(q.lastDividend) < q.dividends.Period {
		return model.Dividends{}, false
	}
	q.lastDividend = now
	return *q.dividends, true
}

// Snapshot captures the persistence view of the quotation, including series
// history when withSeries is set.
func (q *Quotation) Snapshot(withSeries bool) model.QuotationSnapshot {
	q.mu.RLock()
	defer q.mu.RUnlock()

	snap := model.QuotationSnapshot{
		ID:          q.id,
		CompanyName: q.companyName,
		StockName:   q.stockName,
		Type:        q.qType,
		Price:       q.price,
		Dividends:   q.dividends,
	}
	if v, ok := q.source.(*VirtualSource); ok {
		snap.Volatility = v.Volatility()
	}
	if f, ok := q.source.(*FeedSource); ok {
		snap.FeedSymbol = f.Symbol()
	}
	if withSeries {
		snap.Series = q.hist.Snapshot()
	}
	return snap
}

// VirtualSource drives a bounded random walk. Each step multiplies the
// current price by (1 + volatility·u) with u uniform in [-1, 1), and the
// result is floored at a small fraction of the initial price so a synthetic
// stock can crash but never hit zero.
type VirtualSource struct {
	volatility decimal.Decimal
	floor      decimal.Decimal
	rng        *rand.Rand
}

// floorRatio bounds the walk at 1% of the initial price.
var floorRatio = decimal.NewFromFloat(0.01)

// NewVirtualSource creates a random-walk source. Volatility is the maximum
// relative step per tick (e.g. 0.05 for ±5%).
func NewVirtualSource(initial, volatility decimal.Decimal, seed uint64) *VirtualSource {
	return &VirtualSource{
		volatility: volatility,
		floor:      initial.Mul(floorRatio),
		rng:        rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)),
	}
}

// Volatility returns the configured maximum relative step.
func (v *VirtualSource) Volatility() decimal.Decimal { return v.volatility }

// Next computes the next price of the walk.
func (v *VirtualSource) Next(_ context.Context, current decimal.Decimal) (decimal.Decimal, error) {
	step := v.volatility.InexactFloat64() * (2*v.rng.Float64() - 1)
	next := current.Mul(decimal.NewFromFloat(1 + step))

	if next.LessThan(v.floor) {
		next = v.floor
	}
	return next, nil
}
