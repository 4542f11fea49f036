// Package engine drives the market: a single repeating timer refreshes every
// quotation, evaluates stop bounds on all live orders, and emits settlement
// batches to the external ledger collaborator.
package engine

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"

	"github.com/quotix/stock-engine/internal/metrics"
	"github.com/quotix/stock-engine/internal/model"
	"github.com/quotix/stock-engine/internal/position"
	"github.com/quotix/stock-engine/internal/quotation"
)

// DefaultInterval is the tick period when none is configured.
const DefaultInterval = time.Second

// Sink receives settlement batches for ledger crediting and player
// notification. Implementations must tolerate being called once per tick.
type Sink interface {
	Settle(ctx context.Context, batch []model.Settlement) error
}

// DividendSink is optionally implemented by sinks that credit dividends.
type DividendSink interface {
	Dividend(ctx context.Context, owner, quotationID string, amount decimal.Decimal) error
}

// TickUpdate is the per-quotation price snapshot handed to the display hook
// after each tick, so rendering collaborators redraw without re-deriving
// price data.
type TickUpdate struct {
	QuotationID string          `json:"quotation_id"`
	Price       decimal.Decimal `json:"price"`
	Timestamp   time.Time       `json:"timestamp"`
}

// Config tunes the engine.
type Config struct {
	// Interval between ticks; DefaultInterval when zero.
	Interval time.Duration
	// Hours suspends the engine outside market hours when set.
	Hours *MarketHours
	// Display is invoked after every completed tick.
	Display func([]TickUpdate)
	// Clock overrides time.Now. Test hook.
	Clock func() time.Time
}

// Engine is the periodic tick driver. One logical pass per tick: refresh all
// quotations, check stops against the fresh prices, emit the settlement
// batch. Quotation failures are isolated: one bad refresh never aborts the
// tick for the others.
type Engine struct {
	registry *quotation.Registry
	book     *position.Book
	sink     Sink

	interval  time.Duration
	hours     *MarketHours
	display   func([]TickUpdate)
	clock     func() time.Time
	suspended atomic.Bool
}

// New wires the engine and installs the registry remove hook so quotation
// removal cascades a force-close of its live orders.
func New(registry *quotation.Registry, book *position.Book, sink Sink, cfg Config) *Engine {
	e := &Engine{
		registry: registry,
		book:     book,
		sink:     sink,
		interval: cfg.Interval,
		hours:    cfg.Hours,
		display:  cfg.Display,
		clock:    cfg.Clock,
	}
	if e.interval <= 0 {
		e.interval = DefaultInterval
	}
	if e.clock == nil {
		e.clock = time.Now
	}

	registry.SetRemoveHook(func(q *quotation.Quotation) {
		now := e.clock()
		batch := book.ForceCloseQuotation(q.ID(), q.Price(), now)
		if len(batch) == 0 {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := sink.Settle(ctx, batch); err != nil {
			slog.Error("delisting settlement failed", "quotation", q.ID(), "err", err)
		}
		slog.Info("quotation delisted", "quotation", q.ID(), "settled", len(batch))
	})
	return e
}

// Suspend pauses ticking without stopping the loop; live orders stay frozen
// at their last valuation.
func (e *Engine) Suspend() { e.suspended.Store(true) }

// Resume re-enables ticking.
func (e *Engine) Resume() { e.suspended.Store(false) }

// Closed reports whether the market is closed at now, either by manual
// suspension or by the configured hours.
func (e *Engine) Closed(now time.Time) bool {
	if e.suspended.Load() {
		return true
	}
	return e.hours != nil && e.hours.Closed(now)
}

// Run ticks until ctx is cancelled. The tick in flight when cancellation
// arrives completes fully, so its settlements are drained to the sink before
// Run returns.
func (e *Engine) Run(ctx context.Context) error {
	ticker := time.NewTicker(e.interval)
	defer ticker.Stop()

	slog.Info("position engine started", "interval", e.interval)
	for {
		select {
		case <-ctx.Done():
			slog.Info("position engine stopped")
			return ctx.Err()
		case <-ticker.C:
			e.Tick(context.WithoutCancel(ctx))
		}
	}
}

// Tick runs one logical pass and returns the settlements it emitted.
func (e *Engine) Tick(ctx context.Context) []model.Settlement {
	now := e.clock()
	if e.Closed(now) {
		return nil
	}

	start := time.Now()
	var (
		batch   []model.Settlement
		updates []TickUpdate
	)

	for _, q := range e.registry.List() {
		if err := q.Refresh(ctx); err != nil {
			// Keep the prior price and skip the stop check for this
			// quotation; the rest of the tick proceeds.
			metrics.RefreshFailures.Inc()
			if errors.Is(err, quotation.ErrFeedTimeout) {
				metrics.FeedTimeouts.Inc()
				slog.Warn("feed timed out, keeping prior price", "quotation", q.ID())
			} else {
				slog.Warn("quotation refresh failed", "quotation", q.ID(), "err", err)
			}
			continue
		}

		price := q.Price()
		updates = append(updates, TickUpdate{QuotationID: q.ID(), Price: price, Timestamp: now})

		stopped := e.book.CheckStops(q.ID(), price, now)
		metrics.StopTriggers.Add(float64(len(stopped)))
		batch = append(batch, stopped...)

		e.payDividends(ctx, q, price, now)
	}

	if len(batch) > 0 {
		if err := e.sink.Settle(ctx, batch); err != nil {
			slog.Error("settlement batch failed", "count", len(batch), "err", err)
		}
		metrics.SettlementsTotal.Add(float64(len(batch)))
	}
	if e.display != nil && len(updates) > 0 {
		e.display(updates)
	}

	metrics.TicksTotal.Inc()
	metrics.TickDuration.Observe(time.Since(start).Seconds())
	metrics.LiveOrders.Set(float64(e.book.LiveCount()))
	metrics.RegisteredQuotations.Set(float64(e.registry.Len()))
	return batch
}

// payDividends credits share holders when the quotation's dividend period
// elapses.
func (e *Engine) payDividends(ctx context.Context, q *quotation.Quotation, price decimal.Decimal, now time.Time) {
	dividendSink, ok := e.sink.(DividendSink)
	if !ok {
		return
	}
	policy, due := q.DividendDue(now)
	if !due {
		return
	}

	hundred := decimal.NewFromInt(100)
	for _, share := range e.book.SharesByQuotation(q.ID()) {
		amount := policy.Value
		if policy.Formula == model.DividendPercentOfPrice {
			amount = price.Mul(policy.Value).Div(hundred)
		}
		if amount.Sign() <= 0 {
			continue
		}
		if err := dividendSink.Dividend(ctx, share.Owner(), q.ID(), amount); err != nil {
			slog.Warn("dividend credit failed", "quotation", q.ID(), "owner", share.Owner(), "err", err)
		}
	}
}
