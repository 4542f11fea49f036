// Package series implements the append-only, time-ordered price series owned
// by a quotation, with windowed min/max and closest-instant queries.
//
// A Series is owned exclusively by one quotation and is not safe for
// concurrent use on its own; the owning quotation serializes access.
package series

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/quotix/stock-engine/internal/model"
)

var (
	// ErrEmptySeries is returned by queries when no sample exists (or no
	// sample falls inside the requested window). Callers must surface it,
	// never default the result.
	ErrEmptySeries = errors.New("series: no price samples")

	// ErrOutOfOrderSample is returned when an append would break timestamp
	// monotonicity. Under the single-writer tick model this is a programming
	// invariant breach; the series is left untouched.
	ErrOutOfOrderSample = errors.New("series: sample timestamp precedes last sample")
)

// Series is an append-only sequence of price samples with non-decreasing
// timestamps in insertion order.
type Series struct {
	samples []model.PriceSample
}

// New creates an empty series.
func New() *Series {
	return &Series{}
}

// FromSamples builds a series from persisted history. Samples must already be
// in non-decreasing timestamp order; out-of-order input is rejected.
func FromSamples(samples []model.PriceSample) (*Series, error) {
	s := New()
	for _, sample := range samples {
		if err := s.Append(sample); err != nil {
			return nil, fmt.Errorf("restore series: %w", err)
		}
	}
	return s, nil
}

// Len returns the number of samples.
func (s *Series) Len() int { return len(s.samples) }

// Append adds a sample. The timestamp must not precede the last appended
// sample's timestamp.
func (s *Series) Append(sample model.PriceSample) error {
	if n := len(s.samples); n > 0 && sample.Timestamp.Before(s.samples[n-1].Timestamp) {
		return fmt.Errorf("%w: %s < %s", ErrOutOfOrderSample,
			sample.Timestamp.Format(time.RFC3339Nano),
			s.samples[len(s.samples)-1].Timestamp.Format(time.RFC3339Nano))
	}
	s.samples = append(s.samples, sample)
	return nil
}

// Last returns the most recent sample, or ErrEmptySeries.
func (s *Series) Last() (model.PriceSample, error) {
	if len(s.samples) == 0 {
		return model.PriceSample{}, ErrEmptySeries
	}
	return s.samples[len(s.samples)-1], nil
}

// LowestSince returns the minimum price among samples no older than window
// relative to now. Because append order is time order, the backward scan can
// stop at the first sample outside the window, so cost is proportional to the
// window population rather than series length.
func (s *Series) LowestSince(now time.Time, window time.Duration) (decimal.Decimal, error) {
	return s.scanWindow(now, window, func(best, p decimal.Decimal) bool {
		return p.LessThan(best)
	})
}

// HighestSince returns the maximum price among samples no older than window
// relative to now.
func (s *Series) HighestSince(now time.Time, window time.Duration) (decimal.Decimal, error) {
	return s.scanWindow(now, window, func(best, p decimal.Decimal) bool {
		return p.GreaterThan(best)
	})
}

// scanWindow walks the suffix of samples inside the window, newest first,
// keeping the price preferred by better. An empty suffix (no samples at all,
// or every sample older than the window) yields ErrEmptySeries.
func (s *Series) scanWindow(now time.Time, window time.Duration, better func(best, p decimal.Decimal) bool) (decimal.Decimal, error) {
	var best decimal.Decimal
	found := false

	for k := len(s.samples) - 1; k >= 0; k-- {
		sample := s.samples[k]
		if now.Sub(sample.Timestamp) > window {
			break
		}
		if !found || better(best, sample.Price) {
			best = sample.Price
			found = true
		}
	}

	if !found {
		return decimal.Decimal{}, ErrEmptySeries
	}
	return best, nil
}

// ClosestTo returns the sample whose timestamp has the minimal absolute
// distance to instant. Ties resolve to the earlier sample, which keeps
// results reproducible across runs.
func (s *Series) ClosestTo(instant time.Time) (model.PriceSample, error) {
	if len(s.samples) == 0 {
		return model.PriceSample{}, ErrEmptySeries
	}

	closest := s.samples[0]
	delta := absDuration(closest.Timestamp.Sub(instant))

	for _, sample := range s.samples[1:] {
		if d := absDuration(sample.Timestamp.Sub(instant)); d < delta {
			delta = d
			closest = sample
		}
	}
	return closest, nil
}

// Clear drops all samples. Used only when the owning quotation is removed.
func (s *Series) Clear() {
	s.samples = nil
}

// Snapshot returns a copy of the full sample history, oldest first.
func (s *Series) Snapshot() []model.PriceSample {
	out := make([]model.PriceSample, len(s.samples))
	copy(out, s.samples)
	return out
}

func absDuration(d time.Duration) time.Duration {
	if d < 0 {
		return -d
	}
	return d
}
