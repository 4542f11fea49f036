package position

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

var (
	// ErrLeverageLimitExceeded is returned when a requested leverage falls
	// outside [1, MaxLeverage].
	ErrLeverageLimitExceeded = errors.New("position: leverage outside platform limits")

	// ErrExposureLimitExceeded is returned when leverage × amount would
	// exceed the platform's per-position loss exposure cap.
	ErrExposureLimitExceeded = errors.New("position: exposure limit exceeded")
)

// Limits are the platform-wide risk limits applied when configuring and
// opening orders. leverage × amount bounds the maximum loss exposure of a
// position, so MaxExposure caps that product.
type Limits struct {
	MaxLeverage decimal.Decimal
	MaxExposure decimal.Decimal
}

// DefaultLimits allows leverage up to 10 and exposure up to 1,000,000.
func DefaultLimits() Limits {
	return Limits{
		MaxLeverage: decimal.NewFromInt(10),
		MaxExposure: decimal.NewFromInt(1_000_000),
	}
}

// CheckLeverage validates leverage ∈ [1, MaxLeverage].
func (l Limits) CheckLeverage(leverage decimal.Decimal) error {
	if leverage.LessThan(one) {
		return fmt.Errorf("%w: %s < 1", ErrLeverageLimitExceeded, leverage)
	}
	if l.MaxLeverage.Sign() > 0 && leverage.GreaterThan(l.MaxLeverage) {
		return fmt.Errorf("%w: %s > %s", ErrLeverageLimitExceeded, leverage, l.MaxLeverage)
	}
	return nil
}

// CheckExposure validates leverage × amount against the exposure cap.
func (l Limits) CheckExposure(leverage, amount decimal.Decimal) error {
	if l.MaxExposure.Sign() <= 0 {
		return nil
	}
	if exposure := leverage.Mul(amount); exposure.GreaterThan(l.MaxExposure) {
		return fmt.Errorf("%w: %s > %s", ErrExposureLimitExceeded, exposure, l.MaxExposure)
	}
	return nil
}
