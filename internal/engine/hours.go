package engine

import (
	"fmt"
	"time"
)

// MarketHours is a daily open/close window on the UTC clock. A window
// whose open equals its close never closes; a close before the open wraps
// past midnight.
type MarketHours struct {
	open  time.Duration // offset from midnight
	close time.Duration
}

// ParseMarketHours builds a window from "HH:MM" bounds.
func ParseMarketHours(open, close string) (*MarketHours, error) {
	o, err := parseClock(open)
	if err != nil {
		return nil, fmt.Errorf("engine: market open: %w", err)
	}
	c, err := parseClock(close)
	if err != nil {
		return nil, fmt.Errorf("engine: market close: %w", err)
	}
	return &MarketHours{open: o, close: c}, nil
}

// Closed reports whether now falls outside the trading window.
func (h *MarketHours) Closed(now time.Time) bool {
	if h.open == h.close {
		return false
	}
	day := now.Sub(now.Truncate(24 * time.Hour)) // offset within the UTC day
	if h.open < h.close {
		return day < h.open || day >= h.close
	}
	// Overnight window, e.g. 22:00 → 06:00.
	return day < h.open && day >= h.close
}

func parseClock(s string) (time.Duration, error) {
	t, err := time.Parse("15:04", s)
	if err != nil {
		return 0, fmt.Errorf("invalid clock time %q", s)
	}
	return time.Duration(t.Hour())*time.Hour + time.Duration(t.Minute())*time.Minute, nil
}
