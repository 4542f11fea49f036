package quotation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"time"

	"github.com/shopspring/decimal"
)

var (
	// ErrFeedTimeout is returned when the external feed does not answer
	// within the configured deadline. Recovered locally: the quotation
	// skips the tick and keeps its prior price.
	ErrFeedTimeout = errors.New("quotation: external feed timed out")

	// ErrFeedUnavailable is returned when the feed answers with a non-2xx
	// status or an unparseable body.
	ErrFeedUnavailable = errors.New("quotation: external feed unavailable")
)

// FeedSource fetches real-stock prices from a remote JSON endpoint and maps
// them onto the local price unit through a fixed exchange rate.
type FeedSource struct {
	client  *http.Client
	baseURL string
	symbol  string
	rate    decimal.Decimal
	timeout time.Duration
}

// NewFeedSource creates a feed-backed price source. rate converts the feed's
// currency into the local unit (1 for none). timeout bounds each fetch so a
// slow feed cannot stall the scheduler.
func NewFeedSource(client *http.Client, baseURL, symbol string, rate decimal.Decimal, timeout time.Duration) *FeedSource {
	if client == nil {
		client = http.DefaultClient
	}
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	if rate.Sign() <= 0 {
		rate = decimal.NewFromInt(1)
	}
	return &FeedSource{
		client:  client,
		baseURL: baseURL,
		symbol:  symbol,
		rate:    rate,
		timeout: timeout,
	}
}

// Symbol returns the remote ticker symbol.
func (f *FeedSource) Symbol() string { return f.symbol }

// feedQuote is the wire shape of the remote feed response.
type feedQuote struct {
	Symbol string          `json:"symbol"`
	Price  decimal.Decimal `json:"price"`
}

// Next fetches the latest remote price. The prior price is ignored: a feed
// quotation tracks the remote instrument, not its own walk.
func (f *FeedSource) Next(ctx context.Context, _ decimal.Decimal) (decimal.Decimal, error) {
	ctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.quoteURL(), nil)
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("%w: %v", ErrFeedUnavailable, err)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || os.IsTimeout(err) {
			return decimal.Decimal{}, fmt.Errorf("%w: %s", ErrFeedTimeout, f.symbol)
		}
		return decimal.Decimal{}, fmt.Errorf("%w: %v", ErrFeedUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return decimal.Decimal{}, fmt.Errorf("%w: status %d for %s", ErrFeedUnavailable, resp.StatusCode, f.symbol)
	}

	var quote feedQuote
	if err := json.NewDecoder(resp.Body).Decode(&quote); err != nil {
		return decimal.Decimal{}, fmt.Errorf("%w: decode quote: %v", ErrFeedUnavailable, err)
	}
	if quote.Price.Sign() <= 0 {
		return decimal.Decimal{}, fmt.Errorf("%w: non-positive price %s for %s", ErrFeedUnavailable, quote.Price, f.symbol)
	}

	return quote.Price.Mul(f.rate), nil
}

func (f *FeedSource) quoteURL() string {
	return f.baseURL + "?symbol=" + url.QueryEscape(f.symbol)
}
