package quotation

import (
	"fmt"
	"hash/fnv"
	"net/http"
	"time"

	"github.com/shopspring/decimal"

	"github.com/quotix/stock-engine/internal/model"
)

// defaultVolatility applies to virtual quotations that do not configure one.
var defaultVolatility = decimal.NewFromFloat(0.05)

// Loader builds quotations from persisted snapshots. One loader is shared by
// the initial load and every reload so all quotations get the same feed
// wiring.
type Loader struct {
	// FeedClient, FeedBaseURL, FeedRate and FeedTimeout configure the
	// remote feed for real-stock quotations.
	FeedClient  *http.Client
	FeedBaseURL string
	FeedRate    decimal.Decimal
	FeedTimeout time.Duration

	// Seed derives the random-walk seed for virtual quotations. Defaults
	// to an FNV hash of the quotation id, which keeps walks stable across
	// reloads without sharing state between quotations.
	Seed func(id string) uint64
}

// Build turns one snapshot into a quotation, restoring any persisted series.
func (l Loader) Build(snap model.QuotationSnapshot) (*Quotation, error) {
	id := NormalizeID(snap.ID)
	if id == "" {
		return nil, fmt.Errorf("%w: empty id", ErrInvalidSnapshot)
	}

	var source PriceSource
	switch snap.Type {
	case model.TypeVirtual:
		if snap.Price.Sign() <= 0 {
			return nil, fmt.Errorf("%w: %s: virtual quotation needs a positive initial price", ErrInvalidSnapshot, id)
		}
		vol := snap.Volatility
		if vol.Sign() <= 0 {
			vol = defaultVolatility
		}
		source = NewVirtualSource(snap.Price, vol, l.seed(id))

	case model.TypeRealStock:
		if snap.FeedSymbol == "" {
			return nil, fmt.Errorf("%w: %s: real-stock quotation needs a feed symbol", ErrInvalidSnapshot, id)
		}
		source = NewFeedSource(l.FeedClient, l.FeedBaseURL, snap.FeedSymbol, l.FeedRate, l.FeedTimeout)

	default:
		return nil, fmt.Errorf("%w: %s: unknown type %q", ErrInvalidSnapshot, id, snap.Type)
	}

	q := New(id, snap.CompanyName, snap.StockName, snap.Type, snap.Price, source)
	q.SetDividends(snap.Dividends)

	if len(snap.Series) > 0 {
		if err := q.RestoreHistory(snap.Series); err != nil {
			return nil, err
		}
	}
	return q, nil
}

// BuildAll builds every snapshot best-effort: a snapshot that fails to load
// is reported in the returned error slice and does not abort the rest.
func (l Loader) BuildAll(snaps []model.QuotationSnapshot) ([]*Quotation, []error) {
	var (
		quotations []*Quotation
		errs       []error
	)
	seen := make(map[string]bool, len(snaps))

	for _, snap := range snaps {
		q, err := l.Build(snap)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if seen[q.ID()] {
			errs = append(errs, fmt.Errorf("%w: %s", ErrDuplicateID, q.ID()))
			continue
		}
		seen[q.ID()] = true
		quotations = append(quotations, q)
	}
	return quotations, errs
}

func (l Loader) seed(id string) uint64 {
	if l.Seed != nil {
		return l.Seed(id)
	}
	h := fnv.New64a()
	h.Write([]byte(id))
	return h.Sum64()
}
