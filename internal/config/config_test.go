package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/quotix/stock-engine/internal/model"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "stonks.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Listen != ":8080" {
		t.Errorf("expected default listen :8080, got %s", cfg.Listen)
	}
	if cfg.RefreshInterval != time.Second {
		t.Errorf("expected default refresh 1s, got %s", cfg.RefreshInterval)
	}
	if !cfg.TaxRate.Equal(decimal.NewFromFloat(0.05)) {
		t.Errorf("expected default tax 0.05, got %s", cfg.TaxRate)
	}
	if !cfg.MaxLeverage.Equal(decimal.NewFromInt(10)) {
		t.Errorf("expected default max leverage 10, got %s", cfg.MaxLeverage)
	}
	if w, ok := cfg.Window("week"); !ok || w != 7*24*time.Hour {
		t.Errorf("expected default week window, got %s ok=%v", w, ok)
	}
}

func TestLoad_File(t *testing.T) {
	path := writeConfig(t, `
listen: ":9000"
refresh-interval: 500ms
tax-rate: "0.1"
market-open: "09:00"
market-close: "17:00"
feed:
  base-url: https://feed.example.com/quote
  rate: "1.25"
  timeout: 3s
quotations:
  - id: Acme Corp
    company-name: Acme
    stock-name: ACM
    type: virtual
    initial-price: 100
    volatility: 0.08
    dividends:
      formula: percentage
      value: 2
      period: 24h
  - id: remote
    company-name: Remote Inc
    stock-name: RMT
    type: real-stock
    feed-symbol: RMT
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Listen != ":9000" {
		t.Errorf("expected :9000, got %s", cfg.Listen)
	}
	if cfg.RefreshInterval != 500*time.Millisecond {
		t.Errorf("expected 500ms, got %s", cfg.RefreshInterval)
	}
	if !cfg.TaxRate.Equal(decimal.NewFromFloat(0.1)) {
		t.Errorf("expected tax 0.1, got %s", cfg.TaxRate)
	}
	if cfg.Feed.BaseURL != "https://feed.example.com/quote" {
		t.Errorf("unexpected feed url %s", cfg.Feed.BaseURL)
	}
	if !cfg.Feed.Rate.Equal(decimal.NewFromFloat(1.25)) {
		t.Errorf("expected feed rate 1.25, got %s", cfg.Feed.Rate)
	}

	if len(cfg.Quotations) != 2 {
		t.Fatalf("expected 2 quotations, got %d", len(cfg.Quotations))
	}
	acme := cfg.Quotations[0]
	if acme.ID != "Acme Corp" || acme.Type != model.TypeVirtual {
		t.Errorf("unexpected first quotation: %+v", acme)
	}
	if !acme.Price.Equal(decimal.NewFromInt(100)) {
		t.Errorf("expected initial price 100, got %s", acme.Price)
	}
	if acme.Dividends == nil || acme.Dividends.Period != 24*time.Hour {
		t.Errorf("dividend policy lost: %+v", acme.Dividends)
	}
	if acme.Dividends != nil && acme.Dividends.Formula != model.DividendPercentOfPrice {
		t.Errorf("formula = %q, want percentage normalized to percentage-of-price", acme.Dividends.Formula)
	}
	remote := cfg.Quotations[1]
	if remote.Type != model.TypeRealStock || remote.FeedSymbol != "RMT" {
		t.Errorf("unexpected second quotation: %+v", remote)
	}
}

func TestLoad_InvalidDividendPeriod(t *testing.T) {
	path := writeConfig(t, `
quotations:
  - id: acme
    type: virtual
    initial-price: 100
    dividends:
      formula: flat
      value: 5
      period: fortnight
`)
	if _, err := Load(path); err == nil {
		t.Error("expected error for unparseable dividend period")
	}
}

func TestLoad_UnknownDividendFormula(t *testing.T) {
	path := writeConfig(t, `
quotations:
  - id: acme
    type: virtual
    initial-price: 100
    dividends:
      formula: percetage
      value: 5
      period: 24h
`)
	_, err := Load(path)
	if !errors.Is(err, model.ErrUnknownDividendFormula) {
		t.Errorf("expected ErrUnknownDividendFormula, got %v", err)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	if _, err := Load("/nonexistent/stonks.yaml"); err == nil {
		t.Error("expected error for missing config file")
	}
}

func TestLoad_EnvOverride(t *testing.T) {
	t.Setenv("STONKS_TAX_RATE", "0.2")
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !cfg.TaxRate.Equal(decimal.NewFromFloat(0.2)) {
		t.Errorf("expected env override 0.2, got %s", cfg.TaxRate)
	}
}

func TestWindow_CaseInsensitive(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, ok := cfg.Window("DAY"); !ok {
		t.Error("window lookup must be case-insensitive")
	}
	if _, ok := cfg.Window("decade"); ok {
		t.Error("unknown window must not resolve")
	}
}
