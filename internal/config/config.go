// Package config loads the engine configuration: scheduler tuning, platform
// limits, market hours, analytics windows, and the quotation definitions.
// Values come from a YAML file with STONKS_-prefixed environment overrides.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/viper"

	"github.com/quotix/stock-engine/internal/model"
)

// Feed configures the remote price feed for real-stock quotations.
type Feed struct {
	BaseURL string
	// Rate converts the feed currency into the local price unit.
	Rate    decimal.Decimal
	Timeout time.Duration
}

// Config is the full engine configuration.
type Config struct {
	Listen          string
	RefreshInterval time.Duration
	TaxRate         decimal.Decimal
	MaxLeverage     decimal.Decimal
	MaxExposure     decimal.Decimal
	MarketOpen      string
	MarketClose     string
	Feed            Feed
	DatabaseURL     string
	RedisURL        string

	// Windows are the named lookback spans for analytics queries
	// ("hour", "day", "week", "month" by default).
	Windows map[string]time.Duration

	// Quotations are the instrument definitions loaded at startup and on
	// every reload.
	Quotations []model.QuotationSnapshot
}

// quotationDef is the YAML shape of one quotation definition.
type quotationDef struct {
	ID           string  `mapstructure:"id"`
	CompanyName  string  `mapstructure:"company-name"`
	StockName    string  `mapstructure:"stock-name"`
	Type         string  `mapstructure:"type"`
	InitialPrice float64 `mapstructure:"initial-price"`
	Volatility   float64 `mapstructure:"volatility"`
	FeedSymbol   string  `mapstructure:"feed-symbol"`
	Dividends    *struct {
		Formula string  `mapstructure:"formula"`
		Value   float64 `mapstructure:"value"`
		Period  string  `mapstructure:"period"`
	} `mapstructure:"dividends"`
}

// Load reads configuration from the given file (optional: an empty path uses
// defaults and environment only).
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("STONKS")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
	}

	cfg := &Config{
		Listen:          v.GetString("listen"),
		RefreshInterval: v.GetDuration("refresh-interval"),
		MarketOpen:      v.GetString("market-open"),
		MarketClose:     v.GetString("market-close"),
		DatabaseURL:     v.GetString("database-url"),
		RedisURL:        v.GetString("redis-url"),
		Feed: Feed{
			BaseURL: v.GetString("feed.base-url"),
			Timeout: v.GetDuration("feed.timeout"),
		},
		Windows: make(map[string]time.Duration),
	}

	var err error
	if cfg.TaxRate, err = decimalKey(v, "tax-rate"); err != nil {
		return nil, err
	}
	if cfg.MaxLeverage, err = decimalKey(v, "max-leverage"); err != nil {
		return nil, err
	}
	if cfg.MaxExposure, err = decimalKey(v, "max-exposure"); err != nil {
		return nil, err
	}
	if cfg.Feed.Rate, err = decimalKey(v, "feed.rate"); err != nil {
		return nil, err
	}

	for name := range v.GetStringMap("windows") {
		cfg.Windows[name] = v.GetDuration("windows." + name)
	}

	var defs []quotationDef
	if err := v.UnmarshalKey("quotations", &defs); err != nil {
		return nil, fmt.Errorf("config: quotations: %w", err)
	}
	for _, def := range defs {
		snap, err := def.snapshot()
		if err != nil {
			return nil, err
		}
		cfg.Quotations = append(cfg.Quotations, snap)
	}

	return cfg, nil
}

// Window resolves a named lookback span.
func (c *Config) Window(name string) (time.Duration, bool) {
	w, ok := c.Windows[strings.ToLower(name)]
	return w, ok
}

func (d quotationDef) snapshot() (model.QuotationSnapshot, error) {
	snap := model.QuotationSnapshot{
		ID:          d.ID,
		CompanyName: d.CompanyName,
		StockName:   d.StockName,
		Type:        model.QuotationType(strings.ToLower(d.Type)),
		Price:       decimal.NewFromFloat(d.InitialPrice),
		Volatility:  decimal.NewFromFloat(d.Volatility),
		FeedSymbol:  d.FeedSymbol,
	}
	if d.Dividends != nil {
		formula, err := model.ParseDividendFormula(d.Dividends.Formula)
		if err != nil {
			return model.QuotationSnapshot{}, fmt.Errorf("config: quotation %s: %w", d.ID, err)
		}
		period, err := time.ParseDuration(d.Dividends.Period)
		if err != nil {
			return model.QuotationSnapshot{}, fmt.Errorf("config: quotation %s: dividend period: %w", d.ID, err)
		}
		snap.Dividends = &model.Dividends{
			Formula: formula,
			Value:   decimal.NewFromFloat(d.Dividends.Value),
			Period:  period,
		}
	}
	return snap, nil
}

func decimalKey(v *viper.Viper, key string) (decimal.Decimal, error) {
	raw := v.GetString(key)
	if raw == "" {
		return decimal.Decimal{}, nil
	}
	d, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("config: %s: %w", key, err)
	}
	return d, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("listen", ":8080")
	v.SetDefault("refresh-interval", "1s")
	v.SetDefault("tax-rate", "0.05")
	v.SetDefault("max-leverage", "10")
	v.SetDefault("max-exposure", "1000000")
	v.SetDefault("market-open", "00:00")
	v.SetDefault("market-close", "00:00")
	v.SetDefault("feed.rate", "1")
	v.SetDefault("feed.timeout", "2s")
	v.SetDefault("windows.hour", time.Hour)
	v.SetDefault("windows.day", 24*time.Hour)
	v.SetDefault("windows.week", 7*24*time.Hour)
	v.SetDefault("windows.month", 30*24*time.Hour)
}
