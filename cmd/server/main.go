package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"github.com/quotix/stock-engine/internal/config"
	"github.com/quotix/stock-engine/internal/engine"
	"github.com/quotix/stock-engine/internal/position"
	"github.com/quotix/stock-engine/internal/quotation"
	"github.com/quotix/stock-engine/internal/service"
	"github.com/quotix/stock-engine/internal/store"
)

func main() {
	_ = godotenv.Load()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	cfg, err := config.Load(os.Getenv("STONKS_CONFIG"))
	if err != nil {
		slog.Error("config load failed", "err", err)
		os.Exit(1)
	}

	// --- Initialize store ---
	var st store.Store
	var cleanup []func()

	if cfg.DatabaseURL != "" {
		pool, err := pgxpool.New(context.Background(), cfg.DatabaseURL)
		if err != nil {
			slog.Error("database connection failed", "err", err)
			os.Exit(1)
		}
		cleanup = append(cleanup, pool.Close)
		st = store.NewPostgresStore(pool)
		slog.Info("connected to PostgreSQL")

		// Wrap with Redis read-through cache if configured.
		if cfg.RedisURL != "" {
			opt, err := redis.ParseURL(cfg.RedisURL)
			if err != nil {
				slog.Error("invalid redis url", "err", err)
				os.Exit(1)
			}
			rdb := redis.NewClient(opt)
			cleanup = append(cleanup, func() { rdb.Close() })
			st = store.NewCachedStore(st, rdb, 30*time.Second)
			slog.Info("Redis cache enabled")
		}
	} else {
		slog.Warn("database url not set, using in-memory store (data will not persist)")
		st = store.NewMemoryStore()
	}

	defer func() {
		for _, fn := range cleanup {
			fn()
		}
	}()

	// --- Quotations ---
	loader := quotation.Loader{
		FeedBaseURL: cfg.Feed.BaseURL,
		FeedRate:    cfg.Feed.Rate,
		FeedTimeout: cfg.Feed.Timeout,
	}

	defs := cfg.Quotations
	if stored, err := st.LoadQuotations(context.Background()); err != nil {
		slog.Error("stored quotations unavailable", "err", err)
	} else if len(stored) > 0 {
		// Stored state wins over config for price and history; stored
		// quotations with no config definition were created at runtime and
		// come back whole.
		bySaved := make(map[string]int, len(stored))
		for i, snap := range stored {
			bySaved[quotation.NormalizeID(snap.ID)] = i
		}
		inConfig := make(map[string]bool, len(defs))
		for i, def := range defs {
			inConfig[quotation.NormalizeID(def.ID)] = true
			if j, ok := bySaved[quotation.NormalizeID(def.ID)]; ok {
				defs[i].Price = stored[j].Price
				defs[i].Series = stored[j].Series
			}
		}
		for _, snap := range stored {
			if !inConfig[quotation.NormalizeID(snap.ID)] {
				defs = append(defs, snap)
			}
		}
	}

	registry := quotation.NewRegistry()
	built, errs := loader.BuildAll(defs)
	for _, err := range errs {
		slog.Error("quotation rejected", "err", err)
	}
	for _, q := range built {
		if err := registry.Register(q); err != nil {
			slog.Error("quotation rejected", "quotation", q.ID(), "err", err)
		}
	}
	slog.Info("quotations loaded", "count", registry.Len())

	// --- Position book + ledger ---
	book := position.NewBook(position.Limits{
		MaxLeverage: cfg.MaxLeverage,
		MaxExposure: cfg.MaxExposure,
	}, cfg.TaxRate)
	ledger := store.NewLedger(st)

	// --- Market hours ---
	hours, err := engine.ParseMarketHours(cfg.MarketOpen, cfg.MarketClose)
	if err != nil {
		slog.Error("invalid market hours", "err", err)
		os.Exit(1)
	}

	// --- WebSocket hub ---
	wsHub := service.NewWSHub()
	go wsHub.Run()

	// --- Engine ---
	eng := engine.New(registry, book, ledger, engine.Config{
		Interval: cfg.RefreshInterval,
		Hours:    hours,
		Display:  wsHub.BroadcastTicks,
	})
	engCtx, stopEngine := context.WithCancel(context.Background())
	engDone := make(chan struct{})
	go func() {
		defer close(engDone)
		eng.Run(engCtx)
	}()

	// --- HTTP service ---
	svc := service.NewService(registry, book, st, ledger, loader, eng, cfg, wsHub)

	srv := &http.Server{
		Addr:         cfg.Listen,
		Handler:      svc.Router(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		slog.Info("stock-engine listening", "addr", cfg.Listen)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "err", err)
			os.Exit(1)
		}
	}()

	// Graceful shutdown: stop accepting requests, then drain the tick loop so
	// in-flight settlements land in the ledger.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	slog.Info("shutting down stock-engine...")
	if err := srv.Shutdown(ctx); err != nil {
		slog.Error("shutdown error", "err", err)
	}
	stopEngine()
	select {
	case <-engDone:
	case <-ctx.Done():
	}

	// Persist the final market state.
	for _, q := range registry.List() {
		saveCtx, saveCancel := context.WithTimeout(context.Background(), 2*time.Second)
		if err := st.SaveQuotation(saveCtx, q.Snapshot(true)); err != nil {
			slog.Error("final persist failed", "quotation", q.ID(), "err", err)
		}
		saveCancel()
	}
	fmt.Println("stock-engine stopped")
}
