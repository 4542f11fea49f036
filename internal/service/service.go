// Package service provides the HTTP handlers and orchestration for
// quotation management, order execution, portfolio queries, and the
// settlement ledger.
//
// All monetary values use shopspring/decimal — never float64 for money.
package service

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/shopspring/decimal"

	"github.com/quotix/stock-engine/internal/config"
	"github.com/quotix/stock-engine/internal/engine"
	"github.com/quotix/stock-engine/internal/metrics"
	"github.com/quotix/stock-engine/internal/model"
	"github.com/quotix/stock-engine/internal/position"
	"github.com/quotix/stock-engine/internal/quotation"
	"github.com/quotix/stock-engine/internal/series"
	"github.com/quotix/stock-engine/internal/store"
)

// Service handles quotation and order operations. A mutex serializes reload
// orchestration (single-instance); order execution is serialized by the
// position book itself.
type Service struct {
	registry *quotation.Registry
	book     *position.Book
	store    store.Store
	ledger   *store.Ledger
	loader   quotation.Loader
	engine   *engine.Engine
	cfg      *config.Config
	mu       sync.Mutex
	wsHub    *WSHub // optional WebSocket hub for real-time broadcasts
	clock    func() time.Time
}

// NewService creates a new service.
// Pass nil for hub if WebSocket broadcasting is not needed.
func NewService(reg *quotation.Registry, book *position.Book, st store.Store, ledger *store.Ledger, loader quotation.Loader, eng *engine.Engine, cfg *config.Config, hub *WSHub) *Service {
	return &Service{
		registry: reg,
		book:     book,
		store:    st,
		ledger:   ledger,
		loader:   loader,
		engine:   eng,
		cfg:      cfg,
		wsHub:    hub,
		clock:    func() time.Time { return time.Now().UTC() },
	}
}

// SetClock overrides the service clock. Test hook.
func (s *Service) SetClock(clock func() time.Time) { s.clock = clock }

// Router builds the chi router with all API routes mounted.
func (s *Service) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))
	r.Use(metrics.Middleware)

	// CORS middleware for frontend cross-origin requests.
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Access-Control-Allow-Origin", "*")
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
			if r.Method == "OPTIONS" {
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	})

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Get("/metrics", metrics.Handler().ServeHTTP)

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/quotations", s.ListQuotations)
		r.Post("/quotations", s.CreateQuotation)
		r.Get("/quotations/{quotationID}", s.GetQuotation)
		r.Delete("/quotations/{quotationID}", s.RemoveQuotation)
		r.Get("/quotations/{quotationID}/history", s.GetHistory)
		r.Get("/quotations/{quotationID}/analytics", s.GetAnalytics)
		r.Post("/reload", s.Reload)

		r.Post("/orders", s.OpenOrder)
		r.Post("/orders/{shareID}/close", s.CloseOrder)
		r.Put("/orders/{shareID}/bounds", s.SetBounds)
		r.Post("/shares/{shareID}/transfer", s.TransferShare)
		r.Get("/portfolio/{owner}", s.GetPortfolio)

		r.Get("/ledger/owner/{owner}", s.LedgerByOwner)
		r.Get("/ledger/quotation/{quotationID}", s.LedgerByQuotation)

		r.Put("/admin/tax-rate", s.SetTaxRate)
		r.Post("/admin/suspend", s.Suspend)
		r.Post("/admin/resume", s.Resume)

		if s.wsHub != nil {
			r.Get("/ws", s.wsHub.HandleWS)
		}
	})
	return r
}

// --- Request/Response types ---

// CreateQuotationRequest is the JSON body for quotation creation.
type CreateQuotationRequest struct {
	ID           string          `json:"id"`
	CompanyName  string          `json:"company_name"`
	StockName    string          `json:"stock_name"`
	Type         string          `json:"type"` // "virtual" or "real-stock"
	InitialPrice decimal.Decimal `json:"initial_price"`
	Volatility   decimal.Decimal `json:"volatility"`
	FeedSymbol   string          `json:"feed_symbol,omitempty"`
}

// QuotationResponse is the JSON shape of a quotation in list/detail replies.
type QuotationResponse struct {
	ID          string                     `json:"id"`
	CompanyName string                     `json:"company_name"`
	StockName   string                     `json:"stock_name"`
	Type        model.QuotationType        `json:"type"`
	Price       decimal.Decimal            `json:"price"`
	Evolution   map[string]decimal.Decimal `json:"evolution,omitempty"`
}

// OpenOrderRequest is the JSON body for POST /orders.
type OpenOrderRequest struct {
	Owner       string           `json:"owner"`
	QuotationID string           `json:"quotation_id"`
	Direction   string           `json:"direction"` // "LONG" or "SHORT"
	Leverage    decimal.Decimal  `json:"leverage"`  // zero → default 1
	Amount      decimal.Decimal  `json:"amount"`
	MinPrice    *decimal.Decimal `json:"min_price,omitempty"`
	MaxPrice    *decimal.Decimal `json:"max_price,omitempty"`
}

// OpenOrderResponse is the JSON body returned from POST /orders.
type OpenOrderResponse struct {
	ShareID    string             `json:"share_id"`
	Share      position.ShareView `json:"share"`
	EntryPrice decimal.Decimal    `json:"entry_price"`
}

// BoundsRequest is the JSON body for PUT /orders/{shareID}/bounds.
type BoundsRequest struct {
	MinPrice *decimal.Decimal `json:"min_price,omitempty"`
	MaxPrice *decimal.Decimal `json:"max_price,omitempty"`
}

// TransferRequest is the JSON body for POST /shares/{shareID}/transfer.
type TransferRequest struct {
	NewOwner string `json:"new_owner"`
}

// PortfolioEntry is one open share in a portfolio reply.
type PortfolioEntry struct {
	Share         position.ShareView `json:"share"`
	CurrentPrice  decimal.Decimal    `json:"current_price"`
	UnrealizedPnL decimal.Decimal    `json:"unrealized_pnl"`
}

// PortfolioResponse is the JSON body for GET /portfolio/{owner}.
type PortfolioResponse struct {
	Owner         string           `json:"owner"`
	Shares        []PortfolioEntry `json:"shares"`
	TotalPnL      decimal.Decimal  `json:"total_pnl"`
	TotalExposure decimal.Decimal  `json:"total_exposure"`
}

// --- Quotation handlers ---

// ListQuotations handles GET /api/v1/quotations
func (s *Service) ListQuotations(w http.ResponseWriter, _ *http.Request) {
	all := s.registry.List()
	resp := make([]QuotationResponse, 0, len(all))
	for _, q := range all {
		resp = append(resp, s.quotationResponse(q, false))
	}
	writeJSON(w, http.StatusOK, resp)
}

// GetQuotation handles GET /api/v1/quotations/{quotationID}
// Includes the evolution over every configured window.
func (s *Service) GetQuotation(w http.ResponseWriter, r *http.Request) {
	q, err := s.registry.Get(chi.URLParam(r, "quotationID"))
	if err != nil {
		writeError(w, "quotation not found", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, s.quotationResponse(q, true))
}

// CreateQuotation handles POST /api/v1/quotations
func (s *Service) CreateQuotation(w http.ResponseWriter, r *http.Request) {
	var req CreateQuotationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.ID == "" {
		writeError(w, "id is required", http.StatusBadRequest)
		return
	}

	snap := model.QuotationSnapshot{
		ID:          req.ID,
		CompanyName: req.CompanyName,
		StockName:   req.StockName,
		Type:        model.QuotationType(strings.ToLower(req.Type)),
		Price:       req.InitialPrice,
		Volatility:  req.Volatility,
		FeedSymbol:  req.FeedSymbol,
	}
	q, err := s.loader.Build(snap)
	if err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err := s.registry.Register(q); err != nil {
		writeError(w, err.Error(), errStatus(err))
		return
	}
	if err := s.store.SaveQuotation(r.Context(), q.Snapshot(true)); err != nil {
		slog.Error("quotation persist failed", "quotation", q.ID(), "err", err)
	}

	slog.Info("quotation created", "quotation", q.ID(), "type", q.Type(), "price", q.Price().String())
	writeJSON(w, http.StatusCreated, s.quotationResponse(q, false))
}

// RemoveQuotation handles DELETE /api/v1/quotations/{quotationID}
// Live orders on the quotation are force-closed at the last price before the
// quotation disappears.
func (s *Service) RemoveQuotation(w http.ResponseWriter, r *http.Request) {
	id := quotation.NormalizeID(chi.URLParam(r, "quotationID"))
	if err := s.registry.Remove(id); err != nil {
		writeError(w, "quotation not found", http.StatusNotFound)
		return
	}
	if err := s.store.DeleteQuotation(r.Context(), id); err != nil {
		slog.Error("quotation delete failed", "quotation", id, "err", err)
	}
	slog.Info("quotation removed", "quotation", id)
	w.WriteHeader(http.StatusNoContent)
}

// GetHistory handles GET /api/v1/quotations/{quotationID}/history
func (s *Service) GetHistory(w http.ResponseWriter, r *http.Request) {
	q, err := s.registry.Get(chi.URLParam(r, "quotationID"))
	if err != nil {
		writeError(w, "quotation not found", http.StatusNotFound)
		return
	}
	hist := q.History()
	if hist == nil {
		hist = []model.PriceSample{}
	}
	writeJSON(w, http.StatusOK, hist)
}

// GetAnalytics handles GET /api/v1/quotations/{quotationID}/analytics?window=day
// Returns the lowest, highest, and evolution over the named window.
func (s *Service) GetAnalytics(w http.ResponseWriter, r *http.Request) {
	q, err := s.registry.Get(chi.URLParam(r, "quotationID"))
	if err != nil {
		writeError(w, "quotation not found", http.StatusNotFound)
		return
	}

	name := r.URL.Query().Get("window")
	if name == "" {
		name = "day"
	}
	window, ok := s.cfg.Window(name)
	if !ok {
		writeError(w, "unknown window: "+name, http.StatusBadRequest)
		return
	}

	lowest, err := q.Lowest(window)
	if err != nil {
		writeError(w, err.Error(), errStatus(err))
		return
	}
	highest, err := q.Highest(window)
	if err != nil {
		writeError(w, err.Error(), errStatus(err))
		return
	}
	evolution, err := q.Evolution(window)
	if err != nil {
		writeError(w, err.Error(), errStatus(err))
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"quotation_id": q.ID(),
		"window":       name,
		"price":        q.Price(),
		"lowest":       lowest,
		"highest":      highest,
		"evolution":    evolution,
	})
}

// Reload handles POST /api/v1/reload
// Persists the live registry, rebuilds every quotation from the configured
// definitions plus stored history, and swaps the registry atomically.
// Stored quotations absent from config (created at runtime) are rebuilt too;
// on an id conflict the config definition wins and only price and history
// come from the store. Rebuild is best-effort per quotation: one bad
// definition never aborts the others.
func (s *Service) Reload(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ctx := r.Context()
	for _, q := range s.registry.List() {
		if err := s.store.SaveQuotation(ctx, q.Snapshot(true)); err != nil {
			slog.Error("quotation persist failed", "quotation", q.ID(), "err", err)
		}
	}

	defs := make([]model.QuotationSnapshot, 0, len(s.cfg.Quotations))
	stored, err := s.store.LoadQuotations(ctx)
	if err != nil {
		slog.Error("stored quotations unavailable, reloading from config only", "err", err)
	}
	bySaved := make(map[string]model.QuotationSnapshot, len(stored))
	for _, snap := range stored {
		bySaved[quotation.NormalizeID(snap.ID)] = snap
	}
	inConfig := make(map[string]bool, len(s.cfg.Quotations))
	for _, def := range s.cfg.Quotations {
		inConfig[quotation.NormalizeID(def.ID)] = true
		if saved, ok := bySaved[quotation.NormalizeID(def.ID)]; ok {
			def.Price = saved.Price
			def.Series = saved.Series
		}
		defs = append(defs, def)
	}
	// Quotations created at runtime live only in the store; carry them over
	// so a reload does not delist them.
	for _, snap := range stored {
		if !inConfig[quotation.NormalizeID(snap.ID)] {
			defs = append(defs, snap)
		}
	}

	built, errs := s.loader.BuildAll(defs)
	s.registry.ReplaceAll(built)

	failures := make([]string, 0, len(errs))
	for _, err := range errs {
		failures = append(failures, err.Error())
	}
	slog.Info("quotations reloaded", "loaded", len(built), "failed", len(failures))
	writeJSON(w, http.StatusOK, map[string]any{
		"loaded": len(built),
		"errors": failures,
	})
}

// --- Order handlers ---

// OpenOrder handles POST /api/v1/orders
// Opens a leveraged position at the quotation's current price.
func (s *Service) OpenOrder(w http.ResponseWriter, r *http.Request) {
	var req OpenOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	if req.Owner == "" {
		writeError(w, "owner is required", http.StatusBadRequest)
		return
	}
	direction := model.Direction(strings.ToUpper(req.Direction))
	if !direction.Valid() {
		writeError(w, "direction must be LONG or SHORT", http.StatusBadRequest)
		return
	}
	if !req.Amount.IsPositive() {
		writeError(w, "amount must be positive", http.StatusBadRequest)
		return
	}

	q, err := s.registry.Get(req.QuotationID)
	if err != nil {
		writeError(w, "quotation not found: "+req.QuotationID, http.StatusNotFound)
		return
	}
	if s.engine != nil && s.engine.Closed(s.clock()) {
		writeError(w, "market is closed", http.StatusConflict)
		return
	}

	entry := q.Price()
	share, err := s.book.Open(req.Owner, q.ID(), direction, req.Leverage, req.Amount,
		nullable(req.MinPrice), nullable(req.MaxPrice), entry, s.clock())
	if err != nil {
		writeError(w, err.Error(), errStatus(err))
		return
	}

	slog.Info("order opened",
		"share", share.ID(),
		"owner", req.Owner,
		"quotation", q.ID(),
		"direction", direction,
		"amount", req.Amount.String(),
		"entry_price", entry.String(),
	)

	writeJSON(w, http.StatusCreated, OpenOrderResponse{
		ShareID:    share.ID(),
		Share:      share.View(),
		EntryPrice: entry,
	})
}

// CloseOrder handles POST /api/v1/orders/{shareID}/close
// Settles the share at the quotation's current price and records the payout
// in the ledger.
func (s *Service) CloseOrder(w http.ResponseWriter, r *http.Request) {
	shareID := chi.URLParam(r, "shareID")
	share, err := s.book.Get(shareID)
	if err != nil {
		writeError(w, "share not found", http.StatusNotFound)
		return
	}

	q, err := s.registry.Get(share.Order().QuotationID())
	if err != nil {
		writeError(w, "quotation not found for share", http.StatusConflict)
		return
	}

	settlement, err := s.book.CloseManual(shareID, q.Price(), s.clock())
	if err != nil {
		writeError(w, err.Error(), errStatus(err))
		return
	}
	if err := s.ledger.Settle(r.Context(), []model.Settlement{settlement}); err != nil {
		slog.Error("settlement record failed", "share", shareID, "err", err)
	}
	metrics.SettlementsTotal.Inc()

	slog.Info("order closed",
		"share", shareID,
		"owner", settlement.Owner,
		"close_price", settlement.ClosePrice.String(),
		"payout", settlement.Payout.String(),
		"tax", settlement.Tax.String(),
	)

	if s.wsHub != nil {
		s.wsHub.Broadcast(WSMessage{
			Type:    "settlement",
			ShareID: shareID,
			Reason:  string(settlement.Reason),
			Payout:  settlement.Payout.String(),
		})
	}

	writeJSON(w, http.StatusOK, settlement)
}

// SetBounds handles PUT /api/v1/orders/{shareID}/bounds
func (s *Service) SetBounds(w http.ResponseWriter, r *http.Request) {
	var req BoundsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	share, err := s.book.Get(chi.URLParam(r, "shareID"))
	if err != nil {
		writeError(w, "share not found", http.StatusNotFound)
		return
	}
	if err := share.Order().SetBounds(nullable(req.MinPrice), nullable(req.MaxPrice)); err != nil {
		writeError(w, err.Error(), errStatus(err))
		return
	}
	writeJSON(w, http.StatusOK, share.View())
}

// TransferShare handles POST /api/v1/shares/{shareID}/transfer
func (s *Service) TransferShare(w http.ResponseWriter, r *http.Request) {
	var req TransferRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.NewOwner == "" {
		writeError(w, "new_owner is required", http.StatusBadRequest)
		return
	}

	share, err := s.book.Get(chi.URLParam(r, "shareID"))
	if err != nil {
		writeError(w, "share not found", http.StatusNotFound)
		return
	}
	share.Transfer(req.NewOwner)
	slog.Info("share transferred", "share", share.ID(), "new_owner", req.NewOwner)
	writeJSON(w, http.StatusOK, share.View())
}

// GetPortfolio handles GET /api/v1/portfolio/{owner}
// Returns the owner's open shares valued at current prices.
func (s *Service) GetPortfolio(w http.ResponseWriter, r *http.Request) {
	owner := chi.URLParam(r, "owner")

	shares := s.book.SharesByOwner(owner)
	entries := make([]PortfolioEntry, 0, len(shares))
	totalPnL := decimal.Zero
	totalExposure := decimal.Zero

	for _, share := range shares {
		order := share.Order()
		q, err := s.registry.Get(order.QuotationID())
		if err != nil {
			continue
		}
		price := q.Price()
		pnl, err := order.UnrealizedPnL(price)
		if err != nil {
			continue
		}
		entries = append(entries, PortfolioEntry{
			Share:         share.View(),
			CurrentPrice:  price,
			UnrealizedPnL: pnl,
		})
		totalPnL = totalPnL.Add(pnl)
		totalExposure = totalExposure.Add(order.Leverage().Mul(order.Amount()))
	}

	writeJSON(w, http.StatusOK, PortfolioResponse{
		Owner:         owner,
		Shares:        entries,
		TotalPnL:      totalPnL,
		TotalExposure: totalExposure,
	})
}

// --- Ledger handlers ---

// LedgerByOwner handles GET /api/v1/ledger/owner/{owner}
func (s *Service) LedgerByOwner(w http.ResponseWriter, r *http.Request) {
	settlements, err := s.store.SettlementsByOwner(r.Context(), chi.URLParam(r, "owner"))
	if err != nil {
		writeError(w, "failed to load ledger", http.StatusInternalServerError)
		return
	}
	if settlements == nil {
		settlements = []model.Settlement{}
	}
	writeJSON(w, http.StatusOK, settlements)
}

// LedgerByQuotation handles GET /api/v1/ledger/quotation/{quotationID}
func (s *Service) LedgerByQuotation(w http.ResponseWriter, r *http.Request) {
	id := quotation.NormalizeID(chi.URLParam(r, "quotationID"))
	settlements, err := s.store.SettlementsByQuotation(r.Context(), id)
	if err != nil {
		writeError(w, "failed to load ledger", http.StatusInternalServerError)
		return
	}
	if settlements == nil {
		settlements = []model.Settlement{}
	}
	writeJSON(w, http.StatusOK, settlements)
}

// --- Admin handlers ---

// SetTaxRate handles PUT /api/v1/admin/tax-rate
// Applies to every settlement from this point on; already-closed orders are
// untouched.
func (s *Service) SetTaxRate(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Rate decimal.Decimal `json:"rate"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if err := s.book.SetTaxRate(req.Rate); err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}
	slog.Info("tax rate updated", "rate", req.Rate.String())
	writeJSON(w, http.StatusOK, map[string]decimal.Decimal{"rate": s.book.TaxRate()})
}

// Suspend handles POST /api/v1/admin/suspend
// Freezes ticking: prices, stops, and dividends all pause.
func (s *Service) Suspend(w http.ResponseWriter, _ *http.Request) {
	s.engine.Suspend()
	slog.Info("market suspended")
	writeJSON(w, http.StatusOK, map[string]string{"status": "suspended"})
}

// Resume handles POST /api/v1/admin/resume
func (s *Service) Resume(w http.ResponseWriter, _ *http.Request) {
	s.engine.Resume()
	slog.Info("market resumed")
	writeJSON(w, http.StatusOK, map[string]string{"status": "running"})
}

// --- Helpers ---

func (s *Service) quotationResponse(q *quotation.Quotation, withEvolution bool) QuotationResponse {
	resp := QuotationResponse{
		ID:          q.ID(),
		CompanyName: q.CompanyName(),
		StockName:   q.StockName(),
		Type:        q.Type(),
		Price:       q.Price(),
	}
	if withEvolution {
		resp.Evolution = make(map[string]decimal.Decimal, len(s.cfg.Windows))
		for name, window := range s.cfg.Windows {
			ev, err := q.Evolution(window)
			if err != nil {
				continue
			}
			resp.Evolution[name] = ev
		}
	}
	return resp
}

func nullable(d *decimal.Decimal) decimal.NullDecimal {
	if d == nil {
		return decimal.NullDecimal{}
	}
	return decimal.NullDecimal{Decimal: *d, Valid: true}
}

// errStatus maps domain sentinel errors to HTTP status codes.
func errStatus(err error) int {
	switch {
	case errors.Is(err, quotation.ErrNotFound), errors.Is(err, position.ErrShareNotFound):
		return http.StatusNotFound
	case errors.Is(err, quotation.ErrDuplicateID),
		errors.Is(err, position.ErrAlreadyClosed),
		errors.Is(err, position.ErrOrderAlreadyOpen),
		errors.Is(err, position.ErrLeverageLimitExceeded),
		errors.Is(err, position.ErrExposureLimitExceeded):
		return http.StatusConflict
	case errors.Is(err, series.ErrEmptySeries):
		return http.StatusNotFound
	case errors.Is(err, position.ErrInvalidAmount),
		errors.Is(err, position.ErrInvalidBounds),
		errors.Is(err, position.ErrNotLive),
		errors.Is(err, quotation.ErrInvalidSnapshot):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, message string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}
