package service

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/quotix/stock-engine/internal/config"
	"github.com/quotix/stock-engine/internal/engine"
	"github.com/quotix/stock-engine/internal/model"
	"github.com/quotix/stock-engine/internal/position"
	"github.com/quotix/stock-engine/internal/quotation"
	"github.com/quotix/stock-engine/internal/store"
)

// d is a test helper for creating decimals from float64.
func d(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f)
}

type fixture struct {
	svc      *Service
	router   http.Handler
	registry *quotation.Registry
	book     *position.Book
	store    *store.MemoryStore
	engine   *engine.Engine
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	registry := quotation.NewRegistry()
	book := position.NewBook(position.DefaultLimits(), decimal.Zero)
	mem := store.NewMemoryStore()
	ledger := store.NewLedger(mem)
	eng := engine.New(registry, book, ledger, engine.Config{})

	cfg := &config.Config{
		Windows: map[string]time.Duration{
			"hour": time.Hour,
			"day":  24 * time.Hour,
		},
	}

	svc := NewService(registry, book, mem, ledger, quotation.Loader{}, eng, cfg, nil)
	return &fixture{
		svc:      svc,
		router:   svc.Router(),
		registry: registry,
		book:     book,
		store:    mem,
		engine:   eng,
	}
}

func (f *fixture) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	return rec
}

func (f *fixture) addQuotation(t *testing.T, id string, price float64) *quotation.Quotation {
	t.Helper()
	q, err := quotation.Loader{}.Build(model.QuotationSnapshot{
		ID: id, CompanyName: "Test", StockName: "TST",
		Type: model.TypeVirtual, Price: d(price),
	})
	if err != nil {
		t.Fatalf("build quotation: %v", err)
	}
	if err := f.registry.Register(q); err != nil {
		t.Fatalf("register: %v", err)
	}
	return q
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.NewDecoder(rec.Body).Decode(&v); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return v
}

// --- Quotation endpoints ---

func TestCreateQuotation(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodPost, "/api/v1/quotations", CreateQuotationRequest{
		ID: "Acme Corp", CompanyName: "Acme", StockName: "ACM",
		Type: "virtual", InitialPrice: d(100),
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body)
	}
	resp := decodeBody[QuotationResponse](t, rec)
	if resp.ID != "acme-corp" {
		t.Errorf("expected normalized id acme-corp, got %s", resp.ID)
	}
	if !f.registry.Has("acme-corp") {
		t.Error("quotation missing from registry")
	}
}

func TestCreateQuotation_Duplicate(t *testing.T) {
	f := newFixture(t)
	f.addQuotation(t, "acme", 100)

	rec := f.do(t, http.MethodPost, "/api/v1/quotations", CreateQuotationRequest{
		ID: "Acme", Type: "virtual", InitialPrice: d(50),
	})
	if rec.Code != http.StatusConflict {
		t.Errorf("expected 409, got %d", rec.Code)
	}
}

func TestCreateQuotation_InvalidType(t *testing.T) {
	f := newFixture(t)
	rec := f.do(t, http.MethodPost, "/api/v1/quotations", CreateQuotationRequest{
		ID: "acme", Type: "imaginary", InitialPrice: d(50),
	})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", rec.Code)
	}
}

func TestGetQuotation_NotFound(t *testing.T) {
	f := newFixture(t)
	rec := f.do(t, http.MethodGet, "/api/v1/quotations/ghost", nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", rec.Code)
	}
}

func TestListQuotations(t *testing.T) {
	f := newFixture(t)
	f.addQuotation(t, "zen", 10)
	f.addQuotation(t, "acme", 100)

	rec := f.do(t, http.MethodGet, "/api/v1/quotations", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	resp := decodeBody[[]QuotationResponse](t, rec)
	if len(resp) != 2 || resp[0].ID != "acme" || resp[1].ID != "zen" {
		t.Errorf("expected sorted [acme zen], got %+v", resp)
	}
}

func TestRemoveQuotation_ForceClosesOrders(t *testing.T) {
	f := newFixture(t)
	f.addQuotation(t, "acme", 100)

	_, err := f.book.Open("alice", "acme", model.Long, d(1), d(1000),
		decimal.NullDecimal{}, decimal.NullDecimal{}, d(100), time.Now())
	if err != nil {
		t.Fatalf("open: %v", err)
	}

	rec := f.do(t, http.MethodDelete, "/api/v1/quotations/acme", nil)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", rec.Code)
	}
	if f.book.LiveCount() != 0 {
		t.Error("orders must be force-closed on removal")
	}

	rec = f.do(t, http.MethodGet, "/api/v1/ledger/owner/alice", nil)
	rows := decodeBody[[]model.Settlement](t, rec)
	if len(rows) != 1 || rows[0].Reason != model.CloseDelisted {
		t.Errorf("expected one DELISTED ledger row, got %+v", rows)
	}
}

func TestGetAnalytics_UnknownWindow(t *testing.T) {
	f := newFixture(t)
	f.addQuotation(t, "acme", 100)
	rec := f.do(t, http.MethodGet, "/api/v1/quotations/acme/analytics?window=decade", nil)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", rec.Code)
	}
}

func TestGetAnalytics_EmptySeries(t *testing.T) {
	f := newFixture(t)
	f.addQuotation(t, "acme", 100)
	rec := f.do(t, http.MethodGet, "/api/v1/quotations/acme/analytics?window=day", nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("expected 404 for quotation without samples, got %d", rec.Code)
	}
}

func TestReload_KeepsRuntimeCreatedQuotations(t *testing.T) {
	f := newFixture(t)
	f.svc.cfg.Quotations = []model.QuotationSnapshot{
		{ID: "acme", CompanyName: "Acme", StockName: "ACM",
			Type: model.TypeVirtual, Price: d(100), Volatility: d(0.05)},
	}

	rec := f.do(t, http.MethodPost, "/api/v1/quotations", CreateQuotationRequest{
		ID: "Runtime Co", Type: "virtual", InitialPrice: d(50),
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create: status %d: %s", rec.Code, rec.Body.String())
	}

	rec = f.do(t, http.MethodPost, "/api/v1/reload", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("reload: status %d: %s", rec.Code, rec.Body.String())
	}
	body := decodeBody[map[string]any](t, rec)
	if got := body["loaded"].(float64); got != 2 {
		t.Fatalf("expected 2 quotations loaded, got %v", got)
	}

	if _, err := f.registry.Get("acme"); err != nil {
		t.Errorf("config quotation missing after reload: %v", err)
	}
	q, err := f.registry.Get("runtime-co")
	if err != nil {
		t.Fatalf("runtime quotation missing after reload: %v", err)
	}
	if !q.Price().Equal(d(50)) {
		t.Errorf("runtime quotation price = %s, want 50", q.Price())
	}
}

func TestReload_ConfigWinsOnIDConflict(t *testing.T) {
	f := newFixture(t)
	f.svc.cfg.Quotations = []model.QuotationSnapshot{
		{ID: "acme", CompanyName: "Acme Industries", StockName: "ACM",
			Type: model.TypeVirtual, Price: d(100), Volatility: d(0.05)},
	}
	f.addQuotation(t, "acme", 123)

	rec := f.do(t, http.MethodPost, "/api/v1/reload", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("reload: status %d: %s", rec.Code, rec.Body.String())
	}

	q, err := f.registry.Get("acme")
	if err != nil {
		t.Fatalf("quotation missing after reload: %v", err)
	}
	if q.CompanyName() != "Acme Industries" {
		t.Errorf("company name = %q, want config definition to win", q.CompanyName())
	}
	if !q.Price().Equal(d(123)) {
		t.Errorf("price = %s, want persisted price 123", q.Price())
	}
}

// --- Order endpoints ---

func TestOpenOrder(t *testing.T) {
	f := newFixture(t)
	f.addQuotation(t, "acme", 100)

	rec := f.do(t, http.MethodPost, "/api/v1/orders", OpenOrderRequest{
		Owner: "alice", QuotationID: "acme", Direction: "long",
		Leverage: d(2), Amount: d(1000),
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body)
	}
	resp := decodeBody[OpenOrderResponse](t, rec)
	if !resp.EntryPrice.Equal(d(100)) {
		t.Errorf("expected entry at current price 100, got %s", resp.EntryPrice)
	}
	if resp.Share.Order.Status != model.StatusLive {
		t.Errorf("expected LIVE order, got %s", resp.Share.Order.Status)
	}
	if f.book.LiveCount() != 1 {
		t.Errorf("expected 1 live share, got %d", f.book.LiveCount())
	}
}

func TestOpenOrder_Validation(t *testing.T) {
	f := newFixture(t)
	f.addQuotation(t, "acme", 100)

	cases := []struct {
		name string
		req  OpenOrderRequest
		code int
	}{
		{"missing owner", OpenOrderRequest{QuotationID: "acme", Direction: "LONG", Amount: d(1)}, http.StatusBadRequest},
		{"bad direction", OpenOrderRequest{Owner: "a", QuotationID: "acme", Direction: "SIDEWAYS", Amount: d(1)}, http.StatusBadRequest},
		{"zero amount", OpenOrderRequest{Owner: "a", QuotationID: "acme", Direction: "LONG"}, http.StatusBadRequest},
		{"unknown quotation", OpenOrderRequest{Owner: "a", QuotationID: "ghost", Direction: "LONG", Amount: d(1)}, http.StatusNotFound},
		{"leverage over limit", OpenOrderRequest{Owner: "a", QuotationID: "acme", Direction: "LONG", Leverage: d(99), Amount: d(1)}, http.StatusConflict},
	}
	for _, c := range cases {
		rec := f.do(t, http.MethodPost, "/api/v1/orders", c.req)
		if rec.Code != c.code {
			t.Errorf("%s: expected %d, got %d: %s", c.name, c.code, rec.Code, rec.Body)
		}
	}
}

func TestOpenOrder_MarketSuspended(t *testing.T) {
	f := newFixture(t)
	f.addQuotation(t, "acme", 100)
	f.engine.Suspend()

	rec := f.do(t, http.MethodPost, "/api/v1/orders", OpenOrderRequest{
		Owner: "alice", QuotationID: "acme", Direction: "LONG", Amount: d(1000),
	})
	if rec.Code != http.StatusConflict {
		t.Errorf("expected 409 while suspended, got %d", rec.Code)
	}
}

func TestCloseOrder_SettlesAndRecords(t *testing.T) {
	f := newFixture(t)
	f.addQuotation(t, "acme", 100)

	open := f.do(t, http.MethodPost, "/api/v1/orders", OpenOrderRequest{
		Owner: "alice", QuotationID: "acme", Direction: "LONG", Amount: d(1000),
	})
	shareID := decodeBody[OpenOrderResponse](t, open).ShareID

	rec := f.do(t, http.MethodPost, "/api/v1/orders/"+shareID+"/close", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body)
	}
	settlement := decodeBody[model.Settlement](t, rec)
	if !settlement.Payout.Equal(d(1000)) {
		t.Errorf("flat close must pay the principal, got %s", settlement.Payout)
	}
	if settlement.Reason != model.CloseManual {
		t.Errorf("expected MANUAL, got %s", settlement.Reason)
	}

	// Closing again must fail: the share left the live set.
	rec = f.do(t, http.MethodPost, "/api/v1/orders/"+shareID+"/close", nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("expected 404 on second close, got %d", rec.Code)
	}

	rec = f.do(t, http.MethodGet, "/api/v1/ledger/owner/alice", nil)
	rows := decodeBody[[]model.Settlement](t, rec)
	if len(rows) != 1 {
		t.Errorf("expected 1 ledger row, got %d", len(rows))
	}
}

func TestSetBounds(t *testing.T) {
	f := newFixture(t)
	f.addQuotation(t, "acme", 100)

	open := f.do(t, http.MethodPost, "/api/v1/orders", OpenOrderRequest{
		Owner: "alice", QuotationID: "acme", Direction: "LONG", Amount: d(1000),
	})
	shareID := decodeBody[OpenOrderResponse](t, open).ShareID

	min, max := d(90), d(110)
	rec := f.do(t, http.MethodPut, "/api/v1/orders/"+shareID+"/bounds", BoundsRequest{MinPrice: &min, MaxPrice: &max})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body)
	}

	// Bounds that do not bracket the entry price are rejected.
	badMin := d(150)
	rec = f.do(t, http.MethodPut, "/api/v1/orders/"+shareID+"/bounds", BoundsRequest{MinPrice: &badMin})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", rec.Code)
	}
}

func TestTransferShare(t *testing.T) {
	f := newFixture(t)
	f.addQuotation(t, "acme", 100)

	open := f.do(t, http.MethodPost, "/api/v1/orders", OpenOrderRequest{
		Owner: "alice", QuotationID: "acme", Direction: "LONG", Amount: d(1000),
	})
	shareID := decodeBody[OpenOrderResponse](t, open).ShareID

	rec := f.do(t, http.MethodPost, "/api/v1/shares/"+shareID+"/transfer", TransferRequest{NewOwner: "bob"})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if len(f.book.SharesByOwner("bob")) != 1 {
		t.Error("bob must hold the share after transfer")
	}
}

func TestGetPortfolio(t *testing.T) {
	f := newFixture(t)
	f.addQuotation(t, "acme", 100)

	for i := 0; i < 2; i++ {
		rec := f.do(t, http.MethodPost, "/api/v1/orders", OpenOrderRequest{
			Owner: "alice", QuotationID: "acme", Direction: "LONG",
			Leverage: d(2), Amount: d(1000),
		})
		if rec.Code != http.StatusCreated {
			t.Fatalf("open %d: %d", i, rec.Code)
		}
	}

	rec := f.do(t, http.MethodGet, "/api/v1/portfolio/alice", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	resp := decodeBody[PortfolioResponse](t, rec)
	if len(resp.Shares) != 2 {
		t.Errorf("expected 2 shares, got %d", len(resp.Shares))
	}
	if !resp.TotalPnL.IsZero() {
		t.Errorf("price unchanged, expected zero P&L, got %s", resp.TotalPnL)
	}
	if !resp.TotalExposure.Equal(d(4000)) {
		t.Errorf("expected exposure 2 × 2 × 1000 = 4000, got %s", resp.TotalExposure)
	}
}

// --- Admin endpoints ---

func TestSetTaxRate(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodPut, "/api/v1/admin/tax-rate", map[string]string{"rate": "0.08"})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body)
	}
	if !f.book.TaxRate().Equal(d(0.08)) {
		t.Errorf("expected tax rate 0.08, got %s", f.book.TaxRate())
	}

	rec = f.do(t, http.MethodPut, "/api/v1/admin/tax-rate", map[string]string{"rate": "1.5"})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for rate outside [0,1), got %d", rec.Code)
	}
}

func TestSuspendResume(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodPost, "/api/v1/admin/suspend", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if !f.engine.Closed(time.Now()) {
		t.Error("engine must report closed after suspend")
	}

	rec = f.do(t, http.MethodPost, "/api/v1/admin/resume", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if f.engine.Closed(time.Now()) {
		t.Error("engine must report open after resume")
	}
}

func TestHealth(t *testing.T) {
	f := newFixture(t)
	rec := f.do(t, http.MethodGet, "/health", nil)
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}
}

func TestErrStatusMapping(t *testing.T) {
	cases := []struct {
		err  error
		code int
	}{
		{quotation.ErrNotFound, http.StatusNotFound},
		{position.ErrShareNotFound, http.StatusNotFound},
		{quotation.ErrDuplicateID, http.StatusConflict},
		{position.ErrAlreadyClosed, http.StatusConflict},
		{position.ErrLeverageLimitExceeded, http.StatusConflict},
		{position.ErrInvalidBounds, http.StatusBadRequest},
		{fmt.Errorf("wrapped: %w", position.ErrInvalidAmount), http.StatusBadRequest},
		{fmt.Errorf("boom"), http.StatusInternalServerError},
	}
	for _, c := range cases {
		if got := errStatus(c.err); got != c.code {
			t.Errorf("errStatus(%v) = %d, want %d", c.err, got, c.code)
		}
	}
}
