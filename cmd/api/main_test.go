package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"freightmarket/auth"
	"freightmarket/booking"
	"freightmarket/market"
	"freightmarket/platform"
)

const testAdmin = "acct-admin"

type stubAuth struct {
	tokens map[string]string
}

func (s *stubAuth) Register(_ context.Context, req auth.RegisterRequest) (auth.Account, error) {
	if len(req.Password) < 8 {
		return auth.Account{}, auth.ErrWeakPassword
	}
	return auth.Account{ID: "acct-new", Email: req.Email, DisplayName: req.DisplayName, CreatedAt: time.Now()}, nil
}

func (s *stubAuth) Login(_ context.Context, _ auth.LoginRequest) (auth.LoginResult, error) {
	return auth.LoginResult{}, auth.ErrInvalidCredentials
}

func (s *stubAuth) VerifyToken(token string) (string, error) {
	caller, ok := s.tokens[token]
	if !ok {
		return "", auth.ErrInvalidToken
	}
	return caller, nil
}

// brokenMarket fails every read with an infrastructure error.
type brokenMarket struct {
	*market.Engine
}

func (brokenMarket) GetPlatformConfig(context.Context) (platform.Config, error) {
	return platform.Config{}, errors.New("connection reset by peer")
}

func newTestServer(t *testing.T) (*Server, *market.Engine) {
	t.Helper()
	engine := market.New(market.NewMemoryBackend(), market.DefaultOptions(), nil)
	if _, err := engine.Init(context.Background(), platform.Config{Admin: testAdmin, FeePercent: 5}); err != nil {
		t.Fatalf("init engine: %v", err)
	}
	authn := &stubAuth{tokens: map[string]string{
		"admin-token":   testAdmin,
		"carrier-token": "acct-carrier",
		"shipper-token": "acct-shipper",
	}}
	return NewServer(engine, authn, nil), engine
}

func do(t *testing.T, h http.Handler, method, path, token, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode response %q: %v", rec.Body.String(), err)
	}
	return out
}

func TestRoutes_RequireBearerToken(t *testing.T) {
	server, _ := newTestServer(t)
	h := server.Routes()

	rec := do(t, h, http.MethodGet, "/api/platform", "", "")
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", rec.Code)
	}
	rec = do(t, h, http.MethodGet, "/api/platform", "forged", "")
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for unknown token, got %d", rec.Code)
	}
	rec = do(t, h, http.MethodGet, "/healthz", "", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected healthz 200, got %d", rec.Code)
	}
}

func TestRoutes_BookingFlow(t *testing.T) {
	server, _ := newTestServer(t)
	h := server.Routes()

	rec := do(t, h, http.MethodPost, "/api/carriers", "carrier-token", `{"name":"Northbound Haulage"}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("register carrier: expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	carrierID := decodeBody[idResponse](t, rec).ID

	body := `{"carrier_id":` + jsonUint(carrierID) + `,"origin":"Rotterdam","destination":"Hamburg","capacity_kg":100,"volume_m3":10,"departure_time":1000,"arrival_time":2000,"base_price":500,"booking_deadline":900}`
	rec = do(t, h, http.MethodPost, "/api/listings", "carrier-token", body)
	if rec.Code != http.StatusCreated {
		t.Fatalf("create listing: expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	listingID := decodeBody[idResponse](t, rec).ID
	listingPath := "/api/listings/" + jsonUint(listingID)

	rec = do(t, h, http.MethodPut, listingPath+"/price", "shipper-token", `{"price":900}`)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("non-owner price update: expected 403, got %d", rec.Code)
	}

	rec = do(t, h, http.MethodPost, listingPath+"/bookings", "shipper-token", `{"cargo":"grain"}`)
	if rec.Code != http.StatusPaymentRequired {
		t.Fatalf("unfunded booking: expected 402, got %d", rec.Code)
	}

	rec = do(t, h, http.MethodPost, "/api/ledger/deposits", "shipper-token", `{"account":"acct-shipper","amount":500}`)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("self deposit: expected 403, got %d", rec.Code)
	}
	rec = do(t, h, http.MethodPost, "/api/ledger/deposits", "admin-token", `{"account":"acct-shipper","amount":500}`)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("admin deposit: expected 204, got %d", rec.Code)
	}

	rec = do(t, h, http.MethodPost, listingPath+"/bookings", "shipper-token", `{"cargo":"grain"}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("book: expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	receipt := decodeBody[booking.Receipt](t, rec)
	if receipt.PlatformFee != 25 || receipt.CarrierPayment != 475 {
		t.Fatalf("unexpected receipt: %+v", receipt)
	}

	bookingPath := "/api/bookings/" + jsonUint(receipt.BookingID)
	rec = do(t, h, http.MethodPut, bookingPath+"/status", "carrier-token", `{"status":"delivered"}`)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("deliver: expected 204, got %d: %s", rec.Code, rec.Body.String())
	}

	rec = do(t, h, http.MethodGet, listingPath, "shipper-token", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("get listing: expected 200, got %d", rec.Code)
	}
	if got := decodeBody[listingResponse](t, rec).Status; got != "completed" {
		t.Fatalf("expected completed listing, got %s", got)
	}

	rec = do(t, h, http.MethodGet, bookingPath, "shipper-token", "")
	if got := decodeBody[bookingResponse](t, rec).Status; got != "delivered" {
		t.Fatalf("expected delivered booking, got %s", got)
	}

	rec = do(t, h, http.MethodGet, "/api/ledger/balance", "carrier-token", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("balance: expected 200, got %d", rec.Code)
	}
	balance := decodeBody[struct {
		Balance uint64 `json:"balance"`
	}](t, rec)
	if balance.Balance != 475 {
		t.Fatalf("expected carrier balance 475, got %d", balance.Balance)
	}
}

func TestRoutes_PastDeadline(t *testing.T) {
	server, engine := newTestServer(t)
	h := server.Routes()
	ctx := context.Background()

	carrierID, err := engine.RegisterCarrier(ctx, "Northbound Haulage", "acct-carrier")
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	body := `{"carrier_id":` + jsonUint(carrierID) + `,"origin":"A","destination":"B","capacity_kg":1,"volume_m3":1,"departure_time":1000,"arrival_time":2000,"base_price":500,"booking_deadline":900}`
	rec := do(t, h, http.MethodPost, "/api/listings", "carrier-token", body)
	listingID := decodeBody[idResponse](t, rec).ID

	rec = do(t, h, http.MethodPut, "/api/platform/time", "shipper-token", `{"current_time":950}`)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("set time: expected 204, got %d", rec.Code)
	}
	rec = do(t, h, http.MethodPost, "/api/listings/"+jsonUint(listingID)+"/bookings", "shipper-token", `{"cargo":"late"}`)
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d", rec.Code)
	}
	if got := decodeBody[errorResponse](t, rec).Error; got != "past_deadline" {
		t.Fatalf("expected past_deadline, got %s", got)
	}
}

func TestHandlePlatformDetail_Fee(t *testing.T) {
	server, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodPut, "/api/platform/fee", strings.NewReader(`{"percent":21}`))
	req = req.WithContext(context.WithValue(req.Context(), ctxKeyUserID, testAdmin))
	rec := httptest.NewRecorder()
	server.handlePlatformDetail(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
	if got := decodeBody[errorResponse](t, rec).Error; got != "fee_exceeds_max" {
		t.Fatalf("expected fee_exceeds_max, got %s", got)
	}

	req = httptest.NewRequest(http.MethodPut, "/api/platform/fee", strings.NewReader(`{"percent":10}`))
	req = req.WithContext(context.WithValue(req.Context(), ctxKeyUserID, "acct-carrier"))
	rec = httptest.NewRecorder()
	server.handlePlatformDetail(rec, req)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", rec.Code)
	}
}

func TestHandlePlatformDetail_FeeOutOfRange(t *testing.T) {
	server, engine := newTestServer(t)

	cases := []struct {
		body string
		want string
	}{
		{`{"percent":300}`, "fee_exceeds_max"},
		{`{"percent":256}`, "fee_exceeds_max"},
		{`{"percent":-1}`, "invalid_parameters"},
	}
	for _, tc := range cases {
		req := httptest.NewRequest(http.MethodPut, "/api/platform/fee", strings.NewReader(tc.body))
		req = req.WithContext(context.WithValue(req.Context(), ctxKeyUserID, testAdmin))
		rec := httptest.NewRecorder()
		server.handlePlatformDetail(rec, req)
		if rec.Code != http.StatusBadRequest {
			t.Fatalf("%s: expected 400, got %d", tc.body, rec.Code)
		}
		if got := decodeBody[errorResponse](t, rec).Error; got != tc.want {
			t.Fatalf("%s: expected %s, got %s", tc.body, tc.want, got)
		}
	}

	cfg, err := engine.GetPlatformConfig(context.Background())
	if err != nil {
		t.Fatalf("get config: %v", err)
	}
	if cfg.FeePercent != 5 {
		t.Fatalf("expected fee to stay at 5, got %d", cfg.FeePercent)
	}
}

func TestHandleCarrierDetail_ReputationOutOfRange(t *testing.T) {
	server, engine := newTestServer(t)
	ctx := context.Background()

	id, err := engine.RegisterCarrier(ctx, "Northbound Haulage", "acct-carrier")
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	before, _, err := engine.GetCarrier(ctx, id)
	if err != nil {
		t.Fatalf("get carrier: %v", err)
	}

	path := "/api/carriers/" + jsonUint(id) + "/reputation"
	for _, body := range []string{`{"score":300}`, `{"score":-1}`} {
		req := httptest.NewRequest(http.MethodPut, path, strings.NewReader(body))
		req = req.WithContext(context.WithValue(req.Context(), ctxKeyUserID, testAdmin))
		rec := httptest.NewRecorder()
		server.handleCarrierDetail(rec, req)
		if rec.Code != http.StatusBadRequest {
			t.Fatalf("%s: expected 400, got %d", body, rec.Code)
		}
		if got := decodeBody[errorResponse](t, rec).Error; got != "invalid_parameters" {
			t.Fatalf("%s: expected invalid_parameters, got %s", body, got)
		}
	}

	after, _, err := engine.GetCarrier(ctx, id)
	if err != nil {
		t.Fatalf("get carrier: %v", err)
	}
	if after.Reputation != before.Reputation {
		t.Fatalf("expected reputation %d, got %d", before.Reputation, after.Reputation)
	}
}

func TestHandleDeposit(t *testing.T) {
	server, engine := newTestServer(t)
	ctx := context.Background()

	deposit := func(caller, body string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/api/ledger/deposits", strings.NewReader(body))
		req = req.WithContext(context.WithValue(req.Context(), ctxKeyUserID, caller))
		rec := httptest.NewRecorder()
		server.handleDeposit(rec, req)
		return rec
	}

	cases := []struct {
		name   string
		caller string
		body   string
		status int
		code   string
	}{
		{"empty account", testAdmin, `{"account":"","amount":10}`, http.StatusBadRequest, "invalid_parameters"},
		{"zero amount", testAdmin, `{"account":"acct-shipper","amount":0}`, http.StatusBadRequest, "invalid_parameters"},
		{"above int64", testAdmin, `{"account":"acct-shipper","amount":9223372036854775808}`, http.StatusBadRequest, "invalid_parameters"},
		{"not admin", "acct-shipper", `{"account":"acct-shipper","amount":10}`, http.StatusForbidden, "not_authorized"},
	}
	for _, tc := range cases {
		rec := deposit(tc.caller, tc.body)
		if rec.Code != tc.status {
			t.Fatalf("%s: expected %d, got %d: %s", tc.name, tc.status, rec.Code, rec.Body.String())
		}
		if got := decodeBody[errorResponse](t, rec).Error; got != tc.code {
			t.Fatalf("%s: expected %s, got %s", tc.name, tc.code, got)
		}
	}

	// the old admin loses the right as soon as the handover commits
	if err := engine.SetAdmin(ctx, "acct-carrier", testAdmin); err != nil {
		t.Fatalf("set admin: %v", err)
	}
	if rec := deposit(testAdmin, `{"account":"acct-shipper","amount":10}`); rec.Code != http.StatusForbidden {
		t.Fatalf("former admin: expected 403, got %d", rec.Code)
	}
	if rec := deposit("acct-carrier", `{"account":"acct-shipper","amount":10}`); rec.Code != http.StatusNoContent {
		t.Fatalf("new admin: expected 204, got %d: %s", rec.Code, rec.Body.String())
	}

	balance, err := engine.Balance(ctx, "acct-shipper")
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	if balance != 10 {
		t.Fatalf("expected balance 10, got %d", balance)
	}
}

func TestHandleCarrierDetail_InvalidPath(t *testing.T) {
	server, _ := newTestServer(t)

	for _, path := range []string{"/api/carriers/", "/api/carriers/abc", "/api/carriers/0"} {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		rec := httptest.NewRecorder()
		server.handleCarrierDetail(rec, req)
		if rec.Code != http.StatusBadRequest {
			t.Fatalf("%s: expected 400, got %d", path, rec.Code)
		}
	}
}

func TestHandleCarrierDetail_NotFound(t *testing.T) {
	server, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/api/carriers/42", nil)
	rec := httptest.NewRecorder()
	server.handleCarrierDetail(rec, req)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestHandleCarrierDetail_WrongMethod(t *testing.T) {
	server, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodDelete, "/api/carriers/1", nil)
	rec := httptest.NewRecorder()
	server.handleCarrierDetail(rec, req)
	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", rec.Code)
	}
}

func TestHandleListings_InvalidBody(t *testing.T) {
	server, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodPost, "/api/listings", strings.NewReader(`{"carrier_id":"one"}`))
	rec := httptest.NewRecorder()
	server.handleListings(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestHandlePlatform_UnexpectedError(t *testing.T) {
	_, engine := newTestServer(t)
	server := NewServer(brokenMarket{Engine: engine}, &stubAuth{}, nil)

	req := httptest.NewRequest(http.MethodGet, "/api/platform", nil)
	rec := httptest.NewRecorder()
	server.handlePlatform(rec, req)
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rec.Code)
	}
	if strings.Contains(rec.Body.String(), "connection reset") {
		t.Fatalf("internal error detail leaked: %s", rec.Body.String())
	}
}

func TestHandleRegister(t *testing.T) {
	server, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodPost, "/api/auth/register", strings.NewReader(`{"email":"ops@example.com","password":"short","display_name":"Ops"}`))
	rec := httptest.NewRecorder()
	server.handleRegister(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("weak password: expected 400, got %d", rec.Code)
	}

	req = httptest.NewRequest(http.MethodPost, "/api/auth/register", strings.NewReader(`{"email":"ops@example.com","password":"strongpassword","display_name":"Ops"}`))
	rec = httptest.NewRecorder()
	server.handleRegister(rec, req)
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d", rec.Code)
	}
	if got := decodeBody[accountResponse](t, rec).ID; got != "acct-new" {
		t.Fatalf("unexpected account id %q", got)
	}
}

func TestHandleLogin_InvalidCredentials(t *testing.T) {
	server, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodPost, "/api/auth/login", strings.NewReader(`{"email":"ops@example.com","password":"nope"}`))
	rec := httptest.NewRecorder()
	server.handleLogin(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}

func jsonUint(v uint64) string {
	b, _ := json.Marshal(v)
	return string(b)
}
