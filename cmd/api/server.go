package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"freightmarket/auth"
	"freightmarket/booking"
	"freightmarket/carrier"
	"freightmarket/errs"
	"freightmarket/listing"
	"freightmarket/platform"
)

type ctxKey string

const ctxKeyUserID ctxKey = "userID"

const maxBodyBytes = 1 << 20

// Marketplace is the engine surface the HTTP layer drives.
type Marketplace interface {
	RegisterCarrier(ctx context.Context, name, caller string) (uint64, error)
	UpdateCarrierReputation(ctx context.Context, carrierID uint64, score uint64, caller string) error
	SetCarrierActive(ctx context.Context, carrierID uint64, active bool, caller string) error
	GetCarrier(ctx context.Context, carrierID uint64) (carrier.Carrier, bool, error)
	CreateListing(ctx context.Context, params listing.CreateParams, caller string) (uint64, error)
	UpdatePrice(ctx context.Context, listingID, price uint64, caller string) error
	CancelListing(ctx context.Context, listingID uint64, caller string) error
	GetListing(ctx context.Context, listingID uint64) (listing.Listing, bool, error)
	BookFreight(ctx context.Context, listingID uint64, cargo, shipper string) (booking.Receipt, error)
	UpdateShippingStatus(ctx context.Context, bookingID uint64, status booking.Status, caller string) error
	FileDispute(ctx context.Context, bookingID uint64, caller string) error
	GetBooking(ctx context.Context, bookingID uint64) (booking.Booking, bool, error)
	SetPlatformFee(ctx context.Context, percent uint64, caller string) error
	SetAdmin(ctx context.Context, admin, caller string) error
	SetCurrentTime(ctx context.Context, t uint64) error
	GetCurrentTime(ctx context.Context) (uint64, error)
	GetPlatformConfig(ctx context.Context) (platform.Config, error)
	AdminDeposit(ctx context.Context, account string, amount uint64, caller string) error
	Balance(ctx context.Context, account string) (uint64, error)
}

// Authenticator registers accounts, logs them in and verifies bearer tokens.
type Authenticator interface {
	Register(ctx context.Context, req auth.RegisterRequest) (auth.Account, error)
	Login(ctx context.Context, req auth.LoginRequest) (auth.LoginResult, error)
	VerifyToken(token string) (string, error)
}

type Server struct {
	market Marketplace
	auth   Authenticator
	log    *zap.Logger
}

func NewServer(market Marketplace, authenticator Authenticator, log *zap.Logger) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	return &Server{market: market, auth: authenticator, log: log.Named("http")}
}

// Routes wires every endpoint. Everything under /api except the auth
// endpoints requires a bearer token.
func (s *Server) Routes() http.Handler {
	api := http.NewServeMux()
	api.HandleFunc("/api/carriers", s.handleCarriers)
	api.HandleFunc("/api/carriers/", s.handleCarrierDetail)
	api.HandleFunc("/api/listings", s.handleListings)
	api.HandleFunc("/api/listings/", s.handleListingDetail)
	api.HandleFunc("/api/bookings/", s.handleBookingDetail)
	api.HandleFunc("/api/platform", s.handlePlatform)
	api.HandleFunc("/api/platform/", s.handlePlatformDetail)
	api.HandleFunc("/api/ledger/deposits", s.handleDeposit)
	api.HandleFunc("/api/ledger/balance", s.handleBalance)

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	mux.HandleFunc("/api/auth/register", s.handleRegister)
	mux.HandleFunc("/api/auth/login", s.handleLogin)
	mux.Handle("/api/", s.requireAuth(api))
	return s.logRequests(mux)
}

func (s *Server) requireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || strings.TrimSpace(token) == "" {
			writeError(w, http.StatusUnauthorized, "unauthenticated", "missing bearer token")
			return
		}
		caller, err := s.auth.VerifyToken(strings.TrimSpace(token))
		if err != nil {
			writeError(w, http.StatusUnauthorized, "unauthenticated", "invalid bearer token")
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), ctxKeyUserID, caller)))
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		s.log.Info("request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", rec.status),
			zap.Duration("elapsed", time.Since(start)),
		)
	})
}

func callerFrom(ctx context.Context) string {
	caller, _ := ctx.Value(ctxKeyUserID).(string)
	return caller
}

// pathSegments splits the path below prefix into its non-empty parts.
func pathSegments(path, prefix string) []string {
	rest := strings.Trim(strings.TrimPrefix(path, prefix), "/")
	if rest == "" {
		return nil
	}
	return strings.Split(rest, "/")
}

func parseID(raw string) (uint64, bool) {
	id, err := strconv.ParseUint(raw, 10, 64)
	if err != nil || id == 0 {
		return 0, false
	}
	return id, true
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_body", "request body must be valid JSON")
		return false
	}
	return true
}

// nonNegative rejects negative numbers. Range checks belong to the engine.
func nonNegative(w http.ResponseWriter, field string, v int64) (uint64, bool) {
	if v < 0 {
		writeError(w, http.StatusBadRequest, "invalid_parameters", field+" must not be negative")
		return 0, false
	}
	return uint64(v), true
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, errorResponse{Error: code, Message: message})
}

func methodNotAllowed(w http.ResponseWriter, allowed ...string) {
	w.Header().Set("Allow", strings.Join(allowed, ", "))
	writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
}

var kindStatus = map[string]int{
	"not_authorized":     http.StatusForbidden,
	"not_found":          http.StatusNotFound,
	"already_exists":     http.StatusConflict,
	"invalid_status":     http.StatusConflict,
	"insufficient_funds": http.StatusPaymentRequired,
	"past_deadline":      http.StatusUnprocessableEntity,
	"invalid_parameters": http.StatusBadRequest,
	"fee_exceeds_max":    http.StatusBadRequest,
}

// writeServiceError maps a marketplace error onto its HTTP status.
// Infrastructure failures are logged and reported without detail.
func (s *Server) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	kind := errs.Kind(err)
	if status, ok := kindStatus[kind]; ok {
		writeError(w, status, kind, err.Error())
		return
	}
	if errors.Is(err, context.Canceled) {
		return
	}
	s.log.Error("request failed", zap.String("path", r.URL.Path), zap.Error(err))
	writeError(w, http.StatusInternalServerError, "internal", "internal error")
}
