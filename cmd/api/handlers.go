package main

import (
	"errors"
	"net/http"
	"time"

	"freightmarket/auth"
	"freightmarket/booking"
	"freightmarket/carrier"
	"freightmarket/listing"
	"freightmarket/platform"
)

type accountResponse struct {
	ID          string `json:"id"`
	Email       string `json:"email"`
	DisplayName string `json:"display_name"`
	CreatedAt   string `json:"created_at"`
}

type loginResponse struct {
	Token     string          `json:"token"`
	ExpiresAt string          `json:"expires_at"`
	Account   accountResponse `json:"account"`
}

type carrierResponse struct {
	ID         uint64 `json:"id"`
	Name       string `json:"name"`
	Reputation uint8  `json:"reputation"`
	Active     bool   `json:"active"`
	Owner      string `json:"owner"`
}

type listingResponse struct {
	ID              uint64 `json:"id"`
	CarrierID       uint64 `json:"carrier_id"`
	Origin          string `json:"origin"`
	Destination     string `json:"destination"`
	CapacityKg      uint64 `json:"capacity_kg"`
	VolumeM3        uint64 `json:"volume_m3"`
	DepartureTime   uint64 `json:"departure_time"`
	ArrivalTime     uint64 `json:"arrival_time"`
	BasePrice       uint64 `json:"base_price"`
	CurrentPrice    uint64 `json:"current_price"`
	BookingDeadline uint64 `json:"booking_deadline"`
	Status          string `json:"status"`
}

type bookingResponse struct {
	ID             uint64 `json:"id"`
	ListingID      uint64 `json:"listing_id"`
	Shipper        string `json:"shipper"`
	PricePaid      uint64 `json:"price_paid"`
	PlatformFee    uint64 `json:"platform_fee"`
	CarrierPayment uint64 `json:"carrier_payment"`
	BookedAt       uint64 `json:"booked_at"`
	Cargo          string `json:"cargo"`
	Status         string `json:"status"`
}

type platformResponse struct {
	Admin       string `json:"admin"`
	FeePercent  uint8  `json:"fee_percent"`
	CurrentTime uint64 `json:"current_time"`
}

type idResponse struct {
	ID uint64 `json:"id"`
}

func toAccountResponse(a auth.Account) accountResponse {
	return accountResponse{
		ID:          a.ID,
		Email:       a.Email,
		DisplayName: a.DisplayName,
		CreatedAt:   a.CreatedAt.UTC().Format(time.RFC3339),
	}
}

func toCarrierResponse(c carrier.Carrier) carrierResponse {
	return carrierResponse{ID: c.ID, Name: c.Name, Reputation: c.Reputation, Active: c.Active, Owner: c.Owner}
}

func toListingResponse(l listing.Listing) listingResponse {
	return listingResponse{
		ID:              l.ID,
		CarrierID:       l.CarrierID,
		Origin:          l.Origin,
		Destination:     l.Destination,
		CapacityKg:      l.CapacityKg,
		VolumeM3:        l.VolumeM3,
		DepartureTime:   l.DepartureTime,
		ArrivalTime:     l.ArrivalTime,
		BasePrice:       l.BasePrice,
		CurrentPrice:    l.CurrentPrice,
		BookingDeadline: l.BookingDeadline,
		Status:          string(l.Status),
	}
}

func toBookingResponse(b booking.Booking) bookingResponse {
	return bookingResponse{
		ID:             b.ID,
		ListingID:      b.ListingID,
		Shipper:        b.Shipper,
		PricePaid:      b.PricePaid,
		PlatformFee:    b.PlatformFee,
		CarrierPayment: b.CarrierPayment,
		BookedAt:       b.BookedAt,
		Cargo:          b.Cargo,
		Status:         string(b.Status),
	}
}

func toPlatformResponse(c platform.Config) platformResponse {
	return platformResponse{Admin: c.Admin, FeePercent: c.FeePercent, CurrentTime: c.CurrentTime}
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, http.MethodPost)
		return
	}
	var req auth.RegisterRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	account, err := s.auth.Register(r.Context(), req)
	switch {
	case err == nil:
		writeJSON(w, http.StatusCreated, toAccountResponse(account))
	case errors.Is(err, auth.ErrDuplicateEmail):
		writeError(w, http.StatusConflict, "already_exists", err.Error())
	case errors.Is(err, auth.ErrWeakPassword), errors.Is(err, auth.ErrInvalidRegistration):
		writeError(w, http.StatusBadRequest, "invalid_parameters", err.Error())
	default:
		s.writeServiceError(w, r, err)
	}
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, http.MethodPost)
		return
	}
	var req auth.LoginRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	result, err := s.auth.Login(r.Context(), req)
	if err != nil {
		if errors.Is(err, auth.ErrInvalidCredentials) {
			writeError(w, http.StatusUnauthorized, "unauthenticated", err.Error())
			return
		}
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, loginResponse{
		Token:     result.Token,
		ExpiresAt: result.ExpiresAt.UTC().Format(time.RFC3339),
		Account:   toAccountResponse(result.Account),
	})
}

func (s *Server) handleCarriers(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, http.MethodPost)
		return
	}
	var req struct {
		Name string `json:"name"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}

	id, err := s.market.RegisterCarrier(r.Context(), req.Name, callerFrom(r.Context()))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, idResponse{ID: id})
}

// handleCarrierDetail serves /api/carriers/{id}, /reputation and /active.
func (s *Server) handleCarrierDetail(w http.ResponseWriter, r *http.Request) {
	parts := pathSegments(r.URL.Path, "/api/carriers/")
	if len(parts) == 0 || len(parts) > 2 {
		writeError(w, http.StatusBadRequest, "invalid_path", "expected /api/carriers/{id}")
		return
	}
	id, ok := parseID(parts[0])
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid_path", "carrier id must be a positive integer")
		return
	}
	ctx := r.Context()

	if len(parts) == 1 {
		if r.Method != http.MethodGet {
			methodNotAllowed(w, http.MethodGet)
			return
		}
		c, found, err := s.market.GetCarrier(ctx, id)
		if err != nil {
			s.writeServiceError(w, r, err)
			return
		}
		if !found {
			writeError(w, http.StatusNotFound, "not_found", "carrier not found")
			return
		}
		writeJSON(w, http.StatusOK, toCarrierResponse(c))
		return
	}

	if r.Method != http.MethodPut {
		methodNotAllowed(w, http.MethodPut)
		return
	}
	var err error
	switch parts[1] {
	case "reputation":
		var req struct {
			Score int64 `json:"score"`
		}
		if !decodeJSON(w, r, &req) {
			return
		}
		score, ok := nonNegative(w, "score", req.Score)
		if !ok {
			return
		}
		err = s.market.UpdateCarrierReputation(ctx, id, score, callerFrom(ctx))
	case "active":
		var req struct {
			Active bool `json:"active"`
		}
		if !decodeJSON(w, r, &req) {
			return
		}
		err = s.market.SetCarrierActive(ctx, id, req.Active, callerFrom(ctx))
	default:
		writeError(w, http.StatusNotFound, "not_found", "unknown carrier resource")
		return
	}
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleListings(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, http.MethodPost)
		return
	}
	var req struct {
		CarrierID       uint64 `json:"carrier_id"`
		Origin          string `json:"origin"`
		Destination     string `json:"destination"`
		CapacityKg      uint64 `json:"capacity_kg"`
		VolumeM3        uint64 `json:"volume_m3"`
		DepartureTime   uint64 `json:"departure_time"`
		ArrivalTime     uint64 `json:"arrival_time"`
		BasePrice       uint64 `json:"base_price"`
		BookingDeadline uint64 `json:"booking_deadline"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}

	id, err := s.market.CreateListing(r.Context(), listing.CreateParams{
		CarrierID:       req.CarrierID,
		Origin:          req.Origin,
		Destination:     req.Destination,
		CapacityKg:      req.CapacityKg,
		VolumeM3:        req.VolumeM3,
		DepartureTime:   req.DepartureTime,
		ArrivalTime:     req.ArrivalTime,
		BasePrice:       req.BasePrice,
		BookingDeadline: req.BookingDeadline,
	}, callerFrom(r.Context()))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, idResponse{ID: id})
}

// handleListingDetail serves /api/listings/{id}, /price, /cancel and /bookings.
func (s *Server) handleListingDetail(w http.ResponseWriter, r *http.Request) {
	parts := pathSegments(r.URL.Path, "/api/listings/")
	if len(parts) == 0 || len(parts) > 2 {
		writeError(w, http.StatusBadRequest, "invalid_path", "expected /api/listings/{id}")
		return
	}
	id, ok := parseID(parts[0])
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid_path", "listing id must be a positive integer")
		return
	}
	ctx := r.Context()
	caller := callerFrom(ctx)

	if len(parts) == 1 {
		if r.Method != http.MethodGet {
			methodNotAllowed(w, http.MethodGet)
			return
		}
		l, found, err := s.market.GetListing(ctx, id)
		if err != nil {
			s.writeServiceError(w, r, err)
			return
		}
		if !found {
			writeError(w, http.StatusNotFound, "not_found", "listing not found")
			return
		}
		writeJSON(w, http.StatusOK, toListingResponse(l))
		return
	}

	switch parts[1] {
	case "price":
		if r.Method != http.MethodPut {
			methodNotAllowed(w, http.MethodPut)
			return
		}
		var req struct {
			Price uint64 `json:"price"`
		}
		if !decodeJSON(w, r, &req) {
			return
		}
		if err := s.market.UpdatePrice(ctx, id, req.Price, caller); err != nil {
			s.writeServiceError(w, r, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	case "cancel":
		if r.Method != http.MethodPost {
			methodNotAllowed(w, http.MethodPost)
			return
		}
		if err := s.market.CancelListing(ctx, id, caller); err != nil {
			s.writeServiceError(w, r, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	case "bookings":
		if r.Method != http.MethodPost {
			methodNotAllowed(w, http.MethodPost)
			return
		}
		var req struct {
			Cargo string `json:"cargo"`
		}
		if !decodeJSON(w, r, &req) {
			return
		}
		receipt, err := s.market.BookFreight(ctx, id, req.Cargo, caller)
		if err != nil {
			s.writeServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, receipt)
	default:
		writeError(w, http.StatusNotFound, "not_found", "unknown listing resource")
	}
}

// handleBookingDetail serves /api/bookings/{id}, /status and /dispute.
func (s *Server) handleBookingDetail(w http.ResponseWriter, r *http.Request) {
	parts := pathSegments(r.URL.Path, "/api/bookings/")
	if len(parts) == 0 || len(parts) > 2 {
		writeError(w, http.StatusBadRequest, "invalid_path", "expected /api/bookings/{id}")
		return
	}
	id, ok := parseID(parts[0])
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid_path", "booking id must be a positive integer")
		return
	}
	ctx := r.Context()
	caller := callerFrom(ctx)

	if len(parts) == 1 {
		if r.Method != http.MethodGet {
			methodNotAllowed(w, http.MethodGet)
			return
		}
		b, found, err := s.market.GetBooking(ctx, id)
		if err != nil {
			s.writeServiceError(w, r, err)
			return
		}
		if !found {
			writeError(w, http.StatusNotFound, "not_found", "booking not found")
			return
		}
		writeJSON(w, http.StatusOK, toBookingResponse(b))
		return
	}

	switch parts[1] {
	case "status":
		if r.Method != http.MethodPut {
			methodNotAllowed(w, http.MethodPut)
			return
		}
		var req struct {
			Status string `json:"status"`
		}
		if !decodeJSON(w, r, &req) {
			return
		}
		if err := s.market.UpdateShippingStatus(ctx, id, booking.Status(req.Status), caller); err != nil {
			s.writeServiceError(w, r, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	case "dispute":
		if r.Method != http.MethodPost {
			methodNotAllowed(w, http.MethodPost)
			return
		}
		if err := s.market.FileDispute(ctx, id, caller); err != nil {
			s.writeServiceError(w, r, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	default:
		writeError(w, http.StatusNotFound, "not_found", "unknown booking resource")
	}
}

func (s *Server) handlePlatform(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, http.MethodGet)
		return
	}
	cfg, err := s.market.GetPlatformConfig(r.Context())
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toPlatformResponse(cfg))
}

// handlePlatformDetail serves /api/platform/fee, /admin and /time.
func (s *Server) handlePlatformDetail(w http.ResponseWriter, r *http.Request) {
	parts := pathSegments(r.URL.Path, "/api/platform/")
	if len(parts) != 1 {
		writeError(w, http.StatusNotFound, "not_found", "unknown platform resource")
		return
	}
	ctx := r.Context()
	caller := callerFrom(ctx)

	switch parts[0] {
	case "fee":
		if r.Method != http.MethodPut {
			methodNotAllowed(w, http.MethodPut)
			return
		}
		var req struct {
			Percent int64 `json:"percent"`
		}
		if !decodeJSON(w, r, &req) {
			return
		}
		percent, ok := nonNegative(w, "percent", req.Percent)
		if !ok {
			return
		}
		if err := s.market.SetPlatformFee(ctx, percent, caller); err != nil {
			s.writeServiceError(w, r, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	case "admin":
		if r.Method != http.MethodPut {
			methodNotAllowed(w, http.MethodPut)
			return
		}
		var req struct {
			Admin string `json:"admin"`
		}
		if !decodeJSON(w, r, &req) {
			return
		}
		if err := s.market.SetAdmin(ctx, req.Admin, caller); err != nil {
			s.writeServiceError(w, r, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	case "time":
		switch r.Method {
		case http.MethodGet:
			t, err := s.market.GetCurrentTime(ctx)
			if err != nil {
				s.writeServiceError(w, r, err)
				return
			}
			writeJSON(w, http.StatusOK, map[string]uint64{"current_time": t})
		case http.MethodPut:
			var req struct {
				CurrentTime uint64 `json:"current_time"`
			}
			if !decodeJSON(w, r, &req) {
				return
			}
			if err := s.market.SetCurrentTime(ctx, req.CurrentTime); err != nil {
				s.writeServiceError(w, r, err)
				return
			}
			w.WriteHeader(http.StatusNoContent)
		default:
			methodNotAllowed(w, http.MethodGet, http.MethodPut)
		}
	default:
		writeError(w, http.StatusNotFound, "not_found", "unknown platform resource")
	}
}

// handleDeposit credits an account. Only the platform admin may fund accounts.
func (s *Server) handleDeposit(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, http.MethodPost)
		return
	}
	var req struct {
		Account string `json:"account"`
		Amount  uint64 `json:"amount"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	ctx := r.Context()
	if err := s.market.AdminDeposit(ctx, req.Account, req.Amount, callerFrom(ctx)); err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleBalance(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, http.MethodGet)
		return
	}
	caller := callerFrom(r.Context())
	amount, err := s.market.Balance(r.Context(), caller)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"account": caller, "balance": amount})
}
