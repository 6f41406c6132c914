package booking

import (
	"context"
	"errors"
	"fmt"
	"unicode/utf8"

	"freightmarket/errs"
	"freightmarket/events"
	"freightmarket/ledger"
	"freightmarket/listing"
	"freightmarket/platform"
	"freightmarket/store"
)

// Listings is the part of the listing manager bookings depend on.
type Listings interface {
	Get(ctx context.Context, id uint64) (listing.Listing, bool, error)
	OwnerOf(ctx context.Context, l listing.Listing) (string, error)
	MarkBooked(ctx context.Context, id uint64) error
}

// Platform exposes the fee, admin and clock.
type Platform interface {
	Get(ctx context.Context) (platform.Config, error)
}

type Service struct {
	bookings    store.Table[uint64, Booking]
	ids         *store.Sequence
	listings    Listings
	platform    Platform
	transfers   ledger.Transferer
	events      events.Recorder
	maxCargoLen int
}

func NewService(
	bookings store.Table[uint64, Booking],
	ids *store.Sequence,
	listings Listings,
	platform Platform,
	transfers ledger.Transferer,
	recorder events.Recorder,
	maxCargoLen int,
) *Service {
	if maxCargoLen <= 0 {
		maxCargoLen = DefaultMaxCargoLen
	}
	return &Service{
		bookings:    bookings,
		ids:         ids,
		listings:    listings,
		platform:    platform,
		transfers:   transfers,
		events:      recorder,
		maxCargoLen: maxCargoLen,
	}
}

// Book buys an active listing at its current price. The shipper pays the
// carrier owner and then the platform admin; the booking and the listing
// status change are written only after both transfers succeed. Callers run
// Book inside a unit of work so a failed second transfer undoes the first.
func (s *Service) Book(ctx context.Context, listingID uint64, cargo, shipper string) (Receipt, error) {
	if shipper == "" {
		return Receipt{}, fmt.Errorf("booking: anonymous shipper: %w", errs.ErrNotAuthorized)
	}

	l, found, err := s.listings.Get(ctx, listingID)
	if err != nil {
		return Receipt{}, err
	}
	if !found {
		return Receipt{}, fmt.Errorf("booking: listing %d: %w", listingID, errs.ErrNotFound)
	}
	if l.Status != listing.StatusActive {
		return Receipt{}, fmt.Errorf("booking: listing %d is %s: %w", listingID, l.Status, errs.ErrInvalidStatus)
	}
	if cargo == "" || utf8.RuneCountInString(cargo) > s.maxCargoLen {
		return Receipt{}, fmt.Errorf("booking: cargo length: %w", errs.ErrInvalidParameters)
	}

	cfg, err := s.platform.Get(ctx)
	if err != nil {
		return Receipt{}, fmt.Errorf("booking: load platform config: %w", err)
	}
	if cfg.CurrentTime >= l.BookingDeadline {
		return Receipt{}, fmt.Errorf("booking: clock %d at or past deadline %d: %w", cfg.CurrentTime, l.BookingDeadline, errs.ErrPastDeadline)
	}
	owner, err := s.listings.OwnerOf(ctx, l)
	if err != nil {
		return Receipt{}, err
	}

	price := l.CurrentPrice
	fee, payment := cfg.Fee(price)
	if err := s.transfers.Transfer(ctx, payment, shipper, owner); err != nil {
		return Receipt{}, transferError("carrier payment", payment, err)
	}
	if err := s.transfers.Transfer(ctx, fee, shipper, cfg.Admin); err != nil {
		return Receipt{}, transferError("platform fee", fee, err)
	}

	id, err := s.ids.Next(ctx)
	if err != nil {
		return Receipt{}, err
	}
	b := Booking{
		ID:             id,
		ListingID:      listingID,
		Shipper:        shipper,
		PricePaid:      price,
		PlatformFee:    fee,
		CarrierPayment: payment,
		BookedAt:       cfg.CurrentTime,
		Cargo:          cargo,
		Status:         StatusConfirmed,
	}
	if err := s.bookings.Insert(ctx, id, b); err != nil {
		return Receipt{}, fmt.Errorf("booking: store %d: %w", id, err)
	}
	if err := s.listings.MarkBooked(ctx, listingID); err != nil {
		return Receipt{}, err
	}

	if err := s.record(ctx, TopicConfirmed, map[string]any{
		"booking_id":      id,
		"listing_id":      listingID,
		"shipper":         shipper,
		"carrier_owner":   owner,
		"price_paid":      price,
		"platform_fee":    fee,
		"carrier_payment": payment,
		"booked_at":       cfg.CurrentTime,
	}); err != nil {
		return Receipt{}, err
	}
	return b.Receipt(), nil
}

// Get returns the booking with the given id and whether it exists.
func (s *Service) Get(ctx context.Context, id uint64) (Booking, bool, error) {
	b, found, err := s.bookings.Get(ctx, id)
	if err != nil {
		return Booking{}, false, fmt.Errorf("booking: get %d: %w", id, err)
	}
	return b, found, nil
}

// SetStatus overwrites the status of an existing booking. Transition
// legality is the caller's concern.
func (s *Service) SetStatus(ctx context.Context, id uint64, status Status) error {
	b, found, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	if !found {
		return fmt.Errorf("booking: %d: %w", id, errs.ErrNotFound)
	}
	if err := s.bookings.Update(ctx, id, b.WithStatus(status)); err != nil {
		return fmt.Errorf("booking: store status %d: %w", id, err)
	}
	return nil
}

// transferError reports a refused transfer as ErrInsufficientFunds. Storage
// and context failures keep their own chain so they surface as internal.
func transferError(leg string, amount uint64, err error) error {
	if errors.Is(err, ledger.ErrInsufficientFunds) ||
		errors.Is(err, ledger.ErrInvalidAccount) ||
		errors.Is(err, ledger.ErrOverflow) ||
		errors.Is(err, errs.ErrInsufficientFunds) {
		return fmt.Errorf("booking: %s %d: %w: %w", leg, amount, errs.ErrInsufficientFunds, err)
	}
	return fmt.Errorf("booking: %s %d: %w", leg, amount, err)
}

func (s *Service) record(ctx context.Context, topic string, payload map[string]any) error {
	if s.events == nil {
		return nil
	}
	if err := s.events.Record(ctx, topic, payload); err != nil {
		return fmt.Errorf("booking: enqueue %s: %w", topic, err)
	}
	return nil
}
