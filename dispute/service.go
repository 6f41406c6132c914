// Package dispute drives bookings through their shipping lifecycle and
// handles shipper disputes.
package dispute

import (
	"context"
	"fmt"

	"freightmarket/booking"
	"freightmarket/errs"
	"freightmarket/events"
	"freightmarket/listing"
)

type Bookings interface {
	Get(ctx context.Context, id uint64) (booking.Booking, bool, error)
	SetStatus(ctx context.Context, id uint64, status booking.Status) error
}

type Listings interface {
	Get(ctx context.Context, id uint64) (listing.Listing, bool, error)
	OwnerOf(ctx context.Context, l listing.Listing) (string, error)
	Complete(ctx context.Context, id uint64) error
}

type Service struct {
	bookings Bookings
	listings Listings
	events   events.Recorder
}

func NewService(bookings Bookings, listings Listings, recorder events.Recorder) *Service {
	return &Service{
		bookings: bookings,
		listings: listings,
		events:   recorder,
	}
}

// UpdateShippingStatus lets the carrier owning the booked listing advance a
// booking. Delivery also completes the listing.
func (s *Service) UpdateShippingStatus(ctx context.Context, bookingID uint64, next booking.Status, caller string) error {
	b, err := s.loadBooking(ctx, bookingID)
	if err != nil {
		return err
	}
	if !next.Valid() || next == booking.StatusConfirmed {
		return fmt.Errorf("dispute: shipping status %q: %w", next, errs.ErrInvalidParameters)
	}

	l, found, err := s.listings.Get(ctx, b.ListingID)
	if err != nil {
		return err
	}
	if !found {
		return fmt.Errorf("dispute: listing %d of booking %d: %w", b.ListingID, bookingID, errs.ErrNotFound)
	}
	owner, err := s.listings.OwnerOf(ctx, l)
	if err != nil {
		return err
	}
	if caller == "" || caller != owner {
		return fmt.Errorf("dispute: update booking %d: %w", bookingID, errs.ErrNotAuthorized)
	}
	if !b.Status.CarrierCanMove(next) {
		return fmt.Errorf("dispute: booking %d %s -> %s: %w", bookingID, b.Status, next, errs.ErrInvalidStatus)
	}
	delivered := next == booking.StatusDelivered
	if delivered && l.Status != listing.StatusBooked {
		return fmt.Errorf("dispute: complete %s listing %d: %w", l.Status, l.ID, errs.ErrInvalidStatus)
	}

	if err := s.bookings.SetStatus(ctx, bookingID, next); err != nil {
		return err
	}
	if delivered {
		if err := s.listings.Complete(ctx, l.ID); err != nil {
			return err
		}
	}

	return s.record(ctx, booking.TopicStatusChanged, map[string]any{
		"booking_id":      bookingID,
		"listing_id":      b.ListingID,
		"previous_status": string(b.Status),
		"status":          string(next),
	})
}

// FileDispute marks a booking disputed on behalf of its shipper, whatever
// its current status.
func (s *Service) FileDispute(ctx context.Context, bookingID uint64, caller string) error {
	b, err := s.loadBooking(ctx, bookingID)
	if err != nil {
		return err
	}
	if caller == "" || caller != b.Shipper {
		return fmt.Errorf("dispute: file on booking %d: %w", bookingID, errs.ErrNotAuthorized)
	}

	if err := s.bookings.SetStatus(ctx, bookingID, booking.StatusDisputed); err != nil {
		return err
	}
	return s.record(ctx, booking.TopicDisputed, map[string]any{
		"booking_id":      bookingID,
		"listing_id":      b.ListingID,
		"shipper":         b.Shipper,
		"previous_status": string(b.Status),
	})
}

func (s *Service) loadBooking(ctx context.Context, id uint64) (booking.Booking, error) {
	b, found, err := s.bookings.Get(ctx, id)
	if err != nil {
		return booking.Booking{}, err
	}
	if !found {
		return booking.Booking{}, fmt.Errorf("dispute: booking %d: %w", id, errs.ErrNotFound)
	}
	return b, nil
}

func (s *Service) record(ctx context.Context, topic string, payload map[string]any) error {
	if s.events == nil {
		return nil
	}
	if err := s.events.Record(ctx, topic, payload); err != nil {
		return fmt.Errorf("dispute: enqueue %s: %w", topic, err)
	}
	return nil
}
