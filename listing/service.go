package listing

import (
	"context"
	"fmt"
	"unicode/utf8"

	"freightmarket/carrier"
	"freightmarket/errs"
	"freightmarket/events"
	"freightmarket/store"
)

// CarrierReader looks up carriers for ownership and activity checks.
type CarrierReader interface {
	Get(ctx context.Context, id uint64) (carrier.Carrier, bool, error)
}

type Service struct {
	listings store.Table[uint64, Listing]
	ids      *store.Sequence
	carriers CarrierReader
	events   events.Recorder
	bounds   Bounds
}

func NewService(listings store.Table[uint64, Listing], ids *store.Sequence, carriers CarrierReader, recorder events.Recorder, bounds Bounds) *Service {
	return &Service{
		listings: listings,
		ids:      ids,
		carriers: carriers,
		events:   recorder,
		bounds:   bounds,
	}
}

// Bounds returns the bound table in force.
func (s *Service) Bounds() Bounds {
	return s.bounds
}

// Create validates params, checks that caller owns the active carrier and
// stores a new active listing priced at its base price.
func (s *Service) Create(ctx context.Context, params CreateParams, caller string) (uint64, error) {
	if err := s.validate(params); err != nil {
		return 0, err
	}

	c, found, err := s.carriers.Get(ctx, params.CarrierID)
	if err != nil {
		return 0, fmt.Errorf("listing: load carrier %d: %w", params.CarrierID, err)
	}
	if !found {
		return 0, fmt.Errorf("listing: carrier %d: %w", params.CarrierID, errs.ErrNotFound)
	}
	if !c.Active {
		return 0, fmt.Errorf("listing: carrier %d inactive: %w", params.CarrierID, errs.ErrInvalidStatus)
	}
	if caller != c.Owner {
		return 0, fmt.Errorf("listing: create for carrier %d: %w", params.CarrierID, errs.ErrNotAuthorized)
	}
	if params.DepartureTime <= params.BookingDeadline || params.ArrivalTime <= params.DepartureTime {
		return 0, fmt.Errorf("listing: deadline %d, departure %d, arrival %d out of order: %w",
			params.BookingDeadline, params.DepartureTime, params.ArrivalTime, errs.ErrInvalidParameters)
	}

	id, err := s.ids.Next(ctx)
	if err != nil {
		return 0, err
	}
	l := Listing{
		ID:              id,
		CarrierID:       params.CarrierID,
		Origin:          params.Origin,
		Destination:     params.Destination,
		CapacityKg:      params.CapacityKg,
		VolumeM3:        params.VolumeM3,
		DepartureTime:   params.DepartureTime,
		ArrivalTime:     params.ArrivalTime,
		BasePrice:       params.BasePrice,
		CurrentPrice:    params.BasePrice,
		BookingDeadline: params.BookingDeadline,
		Status:          StatusActive,
	}
	if err := s.listings.Insert(ctx, id, l); err != nil {
		return 0, fmt.Errorf("listing: store %d: %w", id, err)
	}

	if err := s.record(ctx, TopicCreated, map[string]any{
		"listing_id":       id,
		"carrier_id":       l.CarrierID,
		"origin":           l.Origin,
		"destination":      l.Destination,
		"price":            l.CurrentPrice,
		"booking_deadline": l.BookingDeadline,
	}); err != nil {
		return 0, err
	}
	return id, nil
}

// Get returns the listing with the given id and whether it exists.
func (s *Service) Get(ctx context.Context, id uint64) (Listing, bool, error) {
	l, found, err := s.listings.Get(ctx, id)
	if err != nil {
		return Listing{}, false, fmt.Errorf("listing: get %d: %w", id, err)
	}
	return l, found, nil
}

// UpdatePrice overwrites the current price of an active listing.
func (s *Service) UpdatePrice(ctx context.Context, id, price uint64, caller string) error {
	l, err := s.mustGet(ctx, id)
	if err != nil {
		return err
	}
	if l.Status != StatusActive {
		return fmt.Errorf("listing: update price of %s listing %d: %w", l.Status, id, errs.ErrInvalidStatus)
	}
	if !within(price, s.bounds.MinPrice, s.bounds.MaxPrice) {
		return fmt.Errorf("listing: price %d: %w", price, errs.ErrInvalidParameters)
	}
	if err := s.requireOwner(ctx, l, caller, "update price"); err != nil {
		return err
	}

	if err := s.listings.Update(ctx, id, l.WithPrice(price)); err != nil {
		return fmt.Errorf("listing: store price %d: %w", id, err)
	}
	return s.record(ctx, TopicPriceUpdated, map[string]any{
		"listing_id":     id,
		"previous_price": l.CurrentPrice,
		"price":          price,
	})
}

// Cancel moves an active listing to cancelled.
func (s *Service) Cancel(ctx context.Context, id uint64, caller string) error {
	l, err := s.mustGet(ctx, id)
	if err != nil {
		return err
	}
	if l.Status != StatusActive {
		return fmt.Errorf("listing: cancel %s listing %d: %w", l.Status, id, errs.ErrInvalidStatus)
	}
	if err := s.requireOwner(ctx, l, caller, "cancel"); err != nil {
		return err
	}

	if err := s.transition(ctx, l, StatusCancelled); err != nil {
		return err
	}
	return s.record(ctx, TopicCancelled, map[string]any{"listing_id": id})
}

// MarkBooked moves an active listing to booked. The caller has already
// authorised the booking.
func (s *Service) MarkBooked(ctx context.Context, id uint64) error {
	l, err := s.mustGet(ctx, id)
	if err != nil {
		return err
	}
	return s.transition(ctx, l, StatusBooked)
}

// Complete moves a booked listing to completed.
func (s *Service) Complete(ctx context.Context, id uint64) error {
	l, err := s.mustGet(ctx, id)
	if err != nil {
		return err
	}
	if err := s.transition(ctx, l, StatusCompleted); err != nil {
		return err
	}
	return s.record(ctx, TopicCompleted, map[string]any{"listing_id": id})
}

// OwnerOf returns the account owning the listing's carrier.
func (s *Service) OwnerOf(ctx context.Context, l Listing) (string, error) {
	c, found, err := s.carriers.Get(ctx, l.CarrierID)
	if err != nil {
		return "", fmt.Errorf("listing: load carrier %d: %w", l.CarrierID, err)
	}
	if !found {
		return "", fmt.Errorf("listing: carrier %d of listing %d: %w", l.CarrierID, l.ID, errs.ErrNotFound)
	}
	return c.Owner, nil
}

func (s *Service) transition(ctx context.Context, l Listing, next Status) error {
	if !l.Status.CanTransition(next) {
		return fmt.Errorf("listing: %d %s -> %s: %w", l.ID, l.Status, next, errs.ErrInvalidStatus)
	}
	if err := s.listings.Update(ctx, l.ID, l.WithStatus(next)); err != nil {
		return fmt.Errorf("listing: store status %d: %w", l.ID, err)
	}
	return nil
}

func (s *Service) requireOwner(ctx context.Context, l Listing, caller, op string) error {
	owner, err := s.OwnerOf(ctx, l)
	if err != nil {
		return err
	}
	if caller == "" || caller != owner {
		return fmt.Errorf("listing: %s %d: %w", op, l.ID, errs.ErrNotAuthorized)
	}
	return nil
}

func (s *Service) mustGet(ctx context.Context, id uint64) (Listing, error) {
	l, found, err := s.Get(ctx, id)
	if err != nil {
		return Listing{}, err
	}
	if !found {
		return Listing{}, fmt.Errorf("listing: %d: %w", id, errs.ErrNotFound)
	}
	return l, nil
}

func (s *Service) validate(p CreateParams) error {
	b := s.bounds
	switch {
	case p.Origin == "" || utf8.RuneCountInString(p.Origin) > b.MaxLocationLen:
		return fmt.Errorf("listing: origin length: %w", errs.ErrInvalidParameters)
	case p.Destination == "" || utf8.RuneCountInString(p.Destination) > b.MaxLocationLen:
		return fmt.Errorf("listing: destination length: %w", errs.ErrInvalidParameters)
	case !within(p.CapacityKg, b.MinCapacityKg, b.MaxCapacityKg):
		return fmt.Errorf("listing: capacity %d kg: %w", p.CapacityKg, errs.ErrInvalidParameters)
	case !within(p.VolumeM3, b.MinVolumeM3, b.MaxVolumeM3):
		return fmt.Errorf("listing: volume %d m3: %w", p.VolumeM3, errs.ErrInvalidParameters)
	case !within(p.BasePrice, b.MinPrice, b.MaxPrice):
		return fmt.Errorf("listing: base price %d: %w", p.BasePrice, errs.ErrInvalidParameters)
	case !within(p.DepartureTime, b.MinTime, b.MaxTime):
		return fmt.Errorf("listing: departure %d: %w", p.DepartureTime, errs.ErrInvalidParameters)
	case !within(p.ArrivalTime, b.MinTime, b.MaxTime):
		return fmt.Errorf("listing: arrival %d: %w", p.ArrivalTime, errs.ErrInvalidParameters)
	case !within(p.BookingDeadline, b.MinTime, b.MaxTime):
		return fmt.Errorf("listing: booking deadline %d: %w", p.BookingDeadline, errs.ErrInvalidParameters)
	}
	return nil
}

func (s *Service) record(ctx context.Context, topic string, payload map[string]any) error {
	if s.events == nil {
		return nil
	}
	if err := s.events.Record(ctx, topic, payload); err != nil {
		return fmt.Errorf("listing: enqueue %s: %w", topic, err)
	}
	return nil
}
