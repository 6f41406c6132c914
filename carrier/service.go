package carrier

import (
	"context"
	"fmt"
	"unicode/utf8"

	"freightmarket/errs"
	"freightmarket/events"
	"freightmarket/store"
)

// AdminChecker reports whether a caller holds the admin role.
type AdminChecker interface {
	IsAdmin(ctx context.Context, caller string) (bool, error)
}

// Service is the carrier registry.
type Service struct {
	carriers   store.Table[uint64, Carrier]
	ids        *store.Sequence
	admins     AdminChecker
	events     events.Recorder
	maxNameLen int
}

// NewService builds a registry over the given table and id sequence.
func NewService(carriers store.Table[uint64, Carrier], ids *store.Sequence, admins AdminChecker, recorder events.Recorder, maxNameLen int) *Service {
	if maxNameLen <= 0 {
		maxNameLen = 64
	}
	return &Service{
		carriers:   carriers,
		ids:        ids,
		admins:     admins,
		events:     recorder,
		maxNameLen: maxNameLen,
	}
}

// Register creates an active carrier owned by caller and returns its id.
func (s *Service) Register(ctx context.Context, name, caller string) (uint64, error) {
	if name == "" || utf8.RuneCountInString(name) > s.maxNameLen {
		return 0, fmt.Errorf("carrier: register: name length: %w", errs.ErrInvalidParameters)
	}
	if caller == "" {
		return 0, fmt.Errorf("carrier: register: anonymous caller: %w", errs.ErrNotAuthorized)
	}

	last, err := s.ids.Last(ctx)
	if err != nil {
		return 0, err
	}
	slot := last + 1
	existing, occupied, err := s.carriers.Get(ctx, slot)
	if err != nil {
		return 0, fmt.Errorf("carrier: load slot %d: %w", slot, err)
	}
	if occupied && existing.Active {
		return 0, fmt.Errorf("carrier: register slot %d: %w", slot, errs.ErrAlreadyExists)
	}

	id, err := s.ids.Next(ctx)
	if err != nil {
		return 0, err
	}
	c := Carrier{
		ID:     id,
		Name:   name,
		Active: true,
		Owner:  caller,
	}
	if occupied {
		// an inactive leftover in the slot is replaced
		err = s.carriers.Update(ctx, id, c)
	} else {
		err = s.carriers.Insert(ctx, id, c)
	}
	if err != nil {
		return 0, fmt.Errorf("carrier: store %d: %w", id, err)
	}

	if err := s.record(ctx, TopicRegistered, map[string]any{
		"carrier_id": id,
		"name":       name,
		"owner":      caller,
	}); err != nil {
		return 0, err
	}
	return id, nil
}

// Get returns the carrier with the given id and whether it exists.
func (s *Service) Get(ctx context.Context, id uint64) (Carrier, bool, error) {
	c, found, err := s.carriers.Get(ctx, id)
	if err != nil {
		return Carrier{}, false, fmt.Errorf("carrier: get %d: %w", id, err)
	}
	return c, found, nil
}

// SetReputation overwrites a carrier's reputation. Admin only; inactive
// carriers may be rescored.
func (s *Service) SetReputation(ctx context.Context, id uint64, score uint64, caller string) error {
	if err := s.requireAdmin(ctx, caller, "set reputation"); err != nil {
		return err
	}
	c, err := s.mustGet(ctx, id)
	if err != nil {
		return err
	}
	if score > uint64(MaxReputation) {
		return fmt.Errorf("carrier: reputation %d: %w", score, errs.ErrInvalidParameters)
	}

	if err := s.carriers.Update(ctx, id, c.WithReputation(uint8(score))); err != nil {
		return fmt.Errorf("carrier: store reputation %d: %w", id, err)
	}
	return s.record(ctx, TopicReputationUpdated, map[string]any{
		"carrier_id":          id,
		"previous_reputation": c.Reputation,
		"reputation":          uint8(score),
	})
}

// SetActive switches a carrier's active flag. Admin only.
func (s *Service) SetActive(ctx context.Context, id uint64, active bool, caller string) error {
	if err := s.requireAdmin(ctx, caller, "set active"); err != nil {
		return err
	}
	c, err := s.mustGet(ctx, id)
	if err != nil {
		return err
	}

	if err := s.carriers.Update(ctx, id, c.WithActive(active)); err != nil {
		return fmt.Errorf("carrier: store active flag %d: %w", id, err)
	}
	return s.record(ctx, TopicActivationChanged, map[string]any{
		"carrier_id": id,
		"active":     active,
	})
}

func (s *Service) mustGet(ctx context.Context, id uint64) (Carrier, error) {
	c, found, err := s.Get(ctx, id)
	if err != nil {
		return Carrier{}, err
	}
	if !found {
		return Carrier{}, fmt.Errorf("carrier: %d: %w", id, errs.ErrNotFound)
	}
	return c, nil
}

func (s *Service) requireAdmin(ctx context.Context, caller, op string) error {
	ok, err := s.admins.IsAdmin(ctx, caller)
	if err != nil {
		return fmt.Errorf("carrier: %s: %w", op, err)
	}
	if !ok {
		return fmt.Errorf("carrier: %s: %w", op, errs.ErrNotAuthorized)
	}
	return nil
}

func (s *Service) record(ctx context.Context, topic string, payload map[string]any) error {
	if s.events == nil {
		return nil
	}
	if err := s.events.Record(ctx, topic, payload); err != nil {
		return fmt.Errorf("carrier: enqueue %s: %w", topic, err)
	}
	return nil
}
