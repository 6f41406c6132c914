package platform

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"freightmarket/errs"
	"freightmarket/events"
	"freightmarket/store"
)

// ErrNotInitialised signals the config record has not been seeded yet.
var ErrNotInitialised = errors.New("platform: config not initialised")

// Service owns the admin identity, the fee percentage and the logical clock.
type Service struct {
	configs  store.Table[string, Config]
	events   events.Recorder
	maxClock uint64
}

func NewService(configs store.Table[string, Config], recorder events.Recorder, maxClock uint64) *Service {
	return &Service{
		configs:  configs,
		events:   recorder,
		maxClock: maxClock,
	}
}

// Init seeds the config record unless one is already stored. It returns
// the config in effect.
func (s *Service) Init(ctx context.Context, initial Config) (Config, error) {
	if strings.TrimSpace(initial.Admin) == "" {
		return Config{}, fmt.Errorf("platform: init: empty admin: %w", errs.ErrInvalidParameters)
	}
	if initial.FeePercent > MaxFeePercent {
		return Config{}, fmt.Errorf("platform: init: fee %d%%: %w", initial.FeePercent, errs.ErrFeeExceedsMax)
	}
	if initial.CurrentTime > s.maxClock {
		return Config{}, fmt.Errorf("platform: init: clock %d: %w", initial.CurrentTime, errs.ErrInvalidParameters)
	}

	existing, found, err := s.configs.Get(ctx, ConfigKey)
	if err != nil {
		return Config{}, fmt.Errorf("platform: load config: %w", err)
	}
	if found {
		return existing, nil
	}
	if err := s.configs.Insert(ctx, ConfigKey, initial); err != nil {
		return Config{}, fmt.Errorf("platform: seed config: %w", err)
	}
	return initial, nil
}

// Get returns the current config.
func (s *Service) Get(ctx context.Context) (Config, error) {
	cfg, found, err := s.configs.Get(ctx, ConfigKey)
	if err != nil {
		return Config{}, fmt.Errorf("platform: load config: %w", err)
	}
	if !found {
		return Config{}, ErrNotInitialised
	}
	return cfg, nil
}

// IsAdmin reports whether caller is the admin principal.
func (s *Service) IsAdmin(ctx context.Context, caller string) (bool, error) {
	cfg, err := s.Get(ctx)
	if err != nil {
		return false, err
	}
	return caller != "" && caller == cfg.Admin, nil
}

// CurrentTime returns the logical clock.
func (s *Service) CurrentTime(ctx context.Context) (uint64, error) {
	cfg, err := s.Get(ctx)
	if err != nil {
		return 0, err
	}
	return cfg.CurrentTime, nil
}

func (s *Service) SetFee(ctx context.Context, percent uint64, caller string) error {
	cfg, err := s.Get(ctx)
	if err != nil {
		return err
	}
	if caller != cfg.Admin {
		return fmt.Errorf("platform: set fee: %w", errs.ErrNotAuthorized)
	}
	if percent > uint64(MaxFeePercent) {
		return fmt.Errorf("platform: set fee %d%%: %w", percent, errs.ErrFeeExceedsMax)
	}

	if err := s.configs.Update(ctx, ConfigKey, cfg.WithFee(uint8(percent))); err != nil {
		return fmt.Errorf("platform: store fee: %w", err)
	}
	return s.record(ctx, TopicFeeUpdated, map[string]any{
		"previous_fee_percent": cfg.FeePercent,
		"fee_percent":          uint8(percent),
	})
}

func (s *Service) SetAdmin(ctx context.Context, admin, caller string) error {
	cfg, err := s.Get(ctx)
	if err != nil {
		return err
	}
	if caller != cfg.Admin {
		return fmt.Errorf("platform: set admin: %w", errs.ErrNotAuthorized)
	}
	if strings.TrimSpace(admin) == "" {
		return fmt.Errorf("platform: set admin: empty identity: %w", errs.ErrInvalidParameters)
	}

	if err := s.configs.Update(ctx, ConfigKey, cfg.WithAdmin(admin)); err != nil {
		return fmt.Errorf("platform: store admin: %w", err)
	}
	return s.record(ctx, TopicAdminChanged, map[string]any{
		"previous_admin": cfg.Admin,
		"admin":          admin,
	})
}

// SetCurrentTime moves the logical clock. Any caller may drive it; only the
// upper bound is enforced.
func (s *Service) SetCurrentTime(ctx context.Context, t uint64) error {
	if t > s.maxClock {
		return fmt.Errorf("platform: set clock %d: %w", t, errs.ErrInvalidParameters)
	}
	cfg, err := s.Get(ctx)
	if err != nil {
		return err
	}
	if err := s.configs.Update(ctx, ConfigKey, cfg.WithCurrentTime(t)); err != nil {
		return fmt.Errorf("platform: store clock: %w", err)
	}
	return nil
}

func (s *Service) record(ctx context.Context, topic string, payload map[string]any) error {
	if s.events == nil {
		return nil
	}
	if err := s.events.Record(ctx, topic, payload); err != nil {
		return fmt.Errorf("platform: enqueue %s: %w", topic, err)
	}
	return nil
}
