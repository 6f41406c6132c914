package events

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// Message is the envelope published for every outbox event.
type Message struct {
	ID        string         `json:"id"`
	Topic     string         `json:"topic"`
	Payload   map[string]any `json:"payload"`
	CreatedAt time.Time      `json:"created_at"`
}

// Relay drains pending outbox events to a Publisher.
type Relay struct {
	outbox    Outbox
	publisher Publisher
	log       *zap.Logger
	batchSize int
	interval  time.Duration
}

func NewRelay(outbox Outbox, publisher Publisher, log *zap.Logger, batchSize int, interval time.Duration) *Relay {
	if batchSize <= 0 {
		batchSize = 100
	}
	if interval <= 0 {
		interval = 2 * time.Second
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Relay{
		outbox:    outbox,
		publisher: publisher,
		log:       log,
		batchSize: batchSize,
		interval:  interval,
	}
}

// Drain publishes one batch in order and returns how many events went out.
// It stops at the first publish failure so later events never overtake an
// earlier one; the failed event keeps its pending state with attempts
// incremented.
func (r *Relay) Drain(ctx context.Context) (int, error) {
	pending, err := r.outbox.Pending(ctx, r.batchSize)
	if err != nil {
		return 0, err
	}

	published := 0
	for _, ev := range pending {
		msg := Message{ID: ev.ID, Topic: ev.Topic, Payload: ev.Payload, CreatedAt: ev.CreatedAt}
		if pubErr := r.publisher.Publish(ctx, ev.Topic, msg); pubErr != nil {
			if markErr := r.outbox.MarkFailed(ctx, ev.ID, pubErr); markErr != nil {
				return published, errors.Join(pubErr, markErr)
			}
			return published, fmt.Errorf("events: publish %s (%s): %w", ev.ID, ev.Topic, pubErr)
		}
		if err := r.outbox.MarkPublished(ctx, ev.ID); err != nil {
			return published, err
		}
		published++
	}
	return published, nil
}

// Run drains on every tick until ctx is cancelled.
func (r *Relay) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			n, err := r.Drain(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return nil
				}
				r.log.Warn("outbox relay drain failed", zap.Int("published", n), zap.Error(err))
				continue
			}
			if n > 0 {
				r.log.Debug("outbox relay drained", zap.Int("published", n))
			}
		}
	}
}
