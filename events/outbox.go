// Package events implements the transactional outbox: services record
// events inside their unit of work and Relay later publishes them to a
// broker.
package events

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"freightmarket/store"
)

// ErrEventNotFound signals a mark targeted an unknown event id.
var ErrEventNotFound = errors.New("events: event not found")

// Event is one outbox row.
type Event struct {
	Seq         uint64
	ID          string
	Topic       string
	Payload     map[string]any
	Published   bool
	Attempts    int
	LastError   string
	CreatedAt   time.Time
	PublishedAt *time.Time
}

// Recorder appends an event to the outbox within the caller's unit of work.
type Recorder interface {
	Record(ctx context.Context, topic string, payload map[string]any) error
}

// Outbox is the relay-facing side of the outbox.
type Outbox interface {
	Recorder
	Pending(ctx context.Context, limit int) ([]Event, error)
	MarkPublished(ctx context.Context, id string) error
	MarkFailed(ctx context.Context, id string, cause error) error
}

// MemoryOutbox keeps events in a store.MemoryTable so records staged in a
// store.Memory unit of work vanish with it on rollback.
type MemoryOutbox struct {
	rows *store.MemoryTable[string, Event]
	seq  atomic.Uint64
	now  func() time.Time
}

func NewMemoryOutbox() *MemoryOutbox {
	return &MemoryOutbox{
		rows: store.NewMemoryTable[string, Event](),
		now:  time.Now,
	}
}

func (o *MemoryOutbox) Record(ctx context.Context, topic string, payload map[string]any) error {
	if topic == "" {
		return fmt.Errorf("events: empty topic")
	}
	ev := Event{
		Seq:       o.seq.Add(1),
		ID:        uuid.NewString(),
		Topic:     topic,
		Payload:   payload,
		CreatedAt: o.now().UTC(),
	}
	if err := o.rows.Insert(ctx, ev.ID, ev); err != nil {
		return fmt.Errorf("events: record %s: %w", topic, err)
	}
	return nil
}

func (o *MemoryOutbox) Pending(ctx context.Context, limit int) ([]Event, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}

	var pending []Event
	err := o.rows.Range(ctx, func(_ string, ev Event) bool {
		pending = append(pending, ev)
		return true
	})
	if err != nil {
		return nil, fmt.Errorf("events: list pending: %w", err)
	}

	sort.Slice(pending, func(i, j int) bool { return pending[i].Seq < pending[j].Seq })
	if len(pending) > limit {
		pending = pending[:limit]
	}
	return pending, nil
}

// MarkPublished removes the delivered event.
func (o *MemoryOutbox) MarkPublished(ctx context.Context, id string) error {
	_, found, err := o.rows.Get(ctx, id)
	if err != nil {
		return fmt.Errorf("events: load %s: %w", id, err)
	}
	if !found {
		return fmt.Errorf("%w: %s", ErrEventNotFound, id)
	}
	if err := o.rows.Delete(ctx, id); err != nil {
		return fmt.Errorf("events: drop %s: %w", id, err)
	}
	return nil
}

func (o *MemoryOutbox) MarkFailed(ctx context.Context, id string, cause error) error {
	return o.mark(ctx, id, func(ev Event) Event {
		ev.Attempts++
		if cause != nil {
			ev.LastError = cause.Error()
		}
		return ev
	})
}

// Len reports how many events are held, failed ones included.
func (o *MemoryOutbox) Len() int {
	return o.rows.Len()
}

func (o *MemoryOutbox) mark(ctx context.Context, id string, change func(Event) Event) error {
	ev, found, err := o.rows.Get(ctx, id)
	if err != nil {
		return fmt.Errorf("events: load %s: %w", id, err)
	}
	if !found {
		return fmt.Errorf("%w: %s", ErrEventNotFound, id)
	}
	if err := o.rows.Update(ctx, id, change(ev)); err != nil {
		return fmt.Errorf("events: update %s: %w", id, err)
	}
	return nil
}
