package events

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"freightmarket/db"
)

// PGOutbox stores events in the outbox table, inside the transaction
// carried by ctx when there is one.
type PGOutbox struct {
	pool db.Querier
}

var _ Outbox = (*PGOutbox)(nil)

func NewPGOutbox(pool db.Querier) *PGOutbox {
	return &PGOutbox{pool: pool}
}

func (o *PGOutbox) Record(ctx context.Context, topic string, payload map[string]any) error {
	if topic == "" {
		return fmt.Errorf("events: empty topic")
	}
	if payload == nil {
		payload = map[string]any{}
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("events: marshal %s payload: %w", topic, err)
	}

	const insertSQL = `
INSERT INTO outbox (id, topic, payload)
VALUES ($1, $2, $3::jsonb);
`
	if _, err := db.Conn(ctx, o.pool).Exec(ctx, insertSQL, uuid.New(), topic, string(body)); err != nil {
		return fmt.Errorf("events: insert outbox message: %w", err)
	}
	return nil
}

func (o *PGOutbox) Pending(ctx context.Context, limit int) ([]Event, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}

	const query = `
		SELECT seq, id::text, topic, payload, attempts, COALESCE(last_error, ''), created_at
		FROM outbox
		WHERE status = 'pending'
		ORDER BY seq ASC
		LIMIT $1
	`
	rows, err := db.Conn(ctx, o.pool).Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("events: query pending: %w", err)
	}
	defer rows.Close()

	out := make([]Event, 0, limit)
	for rows.Next() {
		var (
			ev   Event
			seq  int64
			body []byte
		)
		if err := rows.Scan(&seq, &ev.ID, &ev.Topic, &body, &ev.Attempts, &ev.LastError, &ev.CreatedAt); err != nil {
			return nil, fmt.Errorf("events: scan pending: %w", err)
		}
		ev.Seq = uint64(seq)
		if err := json.Unmarshal(body, &ev.Payload); err != nil {
			return nil, fmt.Errorf("events: decode payload %s: %w", ev.ID, err)
		}
		out = append(out, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("events: iterate pending: %w", err)
	}
	return out, nil
}

func (o *PGOutbox) MarkPublished(ctx context.Context, id string) error {
	const updateSQL = `
		UPDATE outbox
		SET status = 'published', published_at = now(), last_error = NULL
		WHERE id = $1
	`
	tag, err := db.Conn(ctx, o.pool).Exec(ctx, updateSQL, id)
	if err != nil {
		return fmt.Errorf("events: mark published %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s", ErrEventNotFound, id)
	}
	return nil
}

func (o *PGOutbox) MarkFailed(ctx context.Context, id string, cause error) error {
	msg := ""
	if cause != nil {
		msg = cause.Error()
	}

	const updateSQL = `
		UPDATE outbox
		SET attempts = attempts + 1, last_error = $2
		WHERE id = $1
	`
	tag, err := db.Conn(ctx, o.pool).Exec(ctx, updateSQL, id, msg)
	if err != nil {
		return fmt.Errorf("events: mark failed %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s", ErrEventNotFound, id)
	}
	return nil
}
