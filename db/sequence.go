package db

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"freightmarket/store"
)

// Counters is the sequences table exposed as a store.Table.
type Counters struct {
	pool Querier
}

var _ store.Table[string, uint64] = (*Counters)(nil)

func NewCounters(pool Querier) *Counters {
	return &Counters{pool: pool}
}

func (c *Counters) Get(ctx context.Context, name string) (uint64, bool, error) {
	const query = `SELECT value FROM sequences WHERE name = $1 FOR UPDATE`

	var value int64
	err := Conn(ctx, c.pool).QueryRow(ctx, query, name).Scan(&value)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, false, nil
		}
		return 0, false, fmt.Errorf("db: get sequence %s: %w", name, err)
	}
	return uint64(value), true, nil
}

func (c *Counters) Insert(ctx context.Context, name string, value uint64) error {
	const query = `INSERT INTO sequences (name, value) VALUES ($1, $2) ON CONFLICT (name) DO NOTHING`

	tag, err := Conn(ctx, c.pool).Exec(ctx, query, name, int64(value))
	if err != nil {
		return fmt.Errorf("db: insert sequence %s: %w", name, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: sequence %s", store.ErrDuplicateKey, name)
	}
	return nil
}

func (c *Counters) Update(ctx context.Context, name string, value uint64) error {
	const query = `UPDATE sequences SET value = $2 WHERE name = $1`

	tag, err := Conn(ctx, c.pool).Exec(ctx, query, name, int64(value))
	if err != nil {
		return fmt.Errorf("db: update sequence %s: %w", name, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: sequence %s", store.ErrKeyNotFound, name)
	}
	return nil
}
