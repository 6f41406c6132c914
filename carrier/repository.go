package carrier

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"freightmarket/db"
	"freightmarket/store"
)

// PGRepository stores carriers in the carriers table.
type PGRepository struct {
	pool db.Querier
}

var _ store.Table[uint64, Carrier] = (*PGRepository)(nil)

// NewRepository wires a pgx-backed repository implementation.
func NewRepository(pool db.Querier) *PGRepository {
	return &PGRepository{pool: pool}
}

// Get fetches a carrier by its id.
func (r *PGRepository) Get(ctx context.Context, id uint64) (Carrier, bool, error) {
	const query = `
		SELECT id, name, reputation, active, owner
		FROM carriers
		WHERE id = $1
	`

	c, err := scanCarrier(db.Conn(ctx, r.pool).QueryRow(ctx, query, int64(id)))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Carrier{}, false, nil
		}
		return Carrier{}, false, fmt.Errorf("carrier: query by id: %w", err)
	}
	return c, true, nil
}

func (r *PGRepository) Insert(ctx context.Context, id uint64, c Carrier) error {
	const insertSQL = `
		INSERT INTO carriers (id, name, reputation, active, owner)
		VALUES ($1, $2, $3, $4, $5)
	`

	_, err := db.Conn(ctx, r.pool).Exec(ctx, insertSQL, int64(id), c.Name, int16(c.Reputation), c.Active, c.Owner)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return fmt.Errorf("%w: carrier %d", store.ErrDuplicateKey, id)
		}
		return fmt.Errorf("carrier: insert: %w", err)
	}
	return nil
}

func (r *PGRepository) Update(ctx context.Context, id uint64, c Carrier) error {
	const updateSQL = `
		UPDATE carriers
		SET name = $2, reputation = $3, active = $4, owner = $5, updated_at = now()
		WHERE id = $1
	`

	tag, err := db.Conn(ctx, r.pool).Exec(ctx, updateSQL, int64(id), c.Name, int16(c.Reputation), c.Active, c.Owner)
	if err != nil {
		return fmt.Errorf("carrier: update: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: carrier %d", store.ErrKeyNotFound, id)
	}
	return nil
}

func scanCarrier(row pgx.Row) (Carrier, error) {
	var (
		c          Carrier
		id         int64
		reputation int16
	)
	if err := row.Scan(&id, &c.Name, &reputation, &c.Active, &c.Owner); err != nil {
		return Carrier{}, err
	}
	c.ID = uint64(id)
	c.Reputation = uint8(reputation)
	return c, nil
}
