package ledger

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"freightmarket/db"
	"freightmarket/store"
)

// PGBalances is the ledger_balances table. Reads lock the row so concurrent
// transfers from one account serialize.
type PGBalances struct {
	pool db.Querier
}

var _ store.Table[string, uint64] = (*PGBalances)(nil)

func NewRepository(pool db.Querier) *PGBalances {
	return &PGBalances{pool: pool}
}

func (r *PGBalances) Get(ctx context.Context, account string) (uint64, bool, error) {
	const query = `SELECT amount FROM ledger_balances WHERE account = $1 FOR UPDATE`

	var amount int64
	err := db.Conn(ctx, r.pool).QueryRow(ctx, query, account).Scan(&amount)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, false, nil
		}
		return 0, false, fmt.Errorf("ledger: query balance: %w", err)
	}
	return uint64(amount), true, nil
}

func (r *PGBalances) Insert(ctx context.Context, account string, amount uint64) error {
	const query = `INSERT INTO ledger_balances (account, amount) VALUES ($1, $2)`

	if _, err := db.Conn(ctx, r.pool).Exec(ctx, query, account, int64(amount)); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return fmt.Errorf("%w: account %s", store.ErrDuplicateKey, account)
		}
		return fmt.Errorf("ledger: insert balance: %w", err)
	}
	return nil
}

func (r *PGBalances) Update(ctx context.Context, account string, amount uint64) error {
	const query = `UPDATE ledger_balances SET amount = $2, updated_at = now() WHERE account = $1`

	tag, err := db.Conn(ctx, r.pool).Exec(ctx, query, account, int64(amount))
	if err != nil {
		return fmt.Errorf("ledger: update balance: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: account %s", store.ErrKeyNotFound, account)
	}
	return nil
}
