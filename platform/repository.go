package platform

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"freightmarket/db"
	"freightmarket/store"
)

// PGRepository stores the config record in platform_config.
type PGRepository struct {
	pool db.Querier
}

var _ store.Table[string, Config] = (*PGRepository)(nil)

func NewRepository(pool db.Querier) *PGRepository {
	return &PGRepository{pool: pool}
}

func (r *PGRepository) Get(ctx context.Context, key string) (Config, bool, error) {
	const query = `
		SELECT admin, fee_percent, clock
		FROM platform_config
		WHERE id = $1
	`

	var (
		cfg   Config
		fee   int16
		clock int64
	)
	err := db.Conn(ctx, r.pool).QueryRow(ctx, query, key).Scan(&cfg.Admin, &fee, &clock)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Config{}, false, nil
		}
		return Config{}, false, fmt.Errorf("platform: query config: %w", err)
	}
	cfg.FeePercent = uint8(fee)
	cfg.CurrentTime = uint64(clock)
	return cfg, true, nil
}

func (r *PGRepository) Insert(ctx context.Context, key string, cfg Config) error {
	const insertSQL = `
		INSERT INTO platform_config (id, admin, fee_percent, clock)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO NOTHING
	`
	tag, err := db.Conn(ctx, r.pool).Exec(ctx, insertSQL, key, cfg.Admin, int16(cfg.FeePercent), int64(cfg.CurrentTime))
	if err != nil {
		return fmt.Errorf("platform: insert config: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: platform config %s", store.ErrDuplicateKey, key)
	}
	return nil
}

func (r *PGRepository) Update(ctx context.Context, key string, cfg Config) error {
	const updateSQL = `
		UPDATE platform_config
		SET admin = $2, fee_percent = $3, clock = $4, updated_at = now()
		WHERE id = $1
	`
	tag, err := db.Conn(ctx, r.pool).Exec(ctx, updateSQL, key, cfg.Admin, int16(cfg.FeePercent), int64(cfg.CurrentTime))
	if err != nil {
		return fmt.Errorf("platform: update config: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: platform config %s", store.ErrKeyNotFound, key)
	}
	return nil
}
