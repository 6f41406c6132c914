package listing

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"freightmarket/db"
	"freightmarket/store"
)

type PGRepository struct {
	pool db.Querier
}

var _ store.Table[uint64, Listing] = (*PGRepository)(nil)

func NewRepository(pool db.Querier) *PGRepository {
	return &PGRepository{pool: pool}
}

func (r *PGRepository) Get(ctx context.Context, id uint64) (Listing, bool, error) {
	const query = `
		SELECT id, carrier_id, origin, destination, capacity_kg, volume_m3, departure_time,
			arrival_time, base_price, current_price, booking_deadline, status
		FROM listings
		WHERE id = $1
	`

	l, err := scanListing(db.Conn(ctx, r.pool).QueryRow(ctx, query, int64(id)))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Listing{}, false, nil
		}
		return Listing{}, false, fmt.Errorf("listing: query by id: %w", err)
	}
	return l, true, nil
}

func (r *PGRepository) Insert(ctx context.Context, id uint64, l Listing) error {
	const insertSQL = `
		INSERT INTO listings (id, carrier_id, origin, destination, capacity_kg, volume_m3,
			departure_time, arrival_time, base_price, current_price, booking_deadline, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`

	_, err := db.Conn(ctx, r.pool).Exec(ctx, insertSQL,
		int64(id),
		int64(l.CarrierID),
		l.Origin,
		l.Destination,
		int64(l.CapacityKg),
		int64(l.VolumeM3),
		int64(l.DepartureTime),
		int64(l.ArrivalTime),
		int64(l.BasePrice),
		int64(l.CurrentPrice),
		int64(l.BookingDeadline),
		string(l.Status),
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return fmt.Errorf("%w: listing %d", store.ErrDuplicateKey, id)
		}
		return fmt.Errorf("listing: insert: %w", err)
	}
	return nil
}

// Update rewrites the mutable columns. Route, sizes and times are fixed at
// creation and are not touched.
func (r *PGRepository) Update(ctx context.Context, id uint64, l Listing) error {
	const updateSQL = `
		UPDATE listings
		SET current_price = $2, status = $3, updated_at = now()
		WHERE id = $1
	`

	tag, err := db.Conn(ctx, r.pool).Exec(ctx, updateSQL, int64(id), int64(l.CurrentPrice), string(l.Status))
	if err != nil {
		return fmt.Errorf("listing: update: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: listing %d", store.ErrKeyNotFound, id)
	}
	return nil
}

func scanListing(row pgx.Row) (Listing, error) {
	var (
		l                                           Listing
		id, carrierID, capacity, volume             int64
		departure, arrival, base, current, deadline int64
		status                                      string
	)
	if err := row.Scan(&id, &carrierID, &l.Origin, &l.Destination, &capacity, &volume,
		&departure, &arrival, &base, &current, &deadline, &status); err != nil {
		return Listing{}, err
	}
	l.ID = uint64(id)
	l.CarrierID = uint64(carrierID)
	l.CapacityKg = uint64(capacity)
	l.VolumeM3 = uint64(volume)
	l.DepartureTime = uint64(departure)
	l.ArrivalTime = uint64(arrival)
	l.BasePrice = uint64(base)
	l.CurrentPrice = uint64(current)
	l.BookingDeadline = uint64(deadline)
	l.Status = Status(status)
	return l, nil
}
