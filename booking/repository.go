package booking

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

var _ store.Table[uint64, Booking] = (*PGRepository)(nil)

func NewRepository(pool db.Querier) *PGRepository {
	return &PGRepository{pool: pool}
}

func (r *PGRepository) Get(ctx context.Context, id uint64) (Booking, bool, error) {
	const query = `
		SELECT id, listing_id, shipper, price_paid, platform_fee, carrier_payment, booked_at, cargo, status
		FROM bookings
		WHERE id = $1
	`

	b, err := scanBooking(db.Conn(ctx, r.pool).QueryRow(ctx, query, int64(id)))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Booking{}, false, nil
		}
		return Booking{}, false, fmt.Errorf("booking: query by id: %w", err)
	}
	return b, true, nil
}

func (r *PGRepository) Insert(ctx context.Context, id uint64, b Booking) error {
	const insertSQL = `
		INSERT INTO bookings (id, listing_id, shipper, price_paid, platform_fee, carrier_payment, booked_at, cargo, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`

	_, err := db.Conn(ctx, r.pool).Exec(ctx, insertSQL,
		int64(id),
		int64(b.ListingID),
		b.Shipper,
		int64(b.PricePaid),
		int64(b.PlatformFee),
		int64(b.CarrierPayment),
		int64(b.BookedAt),
		b.Cargo,
		string(b.Status),
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return fmt.Errorf("%w: booking %d", store.ErrDuplicateKey, id)
		}
		return fmt.Errorf("booking: insert: %w", err)
	}
	return nil
}

// Update rewrites the status. Price and split are fixed at booking time.
func (r *PGRepository) Update(ctx context.Context, id uint64, b Booking) error {
	const updateSQL = `UPDATE bookings SET status = $2, updated_at = now() WHERE id = $1`

	tag, err := db.Conn(ctx, r.pool).Exec(ctx, updateSQL, int64(id), string(b.Status))
	if err != nil {
		return fmt.Errorf("booking: update: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: booking %d", store.ErrKeyNotFound, id)
	}
	return nil
}

func scanBooking(row pgx.Row) (Booking, error) {
	var (
		b                                 Booking
		id, listingID, price, fee, payout int64
		bookedAt                          int64
		status                            string
	)
	if err := row.Scan(&id, &listingID, &b.Shipper, &price, &fee, &payout, &bookedAt, &b.Cargo, &status); err != nil {
		return Booking{}, err
	}
	b.ID = uint64(id)
	b.ListingID = uint64(listingID)
	b.PricePaid = uint64(price)
	b.PlatformFee = uint64(fee)
	b.CarrierPayment = uint64(payout)
	b.BookedAt = uint64(bookedAt)
	b.Status = Status(status)
	return b, nil
}
