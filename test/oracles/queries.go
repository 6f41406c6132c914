package oracles

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

type Oracle struct {
	Name string
	SQL  string
}

// All returns queries that must yield no rows while the marketplace is
// consistent. The ledger oracles assume carrier owners and the admin never
// deposit or book, which the stress actors guarantee.
func All() []Oracle {
	return []Oracle{
		{
			Name: "O1_single_booking_per_listing",
			SQL: `SELECT listing_id, COUNT(*) FROM bookings
                  GROUP BY listing_id HAVING COUNT(*) > 1`,
		},
		{
			Name: "O2_listing_booking_agreement",
			SQL: `SELECT l.id, l.status FROM listings l
                  WHERE (l.status IN ('booked','completed')
                         AND NOT EXISTS (SELECT 1 FROM bookings b WHERE b.listing_id = l.id))
                     OR (l.status IN ('active','cancelled')
                         AND EXISTS (SELECT 1 FROM bookings b WHERE b.listing_id = l.id))`,
		},
		{
			Name: "O3_completed_means_delivered",
			SQL: `SELECT l.id, b.status FROM listings l
                  JOIN bookings b ON b.listing_id = l.id
                  WHERE l.status = 'completed' AND b.status NOT IN ('delivered','disputed')`,
		},
		{
			Name: "O4_carrier_earnings",
			SQL: `WITH earned AS (
                      SELECT c.owner AS account, SUM(b.carrier_payment) AS total
                      FROM bookings b
                      JOIN listings l ON l.id = b.listing_id
                      JOIN carriers c ON c.id = l.carrier_id
                      GROUP BY c.owner)
                  SELECT e.account, e.total, lb.amount FROM earned e
                  LEFT JOIN ledger_balances lb ON lb.account = e.account
                  WHERE COALESCE(lb.amount, 0) <> e.total`,
		},
		{
			Name: "O5_platform_fees",
			SQL: `SELECT p.admin, lb.amount FROM platform_config p
                  LEFT JOIN ledger_balances lb ON lb.account = p.admin
                  WHERE COALESCE(lb.amount, 0) <> (SELECT COALESCE(SUM(platform_fee), 0) FROM bookings)`,
		},
		{
			Name: "O6_sequences_cover_ids",
			SQL: `SELECT s.name, s.value FROM sequences s
                  WHERE (s.name = 'carrier' AND s.value < (SELECT COALESCE(MAX(id), 0) FROM carriers))
                     OR (s.name = 'listing' AND s.value < (SELECT COALESCE(MAX(id), 0) FROM listings))
                     OR (s.name = 'booking' AND s.value < (SELECT COALESCE(MAX(id), 0) FROM bookings))`,
		},
		{
			Name: "O7_booking_has_event",
			SQL: `SELECT b.id FROM bookings b
                  WHERE NOT EXISTS (
                      SELECT 1 FROM outbox o
                      WHERE o.topic = 'booking.confirmed'
                        AND (o.payload->>'booking_id')::bigint = b.id)`,
		},
	}
}

// Run executes all oracles and returns the first failure (name and sample
// row text) or an empty name if all pass.
func Run(ctx context.Context, pool *pgxpool.Pool) (string, string, error) {
	for _, o := range All() {
		rows, err := pool.Query(ctx, o.SQL)
		if err != nil {
			return o.Name, "", fmt.Errorf("oracle %s: %w", o.Name, err)
		}
		if rows.Next() {
			vals, err := rows.Values()
			rows.Close()
			if err != nil {
				return o.Name, "", err
			}
			return o.Name, fmt.Sprintf("%v", vals), nil
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return o.Name, "", fmt.Errorf("oracle %s: %w", o.Name, err)
		}
	}
	return "", "", nil
}
