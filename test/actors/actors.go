package actors

import (
	"context"
	"fmt"
	"math/rand"
	"sync/atomic"
	"time"

	"freightmarket/booking"
	"freightmarket/errs"
	"freightmarket/listing"
	"freightmarket/market"
)

// Board tracks the highest listing and booking ids handed out so actors can
// target records that probably exist.
type Board struct {
	listings atomic.Uint64
	bookings atomic.Uint64
	rejected atomic.Int64
	failed   atomic.Int64
}

func (b *Board) pick(rng *rand.Rand, last *atomic.Uint64) (uint64, bool) {
	n := last.Load()
	if n == 0 {
		return 0, false
	}
	return uint64(rng.Int63n(int64(n))) + 1, true
}

func (b *Board) raise(last *atomic.Uint64, id uint64) {
	for {
		cur := last.Load()
		if id <= cur || last.CompareAndSwap(cur, id) {
			return
		}
	}
}

// Rejected counts domain errors; Failed counts everything else, such as
// sessions killed by chaos or serialization conflicts.
func (b *Board) Rejected() int64 { return b.rejected.Load() }
func (b *Board) Failed() int64   { return b.failed.Load() }

// observe classifies err and reports whether the actor may keep going.
func (b *Board) observe(ctx context.Context, err error) error {
	switch {
	case err == nil:
		return nil
	case ctx.Err() != nil:
		return ctx.Err()
	case errs.IsDomain(err):
		b.rejected.Add(1)
	default:
		b.failed.Add(1)
	}
	return nil
}

func stopped(ctx context.Context, stop <-chan struct{}) (bool, error) {
	select {
	case <-ctx.Done():
		return true, ctx.Err()
	case <-stop:
		return true, nil
	default:
		return false, nil
	}
}

// Lister keeps publishing routes for carrierID, sometimes repricing or
// cancelling one of its earlier listings.
func Lister(ctx context.Context, e *market.Engine, board *Board, carrierID uint64, owner string, rng *rand.Rand, stop <-chan struct{}) error {
	for {
		if done, err := stopped(ctx, stop); done {
			return err
		}
		now, err := e.GetCurrentTime(ctx)
		if err != nil {
			if err := board.observe(ctx, err); err != nil {
				return err
			}
			time.Sleep(20 * time.Millisecond)
			continue
		}
		deadline := now + 100 + uint64(rng.Intn(1000))
		id, err := e.CreateListing(ctx, listing.CreateParams{
			CarrierID:       carrierID,
			Origin:          "Rotterdam",
			Destination:     fmt.Sprintf("Depot %d", rng.Intn(50)),
			CapacityKg:      uint64(1 + rng.Intn(10_000)),
			VolumeM3:        uint64(1 + rng.Intn(100)),
			DepartureTime:   deadline + 10,
			ArrivalTime:     deadline + 500,
			BasePrice:       uint64(100 + rng.Intn(5_000)),
			BookingDeadline: deadline,
		}, owner)
		if err == nil {
			board.raise(&board.listings, id)
		} else if err := board.observe(ctx, err); err != nil {
			return err
		}

		if target, ok := board.pick(rng, &board.listings); ok {
			if rng.Intn(10) == 0 {
				err = e.CancelListing(ctx, target, owner)
			} else {
				err = e.UpdatePrice(ctx, target, uint64(100+rng.Intn(5_000)), owner)
			}
			if err := board.observe(ctx, err); err != nil {
				return err
			}
		}
		time.Sleep(time.Duration(10+rng.Intn(20)) * time.Millisecond)
	}
}

// Shipper races other shippers for listings and disputes some of what it wins.
func Shipper(ctx context.Context, e *market.Engine, board *Board, shipper string, rng *rand.Rand, stop <-chan struct{}) error {
	var won []uint64
	for {
		if done, err := stopped(ctx, stop); done {
			return err
		}
		if target, ok := board.pick(rng, &board.listings); ok {
			receipt, err := e.BookFreight(ctx, target, "stress cargo", shipper)
			if err == nil {
				board.raise(&board.bookings, receipt.BookingID)
				won = append(won, receipt.BookingID)
			} else if err := board.observe(ctx, err); err != nil {
				return err
			}
		}
		if len(won) > 0 && rng.Intn(8) == 0 {
			if err := board.observe(ctx, e.FileDispute(ctx, won[rng.Intn(len(won))], shipper)); err != nil {
				return err
			}
		}
		time.Sleep(time.Duration(5+rng.Intn(25)) * time.Millisecond)
	}
}

// Hauler advances random bookings. Most attempts on other carriers'
// bookings are rejected, which is part of the exercise.
func Hauler(ctx context.Context, e *market.Engine, board *Board, owner string, rng *rand.Rand, stop <-chan struct{}) error {
	moves := []booking.Status{booking.StatusInTransit, booking.StatusDelivered, booking.StatusDisputed}
	for {
		if done, err := stopped(ctx, stop); done {
			return err
		}
		if target, ok := board.pick(rng, &board.bookings); ok {
			err := e.UpdateShippingStatus(ctx, target, moves[rng.Intn(len(moves))], owner)
			if err := board.observe(ctx, err); err != nil {
				return err
			}
		}
		time.Sleep(time.Duration(15+rng.Intn(30)) * time.Millisecond)
	}
}

// Clock nudges the marketplace time forward so deadlines start to bite.
func Clock(ctx context.Context, e *market.Engine, board *Board, rng *rand.Rand, stop <-chan struct{}) error {
	for {
		if done, err := stopped(ctx, stop); done {
			return err
		}
		now, err := e.GetCurrentTime(ctx)
		if err == nil {
			err = e.SetCurrentTime(ctx, now+uint64(rng.Intn(50)))
		}
		if err := board.observe(ctx, err); err != nil {
			return err
		}
		time.Sleep(250 * time.Millisecond)
	}
}
