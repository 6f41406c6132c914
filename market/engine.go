// Package market is the marketplace façade. Every operation runs under one
// engine lock inside a single unit of work, so validations, transfers,
// record writes and outbox events commit together or not at all.
package market

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"freightmarket/booking"
	"freightmarket/carrier"
	"freightmarket/dispute"
	"freightmarket/errs"
	"freightmarket/ledger"
	"freightmarket/listing"
	"freightmarket/platform"
	"freightmarket/store"
)

// Options carries the tunable bound table.
type Options struct {
	Bounds            listing.Bounds
	MaxClock          uint64
	MaxCarrierNameLen int
	MaxCargoLen       int
}

func DefaultOptions() Options {
	return Options{
		Bounds:            listing.DefaultBounds(),
		MaxClock:          4_102_444_800,
		MaxCarrierNameLen: 64,
		MaxCargoLen:       booking.DefaultMaxCargoLen,
	}
}

type Engine struct {
	mu        sync.Mutex
	tx        store.Runner
	platform  *platform.Service
	carriers  *carrier.Service
	listings  *listing.Service
	bookings  *booking.Service
	lifecycle *dispute.Service
	ledger    *ledger.Book
	log       *zap.Logger
}

func New(b Backend, opts Options, log *zap.Logger) *Engine {
	if log == nil {
		log = zap.NewNop()
	}
	plat := platform.NewService(b.Platform, b.Outbox, opts.MaxClock)
	carriers := carrier.NewService(b.Carriers, store.NewSequence(b.Counters, "carrier"), plat, b.Outbox, opts.MaxCarrierNameLen)
	listings := listing.NewService(b.Listings, store.NewSequence(b.Counters, "listing"), carriers, b.Outbox, opts.Bounds)
	book := ledger.NewBook(b.Balances)
	bookings := booking.NewService(b.Bookings, store.NewSequence(b.Counters, "booking"), listings, plat, book, b.Outbox, opts.MaxCargoLen)

	return &Engine{
		tx:        b.Runner,
		platform:  plat,
		carriers:  carriers,
		listings:  listings,
		bookings:  bookings,
		lifecycle: dispute.NewService(bookings, listings, b.Outbox),
		ledger:    book,
		log:       log.Named("market"),
	}
}

// Init seeds the platform config unless one is stored and returns the
// config in effect.
func (e *Engine) Init(ctx context.Context, initial platform.Config) (platform.Config, error) {
	var cfg platform.Config
	err := e.run(ctx, "init", func(ctx context.Context) error {
		var err error
		cfg, err = e.platform.Init(ctx, initial)
		return err
	}, zap.String("admin", initial.Admin))
	return cfg, err
}

func (e *Engine) RegisterCarrier(ctx context.Context, name, caller string) (uint64, error) {
	var id uint64
	err := e.run(ctx, "register carrier", func(ctx context.Context) error {
		var err error
		id, err = e.carriers.Register(ctx, name, caller)
		return err
	}, zap.String("caller", caller))
	return id, err
}

func (e *Engine) UpdateCarrierReputation(ctx context.Context, carrierID uint64, score uint64, caller string) error {
	return e.run(ctx, "update carrier reputation", func(ctx context.Context) error {
		return e.carriers.SetReputation(ctx, carrierID, score, caller)
	}, zap.Uint64("carrier_id", carrierID), zap.Uint64("score", score), zap.String("caller", caller))
}

func (e *Engine) SetCarrierActive(ctx context.Context, carrierID uint64, active bool, caller string) error {
	return e.run(ctx, "set carrier active", func(ctx context.Context) error {
		return e.carriers.SetActive(ctx, carrierID, active, caller)
	}, zap.Uint64("carrier_id", carrierID), zap.Bool("active", active), zap.String("caller", caller))
}

func (e *Engine) GetCarrier(ctx context.Context, carrierID uint64) (carrier.Carrier, bool, error) {
	var (
		c     carrier.Carrier
		found bool
	)
	err := e.view(ctx, func(ctx context.Context) error {
		var err error
		c, found, err = e.carriers.Get(ctx, carrierID)
		return err
	})
	return c, found, err
}

func (e *Engine) CreateListing(ctx context.Context, params listing.CreateParams, caller string) (uint64, error) {
	var id uint64
	err := e.run(ctx, "create listing", func(ctx context.Context) error {
		var err error
		id, err = e.listings.Create(ctx, params, caller)
		return err
	}, zap.Uint64("carrier_id", params.CarrierID), zap.String("caller", caller))
	return id, err
}

func (e *Engine) UpdatePrice(ctx context.Context, listingID, price uint64, caller string) error {
	return e.run(ctx, "update price", func(ctx context.Context) error {
		return e.listings.UpdatePrice(ctx, listingID, price, caller)
	}, zap.Uint64("listing_id", listingID), zap.Uint64("price", price), zap.String("caller", caller))
}

func (e *Engine) CancelListing(ctx context.Context, listingID uint64, caller string) error {
	return e.run(ctx, "cancel listing", func(ctx context.Context) error {
		return e.listings.Cancel(ctx, listingID, caller)
	}, zap.Uint64("listing_id", listingID), zap.String("caller", caller))
}

func (e *Engine) GetListing(ctx context.Context, listingID uint64) (listing.Listing, bool, error) {
	var (
		l     listing.Listing
		found bool
	)
	err := e.view(ctx, func(ctx context.Context) error {
		var err error
		l, found, err = e.listings.Get(ctx, listingID)
		return err
	})
	return l, found, err
}

func (e *Engine) BookFreight(ctx context.Context, listingID uint64, cargo, shipper string) (booking.Receipt, error) {
	var receipt booking.Receipt
	err := e.run(ctx, "book freight", func(ctx context.Context) error {
		var err error
		receipt, err = e.bookings.Book(ctx, listingID, cargo, shipper)
		return err
	}, zap.Uint64("listing_id", listingID), zap.String("shipper", shipper))
	return receipt, err
}

func (e *Engine) UpdateShippingStatus(ctx context.Context, bookingID uint64, status booking.Status, caller string) error {
	return e.run(ctx, "update shipping status", func(ctx context.Context) error {
		return e.lifecycle.UpdateShippingStatus(ctx, bookingID, status, caller)
	}, zap.Uint64("booking_id", bookingID), zap.String("status", string(status)), zap.String("caller", caller))
}

func (e *Engine) FileDispute(ctx context.Context, bookingID uint64, caller string) error {
	return e.run(ctx, "file dispute", func(ctx context.Context) error {
		return e.lifecycle.FileDispute(ctx, bookingID, caller)
	}, zap.Uint64("booking_id", bookingID), zap.String("caller", caller))
}

func (e *Engine) GetBooking(ctx context.Context, bookingID uint64) (booking.Booking, bool, error) {
	var (
		b     booking.Booking
		found bool
	)
	err := e.view(ctx, func(ctx context.Context) error {
		var err error
		b, found, err = e.bookings.Get(ctx, bookingID)
		return err
	})
	return b, found, err
}

func (e *Engine) SetPlatformFee(ctx context.Context, percent uint64, caller string) error {
	return e.run(ctx, "set platform fee", func(ctx context.Context) error {
		return e.platform.SetFee(ctx, percent, caller)
	}, zap.Uint64("percent", percent), zap.String("caller", caller))
}

func (e *Engine) SetAdmin(ctx context.Context, admin, caller string) error {
	return e.run(ctx, "set admin", func(ctx context.Context) error {
		return e.platform.SetAdmin(ctx, admin, caller)
	}, zap.String("admin", admin), zap.String("caller", caller))
}

// SetCurrentTime moves the logical clock. Any caller may set it.
func (e *Engine) SetCurrentTime(ctx context.Context, t uint64) error {
	return e.run(ctx, "set current time", func(ctx context.Context) error {
		return e.platform.SetCurrentTime(ctx, t)
	}, zap.Uint64("time", t))
}

func (e *Engine) GetCurrentTime(ctx context.Context) (uint64, error) {
	var t uint64
	err := e.view(ctx, func(ctx context.Context) error {
		var err error
		t, err = e.platform.CurrentTime(ctx)
		return err
	})
	return t, err
}

func (e *Engine) GetPlatformConfig(ctx context.Context) (platform.Config, error) {
	var cfg platform.Config
	err := e.view(ctx, func(ctx context.Context) error {
		var err error
		cfg, err = e.platform.Get(ctx)
		return err
	})
	return cfg, err
}

// Deposit credits an account on the built-in ledger.
func (e *Engine) Deposit(ctx context.Context, account string, amount uint64) error {
	return e.run(ctx, "deposit", func(ctx context.Context) error {
		return e.ledger.Deposit(ctx, account, amount)
	}, zap.String("account", account), zap.Uint64("amount", amount))
}

// AdminDeposit credits account on behalf of the platform admin. The admin
// check and the credit share one unit of work.
func (e *Engine) AdminDeposit(ctx context.Context, account string, amount uint64, caller string) error {
	return e.run(ctx, "admin deposit", func(ctx context.Context) error {
		ok, err := e.platform.IsAdmin(ctx, caller)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("market: deposit by %q: %w", caller, errs.ErrNotAuthorized)
		}
		if account == "" || amount == 0 {
			return fmt.Errorf("market: deposit %d to %q: %w", amount, account, errs.ErrInvalidParameters)
		}
		return e.ledger.Deposit(ctx, account, amount)
	}, zap.String("account", account), zap.Uint64("amount", amount), zap.String("caller", caller))
}

func (e *Engine) Balance(ctx context.Context, account string) (uint64, error) {
	var amount uint64
	err := e.view(ctx, func(ctx context.Context) error {
		var err error
		amount, err = e.ledger.Balance(ctx, account)
		return err
	})
	return amount, err
}

func (e *Engine) run(ctx context.Context, op string, fn func(ctx context.Context) error, fields ...zap.Field) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	err := e.tx.RunInTx(ctx, fn)
	switch {
	case err == nil:
		e.log.Debug(op, fields...)
	case errs.IsDomain(err):
		e.log.Warn(op+" rejected", append(fields, zap.String("kind", errs.Kind(err)), zap.Error(err))...)
	default:
		e.log.Error(op+" failed", append(fields, zap.Error(err))...)
	}
	return err
}

func (e *Engine) view(ctx context.Context, fn func(ctx context.Context) error) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.tx.RunInTx(ctx, fn)
}
