package market

import (
	"freightmarket/auth"
	"freightmarket/booking"
	"freightmarket/carrier"
	"freightmarket/db"
	"freightmarket/events"
	"freightmarket/ledger"
	"freightmarket/listing"
	"freightmarket/platform"
	"freightmarket/store"
)

// Backend bundles the unit-of-work runner with every table the engine
// persists through. All tables of one backend must honour its Runner.
type Backend struct {
	Runner   store.Runner
	Counters store.Table[string, uint64]
	Platform store.Table[string, platform.Config]
	Carriers store.Table[uint64, carrier.Carrier]
	Listings store.Table[uint64, listing.Listing]
	Bookings store.Table[uint64, booking.Booking]
	Balances store.Table[string, uint64]
	Outbox   events.Outbox
	Accounts auth.Repository
}

// NewMemoryBackend keeps everything in process. State is lost on exit.
func NewMemoryBackend() Backend {
	return Backend{
		Runner:   store.NewMemory(),
		Counters: store.NewMemoryTable[string, uint64](),
		Platform: store.NewMemoryTable[string, platform.Config](),
		Carriers: store.NewMemoryTable[uint64, carrier.Carrier](),
		Listings: store.NewMemoryTable[uint64, listing.Listing](),
		Bookings: store.NewMemoryTable[uint64, booking.Booking](),
		Balances: store.NewMemoryTable[string, uint64](),
		Outbox:   events.NewMemoryOutbox(),
		Accounts: auth.NewMemoryRepository(),
	}
}

// NewPostgresBackend stores everything in one PostgreSQL database so a
// booking's transfers and record writes share a transaction.
func NewPostgresBackend(pool db.TxBeginner) Backend {
	return Backend{
		Runner:   db.NewTxManager(pool),
		Counters: db.NewCounters(pool),
		Platform: platform.NewRepository(pool),
		Carriers: carrier.NewRepository(pool),
		Listings: listing.NewRepository(pool),
		Bookings: booking.NewRepository(pool),
		Balances: ledger.NewRepository(pool),
		Outbox:   events.NewPGOutbox(pool),
		Accounts: auth.NewRepository(pool),
	}
}
