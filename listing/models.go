package listing

import "fmt"

type Status string

const (
	StatusActive    Status = "active"
	StatusBooked    Status = "booked"
	StatusCompleted Status = "completed"
	StatusCancelled Status = "cancelled"
)

const (
	TopicCreated      = "listing.created"
	TopicPriceUpdated = "listing.price_updated"
	TopicCancelled    = "listing.cancelled"
	TopicCompleted    = "listing.completed"
)

// transitions lists the legal one-way status moves.
var transitions = map[Status][]Status{
	StatusActive: {StatusBooked, StatusCancelled},
	StatusBooked: {StatusCompleted},
}

// CanTransition reports whether a listing may move from s to next.
func (s Status) CanTransition(next Status) bool {
	for _, allowed := range transitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Listing is an offer of freight capacity on one route and time window.
type Listing struct {
	ID              uint64
	CarrierID       uint64
	Origin          string
	Destination     string
	CapacityKg      uint64
	VolumeM3        uint64
	DepartureTime   uint64
	ArrivalTime     uint64
	BasePrice       uint64
	CurrentPrice    uint64
	BookingDeadline uint64
	Status          Status
}

func (l Listing) WithPrice(price uint64) Listing {
	l.CurrentPrice = price
	return l
}

func (l Listing) WithStatus(status Status) Listing {
	l.Status = status
	return l
}

// CreateParams carries the caller-supplied fields of a new listing.
type CreateParams struct {
	CarrierID       uint64
	Origin          string
	Destination     string
	CapacityKg      uint64
	VolumeM3        uint64
	DepartureTime   uint64
	ArrivalTime     uint64
	BasePrice       uint64
	BookingDeadline uint64
}

// Bounds is the numeric and length bound table listings are checked against.
type Bounds struct {
	MinCapacityKg  uint64
	MaxCapacityKg  uint64
	MinVolumeM3    uint64
	MaxVolumeM3    uint64
	MinPrice       uint64
	MaxPrice       uint64
	MinTime        uint64
	MaxTime        uint64
	MaxLocationLen int
}

func DefaultBounds() Bounds {
	return Bounds{
		MinCapacityKg:  1,
		MaxCapacityKg:  1_000_000,
		MinVolumeM3:    1,
		MaxVolumeM3:    10_000,
		MinPrice:       1,
		MaxPrice:       1_000_000_000_000,
		MinTime:        1,
		MaxTime:        4_102_444_800,
		MaxLocationLen: 128,
	}
}

// Validate checks the table itself is coherent.
func (b Bounds) Validate() error {
	switch {
	case b.MinCapacityKg == 0 || b.MinCapacityKg > b.MaxCapacityKg:
		return fmt.Errorf("listing: capacity bounds [%d, %d] invalid", b.MinCapacityKg, b.MaxCapacityKg)
	case b.MinVolumeM3 == 0 || b.MinVolumeM3 > b.MaxVolumeM3:
		return fmt.Errorf("listing: volume bounds [%d, %d] invalid", b.MinVolumeM3, b.MaxVolumeM3)
	case b.MinPrice == 0 || b.MinPrice > b.MaxPrice:
		return fmt.Errorf("listing: price bounds [%d, %d] invalid", b.MinPrice, b.MaxPrice)
	case b.MaxPrice > 1<<62/100:
		return fmt.Errorf("listing: max price %d too large for fee arithmetic", b.MaxPrice)
	case b.MinTime > b.MaxTime || b.MaxTime > 1<<62:
		return fmt.Errorf("listing: time bounds [%d, %d] invalid", b.MinTime, b.MaxTime)
	case b.MaxLocationLen <= 0:
		return fmt.Errorf("listing: max location length %d invalid", b.MaxLocationLen)
	}
	return nil
}

func within(v, lo, hi uint64) bool {
	return v >= lo && v <= hi
}
