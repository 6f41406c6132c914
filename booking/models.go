package booking

type Status string

const (
	StatusConfirmed Status = "confirmed"
	StatusInTransit Status = "in-transit"
	StatusDelivered Status = "delivered"
	StatusDisputed  Status = "disputed"
)

const (
	TopicConfirmed     = "booking.confirmed"
	TopicStatusChanged = "booking.status_changed"
	TopicDisputed      = "booking.disputed"
)

// DefaultMaxCargoLen bounds the cargo description in characters.
const DefaultMaxCargoLen = 256

var carrierTransitions = map[Status][]Status{
	StatusConfirmed: {StatusInTransit, StatusDelivered, StatusDisputed},
	StatusInTransit: {StatusDelivered, StatusDisputed},
}

// Valid reports whether s is a known booking status.
func (s Status) Valid() bool {
	switch s {
	case StatusConfirmed, StatusInTransit, StatusDelivered, StatusDisputed:
		return true
	}
	return false
}

// CarrierCanMove reports whether the carrier may advance a booking from s
// to next. Delivered and disputed bookings are final for the carrier.
func (s Status) CarrierCanMove(next Status) bool {
	for _, allowed := range carrierTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Booking is a shipper's purchase of a listing.
type Booking struct {
	ID             uint64
	ListingID      uint64
	Shipper        string
	PricePaid      uint64
	PlatformFee    uint64
	CarrierPayment uint64
	BookedAt       uint64
	Cargo          string
	Status         Status
}

func (b Booking) WithStatus(status Status) Booking {
	b.Status = status
	return b
}

// Receipt summarises a confirmed booking for the shipper.
type Receipt struct {
	BookingID      uint64 `json:"booking_id"`
	ListingID      uint64 `json:"listing_id"`
	PricePaid      uint64 `json:"price_paid"`
	PlatformFee    uint64 `json:"platform_fee"`
	CarrierPayment uint64 `json:"carrier_payment"`
	BookedAt       uint64 `json:"booked_at"`
}

func (b Booking) Receipt() Receipt {
	return Receipt{
		BookingID:      b.ID,
		ListingID:      b.ListingID,
		PricePaid:      b.PricePaid,
		PlatformFee:    b.PlatformFee,
		CarrierPayment: b.CarrierPayment,
		BookedAt:       b.BookedAt,
	}
}
