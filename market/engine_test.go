package market

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"freightmarket/booking"
	"freightmarket/errs"
	"freightmarket/listing"
	"freightmarket/platform"
)

const (
	admin   = "acct-admin"
	owner   = "acct-carrier"
	shipper = "acct-shipper"
)

func newEngine(t *testing.T) (*Engine, Backend) {
	t.Helper()
	backend := NewMemoryBackend()
	e := New(backend, DefaultOptions(), zaptest.NewLogger(t))
	_, err := e.Init(context.Background(), platform.Config{Admin: admin, FeePercent: 5})
	require.NoError(t, err)
	return e, backend
}

func routeParams(carrierID uint64) listing.CreateParams {
	return listing.CreateParams{
		CarrierID:       carrierID,
		Origin:          "Rotterdam",
		Destination:     "Hamburg",
		CapacityKg:      100,
		VolumeM3:        10,
		DepartureTime:   1000,
		ArrivalTime:     2000,
		BasePrice:       500,
		BookingDeadline: 900,
	}
}

// listed registers a carrier for owner and publishes the standard route.
func listed(t *testing.T, e *Engine) uint64 {
	t.Helper()
	ctx := context.Background()
	carrierID, err := e.RegisterCarrier(ctx, "Northbound Haulage", owner)
	require.NoError(t, err)
	listingID, err := e.CreateListing(ctx, routeParams(carrierID), owner)
	require.NoError(t, err)
	return listingID
}

func TestScenario_BookAndDeliver(t *testing.T) {
	ctx := context.Background()
	e, _ := newEngine(t)
	listingID := listed(t, e)

	l, found, err := e.GetListing(ctx, listingID)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, listing.StatusActive, l.Status)

	require.NoError(t, e.Deposit(ctx, shipper, 500))
	receipt, err := e.BookFreight(ctx, listingID, "palletised electronics", shipper)
	require.NoError(t, err)
	assert.Equal(t, uint64(25), receipt.PlatformFee)
	assert.Equal(t, uint64(475), receipt.CarrierPayment)

	b, found, err := e.GetBooking(ctx, receipt.BookingID)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, booking.StatusConfirmed, b.Status)
	l, _, err = e.GetListing(ctx, listingID)
	require.NoError(t, err)
	assert.Equal(t, listing.StatusBooked, l.Status)

	require.NoError(t, e.UpdateShippingStatus(ctx, receipt.BookingID, booking.StatusDelivered, owner))
	b, _, err = e.GetBooking(ctx, receipt.BookingID)
	require.NoError(t, err)
	assert.Equal(t, booking.StatusDelivered, b.Status)
	l, _, err = e.GetListing(ctx, listingID)
	require.NoError(t, err)
	assert.Equal(t, listing.StatusCompleted, l.Status)

	for account, want := range map[string]uint64{shipper: 0, owner: 475, admin: 25} {
		got, err := e.Balance(ctx, account)
		require.NoError(t, err)
		assert.Equal(t, want, got, account)
	}
}

func TestScenario_PastDeadline(t *testing.T) {
	ctx := context.Background()
	e, backend := newEngine(t)
	listingID := listed(t, e)
	require.NoError(t, e.Deposit(ctx, shipper, 500))
	require.NoError(t, e.SetCurrentTime(ctx, 950))

	_, err := e.BookFreight(ctx, listingID, "late freight", shipper)
	require.ErrorIs(t, err, errs.ErrPastDeadline)

	_, found, err := backend.Bookings.Get(ctx, 1)
	require.NoError(t, err)
	assert.False(t, found)

	now, err := e.GetCurrentTime(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(950), now)
}

func TestScenario_NonOwnerPriceUpdate(t *testing.T) {
	ctx := context.Background()
	e, _ := newEngine(t)
	listingID := listed(t, e)

	err := e.UpdatePrice(ctx, listingID, 900, shipper)
	require.ErrorIs(t, err, errs.ErrNotAuthorized)

	l, _, err := e.GetListing(ctx, listingID)
	require.NoError(t, err)
	assert.Equal(t, uint64(500), l.CurrentPrice)
}

func TestScenario_FailedBookingRollsBackEverything(t *testing.T) {
	ctx := context.Background()
	e, backend := newEngine(t)
	listingID := listed(t, e)
	// enough for the carrier leg only
	require.NoError(t, e.Deposit(ctx, shipper, 480))

	_, err := e.BookFreight(ctx, listingID, "machinery", shipper)
	require.ErrorIs(t, err, errs.ErrInsufficientFunds)

	for account, want := range map[string]uint64{shipper: 480, owner: 0, admin: 0} {
		got, err := e.Balance(ctx, account)
		require.NoError(t, err)
		assert.Equal(t, want, got, account)
	}
	l, _, err := e.GetListing(ctx, listingID)
	require.NoError(t, err)
	assert.Equal(t, listing.StatusActive, l.Status)
	_, found, err := backend.Bookings.Get(ctx, 1)
	require.NoError(t, err)
	assert.False(t, found)
}

func TestPlatformAdministration(t *testing.T) {
	ctx := context.Background()
	e, _ := newEngine(t)

	require.ErrorIs(t, e.SetPlatformFee(ctx, 10, owner), errs.ErrNotAuthorized)
	require.ErrorIs(t, e.SetPlatformFee(ctx, 21, admin), errs.ErrFeeExceedsMax)
	require.ErrorIs(t, e.SetPlatformFee(ctx, 276, admin), errs.ErrFeeExceedsMax)
	require.NoError(t, e.SetPlatformFee(ctx, 20, admin))

	require.NoError(t, e.SetAdmin(ctx, "acct-new-admin", admin))
	require.ErrorIs(t, e.SetPlatformFee(ctx, 0, admin), errs.ErrNotAuthorized)

	cfg, err := e.GetPlatformConfig(ctx)
	require.NoError(t, err)
	assert.Equal(t, platform.Config{Admin: "acct-new-admin", FeePercent: 20}, cfg)

	require.ErrorIs(t, e.SetCurrentTime(ctx, 4_102_444_801), errs.ErrInvalidParameters)
}

func TestAdminDeposit(t *testing.T) {
	ctx := context.Background()
	e, _ := newEngine(t)

	require.ErrorIs(t, e.AdminDeposit(ctx, shipper, 100, shipper), errs.ErrNotAuthorized)
	require.ErrorIs(t, e.AdminDeposit(ctx, shipper, 100, ""), errs.ErrNotAuthorized)
	require.ErrorIs(t, e.AdminDeposit(ctx, "", 100, admin), errs.ErrInvalidParameters)
	require.ErrorIs(t, e.AdminDeposit(ctx, shipper, 0, admin), errs.ErrInvalidParameters)
	err := e.AdminDeposit(ctx, shipper, 1<<63, admin)
	require.ErrorIs(t, err, errs.ErrInvalidParameters)
	assert.Equal(t, "invalid_parameters", errs.Kind(err))

	require.NoError(t, e.AdminDeposit(ctx, shipper, 100, admin))

	require.NoError(t, e.SetAdmin(ctx, "acct-new-admin", admin))
	require.ErrorIs(t, e.AdminDeposit(ctx, shipper, 100, admin), errs.ErrNotAuthorized)
	require.NoError(t, e.AdminDeposit(ctx, shipper, 50, "acct-new-admin"))

	balance, err := e.Balance(ctx, shipper)
	require.NoError(t, err)
	assert.Equal(t, uint64(150), balance)
}

func TestAdminDeposit_RacesAdminHandover(t *testing.T) {
	ctx := context.Background()
	e, _ := newEngine(t)

	var wg sync.WaitGroup
	wg.Add(2)
	var depositErr error
	go func() {
		defer wg.Done()
		depositErr = e.AdminDeposit(ctx, shipper, 100, admin)
	}()
	go func() {
		defer wg.Done()
		assert.NoError(t, e.SetAdmin(ctx, "acct-new-admin", admin))
	}()
	wg.Wait()

	balance, err := e.Balance(ctx, shipper)
	require.NoError(t, err)
	// either the deposit committed before the handover or it was refused
	if depositErr != nil {
		require.ErrorIs(t, depositErr, errs.ErrNotAuthorized)
		assert.Zero(t, balance)
	} else {
		assert.Equal(t, uint64(100), balance)
	}
}

func TestCarrierAdministration(t *testing.T) {
	ctx := context.Background()
	e, _ := newEngine(t)
	carrierID, err := e.RegisterCarrier(ctx, "Northbound Haulage", owner)
	require.NoError(t, err)

	require.ErrorIs(t, e.UpdateCarrierReputation(ctx, carrierID, 344, admin), errs.ErrInvalidParameters)
	require.NoError(t, e.UpdateCarrierReputation(ctx, carrierID, 88, admin))
	require.NoError(t, e.SetCarrierActive(ctx, carrierID, false, admin))

	c, found, err := e.GetCarrier(ctx, carrierID)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, uint8(88), c.Reputation)
	assert.False(t, c.Active)

	_, err = e.CreateListing(ctx, routeParams(carrierID), owner)
	require.ErrorIs(t, err, errs.ErrInvalidStatus)

	_, found, err = e.GetCarrier(ctx, 404)
	require.NoError(t, err)
	assert.False(t, found)
}

func TestCancelAndDispute(t *testing.T) {
	ctx := context.Background()
	e, _ := newEngine(t)
	first := listed(t, e)

	carrierID := uint64(1)
	second, err := e.CreateListing(ctx, routeParams(carrierID), owner)
	require.NoError(t, err)
	require.NoError(t, e.CancelListing(ctx, second, owner))
	_, err = e.BookFreight(ctx, second, "anything", shipper)
	require.ErrorIs(t, err, errs.ErrInvalidStatus)

	require.NoError(t, e.Deposit(ctx, shipper, 500))
	receipt, err := e.BookFreight(ctx, first, "grain", shipper)
	require.NoError(t, err)
	require.ErrorIs(t, e.FileDispute(ctx, receipt.BookingID, owner), errs.ErrNotAuthorized)
	require.NoError(t, e.FileDispute(ctx, receipt.BookingID, shipper))

	b, _, err := e.GetBooking(ctx, receipt.BookingID)
	require.NoError(t, err)
	assert.Equal(t, booking.StatusDisputed, b.Status)
}

func TestOperationsRecordEvents(t *testing.T) {
	ctx := context.Background()
	e, backend := newEngine(t)
	listingID := listed(t, e)
	require.NoError(t, e.Deposit(ctx, shipper, 500))
	_, err := e.BookFreight(ctx, listingID, "grain", shipper)
	require.NoError(t, err)

	// a rejected operation leaves no event behind
	_, err = e.BookFreight(ctx, listingID, "grain", shipper)
	require.Error(t, err)

	pending, err := backend.Outbox.Pending(ctx, 100)
	require.NoError(t, err)
	topics := make([]string, 0, len(pending))
	for _, ev := range pending {
		topics = append(topics, ev.Topic)
	}
	assert.Equal(t, []string{"carrier.registered", "listing.created", "booking.confirmed"}, topics)
}

func TestConcurrentBookingsOnlyOneWins(t *testing.T) {
	ctx := context.Background()
	e, _ := newEngine(t)
	listingID := listed(t, e)

	const shippers = 8
	for i := 0; i < shippers; i++ {
		require.NoError(t, e.Deposit(ctx, shipperName(i), 500))
	}

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		wins int
	)
	for i := 0; i < shippers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := e.BookFreight(ctx, listingID, "contested load", shipperName(i))
			if err == nil {
				mu.Lock()
				wins++
				mu.Unlock()
				return
			}
			assert.ErrorIs(t, err, errs.ErrInvalidStatus)
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 1, wins)
	got, err := e.Balance(ctx, owner)
	require.NoError(t, err)
	assert.Equal(t, uint64(475), got)
}

func shipperName(i int) string {
	return "acct-shipper-" + string(rune('a'+i))
}
