package listing

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"freightmarket/carrier"
	"freightmarket/errs"
	"freightmarket/events"
	"freightmarket/store"
)

type fakeCarriers map[uint64]carrier.Carrier

func (f fakeCarriers) Get(_ context.Context, id uint64) (carrier.Carrier, bool, error) {
	c, ok := f[id]
	return c, ok, nil
}

func newService(t *testing.T) (*Service, fakeCarriers, *events.MemoryOutbox) {
	t.Helper()
	carriers := fakeCarriers{
		1: {ID: 1, Name: "Northbound Haulage", Active: true, Owner: "acct-a"},
		2: {ID: 2, Name: "Dormant Freight", Active: false, Owner: "acct-b"},
	}
	outbox := events.NewMemoryOutbox()
	seq := store.NewSequence(store.NewMemoryTable[string, uint64](), "listing")
	svc := NewService(store.NewMemoryTable[uint64, Listing](), seq, carriers, outbox, DefaultBounds())
	return svc, carriers, outbox
}

func validParams() CreateParams {
	return CreateParams{
		CarrierID:       1,
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

func TestCreate(t *testing.T) {
	ctx := context.Background()
	svc, _, outbox := newService(t)

	id, err := svc.Create(ctx, validParams(), "acct-a")
	require.NoError(t, err)
	assert.Equal(t, uint64(1), id)

	l, found, err := svc.Get(ctx, id)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, StatusActive, l.Status)
	assert.Equal(t, uint64(500), l.BasePrice)
	assert.Equal(t, uint64(500), l.CurrentPrice)

	pending, err := outbox.Pending(ctx, 10)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, TopicCreated, pending[0].Topic)
}

func TestCreate_Rejections(t *testing.T) {
	ctx := context.Background()

	cases := []struct {
		name   string
		mutate func(*CreateParams)
		caller string
		want   error
	}{
		{"empty origin", func(p *CreateParams) { p.Origin = "" }, "acct-a", errs.ErrInvalidParameters},
		{"long destination", func(p *CreateParams) { p.Destination = strings.Repeat("d", 129) }, "acct-a", errs.ErrInvalidParameters},
		{"zero capacity", func(p *CreateParams) { p.CapacityKg = 0 }, "acct-a", errs.ErrInvalidParameters},
		{"volume too large", func(p *CreateParams) { p.VolumeM3 = 10_001 }, "acct-a", errs.ErrInvalidParameters},
		{"price too large", func(p *CreateParams) { p.BasePrice = 1_000_000_000_001 }, "acct-a", errs.ErrInvalidParameters},
		{"arrival past horizon", func(p *CreateParams) { p.ArrivalTime = 4_102_444_801 }, "acct-a", errs.ErrInvalidParameters},
		{"unknown carrier", func(p *CreateParams) { p.CarrierID = 9 }, "acct-a", errs.ErrNotFound},
		{"inactive carrier", func(p *CreateParams) { p.CarrierID = 2 }, "acct-b", errs.ErrInvalidStatus},
		{"not the owner", func(*CreateParams) {}, "acct-z", errs.ErrNotAuthorized},
		{"deadline at departure", func(p *CreateParams) { p.BookingDeadline = 1000 }, "acct-a", errs.ErrInvalidParameters},
		{"arrival before departure", func(p *CreateParams) { p.ArrivalTime = 999 }, "acct-a", errs.ErrInvalidParameters},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			svc, _, _ := newService(t)
			params := validParams()
			tc.mutate(&params)

			_, err := svc.Create(ctx, params, tc.caller)
			require.ErrorIs(t, err, tc.want)

			_, found, err := svc.Get(ctx, 1)
			require.NoError(t, err)
			assert.False(t, found)
		})
	}
}

func TestCreate_RejectionDoesNotConsumeID(t *testing.T) {
	ctx := context.Background()
	svc, _, _ := newService(t)

	bad := validParams()
	bad.BasePrice = 0
	_, err := svc.Create(ctx, bad, "acct-a")
	require.ErrorIs(t, err, errs.ErrInvalidParameters)

	id, err := svc.Create(ctx, validParams(), "acct-a")
	require.NoError(t, err)
	assert.Equal(t, uint64(1), id)
}

func TestUpdatePrice(t *testing.T) {
	ctx := context.Background()
	svc, _, _ := newService(t)
	id, err := svc.Create(ctx, validParams(), "acct-a")
	require.NoError(t, err)

	require.ErrorIs(t, svc.UpdatePrice(ctx, 42, 600, "acct-a"), errs.ErrNotFound)
	require.ErrorIs(t, svc.UpdatePrice(ctx, id, 0, "acct-a"), errs.ErrInvalidParameters)
	require.ErrorIs(t, svc.UpdatePrice(ctx, id, DefaultBounds().MaxPrice+1, "acct-a"), errs.ErrInvalidParameters)
	require.ErrorIs(t, svc.UpdatePrice(ctx, id, 600, "acct-z"), errs.ErrNotAuthorized)

	l, _, err := svc.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, uint64(500), l.CurrentPrice)

	require.NoError(t, svc.UpdatePrice(ctx, id, 650, "acct-a"))
	l, _, err = svc.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, uint64(650), l.CurrentPrice)
	assert.Equal(t, uint64(500), l.BasePrice)
}

func TestUpdatePrice_StatusCheckedBeforeOwner(t *testing.T) {
	ctx := context.Background()
	svc, _, _ := newService(t)
	id, err := svc.Create(ctx, validParams(), "acct-a")
	require.NoError(t, err)
	require.NoError(t, svc.Cancel(ctx, id, "acct-a"))

	require.ErrorIs(t, svc.UpdatePrice(ctx, id, 600, "acct-z"), errs.ErrInvalidStatus)
}

func TestCancel(t *testing.T) {
	ctx := context.Background()
	svc, _, outbox := newService(t)
	id, err := svc.Create(ctx, validParams(), "acct-a")
	require.NoError(t, err)

	require.ErrorIs(t, svc.Cancel(ctx, id, "acct-z"), errs.ErrNotAuthorized)
	require.NoError(t, svc.Cancel(ctx, id, "acct-a"))
	require.ErrorIs(t, svc.Cancel(ctx, id, "acct-a"), errs.ErrInvalidStatus)

	l, _, err := svc.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, l.Status)

	pending, err := outbox.Pending(ctx, 10)
	require.NoError(t, err)
	require.Len(t, pending, 2)
	assert.Equal(t, TopicCancelled, pending[1].Topic)
}

func TestBookedThenCompleted(t *testing.T) {
	ctx := context.Background()
	svc, _, _ := newService(t)
	id, err := svc.Create(ctx, validParams(), "acct-a")
	require.NoError(t, err)

	require.ErrorIs(t, svc.Complete(ctx, id), errs.ErrInvalidStatus)
	require.NoError(t, svc.MarkBooked(ctx, id))
	require.ErrorIs(t, svc.MarkBooked(ctx, id), errs.ErrInvalidStatus)
	require.ErrorIs(t, svc.Cancel(ctx, id, "acct-a"), errs.ErrInvalidStatus)
	require.NoError(t, svc.Complete(ctx, id))

	l, _, err := svc.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, l.Status)
}

func TestStatusTransitions(t *testing.T) {
	all := []Status{StatusActive, StatusBooked, StatusCompleted, StatusCancelled}
	legal := map[[2]Status]bool{
		{StatusActive, StatusBooked}:    true,
		{StatusActive, StatusCancelled}: true,
		{StatusBooked, StatusCompleted}: true,
	}
	for _, from := range all {
		for _, to := range all {
			assert.Equal(t, legal[[2]Status{from, to}], from.CanTransition(to), "%s -> %s", from, to)
		}
	}
}

func TestBoundsValidate(t *testing.T) {
	require.NoError(t, DefaultBounds().Validate())

	b := DefaultBounds()
	b.MinPrice = 0
	require.Error(t, b.Validate())

	b = DefaultBounds()
	b.MaxCapacityKg = 0
	require.Error(t, b.Validate())
}
