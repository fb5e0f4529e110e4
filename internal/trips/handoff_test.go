package trips

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ukydev/school-bus-tracker/internal/events"
	"github.com/ukydev/school-bus-tracker/internal/models"
)

func TestHandoff_CompletedTripProducesReport(t *testing.T) {
	e := setup(t)
	ctx := context.Background()
	e.Start(t, e.Trip.ID)
	_, err := e.svc.MarkAttendance(ctx, e.Driver, e.Trip.ID, models.AttendanceRequest{StudentID: e.Child.ID.Hex(), Status: models.AttendancePresent})
	require.NoError(t, err)

	var got *Report
	h := e.svc.Handoff(func(_ context.Context, r *Report) error {
		got = r
		return nil
	})
	require.NoError(t, h(ctx, events.New(events.TripCompleted, e.Trip.ID.Hex(), time.Now())))
	require.NotNil(t, got)
	assert.Equal(t, e.Trip.ID, got.Trip.ID)
	assert.Equal(t, 1, got.Present)
}

func TestHandoff_Errors(t *testing.T) {
	e := setup(t)
	ctx := context.Background()
	called := false
	h := e.svc.Handoff(func(context.Context, *Report) error {
		called = true
		return nil
	})

	assert.Error(t, h(ctx, events.New(events.TripCompleted, "not-an-id", time.Now())))
	assert.NoError(t, h(ctx, events.New(events.TripCancelled, e.Trip.ID.Hex(), time.Now())))
	assert.NoError(t, h(ctx, events.New("trip.exploded", e.Trip.ID.Hex(), time.Now())))
	assert.False(t, called)
}
