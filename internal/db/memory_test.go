package db

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ukydev/school-bus-tracker/internal/models"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

func TestMemoryStore_TripLifecycle(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	driverUser, parentUser, trip := seedTrip(t, s)

	detail, err := s.FindTripByID(ctx, trip.ID)
	require.NoError(t, err)
	assert.Equal(t, driverUser, detail.DriverUserID)
	assert.Len(t, detail.RidersOf(parentUser), 1)

	_, err = s.FindTripByID(ctx, primitive.NewObjectID())
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = s.TransitionTrip(ctx, trip.ID, models.TripInProgress, models.TripCompleted, time.Now())
	assert.ErrorIs(t, err, ErrStatusMismatch)

	at := time.Date(2026, 10, 18, 7, 30, 0, 0, time.UTC)
	started, err := s.TransitionTrip(ctx, trip.ID, models.TripScheduled, models.TripInProgress, at)
	require.NoError(t, err)
	require.NotNil(t, started.StartTime)
	assert.True(t, started.StartTime.Equal(at))

	ended, err := s.TransitionTrip(ctx, trip.ID, models.TripInProgress, models.TripCompleted, at.Add(time.Hour))
	require.NoError(t, err)
	require.NotNil(t, ended.StopTime)
	assert.Equal(t, models.TripCompleted, ended.Status)
}

func TestMemoryStore_ConcurrentTransition(t *testing.T) {
	s := NewMemoryStore()
	_, _, trip := seedTrip(t, s)

	const n = 16
	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.TransitionTrip(context.Background(), trip.ID, models.TripScheduled, models.TripInProgress, time.Now())
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	ok, mismatch := 0, 0
	for err := range errs {
		switch err {
		case nil:
			ok++
		case ErrStatusMismatch:
			mismatch++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	assert.Equal(t, 1, ok)
	assert.Equal(t, n-1, mismatch)
}

func TestMemoryStore_AppendLocation(t *testing.T) {
	s := NewMemoryStore()
	frozen := time.Date(2026, 10, 18, 8, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return frozen }
	ctx := context.Background()
	_, _, trip := seedTrip(t, s)

	_, err := s.AppendLocation(ctx, models.LocationSample{TripID: trip.ID, Lat: 1, Lng: 2})
	assert.ErrorIs(t, err, ErrStatusMismatch, "scheduled trips take no samples")

	_, err = s.TransitionTrip(ctx, trip.ID, models.TripScheduled, models.TripInProgress, frozen)
	require.NoError(t, err)

	var got []*models.LocationSample
	for i := 0; i < 5; i++ {
		sample, err := s.AppendLocation(ctx, models.LocationSample{TripID: trip.ID, Lat: float64(i), Lng: 2})
		require.NoError(t, err)
		got = append(got, sample)
	}
	for i := 1; i < len(got); i++ {
		assert.Equal(t, got[i-1].Seq+1, got[i].Seq)
		assert.True(t, got[i].CapturedAt.After(got[i-1].CapturedAt), "captured_at strictly increases under a frozen clock")
	}

	recent, err := s.ListRecentLocations(ctx, trip.ID, 3)
	require.NoError(t, err)
	require.Len(t, recent, 3)
	assert.Equal(t, int64(5), recent[0].Seq)
	assert.Equal(t, int64(3), recent[2].Seq)

	latest, err := s.LatestLocation(ctx, trip.ID)
	require.NoError(t, err)
	assert.Equal(t, float64(4), latest.Lat)

	first, err := s.FirstLocation(ctx, trip.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), first.Seq)

	count, err := s.CountLocations(ctx, trip.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(5), count)

	_, err = s.TransitionTrip(ctx, trip.ID, models.TripInProgress, models.TripCompleted, frozen)
	require.NoError(t, err)
	_, err = s.AppendLocation(ctx, models.LocationSample{TripID: trip.ID, Lat: 9, Lng: 9})
	assert.ErrorIs(t, err, ErrStatusMismatch)

	_, err = s.LatestLocation(ctx, primitive.NewObjectID())
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryStore_ListTripsScopeAndFilter(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	driverUser, parentUser, trip := seedTrip(t, s)
	otherDriver, _, other := seedTrip(t, s)

	all, err := s.ListTrips(ctx, models.TripScope{}, models.TripFilter{})
	require.NoError(t, err)
	assert.Len(t, all, 2)

	mine, err := s.ListTrips(ctx, models.TripScope{DriverUserID: &driverUser}, models.TripFilter{})
	require.NoError(t, err)
	require.Len(t, mine, 1)
	assert.Equal(t, trip.ID, mine[0].ID)

	linked, err := s.ListTrips(ctx, models.TripScope{DriverUserID: &otherDriver, ParentUserID: &parentUser}, models.TripFilter{})
	require.NoError(t, err)
	assert.Empty(t, linked)

	_, err = s.TransitionTrip(ctx, other.ID, models.TripScheduled, models.TripCancelled, time.Now())
	require.NoError(t, err)
	cancelled, err := s.ListTrips(ctx, models.TripScope{}, models.TripFilter{Status: models.TripCancelled})
	require.NoError(t, err)
	require.Len(t, cancelled, 1)
	assert.Equal(t, other.ID, cancelled[0].ID)
	assert.NotNil(t, cancelled[0].CancelledAt)

	tomorrow := trip.TripDate.Add(24 * time.Hour)
	none, err := s.ListTrips(ctx, models.TripScope{}, models.TripFilter{Date: &tomorrow})
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestMemoryStore_FeedbackAndMessages(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	tripID, parentID, student := primitive.NewObjectID(), primitive.NewObjectID(), primitive.NewObjectID()

	require.NoError(t, s.InsertFeedback(ctx, &models.TripFeedback{TripID: tripID, ParentID: parentID, Rating: 5}))
	assert.ErrorIs(t, s.InsertFeedback(ctx, &models.TripFeedback{TripID: tripID, ParentID: parentID, Rating: 3}), ErrDuplicate)
	require.NoError(t, s.InsertFeedback(ctx, &models.TripFeedback{TripID: tripID, ParentID: parentID, StudentID: &student, Rating: 4}))

	list, err := s.ListFeedback(ctx, tripID)
	require.NoError(t, err)
	assert.Len(t, list, 2)

	a, b, c := primitive.NewObjectID(), primitive.NewObjectID(), primitive.NewObjectID()
	require.NoError(t, s.InsertMessage(ctx, &models.Message{SenderID: a, ReceiverID: b, Content: "1"}))
	require.NoError(t, s.InsertMessage(ctx, &models.Message{SenderID: c, ReceiverID: a, Content: "2"}))
	require.NoError(t, s.InsertMessage(ctx, &models.Message{SenderID: b, ReceiverID: a, Content: "3"}))

	forA, err := s.ListMessagesFor(ctx, a)
	require.NoError(t, err)
	assert.Len(t, forA, 3)

	thread, err := s.ListThread(ctx, a, b)
	require.NoError(t, err)
	require.Len(t, thread, 2)
	assert.Equal(t, "1", thread[0].Content)
	assert.Equal(t, "3", thread[1].Content)
}
