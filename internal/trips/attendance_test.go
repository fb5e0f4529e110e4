package trips

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/ukydev/school-bus-tracker/internal/apperr"
	"github.com/ukydev/school-bus-tracker/internal/models"
	"github.com/ukydev/school-bus-tracker/internal/realtime"
)

func TestMarkAttendance(t *testing.T) {
	e := setup(t)
	ctx := context.Background()
	parent := e.listen(e.Parent, e.Trip.ID)
	req := models.AttendanceRequest{StudentID: e.Child.ID.Hex(), Status: models.AttendancePresent}

	row, err := e.svc.MarkAttendance(ctx, e.Driver, e.Trip.ID, req)
	require.NoError(t, err)
	assert.Equal(t, models.AttendancePresent, row.Status)
	assert.Equal(t, e.Driver.UserID, row.MarkedBy)

	ev := next(t, parent)
	assert.Equal(t, realtime.EventAttendanceUpdated, ev.Name)
	var upd AttendanceUpdate
	require.NoError(t, json.Unmarshal(ev.Data, &upd))
	assert.Equal(t, e.Child.ID.Hex(), upd.StudentID)

	req.Status = models.AttendanceAbsent
	again, err := e.svc.MarkAttendance(ctx, e.Driver, e.Trip.ID, req)
	require.NoError(t, err)
	assert.Equal(t, row.ID, again.ID, "re-marking replaces the row")

	rows, err := e.svc.ListAttendance(ctx, e.Admin, e.Trip.ID)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, models.AttendanceAbsent, rows[0].Status)
}

func TestMarkAttendance_Rejections(t *testing.T) {
	e := setup(t)
	ctx := context.Background()
	ok := models.AttendanceRequest{StudentID: e.Child.ID.Hex(), Status: models.AttendancePresent}

	_, err := e.svc.MarkAttendance(ctx, e.Parent, e.Trip.ID, ok)
	assert.Equal(t, apperr.Forbidden, apperr.KindOf(err))

	_, err = e.svc.MarkAttendance(ctx, e.OtherDriver, e.Trip.ID, ok)
	assert.Equal(t, apperr.NotFound, apperr.KindOf(err))

	_, err = e.svc.MarkAttendance(ctx, e.Driver, e.Trip.ID, models.AttendanceRequest{StudentID: e.OtherChild.ID.Hex(), Status: models.AttendancePresent})
	assert.Equal(t, apperr.InvalidArgument, apperr.KindOf(err), "student not on the list")

	_, err = e.svc.MarkAttendance(ctx, e.Driver, e.Trip.ID, models.AttendanceRequest{StudentID: e.Child.ID.Hex(), Status: "LATE"})
	assert.Equal(t, apperr.InvalidArgument, apperr.KindOf(err))

	_, err = e.svc.Cancel(ctx, e.Admin, e.Trip.ID)
	require.NoError(t, err)
	_, err = e.svc.MarkAttendance(ctx, e.Driver, e.Trip.ID, ok)
	assert.Equal(t, apperr.Conflict, apperr.KindOf(err))
}

func TestListAttendance_ParentSeesOwnChildren(t *testing.T) {
	e := setup(t)
	ctx := context.Background()
	trip := e.AddTrip(t, e.DriverProfile.ID, e.Trip.TripDate, e.Child.ID, e.OtherChild.ID)

	for _, id := range []primitive.ObjectID{e.Child.ID, e.OtherChild.ID} {
		_, err := e.svc.MarkAttendance(ctx, e.Driver, trip.ID, models.AttendanceRequest{StudentID: id.Hex(), Status: models.AttendancePresent})
		require.NoError(t, err)
	}

	rows, err := e.svc.ListAttendance(ctx, e.Driver, trip.ID)
	require.NoError(t, err)
	assert.Len(t, rows, 2)

	rows, err = e.svc.ListAttendance(ctx, e.Parent, trip.ID)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, e.Child.ID, rows[0].StudentID)
}

func TestSubmitFeedback(t *testing.T) {
	e := setup(t)
	ctx := context.Background()

	fb, err := e.svc.SubmitFeedback(ctx, e.Parent, e.Trip.ID, models.FeedbackRequest{Rating: 5, Comment: "on time"})
	require.NoError(t, err)
	assert.Equal(t, e.ParentProfile.ID, fb.ParentID)
	assert.Nil(t, fb.StudentID)

	_, err = e.svc.SubmitFeedback(ctx, e.Parent, e.Trip.ID, models.FeedbackRequest{Rating: 3})
	assert.Equal(t, apperr.Conflict, apperr.KindOf(err), "second submission without student")

	_, err = e.svc.SubmitFeedback(ctx, e.Parent, e.Trip.ID, models.FeedbackRequest{Rating: 4, StudentID: e.Child.ID.Hex()})
	require.NoError(t, err, "per-child feedback is a separate key")
	_, err = e.svc.SubmitFeedback(ctx, e.Parent, e.Trip.ID, models.FeedbackRequest{Rating: 4, StudentID: e.Child.ID.Hex()})
	assert.Equal(t, apperr.Conflict, apperr.KindOf(err))
}

func TestSubmitFeedback_Rejections(t *testing.T) {
	e := setup(t)
	ctx := context.Background()

	tests := []struct {
		name string
		p    models.Principal
		trip primitive.ObjectID
		req  models.FeedbackRequest
		want apperr.Kind
	}{
		{"driver", e.Driver, e.Trip.ID, models.FeedbackRequest{Rating: 5}, apperr.Forbidden},
		{"parent without child on trip", e.OtherParent, e.Trip.ID, models.FeedbackRequest{Rating: 5}, apperr.NotFound},
		{"someone else's child", e.Parent, e.Trip.ID, models.FeedbackRequest{Rating: 5, StudentID: e.OtherChild.ID.Hex()}, apperr.Forbidden},
		{"rating out of range", e.Parent, e.Trip.ID, models.FeedbackRequest{Rating: 6}, apperr.InvalidArgument},
		{"malformed student", e.Parent, e.Trip.ID, models.FeedbackRequest{Rating: 5, StudentID: "kid"}, apperr.InvalidArgument},
		{"unknown trip", e.Parent, primitive.NewObjectID(), models.FeedbackRequest{Rating: 5}, apperr.NotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := e.svc.SubmitFeedback(ctx, tt.p, tt.trip, tt.req)
			assert.Equal(t, tt.want, apperr.KindOf(err))
		})
	}
}

func TestSubmitFeedback_ForeignTripLooksMissing(t *testing.T) {
	e := setup(t)
	ctx := context.Background()

	_, foreign := e.svc.SubmitFeedback(ctx, e.OtherParent, e.Trip.ID, models.FeedbackRequest{Rating: 3})
	_, missing := e.svc.SubmitFeedback(ctx, e.OtherParent, primitive.NewObjectID(), models.FeedbackRequest{Rating: 3})
	require.Error(t, foreign)
	require.Error(t, missing)
	assert.Equal(t, apperr.NotFound, apperr.KindOf(foreign))
	assert.Equal(t, apperr.KindOf(missing), apperr.KindOf(foreign))
	assert.Equal(t, apperr.Message(missing), apperr.Message(foreign))
}

func TestListFeedback_Scoped(t *testing.T) {
	e := setup(t)
	ctx := context.Background()
	trip := e.AddTrip(t, e.DriverProfile.ID, e.Trip.TripDate, e.Child.ID, e.OtherChild.ID)

	_, err := e.svc.SubmitFeedback(ctx, e.Parent, trip.ID, models.FeedbackRequest{Rating: 4})
	require.NoError(t, err)
	_, err = e.svc.SubmitFeedback(ctx, e.OtherParent, trip.ID, models.FeedbackRequest{Rating: 2})
	require.NoError(t, err)

	all, err := e.svc.ListFeedback(ctx, e.Driver, trip.ID)
	require.NoError(t, err)
	assert.Len(t, all, 2)

	own, err := e.svc.ListFeedback(ctx, e.Parent, trip.ID)
	require.NoError(t, err)
	require.Len(t, own, 1)
	assert.Equal(t, 4, own[0].Rating)
}

func TestReport(t *testing.T) {
	e := setup(t)
	ctx := context.Background()
	trip := e.AddTrip(t, e.DriverProfile.ID, e.Trip.TripDate, e.Child.ID, e.OtherChild.ID)

	_, err := e.svc.Start(ctx, e.Driver, trip.ID)
	require.NoError(t, err)
	_, err = e.svc.MarkAttendance(ctx, e.Driver, trip.ID, models.AttendanceRequest{StudentID: e.Child.ID.Hex(), Status: models.AttendancePresent})
	require.NoError(t, err)
	_, err = e.svc.MarkAttendance(ctx, e.Driver, trip.ID, models.AttendanceRequest{StudentID: e.OtherChild.ID.Hex(), Status: models.AttendanceAbsent})
	require.NoError(t, err)
	for i := 0; i < 3; i++ {
		_, err := e.Store.AppendLocation(ctx, models.LocationSample{TripID: trip.ID, DriverID: e.DriverProfile.ID, Lat: float64(i), Lng: 1})
		require.NoError(t, err)
	}
	_, err = e.svc.End(ctx, e.Driver, trip.ID)
	require.NoError(t, err)
	_, err = e.svc.SubmitFeedback(ctx, e.Parent, trip.ID, models.FeedbackRequest{Rating: 5})
	require.NoError(t, err)
	_, err = e.svc.SubmitFeedback(ctx, e.OtherParent, trip.ID, models.FeedbackRequest{Rating: 2})
	require.NoError(t, err)

	r, err := e.svc.Report(ctx, e.Admin, trip.ID)
	require.NoError(t, err)
	assert.Equal(t, models.TripCompleted, r.Trip.Status)
	assert.Equal(t, 1, r.Present)
	assert.Equal(t, 1, r.Absent)
	assert.Equal(t, int64(3), r.SampleCount)
	require.NotNil(t, r.FirstSample)
	require.NotNil(t, r.LastSample)
	assert.Equal(t, 0.0, r.FirstSample.Lat)
	assert.Equal(t, 2.0, r.LastSample.Lat)
	assert.Equal(t, 2, r.FeedbackCount)
	assert.InDelta(t, 3.5, r.AverageRating, 1e-9)

	pr, err := e.svc.Report(ctx, e.Parent, trip.ID)
	require.NoError(t, err)
	assert.Len(t, pr.Attendance, 1)
	assert.Equal(t, 1, pr.FeedbackCount)

	_, err = e.svc.Report(ctx, e.OtherDriver, trip.ID)
	assert.Equal(t, apperr.NotFound, apperr.KindOf(err))
}

func TestReport_NoSamples(t *testing.T) {
	e := setup(t)
	r, err := e.svc.Report(context.Background(), e.Driver, e.Trip.ID)
	require.NoError(t, err)
	assert.Zero(t, r.SampleCount)
	assert.Nil(t, r.FirstSample)
	assert.Nil(t, r.LastSample)
	assert.Empty(t, r.Attendance)
}
