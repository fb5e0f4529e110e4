// Package trips owns the trip state machine together with the trip-scoped
// resources drivers and parents write: attendance and feedback.
package trips

import (
	"context"
	"errors"
	"time"

	log "github.com/sirupsen/logrus"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/ukydev/school-bus-tracker/internal/access"
	"github.com/ukydev/school-bus-tracker/internal/apperr"
	"github.com/ukydev/school-bus-tracker/internal/db"
	"github.com/ukydev/school-bus-tracker/internal/events"
	"github.com/ukydev/school-bus-tracker/internal/metrics"
	"github.com/ukydev/school-bus-tracker/internal/models"
	"github.com/ukydev/school-bus-tracker/internal/realtime"
)

// Store is the slice of the store the trip service uses.
type Store interface {
	db.TripCollection
	db.AttendanceCollection
	db.FeedbackCollection
	FindBusByID(ctx context.Context, id primitive.ObjectID) (*models.Bus, error)
	FindRouteByID(ctx context.Context, id primitive.ObjectID) (*models.Route, error)
	FindDriverByID(ctx context.Context, id primitive.ObjectID) (*models.Driver, error)
	FindParentByUserID(ctx context.Context, userID primitive.ObjectID) (*models.Parent, error)
	FindStudentsByIDs(ctx context.Context, ids []primitive.ObjectID) ([]models.Student, error)
	CountLocations(ctx context.Context, tripID primitive.ObjectID) (int64, error)
	FirstLocation(ctx context.Context, tripID primitive.ObjectID) (*models.LocationSample, error)
	LatestLocation(ctx context.Context, tripID primitive.ObjectID) (*models.LocationSample, error)
}

// transition is one edge of the trip state machine.
type transition struct {
	action access.TripAction
	from   models.TripStatus
	to     models.TripStatus
	event  string
}

var transitions = map[access.TripAction]transition{
	access.ActionStart:  {access.ActionStart, models.TripScheduled, models.TripInProgress, realtime.EventTripStarted},
	access.ActionEnd:    {access.ActionEnd, models.TripInProgress, models.TripCompleted, realtime.EventTripEnded},
	access.ActionCancel: {access.ActionCancel, models.TripScheduled, models.TripCancelled, realtime.EventTripCancelled},
}

// StatusChange is the payload of trip-started, trip-ended and trip-cancelled.
type StatusChange struct {
	TripID string            `json:"tripId"`
	Status models.TripStatus `json:"status"`
	At     time.Time         `json:"at"`
}

type Service struct {
	store   Store
	pub     realtime.Publisher
	queue   events.Queue
	metrics *metrics.Metrics
	now     func() time.Time
}

type Option func(*Service)

func WithMetrics(m *metrics.Metrics) Option { return func(s *Service) { s.metrics = m } }

// WithClock replaces the wall clock used to stamp transitions and rows.
func WithClock(now func() time.Time) Option { return func(s *Service) { s.now = now } }

func NewService(store Store, pub realtime.Publisher, queue events.Queue, opts ...Option) *Service {
	s := &Service{
		store: store,
		pub:   pub,
		queue: queue,
		now:   func() time.Time { return time.Now().UTC() },
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// CreateTrip schedules a new trip. Admin only.
func (s *Service) CreateTrip(ctx context.Context, p models.Principal, req models.CreateTripRequest) (*models.TripDetail, error) {
	if !access.CanActOnTrip(p, nil, access.ActionCreate) {
		return nil, apperr.Forbiddenf("only administrators may create trips")
	}
	date, err := time.Parse("2006-01-02", req.TripDate)
	if err != nil {
		return nil, apperr.Invalidf("trip_date must be YYYY-MM-DD")
	}
	busID, err1 := primitive.ObjectIDFromHex(req.BusID)
	routeID, err2 := primitive.ObjectIDFromHex(req.RouteID)
	driverID, err3 := primitive.ObjectIDFromHex(req.DriverID)
	if err := errors.Join(err1, err2, err3); err != nil {
		return nil, apperr.Invalidf("bus_id, route_id and driver_id must be valid ids")
	}
	if _, err := s.store.FindBusByID(ctx, busID); err != nil {
		return nil, s.refErr(err, "unknown bus")
	}
	if _, err := s.store.FindRouteByID(ctx, routeID); err != nil {
		return nil, s.refErr(err, "unknown route")
	}
	if _, err := s.store.FindDriverByID(ctx, driverID); err != nil {
		return nil, s.refErr(err, "unknown driver")
	}

	studentIDs := make([]primitive.ObjectID, 0, len(req.StudentIDs))
	seen := make(map[primitive.ObjectID]bool)
	for _, h := range req.StudentIDs {
		id, err := primitive.ObjectIDFromHex(h)
		if err != nil {
			return nil, apperr.Invalidf("student_ids must be valid ids")
		}
		if !seen[id] {
			seen[id] = true
			studentIDs = append(studentIDs, id)
		}
	}
	if len(studentIDs) > 0 {
		found, err := s.store.FindStudentsByIDs(ctx, studentIDs)
		if err != nil {
			return nil, apperr.Internalf(err)
		}
		if len(found) != len(studentIDs) {
			return nil, apperr.Invalidf("unknown student on attendance list")
		}
	}

	trip := &models.Trip{
		TripID:     req.TripID,
		TripDate:   date.UTC(),
		Status:     models.TripScheduled,
		BusID:      busID,
		RouteID:    routeID,
		DriverID:   driverID,
		StudentIDs: studentIDs,
	}
	if err := s.store.InsertTrip(ctx, trip); err != nil {
		log.WithError(err).Error("insert trip")
		return nil, apperr.Internalf(err)
	}
	log.WithFields(log.Fields{"trip_id": trip.ID.Hex(), "label": trip.TripID, "students": len(studentIDs)}).Info("trip scheduled")
	return s.load(ctx, trip.ID)
}

func (s *Service) refErr(err error, msg string) error {
	if errors.Is(err, db.ErrNotFound) {
		return apperr.Invalidf(msg)
	}
	return apperr.Internalf(err)
}

// ListTrips returns the trips the caller may see, narrowed by filter.
func (s *Service) ListTrips(ctx context.Context, p models.Principal, filter models.TripFilter) ([]models.TripDetail, error) {
	scope, ok := access.TripScopeFor(p)
	if !ok {
		return nil, apperr.Forbiddenf("role may not list trips")
	}
	trips, err := s.store.ListTrips(ctx, scope, filter)
	if err != nil {
		log.WithError(err).Error("list trips")
		return nil, apperr.Internalf(err)
	}
	return trips, nil
}

// GetTrip fetches a trip. Trips the caller may not view are reported as
// missing.
func (s *Service) GetTrip(ctx context.Context, p models.Principal, id primitive.ObjectID) (*models.TripDetail, error) {
	trip, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if !access.CanViewTrip(p, trip) {
		return nil, apperr.NotFoundf("trip not found")
	}
	return trip, nil
}

func (s *Service) load(ctx context.Context, id primitive.ObjectID) (*models.TripDetail, error) {
	trip, err := s.store.FindTripByID(ctx, id)
	if errors.Is(err, db.ErrNotFound) {
		return nil, apperr.NotFoundf("trip not found")
	}
	if err != nil {
		log.WithError(err).WithField("trip_id", id.Hex()).Error("load trip")
		return nil, apperr.Internalf(err)
	}
	return trip, nil
}

// Start moves the caller's trip from SCHEDULED to IN_PROGRESS.
func (s *Service) Start(ctx context.Context, p models.Principal, id primitive.ObjectID) (*models.Trip, error) {
	return s.apply(ctx, p, id, transitions[access.ActionStart])
}

// End moves the caller's trip from IN_PROGRESS to COMPLETED.
func (s *Service) End(ctx context.Context, p models.Principal, id primitive.ObjectID) (*models.Trip, error) {
	return s.apply(ctx, p, id, transitions[access.ActionEnd])
}

// Cancel moves a SCHEDULED trip to CANCELLED. Admin only.
func (s *Service) Cancel(ctx context.Context, p models.Principal, id primitive.ObjectID) (*models.Trip, error) {
	return s.apply(ctx, p, id, transitions[access.ActionCancel])
}

// apply authorizes and performs one transition. The status guard is
// evaluated by the store's conditional write, never from the value read here.
func (s *Service) apply(ctx context.Context, p models.Principal, id primitive.ObjectID, tr transition) (*models.Trip, error) {
	detail, err := s.GetTrip(ctx, p, id)
	if err != nil {
		return nil, err
	}
	if !access.CanActOnTrip(p, detail, tr.action) {
		return nil, apperr.Forbiddenf("not allowed to " + string(tr.action) + " this trip")
	}

	at := s.now()
	trip, err := s.store.TransitionTrip(ctx, id, tr.from, tr.to, at)
	switch {
	case errors.Is(err, db.ErrStatusMismatch):
		s.metrics.Transition(string(tr.to), "rejected")
		return nil, apperr.ErrInvalidTransition
	case errors.Is(err, db.ErrNotFound):
		return nil, apperr.NotFoundf("trip not found")
	case err != nil:
		log.WithError(err).WithField("trip_id", id.Hex()).Error("transition trip")
		return nil, apperr.Internalf(err)
	}
	s.metrics.Transition(string(tr.to), "ok")
	log.WithFields(log.Fields{
		"trip_id": id.Hex(),
		"from":    tr.from,
		"to":      tr.to,
		"user_id": p.UserID.Hex(),
	}).Info("trip status changed")

	s.publish(ctx, id, tr.event, StatusChange{TripID: id.Hex(), Status: tr.to, At: at})
	switch tr.to {
	case models.TripCompleted:
		s.enqueue(ctx, events.TripCompleted, id, at)
	case models.TripCancelled:
		s.enqueue(ctx, events.TripCancelled, id, at)
	}
	return trip, nil
}

func (s *Service) publish(ctx context.Context, tripID primitive.ObjectID, name string, data interface{}) {
	ev, err := realtime.NewEvent(name, data)
	if err == nil {
		err = s.pub.Publish(ctx, realtime.TripRoom(tripID), ev)
	}
	if err != nil {
		log.WithError(err).WithFields(log.Fields{"trip_id": tripID.Hex(), "event": name}).Warn("trip broadcast failed")
	}
}

func (s *Service) enqueue(ctx context.Context, typ string, tripID primitive.ObjectID, at time.Time) {
	if s.queue == nil {
		return
	}
	if err := s.queue.Publish(ctx, events.New(typ, tripID.Hex(), at)); err != nil {
		log.WithError(err).WithFields(log.Fields{"trip_id": tripID.Hex(), "type": typ}).Error("enqueue trip event")
	}
}
