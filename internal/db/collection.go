package db

import (
	"context"
	"errors"
	"time"

	"github.com/ukydev/school-bus-tracker/internal/models"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

var (
	// ErrNotFound is returned when the addressed record does not exist.
	ErrNotFound = errors.New("db: not found")
	// ErrDuplicate is returned when a unique constraint rejects a write.
	ErrDuplicate = errors.New("db: duplicate key")
	// ErrStatusMismatch is returned by conditional trip writes when the trip
	// is not in the expected status.
	ErrStatusMismatch = errors.New("db: trip status mismatch")
)

// TripCollection defines trip persistence. Reads return TripDetail so callers
// can evaluate access predicates without further lookups.
type TripCollection interface {
	InsertTrip(ctx context.Context, trip *models.Trip) error
	FindTripByID(ctx context.Context, id primitive.ObjectID) (*models.TripDetail, error)
	// ListTrips returns the trips inside scope matching filter, newest trip
	// date first. When both scope fields are set the trip must satisfy both.
	ListTrips(ctx context.Context, scope models.TripScope, filter models.TripFilter) ([]models.TripDetail, error)
	// TransitionTrip moves the trip from one status to another in a single
	// conditional write, stamping the timestamp that belongs to the target
	// status. It returns ErrStatusMismatch when the stored status is not from.
	TransitionTrip(ctx context.Context, id primitive.ObjectID, from, to models.TripStatus, at time.Time) (*models.Trip, error)
}

// LocationCollection defines the append-only sample log.
type LocationCollection interface {
	// AppendLocation stores a sample for an IN_PROGRESS trip, assigning Seq
	// and CapturedAt. Both strictly increase per trip. It returns
	// ErrStatusMismatch when the trip is missing or not in progress.
	AppendLocation(ctx context.Context, sample models.LocationSample) (*models.LocationSample, error)
	// ListRecentLocations returns up to limit samples, newest first.
	ListRecentLocations(ctx context.Context, tripID primitive.ObjectID, limit int) ([]models.LocationSample, error)
	LatestLocation(ctx context.Context, tripID primitive.ObjectID) (*models.LocationSample, error)
	CountLocations(ctx context.Context, tripID primitive.ObjectID) (int64, error)
	FirstLocation(ctx context.Context, tripID primitive.ObjectID) (*models.LocationSample, error)
}

// AttendanceCollection defines attendance rows, unique per (trip, student).
type AttendanceCollection interface {
	UpsertAttendance(ctx context.Context, a models.Attendance) (*models.Attendance, error)
	ListAttendance(ctx context.Context, tripID primitive.ObjectID) ([]models.Attendance, error)
}

// FeedbackCollection defines trip feedback, unique per (trip, parent, student).
type FeedbackCollection interface {
	InsertFeedback(ctx context.Context, fb *models.TripFeedback) error
	FeedbackExists(ctx context.Context, tripID, parentID primitive.ObjectID, studentID *primitive.ObjectID) (bool, error)
	ListFeedback(ctx context.Context, tripID primitive.ObjectID) ([]models.TripFeedback, error)
}

// MessageCollection defines the append-only message log.
type MessageCollection interface {
	InsertMessage(ctx context.Context, m *models.Message) error
	// ListMessagesFor returns every message sent or received by the user,
	// oldest first.
	ListMessagesFor(ctx context.Context, userID primitive.ObjectID) ([]models.Message, error)
	// ListThread returns the messages exchanged between a and b, oldest first.
	ListThread(ctx context.Context, a, b primitive.ObjectID) ([]models.Message, error)
}

// UserCollection defines accounts and their role profiles.
type UserCollection interface {
	InsertUser(ctx context.Context, user *models.User) error
	FindUserByID(ctx context.Context, id primitive.ObjectID) (*models.User, error)
	FindUserByEmail(ctx context.Context, email string) (*models.User, error)
	FindUsersByIDs(ctx context.Context, ids []primitive.ObjectID) ([]models.User, error)
	ListUsersByRole(ctx context.Context, role models.Role) ([]models.User, error)
	CountUsersByRole(ctx context.Context, role models.Role) (int64, error)
	UpdateUser(ctx context.Context, user *models.User) error
	UpdateLastLogin(ctx context.Context, id primitive.ObjectID, at time.Time) error

	InsertDriver(ctx context.Context, d *models.Driver) error
	InsertParent(ctx context.Context, p *models.Parent) error
	InsertAdministrator(ctx context.Context, a *models.Administrator) error
	FindDriverByID(ctx context.Context, id primitive.ObjectID) (*models.Driver, error)
	FindDriverByUserID(ctx context.Context, userID primitive.ObjectID) (*models.Driver, error)
	FindParentByID(ctx context.Context, id primitive.ObjectID) (*models.Parent, error)
	FindParentByUserID(ctx context.Context, userID primitive.ObjectID) (*models.Parent, error)
	ListDrivers(ctx context.Context) ([]models.DriverWithUser, error)
	ListParents(ctx context.Context) ([]models.ParentWithUser, error)
}

// StudentCollection defines students. Admission numbers are unique.
type StudentCollection interface {
	InsertStudent(ctx context.Context, s *models.Student) error
	FindStudentByID(ctx context.Context, id primitive.ObjectID) (*models.Student, error)
	FindStudentsByIDs(ctx context.Context, ids []primitive.ObjectID) ([]models.Student, error)
	// ListStudents lists all students, or only the parent's when parentID is set.
	ListStudents(ctx context.Context, parentID *primitive.ObjectID) ([]models.Student, error)
	UpdateStudent(ctx context.Context, s *models.Student) error
}

// FleetCollection defines buses and routes.
type FleetCollection interface {
	InsertBus(ctx context.Context, b *models.Bus) error
	FindBusByID(ctx context.Context, id primitive.ObjectID) (*models.Bus, error)
	ListBuses(ctx context.Context) ([]models.Bus, error)
	InsertRoute(ctx context.Context, r *models.Route) error
	FindRouteByID(ctx context.Context, id primitive.ObjectID) (*models.Route, error)
	ListRoutes(ctx context.Context) ([]models.Route, error)
}

// Store is the full persistence contract consumed by the services.
type Store interface {
	TripCollection
	LocationCollection
	AttendanceCollection
	FeedbackCollection
	MessageCollection
	UserCollection
	StudentCollection
	FleetCollection
	Ping(ctx context.Context) error
}

// stampField returns the trip field stamped when entering status.
func stampField(to models.TripStatus) string {
	switch to {
	case models.TripInProgress:
		return "start_time"
	case models.TripCompleted:
		return "stop_time"
	case models.TripCancelled:
		return "cancelled_at"
	}
	return ""
}
