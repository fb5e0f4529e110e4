package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// TripStatus is the state-machine field of a trip.
type TripStatus string

const (
	TripScheduled  TripStatus = "SCHEDULED"
	TripInProgress TripStatus = "IN_PROGRESS"
	TripCompleted  TripStatus = "COMPLETED"
	TripCancelled  TripStatus = "CANCELLED"
)

// IsValidTripStatus reports whether s is one of the known statuses.
func IsValidTripStatus(s TripStatus) bool {
	switch s {
	case TripScheduled, TripInProgress, TripCompleted, TripCancelled:
		return true
	}
	return false
}

// Trip represents one scheduled bus run. StudentIDs is the trip's attendance
// list: the students assigned to ride it.
type Trip struct {
	ID          primitive.ObjectID   `json:"id" bson:"_id,omitempty"`
	TripID      string               `json:"trip_id" bson:"trip_id"` // human label, e.g. "AM-2026-10-18-R4"
	TripDate    time.Time            `json:"trip_date" bson:"trip_date"`
	Status      TripStatus           `json:"status" bson:"status"`
	BusID       primitive.ObjectID   `json:"bus_id" bson:"bus_id"`
	RouteID     primitive.ObjectID   `json:"route_id" bson:"route_id"`
	DriverID    primitive.ObjectID   `json:"driver_id" bson:"driver_id"`
	StudentIDs  []primitive.ObjectID `json:"student_ids" bson:"student_ids"`
	StartTime   *time.Time           `json:"start_time,omitempty" bson:"start_time,omitempty"`
	StopTime    *time.Time           `json:"stop_time,omitempty" bson:"stop_time,omitempty"`
	CancelledAt *time.Time           `json:"cancelled_at,omitempty" bson:"cancelled_at,omitempty"`
	CreatedAt   time.Time            `json:"created_at" bson:"created_at"`
	UpdatedAt   time.Time            `json:"updated_at" bson:"updated_at"`

	// location ingestion bookkeeping, maintained by the store
	LocationSeq    int64      `json:"-" bson:"location_seq,omitempty"`
	LastCapturedAt *time.Time `json:"-" bson:"last_captured_at,omitempty"`
}

// HasStudent reports whether the student is on the trip's attendance list.
func (t *Trip) HasStudent(id primitive.ObjectID) bool {
	for _, s := range t.StudentIDs {
		if s == id {
			return true
		}
	}
	return false
}

// TripRider resolves one attendance-list entry to the owning parent.
// ParentID and ParentUserID are nil for students without a parent.
type TripRider struct {
	StudentID    primitive.ObjectID  `json:"student_id"`
	ParentID     *primitive.ObjectID `json:"parent_id,omitempty"`
	ParentUserID *primitive.ObjectID `json:"-"`
}

// TripDetail is a trip with the includes every authorization decision needs:
// the assigned driver's user id and the parent of each rider.
type TripDetail struct {
	Trip
	DriverUserID primitive.ObjectID `json:"driver_user_id"`
	Riders       []TripRider        `json:"riders"`
}

// RidersOf returns the riders whose parent is the given user.
func (d *TripDetail) RidersOf(parentUserID primitive.ObjectID) []TripRider {
	var out []TripRider
	for _, r := range d.Riders {
		if r.ParentUserID != nil && *r.ParentUserID == parentUserID {
			out = append(out, r)
		}
	}
	return out
}

// TripScope narrows trip queries to what a principal may see. A nil field
// means no narrowing on that dimension; an all-nil scope is unrestricted.
type TripScope struct {
	DriverUserID *primitive.ObjectID
	ParentUserID *primitive.ObjectID
}

// TripFilter holds optional list filters applied after the scope.
type TripFilter struct {
	Status TripStatus
	Date   *time.Time // matches trips on the same UTC calendar day
}

// CreateTripRequest is the admin payload for POST /trips.
type CreateTripRequest struct {
	TripID     string   `json:"trip_id" validate:"required,max=64"`
	TripDate   string   `json:"trip_date" validate:"required"` // YYYY-MM-DD
	BusID      string   `json:"bus_id" validate:"required,len=24,hexadecimal"`
	RouteID    string   `json:"route_id" validate:"required,len=24,hexadecimal"`
	DriverID   string   `json:"driver_id" validate:"required,len=24,hexadecimal"`
	StudentIDs []string `json:"student_ids" validate:"dive,len=24,hexadecimal"`
}
