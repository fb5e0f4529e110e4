// Package realtime is the session registry behind the WebSocket surface:
// per-connection sessions, room membership and event fan-out.
package realtime

import (
	"encoding/json"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Client to server events.
const (
	EventJoinTrip       = "join-trip"
	EventLeaveTrip      = "leave-trip"
	EventLocationUpdate = "location-update"
)

// Server to client events.
const (
	EventJoinedTrip        = "joined-trip"
	EventLeftTrip          = "left-trip"
	EventError             = "error"
	EventLocationBroadcast = "location-broadcast"
	EventMessageBroadcast  = "message-broadcast"
	EventTripStarted       = "trip-started"
	EventTripEnded         = "trip-ended"
	EventTripCancelled     = "trip-cancelled"
	EventAttendanceUpdated = "attendance-updated"
)

// Event is the wire envelope in both directions.
type Event struct {
	Name string          `json:"event"`
	Data json.RawMessage `json:"data,omitempty"`
}

// NewEvent marshals data into an event envelope.
func NewEvent(name string, data interface{}) (Event, error) {
	if data == nil {
		return Event{Name: name}, nil
	}
	b, err := json.Marshal(data)
	if err != nil {
		return Event{}, err
	}
	return Event{Name: name, Data: b}, nil
}

// ErrorEvent builds the scoped error event sent back to one connection.
func ErrorEvent(message string) Event {
	ev, _ := NewEvent(EventError, ErrorPayload{Message: message})
	return ev
}

type ErrorPayload struct {
	Message string `json:"message"`
}

// TripPayload is the body of join/leave requests and confirmations.
type TripPayload struct {
	TripID string `json:"tripId"`
}

// LocationUpdate is the body of a client location-update.
type LocationUpdate struct {
	TripID    string   `json:"tripId"`
	Latitude  *float64 `json:"latitude"`
	Longitude *float64 `json:"longitude"`
	Speed     *float64 `json:"speed,omitempty"`
	Heading   *float64 `json:"heading,omitempty"`
}

// TripRoom names the room of a trip.
func TripRoom(tripID primitive.ObjectID) string { return "trip:" + tripID.Hex() }

// InboxRoom names the private room of a user.
func InboxRoom(userID primitive.ObjectID) string { return "user:" + userID.Hex() }
