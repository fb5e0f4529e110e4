package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// AttendanceStatus records whether a student boarded.
type AttendanceStatus string

const (
	AttendancePresent AttendanceStatus = "PRESENT"
	AttendanceAbsent  AttendanceStatus = "ABSENT"
)

// Attendance is unique per (trip, student) and only written by the trip's driver.
type Attendance struct {
	ID        primitive.ObjectID `json:"id" bson:"_id,omitempty"`
	TripID    primitive.ObjectID `json:"trip_id" bson:"trip_id"`
	StudentID primitive.ObjectID `json:"student_id" bson:"student_id"`
	Status    AttendanceStatus   `json:"status" bson:"status"`
	Timestamp time.Time          `json:"timestamp" bson:"timestamp"`
	MarkedBy  primitive.ObjectID `json:"marked_by" bson:"marked_by"`
}

// AttendanceRequest is the driver payload for POST /trips/{id}/attendance.
type AttendanceRequest struct {
	StudentID string           `json:"student_id" validate:"required,len=24,hexadecimal"`
	Status    AttendanceStatus `json:"status" validate:"required,oneof=PRESENT ABSENT"`
}

// TripFeedback is a parent's rating of a trip, optionally about one child.
type TripFeedback struct {
	ID        primitive.ObjectID  `json:"id" bson:"_id,omitempty"`
	TripID    primitive.ObjectID  `json:"trip_id" bson:"trip_id"`
	ParentID  primitive.ObjectID  `json:"parent_id" bson:"parent_id"`
	StudentID *primitive.ObjectID `json:"student_id,omitempty" bson:"student_id"`
	Rating    int                 `json:"rating" bson:"rating"`
	Comment   string              `json:"comment,omitempty" bson:"comment,omitempty"`
	CreatedAt time.Time           `json:"created_at" bson:"created_at"`
}

// FeedbackRequest is the parent payload for POST /trips/{id}/feedback.
type FeedbackRequest struct {
	StudentID string `json:"student_id,omitempty" validate:"omitempty,len=24,hexadecimal"`
	Rating    int    `json:"rating" validate:"required,min=1,max=5"`
	Comment   string `json:"comment,omitempty" validate:"max=1000"`
}
