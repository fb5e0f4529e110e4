package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Student is a child who may ride trips. ParentID references a Parent profile.
type Student struct {
	ID              primitive.ObjectID  `json:"id" bson:"_id,omitempty"`
	FirstName       string              `json:"first_name" bson:"first_name"`
	LastName        string              `json:"last_name" bson:"last_name"`
	AdmissionNumber string              `json:"admission_number" bson:"admission_number"`
	Grade           string              `json:"grade" bson:"grade"`
	ParentID        *primitive.ObjectID `json:"parent_id,omitempty" bson:"parent_id,omitempty"`
	Pickup          *Location           `json:"pickup,omitempty" bson:"pickup,omitempty"`
	CreatedAt       time.Time           `json:"created_at" bson:"created_at"`
	UpdatedAt       time.Time           `json:"updated_at" bson:"updated_at"`
}

// StudentRequest is the create/update payload for students. ParentID is only
// honoured for admins; parents always register their own children.
type StudentRequest struct {
	FirstName       string    `json:"first_name" validate:"required,max=80"`
	LastName        string    `json:"last_name" validate:"required,max=80"`
	AdmissionNumber string    `json:"admission_number" validate:"required,max=40"`
	Grade           string    `json:"grade" validate:"max=20"`
	ParentID        string    `json:"parent_id,omitempty" validate:"omitempty,len=24,hexadecimal"`
	Pickup          *Location `json:"pickup,omitempty"`
}
