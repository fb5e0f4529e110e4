package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Bus represents a school bus.
type Bus struct {
	ID          primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	PlateNumber string             `bson:"plate_number" json:"plate_number" validate:"required"`
	Model       string             `bson:"model" json:"model"`
	Capacity    int                `bson:"capacity" json:"capacity" validate:"gte=0"`
	Status      string             `bson:"status" json:"status"` // "active" or "inactive"
	CreatedAt   time.Time          `bson:"created_at" json:"created_at"`
}

// Route is a named sequence of stops a bus follows.
type Route struct {
	ID          primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	Name        string             `bson:"name" json:"name" validate:"required"`
	Description string             `bson:"description" json:"description"`
	Stops       []Location         `bson:"stops" json:"stops"`
	CreatedAt   time.Time          `bson:"created_at" json:"created_at"`
}
