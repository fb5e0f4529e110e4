package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// LocationSample is one GPS fix reported by the driver of an active trip.
// Samples are append-only. CapturedAt is assigned by the store and Seq is a
// per-trip counter, both strictly increasing in write order.
type LocationSample struct {
	ID         primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	TripID     primitive.ObjectID `bson:"trip_id" json:"trip_id"`
	DriverID   primitive.ObjectID `bson:"driver_id" json:"driver_id"`
	Lat        float64            `bson:"lat" json:"lat"`
	Lng        float64            `bson:"lng" json:"lng"`
	Speed      *float64           `bson:"speed,omitempty" json:"speed,omitempty"`
	Heading    *float64           `bson:"heading,omitempty" json:"heading,omitempty"`
	Seq        int64              `bson:"seq" json:"seq"`
	CapturedAt time.Time          `bson:"captured_at" json:"captured_at"`
}
