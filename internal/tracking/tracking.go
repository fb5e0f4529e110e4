// Package tracking ingests driver GPS samples for active trips, persists
// them and republishes each one into the trip's room.
package tracking

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"math"
	"time"

	log "github.com/sirupsen/logrus"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/ukydev/school-bus-tracker/internal/access"
	"github.com/ukydev/school-bus-tracker/internal/apperr"
	"github.com/ukydev/school-bus-tracker/internal/db"
	"github.com/ukydev/school-bus-tracker/internal/metrics"
	"github.com/ukydev/school-bus-tracker/internal/models"
	"github.com/ukydev/school-bus-tracker/internal/realtime"
)

// DefaultHistoryLimit caps ListRecent.
const DefaultHistoryLimit = 100

// Store is the slice of the trip store this package needs.
type Store interface {
	FindTripByID(ctx context.Context, id primitive.ObjectID) (*models.TripDetail, error)
	AppendLocation(ctx context.Context, sample models.LocationSample) (*models.LocationSample, error)
	ListRecentLocations(ctx context.Context, tripID primitive.ObjectID, limit int) ([]models.LocationSample, error)
	LatestLocation(ctx context.Context, tripID primitive.ObjectID) (*models.LocationSample, error)
}

// Submission is one sample as reported by a driver.
type Submission struct {
	TripID    string
	Latitude  *float64
	Longitude *float64
	Speed     *float64
	Heading   *float64

	// malformed is set when a raw value was not a JSON number.
	malformed bool
}

// SubmissionFromJSON builds a Submission from undecoded payload values. A
// value that is not a number is reported by Submit after the access checks.
func SubmissionFromJSON(tripID string, lat, lng, speed, heading json.RawMessage) Submission {
	in := Submission{TripID: tripID}
	for _, f := range []struct {
		raw json.RawMessage
		dst **float64
	}{
		{lat, &in.Latitude},
		{lng, &in.Longitude},
		{speed, &in.Speed},
		{heading, &in.Heading},
	} {
		v, ok := number(f.raw)
		if !ok {
			in.malformed = true
		}
		*f.dst = v
	}
	return in
}

// number decodes an optional JSON number. Absent and null are nil.
func number(raw json.RawMessage) (*float64, bool) {
	if len(raw) == 0 || bytes.Equal(bytes.TrimSpace(raw), []byte("null")) {
		return nil, true
	}
	var v float64
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, false
	}
	return &v, true
}

// Broadcast is the payload of location-broadcast.
type Broadcast struct {
	TripID    string    `json:"tripId"`
	Latitude  float64   `json:"latitude"`
	Longitude float64   `json:"longitude"`
	Speed     *float64  `json:"speed"`
	Heading   *float64  `json:"heading"`
	Timestamp time.Time `json:"timestamp"`
}

var errNotActive = apperr.Forbiddenf("trip is not active or not assigned to you")

type Service struct {
	store        Store
	pub          realtime.Publisher
	metrics      *metrics.Metrics
	historyLimit int
	locks        keyedMutex
}

func NewService(store Store, pub realtime.Publisher, m *metrics.Metrics, historyLimit int) *Service {
	if historyLimit <= 0 {
		historyLimit = DefaultHistoryLimit
	}
	return &Service{store: store, pub: pub, metrics: m, historyLimit: historyLimit}
}

// Submit validates, persists and broadcasts one sample. Checks run in order:
// the caller must be a driver; the trip must exist, be theirs and be in
// progress; the coordinates must be valid. The first failure wins.
func (s *Service) Submit(ctx context.Context, p models.Principal, in Submission) (*models.LocationSample, error) {
	if p.Role != models.RoleDriver {
		s.metrics.Location("forbidden")
		return nil, apperr.Forbiddenf("only drivers may report locations")
	}
	tripID, err := primitive.ObjectIDFromHex(in.TripID)
	if err != nil {
		s.metrics.Location("forbidden")
		return nil, errNotActive
	}
	trip, err := s.store.FindTripByID(ctx, tripID)
	if errors.Is(err, db.ErrNotFound) {
		s.metrics.Location("forbidden")
		return nil, errNotActive
	}
	if err != nil {
		log.WithError(err).WithField("trip_id", in.TripID).Error("load trip for location")
		return nil, apperr.Internalf(err)
	}
	if !access.CanActOnTrip(p, trip, access.ActionReportLocation) || trip.Status != models.TripInProgress {
		s.metrics.Location("forbidden")
		return nil, errNotActive
	}
	if in.malformed {
		s.metrics.Location("invalid")
		return nil, apperr.Invalidf("latitude, longitude, speed and heading must be numbers")
	}
	if err := validCoordinates(in.Latitude, in.Longitude); err != nil {
		s.metrics.Location("invalid")
		return nil, err
	}

	// Append and publish under one per-trip lock so broadcast order matches
	// the order samples were written.
	unlock := s.locks.Lock(tripID)
	defer unlock()

	sample, err := s.store.AppendLocation(ctx, models.LocationSample{
		TripID:   tripID,
		DriverID: trip.DriverID,
		Lat:      *in.Latitude,
		Lng:      *in.Longitude,
		Speed:    in.Speed,
		Heading:  in.Heading,
	})
	if errors.Is(err, db.ErrStatusMismatch) {
		s.metrics.Location("forbidden")
		return nil, errNotActive
	}
	if err != nil {
		log.WithError(err).WithField("trip_id", in.TripID).Error("append location")
		return nil, apperr.Internalf(err)
	}
	s.metrics.Location("accepted")

	ev, err := realtime.NewEvent(realtime.EventLocationBroadcast, Broadcast{
		TripID:    tripID.Hex(),
		Latitude:  sample.Lat,
		Longitude: sample.Lng,
		Speed:     sample.Speed,
		Heading:   sample.Heading,
		Timestamp: sample.CapturedAt,
	})
	if err == nil {
		err = s.pub.Publish(ctx, realtime.TripRoom(tripID), ev)
	}
	if err != nil {
		// the sample is durable; only the live notification is lost
		log.WithError(err).WithField("trip_id", in.TripID).Warn("location broadcast failed")
	}
	return sample, nil
}

// History returns the most recent samples of a trip the caller may view,
// newest first.
func (s *Service) History(ctx context.Context, p models.Principal, tripID primitive.ObjectID) ([]models.LocationSample, error) {
	if _, err := s.viewable(ctx, p, tripID); err != nil {
		return nil, err
	}
	samples, err := s.store.ListRecentLocations(ctx, tripID, s.historyLimit)
	if err != nil {
		return nil, apperr.Internalf(err)
	}
	return samples, nil
}

// Latest returns the newest sample of a trip the caller may view.
func (s *Service) Latest(ctx context.Context, p models.Principal, tripID primitive.ObjectID) (*models.LocationSample, error) {
	if _, err := s.viewable(ctx, p, tripID); err != nil {
		return nil, err
	}
	sample, err := s.store.LatestLocation(ctx, tripID)
	if errors.Is(err, db.ErrNotFound) {
		return nil, apperr.NotFoundf("no location reported yet")
	}
	if err != nil {
		return nil, apperr.Internalf(err)
	}
	return sample, nil
}

func (s *Service) viewable(ctx context.Context, p models.Principal, tripID primitive.ObjectID) (*models.TripDetail, error) {
	trip, err := s.store.FindTripByID(ctx, tripID)
	if errors.Is(err, db.ErrNotFound) {
		return nil, apperr.NotFoundf("trip not found")
	}
	if err != nil {
		return nil, apperr.Internalf(err)
	}
	if !access.CanViewTrip(p, trip) {
		return nil, apperr.NotFoundf("trip not found")
	}
	return trip, nil
}

func validCoordinates(lat, lng *float64) error {
	if lat == nil || lng == nil {
		return apperr.Invalidf("latitude and longitude are required")
	}
	if math.IsNaN(*lat) || math.IsNaN(*lng) || math.IsInf(*lat, 0) || math.IsInf(*lng, 0) {
		return apperr.Invalidf("latitude and longitude must be numbers")
	}
	if *lat < -90 || *lat > 90 || *lng < -180 || *lng > 180 {
		return apperr.Invalidf("latitude or longitude out of range")
	}
	return nil
}
