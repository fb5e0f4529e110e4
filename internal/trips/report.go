package trips

import (
	"context"
	"errors"

	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/ukydev/school-bus-tracker/internal/apperr"
	"github.com/ukydev/school-bus-tracker/internal/db"
	"github.com/ukydev/school-bus-tracker/internal/models"
)

// Report is the data handed to the external report generator.
type Report struct {
	Trip          models.TripDetail      `json:"trip"`
	Attendance    []models.Attendance    `json:"attendance"`
	Present       int                    `json:"present"`
	Absent        int                    `json:"absent"`
	SampleCount   int64                  `json:"sample_count"`
	FirstSample   *models.LocationSample `json:"first_sample,omitempty"`
	LastSample    *models.LocationSample `json:"last_sample,omitempty"`
	FeedbackCount int                    `json:"feedback_count"`
	AverageRating float64                `json:"average_rating"`
}

// Report assembles the report model of a trip. Attendance and feedback are
// narrowed the same way their list endpoints are.
func (s *Service) Report(ctx context.Context, p models.Principal, tripID primitive.ObjectID) (*Report, error) {
	trip, err := s.GetTrip(ctx, p, tripID)
	if err != nil {
		return nil, err
	}
	r := &Report{Trip: *trip}

	if r.Attendance, err = s.visibleAttendance(ctx, p, trip); err != nil {
		return nil, err
	}
	for _, a := range r.Attendance {
		switch a.Status {
		case models.AttendancePresent:
			r.Present++
		case models.AttendanceAbsent:
			r.Absent++
		}
	}

	if r.SampleCount, err = s.store.CountLocations(ctx, tripID); err != nil {
		return nil, apperr.Internalf(err)
	}
	if r.SampleCount > 0 {
		if r.FirstSample, err = optional(s.store.FirstLocation(ctx, tripID)); err != nil {
			return nil, err
		}
		if r.LastSample, err = optional(s.store.LatestLocation(ctx, tripID)); err != nil {
			return nil, err
		}
	}

	feedback, err := s.visibleFeedback(ctx, p, tripID)
	if err != nil {
		return nil, err
	}
	r.FeedbackCount = len(feedback)
	if r.FeedbackCount > 0 {
		sum := 0
		for _, fb := range feedback {
			sum += fb.Rating
		}
		r.AverageRating = float64(sum) / float64(r.FeedbackCount)
	}
	return r, nil
}

func optional(sample *models.LocationSample, err error) (*models.LocationSample, error) {
	if errors.Is(err, db.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, apperr.Internalf(err)
	}
	return sample, nil
}
