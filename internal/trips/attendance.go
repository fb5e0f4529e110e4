package trips

import (
	"context"
	"errors"

	log "github.com/sirupsen/logrus"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/ukydev/school-bus-tracker/internal/access"
	"github.com/ukydev/school-bus-tracker/internal/apperr"
	"github.com/ukydev/school-bus-tracker/internal/db"
	"github.com/ukydev/school-bus-tracker/internal/models"
	"github.com/ukydev/school-bus-tracker/internal/realtime"
)

// AttendanceUpdate is the payload of attendance-updated.
type AttendanceUpdate struct {
	TripID    string                  `json:"tripId"`
	StudentID string                  `json:"studentId"`
	Status    models.AttendanceStatus `json:"status"`
}

// MarkAttendance records whether a student on the trip boarded. Only the
// trip's driver may mark, and never on a cancelled trip. Re-marking a student
// replaces the earlier row.
func (s *Service) MarkAttendance(ctx context.Context, p models.Principal, tripID primitive.ObjectID, req models.AttendanceRequest) (*models.Attendance, error) {
	trip, err := s.GetTrip(ctx, p, tripID)
	if err != nil {
		return nil, err
	}
	if !access.CanActOnTrip(p, trip, access.ActionMarkAttendance) {
		return nil, apperr.Forbiddenf("only the trip's driver may mark attendance")
	}
	if trip.Status == models.TripCancelled {
		return nil, apperr.Conflictf("trip is cancelled")
	}
	if req.Status != models.AttendancePresent && req.Status != models.AttendanceAbsent {
		return nil, apperr.Invalidf("status must be PRESENT or ABSENT")
	}
	studentID, err := primitive.ObjectIDFromHex(req.StudentID)
	if err != nil || !trip.HasStudent(studentID) {
		return nil, apperr.Invalidf("student is not on this trip")
	}

	row, err := s.store.UpsertAttendance(ctx, models.Attendance{
		TripID:    tripID,
		StudentID: studentID,
		Status:    req.Status,
		Timestamp: s.now(),
		MarkedBy:  p.UserID,
	})
	if err != nil {
		log.WithError(err).WithField("trip_id", tripID.Hex()).Error("upsert attendance")
		return nil, apperr.Internalf(err)
	}
	s.publish(ctx, tripID, realtime.EventAttendanceUpdated, AttendanceUpdate{
		TripID:    tripID.Hex(),
		StudentID: studentID.Hex(),
		Status:    row.Status,
	})
	return row, nil
}

// ListAttendance returns the attendance rows the caller may see. Parents only
// see rows for their own children.
func (s *Service) ListAttendance(ctx context.Context, p models.Principal, tripID primitive.ObjectID) ([]models.Attendance, error) {
	trip, err := s.GetTrip(ctx, p, tripID)
	if err != nil {
		return nil, err
	}
	return s.visibleAttendance(ctx, p, trip)
}

func (s *Service) visibleAttendance(ctx context.Context, p models.Principal, trip *models.TripDetail) ([]models.Attendance, error) {
	rows, err := s.store.ListAttendance(ctx, trip.ID)
	if err != nil {
		return nil, apperr.Internalf(err)
	}
	out := rows[:0]
	for _, r := range rows {
		if access.CanSeeStudentOnTrip(p, trip, r.StudentID) {
			out = append(out, r)
		}
	}
	return out, nil
}

// SubmitFeedback stores a parent's rating of a trip their child rides, at
// most once per (trip, parent, student).
func (s *Service) SubmitFeedback(ctx context.Context, p models.Principal, tripID primitive.ObjectID, req models.FeedbackRequest) (*models.TripFeedback, error) {
	if p.Role != models.RoleParent {
		return nil, apperr.Forbiddenf("only parents may leave feedback")
	}
	if req.Rating < 1 || req.Rating > 5 {
		return nil, apperr.Invalidf("rating must be between 1 and 5")
	}
	var studentID *primitive.ObjectID
	if req.StudentID != "" {
		id, err := primitive.ObjectIDFromHex(req.StudentID)
		if err != nil {
			return nil, apperr.Invalidf("student_id must be a valid id")
		}
		studentID = &id
	}

	trip, err := s.GetTrip(ctx, p, tripID)
	if err != nil {
		return nil, err
	}
	parent, err := s.store.FindParentByUserID(ctx, p.UserID)
	if errors.Is(err, db.ErrNotFound) {
		return nil, apperr.Forbiddenf("parent profile missing")
	}
	if err != nil {
		return nil, apperr.Internalf(err)
	}
	exists, err := s.store.FeedbackExists(ctx, tripID, parent.ID, studentID)
	if err != nil {
		return nil, apperr.Internalf(err)
	}

	switch access.CanSubmitFeedback(p, trip, studentID, exists) {
	case access.FeedbackAllowed:
	case access.FeedbackDuplicate:
		return nil, apperr.Conflictf("feedback already submitted")
	case access.FeedbackStudentNotOnTrip:
		return nil, apperr.Forbiddenf("student is not your child on this trip")
	default:
		return nil, apperr.Forbiddenf("none of your children ride this trip")
	}

	fb := &models.TripFeedback{
		TripID:    tripID,
		ParentID:  parent.ID,
		StudentID: studentID,
		Rating:    req.Rating,
		Comment:   req.Comment,
		CreatedAt: s.now(),
	}
	if err := s.store.InsertFeedback(ctx, fb); err != nil {
		if errors.Is(err, db.ErrDuplicate) {
			return nil, apperr.Conflictf("feedback already submitted")
		}
		log.WithError(err).WithField("trip_id", tripID.Hex()).Error("insert feedback")
		return nil, apperr.Internalf(err)
	}
	log.WithFields(log.Fields{"trip_id": tripID.Hex(), "rating": fb.Rating}).Info("feedback received")
	return fb, nil
}

// ListFeedback returns feedback on a trip. Parents only see their own.
func (s *Service) ListFeedback(ctx context.Context, p models.Principal, tripID primitive.ObjectID) ([]models.TripFeedback, error) {
	if _, err := s.GetTrip(ctx, p, tripID); err != nil {
		return nil, err
	}
	return s.visibleFeedback(ctx, p, tripID)
}

func (s *Service) visibleFeedback(ctx context.Context, p models.Principal, tripID primitive.ObjectID) ([]models.TripFeedback, error) {
	rows, err := s.store.ListFeedback(ctx, tripID)
	if err != nil {
		return nil, apperr.Internalf(err)
	}
	if p.Role != models.RoleParent {
		return rows, nil
	}
	parent, err := s.store.FindParentByUserID(ctx, p.UserID)
	if errors.Is(err, db.ErrNotFound) {
		return []models.TripFeedback{}, nil
	}
	if err != nil {
		return nil, apperr.Internalf(err)
	}
	out := rows[:0]
	for _, r := range rows {
		if r.ParentID == parent.ID {
			out = append(out, r)
		}
	}
	return out, nil
}
