// Package access holds the authorization predicates consulted by every REST
// handler and realtime event. Each predicate is a pure function of the acting
// principal and an already-loaded resource; none of them touch the store.
package access

import (
	"time"

	"github.com/ukydev/school-bus-tracker/internal/models"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// TripAction names an operation gated by CanActOnTrip.
type TripAction string

const (
	ActionCreate         TripAction = "create"
	ActionStart          TripAction = "start"
	ActionEnd            TripAction = "end"
	ActionMarkAttendance TripAction = "markAttendance"
	ActionCancel         TripAction = "cancel"
	ActionReportLocation TripAction = "reportLocation"
)

// MessagingWindow is how far back a shared trip still links a driver and a parent.
const MessagingWindow = 7 * 24 * time.Hour

// CanViewTrip: admins see every trip, drivers see trips assigned to them,
// parents see trips with one of their children on the attendance list.
func CanViewTrip(p models.Principal, t *models.TripDetail) bool {
	if t == nil {
		return false
	}
	switch p.Role {
	case models.RoleAdmin:
		return true
	case models.RoleDriver:
		return !p.UserID.IsZero() && t.DriverUserID == p.UserID
	case models.RoleParent:
		return !p.UserID.IsZero() && len(t.RidersOf(p.UserID)) > 0
	}
	return false
}

// CanJoinTripRoom gates realtime subscription to a trip. It is the same
// decision as REST read access.
func CanJoinTripRoom(p models.Principal, t *models.TripDetail) bool {
	return CanViewTrip(p, t)
}

// CanActOnTrip gates state transitions and attendance marking.
func CanActOnTrip(p models.Principal, t *models.TripDetail, action TripAction) bool {
	switch action {
	case ActionCreate, ActionCancel:
		return p.Role == models.RoleAdmin
	case ActionStart, ActionEnd, ActionMarkAttendance, ActionReportLocation:
		return p.Role == models.RoleDriver && CanViewTrip(p, t)
	}
	return false
}

// CanMessage decides whether sender may message receiver. shared holds the
// trips linking the pair (only consulted for DRIVER<->PARENT); a trip links
// them if it is in progress or its date is not before since.
func CanMessage(sender, receiver models.Principal, shared []models.TripDetail, since time.Time) bool {
	if sender.UserID.IsZero() || receiver.UserID.IsZero() || sender.UserID == receiver.UserID {
		return false
	}
	if sender.Role == models.RoleAdmin || receiver.Role == models.RoleAdmin {
		return models.IsValidRole(sender.Role) && models.IsValidRole(receiver.Role)
	}
	switch {
	case sender.Role == models.RoleDriver && receiver.Role == models.RoleParent:
		return LinkedByTrip(sender.UserID, receiver.UserID, shared, since)
	case sender.Role == models.RoleParent && receiver.Role == models.RoleDriver:
		return LinkedByTrip(receiver.UserID, sender.UserID, shared, since)
	}
	return false
}

// LinkedByTrip reports whether some trip assigned to the driver carries a
// child of the parent and is active or recent.
func LinkedByTrip(driverUserID, parentUserID primitive.ObjectID, trips []models.TripDetail, since time.Time) bool {
	for i := range trips {
		t := &trips[i]
		if t.DriverUserID != driverUserID || len(t.RidersOf(parentUserID)) == 0 {
			continue
		}
		if t.Status == models.TripInProgress || !t.TripDate.Before(since) {
			return true
		}
	}
	return false
}

// FeedbackDecision is the outcome of CanSubmitFeedback.
type FeedbackDecision int

const (
	FeedbackAllowed FeedbackDecision = iota
	FeedbackNotParent
	FeedbackNoChildOnTrip
	FeedbackStudentNotOnTrip
	FeedbackDuplicate
)

// Allowed reports whether the decision permits submission.
func (d FeedbackDecision) Allowed() bool { return d == FeedbackAllowed }

// CanSubmitFeedback: the parent needs a child on the trip; a named student
// must be one of those children; and no feedback may exist yet for the
// (trip, parent, student) triple.
func CanSubmitFeedback(p models.Principal, t *models.TripDetail, studentID *primitive.ObjectID, exists bool) FeedbackDecision {
	if p.Role != models.RoleParent {
		return FeedbackNotParent
	}
	if t == nil {
		return FeedbackNoChildOnTrip
	}
	mine := t.RidersOf(p.UserID)
	if len(mine) == 0 {
		return FeedbackNoChildOnTrip
	}
	if studentID != nil {
		found := false
		for _, r := range mine {
			if r.StudentID == *studentID {
				found = true
				break
			}
		}
		if !found {
			return FeedbackStudentNotOnTrip
		}
	}
	if exists {
		return FeedbackDuplicate
	}
	return FeedbackAllowed
}

// CanSeeStudentOnTrip narrows trip-scoped student rows (attendance,
// feedback) for parents to their own children. Other viewers see all rows.
func CanSeeStudentOnTrip(p models.Principal, t *models.TripDetail, studentID primitive.ObjectID) bool {
	if !CanViewTrip(p, t) {
		return false
	}
	if p.Role != models.RoleParent {
		return true
	}
	for _, r := range t.RidersOf(p.UserID) {
		if r.StudentID == studentID {
			return true
		}
	}
	return false
}

// CanManageStudent: admins manage every student, parents manage the students
// whose parent profile belongs to them.
func CanManageStudent(p models.Principal, ownerUserID *primitive.ObjectID) bool {
	switch p.Role {
	case models.RoleAdmin:
		return true
	case models.RoleParent:
		return ownerUserID != nil && *ownerUserID == p.UserID
	}
	return false
}

// TripScopeFor returns the narrowing filter for trip listings. ok is false
// for principals that may not list trips at all.
func TripScopeFor(p models.Principal) (scope models.TripScope, ok bool) {
	switch p.Role {
	case models.RoleAdmin:
		return models.TripScope{}, true
	case models.RoleDriver:
		id := p.UserID
		return models.TripScope{DriverUserID: &id}, true
	case models.RoleParent:
		id := p.UserID
		return models.TripScope{ParentUserID: &id}, true
	}
	return models.TripScope{}, false
}
