package handlers

import (
	"context"
	"errors"
	"net/http"

	log "github.com/sirupsen/logrus"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/ukydev/school-bus-tracker/internal/access"
	"github.com/ukydev/school-bus-tracker/internal/apperr"
	"github.com/ukydev/school-bus-tracker/internal/db"
	"github.com/ukydev/school-bus-tracker/internal/models"
)

// StudentStore is what the student endpoints read and write.
type StudentStore interface {
	db.StudentCollection
	FindParentByID(ctx context.Context, id primitive.ObjectID) (*models.Parent, error)
	FindParentByUserID(ctx context.Context, userID primitive.ObjectID) (*models.Parent, error)
	ListTrips(ctx context.Context, scope models.TripScope, filter models.TripFilter) ([]models.TripDetail, error)
}

// StudentHandler serves student records. Admins see and manage all of them,
// parents their own children, drivers read the children on their trips.
type StudentHandler struct {
	store StudentStore
}

func NewStudentHandler(store StudentStore) *StudentHandler {
	return &StudentHandler{store: store}
}

func (h *StudentHandler) List(w http.ResponseWriter, r *http.Request) {
	p, err := principal(r)
	if err != nil {
		writeError(w, r, err)
		return
	}

	ctx := r.Context()
	var students []models.Student
	switch p.Role {
	case models.RoleAdmin:
		students, err = h.store.ListStudents(ctx, nil)
	case models.RoleParent:
		var parent *models.Parent
		if parent, err = h.store.FindParentByUserID(ctx, p.UserID); err == nil {
			students, err = h.store.ListStudents(ctx, &parent.ID)
		} else if errors.Is(err, db.ErrNotFound) {
			students, err = []models.Student{}, nil
		}
	case models.RoleDriver:
		students, err = h.driverStudents(ctx, p)
	default:
		err = apperr.Forbiddenf("role may not list students")
	}
	if err != nil {
		writeError(w, r, storeErr(err))
		return
	}
	writeJSON(w, http.StatusOK, students)
}

func (h *StudentHandler) driverStudents(ctx context.Context, p models.Principal) ([]models.Student, error) {
	scope, _ := access.TripScopeFor(p)
	trips, err := h.store.ListTrips(ctx, scope, models.TripFilter{})
	if err != nil {
		return nil, err
	}
	seen := make(map[primitive.ObjectID]bool)
	var ids []primitive.ObjectID
	for _, t := range trips {
		for _, id := range t.StudentIDs {
			if !seen[id] {
				seen[id] = true
				ids = append(ids, id)
			}
		}
	}
	if len(ids) == 0 {
		return []models.Student{}, nil
	}
	return h.store.FindStudentsByIDs(ctx, ids)
}

// Get returns one student. Students outside the caller's reach are reported
// as missing.
func (h *StudentHandler) Get(w http.ResponseWriter, r *http.Request) {
	p, err := principal(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	id, err := idParam(r, "id")
	if err != nil {
		writeError(w, r, apperr.NotFoundf("student not found"))
		return
	}

	ctx := r.Context()
	student, err := h.store.FindStudentByID(ctx, id)
	if err != nil {
		writeError(w, r, storeErr(err))
		return
	}

	visible := false
	if p.Role == models.RoleDriver {
		mine, err := h.driverStudents(ctx, p)
		if err != nil {
			writeError(w, r, apperr.Internalf(err))
			return
		}
		for _, s := range mine {
			visible = visible || s.ID == id
		}
	} else {
		owner, err := h.ownerOf(ctx, student)
		if err != nil {
			writeError(w, r, apperr.Internalf(err))
			return
		}
		visible = access.CanManageStudent(p, owner)
	}
	if !visible {
		writeError(w, r, apperr.NotFoundf("student not found"))
		return
	}
	writeJSON(w, http.StatusOK, student)
}

// Create registers a student. Parents always register their own children;
// admins may attach any parent profile.
func (h *StudentHandler) Create(w http.ResponseWriter, r *http.Request) {
	p, err := principal(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if p.Role != models.RoleAdmin && p.Role != models.RoleParent {
		writeError(w, r, apperr.Forbiddenf("only administrators and parents may register students"))
		return
	}
	var req models.StudentRequest
	if err := readAndValidate(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	ctx := r.Context()
	parentID, err := h.parentFor(ctx, p, req.ParentID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	student := &models.Student{
		FirstName:       req.FirstName,
		LastName:        req.LastName,
		AdmissionNumber: req.AdmissionNumber,
		Grade:           req.Grade,
		ParentID:        parentID,
		Pickup:          req.Pickup,
	}
	if err := h.store.InsertStudent(ctx, student); err != nil {
		writeError(w, r, studentWriteErr(err))
		return
	}

	log.WithFields(log.Fields{"student_id": student.ID.Hex(), "by": p.UserID.Hex()}).Info("student registered")
	writeJSON(w, http.StatusCreated, student)
}

// Update replaces a student's details. Only admins may move a student to
// another parent.
func (h *StudentHandler) Update(w http.ResponseWriter, r *http.Request) {
	p, err := principal(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	id, err := idParam(r, "id")
	if err != nil {
		writeError(w, r, apperr.NotFoundf("student not found"))
		return
	}
	var req models.StudentRequest
	if err := readAndValidate(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	ctx := r.Context()
	student, err := h.store.FindStudentByID(ctx, id)
	if err != nil {
		writeError(w, r, storeErr(err))
		return
	}
	owner, err := h.ownerOf(ctx, student)
	if err != nil {
		writeError(w, r, apperr.Internalf(err))
		return
	}
	if !access.CanManageStudent(p, owner) {
		writeError(w, r, apperr.Forbiddenf("you may not manage this student"))
		return
	}

	if p.Role == models.RoleAdmin && req.ParentID != "" {
		parentID, err := h.parentFor(ctx, p, req.ParentID)
		if err != nil {
			writeError(w, r, err)
			return
		}
		student.ParentID = parentID
	}
	student.FirstName = req.FirstName
	student.LastName = req.LastName
	student.AdmissionNumber = req.AdmissionNumber
	student.Grade = req.Grade
	student.Pickup = req.Pickup

	if err := h.store.UpdateStudent(ctx, student); err != nil {
		writeError(w, r, studentWriteErr(err))
		return
	}
	writeJSON(w, http.StatusOK, student)
}

// parentFor resolves the parent profile a new student belongs to.
func (h *StudentHandler) parentFor(ctx context.Context, p models.Principal, requested string) (*primitive.ObjectID, error) {
	if p.Role == models.RoleParent {
		parent, err := h.store.FindParentByUserID(ctx, p.UserID)
		if errors.Is(err, db.ErrNotFound) {
			return nil, apperr.Forbiddenf("parent profile missing")
		}
		if err != nil {
			return nil, apperr.Internalf(err)
		}
		return &parent.ID, nil
	}
	if requested == "" {
		return nil, nil
	}
	id, err := primitive.ObjectIDFromHex(requested)
	if err != nil {
		return nil, apperr.Invalidf("parent_id must be a valid id")
	}
	if _, err := h.store.FindParentByID(ctx, id); err != nil {
		if errors.Is(err, db.ErrNotFound) {
			return nil, apperr.Invalidf("unknown parent")
		}
		return nil, apperr.Internalf(err)
	}
	return &id, nil
}

// ownerOf returns the user id of the student's parent, or nil.
func (h *StudentHandler) ownerOf(ctx context.Context, s *models.Student) (*primitive.ObjectID, error) {
	if s.ParentID == nil {
		return nil, nil
	}
	parent, err := h.store.FindParentByID(ctx, *s.ParentID)
	if errors.Is(err, db.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &parent.UserID, nil
}

func storeErr(err error) error {
	var ae *apperr.Error
	switch {
	case errors.As(err, &ae):
		return err
	case errors.Is(err, db.ErrNotFound):
		return apperr.NotFoundf("not found")
	}
	return apperr.Internalf(err)
}

func studentWriteErr(err error) error {
	if errors.Is(err, db.ErrDuplicate) {
		return apperr.Conflictf("admission number already registered")
	}
	return storeErr(err)
}
