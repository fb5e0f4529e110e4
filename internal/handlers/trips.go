package handlers

import (
	"net/http"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/ukydev/school-bus-tracker/internal/apperr"
	"github.com/ukydev/school-bus-tracker/internal/models"
	"github.com/ukydev/school-bus-tracker/internal/trips"
)

// TripHandler serves trips, their transitions, attendance and feedback.
type TripHandler struct {
	trips *trips.Service
}

func NewTripHandler(svc *trips.Service) *TripHandler {
	return &TripHandler{trips: svc}
}

// List returns the trips the caller may see, optionally filtered by
// ?status= and ?date=YYYY-MM-DD.
func (h *TripHandler) List(w http.ResponseWriter, r *http.Request) {
	p, err := principal(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	filter, err := tripFilter(r)
	if err != nil {
		writeError(w, r, err)
		return
	}

	list, err := h.trips.ListTrips(r.Context(), p, filter)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if list == nil {
		list = []models.TripDetail{}
	}
	writeJSON(w, http.StatusOK, list)
}

func tripFilter(r *http.Request) (models.TripFilter, error) {
	var filter models.TripFilter
	q := r.URL.Query()
	if s := strings.ToUpper(strings.TrimSpace(q.Get("status"))); s != "" {
		status := models.TripStatus(s)
		if !models.IsValidTripStatus(status) {
			return filter, apperr.Invalidf("unknown status " + s)
		}
		filter.Status = status
	}
	if d := strings.TrimSpace(q.Get("date")); d != "" {
		date, err := time.Parse("2006-01-02", d)
		if err != nil {
			return filter, apperr.Invalidf("date must be YYYY-MM-DD")
		}
		filter.Date = &date
	}
	return filter, nil
}

// Create schedules a trip
func (h *TripHandler) Create(w http.ResponseWriter, r *http.Request) {
	p, err := principal(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	var req models.CreateTripRequest
	if err := readAndValidate(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	trip, err := h.trips.CreateTrip(r.Context(), p, req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, trip)
}

// Get returns one trip. Trips the caller cannot view are reported as missing.
func (h *TripHandler) Get(w http.ResponseWriter, r *http.Request) {
	h.withTrip(w, r, func(p models.Principal, id primitive.ObjectID) (interface{}, error) {
		return h.trips.GetTrip(r.Context(), p, id)
	})
}

func (h *TripHandler) Start(w http.ResponseWriter, r *http.Request) {
	h.withTrip(w, r, func(p models.Principal, id primitive.ObjectID) (interface{}, error) {
		return h.trips.Start(r.Context(), p, id)
	})
}

func (h *TripHandler) End(w http.ResponseWriter, r *http.Request) {
	h.withTrip(w, r, func(p models.Principal, id primitive.ObjectID) (interface{}, error) {
		return h.trips.End(r.Context(), p, id)
	})
}

func (h *TripHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	h.withTrip(w, r, func(p models.Principal, id primitive.ObjectID) (interface{}, error) {
		return h.trips.Cancel(r.Context(), p, id)
	})
}

// ListAttendance returns the attendance rows the caller may see.
func (h *TripHandler) ListAttendance(w http.ResponseWriter, r *http.Request) {
	h.withTrip(w, r, func(p models.Principal, id primitive.ObjectID) (interface{}, error) {
		rows, err := h.trips.ListAttendance(r.Context(), p, id)
		if rows == nil {
			rows = []models.Attendance{}
		}
		return rows, err
	})
}

// MarkAttendance records PRESENT or ABSENT for a student on the trip. The
// body is only shape-checked here so the service decides which failure wins.
func (h *TripHandler) MarkAttendance(w http.ResponseWriter, r *http.Request) {
	var req models.AttendanceRequest
	if err := readJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	h.withTrip(w, r, func(p models.Principal, id primitive.ObjectID) (interface{}, error) {
		return h.trips.MarkAttendance(r.Context(), p, id, req)
	})
}

func (h *TripHandler) SubmitFeedback(w http.ResponseWriter, r *http.Request) {
	var req models.FeedbackRequest
	if err := readJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	h.withTripStatus(w, r, http.StatusCreated, func(p models.Principal, id primitive.ObjectID) (interface{}, error) {
		return h.trips.SubmitFeedback(r.Context(), p, id, req)
	})
}

func (h *TripHandler) ListFeedback(w http.ResponseWriter, r *http.Request) {
	h.withTrip(w, r, func(p models.Principal, id primitive.ObjectID) (interface{}, error) {
		rows, err := h.trips.ListFeedback(r.Context(), p, id)
		if rows == nil {
			rows = []models.TripFeedback{}
		}
		return rows, err
	})
}

// Report returns the data the PDF generator renders.
func (h *TripHandler) Report(w http.ResponseWriter, r *http.Request) {
	h.withTrip(w, r, func(p models.Principal, id primitive.ObjectID) (interface{}, error) {
		return h.trips.Report(r.Context(), p, id)
	})
}

func (h *TripHandler) withTrip(w http.ResponseWriter, r *http.Request, fn func(models.Principal, primitive.ObjectID) (interface{}, error)) {
	h.withTripStatus(w, r, http.StatusOK, fn)
}

// withTripStatus resolves the caller and the {id} parameter, runs fn and
// writes its result with status.
func (h *TripHandler) withTripStatus(w http.ResponseWriter, r *http.Request, status int, fn func(models.Principal, primitive.ObjectID) (interface{}, error)) {
	p, err := principal(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	id, err := idParam(r, "id")
	if err != nil {
		writeError(w, r, apperr.NotFoundf("trip not found"))
		return
	}
	out, err := fn(p, id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, status, out)
}
