package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/ukydev/school-bus-tracker/internal/apperr"
	"github.com/ukydev/school-bus-tracker/internal/models"
	"github.com/ukydev/school-bus-tracker/internal/tracking"
)

// LocationHandler is the HTTP fallback for location ingestion plus the
// history reads.
type LocationHandler struct {
	tracking *tracking.Service
}

func NewLocationHandler(svc *tracking.Service) *LocationHandler {
	return &LocationHandler{tracking: svc}
}

// locationRequest is the REST body for one sample. It carries the same
// fields as the realtime location-update event, keyed in snake_case like the
// rest of the REST API. Numbers stay raw so a bad value is reported only
// after the role and trip checks.
type locationRequest struct {
	TripID    string          `json:"trip_id"`
	Latitude  json.RawMessage `json:"latitude"`
	Longitude json.RawMessage `json:"longitude"`
	Speed     json.RawMessage `json:"speed,omitempty"`
	Heading   json.RawMessage `json:"heading,omitempty"`
}

// Submit stores one sample for the caller's active trip.
func (h *LocationHandler) Submit(w http.ResponseWriter, r *http.Request) {
	p, err := principal(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	var req locationRequest
	if err := readJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	in := tracking.SubmissionFromJSON(req.TripID, req.Latitude, req.Longitude, req.Speed, req.Heading)
	sample, err := h.tracking.Submit(r.Context(), p, in)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, sample)
}

// History returns recent samples, newest first.
func (h *LocationHandler) History(w http.ResponseWriter, r *http.Request) {
	p, err := principal(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	tripID, err := idParam(r, "tripId")
	if err != nil {
		writeError(w, r, apperr.NotFoundf("trip not found"))
		return
	}

	samples, err := h.tracking.History(r.Context(), p, tripID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if samples == nil {
		samples = []models.LocationSample{}
	}
	writeJSON(w, http.StatusOK, samples)
}

func (h *LocationHandler) Latest(w http.ResponseWriter, r *http.Request) {
	p, err := principal(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	tripID, err := idParam(r, "tripId")
	if err != nil {
		writeError(w, r, apperr.NotFoundf("trip not found"))
		return
	}

	sample, err := h.tracking.Latest(r.Context(), p, tripID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sample)
}
