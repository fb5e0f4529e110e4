package handlers

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/ukydev/school-bus-tracker/internal/apperr"
	"github.com/ukydev/school-bus-tracker/internal/db"
	"github.com/ukydev/school-bus-tracker/internal/models"
)

// AdminStore is the fleet and directory data behind /admin.
type AdminStore interface {
	db.FleetCollection
	ListDrivers(ctx context.Context) ([]models.DriverWithUser, error)
	ListParents(ctx context.Context) ([]models.ParentWithUser, error)
}

// AdminHandler serves the administrator-only fleet and directory lists.
// Routing restricts every method to ADMIN.
type AdminHandler struct {
	store AdminStore
}

func NewAdminHandler(store AdminStore) *AdminHandler {
	return &AdminHandler{store: store}
}

func (h *AdminHandler) ListBuses(w http.ResponseWriter, r *http.Request) {
	buses, err := h.store.ListBuses(r.Context())
	respond(w, r, buses, err)
}

func (h *AdminHandler) CreateBus(w http.ResponseWriter, r *http.Request) {
	var bus models.Bus
	if err := readAndValidate(w, r, &bus); err != nil {
		writeError(w, r, err)
		return
	}
	bus.PlateNumber = strings.ToUpper(strings.TrimSpace(bus.PlateNumber))
	if bus.Status != "" && bus.Status != "active" && bus.Status != "inactive" {
		writeError(w, r, apperr.Invalidf("status must be active or inactive"))
		return
	}
	if err := h.store.InsertBus(r.Context(), &bus); err != nil {
		if errors.Is(err, db.ErrDuplicate) {
			writeError(w, r, apperr.Conflictf("plate number already registered"))
			return
		}
		writeError(w, r, apperr.Internalf(err))
		return
	}
	log.WithField("plate", bus.PlateNumber).Info("bus registered")
	writeJSON(w, http.StatusCreated, bus)
}

func (h *AdminHandler) ListRoutes(w http.ResponseWriter, r *http.Request) {
	routes, err := h.store.ListRoutes(r.Context())
	respond(w, r, routes, err)
}

func (h *AdminHandler) CreateRoute(w http.ResponseWriter, r *http.Request) {
	var route models.Route
	if err := readAndValidate(w, r, &route); err != nil {
		writeError(w, r, err)
		return
	}
	for _, stop := range route.Stops {
		if stop.Lat < -90 || stop.Lat > 90 || stop.Lng < -180 || stop.Lng > 180 {
			writeError(w, r, apperr.Invalidf("stop coordinates out of range"))
			return
		}
	}
	if err := h.store.InsertRoute(r.Context(), &route); err != nil {
		writeError(w, r, apperr.Internalf(err))
		return
	}
	writeJSON(w, http.StatusCreated, route)
}

func (h *AdminHandler) ListDrivers(w http.ResponseWriter, r *http.Request) {
	drivers, err := h.store.ListDrivers(r.Context())
	respond(w, r, drivers, err)
}

func (h *AdminHandler) ListParents(w http.ResponseWriter, r *http.Request) {
	parents, err := h.store.ListParents(r.Context())
	respond(w, r, parents, err)
}

func respond(w http.ResponseWriter, r *http.Request, v interface{}, err error) {
	if err != nil {
		writeError(w, r, apperr.Internalf(err))
		return
	}
	writeJSON(w, http.StatusOK, v)
}

// Pinger reports whether the store is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Health answers 200 while the store responds and 503 otherwise.
func Health(store Pinger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := store.Ping(ctx); err != nil {
			log.WithError(err).Warn("health check failed")
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}
