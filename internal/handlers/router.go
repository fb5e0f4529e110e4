package handlers

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/ukydev/school-bus-tracker/internal/auth"
	"github.com/ukydev/school-bus-tracker/internal/db"
	"github.com/ukydev/school-bus-tracker/internal/messaging"
	"github.com/ukydev/school-bus-tracker/internal/metrics"
	"github.com/ukydev/school-bus-tracker/internal/middleware"
	"github.com/ukydev/school-bus-tracker/internal/models"
	"github.com/ukydev/school-bus-tracker/internal/tracking"
	"github.com/ukydev/school-bus-tracker/internal/trips"
)

// Deps are the collaborators the HTTP surface is assembled from.
type Deps struct {
	Auth     *auth.Service
	Store    db.Store
	Trips    *trips.Service
	Tracking *tracking.Service
	Messages *messaging.Service
	Metrics  *metrics.Metrics

	// Realtime is mounted at /ws when set.
	Realtime http.Handler

	AllowAdminRegistration bool
	AuthRateLimitPerMin    int
	CORSOrigins            []string
}

// NewRouter wires middleware and every REST route under /api.
func NewRouter(d Deps) http.Handler {
	mux := chi.NewRouter()

	mux.Use(chimw.RequestID)
	mux.Use(middleware.Logger)
	mux.Use(middleware.Recovery)
	mux.Use(middleware.Metrics(d.Metrics))

	origins := d.CORSOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	mux.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"},
		ExposedHeaders: []string{"Link"},
		MaxAge:         300,
	}))

	mux.Use(chimw.Heartbeat("/ping"))
	mux.Get("/health", Health(d.Store))
	if d.Metrics != nil {
		mux.Handle("/metrics", d.Metrics.Handler())
	}
	if d.Realtime != nil {
		mux.Handle("/ws", d.Realtime)
	}

	authMW := middleware.NewAuthMiddleware(d.Auth)
	limiter := middleware.NewRateLimitMiddleware()

	authHandler := NewAuthHandler(d.Auth, d.Store, d.AllowAdminRegistration)
	tripHandler := NewTripHandler(d.Trips)
	locationHandler := NewLocationHandler(d.Tracking)
	messageHandler := NewMessageHandler(d.Messages)
	studentHandler := NewStudentHandler(d.Store)
	adminHandler := NewAdminHandler(d.Store)

	mux.Route("/api", func(r chi.Router) {
		r.Route("/auth", func(r chi.Router) {
			r.Group(func(r chi.Router) {
				r.Use(limiter.RateLimit(d.AuthRateLimitPerMin, time.Minute))
				r.Post("/login", authHandler.Login)
				r.Post("/register", authHandler.Register)
			})
			r.Group(func(r chi.Router) {
				r.Use(authMW.Authenticate)
				r.Get("/me", authHandler.GetProfile)
				r.Put("/me", authHandler.UpdateProfile)
				r.Post("/me/password", authHandler.ChangePassword)
			})
		})

		r.Group(func(r chi.Router) {
			r.Use(authMW.Authenticate)

			r.Route("/trips", func(r chi.Router) {
				r.Get("/", tripHandler.List)
				r.With(middleware.RequireRoles(models.RoleAdmin)).Post("/", tripHandler.Create)
				r.Get("/{id}", tripHandler.Get)
				r.Put("/{id}/start", tripHandler.Start)
				r.Put("/{id}/end", tripHandler.End)
				r.Put("/{id}/cancel", tripHandler.Cancel)
				r.Get("/{id}/attendance", tripHandler.ListAttendance)
				r.Post("/{id}/attendance", tripHandler.MarkAttendance)
				r.Get("/{id}/feedback", tripHandler.ListFeedback)
				r.Post("/{id}/feedback", tripHandler.SubmitFeedback)
				r.Get("/{id}/report", tripHandler.Report)
			})

			r.Route("/locations", func(r chi.Router) {
				r.Post("/", locationHandler.Submit)
				r.Get("/trip/{tripId}", locationHandler.History)
				r.Get("/trip/{tripId}/latest", locationHandler.Latest)
			})

			r.Route("/messages", func(r chi.Router) {
				r.Post("/", messageHandler.Send)
				r.Get("/conversations", messageHandler.Conversations)
				r.Get("/recipients", messageHandler.Recipients)
				r.Get("/{userId}", messageHandler.Thread)
			})

			r.Route("/students", func(r chi.Router) {
				r.Get("/", studentHandler.List)
				r.Post("/", studentHandler.Create)
				r.Get("/{id}", studentHandler.Get)
				r.Put("/{id}", studentHandler.Update)
			})

			r.Route("/admin", func(r chi.Router) {
				r.Use(middleware.RequireRoles(models.RoleAdmin))
				r.Get("/buses", adminHandler.ListBuses)
				r.Post("/buses", adminHandler.CreateBus)
				r.Get("/routes", adminHandler.ListRoutes)
				r.Post("/routes", adminHandler.CreateRoute)
				r.Get("/drivers", adminHandler.ListDrivers)
				r.Get("/parents", adminHandler.ListParents)
			})
		})
	})

	return mux
}
