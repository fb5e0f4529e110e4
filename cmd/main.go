package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"github.com/ukydev/school-bus-tracker/internal/auth"
	"github.com/ukydev/school-bus-tracker/internal/config"
	"github.com/ukydev/school-bus-tracker/internal/db"
	"github.com/ukydev/school-bus-tracker/internal/events"
	"github.com/ukydev/school-bus-tracker/internal/handlers"
	"github.com/ukydev/school-bus-tracker/internal/messaging"
	"github.com/ukydev/school-bus-tracker/internal/metrics"
	"github.com/ukydev/school-bus-tracker/internal/realtime"
	"github.com/ukydev/school-bus-tracker/internal/socket"
	"github.com/ukydev/school-bus-tracker/internal/tracking"
	"github.com/ukydev/school-bus-tracker/internal/trips"
)

// app is the assembled API server.
type app struct {
	handler http.Handler
	closers []func()
}

func (a *app) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
}

// storeFor opens the configured backend.
func storeFor(ctx context.Context, cfg config.App, a *app) (db.Store, error) {
	switch cfg.StoreBackend {
	case "memory":
		log.Warn("using in-memory store, data is lost on restart")
		return db.NewMemoryStore(), nil
	case "mongo", "":
		client, err := db.ConnectMongo(ctx, cfg.MongoURI)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := client.Disconnect(ctx); err != nil {
				log.WithError(err).Warn("mongo disconnect")
			}
		})
		store := db.NewMongoStore(client, cfg.MongoDB)
		if err := store.EnsureIndexes(ctx); err != nil {
			return nil, fmt.Errorf("ensure indexes: %w", err)
		}
		return store, nil
	default:
		return nil, fmt.Errorf("unknown STORE_BACKEND %q", cfg.StoreBackend)
	}
}

func newApp(ctx context.Context, cfg config.App) (*app, error) {
	a := &app{}
	fail := func(err error) (*app, error) {
		a.close()
		return nil, err
	}

	store, err := storeFor(ctx, cfg, a)
	if err != nil {
		return fail(err)
	}

	var rdb *redis.Client
	if cfg.Backplane == "redis" || cfg.EventQueue == "redis" {
		rdb = redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		a.closers = append(a.closers, func() { _ = rdb.Close() })
		if err := rdb.Ping(ctx).Err(); err != nil {
			return fail(fmt.Errorf("redis ping: %w", err))
		}
	}

	m := metrics.New()
	hubOpts := []realtime.Option{realtime.WithMetrics(m)}
	switch cfg.Backplane {
	case "redis":
		hubOpts = append(hubOpts, realtime.WithBackplane(realtime.NewRedisBackplane(rdb, "")))
	case "mqtt":
		bp, err := realtime.NewMQTTBackplane(cfg.MQTTBroker, "schoolbus-"+cfg.InstanceName)
		if err != nil {
			return fail(fmt.Errorf("mqtt backplane: %w", err))
		}
		a.closers = append(a.closers, func() { _ = bp.Close() })
		hubOpts = append(hubOpts, realtime.WithBackplane(bp))
	case "none", "":
	default:
		return fail(fmt.Errorf("unknown BACKPLANE %q", cfg.Backplane))
	}
	hub := realtime.NewHub(hubOpts...)

	runCtx, cancel := context.WithCancel(context.Background())
	a.closers = append(a.closers, cancel)
	if err := hub.Start(runCtx); err != nil {
		return fail(fmt.Errorf("backplane subscribe: %w", err))
	}

	var queue events.Queue
	switch cfg.EventQueue {
	case "redis":
		queue = events.NewRedisQueue(rdb, cfg.EventsKey)
	case "memory", "":
		queue = events.NewInMemory(256)
	default:
		return fail(fmt.Errorf("unknown EVENT_QUEUE %q", cfg.EventQueue))
	}

	authService := auth.NewService(cfg.JWTSecret, cfg.JWTExpiry)
	tripService := trips.NewService(store, hub, queue, trips.WithMetrics(m))
	tracker := tracking.NewService(store, hub, m, cfg.LocationHistoryLimit)
	messages := messaging.NewService(store, hub, messaging.WithMetrics(m), messaging.WithWindow(cfg.MessagingWindow))

	// an in-process queue has no external worker, so drain it here
	if _, ok := queue.(*events.InMemory); ok {
		go func() {
			if err := events.Run(runCtx, queue, tripService.Handoff(nil)); err != nil && runCtx.Err() == nil {
				log.WithError(err).Error("event consumer stopped")
			}
		}()
	}

	a.handler = handlers.NewRouter(handlers.Deps{
		Auth:                   authService,
		Store:                  store,
		Trips:                  tripService,
		Tracking:               tracker,
		Messages:               messages,
		Metrics:                m,
		Realtime:               socket.NewServer(authService, hub, store, tracker),
		AllowAdminRegistration: cfg.AllowAdminRegistration,
		AuthRateLimitPerMin:    cfg.RateLimitPerMin,
		CORSOrigins:            cfg.CORSOrigins,
	})
	return a, nil
}

func main() {
	cfg := config.Load()
	cfg.ConfigureLogging()
	if cfg.Production() && cfg.JWTSecret == "your-secret-key-change-in-production" {
		log.Fatal("JWT_SECRET must be set in production")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	a, err := newApp(ctx, cfg)
	cancel()
	if err != nil {
		log.WithError(err).Fatal("failed to start")
	}
	defer a.close()

	srv := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           a.handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.WithFields(log.Fields{
			"port":      cfg.HTTPPort,
			"store":     cfg.StoreBackend,
			"backplane": cfg.Backplane,
			"queue":     cfg.EventQueue,
		}).Info("HTTP server listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.WithError(err).Fatal("server failed")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit
	log.Info("shutting down")

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancelShutdown()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Error("server forced to shutdown")
	}
	log.Info("server exited")
}
