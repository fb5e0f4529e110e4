// Command worker consumes trip lifecycle events from the Redis queue and
// hands finished trips to the report generator.
package main

import (
	"context"
	"encoding/json"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"github.com/ukydev/school-bus-tracker/internal/config"
	"github.com/ukydev/school-bus-tracker/internal/db"
	"github.com/ukydev/school-bus-tracker/internal/events"
	"github.com/ukydev/school-bus-tracker/internal/realtime"
	"github.com/ukydev/school-bus-tracker/internal/trips"
)

// logReport stands in for the PDF generator, which lives outside this repo.
func logReport(_ context.Context, r *trips.Report) error {
	b, err := json.Marshal(r)
	if err != nil {
		return err
	}
	log.WithFields(log.Fields{"trip_id": r.Trip.ID.Hex(), "bytes": len(b)}).Info("report handed off")
	log.Debug(string(b))
	return nil
}

func main() {
	cfg := config.Load()
	cfg.ConfigureLogging()
	if cfg.EventQueue != "redis" {
		log.Fatal("worker needs EVENT_QUEUE=redis; the memory queue is drained by the API process")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	connectCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	client, err := db.ConnectMongo(connectCtx, cfg.MongoURI)
	cancel()
	if err != nil {
		log.WithError(err).Fatal("failed to connect to MongoDB")
	}
	defer client.Disconnect(context.Background())
	store := db.NewMongoStore(client, cfg.MongoDB)

	rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	defer rdb.Close()
	if err := rdb.Ping(ctx).Err(); err != nil {
		log.WithError(err).Fatal("failed to reach redis")
	}

	// the worker publishes nothing, a local hub satisfies the service
	svc := trips.NewService(store, realtime.NewHub(), nil)
	queue := events.NewRedisQueue(rdb, cfg.EventsKey)

	log.WithField("key", cfg.EventsKey).Info("worker consuming events")
	if err := events.Run(ctx, queue, svc.Handoff(logReport)); err != nil && ctx.Err() == nil {
		log.WithError(err).Fatal("worker stopped")
	}
	log.Info("worker exited")
}
