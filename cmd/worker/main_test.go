package main

import (
	"bytes"
	"context"
	"os"
	"testing"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ukydev/school-bus-tracker/internal/db/dbtest"
	"github.com/ukydev/school-bus-tracker/internal/events"
	"github.com/ukydev/school-bus-tracker/internal/realtime"
	"github.com/ukydev/school-bus-tracker/internal/trips"
)

func TestWorker_HandsOffCompletedTrip(t *testing.T) {
	var buf bytes.Buffer
	log.SetOutput(&buf)
	t.Cleanup(func() { log.SetOutput(os.Stderr) })

	f := dbtest.New(t)
	svc := trips.NewService(f.Store, realtime.NewHub(), nil)
	q := events.NewInMemory(4)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	require.NoError(t, q.Publish(ctx, events.New(events.TripCompleted, f.Trip.ID.Hex(), time.Now())))

	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = events.Run(ctx, q, svc.Handoff(func(ctx context.Context, r *trips.Report) error {
			defer cancel()
			return logReport(ctx, r)
		}))
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("worker did not process the event")
	}
	assert.Contains(t, buf.String(), "report handed off")
	assert.Contains(t, buf.String(), f.Trip.ID.Hex())
}
