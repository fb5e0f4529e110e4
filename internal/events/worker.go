package events

import (
	"context"

	log "github.com/sirupsen/logrus"
)

// Handler processes one consumed event.
type Handler func(ctx context.Context, ev Event) error

// Run consumes q until ctx is done, passing every event to h. A failing
// handler is logged and the loop moves on; events are not redelivered.
func Run(ctx context.Context, q Queue, h Handler) error {
	ch, err := q.Consume(ctx)
	if err != nil {
		return err
	}
	for ev := range ch {
		entry := log.WithFields(log.Fields{"event_id": ev.ID, "type": ev.Type, "trip_id": ev.TripID})
		if err := h(ctx, ev); err != nil {
			entry.WithError(err).Error("event handler failed")
			continue
		}
		entry.Debug("event handled")
	}
	return ctx.Err()
}
