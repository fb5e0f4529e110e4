package trips

import (
	"context"

	log "github.com/sirupsen/logrus"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/ukydev/school-bus-tracker/internal/events"
	"github.com/ukydev/school-bus-tracker/internal/models"
)

// system is the principal background work acts as.
var system = models.Principal{Role: models.RoleAdmin}

// Handoff is an events.Handler. For a completed trip it assembles the report
// and passes it to sink; cancellations are only logged.
func (s *Service) Handoff(sink func(context.Context, *Report) error) events.Handler {
	return func(ctx context.Context, ev events.Event) error {
		entry := log.WithFields(log.Fields{"trip_id": ev.TripID, "type": ev.Type})
		switch ev.Type {
		case events.TripCompleted:
			id, err := primitive.ObjectIDFromHex(ev.TripID)
			if err != nil {
				return err
			}
			report, err := s.Report(ctx, system, id)
			if err != nil {
				return err
			}
			entry.WithFields(log.Fields{
				"present": report.Present,
				"absent":  report.Absent,
				"samples": report.SampleCount,
			}).Info("trip report ready")
			if sink == nil {
				return nil
			}
			return sink(ctx, report)
		case events.TripCancelled:
			entry.Info("trip cancelled, no report")
			return nil
		default:
			entry.Warn("ignoring unknown event")
			return nil
		}
	}
}
