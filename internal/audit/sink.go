package audit

import (
	"context"

	"factory-safety-go/internal/tracking"

	log "github.com/sirupsen/logrus"
)

// Notifier receives finalized visits on a best-effort basis (dashboard push,
// MQTT publication). Notifier failures never block finalization.
type Notifier interface {
	NotifyVisit(visit tracking.Visit)
}

// Sink combines the durable store with any number of notifiers. Only store
// failures propagate to the engine; they are the signal that finalization
// must be retried.
type Sink struct {
	store     tracking.AuditSink
	notifiers []Notifier
}

// NewSink creates a sink around the durable store.
func NewSink(store tracking.AuditSink, notifiers ...Notifier) *Sink {
	return &Sink{store: store, notifiers: notifiers}
}

// Write implements tracking.AuditSink.
func (s *Sink) Write(ctx context.Context, visit tracking.Visit) error {
	if err := s.store.Write(ctx, visit); err != nil {
		return err
	}
	for _, n := range s.notifiers {
		n.NotifyVisit(visit)
	}
	log.Debugf("Published visit for track %d to %d notifiers", visit.TrackID, len(s.notifiers))
	return nil
}
