package event

import (
	"context"

	"github.com/movebid/quoteform/internal/activity"
)

// Recorder writes domain events to the activity store.
type Recorder interface {
	Record(ctx context.Context, evt DomainEvent) error
}

// Publisher sends domain events to downstream consumers.
type Publisher interface {
	Publish(ctx context.Context, evt DomainEvent)
}

// ActivityRecorder implements Recorder by turning a DomainEvent into an
// activity entry.
type ActivityRecorder struct {
	store activity.Store
}

// NewActivityRecorder creates a new ActivityRecorder backed by the given store.
func NewActivityRecorder(store activity.Store) *ActivityRecorder {
	return &ActivityRecorder{store: store}
}

// Record writes evt as one activity entry.
func (r *ActivityRecorder) Record(ctx context.Context, evt DomainEvent) error {
	return r.store.WriteEntries(ctx, []activity.Entry{{
		EventID:    evt.ID,
		EventType:  evt.EventType,
		OccurredAt: evt.OccurredAt,
		SessionID:  evt.SessionID,
		EstimateID: evt.EstimateID,
		Summary:    evt.Summary,
		Category:   evt.Category,
		Outcome:    evt.Outcome,
		Payload:    evt.Payload,
	}})
}

// HandleEvent lets the recorder subscribe to the event bus.
func (r *ActivityRecorder) HandleEvent(ctx context.Context, evt DomainEvent) error {
	return r.Record(ctx, evt)
}

// Discard is a Publisher that drops every event.
type Discard struct{}

func (Discard) Publish(context.Context, DomainEvent) {}
