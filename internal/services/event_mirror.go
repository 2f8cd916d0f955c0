package services

import (
	"context"
	"errors"
	"time"
)

// EventSink publishes a keyed event. *kafka.Mirror satisfies it.
type EventSink interface {
	Publish(ctx context.Context, key, eventType string, payload any) error
}

// EventMirror copies every order event to an external log keyed by order id.
type EventMirror struct {
	sink EventSink
}

// mirroredEvent is the record written to the external log.
type mirroredEvent struct {
	Type           string        `json:"type"`
	PreviousStatus string        `json:"previous_status,omitempty"`
	ActorID        string        `json:"actor_id,omitempty"`
	OccurredAt     time.Time     `json:"occurred_at"`
	Order          OrderSnapshot `json:"order"`
}

func NewEventMirror(sink EventSink) (*EventMirror, error) {
	if sink == nil {
		return nil, errors.New("event mirror: sink is required")
	}
	return &EventMirror{sink: sink}, nil
}

func (*EventMirror) Name() string { return "event_mirror" }

func (m *EventMirror) HandleOrderEvent(ctx context.Context, event OrderEvent) error {
	return m.sink.Publish(ctx, event.Order.ID, event.Type, mirroredEvent{
		Type:           event.Type,
		PreviousStatus: string(event.PreviousStatus),
		ActorID:        event.ActorID,
		OccurredAt:     event.OccurredAt.UTC(),
		Order:          SnapshotOrder(event.Order),
	})
}
