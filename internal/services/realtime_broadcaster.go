package services

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	"github.com/chicken-store/orders-api/internal/platform/realtime"
)

// RealtimeBroadcaster pushes committed order events onto the realtime fabric.
type RealtimeBroadcaster struct {
	publisher realtime.Publisher
	channels  realtime.Channels
}

// NewRealtimeBroadcaster requires a publisher; channels carry the deployment prefix.
func NewRealtimeBroadcaster(publisher realtime.Publisher, channels realtime.Channels) (*RealtimeBroadcaster, error) {
	if publisher == nil {
		return nil, errors.New("realtime broadcaster: publisher is required")
	}
	return &RealtimeBroadcaster{publisher: publisher, channels: channels}, nil
}

func (*RealtimeBroadcaster) Name() string { return "realtime_broadcaster" }

// HandleOrderEvent publishes order_status_update to the buyer on transitions
// and new_order_created to sellers on creation.
func (b *RealtimeBroadcaster) HandleOrderEvent(ctx context.Context, event OrderEvent) error {
	var channel, kind string
	switch event.Type {
	case OrderEventCreated:
		channel, kind = b.channels.Sellers(), realtime.EventNewOrderCreated
	case OrderEventStatusChanged:
		if strings.TrimSpace(event.Order.BuyerID) == "" {
			return nil
		}
		channel, kind = b.channels.User(event.Order.BuyerID), realtime.EventOrderStatusUpdate
	default:
		return nil
	}

	order, err := json.Marshal(SnapshotOrder(event.Order))
	if err != nil {
		return err
	}
	payload, err := json.Marshal(realtime.Envelope{Event: kind, Order: order})
	if err != nil {
		return err
	}
	return b.publisher.Publish(ctx, channel, payload)
}
