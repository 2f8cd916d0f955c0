// Package realtime fans order events out to connected clients over a pub/sub
// fabric. Delivery is fire-and-forget: nothing is persisted or replayed.
package realtime

import (
	"context"
	"strings"
)

const (
	// EventOrderStatusUpdate is published to the buyer's channel on every transition.
	EventOrderStatusUpdate = "order_status_update"
	// EventNewOrderCreated is published to the sellers channel when an order is placed.
	EventNewOrderCreated = "new_order_created"
)

// Message is one payload received on a channel.
type Message struct {
	Channel string
	Payload []byte
}

// Publisher sends a payload to every current subscriber of channel.
type Publisher interface {
	Publish(ctx context.Context, channel string, payload []byte) error
}

// Subscriber opens a subscription to one or more channels.
type Subscriber interface {
	Subscribe(ctx context.Context, channels ...string) (Subscription, error)
}

// Subscription streams messages until Close. Messages is closed afterwards.
type Subscription interface {
	Messages() <-chan Message
	Close() error
}

// Fabric is the pub/sub transport shared by the broadcaster and the gateway.
type Fabric interface {
	Publisher
	Subscriber
}

// Channels derives channel names from a deployment prefix.
type Channels struct {
	Prefix string
}

// User is the private channel of one buyer.
func (c Channels) User(uid string) string {
	return c.Prefix + "user:" + strings.TrimSpace(uid)
}

// Sellers is the channel every seller listens on.
func (c Channels) Sellers() string {
	return c.Prefix + "sellers"
}
