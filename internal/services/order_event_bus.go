package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/chicken-store/orders-api/internal/platform/requestctx"
)

const (
	// OrderEventCreated is published after an order commits.
	OrderEventCreated = "order.created"
	// OrderEventStatusChanged is published after a transition commits.
	OrderEventStatusChanged = "order.status.changed"

	defaultSubscriberTimeout = 5 * time.Second
)

// OrderEvent is a committed change to an order.
type OrderEvent struct {
	Type           string
	Order          Order
	PreviousStatus OrderStatus
	ActorID        string
	OccurredAt     time.Time
}

// OrderEventPublisher publishes order domain events for downstream consumers.
type OrderEventPublisher interface {
	PublishOrderEvent(ctx context.Context, event OrderEvent) error
}

// OrderEventSubscriber reacts to committed order events.
type OrderEventSubscriber interface {
	Name() string
	HandleOrderEvent(ctx context.Context, event OrderEvent) error
}

// OrderEventBus fans events out to subscribers after commit. A failing or
// panicking subscriber never affects the others.
type OrderEventBus struct {
	mu      sync.RWMutex
	subs    []OrderEventSubscriber
	timeout time.Duration
	logger  Logger
	metrics Metrics
}

// NewOrderEventBus builds a bus. A non-positive timeout selects the default per-subscriber bound.
func NewOrderEventBus(logger Logger, metrics Metrics, timeout time.Duration) *OrderEventBus {
	if logger == nil {
		logger = noopLogger
	}
	if metrics == nil {
		metrics = noopMetrics{}
	}
	if timeout <= 0 {
		timeout = defaultSubscriberTimeout
	}
	return &OrderEventBus{logger: logger, metrics: metrics, timeout: timeout}
}

// Subscribe appends sub. Nil subscribers are ignored.
func (b *OrderEventBus) Subscribe(sub OrderEventSubscriber) {
	if sub == nil {
		return
	}
	b.mu.Lock()
	b.subs = append(b.subs, sub)
	b.mu.Unlock()
}

// PublishOrderEvent runs every subscriber in registration order on a context
// detached from the caller's cancellation. The joined subscriber errors are returned
// for logging only.
func (b *OrderEventBus) PublishOrderEvent(ctx context.Context, event OrderEvent) error {
	b.mu.RLock()
	subs := append([]OrderEventSubscriber(nil), b.subs...)
	b.mu.RUnlock()

	base := requestctx.Detach(ctx)
	var errs []error
	for _, sub := range subs {
		if err := b.deliver(base, sub, event); err != nil {
			b.metrics.SideEffectFailed(sub.Name())
			b.logger(ctx, "order.event.subscriber.failed", map[string]any{
				"subscriber": sub.Name(),
				"type":       event.Type,
				"orderID":    event.Order.ID,
				"error":      err.Error(),
			})
			errs = append(errs, fmt.Errorf("%s: %w", sub.Name(), err))
		}
	}
	return errors.Join(errs...)
}

func (b *OrderEventBus) deliver(ctx context.Context, sub OrderEventSubscriber, event OrderEvent) (err error) {
	ctx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("panic: %v", rec)
		}
	}()
	return sub.HandleOrderEvent(ctx, event)
}
