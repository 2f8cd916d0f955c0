package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"cloud.google.com/go/pubsub"
	"go.uber.org/zap"

	"github.com/chicken-store/orders-api/internal/platform/textutil"
)

// PubSubQueue publishes jobs to a topic and consumes them from a subscription.
type PubSubQueue struct {
	topic        *pubsub.Topic
	subscription *pubsub.Subscription
	logger       *zap.Logger
	marshal      func(any) ([]byte, error)
}

// PubSubOption customises the queue.
type PubSubOption func(*PubSubQueue)

// WithPubSubLogger sets the consumer logger.
func WithPubSubLogger(logger *zap.Logger) PubSubOption {
	return func(q *PubSubQueue) {
		if logger != nil {
			q.logger = logger
		}
	}
}

// WithReceiveSettings sizes the consumer worker pool.
func WithReceiveSettings(goroutines, maxOutstanding int) PubSubOption {
	return func(q *PubSubQueue) {
		if q.subscription == nil {
			return
		}
		if goroutines > 0 {
			q.subscription.ReceiveSettings.NumGoroutines = goroutines
		}
		if maxOutstanding > 0 {
			q.subscription.ReceiveSettings.MaxOutstandingMessages = maxOutstanding
		}
	}
}

// NewPubSubQueue constructs a Pub/Sub backed queue. The subscription may be nil
// for publish-only processes.
func NewPubSubQueue(topic *pubsub.Topic, subscription *pubsub.Subscription, opts ...PubSubOption) (*PubSubQueue, error) {
	if topic == nil {
		return nil, errors.New("pubsub queue: topic is required")
	}
	q := &PubSubQueue{
		topic:        topic,
		subscription: subscription,
		logger:       zap.NewNop(),
		marshal:      json.Marshal,
	}
	for _, opt := range opts {
		opt(q)
	}
	return q, nil
}

// Enqueue publishes job and waits for the server acknowledgement.
func (q *PubSubQueue) Enqueue(ctx context.Context, job Job) error {
	if q == nil || q.topic == nil {
		return errors.New("pubsub queue: not initialised")
	}
	data, err := q.marshal(job)
	if err != nil {
		return fmt.Errorf("marshal job: %w", err)
	}
	attrs := textutil.NormalizeStringMap(map[string]string{
		"jobId": job.ID,
		"kind":  job.Kind,
	})
	result := q.topic.Publish(ctx, &pubsub.Message{Data: data, Attributes: attrs})
	if _, err := result.Get(ctx); err != nil {
		return fmt.Errorf("publish %s job: %w", job.Kind, err)
	}
	return nil
}

// Run receives messages until ctx is cancelled. A message is acked once the
// handler returns, unless the handler asked for a retry; malformed envelopes are
// acked and dropped.
func (q *PubSubQueue) Run(ctx context.Context, mux *Mux) error {
	if q.subscription == nil {
		return errors.New("pubsub queue: subscription is required to consume")
	}
	err := q.subscription.Receive(ctx, func(ctx context.Context, msg *pubsub.Message) {
		var job Job
		if err := json.Unmarshal(msg.Data, &job); err != nil {
			q.logger.Error("jobs: malformed message", zap.String("messageId", msg.ID), zap.Error(err))
			msg.Ack()
			return
		}
		if err := mux.Dispatch(ctx, job); errors.Is(err, ErrRetry) {
			q.logger.Warn("jobs: nacked for redelivery", zap.String("kind", job.Kind), zap.String("jobId", job.ID), zap.Int("attempt", deliveryAttempt(msg)))
			msg.Nack()
			return
		}
		msg.Ack()
	})
	if err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("pubsub receive: %w", err)
	}
	return nil
}

// Stop flushes pending publishes.
func (q *PubSubQueue) Stop() {
	if q != nil && q.topic != nil {
		q.topic.Stop()
	}
}

func deliveryAttempt(msg *pubsub.Message) int {
	if msg.DeliveryAttempt == nil {
		return 0
	}
	return *msg.DeliveryAttempt
}
