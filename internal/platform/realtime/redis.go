package realtime

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"
)

const subscriptionBuffer = 64

// RedisFabric carries events over Redis pub/sub so every API replica can reach its own sockets.
type RedisFabric struct {
	client redis.UniversalClient
}

// NewRedisFabric wraps an existing client.
func NewRedisFabric(client redis.UniversalClient) (*RedisFabric, error) {
	if client == nil {
		return nil, errors.New("realtime: redis client is required")
	}
	return &RedisFabric{client: client}, nil
}

// Publish sends payload to channel.
func (f *RedisFabric) Publish(ctx context.Context, channel string, payload []byte) error {
	if err := f.client.Publish(ctx, channel, payload).Err(); err != nil {
		return fmt.Errorf("realtime: publish %s: %w", channel, err)
	}
	return nil
}

// Subscribe waits for the server to confirm the subscription before returning.
func (f *RedisFabric) Subscribe(ctx context.Context, channels ...string) (Subscription, error) {
	if len(channels) == 0 {
		return nil, errors.New("realtime: at least one channel is required")
	}
	ps := f.client.Subscribe(ctx, channels...)
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, fmt.Errorf("realtime: subscribe: %w", err)
	}
	sub := &redisSubscription{
		ps:   ps,
		out:  make(chan Message, subscriptionBuffer),
		done: make(chan struct{}),
	}
	go sub.forward()
	return sub, nil
}

type redisSubscription struct {
	ps   *redis.PubSub
	out  chan Message
	done chan struct{}
	once sync.Once
}

func (s *redisSubscription) Messages() <-chan Message { return s.out }

func (s *redisSubscription) Close() error {
	var err error
	s.once.Do(func() {
		close(s.done)
		err = s.ps.Close()
	})
	return err
}

func (s *redisSubscription) forward() {
	defer close(s.out)
	in := s.ps.Channel()
	for {
		select {
		case <-s.done:
			return
		case msg, ok := <-in:
			if !ok {
				return
			}
			select {
			case s.out <- Message{Channel: msg.Channel, Payload: []byte(msg.Payload)}:
			case <-s.done:
				return
			}
		}
	}
}
