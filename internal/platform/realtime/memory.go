package realtime

import (
	"context"
	"errors"
	"sync"
)

// MemoryFabric is an in-process fabric for single-replica development and tests.
// Slow subscribers drop messages instead of blocking publishers.
type MemoryFabric struct {
	mu   sync.RWMutex
	subs map[string]map[*memorySubscription]struct{}
}

// NewMemoryFabric returns an empty fabric.
func NewMemoryFabric() *MemoryFabric {
	return &MemoryFabric{subs: make(map[string]map[*memorySubscription]struct{})}
}

// Publish delivers payload to current subscribers of channel.
func (f *MemoryFabric) Publish(_ context.Context, channel string, payload []byte) error {
	f.mu.RLock()
	defer f.mu.RUnlock()
	for sub := range f.subs[channel] {
		select {
		case sub.out <- Message{Channel: channel, Payload: append([]byte(nil), payload...)}:
		default:
		}
	}
	return nil
}

// Subscribe registers a subscription on channels.
func (f *MemoryFabric) Subscribe(_ context.Context, channels ...string) (Subscription, error) {
	if len(channels) == 0 {
		return nil, errors.New("realtime: at least one channel is required")
	}
	sub := &memorySubscription{
		fabric:   f,
		channels: append([]string(nil), channels...),
		out:      make(chan Message, subscriptionBuffer),
	}
	f.mu.Lock()
	for _, ch := range channels {
		if f.subs[ch] == nil {
			f.subs[ch] = make(map[*memorySubscription]struct{})
		}
		f.subs[ch][sub] = struct{}{}
	}
	f.mu.Unlock()
	return sub, nil
}

// Subscribers reports how many subscriptions listen on channel.
func (f *MemoryFabric) Subscribers(channel string) int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.subs[channel])
}

type memorySubscription struct {
	fabric   *MemoryFabric
	channels []string
	out      chan Message
	once     sync.Once
}

func (s *memorySubscription) Messages() <-chan Message { return s.out }

func (s *memorySubscription) Close() error {
	s.once.Do(func() {
		s.fabric.mu.Lock()
		for _, ch := range s.channels {
			delete(s.fabric.subs[ch], s)
			if len(s.fabric.subs[ch]) == 0 {
				delete(s.fabric.subs, ch)
			}
		}
		close(s.out)
		s.fabric.mu.Unlock()
	})
	return nil
}
