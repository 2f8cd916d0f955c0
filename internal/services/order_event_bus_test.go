package services

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	domain "github.com/chicken-store/orders-api/internal/domain"
	"github.com/chicken-store/orders-api/internal/platform/realtime"
)

type funcSubscriber struct {
	name string
	fn   func(context.Context, OrderEvent) error
}

func (s funcSubscriber) Name() string { return s.name }

func (s funcSubscriber) HandleOrderEvent(ctx context.Context, event OrderEvent) error {
	return s.fn(ctx, event)
}

func TestOrderEventBusIsolatesSubscribers(t *testing.T) {
	metrics := &countingMetrics{}
	bus := NewOrderEventBus(nil, metrics, 50*time.Millisecond)

	var delivered []string
	bus.Subscribe(funcSubscriber{name: "panics", fn: func(context.Context, OrderEvent) error { panic("boom") }})
	bus.Subscribe(funcSubscriber{name: "fails", fn: func(context.Context, OrderEvent) error { return errors.New("down") }})
	bus.Subscribe(funcSubscriber{name: "slow", fn: func(ctx context.Context, _ OrderEvent) error {
		<-ctx.Done()
		return ctx.Err()
	}})
	bus.Subscribe(funcSubscriber{name: "ok", fn: func(_ context.Context, e OrderEvent) error {
		delivered = append(delivered, e.Order.ID)
		return nil
	}})
	bus.Subscribe(nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := bus.PublishOrderEvent(ctx, OrderEvent{Type: OrderEventCreated, Order: Order{ID: "ord_1"}})
	if err == nil {
		t.Fatalf("expected joined subscriber errors")
	}
	if len(delivered) != 1 || delivered[0] != "ord_1" {
		t.Fatalf("healthy subscriber must still run on a cancelled caller context, got %v", delivered)
	}
	if len(metrics.failed) != 3 {
		t.Fatalf("expected 3 failed side effects, got %v", metrics.failed)
	}
}

func TestRealtimeBroadcasterRoutesByEvent(t *testing.T) {
	fabric := realtime.NewMemoryFabric()
	channels := realtime.Channels{Prefix: "test:"}
	sub, err := fabric.Subscribe(context.Background(), channels.User("buyer-1"), channels.Sellers())
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer sub.Close()

	b, err := NewRealtimeBroadcaster(fabric, channels)
	if err != nil {
		t.Fatalf("NewRealtimeBroadcaster: %v", err)
	}
	order := Order{ID: "ord_1", OrderNumber: "AB12", BuyerID: "buyer-1", Status: domain.OrderStatusPending, TotalWeight: qty("2")}

	if err := b.HandleOrderEvent(context.Background(), OrderEvent{Type: OrderEventCreated, Order: order}); err != nil {
		t.Fatalf("created: %v", err)
	}
	order.Status = domain.OrderStatusReviewing
	if err := b.HandleOrderEvent(context.Background(), OrderEvent{Type: OrderEventStatusChanged, Order: order}); err != nil {
		t.Fatalf("status: %v", err)
	}

	want := []struct{ channel, event, status string }{
		{channels.Sellers(), realtime.EventNewOrderCreated, "pending"},
		{channels.User("buyer-1"), realtime.EventOrderStatusUpdate, "reviewing"},
	}
	for _, w := range want {
		select {
		case msg := <-sub.Messages():
			if msg.Channel != w.channel {
				t.Fatalf("expected channel %s, got %s", w.channel, msg.Channel)
			}
			var env struct {
				Event string        `json:"event"`
				Order OrderSnapshot `json:"order"`
			}
			if err := json.Unmarshal(msg.Payload, &env); err != nil {
				t.Fatalf("decode: %v", err)
			}
			if env.Event != w.event || env.Order.Status != w.status || env.Order.TotalWeight != "2.00" {
				t.Fatalf("unexpected envelope %+v", env)
			}
		case <-time.After(time.Second):
			t.Fatalf("timed out waiting for %s", w.event)
		}
	}
}

func TestHistoryArchiverOnlyArchivesTerminalStatuses(t *testing.T) {
	store := newTestStore(nil)
	archiver, err := NewHistoryArchiver(store.OrderHistory(), func() time.Time { return testNow })
	if err != nil {
		t.Fatalf("NewHistoryArchiver: %v", err)
	}
	order := Order{ID: "ord_1", BuyerID: "buyer-1", OrderNumber: "AB12", Status: domain.OrderStatusShipping}

	if err := archiver.HandleOrderEvent(context.Background(), OrderEvent{Type: OrderEventStatusChanged, Order: order}); err != nil {
		t.Fatalf("shipping: %v", err)
	}
	if _, ok := store.History("ord_1"); ok {
		t.Fatalf("non-terminal status must not be archived")
	}

	order.Status = domain.OrderStatusCompleted
	if err := archiver.HandleOrderEvent(context.Background(), OrderEvent{Type: OrderEventStatusChanged, Order: order}); err != nil {
		t.Fatalf("completed: %v", err)
	}
	entry, ok := store.History("ord_1")
	if !ok {
		t.Fatalf("expected archived snapshot")
	}
	if entry.BuyerID != "buyer-1" || entry.Status != domain.OrderStatusCompleted {
		t.Fatalf("unexpected entry %+v", entry)
	}
	if entry.Snapshot["order_number"] != "AB12" {
		t.Fatalf("snapshot missing order number: %v", entry.Snapshot)
	}
}

type recordingSink struct {
	keys   []string
	types  []string
	values []any
}

func (s *recordingSink) Publish(_ context.Context, key, eventType string, payload any) error {
	s.keys = append(s.keys, key)
	s.types = append(s.types, eventType)
	s.values = append(s.values, payload)
	return nil
}

func TestEventMirrorKeysByOrder(t *testing.T) {
	sink := &recordingSink{}
	mirror, err := NewEventMirror(sink)
	if err != nil {
		t.Fatalf("NewEventMirror: %v", err)
	}
	event := OrderEvent{
		Type:           OrderEventStatusChanged,
		Order:          Order{ID: "ord_9", Status: domain.OrderStatusCancelled},
		PreviousStatus: domain.OrderStatusReviewing,
		ActorID:        "seller-1",
		OccurredAt:     testNow,
	}
	if err := mirror.HandleOrderEvent(context.Background(), event); err != nil {
		t.Fatalf("HandleOrderEvent: %v", err)
	}
	if len(sink.keys) != 1 || sink.keys[0] != "ord_9" || sink.types[0] != OrderEventStatusChanged {
		t.Fatalf("unexpected publish %v %v", sink.keys, sink.types)
	}
	data, _ := json.Marshal(sink.values[0])
	var decoded map[string]any
	_ = json.Unmarshal(data, &decoded)
	if decoded["previous_status"] != "reviewing" {
		t.Fatalf("expected previous status in record, got %s", data)
	}
}
