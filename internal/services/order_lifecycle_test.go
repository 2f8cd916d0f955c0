package services

import (
	"testing"

	domain "github.com/chicken-store/orders-api/internal/domain"
)

func TestCanTransitionExhaustive(t *testing.T) {
	legal := map[[2]domain.OrderStatus]bool{
		{domain.OrderStatusPending, domain.OrderStatusReviewing}:   true,
		{domain.OrderStatusPending, domain.OrderStatusCancelled}:   true,
		{domain.OrderStatusReviewing, domain.OrderStatusProcess}:   true,
		{domain.OrderStatusReviewing, domain.OrderStatusCancelled}: true,
		{domain.OrderStatusProcess, domain.OrderStatusShipping}:    true,
		{domain.OrderStatusShipping, domain.OrderStatusCompleted}:  true,
	}
	for _, from := range domain.OrderStatuses {
		for _, to := range domain.OrderStatuses {
			want := legal[[2]domain.OrderStatus{from, to}]
			if got := CanTransition(from, to); got != want {
				t.Errorf("CanTransition(%s, %s) = %v, want %v", from, to, got, want)
			}
		}
	}
	if CanTransition("bogus", domain.OrderStatusPending) || CanTransition(domain.OrderStatusPending, "bogus") {
		t.Error("unknown statuses must never transition")
	}
}

func TestTerminalStatusesHaveNoExits(t *testing.T) {
	for _, status := range domain.OrderStatuses {
		if status.Terminal() != (len(AllowedTransitions(status)) == 0) {
			t.Errorf("status %s terminal=%v but has exits %v", status, status.Terminal(), AllowedTransitions(status))
		}
	}
}

func TestRestoresStock(t *testing.T) {
	cases := map[domain.OrderStatus]bool{
		domain.OrderStatusPending:   true,
		domain.OrderStatusReviewing: true,
		domain.OrderStatusProcess:   false,
		domain.OrderStatusShipping:  false,
		domain.OrderStatusCompleted: false,
		domain.OrderStatusCancelled: false,
	}
	for from, want := range cases {
		if got := restoresStock(from, domain.OrderStatusCancelled); got != want {
			t.Errorf("restoresStock(%s) = %v, want %v", from, got, want)
		}
	}
	if restoresStock(domain.OrderStatusPending, domain.OrderStatusReviewing) {
		t.Error("only cancellation restores stock")
	}
}
