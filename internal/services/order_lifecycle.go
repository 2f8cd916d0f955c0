package services

import (
	"errors"
	"fmt"
	"slices"

	domain "github.com/chicken-store/orders-api/internal/domain"
)

// orderTransitions is the complete lifecycle. Any pair not listed is illegal.
var orderTransitions = map[domain.OrderStatus][]domain.OrderStatus{
	domain.OrderStatusPending:   {domain.OrderStatusReviewing, domain.OrderStatusCancelled},
	domain.OrderStatusReviewing: {domain.OrderStatusProcess, domain.OrderStatusCancelled},
	domain.OrderStatusProcess:   {domain.OrderStatusShipping},
	domain.OrderStatusShipping:  {domain.OrderStatusCompleted},
	domain.OrderStatusCompleted: {},
	domain.OrderStatusCancelled: {},
}

// ErrOrderInvalidTransition indicates a move outside the lifecycle table.
var ErrOrderInvalidTransition = errors.New("order: invalid status transition")

// InvalidTransitionError names the rejected move.
type InvalidTransitionError struct {
	From domain.OrderStatus
	To   domain.OrderStatus
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("%s: %s -> %s", ErrOrderInvalidTransition, e.From, e.To)
}

func (e *InvalidTransitionError) Unwrap() error { return ErrOrderInvalidTransition }

// CanTransition reports whether from -> to is a legal move.
func CanTransition(from, to domain.OrderStatus) bool {
	return slices.Contains(orderTransitions[from], to)
}

// AllowedTransitions returns the statuses reachable from from in one step.
func AllowedTransitions(from domain.OrderStatus) []domain.OrderStatus {
	return slices.Clone(orderTransitions[from])
}

// restoresStock reports whether moving from -> to returns reserved stock.
// Only a legal cancellation does; completed orders never reach cancelled.
func restoresStock(from, to domain.OrderStatus) bool {
	return to == domain.OrderStatusCancelled && from != domain.OrderStatusCompleted && CanTransition(from, to)
}
