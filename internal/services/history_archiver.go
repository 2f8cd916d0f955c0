package services

import (
	"context"
	"errors"
	"time"

	"github.com/oklog/ulid/v2"

	domain "github.com/chicken-store/orders-api/internal/domain"
	"github.com/chicken-store/orders-api/internal/repositories"
)

// HistoryArchiver writes a snapshot once an order reaches a terminal status.
type HistoryArchiver struct {
	repo  repositories.OrderHistoryRepository
	clock func() time.Time
	newID func() string
}

// NewHistoryArchiver requires a history repository.
func NewHistoryArchiver(repo repositories.OrderHistoryRepository, clock func() time.Time) (*HistoryArchiver, error) {
	if repo == nil {
		return nil, errors.New("history archiver: repository is required")
	}
	if clock == nil {
		clock = time.Now
	}
	return &HistoryArchiver{
		repo:  repo,
		clock: clock,
		newID: func() string { return "hst_" + ulid.Make().String() },
	}, nil
}

func (*HistoryArchiver) Name() string { return "history_archiver" }

func (a *HistoryArchiver) HandleOrderEvent(ctx context.Context, event OrderEvent) error {
	if event.Type != OrderEventStatusChanged || !event.Order.Status.Terminal() {
		return nil
	}
	snapshot, err := snapshotMap(event.Order)
	if err != nil {
		return err
	}
	return a.repo.Append(ctx, domain.OrderHistory{
		ID:        a.newID(),
		OrderID:   event.Order.ID,
		BuyerID:   event.Order.BuyerID,
		Status:    event.Order.Status,
		Snapshot:  snapshot,
		CreatedAt: a.clock().UTC(),
	})
}
