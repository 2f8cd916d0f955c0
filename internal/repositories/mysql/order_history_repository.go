package mysql

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"gorm.io/gorm"

	domain "github.com/chicken-store/orders-api/internal/domain"
	"github.com/chicken-store/orders-api/internal/platform/database"
	"github.com/chicken-store/orders-api/internal/repositories"
)

// OrderHistoryRepository archives order snapshots in MySQL when Firestore is not configured.
type OrderHistoryRepository struct {
	db *gorm.DB
}

var _ repositories.OrderHistoryRepository = (*OrderHistoryRepository)(nil)

func NewOrderHistoryRepository(db *gorm.DB) (*OrderHistoryRepository, error) {
	if db == nil {
		return nil, errors.New("order history repository requires a db handle")
	}
	return &OrderHistoryRepository{db: db}, nil
}

func (r *OrderHistoryRepository) Append(ctx context.Context, entry domain.OrderHistory) error {
	snapshot, err := json.Marshal(entry.Snapshot)
	if err != nil {
		return fmt.Errorf("order_history.append: encode snapshot: %w", err)
	}
	model := orderHistoryModel{
		ID:        entry.ID,
		OrderID:   entry.OrderID,
		BuyerID:   entry.BuyerID,
		Status:    string(entry.Status),
		Snapshot:  snapshot,
		CreatedAt: entry.CreatedAt,
	}
	err = database.WrapError("order_history.append", database.Conn(ctx, r.db).Create(&model).Error)
	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) && repoErr.IsConflict() {
		return nil
	}
	return err
}
