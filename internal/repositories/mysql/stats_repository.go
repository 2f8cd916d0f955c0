package mysql

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	domain "github.com/chicken-store/orders-api/internal/domain"
	"github.com/chicken-store/orders-api/internal/platform/database"
	"github.com/chicken-store/orders-api/internal/repositories"
)

// StatsRepository runs aggregate queries for the seller dashboard.
type StatsRepository struct {
	db *gorm.DB
}

var _ repositories.StatsRepository = (*StatsRepository)(nil)

func NewStatsRepository(db *gorm.DB) (*StatsRepository, error) {
	if db == nil {
		return nil, errors.New("stats repository requires a db handle")
	}
	return &StatsRepository{db: db}, nil
}

func (r *StatsRepository) CountByStatus(ctx context.Context) (map[domain.OrderStatus]int64, error) {
	var rows []struct {
		Status string
		Total  int64
	}
	err := database.Conn(ctx, r.db).Model(&orderModel{}).
		Select("status, COUNT(*) AS total").
		Group("status").
		Scan(&rows).Error
	if err != nil {
		return nil, database.WrapError("stats.count_by_status", err)
	}
	counts := make(map[domain.OrderStatus]int64, len(rows))
	for _, row := range rows {
		counts[domain.OrderStatus(row.Status)] = row.Total
	}
	return counts, nil
}

func (r *StatsRepository) CompletedWeight(ctx context.Context) (decimal.Decimal, error) {
	var row struct {
		Total decimal.Decimal
	}
	err := database.Conn(ctx, r.db).Model(&orderModel{}).
		Select("COALESCE(SUM(total_weight), 0) AS total").
		Where("status = ?", string(domain.OrderStatusCompleted)).
		Scan(&row).Error
	if err != nil {
		return decimal.Zero, database.WrapError("stats.completed_weight", err)
	}
	return row.Total, nil
}

func (r *StatsRepository) ProductTypeTotals(ctx context.Context) (map[string]domain.ProductTypeTotals, error) {
	var rows []struct {
		ProductType string
		Orders      int64
		QuantityKg  decimal.Decimal
	}
	err := database.Conn(ctx, r.db).Model(&orderItemModel{}).
		Select("product_type, COUNT(*) AS orders, COALESCE(SUM(quantity_kg), 0) AS quantity_kg").
		Group("product_type").
		Scan(&rows).Error
	if err != nil {
		return nil, database.WrapError("stats.product_types", err)
	}
	totals := make(map[string]domain.ProductTypeTotals, len(rows))
	for _, row := range rows {
		totals[row.ProductType] = domain.ProductTypeTotals{Orders: row.Orders, QuantityKg: row.QuantityKg}
	}
	return totals, nil
}

func (r *StatsRepository) CreatedBetween(ctx context.Context, from, to time.Time) ([]repositories.OrderSummaryRow, error) {
	var models []orderModel
	err := database.Conn(ctx, r.db).
		Select("id", "status", "total_weight", "created_at").
		Where("created_at >= ? AND created_at < ?", from.UTC(), to.UTC()).
		Find(&models).Error
	if err != nil {
		return nil, database.WrapError("stats.created_between", err)
	}
	rows := make([]repositories.OrderSummaryRow, 0, len(models))
	for _, m := range models {
		rows = append(rows, repositories.OrderSummaryRow{
			OrderID:     m.ID,
			Status:      domain.OrderStatus(m.Status),
			TotalWeight: m.TotalWeight,
			CreatedAt:   m.CreatedAt.UTC(),
		})
	}
	return rows, nil
}
