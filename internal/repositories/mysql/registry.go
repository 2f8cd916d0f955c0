package mysql

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"

	"github.com/chicken-store/orders-api/internal/platform/database"
	"github.com/chicken-store/orders-api/internal/repositories"
)

// RegistryOption customises the MySQL registry.
type RegistryOption func(*Registry)

// WithOrderHistory replaces the MySQL history table with another archive, e.g. Firestore.
func WithOrderHistory(repo repositories.OrderHistoryRepository) RegistryOption {
	return func(r *Registry) {
		if repo != nil {
			r.history = repo
		}
	}
}

// WithHealth attaches the dependency health repository.
func WithHealth(repo repositories.HealthRepository) RegistryOption {
	return func(r *Registry) {
		r.health = repo
	}
}

// WithCloser registers a hook executed when the registry closes.
func WithCloser(fn func(context.Context) error) RegistryOption {
	return func(r *Registry) {
		if fn != nil {
			r.closers = append(r.closers, fn)
		}
	}
}

// Registry wires every MySQL backed repository around one gorm handle.
type Registry struct {
	*database.UnitOfWork

	products *ProductRepository
	orders   *OrderRepository
	reports  *ReportRepository
	stats    *StatsRepository
	history  repositories.OrderHistoryRepository
	health   repositories.HealthRepository
	closers  []func(context.Context) error
}

var _ repositories.Registry = (*Registry)(nil)

// NewRegistry constructs the repositories sharing db.
func NewRegistry(db *gorm.DB, opts ...RegistryOption) (*Registry, error) {
	if db == nil {
		return nil, errors.New("mysql registry: db handle is required")
	}
	uow, err := database.NewUnitOfWork(db)
	if err != nil {
		return nil, err
	}
	products, _ := NewProductRepository(db)
	orders, _ := NewOrderRepository(db)
	reports, _ := NewReportRepository(db)
	stats, _ := NewStatsRepository(db)
	history, _ := NewOrderHistoryRepository(db)

	reg := &Registry{
		UnitOfWork: uow,
		products:   products,
		orders:     orders,
		reports:    reports,
		stats:      stats,
		history:    history,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(reg)
		}
	}
	return reg, nil
}

// AutoMigrate creates or updates every table the registry uses.
func AutoMigrate(ctx context.Context, db *gorm.DB) error {
	if db == nil {
		return errors.New("mysql migrate: db handle is required")
	}
	if err := db.WithContext(ctx).AutoMigrate(
		&productModel{},
		&orderModel{},
		&orderItemModel{},
		&reportModel{},
		&orderHistoryModel{},
	); err != nil {
		return fmt.Errorf("mysql migrate: %w", err)
	}
	return nil
}

func (r *Registry) Products() repositories.ProductRepository          { return r.products }
func (r *Registry) Orders() repositories.OrderRepository              { return r.orders }
func (r *Registry) Reports() repositories.ReportRepository            { return r.reports }
func (r *Registry) OrderHistory() repositories.OrderHistoryRepository { return r.history }
func (r *Registry) Stats() repositories.StatsRepository               { return r.stats }
func (r *Registry) Health() repositories.HealthRepository             { return r.health }

// Close runs the registered closers in reverse order.
func (r *Registry) Close(ctx context.Context) error {
	var errs []error
	for i := len(r.closers) - 1; i >= 0; i-- {
		if err := r.closers[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
