package repositories

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	domain "github.com/chicken-store/orders-api/internal/domain"
)

// Registry exposes typed repository accessors and lifecycle hooks for dependency injection.
type Registry interface {
	Close(ctx context.Context) error

	Products() ProductRepository
	Orders() OrderRepository
	Reports() ReportRepository
	OrderHistory() OrderHistoryRepository
	Stats() StatsRepository
	Health() HealthRepository
	UnitOfWork
}

// RepositoryError wraps low-level persistence failures with categorisation used by services.
type RepositoryError interface {
	error
	IsNotFound() bool
	IsConflict() bool
	IsUnavailable() bool
}

// UnitOfWork allows grouping repository operations in a transactional boundary when supported.
// Repositories invoked with the context handed to fn join the transaction.
type UnitOfWork interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// ProductRepository is the stock ledger. Reserve and Restore are single atomic
// statements against one product row; callers compose several of them inside RunInTx.
type ProductRepository interface {
	FindByID(ctx context.Context, productID string) (domain.Product, error)
	// Reserve subtracts qty only when at least qty remains. It returns a *StockError
	// with StockErrorInsufficient (carrying the available amount) or StockErrorProductNotFound.
	Reserve(ctx context.Context, productID string, qty decimal.Decimal) (domain.StockLevel, error)
	// Restore adds qty back to the product.
	Restore(ctx context.Context, productID string, qty decimal.Decimal) (domain.StockLevel, error)
}

// OrderRepository persists orders and their items.
type OrderRepository interface {
	Insert(ctx context.Context, order domain.Order) error
	FindByID(ctx context.Context, orderID string) (domain.Order, error)
	// FindForUpdate loads the order and holds a row lock until the surrounding transaction ends.
	FindForUpdate(ctx context.Context, orderID string) (domain.Order, error)
	UpdateStatus(ctx context.Context, update OrderStatusUpdate) error
	MarkNotified(ctx context.Context, orderID string, messageID string, sentAt time.Time) error
	List(ctx context.Context, filter OrderListFilter) (domain.CursorPage[domain.Order], error)
	// ListCompleted returns completed orders whose completion instant is within [from, to),
	// oldest completion first, items included.
	ListCompleted(ctx context.Context, from, to time.Time) ([]domain.Order, error)
}

// ReportRepository stores report job records.
type ReportRepository interface {
	Insert(ctx context.Context, report domain.OrderReport) error
	FindByID(ctx context.Context, reportID string) (domain.OrderReport, error)
	// ListByCreators pages reports filed by any of creatorIDs, newest first.
	ListByCreators(ctx context.Context, creatorIDs []string, pager domain.Pagination) (domain.CursorPage[domain.OrderReport], error)
	// Finish moves a pending report into a terminal state. It returns a conflict
	// RepositoryError when the report already left pending.
	Finish(ctx context.Context, completion ReportCompletion) (domain.OrderReport, error)
}

// OrderHistoryRepository archives finished orders. Appending the same order twice is a no-op.
type OrderHistoryRepository interface {
	Append(ctx context.Context, entry domain.OrderHistory) error
}

// StatsRepository exposes the aggregate reads behind the seller dashboard.
type StatsRepository interface {
	CountByStatus(ctx context.Context) (map[domain.OrderStatus]int64, error)
	CompletedWeight(ctx context.Context) (decimal.Decimal, error)
	ProductTypeTotals(ctx context.Context) (map[string]domain.ProductTypeTotals, error)
	// CreatedBetween returns a lightweight row per order created within [from, to).
	CreatedBetween(ctx context.Context, from, to time.Time) ([]OrderSummaryRow, error)
}

// HealthRepository exposes status of downstream dependencies for health checks.
type HealthRepository interface {
	Collect(ctx context.Context) (domain.SystemHealthReport, error)
}

// Filter DTOs shared across repositories ------------------------------------

// OrderListFilter narrows order listings. An empty BuyerID lists every buyer.
type OrderListFilter struct {
	BuyerID     string
	Statuses    []domain.OrderStatus
	CreatedFrom *time.Time
	CreatedTo   *time.Time
	Search      string
	Pagination  domain.Pagination
}

// OrderStatusUpdate describes a guarded status write. Implementations only apply it
// while the stored status still equals From.
type OrderStatusUpdate struct {
	OrderID     string
	From        domain.OrderStatus
	To          domain.OrderStatus
	UpdatedAt   time.Time
	CompletedAt *time.Time
}

// ReportCompletion records the terminal outcome of a report job.
type ReportCompletion struct {
	ReportID     string
	Status       domain.ReportStatus
	FilePath     string
	ErrorMessage string
	UpdatedAt    time.Time
}

// OrderSummaryRow is the projection used for trend statistics.
type OrderSummaryRow struct {
	OrderID     string
	Status      domain.OrderStatus
	TotalWeight decimal.Decimal
	CreatedAt   time.Time
}
