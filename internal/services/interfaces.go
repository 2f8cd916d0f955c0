package services

import (
	"context"
	"io"
	"time"

	"github.com/shopspring/decimal"

	domain "github.com/chicken-store/orders-api/internal/domain"
)

// Type aliases expose domain models to the services package without reversing dependency direction.
type (
	Pagination         = domain.Pagination
	Order              = domain.Order
	OrderItem          = domain.OrderItem
	OrderStatus        = domain.OrderStatus
	OrderReport        = domain.OrderReport
	OrderStats         = domain.OrderStats
	BuyerContact       = domain.BuyerContact
	SystemHealthReport = domain.SystemHealthReport
)

// Role names carried in identity claims.
const (
	RoleBuyer  = "buyer"
	RoleSeller = "seller"
)

// OrderService owns order creation, the lifecycle state machine and order reads.
type OrderService interface {
	CreateOrder(ctx context.Context, cmd CreateOrderCommand) (Order, error)
	TransitionStatus(ctx context.Context, cmd TransitionCommand) (Order, error)
	GetOrder(ctx context.Context, query GetOrderQuery) (Order, error)
	ListOrders(ctx context.Context, query ListOrdersQuery) (domain.CursorPage[Order], error)
}

// ReportService manages report jobs for sellers.
type ReportService interface {
	CreateReport(ctx context.Context, cmd CreateReportCommand) (OrderReport, error)
	ListReports(ctx context.Context, query ListReportsQuery) (domain.CursorPage[OrderReport], error)
	OpenReport(ctx context.Context, query OpenReportQuery) (ReportFile, error)
	// CreateScheduledDaily files a daily report for date (YYYY-MM-DD, empty for today) as the system actor.
	CreateScheduledDaily(ctx context.Context, date string) (OrderReport, error)
}

// StatsService computes the seller dashboard.
type StatsService interface {
	Summary(ctx context.Context, actorRoles []string) (OrderStats, error)
}

// SystemService exposes runtime health information.
type SystemService interface {
	HealthReport(ctx context.Context) (SystemHealthReport, error)
}

// BuyerDirectory supplies the contact snapshot stored on new orders.
type BuyerDirectory interface {
	LookupBuyer(ctx context.Context, uid string) (BuyerContact, error)
}

// Metrics receives counters for side effects. *observability.Metrics satisfies it.
type Metrics interface {
	NotificationOutcome(outcome string)
	SideEffectFailed(subscriber string)
	StockReservation(result string)
	ReportFinished(status string)
}

// Logger is the structured event callback every service accepts.
type Logger func(ctx context.Context, event string, fields map[string]any)

// CreateOrderCommand carries a buyer's order request.
type CreateOrderCommand struct {
	ActorID    string
	ActorRoles []string
	Items      []OrderLineInput
	Notes      string
	// Buyer overrides the directory lookup when any field is set.
	Buyer BuyerContact
}

// OrderLineInput is one requested product and quantity.
type OrderLineInput struct {
	ProductID  string
	QuantityKg decimal.Decimal
}

// TransitionCommand moves an order to Status.
type TransitionCommand struct {
	OrderID    string
	ActorID    string
	ActorRoles []string
	Status     OrderStatus
}

// GetOrderQuery loads one order visible to the actor.
type GetOrderQuery struct {
	OrderID    string
	ActorID    string
	ActorRoles []string
}

// ListOrdersQuery lists orders visible to the actor. Dates are calendar dates in the business zone.
type ListOrdersQuery struct {
	ActorID    string
	ActorRoles []string
	Statuses   []OrderStatus
	StartDate  *time.Time
	EndDate    *time.Time
	Search     string
	Pagination Pagination
}

// CreateReportCommand requests a report export.
type CreateReportCommand struct {
	ActorID    string
	ActorRoles []string
	ReportType domain.ReportType
	StartDate  string
	EndDate    string
}

// ListReportsQuery lists the actor's own reports and the scheduled daily ones.
type ListReportsQuery struct {
	ActorID    string
	ActorRoles []string
	Pagination Pagination
}

// OpenReportQuery opens a ready report for download.
type OpenReportQuery struct {
	ReportID   string
	ActorID    string
	ActorRoles []string
}

// ReportFile is an open report export. Callers must close Body.
type ReportFile struct {
	Report      OrderReport
	FileName    string
	ContentType string
	Size        int64
	Body        io.ReadCloser
}

func hasRole(roles []string, role string) bool {
	for _, r := range roles {
		if r == role {
			return true
		}
	}
	return false
}

func noopLogger(context.Context, string, map[string]any) {}

type noopMetrics struct{}

func (noopMetrics) NotificationOutcome(string) {}
func (noopMetrics) SideEffectFailed(string)    {}
func (noopMetrics) StockReservation(string)    {}
func (noopMetrics) ReportFinished(string)      {}
