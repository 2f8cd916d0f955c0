package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Pagination defines standard cursor-based paging inputs for list operations.
type Pagination struct {
	PageSize  int
	PageToken string
}

// RangeQuery represents inclusive range filters for numeric or timestamp fields.
type RangeQuery[T comparable] struct {
	From *T
	To   *T
}

// OrderStatus enumerates lifecycle states for an order.
type OrderStatus string

const (
	// OrderStatusPending is the initial state of every order.
	OrderStatusPending OrderStatus = "pending"
	// OrderStatusReviewing indicates a seller has picked the order up.
	OrderStatusReviewing OrderStatus = "reviewing"
	// OrderStatusProcess indicates the order is being prepared.
	OrderStatusProcess OrderStatus = "process"
	// OrderStatusShipping indicates the order left the warehouse.
	OrderStatusShipping OrderStatus = "shipping"
	// OrderStatusCompleted is terminal; the buyer received the goods.
	OrderStatusCompleted OrderStatus = "completed"
	// OrderStatusCancelled is terminal; reserved stock has been returned.
	OrderStatusCancelled OrderStatus = "cancelled"
)

// OrderStatuses lists every known status in lifecycle order.
var OrderStatuses = []OrderStatus{
	OrderStatusPending,
	OrderStatusReviewing,
	OrderStatusProcess,
	OrderStatusShipping,
	OrderStatusCompleted,
	OrderStatusCancelled,
}

// Valid reports whether the status is one of the known lifecycle states.
func (s OrderStatus) Valid() bool {
	for _, known := range OrderStatuses {
		if s == known {
			return true
		}
	}
	return false
}

// Terminal reports whether no further transitions are possible.
func (s OrderStatus) Terminal() bool {
	return s == OrderStatusCompleted || s == OrderStatusCancelled
}

// Product is the catalog entry orders reserve stock from.
type Product struct {
	ID          string
	Name        string
	ProductType string
	StockKg     decimal.Decimal
	IsAvailable bool
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// StockLevel reports a product's stock after a ledger mutation.
type StockLevel struct {
	ProductID   string
	ProductName string
	StockKg     decimal.Decimal
}

// BuyerContact is the contact snapshot captured when an order is placed.
type BuyerContact struct {
	Name    string
	Phone   string
	Address string
}

// OrderNotification tracks delivery of the merchant notification.
type OrderNotification struct {
	Sent      bool
	MessageID string
	SentAt    *time.Time
}

// Order is the aggregate root binding a buyer to reserved stock.
type Order struct {
	ID           string
	OrderNumber  string
	BuyerID      string
	Buyer        BuyerContact
	Status       OrderStatus
	TotalWeight  decimal.Decimal
	Notes        string
	Items        []OrderItem
	Notification OrderNotification
	CreatedAt    time.Time
	UpdatedAt    time.Time
	CompletedAt  *time.Time
}

// OrderItem is an immutable order line.
type OrderItem struct {
	ID          string
	OrderID     string
	ProductID   string
	ProductName string
	ProductType string
	QuantityKg  decimal.Decimal
	CreatedAt   time.Time
}

// OrderHistory is a write-once archive snapshot of a finished order.
type OrderHistory struct {
	ID        string
	OrderID   string
	BuyerID   string
	Status    OrderStatus
	Snapshot  map[string]any
	CreatedAt time.Time
}

// ReportType selects the date scope of a report job.
type ReportType string

const (
	// ReportTypeDaily covers orders completed on a single date.
	ReportTypeDaily ReportType = "daily"
	// ReportTypeRange covers orders completed within an inclusive date range.
	ReportTypeRange ReportType = "range"
)

// ReportStatus tracks report job progress.
type ReportStatus string

const (
	ReportStatusPending ReportStatus = "pending"
	ReportStatusReady   ReportStatus = "ready"
	ReportStatusFailed  ReportStatus = "failed"
)

// OrderReport is an asynchronous export of completed orders.
type OrderReport struct {
	ID           string
	ReportType   ReportType
	StartDate    time.Time
	EndDate      *time.Time
	FilePath     string
	Status       ReportStatus
	ErrorMessage string
	CreatedBy    string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Window returns the half-open [from, to) instant range covered by the report
// in the supplied business location.
func (r OrderReport) Window(loc *time.Location) (time.Time, time.Time) {
	if loc == nil {
		loc = time.UTC
	}
	from := DateIn(r.StartDate, loc)
	last := from
	if r.ReportType == ReportTypeRange && r.EndDate != nil {
		last = DateIn(*r.EndDate, loc)
	}
	return from, last.AddDate(0, 0, 1)
}

// DateIn re-anchors the calendar date of t at midnight in loc.
func DateIn(t time.Time, loc *time.Location) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, loc)
}

// ProductTypeTotals aggregates order lines for one product type.
type ProductTypeTotals struct {
	Orders     int64
	QuantityKg decimal.Decimal
}

// DailyOrderStat is one point of the seven day trend.
type DailyOrderStat struct {
	Date            time.Time
	Count           int64
	CompletedWeight decimal.Decimal
}

// OrderStatsMetrics carries period-over-period comparisons.
type OrderStatsMetrics struct {
	TodayCount        int64
	YesterdayCount    int64
	DayCountDeltaPct  float64
	Last7Total        int64
	Prev7Total        int64
	WeekCountDeltaPct float64
}

// OrderStats is the seller dashboard summary.
type OrderStats struct {
	TotalOrders          int64
	TotalCompleted       int64
	TotalWeightCompleted decimal.Decimal
	StatusBreakdown      map[OrderStatus]int64
	ProductTypeBreakdown map[string]ProductTypeTotals
	Last7Days            []DailyOrderStat
	Metrics              OrderStatsMetrics
	GeneratedAt          time.Time
}

const (
	// HealthStatusOK indicates all dependencies are healthy.
	HealthStatusOK = "ok"
	// HealthStatusDegraded indicates at least one dependency is degraded but service remains running.
	HealthStatusDegraded = "degraded"
	// HealthStatusError indicates the service or a critical dependency is unavailable.
	HealthStatusError = "error"
)

// SystemHealthCheck describes the outcome of an individual dependency probe.
type SystemHealthCheck struct {
	Status    string
	Detail    string
	Error     string
	Latency   time.Duration
	CheckedAt time.Time
}

// SystemHealthReport aggregates dependency status for health endpoints.
type SystemHealthReport struct {
	Status      string
	Checks      map[string]SystemHealthCheck
	Version     string
	CommitSHA   string
	Environment string
	Uptime      time.Duration
	GeneratedAt time.Time
}

// CursorPage packages list results with an encoded next token.
type CursorPage[T any] struct {
	Items         []T
	NextPageToken string
}
