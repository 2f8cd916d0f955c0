package mysql

import (
	"time"

	"github.com/shopspring/decimal"

	domain "github.com/chicken-store/orders-api/internal/domain"
)

type productModel struct {
	ID          string          `gorm:"primaryKey;size:64"`
	Name        string          `gorm:"size:200;not null"`
	ProductType string          `gorm:"size:32;not null;index"`
	StockKg     decimal.Decimal `gorm:"type:decimal(10,2);not null;default:0;check:chk_products_stock,stock_kg >= 0"`
	IsAvailable bool            `gorm:"not null;default:true"`
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

func (productModel) TableName() string {
	return "products"
}

type orderModel struct {
	ID                    string          `gorm:"primaryKey;size:32"`
	OrderNumber           string          `gorm:"size:12;not null;uniqueIndex"`
	BuyerID               string          `gorm:"size:128;not null;index:idx_orders_buyer_created,priority:1"`
	BuyerName             string          `gorm:"size:200"`
	BuyerPhone            string          `gorm:"size:32"`
	BuyerAddress          string          `gorm:"type:text"`
	Status                string          `gorm:"size:16;not null;index"`
	TotalWeight           decimal.Decimal `gorm:"type:decimal(10,2);not null"`
	Notes                 string          `gorm:"type:text"`
	NotificationSent      bool            `gorm:"not null;default:false"`
	NotificationMessageID string          `gorm:"size:64"`
	NotificationSentAt    *time.Time
	CreatedAt             time.Time        `gorm:"not null;index;index:idx_orders_buyer_created,priority:2"`
	UpdatedAt             time.Time        `gorm:"not null"`
	CompletedAt           *time.Time       `gorm:"index"`
	Items                 []orderItemModel `gorm:"foreignKey:OrderID;constraint:OnDelete:CASCADE"`
}

func (orderModel) TableName() string {
	return "orders"
}

type orderItemModel struct {
	ID          string          `gorm:"primaryKey;size:32"`
	OrderID     string          `gorm:"size:32;not null;index"`
	ProductID   string          `gorm:"size:64;not null;index"`
	ProductName string          `gorm:"size:200"`
	ProductType string          `gorm:"size:32;index"`
	QuantityKg  decimal.Decimal `gorm:"type:decimal(10,2);not null"`
	CreatedAt   time.Time
}

func (orderItemModel) TableName() string {
	return "order_items"
}

type reportModel struct {
	ID           string     `gorm:"primaryKey;size:32"`
	ReportType   string     `gorm:"size:10;not null"`
	StartDate    time.Time  `gorm:"type:date;not null"`
	EndDate      *time.Time `gorm:"type:date"`
	FilePath     string     `gorm:"size:255"`
	Status       string     `gorm:"size:10;not null;index"`
	ErrorMessage string     `gorm:"type:text"`
	CreatedBy    string     `gorm:"size:128;not null;index:idx_reports_creator_created,priority:1"`
	CreatedAt    time.Time  `gorm:"not null;index:idx_reports_creator_created,priority:2"`
	UpdatedAt    time.Time
}

func (reportModel) TableName() string {
	return "order_reports"
}

type orderHistoryModel struct {
	ID        string `gorm:"primaryKey;size:32"`
	OrderID   string `gorm:"size:32;not null;uniqueIndex"`
	BuyerID   string `gorm:"size:128;not null;index"`
	Status    string `gorm:"size:16;not null"`
	Snapshot  []byte `gorm:"type:json"`
	CreatedAt time.Time
}

func (orderHistoryModel) TableName() string {
	return "order_history"
}

func productToDomain(m productModel) domain.Product {
	return domain.Product{
		ID:          m.ID,
		Name:        m.Name,
		ProductType: m.ProductType,
		StockKg:     m.StockKg,
		IsAvailable: m.IsAvailable,
		CreatedAt:   m.CreatedAt.UTC(),
		UpdatedAt:   m.UpdatedAt.UTC(),
	}
}

func orderFromDomain(o domain.Order) orderModel {
	m := orderModel{
		ID:                    o.ID,
		OrderNumber:           o.OrderNumber,
		BuyerID:               o.BuyerID,
		BuyerName:             o.Buyer.Name,
		BuyerPhone:            o.Buyer.Phone,
		BuyerAddress:          o.Buyer.Address,
		Status:                string(o.Status),
		TotalWeight:           o.TotalWeight,
		Notes:                 o.Notes,
		NotificationSent:      o.Notification.Sent,
		NotificationMessageID: o.Notification.MessageID,
		NotificationSentAt:    o.Notification.SentAt,
		CreatedAt:             o.CreatedAt,
		UpdatedAt:             o.UpdatedAt,
		CompletedAt:           o.CompletedAt,
	}
	m.Items = make([]orderItemModel, 0, len(o.Items))
	for _, item := range o.Items {
		m.Items = append(m.Items, orderItemModel{
			ID:          item.ID,
			OrderID:     o.ID,
			ProductID:   item.ProductID,
			ProductName: item.ProductName,
			ProductType: item.ProductType,
			QuantityKg:  item.QuantityKg,
			CreatedAt:   item.CreatedAt,
		})
	}
	return m
}

func orderToDomain(m orderModel) domain.Order {
	o := domain.Order{
		ID:          m.ID,
		OrderNumber: m.OrderNumber,
		BuyerID:     m.BuyerID,
		Buyer: domain.BuyerContact{
			Name:    m.BuyerName,
			Phone:   m.BuyerPhone,
			Address: m.BuyerAddress,
		},
		Status:      domain.OrderStatus(m.Status),
		TotalWeight: m.TotalWeight,
		Notes:       m.Notes,
		Notification: domain.OrderNotification{
			Sent:      m.NotificationSent,
			MessageID: m.NotificationMessageID,
			SentAt:    utcPtr(m.NotificationSentAt),
		},
		CreatedAt:   m.CreatedAt.UTC(),
		UpdatedAt:   m.UpdatedAt.UTC(),
		CompletedAt: utcPtr(m.CompletedAt),
	}
	o.Items = make([]domain.OrderItem, 0, len(m.Items))
	for _, item := range m.Items {
		o.Items = append(o.Items, domain.OrderItem{
			ID:          item.ID,
			OrderID:     item.OrderID,
			ProductID:   item.ProductID,
			ProductName: item.ProductName,
			ProductType: item.ProductType,
			QuantityKg:  item.QuantityKg,
			CreatedAt:   item.CreatedAt.UTC(),
		})
	}
	return o
}

func reportFromDomain(r domain.OrderReport) reportModel {
	return reportModel{
		ID:           r.ID,
		ReportType:   string(r.ReportType),
		StartDate:    r.StartDate,
		EndDate:      r.EndDate,
		FilePath:     r.FilePath,
		Status:       string(r.Status),
		ErrorMessage: r.ErrorMessage,
		CreatedBy:    r.CreatedBy,
		CreatedAt:    r.CreatedAt,
		UpdatedAt:    r.UpdatedAt,
	}
}

func reportToDomain(m reportModel) domain.OrderReport {
	return domain.OrderReport{
		ID:           m.ID,
		ReportType:   domain.ReportType(m.ReportType),
		StartDate:    m.StartDate.UTC(),
		EndDate:      utcPtr(m.EndDate),
		FilePath:     m.FilePath,
		Status:       domain.ReportStatus(m.Status),
		ErrorMessage: m.ErrorMessage,
		CreatedBy:    m.CreatedBy,
		CreatedAt:    m.CreatedAt.UTC(),
		UpdatedAt:    m.UpdatedAt.UTC(),
	}
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := t.UTC()
	return &v
}
