package services

import (
	"encoding/json"
	"time"

	domain "github.com/chicken-store/orders-api/internal/domain"
)

// OrderSnapshot is the wire form of an order shared by the realtime push,
// the event mirror and the history archive.
type OrderSnapshot struct {
	ID          string              `json:"id"`
	OrderNumber string              `json:"order_number"`
	BuyerID     string              `json:"buyer_id"`
	BuyerName   string              `json:"buyer_name,omitempty"`
	Status      string              `json:"status"`
	TotalWeight string              `json:"total_weight"`
	Notes       string              `json:"notes,omitempty"`
	Items       []OrderItemSnapshot `json:"items"`
	CreatedAt   time.Time           `json:"created_at"`
	UpdatedAt   time.Time           `json:"updated_at"`
	CompletedAt *time.Time          `json:"completed_at,omitempty"`
}

// OrderItemSnapshot is one line of an OrderSnapshot.
type OrderItemSnapshot struct {
	ProductID   string `json:"product_id"`
	ProductName string `json:"product_name"`
	ProductType string `json:"product_type,omitempty"`
	QuantityKg  string `json:"quantity_kg"`
}

// SnapshotOrder converts an order to its wire form.
func SnapshotOrder(o Order) OrderSnapshot {
	items := make([]OrderItemSnapshot, 0, len(o.Items))
	for _, item := range o.Items {
		items = append(items, OrderItemSnapshot{
			ProductID:   item.ProductID,
			ProductName: item.ProductName,
			ProductType: item.ProductType,
			QuantityKg:  domain.FormatQuantity(item.QuantityKg),
		})
	}
	return OrderSnapshot{
		ID:          o.ID,
		OrderNumber: o.OrderNumber,
		BuyerID:     o.BuyerID,
		BuyerName:   o.Buyer.Name,
		Status:      string(o.Status),
		TotalWeight: domain.FormatQuantity(o.TotalWeight),
		Notes:       o.Notes,
		Items:       items,
		CreatedAt:   o.CreatedAt,
		UpdatedAt:   o.UpdatedAt,
		CompletedAt: o.CompletedAt,
	}
}

// snapshotMap renders the snapshot as a generic document for archive stores.
func snapshotMap(o Order) (map[string]any, error) {
	data, err := json.Marshal(SnapshotOrder(o))
	if err != nil {
		return nil, err
	}
	var out map[string]any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, err
	}
	return out, nil
}
