package firestore

import (
	"context"
	"errors"
	"strings"
	"time"

	domain "github.com/chicken-store/orders-api/internal/domain"
	pfirestore "github.com/chicken-store/orders-api/internal/platform/firestore"
	"github.com/chicken-store/orders-api/internal/repositories"
)

const defaultHistoryCollection = "order_history"

// OrderHistoryRepository archives finished orders as write-once Firestore documents keyed by order id.
type OrderHistoryRepository struct {
	provider   *pfirestore.Provider
	collection string
}

var _ repositories.OrderHistoryRepository = (*OrderHistoryRepository)(nil)

// NewOrderHistoryRepository constructs a Firestore-backed history archive.
func NewOrderHistoryRepository(provider *pfirestore.Provider, collection string) (*OrderHistoryRepository, error) {
	if provider == nil {
		return nil, errors.New("order history repository requires firestore provider")
	}
	collection = strings.TrimSpace(collection)
	if collection == "" {
		collection = defaultHistoryCollection
	}
	return &OrderHistoryRepository{provider: provider, collection: collection}, nil
}

type historyDocument struct {
	HistoryID  string         `firestore:"historyId"`
	OrderID    string         `firestore:"orderId"`
	BuyerID    string         `firestore:"buyerId"`
	Status     string         `firestore:"status"`
	Snapshot   map[string]any `firestore:"snapshot"`
	ArchivedAt time.Time      `firestore:"archivedAt"`
}

// Append creates the archive document. An existing document for the order is left untouched.
func (r *OrderHistoryRepository) Append(ctx context.Context, entry domain.OrderHistory) error {
	client, err := r.provider.Client(ctx)
	if err != nil {
		return pfirestore.WrapError("order_history.client", err)
	}

	doc := historyDocument{
		HistoryID:  entry.ID,
		OrderID:    entry.OrderID,
		BuyerID:    entry.BuyerID,
		Status:     string(entry.Status),
		Snapshot:   entry.Snapshot,
		ArchivedAt: entry.CreatedAt.UTC(),
	}
	_, err = client.Collection(r.collection).Doc(entry.OrderID).Create(ctx, doc)
	if err == nil {
		return nil
	}
	wrapped := pfirestore.WrapError("order_history.append", err)
	var fsErr *pfirestore.Error
	if errors.As(wrapped, &fsErr) && fsErr.IsAlreadyExists() {
		return nil
	}
	return wrapped
}

// Get returns the archived snapshot for orderID.
func (r *OrderHistoryRepository) Get(ctx context.Context, orderID string) (domain.OrderHistory, error) {
	client, err := r.provider.Client(ctx)
	if err != nil {
		return domain.OrderHistory{}, pfirestore.WrapError("order_history.client", err)
	}
	snap, err := client.Collection(r.collection).Doc(orderID).Get(ctx)
	if err != nil {
		return domain.OrderHistory{}, pfirestore.WrapError("order_history.get", err)
	}
	var doc historyDocument
	if err := snap.DataTo(&doc); err != nil {
		return domain.OrderHistory{}, pfirestore.WrapError("order_history.decode", err)
	}
	return domain.OrderHistory{
		ID:        doc.HistoryID,
		OrderID:   doc.OrderID,
		BuyerID:   doc.BuyerID,
		Status:    domain.OrderStatus(doc.Status),
		Snapshot:  doc.Snapshot,
		CreatedAt: doc.ArchivedAt,
	}, nil
}
