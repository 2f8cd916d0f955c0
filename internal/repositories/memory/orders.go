package memory

import (
	"context"
	"errors"
	"sort"
	"strings"
	"time"

	domain "github.com/chicken-store/orders-api/internal/domain"
	"github.com/chicken-store/orders-api/internal/platform/pagination"
	"github.com/chicken-store/orders-api/internal/repositories"
)

type orderRepo struct{ s *Store }

func (r orderRepo) Insert(ctx context.Context, order domain.Order) error {
	const op = "orders.insert"
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, exists := r.s.orders[order.ID]; exists {
		return conflict(op, "order %s already exists", order.ID)
	}
	if _, exists := r.s.numbers[order.OrderNumber]; exists {
		return conflict(op, "order number %s already exists", order.OrderNumber)
	}
	r.s.orders[order.ID] = cloneOrder(order)
	r.s.numbers[order.OrderNumber] = order.ID
	id, number := order.ID, order.OrderNumber
	r.s.journal(ctx, func() {
		delete(r.s.orders, id)
		delete(r.s.numbers, number)
	})
	return nil
}

func (r orderRepo) FindByID(_ context.Context, orderID string) (domain.Order, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	o, ok := r.s.orders[orderID]
	if !ok {
		return domain.Order{}, notFound("orders.find", "order %s not found", orderID)
	}
	return cloneOrder(o), nil
}

func (r orderRepo) FindForUpdate(ctx context.Context, orderID string) (domain.Order, error) {
	if !inTx(ctx) {
		return domain.Order{}, errors.New("orders.find_for_update: transaction required")
	}
	r.s.lockRow(ctx, "order:"+orderID)
	return r.FindByID(ctx, orderID)
}

func (r orderRepo) UpdateStatus(ctx context.Context, update repositories.OrderStatusUpdate) error {
	const op = "orders.update_status"
	unlock := r.s.lockRow(ctx, "order:"+update.OrderID)
	defer unlock()

	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	o, ok := r.s.orders[update.OrderID]
	if !ok {
		return notFound(op, "order %s not found", update.OrderID)
	}
	if o.Status != update.From {
		return conflict(op, "order %s is %s, expected %s", o.ID, o.Status, update.From)
	}
	prev := o
	o.Status = update.To
	o.UpdatedAt = update.UpdatedAt
	if update.CompletedAt != nil {
		completed := *update.CompletedAt
		o.CompletedAt = &completed
	}
	r.s.orders[o.ID] = o
	r.s.journal(ctx, func() { r.s.orders[prev.ID] = prev })
	return nil
}

func (r orderRepo) MarkNotified(ctx context.Context, orderID string, messageID string, sentAt time.Time) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	o, ok := r.s.orders[orderID]
	if !ok {
		return notFound("orders.mark_notified", "order %s not found", orderID)
	}
	prev := o
	o.Notification = domain.OrderNotification{Sent: true, MessageID: messageID, SentAt: &sentAt}
	r.s.orders[orderID] = o
	r.s.journal(ctx, func() { r.s.orders[prev.ID] = prev })
	return nil
}

func (r orderRepo) List(_ context.Context, filter repositories.OrderListFilter) (domain.CursorPage[domain.Order], error) {
	cursor, err := pagination.DecodeToken(filter.Pagination.PageToken)
	if err != nil {
		return domain.CursorPage[domain.Order]{}, err
	}
	size := pagination.Normalize(filter.Pagination.PageSize, pagination.Options{})
	search := strings.ToUpper(strings.TrimSpace(filter.Search))

	r.s.mu.Lock()
	matched := make([]domain.Order, 0, len(r.s.orders))
	for _, o := range r.s.orders {
		if filter.BuyerID != "" && o.BuyerID != filter.BuyerID {
			continue
		}
		if len(filter.Statuses) > 0 && !containsStatus(filter.Statuses, o.Status) {
			continue
		}
		if filter.CreatedFrom != nil && o.CreatedAt.Before(*filter.CreatedFrom) {
			continue
		}
		if filter.CreatedTo != nil && !o.CreatedAt.Before(*filter.CreatedTo) {
			continue
		}
		if search != "" && !strings.Contains(o.OrderNumber, search) {
			continue
		}
		if !cursor.IsZero() && !before(o.CreatedAt, o.ID, cursor) {
			continue
		}
		matched = append(matched, cloneOrder(o))
	}
	r.s.mu.Unlock()

	sort.Slice(matched, func(i, j int) bool {
		if !matched[i].CreatedAt.Equal(matched[j].CreatedAt) {
			return matched[i].CreatedAt.After(matched[j].CreatedAt)
		}
		return matched[i].ID > matched[j].ID
	})

	page := domain.CursorPage[domain.Order]{Items: matched}
	if len(matched) > size {
		last := matched[size-1]
		page.NextPageToken, err = pagination.EncodeToken(pagination.Cursor{CreatedAt: last.CreatedAt, ID: last.ID})
		if err != nil {
			return domain.CursorPage[domain.Order]{}, err
		}
		page.Items = matched[:size]
	}
	return page, nil
}

func (r orderRepo) ListCompleted(_ context.Context, from, to time.Time) ([]domain.Order, error) {
	r.s.mu.Lock()
	var orders []domain.Order
	for _, o := range r.s.orders {
		if o.Status != domain.OrderStatusCompleted || o.CompletedAt == nil {
			continue
		}
		if o.CompletedAt.Before(from) || !o.CompletedAt.Before(to) {
			continue
		}
		orders = append(orders, cloneOrder(o))
	}
	r.s.mu.Unlock()

	sort.Slice(orders, func(i, j int) bool {
		if !orders[i].CompletedAt.Equal(*orders[j].CompletedAt) {
			return orders[i].CompletedAt.Before(*orders[j].CompletedAt)
		}
		return orders[i].ID < orders[j].ID
	})
	return orders, nil
}

func containsStatus(statuses []domain.OrderStatus, status domain.OrderStatus) bool {
	for _, s := range statuses {
		if s == status {
			return true
		}
	}
	return false
}

// before reports whether (createdAt, id) sorts after the cursor in descending order.
func before(createdAt time.Time, id string, cursor pagination.Cursor) bool {
	if createdAt.Equal(cursor.CreatedAt) {
		return id < cursor.ID
	}
	return createdAt.Before(cursor.CreatedAt)
}
