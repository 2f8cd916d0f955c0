package mysql

import (
	"context"
	"errors"
	"strings"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	domain "github.com/chicken-store/orders-api/internal/domain"
	"github.com/chicken-store/orders-api/internal/platform/database"
	"github.com/chicken-store/orders-api/internal/platform/pagination"
	"github.com/chicken-store/orders-api/internal/repositories"
)

// OrderRepository persists orders and items in MySQL.
type OrderRepository struct {
	db *gorm.DB
}

var _ repositories.OrderRepository = (*OrderRepository)(nil)

func NewOrderRepository(db *gorm.DB) (*OrderRepository, error) {
	if db == nil {
		return nil, errors.New("order repository requires a db handle")
	}
	return &OrderRepository{db: db}, nil
}

func (r *OrderRepository) Insert(ctx context.Context, order domain.Order) error {
	model := orderFromDomain(order)
	if err := database.Conn(ctx, r.db).Create(&model).Error; err != nil {
		return database.WrapError("orders.insert", err)
	}
	return nil
}

func (r *OrderRepository) FindByID(ctx context.Context, orderID string) (domain.Order, error) {
	return r.find(database.Conn(ctx, r.db), "orders.find", orderID)
}

func (r *OrderRepository) FindForUpdate(ctx context.Context, orderID string) (domain.Order, error) {
	if !database.InTx(ctx) {
		return domain.Order{}, errors.New("orders.find_for_update: requires an active transaction")
	}
	db := database.Conn(ctx, r.db).Clauses(clause.Locking{Strength: clause.LockingStrengthUpdate})
	return r.find(db, "orders.find_for_update", orderID)
}

func (r *OrderRepository) find(db *gorm.DB, op string, orderID string) (domain.Order, error) {
	var model orderModel
	err := db.Preload("Items", orderItemsOrder).
		Where("id = ?", strings.TrimSpace(orderID)).
		Take(&model).Error
	if err != nil {
		return domain.Order{}, database.WrapError(op, err)
	}
	return orderToDomain(model), nil
}

func (r *OrderRepository) UpdateStatus(ctx context.Context, update repositories.OrderStatusUpdate) error {
	values := map[string]any{
		"status":     string(update.To),
		"updated_at": update.UpdatedAt,
	}
	if update.CompletedAt != nil {
		values["completed_at"] = *update.CompletedAt
	}
	res := database.Conn(ctx, r.db).Model(&orderModel{}).
		Where("id = ? AND status = ?", update.OrderID, string(update.From)).
		UpdateColumns(values)
	if res.Error != nil {
		return database.WrapError("orders.update_status", res.Error)
	}
	if res.RowsAffected == 0 {
		return database.Conflict("orders.update_status", "order %s is no longer %s", update.OrderID, update.From)
	}
	return nil
}

func (r *OrderRepository) MarkNotified(ctx context.Context, orderID string, messageID string, sentAt time.Time) error {
	res := database.Conn(ctx, r.db).Model(&orderModel{}).
		Where("id = ?", orderID).
		UpdateColumns(map[string]any{
			"notification_sent":       true,
			"notification_message_id": messageID,
			"notification_sent_at":    sentAt,
		})
	if res.Error != nil {
		return database.WrapError("orders.mark_notified", res.Error)
	}
	if res.RowsAffected == 0 {
		return database.NotFound("orders.mark_notified", "order %s not found", orderID)
	}
	return nil
}

func (r *OrderRepository) List(ctx context.Context, filter repositories.OrderListFilter) (domain.CursorPage[domain.Order], error) {
	cursor, err := pagination.DecodeToken(filter.Pagination.PageToken)
	if err != nil {
		return domain.CursorPage[domain.Order]{}, err
	}
	size := pagination.Normalize(filter.Pagination.PageSize, pagination.Options{})

	q := database.Conn(ctx, r.db).Model(&orderModel{})
	if filter.BuyerID != "" {
		q = q.Where("buyer_id = ?", filter.BuyerID)
	}
	if len(filter.Statuses) > 0 {
		statuses := make([]string, 0, len(filter.Statuses))
		for _, s := range filter.Statuses {
			statuses = append(statuses, string(s))
		}
		q = q.Where("status IN ?", statuses)
	}
	if filter.CreatedFrom != nil {
		q = q.Where("created_at >= ?", *filter.CreatedFrom)
	}
	if filter.CreatedTo != nil {
		q = q.Where("created_at < ?", *filter.CreatedTo)
	}
	if search := strings.TrimSpace(filter.Search); search != "" {
		q = q.Where("order_number LIKE ?", "%"+escapeLike(strings.ToUpper(search))+"%")
	}
	q = applyCursor(q, cursor)

	var models []orderModel
	err = q.Preload("Items", orderItemsOrder).
		Order("created_at DESC").Order("id DESC").
		Limit(size + 1).
		Find(&models).Error
	if err != nil {
		return domain.CursorPage[domain.Order]{}, database.WrapError("orders.list", err)
	}

	page := domain.CursorPage[domain.Order]{Items: make([]domain.Order, 0, len(models))}
	if len(models) > size {
		last := models[size-1]
		page.NextPageToken, err = pagination.EncodeToken(pagination.Cursor{CreatedAt: last.CreatedAt, ID: last.ID})
		if err != nil {
			return domain.CursorPage[domain.Order]{}, err
		}
		models = models[:size]
	}
	for _, m := range models {
		page.Items = append(page.Items, orderToDomain(m))
	}
	return page, nil
}

func (r *OrderRepository) ListCompleted(ctx context.Context, from, to time.Time) ([]domain.Order, error) {
	var models []orderModel
	err := database.Conn(ctx, r.db).
		Preload("Items", orderItemsOrder).
		Where("status = ? AND completed_at >= ? AND completed_at < ?", string(domain.OrderStatusCompleted), from.UTC(), to.UTC()).
		Order("completed_at ASC").Order("id ASC").
		Find(&models).Error
	if err != nil {
		return nil, database.WrapError("orders.list_completed", err)
	}
	orders := make([]domain.Order, 0, len(models))
	for _, m := range models {
		orders = append(orders, orderToDomain(m))
	}
	return orders, nil
}

func orderItemsOrder(db *gorm.DB) *gorm.DB {
	return db.Order("created_at ASC").Order("id ASC")
}

func applyCursor(q *gorm.DB, cursor pagination.Cursor) *gorm.DB {
	if cursor.IsZero() {
		return q
	}
	return q.Where("(created_at < ? OR (created_at = ? AND id < ?))", cursor.CreatedAt, cursor.CreatedAt, cursor.ID)
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func escapeLike(s string) string {
	return likeEscaper.Replace(s)
}
