package mysql

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	domain "github.com/chicken-store/orders-api/internal/domain"
	"github.com/chicken-store/orders-api/internal/platform/database"
	"github.com/chicken-store/orders-api/internal/repositories"
)

// ProductRepository implements the stock ledger on the products table.
type ProductRepository struct {
	db  *gorm.DB
	now func() time.Time
}

var _ repositories.ProductRepository = (*ProductRepository)(nil)

func NewProductRepository(db *gorm.DB) (*ProductRepository, error) {
	if db == nil {
		return nil, errors.New("product repository requires a db handle")
	}
	return &ProductRepository{db: db, now: func() time.Time { return time.Now().UTC() }}, nil
}

func (r *ProductRepository) FindByID(ctx context.Context, productID string) (domain.Product, error) {
	var model productModel
	err := database.Conn(ctx, r.db).Where("id = ?", strings.TrimSpace(productID)).Take(&model).Error
	if err != nil {
		return domain.Product{}, database.WrapError("products.find", err)
	}
	return productToDomain(model), nil
}

// Reserve performs the guarded decrement in a single statement. The row stays
// locked by the surrounding transaction until it ends.
func (r *ProductRepository) Reserve(ctx context.Context, productID string, qty decimal.Decimal) (domain.StockLevel, error) {
	const op = "products.reserve"
	db := database.Conn(ctx, r.db)

	res := db.Model(&productModel{}).
		Where("id = ? AND stock_kg >= ?", productID, qty).
		UpdateColumns(map[string]any{
			"stock_kg":   gorm.Expr("stock_kg - ?", qty),
			"updated_at": r.now(),
		})
	if res.Error != nil {
		return domain.StockLevel{}, database.WrapError(op, res.Error)
	}

	current, err := r.level(db, op, productID)
	if err != nil {
		return domain.StockLevel{}, err
	}
	if res.RowsAffected == 0 {
		return domain.StockLevel{}, repositories.NewInsufficientStockError(op, productID, current.ProductName, qty, current.StockKg)
	}
	return current, nil
}

func (r *ProductRepository) Restore(ctx context.Context, productID string, qty decimal.Decimal) (domain.StockLevel, error) {
	const op = "products.restore"
	db := database.Conn(ctx, r.db)

	res := db.Model(&productModel{}).
		Where("id = ?", productID).
		UpdateColumns(map[string]any{
			"stock_kg":   gorm.Expr("stock_kg + ?", qty),
			"updated_at": r.now(),
		})
	if res.Error != nil {
		return domain.StockLevel{}, database.WrapError(op, res.Error)
	}
	if res.RowsAffected == 0 {
		return domain.StockLevel{}, repositories.NewProductNotFoundError(op, productID, nil)
	}
	return r.level(db, op, productID)
}

func (r *ProductRepository) level(db *gorm.DB, op string, productID string) (domain.StockLevel, error) {
	var model productModel
	err := db.Select("id", "name", "stock_kg").Where("id = ?", productID).Take(&model).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return domain.StockLevel{}, repositories.NewProductNotFoundError(op, productID, err)
	}
	if err != nil {
		return domain.StockLevel{}, database.WrapError(op, err)
	}
	return domain.StockLevel{
		ProductID:   model.ID,
		ProductName: model.Name,
		StockKg:     model.StockKg,
	}, nil
}
