package services

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/shopspring/decimal"

	domain "github.com/chicken-store/orders-api/internal/domain"
	"github.com/chicken-store/orders-api/internal/repositories"
)

var (
	// ErrOrderInsufficientStock indicates a requested quantity exceeds the remaining stock.
	ErrOrderInsufficientStock = errors.New("order: insufficient stock")
	// ErrOrderProductNotFound indicates an order line references an unknown product.
	ErrOrderProductNotFound = errors.New("order: product not found")
)

// InsufficientStockError names the product that could not be reserved.
type InsufficientStockError struct {
	ProductID   string
	ProductName string
	Requested   decimal.Decimal
	Available   decimal.Decimal
}

func (e *InsufficientStockError) Error() string {
	name := e.ProductName
	if name == "" {
		name = e.ProductID
	}
	return fmt.Sprintf("%s: %s has %s kg available, %s kg requested",
		ErrOrderInsufficientStock, name, domain.FormatQuantity(e.Available), domain.FormatQuantity(e.Requested))
}

func (e *InsufficientStockError) Unwrap() error { return ErrOrderInsufficientStock }

// reservation is the ledger outcome for one product.
type reservation struct {
	Product domain.Product
	Qty     decimal.Decimal
}

// stockLedger composes single-row ledger statements into order-level operations.
// It must run inside the caller's transaction.
type stockLedger struct {
	products repositories.ProductRepository
	metrics  Metrics
}

// ReserveAll reserves every line in ascending product id order so concurrent
// orders acquire row locks in the same sequence.
func (l stockLedger) ReserveAll(ctx context.Context, lines []OrderLineInput) ([]reservation, error) {
	sorted := slices.Clone(lines)
	slices.SortFunc(sorted, func(a, b OrderLineInput) int { return strings.Compare(a.ProductID, b.ProductID) })

	out := make([]reservation, 0, len(sorted))
	for _, line := range sorted {
		product, err := l.products.FindByID(ctx, line.ProductID)
		if err != nil {
			l.metrics.StockReservation("not_found")
			return nil, mapStockError(err)
		}
		if !product.IsAvailable {
			l.metrics.StockReservation("unavailable")
			return nil, fmt.Errorf("%w: %s is not available", ErrOrderProductNotFound, product.ID)
		}
		if _, err := l.products.Reserve(ctx, line.ProductID, line.QuantityKg); err != nil {
			l.metrics.StockReservation("rejected")
			return nil, mapStockError(err)
		}
		l.metrics.StockReservation("reserved")
		out = append(out, reservation{Product: product, Qty: line.QuantityKg})
	}
	return out, nil
}

// RestoreAll returns each item's quantity to its product.
func (l stockLedger) RestoreAll(ctx context.Context, items []domain.OrderItem) error {
	sorted := slices.Clone(items)
	slices.SortFunc(sorted, func(a, b domain.OrderItem) int { return strings.Compare(a.ProductID, b.ProductID) })
	for _, item := range sorted {
		if _, err := l.products.Restore(ctx, item.ProductID, item.QuantityKg); err != nil {
			return fmt.Errorf("restore %s: %w", item.ProductID, err)
		}
	}
	return nil
}

func mapStockError(err error) error {
	var stockErr *repositories.StockError
	if errors.As(err, &stockErr) {
		switch stockErr.Code {
		case repositories.StockErrorInsufficient:
			return &InsufficientStockError{
				ProductID:   stockErr.ProductID,
				ProductName: stockErr.ProductName,
				Requested:   stockErr.Requested,
				Available:   stockErr.Available,
			}
		case repositories.StockErrorProductNotFound:
			return fmt.Errorf("%w: %s", ErrOrderProductNotFound, stockErr.ProductID)
		}
	}
	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) && repoErr.IsNotFound() {
		return fmt.Errorf("%w: %v", ErrOrderProductNotFound, err)
	}
	return err
}
