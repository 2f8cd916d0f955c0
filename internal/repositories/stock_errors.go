package repositories

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// StockErrorCode enumerates ledger failure causes.
type StockErrorCode string

const (
	// StockErrorInsufficient indicates the requested quantity exceeds the remaining stock.
	StockErrorInsufficient StockErrorCode = "insufficient_stock"
	// StockErrorProductNotFound indicates the product row does not exist.
	StockErrorProductNotFound StockErrorCode = "product_not_found"
)

// StockError wraps ledger failures with machine readable codes.
type StockError struct {
	Op          string
	Code        StockErrorCode
	ProductID   string
	ProductName string
	Available   decimal.Decimal
	Requested   decimal.Decimal
	Err         error
}

// Error implements the error interface.
func (e *StockError) Error() string {
	if e == nil {
		return ""
	}
	var msg string
	switch e.Code {
	case StockErrorInsufficient:
		msg = fmt.Sprintf("insufficient stock for product %s: requested %s, available %s", e.ProductID, e.Requested.StringFixed(2), e.Available.StringFixed(2))
	case StockErrorProductNotFound:
		msg = fmt.Sprintf("product %s not found", e.ProductID)
	default:
		msg = string(e.Code)
	}
	if e.Op != "" {
		return e.Op + ": " + msg
	}
	return msg
}

// Unwrap exposes the underlying error, if any.
func (e *StockError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// IsNotFound reports whether the product is missing.
func (e *StockError) IsNotFound() bool {
	return e != nil && e.Code == StockErrorProductNotFound
}

// IsConflict is always false; insufficient stock is reported through Code.
func (e *StockError) IsConflict() bool { return false }

// IsUnavailable is always false.
func (e *StockError) IsUnavailable() bool { return false }

// NewInsufficientStockError constructs the error returned when a reservation cannot be satisfied.
func NewInsufficientStockError(op string, productID string, productName string, requested, available decimal.Decimal) *StockError {
	return &StockError{
		Op:          op,
		Code:        StockErrorInsufficient,
		ProductID:   productID,
		ProductName: productName,
		Requested:   requested,
		Available:   available,
	}
}

// NewProductNotFoundError constructs the error returned for unknown products.
func NewProductNotFoundError(op string, productID string, err error) *StockError {
	return &StockError{
		Op:        op,
		Code:      StockErrorProductNotFound,
		ProductID: productID,
		Err:       err,
	}
}

var _ RepositoryError = (*StockError)(nil)
