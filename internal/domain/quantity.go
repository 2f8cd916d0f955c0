package domain

import (
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// QuantityScale is the number of fractional digits kept for kilogram amounts.
const QuantityScale int32 = 2

var (
	// ErrQuantityNotPositive is returned for zero or negative quantities.
	ErrQuantityNotPositive = errors.New("quantity must be greater than zero")
	// ErrQuantityPrecision is returned when a quantity carries more than two decimals.
	ErrQuantityPrecision = errors.New("quantity supports at most two decimal places")
)

// ParseQuantity parses a kilogram amount such as "2.5".
func ParseQuantity(raw string) (decimal.Decimal, error) {
	value, err := decimal.NewFromString(strings.TrimSpace(raw))
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid quantity %q", raw)
	}
	if err := ValidateQuantity(value); err != nil {
		return decimal.Zero, err
	}
	return value, nil
}

// ValidateQuantity enforces a positive amount with at most two decimals.
func ValidateQuantity(value decimal.Decimal) error {
	if !value.IsPositive() {
		return ErrQuantityNotPositive
	}
	if !value.Equal(value.Truncate(QuantityScale)) {
		return ErrQuantityPrecision
	}
	return nil
}

// SumQuantities returns the total of all item quantities.
func SumQuantities(items []OrderItem) decimal.Decimal {
	total := decimal.Zero
	for _, item := range items {
		total = total.Add(item.QuantityKg)
	}
	return total
}

// FormatQuantity renders a quantity with exactly two decimals.
func FormatQuantity(value decimal.Decimal) string {
	return value.StringFixed(QuantityScale)
}
