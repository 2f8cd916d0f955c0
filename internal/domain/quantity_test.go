package domain

import (
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func TestParseQuantity(t *testing.T) {
	cases := []struct {
		raw     string
		want    string
		wantErr error
	}{
		{raw: "2.5", want: "2.50"},
		{raw: " 10 ", want: "10.00"},
		{raw: "0", wantErr: ErrQuantityNotPositive},
		{raw: "-1", wantErr: ErrQuantityNotPositive},
		{raw: "1.234", wantErr: ErrQuantityPrecision},
	}
	for _, tc := range cases {
		got, err := ParseQuantity(tc.raw)
		if tc.wantErr != nil {
			if !errors.Is(err, tc.wantErr) {
				t.Fatalf("ParseQuantity(%q) expected %v, got %v", tc.raw, tc.wantErr, err)
			}
			continue
		}
		if err != nil {
			t.Fatalf("ParseQuantity(%q): %v", tc.raw, err)
		}
		if FormatQuantity(got) != tc.want {
			t.Fatalf("ParseQuantity(%q) = %s, want %s", tc.raw, FormatQuantity(got), tc.want)
		}
	}

	if _, err := ParseQuantity("abc"); err == nil {
		t.Fatalf("expected error for non numeric quantity")
	}
}

func TestSumQuantities(t *testing.T) {
	items := []OrderItem{
		{QuantityKg: decimal.RequireFromString("1.25")},
		{QuantityKg: decimal.RequireFromString("2.75")},
	}
	if got := SumQuantities(items); !got.Equal(decimal.NewFromInt(4)) {
		t.Fatalf("expected 4, got %s", got)
	}
}

func TestOrderReportWindow(t *testing.T) {
	loc := time.FixedZone("WIB", 7*3600)
	start := time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC)
	end := time.Date(2025, 3, 12, 0, 0, 0, 0, time.UTC)

	daily := OrderReport{ReportType: ReportTypeDaily, StartDate: start, EndDate: &end}
	from, to := daily.Window(loc)
	if !from.Equal(time.Date(2025, 3, 10, 0, 0, 0, 0, loc)) || !to.Equal(time.Date(2025, 3, 11, 0, 0, 0, 0, loc)) {
		t.Fatalf("unexpected daily window %s - %s", from, to)
	}

	ranged := OrderReport{ReportType: ReportTypeRange, StartDate: start, EndDate: &end}
	from, to = ranged.Window(loc)
	if !from.Equal(time.Date(2025, 3, 10, 0, 0, 0, 0, loc)) || !to.Equal(time.Date(2025, 3, 13, 0, 0, 0, 0, loc)) {
		t.Fatalf("unexpected range window %s - %s", from, to)
	}
}

func TestOrderStatusPredicates(t *testing.T) {
	if !OrderStatusCompleted.Terminal() || !OrderStatusCancelled.Terminal() {
		t.Fatalf("completed and cancelled must be terminal")
	}
	if OrderStatusShipping.Terminal() {
		t.Fatalf("shipping must not be terminal")
	}
	if OrderStatus("paid").Valid() {
		t.Fatalf("unknown status reported valid")
	}
}
