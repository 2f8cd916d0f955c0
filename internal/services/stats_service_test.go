package services

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	domain "github.com/chicken-store/orders-api/internal/domain"
	"github.com/chicken-store/orders-api/internal/repositories"
)

type stubStatsRepo struct {
	byStatus map[domain.OrderStatus]int64
	weight   decimal.Decimal
	byType   map[string]domain.ProductTypeTotals
	rows     []repositories.OrderSummaryRow
	err      error
	from, to time.Time
}

func (s *stubStatsRepo) CountByStatus(context.Context) (map[domain.OrderStatus]int64, error) {
	return s.byStatus, nil
}

func (s *stubStatsRepo) CompletedWeight(context.Context) (decimal.Decimal, error) {
	return s.weight, nil
}

func (s *stubStatsRepo) ProductTypeTotals(context.Context) (map[string]domain.ProductTypeTotals, error) {
	return s.byType, s.err
}

func (s *stubStatsRepo) CreatedBetween(_ context.Context, from, to time.Time) ([]repositories.OrderSummaryRow, error) {
	s.from, s.to = from, to
	var out []repositories.OrderSummaryRow
	for _, row := range s.rows {
		if !row.CreatedAt.Before(from) && row.CreatedAt.Before(to) {
			out = append(out, row)
		}
	}
	return out, nil
}

func TestDeltaPercent(t *testing.T) {
	cases := []struct {
		cur, base int64
		want      float64
	}{
		{cur: 0, base: 0, want: 0},
		{cur: 4, base: 0, want: 100},
		{cur: 5, base: 3, want: 66.6667},
		{cur: 1, base: 4, want: -75},
		{cur: 4, base: 4, want: 0},
	}
	for _, tc := range cases {
		if got := DeltaPercent(tc.cur, tc.base); math.Abs(got-tc.want) > 0.001 {
			t.Fatalf("DeltaPercent(%d, %d) = %f, want %f", tc.cur, tc.base, got, tc.want)
		}
	}
}

func TestStatsSummaryTrendAndMetrics(t *testing.T) {
	loc := time.FixedZone("WIB", 7*3600)
	// 2025-03-10 16:30 WIB.
	now := testNow
	today := time.Date(2025, 3, 10, 0, 0, 0, 0, loc)

	var rows []repositories.OrderSummaryRow
	add := func(day time.Time, n int, status domain.OrderStatus, weight string) {
		for i := 0; i < n; i++ {
			rows = append(rows, repositories.OrderSummaryRow{
				OrderID:     "ord",
				Status:      status,
				TotalWeight: qty(weight),
				CreatedAt:   day.Add(time.Duration(i) * time.Hour),
			})
		}
	}
	add(today, 4, domain.OrderStatusPending, "1")
	add(today, 1, domain.OrderStatusCompleted, "2.5")
	add(today.AddDate(0, 0, -1), 3, domain.OrderStatusCompleted, "1")
	add(today.AddDate(0, 0, -6), 2, domain.OrderStatusCancelled, "1")
	add(today.AddDate(0, 0, -7), 6, domain.OrderStatusCompleted, "1")
	add(today.AddDate(0, 0, -13), 1, domain.OrderStatusCompleted, "1")
	add(today.AddDate(0, 0, -14), 9, domain.OrderStatusCompleted, "1")

	repo := &stubStatsRepo{
		byStatus: map[domain.OrderStatus]int64{domain.OrderStatusPending: 4, domain.OrderStatusCompleted: 11, domain.OrderStatusCancelled: 2},
		weight:   qty("12.5"),
		byType:   map[string]domain.ProductTypeTotals{"fresh": {Orders: 17, QuantityKg: qty("20")}},
		rows:     rows,
	}
	svc, err := NewStatsService(StatsServiceDeps{Stats: repo, BusinessLocation: loc, Clock: func() time.Time { return now }})
	if err != nil {
		t.Fatalf("NewStatsService: %v", err)
	}

	stats, err := svc.Summary(context.Background(), sellerRoles)
	if err != nil {
		t.Fatalf("Summary: %v", err)
	}

	if !repo.from.Equal(today.AddDate(0, 0, -13)) || !repo.to.Equal(today.AddDate(0, 0, 1)) {
		t.Fatalf("unexpected window %s - %s", repo.from, repo.to)
	}
	if stats.TotalOrders != 17 || stats.TotalCompleted != 11 {
		t.Fatalf("unexpected totals %d/%d", stats.TotalOrders, stats.TotalCompleted)
	}
	if stats.StatusBreakdown[domain.OrderStatusShipping] != 0 || len(stats.StatusBreakdown) != len(domain.OrderStatuses) {
		t.Fatalf("breakdown must list every status: %v", stats.StatusBreakdown)
	}
	if len(stats.Last7Days) != 7 || !stats.Last7Days[6].Date.Equal(today) || !stats.Last7Days[0].Date.Equal(today.AddDate(0, 0, -6)) {
		t.Fatalf("unexpected trend days %+v", stats.Last7Days)
	}
	if stats.Last7Days[6].Count != 5 || domain.FormatQuantity(stats.Last7Days[6].CompletedWeight) != "2.50" {
		t.Fatalf("unexpected today point %+v", stats.Last7Days[6])
	}
	if stats.Last7Days[0].Count != 2 || !stats.Last7Days[0].CompletedWeight.IsZero() {
		t.Fatalf("cancelled orders carry no completed weight: %+v", stats.Last7Days[0])
	}

	m := stats.Metrics
	if m.TodayCount != 5 || m.YesterdayCount != 3 {
		t.Fatalf("unexpected day counts %+v", m)
	}
	if math.Abs(m.DayCountDeltaPct-66.67) > 0.01 {
		t.Fatalf("expected day delta ~66.67, got %f", m.DayCountDeltaPct)
	}
	if m.Last7Total != 10 || m.Prev7Total != 7 {
		t.Fatalf("unexpected week totals %+v", m)
	}
	if math.Abs(m.WeekCountDeltaPct-42.857) > 0.01 {
		t.Fatalf("unexpected week delta %f", m.WeekCountDeltaPct)
	}
}

func TestStatsSummaryRequiresSellerAndPropagatesFailures(t *testing.T) {
	repo := &stubStatsRepo{err: errors.New("db down")}
	svc, _ := NewStatsService(StatsServiceDeps{Stats: repo})

	if _, err := svc.Summary(context.Background(), []string{RoleBuyer}); !errors.Is(err, ErrStatsPermissionDenied) {
		t.Fatalf("expected permission denied, got %v", err)
	}
	if _, err := svc.Summary(context.Background(), sellerRoles); !errors.Is(err, ErrStatsUnavailable) {
		t.Fatalf("expected unavailable, got %v", err)
	}
}

func TestStatsSummaryOverMemoryStore(t *testing.T) {
	store := newTestStore(map[string]string{"prd_chicken": "100"})
	svc := newTestOrderService(t, store, OrderServiceDeps{})
	if _, err := svc.CreateOrder(context.Background(), buyerOrder("buyer-1", line("prd_chicken", "2"))); err != nil {
		t.Fatalf("CreateOrder: %v", err)
	}

	stats, err := mustStats(t, store.Stats()).Summary(context.Background(), sellerRoles)
	if err != nil {
		t.Fatalf("Summary: %v", err)
	}
	if stats.TotalOrders != 1 || stats.Metrics.TodayCount != 1 || stats.Metrics.DayCountDeltaPct != 100 {
		t.Fatalf("unexpected stats %+v", stats.Metrics)
	}
	if totals := stats.ProductTypeBreakdown["fresh"]; totals.Orders != 1 || domain.FormatQuantity(totals.QuantityKg) != "2.00" {
		t.Fatalf("unexpected product type totals %+v", stats.ProductTypeBreakdown)
	}
}

func mustStats(t *testing.T, repo repositories.StatsRepository) StatsService {
	t.Helper()
	svc, err := NewStatsService(StatsServiceDeps{Stats: repo, Clock: func() time.Time { return testNow }})
	if err != nil {
		t.Fatalf("NewStatsService: %v", err)
	}
	return svc
}
