package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	domain "github.com/chicken-store/orders-api/internal/domain"
	"github.com/chicken-store/orders-api/internal/repositories"
)

const trendDays = 7

var (
	// ErrStatsPermissionDenied indicates the caller is not a seller.
	ErrStatsPermissionDenied = errors.New("stats: permission denied")
	// ErrStatsUnavailable indicates an aggregate query failed.
	ErrStatsUnavailable = errors.New("stats: unavailable")
)

// StatsServiceDeps bundles collaborators for the dashboard aggregator.
type StatsServiceDeps struct {
	Stats            repositories.StatsRepository
	BusinessLocation *time.Location
	Clock            func() time.Time
}

type statsService struct {
	stats    repositories.StatsRepository
	location *time.Location
	clock    func() time.Time
}

var _ StatsService = (*statsService)(nil)

func NewStatsService(deps StatsServiceDeps) (StatsService, error) {
	if deps.Stats == nil {
		return nil, errors.New("stats service: stats repository is required")
	}
	svc := &statsService{stats: deps.Stats, location: deps.BusinessLocation, clock: deps.Clock}
	if svc.location == nil {
		svc.location = time.UTC
	}
	if svc.clock == nil {
		svc.clock = time.Now
	}
	return svc, nil
}

// Summary runs the dashboard queries concurrently and folds them together.
func (s *statsService) Summary(ctx context.Context, actorRoles []string) (OrderStats, error) {
	if !hasRole(actorRoles, RoleSeller) {
		return OrderStats{}, fmt.Errorf("%w: only sellers can view stats", ErrStatsPermissionDenied)
	}

	now := s.clock()
	today := domain.DateIn(now.In(s.location), s.location)
	windowStart := today.AddDate(0, 0, -(2*trendDays - 1))
	windowEnd := today.AddDate(0, 0, 1)

	var (
		byStatus map[domain.OrderStatus]int64
		weight   decimal.Decimal
		byType   map[string]domain.ProductTypeTotals
		recent   []repositories.OrderSummaryRow
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		byStatus, err = s.stats.CountByStatus(gctx)
		return err
	})
	g.Go(func() error {
		var err error
		weight, err = s.stats.CompletedWeight(gctx)
		return err
	})
	g.Go(func() error {
		var err error
		byType, err = s.stats.ProductTypeTotals(gctx)
		return err
	})
	g.Go(func() error {
		var err error
		recent, err = s.stats.CreatedBetween(gctx, windowStart, windowEnd)
		return err
	})
	if err := g.Wait(); err != nil {
		return OrderStats{}, fmt.Errorf("%w: %v", ErrStatsUnavailable, err)
	}

	stats := OrderStats{
		TotalWeightCompleted: weight,
		StatusBreakdown:      make(map[domain.OrderStatus]int64, len(domain.OrderStatuses)),
		ProductTypeBreakdown: byType,
		GeneratedAt:          now.UTC(),
	}
	if stats.ProductTypeBreakdown == nil {
		stats.ProductTypeBreakdown = map[string]domain.ProductTypeTotals{}
	}
	for _, status := range domain.OrderStatuses {
		stats.StatusBreakdown[status] = byStatus[status]
		stats.TotalOrders += byStatus[status]
	}
	stats.TotalCompleted = byStatus[domain.OrderStatusCompleted]

	// Bucket 0 is today-13, bucket 13 is today.
	counts := make([]int64, 2*trendDays)
	weights := make([]decimal.Decimal, 2*trendDays)
	for _, row := range recent {
		day := domain.DateIn(row.CreatedAt.In(s.location), s.location)
		idx := daysBetween(windowStart, day)
		if idx < 0 || idx >= len(counts) {
			continue
		}
		counts[idx]++
		if row.Status == domain.OrderStatusCompleted {
			weights[idx] = weights[idx].Add(row.TotalWeight)
		}
	}

	stats.Last7Days = make([]domain.DailyOrderStat, 0, trendDays)
	for i := trendDays; i < 2*trendDays; i++ {
		stats.Last7Days = append(stats.Last7Days, domain.DailyOrderStat{
			Date:            windowStart.AddDate(0, 0, i),
			Count:           counts[i],
			CompletedWeight: weights[i],
		})
		stats.Metrics.Last7Total += counts[i]
		stats.Metrics.Prev7Total += counts[i-trendDays]
	}
	stats.Metrics.TodayCount = counts[2*trendDays-1]
	stats.Metrics.YesterdayCount = counts[2*trendDays-2]
	stats.Metrics.DayCountDeltaPct = DeltaPercent(stats.Metrics.TodayCount, stats.Metrics.YesterdayCount)
	stats.Metrics.WeekCountDeltaPct = DeltaPercent(stats.Metrics.Last7Total, stats.Metrics.Prev7Total)
	return stats, nil
}

// DeltaPercent compares current against base. A zero base yields 100 when
// anything happened and 0 otherwise.
func DeltaPercent(current, base int64) float64 {
	if base == 0 {
		if current > 0 {
			return 100
		}
		return 0
	}
	return float64(current-base) / float64(base) * 100
}

// daysBetween counts calendar days from a to b, both midnights in the same zone.
func daysBetween(a, b time.Time) int {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	ua := time.Date(ay, am, ad, 0, 0, 0, 0, time.UTC)
	ub := time.Date(by, bm, bd, 0, 0, 0, 0, time.UTC)
	return int(ub.Sub(ua).Hours() / 24)
}
