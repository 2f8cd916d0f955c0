package handlers

import (
	"context"
	"errors"
	"math"
	"net/http"

	"github.com/go-chi/chi/v5"

	domain "github.com/chicken-store/orders-api/internal/domain"
	"github.com/chicken-store/orders-api/internal/platform/auth"
	"github.com/chicken-store/orders-api/internal/platform/httpx"
	"github.com/chicken-store/orders-api/internal/services"
)

type productTypePayload struct {
	Orders     int64  `json:"orders"`
	QuantityKg string `json:"quantity_kg"`
}

type dailyStatPayload struct {
	Date            string `json:"date"`
	Count           int64  `json:"count"`
	CompletedWeight string `json:"completed_weight"`
}

type statsMetricsPayload struct {
	TodayCount        int64   `json:"today_count"`
	YesterdayCount    int64   `json:"yesterday_count"`
	DayCountDeltaPct  float64 `json:"day_count_delta_pct"`
	Last7Total        int64   `json:"last7_total"`
	Prev7Total        int64   `json:"prev7_total"`
	WeekCountDeltaPct float64 `json:"week_count_delta_pct"`
}

type statsResponse struct {
	TotalOrders          int64                         `json:"total_orders"`
	TotalCompleted       int64                         `json:"total_completed"`
	TotalWeightCompleted string                        `json:"total_weight_completed"`
	StatusBreakdown      map[string]int64              `json:"status_breakdown"`
	ProductTypeBreakdown map[string]productTypePayload `json:"product_type_breakdown"`
	Last7Days            []dailyStatPayload            `json:"last7_days"`
	Metrics              statsMetricsPayload           `json:"metrics"`
	GeneratedAt          string                        `json:"generated_at"`
}

// StatsHandlers serves the seller dashboard.
type StatsHandlers struct {
	authn *auth.Authenticator
	stats services.StatsService
}

// NewStatsHandlers constructs stats handlers.
func NewStatsHandlers(authn *auth.Authenticator, stats services.StatsService) *StatsHandlers {
	return &StatsHandlers{authn: authn, stats: stats}
}

// Routes registers the /stats endpoint.
func (h *StatsHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	if h.authn != nil {
		r.Use(h.authn.RequireAuth(auth.RoleSeller))
	}
	r.Get("/", h.summary)
}

func (h *StatsHandlers) summary(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.stats == nil {
		httpx.WriteError(ctx, w, httpx.NewError(httpx.CodeUnavailable, "stats service unavailable", http.StatusServiceUnavailable))
		return
	}
	identity, ok := requireIdentity(w, r)
	if !ok {
		return
	}

	stats, err := h.stats.Summary(ctx, identity.Roles)
	if err != nil {
		writeStatsError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, buildStatsResponse(stats))
}

func buildStatsResponse(stats services.OrderStats) statsResponse {
	breakdown := make(map[string]int64, len(stats.StatusBreakdown))
	for status, count := range stats.StatusBreakdown {
		breakdown[string(status)] = count
	}
	types := make(map[string]productTypePayload, len(stats.ProductTypeBreakdown))
	for name, totals := range stats.ProductTypeBreakdown {
		types[name] = productTypePayload{
			Orders:     totals.Orders,
			QuantityKg: domain.FormatQuantity(totals.QuantityKg),
		}
	}
	days := make([]dailyStatPayload, 0, len(stats.Last7Days))
	for _, day := range stats.Last7Days {
		days = append(days, dailyStatPayload{
			Date:            day.Date.Format(dateLayout),
			Count:           day.Count,
			CompletedWeight: domain.FormatQuantity(day.CompletedWeight),
		})
	}
	m := stats.Metrics
	return statsResponse{
		TotalOrders:          stats.TotalOrders,
		TotalCompleted:       stats.TotalCompleted,
		TotalWeightCompleted: domain.FormatQuantity(stats.TotalWeightCompleted),
		StatusBreakdown:      breakdown,
		ProductTypeBreakdown: types,
		Last7Days:            days,
		Metrics: statsMetricsPayload{
			TodayCount:        m.TodayCount,
			YesterdayCount:    m.YesterdayCount,
			DayCountDeltaPct:  roundPct(m.DayCountDeltaPct),
			Last7Total:        m.Last7Total,
			Prev7Total:        m.Prev7Total,
			WeekCountDeltaPct: roundPct(m.WeekCountDeltaPct),
		},
		GeneratedAt: formatTime(stats.GeneratedAt),
	}
}

func roundPct(v float64) float64 {
	return math.Round(v*100) / 100
}

func writeStatsError(ctx context.Context, w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, services.ErrStatsPermissionDenied):
		httpx.WriteError(ctx, w, httpx.Forbidden("you do not have permission to perform this action"))
	case errors.Is(err, services.ErrStatsUnavailable):
		httpx.WriteError(ctx, w, httpx.NewError(httpx.CodeUnavailable, "statistics unavailable", http.StatusServiceUnavailable))
	default:
		httpx.WriteError(ctx, w, httpx.Internal())
	}
}
