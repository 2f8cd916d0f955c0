package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/chicken-store/orders-api/internal/platform/auth"
	"github.com/chicken-store/orders-api/internal/platform/httpx"
	"github.com/chicken-store/orders-api/internal/platform/observability"
	"github.com/chicken-store/orders-api/internal/services"
)

type scheduledReportRequest struct {
	Date string `json:"date"`
}

// InternalHandlers serves scheduler callbacks. The router guards the group with OIDC.
type InternalHandlers struct {
	reports services.ReportService
}

// NewInternalHandlers constructs internal handlers.
func NewInternalHandlers(reports services.ReportService) *InternalHandlers {
	return &InternalHandlers{reports: reports}
}

// Routes registers the /internal endpoints.
func (h *InternalHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Post("/reports/daily", h.scheduleDailyReport)
}

func (h *InternalHandlers) scheduleDailyReport(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.reports == nil {
		httpx.WriteError(ctx, w, httpx.NewError(httpx.CodeUnavailable, "report service unavailable", http.StatusServiceUnavailable))
		return
	}

	// Schedulers may post an empty body to mean today.
	var req scheduledReportRequest
	data, err := readLimitedBody(r, maxReportBodySize)
	switch {
	case errors.Is(err, errEmptyBody):
	case err != nil:
		httpx.WriteError(ctx, w, httpx.BadRequest(httpx.CodeInvalidRequest, "unable to read request body"))
		return
	default:
		if err := json.Unmarshal(data, &req); err != nil {
			httpx.WriteError(ctx, w, httpx.BadRequest(httpx.CodeInvalidRequest, "request body must be valid JSON"))
			return
		}
	}

	report, err := h.reports.CreateScheduledDaily(ctx, strings.TrimSpace(req.Date))
	if err != nil {
		writeReportError(ctx, w, err)
		return
	}

	fields := []zap.Field{zap.String("reportID", report.ID), zap.String("status", string(report.Status))}
	if svc, ok := auth.ServiceIdentityFromContext(ctx); ok {
		fields = append(fields, zap.String("caller", svc.Subject))
	}
	observability.FromContext(ctx).Info("scheduled daily report", fields...)

	writeJSONResponse(w, http.StatusAccepted, reportResponse{Report: buildReportPayload(report)})
}
