package handlers

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	domain "github.com/chicken-store/orders-api/internal/domain"
	"github.com/chicken-store/orders-api/internal/platform/auth"
	"github.com/chicken-store/orders-api/internal/platform/httpx"
	"github.com/chicken-store/orders-api/internal/platform/observability"
	"github.com/chicken-store/orders-api/internal/services"
)

const maxReportBodySize = 2 * 1024

type createReportRequest struct {
	ReportType string `json:"report_type"`
	StartDate  string `json:"start_date"`
	EndDate    string `json:"end_date"`
}

type reportPayload struct {
	ID           string `json:"id"`
	ReportType   string `json:"report_type"`
	StartDate    string `json:"start_date"`
	EndDate      string `json:"end_date,omitempty"`
	Status       string `json:"status"`
	ErrorMessage string `json:"error_message,omitempty"`
	CreatedAt    string `json:"created_at"`
	UpdatedAt    string `json:"updated_at"`
}

type reportResponse struct {
	Report reportPayload `json:"report"`
}

type reportListResponse struct {
	Items         []reportPayload `json:"items"`
	NextPageToken string          `json:"next_page_token,omitempty"`
}

// ReportHandlers exposes seller report creation, listing and download.
type ReportHandlers struct {
	authn   *auth.Authenticator
	reports services.ReportService
	quota   *reportQuota
}

// ReportHandlerOption customises report handlers.
type ReportHandlerOption func(*ReportHandlers)

// WithReportRateLimit caps report creation per seller within window.
func WithReportRateLimit(limit int, window time.Duration, clock func() time.Time) ReportHandlerOption {
	return func(h *ReportHandlers) {
		h.quota = newReportQuota(limit, window, clock)
	}
}

// NewReportHandlers constructs report handlers.
func NewReportHandlers(authn *auth.Authenticator, reports services.ReportService, opts ...ReportHandlerOption) *ReportHandlers {
	h := &ReportHandlers{
		authn:   authn,
		reports: reports,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	return h
}

// Routes registers the /reports endpoints.
func (h *ReportHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	if h.authn != nil {
		r.Use(h.authn.RequireAuth(auth.RoleSeller))
	}
	r.Post("/", h.createReport)
	r.With(listPage).Get("/", h.listReports)
	r.Get("/{reportID}/download", h.downloadReport)
}

func (h *ReportHandlers) createReport(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.reports == nil {
		httpx.WriteError(ctx, w, httpx.NewError(httpx.CodeUnavailable, "report service unavailable", http.StatusServiceUnavailable))
		return
	}
	identity, ok := requireIdentity(w, r)
	if !ok {
		return
	}
	if ok, wait := h.quota.Take(identity.UID); !ok {
		w.Header().Set("Retry-After", strconv.Itoa(retryAfterSeconds(wait)))
		httpx.WriteError(ctx, w, httpx.NewError(httpx.CodeRateLimited, "too many report requests; try again shortly", http.StatusTooManyRequests))
		return
	}

	var req createReportRequest
	if !decodeJSONBody(w, r, maxReportBodySize, &req) {
		return
	}

	report, err := h.reports.CreateReport(ctx, services.CreateReportCommand{
		ActorID:    identity.UID,
		ActorRoles: identity.Roles,
		ReportType: domain.ReportType(strings.ToLower(strings.TrimSpace(req.ReportType))),
		StartDate:  strings.TrimSpace(req.StartDate),
		EndDate:    strings.TrimSpace(req.EndDate),
	})
	if err != nil {
		writeReportError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusCreated, reportResponse{Report: buildReportPayload(report)})
}

func (h *ReportHandlers) listReports(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.reports == nil {
		httpx.WriteError(ctx, w, httpx.NewError(httpx.CodeUnavailable, "report service unavailable", http.StatusServiceUnavailable))
		return
	}
	identity, ok := requireIdentity(w, r)
	if !ok {
		return
	}
	page, ok := pageParams(w, r)
	if !ok {
		return
	}

	result, err := h.reports.ListReports(ctx, services.ListReportsQuery{
		ActorID:    identity.UID,
		ActorRoles: identity.Roles,
		Pagination: services.Pagination{PageSize: page.PageSize, PageToken: page.PageToken},
	})
	if err != nil {
		writeReportError(ctx, w, err)
		return
	}

	items := make([]reportPayload, 0, len(result.Items))
	for _, report := range result.Items {
		items = append(items, buildReportPayload(report))
	}
	writeJSONResponse(w, http.StatusOK, reportListResponse{
		Items:         items,
		NextPageToken: strings.TrimSpace(result.NextPageToken),
	})
}

func (h *ReportHandlers) downloadReport(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.reports == nil {
		httpx.WriteError(ctx, w, httpx.NewError(httpx.CodeUnavailable, "report service unavailable", http.StatusServiceUnavailable))
		return
	}
	identity, ok := requireIdentity(w, r)
	if !ok {
		return
	}
	reportID := strings.TrimSpace(chi.URLParam(r, "reportID"))
	if reportID == "" {
		httpx.WriteError(ctx, w, httpx.BadRequest(httpx.CodeInvalidRequest, "report id is required"))
		return
	}

	file, err := h.reports.OpenReport(ctx, services.OpenReportQuery{
		ReportID:   reportID,
		ActorID:    identity.UID,
		ActorRoles: identity.Roles,
	})
	if err != nil {
		writeReportError(ctx, w, err)
		return
	}
	defer file.Body.Close()

	w.Header().Set("Content-Type", file.ContentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", file.FileName))
	if file.Size > 0 {
		w.Header().Set("Content-Length", strconv.FormatInt(file.Size, 10))
	}
	w.WriteHeader(http.StatusOK)
	if _, err := io.Copy(w, file.Body); err != nil {
		observability.FromContext(ctx).Warn("report download interrupted",
			zap.String("reportID", reportID),
			zap.Error(err),
		)
	}
}

func buildReportPayload(report services.OrderReport) reportPayload {
	payload := reportPayload{
		ID:           report.ID,
		ReportType:   string(report.ReportType),
		StartDate:    report.StartDate.Format(dateLayout),
		Status:       string(report.Status),
		ErrorMessage: report.ErrorMessage,
		CreatedAt:    formatTime(report.CreatedAt),
		UpdatedAt:    formatTime(report.UpdatedAt),
	}
	if report.EndDate != nil {
		payload.EndDate = report.EndDate.Format(dateLayout)
	}
	return payload
}

func writeReportError(ctx context.Context, w http.ResponseWriter, err error) {
	if err == nil {
		return
	}
	switch {
	case errors.Is(err, services.ErrReportInvalidInput):
		httpx.WriteError(ctx, w, httpx.BadRequest(httpx.CodeInvalidRequest, detailMessage(err, services.ErrReportInvalidInput)))
	case errors.Is(err, services.ErrReportNotReady):
		httpx.WriteError(ctx, w, httpx.BadRequest(httpx.CodeReportNotReady, "report is not ready"))
	case errors.Is(err, services.ErrReportPermissionDenied):
		httpx.WriteError(ctx, w, httpx.Forbidden("you do not have permission to perform this action"))
	case errors.Is(err, services.ErrReportNotFound):
		httpx.WriteError(ctx, w, httpx.NotFound("report not found"))
	case errors.Is(err, services.ErrReportFileMissing):
		httpx.WriteError(ctx, w, httpx.NotFound("report file not found"))
	case errors.Is(err, services.ErrReportUnavailable):
		httpx.WriteError(ctx, w, httpx.NewError(httpx.CodeUnavailable, "report storage unavailable", http.StatusServiceUnavailable))
	default:
		httpx.WriteError(ctx, w, httpx.Internal())
	}
}
