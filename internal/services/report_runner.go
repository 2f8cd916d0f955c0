package services

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"time"

	domain "github.com/chicken-store/orders-api/internal/domain"
	"github.com/chicken-store/orders-api/internal/platform/jobs"
	"github.com/chicken-store/orders-api/internal/platform/storage"
	"github.com/chicken-store/orders-api/internal/platform/xlsx"
	"github.com/chicken-store/orders-api/internal/repositories"
)

// ReportOutcome summarises one runner invocation.
type ReportOutcome string

const (
	ReportOutcomeReady     ReportOutcome = "READY"
	ReportOutcomeFailed    ReportOutcome = "FAILED"
	ReportOutcomeMissing   ReportOutcome = "MISSING"
	ReportOutcomeUnchanged ReportOutcome = "UNCHANGED"
)

const reportTimestampLayout = "2006-01-02 15:04"

// ReportColumns is the header row of every export.
var ReportColumns = []string{"Order #", "Buyer", "Phone", "Product", "Qty (kg)", "Created", "Completed"}

// ReportRunnerDeps bundles collaborators for the runner.
type ReportRunnerDeps struct {
	Reports          repositories.ReportRepository
	Orders           repositories.OrderRepository
	Files            storage.Store
	BusinessLocation *time.Location
	Clock            func() time.Time
	Metrics          Metrics
	Logger           Logger
}

// ReportRunner executes report.generate jobs.
type ReportRunner struct {
	reports  repositories.ReportRepository
	orders   repositories.OrderRepository
	files    storage.Store
	location *time.Location
	clock    func() time.Time
	metrics  Metrics
	logger   Logger
}

func NewReportRunner(deps ReportRunnerDeps) (*ReportRunner, error) {
	switch {
	case deps.Reports == nil:
		return nil, errors.New("report runner: report repository is required")
	case deps.Orders == nil:
		return nil, errors.New("report runner: order repository is required")
	case deps.Files == nil:
		return nil, errors.New("report runner: file store is required")
	}
	r := &ReportRunner{
		reports:  deps.Reports,
		orders:   deps.Orders,
		files:    deps.Files,
		location: deps.BusinessLocation,
		clock:    deps.Clock,
		metrics:  deps.Metrics,
		logger:   deps.Logger,
	}
	if r.location == nil {
		r.location = time.UTC
	}
	if r.clock == nil {
		r.clock = time.Now
	}
	if r.metrics == nil {
		r.metrics = noopMetrics{}
	}
	if r.logger == nil {
		r.logger = noopLogger
	}
	return r, nil
}

// HandleJob adapts Run to the job worker pool. Only store outages are returned;
// every other outcome is recorded on the report itself.
func (r *ReportRunner) HandleJob(ctx context.Context, job jobs.Job) error {
	var payload GenerateReportPayload
	if err := job.Decode(&payload); err != nil {
		return err
	}
	outcome, err := r.Run(ctx, payload.ReportID)
	if outcome == ReportOutcomeMissing {
		return nil
	}
	if errors.Is(err, ErrReportUnavailable) {
		// The report is still pending; a redelivery runs it again.
		return jobs.Retry(err)
	}
	return err
}

// Run generates the export for a pending report and records exactly one terminal state.
func (r *ReportRunner) Run(ctx context.Context, reportID string) (outcome ReportOutcome, err error) {
	report, err := r.reports.FindByID(ctx, reportID)
	if err != nil {
		var repoErr repositories.RepositoryError
		if errors.As(err, &repoErr) && repoErr.IsNotFound() {
			r.logger(ctx, "report.missing", map[string]any{"reportID": reportID})
			return ReportOutcomeMissing, fmt.Errorf("%w: %s", ErrReportNotFound, reportID)
		}
		return ReportOutcomeFailed, fmt.Errorf("%w: %v", ErrReportUnavailable, err)
	}
	if report.Status != domain.ReportStatusPending {
		return ReportOutcomeUnchanged, nil
	}

	started := r.clock()
	defer func() {
		if rec := recover(); rec != nil {
			outcome, err = r.finish(ctx, report, "", fmt.Errorf("panic: %v", rec), started)
		}
	}()

	filePath, rows, genErr := r.generate(ctx, report)
	outcome, err = r.finish(ctx, report, filePath, genErr, started)
	if err == nil && outcome == ReportOutcomeReady {
		r.logger(ctx, "report.ready", map[string]any{"reportID": report.ID, "rows": rows, "path": filePath})
	}
	return outcome, err
}

func (r *ReportRunner) generate(ctx context.Context, report OrderReport) (string, int, error) {
	from, to := report.Window(r.location)
	orders, err := r.orders.ListCompleted(ctx, from, to)
	if err != nil {
		return "", 0, fmt.Errorf("load orders: %w", err)
	}

	table := xlsx.Table{Sheet: "Orders", Header: ReportColumns}
	for _, order := range orders {
		for _, item := range order.Items {
			table.Rows = append(table.Rows, r.row(order, item))
		}
	}

	var buf bytes.Buffer
	if err := xlsx.Write(&buf, table); err != nil {
		return "", 0, fmt.Errorf("render: %w", err)
	}
	filePath, err := storage.ReportObjectPath(report.ID)
	if err != nil {
		return "", 0, err
	}
	if err := r.files.Write(ctx, filePath, xlsx.ContentType, &buf); err != nil {
		return "", 0, fmt.Errorf("upload: %w", err)
	}
	return filePath, len(table.Rows), nil
}

func (r *ReportRunner) row(order Order, item OrderItem) []any {
	completed := ""
	if order.CompletedAt != nil {
		completed = order.CompletedAt.In(r.location).Format(reportTimestampLayout)
	}
	return []any{
		order.OrderNumber,
		order.Buyer.Name,
		order.Buyer.Phone,
		item.ProductName,
		item.QuantityKg.Round(domain.QuantityScale).InexactFloat64(),
		order.CreatedAt.In(r.location).Format(reportTimestampLayout),
		completed,
	}
}

func (r *ReportRunner) finish(ctx context.Context, report OrderReport, filePath string, cause error, started time.Time) (ReportOutcome, error) {
	completion := repositories.ReportCompletion{
		ReportID:  report.ID,
		Status:    domain.ReportStatusReady,
		FilePath:  filePath,
		UpdatedAt: r.clock().UTC(),
	}
	outcome := ReportOutcomeReady
	if cause != nil {
		completion.Status = domain.ReportStatusFailed
		completion.FilePath = ""
		completion.ErrorMessage = cause.Error()
		outcome = ReportOutcomeFailed
	}

	if _, err := r.reports.Finish(ctx, completion); err != nil {
		var repoErr repositories.RepositoryError
		if errors.As(err, &repoErr) && repoErr.IsConflict() {
			return ReportOutcomeUnchanged, nil
		}
		r.logger(ctx, "report.finish.failed", map[string]any{
			"reportID": report.ID,
			"status":   string(completion.Status),
			"error":    err.Error(),
		})
		return ReportOutcomeFailed, fmt.Errorf("%w: %v", ErrReportUnavailable, err)
	}

	r.metrics.ReportFinished(string(completion.Status))
	if cause != nil {
		r.logger(ctx, "report.failed", map[string]any{
			"reportID": report.ID,
			"error":    cause.Error(),
			"elapsed":  r.clock().Sub(started).String(),
		})
	}
	return outcome, nil
}
