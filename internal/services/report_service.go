package services

import (
	"context"
	"errors"
	"fmt"
	"path"
	"slices"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	domain "github.com/chicken-store/orders-api/internal/domain"
	"github.com/chicken-store/orders-api/internal/platform/jobs"
	"github.com/chicken-store/orders-api/internal/platform/storage"
	"github.com/chicken-store/orders-api/internal/platform/xlsx"
	"github.com/chicken-store/orders-api/internal/repositories"
)

const (
	reportIDPrefix = "rpt_"
	reportDateForm = "2006-01-02"

	// SystemActorID owns reports filed by the scheduler.
	SystemActorID = "system"
)

var (
	// ErrReportInvalidInput signals a malformed report request.
	ErrReportInvalidInput = errors.New("report: invalid input")
	// ErrReportNotFound covers missing reports and reports owned by someone else.
	ErrReportNotFound = errors.New("report: not found")
	// ErrReportPermissionDenied indicates the caller is not a seller.
	ErrReportPermissionDenied = errors.New("report: permission denied")
	// ErrReportNotReady indicates the export has not finished successfully.
	ErrReportNotReady = errors.New("report: not ready")
	// ErrReportFileMissing indicates a ready report whose file is gone from the store.
	ErrReportFileMissing = errors.New("report: file missing")
	// ErrReportUnavailable indicates the repository or file store could not be reached.
	ErrReportUnavailable = errors.New("report: unavailable")
)

// GenerateReportPayload is the report.generate job body.
type GenerateReportPayload struct {
	ReportID string `json:"reportId"`
}

// ReportServiceDeps bundles collaborators for the report service.
type ReportServiceDeps struct {
	Reports          repositories.ReportRepository
	Queue            jobs.Enqueuer
	Files            storage.Store
	BusinessLocation *time.Location
	Clock            func() time.Time
	IDGenerator      func() string
	Metrics          Metrics
	Logger           Logger
}

type reportService struct {
	reports  repositories.ReportRepository
	queue    jobs.Enqueuer
	files    storage.Store
	location *time.Location
	clock    func() time.Time
	newID    func() string
	metrics  Metrics
	logger   Logger
}

var _ ReportService = (*reportService)(nil)

// NewReportService wires the report job front end.
func NewReportService(deps ReportServiceDeps) (ReportService, error) {
	if deps.Reports == nil {
		return nil, errors.New("report service: report repository is required")
	}
	if deps.Queue == nil {
		return nil, errors.New("report service: job queue is required")
	}
	if deps.Files == nil {
		return nil, errors.New("report service: file store is required")
	}
	svc := &reportService{
		reports:  deps.Reports,
		queue:    deps.Queue,
		files:    deps.Files,
		location: deps.BusinessLocation,
		clock:    deps.Clock,
		newID:    deps.IDGenerator,
		metrics:  deps.Metrics,
		logger:   deps.Logger,
	}
	if svc.location == nil {
		svc.location = time.UTC
	}
	if svc.clock == nil {
		svc.clock = time.Now
	}
	if svc.newID == nil {
		svc.newID = func() string { return ulid.Make().String() }
	}
	if svc.metrics == nil {
		svc.metrics = noopMetrics{}
	}
	if svc.logger == nil {
		svc.logger = noopLogger
	}
	return svc, nil
}

func (s *reportService) CreateReport(ctx context.Context, cmd CreateReportCommand) (OrderReport, error) {
	if !hasRole(cmd.ActorRoles, RoleSeller) {
		return OrderReport{}, fmt.Errorf("%w: only sellers can request reports", ErrReportPermissionDenied)
	}
	actor := strings.TrimSpace(cmd.ActorID)
	if actor == "" {
		return OrderReport{}, fmt.Errorf("%w: actor is required", ErrReportPermissionDenied)
	}
	report, err := s.buildReport(cmd.ReportType, cmd.StartDate, cmd.EndDate, actor)
	if err != nil {
		return OrderReport{}, err
	}
	return s.submit(ctx, report)
}

func (s *reportService) CreateScheduledDaily(ctx context.Context, date string) (OrderReport, error) {
	date = strings.TrimSpace(date)
	if date == "" {
		date = s.clock().In(s.location).Format(reportDateForm)
	}
	report, err := s.buildReport(domain.ReportTypeDaily, date, "", SystemActorID)
	if err != nil {
		return OrderReport{}, err
	}
	return s.submit(ctx, report)
}

func (s *reportService) buildReport(kind domain.ReportType, startRaw, endRaw, actor string) (OrderReport, error) {
	kind = domain.ReportType(strings.ToLower(strings.TrimSpace(string(kind))))
	start, err := parseReportDate("start_date", startRaw)
	if err != nil {
		return OrderReport{}, err
	}

	now := s.clock().UTC()
	report := OrderReport{
		ID:         reportIDPrefix + s.newID(),
		ReportType: kind,
		StartDate:  start,
		Status:     domain.ReportStatusPending,
		CreatedBy:  actor,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	switch kind {
	case domain.ReportTypeDaily:
	case domain.ReportTypeRange:
		end, err := parseReportDate("end_date", endRaw)
		if err != nil {
			return OrderReport{}, err
		}
		if end.Before(start) {
			return OrderReport{}, fmt.Errorf("%w: start_date must not be after end_date", ErrReportInvalidInput)
		}
		report.EndDate = &end
	default:
		return OrderReport{}, fmt.Errorf("%w: report_type must be daily or range", ErrReportInvalidInput)
	}
	return report, nil
}

func parseReportDate(field, raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, fmt.Errorf("%w: %s is required", ErrReportInvalidInput, field)
	}
	t, err := time.Parse(reportDateForm, raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %s must be YYYY-MM-DD", ErrReportInvalidInput, field)
	}
	return t, nil
}

// submit stores the pending record and queues the job. A failed enqueue
// finishes the record as failed so it never stays pending.
func (s *reportService) submit(ctx context.Context, report OrderReport) (OrderReport, error) {
	if err := s.reports.Insert(ctx, report); err != nil {
		return OrderReport{}, s.mapRepositoryError(err)
	}

	job, err := jobs.NewJob(jobs.KindReportGenerate, GenerateReportPayload{ReportID: report.ID}, s.clock())
	if err == nil {
		err = s.queue.Enqueue(ctx, job)
	}
	if err != nil {
		s.logger(ctx, "report.enqueue.failed", map[string]any{"reportID": report.ID, "error": err.Error()})
		failed, finishErr := s.reports.Finish(ctx, repositories.ReportCompletion{
			ReportID:     report.ID,
			Status:       domain.ReportStatusFailed,
			ErrorMessage: "enqueue: " + err.Error(),
			UpdatedAt:    s.clock().UTC(),
		})
		if finishErr != nil {
			return OrderReport{}, s.mapRepositoryError(finishErr)
		}
		s.metrics.ReportFinished(string(domain.ReportStatusFailed))
		return failed, nil
	}

	s.logger(ctx, "report.queued", map[string]any{
		"reportID": report.ID,
		"type":     string(report.ReportType),
		"actor":    report.CreatedBy,
	})
	return report, nil
}

// readableCreators lists whose reports a seller may see: their own and the
// scheduler's daily files.
func readableCreators(actorID string) []string {
	return []string{strings.TrimSpace(actorID), SystemActorID}
}

func (s *reportService) ListReports(ctx context.Context, query ListReportsQuery) (domain.CursorPage[OrderReport], error) {
	if !hasRole(query.ActorRoles, RoleSeller) {
		return domain.CursorPage[OrderReport]{}, fmt.Errorf("%w: only sellers can list reports", ErrReportPermissionDenied)
	}
	page, err := s.reports.ListByCreators(ctx, readableCreators(query.ActorID), query.Pagination)
	if err != nil {
		return domain.CursorPage[OrderReport]{}, s.mapRepositoryError(err)
	}
	return page, nil
}

func (s *reportService) OpenReport(ctx context.Context, query OpenReportQuery) (ReportFile, error) {
	if !hasRole(query.ActorRoles, RoleSeller) {
		return ReportFile{}, fmt.Errorf("%w: only sellers can download reports", ErrReportPermissionDenied)
	}
	reportID := strings.TrimSpace(query.ReportID)
	if reportID == "" {
		return ReportFile{}, fmt.Errorf("%w: report id is required", ErrReportInvalidInput)
	}
	report, err := s.reports.FindByID(ctx, reportID)
	if err != nil {
		return ReportFile{}, s.mapRepositoryError(err)
	}
	if !slices.Contains(readableCreators(query.ActorID), report.CreatedBy) {
		return ReportFile{}, fmt.Errorf("%w: %s", ErrReportNotFound, reportID)
	}
	if report.Status != domain.ReportStatusReady || strings.TrimSpace(report.FilePath) == "" {
		return ReportFile{}, fmt.Errorf("%w: report is %s", ErrReportNotReady, report.Status)
	}

	body, info, err := s.files.Open(ctx, report.FilePath)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotFound) {
			return ReportFile{}, fmt.Errorf("%w: %s", ErrReportFileMissing, report.FilePath)
		}
		return ReportFile{}, fmt.Errorf("%w: %v", ErrReportUnavailable, err)
	}
	contentType := info.ContentType
	if contentType == "" {
		contentType = xlsx.ContentType
	}
	return ReportFile{
		Report:      report,
		FileName:    path.Base(report.FilePath),
		ContentType: contentType,
		Size:        info.Size,
		Body:        body,
	}, nil
}

func (s *reportService) mapRepositoryError(err error) error {
	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		switch {
		case repoErr.IsNotFound():
			return fmt.Errorf("%w: %v", ErrReportNotFound, err)
		case repoErr.IsConflict():
			return fmt.Errorf("%w: %v", ErrReportInvalidInput, err)
		case repoErr.IsUnavailable():
			return fmt.Errorf("%w: %v", ErrReportUnavailable, err)
		}
	}
	return err
}
