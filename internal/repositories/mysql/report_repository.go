package mysql

import (
	"context"
	"errors"
	"strings"

	"gorm.io/gorm"

	domain "github.com/chicken-store/orders-api/internal/domain"
	"github.com/chicken-store/orders-api/internal/platform/database"
	"github.com/chicken-store/orders-api/internal/platform/pagination"
	"github.com/chicken-store/orders-api/internal/repositories"
)

// ReportRepository stores report jobs in the order_reports table.
type ReportRepository struct {
	db *gorm.DB
}

var _ repositories.ReportRepository = (*ReportRepository)(nil)

func NewReportRepository(db *gorm.DB) (*ReportRepository, error) {
	if db == nil {
		return nil, errors.New("report repository requires a db handle")
	}
	return &ReportRepository{db: db}, nil
}

func (r *ReportRepository) Insert(ctx context.Context, report domain.OrderReport) error {
	model := reportFromDomain(report)
	if err := database.Conn(ctx, r.db).Create(&model).Error; err != nil {
		return database.WrapError("reports.insert", err)
	}
	return nil
}

func (r *ReportRepository) FindByID(ctx context.Context, reportID string) (domain.OrderReport, error) {
	var model reportModel
	err := database.Conn(ctx, r.db).Where("id = ?", strings.TrimSpace(reportID)).Take(&model).Error
	if err != nil {
		return domain.OrderReport{}, database.WrapError("reports.find", err)
	}
	return reportToDomain(model), nil
}

func (r *ReportRepository) ListByCreators(ctx context.Context, creatorIDs []string, pager domain.Pagination) (domain.CursorPage[domain.OrderReport], error) {
	cursor, err := pagination.DecodeToken(pager.PageToken)
	if err != nil {
		return domain.CursorPage[domain.OrderReport]{}, err
	}
	size := pagination.Normalize(pager.PageSize, pagination.Options{})

	var models []reportModel
	err = applyCursor(database.Conn(ctx, r.db).Where("created_by IN ?", creatorIDs), cursor).
		Order("created_at DESC").Order("id DESC").
		Limit(size + 1).
		Find(&models).Error
	if err != nil {
		return domain.CursorPage[domain.OrderReport]{}, database.WrapError("reports.list", err)
	}

	page := domain.CursorPage[domain.OrderReport]{Items: make([]domain.OrderReport, 0, len(models))}
	if len(models) > size {
		last := models[size-1]
		page.NextPageToken, err = pagination.EncodeToken(pagination.Cursor{CreatedAt: last.CreatedAt, ID: last.ID})
		if err != nil {
			return domain.CursorPage[domain.OrderReport]{}, err
		}
		models = models[:size]
	}
	for _, m := range models {
		page.Items = append(page.Items, reportToDomain(m))
	}
	return page, nil
}

// Finish applies the terminal state only while the report is still pending.
func (r *ReportRepository) Finish(ctx context.Context, completion repositories.ReportCompletion) (domain.OrderReport, error) {
	const op = "reports.finish"
	db := database.Conn(ctx, r.db)
	res := db.Model(&reportModel{}).
		Where("id = ? AND status = ?", completion.ReportID, string(domain.ReportStatusPending)).
		UpdateColumns(map[string]any{
			"status":        string(completion.Status),
			"file_path":     completion.FilePath,
			"error_message": completion.ErrorMessage,
			"updated_at":    completion.UpdatedAt,
		})
	if res.Error != nil {
		return domain.OrderReport{}, database.WrapError(op, res.Error)
	}

	report, err := r.FindByID(ctx, completion.ReportID)
	if err != nil {
		return domain.OrderReport{}, err
	}
	if res.RowsAffected == 0 {
		return report, database.Conflict(op, "report %s already %s", report.ID, report.Status)
	}
	return report, nil
}
