package memory

import (
	"context"
	"slices"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	domain "github.com/chicken-store/orders-api/internal/domain"
	"github.com/chicken-store/orders-api/internal/platform/pagination"
	"github.com/chicken-store/orders-api/internal/repositories"
)

type reportRepo struct{ s *Store }

func (r reportRepo) Insert(ctx context.Context, report domain.OrderReport) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, exists := r.s.reports[report.ID]; exists {
		return conflict("reports.insert", "report %s already exists", report.ID)
	}
	r.s.reports[report.ID] = report
	id := report.ID
	r.s.journal(ctx, func() { delete(r.s.reports, id) })
	return nil
}

func (r reportRepo) FindByID(_ context.Context, reportID string) (domain.OrderReport, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	report, ok := r.s.reports[reportID]
	if !ok {
		return domain.OrderReport{}, notFound("reports.find", "report %s not found", reportID)
	}
	return report, nil
}

func (r reportRepo) ListByCreators(_ context.Context, creatorIDs []string, pager domain.Pagination) (domain.CursorPage[domain.OrderReport], error) {
	cursor, err := pagination.DecodeToken(pager.PageToken)
	if err != nil {
		return domain.CursorPage[domain.OrderReport]{}, err
	}
	size := pagination.Normalize(pager.PageSize, pagination.Options{})

	r.s.mu.Lock()
	var matched []domain.OrderReport
	for _, report := range r.s.reports {
		if !slices.Contains(creatorIDs, report.CreatedBy) {
			continue
		}
		if !cursor.IsZero() && !before(report.CreatedAt, report.ID, cursor) {
			continue
		}
		matched = append(matched, report)
	}
	r.s.mu.Unlock()

	sort.Slice(matched, func(i, j int) bool {
		if !matched[i].CreatedAt.Equal(matched[j].CreatedAt) {
			return matched[i].CreatedAt.After(matched[j].CreatedAt)
		}
		return matched[i].ID > matched[j].ID
	})
	page := domain.CursorPage[domain.OrderReport]{Items: matched}
	if len(matched) > size {
		last := matched[size-1]
		page.NextPageToken, err = pagination.EncodeToken(pagination.Cursor{CreatedAt: last.CreatedAt, ID: last.ID})
		if err != nil {
			return domain.CursorPage[domain.OrderReport]{}, err
		}
		page.Items = matched[:size]
	}
	return page, nil
}

func (r reportRepo) Finish(_ context.Context, completion repositories.ReportCompletion) (domain.OrderReport, error) {
	const op = "reports.finish"
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	report, ok := r.s.reports[completion.ReportID]
	if !ok {
		return domain.OrderReport{}, notFound(op, "report %s not found", completion.ReportID)
	}
	if report.Status != domain.ReportStatusPending {
		return report, conflict(op, "report %s already %s", report.ID, report.Status)
	}
	report.Status = completion.Status
	report.FilePath = completion.FilePath
	report.ErrorMessage = completion.ErrorMessage
	report.UpdatedAt = completion.UpdatedAt
	r.s.reports[report.ID] = report
	return report, nil
}

type historyRepo struct{ s *Store }

func (r historyRepo) Append(ctx context.Context, entry domain.OrderHistory) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, exists := r.s.history[entry.OrderID]; exists {
		return nil
	}
	r.s.history[entry.OrderID] = entry
	orderID := entry.OrderID
	r.s.journal(ctx, func() { delete(r.s.history, orderID) })
	return nil
}

// History returns the archived snapshot for orderID.
func (s *Store) History(orderID string) (domain.OrderHistory, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	h, ok := s.history[orderID]
	return h, ok
}

type statsRepo struct{ s *Store }

func (r statsRepo) CountByStatus(context.Context) (map[domain.OrderStatus]int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	counts := make(map[domain.OrderStatus]int64)
	for _, o := range r.s.orders {
		counts[o.Status]++
	}
	return counts, nil
}

func (r statsRepo) CompletedWeight(context.Context) (decimal.Decimal, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	total := decimal.Zero
	for _, o := range r.s.orders {
		if o.Status == domain.OrderStatusCompleted {
			total = total.Add(o.TotalWeight)
		}
	}
	return total, nil
}

func (r statsRepo) ProductTypeTotals(context.Context) (map[string]domain.ProductTypeTotals, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	totals := make(map[string]domain.ProductTypeTotals)
	for _, o := range r.s.orders {
		for _, item := range o.Items {
			t := totals[item.ProductType]
			t.Orders++
			t.QuantityKg = t.QuantityKg.Add(item.QuantityKg)
			totals[item.ProductType] = t
		}
	}
	return totals, nil
}

func (r statsRepo) CreatedBetween(_ context.Context, from, to time.Time) ([]repositories.OrderSummaryRow, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var rows []repositories.OrderSummaryRow
	for _, o := range r.s.orders {
		if o.CreatedAt.Before(from) || !o.CreatedAt.Before(to) {
			continue
		}
		rows = append(rows, repositories.OrderSummaryRow{
			OrderID:     o.ID,
			Status:      o.Status,
			TotalWeight: o.TotalWeight,
			CreatedAt:   o.CreatedAt,
		})
	}
	return rows, nil
}
