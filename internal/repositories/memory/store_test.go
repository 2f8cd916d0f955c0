package memory

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	domain "github.com/chicken-store/orders-api/internal/domain"
	"github.com/chicken-store/orders-api/internal/repositories"
)

func seededStore(stock string) *Store {
	s := NewStore()
	s.SeedProducts(domain.Product{ID: "p1", Name: "Whole chicken", ProductType: "whole", StockKg: decimal.RequireFromString(stock), IsAvailable: true})
	return s
}

func TestReserveConcurrentNeverOversells(t *testing.T) {
	s := seededStore("10")
	ctx := context.Background()

	const workers = 40
	var (
		wg      sync.WaitGroup
		success atomic.Int32
	)
	wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func() {
			defer wg.Done()
			err := s.RunInTx(ctx, func(txCtx context.Context) error {
				_, err := s.Products().Reserve(txCtx, "p1", decimal.RequireFromString("0.5"))
				return err
			})
			var stockErr *repositories.StockError
			switch {
			case err == nil:
				success.Add(1)
			case errors.As(err, &stockErr) && stockErr.Code == repositories.StockErrorInsufficient:
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	if got := success.Load(); got != 20 {
		t.Fatalf("expected 20 successful reservations, got %d", got)
	}
	p, err := s.Products().FindByID(ctx, "p1")
	if err != nil {
		t.Fatalf("find product: %v", err)
	}
	if !p.StockKg.IsZero() {
		t.Fatalf("expected stock 0, got %s", p.StockKg)
	}
}

func TestRunInTxRollsBackEveryWrite(t *testing.T) {
	s := seededStore("5")
	ctx := context.Background()
	boom := errors.New("boom")

	err := s.RunInTx(ctx, func(txCtx context.Context) error {
		if _, err := s.Products().Reserve(txCtx, "p1", decimal.NewFromInt(2)); err != nil {
			return err
		}
		if err := s.Orders().Insert(txCtx, domain.Order{ID: "o1", OrderNumber: "ORD-1", Status: domain.OrderStatusPending}); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}

	p, _ := s.Products().FindByID(ctx, "p1")
	if !p.StockKg.Equal(decimal.NewFromInt(5)) {
		t.Fatalf("expected stock restored to 5, got %s", p.StockKg)
	}
	if _, err := s.Orders().FindByID(ctx, "o1"); err == nil {
		t.Fatalf("expected order insert to be rolled back")
	}
	if err := s.Orders().Insert(ctx, domain.Order{ID: "o1", OrderNumber: "ORD-1"}); err != nil {
		t.Fatalf("expected order number to be free after rollback: %v", err)
	}
}

func TestReserveReportsAvailableAndMissingProduct(t *testing.T) {
	s := seededStore("1.25")
	ctx := context.Background()

	_, err := s.Products().Reserve(ctx, "p1", decimal.NewFromInt(2))
	var stockErr *repositories.StockError
	if !errors.As(err, &stockErr) || stockErr.Code != repositories.StockErrorInsufficient {
		t.Fatalf("expected insufficient stock, got %v", err)
	}
	if !stockErr.Available.Equal(decimal.RequireFromString("1.25")) || stockErr.ProductName != "Whole chicken" {
		t.Fatalf("unexpected error details %+v", stockErr)
	}

	_, err = s.Products().Reserve(ctx, "missing", decimal.NewFromInt(1))
	if !errors.As(err, &stockErr) || !stockErr.IsNotFound() {
		t.Fatalf("expected product not found, got %v", err)
	}
}

func TestFindForUpdateSerialisesTransitions(t *testing.T) {
	s := NewStore()
	ctx := context.Background()
	if err := s.Orders().Insert(ctx, domain.Order{ID: "o1", OrderNumber: "ORD-1", Status: domain.OrderStatusPending}); err != nil {
		t.Fatalf("insert: %v", err)
	}

	if _, err := s.Orders().FindForUpdate(ctx, "o1"); err == nil {
		t.Fatalf("expected FindForUpdate outside a transaction to fail")
	}

	const workers = 8
	var (
		wg      sync.WaitGroup
		applied atomic.Int32
	)
	wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func() {
			defer wg.Done()
			err := s.RunInTx(ctx, func(txCtx context.Context) error {
				order, err := s.Orders().FindForUpdate(txCtx, "o1")
				if err != nil {
					return err
				}
				if order.Status != domain.OrderStatusPending {
					return nil
				}
				applied.Add(1)
				return s.Orders().UpdateStatus(txCtx, repositories.OrderStatusUpdate{
					OrderID: "o1", From: domain.OrderStatusPending, To: domain.OrderStatusReviewing, UpdatedAt: time.Now(),
				})
			})
			if err != nil {
				t.Errorf("transition: %v", err)
			}
		}()
	}
	wg.Wait()

	if got := applied.Load(); got != 1 {
		t.Fatalf("expected exactly one transition to apply, got %d", got)
	}
}

func TestListPaginatesNewestFirst(t *testing.T) {
	s := NewStore()
	ctx := context.Background()
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	for i, id := range []string{"a", "b", "c"} {
		order := domain.Order{ID: id, OrderNumber: "ORD-" + id, BuyerID: "buyer", Status: domain.OrderStatusPending, CreatedAt: base.Add(time.Duration(i) * time.Hour)}
		if err := s.Orders().Insert(ctx, order); err != nil {
			t.Fatalf("insert %s: %v", id, err)
		}
	}

	page, err := s.Orders().List(ctx, repositories.OrderListFilter{BuyerID: "buyer", Pagination: domain.Pagination{PageSize: 2}})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(page.Items) != 2 || page.Items[0].ID != "c" || page.Items[1].ID != "b" || page.NextPageToken == "" {
		t.Fatalf("unexpected first page %+v", page)
	}
	page, err = s.Orders().List(ctx, repositories.OrderListFilter{BuyerID: "buyer", Pagination: domain.Pagination{PageSize: 2, PageToken: page.NextPageToken}})
	if err != nil {
		t.Fatalf("list page 2: %v", err)
	}
	if len(page.Items) != 1 || page.Items[0].ID != "a" || page.NextPageToken != "" {
		t.Fatalf("unexpected second page %+v", page)
	}
}

func TestReportFinishOnlyOnce(t *testing.T) {
	s := NewStore()
	ctx := context.Background()
	if err := s.Reports().Insert(ctx, domain.OrderReport{ID: "r1", Status: domain.ReportStatusPending, CreatedBy: "seller"}); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if _, err := s.Reports().Finish(ctx, repositories.ReportCompletion{ReportID: "r1", Status: domain.ReportStatusReady, FilePath: "reports/report_r1.xlsx"}); err != nil {
		t.Fatalf("finish: %v", err)
	}
	_, err := s.Reports().Finish(ctx, repositories.ReportCompletion{ReportID: "r1", Status: domain.ReportStatusFailed})
	var repoErr repositories.RepositoryError
	if !errors.As(err, &repoErr) || !repoErr.IsConflict() {
		t.Fatalf("expected conflict, got %v", err)
	}
	report, _ := s.Reports().FindByID(ctx, "r1")
	if report.Status != domain.ReportStatusReady {
		t.Fatalf("expected report to stay ready, got %s", report.Status)
	}
}

func rowLockCount(s *Store) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.rowLocks)
}

func TestRowLocksReleasedAfterUse(t *testing.T) {
	s := seededStore("10")
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = s.RunInTx(ctx, func(txCtx context.Context) error {
				if _, err := s.Products().Reserve(txCtx, "p1", decimal.RequireFromString("0.25")); err != nil {
					return err
				}
				_, _ = s.Products().Reserve(txCtx, "ghost", decimal.RequireFromString("1"))
				_, _ = s.Orders().FindForUpdate(txCtx, "missing-order")
				return nil
			})
		}()
	}
	wg.Wait()
	_, _ = s.Products().Restore(ctx, "p1", decimal.RequireFromString("1"))

	if n := rowLockCount(s); n != 0 {
		t.Fatalf("expected no row locks left, got %d", n)
	}
}

func TestRowLockKeptWhileWaiting(t *testing.T) {
	s := seededStore("10")
	ctx := context.Background()
	holding := make(chan struct{})
	release := make(chan struct{})
	done := make(chan struct{})

	go func() {
		_ = s.RunInTx(ctx, func(txCtx context.Context) error {
			_, err := s.Products().Reserve(txCtx, "p1", decimal.RequireFromString("1"))
			close(holding)
			<-release
			return err
		})
	}()
	<-holding
	go func() {
		defer close(done)
		_, _ = s.Products().Reserve(ctx, "p1", decimal.RequireFromString("1"))
	}()

	deadline := time.Now().Add(2 * time.Second)
	for {
		s.mu.Lock()
		l := s.rowLocks["product:p1"]
		refs := 0
		if l != nil {
			refs = l.refs
		}
		s.mu.Unlock()
		if refs == 2 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("waiter never queued on the row lock (refs=%d)", refs)
		}
		time.Sleep(5 * time.Millisecond)
	}

	close(release)
	<-done
	if n := rowLockCount(s); n != 0 {
		t.Fatalf("expected lock entry dropped after both released, got %d", n)
	}
	p, _ := s.Products().FindByID(ctx, "p1")
	if !p.StockKg.Equal(decimal.RequireFromString("8")) {
		t.Fatalf("expected stock 8, got %s", p.StockKg)
	}
}
