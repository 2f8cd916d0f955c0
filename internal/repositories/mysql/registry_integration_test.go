//go:build integration

package mysql

import (
	"context"
	"errors"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	domain "github.com/chicken-store/orders-api/internal/domain"
	pconfig "github.com/chicken-store/orders-api/internal/platform/config"
	"github.com/chicken-store/orders-api/internal/platform/database"
	"github.com/chicken-store/orders-api/internal/repositories"
)

func openIntegrationRegistry(t *testing.T) (*Registry, *database.Provider) {
	t.Helper()
	if testing.Short() {
		t.Skip("integration test skipped in short mode")
	}
	dsn := os.Getenv("API_TEST_MYSQL_DSN")
	if dsn == "" {
		t.Skip("API_TEST_MYSQL_DSN not set")
	}

	ctx := context.Background()
	provider, err := database.Open(ctx, pconfig.DatabaseConfig{DSN: dsn, MaxOpenConns: 32})
	if err != nil {
		t.Fatalf("open database: %v", err)
	}
	t.Cleanup(func() { _ = provider.Close(context.Background()) })

	db := provider.DB()
	if err := AutoMigrate(ctx, db); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	for _, table := range []string{"order_items", "orders", "order_reports", "order_history", "products"} {
		if err := db.Exec("DELETE FROM " + table).Error; err != nil {
			t.Fatalf("truncate %s: %v", table, err)
		}
	}

	reg, err := NewRegistry(db)
	if err != nil {
		t.Fatalf("registry: %v", err)
	}
	return reg, provider
}

func TestReserveNeverOversellsUnderConcurrency(t *testing.T) {
	reg, provider := openIntegrationRegistry(t)
	ctx := context.Background()

	if err := provider.DB().Create(&productModel{ID: "p-race", Name: "Wings", ProductType: "parts", StockKg: decimal.NewFromInt(10), IsAvailable: true}).Error; err != nil {
		t.Fatalf("seed product: %v", err)
	}

	const workers = 25
	var (
		wg        sync.WaitGroup
		succeeded atomic.Int32
	)
	wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func() {
			defer wg.Done()
			err := reg.RunInTx(ctx, func(txCtx context.Context) error {
				_, err := reg.Products().Reserve(txCtx, "p-race", decimal.NewFromInt(1))
				return err
			})
			var stockErr *repositories.StockError
			switch {
			case err == nil:
				succeeded.Add(1)
			case errors.As(err, &stockErr) && stockErr.Code == repositories.StockErrorInsufficient:
			default:
				t.Errorf("reserve: %v", err)
			}
		}()
	}
	wg.Wait()

	if got := succeeded.Load(); got != 10 {
		t.Fatalf("expected exactly 10 reservations, got %d", got)
	}
	product, err := reg.Products().FindByID(ctx, "p-race")
	if err != nil {
		t.Fatalf("find product: %v", err)
	}
	if !product.StockKg.IsZero() {
		t.Fatalf("expected stock to reach zero, got %s", product.StockKg)
	}
}

func TestUpdateStatusIsGuardedAndListCompletedHonoursWindow(t *testing.T) {
	reg, _ := openIntegrationRegistry(t)
	ctx := context.Background()
	now := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)

	order := domain.Order{
		ID:          "ord-it-1",
		OrderNumber: "ORD-IT000001",
		BuyerID:     "buyer-1",
		Status:      domain.OrderStatusShipping,
		TotalWeight: decimal.NewFromInt(2),
		Items: []domain.OrderItem{
			{ID: "itm-it-1", ProductID: "p1", ProductName: "Breast", ProductType: "parts", QuantityKg: decimal.NewFromInt(2), CreatedAt: now},
		},
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := reg.Orders().Insert(ctx, order); err != nil {
		t.Fatalf("insert: %v", err)
	}

	completedAt := now.Add(time.Hour)
	err := reg.Orders().UpdateStatus(ctx, repositories.OrderStatusUpdate{
		OrderID: order.ID, From: domain.OrderStatusShipping, To: domain.OrderStatusCompleted,
		UpdatedAt: completedAt, CompletedAt: &completedAt,
	})
	if err != nil {
		t.Fatalf("update status: %v", err)
	}

	err = reg.Orders().UpdateStatus(ctx, repositories.OrderStatusUpdate{
		OrderID: order.ID, From: domain.OrderStatusShipping, To: domain.OrderStatusCompleted, UpdatedAt: completedAt,
	})
	var repoErr repositories.RepositoryError
	if !errors.As(err, &repoErr) || !repoErr.IsConflict() {
		t.Fatalf("expected conflict on stale transition, got %v", err)
	}

	day := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	orders, err := reg.Orders().ListCompleted(ctx, day, day.AddDate(0, 0, 1))
	if err != nil {
		t.Fatalf("list completed: %v", err)
	}
	if len(orders) != 1 || len(orders[0].Items) != 1 {
		t.Fatalf("expected completed order with items, got %+v", orders)
	}
	orders, err = reg.Orders().ListCompleted(ctx, day.AddDate(0, 0, 1), day.AddDate(0, 0, 2))
	if err != nil {
		t.Fatalf("list completed next day: %v", err)
	}
	if len(orders) != 0 {
		t.Fatalf("expected no orders outside window, got %d", len(orders))
	}
}
