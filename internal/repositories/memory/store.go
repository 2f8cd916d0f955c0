// Package memory provides an in-process repository registry for local development and tests.
// Transactions take per-row locks held until commit and undo their writes on rollback.
package memory

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	domain "github.com/chicken-store/orders-api/internal/domain"
	"github.com/chicken-store/orders-api/internal/repositories"
)

// Store holds every table in memory.
type Store struct {
	mu       sync.Mutex
	rowLocks map[string]*rowLock

	products map[string]domain.Product
	orders   map[string]domain.Order
	numbers  map[string]string
	reports  map[string]domain.OrderReport
	history  map[string]domain.OrderHistory

	health repositories.HealthRepository
	now    func() time.Time
}

// Option customises the store.
type Option func(*Store)

// WithClock overrides the clock used for updated_at stamps.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

// WithHealth attaches a health repository.
func WithHealth(repo repositories.HealthRepository) Option {
	return func(s *Store) {
		s.health = repo
	}
}

// NewStore constructs an empty store.
func NewStore(opts ...Option) *Store {
	s := &Store{
		rowLocks: make(map[string]*rowLock),
		products: make(map[string]domain.Product),
		orders:   make(map[string]domain.Order),
		numbers:  make(map[string]string),
		reports:  make(map[string]domain.OrderReport),
		history:  make(map[string]domain.OrderHistory),
		now:      func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

var _ repositories.Registry = (*Store)(nil)

// SeedProducts inserts or replaces catalog rows.
func (s *Store) SeedProducts(products ...domain.Product) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range products {
		s.products[p.ID] = p
	}
}

func (s *Store) Products() repositories.ProductRepository          { return productRepo{s} }
func (s *Store) Orders() repositories.OrderRepository              { return orderRepo{s} }
func (s *Store) Reports() repositories.ReportRepository            { return reportRepo{s} }
func (s *Store) OrderHistory() repositories.OrderHistoryRepository { return historyRepo{s} }
func (s *Store) Stats() repositories.StatsRepository               { return statsRepo{s} }
func (s *Store) Health() repositories.HealthRepository             { return s.health }

// Close is a no-op.
func (s *Store) Close(context.Context) error { return nil }

type txKey struct{}

type tx struct {
	undo []func()
	held map[string]*rowLock
}

// rowLock is dropped from Store.rowLocks once no holder or waiter references it.
type rowLock struct {
	mu   sync.Mutex
	refs int // guarded by Store.mu
}

// RunInTx runs fn with a transaction journal. Nested calls join the outer transaction.
func (s *Store) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if fn == nil {
		return errors.New("memory: transaction function is nil")
	}
	if _, ok := ctx.Value(txKey{}).(*tx); ok {
		return fn(ctx)
	}

	t := &tx{held: make(map[string]*rowLock)}
	defer func() {
		for key, l := range t.held {
			s.releaseRow(key, l)
		}
	}()

	err := fn(context.WithValue(ctx, txKey{}, t))
	if err == nil {
		err = ctx.Err()
	}
	if err != nil {
		s.mu.Lock()
		for i := len(t.undo) - 1; i >= 0; i-- {
			t.undo[i]()
		}
		s.mu.Unlock()
		return err
	}
	return nil
}

// lockRow takes the row lock for key. Inside a transaction the lock is kept
// until the transaction ends; otherwise the returned func releases it.
func (s *Store) lockRow(ctx context.Context, key string) func() {
	t, inTx := ctx.Value(txKey{}).(*tx)
	if inTx {
		if _, ok := t.held[key]; ok {
			return func() {}
		}
	}

	l := s.acquireRow(key)
	if inTx {
		t.held[key] = l
		return func() {}
	}
	return func() { s.releaseRow(key, l) }
}

func (s *Store) acquireRow(key string) *rowLock {
	s.mu.Lock()
	l, ok := s.rowLocks[key]
	if !ok {
		l = &rowLock{}
		s.rowLocks[key] = l
	}
	l.refs++
	s.mu.Unlock()

	l.mu.Lock()
	return l
}

func (s *Store) releaseRow(key string, l *rowLock) {
	l.mu.Unlock()
	s.mu.Lock()
	l.refs--
	if l.refs == 0 {
		delete(s.rowLocks, key)
	}
	s.mu.Unlock()
}

// journal records an undo step. Callers hold s.mu; undo steps run under s.mu.
func (s *Store) journal(ctx context.Context, undo func()) {
	if t, ok := ctx.Value(txKey{}).(*tx); ok {
		t.undo = append(t.undo, undo)
	}
}

func inTx(ctx context.Context) bool {
	_, ok := ctx.Value(txKey{}).(*tx)
	return ok
}

// Error implements repositories.RepositoryError.
type Error struct {
	op       string
	msg      string
	notFound bool
	conflict bool
}

func (e *Error) Error() string       { return fmt.Sprintf("%s: %s", e.op, e.msg) }
func (e *Error) IsNotFound() bool    { return e.notFound }
func (e *Error) IsConflict() bool    { return e.conflict }
func (e *Error) IsUnavailable() bool { return false }

func notFound(op, format string, args ...any) error {
	return &Error{op: op, msg: fmt.Sprintf(format, args...), notFound: true}
}

func conflict(op, format string, args ...any) error {
	return &Error{op: op, msg: fmt.Sprintf(format, args...), conflict: true}
}

func cloneOrder(o domain.Order) domain.Order {
	o.Items = append([]domain.OrderItem(nil), o.Items...)
	return o
}

type productRepo struct{ s *Store }

func (r productRepo) FindByID(_ context.Context, productID string) (domain.Product, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	p, ok := r.s.products[productID]
	if !ok {
		return domain.Product{}, repositories.NewProductNotFoundError("products.find", productID, nil)
	}
	return p, nil
}

func (r productRepo) Reserve(ctx context.Context, productID string, qty decimal.Decimal) (domain.StockLevel, error) {
	const op = "products.reserve"
	unlock := r.s.lockRow(ctx, "product:"+productID)
	defer unlock()

	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	p, ok := r.s.products[productID]
	if !ok {
		return domain.StockLevel{}, repositories.NewProductNotFoundError(op, productID, nil)
	}
	if p.StockKg.LessThan(qty) {
		return domain.StockLevel{}, repositories.NewInsufficientStockError(op, productID, p.Name, qty, p.StockKg)
	}
	return r.adjust(ctx, p, qty.Neg()), nil
}

func (r productRepo) Restore(ctx context.Context, productID string, qty decimal.Decimal) (domain.StockLevel, error) {
	const op = "products.restore"
	unlock := r.s.lockRow(ctx, "product:"+productID)
	defer unlock()

	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	p, ok := r.s.products[productID]
	if !ok {
		return domain.StockLevel{}, repositories.NewProductNotFoundError(op, productID, nil)
	}
	return r.adjust(ctx, p, qty), nil
}

// adjust applies delta to p. Caller holds s.mu and the product row lock.
func (r productRepo) adjust(ctx context.Context, p domain.Product, delta decimal.Decimal) domain.StockLevel {
	p.StockKg = p.StockKg.Add(delta)
	p.UpdatedAt = r.s.now()
	r.s.products[p.ID] = p
	id := p.ID
	r.s.journal(ctx, func() {
		cur := r.s.products[id]
		cur.StockKg = cur.StockKg.Sub(delta)
		r.s.products[id] = cur
	})
	return domain.StockLevel{ProductID: p.ID, ProductName: p.Name, StockKg: p.StockKg}
}
