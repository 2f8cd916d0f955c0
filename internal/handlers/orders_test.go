package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	domain "github.com/chicken-store/orders-api/internal/domain"
	"github.com/chicken-store/orders-api/internal/platform/auth"
	"github.com/chicken-store/orders-api/internal/platform/idempotency"
	"github.com/chicken-store/orders-api/internal/repositories"
	"github.com/chicken-store/orders-api/internal/repositories/memory"
	"github.com/chicken-store/orders-api/internal/services"
)

var handlerNow = time.Date(2025, 3, 10, 9, 30, 0, 0, time.UTC)

type stubOrderService struct {
	createFn     func(context.Context, services.CreateOrderCommand) (services.Order, error)
	transitionFn func(context.Context, services.TransitionCommand) (services.Order, error)
	getFn        func(context.Context, services.GetOrderQuery) (services.Order, error)
	listFn       func(context.Context, services.ListOrdersQuery) (domain.CursorPage[services.Order], error)
}

func (s *stubOrderService) CreateOrder(ctx context.Context, cmd services.CreateOrderCommand) (services.Order, error) {
	if s.createFn != nil {
		return s.createFn(ctx, cmd)
	}
	return services.Order{}, errors.New("not implemented")
}

func (s *stubOrderService) TransitionStatus(ctx context.Context, cmd services.TransitionCommand) (services.Order, error) {
	if s.transitionFn != nil {
		return s.transitionFn(ctx, cmd)
	}
	return services.Order{}, errors.New("not implemented")
}

func (s *stubOrderService) GetOrder(ctx context.Context, query services.GetOrderQuery) (services.Order, error) {
	if s.getFn != nil {
		return s.getFn(ctx, query)
	}
	return services.Order{}, errors.New("not implemented")
}

func (s *stubOrderService) ListOrders(ctx context.Context, query services.ListOrdersQuery) (domain.CursorPage[services.Order], error) {
	if s.listFn != nil {
		return s.listFn(ctx, query)
	}
	return domain.CursorPage[services.Order]{}, nil
}

func orderRouter(h *OrderHandlers) chi.Router {
	router := chi.NewRouter()
	router.Route("/orders", h.Routes)
	return router
}

func asBuyer(req *http.Request, uid string) *http.Request {
	return req.WithContext(auth.WithIdentity(req.Context(), &auth.Identity{UID: uid, Roles: []string{auth.RoleBuyer}}))
}

func asSeller(req *http.Request, uid string) *http.Request {
	return req.WithContext(auth.WithIdentity(req.Context(), &auth.Identity{UID: uid, Roles: []string{auth.RoleSeller}}))
}

func decodeBody(t *testing.T, rr *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("expected JSON body, got %q: %v", rr.Body.String(), err)
	}
	return body
}

func sampleOrder() services.Order {
	return services.Order{
		ID:          "ord_1",
		OrderNumber: "ORD-20250310-AB12CD",
		BuyerID:     "buyer-1",
		Buyer:       domain.BuyerContact{Name: "Sari", Phone: "+62811"},
		Status:      domain.OrderStatusPending,
		TotalWeight: decimal.RequireFromString("3.5"),
		Items: []services.OrderItem{
			{ID: "itm_1", ProductID: "prd_chicken", ProductName: "Whole chicken", QuantityKg: decimal.RequireFromString("3.5")},
		},
		CreatedAt: handlerNow,
		UpdatedAt: handlerNow,
	}
}

func TestOrderHandlersCreateOrder(t *testing.T) {
	var captured services.CreateOrderCommand
	svc := &stubOrderService{
		createFn: func(_ context.Context, cmd services.CreateOrderCommand) (services.Order, error) {
			captured = cmd
			return sampleOrder(), nil
		},
	}

	body := `{"items":[{"product_id":" prd_chicken ","quantity_kg":"2.5"},{"product_id":"prd_wings","quantity_kg":1}],"notes":"pagi"}`
	req := asBuyer(httptest.NewRequest(http.MethodPost, "/orders", bytes.NewBufferString(body)), "buyer-1")
	rr := httptest.NewRecorder()
	orderRouter(NewOrderHandlers(nil, svc)).ServeHTTP(rr, req)

	if rr.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rr.Code, rr.Body.String())
	}
	if captured.ActorID != "buyer-1" || captured.Notes != "pagi" || len(captured.Items) != 2 {
		t.Fatalf("unexpected command %+v", captured)
	}
	if captured.Items[0].ProductID != "prd_chicken" || !captured.Items[0].QuantityKg.Equal(decimal.RequireFromString("2.5")) {
		t.Fatalf("string quantity not parsed: %+v", captured.Items[0])
	}
	if !captured.Items[1].QuantityKg.Equal(decimal.NewFromInt(1)) {
		t.Fatalf("numeric quantity not parsed: %+v", captured.Items[1])
	}

	var resp orderResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Order.TotalWeight != "3.50" || resp.Order.Status != "pending" {
		t.Fatalf("unexpected payload %+v", resp.Order)
	}
	if len(resp.Order.AllowedTransitions) != 2 || resp.Order.AllowedTransitions[0] != "reviewing" {
		t.Fatalf("expected pending transitions, got %v", resp.Order.AllowedTransitions)
	}
}

func TestOrderHandlersCreateOrderValidation(t *testing.T) {
	svc := &stubOrderService{
		createFn: func(context.Context, services.CreateOrderCommand) (services.Order, error) {
			t.Fatalf("service must not be called")
			return services.Order{}, nil
		},
	}
	router := orderRouter(NewOrderHandlers(nil, svc))

	cases := map[string]string{
		"empty body":   ``,
		"invalid json": `{"items":`,
		"no items":     `{"items":[]}`,
		"bad quantity": `{"items":[{"product_id":"prd_chicken","quantity_kg":"two"}]}`,
		"no quantity":  `{"items":[{"product_id":"prd_chicken"}]}`,
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			req := asBuyer(httptest.NewRequest(http.MethodPost, "/orders", bytes.NewBufferString(body)), "buyer-1")
			rr := httptest.NewRecorder()
			router.ServeHTTP(rr, req)
			if rr.Code != http.StatusBadRequest {
				t.Fatalf("expected 400, got %d", rr.Code)
			}
			if decodeBody(t, rr)["error"] != "invalid_request" {
				t.Fatalf("unexpected body %s", rr.Body.String())
			}
		})
	}
}

func TestOrderHandlersCreateOrderRequiresBuyer(t *testing.T) {
	router := orderRouter(NewOrderHandlers(nil, &stubOrderService{}))

	req := asSeller(httptest.NewRequest(http.MethodPost, "/orders", bytes.NewBufferString(`{"items":[{"product_id":"p","quantity_kg":1}]}`)), "seller-1")
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	if rr.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", rr.Code)
	}

	req = httptest.NewRequest(http.MethodPost, "/orders", bytes.NewBufferString(`{}`))
	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without identity, got %d", rr.Code)
	}
}

func TestOrderHandlersInsufficientStockDetails(t *testing.T) {
	svc := &stubOrderService{
		createFn: func(context.Context, services.CreateOrderCommand) (services.Order, error) {
			return services.Order{}, fmt.Errorf("reserve: %w", &services.InsufficientStockError{
				ProductID:   "prd_chicken",
				ProductName: "Whole chicken",
				Requested:   decimal.NewFromInt(12),
				Available:   decimal.RequireFromString("7.5"),
			})
		},
	}
	req := asBuyer(httptest.NewRequest(http.MethodPost, "/orders", bytes.NewBufferString(`{"items":[{"product_id":"prd_chicken","quantity_kg":12}]}`)), "buyer-1")
	rr := httptest.NewRecorder()
	orderRouter(NewOrderHandlers(nil, svc)).ServeHTTP(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rr.Code)
	}
	body := decodeBody(t, rr)
	if body["error"] != "insufficient_stock" || body["product_id"] != "prd_chicken" || body["product_name"] != "Whole chicken" || body["available_kg"] != "7.50" {
		t.Fatalf("unexpected body %v", body)
	}
}

func TestOrderHandlersListOrders(t *testing.T) {
	var captured services.ListOrdersQuery
	svc := &stubOrderService{
		listFn: func(_ context.Context, query services.ListOrdersQuery) (domain.CursorPage[services.Order], error) {
			captured = query
			return domain.CursorPage[services.Order]{Items: []services.Order{sampleOrder()}, NextPageToken: "next"}, nil
		},
	}

	req := asSeller(httptest.NewRequest(http.MethodGet, "/orders?status=pending,reviewing&status=pending&start_date=2025-03-01&end_date=2025-03-10&search=ab12&page_size=10", nil), "seller-1")
	rr := httptest.NewRecorder()
	orderRouter(NewOrderHandlers(nil, svc)).ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if len(captured.Statuses) != 2 || captured.Statuses[1] != domain.OrderStatusReviewing {
		t.Fatalf("unexpected statuses %v", captured.Statuses)
	}
	if captured.StartDate == nil || captured.StartDate.Format(dateLayout) != "2025-03-01" || captured.EndDate == nil || captured.EndDate.Format(dateLayout) != "2025-03-10" {
		t.Fatalf("unexpected dates %v %v", captured.StartDate, captured.EndDate)
	}
	if captured.Search != "ab12" || captured.Pagination.PageSize != 10 || captured.ActorID != "seller-1" {
		t.Fatalf("unexpected query %+v", captured)
	}

	var resp orderListResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(resp.Items) != 1 || resp.NextPageToken != "next" || resp.Items[0].Buyer.Name != "Sari" {
		t.Fatalf("unexpected response %+v", resp)
	}
}

func TestOrderHandlersListOrdersRejectsBadFilters(t *testing.T) {
	router := orderRouter(NewOrderHandlers(nil, &stubOrderService{}))
	for _, query := range []string{"status=shipped", "start_date=03/01/2025", "end_date=2025-13-01", "page_size=abc", "page_token=e30"} {
		req := asBuyer(httptest.NewRequest(http.MethodGet, "/orders?"+query, nil), "buyer-1")
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, req)
		if rr.Code != http.StatusBadRequest {
			t.Fatalf("%s: expected 400, got %d", query, rr.Code)
		}
	}
}

func TestOrderHandlersGetOrderNotFound(t *testing.T) {
	svc := &stubOrderService{
		getFn: func(_ context.Context, query services.GetOrderQuery) (services.Order, error) {
			if query.OrderID != "ord_9" || query.ActorID != "buyer-2" {
				t.Fatalf("unexpected query %+v", query)
			}
			return services.Order{}, fmt.Errorf("%w: ord_9", services.ErrOrderNotFound)
		},
	}
	req := asBuyer(httptest.NewRequest(http.MethodGet, "/orders/ord_9", nil), "buyer-2")
	rr := httptest.NewRecorder()
	orderRouter(NewOrderHandlers(nil, svc)).ServeHTTP(rr, req)

	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rr.Code)
	}
}

func TestOrderHandlersUpdateStatus(t *testing.T) {
	var captured services.TransitionCommand
	svc := &stubOrderService{
		transitionFn: func(_ context.Context, cmd services.TransitionCommand) (services.Order, error) {
			captured = cmd
			order := sampleOrder()
			order.Status = cmd.Status
			return order, nil
		},
	}
	router := orderRouter(NewOrderHandlers(nil, svc))

	req := asSeller(httptest.NewRequest(http.MethodPatch, "/orders/ord_1/status", bytes.NewBufferString(`{"status":" Reviewing "}`)), "seller-1")
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if captured.OrderID != "ord_1" || captured.Status != domain.OrderStatusReviewing || captured.ActorID != "seller-1" {
		t.Fatalf("unexpected command %+v", captured)
	}

	req = asBuyer(httptest.NewRequest(http.MethodPatch, "/orders/ord_1/status", bytes.NewBufferString(`{"status":"cancelled"}`)), "buyer-1")
	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	if rr.Code != http.StatusForbidden {
		t.Fatalf("buyers must not transition orders, got %d", rr.Code)
	}

	req = asSeller(httptest.NewRequest(http.MethodPatch, "/orders/ord_1/status", bytes.NewBufferString(`{"status":"delivered"}`)), "seller-1")
	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("unknown status must be rejected, got %d", rr.Code)
	}
}

func TestOrderHandlersInvalidTransitionDetails(t *testing.T) {
	svc := &stubOrderService{
		transitionFn: func(context.Context, services.TransitionCommand) (services.Order, error) {
			return services.Order{}, &services.InvalidTransitionError{From: domain.OrderStatusPending, To: domain.OrderStatusCompleted}
		},
	}
	req := asSeller(httptest.NewRequest(http.MethodPatch, "/orders/ord_1/status", bytes.NewBufferString(`{"status":"completed"}`)), "seller-1")
	rr := httptest.NewRecorder()
	orderRouter(NewOrderHandlers(nil, svc)).ServeHTTP(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rr.Code)
	}
	body := decodeBody(t, rr)
	if body["error"] != "invalid_transition" || body["current_status"] != "pending" || body["requested_status"] != "completed" {
		t.Fatalf("unexpected body %v", body)
	}
}

func TestWriteOrderErrorMapping(t *testing.T) {
	cases := []struct {
		err    error
		status int
		code   string
	}{
		{fmt.Errorf("%w: items must not be empty", services.ErrOrderInvalidInput), http.StatusBadRequest, "invalid_request"},
		{fmt.Errorf("%w: prd_x", services.ErrOrderProductNotFound), http.StatusBadRequest, "invalid_request"},
		{fmt.Errorf("%w: buyers only", services.ErrOrderPermissionDenied), http.StatusForbidden, "forbidden"},
		{fmt.Errorf("%w: x", services.ErrOrderNotFound), http.StatusNotFound, "not_found"},
		{fmt.Errorf("%w: x", services.ErrOrderConflict), http.StatusConflict, "conflict"},
		{fmt.Errorf("%w: db", services.ErrOrderUnavailable), http.StatusServiceUnavailable, "unavailable"},
		{errors.New("boom"), http.StatusInternalServerError, "internal_error"},
	}
	for _, tc := range cases {
		rr := httptest.NewRecorder()
		writeOrderError(context.Background(), rr, tc.err)
		if rr.Code != tc.status {
			t.Fatalf("%v: expected %d, got %d", tc.err, tc.status, rr.Code)
		}
		if code := decodeBody(t, rr)["error"]; code != tc.code {
			t.Fatalf("%v: expected code %s, got %v", tc.err, tc.code, code)
		}
	}

	rr := httptest.NewRecorder()
	writeOrderError(context.Background(), rr, fmt.Errorf("%w: items must not be empty", services.ErrOrderInvalidInput))
	if msg := decodeBody(t, rr)["message"]; msg != "items must not be empty" {
		t.Fatalf("expected detail message, got %v", msg)
	}
}

func TestOrderHandlersIdempotentCreateReplays(t *testing.T) {
	calls := 0
	svc := &stubOrderService{
		createFn: func(context.Context, services.CreateOrderCommand) (services.Order, error) {
			calls++
			return sampleOrder(), nil
		},
	}
	mw := idempotency.Middleware(idempotency.NewMemoryStore(), idempotency.WithClock(func() time.Time { return handlerNow }))
	router := orderRouter(NewOrderHandlers(nil, svc, WithOrderIdempotency(mw)))

	body := `{"items":[{"product_id":"prd_chicken","quantity_kg":3.5}]}`
	var last *httptest.ResponseRecorder
	for i := 0; i < 2; i++ {
		req := asBuyer(httptest.NewRequest(http.MethodPost, "/orders", bytes.NewBufferString(body)), "buyer-1")
		req.Header.Set("Idempotency-Key", "key-1")
		last = httptest.NewRecorder()
		router.ServeHTTP(last, req)
		if last.Code != http.StatusCreated {
			t.Fatalf("attempt %d: expected 201, got %d", i, last.Code)
		}
	}
	if calls != 1 {
		t.Fatalf("expected one create, got %d", calls)
	}
	if last.Header().Get("X-Idempotent-Replay") != "true" {
		t.Fatalf("expected replay header on second response")
	}
}

func TestOrderHandlersOverQuantityLeavesStock(t *testing.T) {
	store := memory.NewStore(memory.WithClock(func() time.Time { return handlerNow }))
	store.SeedProducts(domain.Product{ID: "prd_chicken", Name: "Whole chicken", StockKg: decimal.NewFromInt(10), IsAvailable: true})
	svc, err := services.NewOrderService(services.OrderServiceDeps{Registry: store, Clock: func() time.Time { return handlerNow }})
	if err != nil {
		t.Fatalf("NewOrderService: %v", err)
	}

	req := asBuyer(httptest.NewRequest(http.MethodPost, "/orders", bytes.NewBufferString(`{"items":[{"product_id":"prd_chicken","quantity_kg":"10.01"}]}`)), "buyer-1")
	rr := httptest.NewRecorder()
	orderRouter(NewOrderHandlers(nil, svc)).ServeHTTP(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d: %s", rr.Code, rr.Body.String())
	}
	if body := decodeBody(t, rr); body["product_name"] != "Whole chicken" || body["available_kg"] != "10.00" {
		t.Fatalf("expected product named in error, got %v", body)
	}
	product, _ := store.Products().FindByID(context.Background(), "prd_chicken")
	if !product.StockKg.Equal(decimal.NewFromInt(10)) {
		t.Fatalf("stock changed to %s", product.StockKg)
	}
	page, _ := store.Orders().List(context.Background(), repositories.OrderListFilter{})
	if len(page.Items) != 0 {
		t.Fatalf("no order may persist, got %d", len(page.Items))
	}
}
