package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	domain "github.com/chicken-store/orders-api/internal/domain"
	"github.com/chicken-store/orders-api/internal/platform/auth"
	"github.com/chicken-store/orders-api/internal/platform/httpx"
	"github.com/chicken-store/orders-api/internal/services"
)

const (
	maxOrderBodySize       = 32 * 1024
	maxOrderStatusBodySize = 1024
)

type createOrderRequest struct {
	Items []createOrderItemRequest `json:"items"`
	Notes string                   `json:"notes"`
}

type createOrderItemRequest struct {
	ProductID  string          `json:"product_id"`
	QuantityKg json.RawMessage `json:"quantity_kg"`
}

type updateOrderStatusRequest struct {
	Status string `json:"status"`
}

type orderItemPayload struct {
	ID          string `json:"id"`
	ProductID   string `json:"product_id"`
	ProductName string `json:"product_name"`
	ProductType string `json:"product_type,omitempty"`
	QuantityKg  string `json:"quantity_kg"`
}

type buyerPayload struct {
	Name    string `json:"name,omitempty"`
	Phone   string `json:"phone,omitempty"`
	Address string `json:"address,omitempty"`
}

type orderPayload struct {
	ID                 string             `json:"id"`
	OrderNumber        string             `json:"order_number"`
	BuyerID            string             `json:"buyer_id"`
	Buyer              buyerPayload       `json:"buyer"`
	Status             string             `json:"status"`
	AllowedTransitions []string           `json:"allowed_transitions"`
	TotalWeight        string             `json:"total_weight"`
	Notes              string             `json:"notes,omitempty"`
	Items              []orderItemPayload `json:"items"`
	NotificationSent   bool               `json:"notification_sent"`
	CreatedAt          string             `json:"created_at"`
	UpdatedAt          string             `json:"updated_at"`
	CompletedAt        string             `json:"completed_at,omitempty"`
}

type orderListResponse struct {
	Items         []orderPayload `json:"items"`
	NextPageToken string         `json:"next_page_token,omitempty"`
}

type orderResponse struct {
	Order orderPayload `json:"order"`
}

// OrderHandlers exposes order placement, reads and seller status updates.
type OrderHandlers struct {
	authn       *auth.Authenticator
	orders      services.OrderService
	idempotency func(http.Handler) http.Handler
}

// OrderHandlerOption customises order handlers.
type OrderHandlerOption func(*OrderHandlers)

// WithOrderIdempotency wraps order creation with the supplied idempotency middleware.
func WithOrderIdempotency(mw func(http.Handler) http.Handler) OrderHandlerOption {
	return func(h *OrderHandlers) {
		h.idempotency = mw
	}
}

// NewOrderHandlers constructs a new OrderHandlers instance.
func NewOrderHandlers(authn *auth.Authenticator, orders services.OrderService, opts ...OrderHandlerOption) *OrderHandlers {
	h := &OrderHandlers{
		authn:  authn,
		orders: orders,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	return h
}

// Routes registers the /orders endpoints.
func (h *OrderHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	if h.authn != nil {
		r.Use(h.authn.RequireAuth())
	}

	create := r.With(auth.RequireRole(auth.RoleBuyer))
	if h.idempotency != nil {
		create = create.With(h.idempotency)
	}
	create.Post("/", h.createOrder)

	r.With(listPage).Get("/", h.listOrders)
	r.Get("/{orderID}", h.getOrder)
	r.With(auth.RequireRole(auth.RoleSeller)).Patch("/{orderID}/status", h.updateStatus)
}

func (h *OrderHandlers) createOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError(httpx.CodeUnavailable, "order service unavailable", http.StatusServiceUnavailable))
		return
	}
	identity, ok := requireIdentity(w, r)
	if !ok {
		return
	}

	var req createOrderRequest
	if !decodeJSONBody(w, r, maxOrderBodySize, &req) {
		return
	}
	if len(req.Items) == 0 {
		httpx.WriteError(ctx, w, httpx.BadRequest(httpx.CodeInvalidRequest, "items must not be empty"))
		return
	}

	lines := make([]services.OrderLineInput, 0, len(req.Items))
	for _, item := range req.Items {
		qty, err := parseQuantity(item.QuantityKg)
		if err != nil {
			httpx.WriteError(ctx, w, httpx.BadRequest(httpx.CodeInvalidRequest, "quantity_kg must be a decimal number").
				WithDetails(map[string]any{"product_id": strings.TrimSpace(item.ProductID)}))
			return
		}
		lines = append(lines, services.OrderLineInput{
			ProductID:  strings.TrimSpace(item.ProductID),
			QuantityKg: qty,
		})
	}

	order, err := h.orders.CreateOrder(ctx, services.CreateOrderCommand{
		ActorID:    identity.UID,
		ActorRoles: identity.Roles,
		Items:      lines,
		Notes:      req.Notes,
	})
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusCreated, orderResponse{Order: buildOrderPayload(order)})
}

func (h *OrderHandlers) listOrders(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError(httpx.CodeUnavailable, "order service unavailable", http.StatusServiceUnavailable))
		return
	}
	identity, ok := requireIdentity(w, r)
	if !ok {
		return
	}

	query := r.URL.Query()
	var statuses []domain.OrderStatus
	for _, raw := range parseFilterValues(query["status"]) {
		status := domain.OrderStatus(raw)
		if !status.Valid() {
			httpx.WriteError(ctx, w, httpx.BadRequest(httpx.CodeInvalidRequest, "status filter contains an unknown status"))
			return
		}
		statuses = append(statuses, status)
	}

	start, err := parseDateParam(query.Get("start_date"))
	if err != nil {
		httpx.WriteError(ctx, w, httpx.BadRequest(httpx.CodeInvalidRequest, "start_date must be YYYY-MM-DD"))
		return
	}
	end, err := parseDateParam(query.Get("end_date"))
	if err != nil {
		httpx.WriteError(ctx, w, httpx.BadRequest(httpx.CodeInvalidRequest, "end_date must be YYYY-MM-DD"))
		return
	}

	page, ok := pageParams(w, r)
	if !ok {
		return
	}

	result, err := h.orders.ListOrders(ctx, services.ListOrdersQuery{
		ActorID:    identity.UID,
		ActorRoles: identity.Roles,
		Statuses:   statuses,
		StartDate:  start,
		EndDate:    end,
		Search:     strings.TrimSpace(query.Get("search")),
		Pagination: services.Pagination{PageSize: page.PageSize, PageToken: page.PageToken},
	})
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}

	items := make([]orderPayload, 0, len(result.Items))
	for _, order := range result.Items {
		items = append(items, buildOrderPayload(order))
	}
	writeJSONResponse(w, http.StatusOK, orderListResponse{
		Items:         items,
		NextPageToken: strings.TrimSpace(result.NextPageToken),
	})
}

func (h *OrderHandlers) getOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError(httpx.CodeUnavailable, "order service unavailable", http.StatusServiceUnavailable))
		return
	}
	identity, ok := requireIdentity(w, r)
	if !ok {
		return
	}

	orderID := strings.TrimSpace(chi.URLParam(r, "orderID"))
	if orderID == "" {
		httpx.WriteError(ctx, w, httpx.BadRequest(httpx.CodeInvalidRequest, "order id is required"))
		return
	}

	order, err := h.orders.GetOrder(ctx, services.GetOrderQuery{
		OrderID:    orderID,
		ActorID:    identity.UID,
		ActorRoles: identity.Roles,
	})
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, orderResponse{Order: buildOrderPayload(order)})
}

func (h *OrderHandlers) updateStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError(httpx.CodeUnavailable, "order service unavailable", http.StatusServiceUnavailable))
		return
	}
	identity, ok := requireIdentity(w, r)
	if !ok {
		return
	}

	orderID := strings.TrimSpace(chi.URLParam(r, "orderID"))
	if orderID == "" {
		httpx.WriteError(ctx, w, httpx.BadRequest(httpx.CodeInvalidRequest, "order id is required"))
		return
	}

	var req updateOrderStatusRequest
	if !decodeJSONBody(w, r, maxOrderStatusBodySize, &req) {
		return
	}
	status := domain.OrderStatus(strings.ToLower(strings.TrimSpace(req.Status)))
	if !status.Valid() {
		httpx.WriteError(ctx, w, httpx.BadRequest(httpx.CodeInvalidRequest, "status must be one of pending, reviewing, process, shipping, completed, cancelled"))
		return
	}

	order, err := h.orders.TransitionStatus(ctx, services.TransitionCommand{
		OrderID:    orderID,
		ActorID:    identity.UID,
		ActorRoles: identity.Roles,
		Status:     status,
	})
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, orderResponse{Order: buildOrderPayload(order)})
}

// parseQuantity accepts quantity_kg as a JSON number or a numeric string.
func parseQuantity(raw json.RawMessage) (decimal.Decimal, error) {
	value := strings.TrimSpace(string(raw))
	if value == "" || value == "null" {
		return decimal.Decimal{}, errors.New("quantity is required")
	}
	if strings.HasPrefix(value, `"`) {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return decimal.Decimal{}, err
		}
		value = strings.TrimSpace(s)
	}
	return decimal.NewFromString(value)
}

func buildOrderPayload(order services.Order) orderPayload {
	items := make([]orderItemPayload, 0, len(order.Items))
	for _, item := range order.Items {
		items = append(items, orderItemPayload{
			ID:          item.ID,
			ProductID:   item.ProductID,
			ProductName: item.ProductName,
			ProductType: item.ProductType,
			QuantityKg:  domain.FormatQuantity(item.QuantityKg),
		})
	}
	allowed := services.AllowedTransitions(order.Status)
	transitions := make([]string, 0, len(allowed))
	for _, status := range allowed {
		transitions = append(transitions, string(status))
	}
	return orderPayload{
		ID:          order.ID,
		OrderNumber: order.OrderNumber,
		BuyerID:     order.BuyerID,
		Buyer: buyerPayload{
			Name:    order.Buyer.Name,
			Phone:   order.Buyer.Phone,
			Address: order.Buyer.Address,
		},
		Status:             string(order.Status),
		AllowedTransitions: transitions,
		TotalWeight:        domain.FormatQuantity(order.TotalWeight),
		Notes:              order.Notes,
		Items:              items,
		NotificationSent:   order.Notification.Sent,
		CreatedAt:          formatTime(order.CreatedAt),
		UpdatedAt:          formatTime(order.UpdatedAt),
		CompletedAt:        formatTimePtr(order.CompletedAt),
	}
}

func writeOrderError(ctx context.Context, w http.ResponseWriter, err error) {
	if err == nil {
		return
	}

	var stockErr *services.InsufficientStockError
	var transitionErr *services.InvalidTransitionError
	switch {
	case errors.As(err, &stockErr):
		name := stockErr.ProductName
		if name == "" {
			name = stockErr.ProductID
		}
		httpx.WriteError(ctx, w, httpx.BadRequest(httpx.CodeInsufficientStock, "insufficient stock for "+name).WithDetails(map[string]any{
			"product_id":   stockErr.ProductID,
			"product_name": stockErr.ProductName,
			"available_kg": domain.FormatQuantity(stockErr.Available),
		}))
	case errors.As(err, &transitionErr):
		httpx.WriteError(ctx, w, httpx.BadRequest(httpx.CodeInvalidTransition, "status transition is not allowed").WithDetails(map[string]any{
			"current_status":   string(transitionErr.From),
			"requested_status": string(transitionErr.To),
		}))
	case errors.Is(err, services.ErrOrderInsufficientStock):
		httpx.WriteError(ctx, w, httpx.BadRequest(httpx.CodeInsufficientStock, "insufficient stock"))
	case errors.Is(err, services.ErrOrderInvalidTransition):
		httpx.WriteError(ctx, w, httpx.BadRequest(httpx.CodeInvalidTransition, "status transition is not allowed"))
	case errors.Is(err, services.ErrOrderInvalidInput):
		httpx.WriteError(ctx, w, httpx.BadRequest(httpx.CodeInvalidRequest, detailMessage(err, services.ErrOrderInvalidInput)))
	case errors.Is(err, services.ErrOrderProductNotFound):
		httpx.WriteError(ctx, w, httpx.BadRequest(httpx.CodeInvalidRequest, detailMessage(err, services.ErrOrderProductNotFound)))
	case errors.Is(err, services.ErrOrderPermissionDenied):
		httpx.WriteError(ctx, w, httpx.Forbidden("you do not have permission to perform this action"))
	case errors.Is(err, services.ErrOrderNotFound):
		httpx.WriteError(ctx, w, httpx.NotFound("order not found"))
	case errors.Is(err, services.ErrOrderConflict):
		httpx.WriteError(ctx, w, httpx.NewError(httpx.CodeConflict, "order was modified concurrently; retry", http.StatusConflict))
	case errors.Is(err, services.ErrOrderUnavailable):
		httpx.WriteError(ctx, w, httpx.NewError(httpx.CodeUnavailable, "order storage unavailable", http.StatusServiceUnavailable))
	default:
		httpx.WriteError(ctx, w, httpx.Internal())
	}
}

// detailMessage strips the sentinel prefix so clients see the detail only.
func detailMessage(err, sentinel error) string {
	msg := strings.TrimSpace(strings.TrimPrefix(err.Error(), sentinel.Error()+":"))
	if msg == "" || msg == err.Error() {
		return sentinel.Error()
	}
	return msg
}
