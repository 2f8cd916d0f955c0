package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
	"github.com/shopspring/decimal"

	domain "github.com/chicken-store/orders-api/internal/domain"
	"github.com/chicken-store/orders-api/internal/platform/textutil"
	"github.com/chicken-store/orders-api/internal/repositories"
)

const (
	orderIDPrefix     = "ord_"
	orderItemIDPrefix = "itm_"

	maxNotesRunes        = 2000
	orderNumberAttempts  = 3
	maxOrderLinesPerCall = 100
)

var (
	// ErrOrderInvalidInput signals the caller provided invalid data.
	ErrOrderInvalidInput = errors.New("order: invalid input")
	// ErrOrderNotFound indicates the order could not be located or is not visible to the caller.
	ErrOrderNotFound = errors.New("order: not found")
	// ErrOrderPermissionDenied indicates the caller's role may not perform the operation.
	ErrOrderPermissionDenied = errors.New("order: permission denied")
	// ErrOrderConflict indicates a concurrent write won the race.
	ErrOrderConflict = errors.New("order: conflict")
	// ErrOrderUnavailable indicates the store could not be reached.
	ErrOrderUnavailable = errors.New("order: repository unavailable")
)

// OrderServiceDeps bundles collaborators required to construct the order service.
type OrderServiceDeps struct {
	Registry          OrderRegistry
	Directory         BuyerDirectory
	Events            OrderEventPublisher
	BusinessLocation  *time.Location
	Clock             func() time.Time
	IDGenerator       func() string
	OrderNumberSource func() string
	Metrics           Metrics
	Logger            Logger
}

// OrderRegistry is the repository subset the order service needs.
type OrderRegistry interface {
	repositories.UnitOfWork
	Products() repositories.ProductRepository
	Orders() repositories.OrderRepository
}

type orderService struct {
	unitOfWork repositories.UnitOfWork
	orders     repositories.OrderRepository
	ledger     stockLedger
	directory  BuyerDirectory
	events     OrderEventPublisher
	location   *time.Location
	clock      func() time.Time
	newID      func() string
	newNumber  func() string
	logger     Logger
}

var _ OrderService = (*orderService)(nil)

// NewOrderService wires dependencies into a concrete OrderService implementation.
func NewOrderService(deps OrderServiceDeps) (OrderService, error) {
	if deps.Registry == nil {
		return nil, errors.New("order service: registry is required")
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	idGen := deps.IDGenerator
	if idGen == nil {
		idGen = func() string { return ulid.Make().String() }
	}
	numbers := deps.OrderNumberSource
	if numbers == nil {
		numbers = newOrderNumber
	}
	metrics := deps.Metrics
	if metrics == nil {
		metrics = noopMetrics{}
	}
	logger := deps.Logger
	if logger == nil {
		logger = noopLogger
	}
	loc := deps.BusinessLocation
	if loc == nil {
		loc = time.UTC
	}

	return &orderService{
		unitOfWork: deps.Registry,
		orders:     deps.Registry.Orders(),
		ledger:     stockLedger{products: deps.Registry.Products(), metrics: metrics},
		directory:  deps.Directory,
		events:     deps.Events,
		location:   loc,
		clock: func() time.Time {
			return clock().UTC()
		},
		newID:     idGen,
		newNumber: numbers,
		logger:    logger,
	}, nil
}

// newOrderNumber takes the final group of a random UUID: 12 upper-case hex characters.
func newOrderNumber() string {
	id := uuid.NewString()
	return strings.ToUpper(id[strings.LastIndex(id, "-")+1:])
}

func (s *orderService) CreateOrder(ctx context.Context, cmd CreateOrderCommand) (Order, error) {
	if !hasRole(cmd.ActorRoles, RoleBuyer) || hasRole(cmd.ActorRoles, RoleSeller) {
		return Order{}, fmt.Errorf("%w: only buyers can place orders", ErrOrderPermissionDenied)
	}
	buyerID := strings.TrimSpace(cmd.ActorID)
	if buyerID == "" {
		return Order{}, fmt.Errorf("%w: buyer id is required", ErrOrderInvalidInput)
	}
	lines, err := normalizeLines(cmd.Items)
	if err != nil {
		return Order{}, err
	}
	notes := textutil.SanitizePlainText(cmd.Notes, maxNotesRunes)
	buyer := s.resolveBuyer(ctx, buyerID, cmd.Buyer)

	var created Order
	for attempt := 1; ; attempt++ {
		created, err = s.createOnce(ctx, buyerID, buyer, notes, lines)
		if err == nil {
			break
		}
		if !errors.Is(err, ErrOrderConflict) || attempt >= orderNumberAttempts {
			return Order{}, err
		}
		s.logger(ctx, "order.create.retry", map[string]any{"attempt": attempt, "error": err.Error()})
	}

	s.publish(ctx, OrderEvent{
		Type:       OrderEventCreated,
		Order:      created,
		ActorID:    buyerID,
		OccurredAt: created.CreatedAt,
	})
	return created, nil
}

func (s *orderService) createOnce(ctx context.Context, buyerID string, buyer BuyerContact, notes string, lines []OrderLineInput) (Order, error) {
	var order Order
	err := s.unitOfWork.RunInTx(ctx, func(txCtx context.Context) error {
		reserved, err := s.ledger.ReserveAll(txCtx, lines)
		if err != nil {
			return err
		}

		now := s.clock()
		order = Order{
			ID:          orderIDPrefix + s.newID(),
			OrderNumber: s.newNumber(),
			BuyerID:     buyerID,
			Buyer:       buyer,
			Status:      domain.OrderStatusPending,
			Notes:       notes,
			CreatedAt:   now,
			UpdatedAt:   now,
		}
		order.Items = make([]OrderItem, 0, len(reserved))
		for _, r := range reserved {
			order.Items = append(order.Items, OrderItem{
				ID:          orderItemIDPrefix + s.newID(),
				OrderID:     order.ID,
				ProductID:   r.Product.ID,
				ProductName: r.Product.Name,
				ProductType: r.Product.ProductType,
				QuantityKg:  r.Qty,
				CreatedAt:   now,
			})
		}
		order.TotalWeight = domain.SumQuantities(order.Items)

		if err := s.orders.Insert(txCtx, order); err != nil {
			return s.mapRepositoryError(err)
		}
		return nil
	})
	if err != nil {
		return Order{}, err
	}
	return order, nil
}

func (s *orderService) TransitionStatus(ctx context.Context, cmd TransitionCommand) (Order, error) {
	if !hasRole(cmd.ActorRoles, RoleSeller) {
		return Order{}, fmt.Errorf("%w: only sellers can change order status", ErrOrderPermissionDenied)
	}
	orderID := strings.TrimSpace(cmd.OrderID)
	if orderID == "" {
		return Order{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}
	target := domain.OrderStatus(strings.ToLower(strings.TrimSpace(string(cmd.Status))))
	if target == "" {
		return Order{}, fmt.Errorf("%w: status is required", ErrOrderInvalidInput)
	}
	if !target.Valid() {
		return Order{}, fmt.Errorf("%w: unknown status %q", ErrOrderInvalidInput, cmd.Status)
	}

	var (
		updated  Order
		previous OrderStatus
	)
	err := s.unitOfWork.RunInTx(ctx, func(txCtx context.Context) error {
		order, err := s.orders.FindForUpdate(txCtx, orderID)
		if err != nil {
			return s.mapRepositoryError(err)
		}
		previous = order.Status
		if !CanTransition(order.Status, target) {
			return &InvalidTransitionError{From: order.Status, To: target}
		}
		if restoresStock(order.Status, target) {
			if err := s.ledger.RestoreAll(txCtx, order.Items); err != nil {
				return err
			}
		}

		now := s.clock()
		update := repositories.OrderStatusUpdate{
			OrderID:   order.ID,
			From:      order.Status,
			To:        target,
			UpdatedAt: now,
		}
		if target == domain.OrderStatusCompleted {
			update.CompletedAt = &now
			order.CompletedAt = &now
		}
		if err := s.orders.UpdateStatus(txCtx, update); err != nil {
			return s.mapRepositoryError(err)
		}
		order.Status = target
		order.UpdatedAt = now
		updated = order
		return nil
	})
	if err != nil {
		return Order{}, err
	}

	s.publish(ctx, OrderEvent{
		Type:           OrderEventStatusChanged,
		Order:          updated,
		PreviousStatus: previous,
		ActorID:        cmd.ActorID,
		OccurredAt:     updated.UpdatedAt,
	})
	return updated, nil
}

func (s *orderService) GetOrder(ctx context.Context, query GetOrderQuery) (Order, error) {
	orderID := strings.TrimSpace(query.OrderID)
	if orderID == "" {
		return Order{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}
	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return Order{}, s.mapRepositoryError(err)
	}
	if !hasRole(query.ActorRoles, RoleSeller) && order.BuyerID != query.ActorID {
		return Order{}, fmt.Errorf("%w: %s", ErrOrderNotFound, orderID)
	}
	return order, nil
}

func (s *orderService) ListOrders(ctx context.Context, query ListOrdersQuery) (domain.CursorPage[Order], error) {
	filter := repositories.OrderListFilter{
		Search:     strings.TrimSpace(query.Search),
		Pagination: query.Pagination,
	}
	if !hasRole(query.ActorRoles, RoleSeller) {
		if strings.TrimSpace(query.ActorID) == "" {
			return domain.CursorPage[Order]{}, fmt.Errorf("%w: actor is required", ErrOrderPermissionDenied)
		}
		filter.BuyerID = query.ActorID
	}
	for _, status := range query.Statuses {
		if !status.Valid() {
			return domain.CursorPage[Order]{}, fmt.Errorf("%w: unknown status %q", ErrOrderInvalidInput, status)
		}
		filter.Statuses = append(filter.Statuses, status)
	}
	if query.StartDate != nil {
		from := domain.DateIn(*query.StartDate, s.location)
		filter.CreatedFrom = &from
	}
	if query.EndDate != nil {
		to := domain.DateIn(*query.EndDate, s.location).AddDate(0, 0, 1)
		filter.CreatedTo = &to
	}
	if filter.CreatedFrom != nil && filter.CreatedTo != nil && !filter.CreatedFrom.Before(*filter.CreatedTo) {
		return domain.CursorPage[Order]{}, fmt.Errorf("%w: start_date must not be after end_date", ErrOrderInvalidInput)
	}

	page, err := s.orders.List(ctx, filter)
	if err != nil {
		return domain.CursorPage[Order]{}, s.mapRepositoryError(err)
	}
	return page, nil
}

func (s *orderService) resolveBuyer(ctx context.Context, uid string, supplied BuyerContact) BuyerContact {
	if supplied != (BuyerContact{}) || s.directory == nil {
		return supplied
	}
	contact, err := s.directory.LookupBuyer(ctx, uid)
	if err != nil {
		s.logger(ctx, "order.buyer.lookup.failed", map[string]any{"buyerID": uid, "error": err.Error()})
		return BuyerContact{}
	}
	return contact
}

func (s *orderService) publish(ctx context.Context, event OrderEvent) {
	if s.events == nil {
		return
	}
	if err := s.events.PublishOrderEvent(ctx, event); err != nil {
		s.logger(ctx, "order.event.publish.failed", map[string]any{
			"type":    event.Type,
			"orderID": event.Order.ID,
			"status":  string(event.Order.Status),
			"error":   err.Error(),
		})
	}
}

func (s *orderService) mapRepositoryError(err error) error {
	if err == nil {
		return nil
	}
	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		switch {
		case repoErr.IsNotFound():
			return fmt.Errorf("%w: %v", ErrOrderNotFound, err)
		case repoErr.IsConflict():
			return fmt.Errorf("%w: %v", ErrOrderConflict, err)
		case repoErr.IsUnavailable():
			return fmt.Errorf("%w: %v", ErrOrderUnavailable, err)
		}
	}
	return err
}

// normalizeLines validates quantities and merges lines for the same product.
func normalizeLines(items []OrderLineInput) ([]OrderLineInput, error) {
	if len(items) == 0 {
		return nil, fmt.Errorf("%w: at least one item is required", ErrOrderInvalidInput)
	}
	if len(items) > maxOrderLinesPerCall {
		return nil, fmt.Errorf("%w: at most %d items are allowed", ErrOrderInvalidInput, maxOrderLinesPerCall)
	}
	merged := make(map[string]decimal.Decimal, len(items))
	order := make([]string, 0, len(items))
	for i, item := range items {
		productID := strings.TrimSpace(item.ProductID)
		if productID == "" {
			return nil, fmt.Errorf("%w: items[%d].product_id is required", ErrOrderInvalidInput, i)
		}
		if err := domain.ValidateQuantity(item.QuantityKg); err != nil {
			return nil, fmt.Errorf("%w: items[%d].quantity_kg: %v", ErrOrderInvalidInput, i, err)
		}
		if _, seen := merged[productID]; !seen {
			order = append(order, productID)
		}
		merged[productID] = merged[productID].Add(item.QuantityKg)
	}
	out := make([]OrderLineInput, 0, len(order))
	for _, id := range order {
		out = append(out, OrderLineInput{ProductID: id, QuantityKg: merged[id]})
	}
	return out, nil
}
