package ordersvc

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	imenuitemrepo "github.com/corray333/backend-labs/foodorder/internal/dal/interfaces/imenuitemrepo"
	iorderitem "github.com/corray333/backend-labs/foodorder/internal/dal/interfaces/iorderitemrepo"
	iorder "github.com/corray333/backend-labs/foodorder/internal/dal/interfaces/iorderrepo"
	ioutboxrepo "github.com/corray333/backend-labs/foodorder/internal/dal/interfaces/ioutboxrepo"
	irestaurantrepo "github.com/corray333/backend-labs/foodorder/internal/dal/interfaces/irestaurantrepo"
	istatuslogrepo "github.com/corray333/backend-labs/foodorder/internal/dal/interfaces/istatuslogrepo"
	"github.com/corray333/backend-labs/foodorder/internal/dal/dalerr"
	"github.com/corray333/backend-labs/foodorder/internal/dal/postgres"
	"github.com/corray333/backend-labs/foodorder/internal/dal/uow"
	"github.com/corray333/backend-labs/foodorder/internal/metrics"
	"github.com/corray333/backend-labs/foodorder/internal/service/errs"
	"github.com/corray333/backend-labs/foodorder/internal/service/models/currency"
	"github.com/corray333/backend-labs/foodorder/internal/service/models/menuitem"
	"github.com/corray333/backend-labs/foodorder/internal/service/models/order"
	"github.com/corray333/backend-labs/foodorder/internal/service/models/orderitem"
	"github.com/corray333/backend-labs/foodorder/internal/service/models/outbox"
	"github.com/corray333/backend-labs/foodorder/internal/service/models/principal"
	"github.com/corray333/backend-labs/foodorder/internal/service/models/statuslog"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
)

const (
	defaultEventsQueue = "foodorder.events"
	defaultPageSize    = 20
	maxPageSize        = 100
)

// OrderService is a service for managing orders.
type OrderService struct {
	newUOW      func() unitOfWork
	metrics     *metrics.Metrics
	eventsQueue string
	now         func() time.Time
}

type unitOfWork interface {
	Begin(ctx context.Context) error
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error

	OrderRepository() iorder.IOrderRepository
	OrderItemRepository() iorderitem.IOrderItemRepository
	MenuItemRepository() imenuitemrepo.IMenuItemRepository
	RestaurantRepository() irestaurantrepo.IRestaurantRepository
	StatusLogRepository() istatuslogrepo.IStatusLogRepository
	OutboxRepository() ioutboxrepo.IOutboxRepository
}

// option is a function that configures the OrderService.
type option func(*OrderService)

// MustNewOrderService creates a new OrderService.
func MustNewOrderService(opts ...option) *OrderService {
	s := &OrderService{
		eventsQueue: defaultEventsQueue,
		now:         func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}

	if s.newUOW == nil {
		panic("ordersvc: no unit of work configured")
	}

	return s
}

// WithPostgresClient sets the Postgres client for the OrderService.
//
//goland:noinspection GoExportedFuncWithUnexportedType
func WithPostgresClient(pgClient *postgres.Client) option {
	return func(s *OrderService) {
		s.newUOW = func() unitOfWork {
			return uow.NewUnitOfWork(pgClient)
		}
	}
}

// WithUnitOfWorkFactory sets the function used to open units of work.
//
//goland:noinspection GoExportedFuncWithUnexportedType
func WithUnitOfWorkFactory(factory func() unitOfWork) option {
	return func(s *OrderService) {
		s.newUOW = factory
	}
}

// WithMetrics sets the metrics collectors for the OrderService.
//
//goland:noinspection GoExportedFuncWithUnexportedType
func WithMetrics(m *metrics.Metrics) option {
	return func(s *OrderService) {
		s.metrics = m
	}
}

// WithEventsQueue sets the queue domain events are published to.
//
//goland:noinspection GoExportedFuncWithUnexportedType
func WithEventsQueue(queue string) option {
	return func(s *OrderService) {
		s.eventsQueue = queue
	}
}

// WithClock overrides the time source.
//
//goland:noinspection GoExportedFuncWithUnexportedType
func WithClock(now func() time.Time) option {
	return func(s *OrderService) {
		s.now = now
	}
}

type reservation struct {
	item     menuitem.MenuItem
	quantity int
}

// CreateOrder validates the requested items against the inventory, reserves
// stock and stores a pending order in one transaction. Nothing is written
// unless every item can be reserved.
func (s *OrderService) CreateOrder(
	ctx context.Context,
	p principal.Principal,
	model order.CreateOrderModel,
) (order.Order, error) {
	ctx, span := otel.Tracer("service").Start(ctx, "OrderService.CreateOrder")
	defer span.End()

	orderType, err := validateCreate(model)
	if err != nil {
		return order.Order{}, err
	}

	work := s.newUOW()
	if err := work.Begin(ctx); err != nil {
		return order.Order{}, errs.Internal("begin transaction", err)
	}
	defer func() { _ = work.Rollback(ctx) }()

	rest, err := work.RestaurantRepository().GetByID(ctx, p.TenantID, model.RestaurantID)
	if err != nil {
		if errors.Is(err, dalerr.ErrNotFound) {
			return order.Order{}, errs.NotFound("restaurant %s not found", model.RestaurantID)
		}

		return order.Order{}, errs.Internal("get restaurant", err)
	}

	reserved, err := s.reserve(ctx, work, p.TenantID, rest.ID, model.Items)
	if err != nil {
		return order.Order{}, err
	}

	now := s.now()
	o := order.Order{
		ID:                  uuid.New(),
		TenantID:            p.TenantID,
		UserID:              p.UserID,
		RestaurantID:        rest.ID,
		Status:              order.StatusPending,
		OrderType:           orderType,
		Currency:            currency.CurrencyKES,
		DeliveryAddress:     model.DeliveryAddress,
		SpecialInstructions: model.SpecialInstructions,
		CreatedAt:           now,
		UpdatedAt:           now,
	}

	items := make([]orderitem.OrderItem, 0, len(model.Items))
	for _, req := range model.Items {
		menuItem := reserved[req.MenuItemID].item
		items = append(items, orderitem.OrderItem{
			ID:           uuid.New(),
			OrderID:      o.ID,
			MenuItemID:   menuItem.ID,
			MenuItemName: menuItem.Name,
			Quantity:     req.Quantity,
			UnitPrice:    menuItem.Price,
			ItemTotal:    menuItem.Price.Mul(decimal.NewFromInt(int64(req.Quantity))),
			Notes:        req.Notes,
			CreatedAt:    now,
		})
	}
	o.Items = items
	o.TotalAmount = o.ItemsTotal()

	seq, err := work.OrderRepository().NextSequence(ctx, p.TenantID, now.Truncate(24*time.Hour))
	if err != nil {
		return order.Order{}, errs.Internal("next order sequence", err)
	}
	o.OrderNumber = orderNumber(now, seq, p.TenantID)

	if _, err := work.OrderRepository().Insert(ctx, o); err != nil {
		if errors.Is(err, dalerr.ErrDuplicate) {
			return order.Order{}, errs.Conflict("order number %s is already taken", o.OrderNumber)
		}

		return order.Order{}, errs.Internal("insert order", err)
	}

	stored, err := work.OrderItemRepository().BulkInsert(ctx, items)
	if err != nil {
		return order.Order{}, errs.Internal("insert order items", err)
	}

	for id, r := range reserved {
		if err := work.MenuItemRepository().DecrementInventory(ctx, id, r.quantity); err != nil {
			if errors.Is(err, dalerr.ErrStaleWrite) {
				return order.Order{}, errs.Validation("insufficient inventory for %s", r.item.Name)
			}

			return order.Order{}, errs.Internal("decrement inventory", err)
		}
	}

	entry := statuslog.New(o.ID, "", order.StatusPending, p.UserID.String(), "Order created")
	if _, err := work.StatusLogRepository().Append(ctx, entry); err != nil {
		return order.Order{}, errs.Internal("append status log", err)
	}

	msg, err := outbox.NewMessage(s.eventsQueue, outbox.Event{
		Type:     outbox.EventOrderCreated,
		TenantID: o.TenantID,
		OrderID:  o.ID,
		Data: map[string]any{
			"orderNumber": o.OrderNumber,
			"userId":      o.UserID,
			"totalAmount": o.TotalAmount,
			"currency":    o.Currency,
			"itemCount":   len(items),
		},
	}, now)
	if err != nil {
		return order.Order{}, errs.Internal("build order event", err)
	}
	if err := work.OutboxRepository().Insert(ctx, msg); err != nil {
		return order.Order{}, errs.Internal("insert outbox message", err)
	}

	if err := work.Commit(ctx); err != nil {
		return order.Order{}, errs.Internal("commit order", err)
	}

	o.Items = stored
	s.metrics.OrderCreated(o.OrderType.String())
	span.SetAttributes(attribute.String("order.id", o.ID.String()))
	slog.InfoContext(ctx, "Order created",
		"order_id", o.ID,
		"order_number", o.OrderNumber,
		"tenant_id", o.TenantID,
		"total_amount", o.TotalAmount.String(),
		"items", len(stored),
	)

	return o, nil
}

// reserve locks every requested menu item in ascending id order, so that
// concurrent orders over the same items cannot deadlock, and checks stock
// against the summed quantity of each item.
func (s *OrderService) reserve(
	ctx context.Context,
	work unitOfWork,
	tenantID, restaurantID uuid.UUID,
	requested []order.CreateItemModel,
) (map[uuid.UUID]*reservation, error) {
	reserved := make(map[uuid.UUID]*reservation, len(requested))
	ids := make([]uuid.UUID, 0, len(requested))
	for _, req := range requested {
		if r, ok := reserved[req.MenuItemID]; ok {
			r.quantity += req.Quantity

			continue
		}
		reserved[req.MenuItemID] = &reservation{quantity: req.Quantity}
		ids = append(ids, req.MenuItemID)
	}
	sort.Slice(ids, func(i, j int) bool { return bytes.Compare(ids[i][:], ids[j][:]) < 0 })

	for _, id := range ids {
		item, err := work.MenuItemRepository().GetForUpdate(ctx, tenantID, id)
		if err != nil {
			if errors.Is(err, dalerr.ErrNotFound) {
				return nil, errs.Validation("menu item %s is not available", id)
			}

			return nil, errs.Internal("lock menu item", err)
		}

		r := reserved[id]
		switch {
		case item.RestaurantID != restaurantID:
			return nil, errs.Validation("menu item %s is not served by this restaurant", item.Name)
		case !item.IsAvailable:
			return nil, errs.Validation("item %s is not available", item.Name)
		case item.InventoryCount < r.quantity:
			return nil, errs.Validation(
				"insufficient inventory for %s: requested %d, available %d",
				item.Name, r.quantity, item.InventoryCount,
			)
		}
		r.item = item
	}

	return reserved, nil
}

func validateCreate(model order.CreateOrderModel) (order.Type, error) {
	if model.RestaurantID == uuid.Nil {
		return "", errs.Validation("restaurant id is required")
	}
	if len(model.Items) == 0 {
		return "", errs.Validation("order must contain at least one item")
	}
	for i, item := range model.Items {
		if item.MenuItemID == uuid.Nil {
			return "", errs.Validation("item %d: menu item id is required", i)
		}
		if item.Quantity <= 0 {
			return "", errs.Validation("item %d: quantity must be positive", i)
		}
	}

	orderType, err := order.ParseType(model.OrderType.String())
	if err != nil {
		return "", errs.Validation("unknown order type %q", model.OrderType)
	}

	return orderType, nil
}

// orderNumber renders YYMMDDNNNN-<first 8 chars of the tenant id>. The
// first 12 characters fit the provider's account reference.
func orderNumber(now time.Time, seq int64, tenantID uuid.UUID) string {
	return fmt.Sprintf("%s%04d-%s", now.Format("060102"), seq, tenantID.String()[:8])
}

// GetOrder returns one of the caller's orders with its items.
func (s *OrderService) GetOrder(ctx context.Context, p principal.Principal, id uuid.UUID) (order.Order, error) {
	ctx, span := otel.Tracer("service").Start(ctx, "OrderService.GetOrder")
	defer span.End()

	work := s.newUOW()

	o, err := work.OrderRepository().GetByID(ctx, p.TenantID, id)
	if err != nil {
		if errors.Is(err, dalerr.ErrNotFound) {
			return order.Order{}, errs.NotFound("order %s not found", id)
		}

		return order.Order{}, errs.Internal("get order", err)
	}
	if o.UserID != p.UserID {
		return order.Order{}, errs.NotFound("order %s not found", id)
	}

	items, err := work.OrderItemRepository().Query(ctx, &orderitem.QueryOrderItemsModel{OrderIds: []uuid.UUID{o.ID}})
	if err != nil {
		return order.Order{}, errs.Internal("query order items", err)
	}
	o.Items = items

	return o, nil
}

// ListOrders retrieves the caller's orders, newest first, with their items.
func (s *OrderService) ListOrders(
	ctx context.Context,
	p principal.Principal,
	model order.QueryOrdersModel,
) ([]order.Order, error) {
	ctx, span := otel.Tracer("service").Start(ctx, "OrderService.ListOrders")
	defer span.End()

	query := &order.QueryOrdersModel{
		TenantID: p.TenantID,
		UserID:   p.UserID,
		Ids:      model.Ids,
		Limit:    model.Limit,
		Offset:   model.Offset,
	}
	if query.Limit <= 0 {
		query.Limit = defaultPageSize
	}
	if query.Limit > maxPageSize {
		query.Limit = maxPageSize
	}
	if query.Offset < 0 {
		query.Offset = 0
	}

	work := s.newUOW()

	orders, err := work.OrderRepository().Query(ctx, query)
	if err != nil {
		return nil, errs.Internal("query orders", err)
	}

	if len(orders) == 0 {
		return []order.Order{}, nil
	}

	orderItemQuery := &orderitem.QueryOrderItemsModel{}
	for _, o := range orders {
		orderItemQuery.OrderIds = append(orderItemQuery.OrderIds, o.ID)
	}
	orderItems, err := work.OrderItemRepository().Query(ctx, orderItemQuery)
	if err != nil {
		return nil, errs.Internal("query order items", err)
	}

	for i := range orders {
		orders[i].Items = []orderitem.OrderItem{}
		for _, item := range orderItems {
			if item.OrderID == orders[i].ID {
				orders[i].Items = append(orders[i].Items, item)
			}
		}
	}

	return orders, nil
}
