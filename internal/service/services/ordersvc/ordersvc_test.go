package ordersvc

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/corray333/backend-labs/foodorder/internal/dal/memory"
	"github.com/corray333/backend-labs/foodorder/internal/service/errs"
	"github.com/corray333/backend-labs/foodorder/internal/service/models/menuitem"
	"github.com/corray333/backend-labs/foodorder/internal/service/models/order"
	"github.com/corray333/backend-labs/foodorder/internal/service/models/outbox"
	"github.com/corray333/backend-labs/foodorder/internal/service/models/principal"
	"github.com/corray333/backend-labs/foodorder/internal/service/models/restaurant"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixture struct {
	store   *memory.Store
	svc     *OrderService
	caller  principal.Principal
	rest    restaurant.Restaurant
	pilau   menuitem.MenuItem
	chapati menuitem.MenuItem
}

func newFixture(t *testing.T, pilauStock, chapatiStock int) *fixture {
	t.Helper()

	store := memory.NewStore()
	caller := principal.Principal{UserID: uuid.New(), TenantID: uuid.New()}
	rest := restaurant.Restaurant{ID: uuid.New(), TenantID: caller.TenantID, Name: "Mama Oliech"}
	store.AddRestaurant(rest)

	pilau := menuitem.MenuItem{
		ID:             uuid.New(),
		TenantID:       caller.TenantID,
		RestaurantID:   rest.ID,
		Name:           "Pilau",
		Price:          decimal.NewFromInt(450),
		IsAvailable:    true,
		InventoryCount: pilauStock,
	}
	chapati := menuitem.MenuItem{
		ID:             uuid.New(),
		TenantID:       caller.TenantID,
		RestaurantID:   rest.ID,
		Name:           "Chapati",
		Price:          decimal.NewFromInt(250),
		IsAvailable:    true,
		InventoryCount: chapatiStock,
	}
	store.AddMenuItem(pilau)
	store.AddMenuItem(chapati)

	clock := time.Date(2024, 3, 1, 9, 30, 0, 0, time.UTC)
	svc := MustNewOrderService(
		WithUnitOfWorkFactory(func() unitOfWork { return store.NewUnitOfWork() }),
		WithClock(func() time.Time { return clock }),
	)

	return &fixture{store: store, svc: svc, caller: caller, rest: rest, pilau: pilau, chapati: chapati}
}

func (f *fixture) request(pilauQty, chapatiQty int) order.CreateOrderModel {
	return order.CreateOrderModel{
		RestaurantID: f.rest.ID,
		OrderType:    order.TypeDelivery,
		Items: []order.CreateItemModel{
			{MenuItemID: f.pilau.ID, Quantity: pilauQty},
			{MenuItemID: f.chapati.ID, Quantity: chapatiQty},
		},
	}
}

func (f *fixture) stock(t *testing.T, id uuid.UUID) int {
	t.Helper()

	item, ok := f.store.MenuItem(id)
	require.True(t, ok)

	return item.InventoryCount
}

func TestCreateOrder(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 10, 10)

	o, err := f.svc.CreateOrder(ctx, f.caller, f.request(1, 2))
	require.NoError(t, err)

	assert.Equal(t, order.StatusPending, o.Status)
	assert.True(t, decimal.NewFromInt(950).Equal(o.TotalAmount), "total %s", o.TotalAmount)
	assert.True(t, o.TotalAmount.Equal(o.ItemsTotal()))
	assert.Equal(t, "2403010001-"+f.caller.TenantID.String()[:8], o.OrderNumber)
	require.Len(t, o.Items, 2)
	assert.Equal(t, "Pilau", o.Items[0].MenuItemName)
	assert.True(t, decimal.NewFromInt(500).Equal(o.Items[1].ItemTotal))

	assert.Equal(t, 9, f.stock(t, f.pilau.ID))
	assert.Equal(t, 8, f.stock(t, f.chapati.ID))

	log := f.store.StatusLog(o.ID)
	require.Len(t, log, 1)
	assert.Empty(t, log[0].OldStatus)
	assert.Equal(t, order.StatusPending, log[0].NewStatus)
	assert.Equal(t, f.caller.UserID.String(), log[0].ChangedBy)

	msgs := f.store.OutboxMessages()
	require.Len(t, msgs, 1)
	var ev outbox.Event
	require.NoError(t, json.Unmarshal(msgs[0].Payload, &ev))
	assert.Equal(t, outbox.EventOrderCreated, ev.Type)
	assert.Equal(t, o.ID, ev.OrderID)

	second, err := f.svc.CreateOrder(ctx, f.caller, f.request(1, 1))
	require.NoError(t, err)
	assert.Equal(t, "2403010002-"+f.caller.TenantID.String()[:8], second.OrderNumber)
}

func TestCreateOrderRejections(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(f *fixture, req *order.CreateOrderModel)
		kind   errs.Kind
	}{
		{
			name:   "insufficient stock on one line",
			mutate: func(f *fixture, req *order.CreateOrderModel) { req.Items[1].Quantity = 3 },
			kind:   errs.KindValidation,
		},
		{
			name: "duplicate lines summed past stock",
			mutate: func(f *fixture, req *order.CreateOrderModel) {
				req.Items = append(req.Items, order.CreateItemModel{MenuItemID: f.chapati.ID, Quantity: 1})
			},
			kind: errs.KindValidation,
		},
		{
			name:   "empty items",
			mutate: func(f *fixture, req *order.CreateOrderModel) { req.Items = nil },
			kind:   errs.KindValidation,
		},
		{
			name:   "zero quantity",
			mutate: func(f *fixture, req *order.CreateOrderModel) { req.Items[0].Quantity = 0 },
			kind:   errs.KindValidation,
		},
		{
			name: "unknown menu item",
			mutate: func(f *fixture, req *order.CreateOrderModel) {
				req.Items[0].MenuItemID = uuid.New()
			},
			kind: errs.KindValidation,
		},
		{
			name:   "unknown order type",
			mutate: func(f *fixture, req *order.CreateOrderModel) { req.OrderType = "drone" },
			kind:   errs.KindValidation,
		},
		{
			name:   "unknown restaurant",
			mutate: func(f *fixture, req *order.CreateOrderModel) { req.RestaurantID = uuid.New() },
			kind:   errs.KindNotFound,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, 5, 2)
			req := f.request(1, 2)
			tt.mutate(f, &req)

			_, err := f.svc.CreateOrder(context.Background(), f.caller, req)
			require.Error(t, err)
			assert.Equal(t, tt.kind, errs.KindOf(err))

			assert.Equal(t, 5, f.stock(t, f.pilau.ID))
			assert.Equal(t, 2, f.stock(t, f.chapati.ID))
			assert.Empty(t, f.store.Orders())
			assert.Empty(t, f.store.OutboxMessages())
		})
	}
}

func TestCreateOrderUnavailableItem(t *testing.T) {
	f := newFixture(t, 5, 5)
	f.chapati.IsAvailable = false
	f.store.AddMenuItem(f.chapati)

	_, err := f.svc.CreateOrder(context.Background(), f.caller, f.request(1, 1))
	require.Error(t, err)
	assert.Equal(t, errs.KindValidation, errs.KindOf(err))
	assert.Equal(t, 5, f.stock(t, f.pilau.ID))
}

func TestCreateOrderOtherTenantRestaurant(t *testing.T) {
	f := newFixture(t, 5, 5)
	stranger := principal.Principal{UserID: uuid.New(), TenantID: uuid.New()}

	_, err := f.svc.CreateOrder(context.Background(), stranger, f.request(1, 1))
	require.Error(t, err)
	assert.Equal(t, errs.KindNotFound, errs.KindOf(err))
}

func TestCreateOrderRollsBackOnStoreFailure(t *testing.T) {
	faults := []string{"outbox.Insert", "statuslog.Append", "orderitem.BulkInsert", "uow.Commit"}

	for _, op := range faults {
		t.Run(op, func(t *testing.T) {
			f := newFixture(t, 5, 5)
			f.store.SetFault(op, errors.New("connection reset"))

			_, err := f.svc.CreateOrder(context.Background(), f.caller, f.request(2, 2))
			require.Error(t, err)
			assert.Equal(t, errs.KindInternal, errs.KindOf(err))

			assert.Equal(t, 5, f.stock(t, f.pilau.ID))
			assert.Equal(t, 5, f.stock(t, f.chapati.ID))
			assert.Empty(t, f.store.Orders())
			assert.Empty(t, f.store.OutboxMessages())
		})
	}
}

func TestCreateOrderConcurrentNoOversell(t *testing.T) {
	const (
		stock   = 5
		buyers  = 20
		perUser = 1
	)
	f := newFixture(t, stock, buyers)

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		succeeded int
	)
	for range buyers {
		wg.Add(1)
		go func() {
			defer wg.Done()

			_, err := f.svc.CreateOrder(context.Background(), f.caller, f.request(perUser, 1))
			if err == nil {
				mu.Lock()
				succeeded++
				mu.Unlock()

				return
			}
			assert.Equal(t, errs.KindValidation, errs.KindOf(err))
		}()
	}
	wg.Wait()

	assert.Equal(t, stock, succeeded)
	assert.Equal(t, 0, f.stock(t, f.pilau.ID))
	assert.Equal(t, buyers-stock, f.stock(t, f.chapati.ID))
	assert.Len(t, f.store.Orders(), stock)
}

func TestGetAndListOrders(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 10, 10)

	first, err := f.svc.CreateOrder(ctx, f.caller, f.request(1, 1))
	require.NoError(t, err)
	_, err = f.svc.CreateOrder(ctx, f.caller, f.request(2, 1))
	require.NoError(t, err)

	got, err := f.svc.GetOrder(ctx, f.caller, first.ID)
	require.NoError(t, err)
	assert.Equal(t, first.OrderNumber, got.OrderNumber)
	assert.Len(t, got.Items, 2)

	other := principal.Principal{UserID: uuid.New(), TenantID: f.caller.TenantID}
	_, err = f.svc.GetOrder(ctx, other, first.ID)
	assert.Equal(t, errs.KindNotFound, errs.KindOf(err))

	orders, err := f.svc.ListOrders(ctx, f.caller, order.QueryOrdersModel{})
	require.NoError(t, err)
	require.Len(t, orders, 2)
	for _, o := range orders {
		assert.Len(t, o.Items, 2)
	}

	page, err := f.svc.ListOrders(ctx, f.caller, order.QueryOrdersModel{Limit: 1, Offset: 1})
	require.NoError(t, err)
	assert.Len(t, page, 1)

	none, err := f.svc.ListOrders(ctx, other, order.QueryOrdersModel{})
	require.NoError(t, err)
	assert.Empty(t, none)
}
