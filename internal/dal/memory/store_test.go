package memory

import (
	"context"
	"testing"
	"time"

	"github.com/corray333/backend-labs/foodorder/internal/dal/dalerr"
	"github.com/corray333/backend-labs/foodorder/internal/service/models/menuitem"
	"github.com/corray333/backend-labs/foodorder/internal/service/models/order"
	"github.com/corray333/backend-labs/foodorder/internal/service/models/payment"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRollbackUndoesWrites(t *testing.T) {
	ctx := context.Background()
	store := NewStore()
	tenantID := uuid.New()
	item := menuitem.MenuItem{ID: uuid.New(), TenantID: tenantID, Price: decimal.NewFromInt(100), InventoryCount: 5}
	store.AddMenuItem(item)

	work := store.NewUnitOfWork()
	require.NoError(t, work.Begin(ctx))

	_, err := work.MenuItemRepository().GetForUpdate(ctx, tenantID, item.ID)
	require.NoError(t, err)
	require.NoError(t, work.MenuItemRepository().DecrementInventory(ctx, item.ID, 3))

	o, err := work.OrderRepository().Insert(ctx, order.Order{
		ID:          uuid.New(),
		TenantID:    tenantID,
		OrderNumber: "2601010001-abcdefgh",
		Status:      order.StatusPending,
	})
	require.NoError(t, err)

	seq, err := work.OrderRepository().NextSequence(ctx, tenantID, time.Now())
	require.NoError(t, err)
	assert.Equal(t, int64(1), seq)

	require.NoError(t, work.Rollback(ctx))
	require.NoError(t, work.Rollback(ctx))

	got, _ := store.MenuItem(item.ID)
	assert.Equal(t, 5, got.InventoryCount)
	_, ok := store.Order(o.ID)
	assert.False(t, ok)

	// The counter restarts because its increment was rolled back too.
	seq, err = store.NewUnitOfWork().OrderRepository().NextSequence(ctx, tenantID, time.Now())
	require.NoError(t, err)
	assert.Equal(t, int64(1), seq)
}

func TestRowLockBlocksUntilCommit(t *testing.T) {
	ctx := context.Background()
	store := NewStore()
	tenantID := uuid.New()
	item := menuitem.MenuItem{ID: uuid.New(), TenantID: tenantID, InventoryCount: 1}
	store.AddMenuItem(item)

	first := store.NewUnitOfWork()
	require.NoError(t, first.Begin(ctx))
	_, err := first.MenuItemRepository().GetForUpdate(ctx, tenantID, item.ID)
	require.NoError(t, err)

	second := store.NewUnitOfWork()
	require.NoError(t, second.Begin(ctx))

	waitCtx, cancel := context.WithTimeout(ctx, 50*time.Millisecond)
	defer cancel()
	_, err = second.MenuItemRepository().GetForUpdate(waitCtx, tenantID, item.ID)
	require.ErrorIs(t, err, context.DeadlineExceeded)

	require.NoError(t, first.MenuItemRepository().DecrementInventory(ctx, item.ID, 1))
	require.NoError(t, first.Commit(ctx))

	locked, err := second.MenuItemRepository().GetForUpdate(ctx, tenantID, item.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, locked.InventoryCount)

	err = second.MenuItemRepository().DecrementInventory(ctx, item.ID, 1)
	require.ErrorIs(t, err, dalerr.ErrStaleWrite)
	require.NoError(t, second.Rollback(ctx))
}

func TestPaymentConstraints(t *testing.T) {
	ctx := context.Background()
	store := NewStore()
	repo := store.NewUnitOfWork().PaymentRepository()
	tenantID, orderID := uuid.New(), uuid.New()

	newPayment := func(checkout string) payment.Payment {
		return payment.Payment{
			ID:                uuid.New(),
			TenantID:          tenantID,
			OrderID:           orderID,
			CheckoutRequestID: checkout,
			Status:            payment.StatusPending,
			CreatedAt:         time.Now(),
		}
	}

	first, err := repo.Insert(ctx, newPayment("ws_CO_1"))
	require.NoError(t, err)
	_, err = repo.Insert(ctx, newPayment("ws_CO_1"))
	require.ErrorIs(t, err, dalerr.ErrDuplicate)

	second, err := repo.Insert(ctx, newPayment("ws_CO_2"))
	require.NoError(t, err)

	require.NoError(t, repo.MarkCompleted(ctx, payment.Completion{ID: first.ID, ReceiptNumber: "R1", CompletedAt: time.Now()}))
	require.ErrorIs(t,
		repo.MarkCompleted(ctx, payment.Completion{ID: first.ID, ReceiptNumber: "R1", CompletedAt: time.Now()}),
		dalerr.ErrStaleWrite,
	)
	require.ErrorIs(t,
		repo.MarkCompleted(ctx, payment.Completion{ID: second.ID, ReceiptNumber: "R2", CompletedAt: time.Now()}),
		dalerr.ErrDuplicate,
	)

	paid, err := repo.HasCompleted(ctx, orderID)
	require.NoError(t, err)
	assert.True(t, paid)
}
