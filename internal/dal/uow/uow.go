package uow

import (
	"context"
	"errors"

	iinboxrepo "github.com/corray333/backend-labs/foodorder/internal/dal/interfaces/iinboxrepo"
	imenuitemrepo "github.com/corray333/backend-labs/foodorder/internal/dal/interfaces/imenuitemrepo"
	iorderitem "github.com/corray333/backend-labs/foodorder/internal/dal/interfaces/iorderitemrepo"
	iorder "github.com/corray333/backend-labs/foodorder/internal/dal/interfaces/iorderrepo"
	ioutboxrepo "github.com/corray333/backend-labs/foodorder/internal/dal/interfaces/ioutboxrepo"
	ipaymentrepo "github.com/corray333/backend-labs/foodorder/internal/dal/interfaces/ipaymentrepo"
	irestaurantrepo "github.com/corray333/backend-labs/foodorder/internal/dal/interfaces/irestaurantrepo"
	istatuslogrepo "github.com/corray333/backend-labs/foodorder/internal/dal/interfaces/istatuslogrepo"
	"github.com/corray333/backend-labs/foodorder/internal/dal/postgres"
	inboxrepo "github.com/corray333/backend-labs/foodorder/internal/dal/repositories/inbox/postgres"
	menuitemrepo "github.com/corray333/backend-labs/foodorder/internal/dal/repositories/menuitem/postgres"
	orderrepo "github.com/corray333/backend-labs/foodorder/internal/dal/repositories/order/postgres"
	orderitemrepo "github.com/corray333/backend-labs/foodorder/internal/dal/repositories/orderitem/postgres"
	outboxrepo "github.com/corray333/backend-labs/foodorder/internal/dal/repositories/outbox/postgres"
	paymentrepo "github.com/corray333/backend-labs/foodorder/internal/dal/repositories/payment/postgres"
	restaurantrepo "github.com/corray333/backend-labs/foodorder/internal/dal/repositories/restaurant/postgres"
	statuslogrepo "github.com/corray333/backend-labs/foodorder/internal/dal/repositories/statuslog/postgres"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type unitOfWork struct {
	pool *pgxpool.Pool
	tx   pgx.Tx

	orderRepo      iorder.IOrderRepository
	orderItemRepo  iorderitem.IOrderItemRepository
	menuItemRepo   imenuitemrepo.IMenuItemRepository
	restaurantRepo irestaurantrepo.IRestaurantRepository
	paymentRepo    ipaymentrepo.IPaymentRepository
	statusLogRepo  istatuslogrepo.IStatusLogRepository
	outboxRepo     ioutboxrepo.IOutboxRepository
	inboxRepo      iinboxrepo.IInboxRepository
}

func (u *unitOfWork) OrderRepository() iorder.IOrderRepository {
	return u.orderRepo
}

func (u *unitOfWork) OrderItemRepository() iorderitem.IOrderItemRepository {
	return u.orderItemRepo
}

func (u *unitOfWork) MenuItemRepository() imenuitemrepo.IMenuItemRepository {
	return u.menuItemRepo
}

func (u *unitOfWork) RestaurantRepository() irestaurantrepo.IRestaurantRepository {
	return u.restaurantRepo
}

func (u *unitOfWork) PaymentRepository() ipaymentrepo.IPaymentRepository {
	return u.paymentRepo
}

func (u *unitOfWork) StatusLogRepository() istatuslogrepo.IStatusLogRepository {
	return u.statusLogRepo
}

func (u *unitOfWork) OutboxRepository() ioutboxrepo.IOutboxRepository {
	return u.outboxRepo
}

func (u *unitOfWork) InboxRepository() iinboxrepo.IInboxRepository {
	return u.inboxRepo
}

// NewUnitOfWork creates a unit of work whose repositories run on the pool
// until Begin is called.
//
//goland:noinspection GoExportedFuncWithUnexportedType
func NewUnitOfWork(client *postgres.Client) *unitOfWork {
	u := &unitOfWork{pool: client.Pool()}
	u.bind(client.Pool())

	return u
}

func (u *unitOfWork) bind(conn postgres.GenericConn) {
	u.orderRepo = orderrepo.NewPostgresOrderRepository(conn)
	u.orderItemRepo = orderitemrepo.NewPostgresOrderItemRepository(conn)
	u.menuItemRepo = menuitemrepo.NewPostgresMenuItemRepository(conn)
	u.restaurantRepo = restaurantrepo.NewPostgresRestaurantRepository(conn)
	u.paymentRepo = paymentrepo.NewPostgresPaymentRepository(conn)
	u.statusLogRepo = statuslogrepo.NewPostgresStatusLogRepository(conn)
	u.outboxRepo = outboxrepo.NewOutboxRepository(conn)
	u.inboxRepo = inboxrepo.NewInboxRepository(conn)
}

func (u *unitOfWork) Begin(ctx context.Context) error {
	tx, err := u.pool.Begin(ctx)
	if err != nil {
		return err
	}

	u.tx = tx
	// Rebind repositories to the transaction
	u.bind(tx)

	return nil
}

func (u *unitOfWork) Commit(ctx context.Context) error {
	if u.tx == nil {
		return nil
	}

	return u.tx.Commit(ctx)
}

// Rollback aborts the transaction. It is a no-op after Commit, so it can be deferred.
func (u *unitOfWork) Rollback(ctx context.Context) error {
	if u.tx == nil {
		return nil
	}

	err := u.tx.Rollback(ctx)
	if errors.Is(err, pgx.ErrTxClosed) {
		return nil
	}

	return err
}
