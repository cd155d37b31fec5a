package memory

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
)

var errTxStarted = errors.New("transaction already started")

// UnitOfWork groups repository calls into one transaction over a Store.
// Without Begin every call commits on its own.
type UnitOfWork struct {
	store *Store
	tx    *tx
}

// NewUnitOfWork creates a unit of work over the store.
func (s *Store) NewUnitOfWork() *UnitOfWork {
	return &UnitOfWork{store: s}
}

func (u *UnitOfWork) Begin(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if u.tx != nil && !u.tx.done {
		return errTxStarted
	}
	u.tx = newTx()

	return nil
}

func (u *UnitOfWork) Commit(ctx context.Context) error {
	if err := u.store.fault("uow.Commit"); err != nil {
		u.store.rollback(u.tx)

		return err
	}
	u.store.commit(u.tx)

	return nil
}

// Rollback undoes every write since Begin. It is a no-op after Commit.
func (u *UnitOfWork) Rollback(ctx context.Context) error {
	u.store.rollback(u.tx)

	return nil
}

func (u *UnitOfWork) OrderRepository() iorder.IOrderRepository {
	return &orderRepository{uow: u}
}

func (u *UnitOfWork) OrderItemRepository() iorderitem.IOrderItemRepository {
	return &orderItemRepository{uow: u}
}

func (u *UnitOfWork) MenuItemRepository() imenuitemrepo.IMenuItemRepository {
	return &menuItemRepository{uow: u}
}

func (u *UnitOfWork) RestaurantRepository() irestaurantrepo.IRestaurantRepository {
	return &restaurantRepository{uow: u}
}

func (u *UnitOfWork) PaymentRepository() ipaymentrepo.IPaymentRepository {
	return &paymentRepository{uow: u}
}

func (u *UnitOfWork) StatusLogRepository() istatuslogrepo.IStatusLogRepository {
	return &statusLogRepository{uow: u}
}

func (u *UnitOfWork) OutboxRepository() ioutboxrepo.IOutboxRepository {
	return &outboxRepository{uow: u}
}

func (u *UnitOfWork) InboxRepository() iinboxrepo.IInboxRepository {
	return &inboxRepository{uow: u}
}

// active returns the running transaction, or nil in auto-commit mode.
func (u *UnitOfWork) active() *tx {
	if u.tx == nil || u.tx.done {
		return nil
	}

	return u.tx
}
