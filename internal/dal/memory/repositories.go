package memory

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/corray333/backend-labs/foodorder/internal/dal/dalerr"
	"github.com/corray333/backend-labs/foodorder/internal/service/models/inbox"
	"github.com/corray333/backend-labs/foodorder/internal/service/models/menuitem"
	"github.com/corray333/backend-labs/foodorder/internal/service/models/order"
	"github.com/corray333/backend-labs/foodorder/internal/service/models/orderitem"
	"github.com/corray333/backend-labs/foodorder/internal/service/models/outbox"
	"github.com/corray333/backend-labs/foodorder/internal/service/models/payment"
	"github.com/corray333/backend-labs/foodorder/internal/service/models/restaurant"
	"github.com/corray333/backend-labs/foodorder/internal/service/models/statuslog"
	"github.com/google/uuid"
)

type orderRepository struct {
	uow *UnitOfWork
}

func (r *orderRepository) Insert(ctx context.Context, o order.Order) (order.Order, error) {
	s, t := r.uow.store, r.uow.active()
	if err := s.fault("order.Insert"); err != nil {
		return order.Order{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.orders[o.ID]; ok {
		return order.Order{}, fmt.Errorf("order %s: %w", o.ID, dalerr.ErrDuplicate)
	}
	for _, existing := range s.orders {
		if existing.TenantID == o.TenantID && existing.OrderNumber == o.OrderNumber {
			return order.Order{}, fmt.Errorf("order number %s: %w", o.OrderNumber, dalerr.ErrDuplicate)
		}
	}

	o.Items = nil
	s.orders[o.ID] = o
	s.record(t, func() { delete(s.orders, o.ID) })

	o.Items = []orderitem.OrderItem{}

	return o, nil
}

func (r *orderRepository) GetByID(ctx context.Context, tenantID, id uuid.UUID) (order.Order, error) {
	s := r.uow.store
	if err := s.fault("order.GetByID"); err != nil {
		return order.Order{}, err
	}

	return r.get(tenantID, id)
}

func (r *orderRepository) GetByIDForUpdate(ctx context.Context, tenantID, id uuid.UUID) (order.Order, error) {
	s, t := r.uow.store, r.uow.active()
	if err := s.lockRow(ctx, t, "order:"+id.String()); err != nil {
		return order.Order{}, err
	}

	return r.get(tenantID, id)
}

func (r *orderRepository) get(tenantID, id uuid.UUID) (order.Order, error) {
	s := r.uow.store
	s.mu.Lock()
	defer s.mu.Unlock()

	o, ok := s.orders[id]
	if !ok || o.TenantID != tenantID {
		return order.Order{}, fmt.Errorf("order %s: %w", id, dalerr.ErrNotFound)
	}
	o.Items = []orderitem.OrderItem{}

	return o, nil
}

func (r *orderRepository) UpdateStatus(ctx context.Context, update order.StatusUpdate) error {
	s, t := r.uow.store, r.uow.active()
	if err := s.fault("order.UpdateStatus"); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	prev, ok := s.orders[update.ID]
	if !ok || prev.Status != update.From {
		return fmt.Errorf("order %s is no longer %s: %w", update.ID, update.From, dalerr.ErrStaleWrite)
	}

	next := prev
	next.Status = update.To
	next.UpdatedAt = update.UpdatedAt
	if update.ReceiptNumber != "" {
		next.MpesaReceiptNumber = update.ReceiptNumber
	}
	s.orders[update.ID] = next
	s.record(t, func() { s.orders[update.ID] = prev })

	return nil
}

func (r *orderRepository) Query(ctx context.Context, filter *order.QueryOrdersModel) ([]order.Order, error) {
	s := r.uow.store
	s.mu.Lock()
	defer s.mu.Unlock()

	ids := make(map[uuid.UUID]struct{}, len(filter.Ids))
	for _, id := range filter.Ids {
		ids[id] = struct{}{}
	}

	result := make([]order.Order, 0)
	for _, o := range s.orders {
		if o.TenantID != filter.TenantID {
			continue
		}
		if filter.UserID != uuid.Nil && o.UserID != filter.UserID {
			continue
		}
		if len(ids) > 0 {
			if _, ok := ids[o.ID]; !ok {
				continue
			}
		}
		o.Items = []orderitem.OrderItem{}
		result = append(result, o)
	}

	sort.Slice(result, func(i, j int) bool {
		if !result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].CreatedAt.After(result[j].CreatedAt)
		}

		return result[i].ID.String() < result[j].ID.String()
	})

	if filter.Offset > 0 {
		if filter.Offset >= len(result) {
			return []order.Order{}, nil
		}
		result = result[filter.Offset:]
	}
	if filter.Limit > 0 && filter.Limit < len(result) {
		result = result[:filter.Limit]
	}

	return result, nil
}

func (r *orderRepository) NextSequence(ctx context.Context, tenantID uuid.UUID, day time.Time) (int64, error) {
	s, t := r.uow.store, r.uow.active()
	key := counterKey{tenantID: tenantID, day: day.Format(time.DateOnly)}
	if err := s.lockRow(ctx, t, "counter:"+tenantID.String()+":"+key.day); err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	prev := s.counters[key]
	s.counters[key] = prev + 1
	s.record(t, func() {
		if prev == 0 {
			delete(s.counters, key)

			return
		}
		s.counters[key] = prev
	})

	return prev + 1, nil
}

type orderItemRepository struct {
	uow *UnitOfWork
}

func (r *orderItemRepository) BulkInsert(
	ctx context.Context,
	items []orderitem.OrderItem,
) ([]orderitem.OrderItem, error) {
	s, t := r.uow.store, r.uow.active()
	if err := s.fault("orderitem.BulkInsert"); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	inserted := make([]orderitem.OrderItem, len(items))
	for i, item := range items {
		if item.ID == uuid.Nil {
			item.ID = uuid.New()
		}
		inserted[i] = item
	}

	for _, item := range inserted {
		orderID := item.OrderID
		prevLen := len(s.orderItems[orderID])
		s.orderItems[orderID] = append(s.orderItems[orderID], item)
		s.record(t, func() {
			s.orderItems[orderID] = s.orderItems[orderID][:prevLen]
			if prevLen == 0 {
				delete(s.orderItems, orderID)
			}
		})
	}

	return inserted, nil
}

func (r *orderItemRepository) Query(
	ctx context.Context,
	filter *orderitem.QueryOrderItemsModel,
) ([]orderitem.OrderItem, error) {
	s := r.uow.store
	s.mu.Lock()
	defer s.mu.Unlock()

	match := func(set []uuid.UUID, id uuid.UUID) bool {
		if len(set) == 0 {
			return true
		}
		for _, candidate := range set {
			if candidate == id {
				return true
			}
		}

		return false
	}

	result := make([]orderitem.OrderItem, 0)
	for _, items := range s.orderItems {
		for _, item := range items {
			if match(filter.Ids, item.ID) && match(filter.OrderIds, item.OrderID) &&
				match(filter.MenuItemIds, item.MenuItemID) {
				result = append(result, item)
			}
		}
	}

	return result, nil
}

type menuItemRepository struct {
	uow *UnitOfWork
}

func (r *menuItemRepository) GetForUpdate(ctx context.Context, tenantID, id uuid.UUID) (menuitem.MenuItem, error) {
	s, t := r.uow.store, r.uow.active()
	if err := s.lockRow(ctx, t, "menu_item:"+id.String()); err != nil {
		return menuitem.MenuItem{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	item, ok := s.menuItems[id]
	if !ok || item.TenantID != tenantID {
		return menuitem.MenuItem{}, fmt.Errorf("menu item %s: %w", id, dalerr.ErrNotFound)
	}

	return item, nil
}

func (r *menuItemRepository) DecrementInventory(ctx context.Context, id uuid.UUID, quantity int) error {
	s, t := r.uow.store, r.uow.active()
	if err := s.fault("menuitem.DecrementInventory"); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	prev, ok := s.menuItems[id]
	if !ok || prev.InventoryCount < quantity {
		return fmt.Errorf("menu item %s has less than %d left: %w", id, quantity, dalerr.ErrStaleWrite)
	}

	next := prev
	next.InventoryCount -= quantity
	next.UpdatedAt = time.Now().UTC()
	s.menuItems[id] = next
	s.record(t, func() { s.menuItems[id] = prev })

	return nil
}

type restaurantRepository struct {
	uow *UnitOfWork
}

func (r *restaurantRepository) GetByID(ctx context.Context, tenantID, id uuid.UUID) (restaurant.Restaurant, error) {
	s := r.uow.store
	s.mu.Lock()
	defer s.mu.Unlock()

	rest, ok := s.restaurants[id]
	if !ok || rest.TenantID != tenantID {
		return restaurant.Restaurant{}, fmt.Errorf("restaurant %s: %w", id, dalerr.ErrNotFound)
	}

	return rest, nil
}

type paymentRepository struct {
	uow *UnitOfWork
}

func (r *paymentRepository) Insert(ctx context.Context, p payment.Payment) (payment.Payment, error) {
	s, t := r.uow.store, r.uow.active()
	if err := s.fault("payment.Insert"); err != nil {
		return payment.Payment{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.payments[p.ID]; ok {
		return payment.Payment{}, fmt.Errorf("payment %s: %w", p.ID, dalerr.ErrDuplicate)
	}
	for _, existing := range s.payments {
		if existing.TenantID == p.TenantID && existing.CheckoutRequestID == p.CheckoutRequestID {
			return payment.Payment{}, fmt.Errorf("checkout request %s: %w", p.CheckoutRequestID, dalerr.ErrDuplicate)
		}
	}

	p = clonePayment(p)
	s.payments[p.ID] = p
	s.record(t, func() { delete(s.payments, p.ID) })

	return clonePayment(p), nil
}

func (r *paymentRepository) GetByCheckoutRequestID(
	ctx context.Context,
	checkoutRequestID string,
) (payment.Payment, error) {
	s := r.uow.store
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.findByCheckout(checkoutRequestID)
	if !ok {
		return payment.Payment{}, fmt.Errorf("checkout request %s: %w", checkoutRequestID, dalerr.ErrNotFound)
	}

	return clonePayment(p), nil
}

func (r *paymentRepository) GetByCheckoutRequestIDForUpdate(
	ctx context.Context,
	checkoutRequestID string,
) (payment.Payment, error) {
	s, t := r.uow.store, r.uow.active()
	if err := s.fault("payment.GetByCheckoutRequestIDForUpdate"); err != nil {
		return payment.Payment{}, err
	}

	s.mu.Lock()
	p, ok := s.findByCheckout(checkoutRequestID)
	s.mu.Unlock()
	if !ok {
		return payment.Payment{}, fmt.Errorf("checkout request %s: %w", checkoutRequestID, dalerr.ErrNotFound)
	}

	if err := s.lockRow(ctx, t, "payment:"+p.ID.String()); err != nil {
		return payment.Payment{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok = s.payments[p.ID]
	if !ok {
		return payment.Payment{}, fmt.Errorf("checkout request %s: %w", checkoutRequestID, dalerr.ErrNotFound)
	}

	return clonePayment(p), nil
}

func (s *Store) findByCheckout(checkoutRequestID string) (payment.Payment, bool) {
	for _, p := range s.payments {
		if p.CheckoutRequestID == checkoutRequestID {
			return p, true
		}
	}

	return payment.Payment{}, false
}

func (r *paymentRepository) LatestForOrder(ctx context.Context, tenantID, orderID uuid.UUID) (payment.Payment, error) {
	s := r.uow.store
	s.mu.Lock()
	defer s.mu.Unlock()

	var (
		latest payment.Payment
		found  bool
	)
	for _, p := range s.payments {
		if p.OrderID != orderID || p.TenantID != tenantID {
			continue
		}
		if !found || p.CreatedAt.After(latest.CreatedAt) {
			latest, found = p, true
		}
	}
	if !found {
		return payment.Payment{}, fmt.Errorf("payment for order %s: %w", orderID, dalerr.ErrNotFound)
	}

	return clonePayment(latest), nil
}

func (r *paymentRepository) HasCompleted(ctx context.Context, orderID uuid.UUID) (bool, error) {
	s := r.uow.store
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.hasCompleted(orderID, uuid.Nil), nil
}

func (s *Store) hasCompleted(orderID, except uuid.UUID) bool {
	for _, p := range s.payments {
		if p.OrderID == orderID && p.ID != except && p.Status == payment.StatusCompleted {
			return true
		}
	}

	return false
}

func (r *paymentRepository) MarkCompleted(ctx context.Context, c payment.Completion) error {
	s, t := r.uow.store, r.uow.active()
	if err := s.fault("payment.MarkCompleted"); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	prev, ok := s.payments[c.ID]
	if !ok || prev.Status != payment.StatusPending {
		return fmt.Errorf("payment %s is no longer pending: %w", c.ID, dalerr.ErrStaleWrite)
	}
	if s.hasCompleted(prev.OrderID, prev.ID) {
		return fmt.Errorf("order %s already paid: %w", prev.OrderID, dalerr.ErrDuplicate)
	}

	next := clonePayment(prev)
	next.Status = payment.StatusCompleted
	next.ReceiptNumber = c.ReceiptNumber
	next.TransactionDate = c.TransactionDate
	next.ConfirmingPhone = c.ConfirmingPhone
	next.RawPayload = append([]byte(nil), c.RawPayload...)
	completedAt := c.CompletedAt
	next.CompletedAt = &completedAt
	next.UpdatedAt = c.CompletedAt
	s.payments[c.ID] = next
	s.record(t, func() { s.payments[c.ID] = prev })

	return nil
}

func (r *paymentRepository) MarkFailed(ctx context.Context, f payment.Failure) error {
	s, t := r.uow.store, r.uow.active()
	if err := s.fault("payment.MarkFailed"); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	prev, ok := s.payments[f.ID]
	if !ok || prev.Status != payment.StatusPending {
		return fmt.Errorf("payment %s is no longer pending: %w", f.ID, dalerr.ErrStaleWrite)
	}

	next := clonePayment(prev)
	next.Status = payment.StatusFailed
	next.FailureKind = f.FailureKind
	next.FailureReason = f.FailureReason
	next.RawPayload = append([]byte(nil), f.RawPayload...)
	completedAt := f.CompletedAt
	next.CompletedAt = &completedAt
	next.UpdatedAt = f.CompletedAt
	s.payments[f.ID] = next
	s.record(t, func() { s.payments[f.ID] = prev })

	return nil
}

type statusLogRepository struct {
	uow *UnitOfWork
}

func (r *statusLogRepository) Append(ctx context.Context, entry statuslog.Entry) (statuslog.Entry, error) {
	s, t := r.uow.store, r.uow.active()
	if err := s.fault("statuslog.Append"); err != nil {
		return statuslog.Entry{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	entry.ID = s.nextID()
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	s.statusLog = append(s.statusLog, entry)
	id := entry.ID
	s.record(t, func() { s.statusLog = removeWhere(s.statusLog, func(e statuslog.Entry) bool { return e.ID == id }) })

	return entry, nil
}

func (r *statusLogRepository) ListByOrder(ctx context.Context, orderID uuid.UUID) ([]statuslog.Entry, error) {
	entries := r.uow.store.StatusLog(orderID)
	if entries == nil {
		entries = []statuslog.Entry{}
	}

	return entries, nil
}

type outboxRepository struct {
	uow *UnitOfWork
}

func (r *outboxRepository) Insert(ctx context.Context, msg outbox.OutboxMessage) error {
	s, t := r.uow.store, r.uow.active()
	if err := s.fault("outbox.Insert"); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	msg.ID = s.nextID()
	s.outbox = append(s.outbox, msg)
	id := msg.ID
	s.record(t, func() {
		s.outbox = removeWhere(s.outbox, func(m outbox.OutboxMessage) bool { return m.ID == id })
	})

	return nil
}

func (r *outboxRepository) GetPendingMessages(ctx context.Context, limit int) ([]outbox.OutboxMessage, error) {
	s := r.uow.store
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	var out []outbox.OutboxMessage
	for _, m := range s.outbox {
		if !m.NextRetryAt.After(now) && m.RetryCount < m.MaxRetries {
			out = append(out, m)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].NextRetryAt.Before(out[j].NextRetryAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}

	return out, nil
}

func (r *outboxRepository) Delete(ctx context.Context, id int64) error {
	s := r.uow.store
	s.mu.Lock()
	defer s.mu.Unlock()

	s.outbox = removeWhere(s.outbox, func(m outbox.OutboxMessage) bool { return m.ID == id })

	return nil
}

func (r *outboxRepository) UpdateRetry(
	ctx context.Context,
	id int64,
	retryCount int,
	lastError string,
	nextRetryAt time.Time,
) error {
	s := r.uow.store
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.outbox {
		if s.outbox[i].ID == id {
			s.outbox[i].RetryCount = retryCount
			s.outbox[i].LastError = lastError
			s.outbox[i].NextRetryAt = nextRetryAt
			s.outbox[i].UpdatedAt = time.Now()
		}
	}

	return nil
}

type inboxRepository struct {
	uow *UnitOfWork
}

func (r *inboxRepository) Insert(ctx context.Context, msg inbox.InboxMessage) error {
	s, t := r.uow.store, r.uow.active()
	if err := s.fault("inbox.Insert"); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, m := range s.inbox {
		if m.MessageID == msg.MessageID {
			return nil
		}
	}

	msg.ID = s.nextID()
	s.inbox = append(s.inbox, msg)
	id := msg.ID
	s.record(t, func() {
		s.inbox = removeWhere(s.inbox, func(m inbox.InboxMessage) bool { return m.ID == id })
	})

	return nil
}

func (r *inboxRepository) GetPendingMessages(ctx context.Context, limit int) ([]inbox.InboxMessage, error) {
	s := r.uow.store
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	var out []inbox.InboxMessage
	for _, m := range s.inbox {
		if !m.NextRetryAt.After(now) && m.RetryCount < m.MaxRetries {
			out = append(out, m)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].NextRetryAt.Before(out[j].NextRetryAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}

	return out, nil
}

func (r *inboxRepository) Delete(ctx context.Context, id int64) error {
	s := r.uow.store
	s.mu.Lock()
	defer s.mu.Unlock()

	s.inbox = removeWhere(s.inbox, func(m inbox.InboxMessage) bool { return m.ID == id })

	return nil
}

func (r *inboxRepository) UpdateRetry(
	ctx context.Context,
	id int64,
	retryCount int,
	lastError string,
	nextRetryAt time.Time,
) error {
	s := r.uow.store
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.inbox {
		if s.inbox[i].ID == id {
			s.inbox[i].RetryCount = retryCount
			s.inbox[i].LastError = lastError
			s.inbox[i].NextRetryAt = nextRetryAt
			s.inbox[i].UpdatedAt = time.Now()
		}
	}

	return nil
}

func removeWhere[T any](items []T, drop func(T) bool) []T {
	out := items[:0]
	for _, item := range items {
		if !drop(item) {
			out = append(out, item)
		}
	}

	return out
}
