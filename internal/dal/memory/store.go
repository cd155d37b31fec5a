// Package memory is an in-process implementation of the data access layer.
// It mirrors the Postgres behaviour the services rely on: row locks held
// until the transaction ends, rollback of every write, guarded updates and
// unique constraints. Reads are not isolated from other transactions'
// uncommitted writes, so callers must lock rows they read-modify-write,
// exactly as they do with SELECT ... FOR UPDATE.
package memory

import (
	"context"
	"sync"
	"time"

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

type counterKey struct {
	tenantID uuid.UUID
	day      string
}

// Store holds every table in memory.
type Store struct {
	mu sync.Mutex

	restaurants map[uuid.UUID]restaurant.Restaurant
	menuItems   map[uuid.UUID]menuitem.MenuItem
	orders      map[uuid.UUID]order.Order
	orderItems  map[uuid.UUID][]orderitem.OrderItem
	payments    map[uuid.UUID]payment.Payment
	statusLog   []statuslog.Entry
	counters    map[counterKey]int64
	outbox      []outbox.OutboxMessage
	inbox       []inbox.InboxMessage
	lastID      int64

	locks  map[string]chan struct{}
	faults map[string]error
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{
		restaurants: make(map[uuid.UUID]restaurant.Restaurant),
		menuItems:   make(map[uuid.UUID]menuitem.MenuItem),
		orders:      make(map[uuid.UUID]order.Order),
		orderItems:  make(map[uuid.UUID][]orderitem.OrderItem),
		payments:    make(map[uuid.UUID]payment.Payment),
		counters:    make(map[counterKey]int64),
		locks:       make(map[string]chan struct{}),
		faults:      make(map[string]error),
	}
}

// tx tracks the row locks and undo journal of one transaction.
type tx struct {
	held map[string]struct{}
	undo []func()
	done bool
}

func newTx() *tx {
	return &tx{held: make(map[string]struct{})}
}

// lockRow blocks until t owns key. Locks are re-entrant within a transaction
// and are not taken at all outside one.
func (s *Store) lockRow(ctx context.Context, t *tx, key string) error {
	if t == nil {
		return nil
	}
	if _, ok := t.held[key]; ok {
		return nil
	}

	s.mu.Lock()
	ch, ok := s.locks[key]
	if !ok {
		ch = make(chan struct{}, 1)
		s.locks[key] = ch
	}
	s.mu.Unlock()

	select {
	case ch <- struct{}{}:
		t.held[key] = struct{}{}

		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// record appends an undo step. Callers hold s.mu.
func (s *Store) record(t *tx, undo func()) {
	if t == nil {
		return
	}
	t.undo = append(t.undo, undo)
}

func (s *Store) commit(t *tx) {
	if t == nil || t.done {
		return
	}
	t.done = true
	t.undo = nil
	s.release(t)
}

func (s *Store) rollback(t *tx) {
	if t == nil || t.done {
		return
	}
	t.done = true

	s.mu.Lock()
	for i := len(t.undo) - 1; i >= 0; i-- {
		t.undo[i]()
	}
	s.mu.Unlock()
	t.undo = nil

	s.release(t)
}

func (s *Store) release(t *tx) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for key := range t.held {
		<-s.locks[key]
	}
	t.held = make(map[string]struct{})
}

func (s *Store) nextID() int64 {
	s.lastID++

	return s.lastID
}

// SetFault makes every call of op fail with err until cleared with a nil err.
// op is "<repository>.<Method>", e.g. "outbox.Insert".
func (s *Store) SetFault(op string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err == nil {
		delete(s.faults, op)

		return
	}
	s.faults[op] = err
}

func (s *Store) fault(op string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.faults[op]
}

// AddRestaurant seeds a restaurant.
func (s *Store) AddRestaurant(r restaurant.Restaurant) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.restaurants[r.ID] = r
}

// AddMenuItem seeds a menu item.
func (s *Store) AddMenuItem(item menuitem.MenuItem) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if item.UpdatedAt.IsZero() {
		item.UpdatedAt = time.Now().UTC()
	}
	s.menuItems[item.ID] = item
}

// MenuItem returns the current state of a menu item.
func (s *Store) MenuItem(id uuid.UUID) (menuitem.MenuItem, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	item, ok := s.menuItems[id]

	return item, ok
}

// Order returns the current state of an order with its items.
func (s *Store) Order(id uuid.UUID) (order.Order, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	o, ok := s.orders[id]
	if !ok {
		return order.Order{}, false
	}
	o.Items = append([]orderitem.OrderItem(nil), s.orderItems[id]...)

	return o, true
}

// Orders returns every stored order.
func (s *Store) Orders() []order.Order {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]order.Order, 0, len(s.orders))
	for _, o := range s.orders {
		out = append(out, o)
	}

	return out
}

// Payments returns every payment of an order.
func (s *Store) Payments(orderID uuid.UUID) []payment.Payment {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []payment.Payment
	for _, p := range s.payments {
		if p.OrderID == orderID {
			out = append(out, clonePayment(p))
		}
	}

	return out
}

// StatusLog returns the status log of an order, oldest first.
func (s *Store) StatusLog(orderID uuid.UUID) []statuslog.Entry {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []statuslog.Entry
	for _, e := range s.statusLog {
		if e.OrderID == orderID {
			out = append(out, e)
		}
	}

	return out
}

// OutboxMessages returns every message waiting in the outbox.
func (s *Store) OutboxMessages() []outbox.OutboxMessage {
	s.mu.Lock()
	defer s.mu.Unlock()

	return append([]outbox.OutboxMessage(nil), s.outbox...)
}

// InboxMessages returns every parked provider result.
func (s *Store) InboxMessages() []inbox.InboxMessage {
	s.mu.Lock()
	defer s.mu.Unlock()

	return append([]inbox.InboxMessage(nil), s.inbox...)
}

func clonePayment(p payment.Payment) payment.Payment {
	if p.RawPayload != nil {
		p.RawPayload = append([]byte(nil), p.RawPayload...)
	}

	return p
}
