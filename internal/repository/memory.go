package repository

import (
	"context"
	"fmt"
	"io"
	"sort"
	"sync"
	"time"

	"github.com/mmeshcher/campus-preorder/internal/model"
)

type slotKey struct {
	restaurantID string
	label        string
}

// MemoryRepository хранит данные в памяти процесса. Все операции со счётчиками
// слотов и статусами выполняются под общей блокировкой, поэтому они
// линеаризуемы. Размещение заказа не транзакционно и опирается на журнал
// компенсирующих действий.
type MemoryRepository struct {
	mu              sync.RWMutex
	nextNumber      int64
	restaurants     map[string]*model.Restaurant
	items           map[string]*model.MenuItem
	orders          map[string]*model.Order
	ordersByPayment map[string]string
	reconciliations []model.Reconciliation
}

// NewMemoryRepository создаёт пустое хранилище в памяти.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		nextNumber:      1,
		restaurants:     make(map[string]*model.Restaurant),
		items:           make(map[string]*model.MenuItem),
		orders:          make(map[string]*model.Order),
		ordersByPayment: make(map[string]string),
	}
}

// LoadSeed читает JSON с ресторанами и позициями каталога.
func (m *MemoryRepository) LoadSeed(ctx context.Context, r io.Reader) error {
	seed, err := DecodeSeed(r)
	if err != nil {
		return err
	}
	for _, rest := range seed.Restaurants {
		m.PutRestaurant(rest)
	}
	for _, it := range seed.MenuItems {
		m.PutMenuItem(it)
	}
	return nil
}

// PutRestaurant добавляет или заменяет ресторан.
func (m *MemoryRepository) PutRestaurant(r model.Restaurant) {
	m.mu.Lock()
	defer m.mu.Unlock()

	r.Slots = append([]model.Slot(nil), r.Slots...)
	m.restaurants[r.ID] = &r
}

// PutMenuItem добавляет или заменяет позицию каталога.
func (m *MemoryRepository) PutMenuItem(it model.MenuItem) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.items[it.ID] = &it
}

// DeleteMenuItem удаляет позицию каталога.
func (m *MemoryRepository) DeleteMenuItem(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.items, id)
}

func (m *MemoryRepository) Close() error { return nil }

func (m *MemoryRepository) GetRestaurant(ctx context.Context, id string) (*model.Restaurant, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	r, ok := m.restaurants[id]
	if !ok {
		return nil, fmt.Errorf("%w: restaurant %s", ErrNotFound, id)
	}
	c := *r
	c.Slots = append([]model.Slot(nil), r.Slots...)
	return &c, nil
}

func (m *MemoryRepository) GetMenuItem(ctx context.Context, id string) (*model.MenuItem, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	it, ok := m.items[id]
	if !ok {
		return nil, fmt.Errorf("%w: menu item %s", ErrNotFound, id)
	}
	c := *it
	return &c, nil
}

// slot возвращает указатель на слот. Вызывать под блокировкой.
func (m *MemoryRepository) slot(restaurantID, label string) (*model.Slot, error) {
	r, ok := m.restaurants[restaurantID]
	if !ok {
		return nil, fmt.Errorf("%w: restaurant %s", ErrNotFound, restaurantID)
	}
	for i := range r.Slots {
		if r.Slots[i].Label == label {
			return &r.Slots[i], nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrSlotNotFound, label)
}

func (m *MemoryRepository) ReserveSlot(ctx context.Context, restaurantID, label string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, err := m.slot(restaurantID, label)
	if err != nil {
		return err
	}
	if s.CurrentOrders >= s.MaxOrders {
		return fmt.Errorf("%w: %s", ErrSlotFull, label)
	}
	s.CurrentOrders++
	return nil
}

func (m *MemoryRepository) ReleaseSlot(ctx context.Context, restaurantID, label string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.releaseLocked(restaurantID, label)
}

func (m *MemoryRepository) releaseLocked(restaurantID, label string) error {
	s, err := m.slot(restaurantID, label)
	if err != nil {
		return err
	}
	if s.CurrentOrders > 0 {
		s.CurrentOrders--
	}
	return nil
}

func (m *MemoryRepository) SetSlotCapacity(ctx context.Context, restaurantID, label string, maxOrders int) (*model.Slot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, err := m.slot(restaurantID, label)
	if err != nil {
		return nil, err
	}
	if maxOrders < s.CurrentOrders {
		return nil, fmt.Errorf("%w: %d reserved, %d requested", ErrCapacityBelowReserved, s.CurrentOrders, maxOrders)
	}
	s.MaxOrders = maxOrders
	c := *s
	return &c, nil
}

func (m *MemoryRepository) BeginPlacement(ctx context.Context) (Placement, error) {
	return &memPlacement{repo: m}, nil
}

// memPlacement применяет шаги сразу и запоминает обратные действия.
type memPlacement struct {
	repo      *MemoryRepository
	reserved  []slotKey
	persisted []string
	done      bool
}

func (p *memPlacement) LockRestaurant(ctx context.Context, restaurantID string) (*model.Restaurant, error) {
	return p.repo.GetRestaurant(ctx, restaurantID)
}

func (p *memPlacement) Reserve(ctx context.Context, restaurantID, label string) error {
	if err := p.repo.ReserveSlot(ctx, restaurantID, label); err != nil {
		return err
	}
	p.reserved = append(p.reserved, slotKey{restaurantID: restaurantID, label: label})
	return nil
}

func (p *memPlacement) PersistOrder(ctx context.Context, o *model.Order) error {
	m := p.repo
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.ordersByPayment[o.PaymentID]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicatePayment, o.PaymentID)
	}
	if _, ok := m.reconciliation(o.PaymentID); ok {
		return fmt.Errorf("%w: %s", ErrPaymentFlagged, o.PaymentID)
	}
	if _, ok := m.orders[o.ID]; ok {
		return fmt.Errorf("order %s already exists", o.ID)
	}

	o.Number = m.nextNumber
	m.nextNumber++
	m.orders[o.ID] = cloneOrder(o)
	m.ordersByPayment[o.PaymentID] = o.ID
	p.persisted = append(p.persisted, o.ID)
	return nil
}

func (p *memPlacement) Commit(ctx context.Context) error {
	p.done = true
	p.reserved = nil
	p.persisted = nil
	return nil
}

func (p *memPlacement) Compensate(ctx context.Context) error {
	if p.done {
		return nil
	}
	p.done = true

	m := p.repo
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, id := range p.persisted {
		if o, ok := m.orders[id]; ok {
			delete(m.ordersByPayment, o.PaymentID)
			delete(m.orders, id)
		}
	}
	for i := len(p.reserved) - 1; i >= 0; i-- {
		k := p.reserved[i]
		if err := m.releaseLocked(k.restaurantID, k.label); err != nil {
			return fmt.Errorf("compensate reservation %s/%s: %w", k.restaurantID, k.label, err)
		}
	}
	p.reserved = nil
	p.persisted = nil
	return nil
}

func (m *MemoryRepository) GetOrder(ctx context.Context, id string) (*model.Order, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	o, ok := m.orders[id]
	if !ok {
		return nil, fmt.Errorf("%w: order %s", ErrNotFound, id)
	}
	return cloneOrder(o), nil
}

func (m *MemoryRepository) GetOrderByPaymentID(ctx context.Context, paymentID string) (*model.Order, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	id, ok := m.ordersByPayment[paymentID]
	if !ok {
		return nil, fmt.Errorf("%w: payment %s", ErrNotFound, paymentID)
	}
	return cloneOrder(m.orders[id]), nil
}

func (m *MemoryRepository) ListOrders(ctx context.Context, f model.OrderFilter) ([]model.Order, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var res []model.Order
	for _, o := range m.orders {
		if f.DinerID != "" && o.DinerID != f.DinerID {
			continue
		}
		if f.RestaurantID != "" && o.RestaurantID != f.RestaurantID {
			continue
		}
		if len(f.Statuses) > 0 && !containsStatus(f.Statuses, o.Status) {
			continue
		}
		res = append(res, *cloneOrder(o))
	}

	sort.Slice(res, func(i, j int) bool {
		if !res[i].CreatedAt.Equal(res[j].CreatedAt) {
			return res[i].CreatedAt.After(res[j].CreatedAt)
		}
		return res[i].Number > res[j].Number
	})

	if limit := effectiveLimit(f.Limit); len(res) > limit {
		res = res[:limit]
	}
	return res, nil
}

// lockedTransition проверяет статус и версию заказа. Вызывать под блокировкой.
func (m *MemoryRepository) lockedTransition(id string, from model.OrderStatus, version int) (*model.Order, error) {
	o, ok := m.orders[id]
	if !ok {
		return nil, fmt.Errorf("%w: order %s", ErrNotFound, id)
	}
	if o.Status != from || o.Version != version {
		return nil, ErrConflict
	}
	return o, nil
}

func (m *MemoryRepository) UpdateOrderStatus(ctx context.Context, id string, from, to model.OrderStatus, version int) (*model.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	o, err := m.lockedTransition(id, from, version)
	if err != nil {
		return nil, err
	}

	now := nowUTC()
	switch to {
	case model.OrderStatusConfirmed:
		o.ConfirmedAt = &now
	case model.OrderStatusPreparing:
		o.PreparingAt = &now
	case model.OrderStatusReady:
		o.ReadyAt = &now
	}
	o.Status = to
	o.Version++
	return cloneOrder(o), nil
}

func (m *MemoryRepository) CancelOrder(ctx context.Context, id string, version int) (*model.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	o, err := m.lockedTransition(id, model.OrderStatusPending, version)
	if err != nil {
		return nil, err
	}
	if o.IsPreOrder {
		if err := m.releaseLocked(o.RestaurantID, o.Slot); err != nil {
			return nil, err
		}
	}

	now := nowUTC()
	o.Status = model.OrderStatusCancelled
	o.CancelledAt = &now
	o.Version++
	return cloneOrder(o), nil
}

func (m *MemoryRepository) CompleteOrder(ctx context.Context, id string, version int) (*model.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	o, err := m.lockedTransition(id, model.OrderStatusReady, version)
	if err != nil {
		return nil, err
	}
	r, ok := m.restaurants[o.RestaurantID]
	if !ok {
		return nil, fmt.Errorf("%w: restaurant %s", ErrNotFound, o.RestaurantID)
	}
	if o.IsPreOrder {
		if err := m.releaseLocked(o.RestaurantID, o.Slot); err != nil {
			return nil, err
		}
	}

	r.TotalOrders++
	r.TotalRevenue += o.Total

	now := nowUTC()
	o.Status = model.OrderStatusCompleted
	o.CompletedAt = &now
	o.Version++
	return cloneOrder(o), nil
}

func (m *MemoryRepository) IncrementItemStats(ctx context.Context, sales []ItemSale) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var missing []string
	for _, s := range sales {
		it, ok := m.items[s.ItemID]
		if !ok {
			missing = append(missing, s.ItemID)
			continue
		}
		it.TotalOrders += int64(s.Quantity)
		it.TotalRevenue += s.Revenue
	}
	return missing, nil
}

func (m *MemoryRepository) FlagForRefund(ctx context.Context, rec model.Reconciliation) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.reconciliation(rec.PaymentID); ok {
		return nil
	}
	m.reconciliations = append(m.reconciliations, rec)
	return nil
}

func (m *MemoryRepository) GetReconciliation(ctx context.Context, paymentID string) (*model.Reconciliation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	rec, ok := m.reconciliation(paymentID)
	if !ok {
		return nil, fmt.Errorf("%w: reconciliation for payment %s", ErrNotFound, paymentID)
	}
	return &rec, nil
}

func (m *MemoryRepository) reconciliation(paymentID string) (model.Reconciliation, bool) {
	for _, rec := range m.reconciliations {
		if rec.PaymentID == paymentID {
			return rec, true
		}
	}
	return model.Reconciliation{}, false
}

func (m *MemoryRepository) ListReconciliations(ctx context.Context, restaurantID string) ([]model.Reconciliation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var res []model.Reconciliation
	for i := len(m.reconciliations) - 1; i >= 0; i-- {
		if m.reconciliations[i].RestaurantID == restaurantID {
			res = append(res, m.reconciliations[i])
		}
	}
	return res, nil
}

func containsStatus(list []model.OrderStatus, s model.OrderStatus) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func nowUTC() time.Time {
	return time.Now().UTC()
}

func cloneOrder(o *model.Order) *model.Order {
	c := *o
	c.Items = append([]model.LineItem(nil), o.Items...)
	return &c
}
