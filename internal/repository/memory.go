package repository

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"

	"github.com/mmeshcher/ledger-system/internal/model"
)

// MemoryRepository: хранилище в памяти процесса. Используется, когда DATABASE_URI
// не задан, и в тестах. Транзакции блокируют отдельные сущности, а изменения
// применяются к общему состоянию только при фиксации.
type MemoryRepository struct {
	locks *lockTable

	mu        sync.RWMutex
	products  map[int64]model.Product
	codes     map[int64]model.DiscountCode
	codeIndex map[string]int64
	orders    map[int64]model.Order
	numbers   map[string]int64
	returns   map[int64]model.Return
	balances  map[int64]decimal.Decimal
	entries   []model.CreditEntry
	events    []model.OutboxEvent

	seq atomic.Int64
}

// NewMemoryRepository создаёт пустое хранилище в памяти.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		locks:     newLockTable(),
		products:  make(map[int64]model.Product),
		codes:     make(map[int64]model.DiscountCode),
		codeIndex: make(map[string]int64),
		orders:    make(map[int64]model.Order),
		numbers:   make(map[string]int64),
		returns:   make(map[int64]model.Return),
		balances:  make(map[int64]decimal.Decimal),
	}
}

func (r *MemoryRepository) nextID() int64 {
	return r.seq.Add(1)
}

// AddProduct добавляет товар в каталог и возвращает его идентификатор.
func (r *MemoryRepository) AddProduct(p model.Product) int64 {
	r.mu.Lock()
	defer r.mu.Unlock()

	if p.ID == 0 {
		p.ID = r.nextID()
	}
	r.products[p.ID] = p
	return p.ID
}

// AddDiscountCode добавляет промокод и возвращает его идентификатор.
func (r *MemoryRepository) AddDiscountCode(dc model.DiscountCode) int64 {
	r.mu.Lock()
	defer r.mu.Unlock()

	if dc.ID == 0 {
		dc.ID = r.nextID()
	}
	r.codes[dc.ID] = dc
	r.codeIndex[strings.ToUpper(dc.Code)] = dc.ID
	return dc.ID
}

// Close ничего не делает и нужен для совместимости с PostgresRepository.
func (r *MemoryRepository) Close() error {
	return nil
}

// InTx выполняет fn в транзакции. Блокировки сущностей снимаются по завершении,
// в том числе при панике.
func (r *MemoryRepository) InTx(ctx context.Context, fn TxFunc) error {
	tx := newMemTx(r)
	defer tx.release()

	if err := fn(ctx, tx); err != nil {
		return err
	}

	tx.commit()
	return nil
}

// GetProduct возвращает товар по идентификатору.
func (r *MemoryRepository) GetProduct(ctx context.Context, id int64) (*model.Product, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	p, ok := r.products[id]
	if !ok {
		return nil, ErrProductNotFound
	}
	return &p, nil
}

// GetDiscountCode возвращает промокод без блокировки. Для неизвестного кода возвращает nil.
func (r *MemoryRepository) GetDiscountCode(ctx context.Context, code string) (*model.DiscountCode, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	id, ok := r.codeIndex[strings.ToUpper(strings.TrimSpace(code))]
	if !ok {
		return nil, nil
	}
	dc := r.codes[id]
	return &dc, nil
}

// GetOrder возвращает заказ вместе с позициями.
func (r *MemoryRepository) GetOrder(ctx context.Context, id int64) (*model.Order, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	o, ok := r.orders[id]
	if !ok {
		return nil, ErrOrderNotFound
	}
	o = cloneOrder(o)
	return &o, nil
}

// GetOrderByNumber возвращает заказ по его номеру.
func (r *MemoryRepository) GetOrderByNumber(ctx context.Context, number string) (*model.Order, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	id, ok := r.numbers[number]
	if !ok {
		return nil, ErrOrderNotFound
	}
	o := cloneOrder(r.orders[id])
	return &o, nil
}

// ListOrdersByUser возвращает заказы пользователя, новые первыми.
func (r *MemoryRepository) ListOrdersByUser(ctx context.Context, userID int64) ([]model.Order, error) {
	return r.filterOrders(func(o model.Order) bool { return o.UserID == userID }), nil
}

// ListOrders возвращает все заказы, опционально отфильтрованные по статусу.
func (r *MemoryRepository) ListOrders(ctx context.Context, status *model.OrderStatus) ([]model.Order, error) {
	return r.filterOrders(func(o model.Order) bool { return status == nil || o.Status == *status }), nil
}

func (r *MemoryRepository) filterOrders(keep func(model.Order) bool) []model.Order {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var res []model.Order
	for _, o := range r.orders {
		if keep(o) {
			res = append(res, cloneOrder(o))
		}
	}
	slices.SortFunc(res, func(a, b model.Order) int {
		if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
			return c
		}
		return cmp.Compare(b.ID, a.ID)
	})
	return res
}

// GetReturn возвращает заявку на возврат вместе с позициями.
func (r *MemoryRepository) GetReturn(ctx context.Context, id int64) (*model.Return, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ret, ok := r.returns[id]
	if !ok {
		return nil, ErrReturnNotFound
	}
	ret = cloneReturn(ret)
	return &ret, nil
}

// ListReturnsByUser возвращает заявки пользователя, новые первыми.
func (r *MemoryRepository) ListReturnsByUser(ctx context.Context, userID int64) ([]model.Return, error) {
	return r.filterReturns(func(ret model.Return) bool { return ret.UserID == userID }), nil
}

// ListReturns возвращает все заявки, опционально отфильтрованные по статусу.
func (r *MemoryRepository) ListReturns(ctx context.Context, status *model.ReturnStatus) ([]model.Return, error) {
	return r.filterReturns(func(ret model.Return) bool { return status == nil || ret.Status == *status }), nil
}

func (r *MemoryRepository) filterReturns(keep func(model.Return) bool) []model.Return {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var res []model.Return
	for _, ret := range r.returns {
		if keep(ret) {
			res = append(res, cloneReturn(ret))
		}
	}
	slices.SortFunc(res, func(a, b model.Return) int {
		if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
			return c
		}
		return cmp.Compare(b.ID, a.ID)
	})
	return res
}

// GetCreditBalance возвращает текущий бонусный баланс пользователя.
func (r *MemoryRepository) GetCreditBalance(ctx context.Context, userID int64) (decimal.Decimal, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return r.balances[userID], nil
}

// ListCreditEntries возвращает журнал баланса пользователя в порядке записи.
func (r *MemoryRepository) ListCreditEntries(ctx context.Context, userID int64) ([]model.CreditEntry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var res []model.CreditEntry
	for _, e := range r.entries {
		if e.UserID == userID {
			res = append(res, e)
		}
	}
	return res, nil
}

// PendingEvents возвращает недоставленные уведомления в порядке создания.
func (r *MemoryRepository) PendingEvents(ctx context.Context, limit int) ([]model.OutboxEvent, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var res []model.OutboxEvent
	for _, e := range r.events {
		if len(res) >= limit {
			break
		}
		if e.DeliveredAt == nil {
			res = append(res, e)
		}
	}
	return res, nil
}

// ListEvents возвращает журнал уведомлений, новые первыми.
func (r *MemoryRepository) ListEvents(ctx context.Context, filter model.EventFilter) ([]model.OutboxEvent, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var res []model.OutboxEvent
	for i := len(r.events) - 1; i >= 0; i-- {
		if filter.Limit > 0 && len(res) >= filter.Limit {
			break
		}
		e := r.events[i]
		if filter.PendingOnly && e.DeliveredAt != nil {
			continue
		}
		e.Payload = slices.Clone(e.Payload)
		res = append(res, e)
	}
	return res, nil
}

// Stats собирает сводку по заказам, возвратам и остаткам.
func (r *MemoryRepository) Stats(ctx context.Context, lowStockThreshold int64, recent int) (*model.Stats, error) {
	st := &model.Stats{
		Revenue:           decimal.Zero,
		OrdersByStatus:    make(map[model.OrderStatus]int64),
		ReturnsByStatus:   make(map[model.ReturnStatus]int64),
		LowStockThreshold: lowStockThreshold,
	}

	orders := r.filterOrders(func(model.Order) bool { return true })
	for _, o := range orders {
		st.TotalOrders++
		st.OrdersByStatus[o.Status]++
		if o.Status != model.OrderStatusCancelled {
			st.Revenue = st.Revenue.Add(o.Total)
		}
	}
	if len(orders) > recent {
		orders = orders[:recent]
	}
	st.RecentOrders = orders

	for _, ret := range r.filterReturns(func(model.Return) bool { return true }) {
		st.ReturnsByStatus[ret.Status]++
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, p := range r.products {
		if !p.Active {
			continue
		}
		st.ActiveProducts++
		if p.Stock <= lowStockThreshold {
			st.LowStock = append(st.LowStock, p)
		}
	}
	slices.SortFunc(st.LowStock, func(a, b model.Product) int { return cmp.Compare(a.ID, b.ID) })
	return st, nil
}

// MarkEventDelivered отмечает уведомление доставленным.
func (r *MemoryRepository) MarkEventDelivered(ctx context.Context, id string, at time.Time) error {
	return r.updateEvent(id, func(e *model.OutboxEvent) {
		e.Attempts++
		e.LastError = ""
		e.DeliveredAt = &at
	})
}

// MarkEventFailed увеличивает счётчик попыток и сохраняет текст ошибки доставки.
func (r *MemoryRepository) MarkEventFailed(ctx context.Context, id string, reason string) error {
	return r.updateEvent(id, func(e *model.OutboxEvent) {
		e.Attempts++
		e.LastError = reason
	})
}

func (r *MemoryRepository) updateEvent(id string, fn func(e *model.OutboxEvent)) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for i := range r.events {
		if r.events[i].ID == id {
			fn(&r.events[i])
			return nil
		}
	}
	return fmt.Errorf("%w: %s", ErrEventNotFound, id)
}

func cloneOrder(o model.Order) model.Order {
	o.Items = slices.Clone(o.Items)
	if o.Discount != nil {
		d := *o.Discount
		o.Discount = &d
	}
	return o
}

func cloneReturn(r model.Return) model.Return {
	r.Items = slices.Clone(r.Items)
	return r
}

// lockTable выдаёт блокировки по ключу сущности. Блокировка реализована каналом ёмкостью 1,
// поэтому ожидание прерывается отменой контекста.
type lockTable struct {
	mu    sync.Mutex
	locks map[string]chan struct{}
}

func newLockTable() *lockTable {
	return &lockTable{locks: make(map[string]chan struct{})}
}

func (l *lockTable) acquire(ctx context.Context, key string) error {
	l.mu.Lock()
	ch, ok := l.locks[key]
	if !ok {
		ch = make(chan struct{}, 1)
		l.locks[key] = ch
	}
	l.mu.Unlock()

	select {
	case ch <- struct{}{}:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("acquire %s: %w", key, ctx.Err())
	}
}

func (l *lockTable) release(key string) {
	l.mu.Lock()
	ch := l.locks[key]
	l.mu.Unlock()

	<-ch
}
