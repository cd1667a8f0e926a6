package repository

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/mmeshcher/ledger-system/internal/model"
)

var _ Tx = (*memTx)(nil)

// memTx накапливает изменения до фиксации. Чтение внутри транзакции видит
// собственные изменения поверх зафиксированного состояния.
type memTx struct {
	repo *MemoryRepository
	held []string

	products map[int64]model.Product
	codes    map[int64]model.DiscountCode
	orders   map[int64]model.Order
	returns  map[int64]model.Return
	balances map[int64]decimal.Decimal
	entries  []model.CreditEntry
	events   []model.OutboxEvent
}

func newMemTx(repo *MemoryRepository) *memTx {
	return &memTx{
		repo:     repo,
		products: make(map[int64]model.Product),
		codes:    make(map[int64]model.DiscountCode),
		orders:   make(map[int64]model.Order),
		returns:  make(map[int64]model.Return),
		balances: make(map[int64]decimal.Decimal),
	}
}

func (t *memTx) lock(ctx context.Context, key string) error {
	for _, k := range t.held {
		if k == key {
			return nil
		}
	}
	if err := t.repo.locks.acquire(ctx, key); err != nil {
		return err
	}
	t.held = append(t.held, key)
	return nil
}

func (t *memTx) release() {
	for i := len(t.held) - 1; i >= 0; i-- {
		t.repo.locks.release(t.held[i])
	}
	t.held = nil
}

func (t *memTx) commit() {
	r := t.repo
	r.mu.Lock()
	defer r.mu.Unlock()

	for id, p := range t.products {
		r.products[id] = p
	}
	for id, dc := range t.codes {
		r.codes[id] = dc
	}
	for id, o := range t.orders {
		r.orders[id] = o
		r.numbers[o.Number] = id
	}
	for id, ret := range t.returns {
		r.returns[id] = ret
	}
	for id, b := range t.balances {
		r.balances[id] = b
	}
	r.entries = append(r.entries, t.entries...)
	r.events = append(r.events, t.events...)
}

func (t *memTx) product(id int64) (model.Product, bool) {
	if p, ok := t.products[id]; ok {
		return p, true
	}
	t.repo.mu.RLock()
	defer t.repo.mu.RUnlock()
	p, ok := t.repo.products[id]
	return p, ok
}

func (t *memTx) order(id int64) (model.Order, bool) {
	if o, ok := t.orders[id]; ok {
		return cloneOrder(o), true
	}
	t.repo.mu.RLock()
	defer t.repo.mu.RUnlock()
	o, ok := t.repo.orders[id]
	return cloneOrder(o), ok
}

func (t *memTx) ret(id int64) (model.Return, bool) {
	if r, ok := t.returns[id]; ok {
		return cloneReturn(r), true
	}
	t.repo.mu.RLock()
	defer t.repo.mu.RUnlock()
	r, ok := t.repo.returns[id]
	return cloneReturn(r), ok
}

func productKey(id int64) string { return fmt.Sprintf("product:%d", id) }
func creditKey(id int64) string  { return fmt.Sprintf("credit:%d", id) }
func codeKey(id int64) string    { return fmt.Sprintf("code:%d", id) }
func orderKey(id int64) string   { return fmt.Sprintf("order:%d", id) }
func returnKey(id int64) string  { return fmt.Sprintf("return:%d", id) }
func numberKey(n string) string  { return "number:" + n }

func (t *memTx) LockStock(ctx context.Context, productIDs []int64) (map[int64]int64, error) {
	res := make(map[int64]int64, len(productIDs))
	for _, id := range productIDs {
		if err := t.lock(ctx, productKey(id)); err != nil {
			return nil, err
		}
		if p, ok := t.product(id); ok {
			res[id] = p.Stock
		}
	}
	return res, nil
}

func (t *memTx) AdjustStock(ctx context.Context, productID int64, delta int64) error {
	if err := t.lock(ctx, productKey(productID)); err != nil {
		return err
	}
	p, ok := t.product(productID)
	if !ok {
		return ErrProductNotFound
	}
	if p.Stock+delta < 0 {
		return fmt.Errorf("product %d: stock would become negative", productID)
	}
	p.Stock += delta
	t.products[productID] = p
	return nil
}

func (t *memTx) SetStock(ctx context.Context, productID, quantity int64) (int64, error) {
	if quantity < 0 {
		return 0, fmt.Errorf("product %d: stock must be non-negative", productID)
	}
	if err := t.lock(ctx, productKey(productID)); err != nil {
		return 0, err
	}
	p, ok := t.product(productID)
	if !ok {
		return 0, ErrProductNotFound
	}
	previous := p.Stock
	p.Stock = quantity
	t.products[productID] = p
	return previous, nil
}

func (t *memTx) GetProducts(ctx context.Context, ids []int64) (map[int64]model.Product, error) {
	res := make(map[int64]model.Product, len(ids))
	for _, id := range ids {
		if p, ok := t.product(id); ok {
			res[id] = p
		}
	}
	return res, nil
}

func (t *memTx) LockCreditBalance(ctx context.Context, userID int64) (decimal.Decimal, error) {
	if err := t.lock(ctx, creditKey(userID)); err != nil {
		return decimal.Zero, err
	}
	if b, ok := t.balances[userID]; ok {
		return b, nil
	}
	t.repo.mu.RLock()
	defer t.repo.mu.RUnlock()
	return t.repo.balances[userID], nil
}

func (t *memTx) AppendCreditEntry(ctx context.Context, entry *model.CreditEntry, balance decimal.Decimal) error {
	if err := t.lock(ctx, creditKey(entry.UserID)); err != nil {
		return err
	}
	if balance.IsNegative() {
		return fmt.Errorf("user %d: credit balance would become negative", entry.UserID)
	}
	entry.ID = t.repo.nextID()
	t.entries = append(t.entries, *entry)
	t.balances[entry.UserID] = balance
	return nil
}

func (t *memTx) GetDiscountCodeForUpdate(ctx context.Context, code string) (*model.DiscountCode, error) {
	t.repo.mu.RLock()
	id, ok := t.repo.codeIndex[strings.ToUpper(strings.TrimSpace(code))]
	t.repo.mu.RUnlock()
	if !ok {
		return nil, nil
	}

	if err := t.lock(ctx, codeKey(id)); err != nil {
		return nil, err
	}
	if dc, ok := t.codes[id]; ok {
		return &dc, nil
	}
	t.repo.mu.RLock()
	defer t.repo.mu.RUnlock()
	dc := t.repo.codes[id]
	return &dc, nil
}

func (t *memTx) IncrementDiscountUsage(ctx context.Context, id int64) error {
	if err := t.lock(ctx, codeKey(id)); err != nil {
		return err
	}
	dc, ok := t.codes[id]
	if !ok {
		t.repo.mu.RLock()
		dc, ok = t.repo.codes[id]
		t.repo.mu.RUnlock()
	}
	if !ok {
		return fmt.Errorf("%w: discount code %d", model.ErrDiscountNotFound, id)
	}
	dc.TimesUsed++
	t.codes[id] = dc
	return nil
}

func (t *memTx) NextOrderID(ctx context.Context) (int64, error) {
	return t.repo.nextID(), nil
}

func (t *memTx) CreateOrder(ctx context.Context, o *model.Order) error {
	if err := t.lock(ctx, numberKey(o.Number)); err != nil {
		return err
	}
	if t.numberTaken(o.Number) {
		return fmt.Errorf("%w: %s", ErrOrderNumberTaken, o.Number)
	}

	if o.ID == 0 {
		o.ID = t.repo.nextID()
	}
	for i := range o.Items {
		o.Items[i].ID = t.repo.nextID()
	}
	if err := t.lock(ctx, orderKey(o.ID)); err != nil {
		return err
	}
	t.orders[o.ID] = cloneOrder(*o)
	return nil
}

func (t *memTx) numberTaken(number string) bool {
	for _, o := range t.orders {
		if o.Number == number {
			return true
		}
	}
	t.repo.mu.RLock()
	defer t.repo.mu.RUnlock()
	_, ok := t.repo.numbers[number]
	return ok
}

func (t *memTx) GetOrderForUpdate(ctx context.Context, id int64) (*model.Order, error) {
	if err := t.lock(ctx, orderKey(id)); err != nil {
		return nil, err
	}
	o, ok := t.order(id)
	if !ok {
		return nil, ErrOrderNotFound
	}
	return &o, nil
}

func (t *memTx) UpdateOrderStatus(ctx context.Context, id int64, status model.OrderStatus, at time.Time) error {
	if err := t.lock(ctx, orderKey(id)); err != nil {
		return err
	}
	o, ok := t.order(id)
	if !ok {
		return ErrOrderNotFound
	}
	o.Status = status
	o.UpdatedAt = at
	t.orders[id] = o
	return nil
}

func (t *memTx) ReturnedQuantities(ctx context.Context, orderID int64) (map[int64]int64, error) {
	seen := make(map[int64]model.Return)
	for id, r := range t.returns {
		seen[id] = r
	}
	t.repo.mu.RLock()
	for id, r := range t.repo.returns {
		if _, ok := seen[id]; !ok {
			seen[id] = r
		}
	}
	t.repo.mu.RUnlock()

	res := make(map[int64]int64)
	for _, r := range seen {
		if r.OrderID != orderID || r.Status == model.ReturnDenied {
			continue
		}
		for _, it := range r.Items {
			res[it.OrderItemID] += it.Quantity
		}
	}
	return res, nil
}

func (t *memTx) CreateReturn(ctx context.Context, r *model.Return) error {
	r.ID = t.repo.nextID()
	for i := range r.Items {
		r.Items[i].ID = t.repo.nextID()
	}
	if err := t.lock(ctx, returnKey(r.ID)); err != nil {
		return err
	}
	t.returns[r.ID] = cloneReturn(*r)
	return nil
}

func (t *memTx) GetReturnForUpdate(ctx context.Context, id int64) (*model.Return, error) {
	if err := t.lock(ctx, returnKey(id)); err != nil {
		return nil, err
	}
	r, ok := t.ret(id)
	if !ok {
		return nil, ErrReturnNotFound
	}
	return &r, nil
}

func (t *memTx) UpdateReturn(ctx context.Context, r *model.Return) error {
	if err := t.lock(ctx, returnKey(r.ID)); err != nil {
		return err
	}
	if _, ok := t.ret(r.ID); !ok {
		return ErrReturnNotFound
	}
	t.returns[r.ID] = cloneReturn(*r)
	return nil
}

func (t *memTx) Enqueue(ctx context.Context, e *model.OutboxEvent) error {
	ev := *e
	ev.Payload = append([]byte(nil), e.Payload...)
	t.events = append(t.events, ev)
	return nil
}
