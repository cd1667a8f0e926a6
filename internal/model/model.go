// Package model содержит доменные сущности движка заказов и возвратов.
package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Product описывает товар и его складской остаток.
type Product struct {
	ID           int64
	SKU          string
	Name         string
	Price        decimal.Decimal
	BulkPrice    *decimal.Decimal
	BulkQuantity int64
	Stock        int64
	Active       bool
}

// UnitPrice возвращает цену за единицу с учётом оптовой цены.
func (p Product) UnitPrice(quantity int64) (decimal.Decimal, bool) {
	if p.BulkPrice != nil && p.BulkQuantity > 0 && quantity >= p.BulkQuantity {
		return *p.BulkPrice, true
	}
	return p.Price, false
}

// DiscountKind описывает способ расчёта скидки.
type DiscountKind string

const (
	DiscountPercent DiscountKind = "percent"
	DiscountFixed   DiscountKind = "fixed"
)

// DiscountCode описывает промокод.
type DiscountCode struct {
	ID            int64
	Code          string
	Kind          DiscountKind
	Value         decimal.Decimal
	MinOrderTotal *decimal.Decimal
	Active        bool
	UsageLimit    *int64
	TimesUsed     int64
	ExpiresAt     *time.Time
}

// DiscountSnapshot фиксирует применённую к заказу скидку на момент оформления.
type DiscountSnapshot struct {
	Code   string          `json:"code"`
	Kind   DiscountKind    `json:"kind"`
	Value  decimal.Decimal `json:"value"`
	Amount decimal.Decimal `json:"amount"`
}

// OrderItem описывает позицию заказа с зафиксированной ценой.
type OrderItem struct {
	ID        int64
	ProductID int64
	Quantity  int64
	UnitPrice decimal.Decimal
	BulkPrice bool
}

// LineTotal возвращает стоимость позиции.
func (i OrderItem) LineTotal() decimal.Decimal {
	return i.UnitPrice.Mul(decimal.NewFromInt(i.Quantity))
}

// Order описывает заказ пользователя.
type Order struct {
	ID            int64
	Number        string
	UserID        int64
	Status        OrderStatus
	Items         []OrderItem
	Subtotal      decimal.Decimal
	Discount      *DiscountSnapshot
	Total         decimal.Decimal
	CreditApplied decimal.Decimal
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Item возвращает позицию заказа по её идентификатору.
func (o *Order) Item(orderItemID int64) (OrderItem, bool) {
	for _, it := range o.Items {
		if it.ID == orderItemID {
			return it, true
		}
	}
	return OrderItem{}, false
}

// StockLine описывает изменение остатка одного товара.
type StockLine struct {
	ProductID int64
	Quantity  int64
}

// CauseKind описывает причину изменения баланса.
type CauseKind string

const (
	CauseReturnCredit      CauseKind = "return_credit"
	CauseOrderPayment      CauseKind = "order_payment"
	CauseOrderCancellation CauseKind = "order_cancellation"
	CauseManualAdjustment  CauseKind = "manual_adjustment"
)

// Cause связывает запись журнала баланса с породившим её событием.
type Cause struct {
	Kind     CauseKind
	OrderID  *int64
	ReturnID *int64
	AdminID  *int64
	Note     string
}

// CreditEntry: неизменяемая запись журнала баланса.
type CreditEntry struct {
	ID        int64
	UserID    int64
	Amount    decimal.Decimal
	Cause     Cause
	CreatedAt time.Time
}

// CreditBalance содержит текущий баланс пользователя.
type CreditBalance struct {
	UserID  int64           `json:"user_id"`
	Balance decimal.Decimal `json:"balance"`
}

// ReturnItem описывает возвращаемую позицию заказа.
type ReturnItem struct {
	ID          int64
	OrderItemID int64
	ProductID   int64
	Quantity    int64
	Reason      string
}

// Return описывает заявку на возврат.
type Return struct {
	ID                int64
	OrderID           int64
	UserID            int64
	Items             []ReturnItem
	Reason            string
	Status            ReturnStatus
	Resolution        *Resolution
	ResolutionAmount  *decimal.Decimal
	AdminNotes        string
	ProcessedBy       *int64
	CreatedAt         time.Time
	ProcessedAt       *time.Time
	RefundConfirmedAt *time.Time
	RefundConfirmedBy *int64
}

// EventKind описывает тип исходящего уведомления.
type EventKind string

const (
	EventOrderCreated       EventKind = "order_created"
	EventOrderStatusChanged EventKind = "order_status_changed"
	EventLowStock           EventKind = "low_stock"
	EventStockCorrected     EventKind = "stock_corrected"
	EventReturnSubmitted    EventKind = "return_submitted"
	EventReturnResolved     EventKind = "return_resolved"
	EventRefundConfirmed    EventKind = "refund_confirmed"
	EventCreditAdjusted     EventKind = "credit_adjusted"
)

// OutboxEvent: уведомление, записанное в той же транзакции, что и изменение состояния.
type OutboxEvent struct {
	ID          string
	Kind        EventKind
	UserID      *int64
	OrderID     *int64
	ReturnID    *int64
	Payload     []byte
	Attempts    int
	LastError   string
	CreatedAt   time.Time
	DeliveredAt *time.Time
}

// OrderLine: позиция запроса на оформление заказа.
type OrderLine struct {
	ProductID int64 `json:"product_id"`
	Quantity  int64 `json:"quantity"`
}

// CreateOrderRequest содержит параметры оформления заказа.
type CreateOrderRequest struct {
	UserID       int64
	Items        []OrderLine
	DiscountCode string
	ApplyCredit  decimal.Decimal
}

// ReturnLine: позиция заявки на возврат.
type ReturnLine struct {
	OrderItemID int64  `json:"order_item_id"`
	Quantity    int64  `json:"quantity"`
	Reason      string `json:"reason"`
}

// SubmitReturnRequest содержит параметры заявки на возврат.
type SubmitReturnRequest struct {
	UserID  int64
	OrderID int64
	Items   []ReturnLine
	Reason  string
}

// ResolveReturnRequest содержит решение администратора по возврату.
type ResolveReturnRequest struct {
	ReturnID   int64
	AdminID    int64
	Resolution Resolution
	Amount     *decimal.Decimal
	Notes      string
}

// Int64Ptr возвращает указатель на копию значения.
func Int64Ptr(v int64) *int64 {
	return &v
}

// Actor: пользователь, от имени которого выполняется операция.
type Actor struct {
	UserID int64
	Admin  bool
}

// CanAccess сообщает, может ли пользователь работать с данными владельца ownerID.
func (a Actor) CanAccess(ownerID int64) bool {
	return a.Admin || a.UserID == ownerID
}

// DiscountPreview: результат предварительной проверки промокода.
type DiscountPreview struct {
	Code     string          `json:"code"`
	Subtotal decimal.Decimal `json:"subtotal"`
	Amount   decimal.Decimal `json:"amount"`
	Total    decimal.Decimal `json:"total"`
}

// StockUpdate: новый остаток товара в пакетной корректировке.
type StockUpdate struct {
	ProductID int64 `json:"product_id"`
	Stock     int64 `json:"stock"`
}

// EventFilter задаёт выборку из журнала уведомлений.
type EventFilter struct {
	PendingOnly bool
	Limit       int
}

// Stats: сводка для администратора.
type Stats struct {
	TotalOrders       int64
	Revenue           decimal.Decimal
	OrdersByStatus    map[OrderStatus]int64
	ReturnsByStatus   map[ReturnStatus]int64
	ActiveProducts    int64
	LowStock          []Product
	LowStockThreshold int64
	RecentOrders      []Order
}
