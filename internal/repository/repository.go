// Package repository содержит реализации хранилища движка заказов:
// PostgreSQL для эксплуатации и in-memory для разработки и тестов.
package repository

import (
	"context"
	"errors"
	"time"

	"github.com/mmeshcher/ledger-system/internal/ledger"
	"github.com/mmeshcher/ledger-system/internal/model"
)

var (
	// ErrProductNotFound возвращается, если товар не найден.
	ErrProductNotFound = errors.New("product not found")
	// ErrOrderNotFound возвращается, если заказ не найден.
	ErrOrderNotFound = errors.New("order not found")
	// ErrReturnNotFound возвращается, если заявка на возврат не найдена.
	ErrReturnNotFound = errors.New("return not found")
	// ErrEventNotFound возвращается, если событие отсутствует в outbox.
	ErrEventNotFound = errors.New("outbox event not found")
	// ErrOrderNumberTaken возвращается, если номер заказа уже занят.
	ErrOrderNumberTaken = errors.New("order number already taken")
)

// Tx: набор операций, выполняемых в одной транзакции. Все изменения
// фиксируются вместе при успешном завершении функции, переданной в InTx,
// и отменяются при любой ошибке.
type Tx interface {
	ledger.StockTx
	ledger.CreditTx

	// GetProducts возвращает товары без блокировки. Отсутствующие товары в результат не попадают.
	GetProducts(ctx context.Context, ids []int64) (map[int64]model.Product, error)
	// SetStock устанавливает остаток товара и возвращает предыдущее значение.
	SetStock(ctx context.Context, productID, quantity int64) (int64, error)

	// GetDiscountCodeForUpdate блокирует промокод. Для неизвестного кода возвращает nil без ошибки.
	GetDiscountCodeForUpdate(ctx context.Context, code string) (*model.DiscountCode, error)
	IncrementDiscountUsage(ctx context.Context, id int64) error

	// NextOrderID резервирует идентификатор для нового заказа.
	NextOrderID(ctx context.Context) (int64, error)
	// CreateOrder сохраняет заказ и заполняет идентификаторы позиций. Если o.ID
	// не задан, идентификатор выдаётся при вставке. Занятый номер даёт ErrOrderNumberTaken.
	CreateOrder(ctx context.Context, o *model.Order) error
	GetOrderForUpdate(ctx context.Context, id int64) (*model.Order, error)
	UpdateOrderStatus(ctx context.Context, id int64, status model.OrderStatus, at time.Time) error

	// ReturnedQuantities возвращает количество, уже покрытое неотклонёнными возвратами, по позициям заказа.
	ReturnedQuantities(ctx context.Context, orderID int64) (map[int64]int64, error)
	// CreateReturn сохраняет заявку и заполняет идентификаторы.
	CreateReturn(ctx context.Context, r *model.Return) error
	GetReturnForUpdate(ctx context.Context, id int64) (*model.Return, error)
	UpdateReturn(ctx context.Context, r *model.Return) error

	// Enqueue записывает уведомление в outbox.
	Enqueue(ctx context.Context, e *model.OutboxEvent) error
}

// TxFunc: тело транзакции. Может быть вызвано повторно при конфликте сериализации,
// поэтому не должно иметь побочных эффектов вне Tx.
type TxFunc func(ctx context.Context, tx Tx) error
