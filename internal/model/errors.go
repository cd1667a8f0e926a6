package model

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

var (
	// ErrInvalidInput возвращается при некорректных входных данных.
	ErrInvalidInput = errors.New("invalid input")
	// ErrInvalidItem возвращается при некорректной позиции заказа или возврата.
	ErrInvalidItem = errors.New("invalid item")
	// ErrInvalidAmount возвращается при некорректной денежной сумме.
	ErrInvalidAmount = errors.New("invalid amount")
	// ErrStockOverflow возвращается, если пополнение остатка переполнит счётчик.
	ErrStockOverflow = errors.New("stock overflow")

	ErrDiscountNotFound  = errors.New("discount code not found")
	ErrDiscountInactive  = errors.New("discount code inactive")
	ErrDiscountExpired   = errors.New("discount code expired")
	ErrDiscountExhausted = errors.New("discount code usage limit reached")

	// ErrOrderNotFulfilled возвращается при попытке вернуть товар по невыполненному заказу.
	ErrOrderNotFulfilled = errors.New("order not fulfilled")
	// ErrIllegalTransition возвращается при недопустимой смене статуса.
	ErrIllegalTransition = errors.New("illegal status transition")
	// ErrReturnTerminal возвращается при попытке изменить завершённый возврат.
	ErrReturnTerminal = errors.New("return already resolved")
	// ErrRefundConfirmed возвращается при повторном подтверждении внешнего возврата средств.
	ErrRefundConfirmed = errors.New("refund already confirmed")
	// ErrNotesRequired возвращается при отказе в возврате без комментария.
	ErrNotesRequired = errors.New("admin notes required")
	// ErrForbidden возвращается, если у пользователя нет прав на операцию.
	ErrForbidden = errors.New("forbidden")
	// ErrTransient возвращается, когда конфликт параллельных транзакций не разрешился повторами.
	ErrTransient = errors.New("transient conflict, retry later")
)

// InsufficientStockError описывает нехватку товара на складе.
type InsufficientStockError struct {
	ProductID int64
	Available int64
	Requested int64
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient stock for product %d: available %d, requested %d",
		e.ProductID, e.Available, e.Requested)
}

// InsufficientCreditError описывает нехватку средств на балансе.
type InsufficientCreditError struct {
	Available decimal.Decimal
	Requested decimal.Decimal
}

func (e *InsufficientCreditError) Error() string {
	return fmt.Sprintf("insufficient credit: available %s, requested %s",
		e.Available.StringFixed(2), e.Requested.StringFixed(2))
}

// BelowMinimumError описывает недостаточную сумму заказа для промокода.
type BelowMinimumError struct {
	Minimum   decimal.Decimal
	Subtotal  decimal.Decimal
	Shortfall decimal.Decimal
}

func (e *BelowMinimumError) Error() string {
	return fmt.Sprintf("order subtotal %s below minimum %s (short by %s)",
		e.Subtotal.StringFixed(2), e.Minimum.StringFixed(2), e.Shortfall.StringFixed(2))
}

// ExceedsReturnableError описывает попытку вернуть больше, чем осталось доступно к возврату.
type ExceedsReturnableError struct {
	OrderItemID int64
	Remaining   int64
	Requested   int64
}

func (e *ExceedsReturnableError) Error() string {
	return fmt.Sprintf("order item %d: requested %d exceeds returnable %d",
		e.OrderItemID, e.Requested, e.Remaining)
}

// ReplacementStockError описывает нехватку товара для замены по возврату.
type ReplacementStockError struct {
	Stock *InsufficientStockError
}

func (e *ReplacementStockError) Error() string {
	return "insufficient stock for replacement: " + e.Stock.Error()
}

func (e *ReplacementStockError) Unwrap() error {
	return e.Stock
}

// ErrorCode возвращает машиночитаемый код доменной ошибки для ответов API,
// логов и метрик. Для неизвестных ошибок возвращает "internal".
func ErrorCode(err error) string {
	var (
		stockErr       *InsufficientStockError
		creditErr      *InsufficientCreditError
		minErr         *BelowMinimumError
		returnableErr  *ExceedsReturnableError
		replacementErr *ReplacementStockError
	)

	switch {
	case err == nil:
		return ""
	case errors.As(err, &replacementErr):
		return "insufficient_stock_for_replacement"
	case errors.As(err, &stockErr):
		return "insufficient_stock"
	case errors.As(err, &creditErr):
		return "insufficient_credit"
	case errors.As(err, &minErr):
		return "below_minimum"
	case errors.As(err, &returnableErr):
		return "exceeds_returnable"
	}

	for _, c := range errorCodes {
		if errors.Is(err, c.err) {
			return c.code
		}
	}
	return "internal"
}

var errorCodes = []struct {
	err  error
	code string
}{
	{ErrInvalidItem, "invalid_item"},
	{ErrInvalidAmount, "invalid_amount"},
	{ErrInvalidInput, "invalid_input"},
	{ErrStockOverflow, "stock_overflow"},
	{ErrDiscountNotFound, "discount_not_found"},
	{ErrDiscountInactive, "discount_inactive"},
	{ErrDiscountExpired, "discount_expired"},
	{ErrDiscountExhausted, "discount_exhausted"},
	{ErrOrderNotFulfilled, "order_not_fulfilled"},
	{ErrIllegalTransition, "illegal_transition"},
	{ErrReturnTerminal, "return_terminal"},
	{ErrRefundConfirmed, "refund_confirmed"},
	{ErrNotesRequired, "notes_required"},
	{ErrForbidden, "forbidden"},
	{ErrTransient, "transient"},
}
