package model

import "fmt"

// OrderStatus описывает статус заказа.
type OrderStatus string

const (
	OrderStatusPending   OrderStatus = "pending"
	OrderStatusFulfilled OrderStatus = "fulfilled"
	OrderStatusCancelled OrderStatus = "cancelled"
)

// ParseOrderStatus разбирает статус заказа из строки.
func ParseOrderStatus(s string) (OrderStatus, error) {
	switch st := OrderStatus(s); st {
	case OrderStatusPending, OrderStatusFulfilled, OrderStatusCancelled:
		return st, nil
	}
	return "", fmt.Errorf("%w: unknown order status %q", ErrInvalidInput, s)
}

// CanTransition сообщает, допустим ли переход заказа в статус to.
func (s OrderStatus) CanTransition(to OrderStatus) bool {
	return s == OrderStatusPending && (to == OrderStatusFulfilled || to == OrderStatusCancelled)
}

// ReturnStatus описывает состояние заявки на возврат.
type ReturnStatus string

const (
	ReturnSubmitted              ReturnStatus = "submitted"
	ReturnUnderReview            ReturnStatus = "under_review"
	ReturnApprovedCredit         ReturnStatus = "approved_credit"
	ReturnApprovedPartialCredit  ReturnStatus = "approved_partial_credit"
	ReturnApprovedRefundExternal ReturnStatus = "approved_refund_external"
	ReturnApprovedReplacement    ReturnStatus = "approved_replacement"
	ReturnDenied                 ReturnStatus = "denied"
)

// ParseReturnStatus разбирает статус возврата из строки.
func ParseReturnStatus(s string) (ReturnStatus, error) {
	if st := ReturnStatus(s); st.known() {
		return st, nil
	}
	return "", fmt.Errorf("%w: unknown return status %q", ErrInvalidInput, s)
}

func (s ReturnStatus) known() bool {
	switch s {
	case ReturnSubmitted, ReturnUnderReview, ReturnApprovedCredit, ReturnApprovedPartialCredit,
		ReturnApprovedRefundExternal, ReturnApprovedReplacement, ReturnDenied:
		return true
	}
	return false
}

// Terminal сообщает, является ли статус конечным.
func (s ReturnStatus) Terminal() bool {
	return s != ReturnSubmitted && s != ReturnUnderReview
}

// Transition проверяет переход из s в to. Это единственное место,
// где задаются правила жизненного цикла возврата.
func (s ReturnStatus) Transition(to ReturnStatus) error {
	if !s.known() || !to.known() {
		return fmt.Errorf("%w: %s -> %s", ErrIllegalTransition, s, to)
	}
	if s.Terminal() {
		return fmt.Errorf("%w: return is %s", ErrReturnTerminal, s)
	}
	switch {
	case s == ReturnSubmitted && to == ReturnUnderReview:
		return nil
	case to.Terminal():
		return nil
	}
	return fmt.Errorf("%w: %s -> %s", ErrIllegalTransition, s, to)
}

// Resolution описывает решение администратора по возврату.
type Resolution string

const (
	ResolutionStoreCredit        Resolution = "store_credit"
	ResolutionPartialCredit      Resolution = "partial_credit"
	ResolutionFullRefundExternal Resolution = "full_refund_external"
	ResolutionReplacement        Resolution = "replacement"
	ResolutionDenied             Resolution = "denied"
)

// ParseResolution разбирает тип решения из строки.
func ParseResolution(s string) (Resolution, error) {
	r := Resolution(s)
	if _, ok := resolutionStatus[r]; !ok {
		return "", fmt.Errorf("%w: unknown resolution %q", ErrInvalidInput, s)
	}
	return r, nil
}

var resolutionStatus = map[Resolution]ReturnStatus{
	ResolutionStoreCredit:        ReturnApprovedCredit,
	ResolutionPartialCredit:      ReturnApprovedPartialCredit,
	ResolutionFullRefundExternal: ReturnApprovedRefundExternal,
	ResolutionReplacement:        ReturnApprovedReplacement,
	ResolutionDenied:             ReturnDenied,
}

// Status возвращает конечный статус возврата для решения.
func (r Resolution) Status() ReturnStatus {
	return resolutionStatus[r]
}
