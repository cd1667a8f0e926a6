package service

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/mmeshcher/ledger-system/internal/model"
)

type orderCreatedPayload struct {
	OrderID       int64                   `json:"order_id"`
	Number        string                  `json:"number"`
	UserID        int64                   `json:"user_id"`
	Items         int                     `json:"items"`
	Subtotal      decimal.Decimal         `json:"subtotal"`
	Discount      *model.DiscountSnapshot `json:"discount,omitempty"`
	Total         decimal.Decimal         `json:"total"`
	CreditApplied decimal.Decimal         `json:"credit_applied"`
}

type orderStatusPayload struct {
	OrderID int64             `json:"order_id"`
	Number  string            `json:"number"`
	From    model.OrderStatus `json:"from"`
	To      model.OrderStatus `json:"to"`
	Actor   int64             `json:"actor_id"`
}

type lowStockPayload struct {
	ProductID int64  `json:"product_id"`
	SKU       string `json:"sku"`
	Name      string `json:"name"`
	Stock     int64  `json:"stock"`
	Threshold int64  `json:"threshold"`
}

type stockCorrectedPayload struct {
	ProductID int64 `json:"product_id"`
	Previous  int64 `json:"previous"`
	Current   int64 `json:"current"`
	AdminID   int64 `json:"admin_id"`
}

type returnPayload struct {
	ReturnID   int64              `json:"return_id"`
	OrderID    int64              `json:"order_id"`
	Status     model.ReturnStatus `json:"status"`
	Resolution *model.Resolution  `json:"resolution,omitempty"`
	Amount     *decimal.Decimal   `json:"amount,omitempty"`
	Items      int                `json:"items"`
}

type refundConfirmedPayload struct {
	ReturnID    int64            `json:"return_id"`
	OrderID     int64            `json:"order_id"`
	Amount      *decimal.Decimal `json:"amount,omitempty"`
	ConfirmedBy int64            `json:"confirmed_by"`
	ConfirmedAt time.Time        `json:"confirmed_at"`
}

type creditAdjustedPayload struct {
	UserID  int64           `json:"user_id"`
	Amount  decimal.Decimal `json:"amount"`
	Balance decimal.Decimal `json:"balance"`
	AdminID int64           `json:"admin_id"`
	Note    string          `json:"note,omitempty"`
}

func newReturnPayload(r *model.Return) returnPayload {
	return returnPayload{
		ReturnID:   r.ID,
		OrderID:    r.OrderID,
		Status:     r.Status,
		Resolution: r.Resolution,
		Amount:     r.ResolutionAmount,
		Items:      len(r.Items),
	}
}
