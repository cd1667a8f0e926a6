package handler

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"

	"github.com/mmeshcher/ledger-system/internal/model"
)

type createOrderRequest struct {
	Items        []model.OrderLine `json:"items"`
	DiscountCode string            `json:"discount_code"`
	ApplyCredit  *decimal.Decimal  `json:"apply_credit"`
}

type validateDiscountRequest struct {
	Code     string          `json:"code"`
	Subtotal decimal.Decimal `json:"subtotal"`
}

type submitReturnRequest struct {
	Items  []model.ReturnLine `json:"items"`
	Reason string             `json:"reason"`
}

type resolveReturnRequest struct {
	Resolution string           `json:"resolution"`
	Amount     *decimal.Decimal `json:"amount"`
	Notes      string           `json:"notes"`
}

type adjustCreditRequest struct {
	Amount decimal.Decimal `json:"amount"`
	Note   string          `json:"note"`
}

type correctStockRequest struct {
	Quantity *int64 `json:"quantity"`
}

type bulkStockRequest struct {
	Updates []model.StockUpdate `json:"updates"`
}

type orderItemResponse struct {
	ID        int64  `json:"id"`
	ProductID int64  `json:"product_id"`
	Quantity  int64  `json:"quantity"`
	UnitPrice string `json:"unit_price"`
	BulkPrice bool   `json:"bulk_price,omitempty"`
	LineTotal string `json:"line_total"`
}

type discountResponse struct {
	Code   string             `json:"code"`
	Kind   model.DiscountKind `json:"kind"`
	Value  string             `json:"value"`
	Amount string             `json:"amount"`
}

type orderResponse struct {
	ID            int64               `json:"id"`
	Number        string              `json:"number"`
	UserID        int64               `json:"user_id"`
	Status        model.OrderStatus   `json:"status"`
	Items         []orderItemResponse `json:"items"`
	Subtotal      string              `json:"subtotal"`
	Discount      *discountResponse   `json:"discount,omitempty"`
	Total         string              `json:"total"`
	CreditApplied string              `json:"credit_applied"`
	CreatedAt     string              `json:"created_at"`
	UpdatedAt     string              `json:"updated_at"`
}

func newOrderResponse(o *model.Order) orderResponse {
	resp := orderResponse{
		ID:            o.ID,
		Number:        o.Number,
		UserID:        o.UserID,
		Status:        o.Status,
		Items:         make([]orderItemResponse, 0, len(o.Items)),
		Subtotal:      money(o.Subtotal),
		Total:         money(o.Total),
		CreditApplied: money(o.CreditApplied),
		CreatedAt:     o.CreatedAt.Format(time.RFC3339),
		UpdatedAt:     o.UpdatedAt.Format(time.RFC3339),
	}
	for _, it := range o.Items {
		resp.Items = append(resp.Items, orderItemResponse{
			ID:        it.ID,
			ProductID: it.ProductID,
			Quantity:  it.Quantity,
			UnitPrice: money(it.UnitPrice),
			BulkPrice: it.BulkPrice,
			LineTotal: money(it.LineTotal()),
		})
	}
	if d := o.Discount; d != nil {
		resp.Discount = &discountResponse{
			Code:   d.Code,
			Kind:   d.Kind,
			Value:  d.Value.String(),
			Amount: money(d.Amount),
		}
	}
	return resp
}

func newOrdersResponse(orders []model.Order) []orderResponse {
	resp := make([]orderResponse, 0, len(orders))
	for i := range orders {
		resp = append(resp, newOrderResponse(&orders[i]))
	}
	return resp
}

type returnItemResponse struct {
	ID          int64  `json:"id"`
	OrderItemID int64  `json:"order_item_id"`
	ProductID   int64  `json:"product_id"`
	Quantity    int64  `json:"quantity"`
	Reason      string `json:"reason,omitempty"`
}

type returnResponse struct {
	ID                int64                `json:"id"`
	OrderID           int64                `json:"order_id"`
	UserID            int64                `json:"user_id"`
	Items             []returnItemResponse `json:"items"`
	Reason            string               `json:"reason,omitempty"`
	Status            model.ReturnStatus   `json:"status"`
	Resolution        *model.Resolution    `json:"resolution,omitempty"`
	ResolutionAmount  *string              `json:"resolution_amount,omitempty"`
	AdminNotes        string               `json:"admin_notes,omitempty"`
	ProcessedBy       *int64               `json:"processed_by,omitempty"`
	CreatedAt         string               `json:"created_at"`
	ProcessedAt       *string              `json:"processed_at,omitempty"`
	RefundConfirmedAt *string              `json:"refund_confirmed_at,omitempty"`
	RefundConfirmedBy *int64               `json:"refund_confirmed_by,omitempty"`
}

func newReturnResponse(r *model.Return) returnResponse {
	resp := returnResponse{
		ID:                r.ID,
		OrderID:           r.OrderID,
		UserID:            r.UserID,
		Items:             make([]returnItemResponse, 0, len(r.Items)),
		Reason:            r.Reason,
		Status:            r.Status,
		Resolution:        r.Resolution,
		AdminNotes:        r.AdminNotes,
		ProcessedBy:       r.ProcessedBy,
		CreatedAt:         r.CreatedAt.Format(time.RFC3339),
		ProcessedAt:       timePtr(r.ProcessedAt),
		RefundConfirmedAt: timePtr(r.RefundConfirmedAt),
		RefundConfirmedBy: r.RefundConfirmedBy,
	}
	if r.ResolutionAmount != nil {
		a := money(*r.ResolutionAmount)
		resp.ResolutionAmount = &a
	}
	for _, it := range r.Items {
		resp.Items = append(resp.Items, returnItemResponse{
			ID:          it.ID,
			OrderItemID: it.OrderItemID,
			ProductID:   it.ProductID,
			Quantity:    it.Quantity,
			Reason:      it.Reason,
		})
	}
	return resp
}

func newReturnsResponse(returns []model.Return) []returnResponse {
	resp := make([]returnResponse, 0, len(returns))
	for i := range returns {
		resp = append(resp, newReturnResponse(&returns[i]))
	}
	return resp
}

type balanceResponse struct {
	UserID  int64  `json:"user_id"`
	Balance string `json:"balance"`
}

type creditEntryResponse struct {
	ID        int64           `json:"id"`
	Amount    string          `json:"amount"`
	Cause     model.CauseKind `json:"cause"`
	OrderID   *int64          `json:"order_id,omitempty"`
	ReturnID  *int64          `json:"return_id,omitempty"`
	AdminID   *int64          `json:"admin_id,omitempty"`
	Note      string          `json:"note,omitempty"`
	CreatedAt string          `json:"created_at"`
}

type discountPreviewResponse struct {
	Code     string `json:"code"`
	Subtotal string `json:"subtotal"`
	Amount   string `json:"amount"`
	Total    string `json:"total"`
}

type productStockResponse struct {
	ID    int64  `json:"id"`
	SKU   string `json:"sku"`
	Stock int64  `json:"stock"`
}

type notificationResponse struct {
	ID          string          `json:"id"`
	Kind        model.EventKind `json:"kind"`
	UserID      *int64          `json:"user_id,omitempty"`
	OrderID     *int64          `json:"order_id,omitempty"`
	ReturnID    *int64          `json:"return_id,omitempty"`
	Payload     json.RawMessage `json:"payload,omitempty"`
	Attempts    int             `json:"attempts"`
	LastError   string          `json:"last_error,omitempty"`
	CreatedAt   string          `json:"created_at"`
	DeliveredAt *string         `json:"delivered_at,omitempty"`
}

type statsResponse struct {
	TotalOrders       int64                  `json:"total_orders"`
	Revenue           string                 `json:"revenue"`
	OrdersByStatus    map[string]int64       `json:"orders_by_status"`
	ReturnsByStatus   map[string]int64       `json:"returns_by_status"`
	ActiveProducts    int64                  `json:"active_products"`
	LowStockThreshold int64                  `json:"low_stock_threshold"`
	LowStock          []productStockResponse `json:"low_stock"`
	RecentOrders      []orderResponse        `json:"recent_orders"`
}

func money(d decimal.Decimal) string {
	return model.RoundMoney(d).StringFixed(2)
}

func timePtr(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := t.Format(time.RFC3339)
	return &s
}
