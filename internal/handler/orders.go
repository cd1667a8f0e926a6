package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/mmeshcher/ledger-system/internal/model"
)

// CreateOrder оформляет заказ текущего пользователя.
func (h *Handler) CreateOrder(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(w, r)
	if !ok {
		return
	}

	var req createOrderRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	apply := decimal.Zero
	if req.ApplyCredit != nil {
		apply = *req.ApplyCredit
	}

	o, err := h.service.CreateOrder(r.Context(), model.CreateOrderRequest{
		UserID:       actor.UserID,
		Items:        req.Items,
		DiscountCode: req.DiscountCode,
		ApplyCredit:  apply,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, newOrderResponse(o))
}

// GetOrders возвращает список заказов текущего пользователя.
func (h *Handler) GetOrders(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(w, r)
	if !ok {
		return
	}

	orders, err := h.service.ListOrders(r.Context(), actor.UserID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	if len(orders) == 0 {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	writeJSON(w, http.StatusOK, newOrdersResponse(orders))
}

// GetOrder возвращает заказ по идентификатору.
func (h *Handler) GetOrder(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(w, r)
	if !ok {
		return
	}
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}

	o, err := h.service.GetOrder(r.Context(), actor, id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, newOrderResponse(o))
}

// GetOrderByNumber возвращает заказ по номеру вида RO-YYYYMMDD-NNNNNNNNNNC.
func (h *Handler) GetOrderByNumber(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(w, r)
	if !ok {
		return
	}

	o, err := h.service.GetOrderByNumber(r.Context(), actor, chi.URLParam(r, "number"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, newOrderResponse(o))
}

// CancelOrder отменяет ожидающий заказ.
func (h *Handler) CancelOrder(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(w, r)
	if !ok {
		return
	}
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}

	o, err := h.service.CancelOrder(r.Context(), actor, id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, newOrderResponse(o))
}

// GetInvoice выгружает счёт по заказу.
func (h *Handler) GetInvoice(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(w, r)
	if !ok {
		return
	}
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}

	if h.invoices == nil {
		http.Error(w, http.StatusText(http.StatusNotImplemented), http.StatusNotImplemented)
		return
	}

	o, err := h.service.GetOrder(r.Context(), actor, id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	doc, err := h.invoices.Render(o)
	if err != nil {
		h.logger.Error("render invoice error", zap.Error(err), zap.Int64("order_id", id))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", h.invoices.ContentType())
	w.Header().Set("Content-Disposition", `inline; filename="invoice-`+o.Number+`.txt"`)
	_, _ = w.Write(doc)
}

// ValidateDiscount проверяет промокод без его применения.
func (h *Handler) ValidateDiscount(w http.ResponseWriter, r *http.Request) {
	var req validateDiscountRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	preview, err := h.service.ValidateDiscount(r.Context(), req.Code, req.Subtotal)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, discountPreviewResponse{
		Code:     preview.Code,
		Subtotal: money(preview.Subtotal),
		Amount:   money(preview.Amount),
		Total:    money(preview.Total),
	})
}

// ListAllOrders возвращает заказы всех пользователей с фильтром ?status=.
func (h *Handler) ListAllOrders(w http.ResponseWriter, r *http.Request) {
	var status *model.OrderStatus
	if s := r.URL.Query().Get("status"); s != "" {
		st, err := model.ParseOrderStatus(s)
		if err != nil {
			h.writeError(w, r, err)
			return
		}
		status = &st
	}

	orders, err := h.service.ListAllOrders(r.Context(), status)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, newOrdersResponse(orders))
}

// FulfillOrder отмечает заказ выполненным.
func (h *Handler) FulfillOrder(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(w, r)
	if !ok {
		return
	}
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}

	o, err := h.service.FulfillOrder(r.Context(), id, actor.UserID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, newOrderResponse(o))
}
