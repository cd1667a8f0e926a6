package handler

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/mmeshcher/ledger-system/internal/model"
)

// CorrectStockBulk устанавливает остатки нескольких товаров одной транзакцией.
func (h *Handler) CorrectStockBulk(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(w, r)
	if !ok {
		return
	}

	var req bulkStockRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	products, err := h.service.CorrectStockBulk(r.Context(), actor.UserID, req.Updates)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	resp := make([]productStockResponse, 0, len(products))
	for _, p := range products {
		resp = append(resp, productStockResponse{ID: p.ID, SKU: p.SKU, Stock: p.Stock})
	}
	writeJSON(w, http.StatusOK, resp)
}

// ListNotifications возвращает события исходящей очереди.
// Параметры: ?status=pending оставляет недоставленные, ?limit= ограничивает выборку.
func (h *Handler) ListNotifications(w http.ResponseWriter, r *http.Request) {
	var filter model.EventFilter

	q := r.URL.Query()
	switch q.Get("status") {
	case "", "all":
	case "pending":
		filter.PendingOnly = true
	default:
		h.writeError(w, r, fmt.Errorf("%w: unknown notification status %q", model.ErrInvalidInput, q.Get("status")))
		return
	}
	if s := q.Get("limit"); s != "" {
		limit, err := strconv.Atoi(s)
		if err != nil {
			h.writeError(w, r, fmt.Errorf("%w: limit must be an integer", model.ErrInvalidInput))
			return
		}
		filter.Limit = limit
	}

	events, err := h.service.ListNotifications(r.Context(), filter)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	resp := make([]notificationResponse, 0, len(events))
	for _, e := range events {
		resp = append(resp, newNotificationResponse(e))
	}
	writeJSON(w, http.StatusOK, resp)
}

// Stats возвращает сводку для панели администратора.
func (h *Handler) Stats(w http.ResponseWriter, r *http.Request) {
	st, err := h.service.Stats(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	resp := statsResponse{
		TotalOrders:       st.TotalOrders,
		Revenue:           money(st.Revenue),
		OrdersByStatus:    make(map[string]int64, len(st.OrdersByStatus)),
		ReturnsByStatus:   make(map[string]int64, len(st.ReturnsByStatus)),
		ActiveProducts:    st.ActiveProducts,
		LowStockThreshold: st.LowStockThreshold,
		LowStock:          make([]productStockResponse, 0, len(st.LowStock)),
		RecentOrders:      newOrdersResponse(st.RecentOrders),
	}
	for k, v := range st.OrdersByStatus {
		resp.OrdersByStatus[string(k)] = v
	}
	for k, v := range st.ReturnsByStatus {
		resp.ReturnsByStatus[string(k)] = v
	}
	for _, p := range st.LowStock {
		resp.LowStock = append(resp.LowStock, productStockResponse{ID: p.ID, SKU: p.SKU, Stock: p.Stock})
	}

	writeJSON(w, http.StatusOK, resp)
}

func newNotificationResponse(e model.OutboxEvent) notificationResponse {
	return notificationResponse{
		ID:          e.ID,
		Kind:        e.Kind,
		UserID:      e.UserID,
		OrderID:     e.OrderID,
		ReturnID:    e.ReturnID,
		Payload:     json.RawMessage(e.Payload),
		Attempts:    e.Attempts,
		LastError:   e.LastError,
		CreatedAt:   e.CreatedAt.Format(time.RFC3339),
		DeliveredAt: timePtr(e.DeliveredAt),
	}
}
