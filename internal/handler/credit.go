package handler

import (
	"fmt"
	"net/http"
	"time"

	"github.com/mmeshcher/ledger-system/internal/model"
)

// GetBalance возвращает бонусный баланс текущего пользователя.
func (h *Handler) GetBalance(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(w, r)
	if !ok {
		return
	}

	b, err := h.service.GetCreditBalance(r.Context(), actor.UserID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, balanceResponse{UserID: b.UserID, Balance: money(b.Balance)})
}

// GetCreditEntries возвращает журнал бонусного баланса текущего пользователя.
func (h *Handler) GetCreditEntries(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(w, r)
	if !ok {
		return
	}

	entries, err := h.service.ListCreditEntries(r.Context(), actor.UserID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	if len(entries) == 0 {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	resp := make([]creditEntryResponse, 0, len(entries))
	for _, e := range entries {
		resp = append(resp, creditEntryResponse{
			ID:        e.ID,
			Amount:    money(e.Amount),
			Cause:     e.Cause.Kind,
			OrderID:   e.Cause.OrderID,
			ReturnID:  e.Cause.ReturnID,
			AdminID:   e.Cause.AdminID,
			Note:      e.Cause.Note,
			CreatedAt: e.CreatedAt.Format(time.RFC3339),
		})
	}

	writeJSON(w, http.StatusOK, resp)
}

// AdjustCredit вручную изменяет бонусный баланс пользователя.
func (h *Handler) AdjustCredit(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(w, r)
	if !ok {
		return
	}
	userID, ok := pathID(w, r, "id")
	if !ok {
		return
	}

	var req adjustCreditRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	b, err := h.service.AdjustCredit(r.Context(), userID, actor.UserID, req.Amount, req.Note)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, balanceResponse{UserID: b.UserID, Balance: money(b.Balance)})
}

// CorrectStock устанавливает остаток товара по результатам инвентаризации.
func (h *Handler) CorrectStock(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(w, r)
	if !ok {
		return
	}
	productID, ok := pathID(w, r, "id")
	if !ok {
		return
	}

	var req correctStockRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Quantity == nil {
		h.writeError(w, r, fmt.Errorf("%w: quantity is required", model.ErrInvalidInput))
		return
	}

	p, err := h.service.CorrectStock(r.Context(), productID, actor.UserID, *req.Quantity)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, productStockResponse{ID: p.ID, SKU: p.SKU, Stock: p.Stock})
}
