package handler

import (
	"net/http"

	"github.com/mmeshcher/ledger-system/internal/model"
)

// SubmitReturn создаёт заявку на возврат по заказу текущего пользователя.
func (h *Handler) SubmitReturn(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(w, r)
	if !ok {
		return
	}
	orderID, ok := pathID(w, r, "id")
	if !ok {
		return
	}

	var req submitReturnRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	ret, err := h.service.SubmitReturn(r.Context(), model.SubmitReturnRequest{
		UserID:  actor.UserID,
		OrderID: orderID,
		Items:   req.Items,
		Reason:  req.Reason,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, newReturnResponse(ret))
}

// GetReturns возвращает заявки текущего пользователя.
func (h *Handler) GetReturns(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(w, r)
	if !ok {
		return
	}

	returns, err := h.service.ListReturnsByUser(r.Context(), actor.UserID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	if len(returns) == 0 {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	writeJSON(w, http.StatusOK, newReturnsResponse(returns))
}

// GetReturn возвращает заявку по идентификатору.
func (h *Handler) GetReturn(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(w, r)
	if !ok {
		return
	}
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}

	ret, err := h.service.GetReturn(r.Context(), actor, id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, newReturnResponse(ret))
}

// ListReturns возвращает все заявки с фильтром ?status=.
func (h *Handler) ListReturns(w http.ResponseWriter, r *http.Request) {
	var status *model.ReturnStatus
	if s := r.URL.Query().Get("status"); s != "" {
		st, err := model.ParseReturnStatus(s)
		if err != nil {
			h.writeError(w, r, err)
			return
		}
		status = &st
	}

	returns, err := h.service.ListReturns(r.Context(), status)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, newReturnsResponse(returns))
}

// ReviewReturn берёт заявку в работу.
func (h *Handler) ReviewReturn(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(w, r)
	if !ok {
		return
	}
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}

	ret, err := h.service.ReviewReturn(r.Context(), id, actor.UserID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, newReturnResponse(ret))
}

// ResolveReturn применяет решение администратора по заявке.
func (h *Handler) ResolveReturn(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(w, r)
	if !ok {
		return
	}
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}

	var req resolveReturnRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	resolution, err := model.ParseResolution(req.Resolution)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	ret, err := h.service.ResolveReturn(r.Context(), model.ResolveReturnRequest{
		ReturnID:   id,
		AdminID:    actor.UserID,
		Resolution: resolution,
		Amount:     req.Amount,
		Notes:      req.Notes,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, newReturnResponse(ret))
}

// ConfirmRefund подтверждает выполненный внешний возврат средств.
func (h *Handler) ConfirmRefund(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(w, r)
	if !ok {
		return
	}
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}

	ret, err := h.service.ConfirmRefund(r.Context(), id, actor.UserID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, newReturnResponse(ret))
}
