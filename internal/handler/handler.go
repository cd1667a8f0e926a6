// Package handler содержит HTTP-обработчики API движка заказов и возвратов.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/mmeshcher/ledger-system/internal/middleware"
	"github.com/mmeshcher/ledger-system/internal/model"
	"github.com/mmeshcher/ledger-system/internal/repository"
)

// Service определяет контракт бизнес-логики, используемой HTTP-обработчиками.
type Service interface {
	CreateOrder(ctx context.Context, req model.CreateOrderRequest) (*model.Order, error)
	CancelOrder(ctx context.Context, actor model.Actor, orderID int64) (*model.Order, error)
	FulfillOrder(ctx context.Context, orderID, adminID int64) (*model.Order, error)
	GetOrder(ctx context.Context, actor model.Actor, orderID int64) (*model.Order, error)
	GetOrderByNumber(ctx context.Context, actor model.Actor, number string) (*model.Order, error)
	ListOrders(ctx context.Context, userID int64) ([]model.Order, error)
	ListAllOrders(ctx context.Context, status *model.OrderStatus) ([]model.Order, error)
	ValidateDiscount(ctx context.Context, code string, subtotal decimal.Decimal) (*model.DiscountPreview, error)

	SubmitReturn(ctx context.Context, req model.SubmitReturnRequest) (*model.Return, error)
	ReviewReturn(ctx context.Context, returnID, adminID int64) (*model.Return, error)
	ResolveReturn(ctx context.Context, req model.ResolveReturnRequest) (*model.Return, error)
	ConfirmRefund(ctx context.Context, returnID, adminID int64) (*model.Return, error)
	GetReturn(ctx context.Context, actor model.Actor, returnID int64) (*model.Return, error)
	ListReturnsByUser(ctx context.Context, userID int64) ([]model.Return, error)
	ListReturns(ctx context.Context, status *model.ReturnStatus) ([]model.Return, error)

	AdjustCredit(ctx context.Context, userID, adminID int64, amount decimal.Decimal, note string) (*model.CreditBalance, error)
	GetCreditBalance(ctx context.Context, userID int64) (*model.CreditBalance, error)
	ListCreditEntries(ctx context.Context, userID int64) ([]model.CreditEntry, error)
	CorrectStock(ctx context.Context, productID, adminID, quantity int64) (*model.Product, error)
	CorrectStockBulk(ctx context.Context, adminID int64, updates []model.StockUpdate) ([]model.Product, error)
	ListNotifications(ctx context.Context, filter model.EventFilter) ([]model.OutboxEvent, error)
	Stats(ctx context.Context) (*model.Stats, error)
}

// InvoiceRenderer формирует документ-счёт по заказу.
type InvoiceRenderer interface {
	Render(o *model.Order) ([]byte, error)
	ContentType() string
}

// Handler реализует HTTP-обработчики API.
type Handler struct {
	service        Service
	logger         *zap.Logger
	authMiddleware *middleware.AuthMiddleware
	invoices       InvoiceRenderer
	metrics        http.Handler
}

// Option настраивает Handler.
type Option func(*Handler)

// WithInvoiceRenderer включает выгрузку счёта по заказу.
func WithInvoiceRenderer(r InvoiceRenderer) Option {
	return func(h *Handler) {
		h.invoices = r
	}
}

// WithMetricsHandler публикует метрики по /metrics.
func WithMetricsHandler(m http.Handler) Option {
	return func(h *Handler) {
		h.metrics = m
	}
}

// NewHandler создаёт новый экземпляр обработчика HTTP-запросов.
func NewHandler(s Service, logger *zap.Logger, auth *middleware.AuthMiddleware, opts ...Option) *Handler {
	h := &Handler{
		service:        s,
		logger:         logger,
		authMiddleware: auth,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

// writeError переводит доменную ошибку в HTTP-ответ.
func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	resp := errorResponse{
		Error:   model.ErrorCode(err),
		Message: err.Error(),
		Details: errorDetails(err),
	}

	switch {
	case status == http.StatusNotFound:
		resp.Error = "not_found"
	case status >= http.StatusInternalServerError:
		h.logger.Error("request failed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Error(err),
		)
		if status == http.StatusInternalServerError {
			resp.Message = http.StatusText(status)
		}
	}

	writeJSON(w, status, resp)
}

func statusFor(err error) int {
	var replacementErr *model.ReplacementStockError

	switch {
	case errors.Is(err, repository.ErrOrderNotFound),
		errors.Is(err, repository.ErrReturnNotFound),
		errors.Is(err, repository.ErrProductNotFound):
		return http.StatusNotFound
	case errors.As(err, &replacementErr):
		return http.StatusUnprocessableEntity
	case errors.Is(err, model.ErrReturnTerminal),
		errors.Is(err, model.ErrRefundConfirmed),
		errors.Is(err, model.ErrIllegalTransition):
		return http.StatusConflict
	case errors.Is(err, model.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, model.ErrTransient), errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable
	}

	if model.ErrorCode(err) != "internal" {
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

func errorDetails(err error) any {
	var (
		stockErr      *model.InsufficientStockError
		creditErr     *model.InsufficientCreditError
		minErr        *model.BelowMinimumError
		returnableErr *model.ExceedsReturnableError
	)

	switch {
	case errors.As(err, &stockErr):
		return map[string]any{
			"product_id": stockErr.ProductID,
			"available":  stockErr.Available,
			"requested":  stockErr.Requested,
		}
	case errors.As(err, &creditErr):
		return map[string]any{
			"available": money(creditErr.Available),
			"requested": money(creditErr.Requested),
		}
	case errors.As(err, &minErr):
		return map[string]any{
			"minimum":   money(minErr.Minimum),
			"subtotal":  money(minErr.Subtotal),
			"shortfall": money(minErr.Shortfall),
		}
	case errors.As(err, &returnableErr):
		return map[string]any{
			"order_item_id": returnableErr.OrderItemID,
			"remaining":     returnableErr.Remaining,
			"requested":     returnableErr.Requested,
		}
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	defer r.Body.Close()

	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{
			Error:   "invalid_input",
			Message: "malformed request body: " + err.Error(),
		})
		return false
	}
	return true
}

func pathID(w http.ResponseWriter, r *http.Request, name string) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, name), 10, 64)
	if err != nil || id <= 0 {
		writeJSON(w, http.StatusBadRequest, errorResponse{
			Error:   "invalid_input",
			Message: "invalid " + name,
		})
		return 0, false
	}
	return id, true
}

func actorFrom(w http.ResponseWriter, r *http.Request) (model.Actor, bool) {
	actor, ok := middleware.ActorFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return model.Actor{}, false
	}
	return actor, true
}

// Healthz отвечает на проверку живости.
func (h *Handler) Healthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = w.Write([]byte("ok"))
}
