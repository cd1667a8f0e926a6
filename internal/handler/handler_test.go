package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/mmeshcher/ledger-system/internal/middleware"
	"github.com/mmeshcher/ledger-system/internal/model"
	"github.com/mmeshcher/ledger-system/internal/repository"
)

type stubService struct {
	order    *model.Order
	orders   []model.Order
	orderErr error

	ret       *model.Return
	returns   []model.Return
	returnErr error

	balance   *model.CreditBalance
	entries   []model.CreditEntry
	creditErr error

	product  *model.Product
	products []model.Product
	preview  *model.DiscountPreview
	events   []model.OutboxEvent
	stats    *model.Stats
	adminErr error

	lastCreate  model.CreateOrderRequest
	lastResolve model.ResolveReturnRequest
	lastActor   model.Actor
	lastStatus  string
	lastNumber  string
	lastFilter  model.EventFilter
	lastUpdates []model.StockUpdate
	calls       int
}

func (s *stubService) CreateOrder(ctx context.Context, req model.CreateOrderRequest) (*model.Order, error) {
	s.calls++
	s.lastCreate = req
	return s.order, s.orderErr
}

func (s *stubService) CancelOrder(ctx context.Context, actor model.Actor, orderID int64) (*model.Order, error) {
	s.calls++
	s.lastActor = actor
	return s.order, s.orderErr
}

func (s *stubService) FulfillOrder(ctx context.Context, orderID, adminID int64) (*model.Order, error) {
	s.calls++
	return s.order, s.orderErr
}

func (s *stubService) GetOrder(ctx context.Context, actor model.Actor, orderID int64) (*model.Order, error) {
	s.calls++
	s.lastActor = actor
	return s.order, s.orderErr
}

func (s *stubService) GetOrderByNumber(ctx context.Context, actor model.Actor, number string) (*model.Order, error) {
	s.calls++
	s.lastActor = actor
	s.lastNumber = number
	return s.order, s.orderErr
}

func (s *stubService) ListOrders(ctx context.Context, userID int64) ([]model.Order, error) {
	s.calls++
	return s.orders, s.orderErr
}

func (s *stubService) ListAllOrders(ctx context.Context, status *model.OrderStatus) ([]model.Order, error) {
	s.calls++
	if status != nil {
		s.lastStatus = string(*status)
	}
	return s.orders, s.orderErr
}

func (s *stubService) ValidateDiscount(ctx context.Context, code string, subtotal decimal.Decimal) (*model.DiscountPreview, error) {
	s.calls++
	return s.preview, s.orderErr
}

func (s *stubService) SubmitReturn(ctx context.Context, req model.SubmitReturnRequest) (*model.Return, error) {
	s.calls++
	return s.ret, s.returnErr
}

func (s *stubService) ReviewReturn(ctx context.Context, returnID, adminID int64) (*model.Return, error) {
	s.calls++
	return s.ret, s.returnErr
}

func (s *stubService) ResolveReturn(ctx context.Context, req model.ResolveReturnRequest) (*model.Return, error) {
	s.calls++
	s.lastResolve = req
	return s.ret, s.returnErr
}

func (s *stubService) ConfirmRefund(ctx context.Context, returnID, adminID int64) (*model.Return, error) {
	s.calls++
	return s.ret, s.returnErr
}

func (s *stubService) GetReturn(ctx context.Context, actor model.Actor, returnID int64) (*model.Return, error) {
	s.calls++
	return s.ret, s.returnErr
}

func (s *stubService) ListReturnsByUser(ctx context.Context, userID int64) ([]model.Return, error) {
	s.calls++
	return s.returns, s.returnErr
}

func (s *stubService) ListReturns(ctx context.Context, status *model.ReturnStatus) ([]model.Return, error) {
	s.calls++
	return s.returns, s.returnErr
}

func (s *stubService) AdjustCredit(ctx context.Context, userID, adminID int64, amount decimal.Decimal, note string) (*model.CreditBalance, error) {
	s.calls++
	return s.balance, s.creditErr
}

func (s *stubService) GetCreditBalance(ctx context.Context, userID int64) (*model.CreditBalance, error) {
	s.calls++
	return s.balance, s.creditErr
}

func (s *stubService) ListCreditEntries(ctx context.Context, userID int64) ([]model.CreditEntry, error) {
	s.calls++
	return s.entries, s.creditErr
}

func (s *stubService) CorrectStock(ctx context.Context, productID, adminID, quantity int64) (*model.Product, error) {
	s.calls++
	return s.product, s.creditErr
}

func (s *stubService) CorrectStockBulk(ctx context.Context, adminID int64, updates []model.StockUpdate) ([]model.Product, error) {
	s.calls++
	s.lastUpdates = updates
	return s.products, s.adminErr
}

func (s *stubService) ListNotifications(ctx context.Context, filter model.EventFilter) ([]model.OutboxEvent, error) {
	s.calls++
	s.lastFilter = filter
	return s.events, s.adminErr
}

func (s *stubService) Stats(ctx context.Context) (*model.Stats, error) {
	s.calls++
	return s.stats, s.adminErr
}

type stubRenderer struct{}

func (stubRenderer) Render(o *model.Order) ([]byte, error) {
	return []byte("INVOICE " + o.Number), nil
}

func (stubRenderer) ContentType() string {
	return "text/plain; charset=utf-8"
}

type testServer struct {
	router http.Handler
	auth   *middleware.AuthMiddleware
}

func newTestServer(t *testing.T, svc Service) *testServer {
	t.Helper()

	auth := middleware.NewAuthMiddleware("test-secret")
	h := NewHandler(svc, zap.NewNop(), auth,
		WithInvoiceRenderer(stubRenderer{}),
		WithMetricsHandler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte("ledger_orders_total 1"))
		})),
	)
	return &testServer{router: h.SetupRouter(), auth: auth}
}

func (s *testServer) do(t *testing.T, method, path string, userID int64, role middleware.Role, body any) *httptest.ResponseRecorder {
	t.Helper()

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}

	req := httptest.NewRequest(method, path, reader)
	if userID != 0 {
		req.Header.Set("Authorization", "Bearer "+s.auth.Token(userID, role))
	}
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()

	var resp map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp
}

func testOrder() *model.Order {
	now := time.Date(2024, 3, 15, 12, 0, 0, 0, time.UTC)
	return &model.Order{
		ID:     10,
		Number: "RO-20240315-00000000011",
		UserID: 7,
		Status: model.OrderStatusPending,
		Items: []model.OrderItem{
			{ID: 11, ProductID: 3, Quantity: 5, UnitPrice: decimal.NewFromInt(100)},
		},
		Subtotal: decimal.NewFromInt(500),
		Discount: &model.DiscountSnapshot{
			Code:   "BULK15",
			Kind:   model.DiscountPercent,
			Value:  decimal.NewFromInt(15),
			Amount: decimal.NewFromInt(75),
		},
		Total:     decimal.NewFromInt(425),
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func TestCreateOrder_Success(t *testing.T) {
	svc := &stubService{order: testOrder()}
	srv := newTestServer(t, svc)

	rec := srv.do(t, http.MethodPost, "/api/orders", 7, middleware.RoleCustomer, map[string]any{
		"items":         []map[string]any{{"product_id": 3, "quantity": 5}},
		"discount_code": "bulk15",
		"apply_credit":  "2.50",
	})

	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, int64(7), svc.lastCreate.UserID)
	assert.Equal(t, "bulk15", svc.lastCreate.DiscountCode)
	assert.Equal(t, "2.50", svc.lastCreate.ApplyCredit.StringFixed(2))
	require.Len(t, svc.lastCreate.Items, 1)
	assert.Equal(t, int64(5), svc.lastCreate.Items[0].Quantity)

	var resp orderResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "425.00", resp.Total)
	assert.Equal(t, "75.00", resp.Discount.Amount)
	assert.Equal(t, "500.00", resp.Items[0].LineTotal)
	assert.Equal(t, "2024-03-15T12:00:00Z", resp.CreatedAt)
}

func TestCreateOrder_InsufficientStock(t *testing.T) {
	svc := &stubService{
		orderErr: fmt.Errorf("reserve: %w", &model.InsufficientStockError{ProductID: 3, Available: 4, Requested: 6}),
	}
	srv := newTestServer(t, svc)

	rec := srv.do(t, http.MethodPost, "/api/orders", 7, middleware.RoleCustomer, map[string]any{
		"items": []map[string]any{{"product_id": 3, "quantity": 6}},
	})

	require.Equal(t, http.StatusBadRequest, rec.Code)
	resp := decodeError(t, rec)
	assert.Equal(t, "insufficient_stock", resp["error"])
	details := resp["details"].(map[string]any)
	assert.EqualValues(t, 4, details["available"])
	assert.EqualValues(t, 6, details["requested"])
}

func TestCreateOrder_MalformedBody(t *testing.T) {
	svc := &stubService{}
	srv := newTestServer(t, svc)

	req := httptest.NewRequest(http.MethodPost, "/api/orders", bytes.NewReader([]byte("{not json")))
	req.Header.Set("Authorization", "Bearer "+srv.auth.Token(7, middleware.RoleCustomer))
	rec := httptest.NewRecorder()
	srv.router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Zero(t, svc.calls)
}

func TestUnauthorized(t *testing.T) {
	svc := &stubService{}
	srv := newTestServer(t, svc)

	rec := srv.do(t, http.MethodGet, "/api/orders", 0, "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Zero(t, svc.calls)
}

func TestAdminRoutes_RequireAdmin(t *testing.T) {
	svc := &stubService{ret: &model.Return{ID: 5, Status: model.ReturnApprovedCredit}}
	srv := newTestServer(t, svc)

	rec := srv.do(t, http.MethodPut, "/api/admin/returns/5/resolve", 7, middleware.RoleCustomer, map[string]any{
		"resolution": "store_credit",
	})
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Zero(t, svc.calls)
}

func TestGetOrders_Empty(t *testing.T) {
	srv := newTestServer(t, &stubService{})

	rec := srv.do(t, http.MethodGet, "/api/orders", 7, middleware.RoleCustomer, nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
}

func TestGetOrder_NotFound(t *testing.T) {
	srv := newTestServer(t, &stubService{orderErr: repository.ErrOrderNotFound})

	rec := srv.do(t, http.MethodGet, "/api/orders/99", 7, middleware.RoleCustomer, nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "not_found", decodeError(t, rec)["error"])
}

func TestGetOrder_InvalidID(t *testing.T) {
	svc := &stubService{}
	srv := newTestServer(t, svc)

	rec := srv.do(t, http.MethodGet, "/api/orders/abc", 7, middleware.RoleCustomer, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Zero(t, svc.calls)
}

func TestGetInvoice(t *testing.T) {
	svc := &stubService{order: testOrder()}
	srv := newTestServer(t, svc)

	rec := srv.do(t, http.MethodGet, "/api/orders/10/invoice", 7, middleware.RoleCustomer, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "INVOICE RO-20240315-00000000011", rec.Body.String())
	assert.Equal(t, int64(7), svc.lastActor.UserID)
}

func TestResolveReturn(t *testing.T) {
	amount := decimal.RequireFromString("12.5")
	resolution := model.ResolutionPartialCredit

	tests := []struct {
		name       string
		body       map[string]any
		err        error
		wantStatus int
		wantCode   string
		wantCalled bool
	}{
		{
			name:       "partial credit",
			body:       map[string]any{"resolution": "partial_credit", "amount": "12.50", "notes": "scuffed"},
			wantStatus: http.StatusOK,
			wantCalled: true,
		},
		{
			name:       "already resolved",
			body:       map[string]any{"resolution": "store_credit"},
			err:        fmt.Errorf("%w: return is approved_credit", model.ErrReturnTerminal),
			wantStatus: http.StatusConflict,
			wantCode:   "return_terminal",
			wantCalled: true,
		},
		{
			name: "replacement out of stock",
			body: map[string]any{"resolution": "replacement"},
			err: &model.ReplacementStockError{
				Stock: &model.InsufficientStockError{ProductID: 3, Available: 0, Requested: 1},
			},
			wantStatus: http.StatusUnprocessableEntity,
			wantCode:   "insufficient_stock_for_replacement",
			wantCalled: true,
		},
		{
			name:       "denied without notes",
			body:       map[string]any{"resolution": "denied"},
			err:        model.ErrNotesRequired,
			wantStatus: http.StatusBadRequest,
			wantCode:   "notes_required",
			wantCalled: true,
		},
		{
			name:       "unknown resolution",
			body:       map[string]any{"resolution": "refund_cash"},
			wantStatus: http.StatusBadRequest,
			wantCode:   "invalid_input",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := &stubService{
				ret: &model.Return{
					ID:               5,
					Status:           model.ReturnApprovedPartialCredit,
					Resolution:       &resolution,
					ResolutionAmount: &amount,
				},
				returnErr: tt.err,
			}
			srv := newTestServer(t, svc)

			rec := srv.do(t, http.MethodPut, "/api/admin/returns/5/resolve", 1, middleware.RoleAdmin, tt.body)

			require.Equal(t, tt.wantStatus, rec.Code)
			assert.Equal(t, tt.wantCalled, svc.calls > 0)
			if tt.wantCode != "" {
				assert.Equal(t, tt.wantCode, decodeError(t, rec)["error"])
			}
			if tt.wantStatus == http.StatusOK {
				assert.Equal(t, int64(5), svc.lastResolve.ReturnID)
				assert.Equal(t, int64(1), svc.lastResolve.AdminID)
				require.NotNil(t, svc.lastResolve.Amount)
				assert.Equal(t, "12.50", svc.lastResolve.Amount.StringFixed(2))

				var resp returnResponse
				require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
				assert.Equal(t, "12.50", *resp.ResolutionAmount)
			}
		})
	}
}

func TestConfirmRefund_AlreadyConfirmed(t *testing.T) {
	srv := newTestServer(t, &stubService{returnErr: model.ErrRefundConfirmed})

	rec := srv.do(t, http.MethodPost, "/api/admin/returns/5/confirm-refund", 1, middleware.RoleAdmin, nil)
	require.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "refund_confirmed", decodeError(t, rec)["error"])
}

func TestListAllOrders_StatusFilter(t *testing.T) {
	svc := &stubService{orders: []model.Order{*testOrder()}}
	srv := newTestServer(t, svc)

	rec := srv.do(t, http.MethodGet, "/api/admin/orders?status=pending", 1, middleware.RoleAdmin, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "pending", svc.lastStatus)

	rec = srv.do(t, http.MethodGet, "/api/admin/orders?status=shipped", 1, middleware.RoleAdmin, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAdjustCredit_InsufficientCredit(t *testing.T) {
	svc := &stubService{creditErr: &model.InsufficientCreditError{
		Available: decimal.Zero,
		Requested: decimal.NewFromInt(5),
	}}
	srv := newTestServer(t, svc)

	rec := srv.do(t, http.MethodPost, "/api/admin/users/7/credit", 1, middleware.RoleAdmin, map[string]any{
		"amount": -5,
		"note":   "chargeback",
	})

	require.Equal(t, http.StatusBadRequest, rec.Code)
	resp := decodeError(t, rec)
	assert.Equal(t, "insufficient_credit", resp["error"])
	details := resp["details"].(map[string]any)
	assert.Equal(t, "0.00", details["available"])
	assert.Equal(t, "5.00", details["requested"])
}

func TestCorrectStock_RequiresQuantity(t *testing.T) {
	svc := &stubService{product: &model.Product{ID: 3, SKU: "VIAL", Stock: 40}}
	srv := newTestServer(t, svc)

	rec := srv.do(t, http.MethodPut, "/api/admin/products/3/stock", 1, middleware.RoleAdmin, map[string]any{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Zero(t, svc.calls)

	rec = srv.do(t, http.MethodPut, "/api/admin/products/3/stock", 1, middleware.RoleAdmin, map[string]any{"quantity": 40})
	require.Equal(t, http.StatusOK, rec.Code)

	var resp productStockResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, int64(40), resp.Stock)
}

func TestGetOrderByNumber(t *testing.T) {
	svc := &stubService{order: testOrder()}
	srv := newTestServer(t, svc)

	rec := srv.do(t, http.MethodGet, "/api/orders/by-number/RO-20240315-00000000011", 7, middleware.RoleCustomer, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "RO-20240315-00000000011", svc.lastNumber)
	assert.Equal(t, int64(7), svc.lastActor.UserID)

	var resp orderResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, int64(10), resp.ID)

	svc.orderErr = fmt.Errorf("%w: malformed order number", model.ErrInvalidInput)
	rec = srv.do(t, http.MethodGet, "/api/orders/by-number/RO-1", 7, middleware.RoleCustomer, nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "invalid_input", decodeError(t, rec)["error"])

	svc.orderErr = repository.ErrOrderNotFound
	rec = srv.do(t, http.MethodGet, "/api/orders/by-number/RO-20240315-00000000029", 7, middleware.RoleCustomer, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCorrectStockBulk(t *testing.T) {
	svc := &stubService{products: []model.Product{
		{ID: 3, SKU: "VIAL", Stock: 40},
		{ID: 4, SKU: "CAP", Stock: 0},
	}}
	srv := newTestServer(t, svc)

	rec := srv.do(t, http.MethodPost, "/api/admin/products/stock", 7, middleware.RoleCustomer, map[string]any{})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = srv.do(t, http.MethodPost, "/api/admin/products/stock", 1, middleware.RoleAdmin, map[string]any{
		"updates": []map[string]any{
			{"product_id": 3, "stock": 40},
			{"product_id": 4, "stock": 0},
		},
	})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []model.StockUpdate{{ProductID: 3, Stock: 40}, {ProductID: 4, Stock: 0}}, svc.lastUpdates)

	var resp []productStockResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp, 2)
	assert.Equal(t, "CAP", resp[1].SKU)

	svc.adminErr = fmt.Errorf("%w: product 99", repository.ErrProductNotFound)
	rec = srv.do(t, http.MethodPost, "/api/admin/products/stock", 1, middleware.RoleAdmin, map[string]any{
		"updates": []map[string]any{{"product_id": 99, "stock": 1}},
	})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestListNotifications(t *testing.T) {
	created := time.Date(2024, 3, 15, 12, 0, 0, 0, time.UTC)
	orderID := int64(10)
	svc := &stubService{events: []model.OutboxEvent{{
		ID:        "evt-1",
		Kind:      model.EventOrderCreated,
		OrderID:   &orderID,
		Payload:   []byte(`{"number":"RO-20240315-00000000011"}`),
		Attempts:  2,
		LastError: "broker unavailable",
		CreatedAt: created,
	}}}
	srv := newTestServer(t, svc)

	rec := srv.do(t, http.MethodGet, "/api/admin/notifications?status=pending&limit=5", 1, middleware.RoleAdmin, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, model.EventFilter{PendingOnly: true, Limit: 5}, svc.lastFilter)

	var resp []map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp, 1)
	assert.Equal(t, "order_created", resp[0]["kind"])
	assert.Equal(t, float64(10), resp[0]["order_id"])
	assert.Equal(t, "RO-20240315-00000000011", resp[0]["payload"].(map[string]any)["number"])
	assert.NotContains(t, resp[0], "delivered_at")

	tests := []struct {
		name  string
		query string
	}{
		{"unknown status", "?status=failed"},
		{"non-numeric limit", "?limit=ten"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			calls := svc.calls
			rec := srv.do(t, http.MethodGet, "/api/admin/notifications"+tt.query, 1, middleware.RoleAdmin, nil)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Equal(t, calls, svc.calls)
		})
	}
}

func TestStats(t *testing.T) {
	svc := &stubService{stats: &model.Stats{
		TotalOrders: 3,
		Revenue:     decimal.RequireFromString("1250.5"),
		OrdersByStatus: map[model.OrderStatus]int64{
			model.OrderStatusPending:   2,
			model.OrderStatusCancelled: 1,
		},
		ReturnsByStatus:   map[model.ReturnStatus]int64{model.ReturnSubmitted: 1},
		ActiveProducts:    4,
		LowStock:          []model.Product{{ID: 4, SKU: "CAP", Stock: 2}},
		LowStockThreshold: 5,
		RecentOrders:      []model.Order{*testOrder()},
	}}
	srv := newTestServer(t, svc)

	rec := srv.do(t, http.MethodGet, "/api/admin/stats", 7, middleware.RoleCustomer, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = srv.do(t, http.MethodGet, "/api/admin/stats", 1, middleware.RoleAdmin, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp statsResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, int64(3), resp.TotalOrders)
	assert.Equal(t, "1250.50", resp.Revenue)
	assert.Equal(t, int64(2), resp.OrdersByStatus["pending"])
	assert.Equal(t, int64(1), resp.ReturnsByStatus["submitted"])
	require.Len(t, resp.LowStock, 1)
	assert.Equal(t, "CAP", resp.LowStock[0].SKU)
	require.Len(t, resp.RecentOrders, 1)
	assert.Equal(t, "RO-20240315-00000000011", resp.RecentOrders[0].Number)
}

func TestWriteError_HidesInternalErrors(t *testing.T) {
	srv := newTestServer(t, &stubService{creditErr: errors.New("connection refused")})

	rec := srv.do(t, http.MethodGet, "/api/credit", 7, middleware.RoleCustomer, nil)
	require.Equal(t, http.StatusInternalServerError, rec.Code)
	resp := decodeError(t, rec)
	assert.Equal(t, "internal", resp["error"])
	assert.NotContains(t, resp["message"], "connection refused")
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{model.ErrInvalidItem, http.StatusBadRequest},
		{&model.BelowMinimumError{}, http.StatusBadRequest},
		{&model.ExceedsReturnableError{}, http.StatusBadRequest},
		{model.ErrOrderNotFulfilled, http.StatusBadRequest},
		{model.ErrDiscountExpired, http.StatusBadRequest},
		{repository.ErrReturnNotFound, http.StatusNotFound},
		{model.ErrIllegalTransition, http.StatusConflict},
		{model.ErrTransient, http.StatusServiceUnavailable},
		{context.DeadlineExceeded, http.StatusServiceUnavailable},
		{errors.New("boom"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.err.Error(), func(t *testing.T) {
			assert.Equal(t, tt.want, statusFor(tt.err))
		})
	}
}

func TestHealthzAndMetrics(t *testing.T) {
	srv := newTestServer(t, &stubService{})

	rec := srv.do(t, http.MethodGet, "/healthz", 0, "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", rec.Body.String())

	rec = srv.do(t, http.MethodGet, "/metrics", 0, "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "ledger_orders_total")
}
