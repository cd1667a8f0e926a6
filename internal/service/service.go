// Package service реализует бизнес-логику движка заказов и возвратов.
package service

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/mmeshcher/ledger-system/internal/ledger"
	"github.com/mmeshcher/ledger-system/internal/metrics"
	"github.com/mmeshcher/ledger-system/internal/model"
	"github.com/mmeshcher/ledger-system/internal/repository"
)

// Store описывает контракт хранилища, используемый сервисом.
type Store interface {
	Close() error
	InTx(ctx context.Context, fn repository.TxFunc) error

	GetProduct(ctx context.Context, id int64) (*model.Product, error)
	GetDiscountCode(ctx context.Context, code string) (*model.DiscountCode, error)
	GetOrder(ctx context.Context, id int64) (*model.Order, error)
	GetOrderByNumber(ctx context.Context, number string) (*model.Order, error)
	ListOrdersByUser(ctx context.Context, userID int64) ([]model.Order, error)
	ListOrders(ctx context.Context, status *model.OrderStatus) ([]model.Order, error)
	GetReturn(ctx context.Context, id int64) (*model.Return, error)
	ListReturnsByUser(ctx context.Context, userID int64) ([]model.Return, error)
	ListReturns(ctx context.Context, status *model.ReturnStatus) ([]model.Return, error)
	GetCreditBalance(ctx context.Context, userID int64) (decimal.Decimal, error)
	ListCreditEntries(ctx context.Context, userID int64) ([]model.CreditEntry, error)
	ListEvents(ctx context.Context, filter model.EventFilter) ([]model.OutboxEvent, error)
	Stats(ctx context.Context, lowStockThreshold int64, recent int) (*model.Stats, error)
}

var (
	_ Store = (*repository.PostgresRepository)(nil)
	_ Store = (*repository.MemoryRepository)(nil)
)

// Notifier будит доставку уведомлений после фиксации транзакции.
type Notifier interface {
	Notify()
}

// Service содержит бизнес-логику движка заказов и возвратов.
type Service struct {
	store     Store
	inventory ledger.Inventory
	credit    *ledger.Credit
	notifier  Notifier
	logger    *zap.Logger
	metrics   *metrics.Metrics
	tracer    trace.Tracer
	lowStock  int64
	now       func() time.Time
	newID     func() string
}

// Option настраивает Service.
type Option func(*Service)

// WithNotifier задаёт получателя сигнала о новых уведомлениях.
func WithNotifier(n Notifier) Option {
	return func(s *Service) {
		s.notifier = n
	}
}

// WithMetrics включает метрики.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

// WithLowStockThreshold задаёт остаток, при достижении которого отправляется уведомление.
func WithLowStockThreshold(threshold int64) Option {
	return func(s *Service) {
		s.lowStock = threshold
	}
}

// WithClock подменяет источник времени.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		s.now = now
	}
}

// NewService создаёт сервис поверх хранилища.
func NewService(store Store, logger *zap.Logger, opts ...Option) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Service{
		store:     store,
		inventory: ledger.Inventory{},
		credit:    ledger.NewCredit(),
		logger:    logger,
		tracer:    otel.Tracer("github.com/mmeshcher/ledger-system/internal/service"),
		lowStock:  10,
		now:       time.Now,
		newID:     uuid.NewString,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Close закрывает ресурсы сервиса.
func (s *Service) Close() error {
	if s.store != nil {
		return s.store.Close()
	}
	return nil
}

// begin открывает span операции. Возвращённую функцию нужно вызвать через defer
// с адресом именованной ошибки.
func (s *Service) begin(ctx context.Context, op string, attrs ...attribute.KeyValue) (context.Context, func(*error)) {
	ctx, span := s.tracer.Start(ctx, "service."+op, trace.WithAttributes(attrs...))
	start := time.Now()

	return ctx, func(errp *error) {
		if err := *errp; err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, model.ErrorCode(err))
			if s.metrics != nil {
				s.metrics.Rejections.WithLabelValues(op, model.ErrorCode(err)).Inc()
			}
		}
		if s.metrics != nil {
			s.metrics.TxDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
		}
		span.End()
	}
}

// committed вызывается после успешной фиксации транзакции с уведомлениями.
func (s *Service) committed() {
	if s.notifier != nil {
		s.notifier.Notify()
	}
}

func (s *Service) countOrder(status model.OrderStatus) {
	if s.metrics != nil {
		s.metrics.Orders.WithLabelValues(string(status)).Inc()
	}
}

func (s *Service) countReturn(status model.ReturnStatus) {
	if s.metrics != nil {
		s.metrics.Returns.WithLabelValues(string(status)).Inc()
	}
}

func (s *Service) countCredit(cause model.CauseKind) {
	if s.metrics != nil {
		s.metrics.CreditEntries.WithLabelValues(string(cause)).Inc()
	}
}

// event описывает уведомление, записываемое в outbox.
type event struct {
	kind     model.EventKind
	userID   *int64
	orderID  *int64
	returnID *int64
	payload  any
}

func (s *Service) enqueue(ctx context.Context, tx repository.Tx, ev event) error {
	data, err := json.Marshal(ev.payload)
	if err != nil {
		return fmt.Errorf("encode %s payload: %w", ev.kind, err)
	}

	e := &model.OutboxEvent{
		ID:        s.newID(),
		Kind:      ev.kind,
		UserID:    ev.userID,
		OrderID:   ev.orderID,
		ReturnID:  ev.returnID,
		Payload:   data,
		CreatedAt: s.now().UTC(),
	}
	if err := tx.Enqueue(ctx, e); err != nil {
		return fmt.Errorf("enqueue %s: %w", ev.kind, err)
	}
	return nil
}
