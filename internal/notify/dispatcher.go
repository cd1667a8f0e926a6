// Package notify доставляет уведомления из outbox во внешние системы.
// События записываются в outbox в той же транзакции, что и изменение состояния,
// а Dispatcher отправляет их после фиксации. Доставка выполняется не менее
// одного раза: получатели должны быть готовы к дубликатам.
package notify

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/mmeshcher/ledger-system/internal/metrics"
	"github.com/mmeshcher/ledger-system/internal/model"
)

const defaultBatchSize = 100

// Store описывает доступ к outbox.
type Store interface {
	PendingEvents(ctx context.Context, limit int) ([]model.OutboxEvent, error)
	MarkEventDelivered(ctx context.Context, id string, at time.Time) error
	MarkEventFailed(ctx context.Context, id string, reason string) error
}

// Sink доставляет уведомление в одну внешнюю систему.
type Sink interface {
	Name() string
	Send(ctx context.Context, e model.OutboxEvent) error
}

// RetryAfterError сообщает, что получатель просит повторить доставку позже.
type RetryAfterError struct {
	Delay time.Duration
}

func (e *RetryAfterError) Error() string {
	return fmt.Sprintf("retry after %s", e.Delay)
}

// Dispatcher периодически вычитывает outbox и отправляет события во все sink'и.
type Dispatcher struct {
	store     Store
	sinks     []Sink
	logger    *zap.Logger
	metrics   *metrics.Metrics
	limiter   *rate.Limiter
	interval  time.Duration
	batchSize int
	now       func() time.Time
	wake      chan struct{}
}

// Option настраивает Dispatcher.
type Option func(*Dispatcher)

// WithInterval задаёт период опроса outbox.
func WithInterval(d time.Duration) Option {
	return func(disp *Dispatcher) {
		if d > 0 {
			disp.interval = d
		}
	}
}

// WithRate ограничивает число отправок в секунду. Ноль снимает ограничение.
func WithRate(perSecond float64) Option {
	return func(disp *Dispatcher) {
		if perSecond <= 0 {
			disp.limiter = rate.NewLimiter(rate.Inf, 0)
			return
		}
		disp.limiter = rate.NewLimiter(rate.Limit(perSecond), int(perSecond)+1)
	}
}

// WithMetrics включает учёт доставок в метриках.
func WithMetrics(m *metrics.Metrics) Option {
	return func(disp *Dispatcher) {
		disp.metrics = m
	}
}

// NewDispatcher создаёт диспетчер уведомлений.
func NewDispatcher(store Store, sinks []Sink, logger *zap.Logger, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		store:     store,
		sinks:     sinks,
		logger:    logger,
		limiter:   rate.NewLimiter(rate.Inf, 0),
		interval:  time.Second,
		batchSize: defaultBatchSize,
		now:       time.Now,
		wake:      make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Notify будит диспетчер после фиксации транзакции. Не блокируется.
func (d *Dispatcher) Notify() {
	select {
	case d.wake <- struct{}{}:
	default:
	}
}

// Run обрабатывает outbox до отмены контекста.
func (d *Dispatcher) Run(ctx context.Context) error {
	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		case <-d.wake:
		}

		if _, err := d.Drain(ctx); err != nil && ctx.Err() == nil {
			d.logger.Error("drain outbox failed", zap.Error(err))
		}
	}
}

// Drain отправляет недоставленные события пачками и возвращает число доставленных.
// Следующая пачка запрашивается, только если предыдущая была полной и ушла целиком,
// иначе оставшееся ждёт следующего тика.
func (d *Dispatcher) Drain(ctx context.Context) (int, error) {
	total := 0
	for {
		n, err := d.drainBatch(ctx)
		total += n
		if err != nil || n < d.batchSize {
			return total, err
		}
	}
}

func (d *Dispatcher) drainBatch(ctx context.Context) (int, error) {
	events, err := d.store.PendingEvents(ctx, d.batchSize)
	if err != nil {
		return 0, fmt.Errorf("load pending events: %w", err)
	}

	delivered := 0
	for _, e := range events {
		if err := d.limiter.Wait(ctx); err != nil {
			return delivered, err
		}

		sendErr := d.deliver(ctx, e)
		if sendErr == nil {
			if err := d.store.MarkEventDelivered(ctx, e.ID, d.now().UTC()); err != nil {
				return delivered, fmt.Errorf("mark event %s delivered: %w", e.ID, err)
			}
			delivered++
			continue
		}

		d.logger.Warn("notification delivery failed",
			zap.String("event_id", e.ID),
			zap.String("kind", string(e.Kind)),
			zap.Int("attempt", e.Attempts+1),
			zap.Error(sendErr),
		)
		if err := d.store.MarkEventFailed(ctx, e.ID, sendErr.Error()); err != nil {
			return delivered, fmt.Errorf("mark event %s failed: %w", e.ID, err)
		}

		var retryAfter *RetryAfterError
		if errors.As(sendErr, &retryAfter) && retryAfter.Delay > 0 {
			timer := time.NewTimer(retryAfter.Delay)
			select {
			case <-ctx.Done():
				timer.Stop()
				return delivered, ctx.Err()
			case <-timer.C:
			}
			return delivered, nil
		}
	}

	return delivered, nil
}

// deliver отправляет событие во все sink'и. Ошибка одного sink'а не мешает остальным,
// событие считается доставленным, только если приняли все.
func (d *Dispatcher) deliver(ctx context.Context, e model.OutboxEvent) error {
	var errs []error
	for _, s := range d.sinks {
		err := s.Send(ctx, e)
		d.count(s.Name(), err)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", s.Name(), err))
		}
	}
	return errors.Join(errs...)
}

func (d *Dispatcher) count(sink string, err error) {
	if d.metrics == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	d.metrics.Notifications.WithLabelValues(sink, result).Inc()
}
