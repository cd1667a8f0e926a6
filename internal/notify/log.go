package notify

import (
	"context"

	"go.uber.org/zap"

	"github.com/mmeshcher/ledger-system/internal/model"
)

// LogSink пишет уведомления в лог. Используется, когда внешние получатели не настроены.
type LogSink struct {
	logger *zap.Logger
}

// NewLogSink создаёт sink поверх логгера.
func NewLogSink(logger *zap.Logger) *LogSink {
	return &LogSink{logger: logger}
}

// Name возвращает имя sink'а для логов и метрик.
func (s *LogSink) Name() string {
	return "log"
}

// Send записывает событие в лог.
func (s *LogSink) Send(ctx context.Context, e model.OutboxEvent) error {
	fields := []zap.Field{
		zap.String("event_id", e.ID),
		zap.String("kind", string(e.Kind)),
		zap.ByteString("payload", e.Payload),
	}
	if e.UserID != nil {
		fields = append(fields, zap.Int64("user_id", *e.UserID))
	}
	s.logger.Info("notification", fields...)
	return nil
}
