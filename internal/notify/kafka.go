package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/segmentio/kafka-go"

	"github.com/mmeshcher/ledger-system/internal/model"
)

// MessageWriter: подмножество kafka.Writer, используемое sink'ом.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaSink публикует уведомления в топик Kafka. Ключом сообщения служит пользователь,
// поэтому события одного пользователя попадают в одну партицию.
type KafkaSink struct {
	writer MessageWriter
}

// NewKafkaWriter создаёт writer для списка брокеров и топика.
func NewKafkaWriter(brokers []string, topic string) *kafka.Writer {
	return &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
	}
}

// NewKafkaSink создаёт sink поверх writer.
func NewKafkaSink(w MessageWriter) *KafkaSink {
	return &KafkaSink{writer: w}
}

// Name возвращает имя sink'а для логов и метрик.
func (s *KafkaSink) Name() string {
	return "kafka"
}

// Send публикует событие.
func (s *KafkaSink) Send(ctx context.Context, e model.OutboxEvent) error {
	value, err := json.Marshal(NewEnvelope(e))
	if err != nil {
		return fmt.Errorf("encode envelope: %w", err)
	}

	var key []byte
	if e.UserID != nil {
		key = []byte(strconv.FormatInt(*e.UserID, 10))
	}

	msg := kafka.Message{
		Key:   key,
		Value: value,
		Headers: []kafka.Header{
			{Key: "event_id", Value: []byte(e.ID)},
			{Key: "event_kind", Value: []byte(e.Kind)},
		},
	}
	if err := s.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("write kafka message: %w", err)
	}
	return nil
}

// Close закрывает writer.
func (s *KafkaSink) Close() error {
	return s.writer.Close()
}
