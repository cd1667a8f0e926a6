package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/mmeshcher/ledger-system/internal/model"
)

// Envelope: формат уведомления для внешних получателей.
type Envelope struct {
	ID        string          `json:"id"`
	Kind      model.EventKind `json:"kind"`
	UserID    *int64          `json:"user_id,omitempty"`
	OrderID   *int64          `json:"order_id,omitempty"`
	ReturnID  *int64          `json:"return_id,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
	Payload   json.RawMessage `json:"payload"`
}

// NewEnvelope оборачивает событие outbox.
func NewEnvelope(e model.OutboxEvent) Envelope {
	payload := json.RawMessage(e.Payload)
	if len(payload) == 0 {
		payload = json.RawMessage(`{}`)
	}
	return Envelope{
		ID:        e.ID,
		Kind:      e.Kind,
		UserID:    e.UserID,
		OrderID:   e.OrderID,
		ReturnID:  e.ReturnID,
		CreatedAt: e.CreatedAt,
		Payload:   payload,
	}
}

// WebhookSink отправляет уведомления POST-запросом на внешний адрес,
// например в сервис рассылки email/SMS.
type WebhookSink struct {
	url        string
	httpClient *http.Client
}

// NewWebhookSink создаёт sink для указанного адреса.
func NewWebhookSink(url string) *WebhookSink {
	url = strings.TrimRight(url, "/")
	if !strings.HasPrefix(url, "http://") && !strings.HasPrefix(url, "https://") {
		url = "http://" + url
	}
	return &WebhookSink{
		url: url,
		httpClient: &http.Client{
			Timeout: 5 * time.Second,
		},
	}
}

// Name возвращает имя sink'а для логов и метрик.
func (s *WebhookSink) Name() string {
	return "webhook"
}

// Send отправляет событие. Ответ 429 превращается в *RetryAfterError.
func (s *WebhookSink) Send(ctx context.Context, e model.OutboxEvent) error {
	body, err := json.Marshal(NewEnvelope(e))
	if err != nil {
		return fmt.Errorf("encode envelope: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Idempotency-Key", e.ID)

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode == http.StatusTooManyRequests {
		retryAfter := time.Duration(0)
		if v := resp.Header.Get("Retry-After"); v != "" {
			if seconds, parseErr := strconv.Atoi(v); parseErr == nil {
				retryAfter = time.Duration(seconds) * time.Second
			}
		}
		return &RetryAfterError{Delay: retryAfter}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("unexpected status: %d", resp.StatusCode)
	}

	return nil
}
