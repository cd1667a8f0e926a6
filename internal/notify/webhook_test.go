package notify

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/mmeshcher/ledger-system/internal/model"
)

func testEvent(id string) model.OutboxEvent {
	return model.OutboxEvent{
		ID:        id,
		Kind:      model.EventOrderCreated,
		UserID:    model.Int64Ptr(7),
		OrderID:   model.Int64Ptr(11),
		Payload:   []byte(`{"number":"RO-20260101-1234"}`),
		CreatedAt: time.Date(2026, 1, 1, 10, 0, 0, 0, time.UTC),
	}
}

func TestWebhookSink_OK(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Fatalf("method = %s, want POST", r.Method)
		}
		if got := r.Header.Get("Idempotency-Key"); got != "e-1" {
			t.Fatalf("Idempotency-Key = %q, want e-1", got)
		}

		var env Envelope
		if err := json.NewDecoder(r.Body).Decode(&env); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if env.Kind != model.EventOrderCreated || env.OrderID == nil || *env.OrderID != 11 {
			t.Fatalf("unexpected envelope: %+v", env)
		}
		if string(env.Payload) != `{"number":"RO-20260101-1234"}` {
			t.Fatalf("payload = %s", env.Payload)
		}
		w.WriteHeader(http.StatusAccepted)
	}))
	defer ts.Close()

	sink := NewWebhookSink(ts.URL)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	if err := sink.Send(ctx, testEvent("e-1")); err != nil {
		t.Fatalf("Send error: %v", err)
	}
}

func TestWebhookSink_TooManyRequests(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "5")
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer ts.Close()

	sink := NewWebhookSink(ts.URL)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	err := sink.Send(ctx, testEvent("e-1"))
	var retry *RetryAfterError
	if !errors.As(err, &retry) {
		t.Fatalf("expected RetryAfterError, got %v", err)
	}
	if retry.Delay < 5*time.Second {
		t.Fatalf("Delay = %v, want at least 5s", retry.Delay)
	}
}

func TestWebhookSink_ServerError(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer ts.Close()

	sink := NewWebhookSink(ts.URL)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	if err := sink.Send(ctx, testEvent("e-1")); err == nil {
		t.Fatalf("expected error for 500")
	}
}
