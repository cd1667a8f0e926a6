package notify

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/mmeshcher/ledger-system/internal/metrics"
	"github.com/mmeshcher/ledger-system/internal/model"
)

type stubStore struct {
	mu        sync.Mutex
	events    []model.OutboxEvent
	delivered map[string]bool
	failed    map[string]string
}

func newStubStore(events ...model.OutboxEvent) *stubStore {
	return &stubStore{
		events:    events,
		delivered: map[string]bool{},
		failed:    map[string]string{},
	}
}

func (s *stubStore) PendingEvents(ctx context.Context, limit int) ([]model.OutboxEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var res []model.OutboxEvent
	for _, e := range s.events {
		if !s.delivered[e.ID] && len(res) < limit {
			res = append(res, e)
		}
	}
	return res, nil
}

func (s *stubStore) MarkEventDelivered(ctx context.Context, id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.delivered[id] = true
	return nil
}

func (s *stubStore) MarkEventFailed(ctx context.Context, id string, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failed[id] = reason
	return nil
}

type stubSink struct {
	name string
	err  error
	sent []string
}

func (s *stubSink) Name() string { return s.name }

func (s *stubSink) Send(ctx context.Context, e model.OutboxEvent) error {
	s.sent = append(s.sent, e.ID)
	return s.err
}

func TestDispatcher_DeliversToAllSinks(t *testing.T) {
	store := newStubStore(testEvent("a"), testEvent("b"))
	first := &stubSink{name: "first"}
	second := &stubSink{name: "second"}
	m := metrics.New()

	d := NewDispatcher(store, []Sink{first, second}, zap.NewNop(), WithMetrics(m))

	n, err := d.Drain(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, []string{"a", "b"}, first.sent)
	assert.Equal(t, []string{"a", "b"}, second.sent)
	assert.True(t, store.delivered["a"])
	assert.True(t, store.delivered["b"])

	n, err = d.Drain(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestDispatcher_FailureKeepsEventPending(t *testing.T) {
	store := newStubStore(testEvent("a"))
	ok := &stubSink{name: "ok"}
	broken := &stubSink{name: "broken", err: errors.New("connection refused")}

	d := NewDispatcher(store, []Sink{ok, broken}, zap.NewNop())

	n, err := d.Drain(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.False(t, store.delivered["a"])
	assert.Contains(t, store.failed["a"], "broken: connection refused")

	broken.err = nil
	n, err = d.Drain(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	// Повторная доставка в уже принявший sink допустима.
	assert.Equal(t, []string{"a", "a"}, ok.sent)
}

func TestDispatcher_DrainsBacklogInOneWake(t *testing.T) {
	var events []model.OutboxEvent
	for _, id := range []string{"a", "b", "c", "d", "e"} {
		events = append(events, testEvent(id))
	}
	store := newStubStore(events...)
	sink := &stubSink{name: "s"}

	d := NewDispatcher(store, []Sink{sink}, zap.NewNop(), WithInterval(time.Hour))
	d.batchSize = 2

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- d.Run(ctx) }()

	d.Notify()

	require.Eventually(t, func() bool {
		store.mu.Lock()
		defer store.mu.Unlock()
		return len(store.delivered) == len(events)
	}, time.Second, 10*time.Millisecond)

	cancel()
	require.NoError(t, <-done)
}

func TestDispatcher_DrainStopsOnFailedBatch(t *testing.T) {
	store := newStubStore(testEvent("a"), testEvent("b"), testEvent("c"))
	broken := &stubSink{name: "broken", err: errors.New("timeout")}

	d := NewDispatcher(store, []Sink{broken}, zap.NewNop())
	d.batchSize = 2

	n, err := d.Drain(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Equal(t, []string{"a", "b"}, broken.sent)
}

func TestDispatcher_RunWakesOnNotify(t *testing.T) {
	store := newStubStore(testEvent("a"))
	sink := &stubSink{name: "s"}

	d := NewDispatcher(store, []Sink{sink}, zap.NewNop(), WithInterval(time.Hour))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- d.Run(ctx) }()

	d.Notify()
	d.Notify()

	require.Eventually(t, func() bool {
		store.mu.Lock()
		defer store.mu.Unlock()
		return store.delivered["a"]
	}, time.Second, 10*time.Millisecond)

	cancel()
	assert.NoError(t, <-done)
}

type stubWriter struct {
	msgs []kafka.Message
	err  error
}

func (w *stubWriter) WriteMessages(ctx context.Context, msgs ...kafka.Message) error {
	w.msgs = append(w.msgs, msgs...)
	return w.err
}

func (w *stubWriter) Close() error { return nil }

func TestKafkaSink_Send(t *testing.T) {
	w := &stubWriter{}
	sink := NewKafkaSink(w)

	require.NoError(t, sink.Send(context.Background(), testEvent("e-1")))
	require.Len(t, w.msgs, 1)
	assert.Equal(t, "7", string(w.msgs[0].Key))
	assert.Contains(t, string(w.msgs[0].Value), `"kind":"order_created"`)
	assert.Equal(t, "event_id", w.msgs[0].Headers[0].Key)

	w.err = errors.New("leader not available")
	assert.Error(t, sink.Send(context.Background(), testEvent("e-2")))
}

func TestLogSink_Send(t *testing.T) {
	assert.NoError(t, NewLogSink(zap.NewNop()).Send(context.Background(), testEvent("e-1")))
}
