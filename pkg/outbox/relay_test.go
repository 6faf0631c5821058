package outbox

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockProducer struct {
	mock.Mock
}

func (m *mockProducer) WriteMessages(ctx context.Context, msgs ...kafka.Message) error {
	args := m.Called(ctx, msgs)
	return args.Error(0)
}

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestRelay_FlushDispatchesPendingEvents(t *testing.T) {
	ctx := context.Background()
	st := NewMemoryStore()
	require.NoError(t, st.Record(ctx, Event{AggregateType: "sale", AggregateID: "s1", Type: "SaleRecorded", Payload: []byte(`{}`)}))
	require.NoError(t, st.Record(ctx, Event{AggregateType: "sale", AggregateID: "s2", Type: "SaleShipped", Payload: []byte(`{}`), Traceparent: "00-abc-def-01"}))

	producer := new(mockProducer)
	producer.On("WriteMessages", ctx, mock.MatchedBy(func(msgs []kafka.Message) bool {
		return len(msgs) == 1 && string(msgs[0].Key) == "s1" && headerValue(msgs[0].Headers, HeaderEventType) == "SaleRecorded"
	})).Return(nil).Once()
	producer.On("WriteMessages", ctx, mock.MatchedBy(func(msgs []kafka.Message) bool {
		return len(msgs) == 1 && string(msgs[0].Key) == "s2" && headerValue(msgs[0].Headers, "traceparent") == "00-abc-def-01"
	})).Return(nil).Once()

	relay := NewRelay(discard(), st, NewDispatcher(discard(), producer, "commerce.events"), "test-relay")
	sent, err := relay.Flush(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, sent)
	producer.AssertExpectations(t)

	for _, ev := range st.Events() {
		assert.Equal(t, StatusSent, ev.Status)
	}

	sent, err = relay.Flush(ctx)
	require.NoError(t, err)
	assert.Zero(t, sent)
}

func TestRelay_RetriesFailedDispatchThenSends(t *testing.T) {
	ctx := context.Background()
	st := NewMemoryStore()
	require.NoError(t, st.Record(ctx, Event{AggregateID: "s1", Type: "SaleRecorded", Payload: []byte(`{}`)}))

	producer := new(mockProducer)
	producer.On("WriteMessages", ctx, mock.Anything).Return(errors.New("broker down")).Once()
	producer.On("WriteMessages", ctx, mock.Anything).Return(nil).Once()

	relay := NewRelay(discard(), st, NewDispatcher(discard(), producer, "commerce.events"), "test-relay",
		WithRetryPolicy(RetryPolicy{MaxAttempts: 3}))

	sent, err := relay.Flush(ctx)
	require.NoError(t, err)
	assert.Zero(t, sent)

	events := st.Events()
	require.Len(t, events, 1)
	assert.Equal(t, StatusPending, events[0].Status)
	require.NotNil(t, events[0].LastError)
	assert.Equal(t, "broker down", *events[0].LastError)
	assert.Equal(t, 1, events[0].RetryCount)

	sent, err = relay.Flush(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, sent)
	assert.Equal(t, StatusSent, st.Events()[0].Status)
	producer.AssertExpectations(t)
}

func TestRelay_BackoffHoldsEventBack(t *testing.T) {
	ctx := context.Background()
	clock := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	now := func() time.Time { return clock }

	st := NewMemoryStore()
	st.now = now
	require.NoError(t, st.Record(ctx, Event{AggregateID: "s1", Type: "SaleRecorded", Payload: []byte(`{}`)}))

	producer := new(mockProducer)
	producer.On("WriteMessages", ctx, mock.Anything).Return(errors.New("broker down")).Once()
	producer.On("WriteMessages", ctx, mock.Anything).Return(nil).Once()

	relay := NewRelay(discard(), st, NewDispatcher(discard(), producer, "commerce.events"), "test-relay",
		WithRetryPolicy(RetryPolicy{MaxAttempts: 5, Base: time.Hour, Max: 4 * time.Hour}))
	relay.now = now

	_, err := relay.Flush(ctx)
	require.NoError(t, err)
	assert.Equal(t, clock.Add(time.Hour), st.Events()[0].AvailableAt)

	clock = clock.Add(30 * time.Minute)
	sent, err := relay.Flush(ctx)
	require.NoError(t, err)
	assert.Zero(t, sent)
	producer.AssertNumberOfCalls(t, "WriteMessages", 1)

	clock = clock.Add(time.Hour)
	sent, err = relay.Flush(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, sent)
	producer.AssertExpectations(t)
}

func TestRelay_MarksFailedOnceAttemptsRunOut(t *testing.T) {
	ctx := context.Background()
	st := NewMemoryStore()
	require.NoError(t, st.Record(ctx, Event{AggregateID: "s1", Type: "SaleRecorded", Payload: []byte(`{}`)}))

	producer := new(mockProducer)
	producer.On("WriteMessages", ctx, mock.Anything).Return(errors.New("broker down")).Twice()

	relay := NewRelay(discard(), st, NewDispatcher(discard(), producer, "commerce.events"), "test-relay",
		WithRetryPolicy(RetryPolicy{MaxAttempts: 2}))

	for i := 0; i < 3; i++ {
		sent, err := relay.Flush(ctx)
		require.NoError(t, err)
		assert.Zero(t, sent)
	}

	events := st.Events()
	require.Len(t, events, 1)
	assert.Equal(t, StatusFailed, events[0].Status)
	assert.Equal(t, 2, events[0].RetryCount)
	producer.AssertExpectations(t)
}

type leaseSpy struct {
	*MemoryStore
	extended [][]int64
}

func (s *leaseSpy) ExtendLease(ctx context.Context, relayID string, ids []int64, lease time.Duration) error {
	s.extended = append(s.extended, ids)
	return s.MemoryStore.ExtendLease(ctx, relayID, ids, lease)
}

func TestRelay_ExtendsLeaseDuringSlowBatch(t *testing.T) {
	ctx := context.Background()
	clock := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	now := func() time.Time { return clock }

	st := &leaseSpy{MemoryStore: NewMemoryStore()}
	st.now = now
	for _, id := range []string{"s1", "s2", "s3"} {
		require.NoError(t, st.Record(ctx, Event{AggregateID: id, Type: "SaleRecorded", Payload: []byte(`{}`)}))
	}

	producer := new(mockProducer)
	producer.On("WriteMessages", ctx, mock.Anything).
		Run(func(mock.Arguments) { clock = clock.Add(3 * time.Second) }).
		Return(nil)

	relay := NewRelay(discard(), st, NewDispatcher(discard(), producer, "commerce.events"), "test-relay",
		WithLease(5*time.Second))
	relay.now = now

	sent, err := relay.Flush(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, sent)
	assert.Equal(t, [][]int64{{2, 3}, {3}}, st.extended)
}

func TestRetryPolicy(t *testing.T) {
	p := RetryPolicy{MaxAttempts: 3, Base: time.Second, Max: time.Minute}
	assert.Equal(t, time.Second, p.Delay(0))
	assert.Equal(t, 2*time.Second, p.Delay(1))
	assert.Equal(t, 8*time.Second, p.Delay(3))
	assert.Equal(t, time.Minute, p.Delay(6))
	assert.Equal(t, time.Minute, p.Delay(200))
	assert.Zero(t, RetryPolicy{MaxAttempts: 3}.Delay(4))

	assert.False(t, p.Exhausted(1))
	assert.True(t, p.Exhausted(2))
	assert.True(t, RetryPolicy{}.Exhausted(0))
}

func TestEvent_Message(t *testing.T) {
	ev := Event{
		AggregateID: "s9",
		Type:        "SaleShipped",
		Payload:     []byte(`{"sale_id":"s9"}`),
		Headers:     map[string]string{"tenant": "corner", "source": "pos"},
		Traceparent: "00-abc-def-01",
	}
	msg := ev.Message("commerce.sales")

	assert.Equal(t, "commerce.sales", msg.Topic)
	assert.Equal(t, "s9", string(msg.Key))
	assert.JSONEq(t, `{"sale_id":"s9"}`, string(msg.Value))
	keys := make([]string, 0, len(msg.Headers))
	for _, h := range msg.Headers {
		keys = append(keys, h.Key)
	}
	assert.Equal(t, []string{"source", "tenant", HeaderEventType, HeaderTraceparent}, keys)
	assert.Equal(t, "SaleShipped", headerValue(msg.Headers, HeaderEventType))
}

func headerValue(h []kafka.Header, key string) string {
	for _, hh := range h {
		if hh.Key == key {
			return string(hh.Value)
		}
	}
	return ""
}
