package outbox

import (
	"sort"
	"time"

	"github.com/segmentio/kafka-go"
)

type Status string

const (
	StatusPending    Status = "pending"
	StatusInProgress Status = "in_progress"
	StatusSent       Status = "sent"
	// StatusFailed is terminal: the relay stopped retrying the event.
	StatusFailed Status = "failed"
)

const (
	HeaderEventType   = "event_type"
	HeaderTraceparent = "traceparent"
)

// Event is one sale fact waiting to be published. AggregateID becomes the
// message key, so every event of one sale lands on the same partition.
type Event struct {
	ID            int64
	AggregateType string
	AggregateID   string
	Type          string
	Payload       []byte
	Headers       map[string]string
	Traceparent   string
	CreatedAt     time.Time
	// AvailableAt holds a retried event back until its backoff has passed.
	AvailableAt time.Time
	Status      Status
	RelayID     string
	RetryCount  int
	LastError   *string
}

// Message renders the event as a kafka record for topic. Custom headers come
// first in key order, then the event type and the trace parent.
func (e Event) Message(topic string) kafka.Message {
	keys := make([]string, 0, len(e.Headers))
	for k := range e.Headers {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	headers := make([]kafka.Header, 0, len(keys)+2)
	for _, k := range keys {
		headers = append(headers, kafka.Header{Key: k, Value: []byte(e.Headers[k])})
	}
	headers = append(headers, kafka.Header{Key: HeaderEventType, Value: []byte(e.Type)})
	if e.Traceparent != "" {
		headers = append(headers, kafka.Header{Key: HeaderTraceparent, Value: []byte(e.Traceparent)})
	}
	return kafka.Message{
		Topic:   topic,
		Key:     []byte(e.AggregateID),
		Value:   e.Payload,
		Headers: headers,
	}
}

// RetryPolicy bounds how often the relay re-dispatches an event. The delay
// doubles from Base per failed attempt and never exceeds Max.
type RetryPolicy struct {
	MaxAttempts int
	Base        time.Duration
	Max         time.Duration
}

var DefaultRetryPolicy = RetryPolicy{MaxAttempts: 10, Base: time.Second, Max: time.Minute}

// Delay is the wait before the next attempt after retries failures.
func (p RetryPolicy) Delay(retries int) time.Duration {
	if p.Base <= 0 {
		return 0
	}
	d := p.Base
	for i := 0; i < retries; i++ {
		d *= 2
		if d >= p.Max || d <= 0 {
			return p.Max
		}
	}
	return min(d, p.Max)
}

// Exhausted reports whether an event that already failed retries times has
// used its last attempt with the current failure.
func (p RetryPolicy) Exhausted(retries int) bool {
	return retries+1 >= max(p.MaxAttempts, 1)
}
