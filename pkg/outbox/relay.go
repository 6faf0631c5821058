package outbox

import (
	"context"
	"log/slog"
	"time"
)

// Recorder appends an event to the outbox. The relay publishes it later.
type Recorder interface {
	Record(ctx context.Context, event Event) error
}

type Store interface {
	LockBatch(ctx context.Context, relayID string, batchSize int, lease time.Duration) ([]Event, error)
	MarkSent(ctx context.Context, ids []int64) error
	// Retry returns the event to pending, not claimable before at.
	Retry(ctx context.Context, id int64, errMsg string, at time.Time) error
	MarkFailed(ctx context.Context, id int64, errMsg string) error
	ExtendLease(ctx context.Context, relayID string, ids []int64, lease time.Duration) error
}

type Relay struct {
	log       *slog.Logger
	store     Store
	dispatch  *Dispatcher
	relayID   string
	batchSize int
	interval  time.Duration
	lease     time.Duration
	retry     RetryPolicy
	now       func() time.Time
}

type RelayOption func(*Relay)

func WithRetryPolicy(p RetryPolicy) RelayOption {
	return func(r *Relay) { r.retry = p }
}

// WithLease sets how long a claimed batch stays owned by this relay. A batch
// that runs past half its lease gets it extended.
func WithLease(d time.Duration) RelayOption {
	return func(r *Relay) { r.lease = d }
}

func WithBatchSize(n int) RelayOption {
	return func(r *Relay) { r.batchSize = n }
}

func WithInterval(d time.Duration) RelayOption {
	return func(r *Relay) { r.interval = d }
}

func NewRelay(log *slog.Logger, store Store, dispatch *Dispatcher, relayID string, opts ...RelayOption) *Relay {
	r := &Relay{
		log:       log,
		store:     store,
		dispatch:  dispatch,
		relayID:   relayID,
		batchSize: 100,
		interval:  500 * time.Millisecond,
		lease:     5 * time.Second,
		retry:     DefaultRetryPolicy,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *Relay) Run(ctx context.Context) error {
	t := time.NewTicker(r.interval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			r.log.Info("relay stopping", "relay_id", r.relayID)
			return nil
		case <-t.C:
			if _, err := r.Flush(ctx); err != nil {
				r.log.Error("relay flush error", "relay_id", r.relayID, "err", err)
			}
		}
	}
}

// Flush dispatches one locked batch and returns how many events were sent.
// A failed dispatch goes back to pending with backoff until the retry policy
// is exhausted, then the event is marked failed.
func (r *Relay) Flush(ctx context.Context) (int, error) {
	events, err := r.store.LockBatch(ctx, r.relayID, r.batchSize, r.lease)
	if err != nil {
		return 0, err
	}
	if len(events) == 0 {
		return 0, nil
	}

	leased := r.now()
	ids := make([]int64, 0, len(events))
	for i, e := range events {
		if r.now().Sub(leased) > r.lease/2 {
			rest := make([]int64, 0, len(events)-i)
			for _, ev := range events[i:] {
				rest = append(rest, ev.ID)
			}
			if err := r.store.ExtendLease(ctx, r.relayID, rest, r.lease); err != nil {
				r.log.Warn("relay extend lease failed", "relay_id", r.relayID, "err", err)
			}
			leased = r.now()
		}

		if err := r.dispatch.Dispatch(ctx, e); err != nil {
			r.fail(ctx, e, err)
			continue
		}
		ids = append(ids, e.ID)
	}
	if len(ids) > 0 {
		if err := r.store.MarkSent(ctx, ids); err != nil {
			return 0, err
		}
	}
	return len(ids), nil
}

func (r *Relay) fail(ctx context.Context, e Event, cause error) {
	if r.retry.Exhausted(e.RetryCount) {
		r.log.Error("outbox event dead-lettered", "event_id", e.ID, "type", e.Type, "attempts", e.RetryCount+1, "err", cause)
		if err := r.store.MarkFailed(ctx, e.ID, cause.Error()); err != nil {
			r.log.Error("relay mark failed error", "event_id", e.ID, "err", err)
		}
		return
	}
	at := r.now().Add(r.retry.Delay(e.RetryCount))
	if err := r.store.Retry(ctx, e.ID, cause.Error(), at); err != nil {
		r.log.Error("relay retry error", "event_id", e.ID, "err", err)
	}
}
