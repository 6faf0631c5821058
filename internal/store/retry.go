package store

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrNoChange is returned by a Mutator that decided the document must not be
// written. UpdateWithRetry then returns the document as read, without error.
var ErrNoChange = errors.New("no change")

// Mutator computes the new data for a document read at doc.Version.
type Mutator func(doc Document) ([]byte, error)

type RetryPolicy struct {
	MaxAttempts int
	Backoff     time.Duration
}

var DefaultRetryPolicy = RetryPolicy{MaxAttempts: 5, Backoff: 5 * time.Millisecond}

func (p RetryPolicy) attempts() int {
	if p.MaxAttempts < 1 {
		return 1
	}
	return p.MaxAttempts
}

// UpdateWithRetry runs a conditional read-modify-write cycle on one document.
// Version conflicts and transient store errors are retried up to
// p.MaxAttempts times; ErrNotFound and mutator errors end the cycle at once.
// It returns the written (or, for ErrNoChange, the read) document and the
// number of attempts used.
func UpdateWithRetry(ctx context.Context, st Store, c Collection, id string, p RetryPolicy, mutate Mutator) (Document, int, error) {
	var lastErr error
	limit := p.attempts()
	for attempt := 1; attempt <= limit; attempt++ {
		if attempt > 1 {
			if err := sleep(ctx, p.Backoff*time.Duration(attempt-1)); err != nil {
				return Document{}, attempt - 1, err
			}
		}

		doc, err := st.Get(ctx, c, id)
		if err != nil {
			if errors.Is(err, ErrNotFound) || ctx.Err() != nil {
				return Document{}, attempt, err
			}
			lastErr = err
			continue
		}

		data, err := mutate(doc)
		if errors.Is(err, ErrNoChange) {
			return doc, attempt, nil
		}
		if err != nil {
			return doc, attempt, err
		}

		updated, err := st.UpdateIf(ctx, c, id, doc.Version, data)
		if err == nil {
			return updated, attempt, nil
		}
		if errors.Is(err, ErrNotFound) || ctx.Err() != nil {
			return Document{}, attempt, err
		}
		lastErr = err
	}
	return Document{}, limit, fmt.Errorf("%w: %s/%s after %d attempts: %w", ErrRetriesExhausted, c, id, limit, lastErr)
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
