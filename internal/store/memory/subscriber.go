package memory

import (
	"context"
	"sync"

	"github.com/dmehra2102/lumina-commerce/internal/store"
)

// subscriber holds at most one undelivered snapshot. A newer offer replaces
// the pending one, so a slow callback never blocks writers or other
// subscribers, and never sees snapshots out of order.
type subscriber struct {
	fn      func(store.Snapshot)
	mu      sync.Mutex
	pending *store.Snapshot
	wake    chan struct{}
	done    chan struct{}
	once    sync.Once
}

func newSubscriber(fn func(store.Snapshot)) *subscriber {
	return &subscriber{
		fn:   fn,
		wake: make(chan struct{}, 1),
		done: make(chan struct{}),
	}
}

func (s *subscriber) offer(snap store.Snapshot) {
	s.mu.Lock()
	s.pending = &snap
	s.mu.Unlock()

	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *subscriber) take() (store.Snapshot, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pending == nil {
		return store.Snapshot{}, false
	}
	snap := *s.pending
	s.pending = nil
	return snap, true
}

func (s *subscriber) run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.done:
			return
		case <-s.wake:
		}

		snap, ok := s.take()
		if !ok {
			continue
		}
		select {
		case <-s.done:
			return
		default:
		}
		s.fn(snap)
	}
}

func (s *subscriber) stop() {
	s.once.Do(func() { close(s.done) })
}

func (s *subscriber) Close() error {
	s.stop()
	return nil
}
