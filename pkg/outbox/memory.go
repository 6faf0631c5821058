package outbox

import (
	"context"
	"errors"
	"sync"
	"time"
)

// MemoryStore keeps the outbox in process. It implements both Recorder and
// the relay Store, so the relay runs unchanged on the memory backend.
type MemoryStore struct {
	mu     sync.Mutex
	nextID int64
	events []Event
	leases map[int64]time.Time
	now    func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{leases: make(map[int64]time.Time), now: time.Now}
}

func (s *MemoryStore) Record(ctx context.Context, event Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	event.ID = s.nextID
	event.Status = StatusPending
	if event.CreatedAt.IsZero() {
		event.CreatedAt = s.now().UTC()
	}
	event.AvailableAt = event.CreatedAt
	s.events = append(s.events, event)
	return nil
}

func (s *MemoryStore) LockBatch(ctx context.Context, relayID string, batchSize int, lease time.Duration) ([]Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()

	var out []Event
	for i := range s.events {
		if len(out) == batchSize {
			break
		}
		ev := &s.events[i]
		ready := ev.Status == StatusPending && !now.Before(ev.AvailableAt)
		expired := ev.Status == StatusInProgress && now.After(s.leases[ev.ID])
		if !ready && !expired {
			continue
		}
		ev.Status = StatusInProgress
		ev.RelayID = relayID
		s.leases[ev.ID] = now.Add(lease)
		out = append(out, *ev)
	}
	return out, nil
}

func (s *MemoryStore) MarkSent(ctx context.Context, ids []int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	updated := 0
	for _, id := range ids {
		if ev := s.find(id); ev != nil {
			ev.Status = StatusSent
			delete(s.leases, id)
			updated++
		}
	}
	if updated == 0 {
		return errors.New("no rows updated")
	}
	return nil
}

func (s *MemoryStore) Retry(ctx context.Context, id int64, errMsg string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if ev := s.find(id); ev != nil {
		ev.Status = StatusPending
		ev.LastError = &errMsg
		ev.RetryCount++
		ev.AvailableAt = at
		ev.RelayID = ""
		delete(s.leases, id)
	}
	return nil
}

func (s *MemoryStore) MarkFailed(ctx context.Context, id int64, errMsg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if ev := s.find(id); ev != nil {
		ev.Status = StatusFailed
		ev.LastError = &errMsg
		ev.RetryCount++
		delete(s.leases, id)
	}
	return nil
}

func (s *MemoryStore) ExtendLease(ctx context.Context, relayID string, ids []int64, lease time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range ids {
		if ev := s.find(id); ev != nil && ev.RelayID == relayID {
			s.leases[id] = s.now().Add(lease)
		}
	}
	return nil
}

// Events returns a copy of every recorded event, oldest first.
func (s *MemoryStore) Events() []Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Event, len(s.events))
	copy(out, s.events)
	return out
}

func (s *MemoryStore) find(id int64) *Event {
	for i := range s.events {
		if s.events[i].ID == id {
			return &s.events[i]
		}
	}
	return nil
}
