// Package memory is an in-process implementation of store.Store. It backs
// tests and single-node deployments started with STORE_BACKEND=memory.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/dmehra2102/lumina-commerce/internal/store"
)

type Store struct {
	mu     sync.Mutex
	now    func() time.Time
	last   time.Time
	colls  map[store.Collection]*collection
	closed bool
}

type collection struct {
	docs map[string]store.Document
	seq  uint64
	subs map[*subscriber]struct{}
}

type Option func(*Store)

// WithClock replaces the timestamp source used for CreatedAt.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

func New(opts ...Option) *Store {
	s := &Store{
		now:   time.Now,
		colls: make(map[store.Collection]*collection),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) coll(c store.Collection) *collection {
	col, ok := s.colls[c]
	if !ok {
		col = &collection{
			docs: make(map[string]store.Document),
			subs: make(map[*subscriber]struct{}),
		}
		s.colls[c] = col
	}
	return col
}

// stamp returns a server timestamp that never goes backwards.
func (s *Store) stamp() time.Time {
	now := s.now().UTC()
	if now.Before(s.last) {
		now = s.last
	}
	s.last = now
	return now
}

func (s *Store) Subscribe(ctx context.Context, c store.Collection, fn func(store.Snapshot)) (store.Subscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, store.ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	col := s.coll(c)
	sub := newSubscriber(fn)
	col.subs[sub] = struct{}{}
	sub.offer(col.snapshot(c))

	go sub.run(ctx)
	go func() {
		select {
		case <-ctx.Done():
		case <-sub.done:
		}
		s.unsubscribe(c, sub)
	}()
	return sub, nil
}

func (s *Store) unsubscribe(c store.Collection, sub *subscriber) {
	sub.stop()
	s.mu.Lock()
	delete(s.coll(c).subs, sub)
	s.mu.Unlock()
}

func (s *Store) Insert(ctx context.Context, c store.Collection, id string, data []byte) (store.Document, error) {
	if err := ctx.Err(); err != nil {
		return store.Document{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return store.Document{}, store.ErrClosed
	}

	col := s.coll(c)
	if id == "" {
		id = uuid.NewString()
	}
	if _, exists := col.docs[id]; exists {
		return store.Document{}, store.ErrAlreadyExists
	}
	doc := store.Document{
		ID:        id,
		Version:   1,
		CreatedAt: s.stamp(),
		Data:      clone(data),
	}
	col.docs[id] = doc
	s.publish(c, col)
	return copyDoc(doc), nil
}

func (s *Store) Get(ctx context.Context, c store.Collection, id string) (store.Document, error) {
	if err := ctx.Err(); err != nil {
		return store.Document{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return store.Document{}, store.ErrClosed
	}
	doc, ok := s.coll(c).docs[id]
	if !ok {
		return store.Document{}, store.ErrNotFound
	}
	return copyDoc(doc), nil
}

func (s *Store) UpdateIf(ctx context.Context, c store.Collection, id string, version int64, data []byte) (store.Document, error) {
	if err := ctx.Err(); err != nil {
		return store.Document{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return store.Document{}, store.ErrClosed
	}

	col := s.coll(c)
	doc, ok := col.docs[id]
	if !ok {
		return store.Document{}, store.ErrNotFound
	}
	if doc.Version != version {
		return store.Document{}, store.ErrConflict
	}
	doc.Version++
	doc.Data = clone(data)
	col.docs[id] = doc
	s.publish(c, col)
	return copyDoc(doc), nil
}

func (s *Store) Delete(ctx context.Context, c store.Collection, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return store.ErrClosed
	}

	col := s.coll(c)
	if _, ok := col.docs[id]; !ok {
		return store.ErrNotFound
	}
	delete(col.docs, id)
	s.publish(c, col)
	return nil
}

// Close stops every subscription and rejects further calls.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	for _, col := range s.colls {
		for sub := range col.subs {
			sub.stop()
		}
	}
	return nil
}

// publish must be called with s.mu held so snapshots are offered in commit order.
func (s *Store) publish(c store.Collection, col *collection) {
	col.seq++
	if len(col.subs) == 0 {
		return
	}
	snap := col.snapshot(c)
	for sub := range col.subs {
		sub.offer(snap)
	}
}

func (col *collection) snapshot(c store.Collection) store.Snapshot {
	docs := make([]store.Document, 0, len(col.docs))
	for _, d := range col.docs {
		docs = append(docs, copyDoc(d))
	}
	store.SortDocuments(c, docs)
	return store.Snapshot{Collection: c, Seq: col.seq, Docs: docs}
}

func clone(b []byte) []byte {
	if b == nil {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}

func copyDoc(d store.Document) store.Document {
	d.Data = clone(d.Data)
	return d
}
