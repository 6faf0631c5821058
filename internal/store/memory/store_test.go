package memory

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmehra2102/lumina-commerce/internal/store"
)

func TestStore_InsertGetUpdateDelete(t *testing.T) {
	ctx := context.Background()
	s := New()

	doc, err := s.Insert(ctx, store.Products, "", []byte(`{"stock":5}`))
	require.NoError(t, err)
	assert.NotEmpty(t, doc.ID)
	assert.Equal(t, int64(1), doc.Version)
	assert.False(t, doc.CreatedAt.IsZero())

	_, err = s.Insert(ctx, store.Products, doc.ID, []byte(`{}`))
	assert.ErrorIs(t, err, store.ErrAlreadyExists)

	got, err := s.Get(ctx, store.Products, doc.ID)
	require.NoError(t, err)
	assert.JSONEq(t, `{"stock":5}`, string(got.Data))

	updated, err := s.UpdateIf(ctx, store.Products, doc.ID, 1, []byte(`{"stock":4}`))
	require.NoError(t, err)
	assert.Equal(t, int64(2), updated.Version)
	assert.Equal(t, doc.CreatedAt, updated.CreatedAt)

	_, err = s.UpdateIf(ctx, store.Products, doc.ID, 1, []byte(`{"stock":3}`))
	assert.ErrorIs(t, err, store.ErrConflict)

	_, err = s.UpdateIf(ctx, store.Products, "missing", 1, []byte(`{}`))
	assert.ErrorIs(t, err, store.ErrNotFound)

	require.NoError(t, s.Delete(ctx, store.Products, doc.ID))
	assert.ErrorIs(t, s.Delete(ctx, store.Products, doc.ID), store.ErrNotFound)
	_, err = s.Get(ctx, store.Products, doc.ID)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestStore_TimestampsNeverGoBackwards(t *testing.T) {
	ctx := context.Background()
	base := time.Date(2025, 6, 2, 12, 0, 0, 0, time.UTC)
	ticks := []time.Time{base, base.Add(-time.Hour), base.Add(time.Minute)}
	i := 0
	s := New(WithClock(func() time.Time {
		t := ticks[i]
		i++
		return t
	}))

	a, err := s.Insert(ctx, store.Sales, "a", []byte(`{}`))
	require.NoError(t, err)
	b, err := s.Insert(ctx, store.Sales, "b", []byte(`{}`))
	require.NoError(t, err)
	c, err := s.Insert(ctx, store.Sales, "c", []byte(`{}`))
	require.NoError(t, err)

	assert.Equal(t, base, a.CreatedAt)
	assert.Equal(t, base, b.CreatedAt)
	assert.Equal(t, base.Add(time.Minute), c.CreatedAt)
}

func TestStore_SubscribeDeliversOrderedSnapshots(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s := New()

	var mu sync.Mutex
	var seen []store.Snapshot
	sub, err := s.Subscribe(ctx, store.Products, func(snap store.Snapshot) {
		mu.Lock()
		seen = append(seen, snap)
		mu.Unlock()
	})
	require.NoError(t, err)
	defer sub.Close()

	for _, id := range []string{"b", "a", "c"} {
		_, err := s.Insert(ctx, store.Products, id, []byte(`{}`))
		require.NoError(t, err)
	}

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(seen) > 0 && len(seen[len(seen)-1].Docs) == 3
	}, time.Second, 5*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	for i := 1; i < len(seen); i++ {
		assert.Greater(t, seen[i].Seq, seen[i-1].Seq, "snapshots must arrive in commit order")
	}
	last := seen[len(seen)-1]
	ids := []string{last.Docs[0].ID, last.Docs[1].ID, last.Docs[2].ID}
	assert.Equal(t, []string{"a", "b", "c"}, ids)
}

func TestStore_SalesSnapshotNewestFirst(t *testing.T) {
	ctx := context.Background()
	base := time.Date(2025, 6, 2, 12, 0, 0, 0, time.UTC)
	n := 0
	s := New(WithClock(func() time.Time {
		n++
		return base.Add(time.Duration(n) * time.Second)
	}))
	for _, id := range []string{"first", "second", "third"} {
		_, err := s.Insert(ctx, store.Sales, id, []byte(`{}`))
		require.NoError(t, err)
	}

	got := make(chan store.Snapshot, 1)
	sub, err := s.Subscribe(ctx, store.Sales, func(snap store.Snapshot) { got <- snap })
	require.NoError(t, err)
	defer sub.Close()

	snap := <-got
	require.Len(t, snap.Docs, 3)
	assert.Equal(t, "third", snap.Docs[0].ID)
	assert.Equal(t, "first", snap.Docs[2].ID)
}

func TestStore_CloseStopsDelivery(t *testing.T) {
	ctx := context.Background()
	s := New()

	var mu sync.Mutex
	calls := 0
	sub, err := s.Subscribe(ctx, store.Customers, func(store.Snapshot) {
		mu.Lock()
		calls++
		mu.Unlock()
	})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return calls == 1
	}, time.Second, 5*time.Millisecond)

	require.NoError(t, sub.Close())
	_, err = s.Insert(ctx, store.Customers, "", []byte(`{"name":"Ada"}`))
	require.NoError(t, err)

	time.Sleep(20 * time.Millisecond)
	mu.Lock()
	assert.Equal(t, 1, calls)
	mu.Unlock()

	require.NoError(t, s.Close())
	_, err = s.Get(ctx, store.Customers, "x")
	assert.ErrorIs(t, err, store.ErrClosed)
}

func TestUpdateWithRetry_RetriesConflicts(t *testing.T) {
	ctx := context.Background()
	s := New()
	doc, err := s.Insert(ctx, store.Products, "p1", []byte(`{"n":0}`))
	require.NoError(t, err)

	interfered := false
	updated, attempts, err := store.UpdateWithRetry(ctx, s, store.Products, doc.ID, store.RetryPolicy{MaxAttempts: 3},
		func(d store.Document) ([]byte, error) {
			if !interfered {
				interfered = true
				_, err := s.UpdateIf(ctx, store.Products, d.ID, d.Version, []byte(`{"n":1}`))
				require.NoError(t, err)
			}
			return []byte(`{"n":2}`), nil
		})
	require.NoError(t, err)
	assert.Equal(t, 2, attempts)
	assert.Equal(t, int64(3), updated.Version)
	assert.JSONEq(t, `{"n":2}`, string(updated.Data))
}

func TestUpdateWithRetry_Exhausted(t *testing.T) {
	ctx := context.Background()
	s := New()
	_, err := s.Insert(ctx, store.Products, "p1", []byte(`{}`))
	require.NoError(t, err)

	_, attempts, err := store.UpdateWithRetry(ctx, s, store.Products, "p1", store.RetryPolicy{MaxAttempts: 2},
		func(d store.Document) ([]byte, error) {
			_, err := s.UpdateIf(ctx, store.Products, d.ID, d.Version, []byte(`{}`))
			require.NoError(t, err)
			return []byte(`{}`), nil
		})
	assert.ErrorIs(t, err, store.ErrRetriesExhausted)
	assert.ErrorIs(t, err, store.ErrConflict)
	assert.Equal(t, 2, attempts)
}

func TestUpdateWithRetry_NoChangeAndNotFound(t *testing.T) {
	ctx := context.Background()
	s := New()
	doc, err := s.Insert(ctx, store.Products, "p1", []byte(`{}`))
	require.NoError(t, err)

	got, attempts, err := store.UpdateWithRetry(ctx, s, store.Products, "p1", store.DefaultRetryPolicy,
		func(store.Document) ([]byte, error) { return nil, store.ErrNoChange })
	require.NoError(t, err)
	assert.Equal(t, 1, attempts)
	assert.Equal(t, doc.Version, got.Version)

	_, _, err = store.UpdateWithRetry(ctx, s, store.Products, "nope", store.DefaultRetryPolicy,
		func(store.Document) ([]byte, error) { return []byte(`{}`), nil })
	assert.ErrorIs(t, err, store.ErrNotFound)
}
