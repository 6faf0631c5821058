package postgres

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dmehra2102/lumina-commerce/internal/store"
)

// Every subscription of a Store shares one LISTEN connection. Snapshots are
// loaded through the pool and released right away, so subscribers never pin
// pool connections.

type subscription struct {
	coll   store.Collection
	wake   chan struct{}
	cancel context.CancelFunc
	done   chan struct{}
}

// Close stops delivery and, for the last subscription, waits for the
// listener connection to be released. It must not be called from inside the
// subscription callback.
func (s *subscription) Close() error {
	s.cancel()
	<-s.done
	return nil
}

// poke asks for a fresh snapshot. Pokes that arrive while one is pending
// coalesce, since every snapshot carries the whole collection.
func (s *subscription) poke() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *Store) Subscribe(ctx context.Context, c store.Collection, fn func(store.Snapshot)) (store.Subscription, error) {
	subCtx, cancel := context.WithCancel(ctx)
	sub := &subscription{coll: c, wake: make(chan struct{}, 1), cancel: cancel, done: make(chan struct{})}
	if err := s.attach(ctx, sub); err != nil {
		cancel()
		return nil, unavailable("subscribe", err)
	}
	sub.poke()
	go s.follow(subCtx, sub, fn)
	return sub, nil
}

// follow delivers the current snapshot, then one per wake-up, until ctx ends.
func (s *Store) follow(ctx context.Context, sub *subscription, fn func(store.Snapshot)) {
	defer close(sub.done)
	defer s.detach(sub)

	var seq uint64
	for {
		select {
		case <-ctx.Done():
			return
		case <-sub.wake:
		}
		docs, err := loadSnapshot(ctx, s.pool, sub.coll)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			s.log.Warn("snapshot load failed, retrying", "collection", sub.coll, "err", err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(resubscribeDelay):
			}
			sub.poke()
			continue
		}
		seq++
		fn(store.Snapshot{Collection: sub.coll, Seq: seq, Docs: docs})
	}
}

// attach registers sub, starting the listener for the first subscription.
func (s *Store) attach(ctx context.Context, sub *subscription) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopListen == nil {
		conn, err := s.listen(ctx)
		if err != nil {
			return err
		}
		lctx, stop := context.WithCancel(context.Background())
		done := make(chan struct{})
		s.stopListen, s.listenDone = stop, done
		go func() {
			defer close(done)
			s.runListener(lctx, conn)
		}()
	}
	s.subs[sub] = struct{}{}
	return nil
}

// detach drops sub and stops the listener once nobody is subscribed.
func (s *Store) detach(sub *subscription) {
	s.mu.Lock()
	delete(s.subs, sub)
	var (
		stop context.CancelFunc
		done chan struct{}
	)
	if len(s.subs) == 0 && s.stopListen != nil {
		stop, done = s.stopListen, s.listenDone
		s.stopListen, s.listenDone = nil, nil
	}
	s.mu.Unlock()

	if stop != nil {
		stop()
		<-done
	}
}

// runListener fans notifications out to the subscriptions of the notified
// collection. After a reconnect every subscription reloads, since
// notifications sent while disconnected are lost.
func (s *Store) runListener(ctx context.Context, conn *pgxpool.Conn) {
	for {
		err := s.waitLoop(ctx, conn)
		release(conn)
		if ctx.Err() != nil {
			return
		}
		s.log.Warn("listener interrupted, reconnecting", "err", err)

		conn = nil
		for conn == nil {
			select {
			case <-ctx.Done():
				return
			case <-time.After(resubscribeDelay):
			}
			if conn, err = s.listen(ctx); err != nil {
				if ctx.Err() != nil {
					return
				}
				s.log.Error("listener reconnect failed", "err", err)
				conn = nil
			}
		}
		s.wake(func(store.Collection) bool { return true })
	}
}

func (s *Store) waitLoop(ctx context.Context, conn *pgxpool.Conn) error {
	for {
		n, err := conn.Conn().WaitForNotification(ctx)
		if err != nil {
			return err
		}
		s.wake(func(c store.Collection) bool { return string(c) == n.Payload })
	}
}

func (s *Store) wake(match func(store.Collection) bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for sub := range s.subs {
		if match(sub.coll) {
			sub.poke()
		}
	}
}

func (s *Store) listen(ctx context.Context) (*pgxpool.Conn, error) {
	conn, err := s.pool.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	if _, err := conn.Exec(ctx, "LISTEN "+notifyChannel); err != nil {
		conn.Release()
		return nil, err
	}
	return conn, nil
}

func release(conn *pgxpool.Conn) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if _, err := conn.Exec(ctx, "UNLISTEN *"); err != nil {
		// A connection in an unknown state must not go back to the pool.
		_ = conn.Conn().Close(ctx)
	}
	conn.Release()
}
