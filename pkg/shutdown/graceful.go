package shutdown

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"sync"
	"syscall"
)

// WithSignals returns a context cancelled on SIGINT or SIGTERM.
func WithSignals(ctx context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(ctx)
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		defer signal.Stop(ch)
		select {
		case <-ch:
			cancel()
		case <-ctx.Done():
		}
	}()

	return ctx, cancel
}

// Stack releases resources in the reverse order they were acquired. The store
// must outlive the live cache, which must outlive the HTTP server.
type Stack struct {
	mu    sync.Mutex
	funcs []func(context.Context) error
	done  bool
}

func (s *Stack) Push(fn func(context.Context) error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.funcs = append(s.funcs, fn)
}

// PushCloser adds a plain Close method.
func (s *Stack) PushCloser(close func() error) {
	s.Push(func(context.Context) error { return close() })
}

// Close runs every pushed func once, newest first, and joins their errors.
func (s *Stack) Close(ctx context.Context) error {
	s.mu.Lock()
	if s.done {
		s.mu.Unlock()
		return nil
	}
	s.done = true
	funcs := s.funcs
	s.funcs = nil
	s.mu.Unlock()

	var errs []error
	for i := len(funcs) - 1; i >= 0; i-- {
		if err := funcs[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
