package observable

import (
	"context"
	"sync"
)

// Observer receives the signals of one subscription.
//
// Contract:
// - Next may be called zero or more times, followed by at most one Error or Complete.
// - Signals for one subscription are never delivered concurrently.
type Observer[T any] interface {
	Next(value T)
	Error(err error)
	Complete()
}

// Funcs adapts plain functions to an Observer. Nil fields are ignored.
type Funcs[T any] struct {
	OnNext     func(T)
	OnError    func(error)
	OnComplete func()
}

// Next calls OnNext if set.
func (f Funcs[T]) Next(v T) {
	if f.OnNext != nil {
		f.OnNext(v)
	}
}

// Error calls OnError if set.
func (f Funcs[T]) Error(err error) {
	if f.OnError != nil {
		f.OnError(err)
	}
}

// Complete calls OnComplete if set.
func (f Funcs[T]) Complete() {
	if f.OnComplete != nil {
		f.OnComplete()
	}
}

// Teardown releases resources held by a subscription. It may be nil.
type Teardown func()

// SubscribeFunc initializes one subscription. It runs synchronously inside
// Subscribe and may emit synchronously or from other goroutines.
type SubscribeFunc[T any] func(obs Observer[T]) Teardown

// Observable is a lazy, single-subscriber push stream. Every call to
// Subscribe runs an independent instance of the initializer.
type Observable[T any] struct {
	subscribe SubscribeFunc[T]
}

// New creates an Observable from an initializer.
func New[T any](fn SubscribeFunc[T]) *Observable[T] {
	return &Observable[T]{subscribe: fn}
}

// Subscribe runs the initializer and returns a handle for cancellation.
func (o *Observable[T]) Subscribe(obs Observer[T]) *Subscription {
	sub := &Subscription{done: make(chan struct{})}
	g := &guard[T]{sub: sub, dst: obs}
	sub.setTeardown(o.subscribe(g))
	return sub
}

// Subscription is the handle returned by Subscribe.
type Subscription struct {
	mu       sync.Mutex
	closed   bool
	teardown Teardown
	done     chan struct{}
}

// Unsubscribe stops delivery to the subscriber and runs the teardown once.
// Calling it after termination or more than once is a no-op.
func (s *Subscription) Unsubscribe() {
	s.close()
	s.runTeardown()
}

// Closed reports whether the subscription has terminated or been unsubscribed.
func (s *Subscription) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Done is closed when the subscription terminates or is unsubscribed.
func (s *Subscription) Done() <-chan struct{} {
	return s.done
}

// close marks the subscription closed. It returns false if it already was.
func (s *Subscription) close() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.closed = true
	close(s.done)
	return true
}

func (s *Subscription) setTeardown(t Teardown) {
	s.mu.Lock()
	if !s.closed {
		s.teardown = t
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()
	// Terminated during the initializer.
	if t != nil {
		t()
	}
}

func (s *Subscription) runTeardown() {
	s.mu.Lock()
	t := s.teardown
	s.teardown = nil
	s.mu.Unlock()
	if t != nil {
		t()
	}
}

// guard is the Observer handed to initializers. It serializes delivery,
// makes terminal states absorbing and drops signals after Unsubscribe.
type guard[T any] struct {
	sub  *Subscription
	emit sync.Mutex
	dst  Observer[T]
}

func (g *guard[T]) Next(v T) {
	if g.sub.Closed() {
		return
	}
	g.emit.Lock()
	defer g.emit.Unlock()
	if g.sub.Closed() {
		return
	}
	g.dst.Next(v)
}

func (g *guard[T]) Error(err error) {
	if g.sub.Closed() {
		return
	}
	g.emit.Lock()
	if !g.sub.close() {
		g.emit.Unlock()
		return
	}
	g.dst.Error(err)
	g.emit.Unlock()
	g.sub.runTeardown()
}

func (g *guard[T]) Complete() {
	if g.sub.Closed() {
		return
	}
	g.emit.Lock()
	if !g.sub.close() {
		g.emit.Unlock()
		return
	}
	g.dst.Complete()
	g.emit.Unlock()
	g.sub.runTeardown()
}

// Of emits the given values synchronously and completes.
func Of[T any](values ...T) *Observable[T] {
	return New(func(obs Observer[T]) Teardown {
		for _, v := range values {
			obs.Next(v)
		}
		obs.Complete()
		return nil
	})
}

// Throw errors synchronously on subscribe.
func Throw[T any](err error) *Observable[T] {
	return New(func(obs Observer[T]) Teardown {
		obs.Error(err)
		return nil
	})
}

// FromFunc runs fn on its own goroutine for every subscription and emits its
// result followed by Complete, or its error. Unsubscribing does not cancel ctx;
// the result of fn is discarded instead.
func FromFunc[T any](ctx context.Context, fn func(context.Context) (T, error)) *Observable[T] {
	return New(func(obs Observer[T]) Teardown {
		go func() {
			v, err := fn(ctx)
			if err != nil {
				obs.Error(err)
				return
			}
			obs.Next(v)
			obs.Complete()
		}()
		return nil
	})
}

// Map transforms every value of src with fn. An error from fn terminates the
// result and unsubscribes from src.
func Map[T, U any](src *Observable[T], fn func(T) (U, error)) *Observable[U] {
	return New(func(obs Observer[U]) Teardown {
		var (
			mu     sync.Mutex
			inner  *Subscription
			failed bool
		)
		sub := src.Subscribe(Funcs[T]{
			OnNext: func(v T) {
				out, err := fn(v)
				if err != nil {
					mu.Lock()
					failed = true
					s := inner
					mu.Unlock()
					obs.Error(err)
					if s != nil {
						s.Unsubscribe()
					}
					return
				}
				obs.Next(out)
			},
			OnError:    obs.Error,
			OnComplete: obs.Complete,
		})
		mu.Lock()
		inner = sub
		stop := failed
		mu.Unlock()
		if stop {
			sub.Unsubscribe()
		}
		return sub.Unsubscribe
	})
}
