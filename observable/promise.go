package observable

import (
	"context"
	"sync"
)

// Promise is a one-shot view of an Observable: it settles with the first
// value or the first error, whichever comes first.
type Promise[T any] struct {
	mu    sync.Mutex
	sub   *Subscription
	once  sync.Once
	done  chan struct{}
	value T
	err   error
}

// ToPromise subscribes to o and returns a Promise for its first value.
// Completion without a value rejects with ErrNoValue.
func ToPromise[T any](o *Observable[T]) *Promise[T] {
	p := &Promise[T]{done: make(chan struct{})}

	sub := o.Subscribe(Funcs[T]{
		OnNext: func(v T) {
			if p.settle(v, nil) {
				p.unsubscribe()
			}
		},
		OnError: func(err error) {
			var zero T
			p.settle(zero, err)
		},
		OnComplete: func() {
			var zero T
			p.settle(zero, ErrNoValue)
		},
	})

	p.mu.Lock()
	p.sub = sub
	p.mu.Unlock()

	select {
	case <-p.done:
		sub.Unsubscribe()
	default:
	}
	return p
}

// Await blocks until the promise settles or ctx is done.
// A cancelled promise never settles; Await then returns ctx.Err().
func (p *Promise[T]) Await(ctx context.Context) (T, error) {
	select {
	case <-p.done:
		return p.value, p.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

// Done is closed when the promise settles.
func (p *Promise[T]) Done() <-chan struct{} {
	return p.done
}

// Cancel unsubscribes from the source without settling the promise.
func (p *Promise[T]) Cancel() {
	p.unsubscribe()
}

func (p *Promise[T]) settle(v T, err error) bool {
	settled := false
	p.once.Do(func() {
		p.value = v
		p.err = err
		close(p.done)
		settled = true
	})
	return settled
}

func (p *Promise[T]) unsubscribe() {
	p.mu.Lock()
	sub := p.sub
	p.mu.Unlock()
	if sub != nil {
		sub.Unsubscribe()
	}
}
