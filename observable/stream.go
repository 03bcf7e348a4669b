package observable

import (
	"context"
	"io"
	"sync"
)

// Stream is a pull view of a multi-value Observable with a bounded buffer.
// When the buffer is full the producer blocks until the consumer calls Recv
// or Close, which propagates backpressure to the source.
type Stream[T any] struct {
	values    chan T
	closed    chan struct{}
	closeOnce sync.Once

	mu  sync.Mutex
	sub *Subscription
	err error
}

// ToStream subscribes to o on a separate goroutine, so a producer that emits
// synchronously inside its initializer cannot deadlock the caller.
func ToStream[T any](o *Observable[T], buffer int) *Stream[T] {
	if buffer < 0 {
		buffer = 0
	}
	s := &Stream[T]{
		values: make(chan T, buffer),
		closed: make(chan struct{}),
	}

	go func() {
		sub := o.Subscribe(Funcs[T]{
			OnNext: func(v T) {
				select {
				case s.values <- v:
				case <-s.closed:
				}
			},
			OnError: func(err error) {
				s.mu.Lock()
				s.err = err
				s.mu.Unlock()
				close(s.values)
			},
			OnComplete: func() {
				close(s.values)
			},
		})

		s.mu.Lock()
		s.sub = sub
		s.mu.Unlock()

		select {
		case <-s.closed:
			sub.Unsubscribe()
		default:
		}
	}()

	return s
}

// Recv returns the next value. It returns io.EOF once the source completed
// and all buffered values were read, the source error if it failed, and
// ErrStreamClosed after Close.
func (s *Stream[T]) Recv(ctx context.Context) (T, error) {
	var zero T

	select {
	case <-s.closed:
		return zero, ErrStreamClosed
	default:
	}

	select {
	case v, ok := <-s.values:
		if ok {
			return v, nil
		}
		s.mu.Lock()
		err := s.err
		s.mu.Unlock()
		if err != nil {
			return zero, err
		}
		return zero, io.EOF
	case <-s.closed:
		return zero, ErrStreamClosed
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}

// Close unsubscribes from the source and unblocks a waiting producer.
func (s *Stream[T]) Close() {
	s.closeOnce.Do(func() {
		close(s.closed)
		s.mu.Lock()
		sub := s.sub
		s.mu.Unlock()
		if sub != nil {
			sub.Unsubscribe()
		}
	})
}
