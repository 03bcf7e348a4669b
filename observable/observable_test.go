package observable

import (
	"context"
	"errors"
	"io"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// recorder collects signals for assertions.
type recorder[T any] struct {
	mu        sync.Mutex
	values    []T
	errs      []error
	completes int
}

func (r *recorder[T]) Next(v T) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.values = append(r.values, v)
}

func (r *recorder[T]) Error(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.errs = append(r.errs, err)
}

func (r *recorder[T]) Complete() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.completes++
}

func (r *recorder[T]) snapshot() ([]T, []error, int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]T(nil), r.values...), append([]error(nil), r.errs...), r.completes
}

func TestSubscribe_RunsInitializerSynchronously(t *testing.T) {
	ran := false
	o := New(func(obs Observer[int]) Teardown {
		ran = true
		return nil
	})

	o.Subscribe(&recorder[int]{})
	if !ran {
		t.Fatal("initializer did not run on subscribe")
	}
}

func TestSubscribe_TerminalStatesAbsorbing(t *testing.T) {
	testErr := errors.New("boom")

	tests := []struct {
		name          string
		emit          func(obs Observer[int])
		wantValues    int
		wantErrs      int
		wantCompletes int
	}{
		{
			name: "next after complete dropped",
			emit: func(obs Observer[int]) {
				obs.Next(1)
				obs.Complete()
				obs.Next(2)
				obs.Error(testErr)
				obs.Complete()
			},
			wantValues:    1,
			wantCompletes: 1,
		},
		{
			name: "next after error dropped",
			emit: func(obs Observer[int]) {
				obs.Error(testErr)
				obs.Next(2)
				obs.Complete()
				obs.Error(testErr)
			},
			wantErrs: 1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := &recorder[int]{}
			New(func(obs Observer[int]) Teardown {
				tt.emit(obs)
				return nil
			}).Subscribe(rec)

			values, errs, completes := rec.snapshot()
			if len(values) != tt.wantValues {
				t.Errorf("values = %v, want %d", values, tt.wantValues)
			}
			if len(errs) != tt.wantErrs {
				t.Errorf("errors = %v, want %d", errs, tt.wantErrs)
			}
			if completes != tt.wantCompletes {
				t.Errorf("completes = %d, want %d", completes, tt.wantCompletes)
			}
		})
	}
}

func TestUnsubscribe_TeardownOnce(t *testing.T) {
	var calls atomic.Int32
	o := New(func(obs Observer[int]) Teardown {
		return func() { calls.Add(1) }
	})

	sub := o.Subscribe(&recorder[int]{})
	sub.Unsubscribe()
	sub.Unsubscribe()

	if got := calls.Load(); got != 1 {
		t.Errorf("teardown calls = %d, want 1", got)
	}
	if !sub.Closed() {
		t.Error("subscription should be closed")
	}
}

func TestTeardown_RunsAfterSynchronousCompletion(t *testing.T) {
	var calls atomic.Int32
	o := New(func(obs Observer[int]) Teardown {
		obs.Complete()
		return func() { calls.Add(1) }
	})

	sub := o.Subscribe(&recorder[int]{})
	sub.Unsubscribe()

	if got := calls.Load(); got != 1 {
		t.Errorf("teardown calls = %d, want 1", got)
	}
}

func TestUnsubscribe_DropsLateSignals(t *testing.T) {
	release := make(chan struct{})
	emitted := make(chan struct{})

	o := New(func(obs Observer[int]) Teardown {
		go func() {
			<-release
			obs.Next(42)
			obs.Complete()
			close(emitted)
		}()
		return nil
	})

	rec := &recorder[int]{}
	sub := o.Subscribe(rec)
	sub.Unsubscribe()
	close(release)
	<-emitted

	values, errs, completes := rec.snapshot()
	if len(values) != 0 || len(errs) != 0 || completes != 0 {
		t.Errorf("got signals after unsubscribe: values=%v errs=%v completes=%d", values, errs, completes)
	}
}

func TestSubscription_Done(t *testing.T) {
	sub := Of(1, 2).Subscribe(&recorder[int]{})
	select {
	case <-sub.Done():
	default:
		t.Fatal("Done should be closed after completion")
	}
}

func TestFromFunc(t *testing.T) {
	o := FromFunc(context.Background(), func(ctx context.Context) (string, error) {
		return "ok", nil
	})

	got, err := ToPromise(o).Await(context.Background())
	if err != nil {
		t.Fatalf("Await() error = %v", err)
	}
	if got != "ok" {
		t.Errorf("Await() = %q, want ok", got)
	}
}

func TestMap(t *testing.T) {
	doubled := Map(Of(1, 2, 3), func(v int) (int, error) { return v * 2, nil })

	rec := &recorder[int]{}
	doubled.Subscribe(rec)

	values, _, completes := rec.snapshot()
	if len(values) != 3 || values[0] != 2 || values[2] != 6 {
		t.Errorf("values = %v, want [2 4 6]", values)
	}
	if completes != 1 {
		t.Errorf("completes = %d, want 1", completes)
	}
}

func TestMap_ErrorTerminates(t *testing.T) {
	testErr := errors.New("bad value")
	mapped := Map(Of(1, 2, 3), func(v int) (int, error) {
		if v == 2 {
			return 0, testErr
		}
		return v, nil
	})

	rec := &recorder[int]{}
	mapped.Subscribe(rec)

	values, errs, completes := rec.snapshot()
	if len(values) != 1 {
		t.Errorf("values = %v, want [1]", values)
	}
	if len(errs) != 1 || !errors.Is(errs[0], testErr) {
		t.Errorf("errs = %v, want [%v]", errs, testErr)
	}
	if completes != 0 {
		t.Errorf("completes = %d, want 0", completes)
	}
}

func TestPromise_ResolvesFirstValue(t *testing.T) {
	got, err := ToPromise(Of("a", "b")).Await(context.Background())
	if err != nil {
		t.Fatalf("Await() error = %v", err)
	}
	if got != "a" {
		t.Errorf("Await() = %q, want a", got)
	}
}

func TestPromise_RejectsFirstError(t *testing.T) {
	testErr := errors.New("failed")
	_, err := ToPromise(Throw[int](testErr)).Await(context.Background())
	if !errors.Is(err, testErr) {
		t.Errorf("Await() error = %v, want %v", err, testErr)
	}
}

func TestPromise_CompleteWithoutValue(t *testing.T) {
	_, err := ToPromise(Of[int]()).Await(context.Background())
	if !errors.Is(err, ErrNoValue) {
		t.Errorf("Await() error = %v, want ErrNoValue", err)
	}
}

func TestPromise_CancelDoesNotSettle(t *testing.T) {
	var tornDown atomic.Bool
	release := make(chan struct{})
	o := New(func(obs Observer[int]) Teardown {
		go func() {
			<-release
			obs.Next(1)
		}()
		return func() { tornDown.Store(true) }
	})

	p := ToPromise(o)
	p.Cancel()
	close(release)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if _, err := p.Await(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Await() error = %v, want deadline exceeded", err)
	}
	if !tornDown.Load() {
		t.Error("Cancel should unsubscribe from the source")
	}
}

func TestStream_ReceivesAllValues(t *testing.T) {
	s := ToStream(Of(1, 2, 3), 0)
	defer s.Close()

	ctx := context.Background()
	var got []int
	for {
		v, err := s.Recv(ctx)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			t.Fatalf("Recv() error = %v", err)
		}
		got = append(got, v)
	}

	if len(got) != 3 || got[0] != 1 || got[2] != 3 {
		t.Errorf("values = %v, want [1 2 3]", got)
	}
}

func TestStream_PropagatesError(t *testing.T) {
	testErr := errors.New("stream failed")
	o := New(func(obs Observer[int]) Teardown {
		obs.Next(1)
		obs.Error(testErr)
		return nil
	})

	s := ToStream(o, 4)
	ctx := context.Background()

	if v, err := s.Recv(ctx); err != nil || v != 1 {
		t.Fatalf("Recv() = %d, %v; want 1, nil", v, err)
	}
	if _, err := s.Recv(ctx); !errors.Is(err, testErr) {
		t.Errorf("Recv() error = %v, want %v", err, testErr)
	}
}

func TestStream_Backpressure(t *testing.T) {
	var produced atomic.Int32
	o := New(func(obs Observer[int]) Teardown {
		go func() {
			for i := 0; i < 10; i++ {
				obs.Next(i)
				produced.Add(1)
			}
			obs.Complete()
		}()
		return nil
	})

	s := ToStream(o, 2)
	defer s.Close()

	// Producer can fill the buffer and then blocks on the next send.
	time.Sleep(50 * time.Millisecond)
	if got := produced.Load(); got > 3 {
		t.Errorf("produced = %d before any Recv, want <= 3", got)
	}

	if _, err := s.Recv(context.Background()); err != nil {
		t.Fatalf("Recv() error = %v", err)
	}
}

func TestStream_CloseUnblocksProducer(t *testing.T) {
	finished := make(chan struct{})
	var tornDown atomic.Bool
	o := New(func(obs Observer[int]) Teardown {
		go func() {
			defer close(finished)
			for i := 0; i < 100; i++ {
				obs.Next(i)
			}
		}()
		return func() { tornDown.Store(true) }
	})

	s := ToStream(o, 0)
	if _, err := s.Recv(context.Background()); err != nil {
		t.Fatalf("Recv() error = %v", err)
	}
	s.Close()

	select {
	case <-finished:
	case <-time.After(time.Second):
		t.Fatal("producer still blocked after Close")
	}
	if _, err := s.Recv(context.Background()); !errors.Is(err, ErrStreamClosed) {
		t.Errorf("Recv() after Close error = %v, want ErrStreamClosed", err)
	}
	deadline := time.Now().Add(time.Second)
	for !tornDown.Load() && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if !tornDown.Load() {
		t.Error("Close should unsubscribe from the source")
	}
}
