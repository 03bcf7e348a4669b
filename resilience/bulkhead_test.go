package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jonwraymond/rpclink/link"
	"github.com/jonwraymond/rpclink/observable"
	"github.com/jonwraymond/rpclink/procedure"
)

func TestNewBulkhead(t *testing.T) {
	b := NewBulkhead(BulkheadConfig{})
	if m := b.Metrics(); m.MaxConcurrent != 10 || m.Available != 10 {
		t.Errorf("Metrics() = %+v, want 10 slots", m)
	}
}

func TestBulkhead_AcquireRelease(t *testing.T) {
	b := NewBulkhead(BulkheadConfig{MaxConcurrent: 2})
	ctx := context.Background()

	if err := b.Acquire(ctx); err != nil {
		t.Fatalf("Acquire() #1 error = %v", err)
	}
	if err := b.Acquire(ctx); err != nil {
		t.Fatalf("Acquire() #2 error = %v", err)
	}
	if err := b.Acquire(ctx); !errors.Is(err, ErrBulkheadFull) {
		t.Errorf("Acquire() #3 error = %v, want ErrBulkheadFull", err)
	}

	b.Release()
	if err := b.Acquire(ctx); err != nil {
		t.Errorf("Acquire() after Release error = %v", err)
	}

	m := b.Metrics()
	if m.Active != 2 || m.MaxActive != 2 || m.Rejected != 1 {
		t.Errorf("Metrics() = %+v", m)
	}
}

func TestBulkhead_ReleaseWithoutAcquire(t *testing.T) {
	b := NewBulkhead(BulkheadConfig{MaxConcurrent: 1})
	b.Release()
	if m := b.Metrics(); m.Active != 0 || m.Available != 1 {
		t.Errorf("Metrics() = %+v", m)
	}
}

func TestBulkhead_AcquireWithWait(t *testing.T) {
	b := NewBulkhead(BulkheadConfig{MaxConcurrent: 1, MaxWait: time.Second})
	ctx := context.Background()
	_ = b.Acquire(ctx)

	go func() {
		time.Sleep(10 * time.Millisecond)
		b.Release()
	}()

	if err := b.Acquire(ctx); err != nil {
		t.Errorf("Acquire() error = %v, want a slot after release", err)
	}
}

func TestBulkhead_AcquireTimeout(t *testing.T) {
	b := NewBulkhead(BulkheadConfig{MaxConcurrent: 1, MaxWait: 10 * time.Millisecond})
	ctx := context.Background()
	_ = b.Acquire(ctx)

	if err := b.Acquire(ctx); !errors.Is(err, ErrBulkheadFull) {
		t.Errorf("Acquire() error = %v, want ErrBulkheadFull", err)
	}
}

func TestBulkhead_ContextCancellation(t *testing.T) {
	b := NewBulkhead(BulkheadConfig{MaxConcurrent: 1, MaxWait: time.Minute})
	_ = b.Acquire(context.Background())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := b.Acquire(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("Acquire() error = %v, want context.Canceled", err)
	}
}

func TestBulkhead_LinkHoldsSlotUntilSettled(t *testing.T) {
	b := NewBulkhead(BulkheadConfig{MaxConcurrent: 1})
	gate := make(chan struct{})
	d := &downstream{script: []func(context.Context, link.Operation) link.ResultObservable{block(gate), succeed("ok")}}
	chain := link.Chain(b.Link(), d.link())

	first := observable.ToPromise(link.Execute(context.Background(), chain, queryOp))
	eventually(t, func() bool { return d.attempts.Load() == 1 })

	_, err := run(t, chain, queryOp)
	if !errors.Is(err, ErrBulkheadFull) {
		t.Fatalf("error = %v, want ErrBulkheadFull", err)
	}
	if codeOfErr(err) != procedure.CodeUnavailable {
		t.Errorf("code = %s, want %s", codeOfErr(err), procedure.CodeUnavailable)
	}

	close(gate)
	if _, err := first.Await(context.Background()); err != nil {
		t.Fatalf("first error = %v", err)
	}
	eventually(t, func() bool { return b.Metrics().Active == 0 })

	if _, err := run(t, chain, queryOp); err != nil {
		t.Errorf("error after release = %v", err)
	}
}

func TestBulkhead_LinkReleasesOnUnsubscribe(t *testing.T) {
	b := NewBulkhead(BulkheadConfig{MaxConcurrent: 1})
	released := make(chan struct{})
	d := &downstream{script: []func(context.Context, link.Operation) link.ResultObservable{hang(released)}}

	sub := link.Execute(context.Background(), link.Chain(b.Link(), d.link()), queryOp).
		Subscribe(observable.Funcs[link.Envelope]{})
	eventually(t, func() bool { return d.attempts.Load() == 1 })
	sub.Unsubscribe()
	<-released

	eventually(t, func() bool { return b.Metrics().Active == 0 })
}
