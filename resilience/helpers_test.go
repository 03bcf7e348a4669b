package resilience

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jonwraymond/rpclink/link"
	"github.com/jonwraymond/rpclink/observable"
	"github.com/jonwraymond/rpclink/procedure"
)

// downstream is a terminal link whose attempt n returns script[n], repeating
// the last entry once the script runs out.
type downstream struct {
	attempts atomic.Int32
	script   []func(ctx context.Context, op link.Operation) link.ResultObservable
}

func (d *downstream) link() link.Link {
	return func(ctx context.Context, op link.Operation, _ link.NextFunc) link.ResultObservable {
		n := int(d.attempts.Add(1)) - 1
		if n >= len(d.script) {
			n = len(d.script) - 1
		}
		return d.script[n](ctx, op)
	}
}

func succeed(data any) func(context.Context, link.Operation) link.ResultObservable {
	return func(context.Context, link.Operation) link.ResultObservable {
		return observable.Of(link.DataEnvelope(data))
	}
}

func fail(code string) func(context.Context, link.Operation) link.ResultObservable {
	return func(_ context.Context, op link.Operation) link.ResultObservable {
		return link.Fail(procedure.NewError(code, "scripted failure"), op)
	}
}

// hang never settles; it closes released when unsubscribed.
func hang(released chan<- struct{}) func(context.Context, link.Operation) link.ResultObservable {
	var once sync.Once
	return func(context.Context, link.Operation) link.ResultObservable {
		return observable.New(func(link.ResultObserver) observable.Teardown {
			return func() { once.Do(func() { close(released) }) }
		})
	}
}

// block settles with data once gate is closed.
func block(gate <-chan struct{}) func(context.Context, link.Operation) link.ResultObservable {
	return func(ctx context.Context, op link.Operation) link.ResultObservable {
		return observable.FromFunc(ctx, func(ctx context.Context) (link.Envelope, error) {
			<-gate
			return link.DataEnvelope("done"), nil
		})
	}
}

var queryOp = link.Operation{ID: 1, Type: link.OpQuery, Path: "users.get"}

func run(t *testing.T, l link.Link, op link.Operation) (link.Envelope, error) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return observable.ToPromise(link.Execute(ctx, l, op)).Await(ctx)
}

func codeOfErr(err error) string {
	return procedure.CodeOf(err)
}

// collect subscribes and waits for the terminal signal.
func collect(t *testing.T, l link.Link, op link.Operation) ([]link.Envelope, error) {
	t.Helper()
	var (
		mu   sync.Mutex
		envs []link.Envelope
	)
	done := make(chan error, 1)
	link.Execute(context.Background(), l, op).Subscribe(observable.Funcs[link.Envelope]{
		OnNext: func(env link.Envelope) {
			mu.Lock()
			envs = append(envs, env)
			mu.Unlock()
		},
		OnError:    func(err error) { done <- err },
		OnComplete: func() { done <- nil },
	})

	select {
	case err := <-done:
		mu.Lock()
		defer mu.Unlock()
		return envs, err
	case <-time.After(5 * time.Second):
		t.Fatal("operation did not settle")
		return nil, nil
	}
}

// eventually polls cond until it holds or a second passes.
func eventually(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met in time")
		}
		time.Sleep(time.Millisecond)
	}
}
