package link

import (
	"context"
	"errors"
	"reflect"
	"sync"
	"testing"

	"github.com/jonwraymond/rpclink/observable"
)

// tracingLink appends its name to calls before and after delegating.
func tracingLink(name string, mu *sync.Mutex, calls *[]string) Link {
	return func(ctx context.Context, op Operation, next NextFunc) ResultObservable {
		mu.Lock()
		*calls = append(*calls, name)
		mu.Unlock()
		return next(ctx, op)
	}
}

// terminal emits the operation input as data.
func terminal() Link {
	return func(_ context.Context, op Operation, _ NextFunc) ResultObservable {
		return observable.Of(DataEnvelope(op.Input))
	}
}

func await(t *testing.T, o ResultObservable) (Envelope, error) {
	t.Helper()
	return observable.ToPromise(o).Await(context.Background())
}

func TestChain_InvokesLinksInOrder(t *testing.T) {
	var mu sync.Mutex
	var calls []string

	chain := Chain(
		tracingLink("first", &mu, &calls),
		tracingLink("second", &mu, &calls),
		tracingLink("third", &mu, &calls),
		terminal(),
	)

	env, err := await(t, Execute(context.Background(), chain, Operation{Type: OpQuery, Path: "a.b", Input: 7}))
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if env.Result.Data != 7 {
		t.Errorf("data = %v, want 7", env.Result.Data)
	}

	want := []string{"first", "second", "third"}
	if !reflect.DeepEqual(calls, want) {
		t.Errorf("calls = %v, want %v", calls, want)
	}
}

func TestChain_ShortCircuit(t *testing.T) {
	downstreamCalled := false

	shortCircuit := func(_ context.Context, op Operation, _ NextFunc) ResultObservable {
		return observable.Of(DataEnvelope("cached"))
	}
	downstream := func(ctx context.Context, op Operation, next NextFunc) ResultObservable {
		downstreamCalled = true
		return next(ctx, op)
	}

	chain := Chain(shortCircuit, downstream, terminal())
	env, err := await(t, Execute(context.Background(), chain, Operation{Type: OpQuery}))
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if env.Result.Data != "cached" {
		t.Errorf("data = %v, want cached", env.Result.Data)
	}
	if downstreamCalled {
		t.Error("downstream link ran after short-circuit")
	}
}

func TestChain_PassesModifiedOperation(t *testing.T) {
	rewrite := func(ctx context.Context, op Operation, next NextFunc) ResultObservable {
		return next(ctx, op.WithInput("rewritten"))
	}

	original := Operation{Type: OpQuery, Path: "p", Input: "original"}
	chain := Chain(rewrite, terminal())

	env, err := await(t, Execute(context.Background(), chain, original))
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if env.Result.Data != "rewritten" {
		t.Errorf("data = %v, want rewritten", env.Result.Data)
	}
	if original.Input != "original" {
		t.Errorf("caller operation modified: %v", original.Input)
	}
}

func TestExecute_NoTerminalLink(t *testing.T) {
	var mu sync.Mutex
	var calls []string
	chain := Chain(tracingLink("only", &mu, &calls))

	_, err := await(t, Execute(context.Background(), chain, Operation{Type: OpQuery, Path: "x"}))
	if !errors.Is(err, ErrNoTerminalLink) {
		t.Fatalf("error = %v, want ErrNoTerminalLink", err)
	}

	var ce *ClientError
	if !errors.As(err, &ce) {
		t.Fatalf("error %T is not a *ClientError", err)
	}
	if ce.Path != "x" {
		t.Errorf("ClientError.Path = %q, want x", ce.Path)
	}
}

func TestCompose(t *testing.T) {
	var gotRuntime Runtime
	createContext := func(context.Context) (any, error) { return "ctx", nil }

	capture := func(rt Runtime) (Link, error) {
		gotRuntime = rt
		return terminal(), nil
	}

	l, err := Compose(Runtime{CreateContext: createContext}, capture)
	if err != nil {
		t.Fatalf("Compose() error = %v", err)
	}
	if gotRuntime.CreateContext == nil {
		t.Error("factory did not receive the runtime")
	}

	env, err := await(t, Execute(context.Background(), l, Operation{Type: OpQuery, Input: 1}))
	if err != nil || env.Result.Data != 1 {
		t.Errorf("Execute() = %v, %v; want data 1", env, err)
	}
}

func TestCompose_Errors(t *testing.T) {
	configErr := errors.New("missing option")

	tests := []struct {
		name      string
		factories []Factory
		wantErr   error
	}{
		{"empty", nil, ErrEmptyChain},
		{"factory error", []Factory{func(Runtime) (Link, error) { return nil, configErr }}, configErr},
		{"nil link", []Factory{func(Runtime) (Link, error) { return nil, nil }}, ErrNilLink},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Compose(Runtime{}, tt.factories...)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Compose() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

type codedErr struct{ code string }

func (e codedErr) Error() string     { return "coded: " + e.code }
func (e codedErr) ErrorCode() string { return e.code }

func TestFromError(t *testing.T) {
	op := Operation{Type: OpMutation, Path: "users.create"}

	if FromError(nil, op) != nil {
		t.Error("FromError(nil) should be nil")
	}

	plain := FromError(errors.New("plain"), op)
	if plain.Code != CodeInternal {
		t.Errorf("Code = %q, want %q", plain.Code, CodeInternal)
	}
	if plain.Type != OpMutation || plain.Path != "users.create" {
		t.Errorf("unexpected op fields: %+v", plain)
	}

	coded := FromError(codedErr{code: "NOT_FOUND"}, op)
	if coded.Code != "NOT_FOUND" {
		t.Errorf("Code = %q, want NOT_FOUND", coded.Code)
	}

	again := FromError(coded, Operation{Path: "other"})
	if again != coded {
		t.Error("FromError should return an existing ClientError unchanged")
	}
}
