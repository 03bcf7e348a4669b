package procedure

import (
	"context"
	"errors"

	"github.com/jonwraymond/rpclink/link"
	"github.com/jonwraymond/rpclink/observable"
)

// ErrNilCaller is returned by Link when no caller is given.
var ErrNilCaller = errors.New("procedure: caller is nil")

// errStopped is returned by emit after the observer unsubscribed.
var errStopped = errors.New("procedure: subscription stopped")

// Link returns a terminating link factory that executes every operation
// through caller. It never calls next.
//
// Queries and mutations emit one data result. Subscriptions require caller to
// implement Subscriber; they emit a started marker, one data result per value
// and a stopped marker. Unsubscribing cancels the subscription handler.
func Link(caller Caller) link.Factory {
	return func(rt link.Runtime) (link.Link, error) {
		if caller == nil {
			return nil, ErrNilCaller
		}
		t := &terminal{caller: caller, createContext: rt.CreateContext}
		return t.run, nil
	}
}

type terminal struct {
	caller        Caller
	createContext func(context.Context) (any, error)
}

func (t *terminal) request(ctx context.Context, op link.Operation) (Request, error) {
	req := Request{Type: op.Type, Path: op.Path, Input: op.Input}
	if t.createContext != nil {
		reqCtx, err := t.createContext(ctx)
		if err != nil {
			return req, err
		}
		req.Ctx = reqCtx
	}
	return req, nil
}

func (t *terminal) run(ctx context.Context, op link.Operation, _ link.NextFunc) link.ResultObservable {
	if op.Type == link.OpSubscription {
		return t.subscribe(ctx, op)
	}

	return observable.New(func(obs link.ResultObserver) observable.Teardown {
		go func() {
			req, err := t.request(ctx, op)
			if err != nil {
				obs.Error(link.FromError(err, op))
				return
			}
			data, err := t.caller.Call(ctx, req)
			if err != nil {
				obs.Error(link.FromError(err, op))
				return
			}
			obs.Next(link.DataEnvelope(data))
			obs.Complete()
		}()
		return nil
	})
}

func (t *terminal) subscribe(ctx context.Context, op link.Operation) link.ResultObservable {
	sub, ok := t.caller.(Subscriber)
	if !ok {
		return link.Fail(Errorf(CodeBadRequest, "subscriptions are not supported for %q", op.Path), op)
	}

	return observable.New(func(obs link.ResultObserver) observable.Teardown {
		subCtx, cancel := context.WithCancel(ctx)
		go func() {
			defer cancel()

			req, err := t.request(subCtx, op)
			if err != nil {
				obs.Error(link.FromError(err, op))
				return
			}

			obs.Next(link.Envelope{Result: link.Result{Type: link.ResultStarted}})
			err = sub.Subscribe(subCtx, req, func(v any) error {
				if subCtx.Err() != nil {
					return errStopped
				}
				obs.Next(link.DataEnvelope(v))
				return nil
			})
			if err != nil && !errors.Is(err, errStopped) && subCtx.Err() == nil {
				obs.Error(link.FromError(err, op))
				return
			}
			obs.Next(link.Envelope{Result: link.Result{Type: link.ResultStopped}})
			obs.Complete()
		}()
		return observable.Teardown(cancel)
	})
}
