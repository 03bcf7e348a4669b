// Package transport carries operations over HTTP.
//
// The wire is JSON. An operation is a POST to <base>/<path>?type=<type> with
// the body {"input": ...}. Queries and mutations answer with one object,
// either {"result":{"type":"data","data":...}} or
// {"error":{"code":...,"message":...}}, and an HTTP status derived from the
// error code. Subscriptions answer with newline-delimited objects of the same
// shape, one per value, ending with the stream or an error object.
//
// HTTPCaller is the client side and implements procedure.Caller and
// procedure.Subscriber, so it can terminate a link chain through
// procedure.Link. Handler is the server side; it runs each request through
// its own link chain in front of a procedure.Caller. Request headers are
// placed on the context with auth.WithHeaders and W3C trace context is
// propagated in both directions.
package transport
