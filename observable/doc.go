// Package observable provides the single-subscriber push stream that carries
// operation results through a link chain.
//
// An Observable is created with an initializer that receives an Observer and
// returns an optional Teardown. Subscribing runs the initializer synchronously.
// Error and Complete are terminal and absorbing: once either is delivered, no
// further signal reaches the subscriber. Unsubscribing stops delivery and runs
// the teardown exactly once; it does not abort work that is already in flight,
// whose eventual signals are discarded.
//
// Two adapters convert an Observable for consumers that do not want callbacks:
//
//   - ToPromise: one-shot result (query, mutation).
//   - ToStream: bounded multi-value channel with backpressure (subscription).
package observable
