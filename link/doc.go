// Package link defines the operation pipeline: the Operation descriptor that
// flows through a chain, the result Envelope that flows back, the Link
// interceptor type and the composer that folds an ordered list of links into
// a single callable pipeline.
//
// A Link receives an operation and a next continuation and returns an
// observable of results. It may rewrite the operation, short-circuit by never
// calling next, retry, or forward. The last link of a chain must terminate it
// (for example procedure.Link or a cache link); reaching past the end yields
// ErrNoTerminalLink.
package link
