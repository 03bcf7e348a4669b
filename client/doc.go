// Package client issues operations through a link chain.
//
// A Client numbers every operation it issues, attaches the configured
// credentials to the context, and exposes the three operation kinds:
// Query and Mutate wait for the single result, Subscribe returns a Stream.
//
// FromConfig builds the whole chain from a config.Config, outermost first:
//
//	observe → auth → resilience → cache → terminal (HTTP)
//
// Links that are not configured are left out. The same Client computes the
// cache tag of an operation and invalidates tags, so cached results can be
// dropped after an out-of-band change.
package client
