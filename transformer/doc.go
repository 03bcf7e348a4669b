// Package transformer serializes procedure results into storage-agnostic
// bytes and back.
//
// A Transformer pairs an Input codec (applied before a value is stored or
// sent) with an Output codec (applied when it is read back). Most callers use
// Combined to apply the same codec in both directions.
package transformer
