// Package procedure defines the dispatcher contract used at the end of a link
// chain.
//
// A Caller executes a query or mutation by path and returns its raw output.
// A Subscriber additionally streams values for subscription procedures.
// Router is a small path-keyed implementation of both, suitable for in-process
// servers and tests, and Link turns any Caller into the terminating link of a
// chain.
package procedure
