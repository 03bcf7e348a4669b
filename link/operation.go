package link

import "fmt"

// OpType is the kind of remote procedure call.
type OpType string

const (
	OpQuery        OpType = "query"
	OpMutation     OpType = "mutation"
	OpSubscription OpType = "subscription"
)

// Valid reports whether t is a known operation type.
func (t OpType) Valid() bool {
	switch t {
	case OpQuery, OpMutation, OpSubscription:
		return true
	default:
		return false
	}
}

// ParseOpType parses an operation type name.
func ParseOpType(s string) (OpType, error) {
	t := OpType(s)
	if !t.Valid() {
		return "", fmt.Errorf("link: unknown operation type %q", s)
	}
	return t, nil
}

// Operation describes one remote procedure call.
//
// Operations are values. Links that need a variant call WithInput or
// WithContext and pass the copy downstream; the caller's copy is never
// modified in place.
type Operation struct {
	// ID is unique per in-flight call.
	ID int64

	// Type selects query, mutation or subscription semantics.
	Type OpType

	// Path is the dot-delimited procedure name, e.g. "users.get".
	Path string

	// Input is the procedure input.
	Input any

	// Context carries per-operation options.
	Context Context
}

// WithInput returns a copy of op with a different input.
func (op Operation) WithInput(input any) Operation {
	op.Input = input
	return op
}

// WithContext returns a copy of op with a different context.
func (op Operation) WithContext(c Context) Operation {
	op.Context = c
	return op
}

// String returns a short description for logs and errors.
func (op Operation) String() string {
	return fmt.Sprintf("%s %s #%d", op.Type, op.Path, op.ID)
}
