package link

import "github.com/jonwraymond/rpclink/observable"

// ResultType distinguishes data results from subscription lifecycle markers.
type ResultType string

const (
	ResultData    ResultType = "data"
	ResultStarted ResultType = "started"
	ResultStopped ResultType = "stopped"
)

// Result is one result variant.
type Result struct {
	Type ResultType
	Data any
}

// Envelope is what a link chain emits for an operation.
type Envelope struct {
	Result  Result
	Context Context
}

// DataEnvelope wraps a data result.
func DataEnvelope(data any) Envelope {
	return Envelope{Result: Result{Type: ResultData, Data: data}}
}

// ResultObservable carries zero or more envelopes and ends with completion
// or a single error.
type ResultObservable = *observable.Observable[Envelope]

// ResultObserver receives envelopes.
type ResultObserver = observable.Observer[Envelope]
