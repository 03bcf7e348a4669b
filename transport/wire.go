package transport

import (
	"encoding/json"
	"errors"
	"io"

	"github.com/jonwraymond/rpclink/link"
	"github.com/jonwraymond/rpclink/procedure"
)

const (
	contentTypeJSON   = "application/json"
	contentTypeStream = "application/x-ndjson"

	// RequestIDHeader carries a per-request identifier.
	RequestIDHeader = "X-Request-Id"
)

type requestBody struct {
	Input any `json:"input,omitempty"`
}

type responseBody struct {
	Result *resultBody `json:"result,omitempty"`
	Error  *errorBody  `json:"error,omitempty"`
}

type resultBody struct {
	Type link.ResultType `json:"type,omitempty"`
	Data any             `json:"data"`
}

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Path    string `json:"path,omitempty"`
}

func dataBody(data any) responseBody {
	return responseBody{Result: &resultBody{Type: link.ResultData, Data: data}}
}

// errBody renders err for the wire. Messages of procedure errors are passed
// through; anything else keeps its error text.
func errBody(err error, path string) responseBody {
	body := &errorBody{Code: procedure.CodeOf(err), Message: err.Error(), Path: path}

	var pe *procedure.Error
	var ce *link.ClientError
	switch {
	case errors.As(err, &pe) && pe.Message != "":
		body.Message = pe.Message
	case errors.As(err, &ce) && ce.Cause != nil:
		body.Message = ce.Cause.Error()
	}
	return responseBody{Error: body}
}

// decodeJSON decodes one JSON value from r keeping numbers as json.Number,
// the same representation the JSON transformer produces.
func decodeJSON(dec *json.Decoder, v any) error {
	dec.UseNumber()
	return dec.Decode(v)
}

// readInput decodes a request body. An empty body is a nil input.
func readInput(r io.Reader) (any, error) {
	var body requestBody
	if err := decodeJSON(json.NewDecoder(r), &body); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, nil
		}
		return nil, err
	}
	return body.Input, nil
}
