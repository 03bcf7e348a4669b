package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/otel/propagation"

	"github.com/jonwraymond/rpclink/auth"
	"github.com/jonwraymond/rpclink/observe"
	"github.com/jonwraymond/rpclink/procedure"
)

// maxErrorBody bounds how much of a non-JSON error response is kept.
const maxErrorBody = 4 << 10

// CallerConfig configures an HTTPCaller.
type CallerConfig struct {
	// BaseURL is the server endpoint, e.g. "http://localhost:8080/rpc".
	// Required.
	BaseURL string

	// Client sends the requests. Defaults to a client whose transport logs
	// every request through Logger. Deadlines come from the context.
	Client *http.Client

	// Headers are sent with every request. Headers carried on the context
	// (auth.WithHeaders) override them.
	Headers http.Header

	// UserAgent is sent unless the headers already set one.
	// Default: "rpclink"
	UserAgent string

	// HeaderTimeout bounds the wait for response headers on the default
	// client, so a subscription stream is limited only until it starts.
	// Zero waits indefinitely. Ignored when Client is set.
	HeaderTimeout time.Duration

	// Logger receives request logs. Defaults to a no-op logger.
	Logger observe.Logger
}

// HTTPCaller executes procedures on a remote Handler.
//
// Contract:
//   - Concurrency: safe for concurrent use.
//   - Errors: server failures come back as *RemoteError carrying the
//     procedure error code; network failures are returned wrapped.
//   - Context: the request is bound to ctx; cancelling ctx ends a
//     subscription stream.
type HTTPCaller struct {
	base       *url.URL
	client     *http.Client
	headers    http.Header
	propagator propagation.TextMapPropagator
}

// NewHTTPCaller creates a caller for cfg.
func NewHTTPCaller(cfg CallerConfig) (*HTTPCaller, error) {
	if cfg.BaseURL == "" {
		return nil, ErrMissingBaseURL
	}
	base, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("transport: parse base URL: %w", err)
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = "rpclink"
	}
	if cfg.Logger == nil {
		cfg.Logger = observe.NopLogger()
	}

	client := cfg.Client
	if client == nil {
		var base http.RoundTripper
		if cfg.HeaderTimeout > 0 {
			t := http.DefaultTransport.(*http.Transport).Clone()
			t.ResponseHeaderTimeout = cfg.HeaderTimeout
			base = t
		}
		client = &http.Client{Transport: newLoggingTransport(base, cfg.Logger)}
	}

	headers := cfg.Headers.Clone()
	if headers == nil {
		headers = http.Header{}
	}
	if headers.Get("User-Agent") == "" {
		headers.Set("User-Agent", cfg.UserAgent)
	}

	return &HTTPCaller{
		base:       base,
		client:     client,
		headers:    headers,
		propagator: propagation.TraceContext{},
	}, nil
}

func (c *HTTPCaller) newRequest(ctx context.Context, req procedure.Request, accept string) (*http.Request, error) {
	body, err := json.Marshal(requestBody{Input: req.Input})
	if err != nil {
		return nil, procedure.Errorf(procedure.CodeBadRequest, "encode input: %w", err)
	}

	u := c.base.JoinPath(req.Path)
	u.RawQuery = url.Values{"type": {string(req.Type)}}.Encode()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, u.String(), bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("transport: build request: %w", err)
	}

	for k, v := range c.headers {
		httpReq.Header[k] = append([]string(nil), v...)
	}
	for k, v := range auth.HeadersFromContext(ctx) {
		httpReq.Header[k] = append([]string(nil), v...)
	}
	httpReq.Header.Set("Content-Type", contentTypeJSON)
	httpReq.Header.Set("Accept", accept)
	c.propagator.Inject(ctx, propagation.HeaderCarrier(httpReq.Header))

	return httpReq, nil
}

func (c *HTTPCaller) do(ctx context.Context, req procedure.Request, accept string) (*http.Response, error) {
	httpReq, err := c.newRequest(ctx, req, accept)
	if err != nil {
		return nil, err
	}
	resp, err := c.client.Do(httpReq)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, procedure.Errorf(procedure.CodeUnavailable, "%s %s: %w", req.Type, req.Path, err)
	}
	return resp, nil
}

// Call executes a query or mutation and returns its data.
func (c *HTTPCaller) Call(ctx context.Context, req procedure.Request) (any, error) {
	resp, err := c.do(ctx, req, contentTypeJSON)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	if !strings.HasPrefix(resp.Header.Get("Content-Type"), contentTypeJSON) {
		return nil, statusError(resp)
	}

	var body responseBody
	if err := decodeJSON(json.NewDecoder(resp.Body), &body); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformedResponse, err)
	}
	return unwrap(body, resp.StatusCode)
}

// Subscribe streams a subscription, calling emit for every value until the
// server ends the stream, emit fails or ctx is cancelled.
func (c *HTTPCaller) Subscribe(ctx context.Context, req procedure.Request, emit procedure.EmitFunc) error {
	resp, err := c.do(ctx, req, contentTypeStream)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	ct := resp.Header.Get("Content-Type")
	if strings.HasPrefix(ct, contentTypeJSON) {
		// The server refused before streaming.
		var body responseBody
		if err := decodeJSON(json.NewDecoder(resp.Body), &body); err != nil {
			return fmt.Errorf("%w: %w", ErrMalformedResponse, err)
		}
		_, err := unwrap(body, resp.StatusCode)
		return err
	}
	if !strings.HasPrefix(ct, contentTypeStream) {
		return statusError(resp)
	}

	dec := json.NewDecoder(resp.Body)
	for {
		var body responseBody
		if err := decodeJSON(dec, &body); err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			if ctxErr := ctx.Err(); ctxErr != nil {
				return ctxErr
			}
			return fmt.Errorf("%w: %w", ErrMalformedResponse, err)
		}
		data, err := unwrap(body, resp.StatusCode)
		if err != nil {
			return err
		}
		if err := emit(data); err != nil {
			return err
		}
	}
}

func unwrap(body responseBody, status int) (any, error) {
	switch {
	case body.Error != nil:
		return nil, &RemoteError{Status: status, Code: body.Error.Code, Message: body.Error.Message}
	case body.Result != nil:
		return body.Result.Data, nil
	default:
		return nil, ErrMalformedResponse
	}
}

func statusError(resp *http.Response) error {
	msg, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	return &RemoteError{
		Status:  resp.StatusCode,
		Code:    CodeFromStatus(resp.StatusCode),
		Message: strings.TrimSpace(string(msg)),
	}
}

var (
	_ procedure.Caller     = (*HTTPCaller)(nil)
	_ procedure.Subscriber = (*HTTPCaller)(nil)
)
