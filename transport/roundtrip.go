package transport

import (
	"net/http"
	"net/url"
	"time"

	"github.com/google/uuid"

	"github.com/jonwraymond/rpclink/observe"
)

// loggingTransport stamps every request with a request ID and logs its
// outcome. Failed requests and error statuses log at warn level.
type loggingTransport struct {
	base   http.RoundTripper
	logger observe.Logger
	now    func() time.Time
}

func newLoggingTransport(base http.RoundTripper, logger observe.Logger) *loggingTransport {
	if base == nil {
		base = http.DefaultTransport
	}
	return &loggingTransport{base: base, logger: logger, now: time.Now}
}

// RoundTrip implements http.RoundTripper.
func (t *loggingTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if req.Header.Get(RequestIDHeader) == "" {
		req = req.Clone(req.Context())
		req.Header.Set(RequestIDHeader, uuid.NewString())
	}

	start := t.now()
	resp, err := t.base.RoundTrip(req)
	fields := []observe.Field{
		{Key: "method", Value: req.Method},
		{Key: "url", Value: redactURL(req.URL)},
		{Key: "request_id", Value: req.Header.Get(RequestIDHeader)},
		{Key: "duration_ms", Value: t.now().Sub(start).Milliseconds()},
	}

	ctx := req.Context()
	if err != nil {
		t.logger.Warn(ctx, "http request failed", append(fields, observe.Field{Key: "error", Value: err.Error()})...)
		return nil, err
	}

	fields = append(fields, observe.Field{Key: "status", Value: resp.StatusCode})
	if resp.StatusCode >= 400 {
		t.logger.Warn(ctx, "http request", fields...)
	} else {
		t.logger.Debug(ctx, "http request", fields...)
	}
	return resp, nil
}

// redactURL drops user info and the query string, which may carry
// credentials.
func redactURL(u *url.URL) string {
	c := *u
	c.User = nil
	c.RawQuery = ""
	c.Fragment = ""
	return c.String()
}
