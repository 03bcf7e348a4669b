package transport

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"sync/atomic"

	"go.opentelemetry.io/otel/propagation"

	"github.com/jonwraymond/rpclink/auth"
	"github.com/jonwraymond/rpclink/link"
	"github.com/jonwraymond/rpclink/observable"
	"github.com/jonwraymond/rpclink/observe"
	"github.com/jonwraymond/rpclink/procedure"
)

// DefaultMaxBodyBytes bounds request bodies.
const DefaultMaxBodyBytes = 1 << 20

// subscriptionBuffer is how many values a subscription may run ahead of the
// client before the producer blocks.
const subscriptionBuffer = 16

// HandlerOption configures a Handler.
type HandlerOption func(*handlerOptions)

type handlerOptions struct {
	links        []link.Factory
	logger       observe.Logger
	maxBodyBytes int64
}

// WithLinks places links in front of the procedure caller, outermost first.
func WithLinks(factories ...link.Factory) HandlerOption {
	return func(o *handlerOptions) {
		o.links = append(o.links, factories...)
	}
}

// WithHandlerLogger sets the logger for rejected requests.
func WithHandlerLogger(logger observe.Logger) HandlerOption {
	return func(o *handlerOptions) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithMaxBodyBytes bounds request bodies. Defaults to DefaultMaxBodyBytes.
func WithMaxBodyBytes(n int64) HandlerOption {
	return func(o *handlerOptions) {
		if n > 0 {
			o.maxBodyBytes = n
		}
	}
}

// Handler serves operations over HTTP. The procedure path is the request
// path with surrounding slashes removed; mount it with http.StripPrefix when
// it shares a mux.
type Handler struct {
	chain        link.Link
	logger       observe.Logger
	maxBodyBytes int64
	propagator   propagation.TextMapPropagator
	nextID       atomic.Int64
}

// NewHandler builds a handler that runs every request through the configured
// links and then caller. createContext becomes the chain's
// Runtime.CreateContext; auth.CreateContext is the usual choice.
func NewHandler(caller procedure.Caller, createContext func(context.Context) (any, error), opts ...HandlerOption) (*Handler, error) {
	if caller == nil {
		return nil, ErrNilCaller
	}

	o := handlerOptions{logger: observe.NopLogger(), maxBodyBytes: DefaultMaxBodyBytes}
	for _, opt := range opts {
		opt(&o)
	}

	factories := append(append([]link.Factory(nil), o.links...), procedure.Link(caller))
	chain, err := link.Compose(link.Runtime{CreateContext: createContext}, factories...)
	if err != nil {
		return nil, err
	}

	return &Handler{
		chain:        chain,
		logger:       o.logger,
		maxBodyBytes: o.maxBodyBytes,
		propagator:   propagation.TraceContext{},
	}, nil
}

// ServeHTTP implements http.Handler.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	path := strings.Trim(r.URL.Path, "/")
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		h.writeError(w, r, http.StatusMethodNotAllowed,
			procedure.Errorf(procedure.CodeBadRequest, "method %s not allowed", r.Method), path)
		return
	}
	if path == "" {
		h.writeError(w, r, http.StatusNotFound, procedure.NewError(procedure.CodeNotFound, "missing procedure path"), path)
		return
	}

	opType := link.OpQuery
	if t := r.URL.Query().Get("type"); t != "" {
		parsed, err := link.ParseOpType(t)
		if err != nil {
			h.writeError(w, r, http.StatusBadRequest, procedure.Errorf(procedure.CodeBadRequest, "%w", err), path)
			return
		}
		opType = parsed
	}

	input, err := readInput(http.MaxBytesReader(w, r.Body, h.maxBodyBytes))
	if err != nil {
		status := http.StatusBadRequest
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			status = http.StatusRequestEntityTooLarge
		}
		h.writeError(w, r, status, procedure.Errorf(procedure.CodeBadRequest, "decode input: %w", err), path)
		return
	}

	ctx := h.propagator.Extract(r.Context(), propagation.HeaderCarrier(r.Header))
	ctx = auth.WithHeaders(ctx, r.Header.Clone())
	if id := r.Header.Get(RequestIDHeader); id != "" {
		w.Header().Set(RequestIDHeader, id)
	}

	op := link.Operation{
		ID:    h.nextID.Add(1),
		Type:  opType,
		Path:  path,
		Input: input,
	}

	if opType == link.OpSubscription {
		h.stream(ctx, w, r, op)
		return
	}

	env, err := observable.ToPromise(link.Execute(ctx, h.chain, op)).Await(ctx)
	if err != nil {
		h.writeError(w, r, StatusFromCode(procedure.CodeOf(err)), err, path)
		return
	}
	writeJSON(w, http.StatusOK, dataBody(env.Result.Data))
}

func (h *Handler) stream(ctx context.Context, w http.ResponseWriter, r *http.Request, op link.Operation) {
	s := observable.ToStream(link.Execute(ctx, h.chain, op), subscriptionBuffer)
	defer s.Close()

	flusher, _ := w.(http.Flusher)
	enc := json.NewEncoder(w)
	started := false

	for {
		env, err := s.Recv(ctx)
		if errors.Is(err, io.EOF) || errors.Is(err, context.Canceled) {
			return
		}
		if err != nil {
			if !started {
				h.writeError(w, r, StatusFromCode(procedure.CodeOf(err)), err, op.Path)
				return
			}
			h.logRejected(r, err, op.Path)
			_ = enc.Encode(errBody(err, op.Path))
			return
		}
		if env.Result.Type != link.ResultData && started {
			continue
		}

		if !started {
			w.Header().Set("Content-Type", contentTypeStream)
			w.WriteHeader(http.StatusOK)
			started = true
		}
		if env.Result.Type == link.ResultData {
			if err := enc.Encode(dataBody(env.Result.Data)); err != nil {
				return
			}
		}
		if flusher != nil {
			flusher.Flush()
		}
	}
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, status int, err error, path string) {
	h.logRejected(r, err, path)
	writeJSON(w, status, errBody(err, path))
}

func (h *Handler) logRejected(r *http.Request, err error, path string) {
	h.logger.Warn(r.Context(), "operation rejected",
		observe.Field{Key: "path", Value: path},
		observe.Field{Key: "code", Value: procedure.CodeOf(err)},
		observe.Field{Key: "error", Value: err.Error()},
	)
}

func writeJSON(w http.ResponseWriter, status int, body responseBody) {
	w.Header().Set("Content-Type", contentTypeJSON)
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

var _ http.Handler = (*Handler)(nil)
