// Package httprpc serves a jsonrpc.Server over HTTP.
//
// Each POST body is handed to Server.Handle. Replies are written with status
// 200 and Content-Type application/json; bodies made only of notifications
// get 204 No Content. JSON-RPC errors, including parse errors, are always
// delivered inside a 200 response. Only transport failures use HTTP status
// codes:
//   - 405 for methods other than POST
//   - 415 when Content-Type is set and is not JSON
//   - 413 when the body exceeds the configured limit
//
// Use Handler for a ready http.Handler, or New and Transport.Endpoint to
// compose with other endpoint processors.
package httprpc

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/Deniallugo/jsonrpc-v2/endpoint"
	"github.com/Deniallugo/jsonrpc-v2/jsonrpc"
)

// DefaultMaxBody is the request body limit used unless WithMaxBody is given.
const DefaultMaxBody = 1 << 20

// Body holds the raw request body. Parsing is deferred to the jsonrpc
// server because JSON-RPC reports malformed JSON as a -32700 response, not
// as an HTTP error.
type Body struct {
	Data []byte `body:"" maxLength:"0"`
}

// Option configures a Transport.
type Option func(*Transport)

// WithMaxBody sets the request body limit in bytes. n <= 0 disables it.
func WithMaxBody(n int64) Option {
	return func(t *Transport) {
		t.maxBody = n
	}
}

// WithLogger sets the logger for requests abandoned by the client.
func WithLogger(logger *slog.Logger) Option {
	return func(t *Transport) {
		if logger != nil {
			t.logger = logger
		}
	}
}

// Transport adapts a jsonrpc.Server to HTTP.
type Transport struct {
	srv     *jsonrpc.Server
	maxBody int64
	logger  *slog.Logger
}

// New creates a Transport for srv.
func New(srv *jsonrpc.Server, opts ...Option) *Transport {
	t := &Transport{srv: srv, maxBody: DefaultMaxBody, logger: slog.Default()}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Handler returns an http.Handler serving srv behind the given processors.
func Handler(srv *jsonrpc.Server, processors ...endpoint.Processor) http.Handler {
	return New(srv).Handler(processors...)
}

// Handler returns an http.Handler running processors, then the body limit,
// then Endpoint.
func (t *Transport) Handler(processors ...endpoint.Processor) http.Handler {
	chain := append(append([]endpoint.Processor{}, processors...), t.LimitBody())
	return endpoint.Handler(t.Endpoint, chain...)
}

// LimitBody returns a processor capping the request body at the configured
// limit. It must run after any processor that reads the body.
func (t *Transport) LimitBody() endpoint.Processor {
	return endpoint.ProcessorFunc(func(w http.ResponseWriter, r *http.Request, next func(http.ResponseWriter, *http.Request) error) error {
		if t.maxBody > 0 && r.Body != nil {
			r.Body = http.MaxBytesReader(w, r.Body, t.maxBody)
		}
		return next(w, r)
	})
}

// Endpoint is the endpoint.EndpointFunc handling one HTTP request.
func (t *Transport) Endpoint(w http.ResponseWriter, r *http.Request, body Body) (endpoint.Renderer, error) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		return nil, endpoint.Error(http.StatusMethodNotAllowed, "JSON-RPC requires POST method", nil)
	}
	if ct := r.Header.Get("Content-Type"); ct != "" && !endpoint.IsJSONContentType(ct) {
		return nil, endpoint.Error(http.StatusUnsupportedMediaType, "Content-Type must be application/json", nil)
	}

	reply, err := t.srv.Handle(r.Context(), body.Data)
	if err != nil {
		t.logger.DebugContext(r.Context(), "httprpc: request abandoned",
			slog.String("remote", r.RemoteAddr),
			slog.Any("error", err))
		if errors.Is(err, r.Context().Err()) {
			return nil, endpoint.Error(http.StatusServiceUnavailable, "request cancelled", err)
		}
		return nil, err
	}
	if reply == nil {
		return &endpoint.NoContentRenderer{}, nil
	}
	return &endpoint.RawJSONRenderer{Body: reply}, nil
}
