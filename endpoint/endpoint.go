// Package endpoint provides the HTTP plumbing the JSON-RPC transports are
// built on.
//
// A request goes through three phases:
//
//  1. Processors: middleware-style Processor values run in order. They may
//     replace the request (typically its context) or short-circuit.
//  2. Endpoint: the EndpointFunc receives params decoded from the request by
//     Unmarshal (body, header, query and path sources) and returns a
//     Renderer. It does not write to the response directly.
//  3. Render: the Renderer writes status, headers and body.
//
// Errors returned from any phase are written as plain-text HTTP errors. An
// *EndpointError controls the status code; anything else is a 500.
//
// Renderers:
//   - JSONRenderer: serializes a value as JSON.
//   - RawJSONRenderer: writes pre-encoded JSON bytes.
//   - StringRenderer: writes a string.
//   - NoContentRenderer: writes a status code with no body.
package endpoint

import (
	"context"
	"errors"
	"io"
	"net/http"
)

// EndpointError is an error that maps directly to an HTTP status code.
type EndpointError struct {
	Status int
	// Message is a short description suitable for an HTTP error body.
	Message string
	Cause   error
}

func (e *EndpointError) Error() string {
	if e == nil {
		return "endpoint: error: <nil>"
	}
	msg := e.Message
	if msg == "" {
		msg = http.StatusText(e.Status)
		if msg == "" {
			msg = "unknown error"
		}
	}
	if e.Cause != nil {
		return msg + ": " + e.Cause.Error()
	}
	return msg
}

func (e *EndpointError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}

// Error creates an EndpointError. If err already wraps an EndpointError it
// is returned unchanged.
func Error(status int, message string, err error) error {
	var ee *EndpointError
	if errors.As(err, &ee) {
		return err
	}
	return &EndpointError{Status: status, Message: message, Cause: err}
}

// Renderer writes a response.
//
// Renderers must call w.WriteHeader. They may set Content-Type first. A
// non-nil error means writing failed part way; the handler cannot recover
// the response at that point and only reports it.
type Renderer interface {
	Render(w http.ResponseWriter, r *http.Request) error
}

// RendererFunc adapts a function to a Renderer.
type RendererFunc func(w http.ResponseWriter, r *http.Request) error

func (f RendererFunc) Render(w http.ResponseWriter, r *http.Request) error {
	return f(w, r)
}

// Processor runs before the endpoint.
//
// Processors call next to continue, or return without calling it to
// short-circuit. They must not write the response themselves; headers may be
// set directly or through Defer. A non-nil error stops the chain and is
// written as the response.
type Processor interface {
	Process(w http.ResponseWriter, r *http.Request, next func(w http.ResponseWriter, r *http.Request) error) error
}

// ProcessorFunc adapts a function to a Processor.
type ProcessorFunc func(w http.ResponseWriter, r *http.Request, next func(w http.ResponseWriter, r *http.Request) error) error

func (f ProcessorFunc) Process(w http.ResponseWriter, r *http.Request, next func(w http.ResponseWriter, r *http.Request) error) error {
	return f(w, r, next)
}

// EndpointFunc handles a request with params decoded from it and returns the
// Renderer for the response.
type EndpointFunc[P any] func(w http.ResponseWriter, r *http.Request, params P) (Renderer, error)

// EndpointHandler is the http.Handler wrapping an EndpointFunc and its
// processors.
type EndpointHandler[P any] struct {
	Endpoint   EndpointFunc[P]
	Processors []Processor
}

// Handler constructs an EndpointHandler, inferring P from fn.
func Handler[P any](fn EndpointFunc[P], processors ...Processor) *EndpointHandler[P] {
	return &EndpointHandler[P]{
		Endpoint:   fn,
		Processors: processors,
	}
}

// HandleFunc is Handler returning an http.HandlerFunc.
func HandleFunc[P any](fn EndpointFunc[P], processors ...Processor) http.HandlerFunc {
	return Handler(fn, processors...).ServeHTTP
}

type hooksKey struct{}

// Defer registers fn to run just before the response headers are written,
// whether the response is rendered or an error. Hooks run last-in first-out.
// Outside an EndpointHandler, Defer does nothing.
func Defer(ctx context.Context, fn func(http.ResponseWriter)) {
	if hooks, ok := ctx.Value(hooksKey{}).(*[]func(http.ResponseWriter)); ok && hooks != nil {
		*hooks = append(*hooks, fn)
	}
}

// Commit runs and clears the hooks registered with Defer.
func Commit(ctx context.Context, w http.ResponseWriter) {
	hooks, ok := ctx.Value(hooksKey{}).(*[]func(http.ResponseWriter))
	if !ok || hooks == nil {
		return
	}
	for i := len(*hooks) - 1; i >= 0; i-- {
		(*hooks)[i](w)
	}
	*hooks = nil
}

func (h *EndpointHandler[P]) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if h.Endpoint == nil {
		http.Error(w, "endpoint: nil EndpointFunc", http.StatusInternalServerError)
		return
	}
	if r.Context().Value(hooksKey{}) == nil {
		var hooks []func(http.ResponseWriter)
		r = r.WithContext(context.WithValue(r.Context(), hooksKey{}, &hooks))
	}

	if err := h.run(0, w, r); err != nil {
		writeError(w, r, err)
	}
}

// run calls processor i, whose next continues at i+1; past the last
// processor it decodes params, calls the endpoint and renders.
func (h *EndpointHandler[P]) run(i int, w http.ResponseWriter, r *http.Request) error {
	if i < len(h.Processors) {
		p := h.Processors[i]
		if p == nil {
			return errors.New("endpoint: nil processor")
		}
		return p.Process(w, r, func(w2 http.ResponseWriter, r2 *http.Request) error {
			return h.run(i+1, w2, r2)
		})
	}

	var params P
	if err := Unmarshal(r, &params); err != nil {
		return err
	}
	renderer, err := h.Endpoint(w, r, params)
	if err != nil {
		return err
	}
	if renderer == nil {
		return errors.New("endpoint: nil renderer")
	}
	if c, ok := renderer.(io.Closer); ok {
		defer c.Close()
	}

	Commit(r.Context(), w)
	return renderer.Render(w, r)
}

// StatusOf returns the HTTP status an error is written with: the status of
// a wrapped *EndpointError, or 500.
func StatusOf(err error) int {
	var ee *EndpointError
	if errors.As(err, &ee) && ee != nil && ee.Status >= 100 {
		return ee.Status
	}
	return http.StatusInternalServerError
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := StatusOf(err)
	message := err.Error()

	var ee *EndpointError
	if errors.As(err, &ee) && ee != nil {
		message = ee.Message
		if message == "" {
			message = http.StatusText(status)
		}
	}
	Commit(r.Context(), w)
	http.Error(w, message, status)
}
