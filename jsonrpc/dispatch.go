package jsonrpc

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"

	"golang.org/x/sync/errgroup"
)

// Handle dispatches a raw JSON-RPC body and returns the encoded reply.
//
// A nil reply with a nil error means there is nothing to send: the body was a
// notification or a batch of notifications. Malformed input never fails the
// call; it is answered with the matching JSON-RPC error object. The only
// error returned is ctx.Err() when ctx ends before every request in the body
// has completed, in which case partial results are discarded.
func (s *Server) Handle(ctx context.Context, body []byte) ([]byte, error) {
	reply, err := s.handleBytes(ctx, body)
	if err != nil || reply == nil {
		return nil, err
	}
	out, err := json.Marshal(reply)
	if err != nil {
		return nil, fmt.Errorf("jsonrpc: encode reply: %w", err)
	}
	return out, nil
}

// HandleRequest dispatches one decoded request. It returns nil for
// notifications.
func (s *Server) HandleRequest(ctx context.Context, req *Request) (*Response, error) {
	if req == nil {
		return topLevelError(invalidRequest("request must be an object")), nil
	}
	out, err := s.run(ctx, []call{s.validated(req)})
	if err != nil || len(out) == 0 {
		return nil, err
	}
	return out[0], nil
}

// HandleBatch dispatches decoded requests as a batch. Responses keep the
// order of reqs with notifications left out; the result is nil when every
// request was a notification.
func (s *Server) HandleBatch(ctx context.Context, reqs []*Request) ([]*Response, error) {
	if len(reqs) == 0 {
		return []*Response{topLevelError(invalidRequest("empty batch"))}, nil
	}
	if s.maxBatch > 0 && len(reqs) > s.maxBatch {
		return []*Response{topLevelError(invalidRequest("batch too large"))}, nil
	}
	calls := make([]call, len(reqs))
	for i, req := range reqs {
		if req == nil {
			calls[i] = call{failed: topLevelError(invalidRequest("request must be an object"))}
			continue
		}
		calls[i] = s.validated(req)
	}
	return s.run(ctx, calls)
}

// handleBytes returns a *Response, a []*Response, or nil.
func (s *Server) handleBytes(ctx context.Context, body []byte) (any, error) {
	body = bytes.TrimSpace(body)
	if !json.Valid(body) {
		return topLevelError(NewError(CodeParseError, "")), nil
	}

	switch body[0] {
	case '{':
		out, err := s.run(ctx, []call{parseCall(body)})
		if err != nil || len(out) == 0 {
			return nil, err
		}
		return out[0], nil
	case '[':
		var elems []json.RawMessage
		if err := json.Unmarshal(body, &elems); err != nil {
			return topLevelError(NewError(CodeParseError, "")), nil
		}
		if len(elems) == 0 {
			return topLevelError(invalidRequest("empty batch")), nil
		}
		if s.maxBatch > 0 && len(elems) > s.maxBatch {
			return topLevelError(invalidRequest("batch too large")), nil
		}
		calls := make([]call, len(elems))
		for i, elem := range elems {
			calls[i] = parseCall(elem)
		}
		out, err := s.run(ctx, calls)
		if err != nil || out == nil {
			return nil, err
		}
		return out, nil
	default:
		return topLevelError(invalidRequest("request must be an object or a non-empty array")), nil
	}
}

// call is one slot of a dispatch: either a request to run or a response
// already decided during validation.
type call struct {
	req    *Request
	failed *Response
}

func parseCall(raw []byte) call {
	req, id, rpcErr := parseRequest(raw)
	if rpcErr != nil {
		return call{failed: &Response{ID: id, Error: rpcErr}}
	}
	return call{req: req}
}

// validated applies the structural checks parseRequest performs on wire
// input to a request built in Go.
func (s *Server) validated(req *Request) call {
	var id ID
	if req.ID != nil {
		id = *req.ID
	}
	if req.Method == "" {
		return call{failed: &Response{ID: id, Error: invalidRequest("method must be a non-empty string")}}
	}
	params := normalizeParams(req.Params)
	if params != nil && params[0] != '{' && params[0] != '[' {
		return call{failed: &Response{ID: id, Error: invalidRequest("params must be an object or array")}}
	}
	return call{req: &Request{Method: req.Method, Params: params, ID: req.ID}}
}

// run executes every call concurrently and collects the responses in input
// order. Each call owns its slot, so no lock is held while handlers run.
func (s *Server) run(ctx context.Context, calls []call) ([]*Response, error) {
	slots := make([]*Response, len(calls))
	done := make(chan struct{})

	go func() {
		defer close(done)
		// A plain Group: a failing call must not cancel its siblings.
		var g errgroup.Group
		if s.concurrency > 0 {
			g.SetLimit(s.concurrency)
		}
		for i, c := range calls {
			if c.req == nil {
				slots[i] = c.failed
				continue
			}
			if ctx.Err() != nil {
				break
			}
			g.Go(func() error {
				slots[i] = s.dispatch(ctx, c.req)
				return nil
			})
		}
		_ = g.Wait()
	}()

	select {
	case <-done:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var out []*Response
	for _, r := range slots {
		if r != nil {
			out = append(out, r)
		}
	}
	return out, nil
}

// dispatch runs one structurally valid request. It returns nil for
// notifications, whatever the outcome.
func (s *Server) dispatch(ctx context.Context, req *Request) *Response {
	result, err := s.invoke(ctx, req)

	if req.IsNotification() {
		if err != nil {
			s.logger.DebugContext(ctx, "jsonrpc: notification failed",
				slog.String("method", req.Method),
				slog.Any("error", err))
		}
		return nil
	}

	resp := &Response{ID: *req.ID}
	if err != nil {
		resp.Error = s.toError(err)
		return resp
	}
	raw, err := marshalResult(result)
	if err != nil {
		s.logger.ErrorContext(ctx, "jsonrpc: encode result",
			slog.String("method", req.Method),
			slog.Any("error", err))
		resp.Error = InternalError(nil)
		return resp
	}
	resp.Result = raw
	return resp
}

// invoke looks up the method and runs its call chain. A panic anywhere in
// the chain is recovered here and becomes -32603.
func (s *Server) invoke(ctx context.Context, req *Request) (result any, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			s.logger.ErrorContext(ctx, "jsonrpc: handler panic",
				slog.String("method", req.Method),
				slog.Any("panic", rec),
				slog.String("stack", string(debug.Stack())))
			result, err = nil, InternalError(nil)
		}
	}()

	rt, ok := s.registry.route(req.Method)
	if !ok {
		return nil, NewError(CodeMethodNotFound, "").WithData(req.Method)
	}

	ctx = withExtensions(ctx, s.ext)
	ctx = context.WithValue(ctx, requestKey{}, req)
	if rt.call == nil {
		return rt.handler.Invoke(ctx, NewParams(req.Params))
	}
	return rt.call(ctx, req)
}

func marshalResult(v any) (json.RawMessage, error) {
	if raw, ok := v.(json.RawMessage); ok {
		if len(raw) == 0 {
			return json.RawMessage("null"), nil
		}
		if !json.Valid(raw) {
			return nil, errors.New("invalid raw JSON result")
		}
		return raw, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return b, nil
}

func topLevelError(e *Error) *Response {
	return &Response{ID: NullID(), Error: e}
}
