package jsonrpc

import (
	"context"
	"log/slog"
	"time"
)

// Next invokes the remainder of a method's call chain.
type Next func(ctx context.Context, req *Request) (any, error)

// Middleware wraps method invocation.
//
// Protocol:
//   - Middleware should call next to continue the chain, unless it intends to
//     short-circuit the call with its own result or error.
//   - Middleware may replace ctx or req before calling next.
//
// Server middlewares (WithMiddleware) run outside route middlewares, each in
// registration order. Middleware runs only for methods that exist; unknown
// methods are answered with -32601 before any middleware.
type Middleware interface {
	Handle(ctx context.Context, req *Request, next Next) (any, error)
}

// MiddlewareFunc adapts a function to a Middleware.
type MiddlewareFunc func(ctx context.Context, req *Request, next Next) (any, error)

func (f MiddlewareFunc) Handle(ctx context.Context, req *Request, next Next) (any, error) {
	return f(ctx, req, next)
}

func chain(mws []Middleware, final Next) Next {
	next := final
	for i := len(mws) - 1; i >= 0; i-- {
		mw, inner := mws[i], next
		next = func(ctx context.Context, req *Request) (any, error) {
			return mw.Handle(ctx, req, inner)
		}
	}
	return next
}

// LoggingMiddleware logs every call with its method, id, duration and, on
// failure, the error code.
func LoggingMiddleware(logger *slog.Logger) Middleware {
	if logger == nil {
		logger = slog.Default()
	}
	return MiddlewareFunc(func(ctx context.Context, req *Request, next Next) (any, error) {
		start := time.Now()
		res, err := next(ctx, req)

		attrs := []any{
			slog.String("method", req.Method),
			slog.Duration("elapsed", time.Since(start)),
		}
		if req.ID != nil {
			attrs = append(attrs, slog.String("id", req.ID.String()))
		} else {
			attrs = append(attrs, slog.Bool("notification", true))
		}
		if err != nil {
			rpcErr := ToError(err)
			attrs = append(attrs, slog.Int("code", rpcErr.Code), slog.String("error", rpcErr.Message))
			logger.WarnContext(ctx, "rpc call failed", attrs...)
			return res, err
		}
		logger.InfoContext(ctx, "rpc call", attrs...)
		return res, nil
	})
}
