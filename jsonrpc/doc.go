// Package jsonrpc implements a transport-agnostic JSON-RPC 2.0 server core.
//
// This package implements the JSON-RPC 2.0 specification
// (https://www.jsonrpc.org/specification). It takes raw JSON bytes (or
// decoded request objects), routes each request to a registered method and
// returns the encoded reply. Transports live elsewhere: see package httprpc
// for HTTP and package stream for newline-delimited streams.
//
// # Basic Usage
//
// Build a server, register methods, and hand it request bodies:
//
//	b := jsonrpc.NewBuilder(jsonrpc.WithData(counter))
//	b.Register("add", jsonrpc.Method(add))
//	srv, err := b.Build()
//	...
//	reply, err := srv.Handle(ctx, body) // reply == nil: nothing to send
//
// Methods are typed functions wrapped with Method:
//
//	type AddParams struct {
//	    A int `json:"a"`
//	    B int `json:"b"`
//	}
//
//	func add(ctx context.Context, p AddParams) (int, error) {
//	    return p.A + p.B, nil
//	}
//
// # Params
//
// Struct params accept both named (object) and positional (array) params.
// Positional elements fill fields in declaration order. Pointer fields and
// fields tagged omitempty are optional; every other field must be present.
// Absent params are accepted when nothing is required. Extraction failures
// are answered with -32602 and the method is not called.
//
// # Receivers
//
// As an alternative to Method, the exported methods of a struct can be
// registered in bulk:
//
//	b.RegisterReceiver("math", &MathMethods{})  // -> "math.Add", ...
//
// Methods must have the signature func(ctx context.Context, params P) (R, error).
// A `_` field with a `jsonrpc` tag overrides the method name:
//
//	type AddParams struct {
//	    _ struct{} `jsonrpc:"add"`
//	    A int `json:"a"`
//	    B int `json:"b"`
//	}
//
// # Registration conflicts
//
// Registering a name twice fails with ErrDuplicateMethod; the first handler
// stays. WithStrictNames additionally rejects names beginning with "rpc.".
//
// # Shared data
//
// WithData stores a value keyed by its type. Handlers read it with Data or
// MustData:
//
//	counter := jsonrpc.MustData[*Counter](ctx)
//
// The store is read-only once the server is built. Values that change must
// do their own synchronization.
//
// # Error Handling
//
// Return *Error for full control:
//
//	return 0, jsonrpc.NewError(jsonrpc.CodeServerError, "division by zero")
//
// Errors implementing ErrorCoder keep their code. Other errors become
// CodeInternalError, or the code given to WithEasyErrors. Panics are
// recovered per request and answered with CodeInternalError; they never
// affect other requests in the same batch.
//
// Standard error codes are defined as constants:
//   - CodeParseError (-32700)
//   - CodeInvalidRequest (-32600)
//   - CodeMethodNotFound (-32601)
//   - CodeInvalidParams (-32602)
//   - CodeInternalError (-32603)
//
// # Batches and notifications
//
// Batch elements run concurrently (see WithBatchConcurrency) and their
// responses keep input order. Notifications never produce a response, even
// when they fail. A batch made only of notifications produces no reply at all.
package jsonrpc
