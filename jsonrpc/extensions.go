package jsonrpc

import (
	"context"
	"fmt"
	"reflect"
)

// Extensions is the shared, type-keyed application state handed to every
// handler. It is filled once while the server is built and never changes
// afterwards, so handlers read it without synchronization. Values that
// need mutation (counters, caches) must synchronize themselves.
type Extensions struct {
	values map[reflect.Type]any
}

func (e *Extensions) lookup(t reflect.Type) (any, bool) {
	if e == nil {
		return nil, false
	}
	v, ok := e.values[t]
	return v, ok
}

// Lookup returns the value stored for type T.
func Lookup[T any](e *Extensions) (T, bool) {
	var zero T
	v, ok := e.lookup(reflect.TypeFor[T]())
	if !ok {
		return zero, false
	}
	t, ok := v.(T)
	return t, ok
}

type extensionsKey struct{}

func withExtensions(ctx context.Context, e *Extensions) context.Context {
	return context.WithValue(ctx, extensionsKey{}, e)
}

// ExtensionsFromContext returns the store of the server dispatching the
// current request, or nil outside a dispatch.
func ExtensionsFromContext(ctx context.Context) *Extensions {
	e, _ := ctx.Value(extensionsKey{}).(*Extensions)
	return e
}

// Data returns the value of type T injected with WithData.
func Data[T any](ctx context.Context) (T, bool) {
	return Lookup[T](ExtensionsFromContext(ctx))
}

// MustData is like Data but panics when T was never injected. Inside a
// handler the panic is recovered and reported as an internal error.
func MustData[T any](ctx context.Context) T {
	v, ok := Data[T](ctx)
	if !ok {
		panic(fmt.Sprintf("jsonrpc: no data of type %s", reflect.TypeFor[T]()))
	}
	return v
}

type requestKey struct{}

// RequestFromContext returns the request being dispatched.
func RequestFromContext(ctx context.Context) (*Request, bool) {
	req, ok := ctx.Value(requestKey{}).(*Request)
	return req, ok
}
