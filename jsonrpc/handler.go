package jsonrpc

import (
	"context"
	"reflect"
)

// Handler is the uniform capability every registered method is reduced to.
// The returned value is marshalled with encoding/json into the result
// member; a returned error is converted with ToError.
type Handler interface {
	Invoke(ctx context.Context, params Params) (any, error)
}

// HandlerFunc adapts a function to a Handler. It receives params undecoded.
type HandlerFunc func(ctx context.Context, params Params) (any, error)

func (f HandlerFunc) Invoke(ctx context.Context, params Params) (any, error) {
	return f(ctx, params)
}

// typeDescriber is implemented by handlers that know their parameter and
// result types; the docs route uses it.
type typeDescriber interface {
	paramsType() reflect.Type
	resultType() reflect.Type
}

// Method adapts a strongly typed function to a Handler.
//
// Params are extracted into P before fn runs. When P is a struct (or a
// pointer to one), both named (object) and positional (array) params are
// accepted: object keys map to json tag names, array elements map to fields
// in declaration order. Fields that are pointers or tagged omitempty are
// optional. Any other P is decoded with encoding/json.
//
// Extraction failures are returned as -32602 errors and fn is not called.
func Method[P, R any](fn func(ctx context.Context, params P) (R, error)) Handler {
	return &typedMethod[P, R]{
		fn:    fn,
		shape: newParamShape(reflect.TypeFor[P]()),
	}
}

type typedMethod[P, R any] struct {
	fn    func(ctx context.Context, params P) (R, error)
	shape *paramShape
}

func (m *typedMethod[P, R]) Invoke(ctx context.Context, params Params) (any, error) {
	v, err := m.shape.extract(params)
	if err != nil {
		return nil, err
	}
	p, _ := v.Interface().(P)
	res, err := m.fn(ctx, p)
	if err != nil {
		return nil, err
	}
	return res, nil
}

func (m *typedMethod[P, R]) paramsType() reflect.Type { return m.shape.typ }
func (m *typedMethod[P, R]) resultType() reflect.Type { return reflect.TypeFor[R]() }

var (
	contextType = reflect.TypeFor[context.Context]()
	errorType   = reflect.TypeFor[error]()
)

// receiverMethod holds reflection data for a method registered through
// RegisterReceiver.
type receiverMethod struct {
	fn     reflect.Value // bound method value
	shape  *paramShape
	result reflect.Type
}

func (m *receiverMethod) Invoke(ctx context.Context, params Params) (any, error) {
	v, err := m.shape.extract(params)
	if err != nil {
		return nil, err
	}
	out := m.fn.Call([]reflect.Value{reflect.ValueOf(&ctx).Elem(), v})
	if errV := out[1]; !errV.IsNil() {
		return nil, errV.Interface().(error)
	}
	return out[0].Interface(), nil
}

func (m *receiverMethod) paramsType() reflect.Type { return m.shape.typ }
func (m *receiverMethod) resultType() reflect.Type { return m.result }

// parseReceiverMethod extracts method signature information via reflection.
// Valid signature: func(ctx context.Context, params P) (R, error).
// Returns nil for any other signature.
func parseReceiverMethod(receiver reflect.Value, method reflect.Method) (*receiverMethod, string) {
	ft := method.Type
	// method.Type includes the receiver as the first argument.
	if ft.NumIn() != 3 || ft.In(1) != contextType {
		return nil, ""
	}
	if ft.NumOut() != 2 || ft.Out(1) != errorType {
		return nil, ""
	}

	shape := newParamShape(ft.In(2))
	name := method.Name
	if shape.methodName != "" {
		name = shape.methodName
	}
	return &receiverMethod{
		fn:     receiver.Method(method.Index),
		shape:  shape,
		result: ft.Out(0),
	}, name
}
