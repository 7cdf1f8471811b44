package jsonrpc

import (
	"errors"
	"fmt"
	"reflect"
	"slices"
	"strings"
)

var (
	ErrEmptyMethodName    = errors.New("jsonrpc: empty method name")
	ErrNilHandler         = errors.New("jsonrpc: nil handler")
	ErrDuplicateMethod    = errors.New("jsonrpc: method already registered")
	ErrReservedMethodName = errors.New(`jsonrpc: method names beginning with "rpc." are reserved`)
)

// route is a registered method: its handler, the middlewares attached to
// it, and the composed call chain.
type route struct {
	name        string
	handler     Handler
	middlewares []Middleware
	call        Next
}

// Registry maps method names to handlers.
//
// Registration conflicts are rejected: registering a name twice returns
// ErrDuplicateMethod and the first handler stays in place. A Registry is
// built before serving and is read-only afterwards; it performs no locking.
type Registry struct {
	routes map[string]*route
	strict bool
}

// RegistryOption configures a Registry.
type RegistryOption func(*Registry)

// StrictNames makes the registry reject names beginning with "rpc.", which
// JSON-RPC 2.0 reserves for system extensions.
func StrictNames() RegistryOption {
	return func(r *Registry) {
		r.strict = true
	}
}

// NewRegistry creates an empty registry.
func NewRegistry(opts ...RegistryOption) *Registry {
	r := &Registry{routes: make(map[string]*route)}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Register stores h under name. The middlewares run, in order, around h only.
func (r *Registry) Register(name string, h Handler, mw ...Middleware) error {
	if name == "" {
		return ErrEmptyMethodName
	}
	if h == nil {
		return fmt.Errorf("%w: %s", ErrNilHandler, name)
	}
	if r.strict && strings.HasPrefix(name, "rpc.") {
		return fmt.Errorf("%w: %s", ErrReservedMethodName, name)
	}
	if _, exists := r.routes[name]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateMethod, name)
	}
	r.routes[name] = &route{name: name, handler: h, middlewares: mw}
	return nil
}

// RegisterReceiver registers the methods of receiver.
//
// Every exported method with the signature
//
//	func(ctx context.Context, params P) (R, error)
//
// is registered as namespace + "." + MethodName, or just MethodName when
// namespace is empty. Methods with other signatures are skipped. A `_` field
// in P tagged `jsonrpc:"name"` overrides MethodName.
//
// Every valid method is attempted; failures are joined into the returned
// error.
func (r *Registry) RegisterReceiver(namespace string, receiver any) error {
	val := reflect.ValueOf(receiver)
	if !val.IsValid() {
		return fmt.Errorf("%w: receiver", ErrNilHandler)
	}
	typ := val.Type()

	var errs []error
	for i := 0; i < typ.NumMethod(); i++ {
		method := typ.Method(i)
		if !method.IsExported() {
			continue
		}
		h, methodName := parseReceiverMethod(val, method)
		if h == nil {
			continue
		}
		name := methodName
		if namespace != "" {
			name = namespace + "." + methodName
		}
		if err := r.Register(name, h); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Lookup returns the handler registered under name.
func (r *Registry) Lookup(name string) (Handler, bool) {
	rt, ok := r.routes[name]
	if !ok {
		return nil, false
	}
	return rt.handler, true
}

func (r *Registry) route(name string) (*route, bool) {
	rt, ok := r.routes[name]
	return rt, ok
}

// Methods returns the registered method names in sorted order.
func (r *Registry) Methods() []string {
	names := make([]string, 0, len(r.routes))
	for name := range r.routes {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// Len returns the number of registered methods.
func (r *Registry) Len() int {
	return len(r.routes)
}

// RegistryView exposes the lookups of a built server's Registry without
// Register, so the method set cannot change while requests are served.
type RegistryView struct {
	r *Registry
}

// Lookup returns the handler registered under name.
func (v RegistryView) Lookup(name string) (Handler, bool) {
	return v.r.Lookup(name)
}

// Methods returns the registered method names in sorted order.
func (v RegistryView) Methods() []string {
	return v.r.Methods()
}

// Len returns the number of registered methods.
func (v RegistryView) Len() int {
	return v.r.Len()
}
