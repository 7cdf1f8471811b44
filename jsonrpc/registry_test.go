package jsonrpc

import (
	"context"
	"errors"
	"reflect"
	"slices"
	"testing"
)

type mathMethods struct{}

func (m *mathMethods) Add(ctx context.Context, p AddParams) (int, error) {
	return p.A + p.B, nil
}

type DivideParams struct {
	A float64 `json:"a"`
	B float64 `json:"b"`
}

func (m *mathMethods) Divide(ctx context.Context, p DivideParams) (float64, error) {
	if p.B == 0 {
		return 0, NewError(CodeServerError, "division by zero")
	}
	return p.A / p.B, nil
}

type EchoParams struct {
	_       struct{} `jsonrpc:"echo"`
	Message string   `json:"message"`
}

func (m *mathMethods) Repeat(ctx context.Context, p EchoParams) (string, error) {
	return p.Message, nil
}

// Methods with other signatures are skipped.
func (m *mathMethods) NoContext(p AddParams) (int, error) { return 0, nil }
func (m *mathMethods) NoError(ctx context.Context, p AddParams) int { return 0 }
func (m *mathMethods) TooMany(ctx context.Context, a, b int) (int, error) { return 0, nil }
func (m *mathMethods) hidden(ctx context.Context, p AddParams) (int, error) {
	return 0, nil
}

func TestRegisterDuplicateKeepsFirst(t *testing.T) {
	b := NewBuilder()
	first := Method(func(ctx context.Context, _ struct{}) (string, error) { return "first", nil })
	second := Method(func(ctx context.Context, _ struct{}) (string, error) { return "second", nil })

	mustRegister(t, b.Register("m", first))
	if err := b.Register("m", second); !errors.Is(err, ErrDuplicateMethod) {
		t.Fatalf("got error %v, want ErrDuplicateMethod", err)
	}
	srv, err := b.Build()
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	resp := single(t, handle(t, srv, `{"jsonrpc":"2.0","method":"m","id":1}`))
	if got := resultAs[string](t, resp); got != "first" {
		t.Errorf("got %q, want first", got)
	}
}

func TestRegisterValidation(t *testing.T) {
	r := NewRegistry()
	h := HandlerFunc(func(ctx context.Context, _ Params) (any, error) { return nil, nil })

	if err := r.Register("", h); !errors.Is(err, ErrEmptyMethodName) {
		t.Errorf("got %v, want ErrEmptyMethodName", err)
	}
	if err := r.Register("x", nil); !errors.Is(err, ErrNilHandler) {
		t.Errorf("got %v, want ErrNilHandler", err)
	}
	if err := r.Register("rpc.discover", h); err != nil {
		t.Errorf("rpc. prefix is accepted by default, got %v", err)
	}

	strict := NewRegistry(StrictNames())
	if err := strict.Register("rpc.discover", h); !errors.Is(err, ErrReservedMethodName) {
		t.Errorf("got %v, want ErrReservedMethodName", err)
	}
	if err := strict.Register("rpcx", h); err != nil {
		t.Errorf("got %v, want nil", err)
	}
}

func TestStrictNamesOption(t *testing.T) {
	b := NewBuilder(WithStrictNames())
	err := b.Register("rpc.x", HandlerFunc(func(ctx context.Context, _ Params) (any, error) { return nil, nil }))
	if !errors.Is(err, ErrReservedMethodName) {
		t.Errorf("got %v, want ErrReservedMethodName", err)
	}
}

func TestMethodRegistrationWithNamespace(t *testing.T) {
	r := NewRegistry()
	if err := r.RegisterReceiver("math", &mathMethods{}); err != nil {
		t.Fatalf("RegisterReceiver: %v", err)
	}

	want := []string{"math.Add", "math.Divide", "math.echo"}
	if got := r.Methods(); !slices.Equal(got, want) {
		t.Errorf("got methods %v, want %v", got, want)
	}
}

func TestMethodRegistrationWithoutNamespace(t *testing.T) {
	srv := buildServer(t, func(b *Builder) {
		mustRegister(t, b.RegisterReceiver("", &mathMethods{}))
	})

	resp := single(t, handle(t, srv, `{"jsonrpc":"2.0","method":"Add","params":[2,3],"id":1}`))
	if got := resultAs[int](t, resp); got != 5 {
		t.Errorf("got result %d, want 5", got)
	}

	resp = single(t, handle(t, srv, `{"jsonrpc":"2.0","method":"Divide","params":{"a":1,"b":0},"id":2}`))
	wantCode(t, resp, CodeServerError)

	resp = single(t, handle(t, srv, `{"jsonrpc":"2.0","method":"echo","params":["hello"],"id":3}`))
	if got := resultAs[string](t, resp); got != "hello" {
		t.Errorf("got result %q, want hello", got)
	}

	resp = single(t, handle(t, srv, `{"jsonrpc":"2.0","method":"hidden","id":4}`))
	wantCode(t, resp, CodeMethodNotFound)
}

func TestRegisterReceiverReportsConflicts(t *testing.T) {
	r := NewRegistry()
	mustRegister(t, r.RegisterReceiver("math", &mathMethods{}))

	err := r.RegisterReceiver("math", &mathMethods{})
	if !errors.Is(err, ErrDuplicateMethod) {
		t.Fatalf("got %v, want ErrDuplicateMethod", err)
	}
	if r.Len() != 3 {
		t.Errorf("got %d methods, want 3", r.Len())
	}

	if err := r.RegisterReceiver("x", nil); !errors.Is(err, ErrNilHandler) {
		t.Errorf("got %v, want ErrNilHandler", err)
	}
}

func TestBuilderFinished(t *testing.T) {
	b := NewBuilder()
	if _, err := b.Build(); err != nil {
		t.Fatalf("Build: %v", err)
	}
	h := HandlerFunc(func(ctx context.Context, _ Params) (any, error) { return nil, nil })
	if err := b.Register("late", h); !errors.Is(err, ErrBuilderFinished) {
		t.Errorf("got %v, want ErrBuilderFinished", err)
	}
	if _, err := b.Build(); !errors.Is(err, ErrBuilderFinished) {
		t.Errorf("got %v, want ErrBuilderFinished", err)
	}
}

func TestLookup(t *testing.T) {
	srv, _ := newCalcServer(t)

	if _, ok := srv.Registry().Lookup("add"); !ok {
		t.Error("add must be registered")
	}
	if _, ok := srv.Registry().Lookup("nope"); ok {
		t.Error("nope must not be registered")
	}
}

func TestRegistryViewIsDetached(t *testing.T) {
	srv, _ := newCalcServer(t)
	view := srv.Registry()

	names := view.Methods()
	if len(names) != view.Len() {
		t.Fatalf("got %d names for %d methods", len(names), view.Len())
	}
	names[0] = "replaced"
	if slices.Contains(view.Methods(), "replaced") {
		t.Error("Methods must return a copy")
	}
	if _, ok := reflect.TypeOf(view).MethodByName("Register"); ok {
		t.Error("a built server's registry must not accept registrations")
	}
}
