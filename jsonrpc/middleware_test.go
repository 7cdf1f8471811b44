package jsonrpc

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"sync"
	"testing"
)

type recorder struct {
	mu    sync.Mutex
	steps []string
}

func (r *recorder) add(s string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.steps = append(r.steps, s)
}

func (r *recorder) mw(name string) Middleware {
	return MiddlewareFunc(func(ctx context.Context, req *Request, next Next) (any, error) {
		r.add(name + ":before")
		res, err := next(ctx, req)
		r.add(name + ":after")
		return res, err
	})
}

func TestMiddlewareOrder(t *testing.T) {
	rec := &recorder{}
	srv := buildServer(t, func(b *Builder) {
		h := Method(func(ctx context.Context, _ struct{}) (bool, error) {
			rec.add("handler")
			return true, nil
		})
		mustRegister(t, b.Register("m", h, rec.mw("route1"), rec.mw("route2")))
	}, WithMiddleware(rec.mw("server1"), rec.mw("server2")))

	handle(t, srv, `{"jsonrpc":"2.0","method":"m","id":1}`)

	want := []string{
		"server1:before", "server2:before", "route1:before", "route2:before",
		"handler",
		"route2:after", "route1:after", "server2:after", "server1:after",
	}
	if strings.Join(rec.steps, ",") != strings.Join(want, ",") {
		t.Errorf("got %v, want %v", rec.steps, want)
	}
}

func TestMiddlewareShortCircuit(t *testing.T) {
	deny := MiddlewareFunc(func(ctx context.Context, req *Request, next Next) (any, error) {
		if req.Method == "secret" {
			return nil, NewError(-32001, "forbidden")
		}
		return next(ctx, req)
	})
	called := false
	srv := buildServer(t, func(b *Builder) {
		mustRegister(t, b.Register("secret", Method(func(ctx context.Context, _ struct{}) (bool, error) {
			called = true
			return true, nil
		})))
	}, WithMiddleware(deny))

	resp := single(t, handle(t, srv, `{"jsonrpc":"2.0","method":"secret","id":1}`))
	wantCode(t, resp, -32001)
	if called {
		t.Error("handler must not run when middleware short-circuits")
	}
}

func TestMiddlewareSkipsUnknownMethods(t *testing.T) {
	rec := &recorder{}
	srv := buildServer(t, nil, WithMiddleware(rec.mw("server")))

	resp := single(t, handle(t, srv, `{"jsonrpc":"2.0","method":"nope","id":1}`))
	wantCode(t, resp, CodeMethodNotFound)
	if len(rec.steps) != 0 {
		t.Errorf("middleware ran for an unknown method: %v", rec.steps)
	}
}

type tenantKey struct{}

func TestMiddlewareContextPropagation(t *testing.T) {
	tenant := MiddlewareFunc(func(ctx context.Context, req *Request, next Next) (any, error) {
		return next(context.WithValue(ctx, tenantKey{}, "acme"), req)
	})
	srv := buildServer(t, func(b *Builder) {
		mustRegister(t, b.Register("whoami", Method(func(ctx context.Context, _ struct{}) (string, error) {
			v, _ := ctx.Value(tenantKey{}).(string)
			return v, nil
		})))
	}, WithMiddleware(tenant))

	resp := single(t, handle(t, srv, `{"jsonrpc":"2.0","method":"whoami","id":1}`))
	if got := resultAs[string](t, resp); got != "acme" {
		t.Errorf("got %q, want acme", got)
	}
}

func TestMiddlewarePanicRecovered(t *testing.T) {
	boom := MiddlewareFunc(func(ctx context.Context, req *Request, next Next) (any, error) {
		panic("middleware")
	})
	srv, _ := newCalcServer(t, WithMiddleware(boom))

	resp := single(t, handle(t, srv, `{"jsonrpc":"2.0","method":"add","params":[1,2],"id":1}`))
	wantCode(t, resp, CodeInternalError)
}

func TestLoggingMiddleware(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	srv, _ := newCalcServer(t, WithMiddleware(LoggingMiddleware(logger)))

	handle(t, srv, `{"jsonrpc":"2.0","method":"add","params":[1,2],"id":7}`)
	handle(t, srv, `{"jsonrpc":"2.0","method":"fail","id":8}`)

	out := buf.String()
	for _, want := range []string{`"msg":"rpc call"`, `"method":"add"`, `"id":"7"`, `"msg":"rpc call failed"`, `"code":-32603`} {
		if !strings.Contains(out, want) {
			t.Errorf("log output missing %s:\n%s", want, out)
		}
	}
}
