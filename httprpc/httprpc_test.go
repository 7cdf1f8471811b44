package httprpc

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/Deniallugo/jsonrpc-v2/endpoint"
	"github.com/Deniallugo/jsonrpc-v2/jsonrpc"
)

type AddParams struct {
	A int `json:"a"`
	B int `json:"b"`
}

type ctxKey struct{}

type pinged struct {
	n atomic.Int32
}

func newServer(t *testing.T) (*jsonrpc.Server, *pinged) {
	t.Helper()
	p := &pinged{}
	b := jsonrpc.NewBuilder(jsonrpc.WithData(p))
	must(t, b.Register("add", jsonrpc.Method(func(ctx context.Context, p AddParams) (int, error) {
		return p.A + p.B, nil
	})))
	must(t, b.Register("ping", jsonrpc.Method(func(ctx context.Context, _ struct{}) (bool, error) {
		jsonrpc.MustData[*pinged](ctx).n.Add(1)
		return true, nil
	})))
	must(t, b.Register("ctxValue", jsonrpc.Method(func(ctx context.Context, _ struct{}) (string, error) {
		v, _ := ctx.Value(ctxKey{}).(string)
		return v, nil
	})))
	srv, err := b.Build()
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	return srv, p
}

func must(t *testing.T, err error) {
	t.Helper()
	if err != nil {
		t.Fatal(err)
	}
}

func post(h http.Handler, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/", bytes.NewReader([]byte(body)))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestPOSTOnlyEnforcement(t *testing.T) {
	srv, _ := newServer(t)
	h := Handler(srv)

	tests := []struct {
		method   string
		wantCode int
	}{
		{http.MethodGet, http.StatusMethodNotAllowed},
		{http.MethodPut, http.StatusMethodNotAllowed},
		{http.MethodDelete, http.StatusMethodNotAllowed},
		{http.MethodPost, http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.method, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, "/", strings.NewReader(`{"jsonrpc":"2.0","method":"add","params":[1,2],"id":1}`))
			req.Header.Set("Content-Type", "application/json")
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)
			if rec.Code != tt.wantCode {
				t.Errorf("got status %d, want %d", rec.Code, tt.wantCode)
			}
			if tt.wantCode == http.StatusMethodNotAllowed && rec.Header().Get("Allow") != http.MethodPost {
				t.Errorf("got Allow %q", rec.Header().Get("Allow"))
			}
		})
	}
}

func TestSingleRequestSuccess(t *testing.T) {
	srv, _ := newServer(t)
	rec := post(Handler(srv), `{"jsonrpc":"2.0","method":"add","params":{"a":2,"b":3},"id":1}`)

	if rec.Code != http.StatusOK {
		t.Fatalf("got status %d, want %d", rec.Code, http.StatusOK)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("got content type %q", ct)
	}
	var resp map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if resp["result"].(float64) != 5 {
		t.Errorf("got result %v, want 5", resp["result"])
	}
}

func TestNotificationHandling(t *testing.T) {
	srv, p := newServer(t)
	rec := post(Handler(srv), `{"jsonrpc":"2.0","method":"ping"}`)

	if p.n.Load() != 1 {
		t.Error("notification method was not called")
	}
	if rec.Code != http.StatusNoContent {
		t.Errorf("got status %d, want %d", rec.Code, http.StatusNoContent)
	}
	if rec.Body.Len() != 0 {
		t.Errorf("got body %q, want none", rec.Body.String())
	}
}

func TestBatchRequestHandling(t *testing.T) {
	srv, _ := newServer(t)
	rec := post(Handler(srv), `[
		{"jsonrpc":"2.0","method":"add","params":[1,2],"id":1},
		{"jsonrpc":"2.0","method":"ping"},
		{"jsonrpc":"2.0","method":"add","params":[3,4],"id":2}
	]`)

	if rec.Code != http.StatusOK {
		t.Fatalf("got status %d, want %d", rec.Code, http.StatusOK)
	}
	var resp []map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if len(resp) != 2 {
		t.Fatalf("got %d responses, want 2", len(resp))
	}
	if resp[0]["result"].(float64) != 3 || resp[1]["result"].(float64) != 7 {
		t.Errorf("got %v", resp)
	}
}

func TestProtocolErrorsAreStatus200(t *testing.T) {
	srv, _ := newServer(t)
	h := Handler(srv)

	tests := []struct {
		name string
		body string
		code int
	}{
		{"parse error", `{"jsonrpc":"2.0","method":"add","params":[invalid json`, jsonrpc.CodeParseError},
		{"empty batch", `[]`, jsonrpc.CodeInvalidRequest},
		{"method not found", `{"jsonrpc":"2.0","method":"nope","id":1}`, jsonrpc.CodeMethodNotFound},
		{"invalid params", `{"jsonrpc":"2.0","method":"add","params":["not","numbers"],"id":1}`, jsonrpc.CodeInvalidParams},
		{"empty body", ``, jsonrpc.CodeParseError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := post(h, tt.body)
			if rec.Code != http.StatusOK {
				t.Fatalf("got status %d, want %d", rec.Code, http.StatusOK)
			}
			var resp jsonrpc.Response
			if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
				t.Fatalf("failed to parse response: %v", err)
			}
			if resp.Error == nil || resp.Error.Code != tt.code {
				t.Errorf("got error %+v, want code %d", resp.Error, tt.code)
			}
		})
	}
}

func TestContentTypeEnforcement(t *testing.T) {
	srv, _ := newServer(t)
	h := Handler(srv)
	body := `{"jsonrpc":"2.0","method":"add","params":[1,2],"id":1}`

	for ct, want := range map[string]int{
		"":                                http.StatusOK,
		"application/json":                http.StatusOK,
		"application/json; charset=utf-8": http.StatusOK,
		"text/plain":                      http.StatusUnsupportedMediaType,
	} {
		req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body))
		if ct != "" {
			req.Header.Set("Content-Type", ct)
		}
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		if rec.Code != want {
			t.Errorf("%q: got status %d, want %d", ct, rec.Code, want)
		}
	}
}

func TestBodyLimit(t *testing.T) {
	srv, _ := newServer(t)
	h := New(srv, WithMaxBody(32)).Handler()

	rec := post(h, `{"jsonrpc":"2.0","method":"add","params":[1,2],"id":1}`)
	if rec.Code != http.StatusRequestEntityTooLarge {
		t.Errorf("got status %d, want %d", rec.Code, http.StatusRequestEntityTooLarge)
	}

	rec = post(New(srv, WithMaxBody(0)).Handler(), `{"jsonrpc":"2.0","method":"add","params":[1,2],"id":1}`)
	if rec.Code != http.StatusOK {
		t.Errorf("unlimited: got status %d, want %d", rec.Code, http.StatusOK)
	}
}

func TestProcessorChainExecution(t *testing.T) {
	executed := false
	processor := endpoint.ProcessorFunc(func(w http.ResponseWriter, r *http.Request, next func(w http.ResponseWriter, r *http.Request) error) error {
		executed = true
		return next(w, r)
	})
	srv, _ := newServer(t)
	rec := post(Handler(srv, processor), `{"jsonrpc":"2.0","method":"add","params":[1,2],"id":1}`)

	if !executed {
		t.Error("processor was not executed")
	}
	if rec.Code != http.StatusOK {
		t.Errorf("got status %d, want %d", rec.Code, http.StatusOK)
	}
}

func TestProcessorErrorReturnsHTTPError(t *testing.T) {
	processor := endpoint.ProcessorFunc(func(w http.ResponseWriter, r *http.Request, next func(w http.ResponseWriter, r *http.Request) error) error {
		return endpoint.Error(http.StatusUnauthorized, "unauthorized", nil)
	})
	srv, _ := newServer(t)
	rec := post(Handler(srv, processor), `{"jsonrpc":"2.0","method":"add","params":[1,2],"id":1}`)

	if rec.Code != http.StatusUnauthorized {
		t.Errorf("got status %d, want %d", rec.Code, http.StatusUnauthorized)
	}
}

func TestContextPropagationThroughProcessors(t *testing.T) {
	processor := endpoint.ProcessorFunc(func(w http.ResponseWriter, r *http.Request, next func(w http.ResponseWriter, r *http.Request) error) error {
		return next(w, r.WithContext(context.WithValue(r.Context(), ctxKey{}, "from processor")))
	})
	srv, _ := newServer(t)
	rec := post(Handler(srv, processor), `{"jsonrpc":"2.0","method":"ctxValue","id":1}`)

	var resp jsonrpc.Response
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if string(resp.Result) != `"from processor"` {
		t.Errorf("got result %s", resp.Result)
	}
}

func TestCancelledRequest(t *testing.T) {
	srv, _ := newServer(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"jsonrpc":"2.0","method":"add","params":[1,2],"id":1}`)).WithContext(ctx)
	rec := httptest.NewRecorder()
	Handler(srv).ServeHTTP(rec, req)

	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("got status %d, want %d", rec.Code, http.StatusServiceUnavailable)
	}
}
