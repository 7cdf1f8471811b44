package main

import (
	"context"
	"errors"
	"log"
	"net/http"

	"github.com/Deniallugo/jsonrpc-v2/httprpc"
	"github.com/Deniallugo/jsonrpc-v2/jsonrpc"
	"github.com/Deniallugo/jsonrpc-v2/middleware"
)

type MathMethods struct{}

type Pair struct {
	A int `json:"a"`
	B int `json:"b"`
}

// Add accepts {"a":1,"b":2} or [1,2].
func (m *MathMethods) Add(ctx context.Context, p Pair) (int, error) {
	return p.A + p.B, nil
}

func (m *MathMethods) Sub(ctx context.Context, p Pair) (int, error) {
	return p.A - p.B, nil
}

var errDivideByZero = errors.New("division by zero")

func (m *MathMethods) Div(ctx context.Context, p Pair) (int, error) {
	if p.B == 0 {
		return 0, errDivideByZero
	}
	return p.A / p.B, nil
}

func main() {
	b := jsonrpc.NewBuilder(
		jsonrpc.WithEasyErrors(jsonrpc.CodeServerError),
		jsonrpc.WithDocs(),
	)
	if err := b.RegisterReceiver("math", &MathMethods{}); err != nil {
		log.Fatal(err)
	}
	srv, err := b.Build()
	if err != nil {
		log.Fatal(err)
	}

	http.Handle("/rpc", httprpc.Handler(srv, middleware.RequestID()))

	log.Println("Starting server on :8080")
	log.Fatal(http.ListenAndServe(":8080", nil))
}
