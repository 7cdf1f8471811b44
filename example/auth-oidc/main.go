package main

import (
	"context"
	"crypto/rand"
	"log"
	"net/http"
	"os"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/joho/godotenv"

	"github.com/Deniallugo/jsonrpc-v2/auth"
	"github.com/Deniallugo/jsonrpc-v2/httprpc"
	"github.com/Deniallugo/jsonrpc-v2/jsonrpc"
	"github.com/Deniallugo/jsonrpc-v2/middleware"
)

// Profile is returned by the "me" method.
type Profile struct {
	ID      string `json:"id"`
	Email   string `json:"email,omitempty"`
	Name    string `json:"name,omitempty"`
	Session string `json:"session,omitempty"`
}

// Me describes the caller. RequireAuth guarantees a Principal.
func Me(ctx context.Context, _ struct{}) (Profile, error) {
	p, _ := auth.PrincipalFromContext(ctx)
	var claims struct {
		Name string `json:"name"`
	}
	if err := p.Claims(&claims); err != nil {
		return Profile{}, err
	}

	// Bind a session to the caller so later calls can use the session token
	// instead of re-sending the ID token.
	if sess, ok := middleware.SessionFromContext(ctx); ok {
		if sub, _ := sess.Subject(); sub != p.StableID {
			if err := sess.Login(p.StableID); err != nil {
				return Profile{}, err
			}
		}
	}
	prof := Profile{ID: p.StableID, Email: p.Email, Name: claims.Name}
	if sess, ok := middleware.SessionFromContext(ctx); ok {
		prof.Session = sess.ID()
	}
	return prof, nil
}

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables")
	}

	clientID := os.Getenv("OAUTH_CLIENT_ID")
	if clientID == "" {
		log.Fatal("OAUTH_CLIENT_ID must be set")
	}

	// For example purposes, we generate a random key. In production, this should be persisted.
	sessionKey := make([]byte, 32)
	if _, err := rand.Read(sessionKey); err != nil {
		log.Fatal(err)
	}
	sessionProcessor, err := middleware.NewSessionProcessor("key1", map[string][]byte{"key1": sessionKey})
	if err != nil {
		log.Fatal(err)
	}

	registry := auth.NewRegistry()
	err = registry.RegisterOIDCProvider(context.Background(),
		"google",
		"https://accounts.google.com",
		clientID,
		[]string{oidc.ScopeOpenID, "profile", "email"},
	)
	if err != nil {
		log.Fatalf("Failed to register OIDC provider: %v", err)
	}

	b := jsonrpc.NewBuilder()
	if err := b.Register("me", jsonrpc.Method(Me), auth.RequireAuth()); err != nil {
		log.Fatal(err)
	}
	if err := b.RegisterFunc("ping", func(context.Context, jsonrpc.Params) (any, error) {
		return "pong", nil
	}); err != nil {
		log.Fatal(err)
	}
	srv, err := b.Build()
	if err != nil {
		log.Fatal(err)
	}

	// "ping" works anonymously; "me" needs an Authorization: Bearer <id token>.
	http.Handle("/rpc", httprpc.Handler(srv,
		middleware.NewSecurityHeadersProcessor(middleware.WithoutHSTS()),
		auth.NewBearerProcessor(registry, auth.Optional()),
		sessionProcessor,
	))

	log.Println("Listening on :8080")
	if err := http.ListenAndServe(":8080", nil); err != nil {
		log.Fatal(err)
	}
}
