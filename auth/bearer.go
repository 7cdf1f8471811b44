// Package auth authenticates JSON-RPC callers with OIDC ID tokens sent as
// bearer credentials.
//
// BearerProcessor verifies the Authorization header against the providers
// in a Registry and stores the caller's Principal in the request context.
// JSON-RPC methods read it with PrincipalFromContext, and RequireAuth
// rejects unauthenticated calls per method:
//
//	reg := auth.NewRegistry()
//	_ = reg.RegisterOIDCProvider(ctx, "google", "https://accounts.google.com", clientID, nil)
//
//	b := jsonrpc.NewBuilder()
//	b.Register("me", jsonrpc.Method(me), auth.RequireAuth())
//	...
//	h := httprpc.Handler(srv, auth.NewBearerProcessor(reg, auth.Optional()))
package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/coreos/go-oidc/v3/oidc"
	"golang.org/x/oauth2"

	"github.com/Deniallugo/jsonrpc-v2/endpoint"
	"github.com/Deniallugo/jsonrpc-v2/jsonrpc"
)

// CodeUnauthorized is the JSON-RPC error code used by RequireAuth.
const CodeUnauthorized = -32001

var (
	ErrNoCredentials = errors.New("auth: no bearer token")
	ErrInvalidToken  = errors.New("auth: invalid bearer token")
)

// Principal is an authenticated caller.
type Principal struct {
	ProviderID string
	Subject    string
	// StableID is "provider:subject".
	StableID string
	// Email is set only when the provider asserts it is verified.
	Email string
	// Token carries the raw bearer credential, for forwarding to downstream
	// services with oauth2.StaticTokenSource.
	Token   *oauth2.Token
	IDToken *oidc.IDToken
}

// Claims decodes the token's claims into v.
func (p *Principal) Claims(v any) error {
	if p == nil || p.IDToken == nil {
		return ErrNoCredentials
	}
	return p.IDToken.Claims(v)
}

type principalKey struct{}

// WithPrincipal stores p in ctx.
func WithPrincipal(ctx context.Context, p *Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

// PrincipalFromContext returns the caller authenticated by BearerProcessor.
func PrincipalFromContext(ctx context.Context) (*Principal, bool) {
	p, ok := ctx.Value(principalKey{}).(*Principal)
	return p, ok && p != nil
}

// BearerProcessor is an endpoint.Processor verifying bearer ID tokens.
type BearerProcessor struct {
	registry *Registry
	optional bool
	realm    string
	logger   *slog.Logger
}

// BearerOption configures a BearerProcessor.
type BearerOption func(*BearerProcessor)

// Optional lets requests without an Authorization header through
// unauthenticated. Invalid tokens are still rejected.
func Optional() BearerOption {
	return func(p *BearerProcessor) {
		p.optional = true
	}
}

// WithRealm sets the realm reported in WWW-Authenticate.
func WithRealm(realm string) BearerOption {
	return func(p *BearerProcessor) {
		p.realm = realm
	}
}

// WithLogger sets the logger for rejected tokens.
func WithLogger(logger *slog.Logger) BearerOption {
	return func(p *BearerProcessor) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// NewBearerProcessor returns a processor accepting tokens from reg.
func NewBearerProcessor(reg *Registry, opts ...BearerOption) *BearerProcessor {
	p := &BearerProcessor{registry: reg, realm: "jsonrpc", logger: slog.Default()}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Process implements endpoint.Processor.
func (p *BearerProcessor) Process(w http.ResponseWriter, r *http.Request, next func(http.ResponseWriter, *http.Request) error) error {
	raw, err := bearerToken(r)
	if errors.Is(err, ErrNoCredentials) && p.optional {
		return next(w, r)
	}
	if err != nil {
		code := "invalid_request"
		if errors.Is(err, ErrNoCredentials) {
			code = ""
		}
		return p.challenge(w, code, err)
	}

	principal, err := p.Verify(r.Context(), raw)
	if err != nil {
		p.logger.DebugContext(r.Context(), "auth: token rejected",
			slog.String("remote", r.RemoteAddr),
			slog.Any("error", err))
		return p.challenge(w, "invalid_token", err)
	}
	return next(w, r.WithContext(WithPrincipal(r.Context(), principal)))
}

// Verify checks raw against every registered provider and returns the
// principal from the first that accepts it.
func (p *BearerProcessor) Verify(ctx context.Context, raw string) (*Principal, error) {
	var errs []error
	for _, prov := range p.registry.Providers() {
		if prov.Verifier() == nil {
			continue
		}
		idToken, err := prov.Verifier().Verify(ctx, raw)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", prov.ID(), err))
			continue
		}
		principal := &Principal{
			ProviderID: prov.ID(),
			Subject:    idToken.Subject,
			StableID:   StableID(idToken, prov.ID()),
			Token: &oauth2.Token{
				AccessToken: raw,
				TokenType:   "Bearer",
				Expiry:      idToken.Expiry,
			},
			IDToken: idToken,
		}
		principal.Email, _ = VerifiedEmail(idToken)
		return principal, nil
	}
	if len(errs) == 0 {
		return nil, fmt.Errorf("%w: no providers configured", ErrInvalidToken)
	}
	return nil, fmt.Errorf("%w: %w", ErrInvalidToken, errors.Join(errs...))
}

func (p *BearerProcessor) challenge(w http.ResponseWriter, code string, err error) error {
	v := fmt.Sprintf("Bearer realm=%q", p.realm)
	if code != "" {
		v += fmt.Sprintf(", error=%q", code)
	}
	w.Header().Set("WWW-Authenticate", v)
	return endpoint.Error(http.StatusUnauthorized, "unauthorized", err)
}

func bearerToken(r *http.Request) (string, error) {
	h := r.Header.Get("Authorization")
	if h == "" {
		return "", ErrNoCredentials
	}
	scheme, token, ok := strings.Cut(h, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", fmt.Errorf("%w: unsupported authorization scheme", ErrInvalidToken)
	}
	token = strings.TrimSpace(token)
	if token == "" {
		return "", fmt.Errorf("%w: empty token", ErrInvalidToken)
	}
	return token, nil
}

// RequireAuth returns a jsonrpc.Middleware failing calls that carry no
// Principal with CodeUnauthorized.
func RequireAuth() jsonrpc.Middleware {
	return jsonrpc.MiddlewareFunc(func(ctx context.Context, req *jsonrpc.Request, next jsonrpc.Next) (any, error) {
		if _, ok := PrincipalFromContext(ctx); !ok {
			return nil, jsonrpc.NewError(CodeUnauthorized, "Unauthorized")
		}
		return next(ctx, req)
	})
}

var _ endpoint.Processor = (*BearerProcessor)(nil)
