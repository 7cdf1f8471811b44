package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"golang.org/x/net/netutil"

	"github.com/Deniallugo/jsonrpc-v2/auth"
	"github.com/Deniallugo/jsonrpc-v2/endpoint"
	"github.com/Deniallugo/jsonrpc-v2/httprpc"
	"github.com/Deniallugo/jsonrpc-v2/internal/config"
	"github.com/Deniallugo/jsonrpc-v2/internal/kvstore"
	"github.com/Deniallugo/jsonrpc-v2/internal/logs"
	"github.com/Deniallugo/jsonrpc-v2/jsonrpc"
	"github.com/Deniallugo/jsonrpc-v2/luamethod"
	"github.com/Deniallugo/jsonrpc-v2/middleware"
	"github.com/Deniallugo/jsonrpc-v2/stream"
)

const shutdownTimeout = 10 * time.Second

// oidcProviderID names the single provider configured by auth.issuer.
const oidcProviderID = "oidc"

type app struct {
	cfg    *config.Config
	logger *slog.Logger
	rpc    *jsonrpc.Server
	kv     *kvstore.Store

	// nil when not configured
	bearer   *auth.BearerProcessor
	sessions *middleware.SessionProcessor
}

func newApp(ctx context.Context, cfg *config.Config, logger *slog.Logger) (_ *app, err error) {
	a := &app{cfg: cfg, logger: logger}
	defer func() {
		if err != nil {
			a.Close()
		}
	}()

	if cfg.Auth.Issuer != "" {
		reg := auth.NewRegistry()
		if err := reg.RegisterOIDCProvider(ctx, oidcProviderID, cfg.Auth.Issuer, cfg.Auth.ClientID, nil); err != nil {
			return nil, err
		}
		opts := []auth.BearerOption{auth.WithLogger(logger)}
		if !cfg.Auth.Required {
			opts = append(opts, auth.Optional())
		}
		a.bearer = auth.NewBearerProcessor(reg, opts...)
	}

	if len(cfg.Session.Keys) > 0 {
		keys, err := cfg.Session.DecodeKeys()
		if err != nil {
			return nil, err
		}
		a.sessions, err = middleware.NewSessionProcessor(cfg.Session.KeyID, keys,
			middleware.WithSessionPeriod(cfg.Session.Period))
		if err != nil {
			return nil, err
		}
	}

	b := jsonrpc.NewBuilder(a.rpcOptions()...)
	if err := registerMethods(b); err != nil {
		return nil, err
	}

	if cfg.KV.DSN != "" {
		a.kv, err = kvstore.Open(ctx, cfg.KV.DSN)
		if err != nil {
			return nil, err
		}
		if err := kvstore.Register(b, a.kv); err != nil {
			return nil, err
		}
	}

	if cfg.Lua.Dir != "" {
		scripts, err := luamethod.LoadDir(cfg.Lua.Dir)
		if err != nil {
			return nil, err
		}
		for i, s := range scripts {
			scripts[i] = s.WithLogger(logger)
		}
		if err := luamethod.Register(b, scripts); err != nil {
			return nil, err
		}
	}

	a.rpc, err = b.Build()
	if err != nil {
		return nil, err
	}
	logger.Info("rpcserver: methods registered", slog.Any("methods", a.rpc.Registry().Methods()))
	return a, nil
}

func (a *app) rpcOptions() []jsonrpc.Option {
	rc := a.cfg.RPC
	opts := []jsonrpc.Option{
		jsonrpc.WithLogger(a.logger),
		jsonrpc.WithMiddleware(jsonrpc.LoggingMiddleware(a.logger)),
		jsonrpc.WithMaxBatch(rc.MaxBatch),
		jsonrpc.WithBatchConcurrency(rc.BatchConcurrency),
		jsonrpc.WithData(newBoard()),
	}
	if rc.StrictNames {
		opts = append(opts, jsonrpc.WithStrictNames())
	}
	if rc.EasyErrors != 0 {
		opts = append(opts, jsonrpc.WithEasyErrors(rc.EasyErrors))
	}
	if rc.Docs {
		opts = append(opts, jsonrpc.WithDocs())
	}
	return opts
}

func (a *app) processors() []endpoint.Processor {
	ps := []endpoint.Processor{
		middleware.RequestID(),
		middleware.AccessLog(a.logger),
		middleware.NewSecurityHeadersProcessor(),
	}
	if a.bearer != nil {
		ps = append(ps, a.bearer)
	}
	if a.sessions != nil {
		ps = append(ps, a.sessions)
	}
	return ps
}

func (a *app) router() http.Handler {
	r := chi.NewRouter()
	if origins := a.cfg.HTTP.CORSOrigins; len(origins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: origins,
			AllowedMethods: []string{http.MethodPost, http.MethodOptions},
			AllowedHeaders: []string{"Authorization", "Content-Type", middleware.RequestIDHeader, middleware.DefaultTokenHeader},
			ExposedHeaders: []string{middleware.RequestIDHeader, middleware.DefaultTokenHeader},
			MaxAge:         300,
		}))
	}

	r.Get("/healthz", endpoint.HandleFunc(a.health))

	t := httprpc.New(a.rpc, httprpc.WithMaxBody(a.cfg.HTTP.MaxBody), httprpc.WithLogger(a.logger))
	r.Handle(a.cfg.HTTP.Path, t.Handler(a.processors()...))
	return r
}

type healthStatus struct {
	Status  string `json:"status"`
	Methods int    `json:"methods"`
}

func (a *app) health(_ http.ResponseWriter, r *http.Request, _ struct{}) (endpoint.Renderer, error) {
	if a.kv != nil {
		if err := a.kv.Ping(r.Context()); err != nil {
			return nil, endpoint.Error(http.StatusServiceUnavailable, "kv store unavailable", err)
		}
	}
	return &endpoint.JSONRenderer{Value: healthStatus{Status: "ok", Methods: a.rpc.Registry().Len()}}, nil
}

func (a *app) serveHTTP(ctx context.Context) error {
	ln, err := net.Listen("tcp", a.cfg.HTTP.Address)
	if err != nil {
		return fmt.Errorf("rpcserver: %w", err)
	}
	if n := a.cfg.HTTP.MaxConns; n > 0 {
		ln = netutil.LimitListener(ln, n)
	}
	return a.serve(ctx, ln)
}

// serve runs the HTTP server on ln until ctx is done, then shuts it down
// gracefully.
func (a *app) serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           a.router(),
		ReadTimeout:       a.cfg.HTTP.ReadTimeout,
		ReadHeaderTimeout: a.cfg.HTTP.ReadTimeout,
		WriteTimeout:      a.cfg.HTTP.WriteTimeout,
		ErrorLog:          log.New(&logs.SlogWriter{Logger: a.logger, Level: slog.LevelError}, "", 0),
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(ln)
	}()
	a.logger.Info("rpcserver: listening",
		slog.String("address", ln.Addr().String()),
		slog.String("path", a.cfg.HTTP.Path))

	select {
	case err := <-errCh:
		return fmt.Errorf("rpcserver: %w", err)
	case <-ctx.Done():
	}

	a.logger.Info("rpcserver: shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("rpcserver: shutdown: %w", err)
	}
	if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("rpcserver: %w", err)
	}
	return nil
}

func (a *app) serveStdio(ctx context.Context, in io.Reader, out io.Writer) error {
	a.logger.Info("rpcserver: serving stdio")
	err := stream.Serve(ctx, a.rpc, in, out, stream.WithLogger(a.logger))
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func (a *app) Close() error {
	if a.kv != nil {
		return a.kv.Close()
	}
	return nil
}
