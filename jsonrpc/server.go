package jsonrpc

import (
	"context"
	"errors"
	"log/slog"
	"reflect"
)

// ErrBuilderFinished is returned when a Builder is used after Build.
var ErrBuilderFinished = errors.New("jsonrpc: builder already finished")

type config struct {
	logger      *slog.Logger
	data        map[reflect.Type]any
	middlewares []Middleware
	errorCode   int
	strict      bool
	maxBatch    int
	concurrency int
	docs        bool
}

// Option configures a server under construction.
type Option func(*config)

// WithData injects v into the extensions store under type T. Handlers
// retrieve it with Data[T] or MustData[T]. Injecting the same type twice
// keeps the last value.
func WithData[T any](v T) Option {
	return func(c *config) {
		c.data[reflect.TypeFor[T]()] = v
	}
}

// WithLogger sets the logger used for recovered panics and failed
// notifications. Defaults to slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(c *config) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithMiddleware adds middlewares that wrap every method.
func WithMiddleware(mw ...Middleware) Option {
	return func(c *config) {
		c.middlewares = append(c.middlewares, mw...)
	}
}

// WithEasyErrors maps handler errors that are neither *Error nor
// ErrorCoder to code (conventionally CodeServerError) with the error text
// as message. Without it such errors become CodeInternalError.
func WithEasyErrors(code int) Option {
	return func(c *config) {
		c.errorCode = code
	}
}

// WithStrictNames rejects registrations of names beginning with "rpc.".
func WithStrictNames() Option {
	return func(c *config) {
		c.strict = true
	}
}

// WithMaxBatch rejects batches with more than n elements as a whole with a
// single -32600 error. n <= 0 means no limit.
func WithMaxBatch(n int) Option {
	return func(c *config) {
		c.maxBatch = n
	}
}

// WithBatchConcurrency limits how many batch elements run at once. n <= 0
// means no limit.
func WithBatchConcurrency(n int) Option {
	return func(c *config) {
		c.concurrency = n
	}
}

// WithDocs registers the DocsMethod route describing every method.
func WithDocs() Option {
	return func(c *config) {
		c.docs = true
	}
}

// Builder collects methods and options before serving. Methods can only be
// added before Build; the resulting Server is read-only.
type Builder struct {
	cfg           config
	registry      *Registry
	notifications []NotificationDoc
	finished      bool
}

// NewBuilder starts building a server.
func NewBuilder(opts ...Option) *Builder {
	cfg := config{
		logger:    slog.Default(),
		data:      make(map[reflect.Type]any),
		errorCode: CodeInternalError,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	var regOpts []RegistryOption
	if cfg.strict {
		regOpts = append(regOpts, StrictNames())
	}
	return &Builder{cfg: cfg, registry: NewRegistry(regOpts...)}
}

// Register adds a method. See Registry.Register for the conflict policy.
func (b *Builder) Register(name string, h Handler, mw ...Middleware) error {
	if b.finished {
		return ErrBuilderFinished
	}
	return b.registry.Register(name, h, mw...)
}

// RegisterFunc adds a method implemented by an untyped function.
func (b *Builder) RegisterFunc(name string, fn func(ctx context.Context, params Params) (any, error), mw ...Middleware) error {
	if fn == nil {
		return b.Register(name, nil, mw...)
	}
	return b.Register(name, HandlerFunc(fn), mw...)
}

// RegisterReceiver adds the methods of receiver. See Registry.RegisterReceiver.
func (b *Builder) RegisterReceiver(namespace string, receiver any) error {
	if b.finished {
		return ErrBuilderFinished
	}
	return b.registry.RegisterReceiver(namespace, receiver)
}

// DescribeNotification records a notification the server emits or accepts,
// for the docs route. sample is a value of the params type, or nil.
func (b *Builder) DescribeNotification(name string, sample any) {
	var t reflect.Type
	if sample != nil {
		t = reflect.TypeOf(sample)
	}
	b.notifications = append(b.notifications, NotificationDoc{Name: name, Params: describeType(t)})
}

// Build finishes the server. The builder cannot be used afterwards.
func (b *Builder) Build() (*Server, error) {
	if b.finished {
		return nil, ErrBuilderFinished
	}
	if b.cfg.docs {
		docs := buildDocs(b.registry, b.notifications)
		h := HandlerFunc(func(context.Context, Params) (any, error) {
			return docs, nil
		})
		if err := b.registry.Register(DocsMethod, h); err != nil {
			return nil, err
		}
	}

	for _, rt := range b.registry.routes {
		h := rt.handler
		final := func(ctx context.Context, req *Request) (any, error) {
			return h.Invoke(ctx, NewParams(req.Params))
		}
		mws := make([]Middleware, 0, len(b.cfg.middlewares)+len(rt.middlewares))
		mws = append(mws, b.cfg.middlewares...)
		mws = append(mws, rt.middlewares...)
		rt.call = chain(mws, final)
	}

	b.finished = true
	return &Server{
		registry:    b.registry,
		ext:         &Extensions{values: b.cfg.data},
		logger:      b.cfg.logger,
		errorCode:   b.cfg.errorCode,
		maxBatch:    b.cfg.maxBatch,
		concurrency: b.cfg.concurrency,
	}, nil
}

// Server dispatches JSON-RPC 2.0 requests to registered methods. It is safe
// for concurrent use.
type Server struct {
	registry    *Registry
	ext         *Extensions
	logger      *slog.Logger
	errorCode   int
	maxBatch    int
	concurrency int
}

// Registry returns a read-only view of the server's methods.
func (s *Server) Registry() RegistryView {
	return RegistryView{r: s.registry}
}

// Extensions returns the server's shared state store.
func (s *Server) Extensions() *Extensions {
	return s.ext
}

func (s *Server) toError(err error) *Error {
	return toError(err, s.errorCode)
}
