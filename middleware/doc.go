// Package middleware provides endpoint processors for the HTTP transport:
// request ids with access logging, security headers for JSON APIs, and
// sessions kept in sealed tokens.
//
// Processors compose with httprpc.Handler:
//
//	sessions, err := middleware.NewSessionProcessor("k1", keys)
//	...
//	h := httprpc.Handler(srv,
//		middleware.RequestID(),
//		middleware.AccessLog(logger),
//		middleware.NewSecurityHeadersProcessor(),
//		sessions,
//	)
//
// Handlers reach request-scoped state through the context they receive:
// SessionFromContext and RequestIDFromContext work inside JSON-RPC methods.
package middleware
