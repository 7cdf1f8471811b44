package jsonrpc

import (
	"errors"
)

// Standard error codes defined by JSON-RPC 2.0.
const (
	CodeParseError     = -32700
	CodeInvalidRequest = -32600
	CodeMethodNotFound = -32601
	CodeInvalidParams  = -32602
	CodeInternalError  = -32603
)

// Implementation-defined server errors. Application handlers conventionally
// map their domain errors into this range.
const (
	CodeServerError    = -32000
	CodeServerErrorMin = -32099
	CodeServerErrorMax = -32000
)

var standardMessages = map[int]string{
	CodeParseError:     "Parse error",
	CodeInvalidRequest: "Invalid Request",
	CodeMethodNotFound: "Method not found",
	CodeInvalidParams:  "Invalid params",
	CodeInternalError:  "Internal error",
}

// Error is a JSON-RPC 2.0 error object. It implements error, so handlers
// may return it directly to control the code, message and data sent to the
// caller.
type Error struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

func (e *Error) Error() string {
	if e == nil {
		return "jsonrpc: <nil error>"
	}
	return e.Message
}

// NewError creates an error object. An empty message is replaced by the
// standard message for code, if there is one.
func NewError(code int, message string) *Error {
	if message == "" {
		message = standardMessages[code]
	}
	return &Error{Code: code, Message: message}
}

// WithData returns a copy of e carrying data.
func (e *Error) WithData(data any) *Error {
	cp := *e
	cp.Data = data
	return &cp
}

// InvalidParams returns a -32602 error with a diagnostic in data.
func InvalidParams(data any) *Error {
	return NewError(CodeInvalidParams, "").WithData(data)
}

// InternalError returns a -32603 error with optional data.
func InternalError(data any) *Error {
	return NewError(CodeInternalError, "").WithData(data)
}

func invalidRequest(data any) *Error {
	return NewError(CodeInvalidRequest, "").WithData(data)
}

// IsReservedCode reports whether code lies in the range JSON-RPC 2.0 keeps
// for the protocol itself (-32768 to -32000).
func IsReservedCode(code int) bool {
	return code >= -32768 && code <= -32000
}

// ErrorCoder is implemented by domain errors that know their JSON-RPC code.
// The error text becomes the message.
type ErrorCoder interface {
	error
	ErrorCode() int
}

// ErrorDataProvider is implemented by errors that attach data to the error
// object.
type ErrorDataProvider interface {
	ErrorData() any
}

// ToError converts any error to a JSON-RPC error object.
//
// An *Error anywhere in the chain is returned as is. An ErrorCoder keeps its
// code. Any other error becomes CodeInternalError with the error text as
// message.
func ToError(err error) *Error {
	return toError(err, CodeInternalError)
}

func toError(err error, fallback int) *Error {
	if err == nil {
		return nil
	}
	var rpcErr *Error
	if errors.As(err, &rpcErr) && rpcErr != nil {
		return rpcErr
	}
	out := &Error{Code: fallback, Message: err.Error()}
	var coder ErrorCoder
	if errors.As(err, &coder) {
		out.Code = coder.ErrorCode()
	}
	var dp ErrorDataProvider
	if errors.As(err, &dp) {
		out.Data = dp.ErrorData()
	}
	if out.Message == "" {
		out.Message = standardMessages[out.Code]
	}
	return out
}
