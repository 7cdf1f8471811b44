package jsonrpc

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// Version is the value of the "jsonrpc" member in every message.
const Version = "2.0"

// Request is a request or notification object.
//
// Params is nil when the member is absent; a JSON null is normalized to
// absent. ID is nil for notifications.
type Request struct {
	Method string
	Params json.RawMessage
	ID     *ID
}

// IsNotification reports whether the request carries no id.
func (r *Request) IsNotification() bool {
	return r.ID == nil
}

type requestJSON struct {
	JSONRPC string          `json:"jsonrpc"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
	ID      *ID             `json:"id,omitempty"`
}

func (r Request) MarshalJSON() ([]byte, error) {
	return json.Marshal(requestJSON{
		JSONRPC: Version,
		Method:  r.Method,
		Params:  r.Params,
		ID:      r.ID,
	})
}

func (r *Request) UnmarshalJSON(b []byte) error {
	req, _, rpcErr := parseRequest(b)
	if rpcErr != nil {
		return fmt.Errorf("jsonrpc: invalid request: %v", rpcErr.Data)
	}
	*r = *req
	return nil
}

var (
	requestMembers  = []string{"jsonrpc", "method", "params", "id"}
	responseMembers = []string{"jsonrpc", "result", "error", "id"}
)

// members decodes an object into its raw members. Names are matched exactly;
// a member that differs from one of names only in case is rejected, so
// {"Method": ...} can neither stand in for nor shadow "method".
func members(raw []byte, names []string) (map[string]json.RawMessage, error) {
	var m map[string]json.RawMessage
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, err
	}
	if m == nil {
		return nil, errors.New("object expected")
	}
	for k := range m {
		for _, name := range names {
			if k != name && strings.EqualFold(k, name) {
				return nil, fmt.Errorf("member %q must be spelled %q", k, name)
			}
		}
	}
	return m, nil
}

// parseRequest validates a single request object. On failure it returns the
// id recovered from the payload (null when it cannot be recovered) and a
// -32600 error describing the problem.
func parseRequest(raw []byte) (*Request, ID, *Error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || raw[0] != '{' {
		return nil, ID{}, invalidRequest("request must be an object")
	}
	m, err := members(raw, requestMembers)
	if err != nil {
		return nil, recoverID(raw), invalidRequest(err.Error())
	}

	var id ID
	var idPtr *ID
	if rawID, ok := m["id"]; ok {
		if err := id.UnmarshalJSON(rawID); err != nil {
			return nil, ID{}, invalidRequest(err.Error())
		}
		idPtr = &id
	}

	var version string
	if rv, ok := m["jsonrpc"]; !ok || json.Unmarshal(rv, &version) != nil || version != Version {
		return nil, id, invalidRequest(`jsonrpc must be "2.0"`)
	}

	var method string
	if rm, ok := m["method"]; !ok || json.Unmarshal(rm, &method) != nil || method == "" {
		return nil, id, invalidRequest("method must be a non-empty string")
	}

	params := normalizeParams(m["params"])
	if params != nil && params[0] != '{' && params[0] != '[' {
		return nil, id, invalidRequest("params must be an object or array")
	}

	return &Request{Method: method, Params: params, ID: idPtr}, id, nil
}

// recoverID returns the exact "id" member of an object rejected before
// validation, or null.
func recoverID(raw []byte) ID {
	var m map[string]json.RawMessage
	if json.Unmarshal(raw, &m) != nil {
		return ID{}
	}
	var id ID
	if rawID, ok := m["id"]; !ok || id.UnmarshalJSON(rawID) != nil {
		return ID{}
	}
	return id
}

func normalizeParams(raw json.RawMessage) json.RawMessage {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || string(raw) == "null" {
		return nil
	}
	return raw
}

// NewRequest builds a request expecting a response. params may be nil, a
// json.RawMessage, or any value that marshals to a JSON object or array.
func NewRequest(method string, params any, id ID) (*Request, error) {
	raw, err := marshalParams(params)
	if err != nil {
		return nil, err
	}
	return &Request{Method: method, Params: raw, ID: &id}, nil
}

// NewNotification builds a request without an id.
func NewNotification(method string, params any) (*Request, error) {
	raw, err := marshalParams(params)
	if err != nil {
		return nil, err
	}
	return &Request{Method: method, Params: raw}, nil
}

func marshalParams(params any) (json.RawMessage, error) {
	if params == nil {
		return nil, nil
	}
	raw, ok := params.(json.RawMessage)
	if !ok {
		b, err := json.Marshal(params)
		if err != nil {
			return nil, fmt.Errorf("jsonrpc: marshal params: %w", err)
		}
		raw = b
	}
	raw = normalizeParams(raw)
	if raw != nil && raw[0] != '{' && raw[0] != '[' {
		return nil, errors.New("jsonrpc: params must marshal to an object or array")
	}
	return raw, nil
}

// Response is a response object. Exactly one of Result and Error is sent;
// a nil Result with a nil Error is sent as "result": null.
type Response struct {
	ID     ID
	Result json.RawMessage
	Error  *Error
}

// IsError reports whether the response carries an error object.
func (r *Response) IsError() bool {
	return r.Error != nil
}

type responseJSON struct {
	JSONRPC string          `json:"jsonrpc"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *Error          `json:"error,omitempty"`
	ID      ID              `json:"id"`
}

func (r Response) MarshalJSON() ([]byte, error) {
	out := responseJSON{JSONRPC: Version, ID: r.ID}
	if r.Error != nil {
		out.Error = r.Error
	} else {
		out.Result = r.Result
		if len(out.Result) == 0 {
			out.Result = json.RawMessage("null")
		}
	}
	return json.Marshal(out)
}

func (r *Response) UnmarshalJSON(b []byte) error {
	m, err := members(b, responseMembers)
	if err != nil {
		return fmt.Errorf("jsonrpc: response: %w", err)
	}
	var version string
	if rv, ok := m["jsonrpc"]; !ok || json.Unmarshal(rv, &version) != nil || version != Version {
		return errors.New(`jsonrpc: response: jsonrpc must be "2.0"`)
	}
	rawID, ok := m["id"]
	if !ok {
		return errors.New("jsonrpc: response: missing id")
	}
	var id ID
	if err := id.UnmarshalJSON(rawID); err != nil {
		return fmt.Errorf("jsonrpc: response: %w", err)
	}

	result, hasResult := m["result"]
	errRaw := normalizeParams(m["error"])
	hasError := errRaw != nil
	if hasResult == hasError {
		return errors.New("jsonrpc: response: exactly one of result and error must be present")
	}

	out := Response{ID: id}
	if hasError {
		var e Error
		if err := json.Unmarshal(errRaw, &e); err != nil {
			return fmt.Errorf("jsonrpc: response: error object: %w", err)
		}
		out.Error = &e
	} else {
		out.Result = result
	}
	*r = out
	return nil
}
