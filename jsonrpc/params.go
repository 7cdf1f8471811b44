package jsonrpc

import (
	"encoding/json"
	"fmt"
	"reflect"
	"strings"
)

// Params is the untyped params member of a request. Decoding into a typed
// value is deferred until a handler asks for it.
type Params struct {
	raw json.RawMessage
}

// NewParams wraps raw params. A JSON null is treated as absent.
func NewParams(raw json.RawMessage) Params {
	return Params{raw: normalizeParams(raw)}
}

// Raw returns the params as received, or nil when absent.
func (p Params) Raw() json.RawMessage {
	return p.raw
}

func (p Params) IsAbsent() bool {
	return len(p.raw) == 0
}

// IsArray reports whether params are positional.
func (p Params) IsArray() bool {
	return len(p.raw) > 0 && p.raw[0] == '['
}

// IsObject reports whether params are named.
func (p Params) IsObject() bool {
	return len(p.raw) > 0 && p.raw[0] == '{'
}

// Decode unmarshals params into dst using encoding/json. Absent params leave
// dst untouched. Failures are reported as -32602 errors.
func (p Params) Decode(dst any) error {
	if p.IsAbsent() {
		return nil
	}
	if err := json.Unmarshal(p.raw, dst); err != nil {
		return InvalidParams(err.Error())
	}
	return nil
}

// paramShape is the deserialization contract derived from a handler's
// parameter type. It is computed once, when the handler is wrapped.
type paramShape struct {
	typ    reflect.Type
	elem   reflect.Type // struct type when typ is a struct or *struct
	fields []paramField
	// required is the number of fields without omitempty that are not pointers.
	required int
	// methodName is taken from a `_ struct{} jsonrpc:"name"` field.
	methodName string
}

type paramField struct {
	index    int
	name     string
	optional bool
}

func newParamShape(t reflect.Type) *paramShape {
	s := &paramShape{typ: t}
	st := t
	if st.Kind() == reflect.Pointer {
		st = st.Elem()
	}
	if st.Kind() != reflect.Struct {
		return s
	}
	s.elem = st

	for i := 0; i < st.NumField(); i++ {
		sf := st.Field(i)
		if sf.Name == "_" {
			if tag := sf.Tag.Get("jsonrpc"); tag != "" {
				s.methodName = tag
			}
			continue
		}
		if !sf.IsExported() {
			continue
		}
		name, opts, hasOpts := strings.Cut(sf.Tag.Get("json"), ",")
		if name == "-" && !hasOpts {
			continue
		}
		if name == "" {
			name = sf.Name
		}
		optional := sf.Type.Kind() == reflect.Pointer || hasTagOption(opts, "omitempty") || hasTagOption(opts, "omitzero")
		if !optional {
			s.required++
		}
		s.fields = append(s.fields, paramField{index: i, name: name, optional: optional})
	}
	return s
}

func hasTagOption(opts, want string) bool {
	for opts != "" {
		var opt string
		opt, opts, _ = strings.Cut(opts, ",")
		if opt == want {
			return true
		}
	}
	return false
}

func (s *paramShape) isStruct() bool {
	return s.elem != nil
}

// allowsAbsent reports whether the type has a usable value when params are
// omitted.
func (s *paramShape) allowsAbsent() bool {
	switch s.typ.Kind() {
	case reflect.Pointer, reflect.Slice, reflect.Map, reflect.Interface:
		return true
	case reflect.Struct:
		return s.required == 0
	default:
		return false
	}
}

// extract decodes params into a new value of the shape's type. It never
// panics on malformed input; every failure is a -32602 error.
func (s *paramShape) extract(p Params) (reflect.Value, error) {
	target := reflect.New(s.typ)
	if p.IsAbsent() {
		if s.allowsAbsent() {
			return target.Elem(), nil
		}
		return reflect.Value{}, InvalidParams("params required")
	}

	if !s.isStruct() {
		if err := json.Unmarshal(p.raw, target.Interface()); err != nil {
			return reflect.Value{}, InvalidParams(err.Error())
		}
		return target.Elem(), nil
	}

	base := target.Elem()
	if base.Kind() == reflect.Pointer {
		base.Set(reflect.New(s.elem))
		base = base.Elem()
	}

	if p.IsArray() {
		if err := s.extractPositional(p.raw, base); err != nil {
			return reflect.Value{}, err
		}
		return target.Elem(), nil
	}
	if !p.IsObject() {
		return reflect.Value{}, InvalidParams("params must be an object or array")
	}
	if err := s.extractNamed(p.raw, base); err != nil {
		return reflect.Value{}, err
	}
	return target.Elem(), nil
}

func (s *paramShape) extractPositional(raw json.RawMessage, base reflect.Value) error {
	var elems []json.RawMessage
	if err := json.Unmarshal(raw, &elems); err != nil {
		return InvalidParams(err.Error())
	}
	if len(elems) < s.required || len(elems) > len(s.fields) {
		if s.required == len(s.fields) {
			return InvalidParams(fmt.Sprintf("expected %d positional params, got %d", len(s.fields), len(elems)))
		}
		return InvalidParams(fmt.Sprintf("expected %d to %d positional params, got %d", s.required, len(s.fields), len(elems)))
	}
	for i, elem := range elems {
		f := s.fields[i]
		if err := json.Unmarshal(elem, base.Field(f.index).Addr().Interface()); err != nil {
			return InvalidParams(fmt.Sprintf("param %s: %v", f.name, err))
		}
	}
	// Positional arrays fill fields in order, so a required field past the
	// end of the array can only exist if optional fields precede it.
	for _, f := range s.fields[len(elems):] {
		if !f.optional {
			return InvalidParams("missing param: " + f.name)
		}
	}
	return nil
}

// extractNamed fills fields from members whose names match exactly, the
// same rule the required check uses. Unknown members are ignored. A type with
// its own UnmarshalJSON decodes the object itself.
func (s *paramShape) extractNamed(raw json.RawMessage, base reflect.Value) error {
	if u, ok := base.Addr().Interface().(json.Unmarshaler); ok {
		if err := u.UnmarshalJSON(raw); err != nil {
			return InvalidParams(err.Error())
		}
		return nil
	}
	var present map[string]json.RawMessage
	if err := json.Unmarshal(raw, &present); err != nil {
		return InvalidParams(err.Error())
	}
	for _, f := range s.fields {
		member, ok := present[f.name]
		if !ok {
			if !f.optional {
				return InvalidParams("missing param: " + f.name)
			}
			continue
		}
		if err := json.Unmarshal(member, base.Field(f.index).Addr().Interface()); err != nil {
			return InvalidParams(fmt.Sprintf("param %s: %v", f.name, err))
		}
	}
	return nil
}
