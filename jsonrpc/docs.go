package jsonrpc

import (
	"reflect"
	"strings"
	"time"
)

// DocsMethod is the method name WithDocs registers.
const DocsMethod = "__docs__"

// Docs is the result of the DocsMethod route.
type Docs struct {
	Methods       []MethodDoc       `json:"methods"`
	Notifications []NotificationDoc `json:"notifications"`
}

// MethodDoc describes one method. Params and Result are JSON-schema-like
// descriptions, nil when the handler does not expose its types.
type MethodDoc struct {
	Name   string         `json:"name"`
	Params map[string]any `json:"params,omitempty"`
	Result map[string]any `json:"result,omitempty"`
}

// NotificationDoc describes a notification.
type NotificationDoc struct {
	Name   string         `json:"name"`
	Params map[string]any `json:"params,omitempty"`
}

func buildDocs(reg *Registry, notifications []NotificationDoc) *Docs {
	docs := &Docs{
		Methods:       make([]MethodDoc, 0, reg.Len()),
		Notifications: append([]NotificationDoc{}, notifications...),
	}
	for _, name := range reg.Methods() {
		doc := MethodDoc{Name: name}
		if d, ok := reg.routes[name].handler.(typeDescriber); ok {
			doc.Params = describeType(d.paramsType())
			doc.Result = describeType(d.resultType())
		}
		docs.Methods = append(docs.Methods, doc)
	}
	return docs
}

var timeType = reflect.TypeFor[time.Time]()

func describeType(t reflect.Type) map[string]any {
	if t == nil {
		return nil
	}
	return describe(t, map[reflect.Type]bool{})
}

// describe tracks the types on the current path in seen; a type met again
// below itself is described by its bare kind.
func describe(t reflect.Type, seen map[reflect.Type]bool) map[string]any {
	if t == timeType {
		return map[string]any{"type": "string", "format": "date-time"}
	}
	switch t.Kind() {
	case reflect.Pointer, reflect.Slice, reflect.Array, reflect.Map, reflect.Struct:
		if seen[t] {
			return recursiveRef(t)
		}
		seen[t] = true
		defer delete(seen, t)
	}

	if t.Kind() == reflect.Pointer {
		d := describe(t.Elem(), seen)
		d["nullable"] = true
		return d
	}

	switch t.Kind() {
	case reflect.Bool:
		return map[string]any{"type": "boolean"}
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return map[string]any{"type": "integer"}
	case reflect.Float32, reflect.Float64:
		return map[string]any{"type": "number"}
	case reflect.String:
		return map[string]any{"type": "string"}
	case reflect.Slice, reflect.Array:
		if t.Elem().Kind() == reflect.Uint8 {
			return map[string]any{"type": "string", "contentEncoding": "base64"}
		}
		return map[string]any{"type": "array", "items": describe(t.Elem(), seen)}
	case reflect.Map:
		return map[string]any{"type": "object", "additionalProperties": describe(t.Elem(), seen)}
	case reflect.Struct:
		shape := newParamShape(t)
		props := make(map[string]any, len(shape.fields))
		var required []string
		for _, f := range shape.fields {
			props[f.name] = describe(t.Field(f.index).Type, seen)
			if !f.optional {
				required = append(required, f.name)
			}
		}
		d := map[string]any{"type": "object", "properties": props}
		if len(required) > 0 {
			d["required"] = required
		}
		if name := t.Name(); name != "" && !strings.Contains(name, "[") {
			d["title"] = name
		}
		return d
	default:
		return map[string]any{}
	}
}

func recursiveRef(t reflect.Type) map[string]any {
	switch t.Kind() {
	case reflect.Slice, reflect.Array:
		return map[string]any{"type": "array"}
	case reflect.Pointer:
		return map[string]any{"nullable": true}
	default:
		return map[string]any{"type": "object"}
	}
}
