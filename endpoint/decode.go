package endpoint

import (
	"encoding"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"reflect"
	"strconv"
	"strings"
)

// defaultFieldLimit bounds path, query and header values without a
// maxLength tag.
const defaultFieldLimit = 16 * 1024

// DefaultBodyLimit bounds request bodies without a maxLength tag.
const DefaultBodyLimit = 1 << 20

// Unmarshal populates dst, a non-nil pointer to a struct (or to a pointer to
// a struct), from r.
//
// Supported struct tags:
//   - `path:"name"`: r.PathValue(name)
//   - `query:"name"`: r.URL.Query()
//   - `header:"name"`: r.Header
//   - `body:""`: the request body; []byte and string fields receive it raw,
//     any other type is decoded as JSON and requires a JSON Content-Type
//   - `maxLength:"n"`: maximum byte length of the value; "0" disables the
//     limit. Bodies default to DefaultBodyLimit, other values to 16KB.
//
// An empty name defaults to the lower-cased field name. A name of "-" skips
// the field. When several sources are tagged, the first one present wins in
// the order path, query, header, body. Fields whose source is absent keep
// their value. Oversized or malformed values yield a 400 (413 for bodies).
// Slice fields receive every query or header value.
func Unmarshal(r *http.Request, dst any) error {
	if r == nil {
		return Error(http.StatusInternalServerError, "", errors.New("endpoint: decode: nil request"))
	}
	v := reflect.ValueOf(dst)
	if v.Kind() != reflect.Pointer || v.IsNil() {
		return Error(http.StatusInternalServerError, "", errors.New("endpoint: decode: dst must be a non-nil pointer"))
	}
	root := v.Elem()
	if root.Kind() == reflect.Pointer {
		if root.IsNil() {
			root.Set(reflect.New(root.Type().Elem()))
		}
		root = root.Elem()
	}
	if root.Kind() != reflect.Struct {
		return Error(http.StatusInternalServerError, "", errors.New("endpoint: decode: dst must point to a struct"))
	}
	return unmarshalStruct(r, root)
}

var sources = []string{"path", "query", "header", "body"}

func unmarshalStruct(r *http.Request, sv reflect.Value) error {
	t := sv.Type()
	bodySeen := false
	for i := 0; i < t.NumField(); i++ {
		sf := t.Field(i)
		if !sf.IsExported() {
			continue
		}
		limit, err := fieldLimit(sf)
		if err != nil {
			return Error(http.StatusInternalServerError, "", fmt.Errorf("endpoint: decode: field %s: %w", sf.Name, err))
		}

		for _, src := range sources {
			name, ok := sf.Tag.Lookup(src)
			if !ok {
				continue
			}
			name, _, _ = strings.Cut(name, ",")
			if name == "-" {
				break
			}
			if name == "" {
				name = strings.ToLower(sf.Name)
			}
			if src == "body" {
				if bodySeen {
					return Error(http.StatusInternalServerError, "", fmt.Errorf("endpoint: decode: multiple body fields in %s", t))
				}
				bodySeen = true
			}

			values, present, err := fetch(r, src, name, sf, limit)
			if err != nil {
				return err
			}
			if !present {
				continue
			}
			if err := setField(sv.Field(i), values, src == "body"); err != nil {
				return Error(http.StatusBadRequest, "", fmt.Errorf("endpoint: decode: %s %q -> %s: %w", src, name, sf.Name, err))
			}
			break
		}
	}
	return nil
}

func fieldLimit(sf reflect.StructField) (int, error) {
	val, has := sf.Tag.Lookup("maxLength")
	if !has {
		if _, isBody := sf.Tag.Lookup("body"); isBody {
			return DefaultBodyLimit, nil
		}
		return defaultFieldLimit, nil
	}
	val = strings.TrimSpace(val)
	if val == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		return 0, fmt.Errorf("maxLength: invalid integer %q", val)
	}
	if n < 0 {
		return 0, errors.New("maxLength: must be >= 0")
	}
	return n, nil
}

func fetch(r *http.Request, src, name string, sf reflect.StructField, limit int) ([]string, bool, error) {
	var values []string
	switch src {
	case "path":
		if v := r.PathValue(name); v != "" {
			values = []string{v}
		}
	case "query":
		if r.URL != nil {
			values = r.URL.Query()[name]
		}
	case "header":
		values = r.Header[http.CanonicalHeaderKey(name)]
	case "body":
		return fetchBody(r, sf, limit)
	}
	for _, v := range values {
		if limit > 0 && len(v) > limit {
			return nil, false, Error(http.StatusBadRequest, "", fmt.Errorf("endpoint: decode: %s %q exceeds max length %d", src, name, limit))
		}
	}
	return values, len(values) > 0, nil
}

func fetchBody(r *http.Request, sf reflect.StructField, limit int) ([]string, bool, error) {
	if r.Body == nil || r.Body == http.NoBody {
		return nil, false, nil
	}
	if !isRawType(sf.Type) && !IsJSONContentType(r.Header.Get("Content-Type")) {
		return nil, false, Error(http.StatusUnsupportedMediaType, "", errors.New("endpoint: decode: body must be JSON"))
	}

	var body io.Reader = r.Body
	if limit > 0 {
		// Read one byte past the limit to detect oversized bodies.
		body = io.LimitReader(r.Body, int64(limit)+1)
	}
	b, err := io.ReadAll(body)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return nil, false, Error(http.StatusRequestEntityTooLarge, "", err)
		}
		return nil, false, Error(http.StatusBadRequest, "", fmt.Errorf("endpoint: decode: body: %w", err))
	}
	if limit > 0 && len(b) > limit {
		return nil, false, Error(http.StatusRequestEntityTooLarge, "", fmt.Errorf("endpoint: decode: body exceeds %d bytes", limit))
	}
	return []string{string(b)}, true, nil
}

// IsJSONContentType reports whether ct is application/json or a +json type.
func IsJSONContentType(ct string) bool {
	mt, _, err := mime.ParseMediaType(ct)
	if err != nil {
		return false
	}
	return mt == "application/json" || strings.HasSuffix(mt, "+json")
}

func isRawType(t reflect.Type) bool {
	if t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	return t.Kind() == reflect.String || (t.Kind() == reflect.Slice && t.Elem().Kind() == reflect.Uint8)
}

var textUnmarshalerType = reflect.TypeFor[encoding.TextUnmarshaler]()

func setField(v reflect.Value, values []string, body bool) error {
	for v.Kind() == reflect.Pointer {
		if v.IsNil() {
			v.Set(reflect.New(v.Type().Elem()))
		}
		v = v.Elem()
	}

	if body {
		switch {
		case v.Kind() == reflect.String:
			v.SetString(values[0])
		case v.Kind() == reflect.Slice && v.Type().Elem().Kind() == reflect.Uint8:
			v.SetBytes([]byte(values[0]))
		default:
			return json.Unmarshal([]byte(values[0]), v.Addr().Interface())
		}
		return nil
	}

	if v.Kind() == reflect.Slice && v.Type().Elem().Kind() != reflect.Uint8 {
		out := reflect.MakeSlice(v.Type(), len(values), len(values))
		for i, s := range values {
			if err := setScalar(out.Index(i), s); err != nil {
				return err
			}
		}
		v.Set(out)
		return nil
	}
	return setScalar(v, values[0])
}

func setScalar(v reflect.Value, s string) error {
	if reflect.PointerTo(v.Type()).Implements(textUnmarshalerType) {
		return v.Addr().Interface().(encoding.TextUnmarshaler).UnmarshalText([]byte(s))
	}
	switch v.Kind() {
	case reflect.String:
		v.SetString(s)
	case reflect.Slice:
		v.SetBytes([]byte(s))
	case reflect.Bool:
		b, err := strconv.ParseBool(s)
		if err != nil {
			return err
		}
		v.SetBool(b)
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		n, err := strconv.ParseInt(s, 10, v.Type().Bits())
		if err != nil {
			return err
		}
		v.SetInt(n)
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		n, err := strconv.ParseUint(s, 10, v.Type().Bits())
		if err != nil {
			return err
		}
		v.SetUint(n)
	case reflect.Float32, reflect.Float64:
		f, err := strconv.ParseFloat(s, v.Type().Bits())
		if err != nil {
			return err
		}
		v.SetFloat(f)
	default:
		return fmt.Errorf("unsupported kind %s", v.Kind())
	}
	return nil
}
