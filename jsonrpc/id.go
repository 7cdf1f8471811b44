package jsonrpc

import (
	"bytes"
	"encoding/json"
	"errors"
	"strconv"
)

type idKind uint8

const (
	idNull idKind = iota
	idString
	idNumber
)

var errInvalidID = errors.New("id must be a string, number or null")

// ID is a request identifier: a string, a number, or null. The zero value is
// the null id. Numbers keep their textual form so they are echoed back
// exactly as received.
//
// An absent id (a notification) is represented by a nil *ID on Request.
type ID struct {
	kind idKind
	str  string
	num  json.Number
}

// StringID returns a string id.
func StringID(s string) ID {
	return ID{kind: idString, str: s}
}

// NumberID returns a numeric id.
func NumberID(n int64) ID {
	return ID{kind: idNumber, num: json.Number(strconv.FormatInt(n, 10))}
}

// NullID returns the null id.
func NullID() ID {
	return ID{}
}

func (id ID) IsNull() bool {
	return id.kind == idNull
}

// String formats the id for logs.
func (id ID) String() string {
	switch id.kind {
	case idString:
		return strconv.Quote(id.str)
	case idNumber:
		return id.num.String()
	default:
		return "null"
	}
}

func (id ID) MarshalJSON() ([]byte, error) {
	switch id.kind {
	case idString:
		return json.Marshal(id.str)
	case idNumber:
		return []byte(id.num), nil
	default:
		return []byte("null"), nil
	}
}

func (id *ID) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 {
		return errInvalidID
	}
	switch c := b[0]; {
	case c == 'n':
		if string(b) != "null" {
			return errInvalidID
		}
		*id = ID{}
	case c == '"':
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return errInvalidID
		}
		*id = StringID(s)
	case c == '-' || (c >= '0' && c <= '9'):
		var n json.Number
		if err := json.Unmarshal(b, &n); err != nil {
			return errInvalidID
		}
		*id = ID{kind: idNumber, num: n}
	default:
		return errInvalidID
	}
	return nil
}
