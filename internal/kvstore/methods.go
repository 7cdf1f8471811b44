package kvstore

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/Deniallugo/jsonrpc-v2/jsonrpc"
)

// CodeNotFound is returned by kv.get for a missing key.
const CodeNotFound = -32004

type notFoundError struct {
	key string
}

func (e *notFoundError) Error() string { return "Key not found" }
func (e *notFoundError) ErrorCode() int { return CodeNotFound }
func (e *notFoundError) ErrorData() any { return map[string]string{"key": e.key} }
func (e *notFoundError) Unwrap() error { return ErrNotFound }

type KeyParams struct {
	Key string `json:"key"`
}

type SetParams struct {
	Key   string          `json:"key"`
	Value json.RawMessage `json:"value"`
}

type ListParams struct {
	Prefix string `json:"prefix,omitempty"`
	After  string `json:"after,omitempty"`
	Limit  int    `json:"limit,omitempty"`
}

type DeleteResult struct {
	Deleted bool `json:"deleted"`
}

type ListResult struct {
	Keys []string `json:"keys"`
	// Next is the After value for the following page, empty on the last page.
	Next string `json:"next,omitempty"`
}

// Register adds kv.get, kv.set, kv.delete and kv.list backed by s.
func Register(b *jsonrpc.Builder, s *Store) error {
	methods := []struct {
		name string
		h    jsonrpc.Handler
	}{
		{"kv.get", jsonrpc.Method(s.get)},
		{"kv.set", jsonrpc.Method(s.set)},
		{"kv.delete", jsonrpc.Method(s.delete)},
		{"kv.list", jsonrpc.Method(s.list)},
	}
	for _, m := range methods {
		if err := b.Register(m.name, m.h); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) get(ctx context.Context, p KeyParams) (*Entry, error) {
	if err := checkKey(p.Key); err != nil {
		return nil, jsonrpc.InvalidParams(err.Error())
	}
	e, err := s.Get(ctx, p.Key)
	if errors.Is(err, ErrNotFound) {
		return nil, &notFoundError{key: p.Key}
	}
	return e, err
}

func (s *Store) set(ctx context.Context, p SetParams) (*Entry, error) {
	if err := checkKey(p.Key); err != nil {
		return nil, jsonrpc.InvalidParams(err.Error())
	}
	if len(p.Value) == 0 {
		return nil, jsonrpc.InvalidParams("value is required")
	}
	return s.Set(ctx, p.Key, p.Value)
}

func (s *Store) delete(ctx context.Context, p KeyParams) (DeleteResult, error) {
	if err := checkKey(p.Key); err != nil {
		return DeleteResult{}, jsonrpc.InvalidParams(err.Error())
	}
	ok, err := s.Delete(ctx, p.Key)
	return DeleteResult{Deleted: ok}, err
}

func (s *Store) list(ctx context.Context, p ListParams) (ListResult, error) {
	if p.Limit < 0 || p.Limit > MaxListLimit {
		return ListResult{}, jsonrpc.InvalidParams("limit out of range")
	}
	keys, err := s.List(ctx, p.Prefix, p.After, p.Limit)
	if err != nil {
		return ListResult{}, err
	}
	res := ListResult{Keys: keys}
	if p.Limit > 0 && len(keys) == p.Limit {
		res.Next = keys[len(keys)-1]
	}
	return res, nil
}
