package endpoint

import (
	"encoding/json"
	"io"
	"net/http"
	"strconv"
)

// JSONRenderer serializes Value as JSON with a trailing newline.
//
// Content-Type is always "application/json". Encoding errors are returned
// after the status line has been written, so they can only be logged.
type JSONRenderer struct {
	Status int
	Value  any

	// EncoderFactory optionally customizes encoder creation.
	// When nil, json.NewEncoder is used with HTML escaping off.
	EncoderFactory func(w io.Writer) *json.Encoder
}

func (jr *JSONRenderer) Render(w http.ResponseWriter, _ *http.Request) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusOr(jr.Status, http.StatusOK))

	var enc *json.Encoder
	if jr.EncoderFactory != nil {
		enc = jr.EncoderFactory(w)
	} else {
		enc = json.NewEncoder(w)
		enc.SetEscapeHTML(false)
	}
	if enc == nil {
		return io.ErrUnexpectedEOF
	}
	return enc.Encode(jr.Value)
}

// RawJSONRenderer writes already encoded JSON.
type RawJSONRenderer struct {
	Status int
	Body   []byte
}

func (rr *RawJSONRenderer) Render(w http.ResponseWriter, _ *http.Request) error {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Content-Length", strconv.Itoa(len(rr.Body)))
	w.WriteHeader(statusOr(rr.Status, http.StatusOK))
	_, err := w.Write(rr.Body)
	return err
}
