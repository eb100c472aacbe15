package httpx

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
)

const defaultBodyLimit = 64 << 10

// ErrInvalidBody reports a request body that could not be decoded.
var ErrInvalidBody = errors.New("httpx: invalid request body")

// WriteJSON encodes body with the given status.
func WriteJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if body == nil {
		return
	}
	_ = json.NewEncoder(w).Encode(body)
}

// DecodeJSON decodes a single JSON object from the request body into dst. Unknown fields,
// trailing data and bodies above limit bytes are rejected. limit <= 0 applies 64 KiB.
func DecodeJSON(r *http.Request, dst any, limit int64) error {
	if r.Body == nil {
		return fmt.Errorf("%w: body is required", ErrInvalidBody)
	}
	if limit <= 0 {
		limit = defaultBodyLimit
	}
	if ct := r.Header.Get("Content-Type"); ct != "" && !strings.HasPrefix(strings.ToLower(ct), "application/json") {
		return fmt.Errorf("%w: content type must be application/json", ErrInvalidBody)
	}

	dec := json.NewDecoder(io.LimitReader(r.Body, limit+1))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return fmt.Errorf("%w: body is required", ErrInvalidBody)
		}
		return fmt.Errorf("%w: %v", ErrInvalidBody, err)
	}
	if dec.More() {
		return fmt.Errorf("%w: unexpected trailing data", ErrInvalidBody)
	}
	if dec.InputOffset() > limit {
		return fmt.Errorf("%w: body exceeds %d bytes", ErrInvalidBody, limit)
	}
	return nil
}
