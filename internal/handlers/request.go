package handlers

import (
	"net/http"
	"strings"

	"github.com/hanko-field/commerce/internal/platform/httpx"
)

// decodeBody decodes the JSON request body into dst, writing a 400 and returning false when the
// body is missing or malformed.
func decodeBody(w http.ResponseWriter, r *http.Request, dst any, limit int64) bool {
	if err := httpx.DecodeJSON(r, dst, limit); err != nil {
		msg := strings.TrimPrefix(err.Error(), httpx.ErrInvalidBody.Error()+": ")
		httpx.WriteError(r.Context(), w, httpx.NewError("invalid_request", msg, http.StatusBadRequest))
		return false
	}
	return true
}

// decodeOptionalBody behaves like decodeBody but accepts an empty body.
func decodeOptionalBody(w http.ResponseWriter, r *http.Request, dst any, limit int64) bool {
	if r.Body == nil || r.Body == http.NoBody || r.ContentLength == 0 {
		return true
	}
	return decodeBody(w, r, dst, limit)
}
