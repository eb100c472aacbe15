package auth

import (
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/hanko-field/commerce/internal/platform/requestctx"
)

// DefaultSessionHeader carries the anonymous shopper session id in both directions.
const DefaultSessionHeader = "X-Session-ID"

// Sessions issues anonymous shopper session ids. A client-supplied id is kept when it parses as
// a UUID; otherwise a fresh random one is issued. The id is echoed back on every response so the
// client can persist it.
func Sessions(header string) func(http.Handler) http.Handler {
	header = strings.TrimSpace(header)
	if header == "" {
		header = DefaultSessionHeader
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			sessionID := ""
			if parsed, err := uuid.Parse(strings.TrimSpace(r.Header.Get(header))); err == nil && parsed != uuid.Nil {
				sessionID = parsed.String()
			} else {
				sessionID = uuid.NewString()
			}
			w.Header().Set(header, sessionID)
			next.ServeHTTP(w, r.WithContext(requestctx.WithSessionID(r.Context(), sessionID)))
		})
	}
}
