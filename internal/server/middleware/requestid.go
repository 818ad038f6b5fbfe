package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
)

// RequestIDHeader carries the harness request id on inbound calls, on the
// response, and on calls proxied to the backend.
const RequestIDHeader = "X-Request-Id"

// maxRequestIDLength bounds caller supplied ids before they are echoed or
// forwarded upstream.
const maxRequestIDLength = 128

type requestIDKey struct{}

// RequestID assigns every request an id. A well formed inbound id is kept so
// a caller can correlate harness errors with backend logs.
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, ok := acceptRequestID(r.Header.Get(RequestIDHeader))
		if !ok {
			id = middleware.GetReqID(r.Context())
		}
		if id == "" {
			id = uuid.NewString()
		}

		w.Header().Set(RequestIDHeader, id)
		next.ServeHTTP(w, r.WithContext(WithRequestID(r.Context(), id)))
	})
}

// WithRequestID returns a copy of ctx carrying id.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey{}, id)
}

// GetRequestID returns the id assigned by RequestID, or chi's id when only
// chi's middleware ran.
func GetRequestID(ctx context.Context) string {
	if id, ok := ctx.Value(requestIDKey{}).(string); ok {
		return id
	}
	return middleware.GetReqID(ctx)
}

// acceptRequestID rejects ids that are empty, oversized, or contain bytes
// that cannot travel in a header value.
func acceptRequestID(raw string) (string, bool) {
	id := strings.TrimSpace(raw)
	if id == "" || len(id) > maxRequestIDLength {
		return "", false
	}
	for i := 0; i < len(id); i++ {
		if c := id[i]; c < 0x21 || c > 0x7e {
			return "", false
		}
	}
	return id, true
}
