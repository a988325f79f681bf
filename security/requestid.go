package security

import (
	"context"
	"net/http"
	"regexp"

	"github.com/segmentio/ksuid"
)

// CorrelationIDHeader carries the per-HTTP-request correlation id. It is
// unrelated to the OpenID Connect request_id parameter that names a pending
// authorization request.
const CorrelationIDHeader = "X-Request-ID"

type correlationIDKey struct{}

// Upstream ids are accepted only when they cannot smuggle header content:
// alphanumerics, hyphens and underscores, 1 to 128 characters.
var correlationIDPattern = regexp.MustCompile(`^[a-zA-Z0-9_-]{1,128}$`)

// NewCorrelationID returns a fresh, time-sortable correlation id.
func NewCorrelationID() string {
	return ksuid.New().String()
}

// WithCorrelationID stores id in ctx.
func WithCorrelationID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, correlationIDKey{}, id)
}

// CorrelationID returns the id stored in ctx, or "".
func CorrelationID(ctx context.Context) string {
	id, _ := ctx.Value(correlationIDKey{}).(string)
	return id
}

func isValidCorrelationID(id string) bool {
	return correlationIDPattern.MatchString(id)
}

// CorrelationIDMiddleware keeps a valid upstream X-Request-ID, or mints one,
// echoes it on the response and stores it in the request context.
func CorrelationIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(CorrelationIDHeader)
		if !isValidCorrelationID(id) {
			id = NewCorrelationID()
		}
		w.Header().Set(CorrelationIDHeader, id)
		next.ServeHTTP(w, r.WithContext(WithCorrelationID(r.Context(), id)))
	})
}
