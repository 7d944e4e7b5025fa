// Package requesttime stamps every request with a single "now" so all
// timestamps written while serving it (last_attempted_at, verified_at,
// updated_at) agree.
package requesttime

import (
	"net/http"
	"time"

	"studentverify/pkg/requestcontext"
)

// Middleware captures the current time at the start of the request.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := requestcontext.WithTime(r.Context(), time.Now().UTC())
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
