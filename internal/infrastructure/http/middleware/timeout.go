package middleware

import (
	"context"
	"net/http"
	"time"
)

// ExtendedTimeout wraps a handler to apply an extended timeout for long
// processing operations. Reconciliation batches fan out to marketplace and
// invoicing provider APIs per order and routinely outlive the default
// request deadline, so their routes get their own budget. Note the server's
// WriteTimeout still applies on top of this context deadline.
func ExtendedTimeout(timeout time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx, cancel := context.WithTimeout(r.Context(), timeout)
			defer cancel()

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
