package middleware

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/sorcerlabs/auctionflow/internal/handlers/render"
)

// SecretMiddleware guards machine-to-machine endpoints (cron triggers,
// pipeline callbacks, provisioning) with a shared bearer secret.
func SecretMiddleware(secret string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			got, ok := strings.CutPrefix(header, "Bearer ")

			if secret == "" || !ok ||
				subtle.ConstantTimeCompare([]byte(got), []byte(secret)) != 1 {
				render.ServiceError(w, "Unauthorized", http.StatusUnauthorized)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
