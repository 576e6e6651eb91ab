package access

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/relabs-tech/carlog/core/logger"
)

// BackdoorMiddlewareBuilder is a helper builder for the backdoor middleware
type BackdoorMiddlewareBuilder struct {
	// Backdoors is a mapping from a bearer token to an identity
	Backdoors map[string]string
}

// NewBackdoorMiddleware returns a middleware handler for a backdoor.
//
// The key for the backdoors map is the bearer token passed with the
// request, the value is the identity the request gets authenticated as.
//
// Example: if you specify the backdoor
//
//	"please": "auth0|alice"
//
// then any request with an authorization bearer token consisting of the
// single magic word "please" will be authenticated as user "auth0|alice".
//
// With curl, use -H 'Authorization: Bearer please' or pass a cookie
// with -b 'Carlog-JWT=please'. Intended for tests and local development
// only, never register it in production.
func NewBackdoorMiddleware(bmb *BackdoorMiddlewareBuilder) mux.MiddlewareFunc {

	return func(h http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if HasIdentity(r.Context()) { // already authenticated?
				h.ServeHTTP(w, r)
				return
			}
			tokenString := bearerToken(r)
			if len(tokenString) == 0 {
				h.ServeHTTP(w, r)
				return
			}
			if identity, ok := bmb.Backdoors[tokenString]; ok {
				ctx := ContextWithIdentity(r.Context(), identity)
				ctx, rlog := logger.ContextWithLoggerIdentity(ctx, identity)
				rlog.Debugln("backdoor authentication for", identity)
				r = r.WithContext(ctx)
			}
			h.ServeHTTP(w, r)
		})
	}
}
