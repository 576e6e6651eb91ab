package access

import (
	"crypto/rsa"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v4"
	"github.com/gorilla/mux"

	"github.com/relabs-tech/carlog/core/logger"
)

// JwtMiddlewareBuilder is a helper builder for the JWT middleware
type JwtMiddlewareBuilder struct {
	// PublicKeyPEM is the PEM encoded RSA public key to verify RS256 tokens.
	// Mutually exclusive with HMACSecret.
	PublicKeyPEM []byte
	// HMACSecret is the shared secret to verify HS256 tokens. Mutually
	// exclusive with PublicKeyPEM.
	HMACSecret []byte
	// Issuer is the accepted issuer for the token. Optional.
	Issuer string
}

// NewJwtMiddleware returns a middleware handler to validate JWT bearer
// tokens.
//
// Java-Web-Tokens (JWT) are accepted as "Authorization: Bearer" header
// or as "Carlog-JWT"-cookie. The subject claim of a valid token becomes
// the request identity; it is the stable user identifier issued by the
// external authentication provider.
//
// The middleware is not final: requests without a token pass through
// unauthenticated and fail later at the identity gate. A present but
// invalid token answers http.StatusUnauthorized.
func NewJwtMiddleware(jmb *JwtMiddlewareBuilder) mux.MiddlewareFunc {

	var rsaKey *rsa.PublicKey
	if len(jmb.PublicKeyPEM) > 0 {
		var err error
		rsaKey, err = jwt.ParseRSAPublicKeyFromPEM(jmb.PublicKeyPEM)
		if err != nil {
			panic(err)
		}
	} else if len(jmb.HMACSecret) == 0 {
		panic("jwt middleware requires a public key or an HMAC secret")
	}

	keyFunc := func(token *jwt.Token) (interface{}, error) {
		if rsaKey != nil {
			if _, ok := token.Method.(*jwt.SigningMethodRSA); !ok {
				return nil, jwt.ErrTokenSignatureInvalid
			}
			return rsaKey, nil
		}
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrTokenSignatureInvalid
		}
		return jmb.HMACSecret, nil
	}

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

			claims := jwt.RegisteredClaims{}
			token, err := jwt.ParseWithClaims(tokenString, &claims, keyFunc)
			if err != nil || !token.Valid {
				logger.FromContext(r.Context()).WithError(err).Info("rejected bearer token")
				http.Error(w, "invalid token", http.StatusUnauthorized)
				return
			}
			if jmb.Issuer != "" && claims.Issuer != jmb.Issuer {
				http.Error(w, "invalid token issuer", http.StatusUnauthorized)
				return
			}
			if claims.Subject == "" {
				http.Error(w, "token without subject", http.StatusUnauthorized)
				return
			}

			ctx := ContextWithIdentity(r.Context(), claims.Subject)
			ctx, _ = logger.ContextWithLoggerIdentity(ctx, claims.Subject)
			h.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func bearerToken(r *http.Request) string {
	bearer := r.Header.Get("Authorization")
	if len(bearer) >= 8 && strings.ToLower(bearer[:7]) == "bearer " {
		return bearer[7:]
	}
	if cookie, _ := r.Cookie("Carlog-JWT"); cookie != nil {
		return cookie.Value
	}
	return ""
}
