package access

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/golang-jwt/jwt/v4"
	"github.com/gorilla/mux"
)

var hmacSecret = []byte("unit-test-secret")

func signedToken(t *testing.T, subject, issuer string, secret []byte) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject: subject,
		Issuer:  issuer,
	})
	tokenString, err := token.SignedString(secret)
	if err != nil {
		t.Fatal(err)
	}
	return tokenString
}

// identityRouter returns a router that echoes the request identity, or
// "anonymous" when there is none.
func identityRouter(middleware mux.MiddlewareFunc) *mux.Router {
	router := mux.NewRouter()
	router.Use(middleware)
	router.HandleFunc("/whoami", func(w http.ResponseWriter, r *http.Request) {
		identity, err := IdentityFromContext(r.Context())
		if err != nil {
			identity = "anonymous"
		}
		w.Write([]byte(identity))
	})
	return router
}

func request(router *mux.Router, authorization, cookie string) *httptest.ResponseRecorder {
	r := httptest.NewRequest(http.MethodGet, "/whoami", nil)
	if authorization != "" {
		r.Header.Set("Authorization", authorization)
	}
	if cookie != "" {
		r.AddCookie(&http.Cookie{Name: "Carlog-JWT", Value: cookie})
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, r)
	return rec
}

func TestJwtMiddleware(t *testing.T) {
	router := identityRouter(NewJwtMiddleware(&JwtMiddlewareBuilder{
		HMACSecret: hmacSecret,
		Issuer:     "carlog-test",
	}))

	// no token passes through unauthenticated
	rec := request(router, "", "")
	if rec.Code != http.StatusOK || rec.Body.String() != "anonymous" {
		t.Fatal("unexpected response:", rec.Code, rec.Body.String())
	}

	// a valid bearer token authenticates as the subject claim
	token := signedToken(t, "auth0|alice", "carlog-test", hmacSecret)
	rec = request(router, "Bearer "+token, "")
	if rec.Code != http.StatusOK || rec.Body.String() != "auth0|alice" {
		t.Fatal("unexpected response:", rec.Code, rec.Body.String())
	}

	// the cookie works as well
	rec = request(router, "", token)
	if rec.Code != http.StatusOK || rec.Body.String() != "auth0|alice" {
		t.Fatal("unexpected response:", rec.Code, rec.Body.String())
	}

	// a bad signature is rejected
	rec = request(router, "Bearer "+signedToken(t, "auth0|alice", "carlog-test", []byte("other")), "")
	if rec.Code != http.StatusUnauthorized {
		t.Fatal("expected unauthorized, got:", rec.Code)
	}

	// a wrong issuer is rejected
	rec = request(router, "Bearer "+signedToken(t, "auth0|alice", "somebody-else", hmacSecret), "")
	if rec.Code != http.StatusUnauthorized {
		t.Fatal("expected unauthorized, got:", rec.Code)
	}

	// a token without subject is rejected
	rec = request(router, "Bearer "+signedToken(t, "", "carlog-test", hmacSecret), "")
	if rec.Code != http.StatusUnauthorized {
		t.Fatal("expected unauthorized, got:", rec.Code)
	}
}

func TestBackdoorMiddleware(t *testing.T) {
	router := identityRouter(NewBackdoorMiddleware(&BackdoorMiddlewareBuilder{
		Backdoors: map[string]string{"please": "auth0|alice"},
	}))

	rec := request(router, "Bearer please", "")
	if rec.Body.String() != "auth0|alice" {
		t.Fatal("backdoor did not authenticate:", rec.Body.String())
	}

	// unknown tokens pass through unauthenticated
	rec = request(router, "Bearer sesame", "")
	if rec.Code != http.StatusOK || rec.Body.String() != "anonymous" {
		t.Fatal("unexpected response:", rec.Code, rec.Body.String())
	}
}
