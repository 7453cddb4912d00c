package middleware

import (
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/MicahParks/keyfunc/v3"
	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"
)

// newJWKS serves one RSA signing key as a JWKS document and returns a
// keyfunc backed by it plus the private key for minting test tokens.
func newJWKS(t *testing.T) (keyfunc.Keyfunc, *rsa.PrivateKey) {
	t.Helper()

	priv, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generating key: %v", err)
	}
	n := base64.RawURLEncoding.EncodeToString(priv.N.Bytes())
	doc := fmt.Sprintf(`{"keys":[{"kty":"RSA","kid":"test","use":"sig","alg":"RS256","n":%q,"e":"AQAB"}]}`, n)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, doc)
	}))
	t.Cleanup(srv.Close)

	k, err := keyfunc.NewDefault([]string{srv.URL})
	if err != nil {
		t.Fatalf("loading jwks: %v", err)
	}
	return k, priv
}

func signedToken(t *testing.T, priv *rsa.PrivateKey, exp time.Time) string {
	t.Helper()
	tok := jwt.NewWithClaims(jwt.SigningMethodRS256, jwt.MapClaims{
		"sub": "user-1",
		"exp": exp.Unix(),
	})
	tok.Header["kid"] = "test"
	signed, err := tok.SignedString(priv)
	if err != nil {
		t.Fatalf("signing token: %v", err)
	}
	return signed
}

func protectedApp(k keyfunc.Keyfunc) *echo.Echo {
	e := echo.New()
	e.GET("/protected", func(c echo.Context) error {
		return c.String(http.StatusOK, "OK")
	}, BearerAuth(k))
	return e
}

func get(e *echo.Echo, authorization string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/protected", nil)
	if authorization != "" {
		req.Header.Set("Authorization", authorization)
	}
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func TestBearerAuthRejectsBadTokens(t *testing.T) {
	k, priv := newJWKS(t)
	e := protectedApp(k)

	foreign, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generating key: %v", err)
	}

	tests := []struct {
		name          string
		authorization string
	}{
		{"missing header", ""},
		{"wrong scheme", "Token abc"},
		{"empty token", "Bearer "},
		{"garbage token", "Bearer not-a-jwt"},
		{"expired token", "Bearer " + signedToken(t, priv, time.Now().Add(-time.Hour))},
		{"foreign signature", "Bearer " + signedToken(t, foreign, time.Now().Add(time.Hour))},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := get(e, tt.authorization)
			if rec.Code != http.StatusUnauthorized {
				t.Errorf("expected status 401, got %d", rec.Code)
			}
		})
	}
}

func TestBearerAuthAcceptsSignedToken(t *testing.T) {
	k, priv := newJWKS(t)
	e := protectedApp(k)

	rec := get(e, "Bearer "+signedToken(t, priv, time.Now().Add(time.Hour)))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if rec.Body.String() != "OK" {
		t.Errorf("expected the protected handler to run, got %q", rec.Body.String())
	}
}
