package middleware

import (
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func identityProbe(t *testing.T, secret []byte, decorate func(*http.Request)) (int, string) {
	t.Helper()
	var got string
	handler := Auth(secret)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = IdentityFromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	decorate(req)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec.Code, got
}

func TestAuthAnonymous(t *testing.T) {
	code, identity := identityProbe(t, []byte("secret"), func(*http.Request) {})
	assert.Equal(t, http.StatusOK, code)
	assert.Empty(t, identity)
}

func TestAuthBearerToken(t *testing.T) {
	secret := []byte("secret")
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"sub": "alice"})
	signed, err := token.SignedString(secret)
	require.NoError(t, err)

	code, identity := identityProbe(t, secret, func(r *http.Request) {
		r.Header.Set("Authorization", "Bearer "+signed)
	})
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "account:alice", identity)

	// Wrong signature is rejected, not treated as anonymous.
	code, _ = identityProbe(t, []byte("other-secret"), func(r *http.Request) {
		r.Header.Set("Authorization", "Bearer "+signed)
	})
	assert.Equal(t, http.StatusUnauthorized, code)

	// A token without a subject is rejected.
	empty := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{})
	signedEmpty, err := empty.SignedString(secret)
	require.NoError(t, err)
	code, _ = identityProbe(t, secret, func(r *http.Request) {
		r.Header.Set("Authorization", "Bearer "+signedEmpty)
	})
	assert.Equal(t, http.StatusUnauthorized, code)
}

func TestAuthBasicCredentials(t *testing.T) {
	code, identity := identityProbe(t, nil, func(r *http.Request) {
		r.SetBasicAuth("bob", "s3cret")
	})
	assert.Equal(t, http.StatusOK, code)

	digest := sha256.Sum256([]byte("bob:s3cret"))
	assert.Equal(t, "basic:"+hex.EncodeToString(digest[:]), identity)

	// A different password is a different principal.
	_, other := identityProbe(t, nil, func(r *http.Request) {
		r.SetBasicAuth("bob", "other")
	})
	assert.NotEqual(t, identity, other)
}

func TestAuthGarbageHeader(t *testing.T) {
	code, _ := identityProbe(t, []byte("secret"), func(r *http.Request) {
		r.Header.Set("Authorization", "Digest nope")
	})
	assert.Equal(t, http.StatusUnauthorized, code)
}
