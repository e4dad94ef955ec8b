package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scanwatch/scanwatch/internal/auth"
	"github.com/scanwatch/scanwatch/internal/logging"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func TestBearerTokenFromHeader(t *testing.T) {
	req := httptest.NewRequest("GET", "/", nil)
	req.Header.Set("Authorization", "Bearer sw_secret")
	assert.Equal(t, "sw_secret", BearerToken(req))

	req.Header.Set("Authorization", "bearer sw_secret")
	assert.Equal(t, "sw_secret", BearerToken(req), "scheme match is case-insensitive")

	req.Header.Set("Authorization", "Basic dXNlcg==")
	assert.Empty(t, BearerToken(req))
}

func TestBearerTokenFromQueryParam(t *testing.T) {
	req := httptest.NewRequest("GET", "/stream?token=sw_secret", nil)
	assert.Equal(t, "sw_secret", BearerToken(req))
}

func TestBearerTokenHeaderWinsOverQuery(t *testing.T) {
	req := httptest.NewRequest("GET", "/?token=from_query", nil)
	req.Header.Set("Authorization", "Bearer from_header")
	assert.Equal(t, "from_header", BearerToken(req))
}

func TestAuthResolvesOwner(t *testing.T) {
	authenticator := auth.NewAuthenticator([]auth.Credential{
		{Key: "sw_alicekey", OwnerID: "alice"},
	})

	var gotOwner string
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotOwner = OwnerIDFromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	})
	handler := Auth(authenticator, logging.NewDefault())(inner)

	req := httptest.NewRequest("GET", "/", nil)
	req.Header.Set("Authorization", "Bearer sw_alicekey")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "alice", gotOwner)
}

func TestAuthRejectsMissingAndInvalidCredentials(t *testing.T) {
	authenticator := auth.NewAuthenticator([]auth.Credential{
		{Key: "sw_alicekey", OwnerID: "alice"},
	})
	handler := Auth(authenticator, logging.NewDefault())(okHandler())

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest("GET", "/", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req := httptest.NewRequest("GET", "/", nil)
	req.Header.Set("Authorization", "Bearer sw_wrong")
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestAuthQueryTokenAuthenticatesStreams(t *testing.T) {
	authenticator := auth.NewAuthenticator([]auth.Credential{
		{Key: "sw_alicekey", OwnerID: "alice"},
	})
	handler := Auth(authenticator, logging.NewDefault())(okHandler())

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest("GET", "/stream?token=sw_alicekey", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRecoveryTurnsPanicInto500(t *testing.T) {
	handler := Recovery(logging.NewDefault())(http.HandlerFunc(
		func(http.ResponseWriter, *http.Request) {
			panic("boom")
		}))

	rec := httptest.NewRecorder()
	require.NotPanics(t, func() {
		handler.ServeHTTP(rec, httptest.NewRequest("GET", "/", nil))
	})
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestRequestIDAssigned(t *testing.T) {
	var gotID string
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotID = RequestIDFromContext(r.Context())
	})
	RequestID(inner).ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("GET", "/", nil))

	assert.Len(t, gotID, requestIDBytes*2)
}
