package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

var testConfig = Config{Secret: "test-secret", Issuer: "activitysync.test"}

func TestMintAndParseRoundTrip(t *testing.T) {
	token, err := Mint(testConfig, "wrist-1", "wrist", []string{ScopePeerSync, ScopeRunControl}, time.Minute)
	require.NoError(t, err)

	claims, err := Parse(token, testConfig)
	require.NoError(t, err)
	require.Equal(t, "wrist-1", claims.Subject)
	require.Equal(t, "wrist", claims.Role)
	require.True(t, claims.HasScope(ScopePeerSync))
	require.True(t, claims.HasScope(ScopeRunControl))
	require.False(t, claims.HasScope(ScopeActivitiesWrite))
}

func TestParseRejectsWrongIssuerAndExpiry(t *testing.T) {
	token, err := Mint(Config{Secret: testConfig.Secret, Issuer: "someone-else"}, "p", "handheld", nil, time.Minute)
	require.NoError(t, err)
	_, err = Parse(token, testConfig)
	require.ErrorIs(t, err, ErrInvalidToken)

	expired, err := Mint(testConfig, "p", "handheld", nil, -time.Minute)
	require.NoError(t, err)
	_, err = Parse(expired, testConfig)
	require.ErrorIs(t, err, ErrInvalidToken)

	_, err = Parse("  ", testConfig)
	require.ErrorIs(t, err, ErrMissingToken)
}

func TestMiddlewareSkipsHealthz(t *testing.T) {
	var seen *Claims
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = FromContext(r.Context())
		w.WriteHeader(http.StatusNoContent)
	})
	handler := NewMiddleware(testConfig).Wrap(next)

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.Equal(t, http.StatusNoContent, rr.Code)
	require.Nil(t, seen)

	rr = httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/v1/run", nil))
	require.Equal(t, http.StatusUnauthorized, rr.Code)

	token, err := Mint(testConfig, "handheld-1", "handheld", PeerScopes, time.Minute)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodGet, "/v1/run", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rr = httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	require.Equal(t, http.StatusNoContent, rr.Code)
	require.NotNil(t, seen)
	require.Equal(t, "handheld-1", seen.Subject)
}

func TestTokenSourceReusesUntilNearExpiry(t *testing.T) {
	src := NewTokenSource(testConfig, "wrist-1", "wrist", PeerScopes, time.Hour)
	now := time.Now()
	src.now = func() time.Time { return now }

	first, err := src.Token()
	require.NoError(t, err)
	second, err := src.Token()
	require.NoError(t, err)
	require.Equal(t, first, second)

	now = now.Add(55 * time.Minute)
	third, err := src.Token()
	require.NoError(t, err)
	claims, err := Parse(third, testConfig)
	require.NoError(t, err)
	require.Equal(t, "wrist-1", claims.Subject)
}
