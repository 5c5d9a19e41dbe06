package auth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func captureHandler(captured **UserContext) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		uc, err := GetUserContext(r.Context())
		if err == nil {
			*captured = uc
		}
		w.WriteHeader(http.StatusOK)
	})
}

func TestSkipAuthInjectsDevUser(t *testing.T) {
	m := NewMiddleware(nil, nil, true)

	var captured *UserContext
	rec := httptest.NewRecorder()
	m.Handler(captureHandler(&captured)).ServeHTTP(rec,
		httptest.NewRequest(http.MethodGet, "/api/v1/interviews", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	require.NotNil(t, captured)
	assert.Equal(t, devUserID, captured.UserID)
	assert.Equal(t, RoleAdmin, captured.Role)
}

func TestSkipAuthHonorsUserIDHeader(t *testing.T) {
	m := NewMiddleware(nil, nil, true)

	var captured *UserContext
	req := httptest.NewRequest(http.MethodGet, "/api/v1/interviews", nil)
	req.Header.Set("X-User-ID", "someone-else")
	rec := httptest.NewRecorder()
	m.Handler(captureHandler(&captured)).ServeHTTP(rec, req)

	require.NotNil(t, captured)
	assert.Equal(t, "someone-else", captured.UserID)
}

func TestBearerTokenAccepted(t *testing.T) {
	jm := NewJWTManager("test-signing-key-of-decent-length!!", time.Hour, time.Hour)
	m := NewMiddleware(nil, jm, false)

	user := testUser()
	pair, _, err := jm.GenerateTokenPair(user)
	require.NoError(t, err)

	var captured *UserContext
	req := httptest.NewRequest(http.MethodGet, "/api/v1/interviews", nil)
	req.Header.Set("Authorization", "Bearer "+pair.AccessToken)
	rec := httptest.NewRecorder()
	m.Handler(captureHandler(&captured)).ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.NotNil(t, captured)
	assert.Equal(t, user.ID.String(), captured.UserID)
}

func TestMissingCredentialsRejected(t *testing.T) {
	jm := NewJWTManager("test-signing-key-of-decent-length!!", time.Hour, time.Hour)
	m := NewMiddleware(nil, jm, false)

	rec := httptest.NewRecorder()
	m.Handler(captureHandler(new(*UserContext))).ServeHTTP(rec,
		httptest.NewRequest(http.MethodGet, "/api/v1/interviews", nil))

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Contains(t, rec.Body.String(), "authentication required")
}

func TestMalformedHeaderRejected(t *testing.T) {
	jm := NewJWTManager("test-signing-key-of-decent-length!!", time.Hour, time.Hour)
	m := NewMiddleware(nil, jm, false)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/interviews", nil)
	req.Header.Set("Authorization", "Token abc")
	rec := httptest.NewRecorder()
	m.Handler(captureHandler(new(*UserContext))).ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestGarbageTokenRejected(t *testing.T) {
	jm := NewJWTManager("test-signing-key-of-decent-length!!", time.Hour, time.Hour)
	m := NewMiddleware(nil, jm, false)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/interviews", nil)
	req.Header.Set("Authorization", "Bearer not.a.jwt")
	rec := httptest.NewRecorder()
	m.Handler(captureHandler(new(*UserContext))).ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestAPIKeyQueryFallbackOnStreamingPaths(t *testing.T) {
	m := NewMiddleware(nil, nil, false)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/interviews/x/events?api_key=dk_abc", nil)
	assert.Equal(t, "dk_abc", m.apiKeyFrom(req))

	req = httptest.NewRequest(http.MethodGet, "/stream/sse?api_key=dk_abc", nil)
	assert.Equal(t, "dk_abc", m.apiKeyFrom(req))

	req = httptest.NewRequest(http.MethodGet, "/stream/ws?api_key=dk_abc", nil)
	assert.Equal(t, "dk_abc", m.apiKeyFrom(req))

	// non-streaming endpoints must not accept keys in the URL
	req = httptest.NewRequest(http.MethodGet, "/api/v1/interviews?api_key=dk_abc", nil)
	assert.Equal(t, "", m.apiKeyFrom(req))

	// the header always wins
	req = httptest.NewRequest(http.MethodGet, "/api/v1/interviews/x/events?api_key=dk_query", nil)
	req.Header.Set("X-API-Key", "dk_header")
	assert.Equal(t, "dk_header", m.apiKeyFrom(req))
}

func TestRequireScopes(t *testing.T) {
	ctx := ContextWithUser(context.Background(), &UserContext{
		UserID: "u1",
		Scopes: []string{ScopeInterviewsRead, ScopeReportsRead},
	})

	assert.NoError(t, RequireScopes(ctx, ScopeInterviewsRead))
	assert.NoError(t, RequireScopes(ctx, ScopeInterviewsRead, ScopeReportsRead))
	assert.Error(t, RequireScopes(ctx, ScopeUsersManage))
	assert.Error(t, RequireScopes(context.Background(), ScopeInterviewsRead))
}
