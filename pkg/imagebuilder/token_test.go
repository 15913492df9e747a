package imagebuilder

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// tokenEndpoint serves client-credentials grants and counts them.
func tokenEndpoint(t *testing.T, expiresIn int, grants *atomic.Int64) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "client_credentials", r.FormValue("grant_type"))
		assert.Equal(t, "test-id", r.FormValue("client_id"))
		assert.Equal(t, "test-secret", r.FormValue("client_secret"))

		n := grants.Add(1)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"access_token": "token-" + string(rune('a'+n-1)),
			"expires_in":   expiresIn,
		})
	}))
	t.Cleanup(srv.Close)
	return srv
}

func testTokenSource(srv *httptest.Server, skew time.Duration) *tokenSource {
	return newTokenSource("test-id", "test-secret", srv.URL, skew, srv.Client(), slog.Default(), nil)
}

func TestTokenCachedUntilExpiry(t *testing.T) {
	var grants atomic.Int64
	srv := tokenEndpoint(t, 3600, &grants)

	ts := testTokenSource(srv, 5*time.Minute)
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	ts.now = func() time.Time { return now }

	token, err := ts.Token(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "token-a", token)

	// Repeated calls inside the validity window hit the cache.
	for i := 0; i < 5; i++ {
		token, err = ts.Token(context.Background())
		require.NoError(t, err)
		assert.Equal(t, "token-a", token)
	}
	assert.Equal(t, int64(1), grants.Load())
}

func TestTokenRefreshHonorsSkew(t *testing.T) {
	var grants atomic.Int64
	srv := tokenEndpoint(t, 3600, &grants)

	ts := testTokenSource(srv, 5*time.Minute)
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	ts.now = func() time.Time { return now }

	_, err := ts.Token(context.Background())
	require.NoError(t, err)

	// Just inside the skewed expiry (3600s - 300s): still cached.
	now = now.Add(3299 * time.Second)
	_, err = ts.Token(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1), grants.Load())

	// Past the skewed expiry but before real expiry: refreshed early.
	now = now.Add(2 * time.Second)
	token, err := ts.Token(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "token-b", token)
	assert.Equal(t, int64(2), grants.Load())
}

func TestConcurrentRefreshCollapsesToOneGrant(t *testing.T) {
	var grants atomic.Int64
	srv := tokenEndpoint(t, 3600, &grants)

	ts := testTokenSource(srv, 5*time.Minute)

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			token, err := ts.Token(context.Background())
			assert.NoError(t, err)
			assert.NotEmpty(t, token)
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(1), grants.Load())
}

func TestTokenGrantRejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"invalid_client"}`, http.StatusUnauthorized)
	}))
	t.Cleanup(srv.Close)

	ts := testTokenSource(srv, 5*time.Minute)

	_, err := ts.Token(context.Background())
	var authErr *AuthError
	require.ErrorAs(t, err, &authErr)
	assert.Equal(t, http.StatusUnauthorized, authErr.Status)
	assert.Contains(t, authErr.Detail, "invalid_client")
}

func TestTokenResponseMissingAccessToken(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"expires_in": 3600})
	}))
	t.Cleanup(srv.Close)

	ts := testTokenSource(srv, 5*time.Minute)

	_, err := ts.Token(context.Background())
	var authErr *AuthError
	require.ErrorAs(t, err, &authErr)
}
