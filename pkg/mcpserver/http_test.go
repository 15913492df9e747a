package mcpserver_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/osbuild/image-builder-mcp/pkg/mcpserver"
	"github.com/osbuild/image-builder-mcp/pkg/metrics"
)

// ---------------------------------------------------------------------------
// /health readiness probe
// ---------------------------------------------------------------------------

func TestHealthEndpoint_ReadinessTransition(t *testing.T) {
	upstream := newFakeUpstream(t)
	srv := newTestServer(t, upstream, nil)
	handler := srv.HTTPHandler()

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("before MarkReady: got %d, want 503", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `"status":"starting"`) {
		t.Errorf("unexpected starting body: %s", rec.Body.String())
	}

	srv.MarkReady()

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("after MarkReady: got %d, want 200", rec.Code)
	}
	var body map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decoding health body: %v", err)
	}
	if body["status"] != "ok" || body["service"] != "image-builder-mcp" {
		t.Errorf("unexpected health body: %v", body)
	}
}

func TestHealthEndpoint_RejectsOtherMethods(t *testing.T) {
	upstream := newFakeUpstream(t)
	handler := newTestServer(t, upstream, nil).HTTPHandler()

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/health", nil))
	if rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("got %d, want 405", rec.Code)
	}
}

// ---------------------------------------------------------------------------
// CORS
// ---------------------------------------------------------------------------

func TestCORSPreflight(t *testing.T) {
	upstream := newFakeUpstream(t)
	handler := newTestServer(t, upstream, nil).HTTPHandler()

	req := httptest.NewRequest(http.MethodOptions, "/mcp", nil)
	req.Header.Set("Origin", "https://app.example.com")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusNoContent {
		t.Fatalf("preflight: got %d, want 204", rec.Code)
	}
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "https://app.example.com" {
		t.Errorf("Allow-Origin = %q", got)
	}
	allowed := rec.Header().Get("Access-Control-Allow-Headers")
	if !strings.Contains(allowed, "Image-Builder-Client-Id") ||
		!strings.Contains(allowed, "Image-Builder-Client-Secret") {
		t.Errorf("credential headers missing from Allow-Headers: %s", allowed)
	}
}

func TestCORS_SkippedWithoutOrigin(t *testing.T) {
	upstream := newFakeUpstream(t)
	handler := newTestServer(t, upstream, nil).HTTPHandler()

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "" {
		t.Errorf("non-browser request got CORS headers: %q", got)
	}
	if got := rec.Header().Get("Vary"); got != "Origin" {
		t.Errorf("Vary = %q, want Origin", got)
	}
}

func TestSecurityHeaders(t *testing.T) {
	upstream := newFakeUpstream(t)
	handler := newTestServer(t, upstream, nil).HTTPHandler()

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	if got := rec.Header().Get("X-Content-Type-Options"); got != "nosniff" {
		t.Errorf("X-Content-Type-Options = %q", got)
	}
	if got := rec.Header().Get("X-Frame-Options"); got != "DENY" {
		t.Errorf("X-Frame-Options = %q", got)
	}
}

// ---------------------------------------------------------------------------
// /metrics
// ---------------------------------------------------------------------------

func TestMetricsEndpoint(t *testing.T) {
	upstream := newFakeUpstream(t)
	srv := newTestServer(t, upstream, func(cfg *mcpserver.Config) {
		cfg.Metrics = metrics.New()
	})
	handler := srv.HTTPHandler()

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("metrics: got %d, want 200", rec.Code)
	}
}

func TestMetricsEndpoint_AbsentWithoutMetrics(t *testing.T) {
	upstream := newFakeUpstream(t)
	handler := newTestServer(t, upstream, nil).HTTPHandler()

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	req.Header.Set("Accept", "application/json")
	handler.ServeHTTP(rec, req)
	// Without a metrics registry the path falls through to the MCP
	// transport, which rejects the plain GET.
	if rec.Code == http.StatusOK {
		t.Errorf("expected /metrics to be unmounted, got 200")
	}
}

// ---------------------------------------------------------------------------
// OAuth discovery middleware
// ---------------------------------------------------------------------------

func oauthHandler(t *testing.T, authServerURL string) http.Handler {
	t.Helper()
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("passed through"))
	})
	return mcpserver.OAuthMiddleware(mcpserver.OAuthConfig{
		SelfURL:       "https://mcp.example.com",
		AuthServerURL: authServerURL,
		ClientID:      "fixed-client",
	}, next)
}

func TestOAuth_ProtectedResourceMetadata(t *testing.T) {
	handler := oauthHandler(t, "")

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/.well-known/oauth-protected-resource", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("got %d, want 200", rec.Code)
	}

	var body struct {
		Resource             string   `json:"resource"`
		AuthorizationServers []string `json:"authorization_servers"`
		ScopesSupported      []string `json:"scopes_supported"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decoding metadata: %v", err)
	}
	if body.Resource != "https://mcp.example.com" {
		t.Errorf("resource = %q", body.Resource)
	}
	if len(body.AuthorizationServers) != 1 || body.AuthorizationServers[0] != "https://mcp.example.com" {
		t.Errorf("authorization_servers = %v", body.AuthorizationServers)
	}
	if len(body.ScopesSupported) != 2 || body.ScopesSupported[0] != "openid" || body.ScopesSupported[1] != "api.ocm" {
		t.Errorf("scopes_supported = %v", body.ScopesSupported)
	}
}

func TestOAuth_AuthServerMetadataIsPatched(t *testing.T) {
	realm := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/.well-known/oauth-authorization-server" {
			http.NotFound(w, r)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"issuer":                "https://sso.example.com/realms/test",
			"registration_endpoint": "https://sso.example.com/realms/test/clients-registrations",
			"scopes_supported":      []string{"openid", "offline_access", "roles", "web-origins"},
		})
	}))
	defer realm.Close()

	handler := oauthHandler(t, realm.URL)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/.well-known/oauth-authorization-server", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("got %d, want 200", rec.Code)
	}

	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decoding metadata: %v", err)
	}
	if body["issuer"] != "https://sso.example.com/realms/test" {
		t.Errorf("issuer not proxied: %v", body["issuer"])
	}
	if body["registration_endpoint"] != "https://mcp.example.com/oauth/register" {
		t.Errorf("registration_endpoint not patched: %v", body["registration_endpoint"])
	}
	scopes, _ := body["scopes_supported"].([]any)
	if len(scopes) != 2 {
		t.Errorf("scopes_supported not reduced: %v", body["scopes_supported"])
	}
}

func TestOAuth_AuthServerUnreachable(t *testing.T) {
	handler := oauthHandler(t, "http://127.0.0.1:1")

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/.well-known/oauth-authorization-server", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("got %d, want 503", rec.Code)
	}
}

func TestOAuth_RegisterEchoesRedirectURIs(t *testing.T) {
	handler := oauthHandler(t, "")

	req := httptest.NewRequest(http.MethodPost, "/oauth/register",
		strings.NewReader(`{"redirect_uris":["https://client.example.com/callback"]}`))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("got %d, want 200", rec.Code)
	}

	var body struct {
		ClientID     string   `json:"client_id"`
		RedirectURIs []string `json:"redirect_uris"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decoding registration: %v", err)
	}
	if body.ClientID != "fixed-client" {
		t.Errorf("client_id = %q", body.ClientID)
	}
	if len(body.RedirectURIs) != 1 || body.RedirectURIs[0] != "https://client.example.com/callback" {
		t.Errorf("redirect_uris = %v", body.RedirectURIs)
	}
}

func TestOAuth_RegisterEmptyBody(t *testing.T) {
	handler := oauthHandler(t, "")

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/oauth/register", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("got %d, want 200", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `"redirect_uris":[]`) {
		t.Errorf("expected empty redirect_uris list, got: %s", rec.Body.String())
	}
}

func TestOAuth_MissingTokenIsChallenged(t *testing.T) {
	handler := oauthHandler(t, "")

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/mcp", nil))
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("got %d, want 401", rec.Code)
	}
	challenge := rec.Header().Get("WWW-Authenticate")
	if !strings.Contains(challenge, `Bearer resource_metadata="https://mcp.example.com/.well-known/oauth-protected-resource"`) {
		t.Errorf("WWW-Authenticate = %q", challenge)
	}
}

func TestOAuth_BearerTokenPassesThrough(t *testing.T) {
	handler := oauthHandler(t, "")

	req := httptest.NewRequest(http.MethodPost, "/mcp", nil)
	req.Header.Set("Authorization", "Bearer some-token")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK || rec.Body.String() != "passed through" {
		t.Errorf("got %d %q, want pass-through", rec.Code, rec.Body.String())
	}
}

func TestOAuth_HealthAndMetricsExempt(t *testing.T) {
	handler := oauthHandler(t, "")

	for _, path := range []string{"/health", "/metrics"} {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		if rec.Code != http.StatusOK {
			t.Errorf("%s: got %d, want exemption from the 401 challenge", path, rec.Code)
		}
	}
}
