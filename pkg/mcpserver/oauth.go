package mcpserver

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/osbuild/image-builder-mcp/pkg/defaults"
)

// OAuthConfig configures the OAuth discovery middleware.
type OAuthConfig struct {
	// SelfURL is the base URL of this service as seen by clients.
	SelfURL string

	// AuthServerURL is the base URL of the real authorization server
	// whose metadata is proxied.
	AuthServerURL string

	// ClientID is the fixed client identifier handed out by the fake
	// dynamic-registration endpoint.
	ClientID string

	// HTTPClient fetches the upstream metadata. Defaults to a client with
	// a short timeout.
	HTTPClient *http.Client

	Logger *slog.Logger
}

// oauthScopes is the reduced scope list advertised to MCP clients. The
// authorization server returns many more, most of which would be rejected
// for our client.
var oauthScopes = []string{"openid", "api.ocm"}

// OAuthMiddleware implements the OAuth metadata and registration
// endpoints that MCP clients probe when the server responds with a 401.
//
// The endpoints themselves need no authentication; everything else
// requires an Authorization header. The bearer token is not validated
// here — requiring the header is enough to make clients without one
// receive the 401 challenge and start the OAuth flow; the upstream API
// rejects invalid tokens on use.
func OAuthMiddleware(cfg OAuthConfig, next http.Handler) http.Handler {
	if cfg.AuthServerURL == "" {
		cfg.AuthServerURL = defaults.OAuthRealmURL
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: 10 * time.Second}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodGet && r.URL.Path == "/.well-known/oauth-protected-resource":
			serveProtectedResource(w, cfg)
			return
		case r.Method == http.MethodGet && r.URL.Path == "/.well-known/oauth-authorization-server":
			serveAuthServerMetadata(w, cfg, logger)
			return
		case r.Method == http.MethodPost && r.URL.Path == "/oauth/register":
			serveRegister(w, r, cfg)
			return
		case r.URL.Path == "/health" || r.URL.Path == "/metrics":
			// Probes and scrapers don't carry bearer tokens.
			next.ServeHTTP(w, r)
			return
		}

		if r.Header.Get("Authorization") == "" {
			resourceURL := cfg.SelfURL + "/.well-known/oauth-protected-resource"
			w.Header().Set("WWW-Authenticate", `Bearer resource_metadata="`+resourceURL+`"`)
			w.WriteHeader(http.StatusUnauthorized)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func serveProtectedResource(w http.ResponseWriter, cfg OAuthConfig) {
	writeJSON(w, map[string]any{
		"resource":                 cfg.SelfURL,
		"authorization_servers":    []string{cfg.SelfURL},
		"bearer_methods_supported": []string{"header"},
		"scopes_supported":         oauthScopes,
	})
}

// serveAuthServerMetadata proxies the real authorization server's
// metadata, replacing the bits MCP clients trip over: the registration
// endpoint is pointed at our own fake one (the real server does not
// allow dynamic registration), and the scope list is reduced to the
// scopes our client is actually granted.
func serveAuthServerMetadata(w http.ResponseWriter, cfg OAuthConfig, logger *slog.Logger) {
	resp, err := cfg.HTTPClient.Get(cfg.AuthServerURL + "/.well-known/oauth-authorization-server")
	if err != nil {
		logger.Error("fetching authorization server metadata", "err", err)
		w.WriteHeader(http.StatusServiceUnavailable)
		return
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		logger.Error("authorization server metadata fetch failed", "status", resp.StatusCode)
		w.WriteHeader(http.StatusServiceUnavailable)
		return
	}

	var body map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		logger.Error("decoding authorization server metadata", "err", err)
		w.WriteHeader(http.StatusServiceUnavailable)
		return
	}

	body["registration_endpoint"] = cfg.SelfURL + "/oauth/register"
	body["scopes_supported"] = oauthScopes

	writeJSON(w, body)
}

// serveRegister answers every dynamic-registration request with the fixed
// client identifier, echoing back the requested redirect URIs.
func serveRegister(w http.ResponseWriter, r *http.Request, cfg OAuthConfig) {
	var body struct {
		RedirectURIs []string `json:"redirect_uris"`
	}
	raw, err := io.ReadAll(http.MaxBytesReader(w, r.Body, 1<<20))
	if err != nil {
		http.Error(w, "reading request body", http.StatusBadRequest)
		return
	}
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &body); err != nil {
			http.Error(w, "invalid JSON body", http.StatusBadRequest)
			return
		}
	}
	if body.RedirectURIs == nil {
		body.RedirectURIs = []string{}
	}

	writeJSON(w, map[string]any{
		"client_id":     cfg.ClientID,
		"redirect_uris": body.RedirectURIs,
	})
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}
