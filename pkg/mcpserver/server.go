// Package mcpserver exposes the Red Hat image-builder API as MCP tools.
//
// Every tool returns a single text block combining an instructional
// preamble and a JSON payload. The consumer is an LLM, so failures are
// returned as descriptive strings it can relay or act on rather than as
// protocol-level faults — nothing a single tool call does may terminate
// the server.
package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"runtime/debug"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/osbuild/image-builder-mcp/pkg/auth"
	"github.com/osbuild/image-builder-mcp/pkg/defaults"
	"github.com/osbuild/image-builder-mcp/pkg/imagebuilder"
	"github.com/osbuild/image-builder-mcp/pkg/metrics"
	"github.com/osbuild/image-builder-mcp/pkg/pagination"
	"github.com/osbuild/image-builder-mcp/pkg/registry"
)

// ---------------------------------------------------------------------------
// Configuration
// ---------------------------------------------------------------------------

// Config holds MCP server configuration.
type Config struct {
	// ClientID and ClientSecret are the static service-account pair. When
	// both are set every caller shares them and request headers are
	// ignored.
	ClientID     string
	ClientSecret string

	// OAuthEnabled switches identity resolution to bearer-token mode: the
	// caller's forwarded token is used upstream and its session id keys
	// the per-caller state.
	OAuthEnabled bool

	// Stage selects the stage API instead of production.
	Stage bool

	// ProxyURL routes upstream requests through a proxy. Required for the
	// stage API.
	ProxyURL string

	// Transport names the active transport ("stdio", "sse", "http").
	// Credential guidance in error messages depends on it: header-based
	// transports point at request headers, stdio points at the mcp.json
	// environment.
	Transport string

	// DefaultResponseSize is the page size used when a tool call passes a
	// zero or negative response_size.
	DefaultResponseSize int

	// MaxClients bounds the per-identity client cache. Zero means
	// unbounded.
	MaxClients int

	// TokenSkew overrides the refresh-before-expiry margin.
	TokenSkew time.Duration

	// BaseURL and TokenURL override the derived upstream endpoints (tests).
	BaseURL  string
	TokenURL string

	Logger  *slog.Logger
	Metrics *metrics.Metrics
}

// ---------------------------------------------------------------------------
// Server
// ---------------------------------------------------------------------------

// Server wraps the MCP server with image-builder functionality.
type Server struct {
	mcp      *mcp.Server
	config   *Config
	logger   *slog.Logger
	resolver *auth.Resolver
	clients  *registry.Registry
	pages    *pagination.Store
	metrics  *metrics.Metrics
	noauth   *imagebuilder.Client // unauthenticated client for openapi
	ready    atomic.Bool
}

// MCPServer returns the underlying MCP server for direct access (e.g., testing).
func (s *Server) MCPServer() *mcp.Server { return s.mcp }

// Registry returns the identity → client registry (e.g., testing).
func (s *Server) Registry() *registry.Registry { return s.clients }

// MarkReady signals that startup validation passed. Until MarkReady is
// called, the /health endpoint returns 503 Service Unavailable.
func (s *Server) MarkReady() { s.ready.Store(true) }

// IsReady returns true if the server has completed startup validation.
func (s *Server) IsReady() bool { return s.ready.Load() }

// New creates a new MCP server with all tools registered.
func New(cfg *Config) (*Server, error) {
	if cfg == nil {
		cfg = &Config{}
	}
	if cfg.DefaultResponseSize <= 0 {
		cfg.DefaultResponseSize = defaults.ResponseSize
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	s := &Server{
		config:  cfg,
		logger:  logger,
		pages:   pagination.NewStore(cfg.Metrics),
		metrics: cfg.Metrics,
	}

	// Static credentials win; otherwise bearer or header mode per the
	// OAuth flag. The modes are exclusive: a missing field in the selected
	// mode is an error, never a fallback to another mode.
	switch {
	case cfg.ClientID != "" && cfg.ClientSecret != "":
		s.resolver = auth.NewStaticResolver(cfg.ClientID, cfg.ClientSecret)
	case cfg.OAuthEnabled:
		s.resolver = auth.NewBearerResolver()
	default:
		s.resolver = auth.NewHeaderResolver()
	}
	logger.Debug("credential resolution configured", "mode", s.resolver.Mode().String())

	factory := func(identity auth.Identity) (*imagebuilder.Client, error) {
		return imagebuilder.New(imagebuilder.Config{
			ClientID:     identity.ClientID,
			ClientSecret: identity.ClientSecret,
			BearerToken:  identity.BearerToken,
			Stage:        cfg.Stage,
			ProxyURL:     cfg.ProxyURL,
			MCPClientID:  defaults.MCPClientID,
			TokenSkew:    cfg.TokenSkew,
			BaseURL:      cfg.BaseURL,
			TokenURL:     cfg.TokenURL,
			Logger:       logger,
			Metrics:      cfg.Metrics,
		})
	}
	clients, err := registry.New(registry.Config{
		Factory:    factory,
		MaxClients: cfg.MaxClients,
		OnEvict:    s.pages.Purge,
		Metrics:    cfg.Metrics,
	})
	if err != nil {
		return nil, err
	}
	s.clients = clients

	// The openapi document is served without authentication.
	noauth, err := imagebuilder.New(imagebuilder.Config{
		Stage:       cfg.Stage,
		ProxyURL:    cfg.ProxyURL,
		MCPClientID: defaults.MCPClientID,
		BaseURL:     cfg.BaseURL,
		Logger:      logger,
		Metrics:     cfg.Metrics,
	})
	if err != nil {
		return nil, err
	}
	s.noauth = noauth

	apiType := "production"
	if cfg.Stage {
		apiType = "stage"
	}
	s.mcp = mcp.NewServer(
		&mcp.Implementation{
			Name:    "image-builder-mcp",
			Title:   "Image Builder MCP Server",
			Version: defaults.Version,
		},
		&mcp.ServerOptions{
			Instructions: fmt.Sprintf(serverInstructions, apiType),
		},
	)

	s.registerTools()

	return s, nil
}

const serverInstructions = `Function for Redhat console.redhat.com image-builder osbuild.org.
Interacting with the %s API.
Use this to create custom Redhat enterprise, Centos or Fedora Linux disk images.`

// RunStdio runs the MCP server over stdio transport. This is the primary
// mode for IDE integrations; identity comes from the static credential
// pair since there are no request headers.
func (s *Server) RunStdio(ctx context.Context) error {
	s.logger.Info("starting stdio transport")
	return s.mcp.Run(ctx, &mcp.StdioTransport{})
}

// HTTPHandler returns an http.Handler for the streamable HTTP transport
// with CORS support and /health and /metrics endpoints.
//
// The handler mounts:
//   - /health   → readiness/liveness probe (GET only)
//   - /metrics  → prometheus metrics
//   - /sse      → legacy SSE transport for older MCP clients
//   - /mcp      → streamable HTTP transport
//   - /         → streamable HTTP transport (default mount)
func (s *Server) HTTPHandler() http.Handler {
	streamable := mcp.NewStreamableHTTPHandler(
		func(_ *http.Request) *mcp.Server { return s.mcp },
		&mcp.StreamableHTTPOptions{Stateless: false},
	)

	sse := mcp.NewSSEHandler(
		func(_ *http.Request) *mcp.Server { return s.mcp },
		nil,
	)

	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.handleHealth)
	if s.metrics != nil {
		mux.Handle("/metrics", s.metrics.Handler())
	}
	mux.Handle("/sse", sseKeepAlive(sse))
	mux.Handle("/mcp", streamable)
	mux.Handle("/mcp/", streamable)
	mux.Handle("/", streamable)

	return corsMiddleware(recoveryMiddleware(securityHeaders(captureHeaders(mux))))
}

// SSEHandler returns an http.Handler for the legacy SSE transport only,
// for deployments behind a reverse proxy that handles its own CORS and
// health checks. Includes SSE keep-alive to prevent proxy idle timeouts.
func (s *Server) SSEHandler() http.Handler {
	sse := mcp.NewSSEHandler(
		func(_ *http.Request) *mcp.Server { return s.mcp },
		nil,
	)
	return recoveryMiddleware(securityHeaders(captureHeaders(sseKeepAlive(sse))))
}

// handleHealth serves a readiness/liveness probe.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		w.Header().Set("Allow", "GET, HEAD")
		http.Error(w, "Method Not Allowed", http.StatusMethodNotAllowed)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	if !s.IsReady() {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte(`{"status":"starting","service":"image-builder-mcp"}`))
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"status":"ok","service":"image-builder-mcp"}`))
}

// ---------------------------------------------------------------------------
// Header plumbing — caller identity travels as HTTP headers
// ---------------------------------------------------------------------------

type headersKey struct{}

// captureHeaders stashes the request headers in the context so tool
// handlers can resolve the caller identity. The streamable HTTP handler
// derives tool-handler contexts from the request context.
func captureHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		headers := make(map[string]string, len(r.Header))
		for name := range r.Header {
			headers[strings.ToLower(name)] = r.Header.Get(name)
		}
		ctx := context.WithValue(r.Context(), headersKey{}, headers)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// ContextWithHeaders returns ctx carrying the given caller headers.
// Exposed for tests driving tool calls over in-memory transports.
func ContextWithHeaders(ctx context.Context, headers map[string]string) context.Context {
	return context.WithValue(ctx, headersKey{}, headers)
}

// callerHeaders extracts the request headers from the context. Stdio
// transport has none; the static resolver ignores them anyway.
func callerHeaders(ctx context.Context) map[string]string {
	headers, _ := ctx.Value(headersKey{}).(map[string]string)
	return headers
}

// identity resolves the caller identity for the current call.
func (s *Server) identity(ctx context.Context) (auth.Identity, error) {
	return s.resolver.Resolve(callerHeaders(ctx))
}

// clientFor resolves the caller identity and returns its cached API
// client, constructing one on first use.
func (s *Server) clientFor(ctx context.Context) (*imagebuilder.Client, auth.Identity, error) {
	identity, err := s.identity(ctx)
	if err != nil {
		return nil, auth.Identity{}, err
	}
	client, err := s.clients.GetOrCreate(identity)
	if err != nil {
		return nil, auth.Identity{}, err
	}
	return client, identity, nil
}

// ---------------------------------------------------------------------------
// Middleware
// ---------------------------------------------------------------------------

// corsMiddleware wraps an http.Handler with permissive CORS headers
// required by browser-based MCP clients and cross-origin integrations.
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")

		// Always set Vary: Origin so caches don't serve a CORS-enabled
		// response to a non-browser client or vice versa.
		w.Header().Add("Vary", "Origin")

		if origin == "" {
			// No Origin header = non-browser client; skip CORS headers.
			// Setting "*" with Allow-Credentials violates the Fetch spec.
			next.ServeHTTP(w, r)
			return
		}

		w.Header().Set("Access-Control-Allow-Origin", origin)
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers",
			strings.Join([]string{
				"Content-Type",
				"Authorization",
				"Mcp-Session-Id",
				"MCP-Protocol-Version",
				"Last-Event-ID",
				"Accept",
				"Image-Builder-Client-Id",
				"Image-Builder-Client-Secret",
			}, ", "))
		w.Header().Set("Access-Control-Expose-Headers", "Mcp-Session-Id, MCP-Protocol-Version")
		w.Header().Set("Access-Control-Allow-Credentials", "true")
		w.Header().Set("Access-Control-Max-Age", "86400")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// recoveryMiddleware catches panics in HTTP handlers and returns a 500
// error instead of killing the connection.
func recoveryMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if err := recover(); err != nil {
				slog.Error("panic in HTTP handler", "err", err, "stack", string(debug.Stack()))

				// Best-effort error response: if headers were already sent
				// (e.g., during SSE streaming), WriteHeader is a no-op.
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusInternalServerError)
				_, _ = w.Write([]byte(`{"error":"internal server error"}`))
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// securityHeaders adds standard defense-in-depth headers.
func securityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		next.ServeHTTP(w, r)
	})
}

// sseKeepAlive wraps an SSE handler to send periodic keep-alive comments.
// This prevents reverse proxies (nginx, AWS ALB, Cloudflare, Docker) from
// closing idle SSE connections; the interval is well within the typical
// 60s idle timeout of most proxies.
func sseKeepAlive(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Only apply keep-alive to SSE streams (text/event-stream).
		accept := r.Header.Get("Accept")
		if !strings.Contains(accept, "text/event-stream") {
			next.ServeHTTP(w, r)
			return
		}

		flusher, ok := w.(http.Flusher)
		if !ok {
			next.ServeHTTP(w, r)
			return
		}

		kw := &keepAliveWriter{
			ResponseWriter: w,
			flusher:        flusher,
			done:           make(chan struct{}),
		}

		go kw.keepAliveLoop()
		defer close(kw.done)

		next.ServeHTTP(kw, r)
	})
}

// keepAliveWriter wraps http.ResponseWriter to send SSE keep-alive
// comments. All writes are serialized through a mutex to prevent data
// races between the keep-alive goroutine and the SSE handler's event
// writes.
type keepAliveWriter struct {
	mu sync.Mutex
	http.ResponseWriter
	flusher http.Flusher
	done    chan struct{}
}

func (kw *keepAliveWriter) Write(p []byte) (int, error) {
	kw.mu.Lock()
	defer kw.mu.Unlock()
	return kw.ResponseWriter.Write(p)
}

// Flush implements http.Flusher. Without this, the SSE handler's
// w.(http.Flusher) type assertion fails on the wrapper, causing SSE
// events to buffer indefinitely and never reach the client.
func (kw *keepAliveWriter) Flush() {
	kw.mu.Lock()
	defer kw.mu.Unlock()
	kw.flusher.Flush()
}

// Unwrap returns the underlying ResponseWriter so http.ResponseController
// can discover capabilities (Flusher, Hijacker) through the wrapper.
func (kw *keepAliveWriter) Unwrap() http.ResponseWriter {
	return kw.ResponseWriter
}

func (kw *keepAliveWriter) keepAliveLoop() {
	ticker := time.NewTicker(defaults.SSEKeepAliveInterval)
	defer ticker.Stop()

	for {
		select {
		case <-kw.done:
			return
		case <-ticker.C:
			// SSE comment line — ignored by clients, keeps connection alive.
			kw.mu.Lock()
			_, err := kw.ResponseWriter.Write([]byte(": keepalive\n\n"))
			if err != nil {
				kw.mu.Unlock()
				return
			}
			kw.flusher.Flush()
			kw.mu.Unlock()
		}
	}
}

// ---------------------------------------------------------------------------
// Helpers — result builders
// ---------------------------------------------------------------------------

// textResult creates a CallToolResult with a single text content block.
func textResult(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			&mcp.TextContent{Text: text},
		},
	}
}

// errorResult creates an IsError CallToolResult so the LLM can see the
// error and self-correct rather than raising a protocol-level exception.
func errorResult(msg string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			&mcp.TextContent{Text: msg},
		},
		IsError: true,
	}
}

// boolPtr returns a pointer to b. Used for optional bool fields in the SDK.
func boolPtr(b bool) *bool { return &b }

// parseArgs unmarshals the raw JSON arguments from a tool call into dst.
func parseArgs(req *mcp.CallToolRequest, dst any) error {
	if len(req.Params.Arguments) == 0 {
		return nil
	}
	if err := json.Unmarshal(req.Params.Arguments, dst); err != nil {
		return fmt.Errorf("parsing tool arguments: %w", err)
	}
	return nil
}
