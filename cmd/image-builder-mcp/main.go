// Command image-builder-mcp runs the Image Builder MCP server.
//
// Transports:
//
//	image-builder-mcp [flags] stdio            stdio transport (default)
//	image-builder-mcp [flags] sse  [--host --port]   legacy SSE transport
//	image-builder-mcp [flags] http [--host --port]   streamable HTTP transport
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/osbuild/image-builder-mcp/pkg/defaults"
	"github.com/osbuild/image-builder-mcp/pkg/mcpserver"
	"github.com/osbuild/image-builder-mcp/pkg/metrics"
)

func main() {
	fs := flag.NewFlagSet("image-builder-mcp", flag.ExitOnError)
	debug := fs.Bool("debug", false, "Enable debug logging")
	stage := fs.Bool("stage", false, "Use stage API instead of production API")
	maxClients := fs.Int("max-clients", 0, "Bound the per-identity client cache with LRU eviction (0 = unbounded)")

	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: image-builder-mcp [flags] [stdio|sse|http] [transport flags]\n\n")
		fmt.Fprintf(os.Stderr, "Run the Image Builder MCP server.\n\n")
		fmt.Fprintf(os.Stderr, "Transports:\n")
		fmt.Fprintf(os.Stderr, "  stdio   Stdio transport for IDE integration (default)\n")
		fmt.Fprintf(os.Stderr, "  sse     Legacy SSE transport (default 127.0.0.1:9000)\n")
		fmt.Fprintf(os.Stderr, "  http    Streamable HTTP transport (default 127.0.0.1:8000)\n\n")
		fmt.Fprintf(os.Stderr, "Environment variables:\n")
		fmt.Fprintf(os.Stderr, "  IMAGE_BUILDER_CLIENT_ID       Static service-account client id\n")
		fmt.Fprintf(os.Stderr, "  IMAGE_BUILDER_CLIENT_SECRET   Static service-account client secret\n")
		fmt.Fprintf(os.Stderr, "  IMAGE_BUILDER_STAGE_PROXY_URL Proxy for the stage API (required with --stage)\n")
		fmt.Fprintf(os.Stderr, "  OAUTH_ENABLED                 \"true\" switches to bearer-token identity (http transport)\n")
		fmt.Fprintf(os.Stderr, "  OAUTH_URL                     Authorization server base URL\n")
		fmt.Fprintf(os.Stderr, "  OAUTH_CLIENT                  OAuth client id (required when OAUTH_ENABLED)\n")
		fmt.Fprintf(os.Stderr, "  SELF_URL                      Base URL of this service as seen by clients\n\n")
		fmt.Fprintf(os.Stderr, "Examples:\n")
		fmt.Fprintf(os.Stderr, "  image-builder-mcp stdio\n")
		fmt.Fprintf(os.Stderr, "  image-builder-mcp http --host 0.0.0.0 --port 8000\n")
		fmt.Fprintf(os.Stderr, "  image-builder-mcp --stage sse --port 9000\n\n")
		fmt.Fprintf(os.Stderr, "Flags:\n")
		fs.PrintDefaults()
	}

	if err := fs.Parse(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	transport := "stdio"
	rest := fs.Args()
	if len(rest) > 0 {
		transport = rest[0]
		rest = rest[1:]
	}

	host := "127.0.0.1"
	port := 8000
	if transport == "sse" {
		port = 9000
	}
	switch transport {
	case "stdio":
	case "sse", "http":
		tfs := flag.NewFlagSet(transport, flag.ExitOnError)
		tfs.StringVar(&host, "host", host, "Host to listen on")
		tfs.IntVar(&port, "port", port, "Port to listen on")
		if err := tfs.Parse(rest); err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			os.Exit(1)
		}
	default:
		fmt.Fprintf(os.Stderr, "error: unknown transport %q\n", transport)
		fs.Usage()
		os.Exit(1)
	}

	// Logs go to stderr: stdout belongs to the protocol in stdio mode.
	level := slog.LevelInfo
	if *debug {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)
	if *debug {
		logger.Info("debug mode enabled")
	}

	var proxyURL string
	if *stage {
		proxyURL = os.Getenv("IMAGE_BUILDER_STAGE_PROXY_URL")
		if proxyURL == "" {
			fmt.Fprintln(os.Stderr, "Please set IMAGE_BUILDER_STAGE_PROXY_URL to access the stage API")
			fmt.Fprintln(os.Stderr, "hint: IMAGE_BUILDER_STAGE_PROXY_URL=http://yoursquidproxy…:3128")
			os.Exit(1)
		}
	}

	oauthEnabled := os.Getenv("OAUTH_ENABLED") == "true"

	m := metrics.New()
	srv, err := mcpserver.New(&mcpserver.Config{
		ClientID:     os.Getenv("IMAGE_BUILDER_CLIENT_ID"),
		ClientSecret: os.Getenv("IMAGE_BUILDER_CLIENT_SECRET"),
		OAuthEnabled: oauthEnabled,
		Stage:        *stage,
		ProxyURL:     proxyURL,
		Transport:    transport,
		MaxClients:   *maxClients,
		Logger:       logger,
		Metrics:      m,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	srv.MarkReady()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	switch transport {
	case "sse":
		serveHTTP(ctx, logger, host, port, srv.SSEHandler())
	case "http":
		handler := srv.HTTPHandler()
		if oauthEnabled {
			oauthClient := os.Getenv("OAUTH_CLIENT")
			if oauthClient == "" {
				fmt.Fprintln(os.Stderr, "error: OAUTH_CLIENT environment variable is required for OAuth-enabled HTTP transport")
				os.Exit(1)
			}
			selfURL := os.Getenv("SELF_URL")
			if selfURL == "" {
				selfURL = fmt.Sprintf("http://%s:%d", host, port)
			}
			handler = mcpserver.OAuthMiddleware(mcpserver.OAuthConfig{
				SelfURL:       selfURL,
				AuthServerURL: os.Getenv("OAUTH_URL"),
				ClientID:      oauthClient,
				Logger:        logger,
			}, handler)
		}
		serveHTTP(ctx, logger, host, port, handler)
	default:
		if err := srv.RunStdio(ctx); err != nil && !errors.Is(err, context.Canceled) {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			os.Exit(1)
		}
	}
}

// serveHTTP runs an HTTP server until the context is cancelled, then
// drains in-flight requests.
func serveHTTP(ctx context.Context, logger *slog.Logger, host string, port int, handler http.Handler) {
	addr := fmt.Sprintf("%s:%d", host, port)
	httpSrv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		// WriteTimeout intentionally 0: SSE streams are long-lived and any
		// non-zero value sets an absolute deadline that kills them.
		// ReadHeaderTimeout protects against slowloris.
		IdleTimeout:    30 * time.Second,
		MaxHeaderBytes: 1 << 20, // 1 MB
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), defaults.ShutdownTimeout)
		defer shutdownCancel()
		logger.Info("shutting down gracefully")
		if err := httpSrv.Shutdown(shutdownCtx); err != nil {
			logger.Error("shutdown", "err", err)
		}
	}()

	logger.Info("MCP server listening", "addr", addr)
	if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}
