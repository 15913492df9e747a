// Package imagebuilder is the client for the Red Hat Image Builder API.
//
// One Client is created per caller identity. Each client owns its own
// bearer-token cache; tokens are refreshed lazily, slightly before real
// expiry, and never shared across identities. Outbound calls are bounded
// by a fixed timeout, paced by a rate limiter, and idempotent reads are
// retried on transient failures.
package imagebuilder

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/osbuild/image-builder-mcp/pkg/defaults"
	"github.com/osbuild/image-builder-mcp/pkg/metrics"
	"github.com/osbuild/image-builder-mcp/pkg/retry"
)

// Config holds client construction parameters.
type Config struct {
	// ClientID and ClientSecret drive the client-credentials grant.
	// Leave both empty for an unauthenticated client (openapi fetch).
	ClientID     string
	ClientSecret string

	// BearerToken, when set, is forwarded on every request instead of a
	// client-credentials token. Used in OAuth bearer mode where the
	// caller's own token is reused directly.
	BearerToken string

	// Stage selects the stage API endpoints.
	Stage bool

	// ProxyURL routes requests through a proxy. Required to reach the
	// stage API.
	ProxyURL string

	// MCPClientID is sent as the X-ImageBuilder-ui header.
	MCPClientID string

	Timeout   time.Duration // per-request bound; default defaults.RequestTimeout
	TokenSkew time.Duration // refresh-before-expiry margin; default defaults.TokenSkew

	// RateLimit and Burst pace outbound requests. Zero means the default
	// budget.
	RateLimit rate.Limit
	Burst     int

	// Retry controls transient-failure retries on GETs.
	Retry retry.Config

	// BaseURL and TokenURL override the derived endpoints (tests).
	BaseURL  string
	TokenURL string

	Logger  *slog.Logger
	Metrics *metrics.Metrics
}

// Client talks to the image-builder API on behalf of one identity.
type Client struct {
	clientID string

	// bearerMu guards bearerToken: in bearer mode the session identity is
	// stable but the forwarded token rotates across requests.
	bearerMu    sync.RWMutex
	bearerToken string

	domain      string
	baseURL     string
	mcpClientID string
	http        *http.Client
	limiter     *rate.Limiter
	tokens      *tokenSource
	retryCfg    retry.Config
	logger      *slog.Logger
	metrics     *metrics.Metrics
}

// New creates a client for the given configuration.
func New(cfg Config) (*Client, error) {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaults.RequestTimeout
	}
	if cfg.TokenSkew <= 0 {
		cfg.TokenSkew = defaults.TokenSkew
	}
	if cfg.RateLimit <= 0 {
		cfg.RateLimit = rate.Limit(defaults.UpstreamRateLimit)
	}
	if cfg.Burst <= 0 {
		cfg.Burst = defaults.UpstreamBurst
	}
	if cfg.MCPClientID == "" {
		cfg.MCPClientID = defaults.MCPClientID
	}
	if cfg.Retry.MaxAttempts == 0 {
		cfg.Retry = retry.DefaultConfig()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	domain := defaults.ProductionDomain
	ssoDomain := defaults.ProductionSSODomain
	if cfg.Stage {
		domain = defaults.StageDomain
		ssoDomain = defaults.StageSSODomain
	}

	transport := http.DefaultTransport.(*http.Transport).Clone()
	if cfg.Stage && cfg.ProxyURL != "" {
		proxyURL, err := url.Parse(cfg.ProxyURL)
		if err != nil {
			return nil, fmt.Errorf("parsing proxy URL: %w", err)
		}
		transport.Proxy = http.ProxyURL(proxyURL)
	}
	httpClient := &http.Client{
		Timeout:   cfg.Timeout,
		Transport: transport,
	}

	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = "https://" + domain + defaults.APIPath
	}
	tokenURL := cfg.TokenURL
	if tokenURL == "" {
		tokenURL = "https://" + ssoDomain + defaults.TokenPath
	}

	c := &Client{
		clientID:    cfg.ClientID,
		bearerToken: cfg.BearerToken,
		domain:      domain,
		baseURL:     baseURL,
		mcpClientID: cfg.MCPClientID,
		http:        httpClient,
		limiter:     rate.NewLimiter(cfg.RateLimit, cfg.Burst),
		retryCfg:    cfg.Retry,
		logger:      logger,
		metrics:     cfg.Metrics,
	}

	if cfg.ClientID != "" && cfg.ClientSecret != "" {
		c.tokens = newTokenSource(cfg.ClientID, cfg.ClientSecret, tokenURL, cfg.TokenSkew, httpClient, logger, cfg.Metrics)
	}

	return c, nil
}

// ClientID returns the identity this client was created for.
func (c *Client) ClientID() string { return c.clientID }

// Domain returns the console domain the client targets.
func (c *Client) Domain() string { return c.domain }

// BlueprintURL returns the console UI URL for a blueprint.
func (c *Client) BlueprintURL(blueprintID string) string {
	return fmt.Sprintf("https://%s/insights/image-builder/imagewizard/%s", c.domain, blueprintID)
}

// Token returns a valid bearer token for this client's identity,
// refreshing if needed. In bearer mode the forwarded token is returned
// as-is; unauthenticated clients return an empty token.
func (c *Client) Token(ctx context.Context) (string, error) {
	c.bearerMu.RLock()
	forwarded := c.bearerToken
	c.bearerMu.RUnlock()
	if forwarded != "" {
		return forwarded, nil
	}
	if c.tokens == nil {
		return "", nil
	}
	return c.tokens.Token(ctx)
}

// UpdateBearerToken replaces the forwarded token. Only meaningful for
// clients created in bearer mode.
func (c *Client) UpdateBearerToken(token string) {
	c.bearerMu.Lock()
	c.bearerToken = token
	c.bearerMu.Unlock()
}

// request performs one authenticated call and returns the raw body.
// Non-2xx responses become RequestError. GETs retry transient failures;
// 4xx responses stop the retry loop immediately.
func (c *Client) request(ctx context.Context, method, endpoint string, payload any) ([]byte, error) {
	var body []byte
	if payload != nil {
		var err error
		body, err = json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("encoding request body: %w", err)
		}
	}

	attempt := func() ([]byte, error) {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, err
		}

		requestURL := c.baseURL + "/" + endpoint
		var reader io.Reader
		if body != nil {
			reader = bytes.NewReader(body)
		}
		req, err := http.NewRequestWithContext(ctx, method, requestURL, reader)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("X-ImageBuilder-ui", c.mcpClientID)

		token, err := c.Token(ctx)
		if err != nil {
			return nil, retry.Stop(err)
		}
		if token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}

		c.logger.Debug("image-builder request", "method", method, "url", requestURL)

		resp, err := c.http.Do(req)
		if err != nil {
			c.metrics.UpstreamRequest(method, "error")
			return nil, err
		}
		defer resp.Body.Close()

		c.metrics.UpstreamRequest(method, strconv.Itoa(resp.StatusCode))

		raw, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
		if err != nil {
			return nil, err
		}

		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			reqErr := &RequestError{
				Method:   method,
				Endpoint: endpoint,
				Status:   resp.StatusCode,
				Detail:   truncate(string(raw), 300),
			}
			if resp.StatusCode >= 400 && resp.StatusCode < 500 {
				return nil, retry.Stop(reqErr)
			}
			return nil, reqErr
		}
		return raw, nil
	}

	if method != http.MethodGet {
		// Writes are not retried. Unwrap the retry sentinel so callers
		// see the underlying error.
		raw, err := attempt()
		if err != nil {
			var stop *retry.StopError
			if errors.As(err, &stop) {
				return nil, stop.Err
			}
			return nil, err
		}
		return raw, nil
	}

	var raw []byte
	err := retry.Do(ctx, c.retryCfg, func() error {
		var attemptErr error
		raw, attemptErr = attempt()
		return attemptErr
	})
	if err != nil {
		return nil, err
	}
	return raw, nil
}
