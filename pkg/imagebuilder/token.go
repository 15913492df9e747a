package imagebuilder

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/osbuild/image-builder-mcp/pkg/metrics"
)

// tokenSource caches a client-credentials bearer token and refreshes it
// before real expiry. One tokenSource is owned by exactly one Client;
// tokens are never shared across identities.
type tokenSource struct {
	clientID     string
	clientSecret string
	tokenURL     string
	skew         time.Duration
	http         *http.Client
	logger       *slog.Logger
	metrics      *metrics.Metrics

	// now is swapped in tests to control the clock.
	now func() time.Time

	mu      sync.Mutex
	token   string
	expires time.Time

	// group collapses concurrent refreshes for this identity into a
	// single grant request.
	group singleflight.Group
}

func newTokenSource(clientID, clientSecret, tokenURL string, skew time.Duration, httpClient *http.Client, logger *slog.Logger, m *metrics.Metrics) *tokenSource {
	return &tokenSource{
		clientID:     clientID,
		clientSecret: clientSecret,
		tokenURL:     tokenURL,
		skew:         skew,
		http:         httpClient,
		logger:       logger,
		metrics:      m,
		now:          time.Now,
	}
}

// Token returns the cached token when still valid, otherwise performs a
// client-credentials grant. Concurrent callers holding a valid cached
// token make no network call; concurrent refreshes collapse into one.
func (t *tokenSource) Token(ctx context.Context) (string, error) {
	t.mu.Lock()
	if t.token != "" && t.now().Before(t.expires) {
		token := t.token
		expires := t.expires
		t.mu.Unlock()
		t.logger.Debug("using cached token", "valid_until", expires)
		return token, nil
	}
	t.mu.Unlock()

	v, err, _ := t.group.Do("refresh", func() (any, error) {
		// Another caller may have refreshed while we waited on the group.
		t.mu.Lock()
		if t.token != "" && t.now().Before(t.expires) {
			token := t.token
			t.mu.Unlock()
			return token, nil
		}
		t.mu.Unlock()

		return t.refresh(ctx)
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

// refresh performs the grant request and stores the new token with its
// expiry pulled forward by the configured skew.
func (t *tokenSource) refresh(ctx context.Context) (string, error) {
	t.logger.Debug("fetching new token", "token_url", t.tokenURL)

	form := url.Values{
		"grant_type":    {"client_credentials"},
		"client_id":     {t.clientID},
		"client_secret": {t.clientSecret},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.tokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return "", &AuthError{Err: err}
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := t.http.Do(req)
	if err != nil {
		t.metrics.TokenRefresh("error")
		return "", &AuthError{Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		t.metrics.TokenRefresh("error")
		return "", &AuthError{Err: err}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		t.metrics.TokenRefresh("rejected")
		return "", &AuthError{Status: resp.StatusCode, Detail: truncate(string(body), 200)}
	}

	var grant struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int    `json:"expires_in"`
	}
	if err := json.Unmarshal(body, &grant); err != nil {
		t.metrics.TokenRefresh("error")
		return "", &AuthError{Err: fmt.Errorf("decoding token response: %w", err)}
	}
	if grant.AccessToken == "" {
		t.metrics.TokenRefresh("error")
		return "", &AuthError{Status: resp.StatusCode, Detail: "token response missing access_token"}
	}

	t.mu.Lock()
	t.token = grant.AccessToken
	t.expires = t.now().Add(time.Duration(grant.ExpiresIn)*time.Second - t.skew)
	t.mu.Unlock()

	t.metrics.TokenRefresh("ok")
	return grant.AccessToken, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "…"
}
