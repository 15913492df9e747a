// Package auth resolves the caller identity of an incoming tool call.
//
// Three mutually exclusive modes are supported: a static credential pair
// configured at startup, per-request client-id/client-secret headers, and
// a bearer token whose session id becomes the identity. All per-caller
// state elsewhere in the server (API clients, pagination snapshots) is
// keyed by the resolved identity.
package auth

import (
	"errors"
	"fmt"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

// Sentinel errors for credential resolution. Callers should use
// errors.Is() to check for these.
var (
	// ErrMissingCredentials indicates no usable identity could be derived
	// from the configured mode.
	ErrMissingCredentials = errors.New("auth: missing credentials")

	// ErrMalformedToken indicates a bearer token that could not be decoded
	// or lacks the session claim.
	ErrMalformedToken = errors.New("auth: malformed bearer token")
)

// Header names read from the caller's request context.
const (
	HeaderClientID      = "image-builder-client-id"
	HeaderClientSecret  = "image-builder-client-secret"
	HeaderAuthorization = "authorization"
)

// Mode selects how identities are resolved.
type Mode int

const (
	// ModeStatic uses a single credential pair configured at startup for
	// every caller, ignoring request headers.
	ModeStatic Mode = iota

	// ModeHeader reads a client-id/client-secret pair from request
	// headers; each distinct client id gets its own cached API client.
	ModeHeader

	// ModeBearer derives the identity from the sid claim of a forwarded
	// OAuth bearer token. No secret is needed: the upstream OAuth flow
	// already authenticated the caller and the token is reused directly.
	ModeBearer
)

func (m Mode) String() string {
	switch m {
	case ModeStatic:
		return "static"
	case ModeHeader:
		return "header"
	case ModeBearer:
		return "bearer"
	default:
		return fmt.Sprintf("Mode(%d)", int(m))
	}
}

// Identity is the resolved caller key used to partition all per-caller
// cached state.
type Identity struct {
	// ClientID is the service-account client id, or the token session id
	// in bearer mode.
	ClientID string

	// ClientSecret is empty in bearer mode.
	ClientSecret string

	// BearerToken carries the caller's own access token in bearer mode so
	// the API client can forward it instead of minting one.
	BearerToken string
}

// Key returns the string under which per-caller state is cached.
func (id Identity) Key() string { return id.ClientID }

// Resolver derives identities from request headers according to the
// configured mode.
type Resolver struct {
	mode   Mode
	static Identity
}

// NewStaticResolver returns a resolver that yields the given pair for
// every caller. Static credentials always win over headers.
func NewStaticResolver(clientID, clientSecret string) *Resolver {
	return &Resolver{
		mode:   ModeStatic,
		static: Identity{ClientID: clientID, ClientSecret: clientSecret},
	}
}

// NewHeaderResolver returns a resolver that reads the credential pair
// from request headers.
func NewHeaderResolver() *Resolver {
	return &Resolver{mode: ModeHeader}
}

// NewBearerResolver returns a resolver that derives the identity from a
// forwarded OAuth bearer token.
func NewBearerResolver() *Resolver {
	return &Resolver{mode: ModeBearer}
}

// Mode reports the resolver's configured mode.
func (r *Resolver) Mode() Mode { return r.mode }

// Resolve derives the caller identity from the given headers. Header keys
// are matched case-insensitively. Absence of a required field in the
// selected mode is an error, never a fallback to another mode.
func (r *Resolver) Resolve(headers map[string]string) (Identity, error) {
	switch r.mode {
	case ModeStatic:
		if r.static.ClientID == "" || r.static.ClientSecret == "" {
			return Identity{}, fmt.Errorf("%w: static credentials not configured", ErrMissingCredentials)
		}
		return r.static, nil

	case ModeHeader:
		id := headerValue(headers, HeaderClientID)
		secret := headerValue(headers, HeaderClientSecret)
		if id == "" {
			return Identity{}, fmt.Errorf("%w: %s header is required to access the Image Builder API", ErrMissingCredentials, HeaderClientID)
		}
		if secret == "" {
			return Identity{}, fmt.Errorf("%w: %s header is required to access the Image Builder API", ErrMissingCredentials, HeaderClientSecret)
		}
		return Identity{ClientID: id, ClientSecret: secret}, nil

	case ModeBearer:
		raw := headerValue(headers, HeaderAuthorization)
		token, ok := strings.CutPrefix(raw, "Bearer ")
		if !ok || token == "" {
			return Identity{}, fmt.Errorf("%w: Authorization: Bearer header is required", ErrMissingCredentials)
		}
		sid, err := SessionID(token)
		if err != nil {
			return Identity{}, err
		}
		return Identity{ClientID: sid, BearerToken: token}, nil

	default:
		return Identity{}, fmt.Errorf("%w: unknown auth mode %v", ErrMissingCredentials, r.mode)
	}
}

// SessionID extracts the sid claim from a bearer token without verifying
// its signature. Verification is the authorization server's job; by the
// time the token reaches this server the upstream OAuth flow has already
// authenticated the caller.
func SessionID(token string) (string, error) {
	claims := jwt.MapClaims{}
	parser := jwt.NewParser()
	if _, _, err := parser.ParseUnverified(token, claims); err != nil {
		return "", fmt.Errorf("%w: %v", ErrMalformedToken, err)
	}
	sid, ok := claims["sid"].(string)
	if !ok || sid == "" {
		return "", fmt.Errorf("%w: sid claim missing", ErrMalformedToken)
	}
	return sid, nil
}

func headerValue(headers map[string]string, key string) string {
	if v, ok := headers[key]; ok {
		return v
	}
	for k, v := range headers {
		if strings.EqualFold(k, key) {
			return v
		}
	}
	return ""
}
