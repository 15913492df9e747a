package auth_test

import (
	"testing"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/osbuild/image-builder-mcp/pkg/auth"
)

// signedToken builds a syntactically valid JWT with the given claims.
// The signature is irrelevant: resolution never verifies it.
func signedToken(t *testing.T, claims jwt.MapClaims) string {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("test-key"))
	require.NoError(t, err)
	return token
}

func TestStaticResolverIgnoresHeaders(t *testing.T) {
	r := auth.NewStaticResolver("env-id", "env-secret")

	identity, err := r.Resolve(map[string]string{
		auth.HeaderClientID:     "header-id",
		auth.HeaderClientSecret: "header-secret",
	})
	require.NoError(t, err)
	assert.Equal(t, "env-id", identity.ClientID)
	assert.Equal(t, "env-secret", identity.ClientSecret)
	assert.Equal(t, "env-id", identity.Key())
}

func TestStaticResolverUnconfigured(t *testing.T) {
	r := auth.NewStaticResolver("", "")
	_, err := r.Resolve(nil)
	assert.ErrorIs(t, err, auth.ErrMissingCredentials)
}

func TestHeaderResolver(t *testing.T) {
	r := auth.NewHeaderResolver()

	identity, err := r.Resolve(map[string]string{
		auth.HeaderClientID:     "caller-1",
		auth.HeaderClientSecret: "s3cret",
	})
	require.NoError(t, err)
	assert.Equal(t, "caller-1", identity.ClientID)
	assert.Equal(t, "s3cret", identity.ClientSecret)
}

func TestHeaderResolverCaseInsensitive(t *testing.T) {
	r := auth.NewHeaderResolver()

	identity, err := r.Resolve(map[string]string{
		"Image-Builder-Client-Id":     "caller-1",
		"Image-Builder-Client-Secret": "s3cret",
	})
	require.NoError(t, err)
	assert.Equal(t, "caller-1", identity.ClientID)
}

func TestHeaderResolverMissingFields(t *testing.T) {
	r := auth.NewHeaderResolver()

	_, err := r.Resolve(nil)
	assert.ErrorIs(t, err, auth.ErrMissingCredentials)

	// A present id does not excuse a missing secret.
	_, err = r.Resolve(map[string]string{auth.HeaderClientID: "caller-1"})
	assert.ErrorIs(t, err, auth.ErrMissingCredentials)

	_, err = r.Resolve(map[string]string{auth.HeaderClientSecret: "s3cret"})
	assert.ErrorIs(t, err, auth.ErrMissingCredentials)
}

func TestBearerResolver(t *testing.T) {
	r := auth.NewBearerResolver()
	token := signedToken(t, jwt.MapClaims{"sid": "session-42"})

	identity, err := r.Resolve(map[string]string{
		auth.HeaderAuthorization: "Bearer " + token,
	})
	require.NoError(t, err)
	assert.Equal(t, "session-42", identity.ClientID)
	assert.Equal(t, token, identity.BearerToken)
	assert.Empty(t, identity.ClientSecret)
}

func TestBearerResolverMissingHeader(t *testing.T) {
	r := auth.NewBearerResolver()

	_, err := r.Resolve(nil)
	assert.ErrorIs(t, err, auth.ErrMissingCredentials)

	// Header-mode credentials are not a substitute in bearer mode.
	_, err = r.Resolve(map[string]string{
		auth.HeaderClientID:     "caller-1",
		auth.HeaderClientSecret: "s3cret",
	})
	assert.ErrorIs(t, err, auth.ErrMissingCredentials)
}

func TestBearerResolverMalformedToken(t *testing.T) {
	r := auth.NewBearerResolver()

	_, err := r.Resolve(map[string]string{auth.HeaderAuthorization: "Bearer not.a.jwt"})
	assert.ErrorIs(t, err, auth.ErrMalformedToken)
}

func TestBearerResolverMissingSIDClaim(t *testing.T) {
	r := auth.NewBearerResolver()
	token := signedToken(t, jwt.MapClaims{"sub": "someone"})

	_, err := r.Resolve(map[string]string{auth.HeaderAuthorization: "Bearer " + token})
	assert.ErrorIs(t, err, auth.ErrMalformedToken)
}

func TestSessionID(t *testing.T) {
	token := signedToken(t, jwt.MapClaims{"sid": "session-7"})

	sid, err := auth.SessionID(token)
	require.NoError(t, err)
	assert.Equal(t, "session-7", sid)
}

func TestModeString(t *testing.T) {
	assert.Equal(t, "static", auth.ModeStatic.String())
	assert.Equal(t, "header", auth.ModeHeader.String())
	assert.Equal(t, "bearer", auth.ModeBearer.String())
}
