// Package defaults provides canonical default values for the entire codebase.
// This is the single source of truth for runtime configuration defaults:
// API domains, timeouts, page sizes, and the distribution/architecture/
// image-type catalogs surfaced in tool descriptions.
package defaults

import "time"

// Version is the current image-builder-mcp version.
const Version = "0.4.0"

// MCPClientID identifies requests originating from this server to the
// image-builder API (sent as the X-ImageBuilder-ui header).
// TODO: make configurable to distinguish the hosted MCP server from a
// customer-deployed one.
const MCPClientID = "mcp"

// ============================================================================
// API ENDPOINTS
// ============================================================================

const (
	// ProductionDomain is the console domain for the production API.
	ProductionDomain = "console.redhat.com"

	// StageDomain is the console domain for the stage API.
	StageDomain = "console.stage.redhat.com"

	// ProductionSSODomain is the SSO domain for production token grants.
	ProductionSSODomain = "sso.redhat.com"

	// StageSSODomain is the SSO domain for stage token grants.
	StageSSODomain = "sso.stage.redhat.com"

	// APIPath is the image-builder API prefix under the console domain.
	APIPath = "/api/image-builder/v1"

	// TokenPath is the OpenID client-credentials token endpoint under the
	// SSO domain.
	TokenPath = "/auth/realms/redhat-external/protocol/openid-connect/token"

	// OAuthRealmURL is the authorization server base used by the OAuth
	// discovery middleware when none is configured.
	OAuthRealmURL = "https://sso.redhat.com/auth/realms/redhat-external"

	// ServiceAccountsURL is where users create the service account whose
	// credentials this server needs.
	ServiceAccountsURL = "https://console.redhat.com/iam/service-accounts"
)

// ============================================================================
// TIMING
// ============================================================================

const (
	// RequestTimeout bounds every outbound call to the image-builder API
	// and the token endpoint.
	RequestTimeout = 60 * time.Second

	// TokenSkew is subtracted from a token's expires_in so the token is
	// refreshed before real expiry, absorbing clock drift and latency.
	TokenSkew = 5 * time.Minute

	// ShutdownTimeout bounds graceful HTTP server drain.
	ShutdownTimeout = 15 * time.Second

	// SSEKeepAliveInterval is how often keep-alive comments are written to
	// SSE streams so reverse proxies do not close idle connections.
	SSEKeepAliveInterval = 15 * time.Second
)

// ============================================================================
// PAGINATION
// ============================================================================

const (
	// ResponseSize is the fallback page size when a tool call passes a
	// zero or negative response_size.
	ResponseSize = 10

	// UpstreamRateLimit is the per-client outbound request budget in
	// requests per second.
	UpstreamRateLimit = 10

	// UpstreamBurst is the per-client outbound burst allowance.
	UpstreamBurst = 5
)

// ============================================================================
// CATALOGS
// ============================================================================
//
// Interpolated into tool descriptions at registration time. The API does
// not yet expose these without authentication; once /distributions is
// public these become a startup fetch.
// ============================================================================

// Distribution names a supported distribution and its human description.
type Distribution struct {
	Name        string
	Description string
}

// Distributions lists the distributions accepted by the compose tools.
func Distributions() []Distribution {
	return []Distribution{
		{Name: "centos-9", Description: "CentOS Stream 9"},
		{Name: "fedora-37", Description: "Fedora Linux 37"},
		{Name: "fedora-38", Description: "Fedora Linux 38"},
		{Name: "fedora-39", Description: "Fedora Linux 39"},
		{Name: "fedora-40", Description: "Fedora Linux 40"},
		{Name: "fedora-41", Description: "Fedora Linux 41"},
		{Name: "fedora-42", Description: "Fedora Linux 42"},
		{Name: "rhel-10-beta", Description: "Red Hat Enterprise Linux (RHEL) 10 Beta"},
		{Name: "rhel-10.0", Description: "Red Hat Enterprise Linux (RHEL) 10"},
		{Name: "rhel-10", Description: "Red Hat Enterprise Linux (RHEL) 10"},
		{Name: "rhel-8.10", Description: "Red Hat Enterprise Linux (RHEL) 8"},
		{Name: "rhel-8", Description: "Red Hat Enterprise Linux (RHEL) 8"},
		{Name: "rhel-84", Description: "Red Hat Enterprise Linux (RHEL) 8"},
		{Name: "rhel-85", Description: "Red Hat Enterprise Linux (RHEL) 8"},
		{Name: "rhel-86", Description: "Red Hat Enterprise Linux (RHEL) 8"},
		{Name: "rhel-87", Description: "Red Hat Enterprise Linux (RHEL) 8"},
		{Name: "rhel-88", Description: "Red Hat Enterprise Linux (RHEL) 8"},
		{Name: "rhel-89", Description: "Red Hat Enterprise Linux (RHEL) 8"},
		{Name: "rhel-9-beta", Description: "Red Hat Enterprise Linux (RHEL) 9 beta"},
		{Name: "rhel-9.6", Description: "Red Hat Enterprise Linux (RHEL) 9"},
		{Name: "rhel-9", Description: "Red Hat Enterprise Linux (RHEL) 9"},
		{Name: "rhel-90", Description: "Red Hat Enterprise Linux (RHEL) 9"},
		{Name: "rhel-91", Description: "Red Hat Enterprise Linux (RHEL) 9"},
		{Name: "rhel-92", Description: "Red Hat Enterprise Linux (RHEL) 9"},
		{Name: "rhel-93", Description: "Red Hat Enterprise Linux (RHEL) 9"},
		{Name: "rhel-94", Description: "Red Hat Enterprise Linux (RHEL) 9"},
		{Name: "rhel-95", Description: "Red Hat Enterprise Linux (RHEL) 9"},
	}
}

// Architectures lists the architectures accepted by the compose tools.
// TODO: derive from the OpenAPI spec once it enumerates them.
func Architectures() []string {
	return []string{"x86_64", "aarch64"}
}

// ImageTypes lists the image types accepted by the compose tools.
func ImageTypes() []string {
	return []string{
		"aws",
		"azure",
		"edge-commit",
		"edge-installer",
		"gcp",
		"guest-image",
		"image-installer",
		"oci",
		"vsphere",
		"vsphere-ova",
		"wsl",
		"ami",
		"rhel-edge-commit",
		"rhel-edge-installer",
		"vhd",
	}
}
