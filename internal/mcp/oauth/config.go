package oauth

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/teemow/ticktick-mcp/internal/instrumentation"
)

// Config configures the OAuth bridge.
type Config struct {
	// BaseURL is this server's externally visible URL, e.g.
	// https://mcp.example.com. The callback and metadata endpoints are
	// derived from it.
	BaseURL string

	// UpstreamAuthURL is the upstream authorize endpoint users are sent to.
	UpstreamAuthURL string

	// UpstreamClientID identifies this server at the upstream provider.
	UpstreamClientID string

	// Scopes requested from the upstream provider.
	Scopes []string

	// SupportedScopes advertised in the protected resource metadata.
	SupportedScopes []string

	// RateLimit bounds requests per source IP on the auth endpoints.
	RateLimitPerMinute int
	RateLimitBurst     int

	// TrustProxyHeaders enables X-Forwarded-For / X-Real-IP extraction.
	// Enable only behind a trusted reverse proxy.
	TrustProxyHeaders bool

	// MaxClientsPerIP bounds dynamic registrations per source address.
	MaxClientsPerIP int

	// Metrics records authorization outcomes and rate limit rejections
	// when set.
	Metrics *instrumentation.Metrics
}

// Validate checks the config and applies defaults.
func (c *Config) Validate() error {
	if c.BaseURL == "" {
		return fmt.Errorf("base URL is required")
	}
	u, err := url.Parse(c.BaseURL)
	if err != nil {
		return fmt.Errorf("invalid base URL: %w", err)
	}
	if u.Scheme != "https" && !isLoopbackHost(u.Hostname()) {
		return fmt.Errorf("base URL must use HTTPS (got %s); plain HTTP is only allowed on localhost", c.BaseURL)
	}
	c.BaseURL = strings.TrimSuffix(c.BaseURL, "/")

	if c.UpstreamAuthURL == "" {
		return fmt.Errorf("upstream authorization URL is required")
	}
	if c.UpstreamClientID == "" {
		return fmt.Errorf("upstream client ID is required")
	}
	if len(c.Scopes) == 0 {
		c.Scopes = []string{"tasks:read", "tasks:write"}
	}
	if len(c.SupportedScopes) == 0 {
		c.SupportedScopes = c.Scopes
	}
	if c.RateLimitPerMinute <= 0 {
		c.RateLimitPerMinute = 10
	}
	if c.RateLimitBurst <= 0 {
		c.RateLimitBurst = 5
	}
	if c.MaxClientsPerIP <= 0 {
		c.MaxClientsPerIP = 20
	}
	return nil
}

// CallbackURL returns the upstream redirect target on this server.
func (c *Config) CallbackURL() string {
	return c.BaseURL + "/callback"
}

func isLoopbackHost(host string) bool {
	return host == "localhost" || host == "127.0.0.1" || host == "::1"
}
