package oauth

import "time"

// Flow lifetimes.
const (
	// PendingAuthTTL bounds the window between /authorize and /callback.
	PendingAuthTTL = 10 * time.Minute

	// AuthCodeTTL bounds the window between /callback and the token
	// endpoint call.
	AuthCodeTTL = 5 * time.Minute

	// AccessTokenTTL is the lifetime of locally issued access tokens.
	AccessTokenTTL = 1 * time.Hour

	// RefreshTokenTTL is the lifetime of locally issued refresh tokens.
	RefreshTokenTTL = 30 * 24 * time.Hour
)

// Random value sizes, in bytes before hex encoding.
const (
	stateLength    = 24
	verifierLength = 48
	authCodeLength = 32
	tokenLength    = 32
)

// Store key prefixes for locally issued credentials.
const (
	authCodeKeyPrefix     = "mcp_auth_code:"
	accessTokenKeyPrefix  = "mcp_access_token:"
	refreshTokenKeyPrefix = "mcp_refresh_token:"
)

// Supported grant machinery.
const (
	GrantAuthorizationCode = "authorization_code"
	GrantRefreshToken      = "refresh_token"
	CodeChallengeS256      = "S256"
)
