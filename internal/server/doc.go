// Package server provides the MCP server context, session tracking and
// the OAuth-protected HTTP server for the TickTick MCP server.
//
// # Key Components
//
// ServerContext holds the shared dependencies of a running server: the
// credential store, the per-user TickTick clients (created lazily and
// cached), the idempotency guard, the per-user rate limiter and the
// observability hooks.
//
// OAuthHTTPServer serves the MCP endpoint together with the OAuth bridge:
//   - Authorization Server Metadata (RFC 8414)
//   - Protected Resource Metadata (RFC 9728)
//   - Dynamic Client Registration (RFC 7591)
//   - /authorize, /callback and /token bridging to TickTick's OAuth server
//
// SessionTracker derives stable session ids from bearer tokens on the MCP
// endpoint and feeds the active-sessions gauge.
//
// # Security
//
//   - HTTPS required outside localhost
//   - PKCE (S256) required on the authorization-code grant
//   - Rate limiting per source IP on auth endpoints and per local user on
//     tool invocations
//   - Tokens encrypted at rest (AES-256-GCM)
//   - Security headers on OAuth responses
package server
