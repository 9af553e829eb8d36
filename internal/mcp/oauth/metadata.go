package oauth

import (
	"encoding/json"
	"net/http"

	"github.com/teemow/ticktick-mcp/internal/logging"
)

// ProtectedResourceMetadataPath is the well-known path advertised in
// WWW-Authenticate challenges.
const ProtectedResourceMetadataPath = "/.well-known/oauth-protected-resource"

// ServeProtectedResourceMetadata serves the RFC 9728 document describing
// the protected MCP endpoint.
func (h *Handler) ServeProtectedResourceMetadata(w http.ResponseWriter, r *http.Request) {
	setSecurityHeaders(w)
	h.writeJSON(w, http.StatusOK, &ProtectedResourceMetadata{
		Resource:               h.cfg.BaseURL + "/mcp",
		AuthorizationServers:   []string{h.cfg.BaseURL},
		BearerMethodsSupported: []string{"header"},
		ScopesSupported:        h.cfg.SupportedScopes,
		ResourceName:           "TickTick MCP Server",
	})
}

// ServeAuthorizationServerMetadata serves the RFC 8414 document for the
// local authorization server.
func (h *Handler) ServeAuthorizationServerMetadata(w http.ResponseWriter, r *http.Request) {
	setSecurityHeaders(w)
	h.writeJSON(w, http.StatusOK, &AuthorizationServerMetadata{
		Issuer:                            h.cfg.BaseURL,
		AuthorizationEndpoint:             h.cfg.BaseURL + "/authorize",
		TokenEndpoint:                     h.cfg.BaseURL + "/token",
		RegistrationEndpoint:              h.cfg.BaseURL + "/register",
		ResponseTypesSupported:            []string{"code"},
		GrantTypesSupported:               []string{GrantAuthorizationCode, GrantRefreshToken},
		CodeChallengeMethodsSupported:     []string{CodeChallengeS256},
		TokenEndpointAuthMethodsSupported: []string{"none"},
		ScopesSupported:                   h.cfg.SupportedScopes,
	})
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Error("failed to encode response", logging.Err(err))
	}
}
