package oauth

import (
	"context"
	"net/http"
	"time"

	"github.com/teemow/ticktick-mcp/internal/logging"
)

// ServeToken is the local token endpoint for MCP clients: the
// authorization-code grant with mandatory PKCE, and rotating refresh
// tokens.
func (h *Handler) ServeToken(w http.ResponseWriter, r *http.Request) {
	setSecurityHeaders(w)

	if err := r.ParseForm(); err != nil {
		h.writeOAuthError(w, errInvalidRequest("failed to parse form body"))
		return
	}

	switch r.PostForm.Get("grant_type") {
	case GrantAuthorizationCode:
		h.serveAuthorizationCodeGrant(w, r)
	case GrantRefreshToken:
		h.serveRefreshTokenGrant(w, r)
	default:
		h.writeOAuthError(w, errUnsupportedGrantType("supported grant types: authorization_code, refresh_token"))
	}
}

func (h *Handler) serveAuthorizationCodeGrant(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	code := r.PostForm.Get("code")
	clientID := r.PostForm.Get("client_id")
	verifier := r.PostForm.Get("code_verifier")
	redirectURI := r.PostForm.Get("redirect_uri")

	if code == "" || clientID == "" {
		h.writeOAuthError(w, errInvalidRequest("code and client_id are required"))
		return
	}

	ac, err := h.flow.ConsumeAuthorizationCode(ctx, code)
	if err != nil {
		h.logger.Error("failed to consume authorization code", logging.Err(err))
		h.writeOAuthError(w, errServerError("storage failure"))
		return
	}
	if ac == nil {
		h.writeOAuthError(w, errInvalidGrant("authorization code is invalid or expired"))
		return
	}
	if ac.ClientID != clientID {
		h.writeOAuthError(w, errInvalidClient("authorization code was issued to a different client"))
		return
	}
	if redirectURI != "" && redirectURI != ac.RedirectURI {
		h.writeOAuthError(w, errInvalidGrant("redirect_uri does not match the authorization request"))
		return
	}
	if ac.CodeChallenge != "" {
		if !VerifyCodeChallenge(verifier, ac.CodeChallenge, ac.CodeChallengeMethod) {
			h.writeOAuthError(w, errInvalidGrant("PKCE verification failed"))
			return
		}
	}

	h.issueTokens(ctx, w, ac.UserID, ac.ClientID, ac.Scope)
}

func (h *Handler) serveRefreshTokenGrant(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	refreshToken := r.PostForm.Get("refresh_token")
	clientID := r.PostForm.Get("client_id")

	if refreshToken == "" {
		h.writeOAuthError(w, errInvalidRequest("refresh_token is required"))
		return
	}

	// Consumption rotates: the presented token is gone whether or not
	// issuance below succeeds, which also defangs replay of stolen tokens.
	old, err := h.flow.ConsumeRefreshToken(ctx, refreshToken)
	if err != nil {
		h.logger.Error("failed to consume refresh token", logging.Err(err))
		h.writeOAuthError(w, errServerError("storage failure"))
		return
	}
	if old == nil {
		h.writeOAuthError(w, errInvalidGrant("refresh token is invalid or expired"))
		return
	}
	if clientID != "" && clientID != old.ClientID {
		h.writeOAuthError(w, errInvalidClient("refresh token was issued to a different client"))
		return
	}

	h.issueTokens(ctx, w, old.UserID, old.ClientID, old.Scope)
}

func (h *Handler) issueTokens(ctx context.Context, w http.ResponseWriter, userID, clientID, scope string) {
	accessToken, err := GenerateToken()
	if err != nil {
		h.writeOAuthError(w, errServerError("failed to generate token"))
		return
	}
	refreshToken, err := GenerateToken()
	if err != nil {
		h.writeOAuthError(w, errServerError("failed to generate token"))
		return
	}

	now := time.Now()
	if err := h.flow.SaveAccessToken(ctx, &LocalToken{
		Token:     accessToken,
		UserID:    userID,
		ClientID:  clientID,
		Scope:     scope,
		ExpiresAt: now.Add(AccessTokenTTL).Unix(),
	}); err != nil {
		h.logger.Error("failed to persist access token", logging.Err(err))
		h.writeOAuthError(w, errServerError("storage failure"))
		return
	}
	if err := h.flow.SaveRefreshToken(ctx, &LocalToken{
		Token:     refreshToken,
		UserID:    userID,
		ClientID:  clientID,
		Scope:     scope,
		ExpiresAt: now.Add(RefreshTokenTTL).Unix(),
	}); err != nil {
		h.logger.Error("failed to persist refresh token", logging.Err(err))
		h.writeOAuthError(w, errServerError("storage failure"))
		return
	}

	h.writeJSON(w, http.StatusOK, &TokenEndpointResponse{
		AccessToken:  accessToken,
		TokenType:    "Bearer",
		ExpiresIn:    int64(AccessTokenTTL.Seconds()),
		RefreshToken: refreshToken,
		Scope:        scope,
	})
}
