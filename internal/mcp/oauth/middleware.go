package oauth

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/teemow/ticktick-mcp/internal/logging"
)

type contextKey string

// UserIDKey carries the authenticated local user id through request
// contexts.
const UserIDKey contextKey = "oauth_user_id"

// UserIDFromContext returns the authenticated user id, if any.
func UserIDFromContext(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(UserIDKey).(string)
	return id, ok && id != ""
}

// ContextWithUserID returns a context carrying the authenticated user id.
func ContextWithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, UserIDKey, userID)
}

// ValidateBearer authenticates requests to the protected MCP endpoint.
// Failures answer 401 with a WWW-Authenticate challenge that points
// clients at the protected resource metadata, per RFC 9728.
func (h *Handler) ValidateBearer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, ok := extractBearerToken(r)
		if !ok {
			h.challenge(w, "missing or malformed Authorization header")
			return
		}

		local, err := h.flow.GetAccessToken(r.Context(), token)
		if err != nil {
			h.logger.Error("failed to look up access token", logging.Err(err))
			http.Error(w, "internal server error", http.StatusInternalServerError)
			return
		}
		if local == nil {
			h.challenge(w, "access token is invalid or expired")
			return
		}

		ctx := context.WithValue(r.Context(), UserIDKey, local.UserID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// challenge answers 401 with the resource_metadata pointer.
func (h *Handler) challenge(w http.ResponseWriter, description string) {
	w.Header().Set("WWW-Authenticate", fmt.Sprintf(
		`Bearer realm=%q, error="invalid_token", error_description=%q, resource_metadata=%q`,
		h.cfg.BaseURL,
		description,
		h.cfg.BaseURL+ProtectedResourceMetadataPath,
	))
	http.Error(w, description, http.StatusUnauthorized)
}

func extractBearerToken(r *http.Request) (string, bool) {
	header := r.Header.Get("Authorization")
	if header == "" {
		return "", false
	}
	const prefix = "Bearer "
	if len(header) <= len(prefix) || !strings.EqualFold(header[:len(prefix)], prefix) {
		return "", false
	}
	token := strings.TrimSpace(header[len(prefix):])
	return token, token != ""
}
