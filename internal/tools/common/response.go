package common

import (
	"context"
	"encoding/json"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/teemow/ticktick-mcp/internal/apperr"
	"github.com/teemow/ticktick-mcp/internal/mcp/oauth"
)

// errorEnvelope is the failure payload shape shared by every tool.
type errorEnvelope struct {
	OK      bool           `json:"ok"`
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

// ToolSuccess wraps payload in the success envelope. The payload map is
// extended with ok=true rather than nested, so tool outputs stay flat.
func ToolSuccess(payload map[string]any) *mcp.CallToolResult {
	if payload == nil {
		payload = make(map[string]any, 1)
	}
	payload["ok"] = true
	raw, err := json.MarshalIndent(payload, "", "  ")
	if err != nil {
		return ToolError(apperr.Internal(err))
	}
	return mcp.NewToolResultText(string(raw))
}

// ToolError renders err as the structured failure envelope. Unclassified
// errors come out as INTERNAL_ERROR.
func ToolError(err error) *mcp.CallToolResult {
	ae := apperr.From(err)
	if ae == nil {
		ae = apperr.Internal(err)
	}
	env := errorEnvelope{
		OK:      false,
		Code:    string(ae.Code),
		Message: ae.Message,
		Details: ae.Details,
	}
	raw, merr := json.MarshalIndent(env, "", "  ")
	if merr != nil {
		return mcp.NewToolResultError(`{"ok":false,"code":"INTERNAL_ERROR","message":"failed to encode error"}`)
	}
	return mcp.NewToolResultError(string(raw))
}

// UserFromContext returns the authenticated local user id, set by the
// bearer middleware. Tools must refuse requests without one.
func UserFromContext(ctx context.Context) (string, bool) {
	return oauth.UserIDFromContext(ctx)
}
