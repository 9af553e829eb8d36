package oauth

import (
	"fmt"
	"net/http"
)

// OAuthError is an RFC 6749 error response for the token and registration
// endpoints. The authorize and callback endpoints use plain-text bodies
// instead, since their consumer is a user agent mid-redirect.
type OAuthError struct {
	Code        string `json:"error"`
	Description string `json:"error_description,omitempty"`
	Status      int    `json:"-"`
}

func (e *OAuthError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Description)
}

func errInvalidRequest(desc string) *OAuthError {
	return &OAuthError{Code: "invalid_request", Description: desc, Status: http.StatusBadRequest}
}

func errInvalidGrant(desc string) *OAuthError {
	return &OAuthError{Code: "invalid_grant", Description: desc, Status: http.StatusBadRequest}
}

func errInvalidClient(desc string) *OAuthError {
	return &OAuthError{Code: "invalid_client", Description: desc, Status: http.StatusUnauthorized}
}

func errUnsupportedGrantType(desc string) *OAuthError {
	return &OAuthError{Code: "unsupported_grant_type", Description: desc, Status: http.StatusBadRequest}
}

func errServerError(desc string) *OAuthError {
	return &OAuthError{Code: "server_error", Description: desc, Status: http.StatusInternalServerError}
}
