package oauth

// PendingAuthorization correlates one inbound authorization request with
// its upstream round trip. Stored under the random state and consumed
// exactly once by the callback.
type PendingAuthorization struct {
	State               string `json:"state"`
	ClientID            string `json:"clientId"`
	RedirectURI         string `json:"redirectUri"`
	Scope               string `json:"scope,omitempty"`
	ClientState         string `json:"clientState,omitempty"`
	CodeChallenge       string `json:"codeChallenge,omitempty"`
	CodeChallengeMethod string `json:"codeChallengeMethod,omitempty"`
	CodeVerifier        string `json:"codeVerifier"`
	CreatedAt           int64  `json:"createdAt"`
	ExpiresAt           int64  `json:"expiresAt"`
}

// AuthorizationCode is a locally issued single-use code binding the
// completed upstream authorization to the client's token request.
type AuthorizationCode struct {
	Code                string `json:"code"`
	ClientID            string `json:"clientId"`
	RedirectURI         string `json:"redirectUri"`
	UserID              string `json:"userId"`
	Scope               string `json:"scope,omitempty"`
	CodeChallenge       string `json:"codeChallenge,omitempty"`
	CodeChallengeMethod string `json:"codeChallengeMethod,omitempty"`
	ExpiresAt           int64  `json:"expiresAt"`
}

// LocalToken is a locally issued access or refresh token record.
type LocalToken struct {
	Token     string `json:"token"`
	UserID    string `json:"userId"`
	ClientID  string `json:"clientId"`
	Scope     string `json:"scope,omitempty"`
	ExpiresAt int64  `json:"expiresAt"`
}

// RegisteredClient is an OAuth client allowed to start the flow. Clients
// are public (PKCE-only); there are no client secrets.
type RegisteredClient struct {
	ClientID     string   `json:"client_id"`
	ClientName   string   `json:"client_name,omitempty"`
	RedirectURIs []string `json:"redirect_uris"`
	CreatedAt    int64    `json:"client_id_issued_at"`
}

// ClientRegistrationRequest is the dynamic client registration payload
// (RFC 7591, subset).
type ClientRegistrationRequest struct {
	ClientName              string   `json:"client_name,omitempty"`
	RedirectURIs            []string `json:"redirect_uris"`
	TokenEndpointAuthMethod string   `json:"token_endpoint_auth_method,omitempty"`
	GrantTypes              []string `json:"grant_types,omitempty"`
	ResponseTypes           []string `json:"response_types,omitempty"`
	Scope                   string   `json:"scope,omitempty"`
}

// ClientRegistrationResponse is returned from /register.
type ClientRegistrationResponse struct {
	ClientID                string   `json:"client_id"`
	ClientIDIssuedAt        int64    `json:"client_id_issued_at"`
	ClientName              string   `json:"client_name,omitempty"`
	RedirectURIs            []string `json:"redirect_uris"`
	TokenEndpointAuthMethod string   `json:"token_endpoint_auth_method"`
	GrantTypes              []string `json:"grant_types"`
	ResponseTypes           []string `json:"response_types"`
}

// TokenEndpointResponse is the local token endpoint's success payload.
type TokenEndpointResponse struct {
	AccessToken  string `json:"access_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int64  `json:"expires_in"`
	RefreshToken string `json:"refresh_token,omitempty"`
	Scope        string `json:"scope,omitempty"`
}

// ProtectedResourceMetadata is the RFC 9728 document advertising how to
// authorize against the protected MCP endpoint.
type ProtectedResourceMetadata struct {
	Resource               string   `json:"resource"`
	AuthorizationServers   []string `json:"authorization_servers"`
	BearerMethodsSupported []string `json:"bearer_methods_supported"`
	ScopesSupported        []string `json:"scopes_supported,omitempty"`
	ResourceName           string   `json:"resource_name,omitempty"`
}

// AuthorizationServerMetadata is the RFC 8414 document for the local
// authorization server.
type AuthorizationServerMetadata struct {
	Issuer                            string   `json:"issuer"`
	AuthorizationEndpoint             string   `json:"authorization_endpoint"`
	TokenEndpoint                     string   `json:"token_endpoint"`
	RegistrationEndpoint              string   `json:"registration_endpoint,omitempty"`
	ResponseTypesSupported            []string `json:"response_types_supported"`
	GrantTypesSupported               []string `json:"grant_types_supported"`
	CodeChallengeMethodsSupported     []string `json:"code_challenge_methods_supported"`
	TokenEndpointAuthMethodsSupported []string `json:"token_endpoint_auth_methods_supported"`
	ScopesSupported                   []string `json:"scopes_supported,omitempty"`
}
