package oauth

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClientStore_Register(t *testing.T) {
	cs := NewClientStore(nil)

	resp, err := cs.Register(&ClientRegistrationRequest{
		ClientName:   "Test MCP Client",
		RedirectURIs: []string{"https://client.example/callback"},
	}, "203.0.113.5", 20)
	require.NoError(t, err)
	assert.NotEmpty(t, resp.ClientID)
	assert.Equal(t, "none", resp.TokenEndpointAuthMethod)
	assert.Contains(t, resp.GrantTypes, GrantAuthorizationCode)
	assert.Contains(t, resp.GrantTypes, GrantRefreshToken)

	client := cs.Get(resp.ClientID)
	require.NotNil(t, client)
	assert.Equal(t, "Test MCP Client", client.ClientName)
}

func TestClientStore_RegisterRequiresRedirectURIs(t *testing.T) {
	cs := NewClientStore(nil)

	_, err := cs.Register(&ClientRegistrationRequest{ClientName: "x"}, "", 0)
	assert.Error(t, err)
}

func TestClientStore_RegisterPerIPLimit(t *testing.T) {
	cs := NewClientStore(nil)
	req := &ClientRegistrationRequest{RedirectURIs: []string{"https://client.example/cb"}}

	for i := 0; i < 3; i++ {
		_, err := cs.Register(req, "198.51.100.7", 3)
		require.NoError(t, err)
	}
	_, err := cs.Register(req, "198.51.100.7", 3)
	assert.Error(t, err)

	// Other addresses are unaffected.
	_, err = cs.Register(req, "198.51.100.8", 3)
	assert.NoError(t, err)
}

func TestClientStore_ValidateRedirect(t *testing.T) {
	cs := NewClientStore(nil)
	cs.AddStatic(&RegisteredClient{
		ClientID:     "static-client",
		RedirectURIs: []string{"https://client.example/callback"},
	})

	assert.True(t, cs.ValidateRedirect("static-client", "https://client.example/callback"))
	assert.False(t, cs.ValidateRedirect("static-client", "https://client.example/callback/extra"))
	assert.False(t, cs.ValidateRedirect("static-client", "https://evil.example/callback"))
	assert.False(t, cs.ValidateRedirect("unknown-client", "https://client.example/callback"))
}

func TestValidateRedirectURI(t *testing.T) {
	tests := []struct {
		name    string
		uri     string
		wantErr bool
	}{
		{"https", "https://client.example/cb", false},
		{"http localhost", "http://localhost:8123/cb", false},
		{"http loopback v4", "http://127.0.0.1/cb", false},
		{"http public host", "http://client.example/cb", true},
		{"custom scheme", "myapp://oauth/callback", false},
		{"bare custom scheme", "myapp:", true},
		{"no scheme", "client.example/cb", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := validateRedirectURI(tt.uri)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
