package oauth

import (
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"sync"
	"time"
)

// ClientStore holds registered OAuth clients. Clients arrive either from
// static configuration or dynamic registration; both are public PKCE
// clients without secrets.
type ClientStore struct {
	mu           sync.RWMutex
	clients      map[string]*RegisteredClient
	clientsPerIP map[string]int
	logger       *slog.Logger
}

// NewClientStore creates an empty client store.
func NewClientStore(logger *slog.Logger) *ClientStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &ClientStore{
		clients:      make(map[string]*RegisteredClient),
		clientsPerIP: make(map[string]int),
		logger:       logger,
	}
}

// AddStatic registers a preconfigured client.
func (s *ClientStore) AddStatic(client *RegisteredClient) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clients[client.ClientID] = client
}

// Get returns a client by id, or nil.
func (s *ClientStore) Get(clientID string) *RegisteredClient {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.clients[clientID]
}

// Register performs dynamic client registration. clientIP bounds
// registrations per source address.
func (s *ClientStore) Register(req *ClientRegistrationRequest, clientIP string, maxPerIP int) (*ClientRegistrationResponse, error) {
	if len(req.RedirectURIs) == 0 {
		return nil, fmt.Errorf("redirect_uris is required")
	}
	for _, uri := range req.RedirectURIs {
		if err := validateRedirectURI(uri); err != nil {
			return nil, err
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if maxPerIP > 0 && clientIP != "" && s.clientsPerIP[clientIP] >= maxPerIP {
		return nil, fmt.Errorf("client registration limit reached for this address")
	}

	clientID, err := GenerateToken()
	if err != nil {
		return nil, fmt.Errorf("failed to generate client id: %w", err)
	}
	now := time.Now().Unix()

	s.clients[clientID] = &RegisteredClient{
		ClientID:     clientID,
		ClientName:   req.ClientName,
		RedirectURIs: req.RedirectURIs,
		CreatedAt:    now,
	}
	if clientIP != "" {
		s.clientsPerIP[clientIP]++
	}

	s.logger.Info("registered oauth client",
		slog.String("client_id", clientID),
		slog.String("client_name", req.ClientName),
		slog.Int("redirect_uris", len(req.RedirectURIs)))

	return &ClientRegistrationResponse{
		ClientID:                clientID,
		ClientIDIssuedAt:        now,
		ClientName:              req.ClientName,
		RedirectURIs:            req.RedirectURIs,
		TokenEndpointAuthMethod: "none",
		GrantTypes:              []string{GrantAuthorizationCode, GrantRefreshToken},
		ResponseTypes:           []string{"code"},
	}, nil
}

// ValidateRedirect checks that redirectURI is allow-listed for clientID.
// The match is exact; no prefix or wildcard rules.
func (s *ClientStore) ValidateRedirect(clientID, redirectURI string) bool {
	client := s.Get(clientID)
	if client == nil {
		return false
	}
	for _, uri := range client.RedirectURIs {
		if uri == redirectURI {
			return true
		}
	}
	return false
}

// validateRedirectURI rejects schemes and hosts that cannot safely receive
// authorization codes. HTTPS is required except for loopback addresses and
// app-private custom schemes.
func validateRedirectURI(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid redirect_uri %q: %w", raw, err)
	}
	switch u.Scheme {
	case "https":
		return nil
	case "http":
		host := u.Hostname()
		if host == "localhost" || host == "127.0.0.1" || host == "::1" {
			return nil
		}
		return fmt.Errorf("http redirect_uri only allowed for loopback, got %q", raw)
	case "":
		return fmt.Errorf("redirect_uri %q has no scheme", raw)
	default:
		// Custom schemes (e.g. app://callback) are accepted for native
		// clients as long as they carry a path or host.
		if strings.TrimPrefix(raw, u.Scheme+":") == "" {
			return fmt.Errorf("redirect_uri %q is incomplete", raw)
		}
		return nil
	}
}
