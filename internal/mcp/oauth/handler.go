// Package oauth implements the authorization-code-with-PKCE bridge between
// MCP clients and the upstream provider: the local /authorize and
// /callback endpoints, a slim local token endpoint, client registration,
// and the discovery metadata MCP clients use to find all of it.
package oauth

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"golang.org/x/oauth2"

	"github.com/teemow/ticktick-mcp/internal/db"
	"github.com/teemow/ticktick-mcp/internal/instrumentation"
	"github.com/teemow/ticktick-mcp/internal/logging"
	"github.com/teemow/ticktick-mcp/internal/store"
	"github.com/teemow/ticktick-mcp/internal/ticktick"
)

// UserResolver maps an upstream-derived subject to a local user.
type UserResolver interface {
	EnsureBySubject(ctx context.Context, subject string) (*db.User, error)
}

// Handler serves the OAuth bridge endpoints.
type Handler struct {
	cfg      Config
	flow     *FlowStore
	clients  *ClientStore
	gateway  *ticktick.Gateway
	vault    *ticktick.TokenVault
	users    UserResolver
	limiter  *RateLimiter
	logger   *slog.Logger
	upstream oauth2.Config
}

// NewHandler validates cfg and assembles the bridge.
func NewHandler(cfg Config, kv store.Store, clients *ClientStore, gateway *ticktick.Gateway, vault *ticktick.TokenVault, users UserResolver, logger *slog.Logger) (*Handler, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid OAuth configuration: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	if clients == nil {
		clients = NewClientStore(logger)
	}
	return &Handler{
		cfg:     cfg,
		flow:    NewFlowStore(kv),
		clients: clients,
		gateway: gateway,
		vault:   vault,
		users:   users,
		limiter: NewRateLimiter(cfg.RateLimitPerMinute, cfg.RateLimitBurst),
		logger:  logger,
		upstream: oauth2.Config{
			ClientID:    cfg.UpstreamClientID,
			RedirectURL: cfg.CallbackURL(),
			Scopes:      cfg.Scopes,
			Endpoint: oauth2.Endpoint{
				AuthURL: cfg.UpstreamAuthURL,
			},
		},
	}, nil
}

// Clients exposes the client store, e.g. for static registrations.
func (h *Handler) Clients() *ClientStore { return h.clients }

// Flow exposes the flow store for the bearer middleware.
func (h *Handler) Flow() *FlowStore { return h.flow }

// Close releases the handler's background resources, in particular the
// per-IP rate limiter's cleanup goroutine. Safe to call more than once.
func (h *Handler) Close() {
	h.limiter.Close()
}

// recordAuth counts a terminal authorization flow outcome.
func (h *Handler) recordAuth(ctx context.Context, result string) {
	if h.cfg.Metrics != nil {
		h.cfg.Metrics.RecordOAuthAuth(ctx, result)
	}
}

// RegisterRoutes attaches every bridge endpoint to mux.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.Handle("GET /authorize", h.RateLimitByIP(http.HandlerFunc(h.ServeAuthorization)))
	mux.Handle("GET /callback", h.RateLimitByIP(http.HandlerFunc(h.ServeCallback)))
	mux.Handle("POST /token", h.RateLimitByIP(http.HandlerFunc(h.ServeToken)))
	mux.Handle("POST /register", h.RateLimitByIP(http.HandlerFunc(h.ServeRegister)))
	mux.HandleFunc("GET /.well-known/oauth-protected-resource", h.ServeProtectedResourceMetadata)
	mux.HandleFunc("GET /.well-known/oauth-authorization-server", h.ServeAuthorizationServerMetadata)
}

// ServeAuthorization begins the bridge flow: validate the inbound client,
// mint state and a PKCE verifier for the upstream leg, persist the pending
// authorization and redirect to the upstream authorize endpoint.
func (h *Handler) ServeAuthorization(w http.ResponseWriter, r *http.Request) {
	setSecurityHeaders(w)

	q := r.URL.Query()
	clientID := q.Get("client_id")
	redirectURI := q.Get("redirect_uri")

	if clientID == "" || redirectURI == "" {
		h.writeTextError(w, http.StatusBadRequest, "invalid_request: client_id and redirect_uri are required")
		return
	}
	if rt := q.Get("response_type"); rt != "" && rt != "code" {
		h.writeTextError(w, http.StatusBadRequest, "invalid_request: only response_type=code is supported")
		return
	}
	if h.clients.Get(clientID) == nil {
		h.writeTextError(w, http.StatusBadRequest, "invalid_request: unknown client")
		return
	}
	if !h.clients.ValidateRedirect(clientID, redirectURI) {
		h.writeTextError(w, http.StatusBadRequest, "invalid_request: redirect_uri is not registered for this client")
		return
	}

	state, err := GenerateState()
	if err != nil {
		h.writeTextError(w, http.StatusInternalServerError, "server_error")
		return
	}
	verifier, err := GenerateCodeVerifier()
	if err != nil {
		h.writeTextError(w, http.StatusInternalServerError, "server_error")
		return
	}

	now := time.Now()
	pending := &PendingAuthorization{
		State:               state,
		ClientID:            clientID,
		RedirectURI:         redirectURI,
		Scope:               q.Get("scope"),
		ClientState:         q.Get("state"),
		CodeChallenge:       q.Get("code_challenge"),
		CodeChallengeMethod: q.Get("code_challenge_method"),
		CodeVerifier:        verifier,
		CreatedAt:           now.Unix(),
		ExpiresAt:           now.Add(PendingAuthTTL).Unix(),
	}
	if err := h.flow.SavePending(r.Context(), pending); err != nil {
		h.logger.Error("failed to persist pending authorization", logging.Err(err))
		h.writeTextError(w, http.StatusInternalServerError, "server_error")
		return
	}

	authURL := h.upstream.AuthCodeURL(state,
		oauth2.SetAuthURLParam("code_challenge", ComputeCodeChallenge(verifier)),
		oauth2.SetAuthURLParam("code_challenge_method", CodeChallengeS256),
	)

	h.logger.Info("authorization flow started",
		slog.String("client_id", clientID))
	http.Redirect(w, r, authURL, http.StatusFound)
}

// ServeCallback consumes the upstream response: single-use state lookup,
// code exchange, user resolution, token persistence and the redirect back
// to the original client with a locally issued code.
func (h *Handler) ServeCallback(w http.ResponseWriter, r *http.Request) {
	setSecurityHeaders(w)
	ctx := r.Context()

	q := r.URL.Query()
	if upstreamErr := q.Get("error"); upstreamErr != "" {
		desc := q.Get("error_description")
		if desc != "" {
			desc = ": " + desc
		}
		h.recordAuth(ctx, instrumentation.OAuthResultFailure)
		h.writeTextError(w, http.StatusBadRequest,
			fmt.Sprintf("upstream authorization denied: %s%s", upstreamErr, desc))
		return
	}

	state := q.Get("state")
	code := q.Get("code")
	if state == "" || code == "" {
		h.writeTextError(w, http.StatusBadRequest, "invalid_request: state and code are required")
		return
	}

	pending, err := h.flow.ConsumePending(ctx, state)
	if err != nil {
		h.logger.Error("failed to consume pending authorization", logging.Err(err))
		h.writeTextError(w, http.StatusInternalServerError, "server_error")
		return
	}
	if pending == nil {
		h.recordAuth(ctx, instrumentation.OAuthResultFailure)
		h.writeTextError(w, http.StatusBadRequest, "invalid_request: invalid or expired state")
		return
	}

	tokens, err := h.gateway.ExchangeCode(ctx, code, pending.CodeVerifier, h.cfg.CallbackURL())
	if err != nil {
		h.recordAuth(ctx, instrumentation.OAuthResultFailure)
		h.logger.Error("upstream token exchange failed", logging.Err(err))
		h.writeTextError(w, http.StatusBadGateway, "upstream token exchange failed")
		return
	}

	subject := ticktick.DeriveSubject(tokens.AccessToken)
	user, err := h.users.EnsureBySubject(ctx, subject)
	if err != nil {
		h.recordAuth(ctx, instrumentation.OAuthResultFailure)
		h.logger.Error("failed to resolve local user", logging.Err(err))
		h.writeTextError(w, http.StatusInternalServerError, "server_error")
		return
	}
	if err := h.vault.Save(ctx, user.ID, tokens); err != nil {
		h.recordAuth(ctx, instrumentation.OAuthResultFailure)
		h.logger.Error("failed to persist upstream tokens", logging.Err(err))
		h.writeTextError(w, http.StatusInternalServerError, "server_error")
		return
	}

	localCode, err := GenerateAuthorizationCode()
	if err != nil {
		h.writeTextError(w, http.StatusInternalServerError, "server_error")
		return
	}
	if err := h.flow.SaveAuthorizationCode(ctx, &AuthorizationCode{
		Code:                localCode,
		ClientID:            pending.ClientID,
		RedirectURI:         pending.RedirectURI,
		UserID:              user.ID,
		Scope:               pending.Scope,
		CodeChallenge:       pending.CodeChallenge,
		CodeChallengeMethod: pending.CodeChallengeMethod,
		ExpiresAt:           time.Now().Add(AuthCodeTTL).Unix(),
	}); err != nil {
		h.recordAuth(ctx, instrumentation.OAuthResultFailure)
		h.logger.Error("failed to persist authorization code", logging.Err(err))
		h.writeTextError(w, http.StatusInternalServerError, "server_error")
		return
	}

	redirect, err := url.Parse(pending.RedirectURI)
	if err != nil {
		h.writeTextError(w, http.StatusBadRequest, "invalid_request: stored redirect_uri is invalid")
		return
	}
	params := redirect.Query()
	params.Set("code", localCode)
	if pending.ClientState != "" {
		params.Set("state", pending.ClientState)
	}
	redirect.RawQuery = params.Encode()

	h.recordAuth(ctx, instrumentation.OAuthResultSuccess)
	h.logger.Info("authorization completed",
		slog.String("client_id", pending.ClientID),
		logging.UserHash(subject))
	http.Redirect(w, r, redirect.String(), http.StatusFound)
}

// ServeRegister handles dynamic client registration.
func (h *Handler) ServeRegister(w http.ResponseWriter, r *http.Request) {
	setSecurityHeaders(w)

	var req ClientRegistrationRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 64<<10)).Decode(&req); err != nil {
		h.writeOAuthError(w, errInvalidRequest("request body must be valid JSON"))
		return
	}
	resp, err := h.clients.Register(&req, clientIP(r, h.cfg.TrustProxyHeaders), h.cfg.MaxClientsPerIP)
	if err != nil {
		h.writeOAuthError(w, errInvalidRequest(err.Error()))
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		h.logger.Error("failed to encode registration response", logging.Err(err))
	}
}

// writeTextError emits the plain-text error shape used by the
// redirect-facing endpoints.
func (h *Handler) writeTextError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(status)
	fmt.Fprintln(w, msg)
}

// writeOAuthError emits an RFC 6749 JSON error.
func (h *Handler) writeOAuthError(w http.ResponseWriter, oerr *OAuthError) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(oerr.Status)
	if err := json.NewEncoder(w).Encode(oerr); err != nil {
		h.logger.Error("failed to encode error response", logging.Err(err))
	}
}

// setSecurityHeaders applies baseline security headers to auth endpoints.
func setSecurityHeaders(w http.ResponseWriter) {
	h := w.Header()
	h.Set("X-Content-Type-Options", "nosniff")
	h.Set("X-Frame-Options", "DENY")
	h.Set("Cache-Control", "no-store")
	h.Set("Pragma", "no-cache")
	h.Set("Referrer-Policy", "no-referrer")
}
