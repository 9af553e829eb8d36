package ticktick

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/teemow/ticktick-mcp/internal/apperr"
	"github.com/teemow/ticktick-mcp/internal/logging"
)

// Upstream OAuth endpoints.
const (
	DefaultAuthURL  = "https://ticktick.com/oauth/authorize"
	DefaultTokenURL = "https://ticktick.com/oauth/token"
)

const (
	tokenMaxAttempts = 3
	tokenTimeout     = 10 * time.Second
	tokenBackoffBase = 200 * time.Millisecond

	// Access tokens are considered expired this long before the upstream
	// says so, to absorb clock skew and in-flight latency.
	expirySkew = 30 * time.Second
)

// Gateway operation labels, used for logging and error classification.
const (
	opTokenExchange = "token exchange"
	opTokenRefresh  = "token refresh"
)

// GatewayConfig configures the token gateway.
type GatewayConfig struct {
	ClientID     string
	ClientSecret string
	TokenURL     string // defaults to DefaultTokenURL
	HTTPClient   *http.Client
	Logger       *slog.Logger

	// BackoffBase overrides the retry backoff base, for tests.
	BackoffBase time.Duration
}

// Gateway performs authorization-code and refresh-token exchanges against
// the upstream OAuth server with bounded retries and error classification.
type Gateway struct {
	clientID     string
	clientSecret string
	tokenURL     string
	httpClient   *http.Client
	logger       *slog.Logger
	backoffBase  time.Duration
	now          func() time.Time
}

// NewGateway creates a Gateway. Logger falls back to slog.Default.
func NewGateway(cfg GatewayConfig) *Gateway {
	g := &Gateway{
		clientID:     cfg.ClientID,
		clientSecret: cfg.ClientSecret,
		tokenURL:     cfg.TokenURL,
		httpClient:   cfg.HTTPClient,
		logger:       cfg.Logger,
		backoffBase:  cfg.BackoffBase,
		now:          time.Now,
	}
	if g.tokenURL == "" {
		g.tokenURL = DefaultTokenURL
	}
	if g.httpClient == nil {
		g.httpClient = &http.Client{}
	}
	if g.logger == nil {
		g.logger = slog.Default()
	}
	if g.backoffBase <= 0 {
		g.backoffBase = tokenBackoffBase
	}
	return g
}

// ExchangeCode swaps an authorization code plus PKCE verifier for a token
// set.
func (g *Gateway) ExchangeCode(ctx context.Context, code, verifier, redirectURI string) (*TokenSet, error) {
	form := url.Values{
		"grant_type":    {"authorization_code"},
		"code":          {code},
		"code_verifier": {verifier},
		"redirect_uri":  {redirectURI},
		"scope":         {"tasks:read tasks:write"},
	}
	return g.requestToken(ctx, opTokenExchange, form)
}

// Refresh swaps a refresh token for a new token set. The response may
// rotate the refresh token; callers must persist whatever comes back.
func (g *Gateway) Refresh(ctx context.Context, refreshToken string) (*TokenSet, error) {
	form := url.Values{
		"grant_type":    {"refresh_token"},
		"refresh_token": {refreshToken},
		"scope":         {"tasks:read tasks:write"},
	}
	return g.requestToken(ctx, opTokenRefresh, form)
}

// tokenResponse accepts both snake_case and camelCase field spellings the
// upstream has been observed to emit.
type tokenResponse struct {
	AccessToken       string `json:"access_token"`
	AccessTokenCamel  string `json:"accessToken"`
	RefreshToken      string `json:"refresh_token"`
	RefreshTokenCamel string `json:"refreshToken"`
	ExpiresIn         int64  `json:"expires_in"`
	ExpiresInCamel    int64  `json:"expiresIn"`
	Scope             string `json:"scope"`
	Error             string `json:"error"`
	ErrorDescription  string `json:"error_description"`
}

func (r *tokenResponse) accessToken() string {
	if r.AccessToken != "" {
		return r.AccessToken
	}
	return r.AccessTokenCamel
}

func (r *tokenResponse) refreshToken() string {
	if r.RefreshToken != "" {
		return r.RefreshToken
	}
	return r.RefreshTokenCamel
}

func (r *tokenResponse) expiresIn() int64 {
	if r.ExpiresIn > 0 {
		return r.ExpiresIn
	}
	return r.ExpiresInCamel
}

func (g *Gateway) requestToken(ctx context.Context, operation string, form url.Values) (*TokenSet, error) {
	var lastErr error

	for attempt := 1; attempt <= tokenMaxAttempts; attempt++ {
		status, retryHeader, body, err := g.post(ctx, form)
		if err != nil {
			if ctx.Err() != nil {
				return nil, apperr.Timeout(operation)
			}
			lastErr = err
			g.logger.Warn("token endpoint request failed",
				logging.Operation(operation),
				slog.Int(logging.KeyAttempt, attempt),
				logging.Err(err))
			if attempt < tokenMaxAttempts {
				if err := sleepContext(ctx, backoffDelay(g.backoffBase, attempt)); err != nil {
					return nil, apperr.Timeout(operation)
				}
				continue
			}
			return nil, apperr.Network(lastErr)
		}

		if status == http.StatusTooManyRequests || status >= 500 {
			g.logger.Warn("token endpoint returned retryable status",
				logging.Operation(operation),
				slog.Int(logging.KeyAttempt, attempt),
				slog.Int("http_status", status))
			if attempt < tokenMaxAttempts {
				delay := retryAfterOr(retryHeader, backoffDelay(g.backoffBase, attempt))
				if err := sleepContext(ctx, delay); err != nil {
					return nil, apperr.Timeout(operation)
				}
				continue
			}
			return nil, apperr.UpstreamAPI(http.StatusBadGateway,
				fmt.Sprintf("%s failed: upstream returned %d after %d attempts", operation, status, attempt))
		}

		return g.decodeToken(operation, status, body)
	}

	return nil, apperr.Network(lastErr)
}

// post issues one token request with its own timeout.
func (g *Gateway) post(ctx context.Context, form url.Values) (int, string, []byte, error) {
	reqCtx, cancel := context.WithTimeout(ctx, tokenTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, g.tokenURL,
		strings.NewReader(form.Encode()))
	if err != nil {
		return 0, "", nil, fmt.Errorf("failed to build token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")
	req.SetBasicAuth(g.clientID, g.clientSecret)

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return 0, "", nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return 0, "", nil, fmt.Errorf("failed to read token response: %w", err)
	}
	return resp.StatusCode, resp.Header.Get("Retry-After"), body, nil
}

// decodeToken classifies a non-retryable token response. A 2xx body that
// carries an error field is a failure, and a missing access token is
// always fatal regardless of status.
func (g *Gateway) decodeToken(operation string, status int, body []byte) (*TokenSet, error) {
	var tr tokenResponse
	if err := json.Unmarshal(body, &tr); err != nil {
		return nil, apperr.UpstreamAPI(http.StatusBadGateway,
			fmt.Sprintf("%s failed: unparseable token response (status %d)", operation, status))
	}

	if tr.Error != "" {
		// invalid_grant on a refresh means the stored refresh token is dead
		// and only re-authorization helps. On a code exchange the code came
		// from the upstream moments ago, so the same error is an upstream
		// failure like any other.
		if tr.Error == "invalid_grant" && operation == opTokenRefresh {
			return nil, apperr.AuthRequired("refresh token rejected, re-authorization required")
		}
		msg := tr.Error
		if tr.ErrorDescription != "" {
			msg = tr.Error + ": " + tr.ErrorDescription
		}
		return nil, apperr.UpstreamAPI(http.StatusBadGateway,
			fmt.Sprintf("%s failed: %s", operation, msg))
	}

	if status < 200 || status >= 300 {
		return nil, apperr.UpstreamAPI(http.StatusBadGateway,
			fmt.Sprintf("%s failed: upstream returned %d", operation, status))
	}

	access := tr.accessToken()
	if access == "" {
		return nil, apperr.UpstreamAPI(http.StatusBadGateway,
			fmt.Sprintf("%s failed: token response missing access token", operation))
	}

	ts := &TokenSet{
		AccessToken:  access,
		RefreshToken: tr.refreshToken(),
		Scope:        tr.Scope,
	}
	if expires := tr.expiresIn(); expires > 0 {
		lifetime := time.Duration(expires) * time.Second
		if lifetime > expirySkew {
			lifetime -= expirySkew
		}
		ts.ExpiresAt = g.now().Add(lifetime)
	}
	return ts, nil
}

// backoffDelay returns the exponential delay for attempt (1-based) with up
// to 30% additive jitter, so synchronized clients spread out.
func backoffDelay(base time.Duration, attempt int) time.Duration {
	delay := base << (attempt - 1)
	jitter := time.Duration(rand.Int63n(int64(delay)*3/10 + 1))
	return delay + jitter
}

// retryAfter parses a Retry-After header as delta-seconds or an HTTP-date.
func retryAfter(header string) (time.Duration, bool) {
	if header == "" {
		return 0, false
	}
	if secs, err := strconv.Atoi(strings.TrimSpace(header)); err == nil && secs >= 0 {
		return time.Duration(secs) * time.Second, true
	}
	if at, err := http.ParseTime(header); err == nil {
		if d := time.Until(at); d > 0 {
			return d, true
		}
		return 0, true
	}
	return 0, false
}

// retryAfterOr returns the Retry-After duration when present, else fallback.
func retryAfterOr(header string, fallback time.Duration) time.Duration {
	if d, ok := retryAfter(header); ok {
		return d
	}
	return fallback
}

// sleepContext sleeps for d or until ctx is done.
func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
