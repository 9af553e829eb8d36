package server

import (
	"context"
	"log/slog"
	"net/http"
	"sync"

	"github.com/teemow/ticktick-mcp/internal/db"
	"github.com/teemow/ticktick-mcp/internal/instrumentation"
	"github.com/teemow/ticktick-mcp/internal/mcp/oauth"
	"github.com/teemow/ticktick-mcp/internal/security"
	"github.com/teemow/ticktick-mcp/internal/store"
	"github.com/teemow/ticktick-mcp/internal/ticktick"
)

// ContextConfig carries the shared dependencies for a ServerContext.
type ContextConfig struct {
	Store   store.Store
	Vault   *ticktick.TokenVault
	Gateway *ticktick.Gateway
	Users   *db.UserRepository
	Audit   *db.AuditRepository
	Logger  *slog.Logger

	// APIBaseURL overrides the upstream API base, for tests.
	APIBaseURL string
	HTTPClient *http.Client

	// UserRateLimitPerMinute bounds tool invocations per user
	// (default 60, burst 10).
	UserRateLimitPerMinute int
	UserRateLimitBurst     int

	Metrics     *instrumentation.Metrics
	AuditLogger *instrumentation.AuditLogger
}

// ServerContext holds the shared state for the MCP server: the per-user
// upstream clients, the idempotency guard, the per-user rate limiter and
// the observability hooks.
type ServerContext struct {
	ctx    context.Context
	cancel context.CancelFunc

	kv          store.Store
	vault       *ticktick.TokenVault
	gateway     *ticktick.Gateway
	users       *db.UserRepository
	audit       *db.AuditRepository
	idempotency *security.IdempotencyGuard
	userLimiter *oauth.RateLimiter
	metrics     *instrumentation.Metrics
	auditLogger *instrumentation.AuditLogger
	logger      *slog.Logger
	apiBaseURL  string
	httpClient  *http.Client

	mu       sync.RWMutex
	clients  map[string]*ticktick.Client // local user id -> client
	shutdown bool
}

// NewServerContext creates a server context from cfg.
func NewServerContext(ctx context.Context, cfg ContextConfig) *ServerContext {
	shutdownCtx, cancel := context.WithCancel(ctx)

	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	ratePerMinute := cfg.UserRateLimitPerMinute
	if ratePerMinute <= 0 {
		ratePerMinute = 60
	}
	burst := cfg.UserRateLimitBurst
	if burst <= 0 {
		burst = 10
	}

	return &ServerContext{
		ctx:         shutdownCtx,
		cancel:      cancel,
		kv:          cfg.Store,
		vault:       cfg.Vault,
		gateway:     cfg.Gateway,
		users:       cfg.Users,
		audit:       cfg.Audit,
		idempotency: security.NewIdempotencyGuard(cfg.Store),
		userLimiter: oauth.NewRateLimiter(ratePerMinute, burst),
		metrics:     cfg.Metrics,
		auditLogger: cfg.AuditLogger,
		logger:      cfg.Logger,
		apiBaseURL:  cfg.APIBaseURL,
		httpClient:  cfg.HTTPClient,
		clients:     make(map[string]*ticktick.Client),
	}
}

// Context returns the server context.
func (sc *ServerContext) Context() context.Context {
	return sc.ctx
}

// Logger returns the shared logger.
func (sc *ServerContext) Logger() *slog.Logger {
	return sc.logger
}

// ClientForUser returns the upstream client for a local user, creating
// and caching it on first use. Client instances are cheap; whether the
// user actually holds tokens surfaces on the first call.
func (sc *ServerContext) ClientForUser(userID string) *ticktick.Client {
	sc.mu.RLock()
	client, ok := sc.clients[userID]
	sc.mu.RUnlock()
	if ok {
		return client
	}

	sc.mu.Lock()
	defer sc.mu.Unlock()
	if client, ok := sc.clients[userID]; ok {
		return client
	}

	client = ticktick.NewClient(ticktick.ClientConfig{
		UserID:     userID,
		Store:      sc.kv,
		Vault:      sc.vault,
		Gateway:    sc.gateway,
		BaseURL:    sc.apiBaseURL,
		HTTPClient: sc.httpClient,
		Logger:     sc.logger,
		Metrics:    sc.metrics,
	})
	sc.clients[userID] = client
	return client
}

// Users returns the user repository.
func (sc *ServerContext) Users() *db.UserRepository {
	return sc.users
}

// Store returns the credential store.
func (sc *ServerContext) Store() store.Store {
	return sc.kv
}

// Audit returns the audit event repository.
func (sc *ServerContext) Audit() *db.AuditRepository {
	return sc.audit
}

// Idempotency returns the idempotency guard for mutating tools.
func (sc *ServerContext) Idempotency() *security.IdempotencyGuard {
	return sc.idempotency
}

// AllowUser reports whether one more tool invocation fits the per-user
// rate budget.
func (sc *ServerContext) AllowUser(userID string) bool {
	return sc.userLimiter.Allow(userID)
}

// Metrics returns the metrics recorder, or nil when not configured.
func (sc *ServerContext) Metrics() *instrumentation.Metrics {
	return sc.metrics
}

// AuditLogger returns the audit logger, or nil when not configured.
func (sc *ServerContext) AuditLogger() *instrumentation.AuditLogger {
	return sc.auditLogger
}

// IsShutdown returns whether the server has been shutdown.
func (sc *ServerContext) IsShutdown() bool {
	sc.mu.RLock()
	defer sc.mu.RUnlock()
	return sc.shutdown
}

// Shutdown shuts down the server context.
func (sc *ServerContext) Shutdown() error {
	sc.mu.Lock()
	defer sc.mu.Unlock()

	if sc.shutdown {
		return nil
	}

	sc.shutdown = true
	sc.userLimiter.Close()
	sc.cancel()
	return nil
}
