package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/teemow/ticktick-mcp/internal/db"
	"github.com/teemow/ticktick-mcp/internal/instrumentation"
	"github.com/teemow/ticktick-mcp/internal/mcp/oauth"
	"github.com/teemow/ticktick-mcp/internal/server"
	"github.com/teemow/ticktick-mcp/internal/store"
	"github.com/teemow/ticktick-mcp/internal/ticktick"
	"github.com/teemow/ticktick-mcp/internal/tools/ticktick_tools"
)

// serveOptions collects every serve flag. Each flag has an environment
// fallback applied only when the flag was not set on the command line.
type serveOptions struct {
	transport string
	httpAddr  string
	baseURL   string
	yolo      bool
	logLevel  string

	clientID     string
	clientSecret string
	apiBaseURL   string
	scopes       string

	redisAddr     string
	redisPassword string
	redisDB       int

	dbPath        string
	encryptionKey string

	metricsEnabled bool
	metricsAddr    string

	userRateLimitPerMinute int
	userRateLimitBurst     int
	authRateLimitPerMinute int
	authRateLimitBurst     int
	trustProxyHeaders      bool
	maxClientsPerIP        int

	auditRetentionDays int
	stdioUser          string
}

// envFallbacks maps flag names to the environment variables consulted when
// the flag is left at its default.
var envFallbacks = map[string]string{
	"transport":              "TICKTICK_MCP_TRANSPORT",
	"http-addr":              "TICKTICK_MCP_HTTP_ADDR",
	"base-url":               "TICKTICK_MCP_BASE_URL",
	"log-level":              "TICKTICK_MCP_LOG_LEVEL",
	"client-id":              "TICKTICK_CLIENT_ID",
	"client-secret":          "TICKTICK_CLIENT_SECRET",
	"api-base-url":           "TICKTICK_MCP_API_BASE_URL",
	"scopes":                 "TICKTICK_MCP_SCOPES",
	"redis-addr":             "TICKTICK_MCP_REDIS_ADDR",
	"redis-password":         "TICKTICK_MCP_REDIS_PASSWORD",
	"redis-db":               "TICKTICK_MCP_REDIS_DB",
	"db-path":                "TICKTICK_MCP_DB_PATH",
	"storage-encryption-key": "TICKTICK_MCP_STORAGE_ENCRYPTION_KEY",
	"metrics-addr":           "TICKTICK_MCP_METRICS_ADDR",
	"audit-retention-days":   "TICKTICK_MCP_AUDIT_RETENTION_DAYS",
}

func newServeCmd() *cobra.Command {
	opts := &serveOptions{}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the TickTick MCP server",
		Long: `Start an MCP server exposing TickTick projects and tasks as tools.

Two transports are supported:
  stdio            single pre-authorized user, tokens read from the
                   credential store (default)
  streamable-http  OAuth 2.1 protected HTTP server with authorization
                   code + PKCE bridging to TickTick

Every flag falls back to a TICKTICK_MCP_* environment variable when not
set explicitly; upstream credentials come from TICKTICK_CLIENT_ID and
TICKTICK_CLIENT_SECRET.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			applyEnvFallbacks(cmd)
			return runServe(opts)
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&opts.transport, "transport", "stdio", "Transport type: stdio or streamable-http")
	flags.StringVar(&opts.httpAddr, "http-addr", ":8080", "Listen address for the streamable-http transport")
	flags.StringVar(&opts.baseURL, "base-url", "", "Externally visible base URL (auto-detected for localhost)")
	flags.BoolVar(&opts.yolo, "yolo", false, "Enable write operations (default is read-only)")
	flags.StringVar(&opts.logLevel, "log-level", "info", "Log level: debug, info, warn or error")

	flags.StringVar(&opts.clientID, "client-id", "", "TickTick OAuth client ID")
	flags.StringVar(&opts.clientSecret, "client-secret", "", "TickTick OAuth client secret")
	flags.StringVar(&opts.apiBaseURL, "api-base-url", "", "Override the TickTick Open API base URL")
	flags.StringVar(&opts.scopes, "scopes", "", "Comma separated upstream scopes (default tasks:read,tasks:write)")

	flags.StringVar(&opts.redisAddr, "redis-addr", "", "Redis/Valkey address for the credential store (empty = in-memory)")
	flags.StringVar(&opts.redisPassword, "redis-password", "", "Redis/Valkey password")
	flags.IntVar(&opts.redisDB, "redis-db", 0, "Redis/Valkey database number")

	flags.StringVar(&opts.dbPath, "db-path", "ticktick-mcp.db", "Path to the SQLite database")
	flags.StringVar(&opts.encryptionKey, "storage-encryption-key", "", "Base64 32-byte AES key for tokens at rest (empty = plaintext)")

	flags.BoolVar(&opts.metricsEnabled, "metrics-enabled", true, "Serve Prometheus metrics on a dedicated listener")
	flags.StringVar(&opts.metricsAddr, "metrics-addr", ":9090", "Listen address for the metrics server")

	flags.IntVar(&opts.userRateLimitPerMinute, "rate-limit-per-minute", 60, "Per-user tool invocation rate limit")
	flags.IntVar(&opts.userRateLimitBurst, "rate-limit-burst", 10, "Per-user tool invocation burst")
	flags.IntVar(&opts.authRateLimitPerMinute, "auth-rate-limit-per-minute", 10, "Per-IP rate limit on OAuth endpoints")
	flags.IntVar(&opts.authRateLimitBurst, "auth-rate-limit-burst", 5, "Per-IP burst on OAuth endpoints")
	flags.BoolVar(&opts.trustProxyHeaders, "trust-proxy-headers", false, "Trust X-Forwarded-For / X-Real-IP (only behind a trusted proxy)")
	flags.IntVar(&opts.maxClientsPerIP, "max-clients-per-ip", 20, "Dynamic client registrations allowed per source IP")

	flags.IntVar(&opts.auditRetentionDays, "audit-retention-days", 90, "Days to keep audit events before pruning")
	flags.StringVar(&opts.stdioUser, "stdio-user", "local", "Local user ID for the stdio transport")

	return cmd
}

// applyEnvFallbacks sets flags from their environment fallbacks. A flag set
// explicitly on the command line always wins.
func applyEnvFallbacks(cmd *cobra.Command) {
	for flag, env := range envFallbacks {
		if cmd.Flags().Changed(flag) {
			continue
		}
		if val := os.Getenv(env); val != "" {
			_ = cmd.Flags().Set(flag, val)
		}
	}
}

func runServe(opts *serveOptions) error {
	logger := newLogger(opts.logLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if opts.transport != "stdio" && opts.transport != "streamable-http" {
		return fmt.Errorf("unsupported transport type: %s (supported: stdio, streamable-http)", opts.transport)
	}

	instrCfg := instrumentation.DefaultConfig()
	instrCfg.ServiceVersion = version
	if opts.auditRetentionDays > 0 {
		instrCfg.AuditLogging.RetentionDays = opts.auditRetentionDays
	}
	provider, err := instrumentation.NewProvider(ctx, instrCfg)
	if err != nil {
		return fmt.Errorf("failed to initialize instrumentation: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := provider.Shutdown(shutdownCtx); err != nil && opts.transport != "stdio" {
			logger.Error("instrumentation shutdown failed", "error", err)
		}
	}()
	metrics := provider.Metrics()

	gdb, err := db.Open(opts.dbPath)
	if err != nil {
		return fmt.Errorf("failed to open database %s: %w", opts.dbPath, err)
	}
	users := db.NewUserRepository(gdb)
	auditRepo := db.NewAuditRepository(gdb)
	auditLogger := instrumentation.NewAuditLoggerWithConfig(logger, auditRepo, instrCfg.AuditLogging)

	kv, err := newCredentialStore(ctx, opts, logger)
	if err != nil {
		return err
	}

	cipher, err := ticktick.NewTokenCipherFromBase64(opts.encryptionKey)
	if err != nil {
		return fmt.Errorf("invalid storage encryption key: %w", err)
	}
	if opts.encryptionKey == "" && opts.transport != "stdio" {
		logger.Warn("storage encryption key not set, tokens are stored unencrypted")
	}
	vault := ticktick.NewTokenVault(kv, cipher)

	gateway := ticktick.NewGateway(ticktick.GatewayConfig{
		ClientID:     opts.clientID,
		ClientSecret: opts.clientSecret,
		Logger:       logger,
	})

	sc := server.NewServerContext(ctx, server.ContextConfig{
		Store:                  kv,
		Vault:                  vault,
		Gateway:                gateway,
		Users:                  users,
		Audit:                  auditRepo,
		Logger:                 logger,
		APIBaseURL:             opts.apiBaseURL,
		UserRateLimitPerMinute: opts.userRateLimitPerMinute,
		UserRateLimitBurst:     opts.userRateLimitBurst,
		Metrics:                metrics,
		AuditLogger:            auditLogger,
	})
	defer func() {
		if err := sc.Shutdown(); err != nil && opts.transport != "stdio" {
			logger.Error("server context shutdown failed", "error", err)
		}
	}()

	var metricsServer *server.MetricsServer
	if opts.metricsEnabled && provider.Enabled() && provider.MetricsHandler() != nil {
		metricsServer, err = server.NewMetricsServer(provider, opts.metricsAddr, logger)
		if err != nil {
			return fmt.Errorf("failed to create metrics server: %w", err)
		}
		go func() {
			if err := metricsServer.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("metrics server failed", "error", err)
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := metricsServer.Shutdown(shutdownCtx); err != nil && opts.transport != "stdio" {
				logger.Error("metrics server shutdown failed", "error", err)
			}
		}()
	}

	if opts.auditRetentionDays > 0 {
		go runAuditRetentionSweep(ctx, auditRepo, opts.auditRetentionDays, logger)
	}

	mcpSrv := mcpserver.NewMCPServer("ticktick-mcp", version,
		mcpserver.WithToolCapabilities(true),
	)

	readOnly := !opts.yolo
	if opts.transport != "stdio" {
		if readOnly {
			logger.Info("starting in read-only mode, use --yolo to enable write operations")
		} else {
			logger.Info("starting with write operations enabled")
		}
	}

	if err := ticktick_tools.RegisterTickTickTools(mcpSrv, sc, readOnly); err != nil {
		return fmt.Errorf("failed to register tools: %w", err)
	}

	switch opts.transport {
	case "stdio":
		return runStdioServer(mcpSrv, opts.stdioUser)
	default:
		return runStreamableHTTPServer(ctx, mcpSrv, sc, kv, gateway, vault, users, metrics, opts, logger)
	}
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	// Stderr keeps the stdio transport's stdout clean for MCP frames.
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}

func newCredentialStore(ctx context.Context, opts *serveOptions, logger *slog.Logger) (store.Store, error) {
	if opts.redisAddr == "" {
		if opts.transport != "stdio" {
			logger.Warn("no redis address configured, using in-memory credential store")
		}
		return store.NewMemoryStore(), nil
	}
	kv, err := store.NewRedisStore(ctx, opts.redisAddr, opts.redisPassword, opts.redisDB)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", opts.redisAddr, err)
	}
	logger.Info("using redis credential store", "addr", opts.redisAddr)
	return kv, nil
}

// runAuditRetentionSweep prunes audit events older than the retention
// window, immediately and then on a six hour ticker.
func runAuditRetentionSweep(ctx context.Context, repo *db.AuditRepository, retentionDays int, logger *slog.Logger) {
	sweep := func() {
		cutoff := time.Now().AddDate(0, 0, -retentionDays)
		n, err := repo.DeleteOlderThan(ctx, cutoff)
		if err != nil {
			logger.Error("audit retention sweep failed", "error", err)
			return
		}
		if n > 0 {
			logger.Info("pruned audit events", "count", n, "cutoff", cutoff.Format(time.RFC3339))
		}
	}

	sweep()
	ticker := time.NewTicker(6 * time.Hour)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			sweep()
		}
	}
}

func runStdioServer(mcpSrv *mcpserver.MCPServer, userID string) error {
	serverDone := make(chan error, 1)
	go func() {
		defer close(serverDone)
		err := mcpserver.ServeStdio(mcpSrv,
			mcpserver.WithStdioContextFunc(func(ctx context.Context) context.Context {
				return oauth.ContextWithUserID(ctx, userID)
			}),
		)
		if err != nil {
			serverDone <- err
		}
	}()

	if err := <-serverDone; err != nil {
		return fmt.Errorf("server stopped with error: %w", err)
	}
	return nil
}

func runStreamableHTTPServer(
	ctx context.Context,
	mcpSrv *mcpserver.MCPServer,
	sc *server.ServerContext,
	kv store.Store,
	gateway *ticktick.Gateway,
	vault *ticktick.TokenVault,
	users *db.UserRepository,
	metrics *instrumentation.Metrics,
	opts *serveOptions,
	logger *slog.Logger,
) error {
	baseURL := resolveBaseURL(opts.baseURL, opts.httpAddr)
	if baseURL == "" {
		return fmt.Errorf("base URL required: set --base-url or TICKTICK_MCP_BASE_URL")
	}

	if opts.clientID == "" || opts.clientSecret == "" {
		return fmt.Errorf("upstream credentials required: set TICKTICK_CLIENT_ID and TICKTICK_CLIENT_SECRET")
	}

	clients := oauth.NewClientStore(logger)
	handler, err := oauth.NewHandler(oauth.Config{
		BaseURL:            baseURL,
		UpstreamAuthURL:    ticktick.DefaultAuthURL,
		UpstreamClientID:   opts.clientID,
		Scopes:             parseCommaSeparatedList(opts.scopes),
		RateLimitPerMinute: opts.authRateLimitPerMinute,
		RateLimitBurst:     opts.authRateLimitBurst,
		TrustProxyHeaders:  opts.trustProxyHeaders,
		MaxClientsPerIP:    opts.maxClientsPerIP,
		Metrics:            metrics,
	}, kv, clients, gateway, vault, users, logger)
	if err != nil {
		return fmt.Errorf("failed to create OAuth handler: %w", err)
	}

	health := server.NewHealthChecker(sc)
	sessions := server.NewSessionTracker(server.DefaultSessionTimeout, metrics, logger)
	srv := server.NewOAuthHTTPServer(mcpSrv, handler, health, sessions, metrics, logger)

	logger.Info("starting streamable HTTP server", "addr", opts.httpAddr, "base_url", baseURL)

	serverDone := make(chan error, 1)
	go func() {
		defer close(serverDone)
		if err := srv.Start(opts.httpAddr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverDone <- err
		}
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), server.DefaultShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown failed: %w", err)
		}
		return nil
	case err := <-serverDone:
		if err != nil {
			return fmt.Errorf("server stopped with error: %w", err)
		}
		return nil
	}
}

// resolveBaseURL picks the externally visible URL: the explicit flag wins,
// and bare ":port" listen addresses auto-detect to localhost for
// development.
func resolveBaseURL(baseURL, httpAddr string) string {
	if baseURL != "" {
		return strings.TrimSuffix(baseURL, "/")
	}
	if strings.HasPrefix(httpAddr, ":") {
		return "http://localhost" + httpAddr
	}
	return ""
}

// parseCommaSeparatedList splits a comma separated flag value, trimming
// whitespace and dropping empty entries. Returns nil for an empty input.
func parseCommaSeparatedList(value string) []string {
	if value == "" {
		return nil
	}
	parts := strings.Split(value, ",")
	result := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			result = append(result, trimmed)
		}
	}
	return result
}
