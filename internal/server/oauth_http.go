package server

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/teemow/ticktick-mcp/internal/instrumentation"
	"github.com/teemow/ticktick-mcp/internal/mcp/oauth"
)

// OAuthHTTPServer serves the MCP endpoint behind the OAuth bridge. The
// bridge endpoints (/authorize, /callback, /token, /register and the
// well-known metadata documents) live on the same listener as /mcp, which
// is what lets 401 challenges point clients at the local metadata.
type OAuthHTTPServer struct {
	mcpServer    *mcpserver.MCPServer
	oauthHandler *oauth.Handler
	health       *HealthChecker
	sessions     *SessionTracker
	metrics      *instrumentation.Metrics
	httpServer   *http.Server
	logger       *slog.Logger
}

// NewOAuthHTTPServer wires the MCP server, the OAuth bridge handler and
// the health checker onto one HTTP server. sessions, metrics and logger
// may be nil.
func NewOAuthHTTPServer(mcpServer *mcpserver.MCPServer, oauthHandler *oauth.Handler, health *HealthChecker, sessions *SessionTracker, metrics *instrumentation.Metrics, logger *slog.Logger) *OAuthHTTPServer {
	if logger == nil {
		logger = slog.Default()
	}
	return &OAuthHTTPServer{
		mcpServer:    mcpServer,
		oauthHandler: oauthHandler,
		health:       health,
		sessions:     sessions,
		metrics:      metrics,
		logger:       logger,
	}
}

// Handler builds the full route table. Exposed for tests.
func (s *OAuthHTTPServer) Handler() http.Handler {
	mux := http.NewServeMux()

	s.oauthHandler.RegisterRoutes(mux)
	if s.health != nil {
		s.health.RegisterHealthEndpoints(mux)
	}

	streamable := mcpserver.NewStreamableHTTPServer(s.mcpServer,
		mcpserver.WithEndpointPath("/mcp"),
	)

	// Order matters: the rate limiter rejects before any token lookup,
	// the bearer middleware resolves the user, the tracker observes it.
	mcpHandler := http.Handler(streamable)
	if s.sessions != nil {
		mcpHandler = s.trackSessions(mcpHandler)
	}
	mux.Handle("/mcp", s.oauthHandler.RateLimitByIP(s.oauthHandler.ValidateBearer(mcpHandler)))

	return s.instrumentationMiddleware(mux)
}

// responseWriter captures the status code for metrics.
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func newResponseWriter(w http.ResponseWriter) *responseWriter {
	return &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// instrumentationMiddleware records request metrics for every route.
func (s *OAuthHTTPServer) instrumentationMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.metrics == nil {
			next.ServeHTTP(w, r)
			return
		}

		start := time.Now()
		rw := newResponseWriter(w)
		next.ServeHTTP(rw, r)
		s.metrics.RecordHTTPRequest(r.Context(), r.Method, r.URL.Path, rw.statusCode, time.Since(start))
	})
}

// trackSessions records bearer-session activity after authentication.
func (s *OAuthHTTPServer) trackSessions(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if userID, ok := oauth.UserIDFromContext(r.Context()); ok {
			s.sessions.Touch(r, userID)
		}
		next.ServeHTTP(w, r)
	})
}

// Start starts the server. Blocks until the listener fails or the server
// is shut down.
func (s *OAuthHTTPServer) Start(addr string) error {
	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	s.logger.Info("starting OAuth-protected MCP server", "addr", addr)
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *OAuthHTTPServer) Shutdown(ctx context.Context) error {
	if s.sessions != nil {
		s.sessions.Stop()
	}
	if s.oauthHandler != nil {
		s.oauthHandler.Close()
	}
	if s.httpServer != nil {
		return s.httpServer.Shutdown(ctx)
	}
	return nil
}

// OAuthHandler returns the bridge handler, for tests and direct access.
func (s *OAuthHTTPServer) OAuthHandler() *oauth.Handler {
	return s.oauthHandler
}
