package server

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/teemow/ticktick-mcp/internal/instrumentation"
)

// sessionInfo tracks session metadata for cleanup.
type sessionInfo struct {
	userID     string
	lastAccess time.Time
}

// SessionTracker derives a stable session id from each bearer token seen
// on the MCP endpoint and tracks which local user it belongs to. It feeds
// the active-sessions gauge and expires idle sessions in the background.
type SessionTracker struct {
	sessions       map[string]*sessionInfo
	mu             sync.Mutex
	cleanupTicker  *time.Ticker
	cleanupDone    chan struct{}
	sessionTimeout time.Duration
	metrics        *instrumentation.Metrics
	logger         *slog.Logger
}

// DefaultSessionTimeout is how long an idle session is kept before expiry.
const DefaultSessionTimeout = 24 * time.Hour

// NewSessionTracker creates a session tracker. metrics may be nil.
func NewSessionTracker(timeout time.Duration, metrics *instrumentation.Metrics, logger *slog.Logger) *SessionTracker {
	if timeout <= 0 {
		timeout = DefaultSessionTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}

	t := &SessionTracker{
		sessions:       make(map[string]*sessionInfo),
		cleanupTicker:  time.NewTicker(10 * time.Minute),
		cleanupDone:    make(chan struct{}),
		sessionTimeout: timeout,
		metrics:        metrics,
		logger:         logger,
	}
	go t.cleanupExpiredSessions()
	return t
}

// Touch records activity for the session identified by the request's
// Authorization header, creating it on first sight. userID is the local
// user the bearer token resolved to.
func (t *SessionTracker) Touch(r *http.Request, userID string) {
	authHeader := r.Header.Get("Authorization")
	if authHeader == "" {
		return
	}
	sessionID := sessionIDFromToken(authHeader)

	t.mu.Lock()
	info, ok := t.sessions[sessionID]
	if ok {
		info.lastAccess = time.Now()
		t.mu.Unlock()
		return
	}
	t.sessions[sessionID] = &sessionInfo{userID: userID, lastAccess: time.Now()}
	t.mu.Unlock()

	if t.metrics != nil {
		t.metrics.IncrementActiveSessions(r.Context())
	}
}

// ActiveSessions returns the number of tracked sessions.
func (t *SessionTracker) ActiveSessions() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.sessions)
}

// sessionIDFromToken creates a stable session id from the auth token.
func sessionIDFromToken(token string) string {
	hash := sha256.Sum256([]byte(token))
	return hex.EncodeToString(hash[:])
}

// cleanupExpiredSessions periodically removes idle sessions.
func (t *SessionTracker) cleanupExpiredSessions() {
	for {
		select {
		case <-t.cleanupTicker.C:
			t.mu.Lock()
			now := time.Now()
			expired := 0
			for sessionID, info := range t.sessions {
				if now.Sub(info.lastAccess) > t.sessionTimeout {
					delete(t.sessions, sessionID)
					expired++
				}
			}
			t.mu.Unlock()

			if expired > 0 {
				if t.metrics != nil {
					for i := 0; i < expired; i++ {
						t.metrics.DecrementActiveSessions(context.Background())
					}
				}
				t.logger.Info("cleaned up expired sessions", "count", expired)
			}
		case <-t.cleanupDone:
			return
		}
	}
}

// Stop stops the background cleanup.
func (t *SessionTracker) Stop() {
	if t.cleanupTicker != nil {
		t.cleanupTicker.Stop()
	}
	if t.cleanupDone != nil {
		close(t.cleanupDone)
	}
}
