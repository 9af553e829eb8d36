package server

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/teemow/ticktick-mcp/internal/db"
	"github.com/teemow/ticktick-mcp/internal/store"
)

// readinessTimeout bounds the dependency checks of one /readyz request.
const readinessTimeout = 2 * time.Second

const (
	healthStatusOK           = "ok"
	healthStatusShuttingDown = "shutting down"
	healthStatusUnavailable  = "unavailable"
)

// HealthChecker serves the liveness and readiness endpoints. Liveness is
// process-level only; readiness additionally checks the dependencies a
// request would touch: the credential store and the user database.
type HealthChecker struct {
	serverContext *ServerContext
	startTime     time.Time
}

// NewHealthChecker creates a HealthChecker backed by sc.
func NewHealthChecker(sc *ServerContext) *HealthChecker {
	return &HealthChecker{
		serverContext: sc,
		startTime:     time.Now(),
	}
}

type healthResponse struct {
	Status string            `json:"status"`
	Uptime string            `json:"uptime,omitempty"`
	Checks map[string]string `json:"checks,omitempty"`
}

// RegisterHealthEndpoints registers /healthz and /readyz on mux.
func (h *HealthChecker) RegisterHealthEndpoints(mux *http.ServeMux) {
	mux.HandleFunc("/healthz", h.handleLiveness)
	mux.HandleFunc("/readyz", h.handleReadiness)
}

// handleLiveness reports that the process is up. Dependency state stays
// out of the liveness answer.
func (h *HealthChecker) handleLiveness(w http.ResponseWriter, _ *http.Request) {
	writeHealth(w, http.StatusOK, healthResponse{
		Status: healthStatusOK,
		Uptime: time.Since(h.startTime).Truncate(time.Second).String(),
	})
}

// handleReadiness checks the shutdown state, then round-trips the
// credential store and pings the user database. Dependencies absent from
// the deployment are skipped.
func (h *HealthChecker) handleReadiness(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), readinessTimeout)
	defer cancel()

	checks := make(map[string]string)
	ready := true

	if h.serverContext != nil && h.serverContext.IsShutdown() {
		checks["server"] = healthStatusShuttingDown
		ready = false
	} else {
		checks["server"] = healthStatusOK
	}

	if kv := h.store(); kv != nil {
		if err := checkStore(ctx, kv); err != nil {
			checks["credential_store"] = healthStatusUnavailable
			ready = false
		} else {
			checks["credential_store"] = healthStatusOK
		}
	}

	if users := h.users(); users != nil {
		if err := users.Ping(ctx); err != nil {
			checks["database"] = healthStatusUnavailable
			ready = false
		} else {
			checks["database"] = healthStatusOK
		}
	}

	resp := healthResponse{Status: healthStatusOK, Checks: checks}
	code := http.StatusOK
	if !ready {
		resp.Status = healthStatusUnavailable
		code = http.StatusServiceUnavailable
	}
	writeHealth(w, code, resp)
}

func (h *HealthChecker) store() store.Store {
	if h.serverContext == nil {
		return nil
	}
	return h.serverContext.Store()
}

func (h *HealthChecker) users() *db.UserRepository {
	if h.serverContext == nil {
		return nil
	}
	return h.serverContext.Users()
}

// checkStore performs one read round trip. A missing key is a healthy
// answer; only transport or backend errors count as failures.
func checkStore(ctx context.Context, kv store.Store) error {
	_, err := kv.Get(ctx, "health:ready")
	return err
}

func writeHealth(w http.ResponseWriter, code int, resp healthResponse) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(resp)
}
