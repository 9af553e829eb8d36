package instrumentation

import (
	"context"
	"testing"
	"time"
)

func newTestProvider(t *testing.T, ctx context.Context) *Provider {
	t.Helper()
	provider, err := NewProvider(ctx, Config{
		ServiceName:     "test-service",
		ServiceVersion:  "1.0.0",
		Enabled:         true,
		MetricsExporter: ExporterPrometheus,
		TracingExporter: ExporterNone,
	})
	if err != nil {
		t.Fatalf("failed to create provider: %v", err)
	}
	t.Cleanup(func() { _ = provider.Shutdown(ctx) })
	return provider
}

func TestMetrics_RecordHTTPRequest(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	metrics := newTestProvider(t, ctx).Metrics()
	if metrics == nil {
		t.Fatal("expected metrics to be non-nil")
	}

	// Should not panic
	metrics.RecordHTTPRequest(ctx, "GET", "/mcp", 200, 100*time.Millisecond)
	metrics.RecordHTTPRequest(ctx, "POST", "/mcp", 500, 50*time.Millisecond)
}

func TestMetrics_RecordAPIOperation(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	metrics := newTestProvider(t, ctx).Metrics()

	metrics.RecordAPIOperation(ctx, OperationList, StatusSuccess, 80*time.Millisecond)
	metrics.RecordAPIOperation(ctx, OperationCreate, StatusError, 120*time.Millisecond)
	metrics.RecordAPIOperation(ctx, OperationComplete, StatusSuccess, 60*time.Millisecond)
}

func TestMetrics_RecordOAuthEvents(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	metrics := newTestProvider(t, ctx).Metrics()

	metrics.RecordOAuthAuth(ctx, OAuthResultSuccess)
	metrics.RecordOAuthAuth(ctx, OAuthResultFailure)
	metrics.RecordOAuthTokenRefresh(ctx, OAuthResultSuccess)
	metrics.RecordOAuthTokenRefresh(ctx, OAuthResultExpired)
}

func TestMetrics_RecordToolInvocation(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	metrics := newTestProvider(t, ctx).Metrics()

	metrics.RecordToolInvocation(ctx, "listTasks", StatusSuccess, 200*time.Millisecond)
	metrics.RecordToolInvocation(ctx, "createTask", StatusError, 30*time.Millisecond)
	metrics.RecordToolInvocationForUser(ctx, "completeTask", StatusSuccess, "user:abcd1234", 40*time.Millisecond)
}

func TestMetrics_RecordAbuseControls(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	metrics := newTestProvider(t, ctx).Metrics()

	metrics.RecordRateLimitRejection(ctx, RateLimitScopeIP)
	metrics.RecordRateLimitRejection(ctx, RateLimitScopeUser)
	metrics.RecordIdempotencyConflict(ctx, OperationCreate)
}

func TestMetrics_ActiveSessions(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	metrics := newTestProvider(t, ctx).Metrics()

	metrics.IncrementActiveSessions(ctx)
	metrics.IncrementActiveSessions(ctx)
	metrics.DecrementActiveSessions(ctx)
}

func TestMetrics_NoopWhenUninitialized(t *testing.T) {
	ctx := context.Background()
	metrics := &Metrics{}

	// Every recorder must tolerate an uninitialized state.
	metrics.RecordHTTPRequest(ctx, "GET", "/mcp", 200, time.Millisecond)
	metrics.RecordAPIOperation(ctx, OperationGet, StatusSuccess, time.Millisecond)
	metrics.RecordOAuthAuth(ctx, OAuthResultSuccess)
	metrics.RecordOAuthTokenRefresh(ctx, OAuthResultSuccess)
	metrics.RecordToolInvocation(ctx, "listProjects", StatusSuccess, time.Millisecond)
	metrics.RecordToolInvocationForUser(ctx, "getTask", StatusSuccess, "user:abcd1234", time.Millisecond)
	metrics.RecordRateLimitRejection(ctx, RateLimitScopeIP)
	metrics.RecordIdempotencyConflict(ctx, OperationDelete)
	metrics.IncrementActiveSessions(ctx)
	metrics.DecrementActiveSessions(ctx)
}
