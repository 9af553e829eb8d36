// Package instrumentation provides OpenTelemetry instrumentation for the
// ticktick-mcp server.
//
// # Metrics
//
// Server/HTTP:
//   - http_requests_total: Counter of HTTP requests by method, path, and status
//   - http_request_duration_seconds: Histogram of HTTP request durations
//   - active_sessions: Gauge of active MCP sessions
//
// TickTick API:
//   - ticktick_api_operations_total: Counter of upstream operations by operation, status
//   - ticktick_api_operation_duration_seconds: Histogram of upstream operation durations
//
// OAuth:
//   - oauth_auth_total: Counter of authorization flow outcomes by result
//   - oauth_token_refresh_total: Counter of upstream token refresh attempts by result
//
// MCP tools:
//   - mcp_tool_invocations_total: Counter of tool invocations by tool name and status
//   - mcp_tool_duration_seconds: Histogram of tool execution durations
//
// Abuse controls:
//   - rate_limit_rejections_total: Counter of rejected requests by scope (ip, user)
//   - idempotency_conflicts_total: Counter of replayed mutation keys by operation
//
// # Tracing
//
// Spans are created for MCP tool invocations (tool.<name>) and TickTick
// API calls (ticktick.<operation>).
//
// # Configuration
//
// Instrumentation is configured via environment variables:
//   - INSTRUMENTATION_ENABLED: Enable/disable instrumentation (default: true)
//   - METRICS_EXPORTER: Metrics exporter type (prometheus, otlp, stdout, default: prometheus)
//   - TRACING_EXPORTER: Tracing exporter type (otlp, stdout, none, default: none)
//   - OTEL_EXPORTER_OTLP_ENDPOINT: OTLP endpoint for traces/metrics
//   - OTEL_TRACES_SAMPLER_ARG: Sampling rate (0.0 to 1.0, default: 0.1)
//   - OTEL_SERVICE_NAME: Service name (default: ticktick-mcp)
//   - AUDIT_LOGGING_ENABLED: Enable the audit trail (default: true)
//   - AUDIT_LOGGING_PERSIST: Persist audit events to the database (default: true)
//   - AUDIT_RETENTION_DAYS: Days to keep persisted audit events (default: 90)
package instrumentation
