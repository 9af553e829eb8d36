package instrumentation

import (
	"context"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/teemow/ticktick-mcp/internal/db"
	"github.com/teemow/ticktick-mcp/internal/logging"
)

// ToolInvocation captures one MCP tool call for the audit trail. User
// identity is the local user id; raw TickTick tokens never appear here.
type ToolInvocation struct {
	// Tool name
	Tool string

	// UserID is the local user identifier.
	UserID string

	// Target information
	Operation string // operation type (list, get, create, update, complete, delete)
	ProjectID string
	TaskID    string

	// Execution details
	StartTime time.Time
	Duration  time.Duration
	Success   bool
	Error     string

	// Tracing context
	TraceID string
	SpanID  string
}

// Status returns "success" or "error" based on the Success field.
func (ti *ToolInvocation) Status() string {
	if ti.Success {
		return StatusSuccess
	}
	return StatusError
}

// LogAttrs returns slog attributes for structured logging. The user id is
// anonymized to keep log cardinality and identifiers under control.
func (ti *ToolInvocation) LogAttrs() []slog.Attr {
	attrs := []slog.Attr{
		slog.String("tool", ti.Tool),
		slog.String("user", logging.AnonymizeSubject(ti.UserID)),
		slog.Duration("duration", ti.Duration),
		slog.Bool("success", ti.Success),
	}

	if ti.Operation != "" {
		attrs = append(attrs, slog.String("operation", ti.Operation))
	}
	if ti.ProjectID != "" {
		attrs = append(attrs, slog.String("project_id", ti.ProjectID))
	}
	if ti.TaskID != "" {
		attrs = append(attrs, slog.String("task_id", ti.TaskID))
	}
	if ti.TraceID != "" {
		attrs = append(attrs, slog.String("trace_id", ti.TraceID))
	}
	if ti.SpanID != "" {
		attrs = append(attrs, slog.String("span_id", ti.SpanID))
	}
	if ti.Error != "" {
		attrs = append(attrs, slog.String("error", ti.Error))
	}

	return attrs
}

// NewToolInvocation creates a ToolInvocation with timing started.
// Call Complete when the tool operation finishes.
func NewToolInvocation(tool string) *ToolInvocation {
	return &ToolInvocation{
		Tool:      tool,
		StartTime: time.Now(),
	}
}

// WithUser sets the local user id.
func (ti *ToolInvocation) WithUser(userID string) *ToolInvocation {
	ti.UserID = userID
	return ti
}

// WithOperation sets the operation type.
func (ti *ToolInvocation) WithOperation(operation string) *ToolInvocation {
	ti.Operation = operation
	return ti
}

// WithTarget sets the project and task the tool operated on.
func (ti *ToolInvocation) WithTarget(projectID, taskID string) *ToolInvocation {
	ti.ProjectID = projectID
	ti.TaskID = taskID
	return ti
}

// WithSpanContext extracts trace context from the current span.
func (ti *ToolInvocation) WithSpanContext(ctx context.Context) *ToolInvocation {
	span := trace.SpanFromContext(ctx)
	if span.SpanContext().IsValid() {
		ti.TraceID = span.SpanContext().TraceID().String()
		ti.SpanID = span.SpanContext().SpanID().String()
	}
	return ti
}

// Complete marks the invocation as finished and calculates duration.
func (ti *ToolInvocation) Complete(success bool, err error) *ToolInvocation {
	ti.Duration = time.Since(ti.StartTime)
	ti.Success = success
	if err != nil {
		ti.Error = err.Error()
	}
	return ti
}

// CompleteWithError marks the invocation as failed with the given error.
func (ti *ToolInvocation) CompleteWithError(err error) *ToolInvocation {
	return ti.Complete(false, err)
}

// CompleteSuccess marks the invocation as successful.
func (ti *ToolInvocation) CompleteSuccess() *ToolInvocation {
	return ti.Complete(true, nil)
}

// AuditLogger records tool invocations to the structured log stream and,
// when configured with a repository, persists them for retention.
type AuditLogger struct {
	logger  *slog.Logger
	repo    *db.AuditRepository
	enabled bool
	persist bool
}

// NewAuditLogger creates an AuditLogger that only logs.
func NewAuditLogger(logger *slog.Logger) *AuditLogger {
	if logger == nil {
		logger = slog.Default()
	}
	return &AuditLogger{
		logger:  logger,
		enabled: true,
	}
}

// NewAuditLoggerWithConfig creates an AuditLogger with persistence wired
// in. repo may be nil, which disables persistence regardless of config.
func NewAuditLoggerWithConfig(logger *slog.Logger, repo *db.AuditRepository, config AuditLoggingConfig) *AuditLogger {
	if logger == nil {
		logger = slog.Default()
	}
	return &AuditLogger{
		logger:  logger,
		repo:    repo,
		enabled: config.Enabled,
		persist: config.Persist && repo != nil,
	}
}

// LogToolInvocation records one completed tool invocation. The database
// write is best-effort; a failed insert is logged and the invocation
// result is unaffected.
func (al *AuditLogger) LogToolInvocation(ctx context.Context, ti *ToolInvocation) {
	if !al.enabled {
		return
	}

	attrs := ti.LogAttrs()
	args := make([]any, len(attrs))
	for i, attr := range attrs {
		args[i] = attr
	}

	if ti.Success {
		al.logger.Info("tool_executed", args...)
	} else {
		al.logger.Warn("tool_failed", args...)
	}

	if !al.persist {
		return
	}
	detail := ti.Operation
	if ti.ProjectID != "" {
		detail += " project=" + ti.ProjectID
	}
	if ti.TaskID != "" {
		detail += " task=" + ti.TaskID
	}
	if err := al.repo.Insert(ctx, &db.AuditEvent{
		UserID:    ti.UserID,
		EventType: ti.Tool,
		Status:    ti.Status(),
		Detail:    detail,
	}); err != nil {
		al.logger.Warn("failed to persist audit event", logging.Err(err))
	}
}
