package instrumentation

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"

	"github.com/teemow/ticktick-mcp/internal/db"
)

func TestToolInvocation_NewAndComplete(t *testing.T) {
	ti := NewToolInvocation("listTasks")

	if ti.Tool != "listTasks" {
		t.Errorf("Tool = %q, want %q", ti.Tool, "listTasks")
	}
	if ti.StartTime.IsZero() {
		t.Error("StartTime should not be zero")
	}

	ti.CompleteSuccess()

	if !ti.Success {
		t.Error("Success should be true")
	}
	if ti.Duration < 0 {
		t.Error("Duration should not be negative")
	}
	if ti.Error != "" {
		t.Errorf("Error should be empty, got %q", ti.Error)
	}
	if ti.Status() != StatusSuccess {
		t.Errorf("Status() = %q, want %q", ti.Status(), StatusSuccess)
	}
}

func TestToolInvocation_CompleteWithError(t *testing.T) {
	ti := NewToolInvocation("createTask").
		WithUser("user-1").
		WithOperation(OperationCreate).
		WithTarget("proj-1", "")

	ti.CompleteWithError(errors.New("upstream unavailable"))

	if ti.Success {
		t.Error("Success should be false")
	}
	if ti.Error != "upstream unavailable" {
		t.Errorf("Error = %q, want %q", ti.Error, "upstream unavailable")
	}
	if ti.Status() != StatusError {
		t.Errorf("Status() = %q, want %q", ti.Status(), StatusError)
	}
}

func TestToolInvocation_LogAttrsAnonymizesUser(t *testing.T) {
	ti := NewToolInvocation("completeTask").
		WithUser("user-1").
		WithOperation(OperationComplete).
		WithTarget("proj-1", "task-9")
	ti.CompleteSuccess()

	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))
	al := NewAuditLogger(logger)
	al.LogToolInvocation(context.Background(), ti)

	out := buf.String()
	if !strings.Contains(out, "tool_executed") {
		t.Errorf("expected tool_executed record, got %q", out)
	}
	if strings.Contains(out, "user=user-1") {
		t.Errorf("raw user id leaked into log: %q", out)
	}
	if !strings.Contains(out, "user=user:") {
		t.Errorf("expected anonymized user hash, got %q", out)
	}
	if !strings.Contains(out, "project_id=proj-1") || !strings.Contains(out, "task_id=task-9") {
		t.Errorf("expected target fields, got %q", out)
	}
}

func TestAuditLogger_FailureLogsWarning(t *testing.T) {
	ti := NewToolInvocation("deleteTask").WithUser("user-1")
	ti.CompleteWithError(errors.New("boom"))

	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))
	NewAuditLogger(logger).LogToolInvocation(context.Background(), ti)

	out := buf.String()
	if !strings.Contains(out, "tool_failed") {
		t.Errorf("expected tool_failed record, got %q", out)
	}
	if !strings.Contains(out, "error=boom") {
		t.Errorf("expected error field, got %q", out)
	}
}

func TestAuditLogger_Disabled(t *testing.T) {
	ti := NewToolInvocation("listProjects")
	ti.CompleteSuccess()

	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))
	al := NewAuditLoggerWithConfig(logger, nil, AuditLoggingConfig{Enabled: false})
	al.LogToolInvocation(context.Background(), ti)

	if buf.Len() != 0 {
		t.Errorf("disabled audit logger should not write, got %q", buf.String())
	}
}

func TestAuditLogger_PersistsEvents(t *testing.T) {
	ctx := context.Background()
	gdb, err := db.Open(":memory:")
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}
	repo := db.NewAuditRepository(gdb)

	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))
	al := NewAuditLoggerWithConfig(logger, repo, AuditLoggingConfig{Enabled: true, Persist: true})

	ti := NewToolInvocation("createTask").
		WithUser("user-1").
		WithOperation(OperationCreate).
		WithTarget("proj-1", "task-1")
	ti.CompleteSuccess()
	al.LogToolInvocation(ctx, ti)

	count, err := repo.CountForUser(ctx, "user-1")
	if err != nil {
		t.Fatalf("failed to count audit events: %v", err)
	}
	if count != 1 {
		t.Errorf("persisted events = %d, want 1", count)
	}
}

func TestAuditLogger_PersistDisabledWithoutRepo(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))
	al := NewAuditLoggerWithConfig(logger, nil, AuditLoggingConfig{Enabled: true, Persist: true})

	ti := NewToolInvocation("updateTask").WithUser("user-1")
	ti.CompleteSuccess()

	// Must not panic without a repository.
	al.LogToolInvocation(context.Background(), ti)
	if !strings.Contains(buf.String(), "tool_executed") {
		t.Errorf("expected log record, got %q", buf.String())
	}
}
