package security

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teemow/ticktick-mcp/internal/apperr"
	"github.com/teemow/ticktick-mcp/internal/store"
)

func newGuard(t *testing.T) *IdempotencyGuard {
	t.Helper()
	kv := store.NewMemoryStore()
	t.Cleanup(func() { kv.Close() })
	return NewIdempotencyGuard(kv)
}

func TestAdmit_FirstWinsSecondRejected(t *testing.T) {
	guard := newGuard(t)
	ctx := context.Background()

	require.NoError(t, guard.Admit(ctx, "u1", "create_task", "req-1"))

	err := guard.Admit(ctx, "u1", "create_task", "req-1")
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.CodeDuplicateIdempotencyKey))
}

func TestAdmit_CompositeKeyIsolation(t *testing.T) {
	guard := newGuard(t)
	ctx := context.Background()

	require.NoError(t, guard.Admit(ctx, "u1", "create_task", "req-1"))

	// Same key, different user or operation, is a distinct identity.
	assert.NoError(t, guard.Admit(ctx, "u2", "create_task", "req-1"))
	assert.NoError(t, guard.Admit(ctx, "u1", "update_task", "req-1"))
}

func TestAdmit_KeyValidation(t *testing.T) {
	guard := newGuard(t)
	ctx := context.Background()

	tests := []struct {
		name string
		key  string
		ok   bool
	}{
		{"empty", "", false},
		{"whitespace only", "   ", false},
		{"valid simple", "abc-123", true},
		{"valid with separators", "client:retry_7", true},
		{"trimmed input accepted", "  padded-key  ", true},
		{"illegal characters", "no spaces!", false},
		{"too long", strings.Repeat("k", 129), false},
		{"max length", strings.Repeat("k", 128), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := guard.Admit(ctx, "u-validate", tt.name, tt.key)
			if tt.ok {
				assert.NoError(t, err)
			} else {
				require.Error(t, err)
				assert.True(t, apperr.Is(err, apperr.CodeValidation), "got %v", err)
			}
		})
	}
}

func TestAdmit_TrimmedKeysCollide(t *testing.T) {
	guard := newGuard(t)
	ctx := context.Background()

	require.NoError(t, guard.Admit(ctx, "u1", "delete_task", " req-9 "))
	err := guard.Admit(ctx, "u1", "delete_task", "req-9")
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.CodeDuplicateIdempotencyKey))
}
