// Package security holds cross-cutting request admission checks, currently
// the idempotency guard for mutating tool calls.
package security

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/teemow/ticktick-mcp/internal/apperr"
	"github.com/teemow/ticktick-mcp/internal/store"
)

// Markers outlive the longest plausible client retry window.
const idempotencyTTL = 10 * time.Minute

// keyPattern constrains client-supplied idempotency keys.
var keyPattern = regexp.MustCompile(`^[A-Za-z0-9:_-]{1,128}$`)

// IdempotencyGuard enforces at-most-once admission of mutating operations
// via exclusive marker inserts in the credential store. The upstream API
// has no native idempotency keys, so admission here is the only defense
// against a retrying client double-applying a mutation.
type IdempotencyGuard struct {
	store store.Store
}

// NewIdempotencyGuard creates a guard over kv.
func NewIdempotencyGuard(kv store.Store) *IdempotencyGuard {
	return &IdempotencyGuard{store: kv}
}

// Admit validates key and attempts the exclusive insert for
// (userID, operation, key). It must be called strictly before the
// mutating upstream request. A duplicate fails with
// DuplicateIdempotencyKey and the caller must not run the mutation.
func (g *IdempotencyGuard) Admit(ctx context.Context, userID, operation, key string) error {
	trimmed := strings.TrimSpace(key)
	if trimmed == "" {
		return apperr.Validation("idempotencyKey is required for mutating operations", nil)
	}
	if !keyPattern.MatchString(trimmed) {
		return apperr.Validation(
			"idempotencyKey must match [A-Za-z0-9:_-] and be at most 128 characters",
			map[string]any{"idempotencyKey": trimmed})
	}

	marker := fmt.Sprintf("%s%s:%s:%s", store.IdempotencyKeyPrefix, userID, operation, trimmed)
	inserted, err := g.store.SetNX(ctx, marker, []byte("1"), idempotencyTTL)
	if err != nil {
		return apperr.Internal(fmt.Errorf("failed to write idempotency marker: %w", err))
	}
	if !inserted {
		return apperr.DuplicateIdempotencyKey(operation, trimmed)
	}
	return nil
}
