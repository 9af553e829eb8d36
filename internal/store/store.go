// Package store provides the key/value credential store used for persisted
// token sets, pending authorizations, refresh locks and idempotency markers.
// All values expire via TTL; callers never sweep keys themselves.
package store

import (
	"context"
	"time"
)

// Store is the credential store contract. A nil value with a nil error
// means the key is absent (or expired).
type Store interface {
	// Get returns the value for key, or (nil, nil) on a miss.
	Get(ctx context.Context, key string) ([]byte, error)

	// Set writes value under key. A zero ttl means no expiry.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// Delete removes key. Deleting an absent key is not an error.
	Delete(ctx context.Context, key string) error

	// SetNX writes value under key only if the key is absent. It returns
	// true when the write happened. Used for advisory locks and
	// idempotency markers.
	SetNX(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error)

	// GetDel atomically reads and deletes key, returning (nil, nil) on a
	// miss. Used for single-use consumption of pending authorizations.
	GetDel(ctx context.Context, key string) ([]byte, error)
}

// Key namespaces. Every key in the store belongs to exactly one of these.
const (
	// TokenKeyPrefix holds encrypted persisted token sets, one per user.
	TokenKeyPrefix = "ticktick_tokens:"

	// RefreshLockKeyPrefix holds short-lived refresh locks, one per user.
	RefreshLockKeyPrefix = "ticktick_refresh_lock:"

	// PendingAuthKeyPrefix holds pending authorizations keyed by state.
	PendingAuthKeyPrefix = "ticktick_pending_auth:"

	// IdempotencyKeyPrefix holds idempotency markers.
	IdempotencyKeyPrefix = "idempotency:"
)

// TokenKey returns the store key for a user's persisted token set.
func TokenKey(userID string) string { return TokenKeyPrefix + userID }

// RefreshLockKey returns the store key for a user's refresh lock.
func RefreshLockKey(userID string) string { return RefreshLockKeyPrefix + userID }

// PendingAuthKey returns the store key for a pending authorization.
func PendingAuthKey(state string) string { return PendingAuthKeyPrefix + state }
