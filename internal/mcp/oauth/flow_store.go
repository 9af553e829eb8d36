package oauth

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/teemow/ticktick-mcp/internal/store"
)

// FlowStore persists the bridge's short-lived flow state (pending
// authorizations, local authorization codes, local tokens) in the
// credential store. Everything carries a TTL; the store expires leftovers
// without a sweep.
type FlowStore struct {
	kv  store.Store
	now func() time.Time
}

// NewFlowStore creates a FlowStore over kv.
func NewFlowStore(kv store.Store) *FlowStore {
	return &FlowStore{kv: kv, now: time.Now}
}

// SavePending stores a pending authorization under its state.
func (s *FlowStore) SavePending(ctx context.Context, pending *PendingAuthorization) error {
	raw, err := json.Marshal(pending)
	if err != nil {
		return fmt.Errorf("failed to encode pending authorization: %w", err)
	}
	if err := s.kv.Set(ctx, store.PendingAuthKey(pending.State), raw, PendingAuthTTL); err != nil {
		return fmt.Errorf("failed to persist pending authorization: %w", err)
	}
	return nil
}

// ConsumePending atomically removes and returns the pending authorization
// for state. The read-and-delete is one step, so a replayed callback can
// never consume the same state twice. Returns nil when absent or expired.
func (s *FlowStore) ConsumePending(ctx context.Context, state string) (*PendingAuthorization, error) {
	raw, err := s.kv.GetDel(ctx, store.PendingAuthKey(state))
	if err != nil {
		return nil, fmt.Errorf("failed to consume pending authorization: %w", err)
	}
	if raw == nil {
		return nil, nil
	}
	var pending PendingAuthorization
	if err := json.Unmarshal(raw, &pending); err != nil {
		return nil, fmt.Errorf("failed to decode pending authorization: %w", err)
	}
	if pending.ExpiresAt > 0 && s.now().Unix() > pending.ExpiresAt {
		return nil, nil
	}
	return &pending, nil
}

// SaveAuthorizationCode stores a locally issued code.
func (s *FlowStore) SaveAuthorizationCode(ctx context.Context, code *AuthorizationCode) error {
	raw, err := json.Marshal(code)
	if err != nil {
		return fmt.Errorf("failed to encode authorization code: %w", err)
	}
	if err := s.kv.Set(ctx, authCodeKeyPrefix+code.Code, raw, AuthCodeTTL); err != nil {
		return fmt.Errorf("failed to persist authorization code: %w", err)
	}
	return nil
}

// ConsumeAuthorizationCode atomically removes and returns a code, or nil
// when absent. Single-use prevents code replay.
func (s *FlowStore) ConsumeAuthorizationCode(ctx context.Context, code string) (*AuthorizationCode, error) {
	raw, err := s.kv.GetDel(ctx, authCodeKeyPrefix+code)
	if err != nil {
		return nil, fmt.Errorf("failed to consume authorization code: %w", err)
	}
	if raw == nil {
		return nil, nil
	}
	var ac AuthorizationCode
	if err := json.Unmarshal(raw, &ac); err != nil {
		return nil, fmt.Errorf("failed to decode authorization code: %w", err)
	}
	if ac.ExpiresAt > 0 && s.now().Unix() > ac.ExpiresAt {
		return nil, nil
	}
	return &ac, nil
}

// SaveAccessToken stores a locally issued access token.
func (s *FlowStore) SaveAccessToken(ctx context.Context, token *LocalToken) error {
	return s.saveToken(ctx, accessTokenKeyPrefix, token, AccessTokenTTL)
}

// SaveRefreshToken stores a locally issued refresh token.
func (s *FlowStore) SaveRefreshToken(ctx context.Context, token *LocalToken) error {
	return s.saveToken(ctx, refreshTokenKeyPrefix, token, RefreshTokenTTL)
}

func (s *FlowStore) saveToken(ctx context.Context, prefix string, token *LocalToken, ttl time.Duration) error {
	raw, err := json.Marshal(token)
	if err != nil {
		return fmt.Errorf("failed to encode token: %w", err)
	}
	if err := s.kv.Set(ctx, prefix+token.Token, raw, ttl); err != nil {
		return fmt.Errorf("failed to persist token: %w", err)
	}
	return nil
}

// GetAccessToken returns a valid access token record, or nil.
func (s *FlowStore) GetAccessToken(ctx context.Context, token string) (*LocalToken, error) {
	return s.getToken(ctx, accessTokenKeyPrefix+token)
}

// ConsumeRefreshToken atomically removes and returns a refresh token
// record, or nil. Refresh tokens rotate: each use invalidates the old one.
func (s *FlowStore) ConsumeRefreshToken(ctx context.Context, token string) (*LocalToken, error) {
	raw, err := s.kv.GetDel(ctx, refreshTokenKeyPrefix+token)
	if err != nil {
		return nil, fmt.Errorf("failed to consume refresh token: %w", err)
	}
	return s.decodeToken(raw)
}

// RevokeAccessToken deletes a locally issued access token.
func (s *FlowStore) RevokeAccessToken(ctx context.Context, token string) error {
	return s.kv.Delete(ctx, accessTokenKeyPrefix+token)
}

func (s *FlowStore) getToken(ctx context.Context, key string) (*LocalToken, error) {
	raw, err := s.kv.Get(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("failed to read token: %w", err)
	}
	return s.decodeToken(raw)
}

func (s *FlowStore) decodeToken(raw []byte) (*LocalToken, error) {
	if raw == nil {
		return nil, nil
	}
	var token LocalToken
	if err := json.Unmarshal(raw, &token); err != nil {
		return nil, fmt.Errorf("failed to decode token: %w", err)
	}
	if token.ExpiresAt > 0 && s.now().Unix() > token.ExpiresAt {
		return nil, nil
	}
	return &token, nil
}
