package ticktick

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/teemow/ticktick-mcp/internal/store"
)

// Persisted token sets live under store.TokenKey(userID) for this long.
// Matches the upstream refresh token's practical lifetime.
const tokenTTL = 30 * 24 * time.Hour

// TokenCipher encrypts persisted token sets at rest with AES-256-GCM.
// With a nil key it degrades to passthrough, which is acceptable for
// local stdio runs against an in-memory store.
type TokenCipher struct {
	aead cipher.AEAD
}

// NewTokenCipher builds a cipher from a 32-byte key, or a passthrough
// cipher when key is empty.
func NewTokenCipher(key []byte) (*TokenCipher, error) {
	if len(key) == 0 {
		return &TokenCipher{}, nil
	}
	if len(key) != 32 {
		return nil, fmt.Errorf("encryption key must be exactly 32 bytes, got %d", len(key))
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}
	return &TokenCipher{aead: aead}, nil
}

// NewTokenCipherFromBase64 decodes a base64 key, typically sourced from an
// environment variable. An empty string disables encryption.
func NewTokenCipherFromBase64(encoded string) (*TokenCipher, error) {
	if encoded == "" {
		return NewTokenCipher(nil)
	}
	key, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("invalid base64 encryption key: %w", err)
	}
	return NewTokenCipher(key)
}

// Seal encrypts plaintext as nonce||ciphertext. The nonce is random per
// call and must never repeat under one key.
func (c *TokenCipher) Seal(plaintext []byte) ([]byte, error) {
	if c.aead == nil {
		return plaintext, nil
	}
	nonce := make([]byte, c.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}
	return c.aead.Seal(nonce, nonce, plaintext, nil), nil
}

// Open reverses Seal, verifying the authentication tag.
func (c *TokenCipher) Open(sealed []byte) ([]byte, error) {
	if c.aead == nil {
		return sealed, nil
	}
	if len(sealed) < c.aead.NonceSize() {
		return nil, fmt.Errorf("ciphertext too short")
	}
	nonce, ciphertext := sealed[:c.aead.NonceSize()], sealed[c.aead.NonceSize():]
	plaintext, err := c.aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt token set: %w", err)
	}
	return plaintext, nil
}

// GenerateEncryptionKey returns a fresh 32-byte key. Generate once and
// keep it stable; a new key on every start orphans all stored tokens.
func GenerateEncryptionKey() ([]byte, error) {
	key := make([]byte, 32)
	if _, err := io.ReadFull(rand.Reader, key); err != nil {
		return nil, fmt.Errorf("failed to generate encryption key: %w", err)
	}
	return key, nil
}

// TokenVault persists per-user token sets in the credential store,
// encrypting them at rest. It is the only cross-instance channel for
// token state.
type TokenVault struct {
	store  store.Store
	cipher *TokenCipher
	now    func() time.Time
}

// NewTokenVault creates a vault over store using cipher.
func NewTokenVault(kv store.Store, cipher *TokenCipher) *TokenVault {
	return &TokenVault{store: kv, cipher: cipher, now: time.Now}
}

// Load reads a user's persisted token set, or nil when none is stored.
func (v *TokenVault) Load(ctx context.Context, userID string) (*PersistedTokenSet, error) {
	sealed, err := v.store.Get(ctx, store.TokenKey(userID))
	if err != nil {
		return nil, fmt.Errorf("failed to read token set: %w", err)
	}
	if sealed == nil {
		return nil, nil
	}
	raw, err := v.cipher.Open(sealed)
	if err != nil {
		return nil, err
	}
	var persisted PersistedTokenSet
	if err := json.Unmarshal(raw, &persisted); err != nil {
		return nil, fmt.Errorf("failed to decode token set: %w", err)
	}
	return &persisted, nil
}

// Save writes ts for userID, replacing access and rotated refresh token in
// one write.
func (v *TokenVault) Save(ctx context.Context, userID string, ts *TokenSet) error {
	persisted := PersistedTokenSet{
		AccessToken:  ts.AccessToken,
		RefreshToken: ts.RefreshToken,
		ExpiresAt:    ts.ExpiresAt,
		Scope:        ts.Scope,
		UpdatedAt:    v.now(),
	}
	raw, err := json.Marshal(&persisted)
	if err != nil {
		return fmt.Errorf("failed to encode token set: %w", err)
	}
	sealed, err := v.cipher.Seal(raw)
	if err != nil {
		return err
	}
	if err := v.store.Set(ctx, store.TokenKey(userID), sealed, tokenTTL); err != nil {
		return fmt.Errorf("failed to persist token set: %w", err)
	}
	return nil
}

// Delete removes a user's token set, e.g. on revocation.
func (v *TokenVault) Delete(ctx context.Context, userID string) error {
	return v.store.Delete(ctx, store.TokenKey(userID))
}

// DeriveSubject derives the stable local identity for an upstream account.
// The upstream API has no identity endpoint, so the subject is a one-way
// hash of the access token with a domain separator. The derivation must
// never change once deployed or existing users fragment into duplicates.
func DeriveSubject(accessToken string) string {
	sum := sha256.Sum256([]byte("ticktick:" + accessToken))
	return "tt_" + base64.RawURLEncoding.EncodeToString(sum[:])[:32]
}
