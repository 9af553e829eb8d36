package ticktick

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/teemow/ticktick-mcp/internal/store"
)

func TestTokenVault_RoundTripEncrypted(t *testing.T) {
	kv := store.NewMemoryStore()
	defer kv.Close()

	key, err := GenerateEncryptionKey()
	if err != nil {
		t.Fatalf("GenerateEncryptionKey() error = %v", err)
	}
	cipher, err := NewTokenCipher(key)
	if err != nil {
		t.Fatalf("NewTokenCipher() error = %v", err)
	}
	vault := NewTokenVault(kv, cipher)
	ctx := context.Background()

	ts := &TokenSet{
		AccessToken:  "at-secret",
		RefreshToken: "rt-secret",
		ExpiresAt:    time.Now().Add(time.Hour).Truncate(time.Second),
		Scope:        "tasks:read tasks:write",
	}
	if err := vault.Save(ctx, "user-1", ts); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	// Stored bytes must not contain the plaintext token.
	raw, err := kv.Get(ctx, store.TokenKey("user-1"))
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if strings.Contains(string(raw), "at-secret") {
		t.Error("token stored in plaintext despite encryption")
	}

	loaded, err := vault.Load(ctx, "user-1")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if loaded.AccessToken != ts.AccessToken || loaded.RefreshToken != ts.RefreshToken {
		t.Errorf("loaded = %+v, want original token set", loaded)
	}
	if !loaded.ExpiresAt.Equal(ts.ExpiresAt) {
		t.Errorf("ExpiresAt = %v, want %v", loaded.ExpiresAt, ts.ExpiresAt)
	}
	if loaded.UpdatedAt.IsZero() {
		t.Error("UpdatedAt should be stamped on save")
	}
}

func TestTokenVault_MissingIsNil(t *testing.T) {
	kv := store.NewMemoryStore()
	defer kv.Close()
	cipher, _ := NewTokenCipher(nil)
	vault := NewTokenVault(kv, cipher)

	loaded, err := vault.Load(context.Background(), "nobody")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if loaded != nil {
		t.Errorf("Load() = %+v, want nil for absent user", loaded)
	}
}

func TestTokenCipher_RejectsBadKeySize(t *testing.T) {
	if _, err := NewTokenCipher([]byte("short")); err == nil {
		t.Error("NewTokenCipher() should reject keys that are not 32 bytes")
	}
}

func TestTokenCipher_OpenRejectsTampering(t *testing.T) {
	key, _ := GenerateEncryptionKey()
	cipher, _ := NewTokenCipher(key)

	sealed, err := cipher.Seal([]byte("payload"))
	if err != nil {
		t.Fatalf("Seal() error = %v", err)
	}
	sealed[len(sealed)-1] ^= 0xff
	if _, err := cipher.Open(sealed); err == nil {
		t.Error("Open() should fail on a tampered ciphertext")
	}
}

func TestDeriveSubject(t *testing.T) {
	s1 := DeriveSubject("token-a")
	s2 := DeriveSubject("token-a")
	s3 := DeriveSubject("token-b")

	if s1 != s2 {
		t.Error("DeriveSubject() should be deterministic")
	}
	if s1 == s3 {
		t.Error("distinct tokens should derive distinct subjects")
	}
	if !strings.HasPrefix(s1, "tt_") {
		t.Errorf("subject = %s, want tt_ prefix", s1)
	}
	if len(s1) != 35 {
		t.Errorf("subject length = %d, want 35 (tt_ + 32)", len(s1))
	}
	if strings.Contains(s1, "token-a") {
		t.Error("subject must not embed the token")
	}
}
