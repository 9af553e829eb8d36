package oauth

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"fmt"
)

// GenerateState returns the random state correlating an inbound client's
// authorization request with the upstream round trip. 24 random bytes,
// hex encoded.
func GenerateState() (string, error) {
	return randomHex(stateLength)
}

// GenerateCodeVerifier returns a PKCE verifier for the upstream leg of the
// flow. 48 random bytes, hex encoded.
func GenerateCodeVerifier() (string, error) {
	return randomHex(verifierLength)
}

// ComputeCodeChallenge derives the S256 challenge for a verifier:
// base64url(SHA-256(verifier)) without padding.
func ComputeCodeChallenge(verifier string) string {
	sum := sha256.Sum256([]byte(verifier))
	return base64.RawURLEncoding.EncodeToString(sum[:])
}

// VerifyCodeChallenge checks a verifier presented at the token endpoint
// against the challenge recorded at authorization time. Only S256 is
// supported; the comparison is constant-time.
func VerifyCodeChallenge(verifier, challenge, method string) bool {
	if method != CodeChallengeS256 || verifier == "" || challenge == "" {
		return false
	}
	computed := ComputeCodeChallenge(verifier)
	return subtle.ConstantTimeCompare([]byte(computed), []byte(challenge)) == 1
}

// GenerateAuthorizationCode returns a locally issued authorization code.
func GenerateAuthorizationCode() (string, error) {
	return randomHex(authCodeLength)
}

// GenerateToken returns a locally issued access or refresh token.
func GenerateToken() (string, error) {
	return randomHex(tokenLength)
}

func randomHex(n int) (string, error) {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to generate random value: %w", err)
	}
	return hex.EncodeToString(buf), nil
}
