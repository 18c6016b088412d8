// Package auth guards administrative endpoints with a bearer token whose
// bcrypt hash lives in the configuration.
package auth

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

const (
	// TokenPrefix marks kgindex admin tokens.
	TokenPrefix = "kgi_sk_" // #nosec G101 -- a prefix pattern, not a credential

	// TokenPrefixLength is the number of secret characters shown when masking.
	TokenPrefixLength = 8

	// TokenLength is the length of the random part of tokens (in bytes, will be hex encoded)
	TokenLength = 32
)

// bcryptCost is the cost factor for bcrypt hashing; tests lower it.
var bcryptCost = 12

// GenerateToken returns a new admin token of the form kgi_sk_<64 hex chars>.
func GenerateToken() (string, error) {
	bytes := make([]byte, TokenLength)
	if _, err := rand.Read(bytes); err != nil {
		return "", fmt.Errorf("generate token: %w", err)
	}
	return TokenPrefix + hex.EncodeToString(bytes), nil
}

// HashToken creates a bcrypt hash of a token
func HashToken(token string) (string, error) {
	// hash the secret part only
	secret := strings.TrimPrefix(token, TokenPrefix)

	hash, err := bcrypt.GenerateFromPassword([]byte(secret), bcryptCost)
	if err != nil {
		return "", fmt.Errorf("hash token: %w", err)
	}
	return string(hash), nil
}

// VerifyToken checks if a token matches a hash
func VerifyToken(token, hash string) bool {
	if token == "" || hash == "" {
		return false
	}
	secret := strings.TrimPrefix(token, TokenPrefix)
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(secret)) == nil
}

// IsValidHash reports whether hash is a bcrypt hash.
func IsValidHash(hash string) bool {
	_, err := bcrypt.Cost([]byte(hash))
	return err == nil
}

// IsValidTokenFormat checks if a token has the correct format
func IsValidTokenFormat(token string) bool {
	if !strings.HasPrefix(token, TokenPrefix) {
		return false
	}
	secret := strings.TrimPrefix(token, TokenPrefix)
	if len(secret) != TokenLength*2 {
		return false
	}
	_, err := hex.DecodeString(secret)
	return err == nil
}

// MaskToken returns a masked version of a token for display
// Example: kgi_sk_a1b2c3d4****...****
func MaskToken(token string) string {
	if len(token) < len(TokenPrefix)+TokenPrefixLength {
		return "****"
	}
	return token[:len(TokenPrefix)+TokenPrefixLength] + "****...****"
}
