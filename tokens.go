package authcore

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"
)

// TokenPurpose says which flow a single-use token was issued for. Both
// purposes share the one token slot on a UserRecord.
type TokenPurpose string

const (
	PurposePasswordReset     TokenPurpose = "password_reset"
	PurposeEmailVerification TokenPurpose = "email_verification"
)

// Default single-use token lifetimes
const (
	TokenExpiryEmailVerification = 24 * time.Hour
	TokenExpiryPasswordReset     = 60 * time.Minute
)

// SingleUseToken is an outstanding reset or verification token. A nil
// *SingleUseToken on a UserRecord is the absent state.
type SingleUseToken struct {
	Value     string    `json:"value"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// Expired reports whether the token's deadline has passed at now. A token
// is still valid at exactly ExpiresAt.
func (t *SingleUseToken) Expired(now time.Time) bool {
	return now.After(t.ExpiresAt)
}

// Matches reports whether the token holds value.
func (t *SingleUseToken) Matches(value string) bool {
	return t != nil && value != "" && t.Value == value
}

// GenerateSecureToken returns 32 bytes from crypto/rand, hex encoded.
func GenerateSecureToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate token: %w", err)
	}
	return hex.EncodeToString(b), nil
}
