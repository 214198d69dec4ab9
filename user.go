package authcore

import (
	"context"
	"strings"
	"time"
)

// Provider identifies how a user authenticates.
type Provider string

const (
	ProviderLocal    Provider = "local"
	ProviderGoogle   Provider = "google"
	ProviderFacebook Provider = "facebook"
	ProviderGitHub   Provider = "github"
)

// ParseProvider maps a provider name, case-insensitively, onto a known
// Provider.
func ParseProvider(name string) (Provider, error) {
	switch p := Provider(strings.ToLower(strings.TrimSpace(name))); p {
	case ProviderLocal, ProviderGoogle, ProviderFacebook, ProviderGitHub:
		return p, nil
	}
	return "", &UnsupportedProviderError{Provider: name}
}

// UserRecord is the persisted account. Email is never nil; an absent email is
// the empty string. SingleUse is nil when no reset or verification token is
// outstanding.
type UserRecord struct {
	ID            int64           `json:"id"`
	Name          string          `json:"name"`
	Email         string          `json:"email"`
	EmailVerified bool            `json:"emailVerified"`
	PasswordHash  string          `json:"passwordHash,omitempty"`
	Provider      Provider        `json:"provider"`
	ProviderID    string          `json:"providerId,omitempty"`
	AvatarURL     string          `json:"avatarUrl,omitempty"`
	SingleUse     *SingleUseToken `json:"singleUse,omitempty"`
	CreatedAt     time.Time       `json:"createdAt"`
	UpdatedAt     time.Time       `json:"updatedAt"`
}

// Clone returns a deep copy so callers can mutate without aliasing a
// directory's cached value.
func (u *UserRecord) Clone() *UserRecord {
	if u == nil {
		return nil
	}
	out := *u
	if u.SingleUse != nil {
		tok := *u.SingleUse
		out.SingleUse = &tok
	}
	return &out
}

// UserDirectory persists user records. Lookups return ErrUserNotFound on a
// miss; an empty email or token never matches. Save inserts when ID is zero
// and updates otherwise, assigning the ID on insert. Save enforces unique
// email and unique single-use token values and returns an error wrapping
// ErrDirectoryConflict when either is violated.
type UserDirectory interface {
	FindByEmail(ctx context.Context, email string) (*UserRecord, error)
	FindByID(ctx context.Context, id int64) (*UserRecord, error)
	FindBySingleUseToken(ctx context.Context, token string) (*UserRecord, error)
	Save(ctx context.Context, user *UserRecord) (*UserRecord, error)
}

// ProviderIndex is implemented by directories that can look a user up by
// the provider's own account id. The resolver uses it for identities that
// carry no email.
type ProviderIndex interface {
	FindByProvider(ctx context.Context, provider Provider, providerID string) (*UserRecord, error)
}

// ExpiredTokenSweeper is implemented by directories that can clear all
// single-use tokens whose deadline has passed.
type ExpiredTokenSweeper interface {
	PurgeExpiredTokens(ctx context.Context, now time.Time) (int, error)
}

// SingleUseTokenRedeemer is implemented by directories that can save a
// record only while the stored record still holds token. A record whose
// token was already cleared or replaced gives ErrInvalidToken and nothing is
// written. SingleUseTokenManager uses it so that concurrent redemptions of
// one token succeed at most once.
type SingleUseTokenRedeemer interface {
	RedeemSingleUseToken(ctx context.Context, user *UserRecord, token string) (*UserRecord, error)
}
