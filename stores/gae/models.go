//go:build !wasm
// +build !wasm

package gae

import (
	"time"

	"cloud.google.com/go/datastore"

	"github.com/coloringbook/authcore"
)

const (
	KindUser   = "AuthUser"
	KindUnique = "AuthUnique"
)

// UserEntity is the Datastore entity for users. The single-use token fields
// are omitted when absent so expiry queries only see pending tokens.
type UserEntity struct {
	Key                  *datastore.Key `datastore:"__key__"`
	Name                 string         `datastore:"name,noindex"`
	Email                string         `datastore:"email"`
	EmailVerified        bool           `datastore:"email_verified"`
	PasswordHash         string         `datastore:"password_hash,noindex"`
	Provider             string         `datastore:"provider"`
	ProviderID           string         `datastore:"provider_id"`
	AvatarURL            string         `datastore:"avatar_url,noindex"`
	SingleUseToken       string         `datastore:"single_use_token,omitempty"`
	SingleUseTokenExpiry time.Time      `datastore:"single_use_token_expiry,omitempty"`
	CreatedAt            time.Time      `datastore:"created_at"`
	UpdatedAt            time.Time      `datastore:"updated_at"`
	Version              int            `datastore:"version"`
}

// UniqueEntity marks a value as owned by one user.
type UniqueEntity struct {
	UserID int64 `datastore:"user_id"`
}

func (e *UserEntity) ToUserRecord() *authcore.UserRecord {
	u := &authcore.UserRecord{
		Name:          e.Name,
		Email:         e.Email,
		EmailVerified: e.EmailVerified,
		PasswordHash:  e.PasswordHash,
		Provider:      authcore.Provider(e.Provider),
		ProviderID:    e.ProviderID,
		AvatarURL:     e.AvatarURL,
		CreatedAt:     e.CreatedAt,
		UpdatedAt:     e.UpdatedAt,
	}
	if e.Key != nil {
		u.ID = e.Key.ID
	}
	if e.SingleUseToken != "" {
		u.SingleUse = &authcore.SingleUseToken{Value: e.SingleUseToken, ExpiresAt: e.SingleUseTokenExpiry}
	}
	return u
}

func UserRecordToEntity(u *authcore.UserRecord, key *datastore.Key) *UserEntity {
	e := &UserEntity{
		Key:           key,
		Name:          u.Name,
		Email:         u.Email,
		EmailVerified: u.EmailVerified,
		PasswordHash:  u.PasswordHash,
		Provider:      string(u.Provider),
		ProviderID:    u.ProviderID,
		AvatarURL:     u.AvatarURL,
		CreatedAt:     u.CreatedAt,
		UpdatedAt:     u.UpdatedAt,
	}
	if u.SingleUse != nil {
		e.SingleUseToken = u.SingleUse.Value
		e.SingleUseTokenExpiry = u.SingleUse.ExpiresAt
	}
	return e
}

// uniqueNames lists the marker key names a record owns.
func uniqueNames(u *authcore.UserRecord) []string {
	var names []string
	if u.Email != "" {
		names = append(names, emailMarker(u.Email))
	}
	if u.SingleUse != nil && u.SingleUse.Value != "" {
		names = append(names, tokenMarker(u.SingleUse.Value))
	}
	if u.ProviderID != "" {
		names = append(names, providerMarker(u.Provider, u.ProviderID))
	}
	return names
}

func emailMarker(email string) string { return "email:" + email }
func tokenMarker(token string) string { return "token:" + token }
func providerMarker(p authcore.Provider, id string) string {
	return "provider:" + string(p) + ":" + id
}
