//go:build !wasm
// +build !wasm

package gorm

import (
	"time"

	"github.com/coloringbook/authcore"
)

// UserModel is the GORM model for users. Optional columns are pointers so
// that absent values are NULL and stay out of the unique indexes.
type UserModel struct {
	ID                   int64      `gorm:"primaryKey;autoIncrement"`
	Name                 string     `gorm:"size:255"`
	Email                *string    `gorm:"size:320;uniqueIndex"`
	EmailVerified        bool       `gorm:"not null;default:false"`
	PasswordHash         string     `gorm:"size:255"`
	Provider             string     `gorm:"size:32;not null;uniqueIndex:idx_auth_users_provider_account"`
	ProviderID           *string    `gorm:"size:255;uniqueIndex:idx_auth_users_provider_account"`
	AvatarURL            string     `gorm:"size:1024"`
	SingleUseToken       *string    `gorm:"size:128;uniqueIndex"`
	SingleUseTokenExpiry *time.Time `gorm:"index"`
	CreatedAt            time.Time  `gorm:"autoCreateTime"`
	UpdatedAt            time.Time  `gorm:"autoUpdateTime"`
}

func (UserModel) TableName() string {
	return "auth_users"
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

// ToUserRecord converts the model to the domain record.
func (m *UserModel) ToUserRecord() *authcore.UserRecord {
	u := &authcore.UserRecord{
		ID:            m.ID,
		Name:          m.Name,
		Email:         deref(m.Email),
		EmailVerified: m.EmailVerified,
		PasswordHash:  m.PasswordHash,
		Provider:      authcore.Provider(m.Provider),
		ProviderID:    deref(m.ProviderID),
		AvatarURL:     m.AvatarURL,
		CreatedAt:     m.CreatedAt,
		UpdatedAt:     m.UpdatedAt,
	}
	if m.SingleUseToken != nil && m.SingleUseTokenExpiry != nil {
		u.SingleUse = &authcore.SingleUseToken{Value: *m.SingleUseToken, ExpiresAt: *m.SingleUseTokenExpiry}
	}
	return u
}

// UserRecordToModel converts a domain record to the model.
func UserRecordToModel(u *authcore.UserRecord) *UserModel {
	m := &UserModel{
		ID:            u.ID,
		Name:          u.Name,
		Email:         nullable(u.Email),
		EmailVerified: u.EmailVerified,
		PasswordHash:  u.PasswordHash,
		Provider:      string(u.Provider),
		ProviderID:    nullable(u.ProviderID),
		AvatarURL:     u.AvatarURL,
		CreatedAt:     u.CreatedAt,
		UpdatedAt:     u.UpdatedAt,
	}
	if u.SingleUse != nil {
		value := u.SingleUse.Value
		expiry := u.SingleUse.ExpiresAt
		m.SingleUseToken = &value
		m.SingleUseTokenExpiry = &expiry
	}
	return m
}
