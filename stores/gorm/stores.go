//go:build !wasm
// +build !wasm

package gorm

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/coloringbook/authcore"
)

// OpenPostgres opens a Postgres database through the pgx driver with
// driver error translation enabled.
func OpenPostgres(dsn string) (*gorm.DB, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{TranslateError: true})
	if err != nil {
		return nil, fmt.Errorf("failed to open postgres: %w", err)
	}
	return db, nil
}

// AutoMigrate creates or updates the auth_users table.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(&UserModel{})
}

// UserDirectory implements authcore.UserDirectory using GORM. Uniqueness of
// email and single-use token is enforced by the database.
type UserDirectory struct {
	db *gorm.DB
}

func NewUserDirectory(db *gorm.DB) *UserDirectory {
	return &UserDirectory{db: db}
}

func (s *UserDirectory) first(ctx context.Context, query string, args ...any) (*authcore.UserRecord, error) {
	var model UserModel
	err := s.db.WithContext(ctx).Where(query, args...).First(&model).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, authcore.ErrUserNotFound
	}
	if err != nil {
		return nil, err
	}
	return model.ToUserRecord(), nil
}

func (s *UserDirectory) FindByID(ctx context.Context, id int64) (*authcore.UserRecord, error) {
	return s.first(ctx, "id = ?", id)
}

func (s *UserDirectory) FindByEmail(ctx context.Context, email string) (*authcore.UserRecord, error) {
	if email == "" {
		return nil, authcore.ErrUserNotFound
	}
	return s.first(ctx, "email = ?", email)
}

func (s *UserDirectory) FindBySingleUseToken(ctx context.Context, token string) (*authcore.UserRecord, error) {
	if token == "" {
		return nil, authcore.ErrUserNotFound
	}
	return s.first(ctx, "single_use_token = ?", token)
}

func (s *UserDirectory) FindByProvider(ctx context.Context, provider authcore.Provider, providerID string) (*authcore.UserRecord, error) {
	if providerID == "" {
		return nil, authcore.ErrUserNotFound
	}
	return s.first(ctx, "provider = ? AND provider_id = ?", string(provider), providerID)
}

// Save inserts when ID is zero and updates every column otherwise.
func (s *UserDirectory) Save(ctx context.Context, user *authcore.UserRecord) (*authcore.UserRecord, error) {
	model := UserRecordToModel(user)
	db := s.db.WithContext(ctx)
	var err error
	if model.ID == 0 {
		err = db.Create(model).Error
	} else {
		err = db.Save(model).Error
	}
	if isUniqueViolation(err) {
		return nil, fmt.Errorf("%w: %v", authcore.ErrDirectoryConflict, err)
	}
	if err != nil {
		return nil, err
	}
	return model.ToUserRecord(), nil
}

// RedeemSingleUseToken writes user with a conditional update that only
// matches while the row still holds token. No matching row gives
// ErrInvalidToken.
func (s *UserDirectory) RedeemSingleUseToken(ctx context.Context, user *authcore.UserRecord, token string) (*authcore.UserRecord, error) {
	model := UserRecordToModel(user)
	if model.UpdatedAt.IsZero() {
		model.UpdatedAt = time.Now()
	}
	result := s.db.WithContext(ctx).Model(&UserModel{}).
		Where("id = ? AND single_use_token = ?", model.ID, token).
		Updates(map[string]any{
			"name":                    model.Name,
			"email":                   model.Email,
			"email_verified":          model.EmailVerified,
			"password_hash":           model.PasswordHash,
			"provider":                model.Provider,
			"provider_id":             model.ProviderID,
			"avatar_url":              model.AvatarURL,
			"single_use_token":        model.SingleUseToken,
			"single_use_token_expiry": model.SingleUseTokenExpiry,
			"updated_at":              model.UpdatedAt,
		})
	if isUniqueViolation(result.Error) {
		return nil, fmt.Errorf("%w: %v", authcore.ErrDirectoryConflict, result.Error)
	}
	if result.Error != nil {
		return nil, result.Error
	}
	if result.RowsAffected == 0 {
		return nil, authcore.ErrInvalidToken
	}
	return model.ToUserRecord(), nil
}

// PurgeExpiredTokens clears every single-use token past its deadline.
func (s *UserDirectory) PurgeExpiredTokens(ctx context.Context, now time.Time) (int, error) {
	result := s.db.WithContext(ctx).Model(&UserModel{}).
		Where("single_use_token IS NOT NULL AND single_use_token_expiry < ?", now).
		Updates(map[string]any{
			"single_use_token":        nil,
			"single_use_token_expiry": nil,
			"updated_at":              now,
		})
	if result.Error != nil {
		return 0, result.Error
	}
	return int(result.RowsAffected), nil
}

// isUniqueViolation recognizes both translated and raw Postgres unique
// constraint errors.
func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
