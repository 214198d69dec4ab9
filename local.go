package authcore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
)

// LocalAuthenticator handles email and password accounts and issues session
// tokens for them.
type LocalAuthenticator struct {
	Directory UserDirectory
	Codec     *SessionCodec
	Clock     Clock
	Logger    *slog.Logger
}

// Signup creates a local account and returns it with a session token.
func (a *LocalAuthenticator) Signup(ctx context.Context, creds Credentials) (*UserRecord, string, error) {
	creds.Email = NormalizeEmail(creds.Email)
	creds.Name = strings.TrimSpace(creds.Name)
	if err := creds.Validate(); err != nil {
		return nil, "", err
	}

	if _, err := a.Directory.FindByEmail(ctx, creds.Email); err == nil {
		return nil, "", ErrEmailInUse
	} else if !errors.Is(err, ErrUserNotFound) {
		return nil, "", fmt.Errorf("failed to look up email: %w", err)
	}

	hash, err := HashPassword(creds.Password)
	if err != nil {
		return nil, "", err
	}
	now := clockOrSystem(a.Clock).Now()
	user, err := a.Directory.Save(ctx, &UserRecord{
		Name:         creds.Name,
		Email:        creds.Email,
		PasswordHash: hash,
		Provider:     ProviderLocal,
		CreatedAt:    now,
		UpdatedAt:    now,
	})
	if errors.Is(err, ErrDirectoryConflict) {
		return nil, "", ErrEmailInUse
	}
	if err != nil {
		return nil, "", fmt.Errorf("failed to create user: %w", err)
	}

	token, err := a.Codec.Issue(user.ID, now)
	if err != nil {
		return nil, "", err
	}
	a.logger().InfoContext(ctx, "local user created", slog.Int64("user_id", user.ID))
	return user, token, nil
}

// Login checks email and password and returns the account with a session
// token. Unknown emails, federated accounts and wrong passwords all give
// ErrInvalidCredentials.
func (a *LocalAuthenticator) Login(ctx context.Context, email, password string) (*UserRecord, string, error) {
	user, err := a.Directory.FindByEmail(ctx, NormalizeEmail(email))
	if errors.Is(err, ErrUserNotFound) {
		return nil, "", ErrInvalidCredentials
	}
	if err != nil {
		return nil, "", fmt.Errorf("failed to look up account: %w", err)
	}
	if user.Provider != ProviderLocal || !CheckPassword(user.PasswordHash, password) {
		return nil, "", ErrInvalidCredentials
	}

	token, err := a.Codec.Issue(user.ID, clockOrSystem(a.Clock).Now())
	if err != nil {
		return nil, "", err
	}
	return user, token, nil
}

func (a *LocalAuthenticator) logger() *slog.Logger {
	if a.Logger != nil {
		return a.Logger
	}
	return slog.Default()
}
