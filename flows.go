package authcore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"
)

// AccountFlows implements password reset, email verification and profile
// updates on top of the single-use token manager.
type AccountFlows struct {
	Directory UserDirectory
	Tokens    *SingleUseTokenManager
	Mailer    Mailer
	Clock     Clock

	// FrontendBaseURL prefixes the links sent by email, e.g.
	// https://app.example.com
	FrontendBaseURL string

	Logger *slog.Logger
}

// RequestPasswordReset issues a reset token for a local account and mails
// the link. An unknown email and a federated account both return nil
// without sending anything, so the caller's response never reveals whether
// the address is registered.
func (f *AccountFlows) RequestPasswordReset(ctx context.Context, email, locale string) error {
	user, err := f.Directory.FindByEmail(ctx, NormalizeEmail(email))
	if errors.Is(err, ErrUserNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to look up account: %w", err)
	}
	if user.Provider != ProviderLocal {
		f.logger().InfoContext(ctx, "password reset skipped for federated account",
			slog.Int64("user_id", user.ID),
			slog.String("provider", string(user.Provider)))
		return nil
	}
	return f.issueAndSend(ctx, user, PurposePasswordReset, "/reset-password", SubjectPasswordReset, locale)
}

// ResetPassword redeems a reset token and stores the bcrypt hash of
// newPassword in the same write that clears the token.
func (f *AccountFlows) ResetPassword(ctx context.Context, token, newPassword string) error {
	if err := ValidatePassword(newPassword); err != nil {
		return err
	}
	hash, err := HashPassword(newPassword)
	if err != nil {
		return err
	}
	_, err = f.Tokens.Redeem(ctx, PurposePasswordReset, token, f.now(), func(u *UserRecord) error {
		u.PasswordHash = hash
		return nil
	})
	return err
}

// RequestEmailVerification mails a verification link to the user's address.
func (f *AccountFlows) RequestEmailVerification(ctx context.Context, userID int64, locale string) error {
	user, err := f.Directory.FindByID(ctx, userID)
	if err != nil {
		return err
	}
	if user.EmailVerified {
		return ErrAlreadyVerified
	}
	if user.Email == "" {
		return ErrNoEmailOnFile
	}
	return f.issueAndSend(ctx, user, PurposeEmailVerification, "/verify-email", SubjectEmailVerification, locale)
}

// VerifyEmail redeems a verification token and marks the address verified.
func (f *AccountFlows) VerifyEmail(ctx context.Context, token string) (*UserRecord, error) {
	return f.Tokens.Redeem(ctx, PurposeEmailVerification, token, f.now(), func(u *UserRecord) error {
		u.EmailVerified = true
		return nil
	})
}

// UpdateProfile changes the user's name and email. A changed email is
// marked unverified.
func (f *AccountFlows) UpdateProfile(ctx context.Context, userID int64, name, email string) (*UserRecord, error) {
	user, err := f.Directory.FindByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	updated := user.Clone()
	if name = strings.TrimSpace(name); name != "" {
		updated.Name = name
	}
	if email = NormalizeEmail(email); email != "" && email != user.Email {
		if err := ValidateEmail(email); err != nil {
			return nil, err
		}
		other, err := f.Directory.FindByEmail(ctx, email)
		if err == nil && other.ID != user.ID {
			return nil, ErrEmailInUse
		}
		if err != nil && !errors.Is(err, ErrUserNotFound) {
			return nil, fmt.Errorf("failed to look up email: %w", err)
		}
		updated.Email = email
		updated.EmailVerified = false
	}
	updated.UpdatedAt = f.now()
	saved, err := f.Directory.Save(ctx, updated)
	if errors.Is(err, ErrDirectoryConflict) {
		return nil, ErrEmailInUse
	}
	return saved, err
}

func (f *AccountFlows) issueAndSend(ctx context.Context, user *UserRecord, purpose TokenPurpose, path, subjectKey, locale string) error {
	token, err := f.Tokens.Issue(ctx, user, purpose, f.now())
	if err != nil {
		return err
	}
	link := strings.TrimRight(f.FrontendBaseURL, "/") + path + "?token=" + url.QueryEscape(token)
	args := map[string]any{
		"link":       link,
		"ttlMinutes": int(f.Tokens.TTL(purpose).Minutes()),
	}
	if err := f.Mailer.Send(ctx, user.Email, subjectKey, args, locale); err != nil {
		f.logger().ErrorContext(ctx, "failed to send email",
			slog.String("subject", subjectKey),
			slog.Int64("user_id", user.ID),
			slog.String("error", err.Error()))
		return &DeliveryError{To: user.Email, Err: err}
	}
	return nil
}

func (f *AccountFlows) now() time.Time {
	return clockOrSystem(f.Clock).Now()
}

func (f *AccountFlows) logger() *slog.Logger {
	if f.Logger != nil {
		return f.Logger
	}
	return slog.Default()
}
