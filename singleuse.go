package authcore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// SingleUseTokenManager issues and redeems the one outstanding reset or
// verification token a user may hold.
//
// A token moves from absent to pending on Issue and back to absent on the
// first Redeem that finds it, whether that redeem succeeds or finds it
// expired. Issuing again while pending replaces the old value.
type SingleUseTokenManager struct {
	Directory UserDirectory

	// TTLs per purpose. Missing entries use TokenExpiryPasswordReset and
	// TokenExpiryEmailVerification.
	TTLs map[TokenPurpose]time.Duration

	// Generate produces token values. Defaults to GenerateSecureToken.
	Generate func() (string, error)

	Metrics *Metrics
	Logger  *slog.Logger
}

// TTL returns the lifetime of tokens issued for purpose.
func (m *SingleUseTokenManager) TTL(purpose TokenPurpose) time.Duration {
	if ttl, ok := m.TTLs[purpose]; ok && ttl > 0 {
		return ttl
	}
	if purpose == PurposeEmailVerification {
		return TokenExpiryEmailVerification
	}
	return TokenExpiryPasswordReset
}

// Issue generates a token for user, stores it with its deadline and returns
// its value. user is updated in place with the saved record.
func (m *SingleUseTokenManager) Issue(ctx context.Context, user *UserRecord, purpose TokenPurpose, now time.Time) (string, error) {
	if user == nil || user.ID == 0 {
		return "", errors.New("cannot issue a token for an unsaved user")
	}
	generate := m.Generate
	if generate == nil {
		generate = GenerateSecureToken
	}
	value, err := generate()
	if err != nil {
		return "", err
	}

	updated := user.Clone()
	updated.SingleUse = &SingleUseToken{Value: value, ExpiresAt: now.Add(m.TTL(purpose))}
	updated.UpdatedAt = now
	saved, err := m.Directory.Save(ctx, updated)
	if err != nil {
		return "", fmt.Errorf("failed to store %s token: %w", purpose, err)
	}
	*user = *saved
	m.Metrics.singleUse(purpose, "issued")
	return value, nil
}

// Redeem consumes token. effect applies the purpose-specific change and is
// saved in the same write that clears the token; if effect fails nothing is
// written and the token stays pending.
//
// A missing token gives ErrInvalidToken. An expired token is cleared and
// gives ErrExpiredToken. Callers must present both the same way. When the
// directory implements SingleUseTokenRedeemer, a token redeemed concurrently
// by another caller gives ErrInvalidToken.
func (m *SingleUseTokenManager) Redeem(ctx context.Context, purpose TokenPurpose, token string, now time.Time, effect func(*UserRecord) error) (*UserRecord, error) {
	if token == "" {
		m.Metrics.singleUse(purpose, "invalid")
		return nil, ErrInvalidToken
	}
	found, err := m.Directory.FindBySingleUseToken(ctx, token)
	if errors.Is(err, ErrUserNotFound) {
		m.Metrics.singleUse(purpose, "invalid")
		return nil, ErrInvalidToken
	}
	if err != nil {
		return nil, fmt.Errorf("failed to look up token: %w", err)
	}
	if !found.SingleUse.Matches(token) {
		m.Metrics.singleUse(purpose, "invalid")
		return nil, ErrInvalidToken
	}

	user := found.Clone()
	if user.SingleUse.Expired(now) {
		user.SingleUse = nil
		user.UpdatedAt = now
		if _, err := m.consume(ctx, user, token); errors.Is(err, ErrInvalidToken) {
			m.Metrics.singleUse(purpose, "invalid")
			return nil, ErrInvalidToken
		} else if err != nil {
			return nil, errors.Join(ErrExpiredToken, fmt.Errorf("failed to clear expired token: %w", err))
		}
		m.logger().WarnContext(ctx, "expired single-use token presented",
			slog.String("purpose", string(purpose)),
			slog.Int64("user_id", user.ID))
		m.Metrics.singleUse(purpose, "expired")
		return nil, ErrExpiredToken
	}

	user.SingleUse = nil
	user.UpdatedAt = now
	if effect != nil {
		if err := effect(user); err != nil {
			return nil, err
		}
	}
	saved, err := m.consume(ctx, user, token)
	if errors.Is(err, ErrInvalidToken) {
		// Another redemption cleared the token first.
		m.Metrics.singleUse(purpose, "invalid")
		return nil, ErrInvalidToken
	}
	if err != nil {
		return nil, fmt.Errorf("failed to redeem token: %w", err)
	}
	m.Metrics.singleUse(purpose, "redeemed")
	return saved, nil
}

// consume saves user, whose token has been cleared, on the condition that
// the stored record still holds token. Directories without
// SingleUseTokenRedeemer fall back to a plain Save and cannot rule out a
// concurrent second redemption.
func (m *SingleUseTokenManager) consume(ctx context.Context, user *UserRecord, token string) (*UserRecord, error) {
	if r, ok := m.Directory.(SingleUseTokenRedeemer); ok {
		return r.RedeemSingleUseToken(ctx, user, token)
	}
	return m.Directory.Save(ctx, user)
}

// PurgeExpired clears every expired token when the directory supports it.
func (m *SingleUseTokenManager) PurgeExpired(ctx context.Context, now time.Time) (int, error) {
	sweeper, ok := m.Directory.(ExpiredTokenSweeper)
	if !ok {
		return 0, nil
	}
	return sweeper.PurgeExpiredTokens(ctx, now)
}

func (m *SingleUseTokenManager) logger() *slog.Logger {
	if m.Logger != nil {
		return m.Logger
	}
	return slog.Default()
}
