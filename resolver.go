package authcore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
)

// AccountResolver finds or creates the local account for a federated login.
// It never merges accounts across providers.
type AccountResolver struct {
	Directory  UserDirectory
	Normalizer *Normalizer
	Clock      Clock
	Metrics    *Metrics
	Logger     *slog.Logger
}

// ResolveOrCreate normalizes attrs and returns the matching account, updating
// its profile, or a newly created one. Each call performs exactly one
// directory write.
func (r *AccountResolver) ResolveOrCreate(ctx context.Context, providerName string, attrs map[string]any, fetch EmailFetcher) (*UserRecord, error) {
	normalizer := r.Normalizer
	if normalizer == nil {
		normalizer = &Normalizer{Logger: r.Logger}
	}
	identity, err := normalizer.Normalize(ctx, providerName, attrs, fetch)
	if err != nil {
		r.Metrics.federatedLogin("unknown", "unsupported")
		return nil, err
	}

	existing, err := r.lookup(ctx, identity)
	if err != nil && !errors.Is(err, ErrUserNotFound) {
		return nil, fmt.Errorf("failed to look up account: %w", err)
	}

	now := clockOrSystem(r.Clock).Now()
	var user *UserRecord
	outcome := "created"
	if existing != nil {
		if existing.Provider != identity.Provider {
			r.logger().WarnContext(ctx, "login rejected: email bound to another provider",
				slog.String("provider", string(identity.Provider)),
				slog.String("existing_provider", string(existing.Provider)),
				slog.Int64("user_id", existing.ID))
			r.Metrics.federatedLogin(string(identity.Provider), "provider_mismatch")
			return nil, &ProviderMismatchError{
				Email:    identity.Email,
				Existing: existing.Provider,
				Incoming: identity.Provider,
			}
		}
		user = existing.Clone()
		user.Name = identity.Name
		user.AvatarURL = identity.AvatarURL
		if identity.Email != "" && identity.Email != user.Email {
			user.Email = identity.Email
		}
		if user.ProviderID == "" {
			user.ProviderID = identity.ProviderID
		}
		user.UpdatedAt = now
		outcome = "updated"
	} else {
		user = &UserRecord{
			Name:       identity.Name,
			Email:      identity.Email,
			Provider:   identity.Provider,
			ProviderID: identity.ProviderID,
			AvatarURL:  identity.AvatarURL,
			CreatedAt:  now,
			UpdatedAt:  now,
		}
	}

	saved, err := r.Directory.Save(ctx, user)
	if err != nil {
		r.Metrics.federatedLogin(string(identity.Provider), "error")
		return nil, fmt.Errorf("failed to save account: %w", err)
	}
	r.Metrics.federatedLogin(string(identity.Provider), outcome)
	return saved, nil
}

// lookup finds the account by email first. When no account holds the email,
// a directory with a ProviderIndex is asked for the provider account, so a
// returning user whose email changed keeps their record.
func (r *AccountResolver) lookup(ctx context.Context, identity *NormalizedIdentity) (*UserRecord, error) {
	if identity.Email != "" {
		user, err := r.Directory.FindByEmail(ctx, identity.Email)
		if !errors.Is(err, ErrUserNotFound) {
			return user, err
		}
	}
	if idx, ok := r.Directory.(ProviderIndex); ok && identity.ProviderID != "" {
		return idx.FindByProvider(ctx, identity.Provider, identity.ProviderID)
	}
	return nil, ErrUserNotFound
}

func (r *AccountResolver) logger() *slog.Logger {
	if r.Logger != nil {
		return r.Logger
	}
	return slog.Default()
}
