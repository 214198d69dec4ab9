package authcore

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"
)

// DefaultEmailFetchTimeout bounds the call to a provider's email list.
const DefaultEmailFetchTimeout = 5 * time.Second

// NormalizedIdentity is the provider-independent view of a federated login.
// Email may be empty for providers that omit it.
type NormalizedIdentity struct {
	Provider   Provider
	ProviderID string
	Email      string
	Name       string
	AvatarURL  string
}

// EmailFetcher retrieves the primary, verified email of the authenticated
// provider account. Any error is treated as "no email available".
type EmailFetcher interface {
	FetchPrimaryEmail(ctx context.Context) (string, error)
}

// EmailFetcherFunc adapts a function to the EmailFetcher interface.
type EmailFetcherFunc func(ctx context.Context) (string, error)

func (f EmailFetcherFunc) FetchPrimaryEmail(ctx context.Context) (string, error) { return f(ctx) }

// PlaceholderEmailPolicy synthesizes an address for an account whose
// provider supplied none. It returns "" when it cannot build one.
type PlaceholderEmailPolicy func(provider Provider, handle, providerID string) string

// NoReplyPlaceholder builds {handle}@users.noreply.{provider}.com, or
// {provider}-user-{id}@users.noreply.{provider}.com when the handle is
// missing. Addresses built from the numeric id are guessable; deployments
// that cannot accept that should install their own policy.
func NoReplyPlaceholder(provider Provider, handle, providerID string) string {
	domain := "users.noreply." + string(provider) + ".com"
	if handle != "" {
		return handle + "@" + domain
	}
	if providerID != "" {
		return fmt.Sprintf("%s-user-%s@%s", provider, providerID, domain)
	}
	return ""
}

// attributes is the raw user info document returned by a provider.
type attributes map[string]any

func (a attributes) str(key string) string {
	switch v := a[key].(type) {
	case string:
		return strings.TrimSpace(v)
	case json.Number:
		return v.String()
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case int:
		return strconv.Itoa(v)
	case int64:
		return strconv.FormatInt(v, 10)
	}
	return ""
}

func (a attributes) nested(keys ...string) string {
	cur := map[string]any(a)
	for i, k := range keys {
		if i == len(keys)-1 {
			return attributes(cur).str(k)
		}
		next, ok := cur[k].(map[string]any)
		if !ok {
			return ""
		}
		cur = next
	}
	return ""
}

// identityExtractor maps raw attributes to an identity. handle is the
// provider login name used by the email ladder.
type identityExtractor struct {
	extract func(a attributes) (id NormalizedIdentity, handle string)

	// emailLadder enables the fetch and placeholder fallbacks for providers
	// known to omit email.
	emailLadder bool

	// fallbackName is used when neither a display name nor a handle exists.
	fallbackName string
}

var identityExtractors = map[Provider]identityExtractor{
	ProviderGoogle: {
		extract: func(a attributes) (NormalizedIdentity, string) {
			id := a.str("sub")
			if id == "" {
				id = a.str("id")
			}
			return NormalizedIdentity{
				ProviderID: id,
				Name:       a.str("name"),
				Email:      a.str("email"),
				AvatarURL:  a.str("picture"),
			}, ""
		},
	},
	ProviderFacebook: {
		extract: func(a attributes) (NormalizedIdentity, string) {
			return NormalizedIdentity{
				ProviderID: a.str("id"),
				Name:       a.str("name"),
				Email:      a.str("email"),
				AvatarURL:  a.nested("picture", "data", "url"),
			}, ""
		},
	},
	ProviderGitHub: {
		extract: func(a attributes) (NormalizedIdentity, string) {
			return NormalizedIdentity{
				ProviderID: a.str("id"),
				Name:       a.str("name"),
				Email:      a.str("email"),
				AvatarURL:  a.str("avatar_url"),
			}, a.str("login")
		},
		emailLadder:  true,
		fallbackName: "GitHubUser",
	},
}

// Normalizer turns raw provider attributes into a NormalizedIdentity.
type Normalizer struct {
	// Placeholder builds the last-resort email. Defaults to NoReplyPlaceholder.
	Placeholder PlaceholderEmailPolicy

	// FetchTimeout bounds EmailFetcher calls. Defaults to DefaultEmailFetchTimeout.
	FetchTimeout time.Duration

	Logger *slog.Logger
}

// Normalize maps attrs from providerName into a NormalizedIdentity. fetch may
// be nil; it is only consulted for providers that omit email.
func (n *Normalizer) Normalize(ctx context.Context, providerName string, attrs map[string]any, fetch EmailFetcher) (*NormalizedIdentity, error) {
	provider, err := ParseProvider(providerName)
	if err != nil {
		return nil, err
	}
	ex, ok := identityExtractors[provider]
	if !ok {
		return nil, &UnsupportedProviderError{Provider: providerName}
	}

	identity, handle := ex.extract(attributes(attrs))
	identity.Provider = provider

	if identity.Email == "" && ex.emailLadder {
		identity.Email = n.emailFallback(ctx, provider, handle, identity.ProviderID, fetch)
	}
	identity.Email = NormalizeEmail(identity.Email)

	if identity.Name == "" {
		identity.Name = handle
	}
	if identity.Name == "" {
		identity.Name = ex.fallbackName
	}
	return &identity, nil
}

func (n *Normalizer) emailFallback(ctx context.Context, provider Provider, handle, providerID string, fetch EmailFetcher) string {
	if fetch != nil {
		if email := n.fetchEmail(ctx, provider, fetch); email != "" {
			return email
		}
	}
	policy := n.Placeholder
	if policy == nil {
		policy = NoReplyPlaceholder
	}
	return policy(provider, handle, providerID)
}

func (n *Normalizer) fetchEmail(ctx context.Context, provider Provider, fetch EmailFetcher) string {
	timeout := n.FetchTimeout
	if timeout <= 0 {
		timeout = DefaultEmailFetchTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	email, err := fetch.FetchPrimaryEmail(ctx)
	if err != nil {
		n.logger().WarnContext(ctx, "primary email fetch failed, using fallback",
			slog.String("provider", string(provider)),
			slog.String("error", err.Error()))
		return ""
	}
	return strings.TrimSpace(email)
}

func (n *Normalizer) logger() *slog.Logger {
	if n.Logger != nil {
		return n.Logger
	}
	return slog.Default()
}

// ProviderEmail is one entry of a provider's email list.
type ProviderEmail struct {
	Email    string `json:"email"`
	Primary  bool   `json:"primary"`
	Verified bool   `json:"verified"`
}

// SelectPrimaryVerified returns the first entry flagged both primary and
// verified, or "" when there is none.
func SelectPrimaryVerified(entries []ProviderEmail) string {
	for _, e := range entries {
		if e.Primary && e.Verified && strings.TrimSpace(e.Email) != "" {
			return strings.TrimSpace(e.Email)
		}
	}
	return ""
}
