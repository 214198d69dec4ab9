// Package grpc carries authcore sessions and rate limits into gRPC servers.
// Clients send the session token in the authorization metadata key as
// "Bearer <token>"; interceptors verify it and put the user id in the
// context, where authcore.UserIDFromContext finds it.
package grpc

import (
	"context"
	"net/netip"
	"strings"

	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/peer"

	"github.com/coloringbook/authcore"
)

// Default metadata keys. These can be customized via Config.
const (
	DefaultMetadataKeyAuthorization = "authorization"
	DefaultMetadataKeyForwardedFor  = "x-forwarded-for"
)

// Config holds the metadata key configuration.
type Config struct {
	// MetadataKeyAuthorization carries the bearer session token.
	MetadataKeyAuthorization string

	// MetadataKeyForwardedFor carries the client address set by a proxy.
	MetadataKeyForwardedFor string

	// IgnoreForwardedFor makes the peer address the only client identity.
	IgnoreForwardedFor bool
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		MetadataKeyAuthorization: DefaultMetadataKeyAuthorization,
		MetadataKeyForwardedFor:  DefaultMetadataKeyForwardedFor,
	}
}

// EnsureDefaults fills in default values for any unset fields.
func (c *Config) EnsureDefaults() {
	if c.MetadataKeyAuthorization == "" {
		c.MetadataKeyAuthorization = DefaultMetadataKeyAuthorization
	}
	if c.MetadataKeyForwardedFor == "" {
		c.MetadataKeyForwardedFor = DefaultMetadataKeyForwardedFor
	}
}

// UserIDFromContext returns the user id placed by the auth interceptors.
func UserIDFromContext(ctx context.Context) (int64, bool) {
	return authcore.UserIDFromContext(ctx)
}

// TokenToOutgoingContext attaches a session token to outgoing metadata.
func TokenToOutgoingContext(ctx context.Context, token string) context.Context {
	return metadata.AppendToOutgoingContext(ctx, DefaultMetadataKeyAuthorization, "Bearer "+token)
}

// bearerTokens returns every non-empty bearer token in the incoming metadata.
func bearerTokens(ctx context.Context, key string) []string {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return nil
	}
	var tokens []string
	for _, v := range md.Get(key) {
		v = strings.TrimSpace(v)
		if len(v) > 7 && strings.EqualFold(v[:7], "Bearer ") {
			if t := strings.TrimSpace(v[7:]); t != "" {
				tokens = append(tokens, t)
			}
		}
	}
	return tokens
}

// ClientIP returns the address a call is rate limited under: the first
// forwarded-for hop when trusted and parseable, otherwise the peer address.
func ClientIP(ctx context.Context, config *Config) string {
	if config == nil {
		config = DefaultConfig()
	}
	config.EnsureDefaults()

	if !config.IgnoreForwardedFor {
		if md, ok := metadata.FromIncomingContext(ctx); ok {
			if values := md.Get(config.MetadataKeyForwardedFor); len(values) > 0 {
				first, _, _ := strings.Cut(values[0], ",")
				if addr, err := netip.ParseAddr(strings.TrimSpace(first)); err == nil {
					return addr.Unmap().String()
				}
			}
		}
	}
	if p, ok := peer.FromContext(ctx); ok && p.Addr != nil {
		return authcore.PeerIP(p.Addr.String())
	}
	return ""
}
