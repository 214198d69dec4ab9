package grpc

import (
	"context"
	"net"
	"testing"

	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/peer"
)

func TestEnsureDefaults(t *testing.T) {
	config := &Config{}
	config.EnsureDefaults()
	if config.MetadataKeyAuthorization != DefaultMetadataKeyAuthorization {
		t.Errorf("expected MetadataKeyAuthorization %q, got %q", DefaultMetadataKeyAuthorization, config.MetadataKeyAuthorization)
	}
	if config.MetadataKeyForwardedFor != DefaultMetadataKeyForwardedFor {
		t.Errorf("expected MetadataKeyForwardedFor %q, got %q", DefaultMetadataKeyForwardedFor, config.MetadataKeyForwardedFor)
	}
}

func TestBearerTokens(t *testing.T) {
	md := metadata.Pairs(
		"authorization", "Bearer abc",
		"authorization", "Basic xyz",
		"authorization", "bearer  def ",
		"authorization", "Bearer ",
	)
	ctx := metadata.NewIncomingContext(context.Background(), md)
	tokens := bearerTokens(ctx, DefaultMetadataKeyAuthorization)
	if len(tokens) != 2 || tokens[0] != "abc" || tokens[1] != "def" {
		t.Errorf("unexpected tokens %q", tokens)
	}
	if bearerTokens(context.Background(), DefaultMetadataKeyAuthorization) != nil {
		t.Error("expected no tokens without metadata")
	}
}

func TestTokenToOutgoingContext(t *testing.T) {
	ctx := TokenToOutgoingContext(context.Background(), "tok")
	md, ok := metadata.FromOutgoingContext(ctx)
	if !ok {
		t.Fatal("expected outgoing metadata")
	}
	if got := md.Get(DefaultMetadataKeyAuthorization); len(got) != 1 || got[0] != "Bearer tok" {
		t.Errorf("unexpected authorization metadata %q", got)
	}
}

func TestClientIP(t *testing.T) {
	peerCtx := peer.NewContext(context.Background(), &peer.Peer{
		Addr: &net.TCPAddr{IP: net.ParseIP("10.0.0.9"), Port: 5555},
	})

	tests := []struct {
		name   string
		xff    string
		ignore bool
		want   string
	}{
		{"peer only", "", false, "10.0.0.9"},
		{"first forwarded hop", "203.0.113.7, 10.0.0.1", false, "203.0.113.7"},
		{"unparseable forwarded value", "not-an-ip", false, "10.0.0.9"},
		{"forwarded ignored", "203.0.113.7", true, "10.0.0.9"},
		{"mapped v4", "::ffff:198.51.100.4", false, "198.51.100.4"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := peerCtx
			if tt.xff != "" {
				ctx = metadata.NewIncomingContext(ctx, metadata.Pairs(DefaultMetadataKeyForwardedFor, tt.xff))
			}
			got := ClientIP(ctx, &Config{IgnoreForwardedFor: tt.ignore})
			if got != tt.want {
				t.Errorf("expected %q, got %q", tt.want, got)
			}
		})
	}
}
