//go:build !wasm
// +build !wasm

package gae

import (
	"slices"
	"testing"
	"time"

	"cloud.google.com/go/datastore"

	"github.com/coloringbook/authcore"
)

func TestEntityConversion(t *testing.T) {
	expiry := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	u := &authcore.UserRecord{
		ID:         12,
		Name:       "Ada",
		Email:      "ada@example.com",
		Provider:   authcore.ProviderGitHub,
		ProviderID: "583231",
		SingleUse:  &authcore.SingleUseToken{Value: "tok", ExpiresAt: expiry},
	}
	key := datastore.IDKey(KindUser, u.ID, nil)
	e := UserRecordToEntity(u, key)
	if e.SingleUseToken != "tok" || !e.SingleUseTokenExpiry.Equal(expiry) {
		t.Errorf("entity = %+v", e)
	}
	back := e.ToUserRecord()
	if back.ID != 12 || back.Email != u.Email || back.SingleUse == nil || back.SingleUse.Value != "tok" {
		t.Errorf("round trip = %+v", back)
	}

	u.SingleUse = nil
	if e := UserRecordToEntity(u, key); e.SingleUseToken != "" || !e.SingleUseTokenExpiry.IsZero() {
		t.Errorf("cleared token left fields set: %+v", e)
	}
}

func TestUniqueNames(t *testing.T) {
	tests := []struct {
		name string
		user *authcore.UserRecord
		want []string
	}{
		{"none", &authcore.UserRecord{Provider: authcore.ProviderLocal}, nil},
		{"email only", &authcore.UserRecord{Email: "a@example.com"}, []string{"email:a@example.com"}},
		{"all", &authcore.UserRecord{
			Email:      "a@example.com",
			Provider:   authcore.ProviderGoogle,
			ProviderID: "g1",
			SingleUse:  &authcore.SingleUseToken{Value: "tok"},
		}, []string{"email:a@example.com", "token:tok", "provider:google:g1"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := uniqueNames(tt.user); !slices.Equal(got, tt.want) {
				t.Errorf("uniqueNames() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestKeysAreNamespaced(t *testing.T) {
	s := NewUserDirectory(nil, "tenant-a")
	if k := s.userKey(5); k.Namespace != "tenant-a" || k.ID != 5 || k.Kind != KindUser {
		t.Errorf("userKey = %v", k)
	}
	if k := s.uniqueKey("email:a@example.com"); k.Namespace != "tenant-a" || k.Name != "email:a@example.com" || k.Kind != KindUnique {
		t.Errorf("uniqueKey = %v", k)
	}
}
