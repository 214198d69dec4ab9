package stores

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/coloringbook/authcore"
)

var t0 = time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)

func newTestDirectory(t *testing.T) *FSUserDirectory {
	t.Helper()
	d, err := NewFSUserDirectory(t.TempDir())
	if err != nil {
		t.Fatalf("NewFSUserDirectory failed: %v", err)
	}
	return d
}

func TestFSUserDirectorySaveAndFind(t *testing.T) {
	d := newTestDirectory(t)
	ctx := context.Background()

	saved, err := d.Save(ctx, &authcore.UserRecord{
		Name:       "Ada",
		Email:      "ada@example.com",
		Provider:   authcore.ProviderGitHub,
		ProviderID: "583231",
		SingleUse:  &authcore.SingleUseToken{Value: "tok", ExpiresAt: t0},
		CreatedAt:  t0,
	})
	if err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	if saved.ID != 1 {
		t.Errorf("ID = %d, want 1", saved.ID)
	}

	lookups := map[string]func() (*authcore.UserRecord, error){
		"id":       func() (*authcore.UserRecord, error) { return d.FindByID(ctx, saved.ID) },
		"email":    func() (*authcore.UserRecord, error) { return d.FindByEmail(ctx, "ada@example.com") },
		"token":    func() (*authcore.UserRecord, error) { return d.FindBySingleUseToken(ctx, "tok") },
		"provider": func() (*authcore.UserRecord, error) { return d.FindByProvider(ctx, authcore.ProviderGitHub, "583231") },
	}
	for name, lookup := range lookups {
		t.Run(name, func(t *testing.T) {
			got, err := lookup()
			if err != nil {
				t.Fatalf("lookup failed: %v", err)
			}
			if got.ID != saved.ID || !got.SingleUse.ExpiresAt.Equal(t0) {
				t.Errorf("got %+v", got)
			}
		})
	}

	misses := map[string]func() (*authcore.UserRecord, error){
		"unknown id":       func() (*authcore.UserRecord, error) { return d.FindByID(ctx, 99) },
		"empty email":      func() (*authcore.UserRecord, error) { return d.FindByEmail(ctx, "") },
		"empty token":      func() (*authcore.UserRecord, error) { return d.FindBySingleUseToken(ctx, "") },
		"other provider":   func() (*authcore.UserRecord, error) { return d.FindByProvider(ctx, authcore.ProviderGoogle, "583231") },
		"case differences": func() (*authcore.UserRecord, error) { return d.FindByEmail(ctx, "ADA@example.com") },
	}
	for name, lookup := range misses {
		t.Run(name, func(t *testing.T) {
			if _, err := lookup(); !errors.Is(err, authcore.ErrUserNotFound) {
				t.Errorf("error = %v, want ErrUserNotFound", err)
			}
		})
	}
}

func TestFSUserDirectoryConflicts(t *testing.T) {
	d := newTestDirectory(t)
	ctx := context.Background()
	d.Save(ctx, &authcore.UserRecord{Email: "a@example.com", SingleUse: &authcore.SingleUseToken{Value: "tok-a", ExpiresAt: t0}})

	tests := []struct {
		name string
		user *authcore.UserRecord
	}{
		{"email", &authcore.UserRecord{Email: "a@example.com"}},
		{"token", &authcore.UserRecord{Email: "b@example.com", SingleUse: &authcore.SingleUseToken{Value: "tok-a", ExpiresAt: t0}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := d.Save(ctx, tt.user); !errors.Is(err, authcore.ErrDirectoryConflict) {
				t.Errorf("error = %v, want ErrDirectoryConflict", err)
			}
		})
	}
}

func TestFSUserDirectoryStaleIndexes(t *testing.T) {
	d := newTestDirectory(t)
	ctx := context.Background()
	u, _ := d.Save(ctx, &authcore.UserRecord{Email: "old@example.com", SingleUse: &authcore.SingleUseToken{Value: "tok", ExpiresAt: t0}})

	u.Email = "new@example.com"
	u.SingleUse = nil
	if _, err := d.Save(ctx, u); err != nil {
		t.Fatalf("update failed: %v", err)
	}
	if _, err := d.FindByEmail(ctx, "old@example.com"); !errors.Is(err, authcore.ErrUserNotFound) {
		t.Errorf("old email still resolves: %v", err)
	}
	if _, err := d.FindBySingleUseToken(ctx, "tok"); !errors.Is(err, authcore.ErrUserNotFound) {
		t.Errorf("cleared token still resolves: %v", err)
	}

	// The released address is free for another user.
	if _, err := d.Save(ctx, &authcore.UserRecord{Email: "old@example.com"}); err != nil {
		t.Errorf("reusing a released email failed: %v", err)
	}
}

func TestFSUserDirectoryIgnoresOrphanIndex(t *testing.T) {
	d := newTestDirectory(t)
	ctx := context.Background()
	u, _ := d.Save(ctx, &authcore.UserRecord{Email: "a@example.com"})

	// Simulate a crash that left the index behind after the user moved on.
	u.Email = "b@example.com"
	data := []byte(`{"id":1,"email":"b@example.com"}`)
	if err := os.WriteFile(d.userPath(u.ID), data, 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := d.Save(ctx, &authcore.UserRecord{Email: "a@example.com"}); err != nil {
		t.Errorf("orphan index blocked save: %v", err)
	}
}

func TestFSUserDirectoryPersistence(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()
	d1, _ := NewFSUserDirectory(dir)
	d1.Save(ctx, &authcore.UserRecord{Email: "a@example.com"})

	d2, err := NewFSUserDirectory(dir)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := d2.FindByEmail(ctx, "a@example.com"); err != nil {
		t.Errorf("reopened directory lost user: %v", err)
	}
	u, _ := d2.Save(ctx, &authcore.UserRecord{Email: "b@example.com"})
	if u.ID != 2 {
		t.Errorf("ID counter not persisted, got %d", u.ID)
	}
	if _, err := os.Stat(filepath.Join(dir, "next_id")); err != nil {
		t.Errorf("id counter missing: %v", err)
	}
}

func TestFSUserDirectoryPurgeExpiredTokens(t *testing.T) {
	d := newTestDirectory(t)
	ctx := context.Background()
	d.Save(ctx, &authcore.UserRecord{Email: "a@example.com", SingleUse: &authcore.SingleUseToken{Value: "old", ExpiresAt: t0}})
	d.Save(ctx, &authcore.UserRecord{Email: "b@example.com", SingleUse: &authcore.SingleUseToken{Value: "new", ExpiresAt: t0.Add(time.Hour)}})
	d.Save(ctx, &authcore.UserRecord{Email: "c@example.com"})

	n, err := d.PurgeExpiredTokens(ctx, t0.Add(time.Minute))
	if err != nil {
		t.Fatalf("PurgeExpiredTokens failed: %v", err)
	}
	if n != 1 {
		t.Errorf("purged %d, want 1", n)
	}
	if _, err := d.FindBySingleUseToken(ctx, "old"); !errors.Is(err, authcore.ErrUserNotFound) {
		t.Errorf("expired token still resolves: %v", err)
	}
	if _, err := d.FindBySingleUseToken(ctx, "new"); err != nil {
		t.Errorf("live token purged: %v", err)
	}
}

func TestFSUserDirectoryRedeemSingleUseToken(t *testing.T) {
	d := newTestDirectory(t)
	ctx := context.Background()
	saved, err := d.Save(ctx, &authcore.UserRecord{
		Email:     "ada@example.com",
		Provider:  authcore.ProviderLocal,
		SingleUse: &authcore.SingleUseToken{Value: "tok", ExpiresAt: t0},
	})
	if err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	cleared := saved.Clone()
	cleared.SingleUse = nil
	cleared.EmailVerified = true
	if _, err := d.RedeemSingleUseToken(ctx, cleared, "wrong"); !errors.Is(err, authcore.ErrInvalidToken) {
		t.Fatalf("wrong token error = %v, want ErrInvalidToken", err)
	}
	if _, err := d.RedeemSingleUseToken(ctx, cleared, "tok"); err != nil {
		t.Fatalf("RedeemSingleUseToken failed: %v", err)
	}
	if _, err := d.RedeemSingleUseToken(ctx, cleared, "tok"); !errors.Is(err, authcore.ErrInvalidToken) {
		t.Errorf("second redeem error = %v, want ErrInvalidToken", err)
	}
	if _, err := d.FindBySingleUseToken(ctx, "tok"); !errors.Is(err, authcore.ErrUserNotFound) {
		t.Errorf("token index survived: %v", err)
	}
	got, err := d.FindByID(ctx, saved.ID)
	if err != nil || !got.EmailVerified {
		t.Errorf("got %+v, %v", got, err)
	}
	missing := &authcore.UserRecord{ID: 99, Provider: authcore.ProviderLocal}
	if _, err := d.RedeemSingleUseToken(ctx, missing, "tok"); !errors.Is(err, authcore.ErrInvalidToken) {
		t.Errorf("missing user error = %v, want ErrInvalidToken", err)
	}
}

func TestWriteAtomicFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "f")
	if err := writeAtomicFile(path, []byte("one")); err != nil {
		t.Fatal(err)
	}
	if err := writeAtomicFile(path, []byte("two")); err != nil {
		t.Fatal(err)
	}
	data, _ := os.ReadFile(path)
	if string(data) != "two" {
		t.Errorf("content = %q", data)
	}
	entries, _ := os.ReadDir(dir)
	if len(entries) != 1 {
		t.Errorf("temp files left behind: %d entries", len(entries))
	}
}
