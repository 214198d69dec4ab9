package fs

import (
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/coloringbook/authcore/client"
)

func TestFSCredentialStore_GetSetRemove(t *testing.T) {
	store, err := NewFSCredentialStore(filepath.Join(t.TempDir(), "sessions.json"), "")
	if err != nil {
		t.Fatalf("NewFSCredentialStore() error = %v", err)
	}

	cred, err := store.GetCredential("http://localhost:8080")
	if err != nil || cred != nil {
		t.Fatalf("expected no credential, got %+v, %v", cred, err)
	}

	want := &client.ServerCredential{Token: "tok", UserID: 3, ExpiresAt: time.Now().Add(time.Hour)}
	if err := store.SetCredential("http://localhost:8080/auth/login", want); err != nil {
		t.Fatalf("SetCredential() error = %v", err)
	}
	got, _ := store.GetCredential("http://localhost:8080")
	if got == nil || got.Token != "tok" || got.UserID != 3 {
		t.Errorf("GetCredential() = %+v", got)
	}

	if err := store.RemoveCredential("http://localhost:8080"); err != nil {
		t.Fatalf("RemoveCredential() error = %v", err)
	}
	if got, _ := store.GetCredential("http://localhost:8080"); got != nil {
		t.Errorf("expected credential removed, got %+v", got)
	}
}

func TestFSCredentialStore_ServerKey(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"http://localhost:8080", "http://localhost:8080"},
		{"http://localhost:8080/some/path?x=1", "http://localhost:8080"},
		{"auth.example.com", "https://auth.example.com"},
		{"https://auth.example.com/", "https://auth.example.com"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := serverKey(tt.in)
			if err != nil {
				t.Fatalf("serverKey(%q) error = %v", tt.in, err)
			}
			if got != tt.want {
				t.Errorf("serverKey(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestFSCredentialStore_SaveAndReload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "sessions.json")
	store, err := NewFSCredentialStore(path, "")
	if err != nil {
		t.Fatalf("NewFSCredentialStore() error = %v", err)
	}
	store.SetCredential("https://a.example.com", &client.ServerCredential{Token: "a"})
	store.SetCredential("https://b.example.com", &client.ServerCredential{Token: "b"})
	if err := store.Save(); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	reloaded, err := NewFSCredentialStore(path, "")
	if err != nil {
		t.Fatalf("reload error = %v", err)
	}
	servers, _ := reloaded.ListServers()
	if len(servers) != 2 || servers[0] != "https://a.example.com" || servers[1] != "https://b.example.com" {
		t.Errorf("ListServers() = %v", servers)
	}
	if cred, _ := reloaded.GetCredential("https://b.example.com"); cred == nil || cred.Token != "b" {
		t.Errorf("expected token b after reload, got %+v", cred)
	}

	if runtime.GOOS != "windows" {
		info, err := os.Stat(path)
		if err != nil {
			t.Fatalf("Stat() error = %v", err)
		}
		if perm := info.Mode().Perm(); perm != 0600 {
			t.Errorf("file permissions = %o, want 600", perm)
		}
	}
}

func TestFSCredentialStore_Prune(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	store, _ := NewFSCredentialStore(filepath.Join(t.TempDir(), "sessions.json"), "")
	store.SetCredential("https://live.example.com", &client.ServerCredential{Token: "l", ExpiresAt: now.Add(time.Minute)})
	store.SetCredential("https://dead.example.com", &client.ServerCredential{Token: "d", ExpiresAt: now.Add(-time.Minute)})
	store.SetCredential("https://forever.example.com", &client.ServerCredential{Token: "f"})

	if removed := store.Prune(now); removed != 1 {
		t.Errorf("Prune() removed %d, want 1", removed)
	}
	servers, _ := store.ListServers()
	if len(servers) != 2 {
		t.Errorf("expected 2 servers left, got %v", servers)
	}
}
