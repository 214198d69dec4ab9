// Package client is a Go client for the authcore HTTP endpoints. It keeps the
// session token per server in a CredentialStore and attaches it to requests.
package client

import (
	"time"
)

// ServerCredential is the session held for one server.
type ServerCredential struct {
	Token     string    `json:"token"`
	UserID    int64     `json:"user_id,omitempty"`
	UserEmail string    `json:"user_email,omitempty"`
	ExpiresAt time.Time `json:"expires_at"`
	CreatedAt time.Time `json:"created_at"`
}

// ExpiredAt reports whether the session token is past its deadline at now.
// A zero ExpiresAt never expires.
func (c *ServerCredential) ExpiredAt(now time.Time) bool {
	return !c.ExpiresAt.IsZero() && now.After(c.ExpiresAt)
}

// CredentialStore persists credentials keyed by server URL.
type CredentialStore interface {
	// GetCredential returns nil, nil when the server has no credential.
	GetCredential(serverURL string) (*ServerCredential, error)
	SetCredential(serverURL string, cred *ServerCredential) error
	RemoveCredential(serverURL string) error
	ListServers() ([]string, error)

	// Save persists pending changes.
	Save() error
}

// MemoryStore is a CredentialStore that lives only in memory.
type MemoryStore struct {
	servers map[string]*ServerCredential
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{servers: map[string]*ServerCredential{}}
}

func (m *MemoryStore) GetCredential(serverURL string) (*ServerCredential, error) {
	return m.servers[serverURL], nil
}

func (m *MemoryStore) SetCredential(serverURL string, cred *ServerCredential) error {
	m.servers[serverURL] = cred
	return nil
}

func (m *MemoryStore) RemoveCredential(serverURL string) error {
	delete(m.servers, serverURL)
	return nil
}

func (m *MemoryStore) ListServers() ([]string, error) {
	out := make([]string, 0, len(m.servers))
	for k := range m.servers {
		out = append(out, k)
	}
	return out, nil
}

func (m *MemoryStore) Save() error { return nil }
