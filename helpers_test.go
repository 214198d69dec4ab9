package authcore_test

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/coloringbook/authcore"
	"github.com/coloringbook/authcore/stores"
)

const testSecret = "0123456789abcdef0123456789abcdef"

var epoch = time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)

// fakeClock is a Clock tests move by hand.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock { return &fakeClock{now: epoch} }

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// countingDirectory records writes on top of a file directory.
type countingDirectory struct {
	*stores.FSUserDirectory

	mu    sync.Mutex
	saves int
}

func (d *countingDirectory) Save(ctx context.Context, u *authcore.UserRecord) (*authcore.UserRecord, error) {
	d.mu.Lock()
	d.saves++
	d.mu.Unlock()
	return d.FSUserDirectory.Save(ctx, u)
}

func (d *countingDirectory) RedeemSingleUseToken(ctx context.Context, u *authcore.UserRecord, token string) (*authcore.UserRecord, error) {
	d.mu.Lock()
	d.saves++
	d.mu.Unlock()
	return d.FSUserDirectory.RedeemSingleUseToken(ctx, u, token)
}

func (d *countingDirectory) Saves() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.saves
}

func newDirectory(t *testing.T) *countingDirectory {
	t.Helper()
	fs, err := stores.NewFSUserDirectory(t.TempDir())
	if err != nil {
		t.Fatalf("NewFSUserDirectory failed: %v", err)
	}
	return &countingDirectory{FSUserDirectory: fs}
}

func newCodec(t *testing.T) *authcore.SessionCodec {
	t.Helper()
	codec, err := authcore.NewSessionCodec(authcore.StaticSecret(testSecret), authcore.SessionCodecOptions{})
	if err != nil {
		t.Fatalf("NewSessionCodec failed: %v", err)
	}
	return codec
}

// sentMail is one message captured by recordingMailer.
type sentMail struct {
	To      string
	Subject string
	Link    string
	TTL     int
	Locale  string
}

type recordingMailer struct {
	mu   sync.Mutex
	sent []sentMail
	err  error
}

func (m *recordingMailer) Send(ctx context.Context, to, subjectKey string, args map[string]any, locale string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	link, _ := args["link"].(string)
	ttl, _ := args["ttlMinutes"].(int)
	m.sent = append(m.sent, sentMail{To: to, Subject: subjectKey, Link: link, TTL: ttl, Locale: locale})
	return nil
}

func (m *recordingMailer) Sent() []sentMail {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]sentMail(nil), m.sent...)
}

func saveLocalUser(t *testing.T, dir authcore.UserDirectory, email, password string) *authcore.UserRecord {
	t.Helper()
	hash, err := authcore.HashPassword(password)
	if err != nil {
		t.Fatalf("HashPassword failed: %v", err)
	}
	u, err := dir.Save(context.Background(), &authcore.UserRecord{
		Name:         "Local User",
		Email:        email,
		PasswordHash: hash,
		Provider:     authcore.ProviderLocal,
		CreatedAt:    epoch,
		UpdatedAt:    epoch,
	})
	if err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	return u
}
