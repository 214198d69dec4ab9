package stores

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/coloringbook/authcore"
)

// FSUserDirectory stores users as JSON files under StoragePath/users, with
// small index files mapping email, single-use token and provider account to
// a user id. A mutex serializes writers within the process; it is not safe
// to share one StoragePath between processes.
type FSUserDirectory struct {
	StoragePath string

	mu sync.Mutex
}

// NewFSUserDirectory creates the directory layout under storagePath.
func NewFSUserDirectory(storagePath string) (*FSUserDirectory, error) {
	d := &FSUserDirectory{StoragePath: storagePath}
	for _, sub := range []string{"users", "emails", "tokens", "providers"} {
		if err := os.MkdirAll(filepath.Join(storagePath, sub), 0755); err != nil {
			return nil, fmt.Errorf("failed to create %s: %w", sub, err)
		}
	}
	return d, nil
}

func (d *FSUserDirectory) userPath(id int64) string {
	return filepath.Join(d.StoragePath, "users", strconv.FormatInt(id, 10)+".json")
}

// indexPath hashes the key so arbitrary input never reaches the filesystem.
func (d *FSUserDirectory) indexPath(kind, key string) string {
	sum := sha256.Sum256([]byte(key))
	return filepath.Join(d.StoragePath, kind, hex.EncodeToString(sum[:]))
}

func providerKey(provider authcore.Provider, providerID string) string {
	return string(provider) + ":" + providerID
}

func (d *FSUserDirectory) FindByID(ctx context.Context, id int64) (*authcore.UserRecord, error) {
	return d.readUser(id)
}

func (d *FSUserDirectory) FindByEmail(ctx context.Context, email string) (*authcore.UserRecord, error) {
	if email == "" {
		return nil, authcore.ErrUserNotFound
	}
	user, err := d.lookup("emails", email)
	if err != nil {
		return nil, err
	}
	if user.Email != email {
		return nil, authcore.ErrUserNotFound
	}
	return user, nil
}

func (d *FSUserDirectory) FindBySingleUseToken(ctx context.Context, token string) (*authcore.UserRecord, error) {
	if token == "" {
		return nil, authcore.ErrUserNotFound
	}
	user, err := d.lookup("tokens", token)
	if err != nil {
		return nil, err
	}
	if !user.SingleUse.Matches(token) {
		return nil, authcore.ErrUserNotFound
	}
	return user, nil
}

func (d *FSUserDirectory) FindByProvider(ctx context.Context, provider authcore.Provider, providerID string) (*authcore.UserRecord, error) {
	if providerID == "" {
		return nil, authcore.ErrUserNotFound
	}
	user, err := d.lookup("providers", providerKey(provider, providerID))
	if err != nil {
		return nil, err
	}
	if user.Provider != provider || user.ProviderID != providerID {
		return nil, authcore.ErrUserNotFound
	}
	return user, nil
}

// Save inserts or updates user. Index files pointing at another user make
// the save fail with ErrDirectoryConflict.
func (d *FSUserDirectory) Save(ctx context.Context, user *authcore.UserRecord) (*authcore.UserRecord, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.saveLocked(user)
}

// RedeemSingleUseToken saves user only if the stored record still holds
// token, so a token is consumed at most once.
func (d *FSUserDirectory) RedeemSingleUseToken(ctx context.Context, user *authcore.UserRecord, token string) (*authcore.UserRecord, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	current, err := d.readUser(user.ID)
	if errors.Is(err, authcore.ErrUserNotFound) {
		return nil, authcore.ErrInvalidToken
	}
	if err != nil {
		return nil, err
	}
	if !current.SingleUse.Matches(token) {
		return nil, authcore.ErrInvalidToken
	}
	return d.saveLocked(user)
}

func (d *FSUserDirectory) saveLocked(user *authcore.UserRecord) (*authcore.UserRecord, error) {
	out := user.Clone()
	var previous *authcore.UserRecord
	if out.ID == 0 {
		id, err := d.nextID()
		if err != nil {
			return nil, err
		}
		out.ID = id
	} else if prev, err := d.readUser(out.ID); err == nil {
		previous = prev
	} else if !errors.Is(err, authcore.ErrUserNotFound) {
		return nil, err
	}
	if out.CreatedAt.IsZero() {
		out.CreatedAt = time.Now()
	}

	wanted := d.indexes(out)
	for kind, key := range wanted {
		owner, err := d.readIndex(kind, key)
		if err != nil {
			return nil, err
		}
		if owner != 0 && owner != out.ID {
			if d.indexIsLive(kind, key, owner) {
				return nil, fmt.Errorf("%w: %s already taken", authcore.ErrDirectoryConflict, strings.TrimSuffix(kind, "s"))
			}
		}
	}

	data, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return nil, err
	}
	if err := writeAtomicFile(d.userPath(out.ID), data); err != nil {
		return nil, err
	}
	for kind, key := range wanted {
		if err := writeAtomicFile(d.indexPath(kind, key), []byte(strconv.FormatInt(out.ID, 10))); err != nil {
			return nil, err
		}
	}
	if previous != nil {
		for kind, key := range d.indexes(previous) {
			if wanted[kind] != key {
				os.Remove(d.indexPath(kind, key))
			}
		}
	}
	return out.Clone(), nil
}

// PurgeExpiredTokens clears every single-use token past its deadline.
func (d *FSUserDirectory) PurgeExpiredTokens(ctx context.Context, now time.Time) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	entries, err := os.ReadDir(filepath.Join(d.StoragePath, "users"))
	if err != nil {
		return 0, err
	}
	purged := 0
	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return purged, err
		}
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, ".json") {
			continue
		}
		id, err := strconv.ParseInt(strings.TrimSuffix(name, ".json"), 10, 64)
		if err != nil {
			continue
		}
		user, err := d.readUser(id)
		if err != nil {
			return purged, err
		}
		if user.SingleUse == nil || !user.SingleUse.Expired(now) {
			continue
		}
		user.SingleUse = nil
		user.UpdatedAt = now
		if _, err := d.saveLocked(user); err != nil {
			return purged, err
		}
		purged++
	}
	return purged, nil
}

// indexes lists the index entries a record should own.
func (d *FSUserDirectory) indexes(u *authcore.UserRecord) map[string]string {
	out := map[string]string{}
	if u.Email != "" {
		out["emails"] = u.Email
	}
	if u.SingleUse != nil && u.SingleUse.Value != "" {
		out["tokens"] = u.SingleUse.Value
	}
	if u.ProviderID != "" {
		out["providers"] = providerKey(u.Provider, u.ProviderID)
	}
	return out
}

// indexIsLive reports whether owner still holds key; stale index files left
// by a crash between writes do not block other users.
func (d *FSUserDirectory) indexIsLive(kind, key string, owner int64) bool {
	user, err := d.readUser(owner)
	if err != nil {
		return false
	}
	return d.indexes(user)[kind] == key
}

func (d *FSUserDirectory) lookup(kind, key string) (*authcore.UserRecord, error) {
	id, err := d.readIndex(kind, key)
	if err != nil {
		return nil, err
	}
	if id == 0 {
		return nil, authcore.ErrUserNotFound
	}
	return d.readUser(id)
}

func (d *FSUserDirectory) readIndex(kind, key string) (int64, error) {
	data, err := os.ReadFile(d.indexPath(kind, key))
	if os.IsNotExist(err) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return strconv.ParseInt(strings.TrimSpace(string(data)), 10, 64)
}

func (d *FSUserDirectory) readUser(id int64) (*authcore.UserRecord, error) {
	data, err := os.ReadFile(d.userPath(id))
	if os.IsNotExist(err) {
		return nil, authcore.ErrUserNotFound
	}
	if err != nil {
		return nil, err
	}
	var user authcore.UserRecord
	if err := json.Unmarshal(data, &user); err != nil {
		return nil, fmt.Errorf("corrupt user file %d: %w", id, err)
	}
	return &user, nil
}

// nextID reads and advances the id counter. Callers hold d.mu.
func (d *FSUserDirectory) nextID() (int64, error) {
	path := filepath.Join(d.StoragePath, "next_id")
	next := int64(1)
	data, err := os.ReadFile(path)
	if err == nil {
		if next, err = strconv.ParseInt(strings.TrimSpace(string(data)), 10, 64); err != nil {
			return 0, fmt.Errorf("corrupt id counter: %w", err)
		}
	} else if !os.IsNotExist(err) {
		return 0, err
	}
	if err := writeAtomicFile(path, []byte(strconv.FormatInt(next+1, 10))); err != nil {
		return 0, err
	}
	return next, nil
}
