//go:build !wasm
// +build !wasm

package gae

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"cloud.google.com/go/datastore"
	"google.golang.org/api/iterator"

	"github.com/coloringbook/authcore"
)

// UserDirectory implements authcore.UserDirectory using Google Cloud
// Datastore.
type UserDirectory struct {
	client    *datastore.Client
	namespace string
}

func NewUserDirectory(client *datastore.Client, namespace string) *UserDirectory {
	return &UserDirectory{client: client, namespace: namespace}
}

func (s *UserDirectory) userKey(id int64) *datastore.Key {
	key := datastore.IDKey(KindUser, id, nil)
	key.Namespace = s.namespace
	return key
}

func (s *UserDirectory) uniqueKey(name string) *datastore.Key {
	key := datastore.NameKey(KindUnique, name, nil)
	key.Namespace = s.namespace
	return key
}

func (s *UserDirectory) FindByID(ctx context.Context, id int64) (*authcore.UserRecord, error) {
	var entity UserEntity
	err := s.client.Get(ctx, s.userKey(id), &entity)
	if errors.Is(err, datastore.ErrNoSuchEntity) {
		return nil, authcore.ErrUserNotFound
	}
	if err != nil {
		return nil, err
	}
	return entity.ToUserRecord(), nil
}

func (s *UserDirectory) byMarker(ctx context.Context, name string) (*authcore.UserRecord, error) {
	var marker UniqueEntity
	err := s.client.Get(ctx, s.uniqueKey(name), &marker)
	if errors.Is(err, datastore.ErrNoSuchEntity) {
		return nil, authcore.ErrUserNotFound
	}
	if err != nil {
		return nil, err
	}
	return s.FindByID(ctx, marker.UserID)
}

func (s *UserDirectory) FindByEmail(ctx context.Context, email string) (*authcore.UserRecord, error) {
	if email == "" {
		return nil, authcore.ErrUserNotFound
	}
	user, err := s.byMarker(ctx, emailMarker(email))
	if err != nil {
		return nil, err
	}
	if user.Email != email {
		return nil, authcore.ErrUserNotFound
	}
	return user, nil
}

func (s *UserDirectory) FindBySingleUseToken(ctx context.Context, token string) (*authcore.UserRecord, error) {
	if token == "" {
		return nil, authcore.ErrUserNotFound
	}
	user, err := s.byMarker(ctx, tokenMarker(token))
	if err != nil {
		return nil, err
	}
	if !user.SingleUse.Matches(token) {
		return nil, authcore.ErrUserNotFound
	}
	return user, nil
}

func (s *UserDirectory) FindByProvider(ctx context.Context, provider authcore.Provider, providerID string) (*authcore.UserRecord, error) {
	if providerID == "" {
		return nil, authcore.ErrUserNotFound
	}
	user, err := s.byMarker(ctx, providerMarker(provider, providerID))
	if err != nil {
		return nil, err
	}
	if user.Provider != provider || user.ProviderID != providerID {
		return nil, authcore.ErrUserNotFound
	}
	return user, nil
}

// Save writes the user and its uniqueness markers in one transaction. A
// marker owned by another user aborts the transaction with
// ErrDirectoryConflict.
func (s *UserDirectory) Save(ctx context.Context, user *authcore.UserRecord) (*authcore.UserRecord, error) {
	return s.save(ctx, user, "")
}

// RedeemSingleUseToken saves user in a transaction that first checks the
// stored entity still holds token. A cleared or replaced token gives
// ErrInvalidToken.
func (s *UserDirectory) RedeemSingleUseToken(ctx context.Context, user *authcore.UserRecord, token string) (*authcore.UserRecord, error) {
	if user.ID == 0 || token == "" {
		return nil, authcore.ErrInvalidToken
	}
	return s.save(ctx, user, token)
}

// save writes user. A non-empty expectToken must match the stored entity's
// token inside the transaction.
func (s *UserDirectory) save(ctx context.Context, user *authcore.UserRecord, expectToken string) (*authcore.UserRecord, error) {
	out := user.Clone()
	if out.ID == 0 {
		keys, err := s.client.AllocateIDs(ctx, []*datastore.Key{s.incompleteUserKey()})
		if err != nil {
			return nil, fmt.Errorf("failed to allocate user id: %w", err)
		}
		out.ID = keys[0].ID
	}
	if out.CreatedAt.IsZero() {
		out.CreatedAt = time.Now()
	}

	key := s.userKey(out.ID)
	wanted := uniqueNames(out)
	_, err := s.client.RunInTransaction(ctx, func(tx *datastore.Transaction) error {
		var previous UserEntity
		var stale []string
		if err := tx.Get(key, &previous); err == nil {
			previous.Key = key
			for _, name := range uniqueNames(previous.ToUserRecord()) {
				if !slices.Contains(wanted, name) {
					stale = append(stale, name)
				}
			}
		} else if !errors.Is(err, datastore.ErrNoSuchEntity) {
			return err
		}
		if expectToken != "" && previous.SingleUseToken != expectToken {
			return authcore.ErrInvalidToken
		}

		for _, name := range wanted {
			var marker UniqueEntity
			err := tx.Get(s.uniqueKey(name), &marker)
			if err == nil && marker.UserID != out.ID {
				return fmt.Errorf("%w: %s", authcore.ErrDirectoryConflict, name)
			}
			if err != nil && !errors.Is(err, datastore.ErrNoSuchEntity) {
				return err
			}
		}

		entity := UserRecordToEntity(out, key)
		entity.Version = previous.Version + 1
		if _, err := tx.Put(key, entity); err != nil {
			return err
		}
		for _, name := range wanted {
			if _, err := tx.Put(s.uniqueKey(name), &UniqueEntity{UserID: out.ID}); err != nil {
				return err
			}
		}
		for _, name := range stale {
			if err := tx.Delete(s.uniqueKey(name)); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *UserDirectory) incompleteUserKey() *datastore.Key {
	key := datastore.IncompleteKey(KindUser, nil)
	key.Namespace = s.namespace
	return key
}

// PurgeExpiredTokens clears every single-use token past its deadline.
func (s *UserDirectory) PurgeExpiredTokens(ctx context.Context, now time.Time) (int, error) {
	query := datastore.NewQuery(KindUser).
		FilterField("single_use_token_expiry", "<", now).
		KeysOnly()
	if s.namespace != "" {
		query = query.Namespace(s.namespace)
	}

	var keys []*datastore.Key
	it := s.client.Run(ctx, query)
	for {
		key, err := it.Next(nil)
		if err == iterator.Done {
			break
		}
		if err != nil {
			return 0, err
		}
		keys = append(keys, key)
	}

	purged := 0
	for _, key := range keys {
		user, err := s.FindByID(ctx, key.ID)
		if errors.Is(err, authcore.ErrUserNotFound) {
			continue
		}
		if err != nil {
			return purged, err
		}
		if user.SingleUse == nil || !user.SingleUse.Expired(now) {
			continue
		}
		user.SingleUse = nil
		user.UpdatedAt = now
		if _, err := s.Save(ctx, user); err != nil {
			return purged, err
		}
		purged++
	}
	return purged, nil
}
