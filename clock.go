package authcore

import (
	"errors"
	"fmt"
	"os"
	"sync"
	"time"
)

// Clock supplies the current time. Components take a Clock instead of calling
// time.Now so expiry and refill behaviour can be driven from tests.
type Clock interface {
	Now() time.Time
}

// ClockFunc adapts a function to the Clock interface.
type ClockFunc func() time.Time

func (f ClockFunc) Now() time.Time { return f() }

// SystemClock reads the wall clock.
var SystemClock Clock = ClockFunc(time.Now)

func clockOrSystem(c Clock) Clock {
	if c == nil {
		return SystemClock
	}
	return c
}

// SecretProvider supplies the symmetric key used to sign session tokens.
type SecretProvider interface {
	SigningSecret() ([]byte, error)
}

// StaticSecret is a SecretProvider backed by a fixed key.
type StaticSecret []byte

func (s StaticSecret) SigningSecret() ([]byte, error) {
	if len(s) == 0 {
		return nil, errors.New("signing secret is empty")
	}
	return []byte(s), nil
}

// EnvSecret reads the signing key from the named environment variable.
// The value is read once and cached for the life of the process.
type EnvSecret string

var envSecretCache sync.Map

func (e EnvSecret) SigningSecret() ([]byte, error) {
	if v, ok := envSecretCache.Load(string(e)); ok {
		return v.([]byte), nil
	}
	raw := os.Getenv(string(e))
	if raw == "" {
		return nil, fmt.Errorf("environment variable %s is not set", string(e))
	}
	secret := []byte(raw)
	envSecretCache.Store(string(e), secret)
	return secret, nil
}
