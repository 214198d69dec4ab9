package authcore

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// TokenExpirySession is the default session token lifetime.
const TokenExpirySession = 24 * time.Hour

// minSecretLength is the smallest accepted HMAC key, in bytes.
const minSecretLength = 32

// SessionClaims are the claims carried by a session token. UserID is the
// numeric subject; Subject repeats it as a decimal string.
type SessionClaims struct {
	UserID int64 `json:"uid"`
	jwt.RegisteredClaims
}

// SessionCodecOptions configures a SessionCodec.
type SessionCodecOptions struct {
	// TTL of issued tokens. Defaults to TokenExpirySession.
	TTL time.Duration

	// Algorithm is one of HS256, HS384 or HS512. Defaults to HS256.
	Algorithm string

	// Issuer is written to the iss claim when set.
	Issuer string

	// Clock supplies the time SubjectOf checks expiry against. Defaults to
	// SystemClock.
	Clock Clock
}

// SessionCodec issues and validates signed bearer session tokens. It holds
// no mutable state and is safe for concurrent use.
type SessionCodec struct {
	secret SecretProvider
	method *jwt.SigningMethodHMAC
	ttl    time.Duration
	issuer string
	clock  Clock
	parser *jwt.Parser
}

// NewSessionCodec builds a codec for the given secret. The secret is read
// once here to reject missing or short keys early.
func NewSessionCodec(secret SecretProvider, opts SessionCodecOptions) (*SessionCodec, error) {
	if secret == nil {
		return nil, errors.New("session codec requires a secret provider")
	}
	key, err := secret.SigningSecret()
	if err != nil {
		return nil, fmt.Errorf("failed to read signing secret: %w", err)
	}
	if len(key) < minSecretLength {
		return nil, fmt.Errorf("signing secret must be at least %d bytes", minSecretLength)
	}

	var method *jwt.SigningMethodHMAC
	switch opts.Algorithm {
	case "", "HS256":
		method = jwt.SigningMethodHS256
	case "HS384":
		method = jwt.SigningMethodHS384
	case "HS512":
		method = jwt.SigningMethodHS512
	default:
		return nil, fmt.Errorf("unsupported signing algorithm %q", opts.Algorithm)
	}

	ttl := opts.TTL
	if ttl == 0 {
		ttl = TokenExpirySession
	}
	if ttl < time.Second {
		return nil, fmt.Errorf("session ttl must be at least one second, got %s", ttl)
	}

	return &SessionCodec{
		secret: secret,
		method: method,
		ttl:    ttl,
		issuer: opts.Issuer,
		clock:  clockOrSystem(opts.Clock),
		parser: jwt.NewParser(
			jwt.WithValidMethods([]string{method.Alg()}),
			jwt.WithStrictDecoding(),
			jwt.WithoutClaimsValidation(),
		),
	}, nil
}

// TTL returns the lifetime of issued tokens.
func (c *SessionCodec) TTL() time.Duration { return c.ttl }

// Issue signs a token for subjectID that expires at now + TTL. Claims carry
// whole seconds, so iat is rounded down and exp up; the token is never
// rejected before now + TTL.
func (c *SessionCodec) Issue(subjectID int64, now time.Time) (string, error) {
	key, err := c.secret.SigningSecret()
	if err != nil {
		return "", fmt.Errorf("failed to read signing secret: %w", err)
	}
	claims := SessionClaims{
		UserID: subjectID,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Subject:   strconv.FormatInt(subjectID, 10),
			Issuer:    c.issuer,
			IssuedAt:  jwt.NewNumericDate(now.Truncate(time.Second)),
			ExpiresAt: jwt.NewNumericDate(ceilSecond(now.Add(c.ttl))),
		},
	}
	signed, err := jwt.NewWithClaims(c.method, claims).SignedString(key)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, nil
}

// Validate reports whether token carries a valid signature under the
// configured algorithm and has not expired at now. It never returns an error
// for untrusted input; every failure is false.
func (c *SessionCodec) Validate(token string, now time.Time) bool {
	_, ok := c.Verify(token, now)
	return ok
}

// Verify validates token like Validate and returns its subject on success.
func (c *SessionCodec) Verify(token string, now time.Time) (int64, bool) {
	claims, err := c.parse(token)
	if err != nil {
		return 0, false
	}
	if err := checkLifetime(claims, now); err != nil {
		return 0, false
	}
	return claims.UserID, true
}

// SubjectOf returns the subject id of a token that is valid at the codec's
// clock. Any token that Validate would reject returns ErrTokenNotValidated.
func (c *SessionCodec) SubjectOf(token string) (int64, error) {
	claims, err := c.parse(token)
	if err == nil {
		err = checkLifetime(claims, c.clock.Now())
	}
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrTokenNotValidated, err)
	}
	return claims.UserID, nil
}

func checkLifetime(claims *SessionClaims, now time.Time) error {
	if claims.ExpiresAt == nil || claims.IssuedAt == nil {
		return errors.New("token lacks exp or iat")
	}
	exp := claims.ExpiresAt.Time
	if !exp.After(claims.IssuedAt.Time) {
		return errors.New("token expires before it was issued")
	}
	if now.After(exp) {
		return errors.New("token is expired")
	}
	return nil
}

// ceilSecond rounds t up to the next whole second.
func ceilSecond(t time.Time) time.Time {
	down := t.Truncate(time.Second)
	if down.Equal(t) {
		return down
	}
	return down.Add(time.Second)
}

func (c *SessionCodec) parse(token string) (*SessionClaims, error) {
	if token == "" {
		return nil, errors.New("empty token")
	}
	key, err := c.secret.SigningSecret()
	if err != nil {
		return nil, err
	}
	claims := &SessionClaims{}
	parsed, err := c.parser.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return key, nil
	})
	if err != nil {
		return nil, err
	}
	if !parsed.Valid {
		return nil, errors.New("token signature is invalid")
	}
	if claims.Subject != strconv.FormatInt(claims.UserID, 10) {
		return nil, errors.New("subject claim does not match uid")
	}
	return claims, nil
}
