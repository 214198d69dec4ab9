package authcore

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrTokenNotValidated is a usage error: SubjectOf was called with a token
	// whose signature does not verify.
	ErrTokenNotValidated = errors.New("session token has not been validated")

	// ErrInvalidToken means no user holds the presented single-use token.
	ErrInvalidToken = errors.New("invalid single-use token")

	// ErrExpiredToken means the presented single-use token was found but its
	// deadline has passed. The token has been cleared.
	ErrExpiredToken = errors.New("expired single-use token")

	ErrUserNotFound       = errors.New("user not found")
	ErrDirectoryConflict  = errors.New("directory uniqueness conflict")
	ErrEmailInUse         = errors.New("email address is already in use")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrWeakPassword       = errors.New("password must be at least 8 characters")
	ErrAlreadyVerified    = errors.New("email address is already verified")
	ErrNoEmailOnFile      = errors.New("no email address on file")
)

// UnsupportedProviderError is returned when an identity provider name has no
// registered normalizer.
type UnsupportedProviderError struct {
	Provider string
}

func (e *UnsupportedProviderError) Error() string {
	return fmt.Sprintf("login with %q is not supported", e.Provider)
}

// ProviderMismatchError is returned when a federated login presents an email
// that already belongs to an account registered through another provider.
// Accounts are never merged across providers.
type ProviderMismatchError struct {
	Email    string
	Existing Provider
	Incoming Provider
}

func (e *ProviderMismatchError) Error() string {
	return fmt.Sprintf("account is registered with %s, please use your %s account to login", e.Existing, e.Existing)
}

// RateLimitedError is the deny outcome of the rate limiter. It is always
// recoverable after RetryAfter.
type RateLimitedError struct {
	Class      EndpointClass
	ClientIP   string
	RetryAfter time.Duration
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("too many %s requests, retry after %s", e.Class, e.RetryAfter)
}

// DeliveryError wraps a failure of the Mailer after a single-use token was
// issued successfully.
type DeliveryError struct {
	To  string
	Err error
}

func (e *DeliveryError) Error() string {
	return fmt.Sprintf("failed to deliver message: %v", e.Err)
}

func (e *DeliveryError) Unwrap() error { return e.Err }

// IsInvalidOrExpired reports whether err is a single-use token redemption
// failure. Callers must not tell the two cases apart in responses.
func IsInvalidOrExpired(err error) bool {
	return errors.Is(err, ErrInvalidToken) || errors.Is(err, ErrExpiredToken)
}

// PublicCode maps an error to the machine-readable code sent to clients.
func PublicCode(err error) string {
	var unsupported *UnsupportedProviderError
	var mismatch *ProviderMismatchError
	var limited *RateLimitedError
	switch {
	case err == nil:
		return ""
	case IsInvalidOrExpired(err):
		return "invalid_or_expired_token"
	case errors.As(err, &limited):
		return "rate_limited"
	case errors.As(err, &unsupported):
		return "unsupported_provider"
	case errors.As(err, &mismatch):
		return "provider_mismatch"
	case errors.Is(err, ErrInvalidCredentials):
		return "invalid_credentials"
	case errors.Is(err, ErrEmailInUse), errors.Is(err, ErrDirectoryConflict):
		return "email_in_use"
	case errors.Is(err, ErrWeakPassword):
		return "weak_password"
	case errors.Is(err, ErrInvalidEmail):
		return "invalid_email"
	case errors.Is(err, ErrNameRequired):
		return "name_required"
	case errors.Is(err, ErrAlreadyVerified):
		return "already_verified"
	case errors.Is(err, ErrNoEmailOnFile):
		return "no_email"
	case errors.Is(err, ErrUserNotFound):
		return "not_found"
	}
	return "internal_error"
}

// PublicMessage is the client-facing message for err. Invalid and expired
// single-use tokens share one message.
func PublicMessage(err error) string {
	switch PublicCode(err) {
	case "":
		return ""
	case "invalid_or_expired_token":
		return "Invalid or expired token"
	case "rate_limited":
		return "Too many requests, please try again later"
	case "unsupported_provider", "provider_mismatch":
		return err.Error()
	case "invalid_credentials":
		return "Invalid credentials"
	case "email_in_use":
		return "Email address already in use"
	case "weak_password":
		return "Password must be at least 8 characters"
	case "invalid_email":
		return "Invalid email format"
	case "name_required":
		return "Name is required"
	case "already_verified":
		return "Email is already verified"
	case "no_email":
		return "No email address on file"
	case "not_found":
		return "User not found"
	}
	return "Something went wrong"
}
