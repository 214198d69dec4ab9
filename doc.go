// Package authcore provides the credential and session security layer of a
// web application.
//
// It covers four concerns:
//
// Session tokens: SessionCodec issues and validates HMAC-signed bearer tokens
// carrying a numeric user id. Validation fails closed and never returns an
// error for untrusted input.
//
// Federated identity: Normalizer maps the raw attributes of Google, Facebook
// and GitHub logins onto one NormalizedIdentity, including the GitHub email
// fallback ladder. AccountResolver finds or creates the local account for it
// and refuses to merge accounts across providers.
//
// Throttling: RateLimiter keeps one token bucket per endpoint class and
// client ip in a bounded LRU with idle expiry.
//
// Single-use tokens: SingleUseTokenManager issues and redeems the one reset or
// verification token a user may hold. AccountFlows builds password reset and
// email verification on top of it.
//
// # Basic Usage
//
// Pick a user directory and build the components:
//
//	import (
//	    "github.com/coloringbook/authcore"
//	    "github.com/coloringbook/authcore/stores"
//	)
//
//	dir, _ := stores.NewFSUserDirectory("/path/to/storage")
//	codec, _ := authcore.NewSessionCodec(authcore.EnvSecret("AUTHCORE_JWT_SECRET_KEY"), authcore.SessionCodecOptions{})
//	limiter, _ := authcore.NewRateLimiter(authcore.RateLimitConfig{}, nil, nil, nil)
//	tokens := &authcore.SingleUseTokenManager{Directory: dir}
//
//	svc := &authcore.Service{
//	    Local:     &authcore.LocalAuthenticator{Directory: dir, Codec: codec},
//	    Flows:     &authcore.AccountFlows{Directory: dir, Tokens: tokens, Mailer: &authcore.ConsoleMailer{}},
//	    Resolver:  &authcore.AccountResolver{Directory: dir},
//	    Codec:     codec,
//	    Limiter:   limiter,
//	    Directory: dir,
//	}
//	mux.Handle("/auth/", http.StripPrefix("/auth", svc.Handler()))
//
// Federated logins are driven by the oauth2 subpackage, which calls
// Service.HandleFederatedUser from its callback.
//
// # Client identification
//
// RateLimiter keys buckets by the first X-Forwarded-For address when it
// parses as an IP. That is only safe behind a reverse proxy that overwrites
// the header; set RateLimitConfig.IgnoreForwardedFor otherwise.
package authcore
