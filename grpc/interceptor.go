package grpc

import (
	"context"
	"errors"
	"log/slog"
	"strconv"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"github.com/coloringbook/authcore"
)

// InterceptorConfig configures the auth interceptors.
type InterceptorConfig struct {
	// Config holds the metadata key configuration.
	*Config

	Codec *authcore.SessionCodec
	Clock authcore.Clock

	// RequireAuth when true rejects unauthenticated calls. When false calls
	// proceed and UserIDFromContext reports no user.
	RequireAuth bool

	// PublicMethods are full method names like "/package.Service/Method"
	// that skip the RequireAuth check.
	PublicMethods map[string]bool

	Logger *slog.Logger
}

// DefaultInterceptorConfig returns a config that requires auth for all methods.
func DefaultInterceptorConfig(codec *authcore.SessionCodec) *InterceptorConfig {
	return &InterceptorConfig{
		Config:        DefaultConfig(),
		Codec:         codec,
		RequireAuth:   true,
		PublicMethods: make(map[string]bool),
	}
}

// NewPublicMethodsConfig creates a config with the specified public methods.
func NewPublicMethodsConfig(codec *authcore.SessionCodec, publicMethods ...string) *InterceptorConfig {
	config := DefaultInterceptorConfig(codec)
	for _, method := range publicMethods {
		config.PublicMethods[method] = true
	}
	return config
}

// OptionalAuthConfig returns a config that allows unauthenticated calls.
func OptionalAuthConfig(codec *authcore.SessionCodec) *InterceptorConfig {
	config := DefaultInterceptorConfig(codec)
	config.RequireAuth = false
	return config
}

func (c *InterceptorConfig) ensureDefaults() {
	if c.Config == nil {
		c.Config = DefaultConfig()
	}
	c.Config.EnsureDefaults()
	if c.PublicMethods == nil {
		c.PublicMethods = make(map[string]bool)
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// authenticate returns ctx with the caller's user id, or an Unauthenticated
// status when the method needs one and none is valid.
func (c *InterceptorConfig) authenticate(ctx context.Context, method string) (context.Context, error) {
	now := authcore.SystemClock.Now()
	if c.Clock != nil {
		now = c.Clock.Now()
	}
	if c.Codec != nil {
		for _, token := range bearerTokens(ctx, c.MetadataKeyAuthorization) {
			if id, ok := c.Codec.Verify(token, now); ok {
				return authcore.ContextWithUserID(ctx, id), nil
			}
		}
	}
	if c.RequireAuth && !c.PublicMethods[method] {
		c.Logger.DebugContext(ctx, "unauthenticated grpc call", slog.String("method", method))
		return nil, status.Error(codes.Unauthenticated, "authentication required")
	}
	return ctx, nil
}

// UnaryAuthInterceptor verifies the bearer session token of unary calls.
func UnaryAuthInterceptor(config *InterceptorConfig) grpc.UnaryServerInterceptor {
	if config == nil {
		config = DefaultInterceptorConfig(nil)
	}
	config.ensureDefaults()

	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		ctx, err := config.authenticate(ctx, info.FullMethod)
		if err != nil {
			return nil, err
		}
		return handler(ctx, req)
	}
}

// StreamAuthInterceptor verifies the bearer session token of streaming calls.
func StreamAuthInterceptor(config *InterceptorConfig) grpc.StreamServerInterceptor {
	if config == nil {
		config = DefaultInterceptorConfig(nil)
	}
	config.ensureDefaults()

	return func(srv any, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
		ctx, err := config.authenticate(ss.Context(), info.FullMethod)
		if err != nil {
			return err
		}
		return handler(srv, &wrappedStream{ServerStream: ss, ctx: ctx})
	}
}

// wrappedStream overrides Context to carry the authenticated user.
type wrappedStream struct {
	grpc.ServerStream
	ctx context.Context
}

func (w *wrappedStream) Context() context.Context {
	return w.ctx
}

// UnaryRateLimitInterceptor throttles the methods listed in classes with
// limiter. Other methods pass through. Rejected calls get ResourceExhausted
// and a retry-after header in seconds.
func UnaryRateLimitInterceptor(limiter *authcore.RateLimiter, classes map[string]authcore.EndpointClass, config *Config) grpc.UnaryServerInterceptor {
	if config == nil {
		config = DefaultConfig()
		config.IgnoreForwardedFor = !limiter.TrustsForwardedFor()
	}
	config.EnsureDefaults()

	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		class, ok := classes[info.FullMethod]
		if !ok {
			return handler(ctx, req)
		}
		ip := ClientIP(ctx, config)
		err := limiter.Check(class, ip, limiter.Now())
		var limited *authcore.RateLimitedError
		if errors.As(err, &limited) {
			secs := strconv.Itoa(int(limited.RetryAfter / time.Second))
			// SetHeader fails outside a real server transport; the status
			// still carries the rejection.
			_ = grpc.SetHeader(ctx, metadata.Pairs("retry-after", secs))
			return nil, status.Error(codes.ResourceExhausted, authcore.PublicMessage(limited))
		}
		return handler(ctx, req)
	}
}
