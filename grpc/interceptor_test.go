package grpc

import (
	"context"
	"net"
	"testing"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/peer"
	"google.golang.org/grpc/status"

	"github.com/coloringbook/authcore"
)

var testNow = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func testCodec(t *testing.T) *authcore.SessionCodec {
	t.Helper()
	codec, err := authcore.NewSessionCodec(authcore.StaticSecret("0123456789abcdef0123456789abcdef"), authcore.SessionCodecOptions{})
	if err != nil {
		t.Fatalf("NewSessionCodec failed: %v", err)
	}
	return codec
}

func withToken(t *testing.T, codec *authcore.SessionCodec, userID int64) context.Context {
	t.Helper()
	token, err := codec.Issue(userID, testNow)
	if err != nil {
		t.Fatalf("Issue failed: %v", err)
	}
	return metadata.NewIncomingContext(context.Background(), metadata.Pairs("authorization", "Bearer "+token))
}

func fixedClock() authcore.Clock {
	return authcore.ClockFunc(func() time.Time { return testNow })
}

func TestUnaryAuthInterceptor(t *testing.T) {
	codec := testCodec(t)
	config := NewPublicMethodsConfig(codec, "/pkg.Svc/Public")
	config.Clock = fixedClock()
	interceptor := UnaryAuthInterceptor(config)

	t.Run("rejects missing token", func(t *testing.T) {
		_, err := interceptor(context.Background(), nil, &grpc.UnaryServerInfo{FullMethod: "/pkg.Svc/Method"},
			func(ctx context.Context, req any) (any, error) {
				t.Error("handler should not be called")
				return nil, nil
			})
		if status.Code(err) != codes.Unauthenticated {
			t.Errorf("expected Unauthenticated, got %v", err)
		}
	})

	t.Run("accepts valid token", func(t *testing.T) {
		var seen int64
		_, err := interceptor(withToken(t, codec, 42), nil, &grpc.UnaryServerInfo{FullMethod: "/pkg.Svc/Method"},
			func(ctx context.Context, req any) (any, error) {
				seen, _ = UserIDFromContext(ctx)
				return "ok", nil
			})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if seen != 42 {
			t.Errorf("expected user 42 in context, got %d", seen)
		}
	})

	t.Run("rejects expired token", func(t *testing.T) {
		expired := *config
		expired.Clock = authcore.ClockFunc(func() time.Time { return testNow.Add(codec.TTL() + time.Second) })
		_, err := UnaryAuthInterceptor(&expired)(withToken(t, codec, 42), nil, &grpc.UnaryServerInfo{FullMethod: "/pkg.Svc/Method"},
			func(ctx context.Context, req any) (any, error) { return nil, nil })
		if status.Code(err) != codes.Unauthenticated {
			t.Errorf("expected Unauthenticated, got %v", err)
		}
	})

	t.Run("public method without token", func(t *testing.T) {
		called := false
		_, err := interceptor(context.Background(), nil, &grpc.UnaryServerInfo{FullMethod: "/pkg.Svc/Public"},
			func(ctx context.Context, req any) (any, error) {
				called = true
				if _, ok := UserIDFromContext(ctx); ok {
					t.Error("expected no user on public call")
				}
				return nil, nil
			})
		if err != nil || !called {
			t.Errorf("expected handler call, got err=%v called=%v", err, called)
		}
	})
}

func TestUnaryAuthInterceptor_OptionalAuth(t *testing.T) {
	config := OptionalAuthConfig(testCodec(t))
	called := false
	_, err := UnaryAuthInterceptor(config)(context.Background(), nil, &grpc.UnaryServerInfo{FullMethod: "/pkg.Svc/Method"},
		func(ctx context.Context, req any) (any, error) {
			called = true
			return nil, nil
		})
	if err != nil || !called {
		t.Errorf("expected handler call, got err=%v called=%v", err, called)
	}
}

type mockServerStream struct {
	grpc.ServerStream
	ctx context.Context
}

func (m *mockServerStream) Context() context.Context { return m.ctx }

func TestStreamAuthInterceptor(t *testing.T) {
	codec := testCodec(t)
	config := DefaultInterceptorConfig(codec)
	config.Clock = fixedClock()
	interceptor := StreamAuthInterceptor(config)
	info := &grpc.StreamServerInfo{FullMethod: "/pkg.Svc/Stream"}

	t.Run("rejects missing token", func(t *testing.T) {
		err := interceptor(nil, &mockServerStream{ctx: context.Background()}, info,
			func(srv any, stream grpc.ServerStream) error {
				t.Error("handler should not be called")
				return nil
			})
		if status.Code(err) != codes.Unauthenticated {
			t.Errorf("expected Unauthenticated, got %v", err)
		}
	})

	t.Run("wraps context with user", func(t *testing.T) {
		var seen int64
		err := interceptor(nil, &mockServerStream{ctx: withToken(t, codec, 7)}, info,
			func(srv any, stream grpc.ServerStream) error {
				seen, _ = UserIDFromContext(stream.Context())
				return nil
			})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if seen != 7 {
			t.Errorf("expected user 7, got %d", seen)
		}
	})
}

func TestUnaryRateLimitInterceptor(t *testing.T) {
	limiter, err := authcore.NewRateLimiter(authcore.RateLimitConfig{
		Limits: map[authcore.EndpointClass]authcore.BucketLimit{
			authcore.EndpointLogin: {Rate: 2},
		},
	}, fixedClock(), nil, nil)
	if err != nil {
		t.Fatalf("NewRateLimiter failed: %v", err)
	}
	interceptor := UnaryRateLimitInterceptor(limiter, map[string]authcore.EndpointClass{
		"/auth.Auth/Login": authcore.EndpointLogin,
	}, nil)

	ctxFor := func(ip string) context.Context {
		return peer.NewContext(context.Background(), &peer.Peer{Addr: &net.TCPAddr{IP: net.ParseIP(ip), Port: 4000}})
	}
	call := func(ctx context.Context, method string) error {
		_, err := interceptor(ctx, nil, &grpc.UnaryServerInfo{FullMethod: method},
			func(ctx context.Context, req any) (any, error) { return nil, nil })
		return err
	}

	for i := 0; i < 2; i++ {
		if err := call(ctxFor("10.0.0.1"), "/auth.Auth/Login"); err != nil {
			t.Fatalf("call %d: unexpected error %v", i, err)
		}
	}
	if err := call(ctxFor("10.0.0.1"), "/auth.Auth/Login"); status.Code(err) != codes.ResourceExhausted {
		t.Errorf("expected ResourceExhausted, got %v", err)
	}
	if err := call(ctxFor("10.0.0.2"), "/auth.Auth/Login"); err != nil {
		t.Errorf("other client should not be limited, got %v", err)
	}
	if err := call(ctxFor("10.0.0.1"), "/auth.Auth/Profile"); err != nil {
		t.Errorf("unlisted method should pass, got %v", err)
	}
}
