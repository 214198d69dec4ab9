package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/coloringbook/authcore"
	authgrpc "github.com/coloringbook/authcore/grpc"
)

var maintenanceInterval time.Duration

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the auth endpoints",
	Args:  cobra.NoArgs,
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().DurationVar(&maintenanceInterval, "maintenance-interval", 10*time.Minute,
		"how often expired single-use tokens and idle rate limit buckets are purged")
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	logger := authcore.NewLogger(os.Stdout, cfg.LogLevel)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize: %w", err)
	}
	defer a.Close()

	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           a.router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 2)
	go func() {
		logger.Info("http server listening", slog.String("addr", cfg.ListenAddr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	var grpcServer *grpc.Server
	if cfg.GRPCAddr != "" {
		grpcServer, err = a.startGRPC(cfg.GRPCAddr, errCh)
		if err != nil {
			return err
		}
	}

	go a.maintain(ctx, maintenanceInterval)

	select {
	case <-ctx.Done():
	case err := <-errCh:
		logger.Error("server failed", slog.String("error", err.Error()))
		stop()
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if grpcServer != nil {
		grpcServer.GracefulStop()
	}
	return srv.Shutdown(shutdownCtx)
}

// startGRPC serves the standard health service behind the session
// interceptors. Health checks stay public.
func (a *app) startGRPC(addr string, errCh chan<- error) (*grpc.Server, error) {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	authConfig := authgrpc.NewPublicMethodsConfig(a.codec,
		healthpb.Health_Check_FullMethodName,
		healthpb.Health_Watch_FullMethodName,
	)
	authConfig.Logger = a.logger

	server := grpc.NewServer(
		grpc.ChainUnaryInterceptor(authgrpc.UnaryAuthInterceptor(authConfig)),
		grpc.ChainStreamInterceptor(authgrpc.StreamAuthInterceptor(authConfig)),
	)
	healthpb.RegisterHealthServer(server, health.NewServer())

	go func() {
		a.logger.Info("grpc server listening", slog.String("addr", addr))
		if err := server.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			errCh <- err
		}
	}()
	return server, nil
}

// maintain purges expired single-use tokens and idle rate limit buckets
// until ctx is done.
func (a *app) maintain(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			purged, err := a.tokens.PurgeExpired(ctx, now)
			if err != nil {
				a.logger.Warn("token purge failed", slog.String("error", err.Error()))
			}
			swept := a.limiter.Sweep(now)
			a.logger.Debug("maintenance", slog.Int("tokens_purged", purged), slog.Int("buckets_swept", swept))
		}
	}
}
