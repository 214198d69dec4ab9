package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"cloud.google.com/go/datastore"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/coloringbook/authcore"
	"github.com/coloringbook/authcore/oauth2"
	"github.com/coloringbook/authcore/stores"
	"github.com/coloringbook/authcore/stores/gae"
	gormstore "github.com/coloringbook/authcore/stores/gorm"
)

// app holds the wired components of one authcored process.
type app struct {
	cfg       *authcore.Config
	logger    *slog.Logger
	registry  *prometheus.Registry
	directory authcore.UserDirectory
	codec     *authcore.SessionCodec
	limiter   *authcore.RateLimiter
	tokens    *authcore.SingleUseTokenManager
	service   *authcore.Service
	providers []*oauth2.Provider
	closers   []func() error
}

func newApp(ctx context.Context, cfg *authcore.Config, logger *slog.Logger) (*app, error) {
	a := &app{cfg: cfg, logger: logger, registry: prometheus.NewRegistry()}
	a.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics := authcore.NewMetrics(a.registry)

	directory, err := a.openDirectory(ctx)
	if err != nil {
		return nil, err
	}
	a.directory = directory

	a.codec, err = authcore.NewSessionCodec(authcore.StaticSecret(cfg.JWTSecretKey), authcore.SessionCodecOptions{
		TTL:       cfg.SessionTTL,
		Algorithm: cfg.JWTSigningAlg,
		Issuer:    cfg.JWTIssuer,
	})
	if err != nil {
		return nil, err
	}

	a.limiter, err = authcore.NewRateLimiter(cfg.RateLimitConfig(), nil, metrics, logger)
	if err != nil {
		return nil, err
	}

	a.tokens = &authcore.SingleUseTokenManager{
		Directory: directory,
		TTLs:      cfg.TokenTTLs(),
		Metrics:   metrics,
		Logger:    logger,
	}

	a.service = &authcore.Service{
		Local: &authcore.LocalAuthenticator{Directory: directory, Codec: a.codec, Logger: logger},
		Flows: &authcore.AccountFlows{
			Directory:       directory,
			Tokens:          a.tokens,
			Mailer:          a.newMailer(),
			FrontendBaseURL: cfg.FrontendBaseURL,
			Logger:          logger,
		},
		Resolver: &authcore.AccountResolver{
			Directory:  directory,
			Normalizer: &authcore.Normalizer{FetchTimeout: cfg.EmailFetchTimeout, Logger: logger},
			Metrics:    metrics,
			Logger:     logger,
		},
		Codec:       a.codec,
		Limiter:     a.limiter,
		Session:     &authcore.SessionMiddleware{Codec: a.codec, Metrics: metrics, Logger: logger},
		Directory:   directory,
		RedirectURL: cfg.OAuth2RedirectURL,
		FailureURL:  cfg.OAuth2FailureURL,
		Logger:      logger,
	}
	a.providers = a.buildProviders()
	return a, nil
}

func (a *app) newMailer() authcore.Mailer {
	if a.cfg.Mailer == "webhook" {
		return &authcore.WebhookMailer{URL: a.cfg.MailerWebhookURL, Client: &http.Client{Timeout: 10 * time.Second}}
	}
	a.logger.Warn("console mailer enabled: reset and verification links are written to the log")
	return &authcore.ConsoleMailer{Logger: a.logger}
}

func (a *app) openDirectory(ctx context.Context) (authcore.UserDirectory, error) {
	switch a.cfg.Storage {
	case "postgres":
		db, err := gormstore.OpenPostgres(a.cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("failed to open postgres: %w", err)
		}
		if err := gormstore.AutoMigrate(db); err != nil {
			return nil, fmt.Errorf("failed to migrate: %w", err)
		}
		if sqlDB, err := db.DB(); err == nil {
			a.closers = append(a.closers, sqlDB.Close)
		}
		return gormstore.NewUserDirectory(db), nil
	case "datastore":
		client, err := datastore.NewClient(ctx, a.cfg.DatastoreProject)
		if err != nil {
			return nil, fmt.Errorf("failed to create datastore client: %w", err)
		}
		a.closers = append(a.closers, client.Close)
		return gae.NewUserDirectory(client, a.cfg.DatastoreNamespace), nil
	default:
		return stores.NewFSUserDirectory(a.cfg.StoragePath)
	}
}

func (a *app) buildProviders() []*oauth2.Provider {
	constructors := map[authcore.Provider]func(id, secret, callback string, handle oauth2.HandleUserFunc) *oauth2.Provider{
		authcore.ProviderGoogle:   oauth2.NewGoogleProvider,
		authcore.ProviderFacebook: oauth2.NewFacebookProvider,
		authcore.ProviderGitHub:   oauth2.NewGithubProvider,
	}
	base := strings.TrimRight(a.cfg.OAuth2CallbackBaseURL, "/")

	var providers []*oauth2.Provider
	for _, name := range []authcore.Provider{authcore.ProviderGoogle, authcore.ProviderFacebook, authcore.ProviderGitHub} {
		client, ok := a.cfg.OAuth2Clients[string(name)]
		if !ok || client.ClientID == "" {
			continue
		}
		p := constructors[name](client.ClientID, client.ClientSecret, base+"/"+string(name)+"/callback", a.service.HandleFederatedUser)
		p.FailureURL = a.cfg.OAuth2FailureURL
		p.Logger = a.logger
		providers = append(providers, p)
	}
	return providers
}

// router mounts the auth endpoints under /auth, provider logins under
// /oauth2/{provider} and metrics under /metrics.
func (a *app) router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Mount("/auth", http.StripPrefix("/auth", a.service.Handler()))
	for _, p := range a.providers {
		prefix := "/oauth2/" + p.Name
		r.Mount(prefix, http.StripPrefix(prefix, p.Handler()))
	}
	r.Handle("/metrics", promhttp.HandlerFor(a.registry, promhttp.HandlerOpts{}))
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	return r
}

func (a *app) Close() {
	for _, closeFn := range a.closers {
		if err := closeFn(); err != nil {
			a.logger.Warn("close failed", slog.String("error", err.Error()))
		}
	}
}
