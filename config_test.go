package authcore_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/coloringbook/authcore"
)

func TestLoadConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "authcore.yaml")
	data := `
jwt_secret_key: 0123456789abcdef0123456789abcdef
session_ttl: 12h
password_reset_ttl: 30m
login_rps: 3
storage: postgres
database_url: postgres://localhost/auth
mailer: webhook
mailer_webhook_url: http://mail.internal/send
oauth2_clients:
  github:
    client_id: gh-id
    client_secret: gh-secret
`
	if err := os.WriteFile(path, []byte(data), 0o600); err != nil {
		t.Fatal(err)
	}
	cfg, err := authcore.LoadConfigFile(path)
	if err != nil {
		t.Fatalf("LoadConfigFile failed: %v", err)
	}
	cfg.EnsureDefaults()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate failed: %v", err)
	}
	if cfg.SessionTTL != 12*time.Hour || cfg.PasswordResetTTL != 30*time.Minute {
		t.Errorf("durations = %v, %v", cfg.SessionTTL, cfg.PasswordResetTTL)
	}
	if cfg.EmailVerificationTTL != authcore.TokenExpiryEmailVerification {
		t.Errorf("EmailVerificationTTL = %v", cfg.EmailVerificationTTL)
	}
	if cfg.Mailer != "webhook" || cfg.MailerWebhookURL != "http://mail.internal/send" {
		t.Errorf("mailer = %q, %q", cfg.Mailer, cfg.MailerWebhookURL)
	}
	if cfg.OAuth2Clients["github"].ClientID != "gh-id" {
		t.Errorf("OAuth2Clients = %+v", cfg.OAuth2Clients)
	}
	limits := cfg.RateLimitConfig().Limits
	if limits[authcore.EndpointLogin].Rate != 3 || limits[authcore.EndpointSignup].Rate != authcore.DefaultSignupRPS {
		t.Errorf("limits = %+v", limits)
	}
	if cfg.OAuth2RedirectURL != "http://localhost:3000/oauth2/redirect" || cfg.OAuth2FailureURL != cfg.OAuth2RedirectURL {
		t.Errorf("redirect urls = %q, %q", cfg.OAuth2RedirectURL, cfg.OAuth2FailureURL)
	}
}

func TestLoadConfigFileErrors(t *testing.T) {
	if _, err := authcore.LoadConfigFile(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("missing file accepted")
	}
	path := filepath.Join(t.TempDir(), "bad.yaml")
	os.WriteFile(path, []byte("session_ttl: [not a duration"), 0o600)
	if _, err := authcore.LoadConfigFile(path); err == nil {
		t.Error("malformed yaml accepted")
	}
}

func TestApplyEnv(t *testing.T) {
	t.Setenv("AUTHCORE_JWT_SECRET_KEY", testSecret)
	t.Setenv("AUTHCORE_SIGNUP_RPS", "2.5")
	t.Setenv("AUTHCORE_IGNORE_FORWARDED_FOR", "true")
	t.Setenv("AUTHCORE_SESSION_TTL", "not-a-duration")
	t.Setenv("AUTHCORE_OAUTH2_GOOGLE_CLIENT_ID", "g-id")
	t.Setenv("AUTHCORE_OAUTH2_GOOGLE_CLIENT_SECRET", "g-secret")
	t.Setenv("AUTHCORE_STORAGE", "datastore")
	t.Setenv("AUTHCORE_DATASTORE_PROJECT", "coloring-prod")
	t.Setenv("AUTHCORE_MAILER", "console")

	cfg := (&authcore.Config{SessionTTL: time.Hour}).ApplyEnv().EnsureDefaults()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate failed: %v", err)
	}
	if cfg.JWTSecretKey != testSecret || cfg.SignupRPS != 2.5 || !cfg.IgnoreForwardedFor {
		t.Errorf("cfg = %+v", cfg)
	}
	if cfg.SessionTTL != time.Hour {
		t.Errorf("unparseable env value should keep the previous value, got %v", cfg.SessionTTL)
	}
	if got := cfg.OAuth2Clients["google"]; got.ClientID != "g-id" || got.ClientSecret != "g-secret" {
		t.Errorf("google client = %+v", got)
	}
	if _, ok := cfg.OAuth2Clients["github"]; ok {
		t.Error("github enabled without a client id")
	}
	if !cfg.RateLimitConfig().IgnoreForwardedFor {
		t.Error("forwarded-for policy not carried into the limiter config")
	}
}

func TestConfigValidate(t *testing.T) {
	valid := func() *authcore.Config {
		return (&authcore.Config{JWTSecretKey: testSecret, Mailer: "console"}).EnsureDefaults()
	}
	tests := []struct {
		name   string
		mutate func(c *authcore.Config)
		want   string
	}{
		{"valid", func(c *authcore.Config) {}, ""},
		{"short secret", func(c *authcore.Config) { c.JWTSecretKey = "short" }, "jwt_secret_key"},
		{"postgres without url", func(c *authcore.Config) { c.Storage = "postgres" }, "database_url"},
		{"datastore without project", func(c *authcore.Config) { c.Storage = "datastore" }, "datastore_project"},
		{"unknown storage", func(c *authcore.Config) { c.Storage = "redis" }, "unknown storage"},
		{"no mailer", func(c *authcore.Config) { c.Mailer = "" }, "mailer must be set"},
		{"webhook without url", func(c *authcore.Config) { c.Mailer = "webhook" }, "mailer_webhook_url"},
		{"unknown mailer", func(c *authcore.Config) { c.Mailer = "smtp" }, "unknown mailer"},
		{"unknown provider", func(c *authcore.Config) {
			c.OAuth2Clients = map[string]authcore.OAuth2Client{"myspace": {ClientID: "a", ClientSecret: "b"}}
		}, "unknown oauth2 provider"},
		{"local provider", func(c *authcore.Config) {
			c.OAuth2Clients = map[string]authcore.OAuth2Client{"local": {ClientID: "a", ClientSecret: "b"}}
		}, "unknown oauth2 provider"},
		{"missing client secret", func(c *authcore.Config) {
			c.OAuth2Clients = map[string]authcore.OAuth2Client{"github": {ClientID: "a"}}
		}, "client_secret"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := valid()
			tt.mutate(c)
			err := c.Validate()
			if tt.want == "" {
				if err != nil {
					t.Errorf("Validate() = %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("Validate() = %v, want mention of %q", err, tt.want)
			}
		})
	}
}

func TestNewLogger(t *testing.T) {
	var buf strings.Builder
	logger := authcore.NewLogger(&buf, "warn")
	logger.Info("hidden")
	logger.Warn("shown", "k", "v")
	out := buf.String()
	if strings.Contains(out, "hidden") || !strings.Contains(out, `"msg":"shown"`) {
		t.Errorf("log output = %q", out)
	}
}
