package authcore

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config collects the settings of an auth deployment. Load it from YAML
// with LoadConfigFile, override from the environment with ApplyEnv, then
// call EnsureDefaults and Validate.
type Config struct {
	// JWTSecretKey signs session tokens. At least 32 bytes.
	JWTSecretKey  string        `yaml:"jwt_secret_key"`
	JWTSigningAlg string        `yaml:"jwt_signing_alg"`
	JWTIssuer     string        `yaml:"jwt_issuer"`
	SessionTTL    time.Duration `yaml:"session_ttl"`

	PasswordResetTTL     time.Duration `yaml:"password_reset_ttl"`
	EmailVerificationTTL time.Duration `yaml:"email_verification_ttl"`

	LoginRPS            float64       `yaml:"login_rps"`
	SignupRPS           float64       `yaml:"signup_rps"`
	RateLimitIdleTTL    time.Duration `yaml:"rate_limit_idle_ttl"`
	RateLimitMaxEntries int           `yaml:"rate_limit_max_entries"`

	// IgnoreForwardedFor disables X-Forwarded-For client identification.
	// Set it when the service is not behind a proxy that overwrites the
	// header.
	IgnoreForwardedFor bool `yaml:"ignore_forwarded_for"`

	EmailFetchTimeout time.Duration `yaml:"email_fetch_timeout"`

	// FrontendBaseURL prefixes links in reset and verification emails.
	FrontendBaseURL string `yaml:"frontend_base_url"`

	// Mailer selects how reset and verification emails leave the process:
	// "webhook" posts them to MailerWebhookURL, "console" logs them with their
	// links and is for development only. There is no default.
	Mailer           string `yaml:"mailer"`
	MailerWebhookURL string `yaml:"mailer_webhook_url"`

	// OAuth2RedirectURL receives the session token after a federated login.
	OAuth2RedirectURL string `yaml:"oauth2_redirect_url"`
	OAuth2FailureURL  string `yaml:"oauth2_failure_url"`

	// Storage selects the user directory: "fs", "postgres" or "datastore".
	Storage            string `yaml:"storage"`
	StoragePath        string `yaml:"storage_path"`
	DatabaseURL        string `yaml:"database_url"`
	DatastoreProject   string `yaml:"datastore_project"`
	DatastoreNamespace string `yaml:"datastore_namespace"`

	// OAuth2 clients. A provider is enabled when its client id is set.
	OAuth2CallbackBaseURL string                  `yaml:"oauth2_callback_base_url"`
	OAuth2Clients         map[string]OAuth2Client `yaml:"oauth2_clients"`

	ListenAddr string `yaml:"listen_addr"`
	GRPCAddr   string `yaml:"grpc_addr"`
	LogLevel   string `yaml:"log_level"`
}

// OAuth2Client holds the credentials of one OAuth2 provider.
type OAuth2Client struct {
	ClientID     string `yaml:"client_id"`
	ClientSecret string `yaml:"client_secret"`
}

// LoadConfigFile reads a YAML config file.
func LoadConfigFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config %s: %w", path, err)
	}
	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	return cfg, nil
}

// ApplyEnv overrides fields from AUTHCORE_* environment variables.
func (c *Config) ApplyEnv() *Config {
	c.JWTSecretKey = getEnvString("AUTHCORE_JWT_SECRET_KEY", c.JWTSecretKey)
	c.JWTSigningAlg = getEnvString("AUTHCORE_JWT_SIGNING_ALG", c.JWTSigningAlg)
	c.JWTIssuer = getEnvString("AUTHCORE_JWT_ISSUER", c.JWTIssuer)
	c.SessionTTL = getEnvDuration("AUTHCORE_SESSION_TTL", c.SessionTTL)
	c.PasswordResetTTL = getEnvDuration("AUTHCORE_PASSWORD_RESET_TTL", c.PasswordResetTTL)
	c.EmailVerificationTTL = getEnvDuration("AUTHCORE_EMAIL_VERIFICATION_TTL", c.EmailVerificationTTL)
	c.LoginRPS = getEnvFloat("AUTHCORE_LOGIN_RPS", c.LoginRPS)
	c.SignupRPS = getEnvFloat("AUTHCORE_SIGNUP_RPS", c.SignupRPS)
	c.RateLimitIdleTTL = getEnvDuration("AUTHCORE_RATE_LIMIT_IDLE_TTL", c.RateLimitIdleTTL)
	c.RateLimitMaxEntries = getEnvInt("AUTHCORE_RATE_LIMIT_MAX_ENTRIES", c.RateLimitMaxEntries)
	c.IgnoreForwardedFor = getEnvBool("AUTHCORE_IGNORE_FORWARDED_FOR", c.IgnoreForwardedFor)
	c.EmailFetchTimeout = getEnvDuration("AUTHCORE_EMAIL_FETCH_TIMEOUT", c.EmailFetchTimeout)
	c.FrontendBaseURL = getEnvString("AUTHCORE_FRONTEND_BASE_URL", c.FrontendBaseURL)
	c.Mailer = getEnvString("AUTHCORE_MAILER", c.Mailer)
	c.MailerWebhookURL = getEnvString("AUTHCORE_MAILER_WEBHOOK_URL", c.MailerWebhookURL)
	c.OAuth2RedirectURL = getEnvString("AUTHCORE_OAUTH2_REDIRECT_URL", c.OAuth2RedirectURL)
	c.OAuth2FailureURL = getEnvString("AUTHCORE_OAUTH2_FAILURE_URL", c.OAuth2FailureURL)
	c.Storage = getEnvString("AUTHCORE_STORAGE", c.Storage)
	c.StoragePath = getEnvString("AUTHCORE_STORAGE_PATH", c.StoragePath)
	c.DatabaseURL = getEnvString("AUTHCORE_DATABASE_URL", c.DatabaseURL)
	c.DatastoreProject = getEnvString("AUTHCORE_DATASTORE_PROJECT", c.DatastoreProject)
	c.DatastoreNamespace = getEnvString("AUTHCORE_DATASTORE_NAMESPACE", c.DatastoreNamespace)
	c.OAuth2CallbackBaseURL = getEnvString("AUTHCORE_OAUTH2_CALLBACK_BASE_URL", c.OAuth2CallbackBaseURL)
	for _, name := range []Provider{ProviderGoogle, ProviderFacebook, ProviderGitHub} {
		prefix := "AUTHCORE_OAUTH2_" + strings.ToUpper(string(name))
		client := c.OAuth2Clients[string(name)]
		client.ClientID = getEnvString(prefix+"_CLIENT_ID", client.ClientID)
		client.ClientSecret = getEnvString(prefix+"_CLIENT_SECRET", client.ClientSecret)
		if client.ClientID != "" {
			if c.OAuth2Clients == nil {
				c.OAuth2Clients = map[string]OAuth2Client{}
			}
			c.OAuth2Clients[string(name)] = client
		}
	}
	c.ListenAddr = getEnvString("AUTHCORE_LISTEN_ADDR", c.ListenAddr)
	c.GRPCAddr = getEnvString("AUTHCORE_GRPC_ADDR", c.GRPCAddr)
	c.LogLevel = getEnvString("AUTHCORE_LOG_LEVEL", c.LogLevel)
	return c
}

// EnsureDefaults fills unset fields.
func (c *Config) EnsureDefaults() *Config {
	if c.JWTSigningAlg == "" {
		c.JWTSigningAlg = "HS256"
	}
	if c.SessionTTL <= 0 {
		c.SessionTTL = TokenExpirySession
	}
	if c.PasswordResetTTL <= 0 {
		c.PasswordResetTTL = TokenExpiryPasswordReset
	}
	if c.EmailVerificationTTL <= 0 {
		c.EmailVerificationTTL = TokenExpiryEmailVerification
	}
	if c.LoginRPS <= 0 {
		c.LoginRPS = DefaultLoginRPS
	}
	if c.SignupRPS <= 0 {
		c.SignupRPS = DefaultSignupRPS
	}
	if c.RateLimitIdleTTL <= 0 {
		c.RateLimitIdleTTL = DefaultRateLimitIdleTTL
	}
	if c.RateLimitMaxEntries <= 0 {
		c.RateLimitMaxEntries = DefaultRateLimitMaxEntries
	}
	if c.EmailFetchTimeout <= 0 {
		c.EmailFetchTimeout = DefaultEmailFetchTimeout
	}
	if c.FrontendBaseURL == "" {
		c.FrontendBaseURL = "http://localhost:3000"
	}
	if c.OAuth2RedirectURL == "" {
		c.OAuth2RedirectURL = strings.TrimRight(c.FrontendBaseURL, "/") + "/oauth2/redirect"
	}
	if c.OAuth2FailureURL == "" {
		c.OAuth2FailureURL = c.OAuth2RedirectURL
	}
	if c.Storage == "" {
		c.Storage = "fs"
	}
	if c.StoragePath == "" {
		c.StoragePath = "./data"
	}
	if c.OAuth2CallbackBaseURL == "" {
		c.OAuth2CallbackBaseURL = "http://localhost:8080/oauth2"
	}
	if c.ListenAddr == "" {
		c.ListenAddr = ":8080"
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	return c
}

// Validate reports configuration that cannot run.
func (c *Config) Validate() error {
	var errs []error
	if len(c.JWTSecretKey) < minSecretLength {
		errs = append(errs, fmt.Errorf("jwt_secret_key must be at least %d bytes", minSecretLength))
	}
	switch c.Storage {
	case "fs":
	case "postgres":
		if c.DatabaseURL == "" {
			errs = append(errs, errors.New("database_url is required for postgres storage"))
		}
	case "datastore":
		if c.DatastoreProject == "" {
			errs = append(errs, errors.New("datastore_project is required for datastore storage"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown storage %q", c.Storage))
	}
	switch c.Mailer {
	case "console":
	case "webhook":
		if c.MailerWebhookURL == "" {
			errs = append(errs, errors.New("mailer_webhook_url is required for the webhook mailer"))
		}
	case "":
		errs = append(errs, errors.New(`mailer must be set to "webhook" or "console"`))
	default:
		errs = append(errs, fmt.Errorf("unknown mailer %q", c.Mailer))
	}
	for name, client := range c.OAuth2Clients {
		if _, err := ParseProvider(name); err != nil || name == string(ProviderLocal) {
			errs = append(errs, fmt.Errorf("unknown oauth2 provider %q", name))
			continue
		}
		if client.ClientID == "" || client.ClientSecret == "" {
			errs = append(errs, fmt.Errorf("oauth2 provider %s needs client_id and client_secret", name))
		}
	}
	return errors.Join(errs...)
}

// RateLimitConfig derives the limiter settings.
func (c *Config) RateLimitConfig() RateLimitConfig {
	return RateLimitConfig{
		Limits: map[EndpointClass]BucketLimit{
			EndpointLogin:  {Rate: c.LoginRPS},
			EndpointSignup: {Rate: c.SignupRPS},
		},
		IdleTTL:            c.RateLimitIdleTTL,
		MaxEntries:         c.RateLimitMaxEntries,
		IgnoreForwardedFor: c.IgnoreForwardedFor,
	}
}

// TokenTTLs derives the single-use token lifetimes.
func (c *Config) TokenTTLs() map[TokenPurpose]time.Duration {
	return map[TokenPurpose]time.Duration{
		PurposePasswordReset:     c.PasswordResetTTL,
		PurposeEmailVerification: c.EmailVerificationTTL,
	}
}

// NewLogger builds a JSON slog logger writing to w at the named level.
func NewLogger(w io.Writer, level string) *slog.Logger {
	if w == nil {
		w = os.Stdout
	}
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: lvl}))
}

func getEnvString(key, defaultVal string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return i
}

func getEnvFloat(key string, defaultVal float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return defaultVal
	}
	return f
}

func getEnvBool(key string, defaultVal bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return defaultVal
	}
	return b
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return defaultVal
	}
	return d
}
