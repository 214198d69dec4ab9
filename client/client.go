package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// APIError is a non-2xx answer from the server.
type APIError struct {
	Status  int
	Code    string
	Message string
}

func (e *APIError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s (HTTP %d)", e.Message, e.Status)
	}
	return fmt.Sprintf("request failed: HTTP %d", e.Status)
}

// Profile is the account returned by the server.
type Profile struct {
	ID            int64  `json:"id"`
	Name          string `json:"name"`
	Email         string `json:"email"`
	EmailVerified bool   `json:"emailVerified"`
	Provider      string `json:"provider"`
	AvatarURL     string `json:"avatarUrl,omitempty"`
}

type envelope struct {
	Success bool     `json:"success"`
	Code    string   `json:"code"`
	Message string   `json:"message"`
	Token   string   `json:"token"`
	User    *Profile `json:"user"`
}

// AuthClient talks to one authcore server.
type AuthClient struct {
	mu            sync.Mutex
	serverURL     string
	basePath      string
	store         CredentialStore
	httpClient    *http.Client
	baseTransport http.RoundTripper
	now           func() time.Time
}

type ClientOption func(*AuthClient)

// WithBasePath sets where the auth routes are mounted. Defaults to /auth.
func WithBasePath(path string) ClientOption {
	return func(c *AuthClient) {
		c.basePath = "/" + strings.Trim(path, "/")
	}
}

// WithTransport sets the base transport wrapped by the session handling.
func WithTransport(transport http.RoundTripper) ClientOption {
	return func(c *AuthClient) {
		c.baseTransport = transport
	}
}

// WithClock replaces time.Now for expiry checks.
func WithClock(now func() time.Time) ClientOption {
	return func(c *AuthClient) {
		c.now = now
	}
}

// NewAuthClient creates a client for serverURL. Only scheme and host of
// serverURL are kept.
func NewAuthClient(serverURL string, store CredentialStore, opts ...ClientOption) *AuthClient {
	if u, err := url.Parse(serverURL); err == nil && u.Scheme != "" && u.Host != "" {
		serverURL = u.Scheme + "://" + u.Host
	}
	if store == nil {
		store = NewMemoryStore()
	}
	c := &AuthClient{
		serverURL:     serverURL,
		basePath:      "/auth",
		store:         store,
		baseTransport: http.DefaultTransport,
		now:           time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.httpClient = &http.Client{
		Timeout:   30 * time.Second,
		Transport: &sessionTransport{client: c, base: c.baseTransport},
	}
	return c
}

// HTTPClient returns a client that sends the stored session token.
func (c *AuthClient) HTTPClient() *http.Client {
	return c.httpClient
}

func (c *AuthClient) ServerURL() string {
	return c.serverURL
}

// Token returns the stored session token, or "" when there is none or it
// has expired.
func (c *AuthClient) Token() (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	cred, err := c.store.GetCredential(c.serverURL)
	if err != nil || cred == nil {
		return "", err
	}
	if cred.ExpiredAt(c.now()) {
		return "", nil
	}
	return cred.Token, nil
}

func (c *AuthClient) IsLoggedIn() bool {
	token, err := c.Token()
	return err == nil && token != ""
}

// Signup registers a local account and stores its session.
func (c *AuthClient) Signup(ctx context.Context, name, email, password string) (*Profile, error) {
	return c.authenticate(ctx, "/signup", map[string]string{"name": name, "email": email, "password": password})
}

// Login stores the session of a local account.
func (c *AuthClient) Login(ctx context.Context, email, password string) (*Profile, error) {
	return c.authenticate(ctx, "/login", map[string]string{"email": email, "password": password})
}

// Logout forgets the stored session.
func (c *AuthClient) Logout() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.store.RemoveCredential(c.serverURL); err != nil {
		return err
	}
	return c.store.Save()
}

// Me returns the signed-in account.
func (c *AuthClient) Me(ctx context.Context) (*Profile, error) {
	env, err := c.do(ctx, http.MethodGet, "/me", nil)
	if err != nil {
		return nil, err
	}
	return env.User, nil
}

// UpdateProfile changes name and email; empty values are left unchanged.
func (c *AuthClient) UpdateProfile(ctx context.Context, name, email string) (*Profile, error) {
	env, err := c.do(ctx, http.MethodPut, "/me", map[string]string{"name": name, "email": email})
	if err != nil {
		return nil, err
	}
	return env.User, nil
}

// ForgotPassword asks for a reset link. The server answers the same way
// whether or not the address is registered.
func (c *AuthClient) ForgotPassword(ctx context.Context, email string) error {
	_, err := c.do(ctx, http.MethodPost, "/forgot-password", map[string]string{"email": email})
	return err
}

func (c *AuthClient) ResetPassword(ctx context.Context, token, password string) error {
	_, err := c.do(ctx, http.MethodPost, "/reset-password", map[string]string{"token": token, "password": password})
	return err
}

// RequestVerification mails a verification link to the signed-in account.
func (c *AuthClient) RequestVerification(ctx context.Context) error {
	_, err := c.do(ctx, http.MethodPost, "/verify-email/request", map[string]string{})
	return err
}

func (c *AuthClient) VerifyEmail(ctx context.Context, token string) (*Profile, error) {
	env, err := c.do(ctx, http.MethodGet, "/verify-email?token="+url.QueryEscape(token), nil)
	if err != nil {
		return nil, err
	}
	return env.User, nil
}

func (c *AuthClient) authenticate(ctx context.Context, path string, body map[string]string) (*Profile, error) {
	env, err := c.do(ctx, http.MethodPost, path, body)
	if err != nil {
		return nil, err
	}
	if env.Token == "" {
		return nil, fmt.Errorf("server returned no session token")
	}

	cred := &ServerCredential{Token: env.Token, CreatedAt: c.now()}
	if env.User != nil {
		cred.UserID = env.User.ID
		cred.UserEmail = env.User.Email
	}
	// The client cannot verify the signature; exp is only used to stop
	// sending a token the server will reject anyway.
	claims := &jwt.RegisteredClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(env.Token, claims); err == nil && claims.ExpiresAt != nil {
		cred.ExpiresAt = claims.ExpiresAt.Time
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.store.SetCredential(c.serverURL, cred); err != nil {
		return nil, fmt.Errorf("failed to store credential: %w", err)
	}
	if err := c.store.Save(); err != nil {
		return nil, fmt.Errorf("failed to save credentials: %w", err)
	}
	return env.User, nil
}

func (c *AuthClient) do(ctx context.Context, method, path string, body any) (*envelope, error) {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to encode request: %w", err)
		}
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.serverURL+c.basePath+path, reader)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to server: %w", err)
	}
	defer resp.Body.Close()

	var env envelope
	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if len(data) > 0 {
		if err := json.Unmarshal(data, &env); err != nil && resp.StatusCode < 300 {
			return nil, fmt.Errorf("invalid response from server: %w", err)
		}
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &APIError{Status: resp.StatusCode, Code: env.Code, Message: env.Message}
	}
	return &env, nil
}
