// Package oauth2 drives the browser side of federated logins against Google,
// Facebook and GitHub. Each Provider serves a login redirect and a callback;
// the callback exchanges the code, fetches the user's attributes and hands
// them to a HandleUserFunc such as authcore.Service.HandleFederatedUser.
//
// OAuth state is kept in an scs session, so the handler returned by
// Provider.Handler is wrapped in the session manager's LoadAndSave.
package oauth2

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/alexedwards/scs/v2"
	"golang.org/x/oauth2"

	"github.com/coloringbook/authcore"
)

// HandleUserFunc receives a completed federated login. fetch is non-nil only
// for providers that can look up a primary email separately.
type HandleUserFunc func(provider string, token *oauth2.Token, userInfo map[string]any, fetch authcore.EmailFetcher, w http.ResponseWriter, r *http.Request)

// Provider is one OAuth2 identity provider.
type Provider struct {
	// Name is the provider name passed to HandleUser, e.g. "github".
	Name   string
	Config oauth2.Config

	// UserInfoURL returns the user's attributes as a JSON object. Can be
	// overridden for testing.
	UserInfoURL string

	// EmailsURL lists the user's addresses, for providers that have one.
	EmailsURL string

	// EmailFetcher builds the primary email lookup for a token. Nil for
	// providers without one.
	EmailFetcher func(ctx context.Context, token *oauth2.Token) authcore.EmailFetcher

	// HTTPClient is used for the code exchange and user info requests.
	HTTPClient *http.Client

	// Sessions stores the OAuth state between redirect and callback.
	Sessions *scs.SessionManager

	HandleUser HandleUserFunc

	// FailureURL receives ?error=<code> when the callback cannot complete.
	// When empty the callback answers 400.
	FailureURL string

	Logger *slog.Logger
}

func (p *Provider) EnsureDefaults() *Provider {
	if p.HTTPClient == nil {
		p.HTTPClient = &http.Client{Timeout: 10 * time.Second}
	}
	if p.Sessions == nil {
		p.Sessions = scs.New()
	}
	if p.Logger == nil {
		p.Logger = slog.Default()
	}
	return p
}

// Handler serves GET / (redirect to the provider) and GET /callback relative
// to wherever it is mounted.
func (p *Provider) Handler() http.Handler {
	p.EnsureDefaults()
	mux := http.NewServeMux()
	mux.HandleFunc("GET /{$}", p.handleLogin)
	mux.HandleFunc("GET /callback", p.handleCallback)
	return p.Sessions.LoadAndSave(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// A prefix-stripped mount leaves the bare login path empty.
		if r.URL.Path == "" {
			u := *r.URL
			u.Path = "/"
			r = r.WithContext(r.Context())
			r.URL = &u
		}
		mux.ServeHTTP(w, r)
	}))
}

func (p *Provider) stateKey() string {
	return "oauth2state." + p.Name
}

func (p *Provider) handleLogin(w http.ResponseWriter, r *http.Request) {
	state, err := newState()
	if err != nil {
		p.Logger.ErrorContext(r.Context(), "failed to generate oauth state", slog.String("error", err.Error()))
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	p.Sessions.Put(r.Context(), p.stateKey(), state)
	http.Redirect(w, r, p.Config.AuthCodeURL(state), http.StatusFound)
}

func (p *Provider) handleCallback(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	want := p.Sessions.PopString(ctx, p.stateKey())
	if want == "" || r.FormValue("state") != want {
		p.Logger.InfoContext(ctx, "oauth state mismatch", slog.String("provider", p.Name))
		p.fail(w, r, "invalid_state")
		return
	}
	if reason := r.FormValue("error"); reason != "" {
		p.Logger.InfoContext(ctx, "provider denied login",
			slog.String("provider", p.Name),
			slog.String("reason", reason))
		p.fail(w, r, "access_denied")
		return
	}

	exchangeCtx := context.WithValue(ctx, oauth2.HTTPClient, p.HTTPClient)
	token, err := p.Config.Exchange(exchangeCtx, r.FormValue("code"))
	if err != nil {
		p.Logger.InfoContext(ctx, "code exchange failed",
			slog.String("provider", p.Name),
			slog.String("error", err.Error()))
		p.fail(w, r, "exchange_failed")
		return
	}

	userInfo, err := p.fetchUserInfo(ctx, token)
	if err != nil {
		p.Logger.WarnContext(ctx, "user info request failed",
			slog.String("provider", p.Name),
			slog.String("error", err.Error()))
		p.fail(w, r, "userinfo_failed")
		return
	}

	var fetch authcore.EmailFetcher
	if p.EmailFetcher != nil {
		fetch = p.EmailFetcher(ctx, token)
	}
	p.HandleUser(p.Name, token, userInfo, fetch, w, r)
}

func (p *Provider) fail(w http.ResponseWriter, r *http.Request, code string) {
	if p.FailureURL == "" {
		http.Error(w, code, http.StatusBadRequest)
		return
	}
	u, err := url.Parse(p.FailureURL)
	if err != nil {
		http.Error(w, code, http.StatusBadRequest)
		return
	}
	q := u.Query()
	q.Set("error", code)
	u.RawQuery = q.Encode()
	http.Redirect(w, r, u.String(), http.StatusFound)
}

func (p *Provider) fetchUserInfo(ctx context.Context, token *oauth2.Token) (map[string]any, error) {
	var userInfo map[string]any
	if err := getJSON(ctx, p.HTTPClient, p.UserInfoURL, token, &userInfo); err != nil {
		return nil, err
	}
	return userInfo, nil
}

// getJSON issues an authenticated GET and decodes a 2xx JSON body into out.
func getJSON(ctx context.Context, client *http.Client, target string, token *oauth2.Token, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token.AccessToken)
	req.Header.Set("Accept", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("%s returned status %d", target, resp.StatusCode)
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}
	return nil
}

func newState() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}
