package oauth2

import (
	"context"
	"net/http"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/facebook"
	"golang.org/x/oauth2/github"
	"golang.org/x/oauth2/google"

	"github.com/coloringbook/authcore"
)

const (
	GoogleUserInfoURL   = "https://www.googleapis.com/oauth2/v3/userinfo"
	FacebookUserInfoURL = "https://graph.facebook.com/me?fields=id,name,email,picture"
	GithubUserInfoURL   = "https://api.github.com/user"
	GithubEmailsURL     = "https://api.github.com/user/emails"
)

func newProvider(name string, endpoint oauth2.Endpoint, scopes []string, clientID, clientSecret, callbackURL string, handleUser HandleUserFunc) *Provider {
	return &Provider{
		Name: name,
		Config: oauth2.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			RedirectURL:  callbackURL,
			Scopes:       scopes,
			Endpoint:     endpoint,
		},
		HandleUser: handleUser,
	}
}

func NewGoogleProvider(clientID, clientSecret, callbackURL string, handleUser HandleUserFunc) *Provider {
	p := newProvider(string(authcore.ProviderGoogle), google.Endpoint, []string{
		"https://www.googleapis.com/auth/userinfo.email",
		"https://www.googleapis.com/auth/userinfo.profile",
	}, clientID, clientSecret, callbackURL, handleUser)
	p.UserInfoURL = GoogleUserInfoURL
	return p
}

func NewFacebookProvider(clientID, clientSecret, callbackURL string, handleUser HandleUserFunc) *Provider {
	p := newProvider(string(authcore.ProviderFacebook), facebook.Endpoint, []string{"email", "public_profile"},
		clientID, clientSecret, callbackURL, handleUser)
	p.UserInfoURL = FacebookUserInfoURL
	return p
}

// NewGithubProvider also looks up the primary verified address when the
// profile hides the user's email.
func NewGithubProvider(clientID, clientSecret, callbackURL string, handleUser HandleUserFunc) *Provider {
	p := newProvider(string(authcore.ProviderGitHub), github.Endpoint, []string{"read:user", "user:email"},
		clientID, clientSecret, callbackURL, handleUser)
	p.UserInfoURL = GithubUserInfoURL
	p.EmailsURL = GithubEmailsURL
	p.EmailFetcher = func(_ context.Context, token *oauth2.Token) authcore.EmailFetcher {
		return GithubEmailFetcher(p.HTTPClient, p.EmailsURL, token)
	}
	return p
}

// GithubEmailFetcher returns the primary verified address from the
// /user/emails listing. A non-2xx response is an error.
func GithubEmailFetcher(client *http.Client, emailsURL string, token *oauth2.Token) authcore.EmailFetcher {
	return authcore.EmailFetcherFunc(func(ctx context.Context) (string, error) {
		var entries []authcore.ProviderEmail
		if err := getJSON(ctx, client, emailsURL, token, &entries); err != nil {
			return "", err
		}
		return authcore.SelectPrimaryVerified(entries), nil
	})
}
