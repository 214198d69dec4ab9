package authcore

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"golang.org/x/oauth2"
)

// apiResponse is the JSON envelope of every endpoint.
type apiResponse struct {
	Success bool      `json:"success"`
	Code    string    `json:"code,omitempty"`
	Message string    `json:"message,omitempty"`
	Token   string    `json:"token,omitempty"`
	User    *userView `json:"user,omitempty"`
}

// userView is the client-visible part of a UserRecord.
type userView struct {
	ID            int64    `json:"id"`
	Name          string   `json:"name"`
	Email         string   `json:"email"`
	EmailVerified bool     `json:"emailVerified"`
	Provider      Provider `json:"provider"`
	AvatarURL     string   `json:"avatarUrl,omitempty"`
}

func viewOf(u *UserRecord) *userView {
	if u == nil {
		return nil
	}
	return &userView{
		ID:            u.ID,
		Name:          u.Name,
		Email:         u.Email,
		EmailVerified: u.EmailVerified,
		Provider:      u.Provider,
		AvatarURL:     u.AvatarURL,
	}
}

func writeJSON(w http.ResponseWriter, status int, body apiResponse) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

// StatusCode maps an error to the HTTP status it is answered with.
func StatusCode(err error) int {
	switch PublicCode(err) {
	case "":
		return http.StatusOK
	case "rate_limited":
		return http.StatusTooManyRequests
	case "invalid_credentials":
		return http.StatusUnauthorized
	case "not_found":
		return http.StatusNotFound
	case "internal_error":
		return http.StatusInternalServerError
	}
	return http.StatusBadRequest
}

// Service wires the auth core into HTTP endpoints.
type Service struct {
	mux *http.ServeMux

	Local     *LocalAuthenticator
	Flows     *AccountFlows
	Resolver  *AccountResolver
	Codec     *SessionCodec
	Limiter   *RateLimiter
	Session   *SessionMiddleware
	Directory UserDirectory
	Clock     Clock

	// RedirectURL receives ?token=... after a federated login.
	RedirectURL string

	// FailureURL receives ?error=... when a federated login is rejected.
	// Defaults to RedirectURL.
	FailureURL string

	Logger *slog.Logger
}

// EnsureDefaults fills unset fields from the configured collaborators.
func (s *Service) EnsureDefaults() *Service {
	if s.Logger == nil {
		s.Logger = slog.Default()
	}
	if s.Session == nil {
		s.Session = &SessionMiddleware{Codec: s.Codec, Clock: s.Clock, Logger: s.Logger}
	}
	s.Session.EnsureReasonableDefaults()
	if s.FailureURL == "" {
		s.FailureURL = s.RedirectURL
	}
	return s
}

// Handler returns the routes, relative to wherever the caller mounts them.
func (s *Service) Handler() http.Handler {
	return s.setupRoutes().mux
}

func (s *Service) setupRoutes() *Service {
	if s.mux != nil {
		return s
	}
	s.EnsureDefaults()
	s.mux = http.NewServeMux()
	s.mux.Handle("POST /signup", s.limited(EndpointSignup, http.HandlerFunc(s.handleSignup)))
	s.mux.Handle("POST /login", s.limited(EndpointLogin, http.HandlerFunc(s.handleLogin)))
	s.mux.HandleFunc("POST /forgot-password", s.handleForgotPassword)
	s.mux.HandleFunc("POST /reset-password", s.handleResetPassword)
	s.mux.HandleFunc("GET /verify-email", s.handleVerifyEmail)
	s.mux.Handle("POST /verify-email/request", s.Session.EnsureUser(http.HandlerFunc(s.handleRequestVerification)))
	s.mux.Handle("GET /me", s.Session.EnsureUser(http.HandlerFunc(s.handleMe)))
	s.mux.Handle("PUT /me", s.Session.EnsureUser(http.HandlerFunc(s.handleUpdateProfile)))
	return s
}

func (s *Service) limited(class EndpointClass, h http.Handler) http.Handler {
	if s.Limiter == nil {
		return h
	}
	return s.Limiter.Middleware(class)(h)
}

type credentialsRequest struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Password string `json:"password"`
	Token    string `json:"token"`
}

func decodeRequest(w http.ResponseWriter, r *http.Request) (*credentialsRequest, bool) {
	var req credentialsRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<16)).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, apiResponse{Code: "invalid_request", Message: "Invalid request body"})
		return nil, false
	}
	return &req, true
}

func (s *Service) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := StatusCode(err)
	if status >= 500 {
		s.Logger.ErrorContext(r.Context(), "request failed",
			slog.String("path", r.URL.Path),
			slog.String("error", err.Error()))
	}
	writeJSON(w, status, apiResponse{Code: PublicCode(err), Message: PublicMessage(err)})
}

func (s *Service) handleSignup(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeRequest(w, r)
	if !ok {
		return
	}
	user, token, err := s.Local.Signup(r.Context(), Credentials{Name: req.Name, Email: req.Email, Password: req.Password})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, apiResponse{Success: true, Message: "User registered successfully", Token: token, User: viewOf(user)})
}

func (s *Service) handleLogin(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeRequest(w, r)
	if !ok {
		return
	}
	user, token, err := s.Local.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, apiResponse{Success: true, Token: token, User: viewOf(user)})
}

func (s *Service) handleForgotPassword(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeRequest(w, r)
	if !ok {
		return
	}
	if strings.TrimSpace(req.Email) == "" {
		writeJSON(w, http.StatusBadRequest, apiResponse{Code: "invalid_request", Message: "Email required"})
		return
	}
	if err := s.Flows.RequestPasswordReset(r.Context(), req.Email, requestLocale(r)); err != nil {
		// Delivery and lookup failures must look like success to the client.
		s.Logger.ErrorContext(r.Context(), "password reset request failed", slog.String("error", err.Error()))
	}
	writeJSON(w, http.StatusOK, apiResponse{Success: true, Message: "If that email exists, a reset link has been sent"})
}

func (s *Service) handleResetPassword(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeRequest(w, r)
	if !ok {
		return
	}
	if err := s.Flows.ResetPassword(r.Context(), req.Token, req.Password); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, apiResponse{Success: true, Message: "Password reset successfully"})
}

func (s *Service) handleVerifyEmail(w http.ResponseWriter, r *http.Request) {
	user, err := s.Flows.VerifyEmail(r.Context(), r.URL.Query().Get("token"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, apiResponse{Success: true, Message: "Email verified successfully", User: viewOf(user)})
}

func (s *Service) handleRequestVerification(w http.ResponseWriter, r *http.Request) {
	userID, _ := UserIDFromContext(r.Context())
	err := s.Flows.RequestEmailVerification(r.Context(), userID, requestLocale(r))
	var delivery *DeliveryError
	if errors.As(err, &delivery) {
		writeJSON(w, http.StatusBadGateway, apiResponse{Code: "delivery_failed", Message: "Could not send verification email"})
		return
	}
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, apiResponse{Success: true, Message: "Verification email sent"})
}

func (s *Service) handleMe(w http.ResponseWriter, r *http.Request) {
	userID, _ := UserIDFromContext(r.Context())
	user, err := s.Directory.FindByID(r.Context(), userID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, apiResponse{Success: true, User: viewOf(user)})
}

func (s *Service) handleUpdateProfile(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeRequest(w, r)
	if !ok {
		return
	}
	userID, _ := UserIDFromContext(r.Context())
	user, err := s.Flows.UpdateProfile(r.Context(), userID, req.Name, req.Email)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, apiResponse{Success: true, User: viewOf(user)})
}

// HandleFederatedUser is called by an OAuth2 callback once the provider
// has returned the user's attributes. It resolves the local account, issues
// a session token and redirects to RedirectURL?token=...; rejected logins
// go to FailureURL?error=<code>.
func (s *Service) HandleFederatedUser(provider string, token *oauth2.Token, userInfo map[string]any, fetch EmailFetcher, w http.ResponseWriter, r *http.Request) {
	s.EnsureDefaults()
	user, err := s.Resolver.ResolveOrCreate(r.Context(), provider, userInfo, fetch)
	if err != nil {
		s.Logger.WarnContext(r.Context(), "federated login rejected",
			slog.String("provider", provider),
			slog.String("error", err.Error()))
		s.redirectWith(w, r, s.FailureURL, "error", PublicCode(err))
		return
	}
	session, err := s.Codec.Issue(user.ID, clockOrSystem(s.Clock).Now())
	if err != nil {
		s.Logger.ErrorContext(r.Context(), "failed to issue session token", slog.String("error", err.Error()))
		s.redirectWith(w, r, s.FailureURL, "error", "internal_error")
		return
	}
	s.redirectWith(w, r, s.RedirectURL, "token", session)
}

func (s *Service) redirectWith(w http.ResponseWriter, r *http.Request, target, key, value string) {
	u, err := url.Parse(target)
	if err != nil || target == "" {
		u = &url.URL{Path: "/"}
	}
	q := u.Query()
	q.Set(key, value)
	u.RawQuery = q.Encode()
	http.Redirect(w, r, u.String(), http.StatusFound)
}

// requestLocale returns the first Accept-Language tag, or "en".
func requestLocale(r *http.Request) string {
	header := r.Header.Get("Accept-Language")
	if header == "" {
		return "en"
	}
	first, _, _ := strings.Cut(header, ",")
	first, _, _ = strings.Cut(first, ";")
	if first = strings.TrimSpace(first); first == "" || first == "*" {
		return "en"
	}
	return first
}
