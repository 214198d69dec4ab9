package authcore_test

import (
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/coloringbook/authcore"
)

func echoUserID(w http.ResponseWriter, r *http.Request) {
	id, ok := authcore.UserIDFromContext(r.Context())
	if !ok {
		w.Write([]byte("anonymous"))
		return
	}
	w.Write([]byte(strconv.FormatInt(id, 10)))
}

func TestExtractUser(t *testing.T) {
	codec := newCodec(t)
	clock := newFakeClock()
	m := &authcore.SessionMiddleware{Codec: codec, Clock: clock, AuthTokenCookieName: "session", Logger: discardLogger()}
	handler := m.ExtractUser(http.HandlerFunc(echoUserID))
	token, _ := codec.Issue(77, epoch)

	tests := []struct {
		name  string
		setup func(r *http.Request)
		want  string
	}{
		{"no token", func(r *http.Request) {}, "anonymous"},
		{"bearer header", func(r *http.Request) { r.Header.Set("Authorization", "Bearer "+token) }, "77"},
		{"lowercase scheme", func(r *http.Request) { r.Header.Set("Authorization", "bearer "+token) }, "77"},
		{"missing scheme", func(r *http.Request) { r.Header.Set("Authorization", token) }, "anonymous"},
		{"cookie", func(r *http.Request) { r.AddCookie(&http.Cookie{Name: "session", Value: token}) }, "77"},
		{"bad header falls back to cookie", func(r *http.Request) {
			r.Header.Set("Authorization", "Bearer garbage")
			r.AddCookie(&http.Cookie{Name: "session", Value: token})
		}, "77"},
		{"garbage", func(r *http.Request) { r.Header.Set("Authorization", "Bearer a.b.c") }, "anonymous"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, "/", nil)
			tt.setup(r)
			w := httptest.NewRecorder()
			handler.ServeHTTP(w, r)
			if w.Body.String() != tt.want {
				t.Errorf("body = %q, want %q", w.Body.String(), tt.want)
			}
		})
	}

	clock.Advance(codec.TTL() + time.Second)
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.Header.Set("Authorization", "Bearer "+token)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, r)
	if w.Body.String() != "anonymous" {
		t.Errorf("expired token accepted: %q", w.Body.String())
	}
}

func TestEnsureUser(t *testing.T) {
	codec := newCodec(t)
	m := &authcore.SessionMiddleware{Codec: codec, Clock: newFakeClock(), Logger: discardLogger()}
	handler := m.EnsureUser(http.HandlerFunc(echoUserID))
	token, _ := codec.Issue(5, epoch)

	r := httptest.NewRequest(http.MethodGet, "/me", nil)
	r.Header.Set("Authorization", "Bearer "+token)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, r)
	if w.Code != http.StatusOK || w.Body.String() != "5" {
		t.Errorf("authenticated request = %d %q", w.Code, w.Body.String())
	}

	w = httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/me", nil))
	if w.Code != http.StatusUnauthorized {
		t.Errorf("unauthenticated status = %d", w.Code)
	}
}

func TestEnsureUserRedirect(t *testing.T) {
	m := &authcore.SessionMiddleware{
		Codec:       newCodec(t),
		GetRedirURL: func(r *http.Request) string { return "/login" },
		Logger:      discardLogger(),
	}
	handler := m.EnsureUser(http.HandlerFunc(echoUserID))
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/my%20pages/1", nil))
	if w.Code != http.StatusFound {
		t.Fatalf("status = %d", w.Code)
	}
	if got := w.Header().Get("Location"); got != "/login?callbackURL=%2Fmy%20pages%2F1" {
		t.Errorf("Location = %q", got)
	}
}
