package authapi

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"passage/cmd/identity"
	"passage/cmd/internal/auth/provider"
	"passage/cmd/internal/auth/session"
)

func testHandler(t *testing.T) (*Handler, *http.ServeMux) {
	t.Helper()

	sessCfg := session.DefaultConfig()
	sessCfg.AccessSecret = []byte(strings.Repeat("a", 32))
	sessCfg.RefreshSecret = []byte(strings.Repeat("r", 32))

	codec, err := session.NewHS256Codec(sessCfg)
	if err != nil {
		t.Fatalf("NewHS256Codec: %v", err)
	}
	sessions, err := session.NewService(session.NewMemoryStore(), codec, sessCfg)
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}

	cfg := Config{
		ClientURL:         "http://localhost:5173",
		MaxBodyBytes:      1 << 20,
		RefreshCookieName: "refreshToken",
		StateCookieName:   "oauthState",
		CookiePath:        "/",
		CookieSameSite:    http.SameSiteStrictMode,
	}

	h, err := NewHandler(nil, cfg, identity.NewMemoryStore(), sessions, provider.NewRegistry(), nil)
	if err != nil {
		t.Fatalf("NewHandler: %v", err)
	}

	mux := http.NewServeMux()
	h.Register(mux)
	return h, mux
}

func doJSON(t *testing.T, mux *http.ServeMux, method, path, body string, cookies ...*http.Cookie) *httptest.ResponseRecorder {
	t.Helper()

	var rd io.Reader
	if body != "" {
		rd = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, rd)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	for _, c := range cookies {
		req.AddCookie(c)
	}
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	return rec
}

func cookieByName(t *testing.T, rec *httptest.ResponseRecorder, name string) *http.Cookie {
	t.Helper()
	for _, c := range rec.Result().Cookies() {
		if c.Name == name {
			return c
		}
	}
	return nil
}

func registerUser(t *testing.T, mux *http.ServeMux, email string) (accessToken string, refresh *http.Cookie) {
	t.Helper()

	rec := doJSON(t, mux, http.MethodPost, "/api/v1/auth/register",
		`{"email":"`+email+`","password":"password123","name":"Tester"}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("register returned %d: %s", rec.Code, rec.Body.String())
	}

	var resp registerResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decoding register response: %v", err)
	}
	c := cookieByName(t, rec, "refreshToken")
	if c == nil || c.Value == "" {
		t.Fatal("register did not set the refresh cookie")
	}
	return resp.Session.AccessToken, c
}

func TestRegisterSetsSessionAndCookie(t *testing.T) {
	t.Parallel()

	_, mux := testHandler(t)

	rec := doJSON(t, mux, http.MethodPost, "/api/v1/auth/register",
		`{"email":"new@example.com","password":"password123"}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}

	var resp registerResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Session.AccessToken == "" {
		t.Fatal("no access token in response")
	}
	if resp.Session.RefreshToken != "" {
		t.Fatal("refresh token must not appear in the body when the cookie is set")
	}
	if resp.User.Email == nil || *resp.User.Email != "new@example.com" {
		t.Fatalf("user = %+v", resp.User)
	}

	c := cookieByName(t, rec, "refreshToken")
	if c == nil {
		t.Fatal("refresh cookie missing")
	}
	if !c.HttpOnly {
		t.Fatal("refresh cookie must be httpOnly")
	}
	if c.SameSite != http.SameSiteStrictMode {
		t.Fatalf("refresh cookie SameSite = %v", c.SameSite)
	}
}

func TestRegisterDuplicateEmail(t *testing.T) {
	t.Parallel()

	_, mux := testHandler(t)
	registerUser(t, mux, "dup@example.com")

	rec := doJSON(t, mux, http.MethodPost, "/api/v1/auth/register",
		`{"email":"dup@example.com","password":"password123"}`)
	if rec.Code != http.StatusConflict {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}
}

func TestLoginFailuresAreSymmetric(t *testing.T) {
	t.Parallel()

	_, mux := testHandler(t)
	registerUser(t, mux, "known@example.com")

	unknown := doJSON(t, mux, http.MethodPost, "/api/v1/auth/login",
		`{"email":"unknown@example.com","password":"password123"}`)
	wrongPw := doJSON(t, mux, http.MethodPost, "/api/v1/auth/login",
		`{"email":"known@example.com","password":"not-the-password"}`)

	if unknown.Code != http.StatusUnauthorized || wrongPw.Code != http.StatusUnauthorized {
		t.Fatalf("statuses = %d / %d, want 401 / 401", unknown.Code, wrongPw.Code)
	}
	// An attacker must not be able to tell the two apart from the response.
	if unknown.Body.String() != wrongPw.Body.String() {
		t.Fatalf("bodies differ:\n%s\n%s", unknown.Body.String(), wrongPw.Body.String())
	}
}

func TestLoginSuccess(t *testing.T) {
	t.Parallel()

	_, mux := testHandler(t)
	registerUser(t, mux, "login@example.com")

	rec := doJSON(t, mux, http.MethodPost, "/api/v1/auth/login",
		`{"email":"LOGIN@example.com","password":"password123"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}

	var resp loginResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Session.AccessToken == "" {
		t.Fatal("no access token")
	}
	if cookieByName(t, rec, "refreshToken") == nil {
		t.Fatal("refresh cookie missing")
	}
}

func TestRefreshRotatesCookie(t *testing.T) {
	t.Parallel()

	_, mux := testHandler(t)
	_, cookie := registerUser(t, mux, "rotate@example.com")

	rec := doJSON(t, mux, http.MethodPost, "/api/v1/auth/refresh-token", "", cookie)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}

	next := cookieByName(t, rec, "refreshToken")
	if next == nil || next.Value == "" {
		t.Fatal("refresh did not set a new cookie")
	}
	if next.Value == cookie.Value {
		t.Fatal("refresh reissued the same credential")
	}

	var resp refreshResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Session.AccessToken == "" {
		t.Fatal("no access token after rotation")
	}
	if resp.Session.RefreshToken != "" {
		t.Fatal("cookie-based refresh must not echo the token in the body")
	}
}

func TestRefreshReuseReturns403AndClearsCookie(t *testing.T) {
	t.Parallel()

	_, mux := testHandler(t)
	_, cookie := registerUser(t, mux, "reuse@example.com")

	if rec := doJSON(t, mux, http.MethodPost, "/api/v1/auth/refresh-token", "", cookie); rec.Code != http.StatusOK {
		t.Fatalf("first refresh: %d", rec.Code)
	}

	rec := doJSON(t, mux, http.MethodPost, "/api/v1/auth/refresh-token", "", cookie)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("replayed refresh returned %d, want 403", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "refresh_reuse_detected") {
		t.Fatalf("body = %s", rec.Body.String())
	}

	cleared := cookieByName(t, rec, "refreshToken")
	if cleared == nil || cleared.Value != "" || cleared.MaxAge != -1 {
		t.Fatalf("refresh cookie not cleared: %+v", cleared)
	}
}

func TestRefreshWithoutTokenReturns401(t *testing.T) {
	t.Parallel()

	_, mux := testHandler(t)

	rec := doJSON(t, mux, http.MethodPost, "/api/v1/auth/refresh-token", "")
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestRefreshAcceptsBodyToken(t *testing.T) {
	t.Parallel()

	_, mux := testHandler(t)
	_, cookie := registerUser(t, mux, "api-client@example.com")

	rec := doJSON(t, mux, http.MethodPost, "/api/v1/auth/refresh-token",
		`{"refreshToken":"`+cookie.Value+`"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}

	var resp refreshResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	// Body-based clients get the new refresh token back in the body.
	if resp.Session.RefreshToken == "" {
		t.Fatal("body-based refresh must return the new refresh token")
	}
}

func TestLogoutIsIdempotentOverHTTP(t *testing.T) {
	t.Parallel()

	_, mux := testHandler(t)
	_, cookie := registerUser(t, mux, "logout@example.com")

	first := doJSON(t, mux, http.MethodPost, "/api/v1/auth/logout", "", cookie)
	if first.Code != http.StatusOK {
		t.Fatalf("first logout: %d", first.Code)
	}
	if c := cookieByName(t, first, "refreshToken"); c == nil || c.MaxAge != -1 {
		t.Fatal("logout did not clear the refresh cookie")
	}

	// Replaying the same cookie, or sending none at all, still succeeds.
	if rec := doJSON(t, mux, http.MethodPost, "/api/v1/auth/logout", "", cookie); rec.Code != http.StatusOK {
		t.Fatalf("repeat logout: %d", rec.Code)
	}
	if rec := doJSON(t, mux, http.MethodPost, "/api/v1/auth/logout", ""); rec.Code != http.StatusOK {
		t.Fatalf("cookieless logout: %d", rec.Code)
	}

	// The revoked session cannot rotate anymore; presenting it counts as
	// reuse of a dead credential.
	if rec := doJSON(t, mux, http.MethodPost, "/api/v1/auth/refresh-token", "", cookie); rec.Code != http.StatusForbidden {
		t.Fatalf("refresh after logout: %d", rec.Code)
	}
}

func TestMeRequiresBearerToken(t *testing.T) {
	t.Parallel()

	_, mux := testHandler(t)
	access, _ := registerUser(t, mux, "me@example.com")

	rec := doJSON(t, mux, http.MethodGet, "/me", "")
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("unauthenticated /me: %d", rec.Code)
	}

	req := httptest.NewRequest(http.MethodGet, "/me", nil)
	req.Header.Set("Authorization", "Bearer "+access)
	ok := httptest.NewRecorder()
	mux.ServeHTTP(ok, req)
	if ok.Code != http.StatusOK {
		t.Fatalf("authenticated /me: %d: %s", ok.Code, ok.Body.String())
	}

	var resp meResponse
	if err := json.Unmarshal(ok.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.User.Email == nil || *resp.User.Email != "me@example.com" {
		t.Fatalf("user = %+v", resp.User)
	}

	req = httptest.NewRequest(http.MethodGet, "/me", nil)
	req.Header.Set("Authorization", "Bearer garbage")
	bad := httptest.NewRecorder()
	mux.ServeHTTP(bad, req)
	if bad.Code != http.StatusUnauthorized {
		t.Fatalf("garbage token /me: %d", bad.Code)
	}
}

// fakeProvider skips the upstream round trip and returns a fixed identity.
type fakeProvider struct {
	name  string
	ident identity.NormalizedIdentity
	err   error
}

func (f *fakeProvider) Name() string { return f.name }
func (f *fakeProvider) AuthCodeURL(state string) string {
	return "https://upstream.example.com/authorize?state=" + url.QueryEscape(state)
}
func (f *fakeProvider) Identity(ctx context.Context, code string) (identity.NormalizedIdentity, error) {
	if f.err != nil {
		return identity.NormalizedIdentity{}, f.err
	}
	return f.ident, nil
}

func startOAuth(t *testing.T, mux *http.ServeMux, providerName string) (state string, stateCookie *http.Cookie) {
	t.Helper()

	rec := doJSON(t, mux, http.MethodGet, "/api/v1/auth/"+providerName, "")
	if rec.Code != http.StatusFound {
		t.Fatalf("oauth start: %d: %s", rec.Code, rec.Body.String())
	}

	loc, err := url.Parse(rec.Header().Get("Location"))
	if err != nil {
		t.Fatalf("parsing redirect: %v", err)
	}
	state = loc.Query().Get("state")
	if state == "" {
		t.Fatal("no state in consent URL")
	}
	stateCookie = cookieByName(t, rec, "oauthState")
	if stateCookie == nil {
		t.Fatal("no state cookie set")
	}
	return state, stateCookie
}

func TestOAuthCallbackIssuesSession(t *testing.T) {
	t.Parallel()

	h, mux := testHandler(t)
	email := "oauth@example.com"
	h.providers.Register(&fakeProvider{
		name: "google",
		ident: identity.NormalizedIdentity{
			Provider:   "google",
			ProviderID: "g-oauth-1",
			Email:      &email,
		},
	})

	state, stateCookie := startOAuth(t, mux, "google")

	rec := doJSON(t, mux, http.MethodGet,
		"/api/v1/auth/google/callback?code=abc&state="+url.QueryEscape(state), "", stateCookie)
	if rec.Code != http.StatusFound {
		t.Fatalf("callback: %d: %s", rec.Code, rec.Body.String())
	}

	loc, err := url.Parse(rec.Header().Get("Location"))
	if err != nil {
		t.Fatalf("parsing redirect: %v", err)
	}
	if !strings.HasSuffix(loc.Path, "/oauth-callback") {
		t.Fatalf("redirected to %s", loc.String())
	}
	access := loc.Query().Get("accessToken")
	if access == "" {
		t.Fatal("no access token in callback redirect")
	}
	if userID, err := h.sessions.ValidateAccess(access); err != nil || userID == "" {
		t.Fatalf("redirect carried an invalid access token: %v", err)
	}
	if cookieByName(t, rec, "refreshToken") == nil {
		t.Fatal("callback did not set the refresh cookie")
	}
}

func TestOAuthCallbackRejectsBadState(t *testing.T) {
	t.Parallel()

	h, mux := testHandler(t)
	email := "state@example.com"
	h.providers.Register(&fakeProvider{
		name:  "github",
		ident: identity.NormalizedIdentity{Provider: "github", ProviderID: "gh-1", Email: &email},
	})

	_, stateCookie := startOAuth(t, mux, "github")

	rec := doJSON(t, mux, http.MethodGet,
		"/api/v1/auth/github/callback?code=abc&state=forged", "", stateCookie)
	if rec.Code != http.StatusFound {
		t.Fatalf("callback: %d", rec.Code)
	}
	if !strings.Contains(rec.Header().Get("Location"), "/login/error") {
		t.Fatalf("bad state redirected to %s", rec.Header().Get("Location"))
	}
	if cookieByName(t, rec, "refreshToken") != nil {
		t.Fatal("session issued despite state mismatch")
	}
}

func TestOAuthCallbackMissingEmailRedirectsWithMessage(t *testing.T) {
	t.Parallel()

	h, mux := testHandler(t)
	h.providers.Register(&fakeProvider{
		name: "facebook",
		err:  provider.ErrEmailMissing,
	})

	state, stateCookie := startOAuth(t, mux, "facebook")

	rec := doJSON(t, mux, http.MethodGet,
		"/api/v1/auth/facebook/callback?code=abc&state="+url.QueryEscape(state), "", stateCookie)
	if rec.Code != http.StatusFound {
		t.Fatalf("callback: %d", rec.Code)
	}

	loc, err := url.Parse(rec.Header().Get("Location"))
	if err != nil {
		t.Fatalf("parsing redirect: %v", err)
	}
	if !strings.HasSuffix(loc.Path, "/login/error") {
		t.Fatalf("redirected to %s", loc.String())
	}
	if got := loc.Query().Get("message"); got != "Email not found from facebook" {
		t.Fatalf("message = %q", got)
	}
}

func TestOAuthUnknownProvider(t *testing.T) {
	t.Parallel()

	_, mux := testHandler(t)

	rec := doJSON(t, mux, http.MethodGet, "/api/v1/auth/myspace", "")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestMethodNotAllowed(t *testing.T) {
	t.Parallel()

	_, mux := testHandler(t)

	for _, path := range []string{"/api/v1/auth/register", "/api/v1/auth/login", "/api/v1/auth/refresh-token", "/api/v1/auth/logout"} {
		rec := doJSON(t, mux, http.MethodGet, path, "")
		if rec.Code != http.StatusMethodNotAllowed {
			t.Fatalf("GET %s = %d, want 405", path, rec.Code)
		}
	}
	if rec := doJSON(t, mux, http.MethodPost, "/me", ""); rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("POST /me = %d, want 405", rec.Code)
	}
}
