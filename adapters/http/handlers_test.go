package authhttp

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/require"

	core "github.com/open-rails/profilekit/core"
	oidckit "github.com/open-rails/profilekit/oidc"
	"github.com/open-rails/profilekit/provision"
	memorylimiter "github.com/open-rails/profilekit/ratelimit/memory"
	memorystore "github.com/open-rails/profilekit/storage/memory"
)

const testIssuer = "https://accounts.google.com"

type fakeFlow struct {
	claims oidckit.Claims
	err    error
}

func (f *fakeFlow) Begin(_ context.Context, provider, state, _, _, _ string) (string, error) {
	if provider != "google" {
		return "", oidckit.ErrUnknownProvider
	}
	return "https://accounts.google.com/o/oauth2/v2/auth?state=" + url.QueryEscape(state), nil
}

func (f *fakeFlow) Exchange(_ context.Context, _, _, _, _, _ string) (oidckit.Claims, error) {
	return f.claims, f.err
}

func (f *fakeFlow) IssuerFor(provider string) (string, bool) {
	if provider == "google" {
		return testIssuer, true
	}
	return "", false
}

type testEnv struct {
	s     *Service
	store *memorystore.Store
	flow  *fakeFlow
	hook  *logtest.Hook
	api   http.Handler
	oidc  http.Handler
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	s, err := NewService(core.Config{
		Issuer:     "https://profiles.example.com",
		SigningKey: []byte("0123456789abcdef0123456789abcdef"),
		BaseURL:    "https://app.example.com",
	})
	require.NoError(t, err)
	logger, hook := logtest.NewNullLogger()
	store := memorystore.NewStore()
	flow := &fakeFlow{}
	s = s.WithAccountStore(store).WithOIDC(flow).WithLogger(logger).DisableRateLimiter()
	return &testEnv{s: s, store: store, flow: flow, hook: hook, api: s.APIHandler(), oidc: s.OIDCHandler()}
}

func googleClaims(sub, email string) oidckit.Claims {
	verified := true
	return oidckit.Claims{Subject: sub, Email: &email, EmailVerified: &verified}
}

// beginOIDC starts a browser flow and returns the state the provider would echo back.
func (e *testEnv) beginOIDC(t *testing.T, query string, cookies ...*http.Cookie) (string, *httptest.ResponseRecorder) {
	t.Helper()
	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodGet, "/auth/oidc/google/login"+query, nil)
	for _, c := range cookies {
		r.AddCookie(c)
	}
	e.oidc.ServeHTTP(w, r)
	require.Equal(t, http.StatusFound, w.Code, w.Body.String())
	loc, err := url.Parse(w.Header().Get("Location"))
	require.NoError(t, err)
	state := loc.Query().Get("state")
	require.NotEmpty(t, state)
	return state, w
}

func (e *testEnv) callback(state string, cookies ...*http.Cookie) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodGet, "/auth/oidc/google/callback?code=abc&state="+url.QueryEscape(state), nil)
	for _, c := range cookies {
		r.AddCookie(c)
	}
	e.oidc.ServeHTTP(w, r)
	return w
}

func (e *testEnv) do(method, path, body string, auth func(*http.Request)) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	var r *http.Request
	if body == "" {
		r = httptest.NewRequest(method, path, nil)
	} else {
		r = httptest.NewRequest(method, path, strings.NewReader(body))
		r.Header.Set("Content-Type", "application/json")
	}
	if auth != nil {
		auth(r)
	}
	e.api.ServeHTTP(w, r)
	return w
}

func bearer(tok string) func(*http.Request) {
	return func(r *http.Request) { r.Header.Set("Authorization", "Bearer "+tok) }
}

func withCookie(c *http.Cookie) func(*http.Request) {
	return func(r *http.Request) { r.AddCookie(c) }
}

func findCookie(w *httptest.ResponseRecorder, name string) *http.Cookie {
	for _, c := range w.Result().Cookies() {
		if c.Name == name {
			return c
		}
	}
	return nil
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	return out
}

func accessToken(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()
	tok, _ := decodeBody(t, w)["access_token"].(string)
	require.NotEmpty(t, tok)
	return tok
}

func TestOIDC_LoginIntentDeniesUnknownIdentity_JSON(t *testing.T) {
	e := newTestEnv(t)
	e.flow.claims = googleClaims("sub-1", "new@example.com")

	state, _ := e.beginOIDC(t, "?intent=login&format=json")
	w := e.callback(state)
	require.Equal(t, http.StatusUnauthorized, w.Code)
	require.JSONEq(t, `{"error":"account_not_found"}`, w.Body.String())
	require.Nil(t, findCookie(w, SessionCookieName))

	_, err := e.store.UserByEmail(context.Background(), "new@example.com")
	require.ErrorIs(t, err, core.ErrUserNotFound)
}

func TestOIDC_LoginIntentDeniesUnknownIdentity_Browser(t *testing.T) {
	e := newTestEnv(t)
	e.flow.claims = googleClaims("sub-1", "new@example.com")

	state, _ := e.beginOIDC(t, "?intent=login")
	w := e.callback(state)
	require.Equal(t, http.StatusFound, w.Code)
	require.Equal(t, "https://app.example.com/login?error=account_not_found", w.Header().Get("Location"))
}

func TestOIDC_IntentMatchesExactly(t *testing.T) {
	e := newTestEnv(t)
	e.flow.claims = googleClaims("sub-1", "new@example.com")

	state, _ := e.beginOIDC(t, "?intent=LOGIN&format=json")
	w := e.callback(state)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	require.Equal(t, true, decodeBody(t, w)["user"].(map[string]any)["created"])
}

func TestOIDC_IntentCookieFallback(t *testing.T) {
	e := newTestEnv(t)
	e.flow.claims = googleClaims("sub-1", "new@example.com")

	state, begin := e.beginOIDC(t, "?format=json", &http.Cookie{Name: IntentCookieName, Value: "login"})
	cleared := findCookie(begin, IntentCookieName)
	require.NotNil(t, cleared)
	require.Less(t, cleared.MaxAge, 0)

	w := e.callback(state)
	require.Equal(t, http.StatusUnauthorized, w.Code)
	require.JSONEq(t, `{"error":"account_not_found"}`, w.Body.String())
}

func TestOIDC_CallbackIgnoresIntentCookie(t *testing.T) {
	e := newTestEnv(t)
	e.flow.claims = googleClaims("sub-2", "ada@example.com")

	state, _ := e.beginOIDC(t, "?intent=register&format=json")
	w := e.callback(state, &http.Cookie{Name: IntentCookieName, Value: "login"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
}

func TestOIDC_RegisterIntentCreatesAccount(t *testing.T) {
	e := newTestEnv(t)
	name := "Ada Lovelace"
	e.flow.claims = googleClaims("sub-3", "ada@example.com")
	e.flow.claims.Name = &name

	state, _ := e.beginOIDC(t, "?intent=register&format=json")
	w := e.callback(state)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	body := decodeBody(t, w)
	require.Equal(t, "Bearer", body["token_type"])
	require.Equal(t, "google", body["provider"])
	user := body["user"].(map[string]any)
	require.Equal(t, true, user["created"])
	require.NotNil(t, findCookie(w, SessionCookieName))

	me := e.do(http.MethodGet, "/auth/user/me", "", bearer(body["access_token"].(string)))
	require.Equal(t, http.StatusOK, me.Code, me.Body.String())
	var p core.Profile
	require.NoError(t, json.Unmarshal(me.Body.Bytes(), &p))
	require.Equal(t, "ada", p.Username)
	require.Equal(t, []string{"google"}, p.Providers)
	require.True(t, p.EmailVerified)
}

func TestOIDC_UnsetIntentCreatesAccountAndRedirects(t *testing.T) {
	e := newTestEnv(t)
	e.flow.claims = googleClaims("sub-4", "grace@example.com")

	state, _ := e.beginOIDC(t, "")
	w := e.callback(state)
	require.Equal(t, http.StatusFound, w.Code)
	require.Equal(t, "https://app.example.com/", w.Header().Get("Location"))

	sess := findCookie(w, SessionCookieName)
	require.NotNil(t, sess)
	require.True(t, sess.HttpOnly)
	require.True(t, sess.Secure)

	me := e.do(http.MethodGet, "/auth/user/me", "", withCookie(sess))
	require.Equal(t, http.StatusOK, me.Code, me.Body.String())
	require.Equal(t, "grace@example.com", decodeBody(t, me)["email"])
}

func TestOIDC_LoginIntentSignsInExistingAccount(t *testing.T) {
	e := newTestEnv(t)
	u, err := e.s.Core().Register(context.Background(), core.Registration{Username: "ada_l", Email: "ada@example.com", Password: "correct horse"})
	require.NoError(t, err)
	e.flow.claims = googleClaims("sub-5", "ada@example.com")

	state, _ := e.beginOIDC(t, "?intent=login&format=json")
	w := e.callback(state)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	body := decodeBody(t, w)
	require.Equal(t, u.ID, body["user"].(map[string]any)["id"])
	require.Equal(t, true, body["linked"])

	// The link now exists, so the same identity keeps signing in.
	state, _ = e.beginOIDC(t, "?intent=login&format=json")
	w = e.callback(state)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	require.Equal(t, false, decodeBody(t, w)["linked"])
}

func TestOIDC_LinkFlow(t *testing.T) {
	e := newTestEnv(t)
	reg := e.do(http.MethodPost, "/auth/register", `{"username":"ada_l","email":"ada@example.com","password":"correct horse"}`, nil)
	require.Equal(t, http.StatusCreated, reg.Code, reg.Body.String())
	tok := accessToken(t, reg)

	w := httptest.NewRecorder()
	e.oidc.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/auth/oidc/google/login?link=1", nil))
	require.Equal(t, http.StatusUnauthorized, w.Code)
	require.JSONEq(t, `{"error":"auth_required_for_link"}`, w.Body.String())

	// A different email proves the link comes from the session, not from email matching.
	e.flow.claims = googleClaims("sub-6", "ada.work@example.com")
	w = httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodGet, "/auth/oidc/google/login?link=1&intent=login&format=json", nil)
	r.Header.Set("Authorization", "Bearer "+tok)
	e.oidc.ServeHTTP(w, r)
	require.Equal(t, http.StatusFound, w.Code)
	loc, err := url.Parse(w.Header().Get("Location"))
	require.NoError(t, err)

	cb := e.callback(loc.Query().Get("state"))
	require.Equal(t, http.StatusOK, cb.Code, cb.Body.String())
	require.Equal(t, true, decodeBody(t, cb)["linked"])

	me := e.do(http.MethodGet, "/auth/user/me", "", bearer(tok))
	require.Equal(t, []any{"google"}, decodeBody(t, me)["providers"])
}

func TestOIDC_StateIsSingleUse(t *testing.T) {
	e := newTestEnv(t)
	e.flow.claims = googleClaims("sub-7", "ada@example.com")

	state, _ := e.beginOIDC(t, "?format=json")
	require.Equal(t, http.StatusOK, e.callback(state).Code)

	w := e.callback(state)
	require.Equal(t, http.StatusBadRequest, w.Code)
	require.JSONEq(t, `{"error":"invalid_state"}`, w.Body.String())
}

func TestOIDC_UnknownProvider(t *testing.T) {
	e := newTestEnv(t)
	w := httptest.NewRecorder()
	e.oidc.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/auth/oidc/myspace/login", nil))
	require.Equal(t, http.StatusNotFound, w.Code)
	require.JSONEq(t, `{"error":"unknown_provider"}`, w.Body.String())
}

func TestOIDC_ExchangeFailure(t *testing.T) {
	e := newTestEnv(t)
	e.flow.err = errors.New("invalid_grant")

	state, _ := e.beginOIDC(t, "?format=json")
	w := e.callback(state)
	require.Equal(t, http.StatusUnauthorized, w.Code)
	require.JSONEq(t, `{"error":"oidc_exchange_failed"}`, w.Body.String())

	entry := e.hook.LastEntry()
	require.NotNil(t, entry)
	require.Equal(t, logrus.WarnLevel, entry.Level)
	require.Equal(t, "oidc_exchange_failed", entry.Message)
	require.Equal(t, "google", entry.Data["provider"])
}

func TestOIDCHandler_Callback_MissingStateOrCode(t *testing.T) {
	e := newTestEnv(t)
	w := httptest.NewRecorder()
	e.oidc.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/auth/oidc/google/callback", nil))
	require.Equal(t, http.StatusBadRequest, w.Code)
	require.Contains(t, w.Body.String(), `"error":"invalid_request"`)
}

func TestOIDCHandler_Callback_ProviderError(t *testing.T) {
	e := newTestEnv(t)
	w := httptest.NewRecorder()
	e.oidc.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/auth/oidc/google/callback?error=access_denied", nil))
	require.Equal(t, http.StatusBadRequest, w.Code)
	require.JSONEq(t, `{"error":"access_denied"}`, w.Body.String())
}

func TestRegister_StartsSession(t *testing.T) {
	e := newTestEnv(t)
	w := e.do(http.MethodPost, "/auth/register", `{"username":"ada_l","email":"Ada@Example.com","password":"correct horse","biography":"hi"}`, nil)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	require.Equal(t, true, decodeBody(t, w)["user"].(map[string]any)["created"])
	sess := findCookie(w, SessionCookieName)
	require.NotNil(t, sess)

	me := e.do(http.MethodGet, "/auth/user/me", "", withCookie(sess))
	require.Equal(t, http.StatusOK, me.Code, me.Body.String())
	body := decodeBody(t, me)
	require.Equal(t, "ada_l", body["username"])
	require.Equal(t, "ada@example.com", body["email"])
	require.Equal(t, "hi", body["biography"])
	require.Equal(t, []any{}, body["roles"])
}

func TestRegister_Rejections(t *testing.T) {
	e := newTestEnv(t)
	ok := e.do(http.MethodPost, "/auth/register", `{"username":"ada_l","email":"ada@example.com","password":"correct horse"}`, nil)
	require.Equal(t, http.StatusCreated, ok.Code, ok.Body.String())

	cases := []struct {
		name   string
		body   string
		status int
		code   string
	}{
		{"username taken", `{"username":"ada_l","email":"x@example.com","password":"correct horse"}`, http.StatusConflict, "username_in_use"},
		{"email taken", `{"username":"ada_2","email":"ADA@example.com","password":"correct horse"}`, http.StatusConflict, "email_in_use"},
		{"reserved username", `{"username":"admin","email":"root@example.com","password":"correct horse"}`, http.StatusBadRequest, "username_reserved"},
		{"short username", `{"username":"ab","email":"ab@example.com","password":"correct horse"}`, http.StatusBadRequest, "username_too_short"},
		{"bad email", `{"username":"grace","email":"nope","password":"correct horse"}`, http.StatusBadRequest, "invalid_request"},
		{"short password", `{"username":"grace","email":"g@example.com","password":"short"}`, http.StatusBadRequest, "invalid_request"},
		{"biography too long", `{"username":"grace","email":"g@example.com","password":"correct horse","biography":"` + strings.Repeat("x", 501) + `"}`, http.StatusBadRequest, "biography_too_long"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			w := e.do(http.MethodPost, "/auth/register", tc.body, nil)
			require.Equal(t, tc.status, w.Code, w.Body.String())
			require.JSONEq(t, `{"error":"`+tc.code+`"}`, w.Body.String())
		})
	}
}

func TestPasswordLoginAndLogout(t *testing.T) {
	e := newTestEnv(t)
	reg := e.do(http.MethodPost, "/auth/register", `{"username":"ada_l","email":"ada@example.com","password":"correct horse"}`, nil)
	require.Equal(t, http.StatusCreated, reg.Code)

	bad := e.do(http.MethodPost, "/auth/password/login", `{"identifier":"ada_l","password":"wrong horse"}`, nil)
	require.Equal(t, http.StatusUnauthorized, bad.Code)
	require.JSONEq(t, `{"error":"invalid_credentials"}`, bad.Body.String())

	w := e.do(http.MethodPost, "/auth/password/login", `{"identifier":"ADA@example.com","password":"correct horse"}`, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	tok := accessToken(t, w)

	me := e.do(http.MethodGet, "/auth/user/me", "", bearer(tok))
	require.Equal(t, http.StatusOK, me.Code)

	out := e.do(http.MethodDelete, "/auth/logout", "", bearer(tok))
	require.Equal(t, http.StatusOK, out.Code, out.Body.String())
	cleared := findCookie(out, SessionCookieName)
	require.NotNil(t, cleared)
	require.Less(t, cleared.MaxAge, 0)

	// The token outlives its session but is no longer accepted.
	me = e.do(http.MethodGet, "/auth/user/me", "", bearer(tok))
	require.Equal(t, http.StatusUnauthorized, me.Code)
	require.JSONEq(t, `{"error":"session_revoked"}`, me.Body.String())
}

func TestPasswordLogin_Inactive(t *testing.T) {
	e := newTestEnv(t)
	u, err := e.s.Core().Register(context.Background(), core.Registration{Username: "ada_l", Password: "correct horse"})
	require.NoError(t, err)
	require.NoError(t, e.store.SetActive(u.ID, false))

	w := e.do(http.MethodPost, "/auth/password/login", `{"identifier":"ada_l","password":"correct horse"}`, nil)
	require.Equal(t, http.StatusUnauthorized, w.Code)
	require.JSONEq(t, `{"error":"user_inactive"}`, w.Body.String())
}

func TestBiographyPATCH(t *testing.T) {
	e := newTestEnv(t)
	reg := e.do(http.MethodPost, "/auth/register", `{"username":"ada_l","email":"ada@example.com","password":"correct horse"}`, nil)
	tok := accessToken(t, reg)

	w := e.do(http.MethodPatch, "/auth/user/biography", `{"biography":"`+strings.Repeat("é", 500)+`"}`, bearer(tok))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = e.do(http.MethodPatch, "/auth/user/biography", `{"biography":"`+strings.Repeat("é", 501)+`"}`, bearer(tok))
	require.Equal(t, http.StatusBadRequest, w.Code)
	require.JSONEq(t, `{"error":"biography_too_long"}`, w.Body.String())

	w = e.do(http.MethodPatch, "/auth/user/biography", `{}`, bearer(tok))
	require.Equal(t, http.StatusBadRequest, w.Code)
	require.JSONEq(t, `{"error":"invalid_request"}`, w.Body.String())

	me := e.do(http.MethodGet, "/auth/user/me", "", bearer(tok))
	require.Equal(t, strings.Repeat("é", 500), decodeBody(t, me)["biography"])
}

func TestUserMe_RequiresAuth(t *testing.T) {
	e := newTestEnv(t)
	w := e.do(http.MethodGet, "/auth/user/me", "", nil)
	require.Equal(t, http.StatusUnauthorized, w.Code)
	require.JSONEq(t, `{"error":"missing_token"}`, w.Body.String())

	w = e.do(http.MethodGet, "/auth/user/me", "", withCookie(&http.Cookie{Name: SessionCookieName, Value: "forged"}))
	require.Equal(t, http.StatusUnauthorized, w.Code)
	require.JSONEq(t, `{"error":"invalid_session"}`, w.Body.String())
}

func TestAdminReconcile(t *testing.T) {
	e := newTestEnv(t)
	logger, _ := logtest.NewNullLogger()
	r := provision.NewReconciler(e.store, provision.DefaultConfig(), provision.WithLogger(logger))
	require.True(t, r.Reconcile(context.Background(), provision.Env{Hostname: "app.example.com"}).OK())
	e.s.WithReconciler(r, provision.Env{Hostname: "profiles.example.com"})
	e.api = e.s.APIHandler()

	reg := e.do(http.MethodPost, "/auth/register", `{"username":"ada_l","email":"ada@example.com","password":"correct horse"}`, nil)
	w := e.do(http.MethodPost, "/auth/admin/reconcile", "", bearer(accessToken(t, reg)))
	require.Equal(t, http.StatusForbidden, w.Code)
	require.JSONEq(t, `{"error":"forbidden"}`, w.Body.String())

	login := e.do(http.MethodPost, "/auth/password/login", `{"identifier":"admin","password":"admin123"}`, nil)
	require.Equal(t, http.StatusOK, login.Code, login.Body.String())
	w = e.do(http.MethodPost, "/auth/admin/reconcile", "", withCookie(findCookie(login, SessionCookieName)))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	require.JSONEq(t, `{"outcome":"ok","reached":"provider_converged","site_domain":"profiles.example.com","admin_created":false,"provider_created":false}`, w.Body.String())
}

func TestRateLimit(t *testing.T) {
	e := newTestEnv(t)
	e.s.WithRateLimiter(memorylimiter.New(map[string]memorylimiter.Limit{
		RLPasswordLogin: {Limit: 1, Window: time.Hour},
	})).WithClientIPFunc(func(*http.Request) string { return "203.0.113.7" })

	body := `{"identifier":"ada_l","password":"correct horse"}`
	require.Equal(t, http.StatusUnauthorized, e.do(http.MethodPost, "/auth/password/login", body, nil).Code)
	w := e.do(http.MethodPost, "/auth/password/login", body, nil)
	require.Equal(t, http.StatusTooManyRequests, w.Code)
	require.JSONEq(t, `{"error":"rate_limited"}`, w.Body.String())
}
