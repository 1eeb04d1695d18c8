package authhttp

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/require"

	core "github.com/open-rails/profilekit/core"
	oidckit "github.com/open-rails/profilekit/oidc"
	"github.com/open-rails/profilekit/provision"
	memorystore "github.com/open-rails/profilekit/storage/memory"
)

// newCredentialsEnv wires the real relying-party manager to a reconciled memory
// store, so the google config starts out as placeholders linked to site 1.
func newCredentialsEnv(t *testing.T, providers map[string]oidckit.RPConfig) (*testEnv, *oidckit.Manager) {
	t.Helper()
	s, err := NewService(core.Config{
		Issuer:     "https://profiles.example.com",
		SigningKey: []byte("0123456789abcdef0123456789abcdef"),
		BaseURL:    "https://app.example.com",
		Providers:  providers,
	})
	require.NoError(t, err)
	logger, hook := logtest.NewNullLogger()
	store := memorystore.NewStore()
	cfg := provision.DefaultConfig()
	require.True(t, provision.NewReconciler(store, cfg, provision.WithLogger(logger)).
		Reconcile(context.Background(), provision.Env{Hostname: "app.example.com"}).OK())

	s = s.WithAccountStore(store).WithLogger(logger).DisableRateLimiter().WithProviderCredentials(store, cfg)
	m, ok := s.oidc.(*oidckit.Manager)
	require.True(t, ok)
	return &testEnv{s: s, store: store, hook: hook, api: s.APIHandler(), oidc: s.OIDCHandler()}, m
}

func TestProviderCredentials_PlaceholdersKeepProviderDisabled(t *testing.T) {
	e, m := newCredentialsEnv(t, nil)

	w := httptest.NewRecorder()
	e.oidc.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/auth/oidc/google/login", nil))
	require.Equal(t, http.StatusNotFound, w.Code)
	require.JSONEq(t, `{"error":"unknown_provider"}`, w.Body.String())
	require.Empty(t, m.Providers())
}

func TestProviderCredentials_StoredCredentialsEnableProvider(t *testing.T) {
	e, m := newCredentialsEnv(t, nil)
	ctx := context.Background()

	_, err := e.store.UpdateProviderCredentials(ctx, "google", "db-client", "db-secret")
	require.NoError(t, err)
	e.s.syncProvider(ctx, "google")

	pc, ok := m.Provider("google")
	require.True(t, ok)
	require.Equal(t, "db-client", pc.ClientID)
	require.Equal(t, "db-secret", pc.ClientSecret)
	require.Equal(t, "https://accounts.google.com", pc.Issuer)
}

func TestProviderCredentials_EnvironmentFallback(t *testing.T) {
	e, m := newCredentialsEnv(t, map[string]oidckit.RPConfig{"google": {ClientID: "env-client", ClientSecret: "env-secret"}})
	ctx := context.Background()

	// Placeholders in the store defer to the environment.
	e.s.syncProvider(ctx, "google")
	pc, ok := m.Provider("google")
	require.True(t, ok)
	require.Equal(t, "env-client", pc.ClientID)

	_, err := e.store.UpdateProviderCredentials(ctx, "google", "db-client", "db-secret")
	require.NoError(t, err)
	e.s.syncProvider(ctx, "google")
	pc, _ = m.Provider("google")
	require.Equal(t, "db-client", pc.ClientID)
}

func TestProviderCredentials_StoreErrorKeepsCurrentConfig(t *testing.T) {
	e, m := newCredentialsEnv(t, nil)
	ctx := context.Background()

	_, err := e.store.UpdateProviderCredentials(ctx, "google", "db-client", "db-secret")
	require.NoError(t, err)
	e.s.syncProvider(ctx, "google")

	e.store.FailOn("FindProviderConfig", errors.New("db down"))
	e.s.syncProvider(ctx, "google")
	pc, ok := m.Provider("google")
	require.True(t, ok)
	require.Equal(t, "db-client", pc.ClientID)
	require.Equal(t, "oidc_provider_credentials_lookup_failed", e.hook.LastEntry().Message)
}

func TestAdminProviderCredentialsPUT(t *testing.T) {
	e, m := newCredentialsEnv(t, nil)
	path := "/auth/admin/providers/google/credentials"
	body := `{"client_id":"real-client","secret":"real-secret"}`

	reg := e.do(http.MethodPost, "/auth/register", `{"username":"ada_l","email":"ada@example.com","password":"correct horse"}`, nil)
	w := e.do(http.MethodPut, path, body, bearer(accessToken(t, reg)))
	require.Equal(t, http.StatusForbidden, w.Code)

	login := e.do(http.MethodPost, "/auth/password/login", `{"identifier":"admin","password":"admin123"}`, nil)
	require.Equal(t, http.StatusOK, login.Code, login.Body.String())
	admin := withCookie(findCookie(login, SessionCookieName))

	w = e.do(http.MethodPut, path, `{"client_id":"real-client","secret":" "}`, admin)
	require.Equal(t, http.StatusBadRequest, w.Code)
	require.JSONEq(t, `{"error":"invalid_request"}`, w.Body.String())

	w = e.do(http.MethodPut, "/auth/admin/providers/github/credentials", body, admin)
	require.Equal(t, http.StatusNotFound, w.Code)
	require.JSONEq(t, `{"error":"provider_not_found"}`, w.Body.String())

	w = e.do(http.MethodPut, "/auth/admin/providers/Google/credentials", body, admin)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	require.JSONEq(t, `{"provider":"google","enabled":true}`, w.Body.String())
	require.NotContains(t, w.Body.String(), "real-secret")

	pc, ok := m.Provider("google")
	require.True(t, ok)
	require.Equal(t, "real-client", pc.ClientID)
	cfg, err := e.store.FindProviderConfig(context.Background(), "google")
	require.NoError(t, err)
	require.Equal(t, "real-secret", cfg.Secret)

	// Back to placeholders turns the provider off again.
	w = e.do(http.MethodPut, path, `{"client_id":"`+provision.PlaceholderClientID+`","secret":"`+provision.PlaceholderSecret+`"}`, admin)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	require.JSONEq(t, `{"provider":"google","enabled":false}`, w.Body.String())
}
