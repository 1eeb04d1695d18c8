package main

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig_Defaults(t *testing.T) {
	cfg, err := loadConfig(env.Options{Environment: map[string]string{
		"PROFILEKIT_ISSUER":      "https://profiles.example.com/",
		"PROFILEKIT_SIGNING_KEY": "0123456789abcdef0123456789abcdef",
	}})
	require.NoError(t, err)
	require.Equal(t, "https://profiles.example.com", cfg.Issuer)
	require.Equal(t, ":8080", cfg.ListenAddr)
	require.Equal(t, time.Hour, cfg.AccessTokenTTL)
	require.Equal(t, 14*24*time.Hour, cfg.SessionTTL)
	require.True(t, cfg.MigrateOnStart)
	require.Equal(t, "*/30 * * * *", cfg.ReconcileCron)
	require.Empty(t, cfg.DBURL)
}

func TestLoadConfig_Rejects(t *testing.T) {
	cases := map[string]map[string]string{
		"missing issuer": {"PROFILEKIT_SIGNING_KEY": "0123456789abcdef0123456789abcdef"},
		"short key":      {"PROFILEKIT_ISSUER": "https://profiles.example.com", "PROFILEKIT_SIGNING_KEY": "short"},
		"bad level": {
			"PROFILEKIT_ISSUER":      "https://profiles.example.com",
			"PROFILEKIT_SIGNING_KEY": "0123456789abcdef0123456789abcdef",
			"LOG_LEVEL":              "loud",
		},
	}
	for name, vars := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := loadConfig(env.Options{Environment: vars})
			require.Error(t, err)
		})
	}
}

func TestLoadConfig_TrustedProxies(t *testing.T) {
	cfg, err := loadConfig(env.Options{Environment: map[string]string{
		"PROFILEKIT_ISSUER":          "https://profiles.example.com",
		"PROFILEKIT_SIGNING_KEY":     "0123456789abcdef0123456789abcdef",
		"PROFILEKIT_TRUSTED_PROXIES": "10.0.0.0/8,192.168.0.0/16",
	}})
	require.NoError(t, err)
	require.Equal(t, []string{"10.0.0.0/8", "192.168.0.0/16"}, cfg.TrustedProxies)
}

func TestHealthHandler(t *testing.T) {
	ok := func(context.Context) error { return nil }
	down := func(context.Context) error { return errors.New("connection refused") }

	w := httptest.NewRecorder()
	healthHandler(map[string]func(context.Context) error{"postgres": ok}).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.Equal(t, http.StatusOK, w.Code)
	require.JSONEq(t, `{"status":"ok"}`, w.Body.String())

	w = httptest.NewRecorder()
	healthHandler(map[string]func(context.Context) error{"postgres": ok, "redis": down}).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.Equal(t, http.StatusServiceUnavailable, w.Code)
	require.JSONEq(t, `{"status":"degraded","failed":{"redis":"connection refused"}}`, w.Body.String())
}
