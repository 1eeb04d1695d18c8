package provision

import (
	"strings"

	"github.com/caarlos0/env/v11"
)

// Config holds the well-known keys the Reconciler converges on.
type Config struct {
	SiteID   int64  `env:"PROFILEKIT_SITE_ID" envDefault:"1"`
	SiteName string `env:"PROFILEKIT_SITE_NAME" envDefault:"UserProfileManagement"`

	AdminUsername string `env:"PROFILEKIT_BOOTSTRAP_ADMIN_USERNAME" envDefault:"admin"`
	AdminEmail    string `env:"PROFILEKIT_BOOTSTRAP_ADMIN_EMAIL" envDefault:"admin@example.com"`
	AdminPassword string `env:"PROFILEKIT_BOOTSTRAP_ADMIN_PASSWORD" envDefault:"admin123"`

	Provider            string `env:"PROFILEKIT_SOCIAL_PROVIDER" envDefault:"google"`
	ProviderName        string `env:"PROFILEKIT_SOCIAL_PROVIDER_NAME" envDefault:"Google"`
	PlaceholderClientID string `env:"-"`
	PlaceholderSecret   string `env:"-"`
}

const (
	PlaceholderClientID = "ENTER_CLIENT_ID_IN_ADMIN"
	PlaceholderSecret   = "ENTER_SECRET_KEY_IN_ADMIN"
)

// DefaultConfig returns the built-in well-known keys.
func DefaultConfig() Config {
	return Config{
		SiteID:              1,
		SiteName:            "UserProfileManagement",
		AdminUsername:       "admin",
		AdminEmail:          "admin@example.com",
		AdminPassword:       "admin123",
		Provider:            "google",
		ProviderName:        "Google",
		PlaceholderClientID: PlaceholderClientID,
		PlaceholderSecret:   PlaceholderSecret,
	}
}

// LoadConfig reads overrides from the process environment on top of DefaultConfig.
func LoadConfig() (Config, error) {
	return loadConfig(env.Options{})
}

func loadConfig(opts env.Options) (Config, error) {
	cfg := DefaultConfig()
	if err := env.ParseWithOptions(&cfg, opts); err != nil {
		return Config{}, err
	}
	cfg.Provider = strings.ToLower(strings.TrimSpace(cfg.Provider))
	return cfg, nil
}

// IsPlaceholder reports whether cfg still carries the placeholder credentials.
func (c Config) IsPlaceholder(p *ProviderConfig) bool {
	return p != nil && p.ClientID == c.PlaceholderClientID && p.Secret == c.PlaceholderSecret
}

// Env is the deployment environment the Reconciler reads.
type Env struct {
	// Hostname is the externally visible host name of this deployment.
	Hostname string `env:"RENDER_EXTERNAL_HOSTNAME" envDefault:"localhost"`
}

// LoadEnv reads Env from the process environment.
func LoadEnv() (Env, error) {
	return env.ParseAs[Env]()
}

func loadEnv(opts env.Options) (Env, error) {
	var e Env
	err := env.ParseWithOptions(&e, opts)
	return e, err
}
