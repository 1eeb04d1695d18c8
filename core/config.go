package core

import (
	"time"

	oidckit "github.com/open-rails/profilekit/oidc"
)

// Config is the high-level configuration used by NewFromConfig.
type Config struct {
	Issuer   string
	Audience string
	// SigningKey is the HS256 secret for access tokens. Required, at least 32 bytes.
	SigningKey []byte

	AccessTokenDuration time.Duration // default 1h
	SessionDuration     time.Duration // default 14 days

	// BaseURL is the public UI origin; browser callbacks and errors redirect under it.
	BaseURL string

	// Providers are identity providers by slug ("google", ...). Only client id/secret are
	// required for well-known providers; issuer and scopes are filled in from defaults.
	Providers map[string]oidckit.RPConfig
}

// Options are the resolved settings a Service runs with.
type Options struct {
	Issuer              string
	Audience            string
	AccessTokenDuration time.Duration
	SessionDuration     time.Duration
	BaseURL             string
}
