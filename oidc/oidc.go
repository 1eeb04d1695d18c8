package oidckit

import "strings"

// Provider identifies a configured OIDC provider.
type Provider string

const (
	ProviderGoogle Provider = "google"
)

// RPConfig holds per-provider client settings supplied by the host.
// Issuer and Scopes may be left empty for well-known providers.
type RPConfig struct {
	Issuer       string
	ClientID     string
	ClientSecret string
	Scopes       []string
}

// Claims is the minimal identity extracted from a verified ID token.
type Claims struct {
	Subject           string
	Email             *string
	EmailVerified     *bool
	Name              *string
	PreferredUsername *string
	RawIDToken        string
}

var wellKnownIssuers = map[Provider]string{
	ProviderGoogle: "https://accounts.google.com",
}

// DefaultScopes are requested when a provider config sets none.
var DefaultScopes = []string{"openid", "email", "profile"}

// ResolveRPClients fills issuer and scope defaults and drops providers without a client id.
func ResolveRPClients(cfgs map[string]RPConfig) map[string]RPClient {
	out := make(map[string]RPClient, len(cfgs))
	for name, c := range cfgs {
		slug := strings.ToLower(strings.TrimSpace(name))
		if slug == "" || strings.TrimSpace(c.ClientID) == "" {
			continue
		}
		issuer := c.Issuer
		if issuer == "" {
			issuer = wellKnownIssuers[Provider(slug)]
		}
		if issuer == "" {
			continue
		}
		scopes := c.Scopes
		if len(scopes) == 0 {
			scopes = append([]string(nil), DefaultScopes...)
		}
		out[slug] = RPClient{Issuer: issuer, ClientID: c.ClientID, ClientSecret: c.ClientSecret, Scopes: scopes}
	}
	return out
}
