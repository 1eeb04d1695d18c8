package provision

import (
	"context"
	"strings"
)

// CredentialStore is a Store whose provider credentials can be replaced after
// bootstrap. The Reconciler never calls UpdateProviderCredentials.
type CredentialStore interface {
	Store
	// UpdateProviderCredentials overwrites client id and secret of the config for
	// provider. It returns ErrNotFound when no config exists.
	UpdateProviderCredentials(ctx context.Context, provider, clientID, secret string) (*ProviderConfig, error)
}

// ActiveCredentials returns the stored config for cfg.Provider when it can be
// used to sign in: linked to cfg.SiteID, with a client id and secret that are
// neither empty nor the placeholders. Otherwise it returns (nil, nil).
func ActiveCredentials(ctx context.Context, store Store, cfg Config) (*ProviderConfig, error) {
	p, err := store.FindProviderConfig(ctx, cfg.Provider)
	if err != nil || p == nil {
		return nil, err
	}
	if !p.Linked(cfg.SiteID) {
		return nil, nil
	}
	id, secret := strings.TrimSpace(p.ClientID), strings.TrimSpace(p.Secret)
	if id == "" || secret == "" || id == cfg.PlaceholderClientID || secret == cfg.PlaceholderSecret {
		return nil, nil
	}
	return p, nil
}
