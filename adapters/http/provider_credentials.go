package authhttp

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/open-rails/profilekit/provision"
)

// syncProvider points the relying party for provider at its current credentials:
// the stored config when active, else the environment, else nothing. A store
// error leaves the current configuration in place.
func (s *Service) syncProvider(ctx context.Context, provider string) {
	if s.creds == nil || provider != s.credsCfg.Provider {
		return
	}
	m, ok := s.oidc.(providerConfigurer)
	if !ok {
		return
	}
	log := s.log.WithField("provider", provider)
	stored, err := provision.ActiveCredentials(ctx, s.creds, s.credsCfg)
	if err != nil {
		log.WithError(err).Warn("oidc_provider_credentials_lookup_failed")
		return
	}
	if stored != nil {
		c := s.envProviders[provider]
		c.ClientID, c.ClientSecret = stored.ClientID, stored.Secret
		if m.Configure(provider, c) {
			log.WithField("source", "database").Info("oidc_provider_configured")
		}
		return
	}
	if c, ok := s.envProviders[provider]; ok && strings.TrimSpace(c.ClientID) != "" {
		if m.Configure(provider, c) {
			log.WithField("source", "environment").Info("oidc_provider_configured")
		}
		return
	}
	if m.Disable(provider) {
		log.Warn("oidc_provider_disabled")
	}
}

type providerCredentialsRequest struct {
	ClientID string `json:"client_id" validate:"required"`
	Secret   string `json:"secret" validate:"required"`
}

// handleAdminProviderCredentialsPUT replaces a provider's stored client
// credentials. The secret is never echoed back.
func (s *Service) handleAdminProviderCredentialsPUT(w http.ResponseWriter, r *http.Request) {
	if !s.allow(r, RLAdminProviderCredentials) {
		tooMany(w)
		return
	}
	var req providerCredentialsRequest
	if err := decodeJSON(r, &req); err != nil {
		badRequest(w, "invalid_request")
		return
	}
	req.ClientID = strings.TrimSpace(req.ClientID)
	req.Secret = strings.TrimSpace(req.Secret)
	if err := validate.Struct(req); err != nil {
		badRequest(w, "invalid_request")
		return
	}

	provider := strings.ToLower(r.PathValue("provider"))
	log := s.log.WithField("provider", provider)
	if _, err := s.creds.UpdateProviderCredentials(r.Context(), provider, req.ClientID, req.Secret); err != nil {
		if errors.Is(err, provision.ErrNotFound) {
			notFound(w, "provider_not_found")
			return
		}
		log.WithError(err).Error("oidc_provider_credentials_update_failed")
		serverErr(w, "credentials_update_failed")
		return
	}
	log.Info("oidc_provider_credentials_updated")

	s.syncProvider(r.Context(), provider)
	_, enabled := s.oidc.IssuerFor(provider)
	writeJSON(w, http.StatusOK, map[string]any{"provider": provider, "enabled": enabled})
}
