package authhttp

import (
	"net/http"

	"github.com/open-rails/profilekit/provision"
)

type reconcileResponse struct {
	Outcome         provision.Outcome `json:"outcome"`
	Reached         string            `json:"reached"`
	Warning         string            `json:"warning,omitempty"`
	SiteDomain      string            `json:"site_domain,omitempty"`
	AdminCreated    bool              `json:"admin_created"`
	ProviderCreated bool              `json:"provider_created"`
}

// handleAdminReconcilePOST reruns deployment reconciliation on demand. The run is
// best-effort, so a warning is still a 200.
func (s *Service) handleAdminReconcilePOST(w http.ResponseWriter, r *http.Request) {
	if !s.allow(r, RLAdminReconcile) {
		tooMany(w)
		return
	}
	rep := s.reconciler.Reconcile(r.Context(), s.reconcileEnv)
	resp := reconcileResponse{
		Outcome:         rep.Outcome,
		Reached:         rep.Reached.String(),
		AdminCreated:    rep.AdminCreated,
		ProviderCreated: rep.ProviderCreated,
	}
	if rep.Warning != nil {
		resp.Warning = rep.Warning.Error()
	}
	if rep.Site != nil {
		resp.SiteDomain = rep.Site.Domain
	}
	writeJSON(w, http.StatusOK, resp)
}
