package authhttp

import "net/http"

// handleLogoutDELETE deletes the caller's server-side session and clears the cookie.
// Bearer tokens carrying the same session id stop working immediately.
func (s *Service) handleLogoutDELETE(w http.ResponseWriter, r *http.Request) {
	if !s.allow(r, RLAuthLogout) {
		tooMany(w)
		return
	}
	cl, err := getClaims(r.Context())
	if err != nil {
		unauthorized(w, "unauthorized")
		return
	}
	if err := s.svc.RevokeSession(r.Context(), cl.UserID, cl.SessionID); err != nil {
		s.log.WithError(err).WithField("user_id", cl.UserID).Error("logout_failed")
		serverErr(w, "logout_failed")
		return
	}
	s.clearCookie(w, SessionCookieName)
	writeOK(w)
}
