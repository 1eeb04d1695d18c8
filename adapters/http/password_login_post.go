package authhttp

import (
	"errors"
	"net/http"
	"strings"

	core "github.com/open-rails/profilekit/core"
)

func (s *Service) handlePasswordLoginPOST(w http.ResponseWriter, r *http.Request) {
	if !s.allow(r, RLPasswordLogin) {
		tooMany(w)
		return
	}

	var req struct {
		Identifier string `json:"identifier"` // email or username
		Password   string `json:"password"`
	}
	if err := decodeJSON(r, &req); err != nil || req.Password == "" {
		badRequest(w, "invalid_request")
		return
	}
	identifier := strings.TrimSpace(req.Identifier)
	if identifier == "" {
		badRequest(w, "invalid_request")
		return
	}

	u, err := s.svc.PasswordLogin(r.Context(), identifier, req.Password)
	switch {
	case errors.Is(err, core.ErrUserInactive):
		unauthorized(w, "user_inactive")
		return
	case errors.Is(err, core.ErrInvalidCredentials):
		unauthorized(w, "invalid_credentials")
		return
	case err != nil:
		s.log.WithError(err).Error("password_login_failed")
		serverErr(w, "login_failed")
		return
	}

	login, err := s.svc.StartSession(r.Context(), u.ID, "password")
	if err != nil {
		s.log.WithError(err).WithField("user_id", u.ID).Error("session_issue_failed")
		serverErr(w, "session_issue_failed")
		return
	}
	s.setSessionCookie(w, login)
	writeJSON(w, http.StatusOK, tokenResponse(login, nil))
}
