package authhttp

import (
	"errors"
	"net/http"

	core "github.com/open-rails/profilekit/core"
)

func (s *Service) handleUserMeGET(w http.ResponseWriter, r *http.Request) {
	if !s.allow(r, RLUserMe) {
		tooMany(w)
		return
	}
	claims, ok := ClaimsFromContext(r.Context())
	if !ok || claims.UserID == "" {
		unauthorized(w, "unauthorized")
		return
	}

	p, err := s.svc.Profile(r.Context(), claims.UserID)
	if errors.Is(err, core.ErrUserNotFound) {
		notFound(w, "user_not_found")
		return
	}
	if err != nil {
		s.log.WithError(err).WithField("user_id", claims.UserID).Error("profile_lookup_failed")
		serverErr(w, "user_lookup_failed")
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (s *Service) handleUserBiographyPATCH(w http.ResponseWriter, r *http.Request) {
	if !s.allow(r, RLUserBiography) {
		tooMany(w)
		return
	}
	claims, ok := ClaimsFromContext(r.Context())
	if !ok || claims.UserID == "" {
		unauthorized(w, "unauthorized")
		return
	}

	var req struct {
		Biography *string `json:"biography"`
	}
	if err := decodeJSON(r, &req); err != nil || req.Biography == nil {
		badRequest(w, "invalid_request")
		return
	}
	err := s.svc.UpdateBiography(r.Context(), claims.UserID, *req.Biography)
	switch {
	case errors.Is(err, core.ErrBiographyTooLong):
		badRequest(w, "biography_too_long")
		return
	case errors.Is(err, core.ErrUserNotFound):
		notFound(w, "user_not_found")
		return
	case err != nil:
		s.log.WithError(err).WithField("user_id", claims.UserID).Error("biography_update_failed")
		serverErr(w, "biography_update_failed")
		return
	}
	writeOK(w)
}
