package authhttp

import (
	"errors"
	"net/http"
	"strings"

	"github.com/go-playground/validator/v10"

	core "github.com/open-rails/profilekit/core"
	pwhash "github.com/open-rails/profilekit/password"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

type registerRequest struct {
	Username  string `json:"username" validate:"required"`
	Email     string `json:"email" validate:"required,email"`
	Password  string `json:"password" validate:"required,min=8"`
	Biography string `json:"biography"`
}

func (s *Service) handleRegisterPOST(w http.ResponseWriter, r *http.Request) {
	if !s.allow(r, RLAuthRegister) {
		tooMany(w)
		return
	}

	var req registerRequest
	if err := decodeJSON(r, &req); err != nil {
		badRequest(w, "invalid_request")
		return
	}
	req.Username = strings.TrimSpace(req.Username)
	req.Email = strings.TrimSpace(req.Email)
	if err := validate.Struct(req); err != nil {
		badRequest(w, "invalid_request")
		return
	}
	if err := pwhash.Validate(req.Password); err != nil {
		badRequest(w, "invalid_password")
		return
	}
	if err := validateUsername(req.Username); err != nil {
		badRequest(w, err.Error())
		return
	}

	u, err := s.svc.Register(r.Context(), core.Registration{
		Username:  req.Username,
		Email:     req.Email,
		Password:  req.Password,
		Biography: req.Biography,
	})
	switch {
	case errors.Is(err, core.ErrUsernameTaken):
		conflict(w, "username_in_use")
		return
	case errors.Is(err, core.ErrEmailTaken):
		conflict(w, "email_in_use")
		return
	case errors.Is(err, core.ErrBiographyTooLong):
		badRequest(w, "biography_too_long")
		return
	case err != nil:
		s.log.WithError(err).Error("register_failed")
		serverErr(w, "registration_failed")
		return
	}

	login, err := s.svc.StartSession(r.Context(), u.ID, "register")
	if err != nil {
		s.log.WithError(err).WithField("user_id", u.ID).Error("session_issue_failed")
		serverErr(w, "session_issue_failed")
		return
	}
	login.Created = true
	s.setSessionCookie(w, login)
	writeJSON(w, http.StatusCreated, tokenResponse(login, nil))
}
