package controllers

import (
	"cloutdash/internal/identity"
	"cloutdash/internal/models"
	"cloutdash/internal/providers"
	"net/http"
)

type AuthController struct {
	logger   providers.Logger
	identity identity.Provider
}

type credentials struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Username string `json:"username"`
}

func NewAuthController(logger providers.Logger, provider identity.Provider) *AuthController {
	return &AuthController{
		logger:   logger,
		identity: provider,
	}
}

func (ac *AuthController) SignUp(w http.ResponseWriter, r *http.Request) {
	var req credentials
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, err)
		return
	}
	id, err := ac.identity.SignUp(r.Context(), req.Email, req.Password, req.Username)
	if err != nil {
		ac.logger.Warnf(providers.TypePost, "Sign up failed for %s: %s", req.Email, err)
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, id)
}

func (ac *AuthController) LogIn(w http.ResponseWriter, r *http.Request) {
	var req credentials
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, err)
		return
	}
	id, err := ac.identity.LogIn(r.Context(), req.Email, req.Password)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, id)
}

func (ac *AuthController) LogOut(w http.ResponseWriter, r *http.Request) {
	if err := ac.identity.LogOut(r.Context()); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (ac *AuthController) Me(w http.ResponseWriter, _ *http.Request) {
	id := ac.identity.Current()
	if id == nil {
		writeError(w, models.ErrUnauthenticated)
		return
	}
	writeJSON(w, http.StatusOK, id)
}
