package httpapi

import (
	"net/http"
	"strings"

	"barrier.org/internal/auth"
	"barrier.org/internal/gates"
	"barrier.org/internal/session"
)

type loginRequest struct {
	Login    string `json:"login"`
	Password string `json:"password"`
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

type successResponse struct {
	Success bool `json:"success"`
}

type gatesResponse struct {
	Gates gates.Set `json:"gates"`
}

const gateOpenPrefix = "/gates/open/"

func metaFrom(r *http.Request) session.Meta {
	return session.Meta{IP: clientIP(r)}
}

func (a *API) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	var req loginRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	toks, err := a.sessions.Login(r.Context(), metaFrom(r), req.Login, req.Password)
	if err != nil {
		handleSessionError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toks)
}

func (a *API) handleRefresh(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	var req refreshRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	toks, err := a.sessions.Refresh(r.Context(), metaFrom(r), req.RefreshToken)
	if err != nil {
		handleSessionError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toks)
}

func (a *API) handleLogout(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	a.withClaims(func(w http.ResponseWriter, r *http.Request, claims *auth.Claims) {
		if err := a.sessions.Logout(r.Context(), claims); err != nil {
			handleSessionError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, successResponse{Success: true})
	})(w, r)
}

func (a *API) handleGateList(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	a.withClaims(func(w http.ResponseWriter, r *http.Request, claims *auth.Claims) {
		writeJSON(w, http.StatusOK, gatesResponse{Gates: a.sessions.Gates(claims)})
	})(w, r)
}

func (a *API) handleGateOpen(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	name := strings.TrimPrefix(r.URL.Path, gateOpenPrefix)
	a.withClaims(func(w http.ResponseWriter, r *http.Request, claims *auth.Claims) {
		ok, err := a.sessions.OpenGate(r.Context(), metaFrom(r), claims, name)
		if err != nil {
			handleSessionError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, successResponse{Success: ok})
	})(w, r)
}
