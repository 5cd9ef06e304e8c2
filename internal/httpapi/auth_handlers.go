package httpapi

import (
	"net/http"
	"strings"
	"time"

	"github.com/A1anMc/MOVEMBER-sub002/internal/auth"
)

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
	ClientID string `json:"client_id"`
}

type sessionResponse struct {
	Token            string    `json:"token"`
	RefreshToken     string    `json:"refresh_token,omitempty"`
	SessionID        string    `json:"session_id"`
	ExpiresAt        time.Time `json:"expires_at"`
	RefreshExpiresAt time.Time `json:"refresh_expires_at,omitempty"`
	User             auth.User `json:"user"`
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
	if strings.TrimSpace(req.Username) == "" || req.Password == "" {
		writeError(w, r, http.StatusBadRequest, "username and password are required")
		return
	}

	ip := clientIP(r)
	user, err := a.engine.Authenticate(r.Context(), req.Username, req.Password, ip, req.ClientID)
	if err != nil {
		handleAuthError(w, r, err)
		return
	}
	grant, err := a.engine.CreateSession(r.Context(), user, ip, req.ClientID)
	if err != nil {
		handleAuthError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, sessionResponse{
		Token:            grant.Session.Token,
		RefreshToken:     grant.RefreshToken,
		SessionID:        grant.Session.ID,
		ExpiresAt:        grant.Session.ExpiresAt,
		RefreshExpiresAt: grant.RefreshExpiresAt,
		User:             user,
	})
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
	ClientID     string `json:"client_id"`
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
	grant, err := a.engine.RefreshSession(r.Context(), req.RefreshToken, clientIP(r), req.ClientID)
	if err != nil {
		handleAuthError(w, r, err)
		return
	}
	user, err := a.engine.UserByID(r.Context(), grant.Session.UserID)
	if err != nil {
		handleAuthError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sessionResponse{
		Token:            grant.Session.Token,
		RefreshToken:     grant.RefreshToken,
		SessionID:        grant.Session.ID,
		ExpiresAt:        grant.Session.ExpiresAt,
		RefreshExpiresAt: grant.RefreshExpiresAt,
		User:             user,
	})
}

func (a *API) handleLogout(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	session, ok := auth.SessionFromContext(r.Context())
	if !ok {
		writeError(w, r, http.StatusUnauthorized, "no session")
		return
	}
	revoked := a.engine.RevokeSession(r.Context(), session.ID)
	writeJSON(w, http.StatusOK, map[string]bool{"revoked": revoked})
}

func (a *API) handleSession(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	session, ok := auth.SessionFromContext(r.Context())
	if !ok {
		writeError(w, r, http.StatusUnauthorized, "no session")
		return
	}
	user, _ := auth.UserFromContext(r.Context())
	writeJSON(w, http.StatusOK, map[string]any{
		"session": session,
		"user":    user,
	})
}
