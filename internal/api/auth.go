package api

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/meteorlabs/kookbridge/internal/auth"
)

// Dashboard accounts are administered from the CLI; the REST surface only
// covers what the dashboard itself needs: logging in, checking a session,
// and letting an account rotate its own password.

// LoginRequest is the request body for login
type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// LoginResponse is the response body for successful login
type LoginResponse struct {
	Token                  string `json:"token"`
	Username               string `json:"username"`
	IsAdmin                bool   `json:"is_admin"`
	PasswordChangeRequired bool   `json:"password_change_required"`
}

// ChangePasswordRequest is the request body for password change
type ChangePasswordRequest struct {
	CurrentPassword string `json:"current_password"`
	NewPassword     string `json:"new_password"`
}

// handleLogin checks credentials and hands out a signed token
func (r *Router) handleLogin(w http.ResponseWriter, req *http.Request) {
	var login LoginRequest
	if err := json.NewDecoder(req.Body).Decode(&login); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if login.Username == "" || login.Password == "" {
		writeError(w, http.StatusBadRequest, "username and password are required")
		return
	}

	// Same response for unknown account and wrong password
	user, err := r.store.GetUserByUsername(req.Context(), login.Username)
	if err != nil || !auth.CheckPassword(login.Password, user.PasswordHash) {
		writeError(w, http.StatusUnauthorized, "invalid credentials")
		return
	}

	token, err := r.auth.GenerateToken(user)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to generate token")
		return
	}

	writeJSON(w, http.StatusOK, LoginResponse{
		Token:                  token,
		Username:               user.Username,
		IsAdmin:                user.IsAdmin,
		PasswordChangeRequired: user.PasswordChangeRequired,
	})
}

// handleLogout is a no-op server side; tokens are stateless and the
// dashboard simply drops its copy.
func (r *Router) handleLogout(w http.ResponseWriter, req *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleAuthCheck reports whether the presented token is still good
func (r *Router) handleAuthCheck(w http.ResponseWriter, req *http.Request) {
	claims := r.bearerClaims(req)
	if claims == nil {
		writeJSON(w, http.StatusOK, map[string]any{"authenticated": false})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"authenticated":            true,
		"username":                 claims.Username,
		"is_admin":                 claims.IsAdmin,
		"password_change_required": claims.PasswordChangeRequired,
	})
}

// handleChangePassword lets an account rotate its own password. A fresh
// token is issued so a forced-change flag does not stick to the session.
func (r *Router) handleChangePassword(w http.ResponseWriter, req *http.Request) {
	claims := r.bearerClaims(req)
	if claims == nil {
		writeError(w, http.StatusUnauthorized, "authentication required")
		return
	}

	var body ChangePasswordRequest
	if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if len(body.NewPassword) < 8 {
		writeError(w, http.StatusBadRequest, "password must be at least 8 characters")
		return
	}

	user, err := r.store.GetUserByUsername(req.Context(), claims.Username)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to get user")
		return
	}
	if !auth.CheckPassword(body.CurrentPassword, user.PasswordHash) {
		writeError(w, http.StatusUnauthorized, "current password is incorrect")
		return
	}

	hash, err := auth.HashPassword(body.NewPassword)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to hash password")
		return
	}
	if err := r.store.UpdateUserPassword(req.Context(), user.Username, hash, false); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to update password")
		return
	}

	user.PasswordChangeRequired = false
	newToken, err := r.auth.GenerateToken(user)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to generate new token")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"message": "password changed successfully",
		"token":   newToken,
	})
}

// requireAuth rejects requests without a valid bearer token
func (r *Router) requireAuth(next http.HandlerFunc) http.HandlerFunc {
	return r.gate(next, false)
}

// requireAdmin additionally rejects non-admin accounts
func (r *Router) requireAdmin(next http.HandlerFunc) http.HandlerFunc {
	return r.gate(next, true)
}

func (r *Router) gate(next http.HandlerFunc, adminOnly bool) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		claims := r.bearerClaims(req)
		if claims == nil {
			writeError(w, http.StatusUnauthorized, "authentication required")
			return
		}
		if adminOnly && !claims.IsAdmin {
			writeError(w, http.StatusForbidden, "admin access required")
			return
		}
		next(w, req)
	}
}

// bearerClaims validates the Authorization header, returning nil when the
// header is absent or the token does not check out.
func (r *Router) bearerClaims(req *http.Request) *auth.Claims {
	header := req.Header.Get("Authorization")
	token, ok := strings.CutPrefix(header, "Bearer ")
	if !ok {
		return nil
	}
	claims, err := r.auth.ValidateToken(token)
	if err != nil {
		return nil
	}
	return claims
}
