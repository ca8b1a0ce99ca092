package api

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/cityscope/cityscope/internal/auth"
)

const refreshCookieName = "cityscope_refresh"

type credentialsRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
}

func (s *Server) handleSignup(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	req.Email = strings.ToLower(strings.TrimSpace(req.Email))
	if req.Email == "" || !strings.Contains(req.Email, "@") {
		writeError(w, http.StatusBadRequest, "Valid email required")
		return
	}
	if len(req.Password) < 8 {
		writeError(w, http.StatusBadRequest, "Password must be at least 8 characters")
		return
	}

	existing, err := s.store.GetUserByEmail(req.Email)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	if existing != nil {
		writeError(w, http.StatusBadRequest, "Email already registered")
		return
	}

	hash, err := auth.HashPassword(req.Password)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	user, err := s.store.CreateUser(req.Email, hash)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}

	s.issueTokens(w, user.Email)
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	req.Email = strings.ToLower(strings.TrimSpace(req.Email))

	user, err := s.store.GetUserByEmail(req.Email)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	if user == nil || !auth.VerifyPassword(req.Password, user.HashedPassword) {
		writeError(w, http.StatusUnauthorized, "Invalid credentials")
		return
	}
	if !user.IsActive {
		writeError(w, http.StatusUnauthorized, "Inactive user")
		return
	}

	s.issueTokens(w, user.Email)
}

// handleRefresh exchanges the refresh cookie for a fresh access token.
func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	cookie, err := r.Cookie(refreshCookieName)
	if err != nil || cookie.Value == "" {
		writeError(w, http.StatusUnauthorized, "Missing refresh token")
		return
	}

	email, err := s.tokens.Validate(cookie.Value)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "Invalid refresh token")
		return
	}

	access, err := s.tokens.AccessToken(email)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	writeJSON(w, http.StatusOK, tokenResponse{AccessToken: access, TokenType: "bearer"})
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	http.SetCookie(w, &http.Cookie{
		Name:     refreshCookieName,
		Value:    "",
		Path:     "/auth",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   s.secureCookies,
		SameSite: http.SameSiteLaxMode,
	})
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (s *Server) issueTokens(w http.ResponseWriter, email string) {
	access, err := s.tokens.AccessToken(email)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	refresh, err := s.tokens.RefreshToken(email)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     refreshCookieName,
		Value:    refresh,
		Path:     "/auth",
		MaxAge:   int(s.tokens.RefreshTTL().Seconds()),
		HttpOnly: true,
		Secure:   s.secureCookies,
		SameSite: http.SameSiteLaxMode,
	})
	writeJSON(w, http.StatusOK, tokenResponse{AccessToken: access, TokenType: "bearer"})
}
