package api

import (
	"encoding/json"
	"net/http"
	"time"
)

// LoginRequest represents login credentials
type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// LoginResponse contains JWT token
type LoginResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
	User      UserInfo  `json:"user"`
}

// UserInfo contains user details
type UserInfo struct {
	Username string   `json:"username"`
	Roles    []string `json:"roles"`
}

// LoginHandler checks credentials against the configured users and issues
// a token carrying the user's role.
func (s *Server) LoginHandler(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	user, err := s.users.Authenticate(req.Username, req.Password)
	if err != nil {
		s.log.Warn("login failed", "user", req.Username, "remote", r.RemoteAddr)
		respondError(w, "invalid credentials", http.StatusUnauthorized)
		return
	}

	roles := []string{user.Role}
	token, expiresAt, err := s.jwt.GenerateToken(user.Username, roles)
	if err != nil {
		s.log.Error("issue token", "user", user.Username, "error", err)
		respondError(w, "failed to generate token", http.StatusInternalServerError)
		return
	}

	respondJSON(w, LoginResponse{
		Token:     token,
		ExpiresAt: expiresAt,
		User:      UserInfo{Username: user.Username, Roles: roles},
	}, http.StatusOK)
}

// HealthHandler returns server health status
func (s *Server) HealthHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodHead {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		return
	}
	respondJSON(w, map[string]string{"status": "healthy"}, http.StatusOK)
}

