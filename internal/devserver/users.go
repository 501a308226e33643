package devserver

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"fotobudka/internal/middleware"
)

type registerRequest struct {
	ExternalID string `json:"external_id"`
}

type userResponse struct {
	ID           string `json:"id"`
	Tokens       int    `json:"tokens"`
	AvatarTokens int    `json:"avatar_tokens"`
}

type authorizeRequest struct {
	UserID string `json:"user_id"`
}

func (s *Server) RegisterUser(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.error(w, http.StatusBadRequest, "bad_request", "invalid payload")
		return
	}
	externalID := strings.TrimSpace(req.ExternalID)
	if externalID == "" {
		s.error(w, http.StatusBadRequest, "bad_request", "external_id required")
		return
	}

	s.mu.Lock()
	if _, exists := s.byExternal[externalID]; exists {
		s.mu.Unlock()
		s.error(w, http.StatusUnprocessableEntity, "conflict", "user already registered")
		return
	}
	u := &user{ID: uuid.NewString(), ExternalID: externalID, Tokens: StartingTokens}
	s.users[u.ID] = u
	s.byExternal[externalID] = u.ID
	resp := userResponse{ID: u.ID, Tokens: u.Tokens, AvatarTokens: u.AvatarTokens}
	s.mu.Unlock()

	s.logger.Info().Str("user_id", u.ID).Msg("devserver: user registered")
	s.json(w, http.StatusOK, resp)
}

func (s *Server) AuthorizeUser(w http.ResponseWriter, r *http.Request) {
	var req authorizeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.error(w, http.StatusBadRequest, "bad_request", "invalid payload")
		return
	}
	s.mu.Lock()
	_, ok := s.users[strings.TrimSpace(req.UserID)]
	s.mu.Unlock()
	if !ok {
		s.error(w, http.StatusNotFound, "not_found", "user not found")
		return
	}
	token, err := middleware.SignToken(s.secret, req.UserID, 0)
	if err != nil {
		s.logger.Error().Err(err).Msg("devserver: sign token failed")
		s.error(w, http.StatusInternalServerError, "internal", "failed to sign token")
		return
	}
	s.json(w, http.StatusOK, map[string]string{"access_token": token})
}

func (s *Server) Me(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	u, ok := s.users[s.currentUserID(r)]
	var resp userResponse
	if ok {
		resp = userResponse{ID: u.ID, Tokens: u.Tokens, AvatarTokens: u.AvatarTokens}
	}
	s.mu.Unlock()
	if !ok {
		s.error(w, http.StatusUnauthorized, "unauthorized", "unknown user")
		return
	}
	s.json(w, http.StatusOK, resp)
}

// chargeLocked takes cost tokens from the user. Callers hold s.mu.
func (s *Server) chargeLocked(userID string, cost int) (int, bool) {
	u, ok := s.users[userID]
	if !ok {
		return http.StatusUnauthorized, false
	}
	if u.Tokens < cost {
		return http.StatusPaymentRequired, false
	}
	u.Tokens -= cost
	return http.StatusOK, true
}
