package handlers

import (
	"crypto/subtle"
	"encoding/json"
	"net/http"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/crypto/bcrypt"

	"github.com/stanstork/stratum-replicator/internal/authz"
	"github.com/stanstork/stratum-replicator/internal/config"
)

const tokenTTL = 12 * time.Hour

type AuthHandler struct {
	admin     config.AdminConfig
	jwtSecret []byte
	logger    zerolog.Logger
	now       func() time.Time
}

type tokenRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

func NewAuthHandler(cfg *config.Config, logger zerolog.Logger) *AuthHandler {
	return &AuthHandler{
		admin:     cfg.Admin,
		jwtSecret: []byte(cfg.JWTSecret),
		logger:    logger.With().Str("handler", "auth").Logger(),
		now:       time.Now,
	}
}

// Token exchanges the operator credentials for a bearer token.
func (h *AuthHandler) Token(w http.ResponseWriter, r *http.Request) {
	var req tokenRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	if h.admin.Username == "" || h.admin.PasswordHash == "" {
		http.Error(w, "Admin account is not configured", http.StatusUnauthorized)
		return
	}
	userOK := subtle.ConstantTimeCompare([]byte(req.Username), []byte(h.admin.Username)) == 1
	passErr := bcrypt.CompareHashAndPassword([]byte(h.admin.PasswordHash), []byte(req.Password))
	if !userOK || passErr != nil {
		h.logger.Warn().Str("username", req.Username).Msg("rejected admin login")
		http.Error(w, "Authentication failed", http.StatusUnauthorized)
		return
	}

	token, err := authz.IssueToken(h.jwtSecret, h.admin.Username, h.now(), tokenTTL)
	if err != nil {
		h.logger.Error().Err(err).Msg("failed to issue token")
		http.Error(w, "Failed to generate token", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"token": token})
}
