package handlers

import (
	"context"
	"net/http"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/ukydev/fieldops/internal/auth"
	"github.com/ukydev/fieldops/internal/models"
)

// TechnicianLookup is the part of the technician store used at login.
type TechnicianLookup interface {
	FindTechnicianByUsername(ctx context.Context, username string) (*models.Technician, error)
	UpdateLastLogin(ctx context.Context, id string, at time.Time) error
}

// TokenIssuer signs session tokens.
type TokenIssuer interface {
	GenerateToken(technician *models.Technician) (string, error)
}

// AuthHandler handles authentication requests
type AuthHandler struct {
	tokens      TokenIssuer
	technicians TechnicianLookup
	now         func() time.Time
}

// NewAuthHandler creates a new authentication handler
func NewAuthHandler(tokens TokenIssuer, technicians TechnicianLookup) *AuthHandler {
	return &AuthHandler{
		tokens:      tokens,
		technicians: technicians,
		now:         time.Now,
	}
}

// Login exchanges a username and PIN for a session token.
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var loginReq models.LoginRequest
	if !decode(w, r, &loginReq) {
		return
	}

	loginReq.Username = strings.TrimSpace(loginReq.Username)
	if loginReq.Username == "" || auth.ValidatePIN(loginReq.PIN) != nil {
		writeFailure(w, http.StatusBadRequest)
		return
	}

	technician, err := h.technicians.FindTechnicianByUsername(r.Context(), loginReq.Username)
	if err != nil {
		log.WithField("username", loginReq.Username).Info("Login for unknown technician")
		writeFailure(w, http.StatusUnauthorized)
		return
	}

	if !technician.IsActive {
		writeFailure(w, http.StatusUnauthorized)
		return
	}

	if !auth.CheckPIN(loginReq.PIN, technician.PINHash) {
		log.WithField("username", loginReq.Username).Info("Login with wrong PIN")
		writeFailure(w, http.StatusUnauthorized)
		return
	}

	token, err := h.tokens.GenerateToken(technician)
	if err != nil {
		log.WithError(err).Error("Failed to generate token")
		writeFailure(w, http.StatusInternalServerError)
		return
	}

	// A failed last-login update does not fail the login.
	if err := h.technicians.UpdateLastLogin(r.Context(), technician.ID, h.now()); err != nil {
		log.WithError(err).WithField("technician_id", technician.ID).Warn("Failed to update last login")
	}

	writeOK(w, http.StatusOK, models.LoginResponse{
		Token:      token,
		Technician: *technician,
	})
}
