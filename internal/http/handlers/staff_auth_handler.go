package handlers

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/alexedwards/argon2id"
	"github.com/google/uuid"

	"github.com/atlalli/redemption/internal/http/middleware"
	"github.com/atlalli/redemption/internal/http/response"
	"github.com/atlalli/redemption/internal/platform/auth"
	"github.com/atlalli/redemption/internal/repo/postgres"
	"github.com/atlalli/redemption/pkg/config"
	"github.com/atlalli/redemption/pkg/events"
	"github.com/atlalli/redemption/pkg/logger"
)

// StaffAuthHandler issues scanner session tokens to venue staff.
type StaffAuthHandler struct {
	staff postgres.StaffRepo
	bus   events.Publisher
	cfg   config.AuthConfig
}

func NewStaffAuthHandler(staff postgres.StaffRepo, bus events.Publisher, cfg config.AuthConfig) *StaffAuthHandler {
	return &StaffAuthHandler{staff: staff, bus: bus, cfg: cfg}
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type loginResponse struct {
	Token   string `json:"token"`
	Name    string `json:"name"`
	Role    string `json:"role"`
	VenueID string `json:"venue_id"`
}

// Login handles POST /auth/login. Unknown email and wrong password return the
// same message so the endpoint can't be used to probe for staff accounts.
func (h *StaffAuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.BadRequest(w, "Invalid JSON body")
		return
	}
	req.Email = strings.TrimSpace(strings.ToLower(req.Email))
	if req.Email == "" || req.Password == "" {
		response.BadRequest(w, "Email and password are required")
		return
	}

	member, err := h.staff.FindByEmail(r.Context(), req.Email)
	if err != nil {
		logger.ErrorContext(r.Context(), "Staff lookup failed", "error", err)
		response.InternalError(w, "Login failed")
		return
	}
	if member == nil {
		response.Unauthorized(w, "Invalid email or password")
		return
	}

	match, err := argon2id.ComparePasswordAndHash(req.Password, member.PasswordHash)
	if err != nil || !match {
		response.Unauthorized(w, "Invalid email or password")
		return
	}

	token, err := auth.NewStaffToken(member.ID, member.Email, member.Role, member.VenueID, h.cfg.StaffTokenTTL)
	if err != nil {
		logger.ErrorContext(r.Context(), "Failed to sign staff token", "error", err)
		response.InternalError(w, "Login failed")
		return
	}

	if h.bus != nil {
		event := events.StaffLoggedInEvent{
			StaffID: member.ID,
			VenueID: member.VenueID,
			Role:    member.Role,
		}
		if err := h.bus.Publish(r.Context(), events.StaffLoggedIn, event); err != nil {
			logger.ErrorContext(r.Context(), "Failed to publish login event", "error", err, "staff_id", member.ID)
		}
	}

	logger.InfoContext(r.Context(), "Staff logged in", "staff_id", member.ID, "venue_id", member.VenueID, "role", member.Role)
	response.WriteJSON(w, http.StatusOK, loginResponse{
		Token:   token,
		Name:    member.Name,
		Role:    member.Role,
		VenueID: member.VenueID,
	})
}

type registerRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Name     string `json:"name"`
	VenueID  string `json:"venue_id"`
	Role     string `json:"role"`
}

// Register handles POST /auth/register. Managers only, and only for their own
// venue; there is no self-service signup for scanning devices.
func (h *StaffAuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	claims := middleware.Claims(r)
	if claims.Role != "manager" {
		response.Forbidden(w, "Only managers can register staff")
		return
	}

	var req registerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.BadRequest(w, "Invalid JSON body")
		return
	}
	req.Email = strings.TrimSpace(strings.ToLower(req.Email))
	req.Name = strings.TrimSpace(req.Name)
	if req.Email == "" || req.Password == "" || req.Name == "" {
		response.BadRequest(w, "Email, password and name are required")
		return
	}
	if len(req.Password) < 8 {
		response.BadRequest(w, "Password must be at least 8 characters")
		return
	}
	if req.Role != "bartender" && req.Role != "manager" {
		response.BadRequest(w, "Role must be bartender or manager")
		return
	}
	if req.VenueID != claims.VenueID {
		response.Forbidden(w, "Managers can only register staff for their own venue")
		return
	}

	existing, err := h.staff.FindByEmail(r.Context(), req.Email)
	if err != nil {
		logger.ErrorContext(r.Context(), "Staff lookup failed", "error", err)
		response.InternalError(w, "Registration failed")
		return
	}
	if existing != nil {
		response.Conflict(w, "A staff member with this email already exists")
		return
	}

	hash, err := argon2id.CreateHash(req.Password, argon2id.DefaultParams)
	if err != nil {
		logger.ErrorContext(r.Context(), "Failed to hash password", "error", err)
		response.InternalError(w, "Registration failed")
		return
	}

	member, err := h.staff.Create(r.Context(), uuid.NewString(), req.Email, hash, req.Name, req.VenueID, req.Role)
	if err != nil {
		logger.ErrorContext(r.Context(), "Failed to create staff member", "error", err)
		response.InternalError(w, "Registration failed")
		return
	}

	logger.InfoContext(r.Context(), "Staff registered", "staff_id", member.ID, "venue_id", member.VenueID, "role", member.Role)
	response.WriteJSON(w, http.StatusCreated, map[string]string{
		"id":       member.ID,
		"email":    member.Email,
		"name":     member.Name,
		"venue_id": member.VenueID,
		"role":     member.Role,
	})
}
