package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/atlalli/redemption/internal/conversion"
	"github.com/atlalli/redemption/internal/http/middleware"
	"github.com/atlalli/redemption/internal/http/response"
	"github.com/atlalli/redemption/pkg/logger"
)

// ConversionHandler exposes the guest-to-member pipeline to venue managers.
type ConversionHandler struct {
	conversions *conversion.Service
}

func NewConversionHandler(convs *conversion.Service) *ConversionHandler {
	return &ConversionHandler{conversions: convs}
}

// ListPending handles GET /conversions/pending, scoped to the manager's venue.
func (h *ConversionHandler) ListPending(w http.ResponseWriter, r *http.Request) {
	claims := middleware.Claims(r)
	if claims.Role != "manager" {
		response.Forbidden(w, "Manager role required")
		return
	}

	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 200 {
			limit = n
		}
	}

	convs, err := h.conversions.ListPending(r.Context(), claims.VenueID, limit)
	if err != nil {
		logger.ErrorContext(r.Context(), "Failed to list pending conversions", "error", err, "venue_id", claims.VenueID)
		response.InternalError(w, "Failed to list conversions")
		return
	}

	response.WriteJSON(w, http.StatusOK, map[string]any{"conversions": convs})
}

type markConvertedRequest struct {
	GuestEmail string `json:"guest_email"`
}

// MarkConverted handles POST /conversions/convert, recording that a guest
// accepted the membership invite.
func (h *ConversionHandler) MarkConverted(w http.ResponseWriter, r *http.Request) {
	claims := middleware.Claims(r)
	if claims.Role != "manager" {
		response.Forbidden(w, "Manager role required")
		return
	}

	var req markConvertedRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.BadRequest(w, "Invalid JSON body")
		return
	}
	req.GuestEmail = strings.TrimSpace(req.GuestEmail)
	if req.GuestEmail == "" {
		response.BadRequest(w, "guest_email is required")
		return
	}

	changed, err := h.conversions.MarkConverted(r.Context(), req.GuestEmail)
	if err != nil {
		logger.ErrorContext(r.Context(), "Failed to mark conversion", "error", err, "guest_email", req.GuestEmail)
		response.InternalError(w, "Failed to mark conversion")
		return
	}
	if !changed {
		response.NotFound(w, "No pending conversion for this guest")
		return
	}

	response.WriteJSON(w, http.StatusOK, map[string]string{"status": "converted"})
}
