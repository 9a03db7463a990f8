package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/atlalli/redemption/internal/conversion"
	"github.com/atlalli/redemption/internal/domain"
	"github.com/atlalli/redemption/internal/http/middleware"
	"github.com/atlalli/redemption/internal/http/response"
	"github.com/atlalli/redemption/internal/ledger"
	"github.com/atlalli/redemption/internal/scanner"
	"github.com/atlalli/redemption/pkg/config"
	"github.com/atlalli/redemption/pkg/logger"
)

// ScannerHandler is the staff-facing API behind the scanning devices. The
// venue a scan is matched against always comes from the staff token, never
// from the request body.
type ScannerHandler struct {
	scans       *scanner.Service
	ledger      ledger.Ledger
	conversions *conversion.Service
	cfg         config.RedemptionConfig
}

func NewScannerHandler(scans *scanner.Service, led ledger.Ledger, convs *conversion.Service, cfg config.RedemptionConfig) *ScannerHandler {
	return &ScannerHandler{
		scans:       scans,
		ledger:      led,
		conversions: convs,
		cfg:         cfg,
	}
}

func deviceID(r *http.Request) string {
	return strings.TrimSpace(r.Header.Get("X-Device-ID"))
}

type scanRequest struct {
	Code string `json:"code"`
}

// Scan handles POST /scanner/scan. One scan per device at a time; a second
// scan while the first is validating or sitting in the bill form is rejected
// outright.
func (h *ScannerHandler) Scan(w http.ResponseWriter, r *http.Request) {
	claims := middleware.Claims(r)
	device := deviceID(r)
	if device == "" {
		response.BadRequest(w, "X-Device-ID header is required")
		return
	}

	var req scanRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.BadRequest(w, "Invalid JSON body")
		return
	}
	if strings.TrimSpace(req.Code) == "" {
		response.BadRequest(w, "code is required")
		return
	}

	outcome, err := h.scans.Scan(r.Context(), req.Code, claims.VenueID, device, h.cfg.RefreshWindow)
	if err != nil {
		if errors.Is(err, scanner.ErrScanInFlight) {
			response.WriteError(w, http.StatusConflict, "A scan is already in progress on this device", response.CodeScanInFlight)
			return
		}
		logger.ErrorContext(r.Context(), "Scan failed", "error", err, "device_id", device)
		response.InternalError(w, "Scan failed")
		return
	}

	response.WriteJSON(w, http.StatusOK, outcome)
}

type confirmRequest struct {
	Claim   *scanner.VerifiedClaim `json:"claim"`
	BillRef string                 `json:"bill_ref"`
}

type confirmResponse struct {
	Outcome *scanner.Outcome         `json:"outcome"`
	Record  *domain.RedemptionRecord `json:"record,omitempty"`
}

// Confirm handles POST /scanner/confirm: the bill form submit. The claim is
// echoed back from the scan response; the append is what makes the redemption
// real, and a conflict here means another device won the race.
func (h *ScannerHandler) Confirm(w http.ResponseWriter, r *http.Request) {
	claims := middleware.Claims(r)
	device := deviceID(r)
	if device == "" {
		response.BadRequest(w, "X-Device-ID header is required")
		return
	}

	var req confirmRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.BadRequest(w, "Invalid JSON body")
		return
	}
	if req.Claim == nil {
		response.BadRequest(w, "claim is required")
		return
	}
	if strings.TrimSpace(req.BillRef) == "" {
		response.BadRequest(w, "bill_ref is required")
		return
	}
	// The claim was verified for the venue in the staff token; a confirm for
	// some other venue's claim is a tampered client.
	if req.Claim.Payload.VenueID != claims.VenueID {
		response.Forbidden(w, "claim does not belong to this venue")
		return
	}

	record, outcome, err := h.scans.Confirm(r.Context(), req.Claim, strings.TrimSpace(req.BillRef), claims.Sub, device)
	if err != nil {
		logger.ErrorContext(r.Context(), "Confirm failed", "error", err, "device_id", device)
		response.InternalError(w, "Failed to commit redemption")
		return
	}

	status := http.StatusOK
	if outcome.State == scanner.StateError {
		status = http.StatusConflict
	}
	response.WriteJSON(w, status, confirmResponse{Outcome: outcome, Record: record})
}

// Reset handles POST /scanner/reset, returning the device to idle after a
// success or error screen.
func (h *ScannerHandler) Reset(w http.ResponseWriter, r *http.Request) {
	device := deviceID(r)
	if device == "" {
		response.BadRequest(w, "X-Device-ID header is required")
		return
	}
	h.scans.Reset(device)
	response.WriteJSON(w, http.StatusOK, map[string]string{"state": string(scanner.StateIdle)})
}

type statsResponse struct {
	VenueID            string `json:"venue_id"`
	RedeemedToday      int    `json:"redeemed_today"`
	PendingConversions int    `json:"pending_conversions"`
}

// Stats handles GET /scanner/stats: today's redemption count for the staff
// member's venue plus the guests still waiting on a membership invite.
func (h *ScannerHandler) Stats(w http.ResponseWriter, r *http.Request) {
	claims := middleware.Claims(r)

	midnight := time.Now().Truncate(24 * time.Hour)
	redeemed, err := h.ledger.CountRedeemedSince(r.Context(), claims.VenueID, midnight.Unix())
	if err != nil {
		logger.ErrorContext(r.Context(), "Failed to count redemptions", "error", err, "venue_id", claims.VenueID)
		response.InternalError(w, "Failed to load stats")
		return
	}

	pending := 0
	if h.conversions != nil {
		pending, err = h.conversions.CountByStatus(r.Context(), claims.VenueID, domain.ConversionPending)
		if err != nil {
			logger.ErrorContext(r.Context(), "Failed to count conversions", "error", err, "venue_id", claims.VenueID)
			response.InternalError(w, "Failed to load stats")
			return
		}
	}

	response.WriteJSON(w, http.StatusOK, statsResponse{
		VenueID:            claims.VenueID,
		RedeemedToday:      redeemed,
		PendingConversions: pending,
	})
}
