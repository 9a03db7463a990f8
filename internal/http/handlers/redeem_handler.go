package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	qrcode "github.com/skip2/go-qrcode"

	"github.com/atlalli/redemption/internal/catalog"
	"github.com/atlalli/redemption/internal/domain"
	"github.com/atlalli/redemption/internal/http/response"
	"github.com/atlalli/redemption/internal/issuer"
	"github.com/atlalli/redemption/internal/token"
	"github.com/atlalli/redemption/pkg/config"
	"github.com/atlalli/redemption/pkg/logger"
)

// RedeemHandler serves the presentation side: issuing fresh signed tokens for
// a claim, rendering them as 2D codes, and validating redeem links opened as
// static pages.
type RedeemHandler struct {
	issuer   *issuer.Issuer
	verifier *token.Verifier
	catalog  catalog.Catalog
	cfg      config.RedemptionConfig
}

func NewRedeemHandler(iss *issuer.Issuer, verifier *token.Verifier, cat catalog.Catalog, cfg config.RedemptionConfig) *RedeemHandler {
	return &RedeemHandler{
		issuer:   iss,
		verifier: verifier,
		catalog:  cat,
		cfg:      cfg,
	}
}

type issueTokenRequest struct {
	PromotionID string `json:"promotion_id"`
	VenueID     string `json:"venue_id"`
	SubjectID   string `json:"subject_id"`
}

type issueTokenResponse struct {
	Token                string `json:"token"`
	Link                 string `json:"link"`
	RefreshWindowSeconds int    `json:"refresh_window_seconds"`
}

// IssueToken handles POST /redeem/token. Each call returns a freshly signed
// token; the client is expected to call again before the refresh window
// elapses. With ?format=qr the redeem link is rendered as a PNG instead.
func (h *RedeemHandler) IssueToken(w http.ResponseWriter, r *http.Request) {
	var req issueTokenRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.BadRequest(w, "Invalid JSON body")
		return
	}
	req.PromotionID = strings.TrimSpace(req.PromotionID)
	req.VenueID = strings.TrimSpace(req.VenueID)
	req.SubjectID = strings.TrimSpace(req.SubjectID)
	if req.PromotionID == "" || req.VenueID == "" || req.SubjectID == "" {
		response.BadRequest(w, "promotion_id, venue_id and subject_id are required")
		return
	}

	// The promotion must exist and still be open before we hand out a token
	// that the scanner would reject anyway.
	coupon, err := h.catalog.Coupon(r.Context(), req.PromotionID)
	if err != nil {
		if errors.Is(err, domain.ErrPromotionNotFound) {
			response.NotFound(w, "Promotion not found")
			return
		}
		logger.ErrorContext(r.Context(), "Catalog lookup failed", "error", err, "promotion_id", req.PromotionID)
		response.InternalError(w, "Failed to issue token")
		return
	}
	if !coupon.AvailableAt(req.VenueID) {
		response.NotFound(w, "Promotion not available at this venue")
		return
	}

	encoded, err := h.issuer.RequestToken(req.PromotionID, req.VenueID, req.SubjectID)
	if err != nil {
		if errors.Is(err, domain.ErrUnknownVenue) {
			response.NotFound(w, "Unknown venue")
			return
		}
		logger.ErrorContext(r.Context(), "Token issuance failed", "error", err, "venue_id", req.VenueID)
		response.InternalError(w, "Failed to issue token")
		return
	}

	link := issuer.RedeemLink(h.cfg.RedeemBaseURL, encoded)

	if r.URL.Query().Get("format") == "qr" {
		png, err := qrcode.Encode(link, qrcode.Medium, 256)
		if err != nil {
			logger.ErrorContext(r.Context(), "QR render failed", "error", err)
			response.InternalError(w, "Failed to render QR code")
			return
		}
		w.Header().Set("Content-Type", "image/png")
		w.WriteHeader(http.StatusOK)
		w.Write(png)
		return
	}

	response.WriteJSON(w, http.StatusOK, issueTokenResponse{
		Token:                encoded,
		Link:                 link,
		RefreshWindowSeconds: int(h.cfg.RefreshWindow.Seconds()),
	})
}

type redeemPageResponse struct {
	Valid       bool   `json:"valid"`
	Reason      string `json:"reason,omitempty"`
	PromotionID string `json:"promotion_id,omitempty"`
	VenueID     string `json:"venue_id,omitempty"`
	Tier        string `json:"tier,omitempty"`
	Guest       bool   `json:"guest,omitempty"`
}

// OpenLink handles GET /redeem?d=<encoded>. This is the static redeem page: a
// token reached through a link gets the fixed page window rather than the
// scanner's refresh window, and an expired one renders as expired rather than
// being silently re-signed.
func (h *RedeemHandler) OpenLink(w http.ResponseWriter, r *http.Request) {
	encoded := r.URL.Query().Get("d")
	if encoded == "" {
		response.BadRequest(w, "Missing token")
		return
	}

	tok, ok := token.Decode(encoded)
	if !ok {
		response.WriteJSON(w, http.StatusOK, redeemPageResponse{Valid: false, Reason: "not_recognized"})
		return
	}

	if err := h.verifier.VerifyForStaticPage(tok, time.Now(), h.cfg.StaticPageWindow); err != nil {
		reason := "not_recognized"
		if errors.Is(err, token.ErrTokenExpired) {
			reason = "expired"
		}
		response.WriteJSON(w, http.StatusOK, redeemPageResponse{Valid: false, Reason: reason})
		return
	}

	subject := domain.ClassifySubject(tok.Payload.SubjectID)
	resp := redeemPageResponse{
		Valid:       true,
		PromotionID: tok.Payload.PromotionID,
		VenueID:     tok.Payload.VenueID,
		Guest:       subject.IsGuest(),
	}
	if coupon, err := h.catalog.Coupon(r.Context(), tok.Payload.PromotionID); err == nil {
		resp.Tier = string(coupon.Tier)
	}
	response.WriteJSON(w, http.StatusOK, resp)
}
