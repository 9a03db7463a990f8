package domain

import (
	"errors"
	"fmt"
	"time"
)

// CouponTier mirrors the catalog's tier classification, captured on the
// record at commit time so later tier changes don't rewrite history.
type CouponTier string

const (
	TierStandard CouponTier = "standard"
	TierPremium  CouponTier = "premium"
)

// Coupon is the slice of the promotion catalog the redemption core needs.
// The catalog itself is owned elsewhere; this is read-only here.
type Coupon struct {
	ID       string
	VenueIDs []string
	EndDate  time.Time
	Tier     CouponTier
}

// Open reports whether the promotion can still be redeemed at the given time.
func (c *Coupon) Open(now time.Time) bool {
	return !c.EndDate.Before(now.Truncate(24 * time.Hour))
}

// AvailableAt reports whether the promotion runs at the given venue. An empty
// venue list means the promotion runs everywhere.
func (c *Coupon) AvailableAt(venueID string) bool {
	if len(c.VenueIDs) == 0 {
		return true
	}
	for _, v := range c.VenueIDs {
		if v == venueID {
			return true
		}
	}
	return false
}

// RedemptionRecord is one committed redemption. Records are append-only and
// are the sole source of truth for dedup decisions.
type RedemptionRecord struct {
	ID          string     `json:"id"` // nonce:subject
	PromotionID string     `json:"promotion_id"`
	VenueID     string     `json:"venue_id"`
	MemberID    string     `json:"member_id,omitempty"`
	GuestEmail  string     `json:"guest_email,omitempty"`
	BillRef     string     `json:"bill_ref"`
	StaffID     string     `json:"staff_id"`
	Tier        CouponTier `json:"tier"`
	RedeemedAt  time.Time  `json:"redeemed_at"`
}

// RecordID derives the unique ledger key for a verified payload.
func RecordID(nonce string, subject Subject) string {
	return fmt.Sprintf("%s:%s", nonce, subject.ID())
}

// GuestConversionStatus tracks whether a guest has been converted to a
// member yet.
type GuestConversionStatus string

const (
	ConversionPending   GuestConversionStatus = "pending"
	ConversionConverted GuestConversionStatus = "converted"
)

// GuestConversion marks a guest who redeemed and should be invited to become
// a member.
type GuestConversion struct {
	ID         string                `json:"id"`
	GuestEmail string                `json:"guest_email"`
	VenueID    string                `json:"venue_id"`
	StaffID    string                `json:"staff_id"`
	Status     GuestConversionStatus `json:"status"`
	CreatedAt  time.Time             `json:"created_at"`
}

// Errors surfaced by the signing/verification pair. These are precise for
// internal callers; the scanner coarsens them before they reach staff.
var (
	ErrUnknownVenue = errors.New("no signing secret for venue")
	ErrBadSignature = errors.New("signature mismatch")

	// ErrDuplicateRedemption is returned by the ledger when a record with the
	// same dedup identity already exists.
	ErrDuplicateRedemption = errors.New("redemption already recorded")

	ErrPromotionNotFound = errors.New("promotion not found")
)
