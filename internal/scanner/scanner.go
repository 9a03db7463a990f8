package scanner

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/atlalli/redemption/internal/catalog"
	"github.com/atlalli/redemption/internal/conversion"
	"github.com/atlalli/redemption/internal/domain"
	"github.com/atlalli/redemption/internal/ledger"
	"github.com/atlalli/redemption/internal/metrics"
	"github.com/atlalli/redemption/internal/token"
	"github.com/atlalli/redemption/pkg/events"
	"github.com/atlalli/redemption/pkg/logger"
)

// State of a device's redemption attempt.
type State string

const (
	StateIdle       State = "idle"
	StateValidating State = "validating"
	StateBillForm   State = "bill_form"
	StateSuccess    State = "success"
	StateError      State = "error"
)

// Reason codes surfaced to the operator UI. Signature and unknown-venue
// failures are collapsed into not_recognized so a forger learns nothing from
// the rejection; the remaining codes are operationally meaningful to staff.
type Reason string

const (
	ReasonNotRecognized         Reason = "not_recognized"
	ReasonLocationMismatch      Reason = "location_mismatch"
	ReasonPromotionEnded        Reason = "promo_ended"
	ReasonStaleScreenshot       Reason = "stale_screenshot"
	ReasonAlreadyRedeemedMember Reason = "already_redeemed_member"
	ReasonAlreadyRedeemedGuest  Reason = "already_redeemed_guest"
)

// VerifiedClaim is what a successful scan carries into the bill form: the
// authenticated payload, the subject classification decided once, and the
// coupon tier captured for the eventual record.
type VerifiedClaim struct {
	Payload domain.Payload    `json:"payload"`
	Subject domain.Subject    `json:"subject"`
	Tier    domain.CouponTier `json:"tier"`
}

// Outcome is the result of a scan or a confirmation.
type Outcome struct {
	State  State          `json:"state"`
	Reason Reason         `json:"reason,omitempty"`
	Claim  *VerifiedClaim `json:"claim,omitempty"`
}

// ErrScanInFlight is returned when a device starts a new scan while a
// previous attempt is still validating or waiting on the bill form.
var ErrScanInFlight = errors.New("scan already in flight on this device")

// Service orchestrates verification, eligibility and commit for scanning
// devices. The ledger is the only shared mutable state; per-device flows are
// serialized so one device never races itself.
type Service struct {
	verifier    *token.Verifier
	catalog     catalog.Catalog
	ledger      ledger.Ledger
	conversions *conversion.Service
	bus         events.Publisher
	now         func() time.Time

	mu      sync.Mutex
	devices map[string]State
}

func NewService(verifier *token.Verifier, cat catalog.Catalog, led ledger.Ledger, convs *conversion.Service, bus events.Publisher) *Service {
	return &Service{
		verifier:    verifier,
		catalog:     cat,
		ledger:      led,
		conversions: convs,
		bus:         bus,
		now:         time.Now,
		devices:     make(map[string]State),
	}
}

// WithClock pins the service clock, for tests.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

func (s *Service) deviceState(deviceID string) State {
	s.mu.Lock()
	defer s.mu.Unlock()
	if st, ok := s.devices[deviceID]; ok {
		return st
	}
	return StateIdle
}

func (s *Service) setDeviceState(deviceID string, st State) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.devices[deviceID] = st
}

// beginScan claims the device for a new attempt. Only one scan is in flight
// per device; attempts arriving mid-flow are dropped.
func (s *Service) beginScan(deviceID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch s.devices[deviceID] {
	case StateValidating, StateBillForm:
		return ErrScanInFlight
	}
	s.devices[deviceID] = StateValidating
	return nil
}

// Reset returns a device to idle after a terminal state.
func (s *Service) Reset(deviceID string) {
	s.setDeviceState(deviceID, StateIdle)
}

// Scan runs the full validation ladder for a decoded scan. Every exit is an
// Outcome; the returned error is reserved for infrastructure failures
// (catalog or ledger unavailable), which leave the device idle again.
func (s *Service) Scan(ctx context.Context, encoded, scanningVenueID, deviceID string, refreshWindow time.Duration) (*Outcome, error) {
	if err := s.beginScan(deviceID); err != nil {
		return nil, err
	}

	outcome, err := s.validate(ctx, encoded, scanningVenueID, refreshWindow)
	if err != nil {
		s.setDeviceState(deviceID, StateIdle)
		return nil, err
	}

	s.setDeviceState(deviceID, outcome.State)
	if outcome.State == StateError {
		metrics.RecordScan(string(outcome.Reason))
		logger.InfoContext(ctx, "Scan rejected", "reason", outcome.Reason, "venue_id", scanningVenueID)
	} else {
		metrics.RecordScan("bill_form")
	}
	return outcome, nil
}

func reject(reason Reason) *Outcome {
	return &Outcome{State: StateError, Reason: reason}
}

func (s *Service) validate(ctx context.Context, encoded, scanningVenueID string, refreshWindow time.Duration) (*Outcome, error) {
	// 1. Decode. Anything unparseable is simply not one of our codes.
	tok, ok := token.Decode(encoded)
	if !ok {
		return reject(ReasonNotRecognized), nil
	}

	// 2. Verify. Bad signature and unknown venue collapse to the same
	// answer on purpose.
	if err := s.verifier.Verify(tok); err != nil {
		if errors.Is(err, domain.ErrBadSignature) || errors.Is(err, domain.ErrUnknownVenue) {
			return reject(ReasonNotRecognized), nil
		}
		return nil, err
	}

	// 3. Location match: a token signed for venue A is no good at venue B.
	if tok.Payload.VenueID != scanningVenueID {
		return reject(ReasonLocationMismatch), nil
	}

	// 4. Promotion still open.
	coupon, err := s.catalog.Coupon(ctx, tok.Payload.PromotionID)
	if err != nil {
		if errors.Is(err, domain.ErrPromotionNotFound) {
			// Valid signature over a promotion we no longer know about.
			return reject(ReasonNotRecognized), nil
		}
		return nil, err
	}
	now := s.now()
	if !coupon.Open(now) {
		return reject(ReasonPromotionEnded), nil
	}

	// 5. Freshness. Age beyond the refresh window means the code was
	// captured, not live-displayed. Exactly at the window is still live.
	age := now.Unix() - tok.Payload.IssuedAt
	if age > int64(refreshWindow.Seconds()) {
		return reject(ReasonStaleScreenshot), nil
	}

	// 6. Identity classification, decided once.
	subject := domain.ClassifySubject(tok.Payload.SubjectID)

	// 7. Dedup: guests are blocked on any prior redemption anywhere;
	// members only on this promotion at this venue.
	if subject.IsGuest() {
		redeemed, err := s.ledger.HasGuestEverRedeemed(ctx, subject.GuestEmail)
		if err != nil {
			return nil, err
		}
		if redeemed {
			return reject(ReasonAlreadyRedeemedGuest), nil
		}
	} else {
		redeemed, err := s.ledger.HasMemberRedeemed(ctx, tok.Payload.PromotionID, tok.Payload.VenueID, subject.MemberID)
		if err != nil {
			return nil, err
		}
		if redeemed {
			return reject(ReasonAlreadyRedeemedMember), nil
		}
	}

	// 8. All checks passed: hand the verified claim to the bill form.
	return &Outcome{
		State: StateBillForm,
		Claim: &VerifiedClaim{
			Payload: tok.Payload,
			Subject: subject,
			Tier:    coupon.Tier,
		},
	}, nil
}

// Confirm commits a redemption after staff supplies the bill reference. A
// ledger conflict (a concurrent redemption of the same identity on another
// device) maps to the already-redeemed outcome, never to success.
func (s *Service) Confirm(ctx context.Context, claim *VerifiedClaim, billRef, staffID, deviceID string) (*domain.RedemptionRecord, *Outcome, error) {
	if billRef == "" {
		return nil, nil, fmt.Errorf("bill reference is required")
	}

	start := s.now()
	record := &domain.RedemptionRecord{
		ID:          domain.RecordID(claim.Payload.Nonce, claim.Subject),
		PromotionID: claim.Payload.PromotionID,
		VenueID:     claim.Payload.VenueID,
		BillRef:     billRef,
		StaffID:     staffID,
		Tier:        claim.Tier,
		RedeemedAt:  start,
	}
	if claim.Subject.IsGuest() {
		record.GuestEmail = claim.Subject.GuestEmail
	} else {
		record.MemberID = claim.Subject.MemberID
	}

	err := s.ledger.Append(ctx, record)
	if errors.Is(err, domain.ErrDuplicateRedemption) {
		reason := ReasonAlreadyRedeemedMember
		if claim.Subject.IsGuest() {
			reason = ReasonAlreadyRedeemedGuest
		}
		s.setDeviceState(deviceID, StateError)
		metrics.RecordConfirm("conflict", time.Since(start).Seconds())
		return nil, reject(reason), nil
	}
	if err != nil {
		metrics.RecordConfirm("error", time.Since(start).Seconds())
		return nil, nil, err
	}

	if claim.Subject.IsGuest() && s.conversions != nil {
		if _, err := s.conversions.TrackGuest(ctx, claim.Subject.GuestEmail, record.VenueID, staffID); err != nil {
			// The redemption is already committed; conversion tracking is
			// secondary and must not unwind it.
			logger.ErrorContext(ctx, "Failed to track guest conversion", "error", err, "guest_email", claim.Subject.GuestEmail)
		}
	}

	if s.bus != nil {
		event := events.RedemptionCommittedEvent{
			RecordID:    record.ID,
			PromotionID: record.PromotionID,
			VenueID:     record.VenueID,
			MemberID:    record.MemberID,
			GuestEmail:  record.GuestEmail,
			StaffID:     record.StaffID,
			Tier:        string(record.Tier),
			RedeemedAt:  record.RedeemedAt,
		}
		if err := s.bus.Publish(ctx, events.RedemptionCommitted, event); err != nil {
			logger.ErrorContext(ctx, "Failed to publish redemption event", "error", err, "record_id", record.ID)
		}
	}

	s.setDeviceState(deviceID, StateSuccess)
	metrics.RecordConfirm("success", time.Since(start).Seconds())
	logger.InfoContext(ctx, "Redemption committed",
		"record_id", record.ID,
		"promotion_id", record.PromotionID,
		"venue_id", record.VenueID,
		"guest", claim.Subject.IsGuest(),
	)
	return record, &Outcome{State: StateSuccess, Claim: claim}, nil
}
