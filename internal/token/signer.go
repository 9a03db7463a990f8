package token

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"time"

	"github.com/atlalli/redemption/internal/domain"
)

// Signer builds redemption payloads and MACs them with the venue's secret.
// Safe for concurrent use; every call produces a distinct valid token.
type Signer struct {
	keys KeyStore
	now  func() time.Time
}

func NewSigner(keys KeyStore) *Signer {
	return &Signer{keys: keys, now: time.Now}
}

// NewSignerAt pins the signer's clock, for tests.
func NewSignerAt(keys KeyStore, now func() time.Time) *Signer {
	return &Signer{keys: keys, now: now}
}

// Sign produces a signed token for the given claim. Fails with
// domain.ErrUnknownVenue when the venue has no secret.
func (s *Signer) Sign(promotionID, venueID, subjectID string) (*domain.SignedToken, error) {
	secret, ok := s.keys.SecretFor(venueID)
	if !ok {
		return nil, fmt.Errorf("sign %s: %w", venueID, domain.ErrUnknownVenue)
	}

	nonce, err := newNonce()
	if err != nil {
		return nil, fmt.Errorf("generate nonce: %w", err)
	}

	payload := domain.Payload{
		PromotionID: promotionID,
		VenueID:     venueID,
		SubjectID:   subjectID,
		IssuedAt:    s.now().Unix(),
		Nonce:       nonce,
	}

	sig, err := macOf(payload, secret)
	if err != nil {
		return nil, err
	}

	return &domain.SignedToken{Payload: payload, Signature: sig}, nil
}

// newNonce returns 16 random bytes, base64url encoded. The nonce only has to
// be unique, not secret.
func newNonce() (string, error) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

// macOf computes the HMAC-SHA256 of the payload's canonical JSON bytes.
func macOf(payload domain.Payload, secret []byte) (string, error) {
	canonical, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal payload: %w", err)
	}
	mac := hmac.New(sha256.New, secret)
	mac.Write(canonical)
	return base64.RawURLEncoding.EncodeToString(mac.Sum(nil)), nil
}
