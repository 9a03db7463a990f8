package token

import (
	"crypto/hmac"
	"encoding/base64"
	"fmt"
	"time"

	"github.com/atlalli/redemption/internal/domain"
)

// Verifier checks a token's MAC against the secret of the venue named in the
// payload. It deliberately does not judge staleness; freshness windows are a
// caller policy and differ between the scanner and the static redeem page.
type Verifier struct {
	keys KeyStore
}

func NewVerifier(keys KeyStore) *Verifier {
	return &Verifier{keys: keys}
}

// Verify returns nil for an authentic token, domain.ErrUnknownVenue when the
// payload names a venue without a secret, and domain.ErrBadSignature when the
// MAC does not match. Pure: no logging, no persistence.
func (v *Verifier) Verify(tok *domain.SignedToken) error {
	secret, ok := v.keys.SecretFor(tok.Payload.VenueID)
	if !ok {
		return domain.ErrUnknownVenue
	}

	want, err := macOf(tok.Payload, secret)
	if err != nil {
		return err
	}

	got, err := base64.RawURLEncoding.DecodeString(tok.Signature)
	if err != nil {
		return domain.ErrBadSignature
	}
	wantRaw, _ := base64.RawURLEncoding.DecodeString(want)

	// Constant-time compare: this check guards free merchandise.
	if !hmac.Equal(got, wantRaw) {
		return domain.ErrBadSignature
	}
	return nil
}

// VerifyForStaticPage verifies the MAC and additionally enforces the fixed
// staleness window used for link-opened tokens, mirroring the server-side
// check on the static redeem page. The scanner path uses its own
// venue-configurable window instead.
func (v *Verifier) VerifyForStaticPage(tok *domain.SignedToken, now time.Time, window time.Duration) error {
	if err := v.Verify(tok); err != nil {
		return err
	}
	if now.Unix()-tok.Payload.IssuedAt > int64(window.Seconds()) {
		return fmt.Errorf("token issued %ds ago: %w", now.Unix()-tok.Payload.IssuedAt, ErrTokenExpired)
	}
	return nil
}

// ErrTokenExpired is only returned by the static-page variant; the scanner
// classifies staleness itself.
var ErrTokenExpired = fmt.Errorf("token expired")
