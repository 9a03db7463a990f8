package issuer

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"github.com/atlalli/redemption/internal/metrics"
	"github.com/atlalli/redemption/internal/token"
)

// Issuer is the presentation-side entry point: it turns a claim into an
// encoded scannable string, and keeps it fresh while a redemption screen is
// open.
type Issuer struct {
	signer *token.Signer
}

func New(signer *token.Signer) *Issuer {
	return &Issuer{signer: signer}
}

// RequestToken signs a fresh token for the claim and encodes it for
// transport. Each call produces a new nonce and issuance time.
func (i *Issuer) RequestToken(promotionID, venueID, subjectID string) (string, error) {
	tok, err := i.signer.Sign(promotionID, venueID, subjectID)
	if err != nil {
		return "", err
	}
	encoded, err := token.Encode(tok)
	if err != nil {
		return "", err
	}
	metrics.RecordTokenIssued(venueID)
	return encoded, nil
}

// RedeemLink embeds an encoded token into the public redeem URL as the `d`
// query parameter, the form rendered into 2D codes.
func RedeemLink(baseURL, encoded string) string {
	return fmt.Sprintf("%s?d=%s", baseURL, url.QueryEscape(encoded))
}

// Run re-signs on a cadence strictly shorter than the refresh window, one
// second before it elapses, and hands each fresh encoded token to emit. The
// first token is emitted immediately. Run blocks until ctx is canceled; the
// ticker is always stopped on the way out, so nothing keeps signing after
// the screen closes.
func (i *Issuer) Run(ctx context.Context, promotionID, venueID, subjectID string, refreshWindow time.Duration, emit func(encoded string)) error {
	encoded, err := i.RequestToken(promotionID, venueID, subjectID)
	if err != nil {
		return err
	}
	emit(encoded)

	interval := refreshWindow - time.Second
	if interval <= 0 {
		interval = refreshWindow
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			encoded, err := i.RequestToken(promotionID, venueID, subjectID)
			if err != nil {
				// A venue losing its secret mid-display is fatal to the
				// loop; the screen falls back to an error state.
				return err
			}
			emit(encoded)
		}
	}
}
