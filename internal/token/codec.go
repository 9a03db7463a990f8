package token

import (
	"encoding/base64"
	"encoding/json"

	"github.com/atlalli/redemption/internal/domain"
)

// Encode serializes a signed token to a compact URL-safe string, fit for a
// link query parameter or a 2D scannable code. base64url without padding.
func Encode(tok *domain.SignedToken) (string, error) {
	raw, err := json.Marshal(tok)
	if err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(raw), nil
}

// Decode reverses Encode. Any failure to decode or parse yields ok=false,
// meaning "not a recognized token", distinct from a signature failure.
func Decode(encoded string) (*domain.SignedToken, bool) {
	raw, err := base64.RawURLEncoding.DecodeString(encoded)
	if err != nil {
		return nil, false
	}
	var tok domain.SignedToken
	if err := json.Unmarshal(raw, &tok); err != nil {
		return nil, false
	}
	if tok.Payload.VenueID == "" || tok.Signature == "" {
		return nil, false
	}
	return &tok, true
}
