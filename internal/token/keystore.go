package token

// KeyStore resolves the signing secret for a venue. Implementations may be
// backed by postgres, a file, or a remote service; the signer and verifier
// only ever see this interface.
type KeyStore interface {
	// SecretFor returns the venue's signing secret, or ok=false when the
	// venue has none. Callers must not fall back to a default secret.
	SecretFor(venueID string) (secret []byte, ok bool)
}

// StaticKeyStore is an in-memory KeyStore used in tests and for dev seeding.
type StaticKeyStore map[string]string

func (s StaticKeyStore) SecretFor(venueID string) ([]byte, bool) {
	secret, ok := s[venueID]
	if !ok {
		return nil, false
	}
	return []byte(secret), true
}
