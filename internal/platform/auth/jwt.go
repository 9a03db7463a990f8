package auth

import (
	"errors"
	"os"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Claims carried by a staff session token. VenueID pins the scanning device
// to its venue: the location-match check compares scanned payloads against
// it, so staff can never redeem codes for a venue they don't work at.
type Claims struct {
	Sub     string `json:"sub"`
	Email   string `json:"email"`
	Role    string `json:"role"`
	VenueID string `json:"venue_id"`
	jwt.RegisteredClaims
}

func secret() []byte {
	if s := os.Getenv("JWT_SECRET"); s != "" {
		return []byte(s)
	}
	return []byte("dev-only-secret-change-in-prod")
}

func NewStaffToken(staffID, email, role, venueID string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		Sub:     staffID,
		Email:   email,
		Role:    role,
		VenueID: venueID,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			Audience:  []string{"atlalli-scanner"},
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(secret())
}

func Parse(tokenString string) (*Claims, error) {
	tok, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		return secret(), nil
	})
	if err != nil {
		return nil, err
	}
	if claims, ok := tok.Claims.(*Claims); ok && tok.Valid {
		return claims, nil
	}
	return nil, errors.New("invalid token")
}
