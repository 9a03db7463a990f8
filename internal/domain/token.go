package domain

import "strings"

// Payload is the claim carried inside a scannable code. Field names follow
// the wire format embedded in redeem links, so they stay short.
type Payload struct {
	PromotionID string `json:"p_id"`
	VenueID     string `json:"s_id"`
	SubjectID   string `json:"u_id"`
	IssuedAt    int64  `json:"ts"`    // unix seconds at signing
	Nonce       string `json:"nonce"` // regenerated on every signing call
}

// SignedToken is a payload plus the MAC computed with the secret of
// Payload.VenueID. The venue is always taken from the payload itself, never
// from the caller.
type SignedToken struct {
	Payload   Payload `json:"payload"`
	Signature string  `json:"sig"`
}

// SubjectKind distinguishes the two identity classes with different dedup
// scope.
type SubjectKind int

const (
	SubjectMember SubjectKind = iota
	SubjectGuest
)

// Subject is the identity classification of a payload's SubjectID, decided
// once right after verification.
type Subject struct {
	Kind SubjectKind
	// MemberID is set for members, GuestEmail for guests. Mutually exclusive.
	MemberID   string
	GuestEmail string
}

// ClassifySubject splits a raw subject identifier into the member/guest
// union. An identifier containing '@' is a guest email.
func ClassifySubject(subjectID string) Subject {
	if strings.Contains(subjectID, "@") {
		return Subject{Kind: SubjectGuest, GuestEmail: strings.ToLower(strings.TrimSpace(subjectID))}
	}
	return Subject{Kind: SubjectMember, MemberID: subjectID}
}

func (s Subject) IsGuest() bool {
	return s.Kind == SubjectGuest
}

// ID returns whichever identifier is populated.
func (s Subject) ID() string {
	if s.Kind == SubjectGuest {
		return s.GuestEmail
	}
	return s.MemberID
}
