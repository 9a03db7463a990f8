package ledger

import (
	"context"

	"github.com/atlalli/redemption/internal/domain"
)

// Ledger is the append-only store of committed redemptions and the dedup
// queries built on it. Append must provide atomic check-then-insert per
// dedup key: two simultaneous commits for the same identity must not both
// succeed, across scanning devices.
//
// Dedup keys differ by identity class: members are capped per
// promotion+venue, guests are capped globally on email. The asymmetry is
// intentional: guests get exactly one redemption ever.
type Ledger interface {
	// HasMemberRedeemed reports whether this member already redeemed this
	// promotion at this venue. The same promotion at another venue, or
	// another promotion at this venue, does not count.
	HasMemberRedeemed(ctx context.Context, promotionID, venueID, memberID string) (bool, error)

	// HasGuestEverRedeemed reports whether any record anywhere carries this
	// guest email, regardless of promotion or venue.
	HasGuestEverRedeemed(ctx context.Context, guestEmail string) (bool, error)

	// Append writes a record, or returns domain.ErrDuplicateRedemption when a
	// record with the same dedup identity already exists. Never overwrites.
	Append(ctx context.Context, record *domain.RedemptionRecord) error

	// CountRedeemedSince counts records at a venue committed at or after the
	// given time; feeds the scanner dashboard.
	CountRedeemedSince(ctx context.Context, venueID string, since int64) (int, error)
}
