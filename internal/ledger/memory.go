package ledger

import (
	"context"
	"strings"
	"sync"

	"github.com/atlalli/redemption/internal/domain"
)

// MemoryLedger keeps records in process memory behind a single mutex. Used in
// tests and single-node dev setups; production uses the postgres-backed
// implementation, which enforces the same keys with unique indexes.
type MemoryLedger struct {
	mu         sync.Mutex
	records    []domain.RedemptionRecord
	memberKeys map[string]struct{} // promotion|venue|member
	guestKeys  map[string]struct{} // lowercased email
	recordIDs  map[string]struct{}
}

func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{
		memberKeys: make(map[string]struct{}),
		guestKeys:  make(map[string]struct{}),
		recordIDs:  make(map[string]struct{}),
	}
}

func memberKey(promotionID, venueID, memberID string) string {
	return promotionID + "|" + venueID + "|" + memberID
}

func (l *MemoryLedger) HasMemberRedeemed(_ context.Context, promotionID, venueID, memberID string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.memberKeys[memberKey(promotionID, venueID, memberID)]
	return ok, nil
}

func (l *MemoryLedger) HasGuestEverRedeemed(_ context.Context, guestEmail string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.guestKeys[strings.ToLower(guestEmail)]
	return ok, nil
}

func (l *MemoryLedger) Append(_ context.Context, record *domain.RedemptionRecord) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, dup := l.recordIDs[record.ID]; dup {
		return domain.ErrDuplicateRedemption
	}
	if record.GuestEmail != "" {
		key := strings.ToLower(record.GuestEmail)
		if _, dup := l.guestKeys[key]; dup {
			return domain.ErrDuplicateRedemption
		}
		l.guestKeys[key] = struct{}{}
	} else {
		key := memberKey(record.PromotionID, record.VenueID, record.MemberID)
		if _, dup := l.memberKeys[key]; dup {
			return domain.ErrDuplicateRedemption
		}
		l.memberKeys[key] = struct{}{}
	}

	l.recordIDs[record.ID] = struct{}{}
	l.records = append(l.records, *record)
	return nil
}

func (l *MemoryLedger) CountRedeemedSince(_ context.Context, venueID string, since int64) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for _, r := range l.records {
		if r.VenueID == venueID && r.RedeemedAt.Unix() >= since {
			n++
		}
	}
	return n, nil
}

var _ Ledger = (*MemoryLedger)(nil)
