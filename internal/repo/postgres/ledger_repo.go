package postgres

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/atlalli/redemption/internal/domain"
	"github.com/atlalli/redemption/internal/ledger"
)

// LedgerRepo is the postgres-backed redemption ledger. Dedup is enforced by
// two partial unique indexes, (promotion_id, venue_id, member_id) for
// members and lower(guest_email) for guests, so check-then-insert is atomic
// across all scanning devices: the insert either lands or conflicts.
type LedgerRepo struct{ pool *pgxpool.Pool }

func NewLedgerRepo(pool *pgxpool.Pool) *LedgerRepo { return &LedgerRepo{pool: pool} }

func (r *LedgerRepo) HasMemberRedeemed(ctx context.Context, promotionID, venueID, memberID string) (bool, error) {
	const q = `SELECT EXISTS (
		SELECT 1 FROM redemption_records
		WHERE promotion_id=$1 AND venue_id=$2 AND member_id=$3)`
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	var exists bool
	if err := r.pool.QueryRow(ctx, q, promotionID, venueID, memberID).Scan(&exists); err != nil {
		return false, err
	}
	return exists, nil
}

func (r *LedgerRepo) HasGuestEverRedeemed(ctx context.Context, guestEmail string) (bool, error) {
	const q = `SELECT EXISTS (
		SELECT 1 FROM redemption_records
		WHERE lower(guest_email)=lower($1))`
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	var exists bool
	if err := r.pool.QueryRow(ctx, q, guestEmail).Scan(&exists); err != nil {
		return false, err
	}
	return exists, nil
}

func (r *LedgerRepo) Append(ctx context.Context, record *domain.RedemptionRecord) error {
	const q = `INSERT INTO redemption_records
		(id, promotion_id, venue_id, member_id, guest_email, bill_ref, staff_id, tier, redeemed_at)
	VALUES ($1,$2,$3,NULLIF($4,''),NULLIF($5,''),$6,$7,$8,$9)
	ON CONFLICT DO NOTHING`
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	tag, err := r.pool.Exec(ctx, q,
		record.ID, record.PromotionID, record.VenueID,
		record.MemberID, record.GuestEmail,
		record.BillRef, record.StaffID, string(record.Tier), record.RedeemedAt,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrDuplicateRedemption
	}
	return nil
}

func (r *LedgerRepo) CountRedeemedSince(ctx context.Context, venueID string, since int64) (int, error) {
	const q = `SELECT count(*) FROM redemption_records
		WHERE venue_id=$1 AND redeemed_at >= to_timestamp($2)`
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	var n int
	if err := r.pool.QueryRow(ctx, q, venueID, since).Scan(&n); err != nil {
		return 0, err
	}
	return n, nil
}

var _ ledger.Ledger = (*LedgerRepo)(nil)
