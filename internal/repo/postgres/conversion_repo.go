package postgres

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/atlalli/redemption/internal/conversion"
	"github.com/atlalli/redemption/internal/domain"
)

// ConversionRepo persists guest-to-member conversion markers.
type ConversionRepo struct{ pool *pgxpool.Pool }

func NewConversionRepo(pool *pgxpool.Pool) *ConversionRepo { return &ConversionRepo{pool: pool} }

func (r *ConversionRepo) Create(ctx context.Context, conv *domain.GuestConversion) error {
	const q = `INSERT INTO guest_conversions (id, guest_email, venue_id, staff_id, status, created_at)
		VALUES ($1,$2,$3,$4,$5,$6)`
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	_, err := r.pool.Exec(ctx, q,
		conv.ID, conv.GuestEmail, conv.VenueID, conv.StaffID, string(conv.Status), conv.CreatedAt)
	return err
}

func (r *ConversionRepo) ListPending(ctx context.Context, venueID string, limit int) ([]domain.GuestConversion, error) {
	const q = `SELECT id, guest_email, venue_id, staff_id, status, created_at
		FROM guest_conversions
		WHERE status='pending' AND ($1='' OR venue_id=$1)
		ORDER BY created_at ASC
		LIMIT $2`
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	if limit <= 0 {
		limit = 50
	}
	rows, err := r.pool.Query(ctx, q, venueID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.GuestConversion
	for rows.Next() {
		var c domain.GuestConversion
		var status string
		if err := rows.Scan(&c.ID, &c.GuestEmail, &c.VenueID, &c.StaffID, &status, &c.CreatedAt); err != nil {
			return nil, err
		}
		c.Status = domain.GuestConversionStatus(status)
		out = append(out, c)
	}
	return out, rows.Err()
}

func (r *ConversionRepo) MarkConverted(ctx context.Context, guestEmail string) (bool, error) {
	const q = `UPDATE guest_conversions SET status='converted'
		WHERE lower(guest_email)=lower($1) AND status='pending'`
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	tag, err := r.pool.Exec(ctx, q, guestEmail)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

func (r *ConversionRepo) CountByStatus(ctx context.Context, venueID string, status domain.GuestConversionStatus) (int, error) {
	const q = `SELECT count(*) FROM guest_conversions
		WHERE status=$1 AND ($2='' OR venue_id=$2)`
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	var n int
	if err := r.pool.QueryRow(ctx, q, string(status), venueID).Scan(&n); err != nil {
		return 0, err
	}
	return n, nil
}

var _ conversion.Store = (*ConversionRepo)(nil)
