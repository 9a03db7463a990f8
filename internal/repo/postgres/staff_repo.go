package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// StaffMember is a bartender or manager allowed to operate a scanning device
// at their venue.
type StaffMember struct {
	ID           string
	Email        string
	PasswordHash string
	Name         string
	VenueID      string
	Role         string // bartender or manager
	CreatedAt    time.Time
}

type StaffRepo interface {
	Create(ctx context.Context, id, email, hash, name, venueID, role string) (*StaffMember, error)
	FindByEmail(ctx context.Context, email string) (*StaffMember, error)
	FindByID(ctx context.Context, id string) (*StaffMember, error)
}

type StaffRepoImpl struct{ pool *pgxpool.Pool }

func NewStaffRepo(pool *pgxpool.Pool) *StaffRepoImpl { return &StaffRepoImpl{pool: pool} }

const staffCols = `id, email, password_hash, name, venue_id, role, created_at`

func (r *StaffRepoImpl) Create(ctx context.Context, id, email, hash, name, venueID, role string) (*StaffMember, error) {
	const q = `INSERT INTO staff (id, email, password_hash, name, venue_id, role)
		VALUES ($1,$2,$3,$4,$5,$6)
		RETURNING ` + staffCols
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	var s StaffMember
	if err := r.pool.QueryRow(ctx, q, id, email, hash, name, venueID, role).Scan(
		&s.ID, &s.Email, &s.PasswordHash, &s.Name, &s.VenueID, &s.Role, &s.CreatedAt,
	); err != nil {
		return nil, err
	}
	return &s, nil
}

func (r *StaffRepoImpl) FindByEmail(ctx context.Context, email string) (*StaffMember, error) {
	const q = `SELECT ` + staffCols + ` FROM staff WHERE lower(email)=lower($1)`
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	var s StaffMember
	err := r.pool.QueryRow(ctx, q, email).Scan(
		&s.ID, &s.Email, &s.PasswordHash, &s.Name, &s.VenueID, &s.Role, &s.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &s, nil
}

func (r *StaffRepoImpl) FindByID(ctx context.Context, id string) (*StaffMember, error) {
	const q = `SELECT ` + staffCols + ` FROM staff WHERE id=$1`
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	var s StaffMember
	err := r.pool.QueryRow(ctx, q, id).Scan(
		&s.ID, &s.Email, &s.PasswordHash, &s.Name, &s.VenueID, &s.Role, &s.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &s, nil
}

var _ StaffRepo = (*StaffRepoImpl)(nil)
