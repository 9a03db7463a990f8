package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/atlalli/redemption/internal/catalog"
	"github.com/atlalli/redemption/internal/domain"
)

// CatalogRepo reads the promotion catalog. The catalog is owned by the admin
// side; the redemption core only reads venue scope, end date and tier.
type CatalogRepo struct{ pool *pgxpool.Pool }

func NewCatalogRepo(pool *pgxpool.Pool) *CatalogRepo { return &CatalogRepo{pool: pool} }

func (r *CatalogRepo) Coupon(ctx context.Context, promotionID string) (*domain.Coupon, error) {
	const q = `SELECT id, venue_ids, end_date, tier FROM coupons WHERE id=$1`
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	var c domain.Coupon
	var tier string
	err := r.pool.QueryRow(ctx, q, promotionID).Scan(&c.ID, &c.VenueIDs, &c.EndDate, &tier)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrPromotionNotFound
	}
	if err != nil {
		return nil, err
	}
	c.Tier = domain.CouponTier(tier)
	return &c, nil
}

var _ catalog.Catalog = (*CatalogRepo)(nil)
