package catalog

import (
	"context"
	"sync"

	"github.com/atlalli/redemption/internal/domain"
)

// Catalog is the read-only promotion lookup the redemption core depends on.
// The catalog is owned by the admin side of the product; only the end-date
// and tier matter here.
type Catalog interface {
	Coupon(ctx context.Context, promotionID string) (*domain.Coupon, error)
}

// MemoryCatalog is a map-backed Catalog for tests and dev seeding.
type MemoryCatalog struct {
	mu      sync.RWMutex
	coupons map[string]domain.Coupon
}

func NewMemoryCatalog(coupons ...domain.Coupon) *MemoryCatalog {
	c := &MemoryCatalog{coupons: make(map[string]domain.Coupon, len(coupons))}
	for _, coupon := range coupons {
		c.coupons[coupon.ID] = coupon
	}
	return c
}

func (c *MemoryCatalog) Put(coupon domain.Coupon) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.coupons[coupon.ID] = coupon
}

func (c *MemoryCatalog) Coupon(_ context.Context, promotionID string) (*domain.Coupon, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	coupon, ok := c.coupons[promotionID]
	if !ok {
		return nil, domain.ErrPromotionNotFound
	}
	return &coupon, nil
}

var _ Catalog = (*MemoryCatalog)(nil)
