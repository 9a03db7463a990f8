package postgres

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/atlalli/redemption/internal/token"
	"github.com/atlalli/redemption/pkg/logger"
)

type cachedSecret struct {
	secret  []byte
	ok      bool
	fetched time.Time
}

// VenueSecretsRepo resolves per-venue signing secrets from postgres. Lookups
// are cached briefly so the signer's refresh cadence doesn't hit the
// database every 29 seconds per open screen. Negative results are cached
// too; a venue gaining a secret becomes visible after the TTL.
type VenueSecretsRepo struct {
	pool *pgxpool.Pool
	ttl  time.Duration

	mu    sync.RWMutex
	cache map[string]cachedSecret
}

func NewVenueSecretsRepo(pool *pgxpool.Pool) *VenueSecretsRepo {
	return &VenueSecretsRepo{
		pool:  pool,
		ttl:   time.Minute,
		cache: make(map[string]cachedSecret),
	}
}

func (r *VenueSecretsRepo) SecretFor(venueID string) ([]byte, bool) {
	r.mu.RLock()
	entry, hit := r.cache[venueID]
	r.mu.RUnlock()
	if hit && time.Since(entry.fetched) < r.ttl {
		return entry.secret, entry.ok
	}

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	var secret []byte
	err := r.pool.QueryRow(ctx, `SELECT secret FROM venue_secrets WHERE venue_id=$1`, venueID).Scan(&secret)
	ok := err == nil
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		// Infra failure: treat as unknown venue rather than guessing, but
		// don't poison the cache.
		logger.Error("Venue secret lookup failed", "error", err, "venue_id", venueID)
		return nil, false
	}

	r.mu.Lock()
	r.cache[venueID] = cachedSecret{secret: secret, ok: ok, fetched: time.Now()}
	r.mu.Unlock()

	return secret, ok
}

// Rotate installs a new secret for a venue and drops the cached entry, so
// freshly signed tokens pick it up immediately on this node.
func (r *VenueSecretsRepo) Rotate(ctx context.Context, venueID string, secret []byte) error {
	const q = `INSERT INTO venue_secrets (venue_id, secret, rotated_at)
		VALUES ($1, $2, now())
		ON CONFLICT (venue_id) DO UPDATE SET secret=EXCLUDED.secret, rotated_at=now()`
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	if _, err := r.pool.Exec(ctx, q, venueID, secret); err != nil {
		return err
	}

	r.mu.Lock()
	delete(r.cache, venueID)
	r.mu.Unlock()
	return nil
}

var _ token.KeyStore = (*VenueSecretsRepo)(nil)
