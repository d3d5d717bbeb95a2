package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/dscommerce/internal/domain/auth"
)

const (
	getTokenByHashSQL = `SELECT t.key_hash, u.id, u.name, u.email, t.expires_at,
			COALESCE(ARRAY_AGG(r.role ORDER BY r.role) FILTER (WHERE r.role IS NOT NULL), '{}')
		FROM access_tokens t
		JOIN users u ON u.id = t.user_id
		LEFT JOIN user_roles r ON r.user_id = u.id
		WHERE t.key_hash = $1 AND t.active = TRUE
		GROUP BY t.key_hash, u.id, u.name, u.email, t.expires_at`

	upsertTokenSQL = `INSERT INTO access_tokens (key_hash, user_id, expires_at, active)
		VALUES ($1, $2, $3, TRUE)
		ON CONFLICT (key_hash) DO UPDATE
		SET user_id = EXCLUDED.user_id, expires_at = EXCLUDED.expires_at, active = TRUE`
)

var _ auth.TokenRepository = (*TokenRepository)(nil)

// TokenRepository provides access token lookups backed by PostgreSQL.
type TokenRepository struct {
	pool *pgxpool.Pool
}

// NewTokenRepository returns a TokenRepository that uses the given pool.
func NewTokenRepository(pool *pgxpool.Pool) *TokenRepository {
	return &TokenRepository{pool: pool}
}

// FindByHash looks up an active token by its HMAC-SHA256 hash together with
// its owner and the owner's roles.
func (r *TokenRepository) FindByHash(ctx context.Context, hash string) (*auth.TokenRecord, error) {
	var (
		rec       auth.TokenRecord
		expiresAt *time.Time
		roles     []string
	)
	err := r.pool.QueryRow(ctx, getTokenByHashSQL, hash).Scan(
		&rec.KeyHash, &rec.UserID, &rec.Name, &rec.Email, &expiresAt, &roles,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, auth.ErrTokenNotFound
		}
		return nil, fmt.Errorf("finding access token by hash: %w", err)
	}

	if expiresAt != nil {
		rec.ExpiresAt = *expiresAt
	}
	rec.Roles = make([]auth.Role, len(roles))
	for i, role := range roles {
		rec.Roles[i] = auth.Role(role)
	}
	return &rec, nil
}

// Upsert stores an active token hash for userID. A zero expiresAt stores a
// token that never expires.
func (r *TokenRepository) Upsert(ctx context.Context, hash string, userID int64, expiresAt time.Time) error {
	var exp *time.Time
	if !expiresAt.IsZero() {
		exp = &expiresAt
	}
	if _, err := r.pool.Exec(ctx, upsertTokenSQL, hash, userID, exp); err != nil {
		return fmt.Errorf("upserting access token for user %d: %w", userID, err)
	}
	return nil
}
