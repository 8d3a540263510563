package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/iliyamo/sessionguard/internal/utils"
)

// DefaultRefreshTTL is how long a stored refresh token stays valid.
const DefaultRefreshTTL = 7 * 24 * time.Hour

// TokenRepo persists refresh tokens in the `refresh_tokens` table. Only the
// SHA-256 hash of the raw token is stored. Rows are never updated: they are
// inserted once and hard-deleted on logout or when found expired.
type TokenRepo struct {
	DB  *sql.DB
	TTL time.Duration
	Now func() time.Time
}

func NewTokenRepo(db *sql.DB) *TokenRepo {
	return &TokenRepo{DB: db, TTL: DefaultRefreshTTL, Now: time.Now}
}

func (r *TokenRepo) now() time.Time {
	if r.Now != nil {
		return r.Now().UTC()
	}
	return time.Now().UTC()
}

func (r *TokenRepo) ttl() time.Duration {
	if r.TTL > 0 {
		return r.TTL
	}
	return DefaultRefreshTTL
}

// Store inserts a refresh token hash row expiring TTL from now.
func (r *TokenRepo) Store(ctx context.Context, userID uint64, token string) error {
	now := r.now()
	_, err := r.DB.ExecContext(ctx,
		"INSERT INTO refresh_tokens (user_id, token_hash, expires_at, created_at) VALUES (?,?,?,?)",
		userID, utils.HashToken(token), now.Add(r.ttl()), now)
	if err != nil {
		return persistenceErr("store refresh token", err)
	}
	return nil
}

// Validate reports whether token is present and unexpired. An expired row
// is deleted before returning false.
func (r *TokenRepo) Validate(ctx context.Context, token string) (bool, error) {
	hash := utils.HashToken(token)
	var expiresAt time.Time
	err := r.DB.QueryRowContext(ctx,
		"SELECT expires_at FROM refresh_tokens WHERE token_hash=? LIMIT 1",
		hash).Scan(&expiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, persistenceErr("validate refresh token", err)
	}
	if expiresAt.Before(r.now()) {
		if err := r.removeHash(ctx, hash); err != nil {
			return false, err
		}
		return false, nil
	}
	return true, nil
}

// Remove deletes token. Removing an absent token is not an error.
func (r *TokenRepo) Remove(ctx context.Context, token string) error {
	return r.removeHash(ctx, utils.HashToken(token))
}

// RemoveAllForUser deletes every refresh token the user holds.
func (r *TokenRepo) RemoveAllForUser(ctx context.Context, userID uint64) error {
	if _, err := r.DB.ExecContext(ctx,
		"DELETE FROM refresh_tokens WHERE user_id=?", userID); err != nil {
		return persistenceErr("remove user refresh tokens", err)
	}
	return nil
}

// PurgeExpired deletes every expired row and returns how many were removed.
// Validate already cleans up lazily; this only bounds table growth.
func (r *TokenRepo) PurgeExpired(ctx context.Context) (int64, error) {
	res, err := r.DB.ExecContext(ctx,
		"DELETE FROM refresh_tokens WHERE expires_at < ?", r.now())
	if err != nil {
		return 0, persistenceErr("purge refresh tokens", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, persistenceErr("purge refresh tokens", err)
	}
	return n, nil
}

func (r *TokenRepo) removeHash(ctx context.Context, hash string) error {
	if _, err := r.DB.ExecContext(ctx,
		"DELETE FROM refresh_tokens WHERE token_hash=?", hash); err != nil {
		return persistenceErr("remove refresh token", err)
	}
	return nil
}
