package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/iliyamo/sessionguard/internal/model"
)

const userColumns = "id,email,password_hash,role,permissions,is_verified,locked_until,created_at,updated_at"

// UserRepo reads users from the `users` table and writes the verified flag.
// Users are created and deleted elsewhere.
type UserRepo struct{ DB *sql.DB }

func NewUserRepo(db *sql.DB) *UserRepo { return &UserRepo{DB: db} }

// GetByEmail fetches a user by normalized email.
func (r *UserRepo) GetByEmail(ctx context.Context, email string) (model.User, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	row := r.DB.QueryRowContext(ctx,
		"SELECT "+userColumns+" FROM users WHERE email=? LIMIT 1", email)
	return scanUser(row, "get user by email")
}

// GetByID fetches a user by id.
func (r *UserRepo) GetByID(ctx context.Context, id uint64) (model.User, error) {
	row := r.DB.QueryRowContext(ctx,
		"SELECT "+userColumns+" FROM users WHERE id=? LIMIT 1", id)
	return scanUser(row, "get user by id")
}

// SetVerified updates the verified flag.
func (r *UserRepo) SetVerified(ctx context.Context, id uint64, verified bool) error {
	res, err := r.DB.ExecContext(ctx,
		"UPDATE users SET is_verified=?, updated_at=UTC_TIMESTAMP() WHERE id=?", verified, id)
	if err != nil {
		return persistenceErr("set verified", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return persistenceErr("set verified", err)
	}
	if n == 0 {
		// MySQL reports 0 for "matched but unchanged" too; confirm existence.
		if _, err := r.GetByID(ctx, id); err != nil {
			return err
		}
	}
	return nil
}

func scanUser(row *sql.Row, op string) (model.User, error) {
	var (
		u           model.User
		role        string
		permissions sql.NullString
		lockedUntil sql.NullTime
	)
	err := row.Scan(&u.ID, &u.Email, &u.PasswordHash, &role, &permissions,
		&u.IsVerified, &lockedUntil, &u.CreatedAt, &u.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return model.User{}, ErrUserNotFound
	}
	if err != nil {
		return model.User{}, persistenceErr(op, err)
	}
	r, ok := model.ParseRole(role)
	if !ok {
		return model.User{}, persistenceErr(op, fmt.Errorf("unknown role %q", role))
	}
	u.Role = r
	if permissions.Valid && strings.TrimSpace(permissions.String) != "" {
		var list []string
		if err := json.Unmarshal([]byte(permissions.String), &list); err != nil {
			return model.User{}, persistenceErr(op+": decode permissions", err)
		}
		// JSON null keeps the role defaults; [] is an explicit empty grant.
		u.Permissions = list
	}
	if lockedUntil.Valid {
		t := lockedUntil.Time
		u.LockedUntil = &t
	}
	return u, nil
}
