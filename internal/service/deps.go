package service

import (
	"context"

	"github.com/iliyamo/sessionguard/internal/model"
)

// UserStore reads identities and writes the verified flag.
// repository.UserRepo implements it.
type UserStore interface {
	GetByEmail(ctx context.Context, email string) (model.User, error)
	GetByID(ctx context.Context, id uint64) (model.User, error)
	SetVerified(ctx context.Context, id uint64, verified bool) error
}

// RefreshTokenStore records issued refresh tokens. Removal must be visible
// to every later Validate. repository.TokenRepo and
// repository.RedisTokenStore implement it.
type RefreshTokenStore interface {
	Store(ctx context.Context, userID uint64, token string) error
	Validate(ctx context.Context, token string) (bool, error)
	Remove(ctx context.Context, token string) error
	RemoveAllForUser(ctx context.Context, userID uint64) error
}

// Recorder receives security events. Implementations must not block the
// caller on failure; audit.Recorder is the production one.
type Recorder interface {
	Record(ctx context.Context, ev model.SecurityEvent)
}

// LockoutPolicy decides whether a known account may attempt a login.
type LockoutPolicy interface {
	IsLocked(ctx context.Context, u model.User) bool
}

// NeverLocked is the default policy. Lock state is not yet maintained, so
// no account is ever reported locked.
type NeverLocked struct{}

func (NeverLocked) IsLocked(context.Context, model.User) bool { return false }

type nopRecorder struct{}

func (nopRecorder) Record(context.Context, model.SecurityEvent) {}
