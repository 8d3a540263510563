package repository

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/iliyamo/sessionguard/internal/utils"
)

// RedisTokenStore keeps refresh token hashes in Redis. Each token is a key
// holding its owner and expiry, with a matching Redis TTL so expired entries
// disappear even if never validated again. A per-user set indexes the hashes
// for RemoveAllForUser.
type RedisTokenStore struct {
	rdb    redis.UniversalClient
	prefix string
	ttl    time.Duration
	now    func() time.Time
}

type redisTokenValue struct {
	UserID    uint64    `json:"user_id"`
	ExpiresAt time.Time `json:"expires_at"`
	CreatedAt time.Time `json:"created_at"`
}

// NewRedisTokenStore returns a store using keys under prefix (default "rt").
func NewRedisTokenStore(rdb redis.UniversalClient, prefix string) *RedisTokenStore {
	if prefix == "" {
		prefix = "rt"
	}
	return &RedisTokenStore{rdb: rdb, prefix: prefix, ttl: DefaultRefreshTTL, now: time.Now}
}

// WithClock overrides the time source and returns the store.
func (s *RedisTokenStore) WithClock(fn func() time.Time) *RedisTokenStore {
	if fn != nil {
		s.now = fn
	}
	return s
}

// WithTTL overrides the seven day lifetime and returns the store.
func (s *RedisTokenStore) WithTTL(ttl time.Duration) *RedisTokenStore {
	if ttl > 0 {
		s.ttl = ttl
	}
	return s
}

func (s *RedisTokenStore) tokenKey(hash string) string { return s.prefix + ":" + hash }

func (s *RedisTokenStore) userKey(userID uint64) string {
	return s.prefix + ":user:" + strconv.FormatUint(userID, 10)
}

// Store writes the token hash with the store's TTL (seven days by default).
func (s *RedisTokenStore) Store(ctx context.Context, userID uint64, token string) error {
	now := s.now().UTC()
	val, err := json.Marshal(redisTokenValue{UserID: userID, ExpiresAt: now.Add(s.ttl), CreatedAt: now})
	if err != nil {
		return persistenceErr("encode refresh token", err)
	}
	hash := utils.HashToken(token)
	_, err = s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, s.tokenKey(hash), val, s.ttl)
		pipe.SAdd(ctx, s.userKey(userID), hash)
		pipe.Expire(ctx, s.userKey(userID), s.ttl)
		return nil
	})
	if err != nil {
		return persistenceErr("store refresh token", err)
	}
	return nil
}

// Validate reports whether token is present and unexpired, deleting it if
// it is found expired.
func (s *RedisTokenStore) Validate(ctx context.Context, token string) (bool, error) {
	hash := utils.HashToken(token)
	raw, err := s.rdb.Get(ctx, s.tokenKey(hash)).Bytes()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, persistenceErr("validate refresh token", err)
	}
	var v redisTokenValue
	if err := json.Unmarshal(raw, &v); err != nil {
		return false, persistenceErr("decode refresh token", err)
	}
	if v.ExpiresAt.Before(s.now()) {
		if err := s.remove(ctx, hash, v.UserID); err != nil {
			return false, err
		}
		return false, nil
	}
	return true, nil
}

// Remove deletes token. Removing an absent token is not an error.
func (s *RedisTokenStore) Remove(ctx context.Context, token string) error {
	hash := utils.HashToken(token)
	raw, err := s.rdb.Get(ctx, s.tokenKey(hash)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil
	}
	if err != nil {
		return persistenceErr("remove refresh token", err)
	}
	var v redisTokenValue
	_ = json.Unmarshal(raw, &v)
	return s.remove(ctx, hash, v.UserID)
}

// RemoveAllForUser deletes every refresh token the user holds.
func (s *RedisTokenStore) RemoveAllForUser(ctx context.Context, userID uint64) error {
	hashes, err := s.rdb.SMembers(ctx, s.userKey(userID)).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return persistenceErr("list user refresh tokens", err)
	}
	keys := make([]string, 0, len(hashes)+1)
	for _, h := range hashes {
		keys = append(keys, s.tokenKey(h))
	}
	keys = append(keys, s.userKey(userID))
	if err := s.rdb.Del(ctx, keys...).Err(); err != nil {
		return persistenceErr("remove user refresh tokens", err)
	}
	return nil
}

func (s *RedisTokenStore) remove(ctx context.Context, hash string, userID uint64) error {
	_, err := s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, s.tokenKey(hash))
		if userID != 0 {
			pipe.SRem(ctx, s.userKey(userID), hash)
		}
		return nil
	})
	if err != nil {
		return persistenceErr("remove refresh token", err)
	}
	return nil
}
