package storage

import (
	"context"
	"errors"

	"github.com/redis/go-redis/v9"
)

// RedisPointer keeps a user's last known session id in Redis. It is used for
// frontends without local storage of their own (Telegram).
type RedisPointer struct {
	Redis  *redis.Client
	UserID string
}

// NewRedisPointer Constructor
func NewRedisPointer(rdb *redis.Client, userID string) *RedisPointer {
	return &RedisPointer{Redis: rdb, UserID: userID}
}

func (p *RedisPointer) key() string {
	return channelPrefix + "pointer:" + p.UserID
}

// Load returns "" when no pointer is stored.
func (p *RedisPointer) Load() (string, error) {
	v, err := p.Redis.Get(context.Background(), p.key()).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	return v, err
}

func (p *RedisPointer) Save(sessionID string) error {
	return p.Redis.Set(context.Background(), p.key(), sessionID, 0).Err()
}

func (p *RedisPointer) Clear() error {
	return p.Redis.Del(context.Background(), p.key()).Err()
}
