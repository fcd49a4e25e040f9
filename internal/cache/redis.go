package cache

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

const redisKeyPrefix = "scry:cache:"

// RedisStore is a RemoteStore backed by Redis.
type RedisStore struct {
	client *goredis.Client
}

// NewRedisStore connects to addr, which is either host:port or a
// redis:// URL, and verifies the connection with a ping.
func NewRedisStore(ctx context.Context, addr string) (*RedisStore, error) {
	var opts *goredis.Options
	if strings.Contains(addr, "://") {
		parsed, err := goredis.ParseURL(addr)
		if err != nil {
			return nil, fmt.Errorf("parse redis url: %w", err)
		}
		opts = parsed
	} else {
		opts = &goredis.Options{Addr: addr}
	}

	client := goredis.NewClient(opts)
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return &RedisStore{client: client}, nil
}

// Get implements RemoteStore. The value and its PTTL are read in one round
// trip.
func (s *RedisStore) Get(ctx context.Context, key string) ([]byte, time.Duration, bool, error) {
	pipe := s.client.Pipeline()
	get := pipe.Get(ctx, redisKeyPrefix+key)
	pttl := pipe.PTTL(ctx, redisKeyPrefix+key)
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, goredis.Nil) {
		return nil, 0, false, err
	}

	value, err := get.Bytes()
	if errors.Is(err, goredis.Nil) {
		return nil, 0, false, nil
	}
	if err != nil {
		return nil, 0, false, err
	}
	return value, remoteRemaining(pttl.Val()), true, nil
}

// remoteRemaining maps a PTTL reply to a lifetime. Redis answers negative
// values for keys without an expiry.
func remoteRemaining(pttl time.Duration) time.Duration {
	if pttl <= 0 {
		return NoExpiry
	}
	return pttl
}

// Set implements RemoteStore. A zero ttl stores the key without expiry.
func (s *RedisStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return s.client.Set(ctx, redisKeyPrefix+key, value, ttl).Err()
}

// Close implements RemoteStore.
func (s *RedisStore) Close() error {
	return s.client.Close()
}
