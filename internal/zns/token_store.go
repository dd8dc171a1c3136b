package zns

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// RedisTokenStore keeps the current refresh token under a single key with
// no expiry; Zalo refresh tokens are valid for three months.
type RedisTokenStore struct {
	client redis.UniversalClient
	key    string
}

// NewRedisTokenStore stores the token at "<prefix>:zns:refresh_token:<appID>".
func NewRedisTokenStore(client redis.UniversalClient, prefix, appID string) *RedisTokenStore {
	return &RedisTokenStore{
		client: client,
		key:    fmt.Sprintf("%s:zns:refresh_token:%s", prefix, appID),
	}
}

// Load returns the stored token, or "" when none was saved yet.
func (s *RedisTokenStore) Load(ctx context.Context) (string, error) {
	v, err := s.client.Get(ctx, s.key).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("loading refresh token: %w", err)
	}
	return v, nil
}

// Save replaces the stored token.
func (s *RedisTokenStore) Save(ctx context.Context, refreshToken string) error {
	if err := s.client.Set(ctx, s.key, refreshToken, 0).Err(); err != nil {
		return fmt.Errorf("saving refresh token: %w", err)
	}
	return nil
}

var _ TokenStore = (*RedisTokenStore)(nil)
