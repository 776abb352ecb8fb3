package provider

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/goccy/go-json"
	"github.com/redis/go-redis/v9"
)

const tokenCacheKey = "provider:access_token"

// RedisTokenStore shares the provider access token across replicas so a
// fleet restart does not hammer the token endpoint
type RedisTokenStore struct {
	client    redis.UniversalClient
	namespace string
}

func NewRedisTokenStore(client redis.UniversalClient, namespace string) *RedisTokenStore {
	return &RedisTokenStore{client: client, namespace: namespace}
}

func (s *RedisTokenStore) key() string {
	return s.namespace + ":" + tokenCacheKey
}

func (s *RedisTokenStore) Load(ctx context.Context) (*Token, error) {
	raw, err := s.client.Get(ctx, s.key()).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrTokenNotCached
		}
		return nil, fmt.Errorf("failed to load provider token: %w", err)
	}

	var tok Token
	if err := json.Unmarshal(raw, &tok); err != nil {
		return nil, fmt.Errorf("failed to decode provider token: %w", err)
	}
	return &tok, nil
}

func (s *RedisTokenStore) Save(ctx context.Context, tok Token) error {
	ttl := time.Until(tok.ExpiresAt)
	if ttl <= 0 {
		return nil
	}

	raw, err := json.Marshal(tok)
	if err != nil {
		return fmt.Errorf("failed to encode provider token: %w", err)
	}
	return s.client.Set(ctx, s.key(), raw, ttl).Err()
}

// Delete removes the shared token only if it still holds value
func (s *RedisTokenStore) Delete(ctx context.Context, value string) error {
	tok, err := s.Load(ctx)
	if err != nil {
		if errors.Is(err, ErrTokenNotCached) {
			return nil
		}
		return err
	}
	if tok.Value != value {
		return nil
	}
	return s.client.Del(ctx, s.key()).Err()
}
