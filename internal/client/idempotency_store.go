package client

import (
	"context"
	stderrors "errors"
	"time"

	"github.com/redis/go-redis/v9"
)

// inFlight marks a reserved key whose decision has not completed.
const inFlight = "\x00in-flight"

// RedisIdempotencyStore keeps decision results in Redis under
// <namespace>:<key> with a TTL.
type RedisIdempotencyStore struct {
	client    redis.UniversalClient
	namespace string
	ttl       time.Duration
}

// NewRedisClient builds a client from address and credentials.
func NewRedisClient(addr, password string, db int) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
}

// NewRedisIdempotencyStore creates a store on client.
func NewRedisIdempotencyStore(client redis.UniversalClient, namespace string, ttl time.Duration) *RedisIdempotencyStore {
	return &RedisIdempotencyStore{client: client, namespace: namespace, ttl: ttl}
}

func (s *RedisIdempotencyStore) key(k string) string {
	return s.namespace + ":" + k
}

// Reserve claims key with SET NX. If the key exists its stored result is
// returned, or nil while the first attempt is still running.
func (s *RedisIdempotencyStore) Reserve(ctx context.Context, key string) ([]byte, bool, error) {
	ok, err := s.client.SetNX(ctx, s.key(key), inFlight, s.ttl).Result()
	if err != nil {
		return nil, false, err
	}
	if ok {
		return nil, true, nil
	}

	val, err := s.client.Get(ctx, s.key(key)).Bytes()
	if stderrors.Is(err, redis.Nil) {
		// Expired between SETNX and GET; try once more.
		ok, err = s.client.SetNX(ctx, s.key(key), inFlight, s.ttl).Result()
		if err != nil {
			return nil, false, err
		}
		return nil, ok, nil
	}
	if err != nil {
		return nil, false, err
	}
	if string(val) == inFlight {
		return nil, false, nil
	}
	return val, false, nil
}

// Complete replaces the in-flight marker with the result.
func (s *RedisIdempotencyStore) Complete(ctx context.Context, key string, result []byte) error {
	return s.client.Set(ctx, s.key(key), result, s.ttl).Err()
}

// Release deletes the key so the request can be retried.
func (s *RedisIdempotencyStore) Release(ctx context.Context, key string) error {
	return s.client.Del(ctx, s.key(key)).Err()
}
