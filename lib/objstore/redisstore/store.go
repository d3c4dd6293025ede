// Package redisstore implements objstore.Store on Redis. Every object is one
// string value below a key prefix.
package redisstore

import (
	"context"
	"errors"
	"fmt"
	"net/url"

	"github.com/ValentinKolb/dMDS/lib/objstore"
	"github.com/redis/go-redis/v9"
)

// DefaultKeyPrefix is prepended to every object key unless Config says otherwise.
const DefaultKeyPrefix = "dmds:objects:"

// Config contains configuration options for the Redis store
type Config struct {
	// Client is the Redis client instance
	Client *redis.Client

	// KeyPrefix is the prefix for all Redis keys
	// Default: DefaultKeyPrefix
	KeyPrefix string
}

// Store is a Redis backed object store.
type Store struct {
	client    *redis.Client
	keyPrefix string
}

// New creates a store on an existing client.
func New(config Config) (*Store, error) {
	if config.Client == nil {
		return nil, fmt.Errorf("redis client is required")
	}
	if config.KeyPrefix == "" {
		config.KeyPrefix = DefaultKeyPrefix
	}
	return &Store{
		client:    config.Client,
		keyPrefix: config.KeyPrefix,
	}, nil
}

// FromURL creates a store and its client from a redis:// or rediss:// URL,
// e.g. redis://:password@localhost:6379/2.
func FromURL(ep *url.URL) (*Store, error) {
	opts, err := redis.ParseURL(ep.String())
	if err != nil {
		return nil, fmt.Errorf("parsing redis URL: %w", err)
	}
	return New(Config{Client: redis.NewClient(opts)})
}

func (s *Store) buildKey(key string) string {
	return s.keyPrefix + key
}

// --------------------------------------------------------------------------
// Interface Methods (docu see objstore/interface.go)
// --------------------------------------------------------------------------

func (s *Store) Provider() string {
	return "redis"
}

func (s *Store) Get(ctx context.Context, key string) ([]byte, error) {
	data, err := s.client.Get(ctx, s.buildKey(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, objstore.NotFound(key)
	} else if err != nil {
		return nil, objstore.WrapError(objstore.RetCInternalError, "get "+key, err)
	}
	return data, nil
}

func (s *Store) Put(ctx context.Context, key string, data []byte) error {
	if err := s.client.Set(ctx, s.buildKey(key), data, 0).Err(); err != nil {
		return objstore.WrapError(objstore.RetCInternalError, "put "+key, err)
	}
	return nil
}

func (s *Store) Exists(ctx context.Context, key string) (bool, error) {
	n, err := s.client.Exists(ctx, s.buildKey(key)).Result()
	if err != nil {
		return false, objstore.WrapError(objstore.RetCInternalError, "exists "+key, err)
	}
	return n == 1, nil
}

func (s *Store) Remove(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, s.buildKey(key)).Err(); err != nil {
		return objstore.WrapError(objstore.RetCInternalError, "remove "+key, err)
	}
	return nil
}

func (s *Store) Close() error {
	return s.client.Close()
}
