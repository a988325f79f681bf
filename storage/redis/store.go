// Package redis provides a Redis storage backend for pending authorization requests,
// built on github.com/redis/go-redis/v9.
//
// It is an alternative to storage/valkey for deployments that already run Redis
// (or Redis Sentinel through a pre-built client passed to NewFromClient).
//
// Example usage:
//
//	store, err := redis.New(redis.Config{Address: "redis://localhost:6379/0"})
//	if err != nil {
//		return err
//	}
//	defer store.Close()
package redis

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/giantswarm/oidc-engine/storage"
)

// connectionVerifyTimeout is the timeout for initial connection verification
const connectionVerifyTimeout = 5 * time.Second

// Config holds configuration for the Redis storage backend.
type Config struct {
	// Address is either host:port or a redis:// / rediss:// URL (required)
	Address string

	// Username and Password override credentials given in the URL
	Username string
	Password string

	// Namespace is prepended verbatim to every key (default none)
	Namespace string

	// Logger is the optional structured logger (default: slog.Default())
	Logger *slog.Logger
}

// Store is a Redis-backed storage.PendingRequestStore.
type Store struct {
	client    goredis.UniversalClient
	namespace string
	clock     func() time.Time
	logger    *slog.Logger
}

var _ storage.PendingRequestStore = (*Store)(nil)

// New connects to Redis and verifies the connection.
func New(cfg Config) (*Store, error) {
	opts, err := cfg.options()
	if err != nil {
		return nil, err
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	client := goredis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), connectionVerifyTimeout)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	logger.Info("Connected to Redis storage",
		"address", opts.Addr,
		"db", opts.DB,
		"namespace", cfg.Namespace)

	return NewFromClient(client, cfg.Namespace, logger), nil
}

// NewFromClient wraps an existing client (single node, sentinel or cluster).
func NewFromClient(client goredis.UniversalClient, namespace string, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{client: client, namespace: namespace, clock: time.Now, logger: logger}
}

// options builds client options. Plain host:port addresses are accepted for
// backwards compatibility with valkey-style configuration.
func (c Config) options() (*goredis.Options, error) {
	if c.Address == "" {
		return nil, fmt.Errorf("redis address is required")
	}

	addr := c.Address
	if !strings.HasPrefix(addr, "redis://") && !strings.HasPrefix(addr, "rediss://") {
		addr = "redis://" + addr
	}

	opts, err := goredis.ParseURL(addr)
	if err != nil {
		return nil, fmt.Errorf("invalid redis address: %w", err)
	}
	if c.Username != "" {
		opts.Username = c.Username
	}
	if c.Password != "" {
		opts.Password = c.Password
	}
	return opts, nil
}

// Close closes the Redis client connection.
func (s *Store) Close() error {
	s.logger.Info("Redis storage connection closed")
	return s.client.Close()
}

// Get returns the value stored under key, or storage.ErrNotFound.
func (s *Store) Get(ctx context.Context, key string) ([]byte, error) {
	data, err := s.client.Get(ctx, s.key(key)).Bytes()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get pending request: %w", err)
	}
	return data, nil
}

// Set stores value under key. The absolute expiry is converted to a TTL;
// an expiry that has already passed is rejected, since a zero TTL would
// make the entry permanent.
func (s *Store) Set(ctx context.Context, key string, value []byte, expiresAt time.Time) error {
	if key == "" {
		return fmt.Errorf("key cannot be empty")
	}

	ttl := expiresAt.Sub(s.clock())
	if ttl <= 0 {
		return fmt.Errorf("pending request already expired")
	}

	if err := s.client.Set(ctx, s.key(key), value, ttl).Err(); err != nil {
		return fmt.Errorf("failed to save pending request: %w", err)
	}
	return nil
}

// Remove deletes key. Removing a missing key is not an error.
func (s *Store) Remove(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, s.key(key)).Err(); err != nil {
		return fmt.Errorf("failed to delete pending request: %w", err)
	}
	return nil
}

func (s *Store) key(key string) string {
	return s.namespace + key
}
