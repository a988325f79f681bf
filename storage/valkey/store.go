package valkey

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"time"

	valkeygo "github.com/valkey-io/valkey-go"

	"github.com/giantswarm/oidc-engine/storage"
)

const (
	// connectionVerifyTimeout is the timeout for initial connection verification
	connectionVerifyTimeout = 5 * time.Second

	// MaxKeyLength is the maximum allowed length for a key
	MaxKeyLength = 512

	// MaxValueSize is the maximum size of a stored pending request (64KB)
	MaxValueSize = 64 * 1024
)

// errInputTooLarge is returned for keys or values beyond the size limits.
// The message is generic to avoid leaking payload details.
var errInputTooLarge = fmt.Errorf("input exceeds maximum allowed size")

// Config holds configuration for the Valkey storage backend.
type Config struct {
	// Address is the Valkey server address (required), e.g., "localhost:6379"
	Address string

	// Password is the optional password for Valkey authentication
	Password string

	// DB is the optional database number (default 0)
	DB int

	// Namespace is prepended verbatim to every key (default none).
	// The engine already prefixes keys with its pending request prefix.
	Namespace string

	// TLS is the optional TLS configuration for encrypted connections
	TLS *tls.Config

	// Logger is the optional structured logger (default: slog.Default())
	Logger *slog.Logger
}

// Store is a Valkey-backed storage.PendingRequestStore.
type Store struct {
	client    valkeygo.Client
	namespace string
	logger    *slog.Logger
}

var _ storage.PendingRequestStore = (*Store)(nil)

// New creates a new Valkey-backed storage instance.
// Returns an error if the connection cannot be established.
func New(cfg Config) (*Store, error) {
	if cfg.Address == "" {
		return nil, fmt.Errorf("valkey address is required")
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	opts := valkeygo.ClientOption{
		InitAddress: []string{cfg.Address},
		SelectDB:    cfg.DB,
	}

	if cfg.Password != "" {
		opts.Password = cfg.Password
	}

	if cfg.TLS != nil {
		opts.TLSConfig = cfg.TLS
	}

	client, err := valkeygo.NewClient(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to create valkey client: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), connectionVerifyTimeout)
	defer cancel()

	if err := client.Do(ctx, client.B().Ping().Build()).Error(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to valkey: %w", err)
	}

	logger.Info("Connected to Valkey storage",
		"address", cfg.Address,
		"db", cfg.DB,
		"namespace", cfg.Namespace)

	return NewFromClient(client, cfg.Namespace, logger), nil
}

// NewFromClient wraps an existing client, for callers that share one
// connection pool across components.
func NewFromClient(client valkeygo.Client, namespace string, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{client: client, namespace: namespace, logger: logger}
}

// Close closes the Valkey client connection.
func (s *Store) Close() {
	s.client.Close()
	s.logger.Info("Valkey storage connection closed")
}

// Get returns the value stored under key, or storage.ErrNotFound.
// Expiry is enforced by the server.
func (s *Store) Get(ctx context.Context, key string) ([]byte, error) {
	if len(key) > MaxKeyLength {
		return nil, errInputTooLarge
	}

	data, err := s.client.Do(ctx, s.client.B().Get().Key(s.key(key)).Build()).AsBytes()
	if err != nil {
		if isNilError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get pending request: %w", err)
	}
	return data, nil
}

// Set stores value under key with an absolute expiry (SET ... PXAT).
func (s *Store) Set(ctx context.Context, key string, value []byte, expiresAt time.Time) error {
	if key == "" {
		return fmt.Errorf("key cannot be empty")
	}
	if len(key) > MaxKeyLength || len(value) > MaxValueSize {
		return errInputTooLarge
	}

	cmd := s.client.B().Set().
		Key(s.key(key)).
		Value(valkeygo.BinaryString(value)).
		PxatMillisecondsTimestamp(expiresAt.UnixMilli()).
		Build()
	if err := s.client.Do(ctx, cmd).Error(); err != nil {
		return fmt.Errorf("failed to save pending request: %w", err)
	}
	return nil
}

// Remove deletes key. Removing a missing key is not an error.
func (s *Store) Remove(ctx context.Context, key string) error {
	if err := s.client.Do(ctx, s.client.B().Del().Key(s.key(key)).Build()).Error(); err != nil {
		return fmt.Errorf("failed to delete pending request: %w", err)
	}
	return nil
}

func (s *Store) key(key string) string {
	return s.namespace + key
}

func isNilError(err error) bool {
	return valkeygo.IsValkeyNil(err)
}
