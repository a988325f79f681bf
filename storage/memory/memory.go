package memory

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/giantswarm/oidc-engine/instrumentation"
	"github.com/giantswarm/oidc-engine/storage"
)

// DefaultCleanupInterval is how often expired entries are purged
const DefaultCleanupInterval = time.Minute

type entry struct {
	value     []byte
	expiresAt time.Time
}

// Store is an in-memory PendingRequestStore.
//
// Entries are invisible once their expiry has passed; a background goroutine
// purges them periodically until Stop is called.
type Store struct {
	mu      sync.RWMutex
	entries map[string]entry

	clock  func() time.Time
	logger *slog.Logger

	// Lock-free count for the pending requests gauge
	countAtomic atomic.Int64

	cleanupInterval time.Duration
	stopCleanup     chan struct{}
	stopOnce        sync.Once
	done            chan struct{}
}

var _ storage.PendingRequestStore = (*Store)(nil)

// New creates a new in-memory store with the default cleanup interval (1 minute)
func New() *Store {
	return NewWithInterval(DefaultCleanupInterval)
}

// NewWithInterval creates a new in-memory store with custom cleanup interval.
// If cleanupInterval is 0 or negative, uses default of 1 minute.
func NewWithInterval(cleanupInterval time.Duration) *Store {
	if cleanupInterval <= 0 {
		cleanupInterval = DefaultCleanupInterval
	}

	s := &Store{
		entries:         make(map[string]entry),
		clock:           time.Now,
		logger:          slog.Default(),
		cleanupInterval: cleanupInterval,
		stopCleanup:     make(chan struct{}),
		done:            make(chan struct{}),
	}

	go s.cleanupLoop()

	return s
}

// SetLogger sets a custom logger
func (s *Store) SetLogger(logger *slog.Logger) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.logger = logger
}

// SetClock replaces the time source used for expiry decisions
func (s *Store) SetClock(clock func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clock = clock
}

// SetInstrumentation registers the pending requests gauge
func (s *Store) SetInstrumentation(inst *instrumentation.Instrumentation) {
	if inst == nil {
		return
	}
	if err := inst.RegisterPendingRequestsCallback(s.countAtomic.Load); err != nil {
		s.logger.Warn("Failed to register pending requests callback", "error", err)
	}
}

// Stop gracefully stops the cleanup goroutine and waits for it to exit.
// It is safe to call more than once.
func (s *Store) Stop() {
	s.stopOnce.Do(func() {
		close(s.stopCleanup)
	})
	<-s.done
}

// Get returns the value stored under key, or storage.ErrNotFound when the
// key is absent or expired.
func (s *Store) Get(_ context.Context, key string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.entries[key]
	if !ok || !e.expiresAt.After(s.clock()) {
		return nil, storage.ErrNotFound
	}

	value := make([]byte, len(e.value))
	copy(value, e.value)
	return value, nil
}

// Set stores value under key until expiresAt.
func (s *Store) Set(_ context.Context, key string, value []byte, expiresAt time.Time) error {
	if key == "" {
		return fmt.Errorf("key cannot be empty")
	}

	stored := make([]byte, len(value))
	copy(stored, value)

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.entries[key]; !exists {
		s.countAtomic.Add(1)
	}
	s.entries[key] = entry{value: stored, expiresAt: expiresAt}
	return nil
}

// Remove deletes key. Removing a missing key is not an error.
func (s *Store) Remove(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.entries[key]; exists {
		delete(s.entries, key)
		s.countAtomic.Add(-1)
	}
	return nil
}

// Len returns the number of stored entries, including expired ones not yet purged.
func (s *Store) Len() int {
	return int(s.countAtomic.Load())
}

func (s *Store) cleanupLoop() {
	defer close(s.done)

	ticker := time.NewTicker(s.cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopCleanup:
			return
		case <-ticker.C:
			s.cleanup()
		}
	}
}

func (s *Store) cleanup() {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock()
	cleaned := 0
	for key, e := range s.entries {
		if !e.expiresAt.After(now) {
			delete(s.entries, key)
			cleaned++
		}
	}
	s.countAtomic.Add(int64(-cleaned))

	if cleaned > 0 {
		s.logger.Debug("Cleaned up expired pending requests", "count", cleaned)
	}
}
