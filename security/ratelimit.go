package security

import (
	"container/list"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Rate limiter defaults
const (
	DefaultRateLimitMaxEntries      = 10000
	DefaultRateLimitIdleTimeout     = 30 * time.Minute
	DefaultRateLimitCleanupInterval = 5 * time.Minute
)

// RateLimiterConfig configures a RateLimiter
type RateLimiterConfig struct {
	// RequestsPerSecond is the sustained rate per key
	RequestsPerSecond float64

	// Burst is the number of requests a key may issue at once
	Burst int

	// MaxEntries bounds the number of tracked keys; the least recently used
	// key is evicted when the bound is reached. 0 means unbounded.
	// Default: 10000
	MaxEntries int

	// IdleTimeout drops keys that were not seen for this long
	// Default: 30 minutes
	IdleTimeout time.Duration

	// CleanupInterval is how often idle keys are swept
	// Default: 5 minutes
	CleanupInterval time.Duration

	// Clock overrides time.Now (tests only)
	Clock func() time.Time
}

type limiterEntry struct {
	key        string
	limiter    *rate.Limiter
	lastAccess time.Time
}

// RateLimiter is a per-key token bucket (typically keyed by client IP) with LRU
// eviction, so a flood of distinct keys cannot grow memory without bound.
type RateLimiter struct {
	mu       sync.Mutex
	entries  map[string]*list.Element
	lru      *list.List
	limit    rate.Limit
	burst    int
	max      int
	idle     time.Duration
	interval time.Duration
	clock    func() time.Time
	logger   *slog.Logger

	evictions int64
	stop      chan struct{}
	stopOnce  sync.Once
}

// NewRateLimiter creates a rate limiter and starts its cleanup goroutine.
// Call Stop to release it.
func NewRateLimiter(config RateLimiterConfig, logger *slog.Logger) *RateLimiter {
	if logger == nil {
		logger = slog.Default()
	}
	if config.MaxEntries < 0 {
		logger.Warn("Invalid rate limiter max entries, using default",
			"max_entries", config.MaxEntries,
			"default", DefaultRateLimitMaxEntries)
		config.MaxEntries = DefaultRateLimitMaxEntries
	}
	if config.IdleTimeout <= 0 {
		config.IdleTimeout = DefaultRateLimitIdleTimeout
	}
	if config.CleanupInterval <= 0 {
		config.CleanupInterval = DefaultRateLimitCleanupInterval
	}
	if config.Clock == nil {
		config.Clock = time.Now
	}

	rl := &RateLimiter{
		entries:  make(map[string]*list.Element),
		lru:      list.New(),
		limit:    rate.Limit(config.RequestsPerSecond),
		burst:    config.Burst,
		max:      config.MaxEntries,
		idle:     config.IdleTimeout,
		interval: config.CleanupInterval,
		clock:    config.Clock,
		logger:   logger,
		stop:     make(chan struct{}),
	}

	go rl.cleanupLoop()

	return rl
}

// Allow reports whether a request for key may proceed now.
func (rl *RateLimiter) Allow(key string) bool {
	now := rl.clock()

	rl.mu.Lock()
	defer rl.mu.Unlock()

	if elem, ok := rl.entries[key]; ok {
		rl.lru.MoveToFront(elem)
		entry := elem.Value.(*limiterEntry)
		entry.lastAccess = now
		return entry.limiter.AllowN(now, 1)
	}

	if rl.max > 0 && len(rl.entries) >= rl.max {
		rl.evictOldest()
	}

	entry := &limiterEntry{
		key:        key,
		limiter:    rate.NewLimiter(rl.limit, rl.burst),
		lastAccess: now,
	}
	rl.entries[key] = rl.lru.PushFront(entry)

	return entry.limiter.AllowN(now, 1)
}

// evictOldest drops the least recently used key. Caller holds mu.
func (rl *RateLimiter) evictOldest() {
	elem := rl.lru.Back()
	if elem == nil {
		return
	}
	entry := elem.Value.(*limiterEntry)
	delete(rl.entries, entry.key)
	rl.lru.Remove(elem)
	rl.evictions++

	rl.logger.Debug("Rate limiter evicted key",
		"total_evictions", rl.evictions,
		"current_entries", len(rl.entries))
}

func (rl *RateLimiter) cleanupLoop() {
	ticker := time.NewTicker(rl.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			rl.Cleanup()
		case <-rl.stop:
			return
		}
	}
}

// Cleanup removes keys idle for longer than the configured idle timeout and
// returns how many were removed.
func (rl *RateLimiter) Cleanup() int {
	now := rl.clock()

	rl.mu.Lock()
	defer rl.mu.Unlock()

	removed := 0
	// The list is ordered by recency, so idle entries sit at the back.
	for elem := rl.lru.Back(); elem != nil; {
		entry := elem.Value.(*limiterEntry)
		if now.Sub(entry.lastAccess) <= rl.idle {
			break
		}
		prev := elem.Prev()
		delete(rl.entries, entry.key)
		rl.lru.Remove(elem)
		removed++
		elem = prev
	}

	if removed > 0 {
		rl.logger.Debug("Rate limiter cleanup completed",
			"removed", removed,
			"remaining", len(rl.entries))
	}
	return removed
}

// Stop terminates the cleanup goroutine. It is safe to call more than once.
func (rl *RateLimiter) Stop() {
	rl.stopOnce.Do(func() { close(rl.stop) })
}

// RateLimiterStats is a point-in-time view of the limiter
type RateLimiterStats struct {
	CurrentEntries int
	MaxEntries     int
	TotalEvictions int64
}

// Stats returns the current limiter statistics.
func (rl *RateLimiter) Stats() RateLimiterStats {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	return RateLimiterStats{
		CurrentEntries: len(rl.entries),
		MaxEntries:     rl.max,
		TotalEvictions: rl.evictions,
	}
}
