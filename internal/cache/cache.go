// Package cache implements the content-addressed response cache that sits
// beneath the provider router. Entries are keyed by the sha256 of the
// logical key, bounded by TTL and a cumulative size budget, and reaped by a
// background sweeper owned by the cache's own lifecycle.
package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Persister is the optional blob store entries are written through to.
// Implementations must tolerate concurrent calls.
type Persister interface {
	PutBlob(key string, value []byte, ttl time.Duration) error
	DeleteBlob(key string) error
}

// Entry is one cached response. Timestamp is the insertion time; TTL of zero
// means the entry never expires.
type Entry struct {
	Key          string // original logical key, kept for diagnostics
	Value        []byte
	Timestamp    time.Time
	TTL          time.Duration
	Size         int
	AccessCount  int64
	LastAccessed time.Time
}

func (e *Entry) expired(now time.Time) bool {
	return e.TTL > 0 && now.Sub(e.Timestamp) > e.TTL
}

// Stats is a point-in-time view of cache effectiveness.
type Stats struct {
	TotalEntries int       `json:"total_entries"`
	TotalSize    int64     `json:"total_size"`
	Hits         int64     `json:"hits"`
	Misses       int64     `json:"misses"`
	HitRate      float64   `json:"hit_rate"`
	MissRate     float64   `json:"miss_rate"`
	OldestEntry  time.Time `json:"oldest_entry"`
	NewestEntry  time.Time `json:"newest_entry"`
}

// Config tunes the cache.
type Config struct {
	DefaultTTL    time.Duration // applied when Set is called with ttl<=0
	MaxSize       int64         // cumulative value bytes; 0 disables the budget
	SweepInterval time.Duration // background expiry sweep cadence
}

// DefaultConfig returns the defaults used when no config file overrides
// them: one hour TTL, 64 MiB budget, sweep every minute.
func DefaultConfig() Config {
	return Config{
		DefaultTTL:    time.Hour,
		MaxSize:       64 << 20,
		SweepInterval: time.Minute,
	}
}

// ResponseCache is safe for concurrent use. The index mutex serializes
// foreground get/set against the background sweep.
type ResponseCache struct {
	cfg    Config
	logger *zap.Logger

	mu        sync.Mutex
	entries   map[string]*Entry // hashed key -> entry
	totalSize int64
	hits      int64
	misses    int64

	now func() time.Time // injectable clock for tests

	persist Persister

	sweepStop chan struct{}
	sweepDone chan struct{}
}

// New creates a cache. The sweeper is not started until StartSweeper.
func New(cfg Config, logger *zap.Logger) *ResponseCache {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ResponseCache{
		cfg:     cfg,
		logger:  logger.Named("cache"),
		entries: make(map[string]*Entry),
		now:     time.Now,
	}
}

// WithPersister attaches a write-through blob store.
func (c *ResponseCache) WithPersister(p Persister) *ResponseCache {
	c.persist = p
	return c
}

// hashKey maps the logical key to a fixed-size storage key.
func hashKey(key string) string {
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:])
}

// Set stores value under key. ttl<=0 uses the configured default. If the
// size budget is exceeded the least recently accessed entries are evicted
// until the cache fits again.
func (c *ResponseCache) Set(key string, value []byte, ttl time.Duration) {
	if ttl <= 0 {
		ttl = c.cfg.DefaultTTL
	}
	hashed := hashKey(key)
	now := c.now()

	c.mu.Lock()
	if old, ok := c.entries[hashed]; ok {
		c.totalSize -= int64(old.Size)
	}
	entry := &Entry{
		Key:          key,
		Value:        value,
		Timestamp:    now,
		TTL:          ttl,
		Size:         len(value),
		LastAccessed: now,
	}
	c.entries[hashed] = entry
	c.totalSize += int64(entry.Size)
	c.evictOverBudgetLocked()
	c.mu.Unlock()

	if c.persist != nil {
		if err := c.persist.PutBlob(hashed, value, ttl); err != nil {
			c.logger.Warn("write-through failed", zap.String("key", hashed[:12]), zap.Error(err))
		}
	}
	c.logger.Debug("cached response",
		zap.String("key", hashed[:12]),
		zap.Int("size", entry.Size),
		zap.Duration("ttl", ttl))
}

// Get returns the value for key. Expired entries are deleted lazily and
// counted as misses; a hit bumps the access bookkeeping used by eviction.
func (c *ResponseCache) Get(key string) ([]byte, bool) {
	hashed := hashKey(key)
	now := c.now()

	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[hashed]
	if !ok {
		c.misses++
		return nil, false
	}
	if entry.expired(now) {
		c.removeLocked(hashed, entry)
		c.misses++
		return nil, false
	}
	entry.AccessCount++
	entry.LastAccessed = now
	c.hits++
	return entry.Value, true
}

// Has reports presence without touching access bookkeeping or hit counters.
func (c *ResponseCache) Has(key string) bool {
	hashed := hashKey(key)
	now := c.now()

	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.entries[hashed]
	if !ok {
		return false
	}
	if entry.expired(now) {
		c.removeLocked(hashed, entry)
		return false
	}
	return true
}

// Delete removes key if present.
func (c *ResponseCache) Delete(key string) {
	hashed := hashKey(key)
	c.mu.Lock()
	if entry, ok := c.entries[hashed]; ok {
		c.removeLocked(hashed, entry)
	}
	c.mu.Unlock()
}

// Clear drops every entry. Hit/miss counters are preserved.
func (c *ResponseCache) Clear() {
	c.mu.Lock()
	keys := make([]string, 0, len(c.entries))
	for k := range c.entries {
		keys = append(keys, k)
	}
	c.entries = make(map[string]*Entry)
	c.totalSize = 0
	c.mu.Unlock()

	if c.persist != nil {
		for _, k := range keys {
			_ = c.persist.DeleteBlob(k)
		}
	}
}

// Cleanup removes every TTL-expired entry and returns how many were
// removed. The sweeper calls this on its interval; callers may also invoke
// it directly.
func (c *ResponseCache) Cleanup() int {
	now := c.now()
	c.mu.Lock()
	removed := 0
	for hashed, entry := range c.entries {
		if entry.expired(now) {
			c.removeLocked(hashed, entry)
			removed++
		}
	}
	c.mu.Unlock()

	if removed > 0 {
		c.logger.Debug("sweep removed expired entries", zap.Int("removed", removed))
	}
	return removed
}

// GetStats returns a consistent snapshot of the cache counters.
func (c *ResponseCache) GetStats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()

	stats := Stats{
		TotalEntries: len(c.entries),
		TotalSize:    c.totalSize,
		Hits:         c.hits,
		Misses:       c.misses,
	}
	total := c.hits + c.misses
	if total > 0 {
		stats.HitRate = float64(c.hits) / float64(total)
		stats.MissRate = float64(c.misses) / float64(total)
	}
	for _, entry := range c.entries {
		if stats.OldestEntry.IsZero() || entry.Timestamp.Before(stats.OldestEntry) {
			stats.OldestEntry = entry.Timestamp
		}
		if entry.Timestamp.After(stats.NewestEntry) {
			stats.NewestEntry = entry.Timestamp
		}
	}
	return stats
}

// removeLocked deletes an entry from the index; the caller holds c.mu.
func (c *ResponseCache) removeLocked(hashed string, entry *Entry) {
	delete(c.entries, hashed)
	c.totalSize -= int64(entry.Size)
	if c.persist != nil {
		// Best effort; the blob store has its own TTL column.
		go func() { _ = c.persist.DeleteBlob(hashed) }()
	}
}

// evictOverBudgetLocked drops least-recently-accessed entries until the
// cumulative size fits the budget. Caller holds c.mu.
func (c *ResponseCache) evictOverBudgetLocked() {
	if c.cfg.MaxSize <= 0 {
		return
	}
	for c.totalSize > c.cfg.MaxSize && len(c.entries) > 0 {
		var victimKey string
		var victim *Entry
		for hashed, entry := range c.entries {
			if victim == nil || entry.LastAccessed.Before(victim.LastAccessed) {
				victimKey = hashed
				victim = entry
			}
		}
		c.removeLocked(victimKey, victim)
		c.logger.Debug("evicted over-budget entry",
			zap.String("key", victimKey[:12]),
			zap.Int("size", victim.Size))
	}
}
