package services

import (
	"container/list"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/manthysbr/auleOS/internal/core/orchestration"
	"github.com/manthysbr/auleOS/internal/core/ports"
)

// CacheStrategy selects the Cache's backing store.
type CacheStrategy string

const (
	CacheStrategyNone   CacheStrategy = "none"
	CacheStrategyMemory CacheStrategy = "memory"
	CacheStrategyDisk   CacheStrategy = "disk"
	CacheStrategyHybrid CacheStrategy = "hybrid"
)

// CacheConfig configures a Cache instance, mirroring
// original_source/.../cache.py's CacheConfig dataclass.
type CacheConfig struct {
	Strategy            CacheStrategy
	MaxSize             int
	TTL                 time.Duration
	IncludeDependencies bool
}

// CacheStats reports operational counters.
type CacheStats struct {
	Hits          int64
	Misses        int64
	Evictions     int64
	Invalidations int64
	Size          int
	Strategy      CacheStrategy
	HitRate       float64
}

type cacheEntry struct {
	key       string
	output    orchestration.Output
	storedAt  time.Time
	ttl       time.Duration
	element   *list.Element
}

// Cache is a keyed store for prior task results, with memory / disk /
// hybrid strategies, TTL, and LRU eviction.
type Cache struct {
	mu     sync.Mutex
	logger *slog.Logger
	config CacheConfig
	backend ports.CacheStorage

	entries map[string]*cacheEntry
	order   *list.List // front = most recently used

	// secondary index: task id -> set of keys derived using that task id.
	// Avoids substring/truncated-hash matching against full keys, which
	// can both miss real matches and hit unrelated ones (see DESIGN.md).
	byTask map[string]map[string]bool

	stats CacheStats
}

// NewCache constructs a Cache. backend may be nil unless the strategy is
// disk or hybrid.
func NewCache(logger *slog.Logger, config CacheConfig, backend ports.CacheStorage) *Cache {
	if config.MaxSize <= 0 {
		config.MaxSize = 1000
	}
	return &Cache{
		logger:  logger,
		config:  config,
		backend: backend,
		entries: make(map[string]*cacheEntry),
		order:   list.New(),
		byTask:  make(map[string]map[string]bool),
		stats:   CacheStats{Strategy: config.Strategy},
	}
}

// canonicalValue recursively normalizes a value the way
// original_source/.../cache.py's CacheKey.generate canonicalizes
// parameters: mappings sorted by key (encoding/json already sorts map
// keys on marshal), values JSON-normalized.
func canonicalValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			out[k] = canonicalValue(val)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, val := range t {
			out[i] = canonicalValue(val)
		}
		return out
	default:
		return t
	}
}

// CacheKey derives the deterministic SHA-256 fingerprint for a task
// attempt: task id, description, sorted capabilities, sorted skills,
// canonicalized parameters, and — when IncludeDependencies is set — the
// dependency outputs in declared order.
func (c *Cache) CacheKey(task orchestration.Task, dependencyOutputs map[string]orchestration.Output) string {
	caps := make([]string, 0, len(task.RequiredCapabilities))
	for _, cap := range task.RequiredCapabilities {
		caps = append(caps, string(cap))
	}
	sort.Strings(caps)

	skills := append([]string(nil), task.RequiredSkills...)
	sort.Strings(skills)

	payload := map[string]any{
		"task_id":      task.ID,
		"description":  task.Description,
		"capabilities": caps,
		"skills":       skills,
		"parameters":   canonicalValue(task.Parameters),
	}

	if c.config.IncludeDependencies && len(task.DependsOn) > 0 {
		deps := make([]map[string]any, 0, len(task.DependsOn))
		for _, depID := range task.DependsOn {
			out := dependencyOutputs[depID]
			deps = append(deps, map[string]any{
				"task_id": depID,
				"output":  out,
			})
		}
		payload["dependencies"] = deps
	}

	encoded, _ := json.Marshal(payload)
	sum := sha256.Sum256(encoded)
	return hex.EncodeToString(sum[:])
}

// Get looks up a cache entry, returning a hit only when present, not
// past its TTL, and (for disk-backed lookups) passing an integrity check.
func (c *Cache) Get(taskID, key string) (orchestration.Output, bool) {
	if c.config.Strategy == CacheStrategyNone {
		return orchestration.Output{}, false
	}

	c.mu.Lock()
	entry, ok := c.entries[key]
	if ok {
		if c.expired(entry) {
			c.removeLocked(key)
			ok = false
		}
	}
	if ok {
		c.order.MoveToFront(entry.element)
		c.stats.Hits++
		out := entry.output
		c.mu.Unlock()
		return out, true
	}
	c.mu.Unlock()

	if c.config.Strategy == CacheStrategyDisk || c.config.Strategy == CacheStrategyHybrid {
		if out, ok := c.readDisk(key); ok {
			c.mu.Lock()
			c.stats.Hits++
			c.mu.Unlock()
			if c.config.Strategy == CacheStrategyHybrid {
				c.putMemory(taskID, key, out)
			}
			return out, true
		}
	}

	c.mu.Lock()
	c.stats.Misses++
	c.mu.Unlock()
	return orchestration.Output{}, false
}

func (c *Cache) expired(e *cacheEntry) bool {
	if e.ttl <= 0 {
		return false
	}
	return time.Since(e.storedAt) > e.ttl
}

func (c *Cache) readDisk(key string) (orchestration.Output, bool) {
	if c.backend == nil {
		return orchestration.Output{}, false
	}
	data, ok, err := c.backend.Read(key)
	if err != nil || !ok {
		return orchestration.Output{}, false
	}
	var out orchestration.Output
	if err := json.Unmarshal(data, &out); err != nil {
		return orchestration.Output{}, false
	}
	return out, true
}

// Put stores output under key, evicting LRU entries to stay at or below
// MaxSize, and records the key against taskID in the secondary index.
func (c *Cache) Put(taskID, key string, output orchestration.Output) {
	if c.config.Strategy == CacheStrategyNone {
		return
	}

	if c.config.Strategy == CacheStrategyMemory || c.config.Strategy == CacheStrategyHybrid {
		c.putMemory(taskID, key, output)
	}

	if c.config.Strategy == CacheStrategyDisk || c.config.Strategy == CacheStrategyHybrid {
		c.writeDisk(taskID, key, output)
	}
}

func (c *Cache) putMemory(taskID, key string, output orchestration.Output) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if existing, ok := c.entries[key]; ok {
		existing.output = output
		existing.storedAt = time.Now()
		c.order.MoveToFront(existing.element)
		return
	}

	entry := &cacheEntry{key: key, output: output, storedAt: time.Now(), ttl: c.config.TTL}
	entry.element = c.order.PushFront(entry.key)
	c.entries[key] = entry
	c.indexLocked(taskID, key)

	for len(c.entries) > c.config.MaxSize {
		c.evictLRULocked()
	}
}

func (c *Cache) writeDisk(taskID, key string, output orchestration.Output) {
	if c.backend == nil {
		return
	}
	data, err := json.Marshal(output)
	if err != nil {
		c.logger.Warn("cache: failed to marshal output for disk write", "key", key, "error", err)
		return
	}
	if err := c.backend.Write(key, data, c.config.TTL); err != nil {
		c.logger.Warn("cache: disk write failed", "key", key, "error", err)
		return
	}
	c.mu.Lock()
	c.indexLocked(taskID, key)
	c.mu.Unlock()
}

func (c *Cache) indexLocked(taskID, key string) {
	set, ok := c.byTask[taskID]
	if !ok {
		set = make(map[string]bool)
		c.byTask[taskID] = set
	}
	set[key] = true
}

func (c *Cache) evictLRULocked() {
	back := c.order.Back()
	if back == nil {
		return
	}
	key := back.Value.(string)
	c.order.Remove(back)
	delete(c.entries, key)
	c.stats.Evictions++
}

func (c *Cache) removeLocked(key string) {
	if entry, ok := c.entries[key]; ok {
		c.order.Remove(entry.element)
		delete(c.entries, key)
	}
}

// Invalidate removes every entry whose key was derived using taskID,
// using the secondary index rather than substring matching against full
// hash keys (see DESIGN.md).
func (c *Cache) Invalidate(taskID string) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	keys := c.byTask[taskID]
	count := 0
	for key := range keys {
		if _, ok := c.entries[key]; ok {
			c.removeLocked(key)
			count++
		}
		if c.backend != nil {
			_ = c.backend.Delete(key)
		}
	}
	delete(c.byTask, taskID)
	c.stats.Invalidations += int64(count)
	return count
}

// Clear empties the cache entirely.
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]*cacheEntry)
	c.order = list.New()
	c.byTask = make(map[string]map[string]bool)
	if c.backend != nil {
		if keys, err := c.backend.ListKeys(); err == nil {
			for _, k := range keys {
				_ = c.backend.Delete(k)
			}
		}
	}
}

// Stats returns a snapshot of cache statistics including the derived hit rate.
func (c *Cache) Stats() CacheStats {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := c.stats
	s.Size = len(c.entries)
	total := s.Hits + s.Misses
	if total > 0 {
		s.HitRate = float64(s.Hits) / float64(total)
	}
	return s
}
