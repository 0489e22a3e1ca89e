package orchestrator

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/confab/confab/internal/common/logger"
	"github.com/confab/confab/internal/discussion/models"
	"github.com/confab/confab/internal/discussion/repository"
)

// cacheEntry pairs a cached discussion with its last access time.
type cacheEntry struct {
	discussion *models.Discussion
	lastAccess time.Time
}

// Cache is the in-memory view of hot discussions with TTL eviction. It
// hands out clones so callers never share a pointer into the cache; the
// store stays authoritative across restarts. Eviction invokes onEvict with
// the discussion id so outstanding timers can be cancelled.
type Cache struct {
	repo    repository.Repository
	logger  *logger.Logger
	ttl     time.Duration
	sweep   time.Duration
	onEvict func(discussionID string)

	mu      sync.RWMutex
	entries map[string]*cacheEntry

	runMu   sync.Mutex
	running bool
	stopCh  chan struct{}
	wg      sync.WaitGroup
}

// NewCache creates a discussion cache. onEvict may be nil.
func NewCache(repo repository.Repository, ttl, sweep time.Duration, onEvict func(string), log *logger.Logger) *Cache {
	return &Cache{
		repo:    repo,
		logger:  log.WithFields(zap.String("component", "cache")),
		ttl:     ttl,
		sweep:   sweep,
		onEvict: onEvict,
		entries: make(map[string]*cacheEntry),
	}
}

// Start begins the periodic eviction sweep.
func (c *Cache) Start() {
	c.runMu.Lock()
	defer c.runMu.Unlock()
	if c.running {
		return
	}
	c.running = true
	c.stopCh = make(chan struct{})

	c.wg.Add(1)
	go c.sweepLoop()
}

// Stop halts the eviction sweep and waits for it to finish.
func (c *Cache) Stop() {
	c.runMu.Lock()
	if !c.running {
		c.runMu.Unlock()
		return
	}
	c.running = false
	close(c.stopCh)
	c.runMu.Unlock()
	c.wg.Wait()
}

// Get returns a clone of the cached discussion, loading from the store on
// a miss or when forceRefresh is set.
func (c *Cache) Get(ctx context.Context, id string, forceRefresh bool) (*models.Discussion, error) {
	if !forceRefresh {
		c.mu.Lock()
		if entry, ok := c.entries[id]; ok {
			entry.lastAccess = time.Now().UTC()
			d := entry.discussion.Clone()
			c.mu.Unlock()
			return d, nil
		}
		c.mu.Unlock()
	}

	discussion, err := c.repo.GetDiscussion(ctx, id)
	if err != nil {
		return nil, err
	}
	c.Put(discussion)
	return discussion.Clone(), nil
}

// Put stores a clone of the discussion, refreshing its access time.
func (c *Cache) Put(discussion *models.Discussion) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[discussion.ID] = &cacheEntry{
		discussion: discussion.Clone(),
		lastAccess: time.Now().UTC(),
	}
}

// Remove drops a discussion from the cache without invoking onEvict.
func (c *Cache) Remove(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, id)
}

// Len returns the number of cached discussions.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

func (c *Cache) sweepLoop() {
	defer c.wg.Done()

	ticker := time.NewTicker(c.sweep)
	defer ticker.Stop()

	for {
		select {
		case <-c.stopCh:
			return
		case <-ticker.C:
			c.Evict()
		}
	}
}

// Evict removes every entry idle longer than the TTL and runs the eviction
// hook for each. Returns the number of evicted entries.
func (c *Cache) Evict() int {
	cutoff := time.Now().UTC().Add(-c.ttl)

	c.mu.Lock()
	var evicted []string
	for id, entry := range c.entries {
		if entry.lastAccess.Before(cutoff) {
			delete(c.entries, id)
			evicted = append(evicted, id)
		}
	}
	c.mu.Unlock()

	for _, id := range evicted {
		if c.onEvict != nil {
			c.onEvict(id)
		}
		c.logger.Debug("discussion evicted from cache", zap.String("discussion_id", id))
	}
	return len(evicted)
}
