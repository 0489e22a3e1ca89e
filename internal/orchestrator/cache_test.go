package orchestrator

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/confab/confab/internal/common/logger"
	"github.com/confab/confab/internal/discussion/models"
	"github.com/confab/confab/internal/discussion/repository"
)

func storeDiscussion(t *testing.T, repo repository.Repository, id string) *models.Discussion {
	t.Helper()
	now := time.Now().UTC()
	d := &models.Discussion{
		ID:        id,
		Title:     "cached",
		Status:    models.StatusActive,
		Strategy:  models.StrategyConfig{Kind: models.StrategyRoundRobin},
		Settings:  models.DefaultSettings(),
		State:     models.RuntimeState{LastActivityAt: now},
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := repo.CreateDiscussion(context.Background(), d); err != nil {
		t.Fatalf("CreateDiscussion: %v", err)
	}
	return d
}

func TestCacheGetLoadsAndClones(t *testing.T) {
	repo := repository.NewMemoryRepository()
	defer repo.Close()
	c := NewCache(repo, time.Hour, time.Hour, nil, logger.Default())

	storeDiscussion(t, repo, "d1")

	first, err := c.Get(context.Background(), "d1", false)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	// Mutating the returned copy must not leak into the cache.
	first.Title = "mutated"

	second, err := c.Get(context.Background(), "d1", false)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if second.Title != "cached" {
		t.Fatalf("cache handed out shared state: %q", second.Title)
	}

	if _, err := c.Get(context.Background(), "missing", false); !errors.Is(err, repository.ErrDiscussionNotFound) {
		t.Fatalf("expected not-found, got %v", err)
	}
}

func TestCacheTTLEviction(t *testing.T) {
	repo := repository.NewMemoryRepository()
	defer repo.Close()

	var mu sync.Mutex
	var evicted []string
	c := NewCache(repo, 30*time.Millisecond, time.Hour, func(id string) {
		mu.Lock()
		evicted = append(evicted, id)
		mu.Unlock()
	}, logger.Default())

	storeDiscussion(t, repo, "d1")
	if _, err := c.Get(context.Background(), "d1", false); err != nil {
		t.Fatalf("Get: %v", err)
	}
	if c.Len() != 1 {
		t.Fatalf("expected 1 cached entry, got %d", c.Len())
	}

	time.Sleep(50 * time.Millisecond)
	if n := c.Evict(); n != 1 {
		t.Fatalf("expected 1 eviction, got %d", n)
	}

	mu.Lock()
	if len(evicted) != 1 || evicted[0] != "d1" {
		t.Fatalf("eviction hook not invoked: %v", evicted)
	}
	mu.Unlock()

	// A later read repopulates from the store with the same state.
	reloaded, err := c.Get(context.Background(), "d1", false)
	if err != nil {
		t.Fatalf("Get after eviction: %v", err)
	}
	if reloaded.Title != "cached" {
		t.Fatalf("unexpected state after repopulation: %q", reloaded.Title)
	}
	if c.Len() != 1 {
		t.Fatalf("expected repopulated cache, got %d entries", c.Len())
	}
}

func TestCacheForceRefresh(t *testing.T) {
	repo := repository.NewMemoryRepository()
	defer repo.Close()
	c := NewCache(repo, time.Hour, time.Hour, nil, logger.Default())

	d := storeDiscussion(t, repo, "d1")
	if _, err := c.Get(context.Background(), "d1", false); err != nil {
		t.Fatalf("Get: %v", err)
	}

	// The store moves on behind the cache's back.
	d.Title = "updated"
	if err := repo.UpdateDiscussion(context.Background(), d); err != nil {
		t.Fatalf("UpdateDiscussion: %v", err)
	}

	stale, err := c.Get(context.Background(), "d1", false)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if stale.Title != "cached" {
		t.Fatalf("expected cached value, got %q", stale.Title)
	}

	fresh, err := c.Get(context.Background(), "d1", true)
	if err != nil {
		t.Fatalf("Get force: %v", err)
	}
	if fresh.Title != "updated" {
		t.Fatalf("force refresh must hit the store, got %q", fresh.Title)
	}
}
