package dataset

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/sync/semaphore"
)

// Persister durably stores a whole dataset. Save is a full replace.
type Persister interface {
	Save(d Dataset) error
}

// Cache is the in-memory mirror of the dataset file and the only writer of it.
//
// Mutations run one at a time: each takes the mutation token, computes the
// next dataset from the current one, persists it and only then publishes it.
// Readers take a snapshot and never observe a half-applied mutation.
type Cache struct {
	token *semaphore.Weighted
	store Persister

	mu   sync.RWMutex
	data Dataset
}

// NewCache returns a cache holding initial and persisting through store.
func NewCache(initial Dataset, store Persister) *Cache {
	return &Cache{
		token: semaphore.NewWeighted(1),
		store: store,
		data:  initial.Clone(),
	}
}

// Snapshot returns the current dataset. The returned slice is never modified
// by the cache; treat it as read-only.
func (c *Cache) Snapshot() Dataset {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.data
}

// Len returns the number of records currently held.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.data)
}

// Mutate runs fn inside the single-writer critical section. fn receives the
// current dataset and returns the next one, and whether it should be
// persisted. When persisting fails, the cache keeps the previous dataset.
// Waiting for the token honours ctx.
func (c *Cache) Mutate(ctx context.Context, fn func(cur Dataset) (next Dataset, changed bool, err error)) error {
	if err := c.token.Acquire(ctx, 1); err != nil {
		return fmt.Errorf("acquire dataset lock: %w", err)
	}
	defer c.token.Release(1)

	next, changed, err := fn(c.Snapshot())
	if err != nil {
		return err
	}
	if !changed {
		return nil
	}
	if c.store != nil {
		if err := c.store.Save(next); err != nil {
			return err
		}
	}
	c.mu.Lock()
	c.data = next
	c.mu.Unlock()
	return nil
}

// RemoveByAuthor drops the author's rows and persists the result. Nothing is
// written when no row matched.
func (c *Cache) RemoveByAuthor(ctx context.Context, author string) (int, error) {
	var removed, remaining int
	err := c.Mutate(ctx, func(cur Dataset) (Dataset, bool, error) {
		for _, r := range Malformed(cur) {
			slog.Warn("dataset: keeping malformed row during removal", "text", r.Text, "author", r.Author)
		}
		var next Dataset
		next, removed = RemoveByAuthor(cur, author)
		remaining = len(next)
		return next, removed > 0, nil
	})
	if err != nil {
		return 0, err
	}
	slog.Info("dataset: removed author", "author", author, "removed", removed, "remaining", remaining)
	return removed, nil
}

// Replace swaps in fresh as the whole dataset and persists it. It returns the
// new record count.
func (c *Cache) Replace(ctx context.Context, fresh Dataset) (int, error) {
	var n int
	err := c.Mutate(ctx, func(cur Dataset) (Dataset, bool, error) {
		next := Replace(cur, fresh)
		n = len(next)
		return next, true, nil
	})
	if err != nil {
		return 0, err
	}
	return n, nil
}
