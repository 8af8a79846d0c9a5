// Package storagetest wraps a storage.Store with call accounting for tests.
package storagetest

import (
	"context"
	"sync"

	"aocbot/internal/storage"
)

// Counting records the calls that pass through it. ClaimHook, when set, runs
// before AttemptClaim reaches the wrapped store; returning a non-zero result
// short-circuits the call with that result.
type Counting struct {
	storage.Store

	mu         sync.Mutex
	BatchSizes []int
	Gets       int
	Puts       int
	Claims     int
	Deletes    int
	Queries    int

	ClaimHook func(item storage.Item) (storage.ClaimResult, error)
}

func Wrap(st storage.Store) *Counting { return &Counting{Store: st} }

func (c *Counting) Get(ctx context.Context, key storage.Key) (storage.Item, bool, error) {
	c.mu.Lock()
	c.Gets++
	c.mu.Unlock()
	return c.Store.Get(ctx, key)
}

func (c *Counting) BatchGet(ctx context.Context, keys []storage.Key) (map[storage.Key]storage.Item, error) {
	c.mu.Lock()
	c.BatchSizes = append(c.BatchSizes, len(keys))
	c.mu.Unlock()
	return c.Store.BatchGet(ctx, keys)
}

func (c *Counting) Put(ctx context.Context, item storage.Item) error {
	c.mu.Lock()
	c.Puts++
	c.mu.Unlock()
	return c.Store.Put(ctx, item)
}

func (c *Counting) AttemptClaim(ctx context.Context, item storage.Item, cond storage.Condition) (storage.ClaimResult, error) {
	c.mu.Lock()
	c.Claims++
	hook := c.ClaimHook
	c.mu.Unlock()
	if hook != nil {
		if res, err := hook(item); res != 0 || err != nil {
			return res, err
		}
	}
	return c.Store.AttemptClaim(ctx, item, cond)
}

func (c *Counting) Query(ctx context.Context, in storage.QueryInput) (storage.Page, error) {
	c.mu.Lock()
	c.Queries++
	c.mu.Unlock()
	return c.Store.Query(ctx, in)
}

func (c *Counting) Delete(ctx context.Context, key storage.Key) error {
	c.mu.Lock()
	c.Deletes++
	c.mu.Unlock()
	return c.Store.Delete(ctx, key)
}

// Writes is the number of mutating calls.
func (c *Counting) Writes() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.Puts + c.Claims + c.Deletes
}

// Reset zeroes every counter.
func (c *Counting) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.BatchSizes = nil
	c.Gets, c.Puts, c.Claims, c.Deletes, c.Queries = 0, 0, 0, 0, 0
}

func (c *Counting) Batches() []int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]int(nil), c.BatchSizes...)
}
