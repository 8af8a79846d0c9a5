package storage

import (
	"context"
	"sort"
	"strings"
	"sync"
)

// Memory is a process-local Store with the same conditional-write semantics as
// the sqlite driver. It is safe for concurrent use.
type Memory struct {
	mu     sync.Mutex
	items  map[Key]map[string]string
	batch  int
	closed bool
}

func NewMemory(batchSize int) *Memory {
	return &Memory{items: map[Key]map[string]string{}, batch: batchSizeOrDefault(batchSize)}
}

func (m *Memory) MaxBatch() int { return m.batch }

func (m *Memory) Get(ctx context.Context, key Key) (Item, bool, error) {
	if err := ctx.Err(); err != nil {
		return Item{}, false, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return Item{}, false, ErrClosed
	}
	attrs, ok := m.items[key]
	if !ok {
		return Item{}, false, nil
	}
	return Item{Key: key, Attrs: copyAttrs(attrs)}, true, nil
}

func (m *Memory) BatchGet(ctx context.Context, keys []Key) (map[Key]Item, error) {
	if len(keys) > m.batch {
		return nil, ErrBatchTooLarge
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, ErrClosed
	}
	out := make(map[Key]Item, len(keys))
	for _, k := range keys {
		if attrs, ok := m.items[k]; ok {
			out[k] = Item{Key: k, Attrs: copyAttrs(attrs)}
		}
	}
	return out, nil
}

func (m *Memory) Put(ctx context.Context, item Item) error {
	if !item.Key.valid() {
		return ErrInvalidKey
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	m.items[item.Key] = copyAttrs(item.Attrs)
	return nil
}

func (m *Memory) AttemptClaim(ctx context.Context, item Item, cond Condition) (ClaimResult, error) {
	if !item.Key.valid() {
		return 0, ErrInvalidKey
	}
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return 0, ErrClosed
	}
	var cur *Item
	if attrs, ok := m.items[item.Key]; ok {
		cur = &Item{Key: item.Key, Attrs: attrs}
	}
	if !cond.holds(cur) {
		return Conflict, nil
	}
	m.items[item.Key] = copyAttrs(item.Attrs)
	return Claimed, nil
}

func (m *Memory) Query(ctx context.Context, in QueryInput) (Page, error) {
	if err := ctx.Err(); err != nil {
		return Page{}, err
	}
	limit := in.Limit
	if limit <= 0 {
		limit = defaultQueryLimit
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return Page{}, ErrClosed
	}
	var sorts []string
	for k := range m.items {
		if k.Partition != in.Partition || !strings.HasPrefix(k.Sort, in.SortPrefix) {
			continue
		}
		if in.After != "" && k.Sort <= in.After {
			continue
		}
		sorts = append(sorts, k.Sort)
	}
	sort.Strings(sorts)

	var p Page
	for i, s := range sorts {
		if i == limit {
			p.Next = sorts[i-1]
			break
		}
		k := Key{Partition: in.Partition, Sort: s}
		p.Items = append(p.Items, Item{Key: k, Attrs: copyAttrs(m.items[k])})
	}
	return p, nil
}

func (m *Memory) Delete(ctx context.Context, key Key) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	delete(m.items, key)
	return nil
}

func (m *Memory) Close() error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	return nil
}

// Len returns the number of stored items.
func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.items)
}
