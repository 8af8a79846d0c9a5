package storage

import (
	"context"
	"errors"
	"time"
)

var (
	ErrBatchTooLarge = errors.New("storage: batch exceeds store limit")
	ErrClosed        = errors.New("storage: closed")
	ErrInvalidKey    = errors.New("storage: partition and sort key are required")
)

// DefaultBatchSize mirrors the common hosted KV limit for batched reads.
const DefaultBatchSize = 100

// Config configures storage.
//
// Driver values:
//   - "sqlite": SQLite database file (pure Go driver)
//   - "memory": process-local map, for tests and dry runs
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
	BatchSize   int           // max keys per BatchGet; 0 means DefaultBatchSize
}

type Key struct {
	Partition string
	Sort      string
}

func (k Key) valid() bool { return k.Partition != "" && k.Sort != "" }

type Item struct {
	Key   Key
	Attrs map[string]string
}

// Attr returns the attribute value and whether it is set and non-empty.
func (it Item) Attr(name string) (string, bool) {
	v, ok := it.Attrs[name]
	return v, ok && v != ""
}

type condKind int

const (
	condAbsent condKind = iota + 1
	condAttrAbsentOrNot
	condAttrEquals
)

// Condition guards AttemptClaim.
type Condition struct {
	kind  condKind
	attr  string
	value string
}

// Absent holds when no item exists under the key.
func Absent() Condition { return Condition{kind: condAbsent} }

// AttrAbsentOrNot holds when the item is missing, when attr is missing, or when
// attr differs from value.
func AttrAbsentOrNot(attr, value string) Condition {
	return Condition{kind: condAttrAbsentOrNot, attr: attr, value: value}
}

// AttrEquals holds when the item exists and attr equals value. A missing attr
// reads as the empty string.
func AttrEquals(attr, value string) Condition {
	return Condition{kind: condAttrEquals, attr: attr, value: value}
}

// holds evaluates the condition against the current item (cur is nil if absent).
func (c Condition) holds(cur *Item) bool {
	switch c.kind {
	case condAbsent:
		return cur == nil
	case condAttrAbsentOrNot:
		if cur == nil {
			return true
		}
		v, ok := cur.Attr(c.attr)
		return !ok || v != c.value
	case condAttrEquals:
		return cur != nil && cur.Attrs[c.attr] == c.value
	default:
		return false
	}
}

type ClaimResult int

const (
	Claimed ClaimResult = iota + 1
	Conflict
)

func (r ClaimResult) String() string {
	switch r {
	case Claimed:
		return "claimed"
	case Conflict:
		return "conflict"
	default:
		return "unknown"
	}
}

type QueryInput struct {
	Partition  string
	SortPrefix string
	After      string // opaque cursor from Page.Next
	Limit      int    // 0 means driver default
}

type Page struct {
	Items []Item
	Next  string // empty when exhausted
}

// Store is the persistence API used by the reconciliation core.
//
// Every error returned is an infrastructure fault except ErrBatchTooLarge and
// ErrInvalidKey, which are caller bugs. A lost AttemptClaim is reported as
// Conflict with a nil error.
type Store interface {
	Get(ctx context.Context, key Key) (Item, bool, error)
	BatchGet(ctx context.Context, keys []Key) (map[Key]Item, error)
	MaxBatch() int
	Put(ctx context.Context, item Item) error
	AttemptClaim(ctx context.Context, item Item, cond Condition) (ClaimResult, error)
	Query(ctx context.Context, in QueryInput) (Page, error)
	Delete(ctx context.Context, key Key) error
	Close() error
}

const defaultQueryLimit = 100

func batchSizeOrDefault(n int) int {
	if n <= 0 {
		return DefaultBatchSize
	}
	return n
}

func copyAttrs(in map[string]string) map[string]string {
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
