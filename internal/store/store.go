// Package store is the capability surface over the shared key-value store.
// Every mutation that other handlers may race on is a single atomic store
// operation; nothing here holds state across calls.
package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned by reads of absent or expired keys.
var ErrNotFound = errors.New("store: not found")

// QueueItem is one member of a scored queue.
type QueueItem struct {
	Member  string
	Score   float64
	Payload string
}

// QueueCursor is the position of the last item a scan returned. Items are
// ordered by score, then by member bytes.
type QueueCursor struct {
	Score  float64
	Member string
}

// precedes reports whether the item at (score, member) comes after c.
func (c *QueueCursor) precedes(score float64, member string) bool {
	if c == nil {
		return true
	}
	return score > c.Score || (score == c.Score && member > c.Member)
}

type Store interface {
	// HGet returns the value stored under field of the keyed table.
	HGet(ctx context.Context, table, field string) (string, error)
	HSet(ctx context.Context, table, field, value string) error
	// HDel reports whether this call removed the field.
	HDel(ctx context.Context, table, field string) (bool, error)

	Get(ctx context.Context, key string) (string, error)
	// Set stores value under key. A zero ttl means no expiry.
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	// SetNX stores value only if key is absent and reports whether it did.
	SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error)
	// SetXX overwrites value only if key is live and reports whether it did.
	SetXX(ctx context.Context, key, value string, ttl time.Duration) (bool, error)
	Del(ctx context.Context, key string) (bool, error)
	Exists(ctx context.Context, key string) (bool, error)

	// IncrFields applies all deltas to the numeric fields of key in one
	// atomic step and returns the resulting values of those fields.
	IncrFields(ctx context.Context, key string, deltas map[string]float64) (map[string]float64, error)
	// GetFields returns every numeric field of key, or an empty map.
	GetFields(ctx context.Context, key string) (map[string]float64, error)

	// QueuePut inserts or replaces member in queue.
	QueuePut(ctx context.Context, queue string, item QueueItem) error
	// QueueRemove atomically removes member. Exactly one of several
	// concurrent callers observes true.
	QueueRemove(ctx context.Context, queue, member string) (bool, error)
	// QueueScan returns up to limit items that come after the cursor, by
	// ascending score. A nil cursor starts at the head. The returned cursor
	// continues the scan and is nil once the end was reached; a non-nil one
	// may still lead to an empty page. A limit of zero or less returns every
	// remaining item.
	QueueScan(ctx context.Context, queue string, after *QueueCursor, limit int) ([]QueueItem, *QueueCursor, error)
	QueueLen(ctx context.Context, queue string) (int64, error)

	Ping(ctx context.Context) error
}
