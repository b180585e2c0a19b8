package store

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// harness builds a fresh store and a way to move its clock forward.
type harness func(t *testing.T) (Store, func(time.Duration))

func runStoreSuite(t *testing.T, newStore harness) {
	t.Run("table", func(t *testing.T) {
		st, _ := newStore(t)
		ctx := context.Background()

		_, err := st.HGet(ctx, "matches", "r1")
		require.ErrorIs(t, err, ErrNotFound)

		require.NoError(t, st.HSet(ctx, "matches", "r1", "a"))
		require.NoError(t, st.HSet(ctx, "matches", "r1", "b"))
		v, err := st.HGet(ctx, "matches", "r1")
		require.NoError(t, err)
		assert.Equal(t, "b", v)

		removed, err := st.HDel(ctx, "matches", "r1")
		require.NoError(t, err)
		assert.True(t, removed)

		removed, err = st.HDel(ctx, "matches", "r1")
		require.NoError(t, err)
		assert.False(t, removed)
	})

	t.Run("values expire", func(t *testing.T) {
		st, advance := newStore(t)
		ctx := context.Background()

		require.NoError(t, st.Set(ctx, "short", "1", time.Minute))
		require.NoError(t, st.Set(ctx, "forever", "2", 0))

		ok, err := st.Exists(ctx, "short")
		require.NoError(t, err)
		assert.True(t, ok)

		advance(2 * time.Minute)

		_, err = st.Get(ctx, "short")
		assert.ErrorIs(t, err, ErrNotFound)
		ok, err = st.Exists(ctx, "short")
		require.NoError(t, err)
		assert.False(t, ok)

		v, err := st.Get(ctx, "forever")
		require.NoError(t, err)
		assert.Equal(t, "2", v)

		deleted, err := st.Del(ctx, "forever")
		require.NoError(t, err)
		assert.True(t, deleted)
		deleted, err = st.Del(ctx, "forever")
		require.NoError(t, err)
		assert.False(t, deleted)
	})

	t.Run("setnx", func(t *testing.T) {
		st, advance := newStore(t)
		ctx := context.Background()

		ok, err := st.SetNX(ctx, "lock", "a", time.Minute)
		require.NoError(t, err)
		assert.True(t, ok)

		ok, err = st.SetNX(ctx, "lock", "b", time.Minute)
		require.NoError(t, err)
		assert.False(t, ok)

		advance(2 * time.Minute)

		ok, err = st.SetNX(ctx, "lock", "c", time.Minute)
		require.NoError(t, err)
		assert.True(t, ok)
		v, err := st.Get(ctx, "lock")
		require.NoError(t, err)
		assert.Equal(t, "c", v)
	})

	t.Run("setxx", func(t *testing.T) {
		st, advance := newStore(t)
		ctx := context.Background()

		ok, err := st.SetXX(ctx, "state", "a", time.Minute)
		require.NoError(t, err)
		assert.False(t, ok)
		_, err = st.Get(ctx, "state")
		assert.ErrorIs(t, err, ErrNotFound)

		require.NoError(t, st.Set(ctx, "state", "a", time.Minute))
		ok, err = st.SetXX(ctx, "state", "b", time.Minute)
		require.NoError(t, err)
		assert.True(t, ok)
		v, err := st.Get(ctx, "state")
		require.NoError(t, err)
		assert.Equal(t, "b", v)

		advance(2 * time.Minute)

		ok, err = st.SetXX(ctx, "state", "c", time.Minute)
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("counters", func(t *testing.T) {
		st, _ := newStore(t)
		ctx := context.Background()

		fields, err := st.GetFields(ctx, "stats:alice")
		require.NoError(t, err)
		assert.Empty(t, fields)

		_, err = st.IncrFields(ctx, "stats:alice", map[string]float64{"n": 1, "total": 1500})
		require.NoError(t, err)
		out, err := st.IncrFields(ctx, "stats:alice", map[string]float64{"n": 1, "total": 2500.5})
		require.NoError(t, err)
		assert.InDelta(t, 2, out["n"], 1e-9)
		assert.InDelta(t, 4000.5, out["total"], 1e-9)

		fields, err = st.GetFields(ctx, "stats:alice")
		require.NoError(t, err)
		assert.InDelta(t, 2, fields["n"], 1e-9)
		assert.InDelta(t, 4000.5, fields["total"], 1e-9)
	})

	t.Run("concurrent increments are not lost", func(t *testing.T) {
		st, _ := newStore(t)
		ctx := context.Background()

		var wg sync.WaitGroup
		for i := 0; i < 20; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, err := st.IncrFields(ctx, "stats:bob", map[string]float64{"n": 1, "total": 10})
				assert.NoError(t, err)
			}()
		}
		wg.Wait()

		fields, err := st.GetFields(ctx, "stats:bob")
		require.NoError(t, err)
		assert.InDelta(t, 20, fields["n"], 1e-9)
		assert.InDelta(t, 200, fields["total"], 1e-9)
	})

	t.Run("queue order and replace", func(t *testing.T) {
		st, _ := newStore(t)
		ctx := context.Background()

		require.NoError(t, st.QueuePut(ctx, "q", QueueItem{Member: "carol", Score: 30, Payload: "c"}))
		require.NoError(t, st.QueuePut(ctx, "q", QueueItem{Member: "alice", Score: 10, Payload: "a"}))
		require.NoError(t, st.QueuePut(ctx, "q", QueueItem{Member: "bob", Score: 20, Payload: "b"}))
		// replacing moves alice behind carol
		require.NoError(t, st.QueuePut(ctx, "q", QueueItem{Member: "alice", Score: 40, Payload: "a2"}))

		n, err := st.QueueLen(ctx, "q")
		require.NoError(t, err)
		assert.Equal(t, int64(3), n)

		items, _, err := st.QueueScan(ctx, "q", nil, 0)
		require.NoError(t, err)
		require.Len(t, items, 3)
		assert.Equal(t, []string{"bob", "carol", "alice"}, members(items))
		assert.Equal(t, "a2", items[2].Payload)

		items, next, err := st.QueueScan(ctx, "q", nil, 2)
		require.NoError(t, err)
		assert.Equal(t, []string{"bob", "carol"}, members(items))
		require.NotNil(t, next)

		items, next, err = st.QueueScan(ctx, "q", next, 2)
		require.NoError(t, err)
		assert.Equal(t, []string{"alice"}, members(items))
		assert.Nil(t, next)
	})

	t.Run("queue scan pages through equal scores", func(t *testing.T) {
		st, _ := newStore(t)
		ctx := context.Background()

		for _, m := range []string{"zed", "amy", "kim"} {
			require.NoError(t, st.QueuePut(ctx, "q", QueueItem{Member: m, Score: 5, Payload: m}))
		}
		require.NoError(t, st.QueuePut(ctx, "q", QueueItem{Member: "bea", Score: 9, Payload: "b"}))

		assert.Equal(t, []string{"amy", "kim", "zed", "bea"}, scanAll(t, st, 1))
		assert.Equal(t, []string{"amy", "kim", "zed", "bea"}, scanAll(t, st, 3))
	})

	t.Run("queue remove has one winner", func(t *testing.T) {
		st, _ := newStore(t)
		ctx := context.Background()

		require.NoError(t, st.QueuePut(ctx, "q", QueueItem{Member: "carol", Score: 1, Payload: "c"}))

		var wins int32
		var wg sync.WaitGroup
		for i := 0; i < 10; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				ok, err := st.QueueRemove(ctx, "q", "carol")
				assert.NoError(t, err)
				if ok {
					atomic.AddInt32(&wins, 1)
				}
			}()
		}
		wg.Wait()

		assert.Equal(t, int32(1), wins)
		items, _, err := st.QueueScan(ctx, "q", nil, 0)
		require.NoError(t, err)
		assert.Empty(t, items)
	})

	t.Run("ping", func(t *testing.T) {
		st, _ := newStore(t)
		assert.NoError(t, st.Ping(context.Background()))
	})
}

// scanAll follows the scan cursor to the end of queue q.
func scanAll(t *testing.T, st Store, pageSize int) []string {
	t.Helper()

	var out []string
	var after *QueueCursor
	for i := 0; ; i++ {
		require.Less(t, i, 100, "scan did not terminate")
		items, next, err := st.QueueScan(context.Background(), "q", after, pageSize)
		require.NoError(t, err)
		out = append(out, members(items)...)
		if next == nil {
			return out
		}
		after = next
	}
}

func members(items []QueueItem) []string {
	out := make([]string, len(items))
	for i, it := range items {
		out[i] = it.Member
	}
	return out
}

func TestMemoryStore(t *testing.T) {
	runStoreSuite(t, func(t *testing.T) (Store, func(time.Duration)) {
		var mu sync.Mutex
		now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

		st := NewMemoryStore()
		st.SetClock(func() time.Time {
			mu.Lock()
			defer mu.Unlock()
			return now
		})
		return st, func(d time.Duration) {
			mu.Lock()
			defer mu.Unlock()
			now = now.Add(d)
		}
	})
}

func TestMemoryStoreQueueTieBreak(t *testing.T) {
	st := NewMemoryStore()
	ctx := context.Background()

	for _, m := range []string{"zed", "amy", "kim"} {
		require.NoError(t, st.QueuePut(ctx, "q", QueueItem{Member: m, Score: 5, Payload: m}))
	}

	items, _, err := st.QueueScan(ctx, "q", nil, 0)
	require.NoError(t, err)
	assert.Equal(t, []string{"amy", "kim", "zed"}, members(items))
}

func ExampleMemoryStore() {
	st := NewMemoryStore()
	ctx := context.Background()

	_ = st.QueuePut(ctx, "q", QueueItem{Member: "alice", Score: 1})
	first, _ := st.QueueRemove(ctx, "q", "alice")
	second, _ := st.QueueRemove(ctx, "q", "alice")
	fmt.Println(first, second)
	// Output: true false
}
