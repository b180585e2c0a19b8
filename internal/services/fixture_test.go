package services

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"vidmatch/internal/config"
	"vidmatch/internal/models"
	"vidmatch/internal/store"

	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// faultyStore fails selected operations of the wrapped store. Queue writes
// honour context cancellation the way network backends do.
type faultyStore struct {
	store.Store
	hgetErr error
	hsetErr error
	setErr  error
	// putRefused fails queue writes for these members
	putRefused map[string]bool
	// afterHDel runs once a match deletion succeeded
	afterHDel func()
}

func (f *faultyStore) HDel(ctx context.Context, table, field string) (bool, error) {
	ok, err := f.Store.HDel(ctx, table, field)
	if ok && f.afterHDel != nil {
		f.afterHDel()
	}
	return ok, err
}

func (f *faultyStore) QueuePut(ctx context.Context, queue string, item store.QueueItem) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if f.putRefused[item.Member] {
		return fmt.Errorf("queue write refused for %s", item.Member)
	}
	return f.Store.QueuePut(ctx, queue, item)
}

func (f *faultyStore) HGet(ctx context.Context, table, field string) (string, error) {
	if f.hgetErr != nil {
		return "", f.hgetErr
	}
	return f.Store.HGet(ctx, table, field)
}

func (f *faultyStore) HSet(ctx context.Context, table, field, value string) error {
	if f.hsetErr != nil {
		return f.hsetErr
	}
	return f.Store.HSet(ctx, table, field, value)
}

func (f *faultyStore) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	if f.setErr != nil {
		return f.setErr
	}
	return f.Store.Set(ctx, key, value, ttl)
}

type fixture struct {
	mem        *store.MemoryStore
	faults     *faultyStore
	clock      *fakeClock
	cfg        config.MatchingConfig
	queue      *QueueService
	cooldowns  *CooldownService
	matches    *ActiveMatches
	stats      *SkipStatsService
	leftBehind *LeftBehindService
	matching   *MatchingService
	lifecycle  *LifecycleService
}

func newFixture(t *testing.T) *fixture {
	return newFixtureWithConfig(t, config.DefaultMatchingConfig())
}

func newFixtureWithConfig(t *testing.T, cfg config.MatchingConfig) *fixture {
	t.Helper()

	clock := newFakeClock()
	mem := store.NewMemoryStore()
	mem.SetClock(clock.Now)
	st := &faultyStore{Store: mem}

	f := &fixture{mem: mem, faults: st, clock: clock, cfg: cfg}
	f.queue = NewQueueService(st)
	f.queue.now = clock.Now
	f.cooldowns = NewCooldownService(st)
	f.cooldowns.now = clock.Now
	f.matches = NewActiveMatches(st)
	f.stats = NewSkipStatsService(st, cfg.Stats.MaxPlausibleDuration)
	f.leftBehind = NewLeftBehindService(st, cfg.LeftBehindTTL, cfg.LeftBehindProcessedTTL)
	f.leftBehind.now = clock.Now

	var matchRooms, recoveryRooms int32
	f.matching = NewMatchingService(f.queue, f.cooldowns, f.matches, cfg.ScanPageSize)
	f.matching.now = clock.Now
	f.matching.roomName = func() string {
		return fmt.Sprintf("match-%d", atomic.AddInt32(&matchRooms, 1))
	}

	f.lifecycle = NewLifecycleService(LifecycleDeps{
		Store:      st,
		Queue:      f.queue,
		Matching:   f.matching,
		Matches:    f.matches,
		Cooldowns:  f.cooldowns,
		Stats:      f.stats,
		LeftBehind: f.leftBehind,
	}, cfg)
	f.lifecycle.now = clock.Now
	f.lifecycle.roomName = func() string {
		return fmt.Sprintf("recovery-%d", atomic.AddInt32(&recoveryRooms, 1))
	}
	return f
}

// pair stores an active match started at the current fake time.
func (f *fixture) pair(t *testing.T, room, user1, user2 string) {
	t.Helper()
	require.NoError(t, f.matches.Create(context.Background(), &models.ActiveMatch{
		RoomName:  room,
		User1:     user1,
		User2:     user2,
		MatchedAt: f.clock.Now(),
	}))
}

func (f *fixture) enqueue(t *testing.T, username string, priority models.PriorityState, room string) {
	t.Helper()
	_, err := f.queue.Enqueue(context.Background(), username, false, priority, room)
	require.NoError(t, err)
	// distinct enqueue times keep FIFO order observable
	f.clock.Advance(time.Millisecond)
}

// queued returns the waiting entries by username.
func (f *fixture) queued(t *testing.T) map[string]models.WaitingEntry {
	t.Helper()
	entries, _, err := f.queue.Scan(context.Background(), nil, 0)
	require.NoError(t, err)

	out := make(map[string]models.WaitingEntry, len(entries))
	for _, e := range entries {
		out[e.Username] = e
	}
	return out
}

func (f *fixture) hasMatch(t *testing.T, room string) bool {
	t.Helper()
	_, err := f.matches.Get(context.Background(), room)
	if err == store.ErrNotFound {
		return false
	}
	require.NoError(t, err)
	return true
}
