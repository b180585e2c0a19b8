package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"vidmatch/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFindMatchNoCandidates(t *testing.T) {
	f := newFixture(t)

	res, err := f.matching.FindMatch(context.Background(), MatchRequest{Username: "alice"})
	require.NoError(t, err)
	assert.False(t, res.Matched)
}

func TestFindMatchPrefersRecoveryTierThenOldest(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.enqueue(t, "w1", models.PriorityWaiting, "")
	f.enqueue(t, "c1", models.PriorityInCall, "recovery-room")
	f.enqueue(t, "w2", models.PriorityWaiting, "")

	res, err := f.matching.FindMatch(ctx, MatchRequest{Username: "alice"})
	require.NoError(t, err)
	require.True(t, res.Matched)
	assert.Equal(t, "c1", res.MatchedWith)
	assert.Equal(t, "recovery-room", res.RoomName)

	res, err = f.matching.FindMatch(ctx, MatchRequest{Username: "dave"})
	require.NoError(t, err)
	require.True(t, res.Matched)
	assert.Equal(t, "w1", res.MatchedWith)
	assert.Equal(t, "match-1", res.RoomName)
}

func TestFindMatchCreatesActiveMatch(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.enqueue(t, "alice", models.PriorityWaiting, "")
	f.enqueue(t, "bob", models.PriorityWaiting, "")

	res, err := f.matching.FindMatch(ctx, MatchRequest{Username: "alice"})
	require.NoError(t, err)
	require.True(t, res.Matched)
	assert.Equal(t, "bob", res.MatchedWith)

	match, err := f.matches.Get(ctx, res.RoomName)
	require.NoError(t, err)
	assert.Equal(t, "alice", match.User1)
	assert.Equal(t, "bob", match.User2)
	assert.True(t, match.MatchedAt.Equal(f.clock.Now()))

	// neither side is still waiting
	assert.Empty(t, f.queued(t))
}

func TestFindMatchFilters(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.queue.Enqueue(ctx, "demo-user", true, models.PriorityWaiting, "")
	require.NoError(t, err)
	f.enqueue(t, "alice", models.PriorityWaiting, "")
	f.enqueue(t, "bob", models.PriorityWaiting, "")
	f.enqueue(t, "carol", models.PriorityWaiting, "")
	require.NoError(t, f.cooldowns.Record(ctx, "alice", "carol", 5*time.Minute))

	res, err := f.matching.FindMatch(ctx, MatchRequest{Username: "alice", Exclude: "bob"})
	require.NoError(t, err)
	assert.False(t, res.Matched)

	// untouched candidates keep their places
	queued := f.queued(t)
	assert.Contains(t, queued, "demo-user")
	assert.Contains(t, queued, "bob")
	assert.Contains(t, queued, "carol")
	assert.Contains(t, queued, "alice")
}

func TestFindMatchDemoPool(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.enqueue(t, "regular", models.PriorityWaiting, "")
	_, err := f.queue.Enqueue(ctx, "demo-user", true, models.PriorityWaiting, "")
	require.NoError(t, err)

	res, err := f.matching.FindMatch(ctx, MatchRequest{Username: "alice", UseDemo: true})
	require.NoError(t, err)
	require.True(t, res.Matched)
	assert.Equal(t, "demo-user", res.MatchedWith)
}

func TestFindMatchUsesRoomHint(t *testing.T) {
	f := newFixture(t)

	f.enqueue(t, "carol", models.PriorityWaiting, "")

	res, err := f.matching.FindMatch(context.Background(), MatchRequest{Username: "bob", RoomHint: "hinted"})
	require.NoError(t, err)
	require.True(t, res.Matched)
	assert.Equal(t, "hinted", res.RoomName)
}

func TestFindMatchConcurrentRequestersNeverShareCandidate(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	const candidates = 3
	for i := 0; i < candidates; i++ {
		f.enqueue(t, fmt.Sprintf("cand-%d", i), models.PriorityWaiting, "")
	}

	const requesters = 8
	results := make([]*models.MatchResult, requesters)
	var wg sync.WaitGroup
	for i := 0; i < requesters; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			res, err := f.matching.FindMatch(ctx, MatchRequest{Username: fmt.Sprintf("req-%d", i)})
			assert.NoError(t, err)
			results[i] = res
		}(i)
	}
	wg.Wait()

	seen := map[string]bool{}
	matched := 0
	for _, res := range results {
		require.NotNil(t, res)
		if !res.Matched {
			continue
		}
		matched++
		assert.False(t, seen[res.MatchedWith], "candidate %s matched twice", res.MatchedWith)
		seen[res.MatchedWith] = true
	}
	assert.Equal(t, candidates, matched)
	assert.Empty(t, f.queued(t))
}

func TestFindMatchRestoresCandidateWhenMatchWriteFails(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.enqueue(t, "carol", models.PriorityInCall, "room-carol")
	before := f.queued(t)["carol"]

	f.faults.hsetErr = errors.New("store down")
	_, err := f.matching.FindMatch(ctx, MatchRequest{Username: "alice"})
	require.Error(t, err)

	after, ok := f.queued(t)["carol"]
	require.True(t, ok)
	assert.True(t, before.EnqueuedAt.Equal(after.EnqueuedAt))
	assert.Equal(t, models.PriorityInCall, after.State)
	assert.Equal(t, "room-carol", after.PreferredRoom)
}

func TestFindMatchReadsPastFullPages(t *testing.T) {
	cfg := newFixture(t).cfg
	cfg.ScanPageSize = 3
	f := newFixtureWithConfig(t, cfg)
	ctx := context.Background()

	// two pages of demo users sit ahead of the only eligible candidate
	for i := 0; i < 6; i++ {
		_, err := f.queue.Enqueue(ctx, fmt.Sprintf("demo-%d", i), true, models.PriorityInCall, "")
		require.NoError(t, err)
		f.clock.Advance(time.Millisecond)
	}
	f.enqueue(t, "carol", models.PriorityWaiting, "")

	res, err := f.matching.FindMatch(ctx, MatchRequest{Username: "dave"})
	require.NoError(t, err)
	assert.True(t, res.Matched)
	assert.Equal(t, "carol", res.MatchedWith)
	assert.Len(t, f.queued(t), 6)
}

func TestFindMatchReadsPastCoolingCandidates(t *testing.T) {
	cfg := newFixture(t).cfg
	cfg.ScanPageSize = 1
	f := newFixtureWithConfig(t, cfg)
	ctx := context.Background()

	f.enqueue(t, "bob", models.PriorityWaiting, "")
	f.enqueue(t, "carol", models.PriorityWaiting, "")
	f.enqueue(t, "erin", models.PriorityWaiting, "")
	require.NoError(t, f.cooldowns.Record(ctx, "alice", "bob", time.Minute))
	require.NoError(t, f.cooldowns.Record(ctx, "alice", "carol", time.Minute))

	res, err := f.matching.FindMatch(ctx, MatchRequest{Username: "alice"})
	require.NoError(t, err)
	assert.Equal(t, "erin", res.MatchedWith)
}

func TestFindMatchExhaustsQueue(t *testing.T) {
	cfg := newFixture(t).cfg
	cfg.ScanPageSize = 2
	f := newFixtureWithConfig(t, cfg)

	f.enqueue(t, "alice", models.PriorityWaiting, "")
	f.enqueue(t, "bob", models.PriorityWaiting, "")

	// the queue holds exactly one full page: the requester and the excluded user
	res, err := f.matching.FindMatch(context.Background(), MatchRequest{Username: "alice", Exclude: "bob"})
	require.NoError(t, err)
	assert.False(t, res.Matched)
}
