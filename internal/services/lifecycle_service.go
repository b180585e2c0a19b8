package services

import (
	"context"
	"errors"
	"time"

	"vidmatch/internal/config"
	"vidmatch/internal/models"
	"vidmatch/internal/store"
	"vidmatch/internal/utils"
	"vidmatch/pkg/logger"
)

type cooldownAction int

const (
	cooldownKeep cooldownAction = iota
	cooldownRecord
	cooldownClear
)

// terminationPolicy describes what tearing down a session does beyond
// deleting the match. Disconnect, skip and end are three policies over the
// same sequence.
type terminationPolicy struct {
	kind           string
	updateStats    bool
	cooldown       cooldownAction
	dequeuePartner bool
	// requeue the caller / the partner as plain waiting users
	requeueInitiator bool
	requeuePartner   bool
	// recoverPartner runs left-behind recovery for the partner
	recoverPartner        bool
	clearInitiatorPending bool
	clearPartnerPending   bool
	paired                models.Status
	solo                  models.Status
}

// LifecycleService tears down sessions and decides what happens to their
// participants next.
type LifecycleService struct {
	store      store.Store
	queue      *QueueService
	matching   *MatchingService
	matches    *ActiveMatches
	cooldowns  *CooldownService
	stats      *SkipStatsService
	leftBehind *LeftBehindService
	cfg        config.MatchingConfig

	disconnect terminationPolicy
	skip       terminationPolicy
	end        terminationPolicy

	now      func() time.Time
	roomName func() string
}

type LifecycleDeps struct {
	Store      store.Store
	Queue      *QueueService
	Matching   *MatchingService
	Matches    *ActiveMatches
	Cooldowns  *CooldownService
	Stats      *SkipStatsService
	LeftBehind *LeftBehindService
}

func NewLifecycleService(deps LifecycleDeps, cfg config.MatchingConfig) *LifecycleService {
	return &LifecycleService{
		store:      deps.Store,
		queue:      deps.Queue,
		matching:   deps.Matching,
		matches:    deps.Matches,
		cooldowns:  deps.Cooldowns,
		stats:      deps.Stats,
		leftBehind: deps.LeftBehind,
		cfg:        cfg,
		disconnect: terminationPolicy{
			kind:           "disconnect",
			updateStats:    cfg.Stats.OnDisconnect,
			recoverPartner: true,
			paired:         models.StatusDisconnected,
			solo:           models.StatusDisconnectedSolo,
		},
		skip: terminationPolicy{
			kind:                  "skip",
			updateStats:           cfg.Stats.OnSkip,
			cooldown:              cooldownRecord,
			dequeuePartner:        true,
			requeueInitiator:      true,
			requeuePartner:        true,
			clearInitiatorPending: true,
			clearPartnerPending:   true,
			paired:                models.StatusBothUsersRequeued,
			solo:                  models.StatusSoloUserRequeued,
		},
		end: terminationPolicy{
			kind:                  "end",
			updateStats:           cfg.Stats.OnEnd,
			cooldown:              cooldownClear,
			dequeuePartner:        true,
			requeuePartner:        true,
			clearInitiatorPending: true,
			paired:                models.StatusSessionEnded,
			solo:                  models.StatusSessionEndedSolo,
		},
		now:      time.Now,
		roomName: utils.NewRoomName,
	}
}

// HandleDisconnect tears down roomName because username dropped out. The
// partner, when there is one, goes through left-behind recovery: an
// immediate rematch if possible, otherwise the priority tier of the queue.
// otherUsername may be empty; it is derived from the match record.
func (s *LifecycleService) HandleDisconnect(ctx context.Context, username, roomName, otherUsername string) *models.LifecycleResult {
	return s.terminate(ctx, s.disconnect, username, roomName, otherUsername)
}

// HandleSkip tears down roomName because username asked for someone else.
// Both users are requeued and kept apart for the skip cooldown.
func (s *LifecycleService) HandleSkip(ctx context.Context, username, roomName, otherUsername string) *models.LifecycleResult {
	return s.terminate(ctx, s.skip, username, roomName, otherUsername)
}

// HandleSessionEnd tears down roomName because username left for good.
// Only the partner is requeued.
func (s *LifecycleService) HandleSessionEnd(ctx context.Context, username, roomName, otherUsername string) *models.LifecycleResult {
	return s.terminate(ctx, s.end, username, roomName, otherUsername)
}

// ConfirmRematch records that a left-behind user accepted a new pairing.
// It is a no-op when the recovery state has already expired.
func (s *LifecycleService) ConfirmRematch(ctx context.Context, username, matchRoom, matchedWith string) error {
	return s.leftBehind.MarkProcessed(ctx, username, matchRoom, matchedWith)
}

// LeftBehindStatus returns the pending recovery state of username.
func (s *LifecycleService) LeftBehindStatus(ctx context.Context, username string) (*models.LeftBehindState, error) {
	return s.leftBehind.Get(ctx, username)
}

func (s *LifecycleService) terminate(ctx context.Context, p terminationPolicy, username, roomName, otherUsername string) *models.LifecycleResult {
	match, err := s.matches.Get(ctx, roomName)
	switch {
	case errors.Is(err, store.ErrNotFound):
		return s.noActiveMatch(ctx, p, username, roomName)
	case errors.Is(err, ErrCorruptRecord):
		logger.LogError(err, "Corrupt match record discarded", map[string]interface{}{
			"room_name": roomName,
			"username":  username,
			"action":    p.kind,
		})
		if _, delErr := s.matches.Delete(ctx, roomName); delErr != nil {
			s.logSecondary(delErr, "delete corrupt match", username, roomName)
		}
		s.dequeueQuietly(ctx, username, roomName)
		return &models.LifecycleResult{Status: models.StatusNoMatchFound}
	case err != nil:
		return s.fail(ctx, p, username, roomName, err)
	}

	if username != match.User1 && username != match.User2 {
		logger.WithFields(map[string]interface{}{
			"room_name": roomName,
			"username":  username,
			"action":    p.kind,
		}).Warn("Lifecycle request from a non-participant")
	}
	partner := resolvePartner(match, username, otherUsername)

	// the tombstone goes first so a request that finds the match gone
	// always finds the tombstone too
	s.writeTombstone(ctx, p, username, roomName)
	deleted, err := s.matches.Delete(ctx, roomName)
	if err != nil {
		return s.fail(ctx, p, username, roomName, err)
	}
	if !deleted {
		// a concurrent termination of the same room got there first
		logger.LogLifecycleEvent("termination_lost_race", roomName, username, map[string]interface{}{
			"action": p.kind,
		})
		return &models.LifecycleResult{Status: models.StatusNoMatchFound}
	}

	// the match is gone and replays hit the tombstone, so nothing else will
	// redo the remaining steps if the caller goes away
	ctx, cancel := s.detach(ctx)
	defer cancel()

	if p.updateStats {
		s.recordDuration(ctx, match, username, partner)
	}

	s.dequeueQuietly(ctx, username, roomName)
	if p.dequeuePartner && partner != "" {
		s.dequeueQuietly(ctx, partner, roomName)
	}

	if p.clearInitiatorPending {
		s.clearPendingQuietly(ctx, username, roomName)
	}
	if partner != "" {
		switch p.cooldown {
		case cooldownRecord:
			if err := s.cooldowns.Record(ctx, username, partner, s.cfg.SkipCooldown); err != nil {
				s.logSecondary(err, "record cooldown", username, roomName)
			}
		case cooldownClear:
			if err := s.cooldowns.Clear(ctx, username, partner); err != nil {
				s.logSecondary(err, "clear cooldown", username, roomName)
			}
		}
		if p.clearPartnerPending {
			s.clearPendingQuietly(ctx, partner, roomName)
		}
	}

	result := &models.LifecycleResult{Users: participants(match), OtherUser: partner, Status: p.solo}
	if partner != "" {
		result.Status = p.paired
	}

	// every requeue is attempted even when an earlier one failed
	var requeueErrs []error
	if p.requeueInitiator {
		requeueErrs = append(requeueErrs, s.requeue(ctx, result, username, match.UseDemo, roomName))
	}
	if partner != "" && p.requeuePartner {
		requeueErrs = append(requeueErrs, s.requeue(ctx, result, partner, match.UseDemo, roomName))
	}
	if partner != "" && p.recoverPartner {
		s.recoverLeftBehind(ctx, result, match, username, partner)
	}
	if err := errors.Join(requeueErrs...); err != nil {
		result.Status = models.StatusError
		result.Error = err.Error()
	}

	logger.LogLifecycleEvent(p.kind, roomName, username, map[string]interface{}{
		"status":     result.Status,
		"other_user": partner,
		"requeued":   result.Requeued,
		"recovery":   result.Recovery,
	})
	return result
}

// resolvePartner picks who is left in the room once username is gone. An
// explicit otherUsername wins over the match record; a caller outside the
// match leaves User1 behind.
func resolvePartner(match *models.ActiveMatch, username, otherUsername string) string {
	if otherUsername != "" && otherUsername != username {
		return otherUsername
	}
	if username != match.User1 && username != match.User2 {
		return match.User1
	}
	return match.Partner(username)
}

// detach carries ctx values onto a context the caller cannot cancel,
// bounded by the teardown timeout.
func (s *LifecycleService) detach(ctx context.Context) (context.Context, context.CancelFunc) {
	ctx = context.WithoutCancel(ctx)
	if s.cfg.TeardownTimeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, s.cfg.TeardownTimeout)
}

func (s *LifecycleService) requeue(ctx context.Context, result *models.LifecycleResult, username string, useDemo bool, roomName string) error {
	if _, err := s.queue.Enqueue(ctx, username, useDemo, models.PriorityWaiting, ""); err != nil {
		logger.LogError(err, "Failed to requeue user", map[string]interface{}{
			"username":  username,
			"room_name": roomName,
		})
		return err
	}
	result.Requeued = append(result.Requeued, username)
	return nil
}

// recoverLeftBehind gives the partner of a dropped user a new room and
// either an immediate match or a priority place in the queue.
func (s *LifecycleService) recoverLeftBehind(ctx context.Context, result *models.LifecycleResult, match *models.ActiveMatch, disconnected, leftBehind string) {
	result.LeftBehindUser = leftBehind

	if err := s.cooldowns.Clear(ctx, disconnected, leftBehind); err != nil {
		s.logSecondary(err, "clear cooldown", leftBehind, match.RoomName)
	}
	s.dequeueQuietly(ctx, leftBehind, match.RoomName)

	newRoom := s.roomName()
	result.NewRoomName = newRoom
	if _, err := s.leftBehind.Begin(ctx, leftBehind, match.RoomName, disconnected, newRoom); err != nil {
		s.logSecondary(err, "write left-behind state", leftBehind, match.RoomName)
	}

	found, err := s.matching.FindMatch(ctx, MatchRequest{
		Username: leftBehind,
		UseDemo:  match.UseDemo,
		Exclude:  disconnected,
		RoomHint: newRoom,
	})
	if err != nil {
		s.logSecondary(err, "immediate rematch", leftBehind, match.RoomName)
		found = &models.MatchResult{Matched: false}
	}

	if found.Matched {
		if err := s.leftBehind.MarkProcessed(ctx, leftBehind, found.RoomName, found.MatchedWith); err != nil {
			s.logSecondary(err, "mark left-behind processed", leftBehind, found.RoomName)
		}
		result.Status = models.StatusDisconnectedWithImmediateMatch
		result.Recovery = models.StatusImmediateMatch
		result.NewRoomName = found.RoomName
		result.ImmediateMatch = found
		return
	}

	if _, err := s.queue.Enqueue(ctx, leftBehind, match.UseDemo, models.PriorityInCall, newRoom); err != nil {
		logger.LogError(err, "Failed to requeue left-behind user", map[string]interface{}{
			"username":  leftBehind,
			"room_name": match.RoomName,
		})
		result.Recovery = models.StatusError
		result.Error = err.Error()
		return
	}
	result.Recovery = models.StatusQueued
}

// noActiveMatch handles a request for a room that has no match. A
// tombstone marks a replay of a termination that already happened, which
// must not touch anything.
func (s *LifecycleService) noActiveMatch(ctx context.Context, p terminationPolicy, username, roomName string) *models.LifecycleResult {
	ended, err := s.store.Exists(ctx, tombstoneKey(roomName))
	if err != nil {
		s.logSecondary(err, "check tombstone", username, roomName)
	}
	if ended {
		logger.LogLifecycleEvent("replay_ignored", roomName, username, map[string]interface{}{
			"action": p.kind,
		})
		return &models.LifecycleResult{Status: models.StatusNoMatchFound}
	}

	s.dequeueQuietly(ctx, username, roomName)
	return &models.LifecycleResult{Status: models.StatusNoMatchFound}
}

func (s *LifecycleService) fail(ctx context.Context, p terminationPolicy, username, roomName string, err error) *models.LifecycleResult {
	logger.LogError(err, "Session termination failed", map[string]interface{}{
		"room_name": roomName,
		"username":  username,
		"action":    p.kind,
	})
	s.dequeueQuietly(ctx, username, roomName)
	return &models.LifecycleResult{Status: models.StatusError, Error: err.Error()}
}

func (s *LifecycleService) recordDuration(ctx context.Context, match *models.ActiveMatch, username, partner string) {
	durationMs := s.now().Sub(match.MatchedAt).Milliseconds()
	if durationMs < 0 {
		logger.WithFields(map[string]interface{}{
			"room_name":   match.RoomName,
			"duration_ms": durationMs,
		}).Warn("Match started in the future, skip stats not updated")
		return
	}

	for _, user := range []string{username, partner} {
		if user == "" {
			continue
		}
		if _, err := s.stats.Update(ctx, user, durationMs); err != nil {
			s.logSecondary(err, "update skip stats", user, match.RoomName)
		}
	}
}

func (s *LifecycleService) writeTombstone(ctx context.Context, p terminationPolicy, username, roomName string) {
	if s.cfg.TombstoneTTL <= 0 {
		return
	}
	if err := s.store.Set(ctx, tombstoneKey(roomName), p.kind+":"+username, s.cfg.TombstoneTTL); err != nil {
		s.logSecondary(err, "write tombstone", username, roomName)
	}
}

func (s *LifecycleService) dequeueQuietly(ctx context.Context, username, roomName string) {
	if err := s.queue.Dequeue(ctx, username); err != nil {
		s.logSecondary(err, "dequeue", username, roomName)
	}
}

func (s *LifecycleService) clearPendingQuietly(ctx context.Context, username, roomName string) {
	if err := s.leftBehind.Clear(ctx, username); err != nil {
		s.logSecondary(err, "clear left-behind state", username, roomName)
	}
}

func (s *LifecycleService) logSecondary(err error, step, username, roomName string) {
	logger.LogError(err, "Lifecycle step failed: "+step, map[string]interface{}{
		"username":  username,
		"room_name": roomName,
	})
}

func participants(m *models.ActiveMatch) []string {
	users := []string{m.User1}
	if m.User2 != "" {
		users = append(users, m.User2)
	}
	return users
}
