package services

import (
	"context"
	"time"

	"vidmatch/internal/models"
	"vidmatch/internal/store"
	"vidmatch/internal/utils"
	"vidmatch/pkg/logger"
)

// MatchRequest asks for a partner for Username.
type MatchRequest struct {
	Username string
	UseDemo  bool
	// Exclude is never selected, typically the partner who just left.
	Exclude string
	// RoomHint names the room to pair in when the candidate has no room of
	// its own.
	RoomHint string
}

type MatchingService struct {
	queue     *QueueService
	cooldowns *CooldownService
	matches   *ActiveMatches
	pageSize  int
	now       func() time.Time
	roomName  func() string
}

// NewMatchingService reads the queue pageSize entries at a time.
func NewMatchingService(queue *QueueService, cooldowns *CooldownService, matches *ActiveMatches, pageSize int) *MatchingService {
	return &MatchingService{
		queue:     queue,
		cooldowns: cooldowns,
		matches:   matches,
		pageSize:  pageSize,
		now:       time.Now,
		roomName:  utils.NewRoomName,
	}
}

// FindMatch pairs the requester with the best eligible waiting user.
//
// The queue is read page by page in priority order until a candidate is
// won or the queue runs out; the atomic claim on the candidate's queue
// record decides between concurrent matchers, and a lost claim moves on to
// the next candidate. A result with Matched false means nobody eligible
// was waiting.
func (s *MatchingService) FindMatch(ctx context.Context, req MatchRequest) (*models.MatchResult, error) {
	var after *store.QueueCursor
	for {
		entries, next, err := s.queue.Scan(ctx, after, s.pageSize)
		if err != nil {
			return nil, err
		}

		result, err := s.matchFrom(ctx, req, entries)
		if err != nil || result != nil {
			return result, err
		}
		if next == nil {
			return &models.MatchResult{Matched: false}, nil
		}
		after = next
	}
}

// matchFrom tries the candidates of one page in order. It returns nil when
// none of them could be won.
func (s *MatchingService) matchFrom(ctx context.Context, req MatchRequest, entries []models.WaitingEntry) (*models.MatchResult, error) {
	for i := range entries {
		candidate := entries[i]
		if !s.eligible(ctx, req, &candidate) {
			continue
		}

		won, err := s.queue.Claim(ctx, candidate.Username)
		if err != nil {
			return nil, err
		}
		if !won {
			logger.LogMatchEvent("candidate_taken", "", req.Username, map[string]interface{}{
				"candidate": candidate.Username,
			})
			continue
		}

		room := candidate.PreferredRoom
		if room == "" {
			room = req.RoomHint
		}
		if room == "" {
			room = s.roomName()
		}

		match := &models.ActiveMatch{
			RoomName:  room,
			User1:     req.Username,
			User2:     candidate.Username,
			UseDemo:   req.UseDemo,
			MatchedAt: s.now(),
		}
		if err := s.matches.Create(ctx, match); err != nil {
			if putErr := s.queue.put(ctx, &candidate); putErr != nil {
				logger.LogError(putErr, "Failed to restore claimed candidate", map[string]interface{}{
					"candidate": candidate.Username,
				})
			}
			return nil, err
		}

		// the requester may have been waiting too
		if err := s.queue.Dequeue(ctx, req.Username); err != nil {
			logger.LogError(err, "Failed to dequeue matched requester", map[string]interface{}{
				"username": req.Username,
			})
		}

		logger.LogMatchEvent("match_created", room, req.Username, map[string]interface{}{
			"matched_with":   candidate.Username,
			"candidate_tier": candidate.State,
			"queue_time_ms":  s.now().Sub(candidate.EnqueuedAt).Milliseconds(),
			"use_demo":       req.UseDemo,
		})
		return &models.MatchResult{Matched: true, RoomName: room, MatchedWith: candidate.Username}, nil
	}
	return nil, nil
}

func (s *MatchingService) eligible(ctx context.Context, req MatchRequest, c *models.WaitingEntry) bool {
	if c.Username == req.Username || c.UseDemo != req.UseDemo {
		return false
	}
	if req.Exclude != "" && c.Username == req.Exclude {
		return false
	}

	cooling, err := s.cooldowns.IsActive(ctx, req.Username, c.Username)
	if err != nil {
		// without the answer the pair might be one that was just skipped
		logger.LogError(err, "Cooldown check failed, candidate skipped", map[string]interface{}{
			"username":  req.Username,
			"candidate": c.Username,
		})
		return false
	}
	return !cooling
}
