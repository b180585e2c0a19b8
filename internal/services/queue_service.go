package services

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"vidmatch/internal/models"
	"vidmatch/internal/store"
	"vidmatch/pkg/logger"
)

// tierSpan separates priority tiers in the queue score. Millisecond
// timestamps stay below it until the year 2286.
const tierSpan = 1e13

// QueueService owns the waiting-user collection. There is exactly one
// queue record per username; re-enqueueing replaces the record and
// refreshes its enqueue time, so the user moves to the back of their tier.
type QueueService struct {
	store store.Store
	now   func() time.Time
}

func NewQueueService(st store.Store) *QueueService {
	return &QueueService{store: st, now: time.Now}
}

func queueScore(priority models.PriorityState, enqueuedAt time.Time) float64 {
	return float64(priority.Tier())*tierSpan + float64(enqueuedAt.UnixMilli())
}

// Enqueue adds or replaces the waiting entry for username.
func (s *QueueService) Enqueue(ctx context.Context, username string, useDemo bool, priority models.PriorityState, roomHint string) (*models.WaitingEntry, error) {
	if !priority.Valid() {
		priority = models.PriorityWaiting
	}

	entry := &models.WaitingEntry{
		Username:      username,
		UseDemo:       useDemo,
		State:         priority,
		PreferredRoom: roomHint,
		EnqueuedAt:    s.now(),
	}
	if err := s.put(ctx, entry); err != nil {
		return nil, err
	}

	logger.LogUserAction(username, "added_to_queue", map[string]interface{}{
		"use_demo":       useDemo,
		"priority":       priority,
		"preferred_room": roomHint,
	})
	return entry, nil
}

// put writes entry keeping its enqueue time.
func (s *QueueService) put(ctx context.Context, entry *models.WaitingEntry) error {
	payload, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("encode waiting entry: %w", err)
	}

	item := store.QueueItem{
		Member:  entry.Username,
		Score:   queueScore(entry.State, entry.EnqueuedAt),
		Payload: string(payload),
	}
	if err := s.store.QueuePut(ctx, waitingQueue, item); err != nil {
		return fmt.Errorf("enqueue %s: %w", entry.Username, err)
	}
	return nil
}

// Dequeue removes username from the queue. Absent users are not an error.
func (s *QueueService) Dequeue(ctx context.Context, username string) error {
	removed, err := s.store.QueueRemove(ctx, waitingQueue, username)
	if err != nil {
		return fmt.Errorf("dequeue %s: %w", username, err)
	}
	if removed {
		logger.LogUserAction(username, "removed_from_queue", nil)
	}
	return nil
}

// Claim atomically removes username and reports whether this caller did
// the removal. Concurrent matchers use it to decide who gets a candidate.
func (s *QueueService) Claim(ctx context.Context, username string) (bool, error) {
	ok, err := s.store.QueueRemove(ctx, waitingQueue, username)
	if err != nil {
		return false, fmt.Errorf("claim %s: %w", username, err)
	}
	return ok, nil
}

// Scan returns up to limit waiting entries after the cursor, recovery tier
// first and oldest first within a tier, plus the cursor of the next page
// (nil at the end of the queue). Undecodable records are dropped from the
// queue.
func (s *QueueService) Scan(ctx context.Context, after *store.QueueCursor, limit int) ([]models.WaitingEntry, *store.QueueCursor, error) {
	items, next, err := s.store.QueueScan(ctx, waitingQueue, after, limit)
	if err != nil {
		return nil, nil, fmt.Errorf("scan queue: %w", err)
	}

	entries := make([]models.WaitingEntry, 0, len(items))
	for _, item := range items {
		var entry models.WaitingEntry
		if err := json.Unmarshal([]byte(item.Payload), &entry); err != nil || entry.Username != item.Member {
			if err == nil {
				err = fmt.Errorf("payload username %q does not match member", entry.Username)
			}
			logger.LogError(err, "Corrupt waiting entry removed", map[string]interface{}{
				"username": item.Member,
			})
			if _, delErr := s.store.QueueRemove(ctx, waitingQueue, item.Member); delErr != nil {
				logger.LogError(delErr, "Failed to remove corrupt waiting entry", map[string]interface{}{
					"username": item.Member,
				})
			}
			continue
		}
		entries = append(entries, entry)
	}
	return entries, next, nil
}

// Size returns the number of waiting users.
func (s *QueueService) Size(ctx context.Context) (int64, error) {
	n, err := s.store.QueueLen(ctx, waitingQueue)
	if err != nil {
		return 0, fmt.Errorf("queue size: %w", err)
	}
	return n, nil
}
