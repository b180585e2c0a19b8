package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"vidmatch/internal/models"
	"vidmatch/internal/store"
	"vidmatch/pkg/logger"
)

// LeftBehindService keeps the short-lived recovery state of a user whose
// partner dropped. Pending state lives for ttl, processed state for
// processedTTL; both expire through the store.
type LeftBehindService struct {
	store        store.Store
	ttl          time.Duration
	processedTTL time.Duration
	now          func() time.Time
}

func NewLeftBehindService(st store.Store, ttl, processedTTL time.Duration) *LeftBehindService {
	return &LeftBehindService{store: st, ttl: ttl, processedTTL: processedTTL, now: time.Now}
}

func (s *LeftBehindService) Begin(ctx context.Context, username, previousRoom, disconnectedFrom, newRoomName string) (*models.LeftBehindState, error) {
	state := &models.LeftBehindState{
		Username:         username,
		PreviousRoom:     previousRoom,
		DisconnectedFrom: disconnectedFrom,
		NewRoomName:      newRoomName,
		Timestamp:        s.now(),
	}
	if err := s.write(ctx, state, s.ttl); err != nil {
		return nil, err
	}
	return state, nil
}

// MarkProcessed records that username found a new partner. Missing,
// expired and undecodable state make it a no-op, and so does state cleared
// by a skip or end between the read and the write.
func (s *LeftBehindService) MarkProcessed(ctx context.Context, username, matchRoom, matchedWith string) error {
	state, err := s.Get(ctx, username)
	if errors.Is(err, store.ErrNotFound) || errors.Is(err, ErrCorruptRecord) {
		s.logMissing(username, matchRoom)
		return nil
	}
	if err != nil {
		return err
	}

	state.Processed = true
	state.MatchRoom = matchRoom
	state.MatchedWith = matchedWith
	state.Timestamp = s.now()

	raw, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("encode left-behind %s: %w", username, err)
	}
	updated, err := s.store.SetXX(ctx, leftBehindKey(username), string(raw), s.processedTTL)
	if err != nil {
		return fmt.Errorf("write left-behind %s: %w", username, err)
	}
	if !updated {
		s.logMissing(username, matchRoom)
		return nil
	}

	logger.LogUserAction(username, "left_behind_processed", map[string]interface{}{
		"match_room":   matchRoom,
		"matched_with": matchedWith,
	})
	return nil
}

// Get returns the live state for username.
func (s *LeftBehindService) Get(ctx context.Context, username string) (*models.LeftBehindState, error) {
	raw, err := s.store.Get(ctx, leftBehindKey(username))
	if err != nil {
		return nil, err
	}

	var state models.LeftBehindState
	if err := json.Unmarshal([]byte(raw), &state); err != nil {
		logger.LogError(err, "Corrupt left-behind state", map[string]interface{}{
			"username": username,
		})
		return nil, fmt.Errorf("%w: left-behind %s", ErrCorruptRecord, username)
	}
	return &state, nil
}

func (s *LeftBehindService) Clear(ctx context.Context, username string) error {
	if _, err := s.store.Del(ctx, leftBehindKey(username)); err != nil {
		return fmt.Errorf("clear left-behind %s: %w", username, err)
	}
	return nil
}

func (s *LeftBehindService) logMissing(username, matchRoom string) {
	logger.LogUserAction(username, "left_behind_state_missing", map[string]interface{}{
		"match_room": matchRoom,
	})
}

func (s *LeftBehindService) write(ctx context.Context, state *models.LeftBehindState, ttl time.Duration) error {
	raw, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("encode left-behind %s: %w", state.Username, err)
	}
	if err := s.store.Set(ctx, leftBehindKey(state.Username), string(raw), ttl); err != nil {
		return fmt.Errorf("write left-behind %s: %w", state.Username, err)
	}
	return nil
}
