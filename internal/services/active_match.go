package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"vidmatch/internal/models"
	"vidmatch/internal/store"
)

// ErrCorruptRecord marks a stored record that could not be decoded.
var ErrCorruptRecord = errors.New("corrupt record")

// ActiveMatches is the room-keyed table of confirmed pairings.
type ActiveMatches struct {
	store store.Store
}

func NewActiveMatches(st store.Store) *ActiveMatches {
	return &ActiveMatches{store: st}
}

// Get returns the match for roomName, store.ErrNotFound when there is none
// and ErrCorruptRecord when the stored value does not decode.
func (m *ActiveMatches) Get(ctx context.Context, roomName string) (*models.ActiveMatch, error) {
	raw, err := m.store.HGet(ctx, activeMatchesTable, roomName)
	if err != nil {
		return nil, err
	}

	var match models.ActiveMatch
	if err := json.Unmarshal([]byte(raw), &match); err != nil {
		return nil, fmt.Errorf("%w: room %s: %v", ErrCorruptRecord, roomName, err)
	}
	if match.RoomName == "" {
		match.RoomName = roomName
	}
	return &match, nil
}

func (m *ActiveMatches) Create(ctx context.Context, match *models.ActiveMatch) error {
	raw, err := json.Marshal(match)
	if err != nil {
		return fmt.Errorf("encode match %s: %w", match.RoomName, err)
	}
	if err := m.store.HSet(ctx, activeMatchesTable, match.RoomName, string(raw)); err != nil {
		return fmt.Errorf("create match %s: %w", match.RoomName, err)
	}
	return nil
}

// Delete removes the match and reports whether this call removed it.
func (m *ActiveMatches) Delete(ctx context.Context, roomName string) (bool, error) {
	ok, err := m.store.HDel(ctx, activeMatchesTable, roomName)
	if err != nil {
		return false, fmt.Errorf("delete match %s: %w", roomName, err)
	}
	return ok, nil
}
