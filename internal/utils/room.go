package utils

import (
	"strings"

	"github.com/google/uuid"
)

// NewRoomName returns a fresh room identifier. Uniqueness rests on the UUID;
// the store key space is the only other check.
func NewRoomName() string {
	return "room-" + strings.ReplaceAll(uuid.NewString(), "-", "")[:20]
}
