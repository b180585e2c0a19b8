package models

// Status is the outcome reported to clients for lifecycle operations.
type Status string

const (
	StatusNoMatchFound                   Status = "no_match_found"
	StatusDisconnected                   Status = "disconnected"
	StatusDisconnectedWithImmediateMatch Status = "disconnected_with_immediate_match"
	StatusDisconnectedSolo               Status = "disconnected_solo"
	StatusBothUsersRequeued              Status = "both_users_requeued"
	StatusSoloUserRequeued               Status = "solo_user_requeued"
	StatusSessionEnded                   Status = "session_ended"
	StatusSessionEndedSolo               Status = "session_ended_solo"
	StatusQueued                         Status = "queued"
	StatusImmediateMatch                 Status = "immediate_match"
	StatusError                          Status = "error"
)

// LifecycleResult describes what a disconnect, skip or end call did.
type LifecycleResult struct {
	Status         Status       `json:"status"`
	Users          []string     `json:"users,omitempty"`
	OtherUser      string       `json:"other_user,omitempty"`
	LeftBehindUser string       `json:"left_behind_user,omitempty"`
	NewRoomName    string       `json:"new_room_name,omitempty"`
	Recovery       Status       `json:"recovery,omitempty"`
	ImmediateMatch *MatchResult `json:"immediate_match,omitempty"`
	Requeued       []string     `json:"requeued,omitempty"`
	Error          string       `json:"error,omitempty"`
}
