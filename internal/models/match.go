package models

import "time"

// PriorityState orders waiting users. Users recovering from a dropped call
// are served before users who are plainly waiting.
type PriorityState string

const (
	PriorityInCall  PriorityState = "in_call"
	PriorityWaiting PriorityState = "waiting"
)

func (p PriorityState) Valid() bool {
	return p == PriorityInCall || p == PriorityWaiting
}

// Tier is the scan tier of a priority state; lower tiers are matched first.
func (p PriorityState) Tier() int {
	if p == PriorityInCall {
		return 0
	}
	return 1
}

type WaitingEntry struct {
	Username      string        `bson:"username" json:"username"`
	UseDemo       bool          `bson:"use_demo" json:"use_demo"`
	State         PriorityState `bson:"state" json:"state"`
	PreferredRoom string        `bson:"preferred_room,omitempty" json:"preferred_room,omitempty"`
	EnqueuedAt    time.Time     `bson:"enqueued_at" json:"enqueued_at"`
}

type ActiveMatch struct {
	RoomName  string    `bson:"room_name" json:"room_name"`
	User1     string    `bson:"user1" json:"user1"`
	User2     string    `bson:"user2,omitempty" json:"user2,omitempty"`
	UseDemo   bool      `bson:"use_demo" json:"use_demo"`
	MatchedAt time.Time `bson:"matched_at" json:"matched_at"`
}

// Partner returns the participant who is not username. The result is empty
// for a solo room or when username is not part of the match.
func (m *ActiveMatch) Partner(username string) string {
	switch username {
	case m.User1:
		return m.User2
	case m.User2:
		return m.User1
	}
	return ""
}

// MatchResult is the outcome of a matching attempt.
type MatchResult struct {
	Matched     bool   `json:"matched"`
	RoomName    string `json:"room_name,omitempty"`
	MatchedWith string `json:"matched_with,omitempty"`
}

type LeftBehindState struct {
	Username         string    `json:"username"`
	PreviousRoom     string    `json:"previous_room"`
	DisconnectedFrom string    `json:"disconnected_from"`
	NewRoomName      string    `json:"new_room_name"`
	Timestamp        time.Time `json:"timestamp"`
	Processed        bool      `json:"processed"`
	MatchRoom        string    `json:"match_room,omitempty"`
	MatchedWith      string    `json:"matched_with,omitempty"`
}

// SkipStats are rolling per-user engagement figures. Times are milliseconds.
type SkipStats struct {
	Username                      string  `json:"username"`
	AverageSkipTime               float64 `json:"average_skip_time"`
	TotalSkipsInvolved            int64   `json:"total_skips_involved"`
	TotalInteractionTimeWithSkips float64 `json:"total_interaction_time_with_skips"`
}
