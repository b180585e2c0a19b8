package services

// Store key space. Every key is further namespaced by the store prefix.
const (
	activeMatchesTable = "active_matches"
	waitingQueue       = "waiting_queue"

	cooldownPrefix   = "cooldown:"
	leftBehindPrefix = "left_behind:"
	skipStatsPrefix  = "skip_stats:"
	tombstonePrefix  = "ended_room:"
)

func leftBehindKey(username string) string { return leftBehindPrefix + username }

func skipStatsKey(username string) string { return skipStatsPrefix + username }

func tombstoneKey(roomName string) string { return tombstonePrefix + roomName }

// cooldownKey is symmetric in its arguments.
func cooldownKey(a, b string) string {
	if b < a {
		a, b = b, a
	}
	return cooldownPrefix + a + ":" + b
}
