package services

import (
	"context"
	"fmt"
	"time"

	"vidmatch/internal/models"
	"vidmatch/internal/store"
	"vidmatch/pkg/logger"
)

const (
	fieldTotalSkips = "total_skips_involved"
	fieldTotalTime  = "total_interaction_time_with_skips"
)

// SkipStatsService aggregates per-user interaction statistics. Both totals
// move in one atomic increment; the average is derived from them, so
// concurrent updates can neither drop nor double-count an event.
type SkipStatsService struct {
	store       store.Store
	maxDuration time.Duration
}

func NewSkipStatsService(st store.Store, maxDuration time.Duration) *SkipStatsService {
	return &SkipStatsService{store: st, maxDuration: maxDuration}
}

// Update adds one interaction of durationMs to username's totals.
// Implausible durations are logged and ignored.
func (s *SkipStatsService) Update(ctx context.Context, username string, durationMs int64) (*models.SkipStats, error) {
	if durationMs < 0 || (s.maxDuration > 0 && durationMs > s.maxDuration.Milliseconds()) {
		logger.WithFields(map[string]interface{}{
			"username":    username,
			"duration_ms": durationMs,
		}).Warn("Implausible call duration, skip stats not updated")
		return nil, nil
	}

	totals, err := s.store.IncrFields(ctx, skipStatsKey(username), map[string]float64{
		fieldTotalSkips: 1,
		fieldTotalTime:  float64(durationMs),
	})
	if err != nil {
		return nil, fmt.Errorf("update skip stats %s: %w", username, err)
	}

	stats := statsFromTotals(username, totals)
	logger.LogUserAction(username, "skip_stats_updated", map[string]interface{}{
		"duration_ms":       durationMs,
		"average_skip_time": stats.AverageSkipTime,
		"total_skips":       stats.TotalSkipsInvolved,
	})
	return stats, nil
}

// Get returns username's statistics; unknown users have zero stats.
func (s *SkipStatsService) Get(ctx context.Context, username string) (*models.SkipStats, error) {
	totals, err := s.store.GetFields(ctx, skipStatsKey(username))
	if err != nil {
		return nil, fmt.Errorf("get skip stats %s: %w", username, err)
	}
	return statsFromTotals(username, totals), nil
}

func statsFromTotals(username string, totals map[string]float64) *models.SkipStats {
	stats := &models.SkipStats{
		Username:                      username,
		TotalSkipsInvolved:            int64(totals[fieldTotalSkips]),
		TotalInteractionTimeWithSkips: totals[fieldTotalTime],
	}
	if stats.TotalSkipsInvolved > 0 {
		stats.AverageSkipTime = stats.TotalInteractionTimeWithSkips / float64(stats.TotalSkipsInvolved)
	}
	return stats
}
