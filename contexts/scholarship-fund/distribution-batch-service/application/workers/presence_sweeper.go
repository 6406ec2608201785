package workers

import (
	"context"
	"log/slog"
	"time"

	application "scholarshipboard/contexts/scholarship-fund/distribution-batch-service/application"
	"scholarshipboard/contexts/scholarship-fund/distribution-batch-service/ports"
)

// PresenceSweeper drops presence entries that have been stale for longer than
// Retention. Online checks already ignore stale entries; sweeping only keeps
// the tracker from growing without bound.
type PresenceSweeper struct {
	Presence  ports.PresenceTracker
	Clock     ports.Clock
	Retention time.Duration
	Logger    *slog.Logger
}

func (s PresenceSweeper) RunOnce(ctx context.Context) (int, error) {
	logger := application.ResolveLogger(s.Logger)
	retention := s.Retention
	if retention <= 0 {
		retention = 10 * time.Minute
	}
	now := time.Now().UTC()
	if s.Clock != nil {
		now = s.Clock.Now().UTC()
	}

	removed, err := s.Presence.Prune(ctx, now.Add(-retention))
	if err != nil {
		logger.Error("presence sweep failed",
			"event", "distribution_presence_sweep_failed",
			"module", "scholarship-fund/distribution-batch-service",
			"layer", "worker",
			"error", err.Error(),
		)
		return 0, err
	}
	if removed > 0 {
		logger.Info("presence entries pruned",
			"event", "distribution_presence_pruned",
			"module", "scholarship-fund/distribution-batch-service",
			"layer", "worker",
			"removed_count", removed,
		)
	}
	return removed, nil
}
