package workers

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	application "scholarshipboard/contexts/scholarship-fund/distribution-batch-service/application"
	"scholarshipboard/contexts/scholarship-fund/distribution-batch-service/ports"
)

// OutboxRelay forwards batch lifecycle events written alongside state changes.
type OutboxRelay struct {
	Outbox    ports.OutboxRepository
	Publisher ports.EventPublisher
	Clock     ports.Clock
	BatchSize int
	Logger    *slog.Logger
}

// RunOnce publishes up to BatchSize pending rows in creation order. A row is
// marked published only after the publisher accepted it, and the cycle stops
// at the first failure so later rows keep their order on the next cycle.
func (r OutboxRelay) RunOnce(ctx context.Context) (int, error) {
	logger := application.ResolveLogger(r.Logger)
	limit := r.BatchSize
	if limit <= 0 {
		limit = 100
	}

	pending, err := r.Outbox.ListPendingOutbox(ctx, limit)
	if err != nil {
		logger.Error("distribution outbox list failed",
			"event", "distribution_outbox_list_failed",
			"module", "scholarship-fund/distribution-batch-service",
			"layer", "worker",
			"error", err.Error(),
		)
		return 0, err
	}
	if len(pending) == 0 {
		logger.Debug("distribution outbox relay found no pending rows",
			"event", "distribution_outbox_relay_noop",
			"module", "scholarship-fund/distribution-batch-service",
			"layer", "worker",
		)
		return 0, nil
	}

	published := 0
	for _, row := range pending {
		var event ports.EventEnvelope
		err := json.Unmarshal(row.Payload, &event)
		if err == nil {
			err = event.Validate()
		}
		if err != nil {
			logger.Error("distribution outbox decode failed",
				"event", "distribution_outbox_decode_failed",
				"module", "scholarship-fund/distribution-batch-service",
				"layer", "worker",
				"outbox_id", row.OutboxID,
				"error", err.Error(),
			)
			return published, err
		}
		topic := event.EventType
		if topic == "" {
			topic = row.EventType
		}
		if err := r.Publisher.Publish(ctx, topic, event); err != nil {
			logger.Error("distribution outbox publish failed",
				"event", "distribution_outbox_publish_failed",
				"module", "scholarship-fund/distribution-batch-service",
				"layer", "worker",
				"outbox_id", row.OutboxID,
				"event_id", event.EventID,
				"event_type", event.EventType,
				"error", err.Error(),
			)
			return published, err
		}
		if err := r.Outbox.MarkOutboxPublished(ctx, row.OutboxID, r.now()); err != nil {
			logger.Error("distribution outbox mark published failed",
				"event", "distribution_outbox_mark_published_failed",
				"module", "scholarship-fund/distribution-batch-service",
				"layer", "worker",
				"outbox_id", row.OutboxID,
				"error", err.Error(),
			)
			return published, err
		}
		published++
	}

	logger.Info("distribution outbox relay cycle completed",
		"event", "distribution_outbox_relay_completed",
		"module", "scholarship-fund/distribution-batch-service",
		"layer", "worker",
		"published_count", published,
	)
	return published, nil
}

func (r OutboxRelay) now() time.Time {
	if r.Clock != nil {
		return r.Clock.Now().UTC()
	}
	return time.Now().UTC()
}
