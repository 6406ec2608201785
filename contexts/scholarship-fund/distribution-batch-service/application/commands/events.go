package commands

import (
	"encoding/json"
	"strconv"
	"time"

	"scholarshipboard/contexts/scholarship-fund/distribution-batch-service/domain/entities"
	"scholarshipboard/contexts/scholarship-fund/distribution-batch-service/ports"
)

const (
	EventBatchCreated     = "scholarship.batch.created"
	EventBatchApproved    = "scholarship.batch.approved"
	EventBatchDistributed = "scholarship.batch.distributed"
)

// batchEventFactory returns the outbox factory handed to the repository so the
// envelope reflects the state written in the same transaction.
func batchEventFactory(eventID string, eventType string, occurredAt time.Time) ports.EventFactory {
	return func(batch entities.Batch, data map[string]any) (ports.EventEnvelope, error) {
		// Batch-scoped events share the batch id as partition key so
		// consumers see created -> approved -> distributed in order.
		body := map[string]any{
			"batch_id":       batch.BatchID,
			"status":         string(batch.Status),
			"total_fund_usd": batch.TotalFundUSD.StringFixed(2),
			"total_credits":  batch.TotalCredits,
			"occurred_at":    occurredAt.UTC().Format(time.RFC3339),
		}
		for key, value := range data {
			body[key] = value
		}
		payload, err := json.Marshal(body)
		if err != nil {
			return ports.EventEnvelope{}, err
		}
		return ports.EventEnvelope{
			EventID:          eventID,
			EventType:        eventType,
			OccurredAt:       occurredAt.UTC(),
			SourceService:    "distribution-batch-service",
			TraceID:          eventID,
			SchemaVersion:    1,
			PartitionKeyPath: "batch_id",
			PartitionKey:     strconv.FormatInt(batch.BatchID, 10),
			Data:             payload,
		}, nil
	}
}
