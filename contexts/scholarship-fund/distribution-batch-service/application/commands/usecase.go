package commands

import (
	"context"
	"log/slog"
	"time"

	"scholarshipboard/contexts/scholarship-fund/distribution-batch-service/domain/entities"
	"scholarshipboard/contexts/scholarship-fund/distribution-batch-service/ports"
)

const maxTextLength = 2000

// BatchUseCase orchestrates the write side of the distribution workflow:
// batch creation, board approvals, one-time execution and member comments.
// Invariants that need atomicity (single pending batch, unique approvals,
// exactly-once execution) are delegated to the repository ports, which
// enforce them inside a single transaction.
type BatchUseCase struct {
	Batches   ports.BatchRepository
	Approvals ports.ApprovalLedger
	Execution ports.ExecutionGuard
	Comments  ports.CommentRepository
	Clock     ports.Clock
	IDGen     ports.IDGenerator
	Quorum    int
	Logger    *slog.Logger
}

func (uc BatchUseCase) now() time.Time {
	now := time.Now().UTC()
	if uc.Clock != nil {
		now = uc.Clock.Now().UTC()
	}
	return now
}

func (uc BatchUseCase) quorum() int {
	if uc.Quorum <= 0 {
		return entities.DefaultQuorum
	}
	return uc.Quorum
}

func (uc BatchUseCase) eventFactory(ctx context.Context, eventType string, occurredAt time.Time) (ports.EventFactory, error) {
	eventID, err := uc.IDGen.NewID(ctx)
	if err != nil {
		return nil, err
	}
	return batchEventFactory(eventID, eventType, occurredAt), nil
}
