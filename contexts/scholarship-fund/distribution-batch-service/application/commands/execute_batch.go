package commands

import (
	"context"
	"strings"
	"time"

	application "scholarshipboard/contexts/scholarship-fund/distribution-batch-service/application"
	"scholarshipboard/contexts/scholarship-fund/distribution-batch-service/domain/entities"
	domainerrors "scholarshipboard/contexts/scholarship-fund/distribution-batch-service/domain/errors"
	"scholarshipboard/contexts/scholarship-fund/distribution-batch-service/ports"

	"github.com/shopspring/decimal"
)

type ExecuteBatchCommand struct {
	BatchID  int64
	Executor entities.Member
}

type ExecuteBatchResult struct {
	BatchID             int64
	StudentsProcessed   int
	TotalUSDDistributed decimal.Decimal
	DistributedAt       time.Time
}

// ExecuteBatch distributes a ready batch exactly once. The quorum check, the
// status flip and the student debits run inside one repository transaction;
// concurrent callers observe ErrAlreadyDistributed or ErrNotReady and nothing
// is written on their behalf.
func (uc BatchUseCase) ExecuteBatch(ctx context.Context, cmd ExecuteBatchCommand) (ExecuteBatchResult, error) {
	logger := application.ResolveLogger(uc.Logger)
	executorID := strings.TrimSpace(cmd.Executor.MemberID)
	logger.Info("batch execute processing started",
		"event", "distribution_batch_execute_started",
		"module", "scholarship-fund/distribution-batch-service",
		"layer", "application",
		"batch_id", cmd.BatchID,
		"member_id", executorID,
	)
	if cmd.BatchID <= 0 || executorID == "" {
		return ExecuteBatchResult{}, domainerrors.ErrInvalidInput
	}
	if !cmd.Executor.IsAdmin {
		logger.Warn("batch execute forbidden",
			"event", "distribution_batch_execute_forbidden",
			"module", "scholarship-fund/distribution-batch-service",
			"layer", "application",
			"batch_id", cmd.BatchID,
			"member_id", executorID,
		)
		return ExecuteBatchResult{}, domainerrors.ErrForbidden
	}

	now := uc.now()
	event, err := uc.eventFactory(ctx, EventBatchDistributed, now)
	if err != nil {
		return ExecuteBatchResult{}, err
	}
	result, err := uc.Execution.ExecuteBatch(ctx, ports.ExecuteBatchParams{
		BatchID:    cmd.BatchID,
		ExecutorID: executorID,
		Quorum:     uc.quorum(),
		ExecutedAt: now,
		Event:      event,
	})
	if err != nil {
		logger.Warn("batch execute rejected",
			"event", "distribution_batch_execute_rejected",
			"module", "scholarship-fund/distribution-batch-service",
			"layer", "application",
			"batch_id", cmd.BatchID,
			"member_id", executorID,
			"error", err.Error(),
		)
		return ExecuteBatchResult{}, err
	}

	distributedAt := now
	if result.Batch.DistributedAt != nil {
		distributedAt = result.Batch.DistributedAt.UTC()
	}
	logger.Info("batch distributed",
		"event", "distribution_batch_distributed",
		"module", "scholarship-fund/distribution-batch-service",
		"layer", "application",
		"batch_id", cmd.BatchID,
		"member_id", executorID,
		"students_processed", result.StudentsProcessed,
		"total_usd_distributed", result.TotalUSDDistributed.StringFixed(2),
	)
	return ExecuteBatchResult{
		BatchID:             result.Batch.BatchID,
		StudentsProcessed:   result.StudentsProcessed,
		TotalUSDDistributed: result.TotalUSDDistributed,
		DistributedAt:       distributedAt,
	}, nil
}
