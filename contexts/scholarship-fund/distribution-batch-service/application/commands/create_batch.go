package commands

import (
	"context"
	"strings"
	"unicode/utf8"

	application "scholarshipboard/contexts/scholarship-fund/distribution-batch-service/application"
	"scholarshipboard/contexts/scholarship-fund/distribution-batch-service/domain/entities"
	domainerrors "scholarshipboard/contexts/scholarship-fund/distribution-batch-service/domain/errors"
	"scholarshipboard/contexts/scholarship-fund/distribution-batch-service/ports"

	"github.com/shopspring/decimal"
)

type CreateBatchCommand struct {
	Creator      entities.Member
	TotalFundUSD decimal.Decimal
	Notes        string
}

type CreateBatchResult struct {
	Batch       entities.Batch
	Allocations []entities.Allocation
}

// CreateBatch snapshots every eligible student's credits into a new pending
// batch. The snapshot and the insert happen in one repository transaction.
func (uc BatchUseCase) CreateBatch(ctx context.Context, cmd CreateBatchCommand) (CreateBatchResult, error) {
	logger := application.ResolveLogger(uc.Logger)
	creatorID := strings.TrimSpace(cmd.Creator.MemberID)
	fund := entities.RoundFund(cmd.TotalFundUSD)
	notes := strings.TrimSpace(cmd.Notes)
	logger.Info("batch create processing started",
		"event", "distribution_batch_create_started",
		"module", "scholarship-fund/distribution-batch-service",
		"layer", "application",
		"member_id", creatorID,
		"total_fund_usd", fund.StringFixed(2),
	)

	if creatorID == "" || !fund.IsPositive() || utf8.RuneCountInString(notes) > maxTextLength {
		logger.Warn("batch create validation failed",
			"event", "distribution_batch_create_validation_failed",
			"module", "scholarship-fund/distribution-batch-service",
			"layer", "application",
			"member_id", creatorID,
			"total_fund_usd", cmd.TotalFundUSD.String(),
		)
		return CreateBatchResult{}, domainerrors.ErrInvalidInput
	}

	now := uc.now()
	event, err := uc.eventFactory(ctx, EventBatchCreated, now)
	if err != nil {
		return CreateBatchResult{}, err
	}
	creator := cmd.Creator
	creator.MemberID = creatorID

	batch, allocations, err := uc.Batches.CreatePendingBatch(ctx, ports.CreateBatchParams{
		TotalFundUSD: fund,
		Notes:        notes,
		Creator:      creator,
		CreatedAt:    now,
		Plan: func(batchID int64, students []entities.StudentCredit) ([]entities.Allocation, error) {
			return entities.Allocate(batchID, fund, students)
		},
		Event: event,
	})
	if err != nil {
		logger.Warn("batch create rejected",
			"event", "distribution_batch_create_rejected",
			"module", "scholarship-fund/distribution-batch-service",
			"layer", "application",
			"member_id", creatorID,
			"error", err.Error(),
		)
		return CreateBatchResult{}, err
	}

	logger.Info("batch created",
		"event", "distribution_batch_created",
		"module", "scholarship-fund/distribution-batch-service",
		"layer", "application",
		"batch_id", batch.BatchID,
		"member_id", creatorID,
		"total_fund_usd", batch.TotalFundUSD.StringFixed(2),
		"total_credits", batch.TotalCredits,
		"student_count", len(allocations),
	)
	return CreateBatchResult{Batch: batch, Allocations: allocations}, nil
}
