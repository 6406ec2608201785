package commands

import (
	"context"
	"strings"

	application "scholarshipboard/contexts/scholarship-fund/distribution-batch-service/application"
	"scholarshipboard/contexts/scholarship-fund/distribution-batch-service/domain/entities"
	domainerrors "scholarshipboard/contexts/scholarship-fund/distribution-batch-service/domain/errors"
	"scholarshipboard/contexts/scholarship-fund/distribution-batch-service/ports"
)

type ApproveBatchCommand struct {
	BatchID    int64
	Member     entities.Member
	ClientAddr string
}

type ApproveBatchResult struct {
	Approval          entities.Approval
	ApprovalCount     int
	RequiredApprovals int
	CanExecute        bool
}

// ApproveBatch appends the member's approval. A second approval by the same
// member fails with ErrAlreadyApproved rather than overwriting the first.
func (uc BatchUseCase) ApproveBatch(ctx context.Context, cmd ApproveBatchCommand) (ApproveBatchResult, error) {
	logger := application.ResolveLogger(uc.Logger)
	memberID := strings.TrimSpace(cmd.Member.MemberID)
	logger.Info("batch approve processing started",
		"event", "distribution_batch_approve_started",
		"module", "scholarship-fund/distribution-batch-service",
		"layer", "application",
		"batch_id", cmd.BatchID,
		"member_id", memberID,
	)
	if cmd.BatchID <= 0 || memberID == "" {
		return ApproveBatchResult{}, domainerrors.ErrInvalidInput
	}

	now := uc.now()
	approvalID, err := uc.IDGen.NewID(ctx)
	if err != nil {
		return ApproveBatchResult{}, err
	}
	event, err := uc.eventFactory(ctx, EventBatchApproved, now)
	if err != nil {
		return ApproveBatchResult{}, err
	}
	member := cmd.Member
	member.MemberID = memberID

	result, err := uc.Approvals.ApproveBatch(ctx, ports.ApproveBatchParams{
		BatchID:    cmd.BatchID,
		Member:     member,
		ClientAddr: strings.TrimSpace(cmd.ClientAddr),
		ApprovalID: approvalID,
		ApprovedAt: now,
		Event:      event,
	})
	if err != nil {
		logger.Warn("batch approve rejected",
			"event", "distribution_batch_approve_rejected",
			"module", "scholarship-fund/distribution-batch-service",
			"layer", "application",
			"batch_id", cmd.BatchID,
			"member_id", memberID,
			"error", err.Error(),
		)
		return ApproveBatchResult{}, err
	}

	quorum := uc.quorum()
	canExecute := result.Batch.CanExecute(result.ApprovalCount, quorum)
	logger.Info("batch approved",
		"event", "distribution_batch_approved",
		"module", "scholarship-fund/distribution-batch-service",
		"layer", "application",
		"batch_id", cmd.BatchID,
		"member_id", memberID,
		"approval_count", result.ApprovalCount,
		"required_approvals", quorum,
		"can_execute", canExecute,
	)
	return ApproveBatchResult{
		Approval:          result.Approval,
		ApprovalCount:     result.ApprovalCount,
		RequiredApprovals: quorum,
		CanExecute:        canExecute,
	}, nil
}
