package commands

import (
	"context"
	"strings"
	"unicode/utf8"

	application "scholarshipboard/contexts/scholarship-fund/distribution-batch-service/application"
	"scholarshipboard/contexts/scholarship-fund/distribution-batch-service/domain/entities"
	domainerrors "scholarshipboard/contexts/scholarship-fund/distribution-batch-service/domain/errors"
)

type SaveCommentCommand struct {
	BatchID      int64
	Member       entities.Member
	Body         string
	IncludeInPDF bool
}

// SaveComment stores the member's single comment on a pending batch,
// replacing any earlier text from the same member.
func (uc BatchUseCase) SaveComment(ctx context.Context, cmd SaveCommentCommand) (entities.Comment, error) {
	logger := application.ResolveLogger(uc.Logger)
	memberID := strings.TrimSpace(cmd.Member.MemberID)
	body := strings.TrimSpace(cmd.Body)
	if cmd.BatchID <= 0 || memberID == "" || body == "" || utf8.RuneCountInString(body) > maxTextLength {
		return entities.Comment{}, domainerrors.ErrInvalidInput
	}

	batch, err := uc.Batches.GetBatch(ctx, cmd.BatchID)
	if err != nil {
		return entities.Comment{}, err
	}
	if !batch.IsPending() {
		return entities.Comment{}, domainerrors.ErrNotPending
	}

	commentID, err := uc.IDGen.NewID(ctx)
	if err != nil {
		return entities.Comment{}, err
	}
	now := uc.now()
	saved, err := uc.Comments.UpsertComment(ctx, entities.Comment{
		CommentID:    commentID,
		BatchID:      cmd.BatchID,
		MemberID:     memberID,
		MemberName:   strings.TrimSpace(cmd.Member.DisplayName),
		Body:         body,
		IncludeInPDF: cmd.IncludeInPDF,
		CreatedAt:    now,
		UpdatedAt:    now,
	})
	if err != nil {
		return entities.Comment{}, err
	}
	logger.Info("batch comment saved",
		"event", "distribution_batch_comment_saved",
		"module", "scholarship-fund/distribution-batch-service",
		"layer", "application",
		"batch_id", cmd.BatchID,
		"member_id", memberID,
		"include_in_pdf", cmd.IncludeInPDF,
	)
	return saved, nil
}
