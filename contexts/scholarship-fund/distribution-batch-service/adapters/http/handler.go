package httpadapter

import (
	"context"
	"log/slog"
	"time"

	"scholarshipboard/contexts/scholarship-fund/distribution-batch-service/application/commands"
	"scholarshipboard/contexts/scholarship-fund/distribution-batch-service/application/queries"
	"scholarshipboard/contexts/scholarship-fund/distribution-batch-service/domain/entities"
	"scholarshipboard/contexts/scholarship-fund/distribution-batch-service/ports"
	httptransport "scholarshipboard/contexts/scholarship-fund/distribution-batch-service/transport/http"

	"github.com/shopspring/decimal"
)

type Handler struct {
	Batches commands.BatchUseCase
	Queries queries.BatchQueries
	Members ports.MemberDirectory
	Auth    ports.Authenticator
	Clock   ports.Clock
	Logger  *slog.Logger
}

// AuthenticateHandler resolves the bearer token and records the member in
// the directory so the members listing reflects everyone who signed in.
func (h Handler) AuthenticateHandler(ctx context.Context, token string) (entities.Member, error) {
	member, err := h.Auth.Authenticate(ctx, token)
	if err != nil {
		return entities.Member{}, err
	}
	now := time.Now().UTC()
	if h.Clock != nil {
		now = h.Clock.Now().UTC()
	}
	if h.Members != nil {
		if err := h.Members.UpsertMember(ctx, member, now); err != nil {
			return entities.Member{}, err
		}
	}
	return member, nil
}

func (h Handler) PendingPreviewHandler(ctx context.Context, fund decimal.Decimal) (httptransport.PendingPreviewResponse, error) {
	preview, err := h.Queries.PendingPreview(ctx, fund)
	if err != nil {
		return httptransport.PendingPreviewResponse{}, err
	}
	return mapPreview(preview), nil
}

func (h Handler) CurrentBatchHandler(
	ctx context.Context,
	member entities.Member,
	batchID int64,
) (httptransport.CurrentBatchResponse, error) {
	view, err := h.Queries.CurrentBatch(ctx, member, batchID)
	if err != nil {
		return httptransport.CurrentBatchResponse{}, err
	}
	response := httptransport.CurrentBatchResponse{
		HasPendingBatch:     view.HasPendingBatch,
		Allocations:         mapAllocations(view.Allocations),
		Approvals:           mapApprovals(view.Approvals),
		CurrentUserApproved: view.CurrentUserApproved,
		ActiveMembers:       mapMembers(view.ActiveMembers),
	}
	if view.Summary != nil {
		summary := mapSummary(*view.Summary)
		response.Batch = &summary
	}
	if view.Preview != nil {
		preview := mapPreview(*view.Preview)
		response.Preview = &preview
	}
	return response, nil
}

func (h Handler) CreateBatchHandler(
	ctx context.Context,
	member entities.Member,
	req httptransport.CreateBatchRequest,
) (httptransport.CreateBatchResponse, error) {
	result, err := h.Batches.CreateBatch(ctx, commands.CreateBatchCommand{
		Creator:      member,
		TotalFundUSD: req.TotalFundUSD,
		Notes:        req.Notes,
	})
	if err != nil {
		return httptransport.CreateBatchResponse{}, err
	}
	return httptransport.CreateBatchResponse{
		Batch: mapSummary(queries.BatchSummary{
			Batch:             result.Batch,
			RequiredApprovals: h.Queries.Quorum,
		}),
		Allocations: mapAllocations(result.Allocations),
	}, nil
}

func (h Handler) ApproveBatchHandler(
	ctx context.Context,
	member entities.Member,
	batchID int64,
	clientAddr string,
) (httptransport.ApproveBatchResponse, error) {
	result, err := h.Batches.ApproveBatch(ctx, commands.ApproveBatchCommand{
		BatchID:    batchID,
		Member:     member,
		ClientAddr: clientAddr,
	})
	if err != nil {
		return httptransport.ApproveBatchResponse{}, err
	}
	return httptransport.ApproveBatchResponse{
		BatchID:           batchID,
		Approval:          mapApproval(result.Approval),
		ApprovalCount:     result.ApprovalCount,
		RequiredApprovals: result.RequiredApprovals,
		CanExecute:        result.CanExecute,
	}, nil
}

func (h Handler) ExecuteBatchHandler(
	ctx context.Context,
	member entities.Member,
	batchID int64,
) (httptransport.ExecuteBatchResponse, error) {
	result, err := h.Batches.ExecuteBatch(ctx, commands.ExecuteBatchCommand{
		BatchID:  batchID,
		Executor: member,
	})
	if err != nil {
		return httptransport.ExecuteBatchResponse{}, err
	}
	return httptransport.ExecuteBatchResponse{
		BatchID:             result.BatchID,
		StudentsProcessed:   result.StudentsProcessed,
		TotalUSDDistributed: result.TotalUSDDistributed.StringFixed(2),
		DistributedAt:       formatTime(result.DistributedAt),
	}, nil
}

func (h Handler) HistoryHandler(ctx context.Context, limit int, offset int) (httptransport.HistoryResponse, error) {
	page, err := h.Queries.History(ctx, limit, offset)
	if err != nil {
		return httptransport.HistoryResponse{}, err
	}
	items := make([]httptransport.BatchSummaryResponse, 0, len(page.Items))
	for _, item := range page.Items {
		items = append(items, mapSummary(item))
	}
	return httptransport.HistoryResponse{
		Items:  items,
		Total:  page.Total,
		Limit:  page.Limit,
		Offset: page.Offset,
	}, nil
}

func (h Handler) ReportHandler(ctx context.Context, batchID int64) (httptransport.ReportResponse, error) {
	report, err := h.Queries.Report(ctx, batchID)
	if err != nil {
		return httptransport.ReportResponse{}, err
	}
	return httptransport.ReportResponse{
		GeneratedAt:  formatTime(report.GeneratedAt),
		StudentCount: len(report.Allocations),
		Batch:        mapSummary(report.Summary),
		Approvals:    mapApprovals(report.Approvals),
		Allocations:  mapAllocations(report.Allocations),
		Comments:     mapComments(report.Comments),
	}, nil
}

func (h Handler) ListCommentsHandler(
	ctx context.Context,
	member entities.Member,
	batchID int64,
) (httptransport.CommentsResponse, error) {
	view, err := h.Queries.ListComments(ctx, batchID, member.MemberID)
	if err != nil {
		return httptransport.CommentsResponse{}, err
	}
	response := httptransport.CommentsResponse{Items: mapComments(view.Items)}
	if view.CurrentUserComment != nil {
		own := mapComment(*view.CurrentUserComment)
		response.CurrentUserComment = &own
	}
	return response, nil
}

func (h Handler) SaveCommentHandler(
	ctx context.Context,
	member entities.Member,
	batchID int64,
	req httptransport.SaveCommentRequest,
) (httptransport.CommentResponse, error) {
	comment, err := h.Batches.SaveComment(ctx, commands.SaveCommentCommand{
		BatchID:      batchID,
		Member:       member,
		Body:         req.Comment,
		IncludeInPDF: req.IncludeInPDF,
	})
	if err != nil {
		return httptransport.CommentResponse{}, err
	}
	return mapComment(comment), nil
}

func (h Handler) RecipientsHandler(ctx context.Context) (httptransport.RecipientsResponse, error) {
	view, err := h.Queries.Recipients(ctx)
	if err != nil {
		return httptransport.RecipientsResponse{}, err
	}
	items := make([]httptransport.RecipientResponse, 0, len(view.Items))
	for _, recipient := range view.Items {
		item := httptransport.RecipientResponse{
			StudentID:           recipient.StudentID,
			DisplayName:         recipient.DisplayName,
			GuardianEmail:       recipient.GuardianEmail,
			ScholarshipUSD:      recipient.ScholarshipUSD.StringFixed(2),
			TotalDistributedUSD: recipient.TotalDistributedUSD.StringFixed(2),
			DistributionCount:   recipient.DistributionCount,
		}
		if recipient.LastDistributedAt != nil {
			item.LastDistributedAt = formatTime(*recipient.LastDistributedAt)
		}
		items = append(items, item)
	}
	return httptransport.RecipientsResponse{
		Recipients:          items,
		TotalDistributedUSD: view.TotalDistributedUSD.StringFixed(2),
	}, nil
}

func (h Handler) MembersHandler(ctx context.Context) (httptransport.MembersResponse, error) {
	members, err := h.Queries.ListMembers(ctx)
	if err != nil {
		return httptransport.MembersResponse{}, err
	}
	return httptransport.MembersResponse{Items: mapMembers(members)}, nil
}

func (h Handler) PollHandler(
	ctx context.Context,
	member entities.Member,
	batchID int64,
	lastHash string,
	wait time.Duration,
) (httptransport.PollResponse, error) {
	result, err := h.Queries.Poll(ctx, queries.PollRequest{
		BatchID:  batchID,
		LastHash: lastHash,
		Wait:     wait,
		Member:   member,
	})
	if err != nil {
		return httptransport.PollResponse{}, err
	}
	response := httptransport.PollResponse{
		Updated:   result.Updated,
		StateHash: result.StateHash,
	}
	if !result.Updated {
		return response, nil
	}
	summary := mapSummary(*result.Summary)
	response.Batch = &summary
	response.Approvals = mapApprovals(result.Approvals)
	response.ActiveMembers = mapMembers(result.ActiveMembers)
	response.CurrentUserApproved = result.CurrentUserApproved
	return response, nil
}

func mapSummary(summary queries.BatchSummary) httptransport.BatchSummaryResponse {
	batch := summary.Batch
	response := httptransport.BatchSummaryResponse{
		BatchID:             batch.BatchID,
		Status:              string(batch.Status),
		TotalFundUSD:        batch.TotalFundUSD.StringFixed(2),
		TotalCredits:        batch.TotalCredits,
		Notes:               batch.Notes,
		CreatedAt:           formatTime(batch.CreatedAt),
		CreatedBy:           mapCreator(batch.CreatedBy),
		DistributedBy:       batch.DistributedBy,
		StudentsProcessed:   batch.StudentsProcessed,
		TotalUSDDistributed: batch.TotalUSDDistributed.StringFixed(2),
		ApprovalCount:       summary.ApprovalCount,
		RequiredApprovals:   summary.RequiredApprovals,
		CanExecute:          summary.CanExecute,
	}
	if response.RequiredApprovals <= 0 {
		response.RequiredApprovals = entities.DefaultQuorum
	}
	if batch.DistributedAt != nil {
		response.DistributedAt = formatTime(*batch.DistributedAt)
	}
	return response
}

func mapCreator(member entities.Member) httptransport.CreatorResponse {
	return httptransport.CreatorResponse{
		ID:    member.MemberID,
		Name:  member.DisplayName,
		Email: member.Email,
	}
}

func mapPreview(preview queries.Preview) httptransport.PendingPreviewResponse {
	response := httptransport.PendingPreviewResponse{
		Eligible:     preview.Eligible,
		TotalFundUSD: preview.TotalFundUSD.StringFixed(2),
		TotalCredits: preview.TotalCredits,
		StudentCount: len(preview.Allocations),
		Allocations:  mapAllocations(preview.Allocations),
		CurrentDate:  formatTime(preview.CurrentDate),
	}
	if preview.LastDistributedAt != nil {
		response.LastDistributedAt = formatTime(*preview.LastDistributedAt)
	}
	return response
}

func mapAllocations(allocations []entities.Allocation) []httptransport.AllocationResponse {
	items := make([]httptransport.AllocationResponse, 0, len(allocations))
	for _, allocation := range allocations {
		items = append(items, httptransport.AllocationResponse{
			StudentID:        allocation.StudentID,
			DisplayName:      allocation.DisplayName,
			GuardianEmail:    allocation.GuardianEmail,
			CreditsConverted: allocation.CreditsConverted,
			Percentage:       allocation.Percentage.StringFixed(2),
			USDAmount:        allocation.USDAmount.StringFixed(2),
		})
	}
	return items
}

func mapApproval(approval entities.Approval) httptransport.ApprovalResponse {
	return httptransport.ApprovalResponse{
		ApprovalID: approval.ApprovalID,
		MemberID:   approval.MemberID,
		MemberName: approval.MemberName,
		ApprovedAt: formatTime(approval.ApprovedAt),
	}
}

func mapApprovals(approvals []entities.Approval) []httptransport.ApprovalResponse {
	items := make([]httptransport.ApprovalResponse, 0, len(approvals))
	for _, approval := range approvals {
		items = append(items, mapApproval(approval))
	}
	return items
}

func mapMembers(members []entities.Member) []httptransport.MemberResponse {
	items := make([]httptransport.MemberResponse, 0, len(members))
	for _, member := range members {
		items = append(items, httptransport.MemberResponse{
			MemberID:    member.MemberID,
			DisplayName: member.DisplayName,
			Email:       member.Email,
			IsAdmin:     member.IsAdmin,
		})
	}
	return items
}

func mapComment(comment entities.Comment) httptransport.CommentResponse {
	return httptransport.CommentResponse{
		CommentID:    comment.CommentID,
		BatchID:      comment.BatchID,
		MemberID:     comment.MemberID,
		MemberName:   comment.MemberName,
		Body:         comment.Body,
		IncludeInPDF: comment.IncludeInPDF,
		CreatedAt:    formatTime(comment.CreatedAt),
		UpdatedAt:    formatTime(comment.UpdatedAt),
	}
}

func mapComments(comments []entities.Comment) []httptransport.CommentResponse {
	items := make([]httptransport.CommentResponse, 0, len(comments))
	for _, comment := range comments {
		items = append(items, mapComment(comment))
	}
	return items
}

func formatTime(value time.Time) string {
	if value.IsZero() {
		return ""
	}
	return value.UTC().Format(time.RFC3339)
}
