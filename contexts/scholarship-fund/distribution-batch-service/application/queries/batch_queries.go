package queries

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	application "scholarshipboard/contexts/scholarship-fund/distribution-batch-service/application"
	"scholarshipboard/contexts/scholarship-fund/distribution-batch-service/domain/entities"
	domainerrors "scholarshipboard/contexts/scholarship-fund/distribution-batch-service/domain/errors"
	"scholarshipboard/contexts/scholarship-fund/distribution-batch-service/ports"

	"github.com/shopspring/decimal"
)

const (
	DefaultHistoryLimit   = 20
	MaxHistoryLimit       = 100
	DefaultPresenceWindow = 45 * time.Second
)

// BatchQueries serves the read side: current batch, live preview, history,
// report data, comments, the member directory and the poll projection.
type BatchQueries struct {
	Batches        ports.BatchRepository
	Approvals      ports.ApprovalLedger
	Comments       ports.CommentRepository
	Members        ports.MemberDirectory
	Presence       ports.PresenceTracker
	Clock          ports.Clock
	Quorum         int
	PresenceWindow time.Duration
	PollMaxWait    time.Duration
	PollInterval   time.Duration
	Logger         *slog.Logger
}

type BatchSummary struct {
	Batch             entities.Batch
	ApprovalCount     int
	RequiredApprovals int
	CanExecute        bool
}

type Preview struct {
	Allocations       []entities.Allocation
	TotalCredits      int64
	TotalFundUSD      decimal.Decimal
	Eligible          bool
	LastDistributedAt *time.Time
	CurrentDate       time.Time
}

type CurrentBatchView struct {
	HasPendingBatch     bool
	Summary             *BatchSummary
	Allocations         []entities.Allocation
	Approvals           []entities.Approval
	CurrentUserApproved bool
	ActiveMembers       []entities.Member
	Preview             *Preview
}

type HistoryPage struct {
	Items  []BatchSummary
	Total  int
	Limit  int
	Offset int
}

type ReportData struct {
	GeneratedAt time.Time
	Summary     BatchSummary
	Approvals   []entities.Approval
	Allocations []entities.Allocation
	Comments    []entities.Comment
}

type RecipientsView struct {
	Items               []entities.Recipient
	TotalDistributedUSD decimal.Decimal
}

type CommentsView struct {
	Items              []entities.Comment
	CurrentUserComment *entities.Comment
}

func (q BatchQueries) now() time.Time {
	now := time.Now().UTC()
	if q.Clock != nil {
		now = q.Clock.Now().UTC()
	}
	return now
}

func (q BatchQueries) quorum() int {
	if q.Quorum <= 0 {
		return entities.DefaultQuorum
	}
	return q.Quorum
}

func (q BatchQueries) presenceWindow() time.Duration {
	if q.PresenceWindow <= 0 {
		return DefaultPresenceWindow
	}
	return q.PresenceWindow
}

func (q BatchQueries) summarize(batch entities.Batch, approvalCount int) BatchSummary {
	quorum := q.quorum()
	return BatchSummary{
		Batch:             batch,
		ApprovalCount:     approvalCount,
		RequiredApprovals: quorum,
		CanExecute:        batch.CanExecute(approvalCount, quorum),
	}
}

// PendingPreview computes allocations from live balances. Nothing is
// persisted; fund may be zero when the caller only wants percentages.
func (q BatchQueries) PendingPreview(ctx context.Context, fund decimal.Decimal) (Preview, error) {
	students, err := q.Batches.ListEligibleStudents(ctx)
	if err != nil {
		return Preview{}, err
	}
	preview := Preview{
		TotalFundUSD: entities.RoundFund(fund),
		CurrentDate:  q.now(),
	}
	allocations, err := entities.PreviewAllocations(fund, students)
	switch {
	case errors.Is(err, domainerrors.ErrNoEligibleRecipients):
		preview.Allocations = []entities.Allocation{}
	case err != nil:
		return Preview{}, err
	default:
		preview.Allocations = allocations
		preview.Eligible = true
		preview.TotalCredits, _ = entities.SumAllocations(allocations)
	}

	last, found, err := q.Batches.GetLastDistributedBatch(ctx)
	if err != nil {
		return Preview{}, err
	}
	if found && last.DistributedAt != nil {
		distributedAt := last.DistributedAt.UTC()
		preview.LastDistributedAt = &distributedAt
	}
	return preview, nil
}

// CurrentBatch returns the pending batch, or the batch named by batchID, with
// its approvals and online members. Without a pending batch the view carries
// a live preview instead.
func (q BatchQueries) CurrentBatch(ctx context.Context, member entities.Member, batchID int64) (CurrentBatchView, error) {
	var (
		batch entities.Batch
		err   error
	)
	if batchID > 0 {
		batch, err = q.Batches.GetBatch(ctx, batchID)
		if err != nil {
			return CurrentBatchView{}, err
		}
	} else {
		var found bool
		batch, found, err = q.Batches.GetPendingBatch(ctx)
		if err != nil {
			return CurrentBatchView{}, err
		}
		if !found {
			preview, err := q.PendingPreview(ctx, decimal.Zero)
			if err != nil {
				return CurrentBatchView{}, err
			}
			return CurrentBatchView{Preview: &preview}, nil
		}
	}

	allocations, err := q.Batches.ListAllocations(ctx, batch.BatchID)
	if err != nil {
		return CurrentBatchView{}, err
	}
	approvals, err := q.Approvals.ListApprovals(ctx, batch.BatchID)
	if err != nil {
		return CurrentBatchView{}, err
	}
	online, err := q.onlineMembers(ctx)
	if err != nil {
		return CurrentBatchView{}, err
	}
	summary := q.summarize(batch, len(approvals))
	return CurrentBatchView{
		HasPendingBatch:     batch.IsPending(),
		Summary:             &summary,
		Allocations:         allocations,
		Approvals:           approvals,
		CurrentUserApproved: hasApproved(approvals, member.MemberID),
		ActiveMembers:       online,
	}, nil
}

// History lists distributed batches newest first.
func (q BatchQueries) History(ctx context.Context, limit int, offset int) (HistoryPage, error) {
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	if limit > MaxHistoryLimit {
		limit = MaxHistoryLimit
	}
	if offset < 0 {
		return HistoryPage{}, domainerrors.ErrInvalidInput
	}
	batches, total, err := q.Batches.ListDistributedBatches(ctx, limit, offset)
	if err != nil {
		return HistoryPage{}, err
	}
	items := make([]BatchSummary, 0, len(batches))
	for _, batch := range batches {
		approvals, err := q.Approvals.ListApprovals(ctx, batch.BatchID)
		if err != nil {
			return HistoryPage{}, err
		}
		items = append(items, q.summarize(batch, len(approvals)))
	}
	return HistoryPage{Items: items, Total: total, Limit: limit, Offset: offset}, nil
}

// Report assembles the payload the report formatter renders. Only
// distributed batches have a report.
func (q BatchQueries) Report(ctx context.Context, batchID int64) (ReportData, error) {
	if batchID <= 0 {
		return ReportData{}, domainerrors.ErrInvalidInput
	}
	batch, err := q.Batches.GetBatch(ctx, batchID)
	if err != nil {
		return ReportData{}, err
	}
	if batch.Status != entities.BatchStatusDistributed {
		return ReportData{}, domainerrors.ErrReportUnavailable
	}
	approvals, err := q.Approvals.ListApprovals(ctx, batchID)
	if err != nil {
		return ReportData{}, err
	}
	allocations, err := q.Batches.ListAllocations(ctx, batchID)
	if err != nil {
		return ReportData{}, err
	}
	comments, err := q.Comments.ListComments(ctx, batchID)
	if err != nil {
		return ReportData{}, err
	}
	printable := make([]entities.Comment, 0, len(comments))
	for _, comment := range comments {
		if comment.IncludeInPDF {
			printable = append(printable, comment)
		}
	}
	application.ResolveLogger(q.Logger).Info("batch report assembled",
		"event", "distribution_batch_report_assembled",
		"module", "scholarship-fund/distribution-batch-service",
		"layer", "application",
		"batch_id", batchID,
		"student_count", len(allocations),
	)
	return ReportData{
		GeneratedAt: q.now(),
		Summary:     q.summarize(batch, len(approvals)),
		Approvals:   approvals,
		Allocations: allocations,
		Comments:    printable,
	}, nil
}

func (q BatchQueries) ListComments(ctx context.Context, batchID int64, memberID string) (CommentsView, error) {
	if batchID <= 0 {
		return CommentsView{}, domainerrors.ErrInvalidInput
	}
	if _, err := q.Batches.GetBatch(ctx, batchID); err != nil {
		return CommentsView{}, err
	}
	comments, err := q.Comments.ListComments(ctx, batchID)
	if err != nil {
		return CommentsView{}, err
	}
	view := CommentsView{Items: comments}
	for i := range comments {
		if comments[i].MemberID == strings.TrimSpace(memberID) {
			own := comments[i]
			view.CurrentUserComment = &own
			break
		}
	}
	return view, nil
}

// Recipients lists every student who received money from at least one
// distributed batch.
func (q BatchQueries) Recipients(ctx context.Context) (RecipientsView, error) {
	items, err := q.Batches.ListRecipients(ctx)
	if err != nil {
		return RecipientsView{}, err
	}
	entities.SortRecipients(items)
	total := decimal.Zero
	for _, item := range items {
		total = total.Add(item.TotalDistributedUSD)
	}
	return RecipientsView{Items: items, TotalDistributedUSD: total}, nil
}

func (q BatchQueries) ListMembers(ctx context.Context) ([]entities.Member, error) {
	return q.Members.ListMembers(ctx)
}

func (q BatchQueries) onlineMembers(ctx context.Context) ([]entities.Member, error) {
	entries, err := q.Presence.ListOnline(ctx, q.now(), q.presenceWindow())
	if err != nil {
		return nil, err
	}
	entities.SortPresence(entries)
	members := make([]entities.Member, 0, len(entries))
	for _, entry := range entries {
		members = append(members, entry.Member)
	}
	return members, nil
}

func hasApproved(approvals []entities.Approval, memberID string) bool {
	memberID = strings.TrimSpace(memberID)
	if memberID == "" {
		return false
	}
	for _, approval := range approvals {
		if approval.MemberID == memberID {
			return true
		}
	}
	return false
}
