package queries

import (
	"context"
	"strings"
	"time"

	application "scholarshipboard/contexts/scholarship-fund/distribution-batch-service/application"
	"scholarshipboard/contexts/scholarship-fund/distribution-batch-service/domain/entities"
	domainerrors "scholarshipboard/contexts/scholarship-fund/distribution-batch-service/domain/errors"
)

const (
	DefaultPollMaxWait  = 30 * time.Second
	DefaultPollInterval = 500 * time.Millisecond
)

type PollRequest struct {
	BatchID  int64
	LastHash string
	Wait     time.Duration
	Member   entities.Member
}

type PollResult struct {
	Updated             bool
	StateHash           string
	Summary             *BatchSummary
	Approvals           []entities.Approval
	ActiveMembers       []entities.Member
	CurrentUserApproved bool
}

type pollSnapshot struct {
	hash      string
	summary   BatchSummary
	approvals []entities.Approval
	online    []entities.Member
}

// Poll answers a change-notification request. It refreshes the caller's
// presence once, then compares the current state hash with LastHash. A
// mismatch returns the full projection immediately; otherwise the request is
// held and re-read every PollInterval until something changes, the wait
// budget runs out or ctx is cancelled. Nothing is locked while waiting.
func (q BatchQueries) Poll(ctx context.Context, req PollRequest) (PollResult, error) {
	logger := application.ResolveLogger(q.Logger)
	memberID := strings.TrimSpace(req.Member.MemberID)
	if req.BatchID <= 0 || memberID == "" {
		return PollResult{}, domainerrors.ErrInvalidInput
	}
	if err := q.Presence.Touch(ctx, req.Member, q.now()); err != nil {
		return PollResult{}, err
	}

	wait := req.Wait
	maxWait := q.PollMaxWait
	if maxWait <= 0 {
		maxWait = DefaultPollMaxWait
	}
	if wait < 0 {
		wait = 0
	}
	if wait > maxWait {
		wait = maxWait
	}
	interval := q.PollInterval
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	lastHash := strings.TrimSpace(req.LastHash)

	var deadline <-chan time.Time
	if wait > 0 {
		timer := time.NewTimer(wait)
		defer timer.Stop()
		deadline = timer.C
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		snapshot, err := q.snapshot(ctx, req.BatchID)
		if err != nil {
			return PollResult{}, err
		}
		if snapshot.hash != lastHash {
			logger.Debug("poll observed state change",
				"event", "distribution_batch_poll_updated",
				"module", "scholarship-fund/distribution-batch-service",
				"layer", "application",
				"batch_id", req.BatchID,
				"member_id", memberID,
				"state_hash", snapshot.hash,
			)
			summary := snapshot.summary
			return PollResult{
				Updated:             true,
				StateHash:           snapshot.hash,
				Summary:             &summary,
				Approvals:           snapshot.approvals,
				ActiveMembers:       snapshot.online,
				CurrentUserApproved: hasApproved(snapshot.approvals, memberID),
			}, nil
		}
		// A distributed batch is terminal; holding the request would only
		// delay the client's exit.
		if wait == 0 || snapshot.summary.Batch.Status == entities.BatchStatusDistributed {
			return PollResult{StateHash: snapshot.hash}, nil
		}

		select {
		case <-ctx.Done():
			return PollResult{}, ctx.Err()
		case <-deadline:
			return PollResult{StateHash: snapshot.hash}, nil
		case <-ticker.C:
		}
	}
}

// CurrentStateHash is the hash a fresh poll would compare against.
func (q BatchQueries) CurrentStateHash(ctx context.Context, batchID int64) (string, error) {
	snapshot, err := q.snapshot(ctx, batchID)
	if err != nil {
		return "", err
	}
	return snapshot.hash, nil
}

func (q BatchQueries) snapshot(ctx context.Context, batchID int64) (pollSnapshot, error) {
	batch, err := q.Batches.GetBatch(ctx, batchID)
	if err != nil {
		return pollSnapshot{}, err
	}
	approvals, err := q.Approvals.ListApprovals(ctx, batchID)
	if err != nil {
		return pollSnapshot{}, err
	}
	online, err := q.onlineMembers(ctx)
	if err != nil {
		return pollSnapshot{}, err
	}

	approvalIDs := make([]string, 0, len(approvals))
	for _, approval := range approvals {
		approvalIDs = append(approvalIDs, approval.MemberID)
	}
	onlineIDs := make([]string, 0, len(online))
	for _, member := range online {
		onlineIDs = append(onlineIDs, member.MemberID)
	}
	return pollSnapshot{
		hash: entities.StateHash(entities.BatchState{
			Status:            batch.Status,
			ApprovalMemberIDs: approvalIDs,
			OnlineMemberIDs:   onlineIDs,
		}),
		summary:   q.summarize(batch, len(approvals)),
		approvals: approvals,
		online:    online,
	}, nil
}
