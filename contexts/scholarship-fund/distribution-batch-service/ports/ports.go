package ports

import (
	"context"
	"time"

	"scholarshipboard/contexts/scholarship-fund/distribution-batch-service/domain/entities"
	contractsv1 "scholarshipboard/contracts/gen/events/v1"

	"github.com/shopspring/decimal"
)

// AllocationPlanner turns the locked credit snapshot into allocations. The
// repository calls it inside the same transaction that inserts the batch.
type AllocationPlanner func(batchID int64, students []entities.StudentCredit) ([]entities.Allocation, error)

type CreateBatchParams struct {
	TotalFundUSD decimal.Decimal
	Notes        string
	Creator      entities.Member
	CreatedAt    time.Time
	Plan         AllocationPlanner
	Event        EventFactory
}

type ApproveBatchParams struct {
	BatchID    int64
	Member     entities.Member
	ClientAddr string
	ApprovalID string
	ApprovedAt time.Time
	Event      EventFactory
}

type ApproveBatchResult struct {
	Approval      entities.Approval
	ApprovalCount int
	Batch         entities.Batch
}

type ExecuteBatchParams struct {
	BatchID    int64
	ExecutorID string
	Quorum     int
	ExecutedAt time.Time
	Event      EventFactory
}

// EventFactory builds the outbox envelope for a state change from the state
// the repository just wrote. A nil factory skips the outbox.
type EventFactory func(batch entities.Batch, data map[string]any) (EventEnvelope, error)

type BatchRepository interface {
	CreatePendingBatch(ctx context.Context, params CreateBatchParams) (entities.Batch, []entities.Allocation, error)
	GetBatch(ctx context.Context, batchID int64) (entities.Batch, error)
	GetPendingBatch(ctx context.Context) (entities.Batch, bool, error)
	GetLastDistributedBatch(ctx context.Context) (entities.Batch, bool, error)
	ListDistributedBatches(ctx context.Context, limit int, offset int) ([]entities.Batch, int, error)
	ListAllocations(ctx context.Context, batchID int64) ([]entities.Allocation, error)
	ListEligibleStudents(ctx context.Context) ([]entities.StudentCredit, error)
	ListRecipients(ctx context.Context) ([]entities.Recipient, error)
}

type ApprovalLedger interface {
	ApproveBatch(ctx context.Context, params ApproveBatchParams) (ApproveBatchResult, error)
	ListApprovals(ctx context.Context, batchID int64) ([]entities.Approval, error)
}

type ExecutionGuard interface {
	ExecuteBatch(ctx context.Context, params ExecuteBatchParams) (entities.ExecutionResult, error)
}

type CommentRepository interface {
	UpsertComment(ctx context.Context, comment entities.Comment) (entities.Comment, error)
	ListComments(ctx context.Context, batchID int64) ([]entities.Comment, error)
}

type MemberDirectory interface {
	UpsertMember(ctx context.Context, member entities.Member, seenAt time.Time) error
	ListMembers(ctx context.Context) ([]entities.Member, error)
}

// PresenceTracker holds volatile "currently observing" entries. Losing it on
// restart is acceptable.
type PresenceTracker interface {
	Touch(ctx context.Context, member entities.Member, seenAt time.Time) error
	ListOnline(ctx context.Context, now time.Time, window time.Duration) ([]entities.PresenceEntry, error)
	Prune(ctx context.Context, olderThan time.Time) (int, error)
}

type Authenticator interface {
	Authenticate(ctx context.Context, token string) (entities.Member, error)
}

type EventEnvelope = contractsv1.Envelope

type OutboxMessage struct {
	OutboxID     string
	EventType    string
	PartitionKey string
	Payload      []byte
	CreatedAt    time.Time
}

type OutboxRepository interface {
	ListPendingOutbox(ctx context.Context, limit int) ([]OutboxMessage, error)
	MarkOutboxPublished(ctx context.Context, outboxID string, publishedAt time.Time) error
}

type EventPublisher interface {
	Publish(ctx context.Context, topic string, event EventEnvelope) error
}

type Clock interface {
	Now() time.Time
}

type IDGenerator interface {
	NewID(ctx context.Context) (string, error)
}
