package memory

import (
	"bytes"
	"context"
	"encoding/json"
	"sort"
	"strings"
	"sync"
	"time"

	"scholarshipboard/contexts/scholarship-fund/distribution-batch-service/domain/entities"
	domainerrors "scholarshipboard/contexts/scholarship-fund/distribution-batch-service/domain/errors"
	"scholarshipboard/contexts/scholarship-fund/distribution-batch-service/ports"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type outboxRecord struct {
	message   ports.OutboxMessage
	seq       int64
	published bool
}

type memberRecord struct {
	member   entities.Member
	lastSeen time.Time
}

// Store keeps the whole distribution workflow in process. Every write takes
// the single mutex, which gives the same all-or-nothing behaviour the
// postgres adapter gets from transactions.
type Store struct {
	mu sync.RWMutex

	nextBatchID int64
	students    map[string]entities.StudentCredit
	batches     map[int64]entities.Batch
	allocations map[int64][]entities.Allocation
	approvals   map[int64][]entities.Approval
	comments    map[int64]map[string]entities.Comment
	members     map[string]memberRecord
	presence    map[string]entities.PresenceEntry
	tokens      map[string]entities.Member
	outbox      map[string]outboxRecord
	outboxSeq   int64

	now func() time.Time
}

func NewStore(seed []entities.StudentCredit) *Store {
	students := make(map[string]entities.StudentCredit, len(seed))
	for _, student := range seed {
		students[strings.TrimSpace(student.StudentID)] = student
	}
	return &Store{
		students:    students,
		batches:     make(map[int64]entities.Batch),
		allocations: make(map[int64][]entities.Allocation),
		approvals:   make(map[int64][]entities.Approval),
		comments:    make(map[int64]map[string]entities.Comment),
		members:     make(map[string]memberRecord),
		presence:    make(map[string]entities.PresenceEntry),
		tokens:      make(map[string]entities.Member),
		outbox:      make(map[string]outboxRecord),
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// SetClock replaces the store clock. Tests use it to age presence entries.
func (s *Store) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if now != nil {
		s.now = now
	}
}

func (s *Store) SetStudent(student entities.StudentCredit) {
	s.mu.Lock()
	defer s.mu.Unlock()
	student.StudentID = strings.TrimSpace(student.StudentID)
	s.students[student.StudentID] = student
}

func (s *Store) Student(studentID string) (entities.StudentCredit, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	student, ok := s.students[strings.TrimSpace(studentID)]
	return student, ok
}

// SetMemberToken registers an opaque bearer token for a member.
func (s *Store) SetMemberToken(token string, member entities.Member) {
	s.mu.Lock()
	defer s.mu.Unlock()
	member.MemberID = strings.TrimSpace(member.MemberID)
	s.tokens[strings.TrimSpace(token)] = member
}

func (s *Store) Authenticate(_ context.Context, token string) (entities.Member, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	member, ok := s.tokens[strings.TrimSpace(token)]
	if !ok || strings.TrimSpace(token) == "" {
		return entities.Member{}, domainerrors.ErrUnauthenticated
	}
	return member, nil
}

func (s *Store) CreatePendingBatch(_ context.Context, params ports.CreateBatchParams) (entities.Batch, []entities.Allocation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, batch := range s.batches {
		if batch.IsPending() {
			return entities.Batch{}, nil, domainerrors.ErrPendingBatchExists
		}
	}
	if params.Plan == nil {
		return entities.Batch{}, nil, domainerrors.ErrInvalidInput
	}

	batchID := s.nextBatchID + 1
	allocations, err := params.Plan(batchID, s.eligibleLocked())
	if err != nil {
		return entities.Batch{}, nil, err
	}
	totalCredits, _ := entities.SumAllocations(allocations)
	batch := entities.Batch{
		BatchID:      batchID,
		TotalFundUSD: params.TotalFundUSD,
		TotalCredits: totalCredits,
		CreatedAt:    params.CreatedAt.UTC(),
		CreatedBy:    params.Creator,
		Notes:        params.Notes,
		Status:       entities.BatchStatusPending,
	}
	if err := s.appendEventLocked(params.Event, batch, map[string]any{
		"created_by":    params.Creator.MemberID,
		"student_count": len(allocations),
	}); err != nil {
		return entities.Batch{}, nil, err
	}

	s.nextBatchID = batchID
	s.batches[batchID] = batch
	s.allocations[batchID] = append([]entities.Allocation(nil), allocations...)
	return batch, allocations, nil
}

func (s *Store) GetBatch(_ context.Context, batchID int64) (entities.Batch, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	batch, ok := s.batches[batchID]
	if !ok {
		return entities.Batch{}, domainerrors.ErrBatchNotFound
	}
	return batch, nil
}

func (s *Store) GetPendingBatch(_ context.Context) (entities.Batch, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, batch := range s.batches {
		if batch.IsPending() {
			return batch, true, nil
		}
	}
	return entities.Batch{}, false, nil
}

func (s *Store) GetLastDistributedBatch(_ context.Context) (entities.Batch, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	items := s.distributedLocked()
	if len(items) == 0 {
		return entities.Batch{}, false, nil
	}
	return items[0], true, nil
}

func (s *Store) ListDistributedBatches(_ context.Context, limit int, offset int) ([]entities.Batch, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	items := s.distributedLocked()
	total := len(items)
	if offset >= total {
		return []entities.Batch{}, total, nil
	}
	items = items[offset:]
	if limit > 0 && len(items) > limit {
		items = items[:limit]
	}
	return items, total, nil
}

func (s *Store) ListAllocations(_ context.Context, batchID int64) ([]entities.Allocation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if _, ok := s.batches[batchID]; !ok {
		return nil, domainerrors.ErrBatchNotFound
	}
	return append([]entities.Allocation(nil), s.allocations[batchID]...), nil
}

func (s *Store) ListEligibleStudents(_ context.Context) ([]entities.StudentCredit, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.eligibleLocked(), nil
}

func (s *Store) ListRecipients(_ context.Context) ([]entities.Recipient, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	byStudent := make(map[string]*entities.Recipient)
	for _, batch := range s.distributedLocked() {
		for _, allocation := range s.allocations[batch.BatchID] {
			recipient, ok := byStudent[allocation.StudentID]
			if !ok {
				recipient = &entities.Recipient{
					StudentID:           allocation.StudentID,
					DisplayName:         allocation.DisplayName,
					GuardianEmail:       allocation.GuardianEmail,
					TotalDistributedUSD: decimal.Zero,
				}
				if student, found := s.students[allocation.StudentID]; found {
					recipient.DisplayName = student.DisplayName
					recipient.GuardianEmail = student.GuardianEmail
					recipient.ScholarshipUSD = student.ScholarshipUSD
				}
				byStudent[allocation.StudentID] = recipient
			}
			recipient.TotalDistributedUSD = recipient.TotalDistributedUSD.Add(allocation.USDAmount)
			recipient.DistributionCount++
			if batch.DistributedAt != nil &&
				(recipient.LastDistributedAt == nil || batch.DistributedAt.After(*recipient.LastDistributedAt)) {
				at := *batch.DistributedAt
				recipient.LastDistributedAt = &at
			}
		}
	}
	items := make([]entities.Recipient, 0, len(byStudent))
	for _, recipient := range byStudent {
		items = append(items, *recipient)
	}
	entities.SortRecipients(items)
	return items, nil
}

func (s *Store) ApproveBatch(_ context.Context, params ports.ApproveBatchParams) (ports.ApproveBatchResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	batch, ok := s.batches[params.BatchID]
	if !ok {
		return ports.ApproveBatchResult{}, domainerrors.ErrBatchNotFound
	}
	if !batch.IsPending() {
		return ports.ApproveBatchResult{}, domainerrors.ErrNotPending
	}
	memberID := strings.TrimSpace(params.Member.MemberID)
	for _, existing := range s.approvals[params.BatchID] {
		if existing.MemberID == memberID {
			return ports.ApproveBatchResult{}, domainerrors.ErrAlreadyApproved
		}
	}

	approval := entities.Approval{
		ApprovalID: params.ApprovalID,
		BatchID:    params.BatchID,
		MemberID:   memberID,
		MemberName: params.Member.DisplayName,
		ApprovedAt: params.ApprovedAt.UTC(),
		ClientAddr: params.ClientAddr,
	}
	count := len(s.approvals[params.BatchID]) + 1
	if err := s.appendEventLocked(params.Event, batch, map[string]any{
		"member_id":      memberID,
		"approval_count": count,
	}); err != nil {
		return ports.ApproveBatchResult{}, err
	}
	s.approvals[params.BatchID] = append(s.approvals[params.BatchID], approval)
	return ports.ApproveBatchResult{Approval: approval, ApprovalCount: count, Batch: batch}, nil
}

func (s *Store) ListApprovals(_ context.Context, batchID int64) ([]entities.Approval, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if _, ok := s.batches[batchID]; !ok {
		return nil, domainerrors.ErrBatchNotFound
	}
	return append([]entities.Approval(nil), s.approvals[batchID]...), nil
}

func (s *Store) ExecuteBatch(_ context.Context, params ports.ExecuteBatchParams) (entities.ExecutionResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	batch, ok := s.batches[params.BatchID]
	if !ok {
		return entities.ExecutionResult{}, domainerrors.ErrBatchNotFound
	}
	if batch.Status == entities.BatchStatusDistributed {
		return entities.ExecutionResult{}, domainerrors.ErrAlreadyDistributed
	}
	if !batch.CanExecute(len(s.approvals[params.BatchID]), params.Quorum) {
		return entities.ExecutionResult{}, domainerrors.ErrNotReady
	}

	allocations := s.allocations[params.BatchID]
	for _, allocation := range allocations {
		student, ok := s.students[allocation.StudentID]
		if !ok || student.Credits < allocation.CreditsConverted {
			return entities.ExecutionResult{}, domainerrors.ErrStudentBalanceChanged
		}
	}

	executedAt := params.ExecutedAt.UTC()
	processed, total := len(allocations), decimal.Zero
	for _, allocation := range allocations {
		total = total.Add(allocation.USDAmount)
	}
	batch.Status = entities.BatchStatusDistributed
	batch.DistributedAt = &executedAt
	batch.DistributedBy = strings.TrimSpace(params.ExecutorID)
	batch.StudentsProcessed = processed
	batch.TotalUSDDistributed = total
	if err := s.appendEventLocked(params.Event, batch, map[string]any{
		"distributed_by":        batch.DistributedBy,
		"students_processed":    processed,
		"total_usd_distributed": total.StringFixed(2),
	}); err != nil {
		return entities.ExecutionResult{}, err
	}

	for _, allocation := range allocations {
		student := s.students[allocation.StudentID]
		student.Credits -= allocation.CreditsConverted
		student.ScholarshipUSD = student.ScholarshipUSD.Add(allocation.USDAmount)
		student.UpdatedAt = executedAt
		s.students[allocation.StudentID] = student
	}
	s.batches[params.BatchID] = batch
	return entities.ExecutionResult{
		Batch:               batch,
		StudentsProcessed:   processed,
		TotalUSDDistributed: total,
	}, nil
}

func (s *Store) UpsertComment(_ context.Context, comment entities.Comment) (entities.Comment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.batches[comment.BatchID]; !ok {
		return entities.Comment{}, domainerrors.ErrBatchNotFound
	}
	byMember, ok := s.comments[comment.BatchID]
	if !ok {
		byMember = make(map[string]entities.Comment)
		s.comments[comment.BatchID] = byMember
	}
	if existing, ok := byMember[comment.MemberID]; ok {
		comment.CommentID = existing.CommentID
		comment.CreatedAt = existing.CreatedAt
	}
	byMember[comment.MemberID] = comment
	return comment, nil
}

func (s *Store) ListComments(_ context.Context, batchID int64) ([]entities.Comment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	items := make([]entities.Comment, 0, len(s.comments[batchID]))
	for _, comment := range s.comments[batchID] {
		items = append(items, comment)
	}
	sort.Slice(items, func(i, j int) bool {
		if items[i].CreatedAt.Equal(items[j].CreatedAt) {
			return items[i].MemberID < items[j].MemberID
		}
		return items[i].CreatedAt.Before(items[j].CreatedAt)
	})
	return items, nil
}

func (s *Store) UpsertMember(_ context.Context, member entities.Member, seenAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	member.MemberID = strings.TrimSpace(member.MemberID)
	if member.MemberID == "" {
		return domainerrors.ErrInvalidInput
	}
	s.members[member.MemberID] = memberRecord{member: member, lastSeen: seenAt.UTC()}
	return nil
}

func (s *Store) ListMembers(_ context.Context) ([]entities.Member, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	items := make([]entities.Member, 0, len(s.members))
	for _, record := range s.members {
		items = append(items, record.member)
	}
	sort.Slice(items, func(i, j int) bool {
		return items[i].DisplayName < items[j].DisplayName ||
			(items[i].DisplayName == items[j].DisplayName && items[i].MemberID < items[j].MemberID)
	})
	return items, nil
}

func (s *Store) Touch(_ context.Context, member entities.Member, seenAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	member.MemberID = strings.TrimSpace(member.MemberID)
	if member.MemberID == "" {
		return domainerrors.ErrInvalidInput
	}
	s.presence[member.MemberID] = entities.PresenceEntry{Member: member, LastSeen: seenAt.UTC()}
	return nil
}

func (s *Store) ListOnline(_ context.Context, now time.Time, window time.Duration) ([]entities.PresenceEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	items := make([]entities.PresenceEntry, 0, len(s.presence))
	for _, entry := range s.presence {
		if entry.Online(now, window) {
			items = append(items, entry)
		}
	}
	entities.SortPresence(items)
	return items, nil
}

func (s *Store) Prune(_ context.Context, olderThan time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	removed := 0
	for memberID, entry := range s.presence {
		if entry.LastSeen.Before(olderThan) {
			delete(s.presence, memberID)
			removed++
		}
	}
	return removed, nil
}

func (s *Store) ListPendingOutbox(_ context.Context, limit int) ([]ports.OutboxMessage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit <= 0 {
		limit = 100
	}
	rows := make([]outboxRecord, 0, len(s.outbox))
	for _, row := range s.outbox {
		if !row.published {
			rows = append(rows, row)
		}
	}
	sort.Slice(rows, func(i, j int) bool {
		if !rows[i].message.CreatedAt.Equal(rows[j].message.CreatedAt) {
			return rows[i].message.CreatedAt.Before(rows[j].message.CreatedAt)
		}
		return rows[i].seq < rows[j].seq
	})
	if len(rows) > limit {
		rows = rows[:limit]
	}
	items := make([]ports.OutboxMessage, 0, len(rows))
	for _, row := range rows {
		items = append(items, row.message)
	}
	return items, nil
}

func (s *Store) MarkOutboxPublished(_ context.Context, outboxID string, _ time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	row, ok := s.outbox[strings.TrimSpace(outboxID)]
	if !ok {
		return domainerrors.ErrInvalidInput
	}
	row.published = true
	s.outbox[strings.TrimSpace(outboxID)] = row
	return nil
}

func (s *Store) Now() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.now()
}

func (s *Store) NewID(_ context.Context) (string, error) {
	return uuid.NewString(), nil
}

func (s *Store) appendEventLocked(factory ports.EventFactory, batch entities.Batch, data map[string]any) error {
	if factory == nil {
		return nil
	}
	envelope, err := factory(batch, data)
	if err != nil {
		return err
	}
	payload, err := json.Marshal(envelope)
	if err != nil {
		return err
	}
	outboxID := strings.TrimSpace(envelope.EventID)
	if outboxID == "" {
		outboxID = uuid.NewString()
	}
	if existing, ok := s.outbox[outboxID]; ok {
		if !bytes.Equal(existing.message.Payload, payload) {
			return domainerrors.ErrInvalidInput
		}
		return nil
	}
	createdAt := envelope.OccurredAt.UTC()
	if createdAt.IsZero() {
		createdAt = s.now()
	}
	s.outboxSeq++
	s.outbox[outboxID] = outboxRecord{
		seq: s.outboxSeq,
		message: ports.OutboxMessage{
			OutboxID:     outboxID,
			EventType:    strings.TrimSpace(envelope.EventType),
			PartitionKey: strings.TrimSpace(envelope.PartitionKey),
			Payload:      payload,
			CreatedAt:    createdAt,
		},
	}
	return nil
}

func (s *Store) eligibleLocked() []entities.StudentCredit {
	items := make([]entities.StudentCredit, 0, len(s.students))
	for _, student := range s.students {
		if student.Credits > 0 {
			items = append(items, student)
		}
	}
	sort.Slice(items, func(i, j int) bool {
		return items[i].StudentID < items[j].StudentID
	})
	return items
}

func (s *Store) distributedLocked() []entities.Batch {
	items := make([]entities.Batch, 0, len(s.batches))
	for _, batch := range s.batches {
		if batch.Status == entities.BatchStatusDistributed {
			items = append(items, batch)
		}
	}
	sort.Slice(items, func(i, j int) bool {
		if items[i].DistributedAt != nil && items[j].DistributedAt != nil &&
			!items[i].DistributedAt.Equal(*items[j].DistributedAt) {
			return items[i].DistributedAt.After(*items[j].DistributedAt)
		}
		return items[i].BatchID > items[j].BatchID
	})
	return items
}

var (
	_ ports.BatchRepository   = (*Store)(nil)
	_ ports.ApprovalLedger    = (*Store)(nil)
	_ ports.ExecutionGuard    = (*Store)(nil)
	_ ports.CommentRepository = (*Store)(nil)
	_ ports.MemberDirectory   = (*Store)(nil)
	_ ports.PresenceTracker   = (*Store)(nil)
	_ ports.Authenticator     = (*Store)(nil)
	_ ports.OutboxRepository  = (*Store)(nil)
	_ ports.Clock             = (*Store)(nil)
	_ ports.IDGenerator       = (*Store)(nil)
)
