package postgresadapter

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"time"

	"scholarshipboard/contexts/scholarship-fund/distribution-batch-service/domain/entities"
	domainerrors "scholarshipboard/contexts/scholarship-fund/distribution-batch-service/domain/errors"
	"scholarshipboard/contexts/scholarship-fund/distribution-batch-service/ports"
	sharedoutbox "scholarshipboard/internal/shared/outbox"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var errOutboxConflict = errors.New("outbox event id reused with a different payload")

type Repository struct {
	db     *gorm.DB
	logger *slog.Logger
}

func NewRepository(db *gorm.DB, logger *slog.Logger) *Repository {
	if logger == nil {
		logger = slog.Default()
	}
	return &Repository{
		db:     db,
		logger: logger,
	}
}

// CreatePendingBatch locks the eligible student rows, inserts the batch and
// its allocations, and writes the created event, all in one transaction.
// The partial unique index on pending status turns a lost race into
// ErrPendingBatchExists.
func (r *Repository) CreatePendingBatch(
	ctx context.Context,
	params ports.CreateBatchParams,
) (entities.Batch, []entities.Allocation, error) {
	if params.Plan == nil {
		return entities.Batch{}, nil, domainerrors.ErrInvalidInput
	}
	var (
		batch       entities.Batch
		allocations []entities.Allocation
	)
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var pending int64
		if err := tx.Model(&batchModel{}).
			Where("status = ?", string(entities.BatchStatusPending)).
			Count(&pending).
			Error; err != nil {
			return err
		}
		if pending > 0 {
			return domainerrors.ErrPendingBatchExists
		}

		var students []studentModel
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("credits > 0").
			Order("student_id ASC").
			Find(&students).
			Error; err != nil {
			return err
		}
		snapshot := make([]entities.StudentCredit, 0, len(students))
		for _, row := range students {
			snapshot = append(snapshot, row.toEntity())
		}

		row := batchModel{
			TotalFundUSD:   params.TotalFundUSD,
			CreatedAt:      params.CreatedAt.UTC(),
			CreatedByID:    strings.TrimSpace(params.Creator.MemberID),
			CreatedByName:  strings.TrimSpace(params.Creator.DisplayName),
			CreatedByEmail: strings.TrimSpace(params.Creator.Email),
			Notes:          params.Notes,
			Status:         string(entities.BatchStatusPending),
		}
		if err := tx.Create(&row).Error; err != nil {
			if isUniqueViolation(err) {
				return domainerrors.ErrPendingBatchExists
			}
			return err
		}

		planned, err := params.Plan(row.BatchID, snapshot)
		if err != nil {
			return err
		}
		allocationRows := make([]allocationModel, 0, len(planned))
		for _, allocation := range planned {
			allocationRows = append(allocationRows, allocationModelFromEntity(allocation))
		}
		if err := tx.CreateInBatches(&allocationRows, 500).Error; err != nil {
			return err
		}

		totalCredits, _ := entities.SumAllocations(planned)
		if err := tx.Model(&batchModel{}).
			Where("batch_id = ?", row.BatchID).
			Update("total_credits", totalCredits).
			Error; err != nil {
			return err
		}
		row.TotalCredits = totalCredits
		batch = row.toEntity()
		allocations = planned

		return insertEventTx(tx, params.Event, batch, map[string]any{
			"created_by":    batch.CreatedBy.MemberID,
			"student_count": len(planned),
		})
	})
	if err != nil {
		if isDomainError(err) {
			return entities.Batch{}, nil, err
		}
		return entities.Batch{}, nil, r.logError("distribution_repo_create_batch_failed", err)
	}
	return batch, allocations, nil
}

func (r *Repository) GetBatch(ctx context.Context, batchID int64) (entities.Batch, error) {
	var row batchModel
	err := r.db.WithContext(ctx).
		Where("batch_id = ?", batchID).
		First(&row).
		Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return entities.Batch{}, domainerrors.ErrBatchNotFound
		}
		return entities.Batch{}, r.logError("distribution_repo_get_batch_failed", err, "batch_id", batchID)
	}
	return row.toEntity(), nil
}

func (r *Repository) GetPendingBatch(ctx context.Context) (entities.Batch, bool, error) {
	var row batchModel
	err := r.db.WithContext(ctx).
		Where("status = ?", string(entities.BatchStatusPending)).
		Order("batch_id DESC").
		First(&row).
		Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return entities.Batch{}, false, nil
		}
		return entities.Batch{}, false, r.logError("distribution_repo_get_pending_batch_failed", err)
	}
	return row.toEntity(), true, nil
}

func (r *Repository) GetLastDistributedBatch(ctx context.Context) (entities.Batch, bool, error) {
	items, _, err := r.ListDistributedBatches(ctx, 1, 0)
	if err != nil {
		return entities.Batch{}, false, err
	}
	if len(items) == 0 {
		return entities.Batch{}, false, nil
	}
	return items[0], true, nil
}

func (r *Repository) ListDistributedBatches(ctx context.Context, limit int, offset int) ([]entities.Batch, int, error) {
	base := r.db.WithContext(ctx).
		Model(&batchModel{}).
		Where("status = ?", string(entities.BatchStatusDistributed))

	var total int64
	if err := base.Session(&gorm.Session{}).Count(&total).Error; err != nil {
		return nil, 0, r.logError("distribution_repo_count_history_failed", err)
	}

	var rows []batchModel
	query := base.Session(&gorm.Session{}).
		Order("distributed_at DESC").
		Order("batch_id DESC").
		Offset(offset)
	if limit > 0 {
		query = query.Limit(limit)
	}
	if err := query.Find(&rows).Error; err != nil {
		return nil, 0, r.logError("distribution_repo_list_history_failed", err,
			"limit", limit,
			"offset", offset,
		)
	}
	items := make([]entities.Batch, 0, len(rows))
	for _, row := range rows {
		items = append(items, row.toEntity())
	}
	return items, int(total), nil
}

func (r *Repository) ListAllocations(ctx context.Context, batchID int64) ([]entities.Allocation, error) {
	if _, err := r.GetBatch(ctx, batchID); err != nil {
		return nil, err
	}
	var rows []allocationModel
	if err := r.db.WithContext(ctx).
		Where("batch_id = ?", batchID).
		Order("credits_converted DESC").
		Order("student_id ASC").
		Find(&rows).
		Error; err != nil {
		return nil, r.logError("distribution_repo_list_allocations_failed", err, "batch_id", batchID)
	}
	items := make([]entities.Allocation, 0, len(rows))
	for _, row := range rows {
		items = append(items, row.toEntity())
	}
	return items, nil
}

func (r *Repository) ListEligibleStudents(ctx context.Context) ([]entities.StudentCredit, error) {
	var rows []studentModel
	if err := r.db.WithContext(ctx).
		Where("credits > 0").
		Order("student_id ASC").
		Find(&rows).
		Error; err != nil {
		return nil, r.logError("distribution_repo_list_students_failed", err)
	}
	items := make([]entities.StudentCredit, 0, len(rows))
	for _, row := range rows {
		items = append(items, row.toEntity())
	}
	return items, nil
}

type recipientRow struct {
	StudentID           string
	DisplayName         string
	GuardianEmail       string
	ScholarshipUSD      decimal.Decimal
	TotalDistributedUSD decimal.Decimal
	DistributionCount   int
	LastDistributedAt   *time.Time
}

func (r *Repository) ListRecipients(ctx context.Context) ([]entities.Recipient, error) {
	var rows []recipientRow
	err := r.db.WithContext(ctx).Raw(`
SELECT a.student_id,
       COALESCE(MAX(s.display_name), MAX(a.display_name)) AS display_name,
       COALESCE(MAX(s.guardian_email), MAX(a.guardian_email)) AS guardian_email,
       COALESCE(MAX(s.scholarship_usd), 0) AS scholarship_usd,
       SUM(a.usd_amount) AS total_distributed_usd,
       COUNT(*) AS distribution_count,
       MAX(b.distributed_at) AS last_distributed_at
FROM distribution_allocations a
JOIN distribution_batches b ON b.batch_id = a.batch_id
LEFT JOIN scholarship_students s ON s.student_id = a.student_id
WHERE b.status = ?
GROUP BY a.student_id
ORDER BY total_distributed_usd DESC, a.student_id ASC`,
		string(entities.BatchStatusDistributed),
	).Scan(&rows).Error
	if err != nil {
		return nil, r.logError("distribution_repo_list_recipients_failed", err)
	}
	items := make([]entities.Recipient, 0, len(rows))
	for _, row := range rows {
		items = append(items, entities.Recipient{
			StudentID:           row.StudentID,
			DisplayName:         row.DisplayName,
			GuardianEmail:       row.GuardianEmail,
			ScholarshipUSD:      row.ScholarshipUSD,
			TotalDistributedUSD: row.TotalDistributedUSD,
			DistributionCount:   row.DistributionCount,
			LastDistributedAt:   normalizeOptionalTime(row.LastDistributedAt),
		})
	}
	return items, nil
}

// ApproveBatch inserts the approval under a share lock on the batch row, so
// an execution that already holds the row serializes ahead of it.
func (r *Repository) ApproveBatch(ctx context.Context, params ports.ApproveBatchParams) (ports.ApproveBatchResult, error) {
	var result ports.ApproveBatchResult
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var batchRow batchModel
		if err := tx.Clauses(clause.Locking{Strength: "SHARE"}).
			Where("batch_id = ?", params.BatchID).
			First(&batchRow).
			Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return domainerrors.ErrBatchNotFound
			}
			return err
		}
		batch := batchRow.toEntity()
		if !batch.IsPending() {
			return domainerrors.ErrNotPending
		}

		row := approvalModel{
			ApprovalID: strings.TrimSpace(params.ApprovalID),
			BatchID:    params.BatchID,
			MemberID:   strings.TrimSpace(params.Member.MemberID),
			MemberName: strings.TrimSpace(params.Member.DisplayName),
			ApprovedAt: params.ApprovedAt.UTC(),
			ClientAddr: strings.TrimSpace(params.ClientAddr),
		}
		if row.ApprovalID == "" {
			row.ApprovalID = uuid.NewString()
		}
		create := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "batch_id"}, {Name: "member_id"}},
			DoNothing: true,
		}).Create(&row)
		if create.Error != nil {
			return create.Error
		}
		if create.RowsAffected == 0 {
			return domainerrors.ErrAlreadyApproved
		}

		var count int64
		if err := tx.Model(&approvalModel{}).
			Where("batch_id = ?", params.BatchID).
			Count(&count).
			Error; err != nil {
			return err
		}
		result = ports.ApproveBatchResult{
			Approval:      row.toEntity(),
			ApprovalCount: int(count),
			Batch:         batch,
		}
		return insertEventTx(tx, params.Event, batch, map[string]any{
			"member_id":      row.MemberID,
			"approval_count": count,
		})
	})
	if err != nil {
		if isDomainError(err) {
			return ports.ApproveBatchResult{}, err
		}
		return ports.ApproveBatchResult{}, r.logError("distribution_repo_approve_batch_failed", err,
			"batch_id", params.BatchID,
			"member_id", strings.TrimSpace(params.Member.MemberID),
		)
	}
	return result, nil
}

func (r *Repository) ListApprovals(ctx context.Context, batchID int64) ([]entities.Approval, error) {
	if _, err := r.GetBatch(ctx, batchID); err != nil {
		return nil, err
	}
	var rows []approvalModel
	if err := r.db.WithContext(ctx).
		Where("batch_id = ?", batchID).
		Order("approved_at ASC").
		Order("member_id ASC").
		Find(&rows).
		Error; err != nil {
		return nil, r.logError("distribution_repo_list_approvals_failed", err, "batch_id", batchID)
	}
	items := make([]entities.Approval, 0, len(rows))
	for _, row := range rows {
		items = append(items, row.toEntity())
	}
	return items, nil
}

// ExecuteBatch holds the batch row FOR UPDATE for the whole distribution. The
// second of two racing executors blocks on the lock and then sees the
// distributed status. Any debit that would overdraw a student rolls the
// whole transaction back.
func (r *Repository) ExecuteBatch(ctx context.Context, params ports.ExecuteBatchParams) (entities.ExecutionResult, error) {
	var result entities.ExecutionResult
	executedAt := params.ExecutedAt.UTC()
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var batchRow batchModel
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("batch_id = ?", params.BatchID).
			First(&batchRow).
			Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return domainerrors.ErrBatchNotFound
			}
			return err
		}
		if batchRow.Status == string(entities.BatchStatusDistributed) {
			return domainerrors.ErrAlreadyDistributed
		}

		var approvals int64
		if err := tx.Model(&approvalModel{}).
			Where("batch_id = ?", params.BatchID).
			Count(&approvals).
			Error; err != nil {
			return err
		}
		if !batchRow.toEntity().CanExecute(int(approvals), params.Quorum) {
			return domainerrors.ErrNotReady
		}

		var allocationRows []allocationModel
		if err := tx.Where("batch_id = ?", params.BatchID).
			Order("student_id ASC").
			Find(&allocationRows).
			Error; err != nil {
			return err
		}

		total := decimal.Zero
		for _, allocation := range allocationRows {
			debit := tx.Model(&studentModel{}).
				Where("student_id = ? AND credits >= ?", allocation.StudentID, allocation.CreditsConverted).
				Updates(map[string]any{
					"credits":         gorm.Expr("credits - ?", allocation.CreditsConverted),
					"scholarship_usd": gorm.Expr("scholarship_usd + ?", allocation.USDAmount),
					"updated_at":      executedAt,
				})
			if debit.Error != nil {
				return debit.Error
			}
			if debit.RowsAffected == 0 {
				return domainerrors.ErrStudentBalanceChanged
			}
			total = total.Add(allocation.USDAmount)
		}

		executorID := strings.TrimSpace(params.ExecutorID)
		update := tx.Model(&batchModel{}).
			Where("batch_id = ? AND status = ?", params.BatchID, string(entities.BatchStatusPending)).
			Updates(map[string]any{
				"status":                string(entities.BatchStatusDistributed),
				"distributed_at":        executedAt,
				"distributed_by":        executorID,
				"students_processed":    len(allocationRows),
				"total_usd_distributed": total,
			})
		if update.Error != nil {
			return update.Error
		}
		if update.RowsAffected == 0 {
			return domainerrors.ErrAlreadyDistributed
		}

		batch := batchRow.toEntity()
		batch.Status = entities.BatchStatusDistributed
		batch.DistributedAt = &executedAt
		batch.DistributedBy = executorID
		batch.StudentsProcessed = len(allocationRows)
		batch.TotalUSDDistributed = total
		result = entities.ExecutionResult{
			Batch:               batch,
			StudentsProcessed:   len(allocationRows),
			TotalUSDDistributed: total,
		}
		return insertEventTx(tx, params.Event, batch, map[string]any{
			"distributed_by":        executorID,
			"students_processed":    len(allocationRows),
			"total_usd_distributed": total.StringFixed(2),
		})
	})
	if err != nil {
		if isDomainError(err) {
			return entities.ExecutionResult{}, err
		}
		return entities.ExecutionResult{}, r.logError("distribution_repo_execute_batch_failed", err,
			"batch_id", params.BatchID,
		)
	}
	return result, nil
}

func (r *Repository) UpsertComment(ctx context.Context, comment entities.Comment) (entities.Comment, error) {
	row := commentModelFromEntity(comment)
	err := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "batch_id"}, {Name: "member_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"member_name", "body", "include_in_pdf", "updated_at"}),
		}).
		Create(&row).
		Error
	if err != nil {
		return entities.Comment{}, r.logError("distribution_repo_upsert_comment_failed", err,
			"batch_id", comment.BatchID,
			"member_id", comment.MemberID,
		)
	}

	var saved commentModel
	if err := r.db.WithContext(ctx).
		Where("batch_id = ? AND member_id = ?", row.BatchID, row.MemberID).
		First(&saved).
		Error; err != nil {
		return entities.Comment{}, r.logError("distribution_repo_reload_comment_failed", err,
			"batch_id", comment.BatchID,
		)
	}
	return saved.toEntity(), nil
}

func (r *Repository) ListComments(ctx context.Context, batchID int64) ([]entities.Comment, error) {
	var rows []commentModel
	if err := r.db.WithContext(ctx).
		Where("batch_id = ?", batchID).
		Order("created_at ASC").
		Order("member_id ASC").
		Find(&rows).
		Error; err != nil {
		return nil, r.logError("distribution_repo_list_comments_failed", err, "batch_id", batchID)
	}
	items := make([]entities.Comment, 0, len(rows))
	for _, row := range rows {
		items = append(items, row.toEntity())
	}
	return items, nil
}

func (r *Repository) UpsertMember(ctx context.Context, member entities.Member, seenAt time.Time) error {
	row := memberModel{
		MemberID:    strings.TrimSpace(member.MemberID),
		DisplayName: strings.TrimSpace(member.DisplayName),
		Email:       strings.TrimSpace(member.Email),
		IsAdmin:     member.IsAdmin,
		LastSeenAt:  seenAt.UTC(),
	}
	if row.MemberID == "" {
		return domainerrors.ErrInvalidInput
	}
	err := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "member_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"display_name", "email", "is_admin", "last_seen_at"}),
		}).
		Create(&row).
		Error
	if err != nil {
		return r.logError("distribution_repo_upsert_member_failed", err, "member_id", row.MemberID)
	}
	return nil
}

func (r *Repository) ListMembers(ctx context.Context) ([]entities.Member, error) {
	var rows []memberModel
	if err := r.db.WithContext(ctx).
		Order("display_name ASC").
		Order("member_id ASC").
		Find(&rows).
		Error; err != nil {
		return nil, r.logError("distribution_repo_list_members_failed", err)
	}
	items := make([]entities.Member, 0, len(rows))
	for _, row := range rows {
		items = append(items, row.toEntity())
	}
	return items, nil
}

func (r *Repository) ListPendingOutbox(ctx context.Context, limit int) ([]ports.OutboxMessage, error) {
	if limit <= 0 {
		limit = 100
	}

	var rows []outboxModel
	if err := r.db.WithContext(ctx).
		Where("status = ?", sharedoutbox.StatusPending).
		Order("created_at ASC").
		Order("seq ASC").
		Limit(limit).
		Find(&rows).
		Error; err != nil {
		return nil, r.logError("distribution_repo_list_outbox_failed", err)
	}

	items := make([]ports.OutboxMessage, 0, len(rows))
	for _, row := range rows {
		items = append(items, ports.OutboxMessage{
			OutboxID:     row.OutboxID,
			EventType:    row.EventType,
			PartitionKey: row.PartitionKey,
			Payload:      append([]byte(nil), row.Payload...),
			CreatedAt:    row.CreatedAt.UTC(),
		})
	}
	return items, nil
}

func (r *Repository) MarkOutboxPublished(ctx context.Context, outboxID string, publishedAt time.Time) error {
	result := r.db.WithContext(ctx).
		Model(&outboxModel{}).
		Where("outbox_id = ?", strings.TrimSpace(outboxID)).
		Updates(map[string]any{
			"status":       sharedoutbox.StatusPublished,
			"published_at": publishedAt.UTC(),
		})
	if result.Error != nil {
		return r.logError("distribution_repo_mark_outbox_failed", result.Error, "outbox_id", outboxID)
	}
	if result.RowsAffected == 0 {
		return domainerrors.ErrInvalidInput
	}
	return nil
}

func (r *Repository) logError(event string, err error, attrs ...any) error {
	fields := make([]any, 0, len(attrs)+8)
	fields = append(fields,
		"event", event,
		"module", "scholarship-fund/distribution-batch-service",
		"layer", "adapter",
		"error", err.Error(),
	)
	fields = append(fields, attrs...)
	r.logger.Error("distribution repository operation failed", fields...)
	return err
}

func insertEventTx(tx *gorm.DB, factory ports.EventFactory, batch entities.Batch, data map[string]any) error {
	if factory == nil {
		return nil
	}
	envelope, err := factory(batch, data)
	if err != nil {
		return err
	}
	return insertOutboxEnvelopeTx(tx, envelope)
}

func insertOutboxEnvelopeTx(tx *gorm.DB, envelope ports.EventEnvelope) error {
	payload, err := json.Marshal(envelope)
	if err != nil {
		return err
	}
	row := outboxModel{
		OutboxID:     strings.TrimSpace(envelope.EventID),
		EventType:    strings.TrimSpace(envelope.EventType),
		PartitionKey: strings.TrimSpace(envelope.PartitionKey),
		Payload:      payload,
		Status:       sharedoutbox.StatusPending,
		CreatedAt:    envelope.OccurredAt.UTC(),
	}
	if row.OutboxID == "" {
		row.OutboxID = uuid.NewString()
	}
	if row.CreatedAt.IsZero() {
		row.CreatedAt = time.Now().UTC()
	}
	createResult := tx.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "outbox_id"}},
		DoNothing: true,
	}).Create(&row)
	if createResult.Error != nil {
		return createResult.Error
	}
	if createResult.RowsAffected == 0 {
		var existing outboxModel
		if err := tx.Select("payload").Where("outbox_id = ?", row.OutboxID).First(&existing).Error; err != nil {
			return err
		}
		if !bytes.Equal(existing.Payload, row.Payload) {
			return errOutboxConflict
		}
	}
	return nil
}

func isDomainError(err error) bool {
	for _, target := range []error{
		domainerrors.ErrInvalidInput,
		domainerrors.ErrBatchNotFound,
		domainerrors.ErrPendingBatchExists,
		domainerrors.ErrNoEligibleRecipients,
		domainerrors.ErrNotPending,
		domainerrors.ErrAlreadyApproved,
		domainerrors.ErrAlreadyDistributed,
		domainerrors.ErrNotReady,
		domainerrors.ErrStudentBalanceChanged,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

var (
	_ ports.BatchRepository   = (*Repository)(nil)
	_ ports.ApprovalLedger    = (*Repository)(nil)
	_ ports.ExecutionGuard    = (*Repository)(nil)
	_ ports.CommentRepository = (*Repository)(nil)
	_ ports.MemberDirectory   = (*Repository)(nil)
	_ ports.OutboxRepository  = (*Repository)(nil)
)
