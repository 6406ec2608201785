package postgresadapter

import (
	"strings"
	"time"

	"scholarshipboard/contexts/scholarship-fund/distribution-batch-service/domain/entities"

	"github.com/shopspring/decimal"
)

type batchModel struct {
	BatchID             int64           `gorm:"column:batch_id;primaryKey;autoIncrement"`
	TotalFundUSD        decimal.Decimal `gorm:"column:total_fund_usd;type:numeric(14,2)"`
	TotalCredits        int64           `gorm:"column:total_credits"`
	CreatedAt           time.Time       `gorm:"column:created_at"`
	CreatedByID         string          `gorm:"column:created_by_id"`
	CreatedByName       string          `gorm:"column:created_by_name"`
	CreatedByEmail      string          `gorm:"column:created_by_email"`
	Notes               string          `gorm:"column:notes"`
	Status              string          `gorm:"column:status"`
	DistributedAt       *time.Time      `gorm:"column:distributed_at"`
	DistributedBy       string          `gorm:"column:distributed_by"`
	StudentsProcessed   int             `gorm:"column:students_processed"`
	TotalUSDDistributed decimal.Decimal `gorm:"column:total_usd_distributed;type:numeric(14,2)"`
}

func (batchModel) TableName() string {
	return "distribution_batches"
}

func (m batchModel) toEntity() entities.Batch {
	return entities.Batch{
		BatchID:      m.BatchID,
		TotalFundUSD: m.TotalFundUSD,
		TotalCredits: m.TotalCredits,
		CreatedAt:    m.CreatedAt.UTC(),
		CreatedBy: entities.Member{
			MemberID:    m.CreatedByID,
			DisplayName: m.CreatedByName,
			Email:       m.CreatedByEmail,
		},
		Notes:               m.Notes,
		Status:              entities.BatchStatus(m.Status),
		DistributedAt:       normalizeOptionalTime(m.DistributedAt),
		DistributedBy:       m.DistributedBy,
		StudentsProcessed:   m.StudentsProcessed,
		TotalUSDDistributed: m.TotalUSDDistributed,
	}
}

type allocationModel struct {
	BatchID          int64           `gorm:"column:batch_id;primaryKey"`
	StudentID        string          `gorm:"column:student_id;primaryKey"`
	DisplayName      string          `gorm:"column:display_name"`
	GuardianEmail    string          `gorm:"column:guardian_email"`
	CreditsConverted int64           `gorm:"column:credits_converted"`
	Percentage       decimal.Decimal `gorm:"column:percentage;type:numeric(7,2)"`
	USDAmount        decimal.Decimal `gorm:"column:usd_amount;type:numeric(14,2)"`
}

func (allocationModel) TableName() string {
	return "distribution_allocations"
}

func allocationModelFromEntity(item entities.Allocation) allocationModel {
	return allocationModel{
		BatchID:          item.BatchID,
		StudentID:        strings.TrimSpace(item.StudentID),
		DisplayName:      strings.TrimSpace(item.DisplayName),
		GuardianEmail:    strings.TrimSpace(item.GuardianEmail),
		CreditsConverted: item.CreditsConverted,
		Percentage:       item.Percentage,
		USDAmount:        item.USDAmount,
	}
}

func (m allocationModel) toEntity() entities.Allocation {
	return entities.Allocation{
		BatchID:          m.BatchID,
		StudentID:        m.StudentID,
		DisplayName:      m.DisplayName,
		GuardianEmail:    m.GuardianEmail,
		CreditsConverted: m.CreditsConverted,
		Percentage:       m.Percentage,
		USDAmount:        m.USDAmount,
	}
}

type approvalModel struct {
	ApprovalID string    `gorm:"column:approval_id;primaryKey"`
	BatchID    int64     `gorm:"column:batch_id"`
	MemberID   string    `gorm:"column:member_id"`
	MemberName string    `gorm:"column:member_name"`
	ApprovedAt time.Time `gorm:"column:approved_at"`
	ClientAddr string    `gorm:"column:client_addr"`
}

func (approvalModel) TableName() string {
	return "distribution_approvals"
}

func (m approvalModel) toEntity() entities.Approval {
	return entities.Approval{
		ApprovalID: m.ApprovalID,
		BatchID:    m.BatchID,
		MemberID:   m.MemberID,
		MemberName: m.MemberName,
		ApprovedAt: m.ApprovedAt.UTC(),
		ClientAddr: m.ClientAddr,
	}
}

type studentModel struct {
	StudentID      string          `gorm:"column:student_id;primaryKey"`
	DisplayName    string          `gorm:"column:display_name"`
	GuardianEmail  string          `gorm:"column:guardian_email"`
	Credits        int64           `gorm:"column:credits"`
	ScholarshipUSD decimal.Decimal `gorm:"column:scholarship_usd;type:numeric(14,2)"`
	UpdatedAt      time.Time       `gorm:"column:updated_at"`
}

func (studentModel) TableName() string {
	return "scholarship_students"
}

func (m studentModel) toEntity() entities.StudentCredit {
	return entities.StudentCredit{
		StudentID:      m.StudentID,
		DisplayName:    m.DisplayName,
		GuardianEmail:  m.GuardianEmail,
		Credits:        m.Credits,
		ScholarshipUSD: m.ScholarshipUSD,
		UpdatedAt:      m.UpdatedAt.UTC(),
	}
}

type commentModel struct {
	CommentID    string    `gorm:"column:comment_id;primaryKey"`
	BatchID      int64     `gorm:"column:batch_id"`
	MemberID     string    `gorm:"column:member_id"`
	MemberName   string    `gorm:"column:member_name"`
	Body         string    `gorm:"column:body"`
	IncludeInPDF bool      `gorm:"column:include_in_pdf"`
	CreatedAt    time.Time `gorm:"column:created_at"`
	UpdatedAt    time.Time `gorm:"column:updated_at"`
}

func (commentModel) TableName() string {
	return "distribution_comments"
}

func commentModelFromEntity(item entities.Comment) commentModel {
	return commentModel{
		CommentID:    strings.TrimSpace(item.CommentID),
		BatchID:      item.BatchID,
		MemberID:     strings.TrimSpace(item.MemberID),
		MemberName:   strings.TrimSpace(item.MemberName),
		Body:         item.Body,
		IncludeInPDF: item.IncludeInPDF,
		CreatedAt:    item.CreatedAt.UTC(),
		UpdatedAt:    item.UpdatedAt.UTC(),
	}
}

func (m commentModel) toEntity() entities.Comment {
	return entities.Comment{
		CommentID:    m.CommentID,
		BatchID:      m.BatchID,
		MemberID:     m.MemberID,
		MemberName:   m.MemberName,
		Body:         m.Body,
		IncludeInPDF: m.IncludeInPDF,
		CreatedAt:    m.CreatedAt.UTC(),
		UpdatedAt:    m.UpdatedAt.UTC(),
	}
}

type memberModel struct {
	MemberID    string    `gorm:"column:member_id;primaryKey"`
	DisplayName string    `gorm:"column:display_name"`
	Email       string    `gorm:"column:email"`
	IsAdmin     bool      `gorm:"column:is_admin"`
	LastSeenAt  time.Time `gorm:"column:last_seen_at"`
}

func (memberModel) TableName() string {
	return "board_members"
}

func (m memberModel) toEntity() entities.Member {
	return entities.Member{
		MemberID:    m.MemberID,
		DisplayName: m.DisplayName,
		Email:       m.Email,
		IsAdmin:     m.IsAdmin,
	}
}

type outboxModel struct {
	OutboxID     string     `gorm:"column:outbox_id;primaryKey"`
	Seq          int64      `gorm:"column:seq;->"`
	EventType    string     `gorm:"column:event_type"`
	PartitionKey string     `gorm:"column:partition_key"`
	Payload      []byte     `gorm:"column:payload"`
	Status       string     `gorm:"column:status"`
	CreatedAt    time.Time  `gorm:"column:created_at"`
	PublishedAt  *time.Time `gorm:"column:published_at"`
}

func (outboxModel) TableName() string {
	return "distribution_outbox"
}

func normalizeOptionalTime(value *time.Time) *time.Time {
	if value == nil {
		return nil
	}
	timestamp := value.UTC()
	return &timestamp
}
