package entities

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"
)

// DefaultQuorum is the number of distinct board approvals a batch needs
// before it can be executed.
const DefaultQuorum = 3

type BatchStatus string

const (
	BatchStatusPending     BatchStatus = "pending"
	BatchStatusDistributed BatchStatus = "distributed"
)

type Batch struct {
	BatchID             int64
	TotalFundUSD        decimal.Decimal
	TotalCredits        int64
	CreatedAt           time.Time
	CreatedBy           Member
	Notes               string
	Status              BatchStatus
	DistributedAt       *time.Time
	DistributedBy       string
	StudentsProcessed   int
	TotalUSDDistributed decimal.Decimal
}

func (b Batch) IsPending() bool {
	return b.Status == BatchStatusPending
}

// CanExecute is derived on every read and never persisted.
func (b Batch) CanExecute(approvalCount int, quorum int) bool {
	if quorum <= 0 {
		quorum = DefaultQuorum
	}
	return b.Status == BatchStatusPending && approvalCount >= quorum
}

type Allocation struct {
	BatchID          int64
	StudentID        string
	DisplayName      string
	GuardianEmail    string
	CreditsConverted int64
	Percentage       decimal.Decimal
	USDAmount        decimal.Decimal
}

type Approval struct {
	ApprovalID string
	BatchID    int64
	MemberID   string
	MemberName string
	ApprovedAt time.Time
	ClientAddr string
}

// StudentCredit is owned by the external earning system; this module only
// reads it, except that execution debits the snapshotted credits.
type StudentCredit struct {
	StudentID      string
	DisplayName    string
	GuardianEmail  string
	Credits        int64
	ScholarshipUSD decimal.Decimal
	UpdatedAt      time.Time
}

type Comment struct {
	CommentID    string
	BatchID      int64
	MemberID     string
	MemberName   string
	Body         string
	IncludeInPDF bool
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// ExecutionResult is returned by the store once a batch flips to distributed.
type ExecutionResult struct {
	Batch               Batch
	StudentsProcessed   int
	TotalUSDDistributed decimal.Decimal
}

// Recipient aggregates what a student has received across distributed
// batches.
type Recipient struct {
	StudentID           string
	DisplayName         string
	GuardianEmail       string
	ScholarshipUSD      decimal.Decimal
	TotalDistributedUSD decimal.Decimal
	DistributionCount   int
	LastDistributedAt   *time.Time
}

// SortRecipients orders by amount received, largest first, then student id.
func SortRecipients(items []Recipient) {
	sort.Slice(items, func(i, j int) bool {
		if cmp := items[i].TotalDistributedUSD.Cmp(items[j].TotalDistributedUSD); cmp != 0 {
			return cmp > 0
		}
		return items[i].StudentID < items[j].StudentID
	})
}
