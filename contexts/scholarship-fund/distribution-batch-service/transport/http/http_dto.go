package http

import "github.com/shopspring/decimal"

type ErrorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Money and percentage fields are fixed two-decimal strings, e.g. "33.33".

type MemberResponse struct {
	MemberID    string `json:"member_id"`
	DisplayName string `json:"display_name"`
	Email       string `json:"email,omitempty"`
	IsAdmin     bool   `json:"is_admin"`
}

type AllocationResponse struct {
	StudentID        string `json:"student_id"`
	DisplayName      string `json:"display_name"`
	GuardianEmail    string `json:"guardian_email,omitempty"`
	CreditsConverted int64  `json:"credits_converted"`
	Percentage       string `json:"percentage"`
	USDAmount        string `json:"usd_amount"`
}

type ApprovalResponse struct {
	ApprovalID string `json:"approval_id"`
	MemberID   string `json:"member_id"`
	MemberName string `json:"member_name"`
	ApprovedAt string `json:"approved_at"`
}

type CreatorResponse struct {
	ID    string `json:"id"`
	Name  string `json:"name,omitempty"`
	Email string `json:"email,omitempty"`
}

type BatchSummaryResponse struct {
	BatchID             int64           `json:"batch_id"`
	Status              string          `json:"status"`
	TotalFundUSD        string          `json:"total_fund_usd"`
	TotalCredits        int64           `json:"total_credits"`
	Notes               string          `json:"notes,omitempty"`
	CreatedAt           string          `json:"created_at"`
	CreatedBy           CreatorResponse `json:"created_by"`
	DistributedAt       string          `json:"distributed_at,omitempty"`
	DistributedBy       string          `json:"distributed_by,omitempty"`
	StudentsProcessed   int             `json:"students_processed"`
	TotalUSDDistributed string          `json:"total_usd_distributed"`
	ApprovalCount       int             `json:"approval_count"`
	RequiredApprovals   int             `json:"required_approvals"`
	CanExecute          bool            `json:"can_execute"`
}

type PendingPreviewResponse struct {
	Eligible          bool                 `json:"eligible"`
	TotalFundUSD      string               `json:"total_fund_usd"`
	TotalCredits      int64                `json:"total_credits"`
	StudentCount      int                  `json:"student_count"`
	Allocations       []AllocationResponse `json:"allocations"`
	LastDistributedAt string               `json:"last_distribution_date,omitempty"`
	CurrentDate       string               `json:"current_date"`
}

type CurrentBatchResponse struct {
	HasPendingBatch     bool                    `json:"has_pending_batch"`
	Batch               *BatchSummaryResponse   `json:"batch,omitempty"`
	Allocations         []AllocationResponse    `json:"allocations,omitempty"`
	Approvals           []ApprovalResponse      `json:"approvals,omitempty"`
	CurrentUserApproved bool                    `json:"current_user_approved"`
	ActiveMembers       []MemberResponse        `json:"active_members,omitempty"`
	Preview             *PendingPreviewResponse `json:"preview,omitempty"`
}

type CreateBatchRequest struct {
	TotalFundUSD decimal.Decimal `json:"total_fund_usd"`
	Notes        string          `json:"notes,omitempty"`
}

type CreateBatchResponse struct {
	Batch       BatchSummaryResponse `json:"batch"`
	Allocations []AllocationResponse `json:"allocations"`
}

type ApproveBatchResponse struct {
	BatchID           int64            `json:"batch_id"`
	Approval          ApprovalResponse `json:"approval"`
	ApprovalCount     int              `json:"approval_count"`
	RequiredApprovals int              `json:"required_approvals"`
	CanExecute        bool             `json:"can_execute"`
}

type ExecuteBatchResponse struct {
	BatchID             int64  `json:"batch_id"`
	StudentsProcessed   int    `json:"students_processed"`
	TotalUSDDistributed string `json:"total_usd_distributed"`
	DistributedAt       string `json:"distributed_at"`
}

type HistoryResponse struct {
	Items  []BatchSummaryResponse `json:"items"`
	Total  int                    `json:"total"`
	Limit  int                    `json:"limit"`
	Offset int                    `json:"offset"`
}

type CommentResponse struct {
	CommentID    string `json:"comment_id"`
	BatchID      int64  `json:"batch_id"`
	MemberID     string `json:"member_id"`
	MemberName   string `json:"member_name"`
	Body         string `json:"body"`
	IncludeInPDF bool   `json:"include_in_pdf"`
	CreatedAt    string `json:"created_at"`
	UpdatedAt    string `json:"updated_at"`
}

type SaveCommentRequest struct {
	Comment      string `json:"comment"`
	IncludeInPDF bool   `json:"include_in_pdf"`
}

type CommentsResponse struct {
	Items              []CommentResponse `json:"items"`
	CurrentUserComment *CommentResponse  `json:"current_user_comment,omitempty"`
}

type ReportResponse struct {
	GeneratedAt  string               `json:"generated_at"`
	StudentCount int                  `json:"student_count"`
	Batch        BatchSummaryResponse `json:"batch"`
	Approvals    []ApprovalResponse   `json:"approvals"`
	Allocations  []AllocationResponse `json:"allocations"`
	Comments     []CommentResponse    `json:"comments"`
}

type RecipientResponse struct {
	StudentID           string `json:"student_id"`
	DisplayName         string `json:"display_name"`
	GuardianEmail       string `json:"guardian_email,omitempty"`
	ScholarshipUSD      string `json:"scholarship_usd"`
	TotalDistributedUSD string `json:"total_usd_earned"`
	DistributionCount   int    `json:"distribution_count"`
	LastDistributedAt   string `json:"last_distribution_date,omitempty"`
}

type RecipientsResponse struct {
	Recipients          []RecipientResponse `json:"recipients"`
	TotalDistributedUSD string              `json:"total_distributed_usd"`
}

type MembersResponse struct {
	Items []MemberResponse `json:"items"`
}

type PollResponse struct {
	Updated             bool                  `json:"updated"`
	StateHash           string                `json:"state_hash,omitempty"`
	Batch               *BatchSummaryResponse `json:"batch,omitempty"`
	Approvals           []ApprovalResponse    `json:"approvals,omitempty"`
	ActiveMembers       []MemberResponse      `json:"active_members,omitempty"`
	CurrentUserApproved bool                  `json:"current_user_approved"`
}
