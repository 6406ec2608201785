package errors

import "errors"

var (
	ErrInvalidInput          = errors.New("invalid distribution input")
	ErrUnauthenticated       = errors.New("member credential is missing or invalid")
	ErrForbidden             = errors.New("administrator privilege required")
	ErrBatchNotFound         = errors.New("distribution batch not found")
	ErrPendingBatchExists    = errors.New("a pending distribution batch already exists")
	ErrNoEligibleRecipients  = errors.New("no students with unconverted credits")
	ErrNotPending            = errors.New("distribution batch is not pending")
	ErrAlreadyApproved       = errors.New("member already approved this batch")
	ErrAlreadyDistributed    = errors.New("distribution batch was already distributed")
	ErrNotReady              = errors.New("distribution batch has not reached approval quorum")
	ErrReportUnavailable     = errors.New("report is only available for distributed batches")
	ErrStudentBalanceChanged = errors.New("student credit balance is below the snapshotted amount")
)
