package request

import (
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Payment request lifecycle statuses.
type Status string

const (
	StatusPendingValidation       Status = "pending_validation"
	StatusPendingOwnerApproval    Status = "pending_owner_approval"
	StatusPendingFPAApproval      Status = "pending_fpa_approval"
	StatusPendingDirectorApproval Status = "pending_director_approval"
	StatusPendingCFOApproval      Status = "pending_cfo_approval"
	StatusPendingCEOApproval      Status = "pending_ceo_approval"
	StatusPendingPaymentApproval  Status = "pending_payment_approval"
	StatusPaid                    Status = "paid"
	StatusRejected                Status = "rejected"
	StatusCancelled               Status = "cancelled"
	StatusReturned                Status = "returned"
	StatusPendingAdjustment       Status = "pending_adjustment"
)

// Terminal reports whether no transition leaves the status.
func (s Status) Terminal() bool {
	return s == StatusPaid || s == StatusRejected || s == StatusCancelled
}

// ApprovalStage reports whether the status sits on the amount-gated ladder
// where approve() applies.
func (s Status) ApprovalStage() bool {
	switch s {
	case StatusPendingOwnerApproval, StatusPendingFPAApproval, StatusPendingDirectorApproval,
		StatusPendingCFOApproval, StatusPendingCEOApproval:
		return true
	}
	return false
}

// Pending reports whether the request still awaits some actor.
func (s Status) Pending() bool {
	return !s.Terminal() && s != StatusReturned && s != StatusPendingAdjustment
}

// Tax variance check outcomes recorded on the request at validation time.
type TaxCheckResult string

const (
	TaxCheckApproved          TaxCheckResult = "approved"
	TaxCheckPendingAdjustment TaxCheckResult = "pending_adjustment"
)

// Approval history actions.
type ApprovalAction string

const (
	ActionApproved ApprovalAction = "approved"
	ActionRejected ApprovalAction = "rejected"
)

// ApprovalEntry is one append-only approval history record.
type ApprovalEntry struct {
	ID         int64
	RequestID  uuid.UUID
	ApproverID int64
	Action     ApprovalAction
	Level      int
	Comment    string
	At         time.Time
}

// StatusEntry is one append-only status history record.
type StatusEntry struct {
	ID        int64
	RequestID uuid.UUID
	Status    Status
	ActorID   int64
	Reason    string
	At        time.Time
}

// PaymentDetails is attached when a request is marked paid.
type PaymentDetails struct {
	Method    string
	Reference string
	PaidBy    int64
}

// PaymentRequest is the unit of work routed through the approval chain.
type PaymentRequest struct {
	ID          uuid.UUID
	Number      string
	RequesterID int64
	Description string

	Amount       decimal.Decimal
	Currency     string
	VendorID     int64
	CostCenterID int64
	CategoryID   *int64
	InBudget     bool

	Status            Status
	ApprovalLevel     int
	CurrentApproverID *int64

	InvoiceDate    time.Time
	CompetenceDate time.Time
	DueDate        time.Time

	// QuotationCount and ReportedTax are supplied by the surrounding layers;
	// the engine only reads them.
	QuotationCount int
	ReportedTax    *decimal.Decimal
	TaxCheck       TaxCheckResult

	ApprovedAt  *time.Time
	RejectedAt  *time.Time
	PaidAt      *time.Time
	CancelledAt *time.Time
	Payment     PaymentDetails

	CreatedAt time.Time
	UpdatedAt time.Time
}

// BucketDate picks the date that selects the budget period bucket, in the
// competence, invoice, due order.
func (r PaymentRequest) BucketDate() time.Time {
	if !r.CompetenceDate.IsZero() {
		return r.CompetenceDate
	}
	if !r.InvoiceDate.IsZero() {
		return r.InvoiceDate
	}
	return r.DueDate
}

var (
	// ErrNotFound indicates record missing.
	ErrNotFound = errors.New("request: not found")
	// ErrInvalidTransition occurs when an action violates the status workflow.
	ErrInvalidTransition = errors.New("request: invalid state transition")
	// ErrInsufficientQuotations occurs when approval lacks the required quotations.
	ErrInsufficientQuotations = errors.New("request: insufficient quotations")
	// ErrForbidden occurs when the actor may not perform the action.
	ErrForbidden = errors.New("request: actor not allowed")
	// ErrValidation indicates invalid input.
	ErrValidation = errors.New("request: invalid input")
)
