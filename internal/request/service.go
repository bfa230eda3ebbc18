package request

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/approvia/approvia/internal/budget"
	"github.com/approvia/approvia/internal/policy"
	"github.com/approvia/approvia/internal/shared"
)

// RepositoryPort describes repository operations used by Service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	Get(ctx context.Context, id uuid.UUID) (PaymentRequest, error)
	ApprovalHistory(ctx context.Context, id uuid.UUID) ([]ApprovalEntry, error)
	StatusHistory(ctx context.Context, id uuid.UUID) ([]StatusEntry, error)
	List(ctx context.Context, filters ListFilters, limit, offset int) ([]PaymentRequest, error)
	Count(ctx context.Context, filters ListFilters) (int, error)
}

// PolicyPort resolves the approval policy governing a request.
type PolicyPort interface {
	FindApplicable(ctx context.Context, amount decimal.Decimal, categoryID, costCenterID *int64) (policy.Policy, error)
}

// AuditPort reused from shared.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// NotifierPort delivers workflow notifications, fire-and-forget.
type NotifierPort interface {
	Emit(ctx context.Context, event Event) error
}

// WorkflowConfig carries the amount gates of the escalation ladder.
type WorkflowConfig struct {
	Gate GateConfig
	// OwnerDirectLimit is the amount at or under which owner approval goes
	// straight to payment approval.
	OwnerDirectLimit decimal.Decimal
	// DirectorLimit is the amount at or under which director approval
	// completes the ladder.
	DirectorLimit decimal.Decimal
	// CFOLimit is the amount at or under which CFO approval completes the
	// ladder; above it the CEO signs off as well.
	CFOLimit        decimal.Decimal
	DefaultCurrency string
}

// DefaultWorkflowConfig returns the platform thresholds.
func DefaultWorkflowConfig() WorkflowConfig {
	return WorkflowConfig{
		Gate:             DefaultGateConfig(),
		OwnerDirectLimit: decimal.NewFromInt(10000),
		DirectorLimit:    decimal.NewFromInt(50000),
		CFOLimit:         decimal.NewFromInt(200000),
		DefaultCurrency:  "BRL",
	}
}

func (c WorkflowConfig) withDefaults() WorkflowConfig {
	d := DefaultWorkflowConfig()
	if c.OwnerDirectLimit.IsZero() {
		c.OwnerDirectLimit = d.OwnerDirectLimit
	}
	if c.DirectorLimit.IsZero() {
		c.DirectorLimit = d.DirectorLimit
	}
	if c.CFOLimit.IsZero() {
		c.CFOLimit = d.CFOLimit
	}
	if c.DefaultCurrency == "" {
		c.DefaultCurrency = d.DefaultCurrency
	}
	return c
}

// errReplayed aborts a transaction when a retried transition detects it was
// already applied. Mapped to success before leaving the service.
var errReplayed = errors.New("request: transition already applied")

// Service owns the payment request lifecycle.
type Service struct {
	repo     RepositoryPort
	policies PolicyPort
	gate     *Gate
	audit    AuditPort
	notifier NotifierPort
	logger   *slog.Logger
	cfg      WorkflowConfig
}

// NewService constructs the workflow service.
func NewService(repo RepositoryPort, policies PolicyPort, audit AuditPort, notifier NotifierPort, logger *slog.Logger, cfg WorkflowConfig) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	cfg = cfg.withDefaults()
	return &Service{
		repo:     repo,
		policies: policies,
		gate:     NewGate(cfg.Gate),
		audit:    audit,
		notifier: notifier,
		logger:   logger,
		cfg:      cfg,
	}
}

// Gate exposes the tax/quotation gate, mainly for handlers and tests.
func (s *Service) Gate() *Gate {
	return s.gate
}

// nextStatus evaluates the amount-gated ladder at the current status.
func (s *Service) nextStatus(current Status, amount decimal.Decimal) (Status, error) {
	switch current {
	case StatusPendingOwnerApproval:
		if amount.LessThanOrEqual(s.cfg.OwnerDirectLimit) {
			return StatusPendingPaymentApproval, nil
		}
		return StatusPendingFPAApproval, nil
	case StatusPendingFPAApproval:
		return StatusPendingDirectorApproval, nil
	case StatusPendingDirectorApproval:
		if amount.LessThanOrEqual(s.cfg.DirectorLimit) {
			return StatusPendingPaymentApproval, nil
		}
		return StatusPendingCFOApproval, nil
	case StatusPendingCFOApproval:
		if amount.LessThanOrEqual(s.cfg.CFOLimit) {
			return StatusPendingPaymentApproval, nil
		}
		return StatusPendingCEOApproval, nil
	case StatusPendingCEOApproval:
		return StatusPendingPaymentApproval, nil
	}
	return "", ErrInvalidTransition
}

func bucketRef(pr PaymentRequest) budget.BucketRef {
	at := pr.BucketDate()
	return budget.BucketRef{
		CostCenterID: pr.CostCenterID,
		CategoryID:   pr.CategoryID,
		Year:         at.Year(),
		Month:        int(at.Month()),
	}
}

// approvedLevels derives the approved level set: ladder approvals are strictly
// sequential, so levels 1..ApprovalLevel are exactly the signed-off ones.
func approvedLevels(pr PaymentRequest) map[int]bool {
	levels := make(map[int]bool, pr.ApprovalLevel)
	for l := 1; l <= pr.ApprovalLevel; l++ {
		levels[l] = true
	}
	return levels
}

// CreateInput describes a new payment request.
type CreateInput struct {
	RequesterID    int64
	Description    string
	Amount         decimal.Decimal
	Currency       string
	VendorID       int64
	CostCenterID   int64
	CategoryID     *int64
	InBudget       bool
	InvoiceDate    time.Time
	CompetenceDate time.Time
	DueDate        time.Time
	QuotationCount int
	ReportedTax    *decimal.Decimal
}

// Create persists a request in pending_validation.
func (s *Service) Create(ctx context.Context, input CreateInput) (PaymentRequest, error) {
	if input.Amount.Sign() <= 0 {
		return PaymentRequest{}, fmt.Errorf("%w: amount must be positive", ErrValidation)
	}
	if input.RequesterID == 0 || input.VendorID == 0 || input.CostCenterID == 0 {
		return PaymentRequest{}, fmt.Errorf("%w: requester, vendor and cost center required", ErrValidation)
	}
	if input.InvoiceDate.IsZero() {
		return PaymentRequest{}, fmt.Errorf("%w: invoice date required", ErrValidation)
	}
	if input.Currency == "" {
		input.Currency = s.cfg.DefaultCurrency
	}
	var created PaymentRequest
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		pr, err := tx.Create(ctx, PaymentRequest{
			RequesterID:    input.RequesterID,
			Description:    input.Description,
			Amount:         input.Amount,
			Currency:       input.Currency,
			VendorID:       input.VendorID,
			CostCenterID:   input.CostCenterID,
			CategoryID:     input.CategoryID,
			InBudget:       input.InBudget,
			InvoiceDate:    input.InvoiceDate,
			CompetenceDate: input.CompetenceDate,
			DueDate:        input.DueDate,
			QuotationCount: input.QuotationCount,
			ReportedTax:    input.ReportedTax,
		})
		if err != nil {
			return err
		}
		created = pr
		return tx.AppendStatus(ctx, StatusEntry{RequestID: pr.ID, Status: StatusPendingValidation, ActorID: input.RequesterID})
	})
	if err != nil {
		return PaymentRequest{}, err
	}
	s.recordAudit(ctx, input.RequesterID, "REQUEST_CREATE", created, nil, map[string]any{"number": created.Number, "amount": created.Amount.String()})
	return created, nil
}

// checkBudget verifies availability for in-budget requests without mutating
// anything. Failure aborts the enclosing transaction.
func (s *Service) checkBudget(ctx context.Context, tx TxRepository, pr PaymentRequest) error {
	if !pr.InBudget {
		return nil
	}
	b, err := tx.FindBudget(ctx, bucketRef(pr))
	if err != nil {
		return err
	}
	if b.Available.LessThan(pr.Amount) {
		return budget.ErrInsufficientBudget
	}
	return nil
}

// replayOf reports whether the request already sits in one of the statuses a
// retried call could have produced, which marks the call as an at-least-once
// replay rather than an invalid transition.
func replayOf(ctx context.Context, tx TxRepository, pr PaymentRequest, candidates ...Status) (bool, error) {
	for _, c := range candidates {
		if pr.Status != c {
			continue
		}
		applied, err := tx.TransitionApplied(ctx, pr.ID, c)
		if err != nil {
			return false, err
		}
		if applied {
			return true, nil
		}
	}
	return false, nil
}

// Submit moves a validated-by-construction request into the approval chain.
func (s *Service) Submit(ctx context.Context, id uuid.UUID, requesterID int64) error {
	var events []Event
	var before, after PaymentRequest
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		pr, err := tx.Get(ctx, id)
		if err != nil {
			return err
		}
		before = pr
		if pr.Status != StatusPendingValidation {
			replayed, err := replayOf(ctx, tx, pr, StatusPendingOwnerApproval)
			if err != nil {
				return err
			}
			if replayed {
				return errReplayed
			}
			return ErrInvalidTransition
		}
		if pr.RequesterID != requesterID {
			return fmt.Errorf("%w: only the requester may submit", ErrForbidden)
		}
		if err := s.checkBudget(ctx, tx, pr); err != nil {
			return err
		}
		if err := tx.MarkTransition(ctx, id, StatusPendingOwnerApproval); err != nil {
			if errors.Is(err, shared.ErrIdempotencyConflict) {
				return errReplayed
			}
			return err
		}
		cc, err := tx.GetCostCenter(ctx, pr.CostCenterID)
		if err != nil {
			return err
		}
		pr.Status = StatusPendingOwnerApproval
		pr.CurrentApproverID = &cc.ManagerID
		if err := tx.Save(ctx, pr); err != nil {
			return err
		}
		if err := tx.AppendStatus(ctx, StatusEntry{RequestID: id, Status: pr.Status, ActorID: requesterID}); err != nil {
			return err
		}
		after = pr
		events = append(events, Event{RecipientID: cc.ManagerID, Type: NotifyApprovalRequested, RelatedEntityID: id.String(), Priority: s.priorityFor(pr.Amount)})
		return nil
	})
	if errors.Is(err, errReplayed) {
		s.logger.Debug("submit replayed", slog.String("request_id", id.String()))
		return nil
	}
	if err != nil {
		return err
	}
	s.recordAudit(ctx, requesterID, "REQUEST_SUBMIT", after, &before, nil)
	s.emit(ctx, events)
	return nil
}

// Validate is the validator-driven entry into the approval chain. It re-checks
// budget availability and records the tax-variance result without blocking.
func (s *Service) Validate(ctx context.Context, id uuid.UUID, validatorID int64, comment string) error {
	var events []Event
	var before, after PaymentRequest
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		pr, err := tx.Get(ctx, id)
		if err != nil {
			return err
		}
		before = pr
		if pr.Status != StatusPendingValidation {
			replayed, err := replayOf(ctx, tx, pr, StatusPendingOwnerApproval)
			if err != nil {
				return err
			}
			if replayed {
				return errReplayed
			}
			return ErrInvalidTransition
		}
		if err := s.checkBudget(ctx, tx, pr); err != nil {
			return err
		}
		if err := tx.MarkTransition(ctx, id, StatusPendingOwnerApproval); err != nil {
			if errors.Is(err, shared.ErrIdempotencyConflict) {
				return errReplayed
			}
			return err
		}
		cc, err := tx.GetCostCenter(ctx, pr.CostCenterID)
		if err != nil {
			return err
		}
		pr.TaxCheck = s.gate.CheckTax(pr.Amount, pr.ReportedTax)
		pr.Status = StatusPendingOwnerApproval
		pr.CurrentApproverID = &cc.ManagerID
		if err := tx.Save(ctx, pr); err != nil {
			return err
		}
		if err := tx.AppendStatus(ctx, StatusEntry{RequestID: id, Status: pr.Status, ActorID: validatorID, Reason: comment}); err != nil {
			return err
		}
		after = pr
		events = append(events, Event{RecipientID: cc.ManagerID, Type: NotifyApprovalRequested, RelatedEntityID: id.String(), Priority: s.priorityFor(pr.Amount)})
		if pr.TaxCheck == TaxCheckPendingAdjustment {
			events = append(events, Event{RecipientID: pr.RequesterID, Type: NotifyAdjustmentRequested, RelatedEntityID: id.String(), Priority: PriorityNormal})
		}
		return nil
	})
	if errors.Is(err, errReplayed) {
		s.logger.Debug("validate replayed", slog.String("request_id", id.String()))
		return nil
	}
	if err != nil {
		return err
	}
	s.recordAudit(ctx, validatorID, "REQUEST_VALIDATE", after, &before, map[string]any{"tax_check": string(after.TaxCheck)})
	s.emit(ctx, events)
	return nil
}

// Approve advances the request one step along the amount-gated ladder. On
// entry to payment approval the budget reservation and the cost-center
// committed counter move inside the same transaction as the status write.
func (s *Service) Approve(ctx context.Context, id uuid.UUID, approverID int64, comment string) error {
	var events []Event
	var before, after PaymentRequest
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		pr, err := tx.Get(ctx, id)
		if err != nil {
			return err
		}
		before = pr
		if !pr.Status.ApprovalStage() {
			replayed, err := replayOf(ctx, tx, pr, StatusPendingFPAApproval, StatusPendingDirectorApproval,
				StatusPendingCFOApproval, StatusPendingCEOApproval, StatusPendingPaymentApproval)
			if err != nil {
				return err
			}
			if replayed {
				return errReplayed
			}
			return ErrInvalidTransition
		}
		if pr.CurrentApproverID != nil && *pr.CurrentApproverID != approverID {
			return fmt.Errorf("%w: not the assigned approver", ErrForbidden)
		}
		if err := s.gate.CheckQuotations(pr.Amount, pr.QuotationCount); err != nil {
			return err
		}
		target, err := s.nextStatus(pr.Status, pr.Amount)
		if err != nil {
			return err
		}
		if err := tx.MarkTransition(ctx, id, target); err != nil {
			if errors.Is(err, shared.ErrIdempotencyConflict) {
				return errReplayed
			}
			return err
		}
		level := pr.ApprovalLevel + 1
		pr.ApprovalLevel = level
		pr.Status = target
		pr.CurrentApproverID = nil

		if target == StatusPendingPaymentApproval {
			now := time.Now()
			pr.ApprovedAt = &now
			if err := tx.AddCostCenterCommitted(ctx, pr.CostCenterID, pr.Amount); err != nil {
				return err
			}
			if pr.InBudget {
				b, err := tx.FindBudget(ctx, bucketRef(pr))
				if err != nil {
					return err
				}
				if err := tx.CommitBudget(ctx, b.ID, pr.Amount); err != nil {
					return err
				}
			}
			events = append(events, Event{RecipientID: pr.RequesterID, Type: NotifyRequestApproved, RelatedEntityID: id.String(), Priority: s.priorityFor(pr.Amount)})
		} else if next, ok := s.resolveNextApprover(ctx, pr); ok {
			pr.CurrentApproverID = &next
			events = append(events, Event{RecipientID: next, Type: NotifyApprovalRequested, RelatedEntityID: id.String(), Priority: s.priorityFor(pr.Amount)})
		}

		if err := tx.Save(ctx, pr); err != nil {
			return err
		}
		if err := tx.AppendApproval(ctx, ApprovalEntry{RequestID: id, ApproverID: approverID, Action: ActionApproved, Level: level, Comment: comment}); err != nil {
			return err
		}
		if err := tx.AppendStatus(ctx, StatusEntry{RequestID: id, Status: target, ActorID: approverID, Reason: comment}); err != nil {
			return err
		}
		after = pr
		return nil
	})
	if errors.Is(err, errReplayed) {
		s.logger.Debug("approve replayed", slog.String("request_id", id.String()))
		return nil
	}
	if err != nil {
		return err
	}
	s.recordAudit(ctx, approverID, "REQUEST_APPROVE", after, &before, map[string]any{"level": after.ApprovalLevel})
	s.emit(ctx, events)
	return nil
}

// resolveNextApprover asks the policy resolver who acts next. Resolution is
// advisory: the ladder decides statuses, the policy names the person, and a
// missing policy leaves the slot open for manual assignment.
func (s *Service) resolveNextApprover(ctx context.Context, pr PaymentRequest) (int64, bool) {
	if s.policies == nil {
		return 0, false
	}
	pol, err := s.policies.FindApplicable(ctx, pr.Amount, pr.CategoryID, &pr.CostCenterID)
	if err != nil {
		if !errors.Is(err, policy.ErrNoApplicablePolicy) {
			s.logger.Warn("resolve approval policy", slog.String("request_id", pr.ID.String()), slog.Any("error", err))
		}
		return 0, false
	}
	next, ok := pol.NextApprover(approvedLevels(pr))
	if !ok {
		return 0, false
	}
	return next.UserID, true
}

// Reject terminates the request from validation or any approval stage. The
// ledger stays untouched: reservation only happens at payment-approval entry,
// which reject does not reach.
func (s *Service) Reject(ctx context.Context, id uuid.UUID, approverID int64, reason string) error {
	if reason == "" {
		return fmt.Errorf("%w: rejection reason required", ErrValidation)
	}
	var events []Event
	var before, after PaymentRequest
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		pr, err := tx.Get(ctx, id)
		if err != nil {
			return err
		}
		before = pr
		if pr.Status != StatusPendingValidation && !pr.Status.ApprovalStage() {
			replayed, err := replayOf(ctx, tx, pr, StatusRejected)
			if err != nil {
				return err
			}
			if replayed {
				return errReplayed
			}
			return ErrInvalidTransition
		}
		if err := tx.MarkTransition(ctx, id, StatusRejected); err != nil {
			if errors.Is(err, shared.ErrIdempotencyConflict) {
				return errReplayed
			}
			return err
		}
		now := time.Now()
		pr.Status = StatusRejected
		pr.RejectedAt = &now
		pr.CurrentApproverID = nil
		if err := tx.Save(ctx, pr); err != nil {
			return err
		}
		if err := tx.AppendApproval(ctx, ApprovalEntry{RequestID: id, ApproverID: approverID, Action: ActionRejected, Level: pr.ApprovalLevel + 1, Comment: reason}); err != nil {
			return err
		}
		if err := tx.AppendStatus(ctx, StatusEntry{RequestID: id, Status: StatusRejected, ActorID: approverID, Reason: reason}); err != nil {
			return err
		}
		after = pr
		events = append(events, Event{RecipientID: pr.RequesterID, Type: NotifyRequestRejected, RelatedEntityID: id.String(), Priority: PriorityNormal})
		return nil
	})
	if errors.Is(err, errReplayed) {
		return nil
	}
	if err != nil {
		return err
	}
	s.recordAudit(ctx, approverID, "REQUEST_REJECT", after, &before, map[string]any{"reason": reason})
	s.emit(ctx, events)
	return nil
}

// MarkAsPaid settles the request: the reservation moves from committed to
// spent on both the cost-center counter and the budget ledger, in the same
// transaction as the status write.
func (s *Service) MarkAsPaid(ctx context.Context, id uuid.UUID, payerID int64, details PaymentDetails) error {
	var events []Event
	var before, after PaymentRequest
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		pr, err := tx.Get(ctx, id)
		if err != nil {
			return err
		}
		before = pr
		if pr.Status != StatusPendingPaymentApproval {
			replayed, err := replayOf(ctx, tx, pr, StatusPaid)
			if err != nil {
				return err
			}
			if replayed {
				return errReplayed
			}
			return ErrInvalidTransition
		}
		if err := tx.MarkTransition(ctx, id, StatusPaid); err != nil {
			if errors.Is(err, shared.ErrIdempotencyConflict) {
				return errReplayed
			}
			return err
		}
		if err := tx.CostCenterCommitToSpent(ctx, pr.CostCenterID, pr.Amount); err != nil {
			return err
		}
		if pr.InBudget {
			b, err := tx.FindBudget(ctx, bucketRef(pr))
			if err != nil {
				return err
			}
			if err := tx.SpendBudget(ctx, b.ID, pr.Amount); err != nil {
				return err
			}
		}
		now := time.Now()
		pr.Status = StatusPaid
		pr.PaidAt = &now
		pr.Payment = details
		pr.Payment.PaidBy = payerID
		pr.CurrentApproverID = nil
		if err := tx.Save(ctx, pr); err != nil {
			return err
		}
		if err := tx.AppendStatus(ctx, StatusEntry{RequestID: id, Status: StatusPaid, ActorID: payerID, Reason: details.Reference}); err != nil {
			return err
		}
		after = pr
		events = append(events, Event{RecipientID: pr.RequesterID, Type: NotifyRequestPaid, RelatedEntityID: id.String(), Priority: PriorityNormal})
		return nil
	})
	if errors.Is(err, errReplayed) {
		s.logger.Debug("mark as paid replayed", slog.String("request_id", id.String()))
		return nil
	}
	if err != nil {
		return err
	}
	s.recordAudit(ctx, payerID, "REQUEST_PAY", after, &before, map[string]any{"reference": details.Reference})
	s.emit(ctx, events)
	return nil
}

// Cancel terminates the request from any non-terminal state. A reservation
// made at payment-approval entry is released back to available.
func (s *Service) Cancel(ctx context.Context, id uuid.UUID, actorID int64, reason string) error {
	if reason == "" {
		return fmt.Errorf("%w: cancellation reason required", ErrValidation)
	}
	var events []Event
	var before, after PaymentRequest
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		pr, err := tx.Get(ctx, id)
		if err != nil {
			return err
		}
		before = pr
		if pr.Status.Terminal() {
			replayed, err := replayOf(ctx, tx, pr, StatusCancelled)
			if err != nil {
				return err
			}
			if replayed {
				return errReplayed
			}
			return ErrInvalidTransition
		}
		if err := tx.MarkTransition(ctx, id, StatusCancelled); err != nil {
			if errors.Is(err, shared.ErrIdempotencyConflict) {
				return errReplayed
			}
			return err
		}
		if pr.Status == StatusPendingPaymentApproval {
			if err := tx.ReleaseCostCenterCommitted(ctx, pr.CostCenterID, pr.Amount); err != nil {
				return err
			}
			if pr.InBudget {
				b, err := tx.FindBudget(ctx, bucketRef(pr))
				if err != nil {
					return err
				}
				if err := tx.ReleaseBudget(ctx, b.ID, pr.Amount); err != nil {
					return err
				}
			}
		}
		now := time.Now()
		pr.Status = StatusCancelled
		pr.CancelledAt = &now
		pr.CurrentApproverID = nil
		if err := tx.Save(ctx, pr); err != nil {
			return err
		}
		if err := tx.AppendStatus(ctx, StatusEntry{RequestID: id, Status: StatusCancelled, ActorID: actorID, Reason: reason}); err != nil {
			return err
		}
		after = pr
		events = append(events, Event{RecipientID: pr.RequesterID, Type: NotifyRequestCancelled, RelatedEntityID: id.String(), Priority: PriorityNormal})
		return nil
	})
	if errors.Is(err, errReplayed) {
		return nil
	}
	if err != nil {
		return err
	}
	s.recordAudit(ctx, actorID, "REQUEST_CANCEL", after, &before, map[string]any{"reason": reason})
	s.emit(ctx, events)
	return nil
}

// Return sends the request back to the requester for correction.
func (s *Service) Return(ctx context.Context, id uuid.UUID, actorID int64, reason string) error {
	return s.sendBack(ctx, id, actorID, reason, StatusReturned, NotifyRequestReturned, "REQUEST_RETURN")
}

// RequestAdjustment flags the request for contract adjustment and parks it
// with the requester.
func (s *Service) RequestAdjustment(ctx context.Context, id uuid.UUID, actorID int64, reason string) error {
	return s.sendBack(ctx, id, actorID, reason, StatusPendingAdjustment, NotifyAdjustmentRequested, "REQUEST_ADJUST")
}

func (s *Service) sendBack(ctx context.Context, id uuid.UUID, actorID int64, reason string, target Status, notifyType, auditAction string) error {
	if reason == "" {
		return fmt.Errorf("%w: reason required", ErrValidation)
	}
	var events []Event
	var before, after PaymentRequest
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		pr, err := tx.Get(ctx, id)
		if err != nil {
			return err
		}
		before = pr
		if pr.Status != StatusPendingValidation && !pr.Status.ApprovalStage() {
			return ErrInvalidTransition
		}
		pr.Status = target
		pr.CurrentApproverID = nil
		if err := tx.Save(ctx, pr); err != nil {
			return err
		}
		if err := tx.AppendStatus(ctx, StatusEntry{RequestID: id, Status: target, ActorID: actorID, Reason: reason}); err != nil {
			return err
		}
		after = pr
		events = append(events, Event{RecipientID: pr.RequesterID, Type: notifyType, RelatedEntityID: id.String(), Priority: PriorityNormal})
		return nil
	})
	if err != nil {
		return err
	}
	s.recordAudit(ctx, actorID, auditAction, after, &before, map[string]any{"reason": reason})
	s.emit(ctx, events)
	return nil
}

// Resubmit re-enters a returned or adjustment-parked request at validation.
// Transition markers are cleared so the next cycle is idempotent on its own.
func (s *Service) Resubmit(ctx context.Context, id uuid.UUID, requesterID int64) error {
	var before, after PaymentRequest
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		pr, err := tx.Get(ctx, id)
		if err != nil {
			return err
		}
		before = pr
		if pr.Status != StatusReturned && pr.Status != StatusPendingAdjustment {
			return ErrInvalidTransition
		}
		if pr.RequesterID != requesterID {
			return fmt.Errorf("%w: only the requester may resubmit", ErrForbidden)
		}
		if err := tx.ClearTransitions(ctx, id); err != nil {
			return err
		}
		pr.Status = StatusPendingValidation
		pr.ApprovalLevel = 0
		pr.CurrentApproverID = nil
		pr.TaxCheck = ""
		if err := tx.Save(ctx, pr); err != nil {
			return err
		}
		if err := tx.AppendStatus(ctx, StatusEntry{RequestID: id, Status: StatusPendingValidation, ActorID: requesterID, Reason: "resubmitted"}); err != nil {
			return err
		}
		after = pr
		return nil
	})
	if err != nil {
		return err
	}
	s.recordAudit(ctx, requesterID, "REQUEST_RESUBMIT", after, &before, nil)
	return nil
}

// SetQuotationCount updates the attached quotation count while the request is
// still with the requester.
func (s *Service) SetQuotationCount(ctx context.Context, id uuid.UUID, actorID int64, count int) error {
	if count < 0 {
		return fmt.Errorf("%w: quotation count must not be negative", ErrValidation)
	}
	return s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		pr, err := tx.Get(ctx, id)
		if err != nil {
			return err
		}
		switch pr.Status {
		case StatusPendingValidation, StatusReturned, StatusPendingAdjustment:
		default:
			return ErrInvalidTransition
		}
		pr.QuotationCount = count
		return tx.Save(ctx, pr)
	})
}

// Get returns a request by id.
func (s *Service) Get(ctx context.Context, id uuid.UUID) (PaymentRequest, error) {
	return s.repo.Get(ctx, id)
}

// ApprovalHistory returns the append-only approval log.
func (s *Service) ApprovalHistory(ctx context.Context, id uuid.UUID) ([]ApprovalEntry, error) {
	return s.repo.ApprovalHistory(ctx, id)
}

// StatusHistory returns the append-only status log.
func (s *Service) StatusHistory(ctx context.Context, id uuid.UUID) ([]StatusEntry, error) {
	return s.repo.StatusHistory(ctx, id)
}

// List returns requests matching the filters.
func (s *Service) List(ctx context.Context, filters ListFilters, limit, offset int) ([]PaymentRequest, error) {
	return s.repo.List(ctx, filters, limit, offset)
}

// Count returns how many requests match the filters.
func (s *Service) Count(ctx context.Context, filters ListFilters) (int, error) {
	return s.repo.Count(ctx, filters)
}

func (s *Service) priorityFor(amount decimal.Decimal) string {
	if amount.GreaterThan(s.cfg.CFOLimit) {
		return PriorityHigh
	}
	return PriorityNormal
}

func (s *Service) emit(ctx context.Context, events []Event) {
	if s.notifier == nil {
		return
	}
	for _, event := range events {
		if err := s.notifier.Emit(ctx, event); err != nil {
			s.logger.Warn("emit notification", slog.String("type", event.Type), slog.Any("error", err))
		}
	}
}

func (s *Service) recordAudit(ctx context.Context, actorID int64, action string, pr PaymentRequest, before *PaymentRequest, meta map[string]any) {
	if s.audit == nil {
		return
	}
	log := shared.AuditLog{
		ActorID:  actorID,
		Action:   action,
		Entity:   "payment_request",
		EntityID: pr.ID.String(),
		After:    map[string]any{"status": string(pr.Status), "approval_level": pr.ApprovalLevel},
		Meta:     meta,
	}
	if before != nil {
		log.Before = map[string]any{"status": string(before.Status), "approval_level": before.ApprovalLevel}
	}
	if err := s.audit.Record(ctx, log); err != nil {
		s.logger.Warn("record audit", slog.String("action", action), slog.Any("error", err))
	}
}
