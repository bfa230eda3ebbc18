package budget

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/shopspring/decimal"

	"github.com/approvia/approvia/internal/shared"
)

// RepositoryPort describes repository operations used by Ledger.
type RepositoryPort interface {
	Get(ctx context.Context, id int64) (Budget, error)
	FindApplicable(ctx context.Context, ref BucketRef) (Budget, error)
	Commit(ctx context.Context, budgetID int64, amount decimal.Decimal) error
	Spend(ctx context.Context, budgetID int64, amount decimal.Decimal) error
	Release(ctx context.Context, budgetID int64, amount decimal.Decimal) error
	Create(ctx context.Context, b Budget) (Budget, error)
	UpdateStatus(ctx context.Context, id int64, status Status) error
	UpdatePlanned(ctx context.Context, id int64, planned decimal.Decimal) error
	List(ctx context.Context, costCenterID int64, year int, limit, offset int) ([]Budget, error)
}

// AuditPort reused from shared.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// LedgerConfig tunes runtime behaviour.
type LedgerConfig struct {
	// AssertInvariants re-reads the bucket after every mutation and verifies
	// the ledger identity. Enabled outside production.
	AssertInvariants bool
}

// Ledger owns the planned/spent/committed/available amounts of budget buckets.
type Ledger struct {
	repo   RepositoryPort
	audit  AuditPort
	logger *slog.Logger
	cfg    LedgerConfig
}

// NewLedger constructs the budget ledger service.
func NewLedger(repo RepositoryPort, audit AuditPort, logger *slog.Logger, cfg LedgerConfig) *Ledger {
	if logger == nil {
		logger = slog.Default()
	}
	return &Ledger{repo: repo, audit: audit, logger: logger, cfg: cfg}
}

// FindApplicable resolves the bucket for a ledger operation.
func (l *Ledger) FindApplicable(ctx context.Context, ref BucketRef) (Budget, error) {
	return l.repo.FindApplicable(ctx, ref)
}

// Available reports the available amount of the bucket matching ref.
func (l *Ledger) Available(ctx context.Context, ref BucketRef) (decimal.Decimal, error) {
	b, err := l.repo.FindApplicable(ctx, ref)
	if err != nil {
		return decimal.Zero, err
	}
	return b.Available, nil
}

// Commit reserves amount against the bucket matching ref.
func (l *Ledger) Commit(ctx context.Context, ref BucketRef, amount decimal.Decimal) error {
	return l.mutate(ctx, ref, amount, "BUDGET_COMMIT", l.repo.Commit)
}

// Spend converts a prior reservation of amount into consumption.
func (l *Ledger) Spend(ctx context.Context, ref BucketRef, amount decimal.Decimal) error {
	return l.mutate(ctx, ref, amount, "BUDGET_SPEND", l.repo.Spend)
}

// Release returns a prior reservation of amount to available.
func (l *Ledger) Release(ctx context.Context, ref BucketRef, amount decimal.Decimal) error {
	return l.mutate(ctx, ref, amount, "BUDGET_RELEASE", l.repo.Release)
}

func (l *Ledger) mutate(ctx context.Context, ref BucketRef, amount decimal.Decimal, action string, op func(context.Context, int64, decimal.Decimal) error) error {
	if amount.Sign() <= 0 {
		return fmt.Errorf("%w: amount must be positive", ErrValidation)
	}
	bucket, err := l.repo.FindApplicable(ctx, ref)
	if err != nil {
		return err
	}
	if err := op(ctx, bucket.ID, amount); err != nil {
		return err
	}
	if err := l.assertInvariant(ctx, bucket.ID); err != nil {
		return err
	}
	l.recordAudit(ctx, action, bucket.ID, map[string]any{"amount": amount.String(), "cost_center_id": ref.CostCenterID})
	return nil
}

func (l *Ledger) assertInvariant(ctx context.Context, budgetID int64) error {
	if !l.cfg.AssertInvariants {
		return nil
	}
	b, err := l.repo.Get(ctx, budgetID)
	if err != nil {
		return err
	}
	if err := CheckInvariant(b); err != nil {
		l.logger.Error("budget ledger invariant broken",
			slog.Int64("budget_id", b.ID),
			slog.String("planned", b.Planned.String()),
			slog.String("spent", b.Spent.String()),
			slog.String("committed", b.Committed.String()),
			slog.String("available", b.Available.String()))
		return err
	}
	return nil
}

// Get returns a budget by id.
func (l *Ledger) Get(ctx context.Context, id int64) (Budget, error) {
	return l.repo.Get(ctx, id)
}

// List returns budgets for the optional cost center / year filters.
func (l *Ledger) List(ctx context.Context, costCenterID int64, year int, limit, offset int) ([]Budget, error) {
	return l.repo.List(ctx, costCenterID, year, limit, offset)
}

// Create inserts a draft budget.
func (l *Ledger) Create(ctx context.Context, b Budget) (Budget, error) {
	if b.CostCenterID == 0 || b.Year == 0 {
		return Budget{}, fmt.Errorf("%w: cost center and year required", ErrValidation)
	}
	if b.Planned.Sign() < 0 {
		return Budget{}, fmt.Errorf("%w: planned amount must not be negative", ErrValidation)
	}
	switch b.Period {
	case PeriodMonthly, PeriodQuarterly, PeriodAnnual:
	default:
		return Budget{}, fmt.Errorf("%w: unknown period %q", ErrValidation, b.Period)
	}
	created, err := l.repo.Create(ctx, b)
	if err != nil {
		return Budget{}, err
	}
	l.recordAudit(ctx, "BUDGET_CREATE", created.ID, map[string]any{"planned": created.Planned.String()})
	return created, nil
}

// SetStatus walks the budget lifecycle.
func (l *Ledger) SetStatus(ctx context.Context, id int64, target Status) error {
	b, err := l.repo.Get(ctx, id)
	if err != nil {
		return err
	}
	if !canTransition(b.Status, target) {
		return ErrInvalidState
	}
	if err := l.repo.UpdateStatus(ctx, id, target); err != nil {
		return err
	}
	l.recordAudit(ctx, "BUDGET_STATUS", id, map[string]any{"from": string(b.Status), "to": string(target)})
	return nil
}

// SetPlanned adjusts the planned allotment of a budget.
func (l *Ledger) SetPlanned(ctx context.Context, id int64, planned decimal.Decimal) error {
	if planned.Sign() < 0 {
		return fmt.Errorf("%w: planned amount must not be negative", ErrValidation)
	}
	if err := l.repo.UpdatePlanned(ctx, id, planned); err != nil {
		return err
	}
	if err := l.assertInvariant(ctx, id); err != nil {
		return err
	}
	l.recordAudit(ctx, "BUDGET_PLAN", id, map[string]any{"planned": planned.String()})
	return nil
}

func (l *Ledger) recordAudit(ctx context.Context, action string, budgetID int64, meta map[string]any) {
	if l.audit == nil {
		return
	}
	actorID, _ := shared.ActorFromContext(ctx)
	log := shared.AuditLog{ActorID: actorID, Action: action, Entity: "budget", EntityID: fmt.Sprintf("%d", budgetID), Meta: meta}
	if err := l.audit.Record(ctx, log); err != nil {
		l.logger.Warn("record audit", slog.String("action", action), slog.Any("error", err))
	}
}
