package request

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/approvia/approvia/internal/budget"
	"github.com/approvia/approvia/internal/masterdata"
	"github.com/approvia/approvia/internal/platform/db"
	"github.com/approvia/approvia/internal/shared"
)

// TxRepository exposes the operations available inside a workflow transaction.
// Ledger and cost-center mutations ride the same transaction as the request
// row, so a transition commits or rolls back as one unit.
type TxRepository interface {
	Create(ctx context.Context, pr PaymentRequest) (PaymentRequest, error)
	Get(ctx context.Context, id uuid.UUID) (PaymentRequest, error)
	Save(ctx context.Context, pr PaymentRequest) error
	AppendApproval(ctx context.Context, entry ApprovalEntry) error
	AppendStatus(ctx context.Context, entry StatusEntry) error
	MarkTransition(ctx context.Context, requestID uuid.UUID, target Status) error
	TransitionApplied(ctx context.Context, requestID uuid.UUID, target Status) (bool, error)
	ClearTransitions(ctx context.Context, requestID uuid.UUID) error

	FindBudget(ctx context.Context, ref budget.BucketRef) (budget.Budget, error)
	CommitBudget(ctx context.Context, budgetID int64, amount decimal.Decimal) error
	SpendBudget(ctx context.Context, budgetID int64, amount decimal.Decimal) error
	ReleaseBudget(ctx context.Context, budgetID int64, amount decimal.Decimal) error

	GetCostCenter(ctx context.Context, id int64) (masterdata.CostCenter, error)
	AddCostCenterCommitted(ctx context.Context, id int64, amount decimal.Decimal) error
	ReleaseCostCenterCommitted(ctx context.Context, id int64, amount decimal.Decimal) error
	CostCenterCommitToSpent(ctx context.Context, id int64, amount decimal.Decimal) error
}

// Repository provides PostgreSQL backed persistence for payment requests.
type Repository struct {
	pool *pgxpool.Pool
	idem *shared.IdempotencyStore
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool, idem *shared.IdempotencyStore) *Repository {
	return &Repository{pool: pool, idem: idem}
}

type txRepo struct {
	tx   pgx.Tx
	idem *shared.IdempotencyStore
}

// WithTx wraps callback in a repeatable-read transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &txRepo{tx: tx, idem: r.idem})
	})
}

const requestColumns = `id, number, requester_id, description, amount, currency, vendor_id, cost_center_id, category_id,
in_budget, status, approval_level, current_approver_id, invoice_date, competence_date, due_date,
quotation_count, reported_tax, tax_check, approved_at, rejected_at, paid_at, cancelled_at,
payment_method, payment_reference, paid_by, created_at, updated_at`

func scanRequest(row pgx.Row) (PaymentRequest, error) {
	var pr PaymentRequest
	var categoryID, currentApprover, paidBy pgtype.Int8
	var competence, due pgtype.Date
	var reported decimal.NullDecimal
	var taxCheck pgtype.Text
	var approvedAt, rejectedAt, paidAt, cancelledAt pgtype.Timestamptz
	err := row.Scan(&pr.ID, &pr.Number, &pr.RequesterID, &pr.Description, &pr.Amount, &pr.Currency,
		&pr.VendorID, &pr.CostCenterID, &categoryID, &pr.InBudget, &pr.Status, &pr.ApprovalLevel,
		&currentApprover, &pr.InvoiceDate, &competence, &due, &pr.QuotationCount, &reported, &taxCheck,
		&approvedAt, &rejectedAt, &paidAt, &cancelledAt,
		&pr.Payment.Method, &pr.Payment.Reference, &paidBy, &pr.CreatedAt, &pr.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return PaymentRequest{}, ErrNotFound
		}
		return PaymentRequest{}, err
	}
	if categoryID.Valid {
		pr.CategoryID = &categoryID.Int64
	}
	if currentApprover.Valid {
		pr.CurrentApproverID = &currentApprover.Int64
	}
	if competence.Valid {
		pr.CompetenceDate = competence.Time
	}
	if due.Valid {
		pr.DueDate = due.Time
	}
	if reported.Valid {
		pr.ReportedTax = &reported.Decimal
	}
	if taxCheck.Valid {
		pr.TaxCheck = TaxCheckResult(taxCheck.String)
	}
	if approvedAt.Valid {
		pr.ApprovedAt = &approvedAt.Time
	}
	if rejectedAt.Valid {
		pr.RejectedAt = &rejectedAt.Time
	}
	if paidAt.Valid {
		pr.PaidAt = &paidAt.Time
	}
	if cancelledAt.Valid {
		pr.CancelledAt = &cancelledAt.Time
	}
	if paidBy.Valid {
		pr.Payment.PaidBy = paidBy.Int64
	}
	return pr, nil
}

// Get fetches a request by id.
func (r *Repository) Get(ctx context.Context, id uuid.UUID) (PaymentRequest, error) {
	return scanRequest(r.pool.QueryRow(ctx, `SELECT `+requestColumns+` FROM payment_requests WHERE id = $1`, id))
}

// ApprovalHistory returns approval entries ordered by time.
func (r *Repository) ApprovalHistory(ctx context.Context, id uuid.UUID) ([]ApprovalEntry, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, request_id, approver_id, action, level, comment, at
FROM request_approvals WHERE request_id = $1 ORDER BY at ASC, id ASC`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []ApprovalEntry
	for rows.Next() {
		var e ApprovalEntry
		if err := rows.Scan(&e.ID, &e.RequestID, &e.ApproverID, &e.Action, &e.Level, &e.Comment, &e.At); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// StatusHistory returns status entries ordered by time.
func (r *Repository) StatusHistory(ctx context.Context, id uuid.UUID) ([]StatusEntry, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, request_id, status, actor_id, reason, at
FROM request_status_history WHERE request_id = $1 ORDER BY at ASC, id ASC`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []StatusEntry
	for rows.Next() {
		var e StatusEntry
		if err := rows.Scan(&e.ID, &e.RequestID, &e.Status, &e.ActorID, &e.Reason, &e.At); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// ListFilters narrows request listings.
type ListFilters struct {
	Status       Status
	RequesterID  int64
	CostCenterID int64
	ApproverID   int64
}

func listWhere(filters ListFilters) (string, []any) {
	clause := ` WHERE 1=1`
	args := []any{}
	argNum := 1
	if filters.Status != "" {
		clause += fmt.Sprintf(` AND status = $%d`, argNum)
		args = append(args, filters.Status)
		argNum++
	}
	if filters.RequesterID > 0 {
		clause += fmt.Sprintf(` AND requester_id = $%d`, argNum)
		args = append(args, filters.RequesterID)
		argNum++
	}
	if filters.CostCenterID > 0 {
		clause += fmt.Sprintf(` AND cost_center_id = $%d`, argNum)
		args = append(args, filters.CostCenterID)
		argNum++
	}
	if filters.ApproverID > 0 {
		clause += fmt.Sprintf(` AND current_approver_id = $%d`, argNum)
		args = append(args, filters.ApproverID)
		argNum++
	}
	return clause, args
}

// List returns requests matching filters, newest first.
func (r *Repository) List(ctx context.Context, filters ListFilters, limit, offset int) ([]PaymentRequest, error) {
	if limit <= 0 {
		limit = 50
	}
	clause, args := listWhere(filters)
	query := `SELECT ` + requestColumns + ` FROM payment_requests` + clause
	argNum := len(args) + 1
	query += fmt.Sprintf(` ORDER BY created_at DESC LIMIT $%d OFFSET $%d`, argNum, argNum+1)
	args = append(args, limit, offset)

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []PaymentRequest
	for rows.Next() {
		pr, err := scanRequest(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, pr)
	}
	return out, rows.Err()
}

// Count returns how many requests match the filters.
func (r *Repository) Count(ctx context.Context, filters ListFilters) (int, error) {
	clause, args := listWhere(filters)
	var total int
	err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM payment_requests`+clause, args...).Scan(&total)
	return total, err
}

// StalePending returns requests that have sat in a pending status since
// before the cutoff, for the escalation scan.
func (r *Repository) StalePending(ctx context.Context, cutoff time.Time, limit int) ([]PaymentRequest, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.pool.Query(ctx, `SELECT `+requestColumns+` FROM payment_requests
WHERE status IN ('pending_validation', 'pending_owner_approval', 'pending_fpa_approval',
 'pending_director_approval', 'pending_cfo_approval', 'pending_ceo_approval', 'pending_payment_approval')
  AND updated_at < $1
ORDER BY updated_at ASC LIMIT $2`, cutoff, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []PaymentRequest
	for rows.Next() {
		pr, err := scanRequest(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, pr)
	}
	return out, rows.Err()
}

// --- transactional repository ---

func (t *txRepo) Get(ctx context.Context, id uuid.UUID) (PaymentRequest, error) {
	// Row lock serialises concurrent transitions on the same request.
	return scanRequest(t.tx.QueryRow(ctx, `SELECT `+requestColumns+` FROM payment_requests WHERE id = $1 FOR UPDATE`, id))
}

func (t *txRepo) Create(ctx context.Context, pr PaymentRequest) (PaymentRequest, error) {
	number, err := shared.NextRequestNumber(ctx, t.tx, time.Now())
	if err != nil {
		return PaymentRequest{}, err
	}
	pr.Number = number
	if pr.ID == uuid.Nil {
		pr.ID = uuid.New()
	}
	var categoryID pgtype.Int8
	if pr.CategoryID != nil {
		categoryID = pgtype.Int8{Int64: *pr.CategoryID, Valid: true}
	}
	var competence, due pgtype.Date
	if !pr.CompetenceDate.IsZero() {
		competence = pgtype.Date{Time: pr.CompetenceDate, Valid: true}
	}
	if !pr.DueDate.IsZero() {
		due = pgtype.Date{Time: pr.DueDate, Valid: true}
	}
	reported := decimal.NullDecimal{}
	if pr.ReportedTax != nil {
		reported = decimal.NullDecimal{Decimal: *pr.ReportedTax, Valid: true}
	}
	err = t.tx.QueryRow(ctx, `INSERT INTO payment_requests
(id, number, requester_id, description, amount, currency, vendor_id, cost_center_id, category_id, in_budget,
 status, approval_level, invoice_date, competence_date, due_date, quotation_count, reported_tax,
 payment_method, payment_reference, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, 0, $12, $13, $14, $15, $16, '', '', NOW(), NOW())
RETURNING created_at, updated_at`,
		pr.ID, pr.Number, pr.RequesterID, pr.Description, pr.Amount, pr.Currency, pr.VendorID, pr.CostCenterID,
		categoryID, pr.InBudget, StatusPendingValidation, pr.InvoiceDate, competence, due,
		pr.QuotationCount, reported).Scan(&pr.CreatedAt, &pr.UpdatedAt)
	if err != nil {
		return PaymentRequest{}, err
	}
	pr.Status = StatusPendingValidation
	pr.ApprovalLevel = 0
	return pr, nil
}

func (t *txRepo) Save(ctx context.Context, pr PaymentRequest) error {
	var currentApprover, paidBy pgtype.Int8
	if pr.CurrentApproverID != nil {
		currentApprover = pgtype.Int8{Int64: *pr.CurrentApproverID, Valid: true}
	}
	if pr.Payment.PaidBy != 0 {
		paidBy = pgtype.Int8{Int64: pr.Payment.PaidBy, Valid: true}
	}
	var taxCheck pgtype.Text
	if pr.TaxCheck != "" {
		taxCheck = pgtype.Text{String: string(pr.TaxCheck), Valid: true}
	}
	stamp := func(t *time.Time) pgtype.Timestamptz {
		if t == nil {
			return pgtype.Timestamptz{}
		}
		return pgtype.Timestamptz{Time: *t, Valid: true}
	}
	tag, err := t.tx.Exec(ctx, `UPDATE payment_requests SET
status = $2, approval_level = $3, current_approver_id = $4, quotation_count = $5, tax_check = $6,
approved_at = $7, rejected_at = $8, paid_at = $9, cancelled_at = $10,
payment_method = $11, payment_reference = $12, paid_by = $13, updated_at = NOW()
WHERE id = $1`,
		pr.ID, pr.Status, pr.ApprovalLevel, currentApprover, pr.QuotationCount, taxCheck,
		stamp(pr.ApprovedAt), stamp(pr.RejectedAt), stamp(pr.PaidAt), stamp(pr.CancelledAt),
		pr.Payment.Method, pr.Payment.Reference, paidBy)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (t *txRepo) AppendApproval(ctx context.Context, entry ApprovalEntry) error {
	_, err := t.tx.Exec(ctx, `INSERT INTO request_approvals (request_id, approver_id, action, level, comment, at)
VALUES ($1, $2, $3, $4, $5, NOW())`, entry.RequestID, entry.ApproverID, entry.Action, entry.Level, entry.Comment)
	return err
}

func (t *txRepo) AppendStatus(ctx context.Context, entry StatusEntry) error {
	_, err := t.tx.Exec(ctx, `INSERT INTO request_status_history (request_id, status, actor_id, reason, at)
VALUES ($1, $2, $3, $4, NOW())`, entry.RequestID, entry.Status, entry.ActorID, entry.Reason)
	return err
}

func (t *txRepo) MarkTransition(ctx context.Context, requestID uuid.UUID, target Status) error {
	return t.idem.CheckAndInsertTx(ctx, t.tx, shared.TransitionKey(requestID.String(), string(target)), "request.workflow")
}

func (t *txRepo) TransitionApplied(ctx context.Context, requestID uuid.UUID, target Status) (bool, error) {
	return t.idem.ExistsTx(ctx, t.tx, shared.TransitionKey(requestID.String(), string(target)))
}

func (t *txRepo) ClearTransitions(ctx context.Context, requestID uuid.UUID) error {
	return t.idem.DeletePrefixTx(ctx, t.tx, shared.RequestKeyPrefix(requestID.String()))
}

func (t *txRepo) FindBudget(ctx context.Context, ref budget.BucketRef) (budget.Budget, error) {
	return budget.FindApplicableTx(ctx, t.tx, ref)
}

func (t *txRepo) CommitBudget(ctx context.Context, budgetID int64, amount decimal.Decimal) error {
	return budget.CommitTx(ctx, t.tx, budgetID, amount)
}

func (t *txRepo) SpendBudget(ctx context.Context, budgetID int64, amount decimal.Decimal) error {
	return budget.SpendTx(ctx, t.tx, budgetID, amount)
}

func (t *txRepo) ReleaseBudget(ctx context.Context, budgetID int64, amount decimal.Decimal) error {
	return budget.ReleaseTx(ctx, t.tx, budgetID, amount)
}

func (t *txRepo) GetCostCenter(ctx context.Context, id int64) (masterdata.CostCenter, error) {
	return masterdata.GetCostCenterTx(ctx, t.tx, id)
}

func (t *txRepo) AddCostCenterCommitted(ctx context.Context, id int64, amount decimal.Decimal) error {
	return masterdata.AddCommittedTx(ctx, t.tx, id, amount)
}

func (t *txRepo) ReleaseCostCenterCommitted(ctx context.Context, id int64, amount decimal.Decimal) error {
	return masterdata.ReleaseCommittedTx(ctx, t.tx, id, amount)
}

func (t *txRepo) CostCenterCommitToSpent(ctx context.Context, id int64, amount decimal.Decimal) error {
	return masterdata.CommitToSpentTx(ctx, t.tx, id, amount)
}
