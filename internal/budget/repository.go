package budget

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

// DBTX abstracts pgxpool.Pool and pgx.Tx so ledger mutations can run either
// standalone or inside a workflow transaction.
type DBTX interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Repository provides PostgreSQL backed persistence for budgets.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const budgetColumns = `id, cost_center_id, category_id, year, period,
planned_amount, spent_amount, committed_amount, available_amount, status, created_at, updated_at`

func scanBudget(row pgx.Row) (Budget, error) {
	var b Budget
	var categoryID pgtype.Int8
	err := row.Scan(&b.ID, &b.CostCenterID, &categoryID, &b.Year, &b.Period,
		&b.Planned, &b.Spent, &b.Committed, &b.Available, &b.Status, &b.CreatedAt, &b.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Budget{}, ErrNotFound
		}
		return Budget{}, err
	}
	if categoryID.Valid {
		b.CategoryID = &categoryID.Int64
	}
	return b, nil
}

// Get fetches a budget by id.
func (r *Repository) Get(ctx context.Context, id int64) (Budget, error) {
	return GetTx(ctx, r.pool, id)
}

// GetTx fetches a budget by id using the supplied executor.
func GetTx(ctx context.Context, db DBTX, id int64) (Budget, error) {
	return scanBudget(db.QueryRow(ctx, `SELECT `+budgetColumns+` FROM budgets WHERE id = $1`, id))
}

// FindApplicable resolves the bucket for a ledger operation: cost center and
// year must match, status must be approved or active, and a category-exact
// bucket wins over a wildcard one. Remaining ties resolve to the lowest id.
func (r *Repository) FindApplicable(ctx context.Context, ref BucketRef) (Budget, error) {
	return FindApplicableTx(ctx, r.pool, ref)
}

// FindApplicableTx is FindApplicable over an arbitrary executor.
func FindApplicableTx(ctx context.Context, db DBTX, ref BucketRef) (Budget, error) {
	var categoryID pgtype.Int8
	if ref.CategoryID != nil {
		categoryID = pgtype.Int8{Int64: *ref.CategoryID, Valid: true}
	}
	row := db.QueryRow(ctx, `SELECT `+budgetColumns+` FROM budgets
WHERE cost_center_id = $1
  AND year = $2
  AND status IN ('approved', 'active')
  AND (category_id IS NULL OR category_id = $3)
ORDER BY (category_id IS NULL) ASC, id ASC
LIMIT 1`, ref.CostCenterID, ref.Year, categoryID)
	return scanBudget(row)
}

// CommitTx reserves funds: committed += amount, available -= amount. The row
// guard rejects the update when the reservation would overdraw the bucket, so
// two racing commits can never both succeed past the available amount.
func CommitTx(ctx context.Context, db DBTX, budgetID int64, amount decimal.Decimal) error {
	tag, err := db.Exec(ctx, `UPDATE budgets
SET committed_amount = committed_amount + $2,
    available_amount = available_amount - $2,
    updated_at = NOW()
WHERE id = $1 AND available_amount >= $2`, budgetID, amount)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrInsufficientBudget
	}
	return nil
}

// SpendTx converts a reservation into consumption: spent += amount,
// committed -= amount. Available is untouched; it was reduced at commit time.
func SpendTx(ctx context.Context, db DBTX, budgetID int64, amount decimal.Decimal) error {
	tag, err := db.Exec(ctx, `UPDATE budgets
SET spent_amount = spent_amount + $2,
    committed_amount = committed_amount - $2,
    updated_at = NOW()
WHERE id = $1 AND committed_amount >= $2`, budgetID, amount)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrInsufficientCommitted
	}
	return nil
}

// ReleaseTx undoes a commit that will never be spent: committed -= amount,
// available += amount.
func ReleaseTx(ctx context.Context, db DBTX, budgetID int64, amount decimal.Decimal) error {
	tag, err := db.Exec(ctx, `UPDATE budgets
SET committed_amount = committed_amount - $2,
    available_amount = available_amount + $2,
    updated_at = NOW()
WHERE id = $1 AND committed_amount >= $2`, budgetID, amount)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrInsufficientCommitted
	}
	return nil
}

// Commit applies CommitTx on the pool.
func (r *Repository) Commit(ctx context.Context, budgetID int64, amount decimal.Decimal) error {
	return CommitTx(ctx, r.pool, budgetID, amount)
}

// Spend applies SpendTx on the pool.
func (r *Repository) Spend(ctx context.Context, budgetID int64, amount decimal.Decimal) error {
	return SpendTx(ctx, r.pool, budgetID, amount)
}

// Release applies ReleaseTx on the pool.
func (r *Repository) Release(ctx context.Context, budgetID int64, amount decimal.Decimal) error {
	return ReleaseTx(ctx, r.pool, budgetID, amount)
}

// Create inserts a draft budget with available = planned.
func (r *Repository) Create(ctx context.Context, b Budget) (Budget, error) {
	var categoryID pgtype.Int8
	if b.CategoryID != nil {
		categoryID = pgtype.Int8{Int64: *b.CategoryID, Valid: true}
	}
	row := r.pool.QueryRow(ctx, `INSERT INTO budgets
(cost_center_id, category_id, year, period, planned_amount, spent_amount, committed_amount, available_amount, status, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, 0, 0, $5, $6, NOW(), NOW())
RETURNING `+budgetColumns, b.CostCenterID, categoryID, b.Year, b.Period, b.Planned, StatusDraft)
	return scanBudget(row)
}

// UpdateStatus moves a budget to the target status.
func (r *Repository) UpdateStatus(ctx context.Context, id int64, status Status) error {
	tag, err := r.pool.Exec(ctx, `UPDATE budgets SET status = $2, updated_at = NOW() WHERE id = $1`, id, status)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// UpdatePlanned adjusts the planned allotment and recomputes available. The
// guard keeps the new plan at or above what is already spent plus committed.
func (r *Repository) UpdatePlanned(ctx context.Context, id int64, planned decimal.Decimal) error {
	tag, err := r.pool.Exec(ctx, `UPDATE budgets
SET planned_amount = $2,
    available_amount = $2 - spent_amount - committed_amount,
    updated_at = NOW()
WHERE id = $1 AND $2 >= spent_amount + committed_amount`, id, planned)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrValidation
	}
	return nil
}

// List returns budgets filtered by cost center and/or year.
func (r *Repository) List(ctx context.Context, costCenterID int64, year int, limit, offset int) ([]Budget, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `SELECT ` + budgetColumns + ` FROM budgets WHERE 1=1`
	args := []any{}
	argNum := 1
	if costCenterID > 0 {
		query += ` AND cost_center_id = $` + itoa(argNum)
		args = append(args, costCenterID)
		argNum++
	}
	if year > 0 {
		query += ` AND year = $` + itoa(argNum)
		args = append(args, year)
		argNum++
	}
	query += ` ORDER BY year DESC, id ASC LIMIT $` + itoa(argNum) + ` OFFSET $` + itoa(argNum+1)
	args = append(args, limit, offset)

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var budgets []Budget
	for rows.Next() {
		b, err := scanBudget(rows)
		if err != nil {
			return nil, err
		}
		budgets = append(budgets, b)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return budgets, nil
}

// itoa converts int to string for dynamic query building.
func itoa(i int) string {
	return fmt.Sprintf("%d", i)
}
