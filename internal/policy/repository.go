package policy

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository provides PostgreSQL backed persistence for approval policies.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const policyColumns = `id, name, min_amount, max_amount, category_id, cost_center_id, priority, status,
requires_all_approvers, allow_parallel_approval, escalation_time_hours, requires_documents, allow_self_approval,
created_at, updated_at`

func scanPolicy(row pgx.Row) (Policy, error) {
	var p Policy
	var categoryID, costCenterID pgtype.Int8
	err := row.Scan(&p.ID, &p.Name, &p.MinAmount, &p.MaxAmount, &categoryID, &costCenterID, &p.Priority, &p.Status,
		&p.Conditions.RequiresAllApprovers, &p.Conditions.AllowParallelApproval, &p.Conditions.EscalationTimeHours,
		&p.Conditions.RequiresDocuments, &p.Conditions.AllowSelfApproval, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Policy{}, ErrNotFound
		}
		return Policy{}, err
	}
	if categoryID.Valid {
		p.CategoryID = &categoryID.Int64
	}
	if costCenterID.Valid {
		p.CostCenterID = &costCenterID.Int64
	}
	return p, nil
}

func (r *Repository) loadApprovers(ctx context.Context, policyIDs []int64) (map[int64][]Approver, error) {
	if len(policyIDs) == 0 {
		return map[int64][]Approver{}, nil
	}
	rows, err := r.pool.Query(ctx, `SELECT policy_id, level, user_id, is_required, can_skip
FROM approval_policy_approvers WHERE policy_id = ANY($1) ORDER BY policy_id, level`, policyIDs)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make(map[int64][]Approver)
	for rows.Next() {
		var policyID int64
		var a Approver
		if err := rows.Scan(&policyID, &a.Level, &a.UserID, &a.IsRequired, &a.CanSkip); err != nil {
			return nil, err
		}
		out[policyID] = append(out[policyID], a)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// Get returns a policy with its approvers.
func (r *Repository) Get(ctx context.Context, id int64) (Policy, error) {
	p, err := scanPolicy(r.pool.QueryRow(ctx, `SELECT `+policyColumns+` FROM approval_policies WHERE id = $1`, id))
	if err != nil {
		return Policy{}, err
	}
	approvers, err := r.loadApprovers(ctx, []int64{id})
	if err != nil {
		return Policy{}, err
	}
	p.Approvers = approvers[id]
	return p, nil
}

// ListActive returns every active policy with approvers attached.
func (r *Repository) ListActive(ctx context.Context) ([]Policy, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+policyColumns+` FROM approval_policies
WHERE status = 'active' ORDER BY priority ASC, id ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var policies []Policy
	var ids []int64
	for rows.Next() {
		p, err := scanPolicy(rows)
		if err != nil {
			return nil, err
		}
		policies = append(policies, p)
		ids = append(ids, p.ID)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	approvers, err := r.loadApprovers(ctx, ids)
	if err != nil {
		return nil, err
	}
	for i := range policies {
		policies[i].Approvers = approvers[policies[i].ID]
	}
	return policies, nil
}

// Create inserts a policy and its approvers in one transaction.
func (r *Repository) Create(ctx context.Context, p Policy) (Policy, error) {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return Policy{}, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var categoryID, costCenterID pgtype.Int8
	if p.CategoryID != nil {
		categoryID = pgtype.Int8{Int64: *p.CategoryID, Valid: true}
	}
	if p.CostCenterID != nil {
		costCenterID = pgtype.Int8{Int64: *p.CostCenterID, Valid: true}
	}
	err = tx.QueryRow(ctx, `INSERT INTO approval_policies
(name, min_amount, max_amount, category_id, cost_center_id, priority, status,
 requires_all_approvers, allow_parallel_approval, escalation_time_hours, requires_documents, allow_self_approval,
 created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, 'active', $7, $8, $9, $10, $11, NOW(), NOW())
RETURNING id, created_at, updated_at`,
		p.Name, p.MinAmount, p.MaxAmount, categoryID, costCenterID, p.Priority,
		p.Conditions.RequiresAllApprovers, p.Conditions.AllowParallelApproval, p.Conditions.EscalationTimeHours,
		p.Conditions.RequiresDocuments, p.Conditions.AllowSelfApproval,
	).Scan(&p.ID, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return Policy{}, err
	}
	p.Status = StatusActive

	for _, a := range p.Approvers {
		if _, err := tx.Exec(ctx, `INSERT INTO approval_policy_approvers (policy_id, level, user_id, is_required, can_skip)
VALUES ($1, $2, $3, $4, $5)`, p.ID, a.Level, a.UserID, a.IsRequired, a.CanSkip); err != nil {
			return Policy{}, err
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return Policy{}, err
	}
	return p, nil
}

// Update replaces the policy row and its approver set.
func (r *Repository) Update(ctx context.Context, p Policy) error {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var categoryID, costCenterID pgtype.Int8
	if p.CategoryID != nil {
		categoryID = pgtype.Int8{Int64: *p.CategoryID, Valid: true}
	}
	if p.CostCenterID != nil {
		costCenterID = pgtype.Int8{Int64: *p.CostCenterID, Valid: true}
	}
	tag, err := tx.Exec(ctx, `UPDATE approval_policies SET
name = $2, min_amount = $3, max_amount = $4, category_id = $5, cost_center_id = $6, priority = $7,
requires_all_approvers = $8, allow_parallel_approval = $9, escalation_time_hours = $10,
requires_documents = $11, allow_self_approval = $12, updated_at = NOW()
WHERE id = $1`,
		p.ID, p.Name, p.MinAmount, p.MaxAmount, categoryID, costCenterID, p.Priority,
		p.Conditions.RequiresAllApprovers, p.Conditions.AllowParallelApproval, p.Conditions.EscalationTimeHours,
		p.Conditions.RequiresDocuments, p.Conditions.AllowSelfApproval)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	if _, err := tx.Exec(ctx, `DELETE FROM approval_policy_approvers WHERE policy_id = $1`, p.ID); err != nil {
		return err
	}
	for _, a := range p.Approvers {
		if _, err := tx.Exec(ctx, `INSERT INTO approval_policy_approvers (policy_id, level, user_id, is_required, can_skip)
VALUES ($1, $2, $3, $4, $5)`, p.ID, a.Level, a.UserID, a.IsRequired, a.CanSkip); err != nil {
			return err
		}
	}
	return tx.Commit(ctx)
}

// SetStatus activates or deactivates a policy.
func (r *Repository) SetStatus(ctx context.Context, id int64, status Status) error {
	tag, err := r.pool.Exec(ctx, `UPDATE approval_policies SET status = $2, updated_at = NOW() WHERE id = $1`, id, status)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
