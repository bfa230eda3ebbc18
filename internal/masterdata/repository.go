package masterdata

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

// DBTX abstracts pgxpool.Pool and pgx.Tx for counter mutations that run inside
// a workflow transaction.
type DBTX interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Repository provides PostgreSQL backed persistence for master data.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const costCenterColumns = `id, code, name, manager_id, committed_amount, spent_amount, active, created_at, updated_at`

func scanCostCenter(row pgx.Row) (CostCenter, error) {
	var cc CostCenter
	err := row.Scan(&cc.ID, &cc.Code, &cc.Name, &cc.ManagerID, &cc.Committed, &cc.Spent, &cc.Active, &cc.CreatedAt, &cc.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return CostCenter{}, ErrNotFound
		}
		return CostCenter{}, err
	}
	return cc, nil
}

// GetCostCenter fetches a cost center by id.
func (r *Repository) GetCostCenter(ctx context.Context, id int64) (CostCenter, error) {
	return GetCostCenterTx(ctx, r.pool, id)
}

// GetCostCenterTx fetches a cost center using the supplied executor.
func GetCostCenterTx(ctx context.Context, db DBTX, id int64) (CostCenter, error) {
	return scanCostCenter(db.QueryRow(ctx, `SELECT `+costCenterColumns+` FROM cost_centers WHERE id = $1`, id))
}

// ListCostCenters returns active cost centers.
func (r *Repository) ListCostCenters(ctx context.Context) ([]CostCenter, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+costCenterColumns+` FROM cost_centers WHERE active ORDER BY code`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []CostCenter
	for rows.Next() {
		cc, err := scanCostCenter(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, cc)
	}
	return out, rows.Err()
}

// CreateCostCenter inserts a cost center.
func (r *Repository) CreateCostCenter(ctx context.Context, cc CostCenter) (CostCenter, error) {
	row := r.pool.QueryRow(ctx, `INSERT INTO cost_centers (code, name, manager_id, committed_amount, spent_amount, active, created_at, updated_at)
VALUES ($1, $2, $3, 0, 0, TRUE, NOW(), NOW()) RETURNING `+costCenterColumns, cc.Code, cc.Name, cc.ManagerID)
	return scanCostCenter(row)
}

// AddCommittedTx bumps the cost center committed counter by amount.
func AddCommittedTx(ctx context.Context, db DBTX, id int64, amount decimal.Decimal) error {
	tag, err := db.Exec(ctx, `UPDATE cost_centers
SET committed_amount = committed_amount + $2, updated_at = NOW() WHERE id = $1`, id, amount)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// ReleaseCommittedTx lowers the committed counter, never below zero.
func ReleaseCommittedTx(ctx context.Context, db DBTX, id int64, amount decimal.Decimal) error {
	tag, err := db.Exec(ctx, `UPDATE cost_centers
SET committed_amount = committed_amount - $2, updated_at = NOW()
WHERE id = $1 AND committed_amount >= $2`, id, amount)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrCommittedFloor
	}
	return nil
}

// CommitToSpentTx moves amount from the committed counter to spent.
func CommitToSpentTx(ctx context.Context, db DBTX, id int64, amount decimal.Decimal) error {
	tag, err := db.Exec(ctx, `UPDATE cost_centers
SET committed_amount = committed_amount - $2, spent_amount = spent_amount + $2, updated_at = NOW()
WHERE id = $1 AND committed_amount >= $2`, id, amount)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrCommittedFloor
	}
	return nil
}

// GetVendor fetches a vendor by id.
func (r *Repository) GetVendor(ctx context.Context, id int64) (Vendor, error) {
	var v Vendor
	err := r.pool.QueryRow(ctx, `SELECT id, code, name, tax_id, active, created_at FROM vendors WHERE id = $1`, id).
		Scan(&v.ID, &v.Code, &v.Name, &v.TaxID, &v.Active, &v.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Vendor{}, ErrNotFound
		}
		return Vendor{}, err
	}
	return v, nil
}

// ListVendors returns active vendors.
func (r *Repository) ListVendors(ctx context.Context) ([]Vendor, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, code, name, tax_id, active, created_at FROM vendors WHERE active ORDER BY code`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Vendor
	for rows.Next() {
		var v Vendor
		if err := rows.Scan(&v.ID, &v.Code, &v.Name, &v.TaxID, &v.Active, &v.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

// CreateVendor inserts a vendor.
func (r *Repository) CreateVendor(ctx context.Context, v Vendor) (Vendor, error) {
	err := r.pool.QueryRow(ctx, `INSERT INTO vendors (code, name, tax_id, active, created_at)
VALUES ($1, $2, $3, TRUE, NOW()) RETURNING id, created_at`, v.Code, v.Name, v.TaxID).Scan(&v.ID, &v.CreatedAt)
	if err != nil {
		return Vendor{}, err
	}
	v.Active = true
	return v, nil
}

// GetCategory fetches a category by id.
func (r *Repository) GetCategory(ctx context.Context, id int64) (Category, error) {
	var c Category
	err := r.pool.QueryRow(ctx, `SELECT id, code, name, active, created_at FROM categories WHERE id = $1`, id).
		Scan(&c.ID, &c.Code, &c.Name, &c.Active, &c.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Category{}, ErrNotFound
		}
		return Category{}, err
	}
	return c, nil
}

// ListCategories returns active categories.
func (r *Repository) ListCategories(ctx context.Context) ([]Category, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, code, name, active, created_at FROM categories WHERE active ORDER BY code`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Category
	for rows.Next() {
		var c Category
		if err := rows.Scan(&c.ID, &c.Code, &c.Name, &c.Active, &c.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// CreateCategory inserts a category.
func (r *Repository) CreateCategory(ctx context.Context, c Category) (Category, error) {
	err := r.pool.QueryRow(ctx, `INSERT INTO categories (code, name, active, created_at)
VALUES ($1, $2, TRUE, NOW()) RETURNING id, created_at`, c.Code, c.Name).Scan(&c.ID, &c.CreatedAt)
	if err != nil {
		return Category{}, err
	}
	c.Active = true
	return c, nil
}
