package masterdata

import (
	"context"
	"fmt"
)

// RepositoryPort describes repository operations used by Service.
type RepositoryPort interface {
	GetCostCenter(ctx context.Context, id int64) (CostCenter, error)
	ListCostCenters(ctx context.Context) ([]CostCenter, error)
	CreateCostCenter(ctx context.Context, cc CostCenter) (CostCenter, error)
	GetVendor(ctx context.Context, id int64) (Vendor, error)
	ListVendors(ctx context.Context) ([]Vendor, error)
	CreateVendor(ctx context.Context, v Vendor) (Vendor, error)
	GetCategory(ctx context.Context, id int64) (Category, error)
	ListCategories(ctx context.Context) ([]Category, error)
	CreateCategory(ctx context.Context, c Category) (Category, error)
}

// Service exposes master data reads and administrative writes.
type Service struct {
	repo RepositoryPort
}

// NewService constructs the master data service.
func NewService(repo RepositoryPort) *Service {
	return &Service{repo: repo}
}

// GetCostCenter returns a cost center by id.
func (s *Service) GetCostCenter(ctx context.Context, id int64) (CostCenter, error) {
	return s.repo.GetCostCenter(ctx, id)
}

// ListCostCenters returns the active cost centers.
func (s *Service) ListCostCenters(ctx context.Context) ([]CostCenter, error) {
	return s.repo.ListCostCenters(ctx)
}

// CreateCostCenter validates and inserts a cost center.
func (s *Service) CreateCostCenter(ctx context.Context, cc CostCenter) (CostCenter, error) {
	if cc.Code == "" || cc.Name == "" {
		return CostCenter{}, fmt.Errorf("%w: code and name required", ErrValidation)
	}
	if cc.ManagerID == 0 {
		return CostCenter{}, fmt.Errorf("%w: manager required", ErrValidation)
	}
	return s.repo.CreateCostCenter(ctx, cc)
}

// GetVendor returns a vendor by id.
func (s *Service) GetVendor(ctx context.Context, id int64) (Vendor, error) {
	return s.repo.GetVendor(ctx, id)
}

// ListVendors returns the active vendors.
func (s *Service) ListVendors(ctx context.Context) ([]Vendor, error) {
	return s.repo.ListVendors(ctx)
}

// CreateVendor validates and inserts a vendor.
func (s *Service) CreateVendor(ctx context.Context, v Vendor) (Vendor, error) {
	if v.Code == "" || v.Name == "" {
		return Vendor{}, fmt.Errorf("%w: code and name required", ErrValidation)
	}
	return s.repo.CreateVendor(ctx, v)
}

// GetCategory returns a category by id.
func (s *Service) GetCategory(ctx context.Context, id int64) (Category, error) {
	return s.repo.GetCategory(ctx, id)
}

// ListCategories returns the active categories.
func (s *Service) ListCategories(ctx context.Context) ([]Category, error) {
	return s.repo.ListCategories(ctx)
}

// CreateCategory validates and inserts a category.
func (s *Service) CreateCategory(ctx context.Context, c Category) (Category, error) {
	if c.Code == "" || c.Name == "" {
		return Category{}, fmt.Errorf("%w: code and name required", ErrValidation)
	}
	return s.repo.CreateCategory(ctx, c)
}
