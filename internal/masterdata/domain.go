package masterdata

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

// CostCenter groups requests under a manager and carries running commitment
// counters mirroring the budget ledger.
type CostCenter struct {
	ID        int64
	Code      string
	Name      string
	ManagerID int64
	Committed decimal.Decimal
	Spent     decimal.Decimal
	Active    bool
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Vendor is a payee reference.
type Vendor struct {
	ID        int64
	Code      string
	Name      string
	TaxID     string
	Active    bool
	CreatedAt time.Time
}

// Category classifies requests for policy and budget matching.
type Category struct {
	ID        int64
	Code      string
	Name      string
	Active    bool
	CreatedAt time.Time
}

var (
	// ErrNotFound indicates record missing.
	ErrNotFound = errors.New("masterdata: not found")
	// ErrValidation indicates invalid input.
	ErrValidation = errors.New("masterdata: invalid input")
	// ErrCommittedFloor occurs when a counter decrement exceeds the committed amount.
	ErrCommittedFloor = errors.New("masterdata: decrement exceeds committed counter")
)
