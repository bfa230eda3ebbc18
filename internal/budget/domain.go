package budget

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

// Budget lifecycle statuses.
type Status string

const (
	StatusDraft    Status = "draft"
	StatusApproved Status = "approved"
	StatusActive   Status = "active"
	StatusClosed   Status = "closed"
)

// Period granularity of a budget bucket. Any period is treated as applicable
// to every month of its year; the granularity only describes how finance
// planned the allotment.
type Period string

const (
	PeriodMonthly   Period = "monthly"
	PeriodQuarterly Period = "quarterly"
	PeriodAnnual    Period = "annual"
)

// Budget is a reservation bucket keyed by (cost center, category, year, period).
// Available must always equal planned - spent - committed.
type Budget struct {
	ID           int64
	CostCenterID int64
	CategoryID   *int64
	Year         int
	Period       Period
	Planned      decimal.Decimal
	Spent        decimal.Decimal
	Committed    decimal.Decimal
	Available    decimal.Decimal
	Status       Status
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// BucketRef identifies the bucket a ledger operation targets.
type BucketRef struct {
	CostCenterID int64
	CategoryID   *int64
	Year         int
	Month        int
}

var (
	// ErrNotFound indicates no budget bucket matches.
	ErrNotFound = errors.New("budget: not found")
	// ErrInsufficientBudget occurs when a commit exceeds available funds.
	ErrInsufficientBudget = errors.New("budget: insufficient available amount")
	// ErrInsufficientCommitted occurs when spend/release exceeds the reservation.
	ErrInsufficientCommitted = errors.New("budget: amount exceeds committed reservation")
	// ErrInvariant signals a broken ledger identity and is always a bug.
	ErrInvariant = errors.New("budget: ledger invariant violated")
	// ErrInvalidState occurs when a status change violates the budget lifecycle.
	ErrInvalidState = errors.New("budget: invalid state transition")
	// ErrValidation indicates invalid input.
	ErrValidation = errors.New("budget: invalid input")
)

// CheckInvariant verifies planned == spent + committed + available and that
// none of the mutable amounts went negative.
func CheckInvariant(b Budget) error {
	if b.Spent.IsNegative() || b.Committed.IsNegative() || b.Available.IsNegative() {
		return ErrInvariant
	}
	if !b.Planned.Equal(b.Spent.Add(b.Committed).Add(b.Available)) {
		return ErrInvariant
	}
	return nil
}

// canTransition encodes the draft -> approved -> active -> closed walk.
func canTransition(current, target Status) bool {
	switch current {
	case StatusDraft:
		return target == StatusApproved
	case StatusApproved:
		return target == StatusActive || target == StatusClosed
	case StatusActive:
		return target == StatusClosed
	default:
		return false
	}
}

// Matchable reports whether the bucket may absorb ledger operations.
func (b Budget) Matchable() bool {
	return b.Status == StatusApproved || b.Status == StatusActive
}
