package policy

import (
	"errors"
	"sort"
	"time"

	"github.com/shopspring/decimal"
)

// Policy statuses.
type Status string

const (
	StatusActive   Status = "active"
	StatusInactive Status = "inactive"
)

// Approver is one step in a policy's escalation order. Levels are unique
// within a policy.
type Approver struct {
	Level      int
	UserID     int64
	IsRequired bool
	CanSkip    bool
}

// Conditions tune how a policy's approvers are consumed.
type Conditions struct {
	RequiresAllApprovers  bool
	AllowParallelApproval bool
	EscalationTimeHours   int
	RequiresDocuments     bool
	AllowSelfApproval     bool
}

// Policy is an approval rule scoped by amount range, category and cost center.
// Nil CategoryID/CostCenterID act as wildcards.
type Policy struct {
	ID           int64
	Name         string
	MinAmount    decimal.Decimal
	MaxAmount    decimal.Decimal
	CategoryID   *int64
	CostCenterID *int64
	Priority     int
	Status       Status
	Approvers    []Approver
	Conditions   Conditions
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

var (
	// ErrNotFound indicates policy missing.
	ErrNotFound = errors.New("policy: not found")
	// ErrNoApplicablePolicy occurs when no active policy covers the request.
	ErrNoApplicablePolicy = errors.New("policy: no applicable policy")
	// ErrValidation indicates invalid input.
	ErrValidation = errors.New("policy: invalid input")
)

// Matches reports whether the policy covers the given amount and scope.
func (p Policy) Matches(amount decimal.Decimal, categoryID, costCenterID *int64) bool {
	if p.Status != StatusActive {
		return false
	}
	if amount.LessThan(p.MinAmount) || amount.GreaterThan(p.MaxAmount) {
		return false
	}
	if p.CategoryID != nil && (categoryID == nil || *p.CategoryID != *categoryID) {
		return false
	}
	if p.CostCenterID != nil && (costCenterID == nil || *p.CostCenterID != *costCenterID) {
		return false
	}
	return true
}

// sortedApprovers returns the approvers ordered by level ascending.
func (p Policy) sortedApprovers() []Approver {
	out := append([]Approver(nil), p.Approvers...)
	sort.Slice(out, func(i, j int) bool { return out[i].Level < out[j].Level })
	return out
}

// NextApprover walks the escalation order and returns the first approver still
// eligible to act. In sequential mode, and for required approvers generally,
// an approver only becomes eligible once every required approver at a lower
// level has signed off. Parallel optional approvers are eligible immediately.
func (p Policy) NextApprover(approvedLevels map[int]bool) (Approver, bool) {
	ordered := p.sortedApprovers()
	for _, candidate := range ordered {
		if approvedLevels[candidate.Level] {
			continue
		}
		if !p.Conditions.AllowParallelApproval || candidate.IsRequired {
			blocked := false
			for _, lower := range ordered {
				if lower.Level >= candidate.Level {
					break
				}
				if lower.IsRequired && !approvedLevels[lower.Level] {
					blocked = true
					break
				}
			}
			if blocked {
				continue
			}
		}
		return candidate, true
	}
	return Approver{}, false
}

// IsFullyApproved reports whether the approved level set satisfies the policy.
func (p Policy) IsFullyApproved(approvedLevels map[int]bool) bool {
	for _, a := range p.Approvers {
		if p.Conditions.RequiresAllApprovers || a.IsRequired {
			if !approvedLevels[a.Level] {
				return false
			}
		}
	}
	return true
}

// Validate checks the policy's own invariants.
func (p Policy) Validate() error {
	if p.MinAmount.GreaterThan(p.MaxAmount) {
		return errors.New("policy: min amount exceeds max amount")
	}
	seen := make(map[int]bool, len(p.Approvers))
	for _, a := range p.Approvers {
		if a.UserID == 0 {
			return errors.New("policy: approver user required")
		}
		if seen[a.Level] {
			return errors.New("policy: duplicate approver level")
		}
		seen[a.Level] = true
	}
	return nil
}
