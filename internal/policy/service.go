package policy

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/shopspring/decimal"

	"github.com/approvia/approvia/internal/shared"
)

// RepositoryPort describes repository operations used by Resolver.
type RepositoryPort interface {
	Get(ctx context.Context, id int64) (Policy, error)
	ListActive(ctx context.Context) ([]Policy, error)
	Create(ctx context.Context, p Policy) (Policy, error)
	Update(ctx context.Context, p Policy) error
	SetStatus(ctx context.Context, id int64, status Status) error
}

// CachePort is the redis-backed active-policy cache.
type CachePort interface {
	FetchActive(ctx context.Context, loader func(context.Context) ([]Policy, error)) ([]Policy, error)
	Invalidate(ctx context.Context)
}

// AuditPort reused from shared.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Resolver selects the applicable policy for a request and walks its
// escalation order.
type Resolver struct {
	repo   RepositoryPort
	cache  CachePort
	audit  AuditPort
	logger *slog.Logger
}

// NewResolver constructs the policy resolver service.
func NewResolver(repo RepositoryPort, cache CachePort, audit AuditPort, logger *slog.Logger) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{repo: repo, cache: cache, audit: audit, logger: logger}
}

func (r *Resolver) activePolicies(ctx context.Context) ([]Policy, error) {
	if r.cache != nil {
		return r.cache.FetchActive(ctx, r.repo.ListActive)
	}
	return r.repo.ListActive(ctx)
}

// FindApplicable returns the single policy governing a request of the given
// amount and scope. Among matches the lowest priority value wins; equal
// priorities resolve to the lowest policy id so the tie order is total.
func (r *Resolver) FindApplicable(ctx context.Context, amount decimal.Decimal, categoryID, costCenterID *int64) (Policy, error) {
	policies, err := r.activePolicies(ctx)
	if err != nil {
		return Policy{}, err
	}
	var best *Policy
	for i := range policies {
		p := policies[i]
		if !p.Matches(amount, categoryID, costCenterID) {
			continue
		}
		if best == nil || p.Priority < best.Priority || (p.Priority == best.Priority && p.ID < best.ID) {
			best = &p
		}
	}
	if best == nil {
		return Policy{}, ErrNoApplicablePolicy
	}
	return *best, nil
}

// Get returns a policy by id.
func (r *Resolver) Get(ctx context.Context, id int64) (Policy, error) {
	return r.repo.Get(ctx, id)
}

// ListActive returns the active policy set.
func (r *Resolver) ListActive(ctx context.Context) ([]Policy, error) {
	return r.activePolicies(ctx)
}

// Create validates and persists a new policy.
func (r *Resolver) Create(ctx context.Context, p Policy) (Policy, error) {
	if err := p.Validate(); err != nil {
		return Policy{}, fmt.Errorf("%w: %s", ErrValidation, err)
	}
	created, err := r.repo.Create(ctx, p)
	if err != nil {
		return Policy{}, err
	}
	r.invalidate(ctx)
	r.recordAudit(ctx, "POLICY_CREATE", created.ID, map[string]any{"name": created.Name, "priority": created.Priority})
	return created, nil
}

// Update validates and replaces an existing policy.
func (r *Resolver) Update(ctx context.Context, p Policy) error {
	if err := p.Validate(); err != nil {
		return fmt.Errorf("%w: %s", ErrValidation, err)
	}
	if err := r.repo.Update(ctx, p); err != nil {
		return err
	}
	r.invalidate(ctx)
	r.recordAudit(ctx, "POLICY_UPDATE", p.ID, map[string]any{"name": p.Name})
	return nil
}

// SetStatus activates or deactivates a policy.
func (r *Resolver) SetStatus(ctx context.Context, id int64, status Status) error {
	if status != StatusActive && status != StatusInactive {
		return fmt.Errorf("%w: unknown status %q", ErrValidation, status)
	}
	if err := r.repo.SetStatus(ctx, id, status); err != nil {
		return err
	}
	r.invalidate(ctx)
	r.recordAudit(ctx, "POLICY_STATUS", id, map[string]any{"status": string(status)})
	return nil
}

func (r *Resolver) invalidate(ctx context.Context) {
	if r.cache != nil {
		r.cache.Invalidate(ctx)
	}
}

func (r *Resolver) recordAudit(ctx context.Context, action string, policyID int64, meta map[string]any) {
	if r.audit == nil {
		return
	}
	actorID, _ := shared.ActorFromContext(ctx)
	log := shared.AuditLog{ActorID: actorID, Action: action, Entity: "policy", EntityID: fmt.Sprintf("%d", policyID), Meta: meta}
	if err := r.audit.Record(ctx, log); err != nil {
		r.logger.Warn("record audit", slog.String("action", action), slog.Any("error", err))
	}
}
