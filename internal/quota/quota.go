// Package quota authorizes create-operations against the tenant's plan
// ceilings. Checks fail closed: when the plan or the current count cannot be
// resolved, the operation is denied rather than silently allowed.
package quota

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/mbialek/projectledger/internal/plan"
	"github.com/mbialek/projectledger/internal/tenant"
)

var quotaChecks = prometheus.NewCounterVec(prometheus.CounterOpts{
	Namespace: "projectledger",
	Subsystem: "quota",
	Name:      "checks_total",
	Help:      "Quota checks by resource kind and outcome (allowed, denied, error).",
}, []string{"kind", "outcome"})

func init() {
	prometheus.MustRegister(quotaChecks)
}

// ResourceKind names a countable resource governed by a plan ceiling.
type ResourceKind string

const (
	ResourceProjects ResourceKind = "projects"
	ResourceMembers  ResourceKind = "members"
)

// Counter reports how many rows of a resource kind a tenant currently owns.
type Counter interface {
	Count(ctx context.Context, tenantID string, kind ResourceKind) (int, error)
}

// Decision is the outcome of a quota check. Reason is human-readable and only
// set when the check denies.
type Decision struct {
	Allowed bool   `json:"allowed"`
	Reason  string `json:"reason,omitempty"`
}

func allow() Decision { return Decision{Allowed: true} }

func deny(reason string) Decision { return Decision{Reason: reason} }

// Evaluator resolves a tenant's plan ceilings and compares them against
// current resource counts.
type Evaluator struct {
	tenants tenant.Store
	plans   plan.Store
	counter Counter
	logger  *slog.Logger
}

// NewEvaluator creates a quota evaluator.
func NewEvaluator(tenants tenant.Store, plans plan.Store, counter Counter, logger *slog.Logger) *Evaluator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Evaluator{tenants: tenants, plans: plans, counter: counter, logger: logger}
}

// CheckLimit decides whether the tenant may create one more resource of the
// given kind.
//
// This is a pre-check, not a transactional constraint: two concurrent creates
// near the ceiling may both pass and overshoot by one. That residual race is
// accepted; the worst case is a single extra row, not data corruption.
func (e *Evaluator) CheckLimit(ctx context.Context, tenantID string, kind ResourceKind) Decision {
	d := e.check(ctx, tenantID, kind)
	switch {
	case d.Allowed:
		quotaChecks.WithLabelValues(string(kind), "allowed").Inc()
	case d.Reason == reasonInternal:
		quotaChecks.WithLabelValues(string(kind), "error").Inc()
	default:
		quotaChecks.WithLabelValues(string(kind), "denied").Inc()
	}
	return d
}

const (
	reasonPlanNotFound = "plan not found"
	reasonInternal     = "internal error"
)

func (e *Evaluator) check(ctx context.Context, tenantID string, kind ResourceKind) Decision {
	t, err := e.tenants.Get(ctx, tenantID)
	if err != nil {
		if errors.Is(err, tenant.ErrTenantNotFound) {
			return deny(reasonPlanNotFound)
		}
		e.logger.Error("quota: tenant lookup failed", "tenant_id", tenantID, "error", err)
		return deny(reasonInternal)
	}
	if t.PlanID == "" {
		return deny(reasonPlanNotFound)
	}

	p, err := e.plans.Get(ctx, t.PlanID)
	if err != nil {
		if errors.Is(err, plan.ErrPlanNotFound) {
			return deny(reasonPlanNotFound)
		}
		e.logger.Error("quota: plan lookup failed", "tenant_id", tenantID, "plan_id", t.PlanID, "error", err)
		return deny(reasonInternal)
	}

	limit, ok := limitFor(p.Features, kind)
	if !ok {
		e.logger.Error("quota: unknown resource kind", "kind", kind)
		return deny(reasonInternal)
	}
	if limit.Unlimited {
		return allow()
	}

	count, err := e.counter.Count(ctx, tenantID, kind)
	if err != nil {
		e.logger.Error("quota: count failed", "tenant_id", tenantID, "kind", kind, "error", err)
		return deny(reasonInternal)
	}
	if !limit.Allows(count) {
		return deny(fmt.Sprintf("%s limit reached (%d)", kind, limit.Max))
	}
	return allow()
}

func limitFor(f plan.Features, kind ResourceKind) (plan.Limit, bool) {
	switch kind {
	case ResourceProjects:
		return f.MaxProjects, true
	case ResourceMembers:
		return f.MaxMembers, true
	default:
		return plan.Limit{}, false
	}
}
