package billing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/mbialek/projectledger/internal/idgen"
	"github.com/mbialek/projectledger/internal/plan"
	"github.com/mbialek/projectledger/internal/quota"
	"github.com/mbialek/projectledger/internal/tenant"
	"github.com/mbialek/projectledger/internal/traces"
	"github.com/mbialek/projectledger/internal/vault"
)

// gatewayTimeout bounds synchronous gateway calls made on behalf of a user
// request. No database transaction is held across these calls.
const gatewayTimeout = 15 * time.Second

// Service implements the user-facing billing operations: starting checkout,
// changing plans, cancelling, and reading the tenant's billing position.
// Asynchronous gateway events are handled by the Processor, which drives the
// same Store.
type Service struct {
	store   Store
	tenants tenant.Store
	plans   plan.Store
	gateway Gateway
	vault   *vault.Vault
	counter quota.Counter
	logger  *slog.Logger

	successURL string
	cancelURL  string
}

// ServiceConfig carries the collaborators for NewService.
type ServiceConfig struct {
	Store      Store
	Tenants    tenant.Store
	Plans      plan.Store
	Gateway    Gateway
	Vault      *vault.Vault
	Counter    quota.Counter
	Logger     *slog.Logger
	SuccessURL string
	CancelURL  string
}

// NewService creates the billing service.
func NewService(cfg ServiceConfig) *Service {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		store:      cfg.Store,
		tenants:    cfg.Tenants,
		plans:      cfg.Plans,
		gateway:    cfg.Gateway,
		vault:      cfg.Vault,
		counter:    cfg.Counter,
		logger:     logger,
		successURL: cfg.SuccessURL,
		cancelURL:  cfg.CancelURL,
	}
}

// StartCheckout creates a hosted checkout session for a paid plan. The
// gateway customer is created on first use; its id is sealed before it is
// persisted and only ever opened for outbound gateway calls.
func (s *Service) StartCheckout(ctx context.Context, tenantID, planID string) (*CheckoutSession, error) {
	ctx, span := traces.StartSpan(ctx, "billing.checkout", traces.TenantID(tenantID), traces.PlanID(planID))
	defer span.End()

	t, err := s.tenants.Get(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	p, err := s.plans.Get(ctx, planID)
	if err != nil {
		return nil, err
	}
	if !p.Active || p.Free() {
		return nil, fmt.Errorf("%w: checkout requires an active paid plan", ErrPlanNotEligible)
	}

	customerID, err := s.resolveCustomerID(ctx, t)
	if err != nil {
		return nil, err
	}

	callCtx, cancel := context.WithTimeout(ctx, gatewayTimeout)
	defer cancel()
	session, err := s.gateway.CreateCheckoutSession(callCtx, CheckoutParams{
		CustomerID: customerID,
		PriceID:    p.ExternalPriceID,
		SuccessURL: s.successURL,
		CancelURL:  s.cancelURL,
		TenantID:   t.ID,
		PlanID:     p.ID,
	})
	if err != nil {
		return nil, err
	}
	return session, nil
}

func (s *Service) resolveCustomerID(ctx context.Context, t *tenant.Tenant) (string, error) {
	if t.CustomerCiphertext != "" {
		return s.vault.Open(t.CustomerCiphertext)
	}

	callCtx, cancel := context.WithTimeout(ctx, gatewayTimeout)
	defer cancel()
	customerID, err := s.gateway.CreateCustomer(callCtx, t.BillingEmail, t.Name, t.ID)
	if err != nil {
		return "", err
	}

	sealed, err := s.vault.Seal(customerID)
	if err != nil {
		return "", err
	}
	if err := s.tenants.SetCustomerCiphertext(ctx, t.ID, sealed); err != nil {
		return "", err
	}
	return customerID, nil
}

// ActivateFreePlan assigns a zero-price plan without any gateway
// interaction and opens access immediately.
func (s *Service) ActivateFreePlan(ctx context.Context, tenantID, planID string) error {
	t, err := s.tenants.Get(ctx, tenantID)
	if err != nil {
		return err
	}
	p, err := s.plans.Get(ctx, planID)
	if err != nil {
		return err
	}
	if !p.Active || !p.Free() {
		return fmt.Errorf("%w: plan is not a free plan", ErrPlanNotEligible)
	}

	if err := s.tenants.SetPlan(ctx, tenantID, planID); err != nil {
		return err
	}
	if err := s.store.RecordPlanChange(ctx, &PlanChange{
		ID:        idgen.WithPrefix("pch_"),
		TenantID:  tenantID,
		OldPlanID: t.PlanID,
		NewPlanID: planID,
		CreatedAt: time.Now().UTC(),
	}); err != nil {
		return err
	}
	_, err = s.store.RefreshTenantActive(ctx, tenantID)
	return err
}

// ChangePlan moves the tenant's current subscription to a different paid
// plan's price. The local row is updated from the gateway's response; the
// gateway will also emit an updated event, which applies idempotently.
func (s *Service) ChangePlan(ctx context.Context, tenantID, newPlanID string) (*Subscription, error) {
	t, err := s.tenants.Get(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	p, err := s.plans.Get(ctx, newPlanID)
	if err != nil {
		return nil, err
	}
	if !p.Active || p.Free() {
		return nil, fmt.Errorf("%w: plan change requires an active paid plan", ErrPlanNotEligible)
	}

	current, err := s.currentSubscription(ctx, tenantID)
	if err != nil {
		return nil, err
	}

	callCtx, cancel := context.WithTimeout(ctx, gatewayTimeout)
	defer cancel()
	gw, err := s.gateway.ChangeSubscriptionPrice(callCtx, current.ExternalID, p.ExternalPriceID)
	if err != nil {
		return nil, err
	}

	status, _ := StatusFromGateway(gw.Status)
	updated, err := s.store.UpsertByExternalID(ctx, &Subscription{
		ExternalID:        gw.ID,
		TenantID:          tenantID,
		PlanID:            p.ID,
		Status:            status,
		CurrentPeriodEnd:  gw.CurrentPeriodEnd,
		CancelAtPeriodEnd: gw.CancelAtPeriodEnd,
	})
	if err != nil {
		return nil, err
	}

	if err := s.tenants.SetPlan(ctx, tenantID, p.ID); err != nil {
		return nil, err
	}
	if err := s.store.RecordPlanChange(ctx, &PlanChange{
		ID:        idgen.WithPrefix("pch_"),
		TenantID:  tenantID,
		OldPlanID: t.PlanID,
		NewPlanID: p.ID,
		CreatedAt: time.Now().UTC(),
	}); err != nil {
		s.logger.Error("failed to record plan change", "tenant_id", tenantID, "error", err)
	}
	return updated, nil
}

// Cancel flags the current subscription to end at the period boundary.
// Access stays open until the gateway terminates the subscription.
func (s *Service) Cancel(ctx context.Context, tenantID string) (*Subscription, error) {
	return s.setCancelFlag(ctx, tenantID, true)
}

// Resume clears a pending cancellation before the period ends.
func (s *Service) Resume(ctx context.Context, tenantID string) (*Subscription, error) {
	return s.setCancelFlag(ctx, tenantID, false)
}

func (s *Service) setCancelFlag(ctx context.Context, tenantID string, flag bool) (*Subscription, error) {
	current, err := s.currentSubscription(ctx, tenantID)
	if err != nil {
		return nil, err
	}

	callCtx, cancel := context.WithTimeout(ctx, gatewayTimeout)
	defer cancel()
	if _, err := s.gateway.SetCancelAtPeriodEnd(callCtx, current.ExternalID, flag); err != nil {
		return nil, err
	}
	return s.store.SetCancelAtPeriodEnd(ctx, current.ExternalID, flag)
}

func (s *Service) currentSubscription(ctx context.Context, tenantID string) (*Subscription, error) {
	subs, err := s.store.ListByTenant(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	current := CurrentSubscription(subs)
	if current == nil {
		return nil, ErrNoActiveSubscription
	}
	return current, nil
}

// Usage pairs a current count with its plan ceiling.
type Usage struct {
	Used  int        `json:"used"`
	Limit plan.Limit `json:"limit"`
}

// Overview is the tenant's billing position in one read.
type Overview struct {
	Tenant        *tenant.Tenant   `json:"tenant"`
	Plan          *plan.Plan       `json:"plan,omitempty"`
	Subscriptions []*Subscription  `json:"subscriptions"`
	Active        bool             `json:"active"`
	Usage         map[string]Usage `json:"usage,omitempty"`
}

// GetOverview assembles the tenant, its plan, subscription history, and
// current resource usage against the plan's ceilings.
func (s *Service) GetOverview(ctx context.Context, tenantID string) (*Overview, error) {
	t, err := s.tenants.Get(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	subs, err := s.store.ListByTenant(ctx, tenantID)
	if err != nil {
		return nil, err
	}

	o := &Overview{
		Tenant:        t,
		Subscriptions: subs,
		Active:        t.Active,
	}

	if t.PlanID != "" {
		p, err := s.plans.Get(ctx, t.PlanID)
		if err != nil && !errors.Is(err, plan.ErrPlanNotFound) {
			return nil, err
		}
		if err == nil {
			o.Plan = p
			o.Usage = s.usage(ctx, tenantID, p)
		}
	}
	return o, nil
}

func (s *Service) usage(ctx context.Context, tenantID string, p *plan.Plan) map[string]Usage {
	if s.counter == nil {
		return nil
	}
	out := make(map[string]Usage)
	for kind, limit := range map[quota.ResourceKind]plan.Limit{
		quota.ResourceProjects: p.Features.MaxProjects,
		quota.ResourceMembers:  p.Features.MaxMembers,
	} {
		n, err := s.counter.Count(ctx, tenantID, kind)
		if err != nil {
			s.logger.Warn("usage count failed", "tenant_id", tenantID, "kind", kind, "error", err)
			continue
		}
		out[string(kind)] = Usage{Used: n, Limit: limit}
	}
	return out
}
