package billing

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	stripe "github.com/stripe/stripe-go/v81"
	"github.com/stripe/stripe-go/v81/webhook"

	"github.com/mbialek/projectledger/internal/idgen"
	"github.com/mbialek/projectledger/internal/notify"
	"github.com/mbialek/projectledger/internal/plan"
	"github.com/mbialek/projectledger/internal/tenant"
	"github.com/mbialek/projectledger/internal/traces"
	"github.com/mbialek/projectledger/internal/vault"
)

// Processor applies the gateway's event stream to the local state.
//
// Guarantees, in order: signature verification happens before any state is
// touched; every handler is idempotent (upsert by external subscription id,
// unique external invoice id on the payment ledger); events that reference
// unknown tenants or subscriptions are logged and dropped, since no safe
// corrective action exists locally; a handler failure is logged and the
// event is still acknowledged, leaving redelivery to the gateway.
type Processor struct {
	store    Store
	tenants  tenant.Store
	plans    plan.Store
	gateway  Gateway
	vault    *vault.Vault
	notifier notify.Notifier
	logger   *slog.Logger
	secret   string
}

// ProcessorConfig carries the collaborators for NewProcessor.
type ProcessorConfig struct {
	Store         Store
	Tenants       tenant.Store
	Plans         plan.Store
	Gateway       Gateway
	Vault         *vault.Vault
	Notifier      notify.Notifier
	Logger        *slog.Logger
	WebhookSecret string
}

// NewProcessor creates the webhook event processor.
func NewProcessor(cfg ProcessorConfig) *Processor {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Processor{
		store:    cfg.Store,
		tenants:  cfg.Tenants,
		plans:    cfg.Plans,
		gateway:  cfg.Gateway,
		vault:    cfg.Vault,
		notifier: cfg.Notifier,
		logger:   logger,
		secret:   cfg.WebhookSecret,
	}
}

// Handle verifies and dispatches one raw webhook delivery.
//
// A returned error means the delivery must be rejected (bad signature or
// unparseable payload); internal handler failures are logged and swallowed
// so the gateway does not treat them as permanent.
func (p *Processor) Handle(ctx context.Context, payload []byte, sigHeader string) error {
	event, err := webhook.ConstructEvent(payload, sigHeader, p.secret)
	if err != nil {
		webhookEvents.WithLabelValues("unknown", "rejected").Inc()
		return fmt.Errorf("%w: %v", ErrBadSignature, err)
	}

	eventType := string(event.Type)
	ctx, span := traces.StartSpan(ctx, "billing.webhook", traces.EventType(eventType))
	defer span.End()
	logger := p.logger.With("event_id", event.ID, "event_type", eventType)

	var handlerErr error
	switch eventType {
	case "checkout.session.completed":
		handlerErr = p.handleCheckoutCompleted(ctx, logger, event)
	case "customer.subscription.created", "customer.subscription.updated":
		handlerErr = p.handleSubscriptionUpdated(ctx, logger, event)
	case "customer.subscription.deleted":
		handlerErr = p.handleSubscriptionDeleted(ctx, logger, event)
	case "invoice.payment_succeeded", "invoice.paid":
		handlerErr = p.handlePaymentSucceeded(ctx, logger, event)
	case "invoice.payment_failed":
		handlerErr = p.handlePaymentFailed(ctx, logger, event)
	default:
		logger.Debug("ignoring unhandled event type")
		webhookEvents.WithLabelValues(eventType, "ignored").Inc()
		return nil
	}

	if handlerErr != nil {
		// Acknowledge anyway; the gateway's redelivery policy governs retries
		// and a failure here must not corrupt unrelated state.
		logger.Error("event handler failed", "error", handlerErr)
		webhookEvents.WithLabelValues(eventType, "failed").Inc()
		return nil
	}
	webhookEvents.WithLabelValues(eventType, "processed").Inc()
	return nil
}

func (p *Processor) handleCheckoutCompleted(ctx context.Context, logger *slog.Logger, event stripe.Event) error {
	var sess stripe.CheckoutSession
	if err := json.Unmarshal(event.Data.Raw, &sess); err != nil {
		return fmt.Errorf("unmarshal checkout session: %w", err)
	}

	tenantID := sess.Metadata["tenant_id"]
	planID := sess.Metadata["plan_id"]
	if tenantID == "" {
		logger.Warn("checkout session without tenant metadata, dropping")
		return nil
	}
	t, err := p.tenants.Get(ctx, tenantID)
	if err != nil {
		logger.Warn("checkout session references unknown tenant, dropping", "tenant_id", tenantID)
		return nil
	}
	if sess.Subscription == nil {
		logger.Warn("checkout session has no subscription, dropping")
		return nil
	}

	// Capture the customer id on first contact.
	if t.CustomerCiphertext == "" && sess.Customer != nil {
		sealed, err := p.vault.Seal(sess.Customer.ID)
		if err != nil {
			return fmt.Errorf("seal customer id: %w", err)
		}
		if err := p.tenants.SetCustomerCiphertext(ctx, t.ID, sealed); err != nil {
			return fmt.Errorf("store customer id: %w", err)
		}
	}

	sub := &Subscription{
		ID:         idgen.WithPrefix("sub_"),
		ExternalID: sess.Subscription.ID,
		TenantID:   t.ID,
		PlanID:     planID,
		Status:     StatusActive,
	}
	// Pull status and period from the gateway; checkout completion alone
	// does not say whether the subscription started active or trialing.
	callCtx, cancel := context.WithTimeout(ctx, gatewayTimeout)
	defer cancel()
	if gw, err := p.gateway.GetSubscription(callCtx, sess.Subscription.ID); err != nil {
		logger.Warn("could not fetch subscription after checkout, assuming active", "error", err)
	} else {
		if status, ok := StatusFromGateway(gw.Status); ok {
			sub.Status = status
		}
		sub.CurrentPeriodEnd = gw.CurrentPeriodEnd
		sub.CancelAtPeriodEnd = gw.CancelAtPeriodEnd
	}

	saved, err := p.store.UpsertByExternalID(ctx, sub)
	if err != nil {
		return fmt.Errorf("upsert subscription: %w", err)
	}
	subscriptionTransitions.WithLabelValues(string(saved.Status)).Inc()

	if planID != "" && t.PlanID != planID {
		if err := p.tenants.SetPlan(ctx, t.ID, planID); err != nil {
			return fmt.Errorf("set tenant plan: %w", err)
		}
		if err := p.store.RecordPlanChange(ctx, &PlanChange{
			ID:              idgen.WithPrefix("pch_"),
			TenantID:        t.ID,
			OldPlanID:       t.PlanID,
			NewPlanID:       planID,
			ExternalEventID: event.ID,
			CreatedAt:       time.Now().UTC(),
		}); err != nil {
			logger.Error("failed to record plan change", "error", err)
		}
	}

	_, err = p.store.RefreshTenantActive(ctx, t.ID)
	return err
}

func (p *Processor) handleSubscriptionUpdated(ctx context.Context, logger *slog.Logger, event stripe.Event) error {
	var gwSub stripe.Subscription
	if err := json.Unmarshal(event.Data.Raw, &gwSub); err != nil {
		return fmt.Errorf("unmarshal subscription: %w", err)
	}

	tenantID, ok := p.resolveTenant(ctx, logger, &gwSub)
	if !ok {
		return nil
	}

	status, known := StatusFromGateway(string(gwSub.Status))
	if !known {
		// Merging an empty status keeps the existing one, but with no local
		// row there is nothing to keep and no state worth creating.
		if _, err := p.store.GetByExternalID(ctx, gwSub.ID); err != nil {
			logger.Warn("unmapped status for unknown subscription, dropping",
				"status", gwSub.Status, "external_id", gwSub.ID)
			webhookEvents.WithLabelValues(string(event.Type), "dropped").Inc()
			return nil
		}
		logger.Debug("unmapped subscription status, keeping existing", "status", gwSub.Status)
	}

	sub := &Subscription{
		ID:                idgen.WithPrefix("sub_"),
		ExternalID:        gwSub.ID,
		TenantID:          tenantID,
		PlanID:            p.resolvePlan(ctx, &gwSub),
		Status:            status,
		CancelAtPeriodEnd: gwSub.CancelAtPeriodEnd,
	}
	if gwSub.CurrentPeriodEnd > 0 {
		sub.CurrentPeriodEnd = time.Unix(gwSub.CurrentPeriodEnd, 0).UTC()
	}

	saved, err := p.store.UpsertByExternalID(ctx, sub)
	if err != nil {
		return fmt.Errorf("upsert subscription: %w", err)
	}
	subscriptionTransitions.WithLabelValues(string(saved.Status)).Inc()

	if saved.Status == StatusPastDue {
		p.notifyPastDue(ctx, logger, tenantID, "")
	}

	_, err = p.store.RefreshTenantActive(ctx, tenantID)
	return err
}

func (p *Processor) handleSubscriptionDeleted(ctx context.Context, logger *slog.Logger, event stripe.Event) error {
	var gwSub stripe.Subscription
	if err := json.Unmarshal(event.Data.Raw, &gwSub); err != nil {
		return fmt.Errorf("unmarshal subscription: %w", err)
	}

	existing, err := p.store.GetByExternalID(ctx, gwSub.ID)
	if err != nil {
		logger.Warn("deleted event for unknown subscription, dropping", "external_id", gwSub.ID)
		return nil
	}

	if _, err := p.store.UpsertByExternalID(ctx, &Subscription{
		ExternalID: gwSub.ID,
		Status:     StatusCanceled,
	}); err != nil {
		return fmt.Errorf("mark subscription canceled: %w", err)
	}
	subscriptionTransitions.WithLabelValues(string(StatusCanceled)).Inc()

	_, err = p.store.RefreshTenantActive(ctx, existing.TenantID)
	return err
}

func (p *Processor) handlePaymentSucceeded(ctx context.Context, logger *slog.Logger, event stripe.Event) error {
	var inv stripe.Invoice
	if err := json.Unmarshal(event.Data.Raw, &inv); err != nil {
		return fmt.Errorf("unmarshal invoice: %w", err)
	}
	if inv.Subscription == nil {
		logger.Debug("invoice without subscription, dropping")
		return nil
	}

	sub, err := p.store.GetByExternalID(ctx, inv.Subscription.ID)
	if err != nil {
		logger.Warn("payment for unknown subscription, dropping", "external_id", inv.Subscription.ID)
		return nil
	}

	paidAt := time.Now().UTC()
	if inv.StatusTransitions != nil && inv.StatusTransitions.PaidAt > 0 {
		paidAt = time.Unix(inv.StatusTransitions.PaidAt, 0).UTC()
	}
	inserted, err := p.store.RecordPayment(ctx, &Payment{
		ID:                idgen.WithPrefix("pay_"),
		TenantID:          sub.TenantID,
		SubscriptionID:    sub.ID,
		AmountCents:       inv.AmountPaid,
		Currency:          strings.ToUpper(string(inv.Currency)),
		ExternalInvoiceID: inv.ID,
		InvoiceURL:        inv.HostedInvoiceURL,
		PaidAt:            paidAt,
		CreatedAt:         time.Now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("record payment: %w", err)
	}
	if !inserted {
		logger.Debug("duplicate payment event, ledger unchanged", "invoice_id", inv.ID)
		webhookEvents.WithLabelValues(string(event.Type), "duplicate").Inc()
	}

	// A successful payment clears a past_due state.
	if _, err := p.store.UpsertByExternalID(ctx, &Subscription{
		ExternalID: inv.Subscription.ID,
		Status:     StatusActive,
	}); err != nil {
		return fmt.Errorf("mark subscription active: %w", err)
	}

	_, err = p.store.RefreshTenantActive(ctx, sub.TenantID)
	return err
}

func (p *Processor) handlePaymentFailed(ctx context.Context, logger *slog.Logger, event stripe.Event) error {
	var inv stripe.Invoice
	if err := json.Unmarshal(event.Data.Raw, &inv); err != nil {
		return fmt.Errorf("unmarshal invoice: %w", err)
	}
	if inv.Subscription == nil {
		logger.Debug("invoice without subscription, dropping")
		return nil
	}

	sub, err := p.store.GetByExternalID(ctx, inv.Subscription.ID)
	if err != nil {
		logger.Warn("failed payment for unknown subscription, dropping", "external_id", inv.Subscription.ID)
		return nil
	}

	if _, err := p.store.UpsertByExternalID(ctx, &Subscription{
		ExternalID: inv.Subscription.ID,
		Status:     StatusPastDue,
	}); err != nil {
		return fmt.Errorf("mark subscription past_due: %w", err)
	}
	subscriptionTransitions.WithLabelValues(string(StatusPastDue)).Inc()

	p.notifyPastDue(ctx, logger, sub.TenantID, inv.HostedInvoiceURL)

	// past_due still grants access; the refresh keeps the flag in agreement
	// rather than revoking it.
	_, err = p.store.RefreshTenantActive(ctx, sub.TenantID)
	return err
}

// resolveTenant finds the owning tenant of a gateway subscription, first by
// metadata, then by the local row. Events that resolve to nothing are
// dropped by the caller.
func (p *Processor) resolveTenant(ctx context.Context, logger *slog.Logger, gwSub *stripe.Subscription) (string, bool) {
	if id := gwSub.Metadata["tenant_id"]; id != "" {
		return id, true
	}
	existing, err := p.store.GetByExternalID(ctx, gwSub.ID)
	if err == nil {
		return existing.TenantID, true
	}
	logger.Warn("subscription event resolves to no tenant, dropping", "external_id", gwSub.ID)
	webhookEvents.WithLabelValues("customer.subscription.updated", "dropped").Inc()
	return "", false
}

// resolvePlan maps the subscription's price back to a catalogue plan.
func (p *Processor) resolvePlan(ctx context.Context, gwSub *stripe.Subscription) string {
	if id := gwSub.Metadata["plan_id"]; id != "" {
		return id
	}
	if gwSub.Items == nil || len(gwSub.Items.Data) == 0 || gwSub.Items.Data[0].Price == nil {
		return ""
	}
	pl, err := p.plans.GetByExternalPriceID(ctx, gwSub.Items.Data[0].Price.ID)
	if err != nil {
		return ""
	}
	return pl.ID
}

// notifyPastDue fires the side-effect notification without blocking or
// failing the state transition.
func (p *Processor) notifyPastDue(ctx context.Context, logger *slog.Logger, tenantID, invoiceURL string) {
	if p.notifier == nil {
		return
	}
	t, err := p.tenants.Get(ctx, tenantID)
	if err != nil {
		logger.Warn("cannot notify past_due, tenant lookup failed", "tenant_id", tenantID, "error", err)
		return
	}
	go func() {
		notifyCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := p.notifier.NotifyPastDue(notifyCtx, t.BillingEmail, t.ContactName, invoiceURL); err != nil {
			logger.Warn("past_due notification failed", "tenant_id", tenantID, "error", err)
		}
	}()
}
