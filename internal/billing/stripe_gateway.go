package billing

import (
	"context"
	"fmt"
	"time"

	stripe "github.com/stripe/stripe-go/v81"
	checkoutsession "github.com/stripe/stripe-go/v81/checkout/session"
	"github.com/stripe/stripe-go/v81/customer"
	"github.com/stripe/stripe-go/v81/subscription"

	"github.com/mbialek/projectledger/internal/circuitbreaker"
)

// StripeGateway is the Stripe-backed Gateway. Calls go through a circuit
// breaker so a gateway outage fails fast instead of tying up request workers
// on timeouts.
type StripeGateway struct {
	breaker *circuitbreaker.Breaker
}

// NewStripeGateway configures the global Stripe client key and returns the
// gateway.
func NewStripeGateway(secretKey string, breaker *circuitbreaker.Breaker) *StripeGateway {
	stripe.Key = secretKey
	if breaker == nil {
		breaker = circuitbreaker.New("stripe", 5, 30*time.Second)
	}
	return &StripeGateway{breaker: breaker}
}

// call wraps one gateway operation with the breaker and metrics.
func (g *StripeGateway) call(op string, fn func() error) error {
	if !g.breaker.Allow() {
		gatewayCalls.WithLabelValues(op, "rejected").Inc()
		return ErrGatewayUnavailable
	}
	if err := fn(); err != nil {
		g.breaker.RecordFailure()
		gatewayCalls.WithLabelValues(op, "error").Inc()
		return err
	}
	g.breaker.RecordSuccess()
	gatewayCalls.WithLabelValues(op, "ok").Inc()
	return nil
}

func (g *StripeGateway) CreateCustomer(ctx context.Context, email, name, tenantID string) (string, error) {
	var id string
	err := g.call("create_customer", func() error {
		params := &stripe.CustomerParams{
			Params: stripe.Params{Context: ctx},
			Email:  stripe.String(email),
			Name:   stripe.String(name),
		}
		params.AddMetadata("tenant_id", tenantID)
		cust, err := customer.New(params)
		if err != nil {
			return fmt.Errorf("create customer: %w", err)
		}
		id = cust.ID
		return nil
	})
	return id, err
}

func (g *StripeGateway) CreateCheckoutSession(ctx context.Context, p CheckoutParams) (*CheckoutSession, error) {
	var out *CheckoutSession
	err := g.call("create_checkout_session", func() error {
		params := &stripe.CheckoutSessionParams{
			Params:     stripe.Params{Context: ctx},
			Customer:   stripe.String(p.CustomerID),
			Mode:       stripe.String(string(stripe.CheckoutSessionModeSubscription)),
			SuccessURL: stripe.String(p.SuccessURL),
			CancelURL:  stripe.String(p.CancelURL),
			LineItems: []*stripe.CheckoutSessionLineItemParams{
				{
					Price:    stripe.String(p.PriceID),
					Quantity: stripe.Int64(1),
				},
			},
			// Metadata on the subscription itself, so every later
			// subscription.* event resolves without a session lookup.
			SubscriptionData: &stripe.CheckoutSessionSubscriptionDataParams{
				Metadata: map[string]string{
					"tenant_id": p.TenantID,
					"plan_id":   p.PlanID,
				},
			},
		}
		params.AddMetadata("tenant_id", p.TenantID)
		params.AddMetadata("plan_id", p.PlanID)

		sess, err := checkoutsession.New(params)
		if err != nil {
			return fmt.Errorf("create checkout session: %w", err)
		}
		out = &CheckoutSession{ID: sess.ID, URL: sess.URL}
		return nil
	})
	return out, err
}

func (g *StripeGateway) GetSubscription(ctx context.Context, externalID string) (*GatewaySubscription, error) {
	var out *GatewaySubscription
	err := g.call("get_subscription", func() error {
		sub, err := subscription.Get(externalID, &stripe.SubscriptionParams{
			Params: stripe.Params{Context: ctx},
		})
		if err != nil {
			return fmt.Errorf("get subscription: %w", err)
		}
		out = flattenSubscription(sub)
		return nil
	})
	return out, err
}

func (g *StripeGateway) ChangeSubscriptionPrice(ctx context.Context, externalID, priceID string) (*GatewaySubscription, error) {
	var out *GatewaySubscription
	err := g.call("change_subscription_price", func() error {
		current, err := subscription.Get(externalID, &stripe.SubscriptionParams{
			Params: stripe.Params{Context: ctx},
		})
		if err != nil {
			return fmt.Errorf("get subscription: %w", err)
		}
		if current.Items == nil || len(current.Items.Data) == 0 {
			return fmt.Errorf("subscription %s has no items", externalID)
		}

		updated, err := subscription.Update(externalID, &stripe.SubscriptionParams{
			Params: stripe.Params{Context: ctx},
			Items: []*stripe.SubscriptionItemsParams{
				{
					ID:    stripe.String(current.Items.Data[0].ID),
					Price: stripe.String(priceID),
				},
			},
			ProrationBehavior: stripe.String("create_prorations"),
		})
		if err != nil {
			return fmt.Errorf("update subscription: %w", err)
		}
		out = flattenSubscription(updated)
		return nil
	})
	return out, err
}

func (g *StripeGateway) SetCancelAtPeriodEnd(ctx context.Context, externalID string, flag bool) (*GatewaySubscription, error) {
	var out *GatewaySubscription
	err := g.call("set_cancel_at_period_end", func() error {
		updated, err := subscription.Update(externalID, &stripe.SubscriptionParams{
			Params:            stripe.Params{Context: ctx},
			CancelAtPeriodEnd: stripe.Bool(flag),
		})
		if err != nil {
			return fmt.Errorf("update subscription: %w", err)
		}
		out = flattenSubscription(updated)
		return nil
	})
	return out, err
}

func flattenSubscription(sub *stripe.Subscription) *GatewaySubscription {
	out := &GatewaySubscription{
		ID:                sub.ID,
		Status:            string(sub.Status),
		CancelAtPeriodEnd: sub.CancelAtPeriodEnd,
		Metadata:          sub.Metadata,
	}
	if sub.Customer != nil {
		out.CustomerID = sub.Customer.ID
	}
	if sub.CurrentPeriodEnd > 0 {
		out.CurrentPeriodEnd = time.Unix(sub.CurrentPeriodEnd, 0).UTC()
	}
	if sub.Items != nil && len(sub.Items.Data) > 0 && sub.Items.Data[0].Price != nil {
		out.PriceID = sub.Items.Data[0].Price.ID
	}
	return out
}
