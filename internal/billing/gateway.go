package billing

import (
	"context"
	"time"
)

// CheckoutParams describes a hosted checkout session to create. TenantID and
// PlanID travel as metadata on both the session and the subscription it
// creates, so every later event can be resolved back to a tenant without
// comparing encrypted customer ids.
type CheckoutParams struct {
	CustomerID string
	PriceID    string
	SuccessURL string
	CancelURL  string
	TenantID   string
	PlanID     string
}

// CheckoutSession is the gateway's descriptor of a created session.
type CheckoutSession struct {
	ID  string `json:"id"`
	URL string `json:"url"`
}

// GatewaySubscription is the gateway's view of a subscription, already
// flattened to the fields this engine cares about.
type GatewaySubscription struct {
	ID                string
	CustomerID        string
	Status            string
	PriceID           string
	CurrentPeriodEnd  time.Time
	CancelAtPeriodEnd bool
	Metadata          map[string]string
}

// Gateway is the outbound face of the payment processor. All calls are
// bounded by the context deadline; implementations surface unavailability
// as ErrGatewayUnavailable.
type Gateway interface {
	CreateCustomer(ctx context.Context, email, name, tenantID string) (string, error)
	CreateCheckoutSession(ctx context.Context, params CheckoutParams) (*CheckoutSession, error)
	GetSubscription(ctx context.Context, externalID string) (*GatewaySubscription, error)
	ChangeSubscriptionPrice(ctx context.Context, externalID, priceID string) (*GatewaySubscription, error)
	SetCancelAtPeriodEnd(ctx context.Context, externalID string, flag bool) (*GatewaySubscription, error)
}
