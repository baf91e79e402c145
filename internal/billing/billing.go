// Package billing is the reconciliation engine: it models a tenant's
// subscription lifecycle, applies the payment gateway's event stream to it,
// and keeps the tenant's access flag in agreement with the subscription set.
package billing

import (
	"errors"
	"time"
)

// Errors
var (
	ErrSubscriptionNotFound = errors.New("billing: subscription not found")
	ErrNoActiveSubscription = errors.New("billing: tenant has no active subscription")
	ErrPlanNotEligible      = errors.New("billing: plan not eligible for this operation")
	ErrBadSignature         = errors.New("billing: webhook signature verification failed")
	ErrGatewayUnavailable   = errors.New("billing: payment gateway unavailable")
)

// Status is a subscription's lifecycle state. Canceled is terminal.
type Status string

const (
	StatusTrialing Status = "trialing"
	StatusActive   Status = "active"
	StatusPastDue  Status = "past_due"
	StatusCanceled Status = "canceled"
)

// GrantsAccess reports whether a subscription in this status keeps the
// tenant's product access open. A past_due subscription still grants access;
// revocation happens only when the gateway terminates the subscription.
func (s Status) GrantsAccess() bool {
	return s == StatusActive || s == StatusTrialing || s == StatusPastDue
}

// Terminal reports whether no further transitions leave this status.
func (s Status) Terminal() bool { return s == StatusCanceled }

// StatusFromGateway maps a gateway status string onto the local enum.
// The second return is false for statuses this engine does not track.
func StatusFromGateway(s string) (Status, bool) {
	switch s {
	case "trialing":
		return StatusTrialing, true
	case "active":
		return StatusActive, true
	case "past_due":
		return StatusPastDue, true
	case "canceled", "unpaid", "incomplete_expired":
		return StatusCanceled, true
	default:
		return "", false
	}
}

// Subscription is the local record of one gateway subscription. Rows are
// never deleted; a subscription ends by moving to the canceled status.
type Subscription struct {
	ID                string    `json:"id"`
	TenantID          string    `json:"tenantId"`
	PlanID            string    `json:"planId,omitempty"`
	ExternalID        string    `json:"externalId"`
	Status            Status    `json:"status"`
	CurrentPeriodEnd  time.Time `json:"currentPeriodEnd,omitempty"`
	CancelAtPeriodEnd bool      `json:"cancelAtPeriodEnd"`
	CreatedAt         time.Time `json:"createdAt"`
	UpdatedAt         time.Time `json:"updatedAt"`
}

// merge folds an incoming event-shaped update into an existing row.
//
// Gateway events are not ordered, so status and period fields are
// last-write-wins, with two exceptions: a terminal status is never
// overwritten, and the cancel flag is OR-merged so a user-initiated cancel
// cannot be lost to a racing event that predates it. Clearing the flag goes
// through Store.SetCancelAtPeriodEnd, not through merge.
func merge(existing, incoming *Subscription, now time.Time) {
	if incoming.Status != "" && !existing.Status.Terminal() {
		existing.Status = incoming.Status
	}
	if incoming.PlanID != "" {
		existing.PlanID = incoming.PlanID
	}
	if incoming.TenantID != "" && existing.TenantID == "" {
		existing.TenantID = incoming.TenantID
	}
	if !incoming.CurrentPeriodEnd.IsZero() {
		existing.CurrentPeriodEnd = incoming.CurrentPeriodEnd
	}
	existing.CancelAtPeriodEnd = existing.CancelAtPeriodEnd || incoming.CancelAtPeriodEnd
	existing.UpdatedAt = now
}

// TenantActive is the pure function behind the tenant's is_active flag:
// true iff any subscription in the set still grants access.
func TenantActive(subs []*Subscription) bool {
	for _, s := range subs {
		if s.Status.GrantsAccess() {
			return true
		}
	}
	return false
}

// CurrentSubscription picks the subscription that governs access, if any.
// The most recently updated access-granting row wins.
func CurrentSubscription(subs []*Subscription) *Subscription {
	var current *Subscription
	for _, s := range subs {
		if !s.Status.GrantsAccess() {
			continue
		}
		if current == nil || s.UpdatedAt.After(current.UpdatedAt) {
			current = s
		}
	}
	return current
}

// Payment is an append-only ledger row. ExternalInvoiceID is unique and is
// the idempotency key for payment events.
type Payment struct {
	ID                string    `json:"id"`
	TenantID          string    `json:"tenantId"`
	SubscriptionID    string    `json:"subscriptionId,omitempty"`
	AmountCents       int64     `json:"amountCents"`
	Currency          string    `json:"currency"`
	ExternalInvoiceID string    `json:"externalInvoiceId"`
	InvoiceURL        string    `json:"invoiceUrl,omitempty"`
	PaidAt            time.Time `json:"paidAt"`
	CreatedAt         time.Time `json:"createdAt"`
}

// PlanChange is a write-once audit row recording a plan assignment.
type PlanChange struct {
	ID              string    `json:"id"`
	TenantID        string    `json:"tenantId"`
	OldPlanID       string    `json:"oldPlanId,omitempty"`
	NewPlanID       string    `json:"newPlanId"`
	ExternalEventID string    `json:"externalEventId,omitempty"`
	CreatedAt       time.Time `json:"createdAt"`
}
