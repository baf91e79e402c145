// Package tenant provides the billed customer organisations (companies).
package tenant

import (
	"errors"
	"time"
)

// Errors
var (
	ErrTenantNotFound = errors.New("tenant: not found")
	ErrEmailTaken     = errors.New("tenant: billing email already registered")
)

// Tenant represents a company using the platform.
//
// Active is a cached gate on product access: it is recomputed by the billing
// reconciliation engine from the subscription set and is never flipped
// directly by a user-facing request. The subscription records are
// authoritative.
//
// CustomerCiphertext holds the payment-gateway customer id sealed by the
// vault; the plaintext identifier is never persisted.
type Tenant struct {
	ID                 string    `json:"id"`
	Name               string    `json:"name"`
	BillingEmail       string    `json:"billingEmail"`
	ContactName        string    `json:"contactName,omitempty"`
	Country            string    `json:"country,omitempty"`
	PlanID             string    `json:"planId,omitempty"`
	Active             bool      `json:"active"`
	CustomerCiphertext string    `json:"-"`
	CreatedAt          time.Time `json:"createdAt"`
	UpdatedAt          time.Time `json:"updatedAt"`
}
