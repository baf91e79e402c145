package tenant

import "context"

// Store persists tenant data.
type Store interface {
	Create(ctx context.Context, t *Tenant) error
	Get(ctx context.Context, id string) (*Tenant, error)
	GetByEmail(ctx context.Context, email string) (*Tenant, error)
	Update(ctx context.Context, t *Tenant) error
	// SetActive flips the cached access gate. Only the billing engine calls it.
	SetActive(ctx context.Context, id string, active bool) error
	// SetCustomerCiphertext stores the sealed gateway customer id.
	SetCustomerCiphertext(ctx context.Context, id, ciphertext string) error
	SetPlan(ctx context.Context, id, planID string) error
}
