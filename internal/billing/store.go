package billing

import (
	"context"

	"github.com/mbialek/projectledger/internal/pagination"
)

// Store persists the reconciliation engine's state.
//
// The uniqueness constraints on external subscription id and external
// invoice id are the engine's primary idempotency mechanism and must be
// enforced by the store itself, not only by callers.
type Store interface {
	// UpsertByExternalID creates the subscription or folds the update into
	// the existing row keyed by ExternalID, using merge semantics. The row
	// after the write is returned.
	UpsertByExternalID(ctx context.Context, sub *Subscription) (*Subscription, error)

	GetByExternalID(ctx context.Context, externalID string) (*Subscription, error)

	ListByTenant(ctx context.Context, tenantID string) ([]*Subscription, error)

	// SetCancelAtPeriodEnd sets the flag to an explicit value, bypassing the
	// OR-merge. Used by user-initiated cancel and resume.
	SetCancelAtPeriodEnd(ctx context.Context, externalID string, flag bool) (*Subscription, error)

	// RecordPayment appends a ledger row. Returns false when a row with the
	// same external invoice id already exists; that duplicate is not an error.
	RecordPayment(ctx context.Context, p *Payment) (bool, error)

	// ListPayments returns up to limit+1 rows, newest first, for cursor paging.
	ListPayments(ctx context.Context, tenantID string, limit int, cursor *pagination.Cursor) ([]*Payment, error)

	RecordPlanChange(ctx context.Context, pc *PlanChange) error

	ListPlanChanges(ctx context.Context, tenantID string) ([]*PlanChange, error)

	// RefreshTenantActive recomputes and persists the tenant's access flag
	// from its subscription set (or a free plan assignment), atomically with
	// respect to concurrent refreshes, and returns the new value.
	RefreshTenantActive(ctx context.Context, tenantID string) (bool, error)
}
