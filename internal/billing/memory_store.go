package billing

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/mbialek/projectledger/internal/pagination"
	"github.com/mbialek/projectledger/internal/plan"
	"github.com/mbialek/projectledger/internal/syncutil"
	"github.com/mbialek/projectledger/internal/tenant"
)

// MemoryStore is an in-memory Store for development and tests.
//
// Per-subscription and per-tenant sharded locks give the same single-writer-
// per-row discipline the PostgreSQL store gets from row locking, so a
// user-initiated cancel and a concurrently arriving webhook cannot interleave
// into a lost update.
type MemoryStore struct {
	tenants tenant.Store
	plans   plan.Store

	rowLocks syncutil.ShardedMutex

	mu          sync.RWMutex
	subs        map[string]*Subscription // external id -> subscription
	payments    map[string]*Payment      // external invoice id -> payment
	planChanges []*PlanChange
}

// NewMemoryStore creates an empty in-memory store. The tenant and plan
// stores are consulted when recomputing the access flag.
func NewMemoryStore(tenants tenant.Store, plans plan.Store) *MemoryStore {
	return &MemoryStore{
		tenants:  tenants,
		plans:    plans,
		subs:     make(map[string]*Subscription),
		payments: make(map[string]*Payment),
	}
}

func (m *MemoryStore) UpsertByExternalID(_ context.Context, sub *Subscription) (*Subscription, error) {
	unlock := m.rowLocks.Lock("sub:" + sub.ExternalID)
	defer unlock()

	now := time.Now().UTC()

	m.mu.Lock()
	defer m.mu.Unlock()
	existing, ok := m.subs[sub.ExternalID]
	if !ok {
		cp := *sub
		if cp.CreatedAt.IsZero() {
			cp.CreatedAt = now
		}
		cp.UpdatedAt = now
		m.subs[sub.ExternalID] = &cp
		out := cp
		return &out, nil
	}

	merge(existing, sub, now)
	out := *existing
	return &out, nil
}

func (m *MemoryStore) GetByExternalID(_ context.Context, externalID string) (*Subscription, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.subs[externalID]
	if !ok {
		return nil, ErrSubscriptionNotFound
	}
	cp := *s
	return &cp, nil
}

func (m *MemoryStore) ListByTenant(_ context.Context, tenantID string) ([]*Subscription, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.listByTenantLocked(tenantID), nil
}

func (m *MemoryStore) listByTenantLocked(tenantID string) []*Subscription {
	var out []*Subscription
	for _, s := range m.subs {
		if s.TenantID == tenantID {
			cp := *s
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

func (m *MemoryStore) SetCancelAtPeriodEnd(_ context.Context, externalID string, flag bool) (*Subscription, error) {
	unlock := m.rowLocks.Lock("sub:" + externalID)
	defer unlock()

	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.subs[externalID]
	if !ok {
		return nil, ErrSubscriptionNotFound
	}
	s.CancelAtPeriodEnd = flag
	s.UpdatedAt = time.Now().UTC()
	cp := *s
	return &cp, nil
}

func (m *MemoryStore) RecordPayment(_ context.Context, p *Payment) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.payments[p.ExternalInvoiceID]; exists {
		return false, nil
	}
	cp := *p
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = time.Now().UTC()
	}
	m.payments[p.ExternalInvoiceID] = &cp
	return true, nil
}

func (m *MemoryStore) ListPayments(_ context.Context, tenantID string, limit int, cursor *pagination.Cursor) ([]*Payment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var all []*Payment
	for _, p := range m.payments {
		if p.TenantID == tenantID {
			cp := *p
			all = append(all, &cp)
		}
	}
	// Newest first, id as tiebreaker to keep cursor ordering stable.
	sort.Slice(all, func(i, j int) bool {
		if !all[i].CreatedAt.Equal(all[j].CreatedAt) {
			return all[i].CreatedAt.After(all[j].CreatedAt)
		}
		return all[i].ID > all[j].ID
	})

	var out []*Payment
	for _, p := range all {
		if cursor != nil {
			if p.CreatedAt.After(cursor.CreatedAt) {
				continue
			}
			if p.CreatedAt.Equal(cursor.CreatedAt) && p.ID >= cursor.ID {
				continue
			}
		}
		out = append(out, p)
		if len(out) == limit+1 {
			break
		}
	}
	return out, nil
}

func (m *MemoryStore) RecordPlanChange(_ context.Context, pc *PlanChange) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *pc
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = time.Now().UTC()
	}
	m.planChanges = append(m.planChanges, &cp)
	return nil
}

func (m *MemoryStore) ListPlanChanges(_ context.Context, tenantID string) ([]*PlanChange, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*PlanChange
	for _, pc := range m.planChanges {
		if pc.TenantID == tenantID {
			cp := *pc
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *MemoryStore) RefreshTenantActive(ctx context.Context, tenantID string) (bool, error) {
	unlock := m.rowLocks.Lock("tenant:" + tenantID)
	defer unlock()

	m.mu.RLock()
	active := TenantActive(m.listByTenantLocked(tenantID))
	m.mu.RUnlock()

	if !active {
		// A tenant on a free plan keeps access without any subscription.
		t, err := m.tenants.Get(ctx, tenantID)
		if err != nil {
			return false, err
		}
		if t.PlanID != "" {
			p, err := m.plans.Get(ctx, t.PlanID)
			if err == nil && p.Free() {
				active = true
			} else if err != nil && !errors.Is(err, plan.ErrPlanNotFound) {
				return false, err
			}
		}
	}

	if err := m.tenants.SetActive(ctx, tenantID, active); err != nil {
		return false, err
	}
	return active, nil
}
