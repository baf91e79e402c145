package tenant

import (
	"context"
	"strings"
	"sync"
	"time"
)

// MemoryStore is an in-memory implementation for demo mode and tests.
type MemoryStore struct {
	tenants map[string]*Tenant
	mu      sync.RWMutex
}

// NewMemoryStore creates a new in-memory tenant store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{tenants: make(map[string]*Tenant)}
}

func (m *MemoryStore) Create(_ context.Context, t *Tenant) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.tenants {
		if strings.EqualFold(existing.BillingEmail, t.BillingEmail) {
			return ErrEmailTaken
		}
	}
	cp := *t
	m.tenants[t.ID] = &cp
	return nil
}

func (m *MemoryStore) Get(_ context.Context, id string) (*Tenant, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if t, ok := m.tenants[id]; ok {
		cp := *t
		return &cp, nil
	}
	return nil, ErrTenantNotFound
}

func (m *MemoryStore) GetByEmail(_ context.Context, email string) (*Tenant, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, t := range m.tenants {
		if strings.EqualFold(t.BillingEmail, email) {
			cp := *t
			return &cp, nil
		}
	}
	return nil, ErrTenantNotFound
}

func (m *MemoryStore) Update(_ context.Context, t *Tenant) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.tenants[t.ID]; !ok {
		return ErrTenantNotFound
	}
	cp := *t
	cp.UpdatedAt = time.Now()
	m.tenants[t.ID] = &cp
	return nil
}

func (m *MemoryStore) SetActive(_ context.Context, id string, active bool) error {
	return m.mutate(id, func(t *Tenant) { t.Active = active })
}

func (m *MemoryStore) SetCustomerCiphertext(_ context.Context, id, ciphertext string) error {
	return m.mutate(id, func(t *Tenant) { t.CustomerCiphertext = ciphertext })
}

func (m *MemoryStore) SetPlan(_ context.Context, id, planID string) error {
	return m.mutate(id, func(t *Tenant) { t.PlanID = planID })
}

func (m *MemoryStore) mutate(id string, fn func(*Tenant)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tenants[id]
	if !ok {
		return ErrTenantNotFound
	}
	fn(t)
	t.UpdatedAt = time.Now()
	return nil
}
