package plan

import (
	"context"
	"sort"
	"sync"
)

// MemoryStore is an in-memory catalogue for demo mode and tests.
type MemoryStore struct {
	plans map[string]*Plan
	mu    sync.RWMutex
}

// NewMemoryStore creates an empty in-memory plan store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{plans: make(map[string]*Plan)}
}

func (m *MemoryStore) Create(_ context.Context, p *Plan) error {
	if err := p.Validate(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *p
	m.plans[p.ID] = &cp
	return nil
}

func (m *MemoryStore) Get(_ context.Context, id string) (*Plan, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if p, ok := m.plans[id]; ok {
		cp := *p
		return &cp, nil
	}
	return nil, ErrPlanNotFound
}

func (m *MemoryStore) GetByExternalPriceID(_ context.Context, priceID string) (*Plan, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, p := range m.plans {
		if p.ExternalPriceID == priceID && priceID != "" {
			cp := *p
			return &cp, nil
		}
	}
	return nil, ErrPlanNotFound
}

func (m *MemoryStore) List(_ context.Context, activeOnly bool) ([]*Plan, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*Plan
	for _, p := range m.plans {
		if activeOnly && !p.Active {
			continue
		}
		cp := *p
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PriceCents < out[j].PriceCents })
	return out, nil
}

func (m *MemoryStore) Retire(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.plans[id]
	if !ok {
		return ErrPlanNotFound
	}
	p.Active = false
	return nil
}
