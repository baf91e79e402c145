package project

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/mbialek/projectledger/internal/quota"
)

// MemoryStore is an in-memory Store for development and tests.
type MemoryStore struct {
	mu       sync.RWMutex
	projects map[string]*Project // id -> project
	members  map[string]*Member  // id -> member
	entries  map[string]*Entry   // id -> entry
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		projects: make(map[string]*Project),
		members:  make(map[string]*Member),
		entries:  make(map[string]*Entry),
	}
}

func (m *MemoryStore) CreateProject(_ context.Context, p *Project) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *p
	m.projects[p.ID] = &cp
	return nil
}

func (m *MemoryStore) GetProject(_ context.Context, tenantID, id string) (*Project, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.projects[id]
	if !ok || p.TenantID != tenantID {
		return nil, ErrProjectNotFound
	}
	cp := *p
	return &cp, nil
}

func (m *MemoryStore) ListProjects(_ context.Context, tenantID string) ([]*Project, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*Project
	for _, p := range m.projects {
		if p.TenantID == tenantID {
			cp := *p
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (m *MemoryStore) CreateMember(_ context.Context, mem *Member) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *mem
	m.members[mem.ID] = &cp
	return nil
}

func (m *MemoryStore) ListMembers(_ context.Context, tenantID string) ([]*Member, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*Member
	for _, mem := range m.members {
		if mem.TenantID == tenantID {
			cp := *mem
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (m *MemoryStore) CreateEntry(_ context.Context, e *Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.projects[e.ProjectID]; !ok {
		return ErrProjectNotFound
	}
	cp := *e
	m.entries[e.ID] = &cp
	return nil
}

func (m *MemoryStore) ListEntries(_ context.Context, tenantID, projectID string) ([]*Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*Entry
	for _, e := range m.entries {
		if e.TenantID == tenantID && e.ProjectID == projectID {
			cp := *e
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].OccurredAt.Before(out[j].OccurredAt) })
	return out, nil
}

func (m *MemoryStore) SumByCurrency(_ context.Context, tenantID string, kind EntryKind) (map[string]int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	sums := make(map[string]int64)
	for _, e := range m.entries {
		if e.TenantID == tenantID && e.Kind == kind {
			sums[e.Currency] += e.AmountCents
		}
	}
	return sums, nil
}

func (m *MemoryStore) Count(_ context.Context, tenantID string, kind quota.ResourceKind) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	switch kind {
	case quota.ResourceProjects:
		n := 0
		for _, p := range m.projects {
			if p.TenantID == tenantID {
				n++
			}
		}
		return n, nil
	case quota.ResourceMembers:
		n := 0
		for _, mem := range m.members {
			if mem.TenantID == tenantID {
				n++
			}
		}
		return n, nil
	default:
		return 0, fmt.Errorf("project: uncountable resource kind %q", kind)
	}
}
