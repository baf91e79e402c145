package project

import (
	"context"

	"github.com/mbialek/projectledger/internal/quota"
)

// Store abstracts workspace persistence. Entries are append-only; projects
// and members are never hard-deleted here.
//
// Store also satisfies quota.Counter so the evaluator can count the resources
// it guards without a separate collaborator.
type Store interface {
	CreateProject(ctx context.Context, p *Project) error
	GetProject(ctx context.Context, tenantID, id string) (*Project, error)
	ListProjects(ctx context.Context, tenantID string) ([]*Project, error)

	CreateMember(ctx context.Context, m *Member) error
	ListMembers(ctx context.Context, tenantID string) ([]*Member, error)

	CreateEntry(ctx context.Context, e *Entry) error
	ListEntries(ctx context.Context, tenantID, projectID string) ([]*Entry, error)

	// SumByCurrency totals entries of the given kind per currency code.
	SumByCurrency(ctx context.Context, tenantID string, kind EntryKind) (map[string]int64, error)

	// Count implements quota.Counter for projects and members.
	Count(ctx context.Context, tenantID string, kind quota.ResourceKind) (int, error)
}
