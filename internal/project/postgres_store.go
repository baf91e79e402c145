package project

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/mbialek/projectledger/internal/quota"
)

// PostgresStore persists workspace data in PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL-backed workspace store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Migrate creates the projects, members, and entries tables.
func (p *PostgresStore) Migrate(ctx context.Context) error {
	_, err := p.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS projects (
			id          TEXT PRIMARY KEY,
			tenant_id   TEXT NOT NULL,
			name        TEXT NOT NULL,
			description TEXT NOT NULL DEFAULT '',
			created_at  TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);
		CREATE INDEX IF NOT EXISTS idx_projects_tenant ON projects(tenant_id);

		CREATE TABLE IF NOT EXISTS members (
			id         TEXT PRIMARY KEY,
			tenant_id  TEXT NOT NULL,
			email      TEXT NOT NULL,
			name       TEXT NOT NULL DEFAULT '',
			role       TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);
		CREATE INDEX IF NOT EXISTS idx_members_tenant ON members(tenant_id);

		CREATE TABLE IF NOT EXISTS entries (
			id           TEXT PRIMARY KEY,
			tenant_id    TEXT NOT NULL,
			project_id   TEXT NOT NULL REFERENCES projects(id),
			kind         TEXT NOT NULL,
			amount_cents BIGINT NOT NULL,
			currency     TEXT NOT NULL,
			description  TEXT NOT NULL DEFAULT '',
			occurred_at  TIMESTAMPTZ NOT NULL,
			created_at   TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);
		CREATE INDEX IF NOT EXISTS idx_entries_tenant_kind ON entries(tenant_id, kind);
		CREATE INDEX IF NOT EXISTS idx_entries_project ON entries(project_id);
	`)
	return err
}

func (p *PostgresStore) CreateProject(ctx context.Context, pr *Project) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO projects (id, tenant_id, name, description, created_at)
		VALUES ($1, $2, $3, $4, $5)`,
		pr.ID, pr.TenantID, pr.Name, pr.Description, pr.CreatedAt,
	)
	return err
}

func (p *PostgresStore) GetProject(ctx context.Context, tenantID, id string) (*Project, error) {
	pr := &Project{}
	err := p.db.QueryRowContext(ctx, `
		SELECT id, tenant_id, name, description, created_at
		FROM projects WHERE id = $1 AND tenant_id = $2`, id, tenantID,
	).Scan(&pr.ID, &pr.TenantID, &pr.Name, &pr.Description, &pr.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrProjectNotFound
	}
	if err != nil {
		return nil, err
	}
	return pr, nil
}

func (p *PostgresStore) ListProjects(ctx context.Context, tenantID string) ([]*Project, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT id, tenant_id, name, description, created_at
		FROM projects WHERE tenant_id = $1 ORDER BY created_at`, tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Project
	for rows.Next() {
		pr := &Project{}
		if err := rows.Scan(&pr.ID, &pr.TenantID, &pr.Name, &pr.Description, &pr.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, pr)
	}
	return out, rows.Err()
}

func (p *PostgresStore) CreateMember(ctx context.Context, m *Member) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO members (id, tenant_id, email, name, role, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		m.ID, m.TenantID, m.Email, m.Name, m.Role, m.CreatedAt,
	)
	return err
}

func (p *PostgresStore) ListMembers(ctx context.Context, tenantID string) ([]*Member, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT id, tenant_id, email, name, role, created_at
		FROM members WHERE tenant_id = $1 ORDER BY created_at`, tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Member
	for rows.Next() {
		m := &Member{}
		if err := rows.Scan(&m.ID, &m.TenantID, &m.Email, &m.Name, &m.Role, &m.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (p *PostgresStore) CreateEntry(ctx context.Context, e *Entry) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO entries (id, tenant_id, project_id, kind, amount_cents, currency, description, occurred_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		e.ID, e.TenantID, e.ProjectID, string(e.Kind), e.AmountCents, e.Currency,
		e.Description, e.OccurredAt, e.CreatedAt,
	)
	return err
}

func (p *PostgresStore) ListEntries(ctx context.Context, tenantID, projectID string) ([]*Entry, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT id, tenant_id, project_id, kind, amount_cents, currency, description, occurred_at, created_at
		FROM entries WHERE tenant_id = $1 AND project_id = $2 ORDER BY occurred_at`, tenantID, projectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Entry
	for rows.Next() {
		e := &Entry{}
		var kind string
		if err := rows.Scan(&e.ID, &e.TenantID, &e.ProjectID, &kind, &e.AmountCents,
			&e.Currency, &e.Description, &e.OccurredAt, &e.CreatedAt); err != nil {
			return nil, err
		}
		e.Kind = EntryKind(kind)
		out = append(out, e)
	}
	return out, rows.Err()
}

func (p *PostgresStore) SumByCurrency(ctx context.Context, tenantID string, kind EntryKind) (map[string]int64, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT currency, COALESCE(SUM(amount_cents), 0)
		FROM entries WHERE tenant_id = $1 AND kind = $2
		GROUP BY currency`, tenantID, string(kind))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	sums := make(map[string]int64)
	for rows.Next() {
		var currency string
		var total int64
		if err := rows.Scan(&currency, &total); err != nil {
			return nil, err
		}
		sums[currency] = total
	}
	return sums, rows.Err()
}

func (p *PostgresStore) Count(ctx context.Context, tenantID string, kind quota.ResourceKind) (int, error) {
	var table string
	switch kind {
	case quota.ResourceProjects:
		table = "projects"
	case quota.ResourceMembers:
		table = "members"
	default:
		return 0, fmt.Errorf("project: uncountable resource kind %q", kind)
	}

	var n int
	err := p.db.QueryRowContext(ctx,
		fmt.Sprintf("SELECT COUNT(*) FROM %s WHERE tenant_id = $1", table), tenantID,
	).Scan(&n)
	return n, err
}
