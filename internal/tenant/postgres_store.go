package tenant

import (
	"context"
	"database/sql"

	"github.com/lib/pq"
)

// PostgresStore persists tenants in PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL-backed tenant store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Migrate creates the tenants table.
func (p *PostgresStore) Migrate(ctx context.Context) error {
	_, err := p.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS tenants (
			id                  TEXT PRIMARY KEY,
			name                TEXT NOT NULL,
			billing_email       TEXT NOT NULL UNIQUE,
			contact_name        TEXT NOT NULL DEFAULT '',
			country             TEXT NOT NULL DEFAULT '',
			plan_id             TEXT,
			is_active           BOOLEAN NOT NULL DEFAULT FALSE,
			customer_ciphertext TEXT,
			created_at          TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at          TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);
		CREATE INDEX IF NOT EXISTS idx_tenants_email ON tenants(billing_email);
	`)
	return err
}

func (p *PostgresStore) Create(ctx context.Context, t *Tenant) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO tenants (id, name, billing_email, contact_name, country, plan_id, is_active, customer_ciphertext, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, NULLIF($6, ''), $7, NULLIF($8, ''), $9, $10)`,
		t.ID, t.Name, t.BillingEmail, t.ContactName, t.Country, t.PlanID,
		t.Active, t.CustomerCiphertext, t.CreatedAt, t.UpdatedAt,
	)
	if err != nil {
		if pqErr, ok := err.(*pq.Error); ok && pqErr.Code == "23505" {
			return ErrEmailTaken
		}
		return err
	}
	return nil
}

func (p *PostgresStore) Get(ctx context.Context, id string) (*Tenant, error) {
	return p.scanTenant(p.db.QueryRowContext(ctx, `
		SELECT id, name, billing_email, contact_name, country, plan_id, is_active, customer_ciphertext, created_at, updated_at
		FROM tenants WHERE id = $1`, id))
}

func (p *PostgresStore) GetByEmail(ctx context.Context, email string) (*Tenant, error) {
	return p.scanTenant(p.db.QueryRowContext(ctx, `
		SELECT id, name, billing_email, contact_name, country, plan_id, is_active, customer_ciphertext, created_at, updated_at
		FROM tenants WHERE LOWER(billing_email) = LOWER($1)`, email))
}

func (p *PostgresStore) Update(ctx context.Context, t *Tenant) error {
	result, err := p.db.ExecContext(ctx, `
		UPDATE tenants SET name = $1, contact_name = $2, country = $3, updated_at = NOW()
		WHERE id = $4`,
		t.Name, t.ContactName, t.Country, t.ID,
	)
	if err != nil {
		return err
	}
	return requireRow(result)
}

func (p *PostgresStore) SetActive(ctx context.Context, id string, active bool) error {
	result, err := p.db.ExecContext(ctx, `
		UPDATE tenants SET is_active = $1, updated_at = NOW() WHERE id = $2`, active, id)
	if err != nil {
		return err
	}
	return requireRow(result)
}

func (p *PostgresStore) SetCustomerCiphertext(ctx context.Context, id, ciphertext string) error {
	result, err := p.db.ExecContext(ctx, `
		UPDATE tenants SET customer_ciphertext = $1, updated_at = NOW() WHERE id = $2`, ciphertext, id)
	if err != nil {
		return err
	}
	return requireRow(result)
}

func (p *PostgresStore) SetPlan(ctx context.Context, id, planID string) error {
	result, err := p.db.ExecContext(ctx, `
		UPDATE tenants SET plan_id = NULLIF($1, ''), updated_at = NOW() WHERE id = $2`, planID, id)
	if err != nil {
		return err
	}
	return requireRow(result)
}

func (p *PostgresStore) scanTenant(row *sql.Row) (*Tenant, error) {
	t := &Tenant{}
	var planID, ciphertext sql.NullString
	err := row.Scan(&t.ID, &t.Name, &t.BillingEmail, &t.ContactName, &t.Country,
		&planID, &t.Active, &ciphertext, &t.CreatedAt, &t.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrTenantNotFound
	}
	if err != nil {
		return nil, err
	}
	if planID.Valid {
		t.PlanID = planID.String
	}
	if ciphertext.Valid {
		t.CustomerCiphertext = ciphertext.String
	}
	return t, nil
}

func requireRow(result sql.Result) error {
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrTenantNotFound
	}
	return nil
}
