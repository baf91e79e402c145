package plan

import (
	"context"
	"database/sql"
	"encoding/json"
)

// PostgresStore persists plans in PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL-backed plan store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Migrate creates the plans table.
func (p *PostgresStore) Migrate(ctx context.Context) error {
	_, err := p.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS plans (
			id                TEXT PRIMARY KEY,
			name              TEXT NOT NULL,
			description       TEXT NOT NULL DEFAULT '',
			price_cents       BIGINT NOT NULL,
			currency          TEXT NOT NULL DEFAULT 'PLN',
			external_price_id TEXT,
			features          JSONB NOT NULL DEFAULT '{}',
			active            BOOLEAN NOT NULL DEFAULT TRUE,
			created_at        TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);
		CREATE INDEX IF NOT EXISTS idx_plans_active ON plans(active);
		CREATE INDEX IF NOT EXISTS idx_plans_external_price ON plans(external_price_id);
	`)
	return err
}

func (p *PostgresStore) Create(ctx context.Context, pl *Plan) error {
	if err := pl.Validate(); err != nil {
		return err
	}
	featuresJSON, err := json.Marshal(pl.Features)
	if err != nil {
		return err
	}
	_, err = p.db.ExecContext(ctx, `
		INSERT INTO plans (id, name, description, price_cents, currency, external_price_id, features, active, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		pl.ID, pl.Name, pl.Description, pl.PriceCents, pl.Currency,
		nullable(pl.ExternalPriceID), featuresJSON, pl.Active, pl.CreatedAt,
	)
	return err
}

func (p *PostgresStore) Get(ctx context.Context, id string) (*Plan, error) {
	return p.scanPlan(p.db.QueryRowContext(ctx, `
		SELECT id, name, description, price_cents, currency, external_price_id, features, active, created_at
		FROM plans WHERE id = $1`, id))
}

func (p *PostgresStore) GetByExternalPriceID(ctx context.Context, priceID string) (*Plan, error) {
	return p.scanPlan(p.db.QueryRowContext(ctx, `
		SELECT id, name, description, price_cents, currency, external_price_id, features, active, created_at
		FROM plans WHERE external_price_id = $1`, priceID))
}

func (p *PostgresStore) List(ctx context.Context, activeOnly bool) ([]*Plan, error) {
	query := `
		SELECT id, name, description, price_cents, currency, external_price_id, features, active, created_at
		FROM plans`
	if activeOnly {
		query += ` WHERE active = TRUE`
	}
	query += ` ORDER BY price_cents`

	rows, err := p.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []*Plan
	for rows.Next() {
		pl, err := scanPlanRow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, pl)
	}
	return out, rows.Err()
}

func (p *PostgresStore) Retire(ctx context.Context, id string) error {
	result, err := p.db.ExecContext(ctx, `UPDATE plans SET active = FALSE WHERE id = $1`, id)
	if err != nil {
		return err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrPlanNotFound
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func (p *PostgresStore) scanPlan(row *sql.Row) (*Plan, error) {
	pl, err := scanPlanRow(row)
	if err == sql.ErrNoRows {
		return nil, ErrPlanNotFound
	}
	return pl, err
}

func scanPlanRow(row rowScanner) (*Plan, error) {
	pl := &Plan{}
	var (
		priceID      sql.NullString
		featuresJSON []byte
	)
	err := row.Scan(&pl.ID, &pl.Name, &pl.Description, &pl.PriceCents, &pl.Currency,
		&priceID, &featuresJSON, &pl.Active, &pl.CreatedAt)
	if err != nil {
		return nil, err
	}
	if priceID.Valid {
		pl.ExternalPriceID = priceID.String
	}
	if err := json.Unmarshal(featuresJSON, &pl.Features); err != nil {
		return nil, err
	}
	return pl, nil
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
