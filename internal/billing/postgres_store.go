package billing

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/mbialek/projectledger/internal/pagination"
)

// PostgresStore persists the engine's state in PostgreSQL. Subscription
// writes take a row lock so concurrent webhook deliveries and user actions
// for the same external id serialize.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL-backed billing store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Migrate creates the subscriptions, payments, and plan_changes tables.
func (p *PostgresStore) Migrate(ctx context.Context) error {
	_, err := p.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS subscriptions (
			id                   TEXT PRIMARY KEY,
			tenant_id            TEXT NOT NULL,
			plan_id              TEXT,
			external_id          TEXT NOT NULL UNIQUE,
			status               TEXT NOT NULL,
			current_period_end   TIMESTAMPTZ,
			cancel_at_period_end BOOLEAN NOT NULL DEFAULT FALSE,
			created_at           TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at           TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);
		CREATE INDEX IF NOT EXISTS idx_subscriptions_tenant ON subscriptions(tenant_id);

		CREATE TABLE IF NOT EXISTS payments (
			id                  TEXT PRIMARY KEY,
			tenant_id           TEXT NOT NULL,
			subscription_id     TEXT,
			amount_cents        BIGINT NOT NULL,
			currency            TEXT NOT NULL,
			external_invoice_id TEXT NOT NULL UNIQUE,
			invoice_url         TEXT NOT NULL DEFAULT '',
			paid_at             TIMESTAMPTZ NOT NULL,
			created_at          TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);
		CREATE INDEX IF NOT EXISTS idx_payments_tenant ON payments(tenant_id, created_at DESC);

		CREATE TABLE IF NOT EXISTS plan_changes (
			id                TEXT PRIMARY KEY,
			tenant_id         TEXT NOT NULL,
			old_plan_id       TEXT,
			new_plan_id       TEXT NOT NULL,
			external_event_id TEXT,
			created_at        TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);
		CREATE INDEX IF NOT EXISTS idx_plan_changes_tenant ON plan_changes(tenant_id);
	`)
	return err
}

const subscriptionColumns = `id, tenant_id, plan_id, external_id, status, current_period_end, cancel_at_period_end, created_at, updated_at`

func (p *PostgresStore) UpsertByExternalID(ctx context.Context, sub *Subscription) (*Subscription, error) {
	// Two deliveries for a brand-new external_id can both miss the locked
	// select and race the insert. The loser's unique violation is the
	// idempotent-duplicate case, not an error: retry once, and the second
	// pass blocks on the winner's row lock and lands in the merge branch.
	saved, err := p.upsertOnce(ctx, sub)
	if isUniqueViolation(err) {
		saved, err = p.upsertOnce(ctx, sub)
	}
	return saved, err
}

func (p *PostgresStore) upsertOnce(ctx context.Context, sub *Subscription) (*Subscription, error) {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	now := time.Now().UTC()

	existing, err := scanSubscription(tx.QueryRowContext(ctx,
		`SELECT `+subscriptionColumns+` FROM subscriptions WHERE external_id = $1 FOR UPDATE`,
		sub.ExternalID))
	switch err {
	case nil:
		merge(existing, sub, now)
		_, err = tx.ExecContext(ctx, `
			UPDATE subscriptions
			SET tenant_id = $1, plan_id = NULLIF($2, ''), status = $3,
			    current_period_end = $4, cancel_at_period_end = $5, updated_at = $6
			WHERE external_id = $7`,
			existing.TenantID, existing.PlanID, string(existing.Status),
			nullableTime(existing.CurrentPeriodEnd), existing.CancelAtPeriodEnd,
			existing.UpdatedAt, existing.ExternalID,
		)
		if err != nil {
			return nil, err
		}
	case ErrSubscriptionNotFound:
		cp := *sub
		if cp.CreatedAt.IsZero() {
			cp.CreatedAt = now
		}
		cp.UpdatedAt = now
		_, err = tx.ExecContext(ctx, `
			INSERT INTO subscriptions (id, tenant_id, plan_id, external_id, status, current_period_end, cancel_at_period_end, created_at, updated_at)
			VALUES ($1, $2, NULLIF($3, ''), $4, $5, $6, $7, $8, $9)`,
			cp.ID, cp.TenantID, cp.PlanID, cp.ExternalID, string(cp.Status),
			nullableTime(cp.CurrentPeriodEnd), cp.CancelAtPeriodEnd, cp.CreatedAt, cp.UpdatedAt,
		)
		if err != nil {
			return nil, err
		}
		existing = &cp
	default:
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return existing, nil
}

func (p *PostgresStore) GetByExternalID(ctx context.Context, externalID string) (*Subscription, error) {
	return scanSubscription(p.db.QueryRowContext(ctx,
		`SELECT `+subscriptionColumns+` FROM subscriptions WHERE external_id = $1`, externalID))
}

func (p *PostgresStore) ListByTenant(ctx context.Context, tenantID string) ([]*Subscription, error) {
	rows, err := p.db.QueryContext(ctx,
		`SELECT `+subscriptionColumns+` FROM subscriptions WHERE tenant_id = $1 ORDER BY created_at`, tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Subscription
	for rows.Next() {
		s, err := scanSubscription(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func (p *PostgresStore) SetCancelAtPeriodEnd(ctx context.Context, externalID string, flag bool) (*Subscription, error) {
	return scanSubscription(p.db.QueryRowContext(ctx, `
		UPDATE subscriptions SET cancel_at_period_end = $1, updated_at = NOW()
		WHERE external_id = $2
		RETURNING `+subscriptionColumns, flag, externalID))
}

func (p *PostgresStore) RecordPayment(ctx context.Context, pay *Payment) (bool, error) {
	result, err := p.db.ExecContext(ctx, `
		INSERT INTO payments (id, tenant_id, subscription_id, amount_cents, currency, external_invoice_id, invoice_url, paid_at, created_at)
		VALUES ($1, $2, NULLIF($3, ''), $4, $5, $6, $7, $8, $9)
		ON CONFLICT (external_invoice_id) DO NOTHING`,
		pay.ID, pay.TenantID, pay.SubscriptionID, pay.AmountCents, pay.Currency,
		pay.ExternalInvoiceID, pay.InvoiceURL, pay.PaidAt, pay.CreatedAt,
	)
	if err != nil {
		return false, err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return rows > 0, nil
}

func (p *PostgresStore) ListPayments(ctx context.Context, tenantID string, limit int, cursor *pagination.Cursor) ([]*Payment, error) {
	query := `
		SELECT id, tenant_id, COALESCE(subscription_id, ''), amount_cents, currency, external_invoice_id, invoice_url, paid_at, created_at
		FROM payments WHERE tenant_id = $1`
	args := []any{tenantID}
	if cursor != nil {
		query += ` AND (created_at, id) < ($2, $3)`
		args = append(args, cursor.CreatedAt, cursor.ID)
	}
	query += fmt.Sprintf(` ORDER BY created_at DESC, id DESC LIMIT %d`, limit+1)

	rows, err := p.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Payment
	for rows.Next() {
		pay := &Payment{}
		if err := rows.Scan(&pay.ID, &pay.TenantID, &pay.SubscriptionID, &pay.AmountCents,
			&pay.Currency, &pay.ExternalInvoiceID, &pay.InvoiceURL, &pay.PaidAt, &pay.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, pay)
	}
	return out, rows.Err()
}

func (p *PostgresStore) RecordPlanChange(ctx context.Context, pc *PlanChange) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO plan_changes (id, tenant_id, old_plan_id, new_plan_id, external_event_id, created_at)
		VALUES ($1, $2, NULLIF($3, ''), $4, NULLIF($5, ''), $6)`,
		pc.ID, pc.TenantID, pc.OldPlanID, pc.NewPlanID, pc.ExternalEventID, pc.CreatedAt,
	)
	return err
}

func (p *PostgresStore) ListPlanChanges(ctx context.Context, tenantID string) ([]*PlanChange, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT id, tenant_id, COALESCE(old_plan_id, ''), new_plan_id, COALESCE(external_event_id, ''), created_at
		FROM plan_changes WHERE tenant_id = $1 ORDER BY created_at`, tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*PlanChange
	for rows.Next() {
		pc := &PlanChange{}
		if err := rows.Scan(&pc.ID, &pc.TenantID, &pc.OldPlanID, &pc.NewPlanID, &pc.ExternalEventID, &pc.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, pc)
	}
	return out, rows.Err()
}

// RefreshTenantActive recomputes the access flag in a single statement so
// concurrent refreshes cannot interleave a stale value.
func (p *PostgresStore) RefreshTenantActive(ctx context.Context, tenantID string) (bool, error) {
	var active bool
	err := p.db.QueryRowContext(ctx, `
		UPDATE tenants SET is_active = (
			EXISTS (
				SELECT 1 FROM subscriptions s
				WHERE s.tenant_id = tenants.id AND s.status IN ('active', 'trialing', 'past_due')
			)
			OR EXISTS (
				SELECT 1 FROM plans p
				WHERE p.id = tenants.plan_id AND p.price_cents = 0
			)
		), updated_at = NOW()
		WHERE id = $1
		RETURNING is_active`, tenantID,
	).Scan(&active)
	if err == sql.ErrNoRows {
		return false, fmt.Errorf("billing: tenant %s not found", tenantID)
	}
	return active, err
}

func isUniqueViolation(err error) bool {
	pqErr, ok := err.(*pq.Error)
	return ok && pqErr.Code == "23505"
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSubscription(row rowScanner) (*Subscription, error) {
	s := &Subscription{}
	var planID sql.NullString
	var periodEnd sql.NullTime
	var status string
	err := row.Scan(&s.ID, &s.TenantID, &planID, &s.ExternalID, &status,
		&periodEnd, &s.CancelAtPeriodEnd, &s.CreatedAt, &s.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrSubscriptionNotFound
	}
	if err != nil {
		return nil, err
	}
	s.Status = Status(status)
	if planID.Valid {
		s.PlanID = planID.String
	}
	if periodEnd.Valid {
		s.CurrentPeriodEnd = periodEnd.Time
	}
	return s, nil
}

func nullableTime(t time.Time) sql.NullTime {
	if t.IsZero() {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t, Valid: true}
}
