package billing

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func subscriptionRows() *sqlmock.Rows {
	return sqlmock.NewRows([]string{
		"id", "tenant_id", "plan_id", "external_id", "status",
		"current_period_end", "cancel_at_period_end", "created_at", "updated_at",
	})
}

func TestPostgresUpsertInsertsWhenRowMissing(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT (.+) FROM subscriptions WHERE external_id = (.+) FOR UPDATE").
		WithArgs("sub_ext_1").
		WillReturnRows(subscriptionRows())
	mock.ExpectExec("INSERT INTO subscriptions").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	store := NewPostgresStore(db)
	saved, err := store.UpsertByExternalID(context.Background(), &Subscription{
		ID: "sub_local", ExternalID: "sub_ext_1", TenantID: "ten_1",
		PlanID: "plan_pro", Status: StatusActive,
	})
	require.NoError(t, err)
	assert.Equal(t, "sub_local", saved.ID)
	assert.False(t, saved.CreatedAt.IsZero())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresUpsertMergesIntoExistingRow(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	created := time.Now().Add(-time.Hour).UTC()
	mock.ExpectBegin()
	mock.ExpectQuery("SELECT (.+) FROM subscriptions WHERE external_id = (.+) FOR UPDATE").
		WithArgs("sub_ext_1").
		WillReturnRows(subscriptionRows().AddRow(
			"sub_local", "ten_1", "plan_pro", "sub_ext_1", "active",
			nil, true, created, created,
		))
	mock.ExpectExec("UPDATE subscriptions").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	store := NewPostgresStore(db)
	saved, err := store.UpsertByExternalID(context.Background(), &Subscription{
		ExternalID: "sub_ext_1", Status: StatusPastDue, CancelAtPeriodEnd: false,
	})
	require.NoError(t, err)
	assert.Equal(t, "sub_local", saved.ID)
	assert.Equal(t, StatusPastDue, saved.Status)
	assert.True(t, saved.CancelAtPeriodEnd, "flag set locally must survive a merge without it")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresUpsertRetriesWhenInsertLosesRace(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	// First attempt misses the select, then a concurrent delivery commits
	// the row first and the insert hits the unique constraint.
	mock.ExpectBegin()
	mock.ExpectQuery("SELECT (.+) FROM subscriptions WHERE external_id = (.+) FOR UPDATE").
		WithArgs("sub_ext_1").
		WillReturnRows(subscriptionRows())
	mock.ExpectExec("INSERT INTO subscriptions").
		WillReturnError(&pq.Error{Code: "23505", Constraint: "subscriptions_external_id_key"})
	mock.ExpectRollback()

	// Second attempt sees the winner's row and merges into it.
	created := time.Now().Add(-time.Minute).UTC()
	mock.ExpectBegin()
	mock.ExpectQuery("SELECT (.+) FROM subscriptions WHERE external_id = (.+) FOR UPDATE").
		WithArgs("sub_ext_1").
		WillReturnRows(subscriptionRows().AddRow(
			"sub_winner", "ten_1", "plan_pro", "sub_ext_1", "trialing",
			nil, false, created, created,
		))
	mock.ExpectExec("UPDATE subscriptions").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	store := NewPostgresStore(db)
	saved, err := store.UpsertByExternalID(context.Background(), &Subscription{
		ID: "sub_loser", ExternalID: "sub_ext_1", TenantID: "ten_1",
		PlanID: "plan_pro", Status: StatusActive,
	})
	require.NoError(t, err, "losing the insert race is the idempotent case, not a failure")
	assert.Equal(t, "sub_winner", saved.ID)
	assert.Equal(t, StatusActive, saved.Status, "the retried event's fields must still apply")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresGetByExternalIDNotFound(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery("SELECT (.+) FROM subscriptions WHERE external_id").
		WithArgs("sub_ghost").
		WillReturnRows(subscriptionRows())

	store := NewPostgresStore(db)
	_, err = store.GetByExternalID(context.Background(), "sub_ghost")
	assert.ErrorIs(t, err, ErrSubscriptionNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresRecordPaymentReportsDuplicate(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	pay := &Payment{
		ID: "pay_1", TenantID: "ten_1", SubscriptionID: "sub_local",
		AmountCents: 4900, Currency: "PLN", ExternalInvoiceID: "inv_1",
		PaidAt: time.Now().UTC(), CreatedAt: time.Now().UTC(),
	}

	mock.ExpectExec("INSERT INTO payments").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO payments").WillReturnResult(sqlmock.NewResult(0, 0))

	store := NewPostgresStore(db)
	inserted, err := store.RecordPayment(context.Background(), pay)
	require.NoError(t, err)
	assert.True(t, inserted)

	inserted, err = store.RecordPayment(context.Background(), pay)
	require.NoError(t, err)
	assert.False(t, inserted, "conflicting invoice id must not count as an insert")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresRefreshTenantActive(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery("UPDATE tenants SET is_active").
		WithArgs("ten_1").
		WillReturnRows(sqlmock.NewRows([]string{"is_active"}).AddRow(true))

	store := NewPostgresStore(db)
	active, err := store.RefreshTenantActive(context.Background(), "ten_1")
	require.NoError(t, err)
	assert.True(t, active)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresSetCancelAtPeriodEnd(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	now := time.Now().UTC()
	mock.ExpectQuery("UPDATE subscriptions SET cancel_at_period_end").
		WithArgs(true, "sub_ext_1").
		WillReturnRows(subscriptionRows().AddRow(
			"sub_local", "ten_1", "plan_pro", "sub_ext_1", "active",
			nil, true, now, now,
		))

	store := NewPostgresStore(db)
	sub, err := store.SetCancelAtPeriodEnd(context.Background(), "sub_ext_1", true)
	require.NoError(t, err)
	assert.True(t, sub.CancelAtPeriodEnd)
	assert.NoError(t, mock.ExpectationsWereMet())
}
