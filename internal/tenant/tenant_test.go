package tenant

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTenant(id, email string) *Tenant {
	now := time.Now().UTC()
	return &Tenant{
		ID:           id,
		Name:         "Acme " + id,
		BillingEmail: email,
		ContactName:  "Jane Doe",
		Country:      "PL",
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}

func TestMemoryStoreCreateAndGet(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	in := newTenant("ten_1", "billing@acme.example")
	require.NoError(t, store.Create(ctx, in))

	got, err := store.Get(ctx, "ten_1")
	require.NoError(t, err)
	assert.Equal(t, "Acme ten_1", got.Name)
	assert.Equal(t, "billing@acme.example", got.BillingEmail)
	assert.False(t, got.Active)
}

func TestMemoryStoreGetNotFound(t *testing.T) {
	store := NewMemoryStore()

	_, err := store.Get(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrTenantNotFound)
}

func TestMemoryStoreDuplicateEmail(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	require.NoError(t, store.Create(ctx, newTenant("ten_1", "billing@acme.example")))

	err := store.Create(ctx, newTenant("ten_2", "Billing@Acme.example"))
	assert.ErrorIs(t, err, ErrEmailTaken)
}

func TestMemoryStoreGetByEmail(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	require.NoError(t, store.Create(ctx, newTenant("ten_1", "billing@acme.example")))

	got, err := store.GetByEmail(ctx, "BILLING@acme.example")
	require.NoError(t, err)
	assert.Equal(t, "ten_1", got.ID)

	_, err = store.GetByEmail(ctx, "nobody@acme.example")
	assert.ErrorIs(t, err, ErrTenantNotFound)
}

func TestMemoryStoreUpdate(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	require.NoError(t, store.Create(ctx, newTenant("ten_1", "billing@acme.example")))

	updated := newTenant("ten_1", "billing@acme.example")
	updated.Name = "Acme Renamed"
	updated.Country = "DE"
	require.NoError(t, store.Update(ctx, updated))

	got, err := store.Get(ctx, "ten_1")
	require.NoError(t, err)
	assert.Equal(t, "Acme Renamed", got.Name)
	assert.Equal(t, "DE", got.Country)
}

func TestMemoryStoreSetActive(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	require.NoError(t, store.Create(ctx, newTenant("ten_1", "billing@acme.example")))
	require.NoError(t, store.SetActive(ctx, "ten_1", true))

	got, err := store.Get(ctx, "ten_1")
	require.NoError(t, err)
	assert.True(t, got.Active)

	assert.ErrorIs(t, store.SetActive(ctx, "missing", true), ErrTenantNotFound)
}

func TestMemoryStoreSetCustomerCiphertext(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	require.NoError(t, store.Create(ctx, newTenant("ten_1", "billing@acme.example")))
	require.NoError(t, store.SetCustomerCiphertext(ctx, "ten_1", "sealed-blob"))

	got, err := store.Get(ctx, "ten_1")
	require.NoError(t, err)
	assert.Equal(t, "sealed-blob", got.CustomerCiphertext)
}

func TestMemoryStoreSetPlan(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	require.NoError(t, store.Create(ctx, newTenant("ten_1", "billing@acme.example")))
	require.NoError(t, store.SetPlan(ctx, "ten_1", "plan_pro"))

	got, err := store.Get(ctx, "ten_1")
	require.NoError(t, err)
	assert.Equal(t, "plan_pro", got.PlanID)
}

func TestMemoryStoreReturnsCopies(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	require.NoError(t, store.Create(ctx, newTenant("ten_1", "billing@acme.example")))

	got, err := store.Get(ctx, "ten_1")
	require.NoError(t, err)
	got.Name = "mutated"

	again, err := store.Get(ctx, "ten_1")
	require.NoError(t, err)
	assert.Equal(t, "Acme ten_1", again.Name)
}
