package project

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mbialek/projectledger/internal/quota"
)

func seedProject(t *testing.T, store *MemoryStore, tenantID, id string) {
	t.Helper()
	require.NoError(t, store.CreateProject(context.Background(), &Project{
		ID:        id,
		TenantID:  tenantID,
		Name:      "Project " + id,
		CreatedAt: time.Now().UTC(),
	}))
}

func TestEntryKindValid(t *testing.T) {
	assert.True(t, EntryIncome.Valid())
	assert.True(t, EntryExpense.Valid())
	assert.False(t, EntryKind("refund").Valid())
	assert.False(t, EntryKind("").Valid())
}

func TestEntryValidate(t *testing.T) {
	base := Entry{Kind: EntryIncome, AmountCents: 1000, Currency: "PLN"}
	assert.NoError(t, base.Validate())

	bad := base
	bad.Kind = "refund"
	assert.ErrorIs(t, bad.Validate(), ErrEntryInvalid)

	bad = base
	bad.AmountCents = 0
	assert.ErrorIs(t, bad.Validate(), ErrEntryInvalid)

	bad = base
	bad.Currency = "ZLOTY"
	assert.ErrorIs(t, bad.Validate(), ErrEntryInvalid)
}

func TestMemoryStoreProjects(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	seedProject(t, store, "ten_1", "prj_1")
	seedProject(t, store, "ten_1", "prj_2")
	seedProject(t, store, "ten_2", "prj_3")

	got, err := store.GetProject(ctx, "ten_1", "prj_1")
	require.NoError(t, err)
	assert.Equal(t, "Project prj_1", got.Name)

	// Cross-tenant reads miss.
	_, err = store.GetProject(ctx, "ten_2", "prj_1")
	assert.ErrorIs(t, err, ErrProjectNotFound)

	list, err := store.ListProjects(ctx, "ten_1")
	require.NoError(t, err)
	assert.Len(t, list, 2)
}

func TestMemoryStoreEntriesAndSums(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	seedProject(t, store, "ten_1", "prj_1")

	entries := []*Entry{
		{ID: "ent_1", TenantID: "ten_1", ProjectID: "prj_1", Kind: EntryIncome, AmountCents: 10000, Currency: "PLN"},
		{ID: "ent_2", TenantID: "ten_1", ProjectID: "prj_1", Kind: EntryIncome, AmountCents: 5000, Currency: "EUR"},
		{ID: "ent_3", TenantID: "ten_1", ProjectID: "prj_1", Kind: EntryIncome, AmountCents: 2500, Currency: "PLN"},
		{ID: "ent_4", TenantID: "ten_1", ProjectID: "prj_1", Kind: EntryExpense, AmountCents: 3000, Currency: "PLN"},
	}
	for _, e := range entries {
		e.OccurredAt = time.Now().UTC()
		e.CreatedAt = e.OccurredAt
		require.NoError(t, store.CreateEntry(ctx, e))
	}

	income, err := store.SumByCurrency(ctx, "ten_1", EntryIncome)
	require.NoError(t, err)
	assert.Equal(t, int64(12500), income["PLN"])
	assert.Equal(t, int64(5000), income["EUR"])

	expense, err := store.SumByCurrency(ctx, "ten_1", EntryExpense)
	require.NoError(t, err)
	assert.Equal(t, int64(3000), expense["PLN"])

	listed, err := store.ListEntries(ctx, "ten_1", "prj_1")
	require.NoError(t, err)
	assert.Len(t, listed, 4)
}

func TestMemoryStoreCreateEntryUnknownProject(t *testing.T) {
	store := NewMemoryStore()

	err := store.CreateEntry(context.Background(), &Entry{
		ID: "ent_1", TenantID: "ten_1", ProjectID: "missing",
		Kind: EntryIncome, AmountCents: 100, Currency: "PLN",
	})
	assert.ErrorIs(t, err, ErrProjectNotFound)
}

func TestMemoryStoreCount(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	seedProject(t, store, "ten_1", "prj_1")
	seedProject(t, store, "ten_1", "prj_2")
	require.NoError(t, store.CreateMember(ctx, &Member{
		ID: "mem_1", TenantID: "ten_1", Email: "a@acme.example", CreatedAt: time.Now().UTC(),
	}))

	n, err := store.Count(ctx, "ten_1", quota.ResourceProjects)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	n, err = store.Count(ctx, "ten_1", quota.ResourceMembers)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	n, err = store.Count(ctx, "ten_2", quota.ResourceProjects)
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	_, err = store.Count(ctx, "ten_1", quota.ResourceKind("storage"))
	assert.Error(t, err)
}
