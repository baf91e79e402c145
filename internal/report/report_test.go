package report

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mbialek/projectledger/internal/currency"
	"github.com/mbialek/projectledger/internal/project"
)

type fakeProvider struct {
	rates map[string]float64
	err   error
}

func (f *fakeProvider) Rate(_ context.Context, from, to string) (float64, error) {
	if f.err != nil {
		return 0, f.err
	}
	return f.rates[from+"/"+to], nil
}

func seedStore(t *testing.T) *project.MemoryStore {
	t.Helper()
	ctx := context.Background()
	store := project.NewMemoryStore()
	require.NoError(t, store.CreateProject(ctx, &project.Project{
		ID: "prj_1", TenantID: "ten_1", Name: "Site", CreatedAt: time.Now().UTC(),
	}))

	entries := []*project.Entry{
		{ID: "ent_1", Kind: project.EntryIncome, AmountCents: 100000, Currency: "PLN"},
		{ID: "ent_2", Kind: project.EntryIncome, AmountCents: 10000, Currency: "EUR"},
		{ID: "ent_3", Kind: project.EntryExpense, AmountCents: 20000, Currency: "PLN"},
	}
	for _, e := range entries {
		e.TenantID = "ten_1"
		e.ProjectID = "prj_1"
		e.OccurredAt = time.Now().UTC()
		require.NoError(t, store.CreateEntry(ctx, e))
	}
	return store
}

func TestSummarizeNormalizesIntoReportingCurrency(t *testing.T) {
	store := seedStore(t)
	rates := currency.NewCache(&fakeProvider{rates: map[string]float64{
		"EUR/PLN": 4.30,
	}}, time.Hour, nil)
	r := NewReporter(store, rates, "PLN")

	s, err := r.Summarize(context.Background(), "ten_1")
	require.NoError(t, err)

	assert.Equal(t, "PLN", s.ReportingCurrency)
	assert.Equal(t, int64(100000), s.Income.ByCurrency["PLN"])
	assert.Equal(t, int64(10000), s.Income.ByCurrency["EUR"])
	// 100000 PLN + 10000 EUR * 4.30
	assert.Equal(t, int64(143000), s.Income.NormalizedCents)
	assert.Equal(t, int64(20000), s.Expenses.NormalizedCents)
	assert.Equal(t, int64(123000), s.NetCents)
}

func TestSummarizeDegradesWhenProviderDown(t *testing.T) {
	store := seedStore(t)
	rates := currency.NewCache(&fakeProvider{err: errors.New("provider down")}, time.Hour, nil)
	r := NewReporter(store, rates, "PLN")

	s, err := r.Summarize(context.Background(), "ten_1")
	require.NoError(t, err)

	// EUR falls back to 1.0, the summary still comes out.
	assert.Equal(t, int64(110000), s.Income.NormalizedCents)
	assert.Equal(t, int64(90000), s.NetCents)
}

func TestSummarizeEmptyTenant(t *testing.T) {
	store := project.NewMemoryStore()
	rates := currency.NewCache(&fakeProvider{}, time.Hour, nil)
	r := NewReporter(store, rates, "PLN")

	s, err := r.Summarize(context.Background(), "ten_empty")
	require.NoError(t, err)
	assert.Zero(t, s.Income.NormalizedCents)
	assert.Zero(t, s.NetCents)
}

func TestHandler_GetSummary(t *testing.T) {
	gin.SetMode(gin.TestMode)
	store := seedStore(t)
	rates := currency.NewCache(&fakeProvider{rates: map[string]float64{"EUR/PLN": 4.30}}, time.Hour, nil)
	handler := NewHandler(NewReporter(store, rates, "PLN"))

	r := gin.New()
	v1 := r.Group("/v1")
	v1.Use(func(c *gin.Context) {
		c.Set("tenantID", "ten_1")
		c.Next()
	})
	handler.RegisterRoutes(v1)

	req := httptest.NewRequest("GET", "/v1/reports/summary", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"reportingCurrency":"PLN"`)
	assert.Contains(t, w.Body.String(), `"netCents":123000`)
}
