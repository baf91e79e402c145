package project

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mbialek/projectledger/internal/plan"
	"github.com/mbialek/projectledger/internal/quota"
	"github.com/mbialek/projectledger/internal/tenant"
)

func setupTestRouter(t *testing.T, features plan.Features) (*gin.Engine, *MemoryStore) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	ctx := context.Background()

	plans := plan.NewMemoryStore()
	require.NoError(t, plans.Create(ctx, &plan.Plan{
		ID: "plan_basic", Name: "Basic", Features: features,
		Active: true, CreatedAt: time.Now().UTC(),
	}))

	tenants := tenant.NewMemoryStore()
	now := time.Now().UTC()
	require.NoError(t, tenants.Create(ctx, &tenant.Tenant{
		ID: "ten_1", Name: "Acme", BillingEmail: "billing@acme.example",
		PlanID: "plan_basic", CreatedAt: now, UpdatedAt: now,
	}))

	store := NewMemoryStore()
	evaluator := quota.NewEvaluator(tenants, plans, store, nil)
	handler := NewHandler(store, evaluator)

	r := gin.New()
	v1 := r.Group("/v1")
	// Test stand-in for auth middleware
	v1.Use(func(c *gin.Context) {
		if id := c.GetHeader("X-Tenant-ID"); id != "" {
			c.Set("tenantID", id)
		}
		c.Next()
	})
	handler.RegisterRoutes(v1)

	return r, store
}

func doJSON(router *gin.Engine, method, path string, body any) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Tenant-ID", "ten_1")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestHandler_CreateAndGetProject(t *testing.T) {
	router, _ := setupTestRouter(t, plan.Features{MaxProjects: plan.LimitOf(3)})

	w := doJSON(router, "POST", "/v1/projects", CreateProjectRequest{Name: "Website redesign"})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	var createResp struct {
		Project Project `json:"project"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &createResp))
	assert.Equal(t, "Website redesign", createResp.Project.Name)
	assert.Equal(t, "ten_1", createResp.Project.TenantID)

	w = doJSON(router, "GET", "/v1/projects/"+createResp.Project.ID, nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = doJSON(router, "GET", "/v1/projects/prj_missing", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestHandler_CreateProjectQuotaDenied(t *testing.T) {
	router, _ := setupTestRouter(t, plan.Features{MaxProjects: plan.LimitOf(1)})

	w := doJSON(router, "POST", "/v1/projects", CreateProjectRequest{Name: "First"})
	require.Equal(t, http.StatusCreated, w.Code)

	w = doJSON(router, "POST", "/v1/projects", CreateProjectRequest{Name: "Second"})
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Contains(t, w.Body.String(), "quota_exceeded")
	assert.Contains(t, w.Body.String(), "projects limit reached (1)")
}

func TestHandler_CreateProjectValidation(t *testing.T) {
	router, _ := setupTestRouter(t, plan.Features{MaxProjects: plan.LimitOf(3)})

	w := doJSON(router, "POST", "/v1/projects", CreateProjectRequest{Name: "   "})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "validation_error")
}

func TestHandler_CreateMemberQuotaDenied(t *testing.T) {
	router, _ := setupTestRouter(t, plan.Features{
		MaxProjects: plan.LimitOf(3),
		MaxMembers:  plan.LimitOf(0),
	})

	w := doJSON(router, "POST", "/v1/members", CreateMemberRequest{Email: "dev@acme.example"})
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Contains(t, w.Body.String(), "members limit reached (0)")
}

func TestHandler_CreateMemberInvalidEmail(t *testing.T) {
	router, _ := setupTestRouter(t, plan.Features{MaxMembers: plan.Unlimited})

	w := doJSON(router, "POST", "/v1/members", CreateMemberRequest{Email: "not-an-email"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHandler_CreateEntry(t *testing.T) {
	router, store := setupTestRouter(t, plan.Features{MaxProjects: plan.LimitOf(3)})
	seedProject(t, store, "ten_1", "prj_1")

	w := doJSON(router, "POST", "/v1/projects/prj_1/entries", CreateEntryRequest{
		Kind:        "income",
		AmountCents: 150000,
		Currency:    "pln",
		Description: "Invoice 2026/08/14",
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	var resp struct {
		Entry Entry `json:"entry"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "PLN", resp.Entry.Currency)
	assert.Equal(t, EntryIncome, resp.Entry.Kind)
	assert.False(t, resp.Entry.OccurredAt.IsZero())

	w = doJSON(router, "GET", "/v1/projects/prj_1/entries", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"count":1`)
}

func TestHandler_CreateEntryRejectsBadKindAndAmount(t *testing.T) {
	router, store := setupTestRouter(t, plan.Features{MaxProjects: plan.LimitOf(3)})
	seedProject(t, store, "ten_1", "prj_1")

	w := doJSON(router, "POST", "/v1/projects/prj_1/entries", CreateEntryRequest{
		Kind: "refund", AmountCents: 100, Currency: "PLN",
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = doJSON(router, "POST", "/v1/projects/prj_1/entries", CreateEntryRequest{
		Kind: "income", AmountCents: -5, Currency: "PLN",
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHandler_CreateEntryUnknownProject(t *testing.T) {
	router, _ := setupTestRouter(t, plan.Features{MaxProjects: plan.LimitOf(3)})

	w := doJSON(router, "POST", "/v1/projects/prj_missing/entries", CreateEntryRequest{
		Kind: "income", AmountCents: 100, Currency: "PLN",
	})
	assert.Equal(t, http.StatusNotFound, w.Code)
}
