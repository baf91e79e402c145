package plan

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/mbialek/projectledger/internal/idgen"
)

// Handler provides HTTP endpoints for the plan catalogue.
type Handler struct {
	store Store
}

// NewHandler creates a new catalogue handler.
func NewHandler(store Store) *Handler {
	return &Handler{store: store}
}

// RegisterRoutes sets up public catalogue routes.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("/plans", h.ListPlans)
	r.GET("/plans/:id", h.GetPlan)
}

// RegisterAdminRoutes sets up catalogue management routes.
func (h *Handler) RegisterAdminRoutes(r *gin.RouterGroup) {
	r.POST("/plans", h.CreatePlan)
	r.DELETE("/plans/:id", h.RetirePlan)
}

// ListPlans handles GET /v1/plans
func (h *Handler) ListPlans(c *gin.Context) {
	// Retired plans stay visible to admins only.
	activeOnly := c.Query("all") != "true"

	plans, err := h.store.List(c.Request.Context(), activeOnly)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"plans": plans,
		"count": len(plans),
	})
}

// GetPlan handles GET /v1/plans/:id
func (h *Handler) GetPlan(c *gin.Context) {
	p, err := h.store.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, ErrPlanNotFound) {
			c.JSON(http.StatusNotFound, gin.H{
				"error":   "not_found",
				"message": "Plan not found",
			})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{"plan": p})
}

// CreatePlanRequest is the body for POST /v1/admin/plans
type CreatePlanRequest struct {
	Name            string   `json:"name"`
	Description     string   `json:"description"`
	PriceCents      int64    `json:"priceCents"`
	Currency        string   `json:"currency"`
	ExternalPriceID string   `json:"externalPriceId"`
	Features        Features `json:"features"`
}

// CreatePlan handles POST /v1/admin/plans
func (h *Handler) CreatePlan(c *gin.Context) {
	var req CreatePlanRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Invalid request body",
		})
		return
	}

	p := &Plan{
		ID:              idgen.WithPrefix("plan_"),
		Name:            req.Name,
		Description:     req.Description,
		PriceCents:      req.PriceCents,
		Currency:        strings.ToUpper(req.Currency),
		ExternalPriceID: req.ExternalPriceID,
		Features:        req.Features,
		Active:          true,
		CreatedAt:       time.Now().UTC(),
	}
	if err := p.Validate(); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_plan",
			"message": err.Error(),
		})
		return
	}

	if err := h.store.Create(c.Request.Context(), p); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "Failed to create plan",
		})
		return
	}

	c.JSON(http.StatusCreated, gin.H{"plan": p})
}

// RetirePlan handles DELETE /v1/admin/plans/:id
func (h *Handler) RetirePlan(c *gin.Context) {
	if err := h.store.Retire(c.Request.Context(), c.Param("id")); err != nil {
		if errors.Is(err, ErrPlanNotFound) {
			c.JSON(http.StatusNotFound, gin.H{
				"error":   "not_found",
				"message": "Plan not found",
			})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "retired"})
}
