package tenant

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/mbialek/projectledger/internal/idgen"
	"github.com/mbialek/projectledger/internal/validation"
)

// Handler provides HTTP endpoints for tenant registration and profile.
type Handler struct {
	store Store
}

// NewHandler creates a new tenant handler.
func NewHandler(store Store) *Handler {
	return &Handler{store: store}
}

// RegisterPublicRoutes sets up unauthenticated routes.
func (h *Handler) RegisterPublicRoutes(r *gin.RouterGroup) {
	r.POST("/tenants", h.Register)
}

// RegisterRoutes sets up tenant-scoped routes.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("/tenant", h.GetTenant)
	r.PUT("/tenant", h.UpdateTenant)
}

// RegisterRequest is the body for POST /v1/tenants
type RegisterRequest struct {
	Name         string `json:"name"`
	BillingEmail string `json:"billingEmail"`
	ContactName  string `json:"contactName"`
	Country      string `json:"country"`
}

// Register handles POST /v1/tenants
//
// New tenants start inactive with no plan; access opens once a subscription
// activates or a free plan is chosen.
func (h *Handler) Register(c *gin.Context) {
	var req RegisterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Invalid request body",
		})
		return
	}

	if errs := validation.Validate(
		validation.Required("name", req.Name),
		validation.Required("billingEmail", req.BillingEmail),
		validation.ValidEmail("billingEmail", req.BillingEmail),
		validation.MaxLength("name", req.Name, 200),
	); len(errs) > 0 {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "validation_error",
			"message": errs.Error(),
			"details": errs,
		})
		return
	}

	now := time.Now().UTC()
	t := &Tenant{
		ID:           idgen.WithPrefix("ten_"),
		Name:         validation.SanitizeString(req.Name, 200),
		BillingEmail: validation.SanitizeEmail(req.BillingEmail),
		ContactName:  validation.SanitizeString(req.ContactName, 200),
		Country:      validation.SanitizeString(req.Country, 2),
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := h.store.Create(c.Request.Context(), t); err != nil {
		if errors.Is(err, ErrEmailTaken) {
			c.JSON(http.StatusConflict, gin.H{
				"error":   "email_taken",
				"message": "A tenant with this billing email already exists",
			})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "Failed to register tenant",
		})
		return
	}

	c.JSON(http.StatusCreated, gin.H{"tenant": t})
}

// GetTenant handles GET /v1/tenant
func (h *Handler) GetTenant(c *gin.Context) {
	t, err := h.store.Get(c.Request.Context(), c.GetString("tenantID"))
	if err != nil {
		if errors.Is(err, ErrTenantNotFound) {
			c.JSON(http.StatusNotFound, gin.H{
				"error":   "not_found",
				"message": "Tenant not found",
			})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{"tenant": t})
}

// UpdateRequest is the body for PUT /v1/tenant
type UpdateRequest struct {
	Name        string `json:"name"`
	ContactName string `json:"contactName"`
	Country     string `json:"country"`
}

// UpdateTenant handles PUT /v1/tenant
func (h *Handler) UpdateTenant(c *gin.Context) {
	var req UpdateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Invalid request body",
		})
		return
	}

	if errs := validation.Validate(
		validation.Required("name", req.Name),
		validation.MaxLength("name", req.Name, 200),
	); len(errs) > 0 {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "validation_error",
			"message": errs.Error(),
			"details": errs,
		})
		return
	}

	tenantID := c.GetString("tenantID")
	t, err := h.store.Get(c.Request.Context(), tenantID)
	if err != nil {
		if errors.Is(err, ErrTenantNotFound) {
			c.JSON(http.StatusNotFound, gin.H{
				"error":   "not_found",
				"message": "Tenant not found",
			})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": err.Error(),
		})
		return
	}

	t.Name = validation.SanitizeString(req.Name, 200)
	t.ContactName = validation.SanitizeString(req.ContactName, 200)
	t.Country = validation.SanitizeString(req.Country, 2)
	if err := h.store.Update(c.Request.Context(), t); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "Failed to update tenant",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{"tenant": t})
}
