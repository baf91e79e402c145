package project

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/mbialek/projectledger/internal/idgen"
	"github.com/mbialek/projectledger/internal/quota"
	"github.com/mbialek/projectledger/internal/validation"
)

// Handler provides HTTP endpoints for workspace operations. Creates are
// gated by the quota evaluator before any row is written.
type Handler struct {
	store Store
	quota *quota.Evaluator
}

// NewHandler creates a new workspace handler.
func NewHandler(store Store, evaluator *quota.Evaluator) *Handler {
	return &Handler{store: store, quota: evaluator}
}

// RegisterRoutes sets up tenant-scoped workspace routes.
// Routes expect the tenant identity in the context (set by auth middleware).
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/projects", h.CreateProject)
	r.GET("/projects", h.ListProjects)
	r.GET("/projects/:id", h.GetProject)
	r.POST("/projects/:id/entries", h.CreateEntry)
	r.GET("/projects/:id/entries", h.ListEntries)
	r.POST("/members", h.CreateMember)
	r.GET("/members", h.ListMembers)
}

// CreateProjectRequest is the body for POST /v1/projects
type CreateProjectRequest struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

// CreateProject handles POST /v1/projects
func (h *Handler) CreateProject(c *gin.Context) {
	tenantID := c.GetString("tenantID")

	var req CreateProjectRequest
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

	if d := h.quota.CheckLimit(c.Request.Context(), tenantID, quota.ResourceProjects); !d.Allowed {
		c.JSON(http.StatusForbidden, gin.H{
			"error":   "quota_exceeded",
			"message": d.Reason,
		})
		return
	}

	p := &Project{
		ID:          idgen.WithPrefix("prj_"),
		TenantID:    tenantID,
		Name:        validation.SanitizeString(req.Name, 200),
		Description: validation.SanitizeString(req.Description, validation.MaxStringLength),
		CreatedAt:   time.Now().UTC(),
	}
	if err := h.store.CreateProject(c.Request.Context(), p); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "Failed to create project",
		})
		return
	}

	c.JSON(http.StatusCreated, gin.H{"project": p})
}

// GetProject handles GET /v1/projects/:id
func (h *Handler) GetProject(c *gin.Context) {
	tenantID := c.GetString("tenantID")

	p, err := h.store.GetProject(c.Request.Context(), tenantID, c.Param("id"))
	if err != nil {
		if errors.Is(err, ErrProjectNotFound) {
			c.JSON(http.StatusNotFound, gin.H{
				"error":   "not_found",
				"message": "Project not found",
			})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{"project": p})
}

// ListProjects handles GET /v1/projects
func (h *Handler) ListProjects(c *gin.Context) {
	tenantID := c.GetString("tenantID")

	projects, err := h.store.ListProjects(c.Request.Context(), tenantID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"projects": projects,
		"count":    len(projects),
	})
}

// CreateMemberRequest is the body for POST /v1/members
type CreateMemberRequest struct {
	Email string `json:"email"`
	Name  string `json:"name"`
	Role  string `json:"role"`
}

// CreateMember handles POST /v1/members
func (h *Handler) CreateMember(c *gin.Context) {
	tenantID := c.GetString("tenantID")

	var req CreateMemberRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Invalid request body",
		})
		return
	}

	if errs := validation.Validate(
		validation.Required("email", req.Email),
		validation.ValidEmail("email", req.Email),
		validation.MaxLength("name", req.Name, 200),
	); len(errs) > 0 {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "validation_error",
			"message": errs.Error(),
			"details": errs,
		})
		return
	}

	if d := h.quota.CheckLimit(c.Request.Context(), tenantID, quota.ResourceMembers); !d.Allowed {
		c.JSON(http.StatusForbidden, gin.H{
			"error":   "quota_exceeded",
			"message": d.Reason,
		})
		return
	}

	m := &Member{
		ID:        idgen.WithPrefix("mem_"),
		TenantID:  tenantID,
		Email:     validation.SanitizeEmail(req.Email),
		Name:      validation.SanitizeString(req.Name, 200),
		Role:      validation.SanitizeString(req.Role, 50),
		CreatedAt: time.Now().UTC(),
	}
	if err := h.store.CreateMember(c.Request.Context(), m); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "Failed to create member",
		})
		return
	}

	c.JSON(http.StatusCreated, gin.H{"member": m})
}

// ListMembers handles GET /v1/members
func (h *Handler) ListMembers(c *gin.Context) {
	tenantID := c.GetString("tenantID")

	members, err := h.store.ListMembers(c.Request.Context(), tenantID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"members": members,
		"count":   len(members),
	})
}

// CreateEntryRequest is the body for POST /v1/projects/:id/entries
type CreateEntryRequest struct {
	Kind        string    `json:"kind"`
	AmountCents int64     `json:"amountCents"`
	Currency    string    `json:"currency"`
	Description string    `json:"description"`
	OccurredAt  time.Time `json:"occurredAt"`
}

// CreateEntry handles POST /v1/projects/:id/entries
func (h *Handler) CreateEntry(c *gin.Context) {
	tenantID := c.GetString("tenantID")
	projectID := c.Param("id")

	var req CreateEntryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Invalid request body",
		})
		return
	}

	if errs := validation.Validate(
		validation.Required("kind", req.Kind),
		validation.Required("currency", req.Currency),
		validation.ValidCurrency("currency", req.Currency),
		validation.PositiveAmount("amountCents", req.AmountCents),
	); len(errs) > 0 {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "validation_error",
			"message": errs.Error(),
			"details": errs,
		})
		return
	}

	// Entries book against an existing project of the same tenant.
	if _, err := h.store.GetProject(c.Request.Context(), tenantID, projectID); err != nil {
		if errors.Is(err, ErrProjectNotFound) {
			c.JSON(http.StatusNotFound, gin.H{
				"error":   "not_found",
				"message": "Project not found",
			})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": err.Error(),
		})
		return
	}

	occurredAt := req.OccurredAt
	if occurredAt.IsZero() {
		occurredAt = time.Now().UTC()
	}

	e := &Entry{
		ID:          idgen.WithPrefix("ent_"),
		TenantID:    tenantID,
		ProjectID:   projectID,
		Kind:        EntryKind(req.Kind),
		AmountCents: req.AmountCents,
		Currency:    strings.ToUpper(req.Currency),
		Description: validation.SanitizeString(req.Description, validation.MaxStringLength),
		OccurredAt:  occurredAt,
		CreatedAt:   time.Now().UTC(),
	}
	if err := e.Validate(); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_entry",
			"message": err.Error(),
		})
		return
	}

	if err := h.store.CreateEntry(c.Request.Context(), e); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "Failed to record entry",
		})
		return
	}

	c.JSON(http.StatusCreated, gin.H{"entry": e})
}

// ListEntries handles GET /v1/projects/:id/entries
func (h *Handler) ListEntries(c *gin.Context) {
	tenantID := c.GetString("tenantID")

	entries, err := h.store.ListEntries(c.Request.Context(), tenantID, c.Param("id"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"entries": entries,
		"count":   len(entries),
	})
}
