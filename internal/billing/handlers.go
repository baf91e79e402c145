package billing

import (
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/mbialek/projectledger/internal/pagination"
	"github.com/mbialek/projectledger/internal/plan"
	"github.com/mbialek/projectledger/internal/tenant"
)

// maxWebhookBody bounds a webhook delivery payload.
const maxWebhookBody = 1 << 16 // 64KB

// Handler provides HTTP endpoints for billing operations and the inbound
// webhook.
type Handler struct {
	service   *Service
	processor *Processor
}

// NewHandler creates a new billing handler.
func NewHandler(service *Service, processor *Processor) *Handler {
	return &Handler{service: service, processor: processor}
}

// RegisterRoutes sets up tenant-scoped billing routes.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/billing/checkout", h.StartCheckout)
	r.POST("/billing/activate-free", h.ActivateFreePlan)
	r.POST("/billing/change-plan", h.ChangePlan)
	r.POST("/billing/cancel", h.Cancel)
	r.POST("/billing/resume", h.Resume)
	r.GET("/billing/overview", h.GetOverview)
	r.GET("/billing/payments", h.ListPayments)
	r.GET("/billing/plan-changes", h.ListPlanChanges)
}

// RegisterWebhookRoutes sets up the public webhook endpoint. It must stay
// outside authenticated groups; the signature is the authentication.
func (h *Handler) RegisterWebhookRoutes(r *gin.RouterGroup) {
	r.POST("/webhooks/stripe", h.HandleWebhook)
}

// PlanRequest is the body for checkout, free-activation, and plan-change.
type PlanRequest struct {
	PlanID string `json:"planId"`
}

// StartCheckout handles POST /v1/billing/checkout
func (h *Handler) StartCheckout(c *gin.Context) {
	tenantID := c.GetString("tenantID")

	var req PlanRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.PlanID == "" {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "planId is required",
		})
		return
	}

	session, err := h.service.StartCheckout(c.Request.Context(), tenantID, req.PlanID)
	if err != nil {
		h.writeServiceError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"checkout": session})
}

// ActivateFreePlan handles POST /v1/billing/activate-free
func (h *Handler) ActivateFreePlan(c *gin.Context) {
	tenantID := c.GetString("tenantID")

	var req PlanRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.PlanID == "" {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "planId is required",
		})
		return
	}

	if err := h.service.ActivateFreePlan(c.Request.Context(), tenantID, req.PlanID); err != nil {
		h.writeServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "activated"})
}

// ChangePlan handles POST /v1/billing/change-plan
func (h *Handler) ChangePlan(c *gin.Context) {
	tenantID := c.GetString("tenantID")

	var req PlanRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.PlanID == "" {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "planId is required",
		})
		return
	}

	sub, err := h.service.ChangePlan(c.Request.Context(), tenantID, req.PlanID)
	if err != nil {
		h.writeServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"subscription": sub})
}

// Cancel handles POST /v1/billing/cancel
func (h *Handler) Cancel(c *gin.Context) {
	sub, err := h.service.Cancel(c.Request.Context(), c.GetString("tenantID"))
	if err != nil {
		h.writeServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"subscription": sub})
}

// Resume handles POST /v1/billing/resume
func (h *Handler) Resume(c *gin.Context) {
	sub, err := h.service.Resume(c.Request.Context(), c.GetString("tenantID"))
	if err != nil {
		h.writeServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"subscription": sub})
}

// GetOverview handles GET /v1/billing/overview
func (h *Handler) GetOverview(c *gin.Context) {
	overview, err := h.service.GetOverview(c.Request.Context(), c.GetString("tenantID"))
	if err != nil {
		h.writeServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"overview": overview})
}

// ListPayments handles GET /v1/billing/payments
func (h *Handler) ListPayments(c *gin.Context) {
	tenantID := c.GetString("tenantID")

	limit := 50
	if l := c.Query("limit"); l != "" {
		if parsed, err := strconv.Atoi(l); err == nil && parsed > 0 {
			limit = parsed
			if limit > 200 {
				limit = 200
			}
		}
	}

	cursor, err := pagination.Decode(c.Query("cursor"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_cursor",
			"message": "cursor is not valid",
		})
		return
	}

	payments, err := h.service.store.ListPayments(c.Request.Context(), tenantID, limit, cursor)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": err.Error(),
		})
		return
	}

	page, next, hasMore := pagination.ComputePage(payments, limit, func(p *Payment) (time.Time, string) {
		return p.CreatedAt, p.ID
	})

	c.JSON(http.StatusOK, gin.H{
		"payments":    page,
		"count":       len(page),
		"next_cursor": next,
		"has_more":    hasMore,
	})
}

// ListPlanChanges handles GET /v1/billing/plan-changes
func (h *Handler) ListPlanChanges(c *gin.Context) {
	changes, err := h.service.store.ListPlanChanges(c.Request.Context(), c.GetString("tenantID"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"planChanges": changes,
		"count":       len(changes),
	})
}

// HandleWebhook handles POST /webhooks/stripe
//
// A verification failure returns 400 with no side effects; anything after
// verification is acknowledged with 200, leaving retries to the gateway.
func (h *Handler) HandleWebhook(c *gin.Context) {
	payload, err := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookBody))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "could not read payload",
		})
		return
	}

	if err := h.processor.Handle(c.Request.Context(), payload, c.GetHeader("Stripe-Signature")); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "verification_failed",
			"message": "signature verification failed",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{"received": true})
}

func (h *Handler) writeServiceError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	code := "internal_error"
	switch {
	case errors.Is(err, ErrNoActiveSubscription):
		status = http.StatusConflict
		code = "no_active_subscription"
	case errors.Is(err, ErrPlanNotEligible):
		status = http.StatusBadRequest
		code = "plan_not_eligible"
	case errors.Is(err, ErrGatewayUnavailable):
		status = http.StatusServiceUnavailable
		code = "gateway_unavailable"
	case errors.Is(err, ErrSubscriptionNotFound):
		status = http.StatusNotFound
		code = "not_found"
	case isNotFound(err):
		status = http.StatusNotFound
		code = "not_found"
	}
	c.JSON(status, gin.H{"error": code, "message": err.Error()})
}

func isNotFound(err error) bool {
	// tenant and plan lookups surface their own not-found errors.
	return errors.Is(err, tenant.ErrTenantNotFound) || errors.Is(err, plan.ErrPlanNotFound)
}
