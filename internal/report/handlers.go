package report

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// Handler provides HTTP endpoints for financial reporting.
type Handler struct {
	reporter *Reporter
}

// NewHandler creates a new reporting handler.
func NewHandler(reporter *Reporter) *Handler {
	return &Handler{reporter: reporter}
}

// RegisterRoutes sets up tenant-scoped reporting routes.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("/reports/summary", h.GetSummary)
}

// GetSummary handles GET /v1/reports/summary
func (h *Handler) GetSummary(c *gin.Context) {
	tenantID := c.GetString("tenantID")

	summary, err := h.reporter.Summarize(c.Request.Context(), tenantID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "Failed to build summary",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{"summary": summary})
}
