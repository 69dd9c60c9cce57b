package joblog

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
)

// Handler provides HTTP endpoints for inspecting sweep runs.
type Handler struct {
	store Store
}

// NewHandler creates a new job log handler.
func NewHandler(store Store) *Handler {
	return &Handler{store: store}
}

// RegisterRoutes sets up the job log routes.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("/jobs/runs", h.ListRuns)
}

// ListRuns handles GET /v1/jobs/runs?job=<name>&limit=<n>.
func (h *Handler) ListRuns(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	if limit <= 0 || limit > 500 {
		limit = 50
	}

	runs, err := h.store.List(c.Request.Context(), c.Query("job"), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "Failed to list job runs",
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{"runs": runs, "count": len(runs)})
}
