package http

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/GriffinCanCode/AgentOS/microkernel/internal/kernel"
	"github.com/GriffinCanCode/AgentOS/microkernel/internal/kernel/service"
)

// maxServiceLimit caps ?limit= on /v1/services.
const maxServiceLimit = 1000

// Kernel is the read-only view the handlers need.
type Kernel interface {
	Stats() kernel.Stats
	Tasks() []kernel.TaskInfo
	ServiceList(prefix string, limit int) []service.Info
}

// Handlers contains all HTTP handlers
type Handlers struct {
	kernel  Kernel
	started time.Time
}

// NewHandlers creates a new handler set
func NewHandlers(k Kernel) *Handlers {
	return &Handlers{kernel: k, started: time.Now()}
}

// Health handles liveness checks
func (h *Handlers) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "ok",
		"uptime": time.Since(h.started).Round(time.Second).String(),
	})
}

// Stats returns a kernel snapshot
func (h *Handlers) Stats(c *gin.Context) {
	c.JSON(http.StatusOK, h.kernel.Stats())
}

// ListTasks returns every live task
func (h *Handlers) ListTasks(c *gin.Context) {
	tasks := h.kernel.Tasks()
	c.JSON(http.StatusOK, gin.H{
		"tasks": tasks,
		"count": len(tasks),
	})
}

// GetTask returns one task by label
func (h *Handlers) GetTask(c *gin.Context) {
	label := c.Param("label")
	for _, t := range h.kernel.Tasks() {
		if t.Label == label {
			c.JSON(http.StatusOK, t)
			return
		}
	}
	c.JSON(http.StatusNotFound, gin.H{"error": "task not found: " + label})
}

// ListServices returns registered services, optionally filtered by prefix
func (h *Handlers) ListServices(c *gin.Context) {
	limit := 0
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > maxServiceLimit {
			c.JSON(http.StatusBadRequest, gin.H{
				"error": "limit must be an integer in [1, " + strconv.Itoa(maxServiceLimit) + "]",
			})
			return
		}
		limit = n
	}

	services := h.kernel.ServiceList(c.Query("prefix"), limit)
	c.JSON(http.StatusOK, gin.H{
		"services": services,
		"count":    len(services),
	})
}
