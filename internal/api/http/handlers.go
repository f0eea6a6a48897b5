// Package http implements the kernel inspection REST API.
package http

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/emberos/ember/internal/abi"
	"github.com/emberos/ember/internal/infrastructure/logging"
	"github.com/emberos/ember/internal/kernel"
)

// Handlers serves read-mostly views of the running kernel plus the two
// mutations the inspection surface allows: posting notifications and
// killing a task.
type Handlers struct {
	kernel *kernel.Kernel
	log    *logging.Logger
	start  time.Time
}

// NewHandlers creates handlers over a running kernel.
func NewHandlers(k *kernel.Kernel, log *logging.Logger) *Handlers {
	if log == nil {
		log = logging.NewNop()
	}
	return &Handlers{kernel: k, log: log.Named("api"), start: time.Now()}
}

// Register attaches all routes to r.
func (h *Handlers) Register(r gin.IRoutes) {
	r.GET("/health", h.Health)
	r.GET("/tasks", h.ListTasks)
	r.GET("/tasks/:index", h.GetTask)
	r.POST("/tasks/:index/notify", h.NotifyTask)
	r.POST("/tasks/:index/kill", h.KillTask)
}

// Health reports liveness plus kernel identity.
func (h *Handlers) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":         "ok",
		"boot_id":        h.kernel.BootID(),
		"uptime_seconds": time.Since(h.start).Seconds(),
		"tasks":          len(h.kernel.Snapshot()),
	})
}

// ListTasks returns a snapshot of every task slot.
func (h *Handlers) ListTasks(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"tasks":   h.kernel.Snapshot(),
	})
}

// GetTask returns a snapshot of one task slot.
func (h *Handlers) GetTask(c *gin.Context) {
	idx, ok := h.taskIndex(c)
	if !ok {
		return
	}
	snap, ok := h.kernel.SnapshotTask(idx)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{
			"success": false,
			"error":   "no such task",
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"task":    snap,
	})
}

// NotifyTask posts notification bits to a task.
func (h *Handlers) NotifyTask(c *gin.Context) {
	idx, ok := h.taskIndex(c)
	if !ok {
		return
	}

	var req struct {
		Bits uint32 `json:"bits" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"success": false,
			"error":   "invalid request: " + err.Error(),
		})
		return
	}

	snap, ok := h.kernel.SnapshotTask(idx)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{
			"success": false,
			"error":   "no such task",
		})
		return
	}
	id := abi.TaskID{Index: snap.Index, Generation: snap.Generation}
	if !h.kernel.Post(id, req.Bits) {
		c.JSON(http.StatusConflict, gin.H{
			"success": false,
			"error":   "task is not alive",
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"task":    id.String(),
		"bits":    req.Bits,
	})
}

// KillTask forcibly stops a task.
func (h *Handlers) KillTask(c *gin.Context) {
	idx, ok := h.taskIndex(c)
	if !ok {
		return
	}
	snap, ok := h.kernel.SnapshotTask(idx)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{
			"success": false,
			"error":   "no such task",
		})
		return
	}
	id := abi.TaskID{Index: snap.Index, Generation: snap.Generation}
	if !h.kernel.Kill(id) {
		c.JSON(http.StatusConflict, gin.H{
			"success": false,
			"error":   "task is not alive",
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"task":    id.String(),
	})
}

func (h *Handlers) taskIndex(c *gin.Context) (int, bool) {
	idx, err := strconv.Atoi(c.Param("index"))
	if err != nil || idx < 0 {
		c.JSON(http.StatusBadRequest, gin.H{
			"success": false,
			"error":   "invalid task index",
		})
		return 0, false
	}
	return idx, true
}
