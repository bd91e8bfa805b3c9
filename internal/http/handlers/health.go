package handlers

import (
	"context"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/gin-gonic/gin"
)

type Pinger func(ctx context.Context) error

// Check is one named dependency probed by Readyz.
type Check struct {
	Name string
	Ping Pinger
}

type HealthHandler struct {
	db           Pinger
	checks       []Check
	shuttingDown atomic.Bool
}

// NewHealthHandler takes the database pinger (nil when running on the memory store)
// plus any extra readiness checks.
func NewHealthHandler(db Pinger, checks ...Check) *HealthHandler {
	return &HealthHandler{db: db, checks: checks}
}

// SetShuttingDown makes Readyz fail so load balancers drain this instance.
func (h *HealthHandler) SetShuttingDown() {
	h.shuttingDown.Store(true)
}

func (h *HealthHandler) Health(ctx *gin.Context) {
	ctx.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// Ping reports database round-trip latency.
func (h *HealthHandler) Ping(ctx *gin.Context) {
	if h.db == nil {
		ctx.JSON(http.StatusOK, gin.H{"status": "ok", "database": "memory"})
		return
	}

	cctx, cancel := context.WithTimeout(ctx.Request.Context(), 2*time.Second)
	defer cancel()

	start := time.Now()
	err := h.db(cctx)
	latency := time.Since(start)

	if err != nil {
		ctx.JSON(http.StatusServiceUnavailable, gin.H{
			"status":   "unavailable",
			"database": "unreachable",
		})
		return
	}

	ctx.JSON(http.StatusOK, gin.H{
		"status":    "ok",
		"database":  "ok",
		"latencyMs": float64(latency.Microseconds()) / 1000,
	})
}

func (h *HealthHandler) Readyz(ctx *gin.Context) {
	if h.shuttingDown.Load() {
		ctx.JSON(http.StatusServiceUnavailable, gin.H{"status": "shutting_down"})
		return
	}

	cctx, cancel := context.WithTimeout(ctx.Request.Context(), 2*time.Second)
	defer cancel()

	checks := h.checks
	if h.db != nil {
		checks = append([]Check{{Name: "database", Ping: h.db}}, checks...)
	}

	status := http.StatusOK
	results := gin.H{}

	for _, c := range checks {
		if err := c.Ping(cctx); err != nil {
			status = http.StatusServiceUnavailable
			results[c.Name] = "unavailable"
			continue
		}
		results[c.Name] = "ok"
	}

	state := "ready"
	if status != http.StatusOK {
		state = "not_ready"
	}

	ctx.JSON(status, gin.H{"status": state, "checks": results})
}
