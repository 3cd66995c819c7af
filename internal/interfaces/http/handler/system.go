package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/entitled/backend/internal/infrastructure/counter"
)

// Pinger checks a dependency's liveness. Satisfied by the database.
type Pinger interface {
	Ping() error
}

// SystemHandler serves health and readiness probes
type SystemHandler struct {
	db    Pinger
	store counter.Store
}

// NewSystemHandler creates a system handler
func NewSystemHandler(db Pinger, store counter.Store) *SystemHandler {
	return &SystemHandler{db: db, store: store}
}

// Health handles GET /health. It reports degraded rather than failing
// when the counter store is down, because the gate keeps serving in its
// fail-open paths.
func (h *SystemHandler) Health(c *gin.Context) {
	status := http.StatusOK
	checks := gin.H{"database": "ok", "counter_store": "ok"}

	if err := h.db.Ping(); err != nil {
		checks["database"] = err.Error()
		status = http.StatusServiceUnavailable
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), time.Second)
	defer cancel()
	if _, err := h.store.Get(ctx, "health:probe"); err != nil {
		checks["counter_store"] = "degraded: " + err.Error()
	}

	c.JSON(status, gin.H{
		"status": http.StatusText(status),
		"checks": checks,
		"time":   time.Now().UTC(),
	})
}
