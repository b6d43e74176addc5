package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

// readyTimeout bounds all readiness checks together.
const readyTimeout = 3 * time.Second

// Health godoc
// @ID          health
// @Summary     Liveness check
// @Tags        Ops
// @Produce     json
// @Success     200  {object}  map[string]string  "{"status":"ok"}"
// @Router      /health [get]
func (h *Handlers) Health(c *gin.Context) {
	ok(c, http.StatusOK, gin.H{"status": "ok"})
}

// Ready godoc
// @ID          ready
// @Summary     Readiness check
// @Description Runs every dependency check (database, bot gateway) and reports each result.
// @Tags        Ops
// @Produce     json
// @Success     200  {object}  map[string]any
// @Failure     503  {object}  map[string]any
// @Router      /ready [get]
func (h *Handlers) Ready(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), readyTimeout)
	defer cancel()

	status := http.StatusOK
	checks := make(map[string]string, len(h.opts.Checks))
	for _, chk := range h.opts.Checks {
		if err := chk.Run(ctx); err != nil {
			status = http.StatusServiceUnavailable
			checks[chk.Name] = err.Error()
			continue
		}
		checks[chk.Name] = "ok"
	}

	overall := "ok"
	if status != http.StatusOK {
		overall = "unavailable"
	}
	ok(c, status, gin.H{"status": overall, "checks": checks})
}
