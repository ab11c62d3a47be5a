package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/tidewater-io/cascade/pkg/api/dto"
)

// HealthCheck probes one backing service
type HealthCheck func() error

// HealthHandler reports the health of the engine's backing services
type HealthHandler struct {
	checks map[string]HealthCheck
}

// NewHealthHandler creates a health handler over the given checks
func NewHealthHandler(checks map[string]HealthCheck) *HealthHandler {
	return &HealthHandler{checks: checks}
}

// Health handles GET /health
func (h *HealthHandler) Health(c *gin.Context) {
	status := "healthy"
	services := make(map[string]string, len(h.checks))

	for name, check := range h.checks {
		if err := check(); err != nil {
			services[name] = err.Error()
			status = "degraded"
		} else {
			services[name] = "ok"
		}
	}

	code := http.StatusOK
	if status != "healthy" {
		code = http.StatusServiceUnavailable
	}

	c.JSON(code, dto.HealthResponse{
		Status:   status,
		Services: services,
	})
}
