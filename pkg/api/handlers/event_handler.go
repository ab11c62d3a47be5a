package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/tidewater-io/cascade/internal/engine"
	"github.com/tidewater-io/cascade/pkg/api/dto"
	"github.com/tidewater-io/cascade/pkg/api/middleware"
	"github.com/tidewater-io/cascade/pkg/models"
)

// EventHandler injects external events and serves the hook registry
type EventHandler struct {
	engine *engine.Engine
}

// NewEventHandler creates a new event handler
func NewEventHandler(eng *engine.Engine) *EventHandler {
	return &EventHandler{engine: eng}
}

// InjectEvent handles POST /api/v1/events
func (h *EventHandler) InjectEvent(c *gin.Context) {
	var req dto.InjectEventRequest
	if !middleware.BindAndValidate(c, &req) {
		return
	}

	h.engine.EmitEvent(&models.Event{
		Type:             req.Type,
		SourceWorkflowID: req.SourceWorkflowID,
		SourceInstanceID: req.SourceInstanceID,
		Payload:          req.Payload,
	})

	c.JSON(http.StatusAccepted, dto.SuccessResponse{
		Success: true,
		Message: "Event published",
	})
}

// ListHooks handles GET /api/v1/hooks
func (h *EventHandler) ListHooks(c *gin.Context) {
	hooks := h.engine.Hooks().List()

	c.JSON(http.StatusOK, dto.SuccessResponse{
		Success: true,
		Data:    hooks,
	})
}
