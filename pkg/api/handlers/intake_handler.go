package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/tidewater-io/cascade/internal/engine"
	"github.com/tidewater-io/cascade/internal/storage"
	"github.com/tidewater-io/cascade/pkg/api/dto"
	"github.com/tidewater-io/cascade/pkg/api/middleware"
)

// IntakeHandler delivers external input to suspended tasks
type IntakeHandler struct {
	engine *engine.Engine
}

// NewIntakeHandler creates a new intake handler
func NewIntakeHandler(eng *engine.Engine) *IntakeHandler {
	return &IntakeHandler{engine: eng}
}

// DeliverInput handles POST /api/v1/instances/:id/tasks/:task_id/input
func (h *IntakeHandler) DeliverInput(c *gin.Context) {
	instanceID := c.Param("id")
	taskID := c.Param("task_id")

	var req dto.DeliverInputRequest
	if !middleware.BindAndValidate(c, &req) {
		return
	}

	if err := h.engine.DeliverInput(c.Request.Context(), instanceID, taskID, req.Payload); err != nil {
		abortIntakeError(c, err)
		return
	}

	c.JSON(http.StatusOK, dto.SuccessResponse{
		Success: true,
		Message: "Input delivered",
	})
}

// DeliverDecision handles POST /api/v1/instances/:id/tasks/:task_id/decision
func (h *IntakeHandler) DeliverDecision(c *gin.Context) {
	instanceID := c.Param("id")
	taskID := c.Param("task_id")

	var req dto.DecisionRequest
	if !middleware.BindAndValidate(c, &req) {
		return
	}

	decision := engine.Decision{
		Decision:        req.Decision,
		DecidedBy:       req.DecidedBy,
		Comments:        req.Comments,
		RejectionReason: req.RejectionReason,
	}
	if err := h.engine.DeliverDecision(c.Request.Context(), instanceID, taskID, decision); err != nil {
		abortIntakeError(c, err)
		return
	}

	c.JSON(http.StatusOK, dto.SuccessResponse{
		Success: true,
		Message: "Decision delivered",
	})
}

func abortIntakeError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, storage.ErrNotFound):
		middleware.AbortWithError(c, http.StatusNotFound, "INSTANCE_NOT_FOUND", "Instance not found")
	case errors.Is(err, engine.ErrUnknownTask):
		middleware.AbortWithError(c, http.StatusNotFound, "TASK_NOT_FOUND", err.Error())
	case errors.Is(err, engine.ErrNotWaiting):
		middleware.AbortWithError(c, http.StatusConflict, "TASK_NOT_WAITING", err.Error())
	default:
		middleware.AbortWithError(c, http.StatusInternalServerError, "INTAKE_FAILED", err.Error())
	}
}
