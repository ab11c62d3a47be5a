package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/tidewater-io/cascade/internal/dag"
	"github.com/tidewater-io/cascade/pkg/api/dto"
	"github.com/tidewater-io/cascade/pkg/api/middleware"
)

// WorkflowHandler serves the registered workflow definitions
type WorkflowHandler struct {
	bag *dag.Bag
}

// NewWorkflowHandler creates a new workflow handler
func NewWorkflowHandler(bag *dag.Bag) *WorkflowHandler {
	return &WorkflowHandler{bag: bag}
}

// ListWorkflows handles GET /api/v1/workflows
func (h *WorkflowHandler) ListWorkflows(c *gin.Context) {
	workflows := h.bag.List()

	responses := make([]dto.WorkflowResponse, len(workflows))
	for i, wf := range workflows {
		responses[i] = dto.ToWorkflowResponse(wf)
	}

	c.JSON(http.StatusOK, dto.WorkflowListResponse{
		Workflows: responses,
		Total:     len(responses),
	})
}

// GetWorkflow handles GET /api/v1/workflows/:id
func (h *WorkflowHandler) GetWorkflow(c *gin.Context) {
	id := c.Param("id")

	wf, err := h.bag.Get(id)
	if err != nil {
		middleware.AbortWithError(c, http.StatusNotFound, "WORKFLOW_NOT_FOUND", "Workflow not found")
		return
	}

	c.JSON(http.StatusOK, dto.ToWorkflowResponse(wf))
}
