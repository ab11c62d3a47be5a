package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/tidewater-io/cascade/internal/engine"
	"github.com/tidewater-io/cascade/internal/storage"
	"github.com/tidewater-io/cascade/pkg/api/dto"
	"github.com/tidewater-io/cascade/pkg/api/middleware"
	"github.com/tidewater-io/cascade/pkg/models"
)

// InstanceHandler handles workflow-instance HTTP requests
type InstanceHandler struct {
	engine *engine.Engine
}

// NewInstanceHandler creates a new instance handler
func NewInstanceHandler(eng *engine.Engine) *InstanceHandler {
	return &InstanceHandler{engine: eng}
}

// CreateInstance handles POST /api/v1/workflows/:id/instances
func (h *InstanceHandler) CreateInstance(c *gin.Context) {
	workflowID := c.Param("id")

	var req dto.CreateInstanceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		// Allow empty body
		req = dto.CreateInstanceRequest{}
	}

	// An authenticated caller owns the instances it creates
	owner := req.OwnerUserID
	if userID := c.GetString("user_id"); userID != "" {
		owner = userID
	}

	instance, err := h.engine.CreateInstance(c.Request.Context(), workflowID, owner, req.Tenant, req.InitialContext)
	if err != nil {
		switch {
		case errors.Is(err, engine.ErrUnknownWorkflow):
			middleware.AbortWithError(c, http.StatusNotFound, "WORKFLOW_NOT_FOUND", "Workflow not found")
		case errors.Is(err, engine.ErrBusy):
			middleware.AbortWithError(c, http.StatusServiceUnavailable, "ENGINE_BUSY",
				"Engine is at capacity. Please retry later.")
		default:
			middleware.AbortWithError(c, http.StatusInternalServerError, "CREATE_INSTANCE_FAILED", err.Error())
		}
		return
	}

	c.JSON(http.StatusCreated, dto.ToInstanceResponse(instance))
}

// ListInstances handles GET /api/v1/instances
func (h *InstanceHandler) ListInstances(c *gin.Context) {
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	pageSize, _ := strconv.Atoi(c.DefaultQuery("page_size", "20"))

	if page < 1 {
		page = 1
	}
	if pageSize < 1 || pageSize > 100 {
		pageSize = 20
	}

	filter := storage.InstanceFilter{
		WorkflowID:  c.Query("workflow_id"),
		OwnerUserID: c.Query("owner"),
		Limit:       pageSize,
		Offset:      (page - 1) * pageSize,
	}
	if statusStr := c.Query("status"); statusStr != "" {
		status := models.InstanceStatus(statusStr)
		filter.Status = &status
	}

	instances, err := h.engine.ListInstances(c.Request.Context(), filter)
	if err != nil {
		middleware.AbortWithError(c, http.StatusInternalServerError, "LIST_FAILED", err.Error())
		return
	}

	responses := make([]dto.InstanceResponse, len(instances))
	for i, instance := range instances {
		responses[i] = dto.ToInstanceResponse(instance)
	}

	c.JSON(http.StatusOK, dto.InstanceListResponse{
		Instances:  responses,
		Pagination: dto.NewPaginationMeta(page, pageSize, int64(len(responses))),
	})
}

// GetInstance handles GET /api/v1/instances/:id
func (h *InstanceHandler) GetInstance(c *gin.Context) {
	id := c.Param("id")

	instance, err := h.engine.GetInstance(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			middleware.AbortWithError(c, http.StatusNotFound, "INSTANCE_NOT_FOUND", "Instance not found")
			return
		}
		middleware.AbortWithError(c, http.StatusInternalServerError, "GET_INSTANCE_FAILED", err.Error())
		return
	}

	c.JSON(http.StatusOK, dto.ToInstanceDetailResponse(instance))
}

// CancelInstance handles POST /api/v1/instances/:id/cancel
func (h *InstanceHandler) CancelInstance(c *gin.Context) {
	id := c.Param("id")

	if err := h.engine.CancelInstance(c.Request.Context(), id); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			middleware.AbortWithError(c, http.StatusNotFound, "INSTANCE_NOT_FOUND", "Instance not found")
			return
		}
		middleware.AbortWithError(c, http.StatusBadRequest, "CANCEL_FAILED", err.Error())
		return
	}

	c.JSON(http.StatusOK, dto.SuccessResponse{
		Success: true,
		Message: "Instance cancellation requested",
	})
}
