package api

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"flow-manager/internal/engine"
	"flow-manager/internal/repository"
	"flow-manager/pkg/models"
)

// flowPayload is the flow definition as submitted by clients.
type flowPayload struct {
	ID          string             `json:"id"`
	Name        string             `json:"name"`
	Description string             `json:"description"`
	StartTask   string             `json:"start_task"`
	Tasks       []models.TaskDef   `json:"tasks"`
	Conditions  []models.Condition `json:"conditions"`
	IsActive    *bool              `json:"is_active"`
}

type createFlowRequest struct {
	Flow flowPayload `json:"flow"`
}

// CreateFlow creates a new flow definition.
// (POST /api/v1/flows)
func (h *Handler) CreateFlow(c echo.Context) error {
	ctx := c.Request().Context()

	var req createFlowRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Invalid request body: "+err.Error())
	}

	flow := &models.Flow{
		ID:          req.Flow.ID,
		Name:        req.Flow.Name,
		Description: req.Flow.Description,
		StartTask:   req.Flow.StartTask,
		Tasks:       req.Flow.Tasks,
		Conditions:  req.Flow.Conditions,
		IsActive:    true,
		Version:     1,
	}
	if req.Flow.IsActive != nil {
		flow.IsActive = *req.Flow.IsActive
	}
	if flow.ID == "" {
		flow.ID = uuid.New().String()
	}

	if err := flow.Validate(); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Flow validation failed: "+err.Error())
	}
	// Every declared task must resolve against the registry, so a stored
	// flow can always be executed.
	for _, name := range flow.TaskNames() {
		if !h.registry.Has(name) {
			return echo.NewHTTPError(http.StatusBadRequest,
				fmt.Sprintf("Task '%s' not found in task registry", name))
		}
	}

	if err := h.store.CreateFlow(ctx, flow); err != nil {
		if errors.Is(err, repository.ErrConflict) {
			return echo.NewHTTPError(http.StatusConflict,
				fmt.Sprintf("Flow with id '%s' already exists", flow.ID))
		}
		h.logger.Error("failed to create flow", "flow_id", flow.ID, "error", err)
		return echo.NewHTTPError(http.StatusInternalServerError, "Failed to create flow")
	}

	h.logger.Info("flow created", "flow_id", flow.ID)
	return c.JSON(http.StatusCreated, messageResponse{Message: "Flow created successfully", Data: flow})
}

// ListFlows returns a paginated list of flows without their definitions.
// (GET /api/v1/flows)
func (h *Handler) ListFlows(c echo.Context) error {
	ctx := c.Request().Context()
	page, perPage := parsePagination(c)

	opts := repository.ListFlowsOptions{Page: page, PerPage: perPage}
	if strings.EqualFold(c.QueryParam("active_only"), "true") {
		active := true
		opts.IsActive = &active
	}

	flows, total, err := h.store.ListFlows(ctx, opts)
	if err != nil {
		h.logger.Error("failed to list flows", "error", err)
		return echo.NewHTTPError(http.StatusInternalServerError, "Failed to list flows")
	}

	summaries := make([]*models.Flow, 0, len(flows))
	for _, flow := range flows {
		summary := *flow
		summary.Tasks = nil
		summary.Conditions = nil
		summaries = append(summaries, &summary)
	}

	return c.JSON(http.StatusOK, listResponse{
		Data:       summaries,
		Pagination: newPagination(page, perPage, total),
	})
}

// GetFlow returns a flow with its full definition.
// (GET /api/v1/flows/:id)
func (h *Handler) GetFlow(c echo.Context) error {
	ctx := c.Request().Context()
	id := c.Param("id")

	flow, err := h.store.GetFlow(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, fmt.Sprintf("Flow '%s' not found", id))
		}
		h.logger.Error("failed to get flow", "flow_id", id, "error", err)
		return echo.NewHTTPError(http.StatusInternalServerError, "Failed to get flow")
	}

	return c.JSON(http.StatusOK, dataResponse{Data: flow})
}

type updateFlowRequest struct {
	Name        *string `json:"name"`
	Description *string `json:"description"`
	IsActive    *bool   `json:"is_active"`
}

// UpdateFlow updates a flow's metadata. The task and condition
// definitions are immutable; each update bumps the version.
// (PUT /api/v1/flows/:id)
func (h *Handler) UpdateFlow(c echo.Context) error {
	ctx := c.Request().Context()
	id := c.Param("id")

	var req updateFlowRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Invalid request body: "+err.Error())
	}

	flow, err := h.store.GetFlow(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, fmt.Sprintf("Flow '%s' not found", id))
		}
		h.logger.Error("failed to get flow", "flow_id", id, "error", err)
		return echo.NewHTTPError(http.StatusInternalServerError, "Failed to get flow")
	}

	if req.Name != nil {
		flow.Name = *req.Name
	}
	if req.Description != nil {
		flow.Description = *req.Description
	}
	if req.IsActive != nil {
		flow.IsActive = *req.IsActive
	}
	flow.Version++

	if err := h.store.UpdateFlow(ctx, flow); err != nil {
		h.logger.Error("failed to update flow", "flow_id", id, "error", err)
		return echo.NewHTTPError(http.StatusInternalServerError, "Failed to update flow")
	}

	h.logger.Info("flow updated", "flow_id", id, "version", flow.Version)
	return c.JSON(http.StatusOK, messageResponse{Message: "Flow updated successfully", Data: flow})
}

// DeleteFlow deletes a flow and all its execution records.
// (DELETE /api/v1/flows/:id)
func (h *Handler) DeleteFlow(c echo.Context) error {
	ctx := c.Request().Context()
	id := c.Param("id")

	if err := h.store.DeleteFlow(ctx, id); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, fmt.Sprintf("Flow '%s' not found", id))
		}
		h.logger.Error("failed to delete flow", "flow_id", id, "error", err)
		return echo.NewHTTPError(http.StatusInternalServerError, "Failed to delete flow")
	}

	h.logger.Info("flow deleted", "flow_id", id)
	return c.JSON(http.StatusOK, messageResponse{Message: fmt.Sprintf("Flow '%s' deleted successfully", id)})
}

type executeFlowRequest struct {
	InputContext map[string]any `json:"input_context"`
}

// ExecuteFlow runs a flow synchronously and returns the finished
// execution with its task records.
// (POST /api/v1/flows/:id/execute)
func (h *Handler) ExecuteFlow(c echo.Context) error {
	ctx := c.Request().Context()
	id := c.Param("id")

	var req executeFlowRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Invalid request body: "+err.Error())
	}

	exec, err := h.engine.Execute(ctx, id, req.InputContext)
	if err != nil {
		switch {
		case errors.Is(err, repository.ErrNotFound):
			return echo.NewHTTPError(http.StatusNotFound, fmt.Sprintf("Flow '%s' not found", id))
		case errors.Is(err, engine.ErrFlowInactive):
			return echo.NewHTTPError(http.StatusBadRequest, fmt.Sprintf("Flow '%s' is not active", id))
		default:
			h.logger.Error("flow execution error", "flow_id", id, "error", err)
			return echo.NewHTTPError(http.StatusInternalServerError, "Flow execution failed")
		}
	}

	records, err := h.store.ListTaskExecutions(ctx, exec.ID)
	if err != nil {
		h.logger.Error("failed to load task executions", "execution_id", exec.ID, "error", err)
		return echo.NewHTTPError(http.StatusInternalServerError, "Failed to load task executions")
	}
	exec.TaskExecutions = records

	return c.JSON(http.StatusOK, messageResponse{Message: "Flow execution completed", Data: exec})
}
