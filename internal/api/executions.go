package api

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"

	"flow-manager/internal/repository"
	"flow-manager/pkg/models"
)

// GetExecution returns one execution record. Task records are included
// when include_tasks=true.
// (GET /api/v1/executions/:id)
func (h *Handler) GetExecution(c echo.Context) error {
	ctx := c.Request().Context()
	id := c.Param("id")

	exec, err := h.store.GetExecution(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, fmt.Sprintf("Execution %s not found", id))
		}
		h.logger.Error("failed to get execution", "execution_id", id, "error", err)
		return echo.NewHTTPError(http.StatusInternalServerError, "Failed to get execution")
	}

	if strings.EqualFold(c.QueryParam("include_tasks"), "true") {
		records, err := h.store.ListTaskExecutions(ctx, id)
		if err != nil {
			h.logger.Error("failed to load task executions", "execution_id", id, "error", err)
			return echo.NewHTTPError(http.StatusInternalServerError, "Failed to load task executions")
		}
		exec.TaskExecutions = records
	}

	return c.JSON(http.StatusOK, dataResponse{Data: exec})
}

// ListExecutions returns a paginated list of executions, most recently
// started first, optionally filtered by flow_id and status.
// (GET /api/v1/executions)
func (h *Handler) ListExecutions(c echo.Context) error {
	ctx := c.Request().Context()
	page, perPage := parsePagination(c)

	opts := repository.ListExecutionsOptions{
		Page:    page,
		PerPage: perPage,
		FlowID:  c.QueryParam("flow_id"),
	}
	if status := c.QueryParam("status"); status != "" {
		s := models.ExecutionStatus(status)
		if !s.Valid() {
			return echo.NewHTTPError(http.StatusBadRequest, fmt.Sprintf("Invalid status: %s", status))
		}
		opts.Status = s
	}

	executions, total, err := h.store.ListExecutions(ctx, opts)
	if err != nil {
		h.logger.Error("failed to list executions", "error", err)
		return echo.NewHTTPError(http.StatusInternalServerError, "Failed to list executions")
	}

	return c.JSON(http.StatusOK, listResponse{
		Data:       executions,
		Pagination: newPagination(page, perPage, total),
	})
}

// executionLogs is the condensed trace view served by the logs endpoint.
type executionLogs struct {
	ExecutionID        string                 `json:"execution_id"`
	FlowID             string                 `json:"flow_id"`
	Status             models.ExecutionStatus `json:"status"`
	TotalTasksExecuted int                    `json:"total_tasks_executed"`
	ErrorMessage       string                 `json:"error_message,omitempty"`
	ErrorTask          string                 `json:"error_task,omitempty"`
	DurationSeconds    *float64               `json:"duration_seconds,omitempty"`
	TaskLogs           []taskLogEntry         `json:"task_logs"`
}

type taskLogEntry struct {
	SequenceNumber  int            `json:"sequence_number"`
	TaskName        string         `json:"task_name"`
	Status          models.Outcome `json:"status"`
	ErrorMessage    string         `json:"error_message,omitempty"`
	StartedAt       *time.Time     `json:"started_at,omitempty"`
	CompletedAt     *time.Time     `json:"completed_at,omitempty"`
	DurationSeconds *float64       `json:"duration_seconds,omitempty"`
}

// GetExecutionLogs returns the step-by-step trace of an execution
// without the context payloads.
// (GET /api/v1/executions/:id/logs)
func (h *Handler) GetExecutionLogs(c echo.Context) error {
	ctx := c.Request().Context()
	id := c.Param("id")

	exec, err := h.store.GetExecution(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, fmt.Sprintf("Execution %s not found", id))
		}
		h.logger.Error("failed to get execution", "execution_id", id, "error", err)
		return echo.NewHTTPError(http.StatusInternalServerError, "Failed to get execution")
	}

	records, err := h.store.ListTaskExecutions(ctx, id)
	if err != nil {
		h.logger.Error("failed to load task executions", "execution_id", id, "error", err)
		return echo.NewHTTPError(http.StatusInternalServerError, "Failed to load task executions")
	}

	logs := executionLogs{
		ExecutionID:        exec.ID,
		FlowID:             exec.FlowID,
		Status:             exec.Status,
		TotalTasksExecuted: exec.TotalTasksExecuted,
		ErrorMessage:       exec.ErrorMessage,
		ErrorTask:          exec.ErrorTask,
		DurationSeconds:    exec.DurationSeconds(),
		TaskLogs:           make([]taskLogEntry, 0, len(records)),
	}
	for _, record := range records {
		logs.TaskLogs = append(logs.TaskLogs, taskLogEntry{
			SequenceNumber:  record.SequenceNumber,
			TaskName:        record.TaskName,
			Status:          record.Status,
			ErrorMessage:    record.ErrorMessage,
			StartedAt:       record.StartedAt,
			CompletedAt:     record.CompletedAt,
			DurationSeconds: record.DurationSeconds(),
		})
	}

	return c.JSON(http.StatusOK, dataResponse{Data: logs})
}
