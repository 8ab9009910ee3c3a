// Package api contains the HTTP handlers for the flow manager REST API.
package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"

	"flow-manager/internal/engine"
	"flow-manager/internal/logging"
	"flow-manager/internal/repository"
	"flow-manager/internal/tasks"
)

const (
	// DefaultPageSize is used when a list request does not set per_page.
	DefaultPageSize = 20
	// MaxPageSize caps caller-supplied per_page values.
	MaxPageSize = 100
)

// Handler contains the HTTP handlers for the flow manager REST API.
type Handler struct {
	store    repository.Store
	registry *tasks.Registry
	engine   *engine.Engine
	logger   *logging.Logger
}

// NewHandler creates a new Handler with required dependencies.
func NewHandler(store repository.Store, registry *tasks.Registry, eng *engine.Engine, logger *logging.Logger) *Handler {
	return &Handler{store: store, registry: registry, engine: eng, logger: logger}
}

// RegisterRoutes attaches the API routes to the given group.
func RegisterRoutes(g *echo.Group, h *Handler) {
	g.POST("/flows", h.CreateFlow)
	g.GET("/flows", h.ListFlows)
	g.GET("/flows/:id", h.GetFlow)
	g.PUT("/flows/:id", h.UpdateFlow)
	g.DELETE("/flows/:id", h.DeleteFlow)
	g.POST("/flows/:id/execute", h.ExecuteFlow)

	g.GET("/executions", h.ListExecutions)
	g.GET("/executions/:id", h.GetExecution)
	g.GET("/executions/:id/logs", h.GetExecutionLogs)

	g.GET("/tasks", h.ListTasks)
	g.GET("/tasks/:name", h.GetTask)
}

// HealthStatus represents the health check response.
type HealthStatus struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
	Service   string    `json:"service"`
	Version   string    `json:"version"`
}

// Health returns basic health status (always returns 200 OK).
func (h *Handler) Health(c echo.Context) error {
	return c.JSON(http.StatusOK, HealthStatus{
		Status:    "ok",
		Timestamp: time.Now(),
		Service:   "flow-manager",
		Version:   "1.0.0",
	})
}

// Pagination describes the page window of a list response.
type Pagination struct {
	Page    int `json:"page"`
	PerPage int `json:"per_page"`
	Total   int `json:"total"`
	Pages   int `json:"pages"`
}

func newPagination(page, perPage, total int) Pagination {
	pages := 0
	if total > 0 {
		pages = (total + perPage - 1) / perPage
	}
	return Pagination{Page: page, PerPage: perPage, Total: total, Pages: pages}
}

// parsePagination reads the page and per_page query parameters, applying
// defaults and clamping per_page to MaxPageSize.
func parsePagination(c echo.Context) (page, perPage int) {
	page = 1
	if v := c.QueryParam("page"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			page = n
		}
	}
	perPage = DefaultPageSize
	if v := c.QueryParam("per_page"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			perPage = n
		}
	}
	if perPage > MaxPageSize {
		perPage = MaxPageSize
	}
	return page, perPage
}

type messageResponse struct {
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

type dataResponse struct {
	Data any `json:"data"`
}

type listResponse struct {
	Data       any        `json:"data"`
	Pagination Pagination `json:"pagination"`
}
