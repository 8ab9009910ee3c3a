package api

import (
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"
)

type taskListResponse struct {
	Data  map[string]string `json:"data"`
	Count int               `json:"count"`
}

// ListTasks returns the registered tasks as a name to description map.
// (GET /api/v1/tasks)
func (h *Handler) ListTasks(c echo.Context) error {
	infos := h.registry.List()
	catalog := make(map[string]string, len(infos))
	for _, info := range infos {
		catalog[info.Name] = info.Description
	}
	return c.JSON(http.StatusOK, taskListResponse{Data: catalog, Count: len(catalog)})
}

// GetTask returns one registered task.
// (GET /api/v1/tasks/:name)
func (h *Handler) GetTask(c echo.Context) error {
	name := c.Param("name")

	task, err := h.registry.Resolve(name)
	if err != nil {
		return echo.NewHTTPError(http.StatusNotFound, fmt.Sprintf("Task '%s' not found", name))
	}

	return c.JSON(http.StatusOK, dataResponse{Data: map[string]string{
		"name":        task.Name(),
		"description": task.Description(),
	}})
}
