package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"flow-manager/internal/engine"
	"flow-manager/internal/logging"
	"flow-manager/internal/repository"
	"flow-manager/internal/tasks"
	"flow-manager/pkg/models"
)

// fakeStore is an in-memory Store for handler tests. Lists return newest
// first, matching the Postgres implementation.
type fakeStore struct {
	flows      []*models.Flow
	executions []*models.FlowExecution
	records    map[string][]*models.TaskExecution
}

var _ repository.Store = (*fakeStore)(nil)

func newFakeStore() *fakeStore {
	return &fakeStore{records: map[string][]*models.TaskExecution{}}
}

func pageSlice[T any](items []T, page, perPage int) []T {
	if page < 1 {
		page = 1
	}
	if perPage < 1 {
		perPage = DefaultPageSize
	}
	start := (page - 1) * perPage
	if start >= len(items) {
		return nil
	}
	end := start + perPage
	if end > len(items) {
		end = len(items)
	}
	return items[start:end]
}

func (s *fakeStore) findFlow(id string) (*models.Flow, int) {
	for i, f := range s.flows {
		if f.ID == id {
			return f, i
		}
	}
	return nil, -1
}

func (s *fakeStore) findExecution(id string) *models.FlowExecution {
	for _, e := range s.executions {
		if e.ID == id {
			return e
		}
	}
	return nil
}

func (s *fakeStore) CreateFlow(ctx context.Context, flow *models.Flow) error {
	if f, _ := s.findFlow(flow.ID); f != nil {
		return fmt.Errorf("flow %q: %w", flow.ID, repository.ErrConflict)
	}
	if flow.CreatedAt.IsZero() {
		flow.CreatedAt = time.Now().UTC()
	}
	flow.UpdatedAt = flow.CreatedAt
	s.flows = append(s.flows, flow)
	return nil
}

func (s *fakeStore) GetFlow(ctx context.Context, id string) (*models.Flow, error) {
	flow, _ := s.findFlow(id)
	if flow == nil {
		return nil, fmt.Errorf("flow %q: %w", id, repository.ErrNotFound)
	}
	return flow, nil
}

func (s *fakeStore) ListFlows(ctx context.Context, opts repository.ListFlowsOptions) ([]*models.Flow, int, error) {
	var filtered []*models.Flow
	for i := len(s.flows) - 1; i >= 0; i-- {
		f := s.flows[i]
		if opts.IsActive != nil && f.IsActive != *opts.IsActive {
			continue
		}
		filtered = append(filtered, f)
	}
	return pageSlice(filtered, opts.Page, opts.PerPage), len(filtered), nil
}

func (s *fakeStore) UpdateFlow(ctx context.Context, flow *models.Flow) error {
	_, i := s.findFlow(flow.ID)
	if i < 0 {
		return fmt.Errorf("flow %q: %w", flow.ID, repository.ErrNotFound)
	}
	s.flows[i] = flow
	return nil
}

func (s *fakeStore) DeleteFlow(ctx context.Context, id string) error {
	_, i := s.findFlow(id)
	if i < 0 {
		return fmt.Errorf("flow %q: %w", id, repository.ErrNotFound)
	}
	s.flows = append(s.flows[:i], s.flows[i+1:]...)
	var kept []*models.FlowExecution
	for _, e := range s.executions {
		if e.FlowID == id {
			delete(s.records, e.ID)
			continue
		}
		kept = append(kept, e)
	}
	s.executions = kept
	return nil
}

func (s *fakeStore) CreateExecution(ctx context.Context, exec *models.FlowExecution) error {
	cp := *exec
	s.executions = append(s.executions, &cp)
	return nil
}

func (s *fakeStore) MarkExecutionRunning(ctx context.Context, id string, startedAt time.Time) error {
	stored := s.findExecution(id)
	if stored == nil {
		return fmt.Errorf("execution %q: %w", id, repository.ErrNotFound)
	}
	stored.Status = models.ExecutionStatusRunning
	stored.StartedAt = &startedAt
	return nil
}

func (s *fakeStore) AppendTaskExecution(ctx context.Context, record *models.TaskExecution) error {
	cp := *record
	s.records[record.FlowExecutionID] = append(s.records[record.FlowExecutionID], &cp)
	return nil
}

func (s *fakeStore) FinalizeExecution(ctx context.Context, exec *models.FlowExecution) error {
	stored := s.findExecution(exec.ID)
	if stored == nil {
		return fmt.Errorf("execution %q: %w", exec.ID, repository.ErrNotFound)
	}
	stored.Status = exec.Status
	stored.OutputData = exec.OutputData
	stored.ErrorMessage = exec.ErrorMessage
	stored.ErrorTask = exec.ErrorTask
	stored.TotalTasksExecuted = exec.TotalTasksExecuted
	stored.CompletedAt = exec.CompletedAt
	return nil
}

func (s *fakeStore) GetExecution(ctx context.Context, id string) (*models.FlowExecution, error) {
	stored := s.findExecution(id)
	if stored == nil {
		return nil, fmt.Errorf("execution %q: %w", id, repository.ErrNotFound)
	}
	cp := *stored
	return &cp, nil
}

func (s *fakeStore) ListExecutions(ctx context.Context, opts repository.ListExecutionsOptions) ([]*models.FlowExecution, int, error) {
	var filtered []*models.FlowExecution
	for i := len(s.executions) - 1; i >= 0; i-- {
		e := s.executions[i]
		if opts.FlowID != "" && e.FlowID != opts.FlowID {
			continue
		}
		if opts.Status != "" && e.Status != opts.Status {
			continue
		}
		filtered = append(filtered, e)
	}
	return pageSlice(filtered, opts.Page, opts.PerPage), len(filtered), nil
}

func (s *fakeStore) ListTaskExecutions(ctx context.Context, executionID string) ([]*models.TaskExecution, error) {
	return s.records[executionID], nil
}

func newTestServer(t *testing.T) (*echo.Echo, *fakeStore) {
	t.Helper()
	store := newFakeStore()
	registry := tasks.NewRegistry()
	require.NoError(t, tasks.RegisterBuiltins(registry, nil))
	logger := logging.NewLogger("error")

	eng, err := engine.New(store, registry, logger, 0)
	require.NoError(t, err)
	h := NewHandler(store, registry, eng, logger)

	e := echo.New()
	RegisterRoutes(e.Group("/api/v1"), h)
	e.GET("/healthz", h.Health)
	return e, store
}

func doRequest(t *testing.T, e *echo.Echo, method, target string, body any) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	var reader io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(buf)
	}
	req := httptest.NewRequest(method, target, reader)
	if body != nil {
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	}
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	var decoded map[string]any
	if rec.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &decoded), "body: %s", rec.Body.String())
	}
	return rec, decoded
}

func dataMap(t *testing.T, decoded map[string]any) map[string]any {
	t.Helper()
	data, ok := decoded["data"].(map[string]any)
	require.True(t, ok, "response has no data object: %v", decoded)
	return data
}

func dataList(t *testing.T, decoded map[string]any) []any {
	t.Helper()
	data, ok := decoded["data"].([]any)
	require.True(t, ok, "response has no data array: %v", decoded)
	return data
}

func pipelineRequest() map[string]any {
	return map[string]any{
		"flow": map[string]any{
			"id":          "flow123",
			"name":        "Data Pipeline",
			"description": "Fetch, process and store a batch of records",
			"start_task":  "task1",
			"tasks": []map[string]any{
				{"name": "task1", "description": "Fetch data from source"},
				{"name": "task2", "description": "Process and transform data"},
				{"name": "task3", "description": "Store processed data"},
			},
			"conditions": []map[string]any{
				{"name": "fetch_ok", "source_task": "task1", "outcome": "success", "target_task_success": "task2", "target_task_failure": "end"},
				{"name": "process_ok", "source_task": "task2", "outcome": "success", "target_task_success": "task3", "target_task_failure": "end"},
			},
		},
	}
}

func seedPipelineFlow(t *testing.T, store *fakeStore) *models.Flow {
	t.Helper()
	flow := &models.Flow{
		ID:        "flow123",
		Name:      "Data Pipeline",
		StartTask: "task1",
		Tasks: []models.TaskDef{
			{Name: "task1", Description: "Fetch data from source"},
			{Name: "task2", Description: "Process and transform data"},
			{Name: "task3", Description: "Store processed data"},
		},
		Conditions: []models.Condition{
			{Name: "fetch_ok", SourceTask: "task1", Outcome: models.OutcomeSuccess, TargetTaskSuccess: "task2", TargetTaskFailure: models.EndTarget},
			{Name: "process_ok", SourceTask: "task2", Outcome: models.OutcomeSuccess, TargetTaskSuccess: "task3", TargetTaskFailure: models.EndTarget},
		},
		IsActive: true,
		Version:  1,
	}
	require.NoError(t, store.CreateFlow(context.Background(), flow))
	return flow
}

func TestHealth(t *testing.T) {
	e, _ := newTestServer(t)

	rec, decoded := doRequest(t, e, http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", decoded["status"])
	assert.Equal(t, "flow-manager", decoded["service"])
}

func TestCreateFlow(t *testing.T) {
	e, store := newTestServer(t)

	rec, decoded := doRequest(t, e, http.MethodPost, "/api/v1/flows", pipelineRequest())
	require.Equal(t, http.StatusCreated, rec.Code, "body: %s", rec.Body.String())
	assert.Equal(t, "Flow created successfully", decoded["message"])

	data := dataMap(t, decoded)
	assert.Equal(t, "flow123", data["id"])
	assert.Equal(t, true, data["is_active"])
	assert.EqualValues(t, 1, data["version"])

	stored, err := store.GetFlow(context.Background(), "flow123")
	require.NoError(t, err)
	assert.Len(t, stored.Tasks, 3)
	assert.Len(t, stored.Conditions, 2)
}

func TestCreateFlowValidationError(t *testing.T) {
	e, _ := newTestServer(t)

	body := pipelineRequest()
	body["flow"].(map[string]any)["start_task"] = ""
	rec, decoded := doRequest(t, e, http.MethodPost, "/api/v1/flows", body)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, decoded["message"], "Flow validation failed")
}

func TestCreateFlowUnknownTask(t *testing.T) {
	e, _ := newTestServer(t)

	body := map[string]any{
		"flow": map[string]any{
			"id":         "flow-unknown",
			"name":       "Unknown Task Flow",
			"start_task": "nope",
			"tasks":      []map[string]any{{"name": "nope"}},
		},
	}
	rec, decoded := doRequest(t, e, http.MethodPost, "/api/v1/flows", body)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "Task 'nope' not found in task registry", decoded["message"])
}

func TestCreateFlowDuplicate(t *testing.T) {
	e, _ := newTestServer(t)

	rec, _ := doRequest(t, e, http.MethodPost, "/api/v1/flows", pipelineRequest())
	require.Equal(t, http.StatusCreated, rec.Code)

	rec, decoded := doRequest(t, e, http.MethodPost, "/api/v1/flows", pipelineRequest())
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "Flow with id 'flow123' already exists", decoded["message"])
}

func TestCreateFlowGeneratedID(t *testing.T) {
	e, _ := newTestServer(t)

	body := pipelineRequest()
	delete(body["flow"].(map[string]any), "id")
	rec, decoded := doRequest(t, e, http.MethodPost, "/api/v1/flows", body)
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.NotEmpty(t, dataMap(t, decoded)["id"])
}

func TestListFlows(t *testing.T) {
	e, store := newTestServer(t)
	seedPipelineFlow(t, store)
	ctx := context.Background()
	require.NoError(t, store.CreateFlow(ctx, &models.Flow{
		ID: "flow-two", Name: "Second", StartTask: "task1",
		Tasks: []models.TaskDef{{Name: "task1"}}, IsActive: true, Version: 1,
	}))
	require.NoError(t, store.CreateFlow(ctx, &models.Flow{
		ID: "flow-off", Name: "Disabled", StartTask: "task1",
		Tasks: []models.TaskDef{{Name: "task1"}}, IsActive: false, Version: 1,
	}))

	rec, decoded := doRequest(t, e, http.MethodGet, "/api/v1/flows", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	flows := dataList(t, decoded)
	assert.Len(t, flows, 3)

	pagination, ok := decoded["pagination"].(map[string]any)
	require.True(t, ok)
	assert.EqualValues(t, 1, pagination["page"])
	assert.EqualValues(t, DefaultPageSize, pagination["per_page"])
	assert.EqualValues(t, 3, pagination["total"])
	assert.EqualValues(t, 1, pagination["pages"])

	// Summaries omit the definition.
	first, ok := flows[0].(map[string]any)
	require.True(t, ok)
	assert.NotContains(t, first, "tasks")
	assert.NotContains(t, first, "conditions")

	rec, decoded = doRequest(t, e, http.MethodGet, "/api/v1/flows?active_only=true", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, dataList(t, decoded), 2)

	rec, decoded = doRequest(t, e, http.MethodGet, "/api/v1/flows?per_page=2&page=2", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, dataList(t, decoded), 1)
	pagination = decoded["pagination"].(map[string]any)
	assert.EqualValues(t, 2, pagination["pages"])
}

func TestGetFlow(t *testing.T) {
	e, store := newTestServer(t)
	seedPipelineFlow(t, store)

	rec, decoded := doRequest(t, e, http.MethodGet, "/api/v1/flows/flow123", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	data := dataMap(t, decoded)
	assert.Equal(t, "flow123", data["id"])
	assert.Len(t, data["tasks"], 3)
	assert.Len(t, data["conditions"], 2)

	rec, decoded = doRequest(t, e, http.MethodGet, "/api/v1/flows/missing", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "Flow 'missing' not found", decoded["message"])
}

func TestUpdateFlow(t *testing.T) {
	e, store := newTestServer(t)
	seedPipelineFlow(t, store)

	body := map[string]any{"name": "Renamed Pipeline", "is_active": false}
	rec, decoded := doRequest(t, e, http.MethodPut, "/api/v1/flows/flow123", body)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Flow updated successfully", decoded["message"])

	data := dataMap(t, decoded)
	assert.Equal(t, "Renamed Pipeline", data["name"])
	assert.Equal(t, false, data["is_active"])
	assert.EqualValues(t, 2, data["version"])

	rec, decoded = doRequest(t, e, http.MethodPut, "/api/v1/flows/missing", body)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "Flow 'missing' not found", decoded["message"])
}

func TestDeleteFlow(t *testing.T) {
	e, store := newTestServer(t)
	seedPipelineFlow(t, store)

	rec, decoded := doRequest(t, e, http.MethodDelete, "/api/v1/flows/flow123", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Flow 'flow123' deleted successfully", decoded["message"])
	assert.NotContains(t, decoded, "data")

	rec, _ = doRequest(t, e, http.MethodGet, "/api/v1/flows/flow123", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec, decoded = doRequest(t, e, http.MethodDelete, "/api/v1/flows/flow123", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "Flow 'flow123' not found", decoded["message"])
}

func TestExecuteFlow(t *testing.T) {
	e, store := newTestServer(t)
	seedPipelineFlow(t, store)

	body := map[string]any{"input_context": map[string]any{"batch_id": "batch_001"}}
	rec, decoded := doRequest(t, e, http.MethodPost, "/api/v1/flows/flow123/execute", body)
	require.Equal(t, http.StatusOK, rec.Code, "body: %s", rec.Body.String())
	assert.Equal(t, "Flow execution completed", decoded["message"])

	data := dataMap(t, decoded)
	assert.Equal(t, "completed", data["status"])
	assert.EqualValues(t, 3, data["total_tasks_executed"])
	assert.Equal(t, "flow123", data["flow_id"])

	output, ok := data["output_data"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "batch_001", output["batch_id"])
	assert.Contains(t, output, "task1")
	assert.Contains(t, output, "task2")
	assert.Contains(t, output, "task3")

	records, ok := data["task_executions"].([]any)
	require.True(t, ok)
	require.Len(t, records, 3)
	first, ok := records[0].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "task1", first["task_name"])
	assert.Equal(t, "success", first["status"])
	assert.EqualValues(t, 1, first["sequence_number"])
	assert.Contains(t, first, "duration_seconds")
}

func TestExecuteFlowWithoutBody(t *testing.T) {
	e, store := newTestServer(t)
	seedPipelineFlow(t, store)

	rec, decoded := doRequest(t, e, http.MethodPost, "/api/v1/flows/flow123/execute", nil)
	require.Equal(t, http.StatusOK, rec.Code, "body: %s", rec.Body.String())
	assert.Equal(t, "completed", dataMap(t, decoded)["status"])
}

func TestExecuteFlowNotFound(t *testing.T) {
	e, _ := newTestServer(t)

	rec, decoded := doRequest(t, e, http.MethodPost, "/api/v1/flows/ghost/execute", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "Flow 'ghost' not found", decoded["message"])
}

func TestExecuteFlowInactive(t *testing.T) {
	e, store := newTestServer(t)
	flow := seedPipelineFlow(t, store)
	flow.IsActive = false

	rec, decoded := doRequest(t, e, http.MethodPost, "/api/v1/flows/flow123/execute", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "Flow 'flow123' is not active", decoded["message"])
}

func TestListExecutions(t *testing.T) {
	e, store := newTestServer(t)
	seedPipelineFlow(t, store)

	for i := 0; i < 2; i++ {
		rec, _ := doRequest(t, e, http.MethodPost, "/api/v1/flows/flow123/execute", nil)
		require.Equal(t, http.StatusOK, rec.Code)
	}

	rec, decoded := doRequest(t, e, http.MethodGet, "/api/v1/executions", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, dataList(t, decoded), 2)

	rec, decoded = doRequest(t, e, http.MethodGet, "/api/v1/executions?status=completed", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, dataList(t, decoded), 2)

	rec, decoded = doRequest(t, e, http.MethodGet, "/api/v1/executions?flow_id=other", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, dataList(t, decoded))

	rec, decoded = doRequest(t, e, http.MethodGet, "/api/v1/executions?status=bogus", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "Invalid status: bogus", decoded["message"])
}

func TestGetExecution(t *testing.T) {
	e, store := newTestServer(t)
	seedPipelineFlow(t, store)

	_, decoded := doRequest(t, e, http.MethodPost, "/api/v1/flows/flow123/execute", nil)
	execID, ok := dataMap(t, decoded)["id"].(string)
	require.True(t, ok)

	rec, decoded := doRequest(t, e, http.MethodGet, "/api/v1/executions/"+execID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	data := dataMap(t, decoded)
	assert.Equal(t, "completed", data["status"])
	assert.NotContains(t, data, "task_executions")

	rec, decoded = doRequest(t, e, http.MethodGet, "/api/v1/executions/"+execID+"?include_tasks=true", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	data = dataMap(t, decoded)
	records, ok := data["task_executions"].([]any)
	require.True(t, ok)
	assert.Len(t, records, 3)

	rec, decoded = doRequest(t, e, http.MethodGet, "/api/v1/executions/nope", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "Execution nope not found", decoded["message"])
}

func TestGetExecutionLogs(t *testing.T) {
	e, store := newTestServer(t)
	seedPipelineFlow(t, store)

	_, decoded := doRequest(t, e, http.MethodPost, "/api/v1/flows/flow123/execute", nil)
	execID, ok := dataMap(t, decoded)["id"].(string)
	require.True(t, ok)

	rec, decoded := doRequest(t, e, http.MethodGet, "/api/v1/executions/"+execID+"/logs", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	data := dataMap(t, decoded)
	assert.Equal(t, execID, data["execution_id"])
	assert.Equal(t, "flow123", data["flow_id"])
	assert.Equal(t, "completed", data["status"])

	taskLogs, ok := data["task_logs"].([]any)
	require.True(t, ok)
	require.Len(t, taskLogs, 3)
	first, ok := taskLogs[0].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "task1", first["task_name"])
	assert.EqualValues(t, 1, first["sequence_number"])
	assert.NotContains(t, first, "input_data")

	rec, _ = doRequest(t, e, http.MethodGet, "/api/v1/executions/nope/logs", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestListTasks(t *testing.T) {
	e, _ := newTestServer(t)

	rec, decoded := doRequest(t, e, http.MethodGet, "/api/v1/tasks", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.EqualValues(t, 5, decoded["count"])

	catalog := dataMap(t, decoded)
	assert.Equal(t, "Fetch data from source", catalog["task1"])
	assert.Contains(t, catalog, "task2")
	assert.Contains(t, catalog, "task3")
	assert.Contains(t, catalog, "validate_data")
	assert.Contains(t, catalog, "send_notification")
}

func TestGetTask(t *testing.T) {
	e, _ := newTestServer(t)

	rec, decoded := doRequest(t, e, http.MethodGet, "/api/v1/tasks/task1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	data := dataMap(t, decoded)
	assert.Equal(t, "task1", data["name"])
	assert.Equal(t, "Fetch data from source", data["description"])

	rec, decoded = doRequest(t, e, http.MethodGet, "/api/v1/tasks/nope", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "Task 'nope' not found", decoded["message"])
}
