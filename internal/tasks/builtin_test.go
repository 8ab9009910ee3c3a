package tasks

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegisterBuiltins(t *testing.T) {
	registry := NewRegistry()
	require.NoError(t, RegisterBuiltins(registry, nil))

	names := []string{}
	for _, info := range registry.List() {
		names = append(names, info.Name)
	}
	assert.Equal(t, []string{"task1", "task2", "task3", "validate_data", "send_notification"}, names)
}

func TestFetchDataTask(t *testing.T) {
	payload, err := FetchDataTask{}.Execute(context.Background(), map[string]any{})
	require.NoError(t, err)

	assert.Equal(t, 3, payload["total_count"])
	assert.NotNil(t, payload["fetch_timestamp"])

	records, ok := payload["records"].([]any)
	require.True(t, ok)
	require.Len(t, records, 3)
	first, ok := records[0].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, 1, first["id"])
	assert.Equal(t, 100, first["value"])
}

func TestProcessDataTask(t *testing.T) {
	fetched, err := FetchDataTask{}.Execute(context.Background(), map[string]any{})
	require.NoError(t, err)

	payload, err := ProcessDataTask{}.Execute(context.Background(), map[string]any{"task1": fetched})
	require.NoError(t, err)

	assert.Equal(t, 600.0, payload["total_value"])
	assert.Equal(t, 200.0, payload["average_value"])
	assert.Equal(t, 3, payload["record_count"])

	processed, ok := payload["processed_records"].([]any)
	require.True(t, ok)
	require.Len(t, processed, 3)

	first, ok := processed[0].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, 200.0, first["doubled_value"])
	assert.Equal(t, "low", first["category"])

	last, ok := processed[2].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "high", last["category"])
}

func TestProcessDataTaskWithoutInput(t *testing.T) {
	_, err := ProcessDataTask{}.Execute(context.Background(), map[string]any{})
	assert.ErrorContains(t, err, "no data from task1")
}

func TestProcessDataTaskAfterJSONRoundTrip(t *testing.T) {
	fetched, err := FetchDataTask{}.Execute(context.Background(), map[string]any{})
	require.NoError(t, err)

	// Contexts that crossed a storage or HTTP boundary carry float64
	// numbers instead of ints.
	raw, err := json.Marshal(map[string]any{"task1": fetched})
	require.NoError(t, err)
	var input map[string]any
	require.NoError(t, json.Unmarshal(raw, &input))

	payload, err := ProcessDataTask{}.Execute(context.Background(), input)
	require.NoError(t, err)
	assert.Equal(t, 600.0, payload["total_value"])
	assert.Equal(t, 3, payload["record_count"])
}

func TestStoreDataTask(t *testing.T) {
	input := map[string]any{
		"task2": map[string]any{"record_count": 3},
	}
	payload, err := StoreDataTask{}.Execute(context.Background(), input)
	require.NoError(t, err)

	assert.Equal(t, 3, payload["records_stored"])
	assert.Equal(t, "/data/processed/output.json", payload["storage_location"])
	assert.Contains(t, payload["storage_id"], "store_")
}

func TestStoreDataTaskWithoutInput(t *testing.T) {
	_, err := StoreDataTask{}.Execute(context.Background(), map[string]any{})
	assert.ErrorContains(t, err, "no processed data from task2")
}

func TestValidateDataTask(t *testing.T) {
	payload, err := ValidateDataTask{}.Execute(context.Background(), map[string]any{})
	require.NoError(t, err)
	assert.Equal(t, true, payload["validation_passed"])
}

func TestSendNotificationTaskWithoutNotifier(t *testing.T) {
	payload, err := SendNotificationTask{}.Execute(context.Background(), map[string]any{})
	require.NoError(t, err)
	assert.Equal(t, true, payload["notification_sent"])
}

func TestSendNotificationTaskDeliversWebhook(t *testing.T) {
	var received map[string]string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(body, &received)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	task := NewSendNotificationTask(NewHTTPNotifier(server.URL))
	payload, err := task.Execute(context.Background(), map[string]any{"task1": map[string]any{}})
	require.NoError(t, err)

	assert.Equal(t, true, payload["notification_sent"])
	assert.Equal(t, "Flow completed", received["subject"])
	assert.Contains(t, received["body"], "1 context entries")
}

func TestSendNotificationTaskFailsOnBadStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	task := NewSendNotificationTask(NewHTTPNotifier(server.URL))
	_, err := task.Execute(context.Background(), map[string]any{})
	assert.ErrorContains(t, err, "notification delivery failed")
}
