package tasks

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// RegisterBuiltins registers the demo tasks shipped with the service.
// notifier may be nil; send_notification then skips webhook delivery.
func RegisterBuiltins(r *Registry, notifier Notifier) error {
	builtins := []Task{
		FetchDataTask{},
		ProcessDataTask{},
		StoreDataTask{},
		ValidateDataTask{},
		SendNotificationTask{notifier: notifier},
	}
	for _, task := range builtins {
		if err := r.Register(task); err != nil {
			return err
		}
	}
	return nil
}

// FetchDataTask simulates fetching a batch of records from a source
// system. A real implementation would read from a database, an API or a
// message queue.
type FetchDataTask struct{}

func (FetchDataTask) Name() string        { return "task1" }
func (FetchDataTask) Description() string { return "Fetch data from source" }

func (FetchDataTask) Execute(ctx context.Context, input map[string]any) (map[string]any, error) {
	return map[string]any{
		"records": []any{
			map[string]any{"id": 1, "value": 100},
			map[string]any{"id": 2, "value": 200},
			map[string]any{"id": 3, "value": 300},
		},
		"total_count":     3,
		"fetch_timestamp": time.Now().Unix(),
	}, nil
}

// ProcessDataTask transforms the records fetched by task1: totals,
// average, and a per-record enrichment.
type ProcessDataTask struct{}

func (ProcessDataTask) Name() string        { return "task2" }
func (ProcessDataTask) Description() string { return "Process and transform data" }

func (ProcessDataTask) Execute(ctx context.Context, input map[string]any) (map[string]any, error) {
	fetched, ok := input["task1"].(map[string]any)
	if !ok {
		return nil, errors.New("no data from task1 to process")
	}
	records, _ := fetched["records"].([]any)

	var total float64
	processed := make([]any, 0, len(records))
	for _, r := range records {
		record, ok := r.(map[string]any)
		if !ok {
			continue
		}
		value := toFloat(record["value"])
		total += value
		category := "low"
		if value > 150 {
			category = "high"
		}
		processed = append(processed, map[string]any{
			"id":            record["id"],
			"value":         record["value"],
			"doubled_value": value * 2,
			"category":      category,
		})
	}

	average := 0.0
	if len(processed) > 0 {
		average = total / float64(len(processed))
	}

	return map[string]any{
		"total_value":       total,
		"average_value":     average,
		"record_count":      len(processed),
		"processed_records": processed,
	}, nil
}

// StoreDataTask persists the processed batch. The storage itself is
// simulated; only the bookkeeping payload matters to the flow.
type StoreDataTask struct{}

func (StoreDataTask) Name() string        { return "task3" }
func (StoreDataTask) Description() string { return "Store processed data" }

func (StoreDataTask) Execute(ctx context.Context, input map[string]any) (map[string]any, error) {
	processed, ok := input["task2"].(map[string]any)
	if !ok {
		return nil, errors.New("no processed data from task2 to store")
	}
	return map[string]any{
		"storage_id":        fmt.Sprintf("store_%d", time.Now().Unix()),
		"records_stored":    int(toFloat(processed["record_count"])),
		"storage_location":  "/data/processed/output.json",
		"storage_timestamp": time.Now().Unix(),
	}, nil
}

// ValidateDataTask is a stand-in validation step.
type ValidateDataTask struct{}

func (ValidateDataTask) Name() string        { return "validate_data" }
func (ValidateDataTask) Description() string { return "Validate input data" }

func (ValidateDataTask) Execute(ctx context.Context, input map[string]any) (map[string]any, error) {
	return map[string]any{"validation_passed": true}, nil
}

// SendNotificationTask reports run completion through the configured
// notifier, when one is present.
type SendNotificationTask struct {
	notifier Notifier
}

// NewSendNotificationTask creates the notification task with an explicit
// notifier, for callers that wire tasks individually.
func NewSendNotificationTask(notifier Notifier) SendNotificationTask {
	return SendNotificationTask{notifier: notifier}
}

func (SendNotificationTask) Name() string        { return "send_notification" }
func (SendNotificationTask) Description() string { return "Send completion notification" }

func (t SendNotificationTask) Execute(ctx context.Context, input map[string]any) (map[string]any, error) {
	if t.notifier != nil {
		body := fmt.Sprintf("flow run finished with %d context entries", len(input))
		if err := t.notifier.Notify(ctx, "Flow completed", body); err != nil {
			return nil, fmt.Errorf("notification delivery failed: %w", err)
		}
	}
	return map[string]any{"notification_sent": true}, nil
}

// toFloat coerces the numeric types that occur in task payloads: ints from
// in-process payloads, float64 from contexts that crossed a JSON boundary.
func toFloat(v any) float64 {
	switch n := v.(type) {
	case int:
		return float64(n)
	case int64:
		return float64(n)
	case float64:
		return n
	case float32:
		return float64(n)
	}
	return 0
}
