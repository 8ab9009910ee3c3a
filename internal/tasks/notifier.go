package tasks

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// Notifier delivers out-of-band completion notifications.
type Notifier interface {
	// Notify sends one notification message.
	Notify(ctx context.Context, subject, body string) error
}

// HTTPNotifier posts notifications as JSON to a webhook endpoint.
type HTTPNotifier struct {
	url    string
	client *http.Client
}

// NewHTTPNotifier creates a new HTTPNotifier for the given webhook URL.
func NewHTTPNotifier(url string) *HTTPNotifier {
	return &HTTPNotifier{
		url:    url,
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

// Notify posts the notification and fails on any non-2xx response.
func (c *HTTPNotifier) Notify(ctx context.Context, subject, body string) error {
	payload, err := json.Marshal(map[string]string{"subject": subject, "body": body})
	if err != nil {
		return fmt.Errorf("failed to marshal notification: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to deliver notification: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("notification endpoint returned status %d", resp.StatusCode)
	}
	return nil
}
