// Package webhook is a worker.Handler that announces each leased task to an
// HTTP endpoint. The endpoint does the work; a non-2xx answer releases the
// lease for a retry.
package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"leasecron/internal/scheduler"
)

type Webhook struct {
	URL     string
	Headers map[string]string
	Client  *http.Client
}

// Event is the JSON body posted for a task.
type Event struct {
	ID            int64           `json:"id"`
	Cron          string          `json:"cron"`
	NextRunAt     time.Time       `json:"next_run_at"`
	TrueNextRunAt time.Time       `json:"true_next_run_at"`
	LeaseSeconds  int64           `json:"lease_seconds"`
	Data          json.RawMessage `json:"data,omitempty"`
}

func New(url string) *Webhook {
	return &Webhook{URL: url, Client: &http.Client{Timeout: 30 * time.Second}}
}

func (h *Webhook) Handle(ctx context.Context, task *scheduler.Task) error {
	if h.URL == "" {
		return fmt.Errorf("webhook URL is required")
	}
	row := task.Row()
	ev := Event{
		ID:            task.ID(),
		Cron:          row.Cron,
		NextRunAt:     row.NextRun().UTC(),
		TrueNextRunAt: task.TrueNextRunAt().UTC(),
		LeaseSeconds:  row.LeaseSeconds,
	}
	if row.Data != nil && json.Valid([]byte(*row.Data)) {
		ev.Data = json.RawMessage(*row.Data)
	}
	body, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.URL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for key, value := range h.Headers {
		req.Header.Set(key, value)
	}

	client := h.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("webhook request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if err != nil {
		return fmt.Errorf("failed to read webhook response: %w", err)
	}
	if resp.StatusCode >= 300 {
		return fmt.Errorf("webhook HTTP %d: %s", resp.StatusCode, string(respBody))
	}
	return nil
}
