package runner

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/hydralab/warden/internal/models"
)

// HTTPRunner dispatches approved work items to an external action runner
// (an n8n webhook or similar) that performs the actual side effect. The
// governance core never touches Docker, SSH or Kubernetes itself; it only
// decides, records, and hands off.
type HTTPRunner struct {
	url    string
	token  string
	client *http.Client
}

func New(url, token string) *HTTPRunner {
	return &HTTPRunner{
		url:   url,
		token: token,
		client: &http.Client{
			Timeout: 60 * time.Second,
		},
	}
}

// Execute POSTs the work item to the runner and treats any non-2xx reply
// as a failed action. The runner's response body becomes the result detail.
func (r *HTTPRunner) Execute(ctx context.Context, item models.WorkItem) (string, error) {
	body, err := json.Marshal(map[string]any{
		"id":          item.ID,
		"kind":        item.Kind,
		"action_type": item.ActionType,
		"target":      item.Target,
		"source":      item.Source,
		"payload":     item.Payload,
	})
	if err != nil {
		return "", fmt.Errorf("encode work item: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.url, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("build runner request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if r.token != "" {
		req.Header.Set("Authorization", "Bearer "+r.token)
	}

	resp, err := r.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return "", fmt.Errorf("runner unreachable: %w", err)
	}
	defer resp.Body.Close()

	detail, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("runner returned %d: %s", resp.StatusCode, string(detail))
	}
	return string(detail), nil
}
