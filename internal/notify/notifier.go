// Package notify pushes governance events to a Discord-compatible webhook.
// Delivery is fire-and-forget: notification failures are logged and never
// reach the decision path.
package notify

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"
)

type Notifier struct {
	webhookURL string
	client     *http.Client
}

func NewNotifier(webhookURL string) *Notifier {
	return &Notifier{
		webhookURL: webhookURL,
		client:     &http.Client{Timeout: 5 * time.Second},
	}
}

// Enabled reports whether a webhook URL is configured.
func (n *Notifier) Enabled() bool { return n.webhookURL != "" }

// ModeChanged announces a mode transition with the acting identity, so
// "who turned off safety" is always visible in the channel too.
func (n *Notifier) ModeChanged(fromMode, toMode, actor string) {
	n.send(fmt.Sprintf(":gear: Mode changed **%s** → **%s** by `%s`", fromMode, toMode, actor))
}

// BreakerTripped announces an opened circuit breaker.
func (n *Notifier) BreakerTripped(target, actionType string) {
	n.send(fmt.Sprintf(":octagonal_sign: Circuit breaker OPEN for `%s` / `%s`, further attempts blocked until cooldown", target, actionType))
}

// BreakerReset announces a breaker closing again.
func (n *Notifier) BreakerReset(target, actionType string) {
	n.send(fmt.Sprintf(":white_check_mark: Circuit breaker closed for `%s` / `%s`", target, actionType))
}

// ApprovalPending announces a new action awaiting human approval.
func (n *Notifier) ApprovalPending(id int64, actionType, target, source string) {
	n.send(fmt.Sprintf(":raised_hand: Approval needed: `%s` on `%s` from `%s` (activity #%d)", actionType, target, source, id))
}

func (n *Notifier) send(content string) {
	if n.webhookURL == "" {
		return
	}
	go func() {
		body, err := json.Marshal(map[string]string{"content": content})
		if err != nil {
			return
		}
		resp, err := n.client.Post(n.webhookURL, "application/json", bytes.NewReader(body))
		if err != nil {
			slog.Warn("Notification delivery failed", "error", err)
			return
		}
		defer resp.Body.Close()
		if resp.StatusCode >= 300 {
			slog.Warn("Notification rejected", "status", resp.StatusCode)
		}
	}()
}
