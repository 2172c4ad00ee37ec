// Package notify delivers human-attention alerts to an external
// channel. It is the Escalate branch's one external dependency — the
// Executor calls it only when UpsertEscalation actually inserted a new
// row, never on a deduplicated repeat.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/smilemakc/caseorch/internal/domain"
)

// Channel notifies a human about an Escalation.
type Channel interface {
	Notify(ctx context.Context, e *domain.Escalation) error
}

// SlackWebhookChannel posts a formatted message to a Slack incoming
// webhook URL. No Slack SDK appears anywhere in the example pack, so
// this talks to the documented generic JSON webhook shape over
// net/http, matching the same posture as mail.HTTPProvider.
type SlackWebhookChannel struct {
	webhookURL string
	client     *http.Client
}

// NewSlackWebhookChannel constructs a SlackWebhookChannel posting to
// webhookURL.
func NewSlackWebhookChannel(webhookURL string) *SlackWebhookChannel {
	return &SlackWebhookChannel{
		webhookURL: webhookURL,
		client:     &http.Client{Timeout: 10 * time.Second},
	}
}

type slackPayload struct {
	Text string `json:"text"`
}

func (c *SlackWebhookChannel) Notify(ctx context.Context, e *domain.Escalation) error {
	text := fmt.Sprintf(":rotating_light: Case %s escalated (%s): %s", e.CaseID, e.Urgency, e.Reason)
	if e.Suggested != "" {
		text += fmt.Sprintf("\nSuggested: %s", e.Suggested)
	}
	body, err := json.Marshal(slackPayload{Text: text})
	if err != nil {
		return fmt.Errorf("notify: encode slack payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.webhookURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("notify: build slack request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("notify: post to slack: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("notify: slack webhook returned %d", resp.StatusCode)
	}
	return nil
}

// NoopChannel discards every notification. Used where no webhook is
// configured.
type NoopChannel struct{}

func (NoopChannel) Notify(ctx context.Context, e *domain.Escalation) error { return nil }
