package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"aegis/pkg/auth"
	"aegis/pkg/httpx"
)

// WebhookNotifier delivers approval alerts to an operator-facing
// endpoint. Payloads are signed so receivers can authenticate them.
type WebhookNotifier struct {
	URL        string
	Secret     string
	Client     *http.Client
	Retries    int
	RetryDelay time.Duration
}

func NewWebhook(url, secret string) (*WebhookNotifier, error) {
	if !auth.IsValidURL(url) {
		return nil, fmt.Errorf("webhook url %q is invalid", url)
	}
	return &WebhookNotifier{
		URL:        strings.TrimSpace(url),
		Secret:     secret,
		Client:     &http.Client{Timeout: 5 * time.Second},
		Retries:    2,
		RetryDelay: 250 * time.Millisecond,
	}, nil
}

type webhookPayload struct {
	Title   string `json:"title"`
	Content string `json:"content"`
	SentAt  string `json:"sent_at"`
}

func (n *WebhookNotifier) Notify(ctx context.Context, title, content string) error {
	body, err := json.Marshal(webhookPayload{
		Title:   title,
		Content: content,
		SentAt:  time.Now().UTC().Format(time.RFC3339),
	})
	if err != nil {
		return err
	}
	headers := map[string]string{}
	if n.Secret != "" {
		headers[auth.SignatureHeader] = auth.SignPayload(n.Secret, body)
	}
	status, _, err := httpx.RequestJSON(ctx, n.Client, http.MethodPost, n.URL, body, headers, n.Retries, n.RetryDelay)
	if err != nil {
		return fmt.Errorf("webhook delivery: %w", err)
	}
	if status < 200 || status > 299 {
		return fmt.Errorf("webhook delivery: unexpected status %d", status)
	}
	return nil
}
