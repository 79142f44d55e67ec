package notification

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"marketengine/internal/model"
)

// ErrWebhookStatus wraps any non-2xx reply from a webhook endpoint.
var ErrWebhookStatus = errors.New("webhook: non-2xx status")

const webhookErrBody = 256

// WebhookNotifier delivers alerts to an HTTP endpoint as JSON. The body
// carries a one-line "text" field so chat incoming-webhooks render it
// without a template.
type WebhookNotifier struct {
	url    string
	client *http.Client
}

// WebhookOption customises a WebhookNotifier.
type WebhookOption func(*WebhookNotifier)

// WithHTTPClient replaces the default client (10s timeout).
func WithHTTPClient(c *http.Client) WebhookOption {
	return func(w *WebhookNotifier) { w.client = c }
}

// NewWebhookNotifier returns a notifier posting to url.
func NewWebhookNotifier(url string, opts ...WebhookOption) *WebhookNotifier {
	w := &WebhookNotifier{url: url, client: &http.Client{Timeout: 10 * time.Second}}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

type webhookPayload struct {
	Text   string      `json:"text"`
	Alert  model.Alert `json:"alert"`
	SentAt time.Time   `json:"sent_at"`
}

func (w *WebhookNotifier) Name() string { return "webhook" }

func (w *WebhookNotifier) Send(ctx context.Context, a model.Alert) error {
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(webhookPayload{
		Text:   plainText(a),
		Alert:  a,
		SentAt: time.Now().UTC(),
	}); err != nil {
		return fmt.Errorf("webhook: encode: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, &buf)
	if err != nil {
		return fmt.Errorf("webhook: request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "marketengine")

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("webhook: post: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, webhookErrBody))
		return fmt.Errorf("%w: %d %s", ErrWebhookStatus, resp.StatusCode, strings.TrimSpace(string(snippet)))
	}
	_, _ = io.Copy(io.Discard, resp.Body)

	zap.L().Debug("webhook: delivered", zap.String("id", a.ID), zap.Int("status", resp.StatusCode))
	return nil
}
