package capabilities

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/platinummonkey/modhost/pkg/sdk"
)

// WebhookNotifier posts notifications as JSON to a fixed URL
type WebhookNotifier struct {
	url    string
	client sdk.HTTPClient
}

// NewWebhookNotifier creates a notifier. A nil client uses http.DefaultClient.
func NewWebhookNotifier(url string, client sdk.HTTPClient) *WebhookNotifier {
	if client == nil {
		client = http.DefaultClient
	}
	return &WebhookNotifier{url: url, client: client}
}

// Notify implements sdk.Notifier
func (n *WebhookNotifier) Notify(ctx context.Context, msg sdk.Notification) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to encode notification: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send notification: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode >= 300 {
		return fmt.Errorf("notification webhook returned %s", resp.Status)
	}
	return nil
}
