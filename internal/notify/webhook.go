package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const defaultWebhookTimeout = 5 * time.Second

// WebhookNotifier posts messages to a chat or messaging gateway.
type WebhookNotifier struct {
	URL     string
	Secret  string
	Timeout time.Duration
	Client  *http.Client
}

type webhookBody struct {
	UserID    string `json:"user_id"`
	Text      string `json:"text"`
	OrderID   string `json:"order_id"`
	Condition string `json:"condition"`
}

func (w WebhookNotifier) Notify(ctx context.Context, userID string, msg Message) error {
	if strings.TrimSpace(w.URL) == "" {
		return fmt.Errorf("webhook url not configured")
	}
	data, err := json.Marshal(webhookBody{UserID: userID, Text: msg.Text, OrderID: msg.OrderID, Condition: msg.Condition})
	if err != nil {
		return err
	}
	client := w.Client
	if client == nil {
		timeout := w.Timeout
		if timeout <= 0 {
			timeout = defaultWebhookTimeout
		}
		client = &http.Client{Timeout: timeout}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.URL, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Osline-Order", msg.OrderID)
	if strings.TrimSpace(w.Secret) != "" {
		req.Header.Set("X-Osline-Secret", w.Secret)
	}
	res, err := client.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
		return fmt.Errorf("status %d: %s", res.StatusCode, strings.TrimSpace(string(body)))
	}
	return nil
}
