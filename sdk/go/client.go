package oslinesdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// WebhookSecretHeader authenticates the publishing platform's callback.
const WebhookSecretHeader = "X-Osline-Webhook-Secret"

// Client is a minimal osline HTTP API client.
type Client struct {
	BaseURL       string
	BasePath      string
	BearerToken   string
	ActorID       string
	WebhookSecret string
	HTTPClient    *http.Client
	Timeout       time.Duration
}

// New creates a client with sane defaults.
func New(baseURL string) *Client {
	return &Client{
		BaseURL:  baseURL,
		BasePath: "/v1",
		Timeout:  10 * time.Second,
	}
}

// Order represents the API service order model.
type Order struct {
	ID               string  `json:"id"`
	OrgID            string  `json:"org_id"`
	Title            string  `json:"title"`
	Stage            string  `json:"stage"`
	Priority         string  `json:"priority"`
	ResponsibleUser  *string `json:"responsible_user,omitempty"`
	SLADeadline      *string `json:"sla_deadline,omitempty"`
	InternalApproved bool    `json:"internal_approved"`
	ExternalApproved bool    `json:"external_approved"`
	CreatedAt        string  `json:"created_at"`
	UpdatedAt        string  `json:"updated_at"`
}

// Transition is returned by advance, reject and posted.
type Transition struct {
	OrderID string `json:"order_id"`
	Stage   string `json:"stage"`
}

// Event represents an audit log entry.
type Event struct {
	ID      int64   `json:"id"`
	TS      string  `json:"ts"`
	OrderID string  `json:"order_id"`
	ActorID *string `json:"actor_id,omitempty"`
	Action  string  `json:"action"`
	Detail  string  `json:"detail"`
	Payload string  `json:"payload_json,omitempty"`
}

// PaginatedEvents wraps list responses with cursors.
type PaginatedEvents struct {
	Items      []Event `json:"items"`
	NextCursor string  `json:"next_cursor"`
}

// SweepReport summarizes one SLA sweep.
type SweepReport struct {
	Scanned        int `json:"scanned"`
	Overdue        int `json:"overdue"`
	AtRisk         int `json:"at_risk"`
	Deduplicated   int `json:"deduplicated"`
	Notified       int `json:"notified"`
	NotifyFailures int `json:"notify_failures"`
	AuditFailures  int `json:"audit_failures"`
}

// APIError wraps non-2xx responses. Code is the stable error code when the
// server returned the error envelope.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
	Body       string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("api error: status=%d code=%s message=%s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// Retryable reports whether the server asked the caller to try again later.
func (e *APIError) Retryable() bool {
	return e.StatusCode == http.StatusServiceUnavailable
}

// GetOrder reads one order.
func (c *Client) GetOrder(ctx context.Context, orderID string) (Order, error) {
	var resp Order
	err := c.do(ctx, http.MethodGet, c.orderPath(orderID, ""), nil, nil, &resp)
	return resp, err
}

// Advance moves an order to its next stage.
func (c *Client) Advance(ctx context.Context, orderID string) (Transition, error) {
	var resp Transition
	err := c.do(ctx, http.MethodPost, c.orderPath(orderID, "advance"), nil, nil, &resp)
	return resp, err
}

// Reject sends an order back one stage.
func (c *Client) Reject(ctx context.Context, orderID, reason string) (Transition, error) {
	var resp Transition
	err := c.do(ctx, http.MethodPost, c.orderPath(orderID, "reject"), map[string]any{"reason": reason}, nil, &resp)
	return resp, err
}

// MarkPosted delivers the publishing callback. It authenticates with
// WebhookSecret rather than the bearer token.
func (c *Client) MarkPosted(ctx context.Context, orderID string) (Transition, error) {
	var resp Transition
	endpoint := fmt.Sprintf("webhooks/orders/%s/posted", url.PathEscape(orderID))
	headers := map[string]string{WebhookSecretHeader: c.WebhookSecret}
	err := c.do(ctx, http.MethodPost, endpoint, nil, headers, &resp)
	return resp, err
}

// EventsPage returns a page of an order's audit history, newest first.
func (c *Client) EventsPage(ctx context.Context, orderID string, limit int, cursor string) (PaginatedEvents, error) {
	endpoint := c.orderPath(orderID, "events")
	q := url.Values{}
	if limit > 0 {
		q.Set("limit", fmt.Sprintf("%d", limit))
	}
	if cursor != "" {
		q.Set("cursor", cursor)
	}
	if len(q) > 0 {
		endpoint += "?" + q.Encode()
	}
	var resp PaginatedEvents
	err := c.do(ctx, http.MethodGet, endpoint, nil, nil, &resp)
	return resp, err
}

// Sweep runs one SLA sweep on the server.
func (c *Client) Sweep(ctx context.Context) (SweepReport, error) {
	var resp SweepReport
	err := c.do(ctx, http.MethodPost, "sla/sweep", nil, nil, &resp)
	return resp, err
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, headers map[string]string, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	url := c.base() + "/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, url, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if headers == nil {
		switch {
		case c.BearerToken != "":
			req.Header.Set("Authorization", "Bearer "+c.BearerToken)
		case c.ActorID != "":
			req.Header.Set("X-Actor-Id", c.ActorID)
		}
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		apiErr := &APIError{StatusCode: resp.StatusCode, Body: string(b)}
		var envelope struct {
			Error struct {
				Code    string `json:"code"`
				Message string `json:"message"`
			} `json:"error"`
		}
		if json.Unmarshal(b, &envelope) == nil {
			apiErr.Code = envelope.Error.Code
			apiErr.Message = envelope.Error.Message
		}
		return apiErr
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *Client) orderPath(orderID, p string) string {
	endpoint := "orders/" + url.PathEscape(orderID)
	if p != "" {
		endpoint += "/" + p
	}
	return endpoint
}

func (c *Client) base() string {
	base := strings.TrimRight(c.BaseURL, "/")
	if bp := strings.Trim(c.BasePath, "/"); bp != "" {
		base += "/" + bp
	}
	return base
}
