package notify

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"osline/internal/domain"
	"osline/internal/logging"
)

// Message is an SLA alert addressed to one user. Text is the rendered body.
type Message struct {
	OrderID   string          `json:"order_id"`
	Title     string          `json:"title"`
	Condition string          `json:"condition"`
	Stage     domain.Stage    `json:"stage"`
	Priority  domain.Priority `json:"priority"`
	Hours     float64         `json:"hours"`
	Text      string          `json:"text"`
}

// Notifier delivers a message to a user.
type Notifier interface {
	Notify(ctx context.Context, userID string, msg Message) error
}

// LogNotifier writes deliveries to the logger. It never fails.
type LogNotifier struct {
	Log logging.Logger
}

func (n LogNotifier) Notify(_ context.Context, userID string, msg Message) error {
	logging.OrNop(n.Log).WithFields(map[string]any{
		"user_id":   userID,
		"order_id":  msg.OrderID,
		"condition": msg.Condition,
	}).Info("notify: %s", msg.Text)
	return nil
}

type Delivery struct {
	UserID  string
	Message Message
}

// MemoryNotifier stores deliveries in memory for inspection. Fail, when set,
// decides per recipient whether delivery errors.
type MemoryNotifier struct {
	mu         sync.Mutex
	deliveries []Delivery
	Fail       func(userID string) error
}

func NewMemoryNotifier() *MemoryNotifier {
	return &MemoryNotifier{}
}

func (m *MemoryNotifier) Notify(_ context.Context, userID string, msg Message) error {
	if m.Fail != nil {
		if err := m.Fail(userID); err != nil {
			return err
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deliveries = append(m.deliveries, Delivery{UserID: userID, Message: msg})
	return nil
}

// Deliveries returns a copy of deliveries seen so far.
func (m *MemoryNotifier) Deliveries() []Delivery {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Delivery, len(m.deliveries))
	copy(out, m.deliveries)
	return out
}

// Recipients returns the user ids delivered to, in order.
func (m *MemoryNotifier) Recipients() []string {
	var out []string
	for _, d := range m.Deliveries() {
		out = append(out, d.UserID)
	}
	return out
}

// Fanout delivers to every notifier and joins their failures.
type Fanout []Notifier

func (f Fanout) Notify(ctx context.Context, userID string, msg Message) error {
	var errs []error
	for i, n := range f {
		if err := n.Notify(ctx, userID, msg); err != nil {
			errs = append(errs, fmt.Errorf("notifier %d: %w", i, err))
		}
	}
	return errors.Join(errs...)
}
