package monitor

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"osline/internal/domain"
	"osline/internal/events"
	"osline/internal/logging"
	"osline/internal/metrics"
	"osline/internal/notify"
	"osline/internal/workflow"
)

const (
	DefaultAtRiskWindow = 4 * time.Hour
	DefaultDedupWindow  = 4 * time.Hour
)

type Condition string

const (
	OnTrack Condition = "ON_TRACK"
	AtRisk  Condition = "AT_RISK"
	Overdue Condition = "OVERDUE"
)

// Classify places a deadline relative to now. A deadline exactly at now is at risk.
func Classify(deadline, now time.Time, window time.Duration) Condition {
	switch {
	case deadline.Before(now):
		return Overdue
	case deadline.Before(now.Add(window)):
		return AtRisk
	default:
		return OnTrack
	}
}

func (c Condition) action() domain.Action {
	if c == Overdue {
		return domain.ActionSLAOverdue
	}
	return domain.ActionSLAAtRisk
}

type Store interface {
	ListActiveOrdersWithDeadline(ctx context.Context) ([]domain.ServiceOrder, error)
	QueryRecentEvents(ctx context.Context, orderID string, action domain.Action, since time.Time) ([]domain.Event, error)
}

type Directory interface {
	ListAdmins(ctx context.Context, orgID string) ([]string, error)
}

type Auditor interface {
	Append(ctx context.Context, e events.Entry) error
}

// Monitor scans active orders for missed and approaching deadlines.
type Monitor struct {
	Store     Store
	Directory Directory
	Notifier  notify.Notifier
	Events    Auditor
	Templates *notify.Templates
	Metrics   *metrics.Registry
	Log       logging.Logger
	Now       func() time.Time

	AtRiskWindow time.Duration
	DedupWindow  time.Duration

	mu sync.Mutex
}

// Report summarizes one sweep.
type Report struct {
	Scanned        int `json:"scanned"`
	Overdue        int `json:"overdue"`
	AtRisk         int `json:"at_risk"`
	Deduplicated   int `json:"deduplicated"`
	Notified       int `json:"notified"`
	NotifyFailures int `json:"notify_failures"`
	AuditFailures  int `json:"audit_failures"`
}

func (m *Monitor) now() time.Time {
	if m.Now != nil {
		return m.Now().UTC()
	}
	return time.Now().UTC()
}

func (m *Monitor) log() logging.Logger { return logging.OrNop(m.Log) }

func (m *Monitor) atRiskWindow() time.Duration {
	if m.AtRiskWindow > 0 {
		return m.AtRiskWindow
	}
	return DefaultAtRiskWindow
}

func (m *Monitor) dedupWindow() time.Duration {
	if m.DedupWindow > 0 {
		return m.DedupWindow
	}
	return DefaultDedupWindow
}

// Sweep flags every overdue or at-risk order that was not already flagged for
// the same condition within the de-dup window, then notifies its recipients.
// Store read failures abort the sweep. Notifier failures never do.
func (m *Monitor) Sweep(ctx context.Context) (Report, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var report Report
	now := m.now()
	orders, err := m.Store.ListActiveOrdersWithDeadline(ctx)
	if err != nil {
		m.Metrics.Inc(metrics.SweepFailures)
		return report, workflow.Persistence("list active orders", err)
	}
	for _, o := range orders {
		if o.SLADeadline == nil || o.Stage.Terminal() {
			continue
		}
		report.Scanned++
		cond := Classify(*o.SLADeadline, now, m.atRiskWindow())
		if cond == OnTrack {
			continue
		}
		if cond == Overdue {
			report.Overdue++
		} else {
			report.AtRisk++
		}

		recent, err := m.Store.QueryRecentEvents(ctx, o.ID, cond.action(), now.Add(-m.dedupWindow()))
		if err != nil {
			m.Metrics.Inc(metrics.SweepFailures)
			return report, workflow.Persistence("query recent events", err)
		}
		if len(recent) > 0 {
			report.Deduplicated++
			continue
		}
		m.flag(ctx, o, cond, now, &report)
	}
	m.Metrics.Inc(metrics.Sweeps)
	m.log().Debug("sla sweep scanned=%d overdue=%d at_risk=%d notified=%d", report.Scanned, report.Overdue, report.AtRisk, report.Notified)
	return report, nil
}

// flag records the condition and, only once that record exists, notifies.
func (m *Monitor) flag(ctx context.Context, o domain.ServiceOrder, cond Condition, now time.Time, report *Report) {
	logger := m.log().WithFields(map[string]any{"order_id": o.ID, "condition": cond})
	hours := hoursBetween(now, *o.SLADeadline)
	payload := events.EventPayload{
		"condition":        cond,
		"stage":            o.Stage,
		"priority":         o.Priority,
		"responsible_user": responsibleOrNil(o),
		"sla_deadline":     o.SLADeadline.UTC().Format(time.RFC3339),
	}
	var detail string
	if cond == Overdue {
		payload["hours_overdue"] = hours
		detail = fmt.Sprintf("overdue by %.1fh in %s", hours, o.Stage)
	} else {
		payload["hours_remaining"] = hours
		detail = fmt.Sprintf("%.1fh remaining in %s", hours, o.Stage)
	}
	if err := m.Events.Append(ctx, events.Entry{
		OrgID:   o.OrgID,
		OrderID: o.ID,
		Action:  cond.action(),
		Detail:  detail,
		Payload: payload,
	}); err != nil {
		report.AuditFailures++
		m.Metrics.Inc(metrics.AuditAppendFailures)
		logger.Error("sla flag not recorded, skipping notification: %v", err)
		return
	}
	if cond == Overdue {
		m.Metrics.Inc(metrics.SLAOverdue)
	} else {
		m.Metrics.Inc(metrics.SLAAtRisk)
	}

	msg := notify.Message{
		OrderID:   o.ID,
		Title:     o.Title,
		Condition: string(cond),
		Stage:     o.Stage,
		Priority:  o.Priority,
		Hours:     hours,
	}
	msg.Text = m.render(cond, msg, detail)

	for _, user := range m.recipients(ctx, o, cond) {
		if err := m.Notifier.Notify(ctx, user, msg); err != nil {
			report.NotifyFailures++
			m.Metrics.Inc(metrics.NotifyFailures)
			logger.Warn("notify %s failed: %v", user, err)
			continue
		}
		report.Notified++
		m.Metrics.Inc(metrics.NotificationsSent)
	}
}

// recipients returns the responsible user plus, when escalating, every admin
// of the organization. Each user appears once.
func (m *Monitor) recipients(ctx context.Context, o domain.ServiceOrder, cond Condition) []string {
	seen := map[string]bool{}
	var out []string
	add := func(u string) {
		if u == "" || seen[u] {
			return
		}
		seen[u] = true
		out = append(out, u)
	}
	if o.ResponsibleUser != nil {
		add(*o.ResponsibleUser)
	}
	if o.Priority != domain.PriorityHigh && cond != Overdue {
		return out
	}
	if m.Directory == nil {
		return out
	}
	admins, err := m.Directory.ListAdmins(ctx, o.OrgID)
	if err != nil {
		m.log().WithFields(map[string]any{"order_id": o.ID, "org_id": o.OrgID}).
			Warn("list admins failed, escalation skipped: %v", err)
		return out
	}
	for _, a := range admins {
		add(a)
	}
	return out
}

func (m *Monitor) render(cond Condition, msg notify.Message, fallback string) string {
	if m.Templates == nil {
		return fmt.Sprintf("%s: %s", msg.OrderID, fallback)
	}
	name := notify.TemplateAtRisk
	if cond == Overdue {
		name = notify.TemplateOverdue
	}
	text, err := m.Templates.Render(name, msg)
	if err != nil {
		m.log().Warn("render %s failed: %v", name, err)
		return fmt.Sprintf("%s: %s", msg.OrderID, fallback)
	}
	return text
}

// OrderStatus is a read-only view of one active order's SLA position.
type OrderStatus struct {
	Order     domain.ServiceOrder `json:"order"`
	Condition Condition           `json:"condition"`
	// Remaining is negative once the deadline has passed.
	Remaining time.Duration `json:"remaining"`
}

// Status classifies every active order without recording or notifying anything.
func (m *Monitor) Status(ctx context.Context) ([]OrderStatus, error) {
	now := m.now()
	orders, err := m.Store.ListActiveOrdersWithDeadline(ctx)
	if err != nil {
		return nil, workflow.Persistence("list active orders", err)
	}
	out := make([]OrderStatus, 0, len(orders))
	for _, o := range orders {
		if o.SLADeadline == nil {
			continue
		}
		out = append(out, OrderStatus{
			Order:     o,
			Condition: Classify(*o.SLADeadline, now, m.atRiskWindow()),
			Remaining: o.SLADeadline.Sub(now),
		})
	}
	return out, nil
}

func hoursBetween(now, deadline time.Time) float64 {
	h := math.Abs(deadline.Sub(now).Hours())
	return math.Round(h*10) / 10
}

func responsibleOrNil(o domain.ServiceOrder) any {
	if o.ResponsibleUser == nil {
		return nil
	}
	return *o.ResponsibleUser
}
