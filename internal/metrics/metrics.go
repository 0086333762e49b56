package metrics

import (
	"sort"
	"sync"
)

const (
	Transitions         = "transitions"
	Rejections          = "rejections"
	Posts               = "posts"
	AuditAppendFailures = "audit_append_failures"
	Sweeps              = "sla_sweeps"
	SweepFailures       = "sla_sweep_failures"
	SLAOverdue          = "sla_overdue_flagged"
	SLAAtRisk           = "sla_at_risk_flagged"
	NotificationsSent   = "notifications_sent"
	NotifyFailures      = "notify_failures"
)

// Registry holds named process counters. The zero value is not usable; call New.
type Registry struct {
	mu       sync.Mutex
	counters map[string]int64
}

func New() *Registry {
	return &Registry{counters: map[string]int64{}}
}

func (r *Registry) Inc(name string) { r.Add(name, 1) }

func (r *Registry) Add(name string, n int64) {
	if r == nil {
		return
	}
	r.mu.Lock()
	r.counters[name] += n
	r.mu.Unlock()
}

func (r *Registry) Get(name string) int64 {
	if r == nil {
		return 0
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.counters[name]
}

type Counter struct {
	Name  string `json:"name"`
	Value int64  `json:"value"`
}

// Snapshot returns every counter sorted by name.
func (r *Registry) Snapshot() []Counter {
	if r == nil {
		return nil
	}
	r.mu.Lock()
	out := make([]Counter, 0, len(r.counters))
	for k, v := range r.counters {
		out = append(out, Counter{Name: k, Value: v})
	}
	r.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
