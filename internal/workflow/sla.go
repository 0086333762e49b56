package workflow

import (
	"time"

	"osline/internal/domain"
)

// DeadlineFor returns the time allotted to an order entering stage.
// The second result is false when the stage carries no deadline.
func DeadlineFor(stage domain.Stage) (time.Duration, bool) {
	if stage == domain.Pipeline[0] {
		return entrySLA, true
	}
	for _, r := range rules {
		if r.To == stage {
			return r.SLA, r.SLA > 0
		}
	}
	return 0, false
}

// DeadlineAt returns the absolute deadline for entering stage at now, or nil.
func DeadlineAt(stage domain.Stage, now time.Time) *time.Time {
	d, ok := DeadlineFor(stage)
	if !ok {
		return nil
	}
	at := now.UTC().Add(d)
	return &at
}

// RejectionDeadline ignores the stage table: every rollback gets the same window.
func RejectionDeadline(now time.Time) *time.Time {
	at := now.UTC().Add(RejectionWindow)
	return &at
}
