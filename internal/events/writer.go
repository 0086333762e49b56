package events

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"osline/internal/domain"
)

type Writer struct {
	DB  *sql.DB
	Now func() time.Time
}

type EventPayload map[string]any

// Entry is one audit record before it is stored.
type Entry struct {
	OrgID   string
	OrderID string
	// ActorID is nil for system actions such as SLA sweeps and webhooks.
	ActorID *string
	Action  domain.Action
	Detail  string
	Payload EventPayload
}

// Append stores e in the event log. Entries are never updated or deleted.
func (w Writer) Append(ctx context.Context, e Entry) error {
	if w.Now == nil {
		w.Now = time.Now
	}
	ts := w.Now().UTC().Format(time.RFC3339)
	if e.Payload == nil {
		e.Payload = EventPayload{}
	}
	data, err := json.Marshal(e.Payload)
	if err != nil {
		return fmt.Errorf("marshal event payload: %w", err)
	}
	_, err = w.DB.ExecContext(ctx, `INSERT INTO event_log(ts,org_id,order_id,actor_id,action,detail,payload_json) VALUES (?,?,?,?,?,?,?)`,
		ts, e.OrgID, e.OrderID, nullable(e.ActorID), e.Action, e.Detail, string(data))
	return err
}

func nullable(v *string) any {
	if v == nil || *v == "" {
		return nil
	}
	return *v
}
