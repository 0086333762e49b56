package server

import (
	"time"

	"osline/internal/domain"
	"osline/internal/metrics"
)

// Request payloads

type RejectRequest struct {
	Reason string `json:"reason" doc:"Why the work is sent back"`
}

// Response payloads

type TransitionResponse struct {
	OrderID string       `json:"order_id"`
	Stage   domain.Stage `json:"stage"`
}

type OrderResponse struct {
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

type EventResponse struct {
	ID      int64   `json:"id"`
	TS      string  `json:"ts"`
	OrderID string  `json:"order_id"`
	ActorID *string `json:"actor_id,omitempty"`
	Action  string  `json:"action"`
	Detail  string  `json:"detail"`
	Payload string  `json:"payload_json,omitempty"`
}

type paginatedEvents struct {
	Items      []EventResponse `json:"items"`
	NextCursor string          `json:"next_cursor,omitempty"`
}

type MetricsResponse struct {
	Counters []metrics.Counter `json:"counters"`
}

func orderResponse(o domain.ServiceOrder) OrderResponse {
	resp := OrderResponse{
		ID:               o.ID,
		OrgID:            o.OrgID,
		Title:            o.Title,
		Stage:            string(o.Stage),
		Priority:         string(o.Priority),
		ResponsibleUser:  o.ResponsibleUser,
		InternalApproved: o.InternalApproved,
		ExternalApproved: o.ExternalApproved,
		CreatedAt:        formatTime(o.CreatedAt),
		UpdatedAt:        formatTime(o.UpdatedAt),
	}
	if o.SLADeadline != nil {
		v := formatTime(*o.SLADeadline)
		resp.SLADeadline = &v
	}
	return resp
}

func eventResponse(e domain.Event) EventResponse {
	return EventResponse{
		ID:      e.ID,
		TS:      formatTime(e.TS),
		OrderID: e.OrderID,
		ActorID: e.ActorID,
		Action:  string(e.Action),
		Detail:  e.Detail,
		Payload: e.Payload,
	}
}

func formatTime(t time.Time) string { return t.UTC().Format(time.RFC3339) }
