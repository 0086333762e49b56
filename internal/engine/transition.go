package engine

import (
	"context"
	"fmt"
	"strings"
	"time"

	"osline/internal/domain"
	"osline/internal/events"
	"osline/internal/metrics"
	"osline/internal/repo"
	"osline/internal/workflow"
)

// Advance moves an order one stage forward once the rule leaving its current
// stage is satisfied. Validator failures are returned unchanged.
func (e Engine) Advance(ctx context.Context, orderID, actorID string) (domain.Stage, error) {
	order, err := e.loadOrder(ctx, orderID)
	if err != nil {
		return "", err
	}
	rule, ok := workflow.RuleFrom(order.Stage)
	if !ok {
		return "", workflow.Fail(workflow.ErrNoTransition,
			fmt.Sprintf("no transition available from %s", order.Stage), nil)
	}
	if err := rule.Validate(ctx, workflow.Check{Order: order, Reader: e.Store}); err != nil {
		return "", err
	}

	now := e.now()
	responsible := e.resolveResponsible(ctx, rule.Role, order.OrgID)
	deadline := workflow.DeadlineAt(rule.To, now)
	to := rule.To
	if err := e.writeOrder(ctx, order, repo.OrderPatch{
		ExpectedStage:   order.Stage,
		Stage:           &to,
		ResponsibleUser: repo.Set(responsible),
		SLADeadline:     repo.Set(deadline),
		UpdatedAt:       now,
	}); err != nil {
		return "", err
	}
	e.Metrics.Inc(metrics.Transitions)
	e.log().WithFields(map[string]any{"order_id": order.ID, "from": order.Stage, "to": to}).
		Info("order advanced")

	e.audit(ctx, events.Entry{
		OrgID:   order.OrgID,
		OrderID: order.ID,
		ActorID: actor(actorID),
		Action:  domain.ActionStatusChange,
		Detail:  fmt.Sprintf("%s -> %s", order.Stage, to),
		Payload: events.EventPayload{
			"from":             order.Stage,
			"to":               to,
			"responsible_user": deref(responsible),
			"sla_deadline":     formatDeadline(deadline),
		},
	})
	return to, nil
}

// Reject sends an order back to the previous stage with a flat rework window.
func (e Engine) Reject(ctx context.Context, orderID, reason, actorID string) (domain.Stage, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return "", workflow.Invalid("rejection reason is required")
	}
	order, err := e.loadOrder(ctx, orderID)
	if err != nil {
		return "", err
	}
	if order.Stage.Terminal() {
		return "", workflow.Fail(workflow.ErrNoTransition, "order already posted", nil)
	}
	prev, ok := workflow.Predecessor(order.Stage)
	if !ok {
		return "", workflow.Fail(workflow.ErrNoTransition, "cannot reject from first stage", nil)
	}

	now := e.now()
	responsible := e.resolveResponsible(ctx, workflow.ResponsibleRole(prev), order.OrgID)
	deadline := workflow.RejectionDeadline(now)
	patch := repo.OrderPatch{
		ExpectedStage:   order.Stage,
		Stage:           &prev,
		ResponsibleUser: repo.Set(responsible),
		SLADeadline:     repo.Set(deadline),
		UpdatedAt:       now,
	}
	cleared := false
	switch prev {
	case domain.StageRevisao:
		patch.InternalApproved = &cleared
	case domain.StageAprovacao:
		patch.ExternalApproved = &cleared
	}
	if err := e.writeOrder(ctx, order, patch); err != nil {
		return "", err
	}
	e.Metrics.Inc(metrics.Rejections)
	e.log().WithFields(map[string]any{"order_id": order.ID, "from": order.Stage, "to": prev}).
		Info("order rejected")

	e.audit(ctx, events.Entry{
		OrgID:   order.OrgID,
		OrderID: order.ID,
		ActorID: actor(actorID),
		Action:  domain.ActionReject,
		Detail:  fmt.Sprintf("%s -> %s: %s", order.Stage, prev, reason),
		Payload: events.EventPayload{
			"from":             order.Stage,
			"to":               prev,
			"reason":           reason,
			"responsible_user": deref(responsible),
			"sla_deadline":     formatDeadline(deadline),
		},
	})
	return prev, nil
}

// MarkPosted finishes an order on the publishing webhook. It is the only way
// into POSTADO.
func (e Engine) MarkPosted(ctx context.Context, orderID string) error {
	order, err := e.loadOrder(ctx, orderID)
	if err != nil {
		return err
	}
	if order.Stage != domain.StageAgendamento {
		return workflow.Fail(workflow.ErrNoTransition,
			fmt.Sprintf("order must be in %s to be marked posted (current: %s)", domain.StageAgendamento, order.Stage), nil)
	}
	now := e.now()
	posted := domain.StagePostado
	if err := e.writeOrder(ctx, order, repo.OrderPatch{
		ExpectedStage:   order.Stage,
		Stage:           &posted,
		ResponsibleUser: repo.Set[string](nil),
		SLADeadline:     repo.Set[time.Time](nil),
		UpdatedAt:       now,
	}); err != nil {
		return err
	}
	e.Metrics.Inc(metrics.Posts)
	e.log().WithFields(map[string]any{"order_id": order.ID}).Info("order posted")

	e.audit(ctx, events.Entry{
		OrgID:   order.OrgID,
		OrderID: order.ID,
		Action:  domain.ActionPost,
		Detail:  fmt.Sprintf("%s -> %s", order.Stage, posted),
		Payload: events.EventPayload{"from": order.Stage, "to": posted},
	})
	return nil
}
