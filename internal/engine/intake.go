package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"osline/internal/domain"
	"osline/internal/events"
	"osline/internal/repo"
	"osline/internal/workflow"
)

// CreateOrderOptions are parameters for opening a new service order.
type CreateOrderOptions struct {
	ID       string
	OrgID    string
	Title    string
	Priority domain.Priority
	ActorID  string
}

// CreateOrder opens an order in the first stage with its entry deadline.
func (e Engine) CreateOrder(ctx context.Context, opts CreateOrderOptions) (domain.ServiceOrder, error) {
	opts.Title = strings.TrimSpace(opts.Title)
	if opts.Title == "" {
		return domain.ServiceOrder{}, workflow.Invalid("title is required")
	}
	if opts.OrgID == "" {
		return domain.ServiceOrder{}, workflow.Invalid("org is required")
	}
	if opts.Priority == "" {
		opts.Priority = domain.PriorityMedium
	}
	if !opts.Priority.Valid() {
		return domain.ServiceOrder{}, workflow.Invalid(fmt.Sprintf("invalid priority %s", opts.Priority))
	}
	if opts.ID == "" {
		opts.ID = uuid.New().String()
	}
	now := e.now()
	stage := domain.Pipeline[0]
	o := domain.ServiceOrder{
		ID:              opts.ID,
		OrgID:           opts.OrgID,
		Title:           opts.Title,
		Stage:           stage,
		Priority:        opts.Priority,
		ResponsibleUser: e.resolveResponsible(ctx, workflow.ResponsibleRole(stage), opts.OrgID),
		SLADeadline:     workflow.DeadlineAt(stage, now),
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if err := e.Store.InsertOrder(ctx, o); err != nil {
		return domain.ServiceOrder{}, workflow.Persistence("insert order", err)
	}
	e.audit(ctx, events.Entry{
		OrgID:   o.OrgID,
		OrderID: o.ID,
		ActorID: actor(opts.ActorID),
		Action:  domain.ActionCreate,
		Detail:  o.Title,
		Payload: events.EventPayload{
			"stage":            o.Stage,
			"priority":         o.Priority,
			"responsible_user": deref(o.ResponsibleUser),
			"sla_deadline":     formatDeadline(o.SLADeadline),
		},
	})
	return o, nil
}

// AddChecklistItem attaches an item to the order's current stage unless stage
// names another one.
func (e Engine) AddChecklistItem(ctx context.Context, orderID string, stage domain.Stage, title string, required bool, actorID string) (domain.ChecklistItem, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		return domain.ChecklistItem{}, workflow.Invalid("checklist title is required")
	}
	order, err := e.loadOrder(ctx, orderID)
	if err != nil {
		return domain.ChecklistItem{}, err
	}
	if stage == "" {
		stage = order.Stage
	}
	if !stage.Valid() {
		return domain.ChecklistItem{}, workflow.Invalid(fmt.Sprintf("invalid stage %s", stage))
	}
	it := domain.ChecklistItem{
		ID:       uuid.New().String(),
		OrderID:  order.ID,
		Stage:    stage,
		Title:    title,
		Required: required,
	}
	if err := e.Store.InsertChecklistItem(ctx, it, e.now()); err != nil {
		return domain.ChecklistItem{}, workflow.Persistence("insert checklist item", err)
	}
	e.audit(ctx, events.Entry{
		OrgID:   order.OrgID,
		OrderID: order.ID,
		ActorID: actor(actorID),
		Action:  domain.ActionChecklist,
		Detail:  "added " + title,
		Payload: events.EventPayload{"item_id": it.ID, "stage": stage, "required": required},
	})
	return it, nil
}

// CompleteChecklistItem marks an item done or not done.
func (e Engine) CompleteChecklistItem(ctx context.Context, itemID string, done bool, actorID string) (domain.ChecklistItem, error) {
	it, err := e.Store.GetChecklistItem(ctx, itemID)
	if errors.Is(err, repo.ErrNotFound) {
		return it, workflow.Fail(workflow.ErrNotFound, fmt.Sprintf("checklist item not found: %s", itemID), nil)
	}
	if err != nil {
		return it, workflow.Persistence("load checklist item", err)
	}
	order, err := e.loadOrder(ctx, it.OrderID)
	if err != nil {
		return it, err
	}
	if err := e.Store.SetChecklistItemDone(ctx, itemID, done, e.now()); err != nil {
		return it, workflow.Persistence("update checklist item", err)
	}
	it.Done = done
	verb := "completed"
	if !done {
		verb = "reopened"
	}
	e.audit(ctx, events.Entry{
		OrgID:   order.OrgID,
		OrderID: order.ID,
		ActorID: actor(actorID),
		Action:  domain.ActionChecklist,
		Detail:  verb + " " + it.Title,
		Payload: events.EventPayload{"item_id": it.ID, "done": done},
	})
	return it, nil
}

// AddAsset records a produced artifact for an order.
func (e Engine) AddAsset(ctx context.Context, orderID string, kind domain.AssetKind, uri, actorID string) (domain.Asset, error) {
	if !kind.Valid() {
		return domain.Asset{}, workflow.Invalid(fmt.Sprintf("invalid asset kind %s", kind))
	}
	order, err := e.loadOrder(ctx, orderID)
	if err != nil {
		return domain.Asset{}, err
	}
	a := domain.Asset{
		ID:        uuid.New().String(),
		OrderID:   order.ID,
		Kind:      kind,
		URI:       strings.TrimSpace(uri),
		CreatedAt: e.now(),
	}
	if err := e.Store.InsertAsset(ctx, a); err != nil {
		return domain.Asset{}, workflow.Persistence("insert asset", err)
	}
	e.audit(ctx, events.Entry{
		OrgID:   order.OrgID,
		OrderID: order.ID,
		ActorID: actor(actorID),
		Action:  domain.ActionAsset,
		Detail:  string(kind),
		Payload: events.EventPayload{"asset_id": a.ID, "kind": kind, "uri": a.URI},
	})
	return a, nil
}

// Gate names one of the two approval flags.
type Gate string

const (
	GateInternal Gate = "internal"
	GateExternal Gate = "external"
)

// SetApproval records an approval decision. Each gate can only be set while
// the order sits in the stage that checks it.
func (e Engine) SetApproval(ctx context.Context, orderID string, gate Gate, approved bool, actorID string) (domain.ServiceOrder, error) {
	var stage domain.Stage
	switch gate {
	case GateInternal:
		stage = domain.StageRevisao
	case GateExternal:
		stage = domain.StageAprovacao
	default:
		return domain.ServiceOrder{}, workflow.Invalid(fmt.Sprintf("unknown approval gate %q", gate))
	}
	order, err := e.loadOrder(ctx, orderID)
	if err != nil {
		return order, err
	}
	if order.Stage != stage {
		return order, workflow.Invalid(fmt.Sprintf("%s approval can only be set in %s (current: %s)", gate, stage, order.Stage))
	}
	now := e.now()
	patch := repo.OrderPatch{ExpectedStage: stage, UpdatedAt: now}
	if gate == GateInternal {
		patch.InternalApproved = &approved
		order.InternalApproved = approved
	} else {
		patch.ExternalApproved = &approved
		order.ExternalApproved = approved
	}
	if err := e.writeOrder(ctx, order, patch); err != nil {
		return order, err
	}
	order.UpdatedAt = now
	e.audit(ctx, events.Entry{
		OrgID:   order.OrgID,
		OrderID: order.ID,
		ActorID: actor(actorID),
		Action:  domain.ActionApproval,
		Detail:  fmt.Sprintf("%s approval set to %t", gate, approved),
		Payload: events.EventPayload{"gate": gate, "approved": approved, "stage": stage},
	})
	return order, nil
}
