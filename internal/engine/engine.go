package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"osline/internal/directory"
	"osline/internal/domain"
	"osline/internal/events"
	"osline/internal/logging"
	"osline/internal/metrics"
	"osline/internal/repo"
	"osline/internal/workflow"
)

// Store is the slice of the order store the engine writes through.
type Store interface {
	workflow.Reader
	GetOrder(ctx context.Context, id string) (domain.ServiceOrder, error)
	InsertOrder(ctx context.Context, o domain.ServiceOrder) error
	UpdateOrder(ctx context.Context, id string, p repo.OrderPatch) error
	InsertChecklistItem(ctx context.Context, it domain.ChecklistItem, now time.Time) error
	GetChecklistItem(ctx context.Context, id string) (domain.ChecklistItem, error)
	SetChecklistItemDone(ctx context.Context, id string, done bool, now time.Time) error
	InsertAsset(ctx context.Context, a domain.Asset) error
}

type Directory interface {
	ResolveUserForRole(ctx context.Context, role domain.Role, orgID string) (string, bool, error)
}

type Auditor interface {
	Append(ctx context.Context, e events.Entry) error
}

type Engine struct {
	Store     Store
	Directory Directory
	Events    Auditor
	Metrics   *metrics.Registry
	Log       logging.Logger
	Now       func() time.Time
}

func New(db *sql.DB, log logging.Logger, m *metrics.Registry) Engine {
	return Engine{
		Store:     repo.Repo{DB: db},
		Directory: directory.Service{DB: db},
		Events:    events.Writer{DB: db},
		Metrics:   m,
		Log:       logging.OrNop(log),
		Now:       time.Now,
	}
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now().UTC()
	}
	return time.Now().UTC()
}

func (e Engine) log() logging.Logger { return logging.OrNop(e.Log) }

func (e Engine) loadOrder(ctx context.Context, id string) (domain.ServiceOrder, error) {
	o, err := e.Store.GetOrder(ctx, id)
	if errors.Is(err, repo.ErrNotFound) {
		return o, workflow.Fail(workflow.ErrNotFound, fmt.Sprintf("service order not found: %s", id), nil)
	}
	if err != nil {
		return o, workflow.Persistence("load order", err)
	}
	return o, nil
}

// writeOrder applies p and maps store failures onto the workflow taxonomy.
func (e Engine) writeOrder(ctx context.Context, o domain.ServiceOrder, p repo.OrderPatch) error {
	err := e.Store.UpdateOrder(ctx, o.ID, p)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, repo.ErrStageConflict):
		return workflow.Fail(workflow.ErrStageConflict,
			fmt.Sprintf("order %s is no longer in %s", o.ID, p.ExpectedStage), nil)
	case errors.Is(err, repo.ErrNotFound):
		return workflow.Fail(workflow.ErrNotFound, fmt.Sprintf("service order not found: %s", o.ID), nil)
	default:
		return workflow.Persistence("update order", err)
	}
}

// resolveResponsible returns nil when nobody holds role or the lookup fails.
func (e Engine) resolveResponsible(ctx context.Context, role domain.Role, orgID string) *string {
	if e.Directory == nil || role == "" {
		return nil
	}
	user, ok, err := e.Directory.ResolveUserForRole(ctx, role, orgID)
	if err != nil {
		e.log().WithFields(map[string]any{"role": role, "org_id": orgID}).
			Warn("directory lookup failed: %v", err)
		return nil
	}
	if !ok {
		return nil
	}
	return &user
}

// audit appends an entry after the state change has been committed. A failed
// append is counted and logged but never undoes the change.
func (e Engine) audit(ctx context.Context, entry events.Entry) {
	if e.Events == nil {
		return
	}
	if err := e.Events.Append(ctx, entry); err != nil {
		e.Metrics.Inc(metrics.AuditAppendFailures)
		e.log().WithFields(map[string]any{"order_id": entry.OrderID, "action": entry.Action}).
			Error("audit append failed: %v", err)
	}
}

func actor(id string) *string {
	if id == "" {
		return nil
	}
	return &id
}

func deref(v *string) any {
	if v == nil {
		return nil
	}
	return *v
}

func formatDeadline(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC().Format(time.RFC3339)
}
