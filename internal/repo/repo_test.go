package repo_test

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"osline/internal/db"
	"osline/internal/domain"
	"osline/internal/migrate"
	"osline/internal/repo"
)

var t0 = time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC)

func newRepo(t *testing.T) (repo.Repo, *sql.DB) {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	require.NoError(t, migrate.Migrate(conn))
	return repo.Repo{DB: conn}, conn
}

func seedOrder(t *testing.T, r repo.Repo, id string, stage domain.Stage, deadline *time.Time) domain.ServiceOrder {
	t.Helper()
	user := "u-" + id
	o := domain.ServiceOrder{
		ID:              id,
		OrgID:           "org-1",
		Title:           "Episode " + id,
		Stage:           stage,
		Priority:        domain.PriorityMedium,
		ResponsibleUser: &user,
		SLADeadline:     deadline,
		CreatedAt:       t0,
		UpdatedAt:       t0,
	}
	require.NoError(t, r.InsertOrder(context.Background(), o))
	return o
}

func ptr[T any](v T) *T { return &v }

func TestInsertAndGetOrder(t *testing.T) {
	r, _ := newRepo(t)
	ctx := context.Background()
	want := seedOrder(t, r, "os-1", domain.StageRoteiro, ptr(t0.Add(24*time.Hour)))

	got, err := r.GetOrder(ctx, "os-1")
	require.NoError(t, err)
	assert.Equal(t, want, got)

	_, err = r.GetOrder(ctx, "missing")
	assert.ErrorIs(t, err, repo.ErrNotFound)
}

func TestDeadlineMustMatchTerminalStage(t *testing.T) {
	r, _ := newRepo(t)
	ctx := context.Background()
	err := r.InsertOrder(ctx, domain.ServiceOrder{ID: "bad", OrgID: "org-1", Title: "x", Stage: domain.StageAudio, Priority: domain.PriorityLow, CreatedAt: t0, UpdatedAt: t0})
	assert.Error(t, err, "active order without deadline")

	seedOrder(t, r, "os-1", domain.StageAgendamento, ptr(t0))
	err = r.UpdateOrder(ctx, "os-1", repo.OrderPatch{Stage: ptr(domain.StagePostado), UpdatedAt: t0})
	assert.Error(t, err, "posted order keeping a deadline")
}

func TestUpdateOrderCompareAndWrite(t *testing.T) {
	r, _ := newRepo(t)
	ctx := context.Background()
	seedOrder(t, r, "os-1", domain.StageAudio, ptr(t0.Add(time.Hour)))

	next := t0.Add(24 * time.Hour)
	err := r.UpdateOrder(ctx, "os-1", repo.OrderPatch{
		ExpectedStage:   domain.StageAudio,
		Stage:           ptr(domain.StageCaptacao),
		ResponsibleUser: repo.Set[string](nil),
		SLADeadline:     repo.Set(&next),
		UpdatedAt:       t0.Add(time.Minute),
	})
	require.NoError(t, err)

	got, err := r.GetOrder(ctx, "os-1")
	require.NoError(t, err)
	assert.Equal(t, domain.StageCaptacao, got.Stage)
	assert.Nil(t, got.ResponsibleUser)
	assert.Equal(t, next, *got.SLADeadline)
	assert.Equal(t, t0.Add(time.Minute), got.UpdatedAt)

	// A second writer still expecting AUDIO loses.
	err = r.UpdateOrder(ctx, "os-1", repo.OrderPatch{ExpectedStage: domain.StageAudio, Stage: ptr(domain.StageCaptacao), UpdatedAt: t0})
	assert.ErrorIs(t, err, repo.ErrStageConflict)

	err = r.UpdateOrder(ctx, "missing", repo.OrderPatch{ExpectedStage: domain.StageAudio, Stage: ptr(domain.StageCaptacao)})
	assert.ErrorIs(t, err, repo.ErrNotFound)
}

func TestListActiveOrdersWithDeadline(t *testing.T) {
	r, _ := newRepo(t)
	ctx := context.Background()
	seedOrder(t, r, "late", domain.StageEdicao, ptr(t0.Add(2*time.Hour)))
	seedOrder(t, r, "soon", domain.StageAudio, ptr(t0.Add(time.Hour)))
	require.NoError(t, r.InsertOrder(ctx, domain.ServiceOrder{ID: "done", OrgID: "org-1", Title: "x", Stage: domain.StagePostado, Priority: domain.PriorityLow, CreatedAt: t0, UpdatedAt: t0}))

	orders, err := r.ListActiveOrdersWithDeadline(ctx)
	require.NoError(t, err)
	require.Len(t, orders, 2)
	assert.Equal(t, "soon", orders[0].ID)
	assert.Equal(t, "late", orders[1].ID)

	counts, err := r.CountActiveByResponsible(ctx, "org-1")
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"u-late": 1, "u-soon": 1}, counts)
}

func TestChecklistAndAssets(t *testing.T) {
	r, _ := newRepo(t)
	ctx := context.Background()
	seedOrder(t, r, "os-1", domain.StageRoteiro, ptr(t0))

	require.NoError(t, r.InsertChecklistItem(ctx, domain.ChecklistItem{ID: "c1", OrderID: "os-1", Stage: domain.StageRoteiro, Title: "outline", Required: true}, t0))
	require.NoError(t, r.InsertChecklistItem(ctx, domain.ChecklistItem{ID: "c2", OrderID: "os-1", Stage: domain.StageEdicao, Title: "color", Required: true}, t0))
	require.NoError(t, r.SetChecklistItemDone(ctx, "c1", true, t0))
	assert.ErrorIs(t, r.SetChecklistItemDone(ctx, "nope", true, t0), repo.ErrNotFound)

	items, err := r.ListChecklistItems(ctx, "os-1", domain.StageRoteiro)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.True(t, items[0].Done)

	all, err := r.ListChecklistItems(ctx, "os-1", "")
	require.NoError(t, err)
	assert.Len(t, all, 2)

	require.NoError(t, r.InsertAsset(ctx, domain.Asset{ID: "a1", OrderID: "os-1", Kind: domain.AssetAudio, URI: "s3://a1", CreatedAt: t0}))
	assets, err := r.ListAssets(ctx, "os-1", domain.AssetAudio)
	require.NoError(t, err)
	require.Len(t, assets, 1)
	assert.Equal(t, "s3://a1", assets[0].URI)

	none, err := r.ListAssets(ctx, "os-1", domain.AssetRawVideo)
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestQueryRecentEvents(t *testing.T) {
	r, conn := newRepo(t)
	ctx := context.Background()
	insert := func(ts time.Time, action domain.Action) {
		_, err := conn.ExecContext(ctx, `INSERT INTO event_log(ts,org_id,order_id,action) VALUES (?,?,?,?)`,
			repo.FormatTime(ts), "org-1", "os-1", action)
		require.NoError(t, err)
	}
	insert(t0.Add(-5*time.Hour), domain.ActionSLAOverdue)
	insert(t0.Add(-time.Hour), domain.ActionSLAOverdue)
	insert(t0.Add(-time.Hour), domain.ActionSLAAtRisk)

	recent, err := r.QueryRecentEvents(ctx, "os-1", domain.ActionSLAOverdue, t0.Add(-4*time.Hour))
	require.NoError(t, err)
	require.Len(t, recent, 1)
	assert.Equal(t, t0.Add(-time.Hour), recent[0].TS)
	assert.Nil(t, recent[0].ActorID)

	page, err := r.ListEvents(ctx, repo.EventFilters{OrderID: "os-1", Limit: 2})
	require.NoError(t, err)
	require.Len(t, page, 2)
	older, err := r.ListEvents(ctx, repo.EventFilters{OrderID: "os-1", Cursor: page[1].ID})
	require.NoError(t, err)
	assert.Len(t, older, 1)
}
