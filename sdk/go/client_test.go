package oslinesdk_test

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"osline/internal/app"
	"osline/internal/domain"
	"osline/internal/engine"
	"osline/internal/repo"
	"osline/internal/server"
	oslinesdk "osline/sdk/go"
)

func newServer(t *testing.T) (*app.App, *httptest.Server) {
	t.Helper()
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	a, err := app.Open(context.Background(), app.Options{
		Workspace: t.TempDir(),
		LogOut:    io.Discard,
		Now:       func() time.Time { return now },
	})
	require.NoError(t, err)
	handler, err := server.New(server.Config{
		Workflow: a.Engine,
		Reader:   a.Repo,
		Sweeper:  a.Monitor,
		Metrics:  a.Metrics,
		Auth:     server.AuthConfig{AllowLegacyActorHeader: true, WebhookSecret: "s3cret"},
	})
	require.NoError(t, err)
	srv := httptest.NewServer(handler)
	t.Cleanup(func() {
		srv.Close()
		a.Close()
	})
	return a, srv
}

func TestClientRoundTrip(t *testing.T) {
	a, srv := newServer(t)
	ctx := context.Background()
	o, err := a.Engine.CreateOrder(ctx, engine.CreateOrderOptions{OrgID: a.Config.Org.ID, Title: "Teaser", ActorID: "rita"})
	require.NoError(t, err)

	c := oslinesdk.New(srv.URL)
	c.ActorID = "rita"
	c.WebhookSecret = "s3cret"

	got, err := c.GetOrder(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, "ROTEIRO", got.Stage)
	assert.Equal(t, "MEDIUM", got.Priority)

	_, err = c.Advance(ctx, o.ID)
	var apiErr *oslinesdk.APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusUnprocessableEntity, apiErr.StatusCode)
	assert.Equal(t, "VALIDATION_FAILED", apiErr.Code)
	assert.False(t, apiErr.Retryable())

	it, err := a.Engine.AddChecklistItem(ctx, o.ID, "", "outline", true, "rita")
	require.NoError(t, err)
	_, err = a.Engine.CompleteChecklistItem(ctx, it.ID, true, "rita")
	require.NoError(t, err)

	tr, err := c.Advance(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, oslinesdk.Transition{OrderID: o.ID, Stage: "AUDIO"}, tr)

	tr, err = c.Reject(ctx, o.ID, "needs a stronger hook")
	require.NoError(t, err)
	assert.Equal(t, "ROTEIRO", tr.Stage)

	page, err := c.EventsPage(ctx, o.ID, 1, "")
	require.NoError(t, err)
	require.Len(t, page.Items, 1)
	assert.Equal(t, "REJECT", page.Items[0].Action)
	assert.NotEmpty(t, page.NextCursor)

	report, err := c.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Scanned)
}

func TestClientMarkPosted(t *testing.T) {
	a, srv := newServer(t)
	ctx := context.Background()
	o, err := a.Engine.CreateOrder(ctx, engine.CreateOrderOptions{OrgID: a.Config.Org.ID, Title: "Teaser"})
	require.NoError(t, err)
	scheduled := domain.StageAgendamento
	require.NoError(t, a.Repo.UpdateOrder(ctx, o.ID, repo.OrderPatch{
		ExpectedStage: domain.StageRoteiro,
		Stage:         &scheduled,
		UpdatedAt:     o.UpdatedAt,
	}))

	c := oslinesdk.New(srv.URL)
	c.WebhookSecret = "wrong"
	_, err = c.MarkPosted(ctx, o.ID)
	var apiErr *oslinesdk.APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusUnauthorized, apiErr.StatusCode)

	c.WebhookSecret = "s3cret"
	tr, err := c.MarkPosted(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, "POSTADO", tr.Stage)

	_, err = c.MarkPosted(ctx, o.ID)
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, "NO_TRANSITION_AVAILABLE", apiErr.Code)
}

func TestAPIErrorWithoutEnvelope(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/orders/a%2Fb", r.URL.EscapedPath())
		w.WriteHeader(http.StatusServiceUnavailable)
		io.WriteString(w, "maintenance")
	}))
	defer srv.Close()

	_, err := oslinesdk.New(srv.URL).GetOrder(context.Background(), "a/b")
	var apiErr *oslinesdk.APIError
	require.True(t, errors.As(err, &apiErr))
	assert.True(t, apiErr.Retryable())
	assert.Equal(t, "maintenance", apiErr.Body)
	assert.Empty(t, apiErr.Code)
}
