package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"osline/internal/app"
	"osline/internal/domain"
	"osline/internal/engine"
	"osline/internal/monitor"
	"osline/internal/repo"
	"osline/internal/workflow"
)

const (
	testJWTSecret     = "jwt-test-secret"
	testWebhookSecret = "hook-test-secret"
)

type testEnv struct {
	app   *app.App
	srv   *httptest.Server
	clock *time.Time
}

func newTestEnv(t *testing.T, auth AuthConfig) *testEnv {
	t.Helper()
	clock := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	a, err := app.Open(context.Background(), app.Options{
		Workspace: t.TempDir(),
		LogOut:    io.Discard,
		Now:       func() time.Time { return clock },
	})
	require.NoError(t, err)
	handler, err := New(Config{
		Workflow: a.Engine,
		Reader:   a.Repo,
		Sweeper:  a.Monitor,
		Metrics:  a.Metrics,
		Log:      a.Log,
		Auth:     auth,
	})
	require.NoError(t, err)
	srv := httptest.NewServer(handler)
	t.Cleanup(func() {
		srv.Close()
		a.Close()
	})
	return &testEnv{app: a, srv: srv, clock: &clock}
}

func defaultAuth() AuthConfig {
	return AuthConfig{JWTSecret: testJWTSecret, WebhookSecret: testWebhookSecret}
}

func bearerFor(t *testing.T, subject string) map[string]string {
	t.Helper()
	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{Subject: subject}).
		SignedString([]byte(testJWTSecret))
	require.NoError(t, err)
	return map[string]string{"Authorization": "Bearer " + tok}
}

func doJSON(t *testing.T, method, url string, body any, headers map[string]string) (int, map[string]any) {
	t.Helper()
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(b)
	}
	req, err := http.NewRequest(method, url, reader)
	require.NoError(t, err)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	out := map[string]any{}
	if len(data) > 0 {
		require.NoError(t, json.Unmarshal(data, &out), string(data))
	}
	return resp.StatusCode, out
}

func errorCode(t *testing.T, body map[string]any) string {
	t.Helper()
	env, ok := body["error"].(map[string]any)
	require.True(t, ok, "missing error envelope: %v", body)
	code, _ := env["code"].(string)
	return code
}

func (env *testEnv) createOrder(t *testing.T, priority domain.Priority) domain.ServiceOrder {
	t.Helper()
	o, err := env.app.Engine.CreateOrder(context.Background(), engine.CreateOrderOptions{
		OrgID:    env.app.Config.Org.ID,
		Title:    "Launch reel",
		Priority: priority,
		ActorID:  "rita",
	})
	require.NoError(t, err)
	return o
}

func (env *testEnv) completeScript(t *testing.T, orderID string) {
	t.Helper()
	ctx := context.Background()
	it, err := env.app.Engine.AddChecklistItem(ctx, orderID, "", "hook written", true, "rita")
	require.NoError(t, err)
	_, err = env.app.Engine.CompleteChecklistItem(ctx, it.ID, true, "rita")
	require.NoError(t, err)
}

func TestHealthIsPublic(t *testing.T) {
	env := newTestEnv(t, defaultAuth())
	status, body := doJSON(t, http.MethodGet, env.srv.URL+"/v1/health", nil, nil)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "ok", body["status"])
}

func TestRequiresAuthentication(t *testing.T) {
	env := newTestEnv(t, defaultAuth())
	o := env.createOrder(t, domain.PriorityMedium)

	status, body := doJSON(t, http.MethodGet, env.srv.URL+"/v1/orders/"+o.ID, nil, nil)
	require.Equal(t, http.StatusUnauthorized, status)
	assert.Equal(t, "UNAUTHORIZED", errorCode(t, body))

	status, body = doJSON(t, http.MethodGet, env.srv.URL+"/v1/orders/"+o.ID, nil,
		map[string]string{"Authorization": "Bearer not-a-token"})
	require.Equal(t, http.StatusUnauthorized, status)
	assert.Equal(t, "INVALID_CREDENTIALS", errorCode(t, body))

	// legacy header is ignored unless enabled
	status, _ = doJSON(t, http.MethodGet, env.srv.URL+"/v1/orders/"+o.ID, nil,
		map[string]string{"X-Actor-Id": "rita"})
	assert.Equal(t, http.StatusUnauthorized, status)
}

func TestLegacyActorHeader(t *testing.T) {
	auth := defaultAuth()
	auth.AllowLegacyActorHeader = true
	env := newTestEnv(t, auth)
	o := env.createOrder(t, domain.PriorityMedium)
	env.completeScript(t, o.ID)

	status, body := doJSON(t, http.MethodPost, env.srv.URL+"/v1/orders/"+o.ID+"/advance", nil,
		map[string]string{"X-Actor-Id": "rita"})
	require.Equal(t, http.StatusOK, status, body)
	assert.Equal(t, "AUDIO", body["stage"])

	evts, err := env.app.Repo.QueryRecentEvents(context.Background(), o.ID, domain.ActionStatusChange, env.clock.Add(-time.Hour))
	require.NoError(t, err)
	require.Len(t, evts, 1)
	require.NotNil(t, evts[0].ActorID)
	assert.Equal(t, "rita", *evts[0].ActorID)
}

func TestGetOrder(t *testing.T) {
	env := newTestEnv(t, defaultAuth())
	o := env.createOrder(t, domain.PriorityHigh)
	headers := bearerFor(t, "rita")

	status, body := doJSON(t, http.MethodGet, env.srv.URL+"/v1/orders/"+o.ID, nil, headers)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, o.ID, body["id"])
	assert.Equal(t, "ROTEIRO", body["stage"])
	assert.Equal(t, "HIGH", body["priority"])
	assert.Equal(t, "2024-01-02T12:00:00Z", body["sla_deadline"])

	status, body = doJSON(t, http.MethodGet, env.srv.URL+"/v1/orders/missing", nil, headers)
	require.Equal(t, http.StatusNotFound, status)
	assert.Equal(t, workflow.CodeNotFound, errorCode(t, body))
}

func TestAdvanceAndReject(t *testing.T) {
	env := newTestEnv(t, defaultAuth())
	o := env.createOrder(t, domain.PriorityMedium)
	headers := bearerFor(t, "rita")
	base := env.srv.URL + "/v1/orders/" + o.ID

	status, body := doJSON(t, http.MethodPost, base+"/advance", nil, headers)
	require.Equal(t, http.StatusUnprocessableEntity, status)
	assert.Equal(t, workflow.CodeValidationFailed, errorCode(t, body))

	env.completeScript(t, o.ID)
	status, body = doJSON(t, http.MethodPost, base+"/advance", nil, headers)
	require.Equal(t, http.StatusOK, status, body)
	assert.Equal(t, o.ID, body["order_id"])
	assert.Equal(t, "AUDIO", body["stage"])

	status, body = doJSON(t, http.MethodPost, base+"/reject", map[string]any{"reason": "  "}, headers)
	require.Equal(t, http.StatusUnprocessableEntity, status)
	assert.Equal(t, workflow.CodeValidationFailed, errorCode(t, body))

	status, body = doJSON(t, http.MethodPost, base+"/reject", RejectRequest{Reason: "hook is weak"}, headers)
	require.Equal(t, http.StatusOK, status, body)
	assert.Equal(t, "ROTEIRO", body["stage"])

	status, body = doJSON(t, http.MethodPost, base+"/reject", RejectRequest{Reason: "again"}, headers)
	require.Equal(t, http.StatusConflict, status)
	assert.Equal(t, workflow.CodeNoTransition, errorCode(t, body))
}

func TestOrderEventsPaginate(t *testing.T) {
	env := newTestEnv(t, defaultAuth())
	o := env.createOrder(t, domain.PriorityMedium)
	env.completeScript(t, o.ID)
	headers := bearerFor(t, "rita")
	base := env.srv.URL + "/v1/orders/" + o.ID + "/events"

	status, body := doJSON(t, http.MethodGet, base+"?limit=2", nil, headers)
	require.Equal(t, http.StatusOK, status, body)
	items := body["items"].([]any)
	require.Len(t, items, 2)
	cursor, _ := body["next_cursor"].(string)
	require.NotEmpty(t, cursor)

	status, body = doJSON(t, http.MethodGet, base+"?limit=2&cursor="+cursor, nil, headers)
	require.Equal(t, http.StatusOK, status, body)
	items = body["items"].([]any)
	require.Len(t, items, 1)
	assert.Equal(t, "CREATE", items[0].(map[string]any)["action"])
	assert.Nil(t, body["next_cursor"])

	status, body = doJSON(t, http.MethodGet, base+"?action=CREATE", nil, headers)
	require.Equal(t, http.StatusOK, status, body)
	assert.Len(t, body["items"].([]any), 1)
}

func TestPostedWebhook(t *testing.T) {
	env := newTestEnv(t, defaultAuth())
	ctx := context.Background()
	o := env.createOrder(t, domain.PriorityMedium)
	url := env.srv.URL + "/v1/webhooks/orders/" + o.ID + "/posted"
	secret := map[string]string{WebhookSecretHeader: testWebhookSecret}

	status, body := doJSON(t, http.MethodPost, url, nil, nil)
	require.Equal(t, http.StatusUnauthorized, status)
	assert.Equal(t, "INVALID_CREDENTIALS", errorCode(t, body))

	// a bearer token is not a webhook secret
	status, _ = doJSON(t, http.MethodPost, url, nil, bearerFor(t, "rita"))
	assert.Equal(t, http.StatusUnauthorized, status)

	status, body = doJSON(t, http.MethodPost, url, nil, secret)
	require.Equal(t, http.StatusConflict, status)
	assert.Equal(t, workflow.CodeNoTransition, errorCode(t, body))

	scheduled := domain.StageAgendamento
	require.NoError(t, env.app.Repo.UpdateOrder(ctx, o.ID, repo.OrderPatch{
		ExpectedStage: domain.StageRoteiro,
		Stage:         &scheduled,
		UpdatedAt:     *env.clock,
	}))

	status, body = doJSON(t, http.MethodPost, url, nil, secret)
	require.Equal(t, http.StatusOK, status, body)
	assert.Equal(t, "POSTADO", body["stage"])

	got, err := env.app.Repo.GetOrder(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StagePostado, got.Stage)
	assert.Nil(t, got.SLADeadline)
	assert.Nil(t, got.ResponsibleUser)

	status, _ = doJSON(t, http.MethodPost, url, nil, secret)
	assert.Equal(t, http.StatusConflict, status)
}

func TestWebhookRejectedWhenSecretUnset(t *testing.T) {
	env := newTestEnv(t, AuthConfig{JWTSecret: testJWTSecret})
	o := env.createOrder(t, domain.PriorityMedium)
	status, _ := doJSON(t, http.MethodPost, env.srv.URL+"/v1/webhooks/orders/"+o.ID+"/posted", nil,
		map[string]string{WebhookSecretHeader: ""})
	assert.Equal(t, http.StatusUnauthorized, status)
}

func TestSweepAndMetrics(t *testing.T) {
	env := newTestEnv(t, defaultAuth())
	env.createOrder(t, domain.PriorityMedium)
	require.NoError(t, env.app.Directory.Grant(context.Background(), env.app.Config.Org.ID, "boss", domain.RoleAdmin))
	*env.clock = env.clock.Add(25 * time.Hour)
	headers := bearerFor(t, "ops")

	status, body := doJSON(t, http.MethodPost, env.srv.URL+"/v1/sla/sweep", nil, headers)
	require.Equal(t, http.StatusOK, status, body)
	assert.EqualValues(t, 1, body["scanned"])
	assert.EqualValues(t, 1, body["overdue"])
	assert.EqualValues(t, 1, body["notified"])

	status, body = doJSON(t, http.MethodPost, env.srv.URL+"/v1/sla/sweep", nil, headers)
	require.Equal(t, http.StatusOK, status, body)
	assert.EqualValues(t, 1, body["deduplicated"])

	status, body = doJSON(t, http.MethodGet, env.srv.URL+"/v1/metrics", nil, headers)
	require.Equal(t, http.StatusOK, status, body)
	counters := map[string]float64{}
	for _, c := range body["counters"].([]any) {
		m := c.(map[string]any)
		counters[m["name"].(string)] = m["value"].(float64)
	}
	assert.Equal(t, float64(2), counters["sla_sweeps"])
	assert.Equal(t, float64(1), counters["sla_overdue_flagged"])
}

type brokenWorkflow struct{}

func (brokenWorkflow) Advance(context.Context, string, string) (domain.Stage, error) {
	return "", workflow.Persistence("update order", errors.New("disk I/O error"))
}

func (brokenWorkflow) Reject(context.Context, string, string, string) (domain.Stage, error) {
	return "", errors.New("boom")
}

func (brokenWorkflow) MarkPosted(context.Context, string) error { return nil }

type noopSweeper struct{}

func (noopSweeper) Sweep(context.Context) (monitor.Report, error) { return monitor.Report{}, nil }

func TestStoreFailuresAreRetryable(t *testing.T) {
	env := newTestEnv(t, defaultAuth())
	handler, err := New(Config{Workflow: brokenWorkflow{}, Reader: env.app.Repo, Sweeper: noopSweeper{}, Auth: defaultAuth()})
	require.NoError(t, err)
	srv := httptest.NewServer(handler)
	defer srv.Close()
	headers := bearerFor(t, "rita")

	status, body := doJSON(t, http.MethodPost, srv.URL+"/v1/orders/x/advance", nil, headers)
	require.Equal(t, http.StatusServiceUnavailable, status)
	assert.Equal(t, workflow.CodePersistence, errorCode(t, body))
	details := body["error"].(map[string]any)["details"].(map[string]any)
	assert.Equal(t, true, details["retryable"])
	assert.NotContains(t, body["error"].(map[string]any)["message"], "disk")

	status, body = doJSON(t, http.MethodPost, srv.URL+"/v1/orders/x/reject", RejectRequest{Reason: "r"}, headers)
	require.Equal(t, http.StatusInternalServerError, status)
	assert.Equal(t, "INTERNAL_ERROR", errorCode(t, body))
}

func TestNewRequiresCollaborators(t *testing.T) {
	_, err := New(Config{})
	assert.Error(t, err)
}
