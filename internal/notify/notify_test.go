package notify_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"osline/internal/domain"
	"osline/internal/logging"
	"osline/internal/notify"
)

func TestTemplatesRenderSLABodies(t *testing.T) {
	tpl := notify.NewTemplates()
	msg := notify.Message{OrderID: "os-1", Title: "Reel", Stage: domain.StageEdicao, Priority: domain.PriorityHigh, Hours: 2.3}

	text, err := tpl.Render(notify.TemplateOverdue, msg)
	require.NoError(t, err)
	assert.Equal(t, `[HIGH] "Reel" (os-1) is 2.3h overdue in EDICAO.`, text)

	text, err = tpl.Render(notify.TemplateAtRisk, msg)
	require.NoError(t, err)
	assert.Contains(t, text, "due in 2.3h")

	_, err = tpl.Render("missing", msg)
	assert.Error(t, err)
	assert.Error(t, tpl.Register("broken", "{{.Oops"))
}

func TestWebhookNotifierPostsJSON(t *testing.T) {
	var (
		got    map[string]string
		secret string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		secret = r.Header.Get("X-Osline-Secret")
		_ = json.NewDecoder(r.Body).Decode(&got)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	n := notify.WebhookNotifier{URL: srv.URL, Secret: "s3cret"}
	err := n.Notify(context.Background(), "edu", notify.Message{OrderID: "os-1", Condition: "OVERDUE", Text: "late"})
	require.NoError(t, err)
	assert.Equal(t, "s3cret", secret)
	assert.Equal(t, map[string]string{"user_id": "edu", "text": "late", "order_id": "os-1", "condition": "OVERDUE"}, got)
}

func TestWebhookNotifierReportsStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "gateway down", http.StatusBadGateway)
	}))
	defer srv.Close()

	err := notify.WebhookNotifier{URL: srv.URL}.Notify(context.Background(), "edu", notify.Message{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 502")

	assert.Error(t, notify.WebhookNotifier{}.Notify(context.Background(), "edu", notify.Message{}))
}

func TestFanoutContinuesPastFailures(t *testing.T) {
	failing := notify.NewMemoryNotifier()
	failing.Fail = func(string) error { return errors.New("boom") }
	ok := notify.NewMemoryNotifier()

	err := notify.Fanout{failing, notify.LogNotifier{Log: logging.Nop()}, ok}.Notify(context.Background(), "ana", notify.Message{Text: "hi"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "boom")
	assert.Equal(t, []string{"ana"}, ok.Recipients())
	assert.Empty(t, failing.Deliveries())
}
