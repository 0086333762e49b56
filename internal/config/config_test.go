package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"osline/internal/config"
)

func TestDefaultRoundTripsThroughValidate(t *testing.T) {
	cfg := config.Default("org-1")
	require.NoError(t, cfg.Validate())
	assert.Equal(t, "org-1", cfg.Org.ID)
	assert.Equal(t, "@every 5m", cfg.Monitor.Schedule)
	assert.Equal(t, 4*time.Hour, cfg.AtRiskWindow())
	assert.Equal(t, 4*time.Hour, cfg.DedupWindow())
	assert.Equal(t, config.ChannelLog, cfg.Notify.Channel)
	assert.Equal(t, 5*time.Second, cfg.Notify.Webhook.Timeout())

	parsed, err := config.FromYAML([]byte(config.GenerateDefault("org-1")))
	require.NoError(t, err)
	assert.Equal(t, cfg, parsed)
}

func TestValidateRejectsBadValues(t *testing.T) {
	cases := map[string]string{
		"missing org":      "monitor:\n  schedule: \"@every 1m\"\n",
		"bad schedule":     "org:\n  id: o\nmonitor:\n  schedule: \"sometimes\"\n",
		"negative window":  "org:\n  id: o\nmonitor:\n  at_risk_hours: -1\n",
		"webhook no url":   "org:\n  id: o\nnotify:\n  channel: webhook\n",
		"unknown channel":  "org:\n  id: o\nnotify:\n  channel: pigeon\n",
		"unknown log form": "org:\n  id: o\nlog:\n  format: xml\n",
		"not yaml":         "org: [",
	}
	for name, body := range cases {
		_, err := config.FromYAML([]byte(body))
		assert.Error(t, err, name)
	}
}

func TestLoadAndLoadOptional(t *testing.T) {
	dir := t.TempDir()
	cfg, err := config.LoadOptional(dir)
	require.NoError(t, err)
	assert.Nil(t, cfg)
	_, err = config.Load(dir)
	assert.ErrorContains(t, err, "not found")

	body := "org:\n  id: studio\nnotify:\n  channel: webhook\n  webhook:\n    url: http://chat.local/hook\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, config.FileName), []byte(body), 0o644))
	cfg, err = config.Load(dir)
	require.NoError(t, err)
	assert.Equal(t, "studio", cfg.Org.ID)
	assert.Equal(t, "http://chat.local/hook", cfg.Notify.Webhook.URL)
	assert.Zero(t, cfg.AtRiskWindow())
}
