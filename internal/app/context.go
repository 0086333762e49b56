package app

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"strings"
	"time"

	"osline/internal/config"
	"osline/internal/db"
	"osline/internal/directory"
	"osline/internal/engine"
	"osline/internal/events"
	"osline/internal/logging"
	"osline/internal/metrics"
	"osline/internal/migrate"
	"osline/internal/monitor"
	"osline/internal/notify"
	"osline/internal/repo"
)

const DefaultOrgID = "default-org"

type Options struct {
	Workspace   string
	ConfigPath  string
	OrgOverride string
	LogOut      io.Writer
	Now         func() time.Time
}

// App holds the wired components for one workspace.
type App struct {
	DB        *sql.DB
	Config    *config.Config
	Repo      repo.Repo
	Directory directory.Service
	Engine    engine.Engine
	Monitor   *monitor.Monitor
	Notifier  notify.Notifier
	Metrics   *metrics.Registry
	Log       logging.Logger
}

// ResolveConfig reads osline.yml when present and falls back to defaults.
// A non-empty orgOverride always wins.
func ResolveConfig(workspace, orgOverride string) (*config.Config, error) {
	cfg, err := config.LoadOptional(workspace)
	if err != nil {
		return nil, err
	}
	if cfg == nil {
		cfg = config.Default(DefaultOrgID)
	}
	if org := strings.TrimSpace(orgOverride); org != "" {
		cfg.Org.ID = org
	}
	return cfg, nil
}

// ResolveConfigFile reads config from an explicit path instead of the workspace.
func ResolveConfigFile(path, orgOverride string) (*config.Config, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("config path is empty")
	}
	cfg, err := config.FromFile(path)
	if err != nil {
		return nil, err
	}
	if org := strings.TrimSpace(orgOverride); org != "" {
		cfg.Org.ID = org
	}
	return cfg, nil
}

// BuildNotifier picks the delivery channel named in cfg. The webhook channel
// also logs every delivery.
func BuildNotifier(cfg *config.Config, log logging.Logger) (notify.Notifier, error) {
	logged := notify.LogNotifier{Log: log}
	switch cfg.Notify.Channel {
	case "", config.ChannelLog:
		return logged, nil
	case config.ChannelMemory:
		return notify.NewMemoryNotifier(), nil
	case config.ChannelWebhook:
		return notify.Fanout{logged, notify.WebhookNotifier{
			URL:     cfg.Notify.Webhook.URL,
			Secret:  cfg.Notify.Webhook.Secret,
			Timeout: cfg.Notify.Webhook.Timeout(),
		}}, nil
	default:
		return nil, fmt.Errorf("unknown notify channel %q", cfg.Notify.Channel)
	}
}

// Open opens and migrates the workspace database and wires every component.
func Open(ctx context.Context, opts Options) (*App, error) {
	var cfg *config.Config
	var err error
	if opts.ConfigPath != "" {
		cfg, err = ResolveConfigFile(opts.ConfigPath, opts.OrgOverride)
	} else {
		cfg, err = ResolveConfig(opts.Workspace, opts.OrgOverride)
	}
	if err != nil {
		return nil, err
	}
	log, err := logging.New(logging.Options{Level: cfg.Log.Level, Format: cfg.Log.Format, Out: opts.LogOut})
	if err != nil {
		return nil, err
	}
	notifier, err := BuildNotifier(cfg, log)
	if err != nil {
		return nil, err
	}
	conn, err := db.Open(db.Config{Workspace: opts.Workspace})
	if err != nil {
		return nil, err
	}
	applied, err := migrate.MigrateContext(ctx, conn)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	for _, name := range applied {
		log.Info("applied migration %s", name)
	}

	now := opts.Now
	if now == nil {
		now = time.Now
	}
	m := metrics.New()
	r := repo.Repo{DB: conn}
	dir := directory.Service{DB: conn, Now: now}
	writer := events.Writer{DB: conn, Now: now}

	eng := engine.New(conn, log.WithFields(map[string]any{"component": "engine"}), m)
	eng.Store = r
	eng.Directory = dir
	eng.Events = writer
	eng.Now = now

	mon := &monitor.Monitor{
		Store:        r,
		Directory:    dir,
		Notifier:     notifier,
		Events:       writer,
		Templates:    notify.NewTemplates(),
		Metrics:      m,
		Log:          log.WithFields(map[string]any{"component": "monitor"}),
		Now:          now,
		AtRiskWindow: cfg.AtRiskWindow(),
		DedupWindow:  cfg.DedupWindow(),
	}
	return &App{
		DB:        conn,
		Config:    cfg,
		Repo:      r,
		Directory: dir,
		Engine:    eng,
		Monitor:   mon,
		Notifier:  notifier,
		Metrics:   m,
		Log:       log,
	}, nil
}

// NewScheduler builds the cron scheduler for the app's monitor.
func (a *App) NewScheduler() (*monitor.Scheduler, error) {
	return monitor.NewScheduler(a.Monitor, a.Config.Monitor.Schedule,
		a.Log.WithFields(map[string]any{"component": "scheduler"}),
		monitor.WithSweepTimeout(2*time.Minute))
}

func (a *App) Close() error {
	if a == nil || a.DB == nil {
		return nil
	}
	return a.DB.Close()
}
