// Package app assembles the runtime shared by the CLI commands: config,
// database, store, event log, hub, generator and engine.
package app

import (
	"fmt"
	"log/slog"

	"github.com/jmoiron/sqlx"

	"livehub/internal/broadcast"
	"livehub/internal/config"
	"livehub/internal/db"
	"livehub/internal/engine"
	"livehub/internal/events"
	"livehub/internal/lyrics"
	"livehub/internal/migrate"
	"livehub/internal/store"
)

type Options struct {
	Workspace string
	// StorageURL overrides storage.url from livehub.yml.
	StorageURL string
	Logger     *slog.Logger
	// Generator replaces the Gemini client when set.
	Generator engine.Generator
}

type Runtime struct {
	Workspace string
	Config    *config.Config
	DB        *sqlx.DB
	Store     *store.SQLStore
	Events    events.Writer
	Hub       *broadcast.Hub
	Engine    engine.Engine
	Logger    *slog.Logger
}

// LoadConfig reads livehub.yml from workspace, falling back to defaults
// when the file does not exist.
func LoadConfig(workspace string) (*config.Config, error) {
	cfg, err := config.LoadOptional(workspace)
	if err != nil {
		return nil, err
	}
	if cfg == nil {
		cfg = config.Default()
	}
	return cfg, nil
}

// OpenDB opens and migrates the database selected by url, or the workspace
// SQLite file when url is empty.
func OpenDB(workspace, url string) (*sqlx.DB, error) {
	dialect, err := db.Dialect(url)
	if err != nil {
		return nil, err
	}
	if dialect == db.DialectSQLite && url == "" {
		if _, err := db.EnsureWorkspace(workspace); err != nil {
			return nil, fmt.Errorf("ensure workspace: %w", err)
		}
	}
	conn, err := db.Open(db.Config{Workspace: workspace, URL: url})
	if err != nil {
		return nil, err
	}
	if err := migrate.Migrate(conn); err != nil {
		conn.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return conn, nil
}

func Open(opts Options) (*Runtime, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	cfg, err := LoadConfig(opts.Workspace)
	if err != nil {
		return nil, err
	}
	url := opts.StorageURL
	if url == "" {
		url = cfg.Storage.URL
	}
	conn, err := OpenDB(opts.Workspace, url)
	if err != nil {
		return nil, err
	}
	gen := opts.Generator
	if gen == nil {
		client, err := lyrics.New(cfg.Generator)
		if err != nil {
			conn.Close()
			return nil, err
		}
		if client.APIKey == "" {
			logger.Warn("generator api key not set; generate_song will fail", "env", client.APIKeyEnv)
		}
		gen = client
	}
	st := store.NewSQL(conn, cfg.Storage.CASAttempts)
	ev := events.Writer{DB: conn}
	hub := broadcast.NewHub(logger)
	e := engine.New(st, ev, cfg, gen, hub)
	e.Logger = logger
	return &Runtime{
		Workspace: opts.Workspace,
		Config:    cfg,
		DB:        conn,
		Store:     st,
		Events:    ev,
		Hub:       hub,
		Engine:    e,
		Logger:    logger,
	}, nil
}

func (r *Runtime) Close() error {
	if r == nil || r.DB == nil {
		return nil
	}
	return r.DB.Close()
}
