// Package app wires configuration, storage and services for the CLI.
package app

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"neuron/internal/config"
	"neuron/internal/db"
	"neuron/internal/engine"
	"neuron/internal/engine/auth"
	"neuron/internal/metrics"
	"neuron/internal/migrate"
)

// App holds the opened database and the services built on it.
type App struct {
	Config  *config.Config
	DB      *sql.DB
	Engine  engine.Engine
	Auth    auth.Service
	Metrics *metrics.Metrics
	Logger  *zap.Logger
}

// NewLogger builds a JSON production logger or a console development logger
// at the configured level.
func NewLogger(cfg config.LogConfig) (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(strings.TrimSpace(cfg.Level))
	if err != nil {
		return nil, fmt.Errorf("log level: %w", err)
	}
	var zc zap.Config
	switch cfg.Format {
	case "console":
		zc = zap.NewDevelopmentConfig()
	case "", "json":
		zc = zap.NewProductionConfig()
	default:
		return nil, fmt.Errorf("log format must be json or console, got %q", cfg.Format)
	}
	zc.Level = zap.NewAtomicLevelAt(level)
	return zc.Build()
}

// DBConfig maps the database section onto a workspace.
func DBConfig(cfg *config.Config, workspace string) db.Config {
	return db.Config{Backend: cfg.Database.Backend, DSN: cfg.Database.DSN, Workspace: workspace}
}

// Open migrates the configured database and builds the engine, auth service
// and metrics. Snapshot writes are recorded in the returned metrics.
func Open(ctx context.Context, cfg *config.Config, workspace string, logger *zap.Logger) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	dbCfg := DBConfig(cfg, workspace)
	if dbCfg.Dialect() == db.SQLite {
		if _, err := db.EnsureWorkspace(workspace); err != nil {
			return nil, err
		}
	}
	if err := migrate.Migrate(dbCfg); err != nil {
		return nil, err
	}
	conn, err := db.Open(dbCfg)
	if err != nil {
		return nil, err
	}
	if err := conn.PingContext(ctx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("ping %s: %w", dbCfg.Dialect(), err)
	}
	m := metrics.New()
	e := engine.New(conn, dbCfg.Dialect(), logger)
	e.Snapshots.Recorder = m
	logger.Debug("database ready", zap.String("backend", string(dbCfg.Dialect())))
	return &App{
		Config:  cfg,
		DB:      conn,
		Engine:  e,
		Auth:    auth.New(e.Repo),
		Metrics: m,
		Logger:  logger,
	}, nil
}

func (a *App) Close() error {
	return a.DB.Close()
}
