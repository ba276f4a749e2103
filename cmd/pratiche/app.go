package main

import (
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/dukerupert/pratiche/internal/config"
	"github.com/dukerupert/pratiche/internal/database"
	"github.com/dukerupert/pratiche/internal/logging"
	"github.com/dukerupert/pratiche/internal/server"
)

// app is the wiring shared by every command.
type app struct {
	cfg    config.Config
	logger *slog.Logger
	local  *sql.DB
	docs   *sql.DB
	srv    *server.Server
}

func openApp(configPath string) (*app, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	logger := logging.Setup(cfg.LogLevel, cfg.LogFormat)

	local, err := database.OpenLocal(cfg.LocalDBPath)
	if err != nil {
		return nil, fmt.Errorf("open local database: %w", err)
	}
	docs, err := database.OpenDocuments(cfg.DocumentsDBPath)
	if err != nil {
		local.Close()
		return nil, fmt.Errorf("open documents database: %w", err)
	}

	return &app{
		cfg:    cfg,
		logger: logger,
		local:  local,
		docs:   docs,
		srv:    server.New(cfg, local, docs, logger),
	}, nil
}

func (a *app) Close() {
	a.docs.Close()
	a.local.Close()
}
